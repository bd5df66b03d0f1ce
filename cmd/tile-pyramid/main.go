package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/ironsheep/tile-pyramid/internal/compose"
	"github.com/ironsheep/tile-pyramid/internal/config"
	"github.com/ironsheep/tile-pyramid/internal/pyramid"
	"github.com/ironsheep/tile-pyramid/internal/render"
	"github.com/ironsheep/tile-pyramid/internal/source"
	"github.com/ironsheep/tile-pyramid/internal/stats"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintln(out, "tile-pyramid - render a multi-resolution JPEG tile pyramid for a narrative image viewer")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Usage: tile-pyramid [options] <input> <author.json> <output_dir>")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  input         OME-Zarr directory, OME-TIFF or raster file")
	fmt.Fprintln(out, "  author.json   Minerva Author save file with the channel groups")
	fmt.Fprintln(out, "  output_dir    Directory for exhibit.json and the rendered tiles")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Options:")
	flag.PrintDefaults()
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Environment variables:")
	fmt.Fprintln(out, "  TILE_PYRAMID_LOG_LEVEL=debug    Enable debug logging")
}

func main() {
	var (
		rootURL   = flag.String("url", "", "URL the rendered pyramid will be hosted at (default \".\")")
		force     = flag.Bool("force", false, "overwrite an existing output directory")
		tileSize  = flag.Int("tile-size", 1024, "tile edge in pixels")
		workers   = flag.Int("workers", runtime.NumCPU(), "tiles rendered at once")
		quality   = flag.Int("quality", 85, "JPEG quality 1-100")
		autoRange = flag.String("auto-range", "", "fill channels saved without a range: quantile or cluster")
		fold      = flag.Bool("fold-diacritics", false, "keep accented letters in output paths as their base letter")
		version   = flag.Bool("version", false, "print version information")
	)
	flag.Usage = usage
	flag.Parse()

	if *version {
		fmt.Printf("tile-pyramid %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Git commit: %s\n", GitCommit)
		return
	}
	if flag.NArg() != 3 {
		usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if os.Getenv("TILE_PYRAMID_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := options{
		input:     flag.Arg(0),
		save:      flag.Arg(1),
		output:    flag.Arg(2),
		rootURL:   *rootURL,
		force:     *force,
		tileSize:  *tileSize,
		workers:   *workers,
		quality:   *quality,
		autoRange: *autoRange,
		fold:      *fold,
	}
	if err := run(ctx, opts, logger); err != nil {
		logger.Error("render failed", "error", err)
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

type options struct {
	input, save, output string
	rootURL             string
	force               bool
	tileSize            int
	workers             int
	quality             int
	autoRange           string
	fold                bool
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	logger = pyramid.Logger(logger)
	save, err := config.Load(opts.save)
	if err != nil {
		return err
	}
	save.Paths.FoldDiacritics = opts.fold

	src, err := source.Open(opts.input, source.Options{TileSize: opts.tileSize, Logger: logger})
	if err != nil {
		return err
	}
	defer src.Close()

	groups := save.RenderGroups()
	if err := compose.Validate(groups, src.Shape().Channels); err != nil {
		return err
	}
	if opts.autoRange != "" {
		method, err := stats.ParseMethod(opts.autoRange)
		if err != nil {
			return err
		}
		if err := stats.AutoRange(src, groups, method); err != nil {
			return err
		}
	}

	if err := render.PrepareOutput(opts.output, opts.force, logger); err != nil {
		return err
	}
	if err := config.WriteExhibit(opts.output, save.Exhibit(groups, src.Shape(), opts.rootURL)); err != nil {
		return err
	}

	lastDecile := -1
	report, err := render.Render(ctx, src, groups, render.Options{
		TileSize:   opts.tileSize,
		OutputRoot: opts.output,
		Workers:    opts.workers,
		Quality:    opts.quality,
		Logger:     logger,
		Progress: func(completed, total int) {
			if d := completed * 10 / total; d != lastDecile {
				lastDecile = d
				logger.Info("progress", "completed", completed, "total", total, "percent", d*10)
			}
		},
	})
	if err != nil {
		return err
	}
	for _, w := range report.Warnings {
		logger.Warn("tile skipped", "tile", w.String())
	}
	return nil
}
