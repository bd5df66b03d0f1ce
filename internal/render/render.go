// Package render drives a full pyramid render: every level, every tile,
// every group, written as JPEG files the tiled viewer loads directly.
//
// # Output Layout
//
// Tiles are written to
//
//	<OutputRoot>/<group path>/<level>_<tx>_<ty>.jpg
//
// with no zero padding. Group directories are created on first use.
//
// # Failure Model
//
// Errors that make the whole output invalid (bad groups, missing output
// root, cancellation) are returned from Render. Errors confined to one
// tile of one group are recorded as warnings in the Report and logged;
// the render continues with the next unit.
//
// # Concurrency
//
// Each (level, tile, group) unit owns its composite buffer and output
// file, and sources allow concurrent fetches, so units run in parallel
// when Workers > 1. Progress callbacks are serialized and always see a
// strictly increasing completed count.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/anthonynsimon/bild/parallel"

	"github.com/ironsheep/tile-pyramid/internal/compose"
	"github.com/ironsheep/tile-pyramid/internal/imaging"
	"github.com/ironsheep/tile-pyramid/internal/pyramid"
)

// ErrOutputRoot is returned when the output root is missing or not a
// directory.
var ErrOutputRoot = errors.New("render: output root is not a directory")

// ProgressFunc receives the number of finished units and the total.
type ProgressFunc func(completed, total int)

// Options configure a render.
type Options struct {
	// TileSize is the tile edge in pixels. Zero selects
	// pyramid.DefaultTileSize.
	TileSize int

	// OutputRoot must exist. Group directories are created inside it.
	OutputRoot string

	// Workers is the number of units rendered at once. Values below 2
	// render sequentially in address order.
	Workers int

	// Quality is the JPEG quality. Zero selects imaging.DefaultQuality.
	Quality int

	// Logger receives per-tile errors and summary lines. Nil discards them.
	Logger *slog.Logger

	// Progress, when set, is called after every unit.
	Progress ProgressFunc
}

// Report summarizes a finished render.
type Report struct {
	// Total is the number of units: tiles over all levels times groups.
	Total int `json:"total"`

	// Completed counts units processed, whether written or skipped.
	Completed int `json:"completed"`

	// Written counts tiles written to disk.
	Written int `json:"written"`

	Warnings []pyramid.TileWarning `json:"warnings,omitempty"`

	// SourceWarning is the degraded-mode notice from the source, if any.
	SourceWarning string `json:"source_warning,omitempty"`
}

// unit is one tile of one group.
type unit struct {
	addr  pyramid.TileAddress
	group int
}

// Render writes every tile of every group.
func Render(ctx context.Context, src pyramid.Source, groups []pyramid.GroupSpec, opts Options) (*Report, error) {
	log := pyramid.Logger(opts.Logger)
	if opts.TileSize == 0 {
		opts.TileSize = pyramid.DefaultTileSize
	}
	if opts.TileSize < 0 {
		return nil, pyramid.ErrInvalidTileSize
	}

	st, err := os.Stat(opts.OutputRoot)
	if err != nil || !st.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrOutputRoot, opts.OutputRoot)
	}
	if err := compose.Validate(groups, src.Shape().Channels); err != nil {
		return nil, err
	}
	for i, g := range groups {
		if g.Path == "" {
			return nil, fmt.Errorf("group %d %q has no output path", i, g.Label)
		}
	}

	addrs, err := pyramid.Addresses(src, opts.TileSize)
	if err != nil {
		return nil, err
	}
	if levels := src.Shape().Levels; levels < 2 {
		log.Warn("source has a single level; the viewer will have no pyramid to zoom through",
			"path", src.Info().Path)
	}

	units := make([]unit, 0, len(addrs)*len(groups))
	for _, a := range addrs {
		for gi := range groups {
			units = append(units, unit{addr: a, group: gi})
		}
	}

	r := &renderer{
		ctx:    ctx,
		src:    src,
		groups: groups,
		opts:   opts,
		log:    log,
		report: &Report{Total: len(units)},
	}

	log.Info("rendering pyramid",
		"path", src.Info().Path,
		"levels", src.Shape().Levels,
		"groups", len(groups),
		"tile_size", opts.TileSize,
		"units", len(units),
		"workers", opts.Workers)

	if opts.Workers < 2 {
		for _, u := range units {
			if err := ctx.Err(); err != nil {
				return r.finish(), err
			}
			r.run(u)
		}
	} else {
		r.parallel(units)
		if err := ctx.Err(); err != nil {
			return r.finish(), err
		}
	}

	report := r.finish()
	log.Info("render finished",
		"written", report.Written,
		"skipped", len(report.Warnings),
		"total", report.Total)
	return report, nil
}

// renderer holds the state shared by all units of one render.
type renderer struct {
	ctx    context.Context
	src    pyramid.Source
	groups []pyramid.GroupSpec
	opts   Options
	log    *slog.Logger

	dirs sync.Map // group path -> *dirOnce

	mu     sync.Mutex
	report *Report
}

type dirOnce struct {
	once sync.Once
	err  error
}

// parallel splits units into contiguous runs across workers. bild's
// parallel.Line spreads the runs over GOMAXPROCS goroutines; a semaphore
// caps how many units execute at once.
func (r *renderer) parallel(units []unit) {
	sem := make(chan struct{}, r.opts.Workers)
	parallel.Line(len(units), func(start, end int) {
		for i := start; i < end; i++ {
			if r.ctx.Err() != nil {
				return
			}
			sem <- struct{}{}
			r.run(units[i])
			<-sem
		}
	})
}

// run renders one unit and records its outcome.
func (r *renderer) run(u unit) {
	g := r.groups[u.group]
	err := r.write(u.addr, g)
	if err != nil {
		r.log.Error("skipping tile",
			"level", u.addr.Level, "x", u.addr.X, "y", u.addr.Y,
			"group", g.Path, "error", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Completed++
	if err != nil {
		msg := err.Error()
		if errors.Is(err, compose.ErrNoTile) {
			msg = compose.ErrNoTile.Error()
		}
		r.report.Warnings = append(r.report.Warnings, pyramid.TileWarning{
			Level:   u.addr.Level,
			X:       u.addr.X,
			Y:       u.addr.Y,
			Group:   g.Path,
			Message: msg,
		})
	} else {
		r.report.Written++
	}
	if r.opts.Progress != nil {
		r.opts.Progress(r.report.Completed, r.report.Total)
	}
}

func (r *renderer) write(addr pyramid.TileAddress, g pyramid.GroupSpec) error {
	dir := filepath.Join(r.opts.OutputRoot, g.Path)
	if err := r.ensureDir(dir); err != nil {
		return err
	}
	img, err := compose.RenderGroup(r.src, g, addr)
	if err != nil {
		return err
	}
	return imaging.WriteJPEG(filepath.Join(dir, addr.Filename()), img, r.opts.Quality)
}

// ensureDir creates a group directory once per render.
func (r *renderer) ensureDir(dir string) error {
	v, _ := r.dirs.LoadOrStore(dir, &dirOnce{})
	d := v.(*dirOnce)
	d.once.Do(func() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			d.err = fmt.Errorf("failed to create group directory: %w", err)
		}
	})
	return d.err
}

// finish snapshots the report with the source warning attached.
func (r *renderer) finish() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := *r.report
	out.Warnings = append([]pyramid.TileWarning(nil), r.report.Warnings...)
	out.SourceWarning = r.src.Warning()
	if out.SourceWarning != "" {
		r.log.Warn(out.SourceWarning)
	}
	return &out
}
