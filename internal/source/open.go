// Package source opens pyramidal images and adapts each storage backend to
// the pyramid.Source interface.
//
// The backend is chosen once, at open time, from the path: Zarr directories
// and pyramidal OME-TIFF files become chunked-array sources, and other
// raster files become whole-slide sources. Call sites never inspect concrete
// source types.
package source

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ironsheep/tile-pyramid/internal/pyramid"
	"github.com/ironsheep/tile-pyramid/internal/zarr"
)

// Options configure how a source is opened.
type Options struct {
	// TileSize is the tile edge the whole-slide backend builds its Deep
	// Zoom levels with. Zero selects pyramid.DefaultTileSize.
	TileSize int

	// Logger receives open-time diagnostics. Nil discards them.
	Logger *slog.Logger
}

// slideExtensions lists raster formats opened as whole-slide sources. The
// whole-slide backend decodes the full raster, so vendor slide formats with
// JPEG-compressed tiles (SVS, NDPI) are not listed.
var slideExtensions = map[string]bool{
	".tif": true, ".tiff": true,
	".png": true, ".jpg": true, ".jpeg": true, ".bmp": true,
}

// Open detects the format of path and opens it. Errors are fatal for a
// render: callers must not treat partial output as valid.
func Open(path string, opts Options) (pyramid.Source, error) {
	log := pyramid.Logger(opts.Logger)

	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("source not found: %w", err)
		}
		return nil, fmt.Errorf("failed to stat source: %w", err)
	}

	switch {
	case st.IsDir() && zarr.IsStore(path):
		src, err := OpenChunked(path)
		if err != nil {
			return nil, err
		}
		info := src.Info()
		log.Debug("opened chunked-array source", "path", path, "kind", info.Kind,
			"sample_type", info.SampleType, "native_tile_size", info.NativeTileSize)
		return src, nil

	case !st.IsDir() && isOMETIFF(path):
		src, err := OpenOMETIFF(path)
		if err != nil {
			return nil, err
		}
		info := src.Info()
		log.Debug("opened OME-TIFF source", "path", path, "kind", info.Kind,
			"sample_type", info.SampleType, "levels", src.Shape().Levels)
		return src, nil

	case !st.IsDir() && slideExtensions[strings.ToLower(filepath.Ext(path))]:
		src, err := OpenWholeSlide(path, opts.TileSize)
		if err != nil {
			return nil, err
		}
		log.Debug("opened whole-slide source", "path", path, "levels", src.Shape().Levels)
		return src, nil

	default:
		return nil, fmt.Errorf("%w: %s", pyramid.ErrUnsupportedFormat, path)
	}
}

// isOMETIFF checks the double extension, e.g. "image.ome.tif".
func isOMETIFF(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".ome.tif") || strings.HasSuffix(lower, ".ome.tiff")
}
