package render

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"os"

	"github.com/ironsheep/tile-pyramid/internal/compose"
	"github.com/ironsheep/tile-pyramid/internal/pyramid"
)

// ErrOutputExists is returned by PrepareOutput for an existing output
// directory when overwriting was not requested.
var ErrOutputExists = errors.New("render: output directory already exists")

// PrepareOutput creates the output root. An existing directory is refused
// unless force is set; with force its tiles are overwritten in place and
// files from an earlier render that this one does not produce are kept.
func PrepareOutput(dir string, force bool, logger *slog.Logger) error {
	st, err := os.Stat(dir)
	switch {
	case err == nil && !st.IsDir():
		return fmt.Errorf("%w: %s", ErrOutputRoot, dir)
	case err == nil && !force:
		return fmt.Errorf("%w: %s (use force to overwrite)", ErrOutputExists, dir)
	case err == nil:
		pyramid.Logger(logger).Warn("writing into existing output directory", "dir", dir)
		return nil
	case !os.IsNotExist(err):
		return fmt.Errorf("failed to stat output directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

// maxMosaicPixels bounds the level size Mosaic will assemble in memory.
const maxMosaicPixels = 8192 * 8192

// ErrLevelTooLarge is returned by Mosaic for levels above maxMosaicPixels.
var ErrLevelTooLarge = errors.New("render: level too large to assemble")

// Mosaic composes every tile of one level for one group and pastes them
// into a single image. Tiles that fail are left black and reported as
// warnings.
func Mosaic(src pyramid.Source, g pyramid.GroupSpec, level, edge int) (*image.RGBA, []pyramid.TileWarning, error) {
	w, h, err := src.LevelSize(level)
	if err != nil {
		return nil, nil, err
	}
	if w*h > maxMosaicPixels {
		return nil, nil, fmt.Errorf("%w: level %d is %dx%d", ErrLevelTooLarge, level, w, h)
	}
	nx, ny, err := src.LevelTiles(level, edge)
	if err != nil {
		return nil, nil, err
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(out, out.Bounds(), image.Black, image.Point{}, draw.Src)

	var warnings []pyramid.TileWarning
	for ty := 0; ty < ny; ty++ {
		for tx := 0; tx < nx; tx++ {
			addr := pyramid.TileAddress{Level: level, X: tx, Y: ty, Edge: edge}
			tile, err := compose.RenderGroup(src, g, addr)
			if err != nil {
				warnings = append(warnings, pyramid.TileWarning{
					Level: level, X: tx, Y: ty, Group: g.Path, Message: err.Error(),
				})
				continue
			}
			at := image.Pt(tx*edge, ty*edge)
			draw.Draw(out, tile.Bounds().Add(at), tile, image.Point{}, draw.Over)
		}
	}
	return out, warnings, nil
}
