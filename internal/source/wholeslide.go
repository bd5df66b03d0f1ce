package source

import (
	"errors"
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/clone"

	"github.com/ironsheep/tile-pyramid/internal/pyramid"
	"github.com/ironsheep/tile-pyramid/internal/slide"
)

// ErrTileSizeFixed is returned when a whole-slide source is asked for a
// tile edge other than the one its Deep Zoom levels were built with.
var ErrTileSizeFixed = errors.New("source: whole-slide tile size is fixed at open")

// WholeSlide adapts a slide through Deep Zoom geometry.
//
// Deep Zoom numbers levels from the smallest (1x1 pixel) upward, the
// reverse of the pyramid convention, so a visible level L maps to Deep Zoom
// level count-1-L. Trailing single-tile Deep Zoom levels are hidden so the
// same 1x1 tile grid is never exposed at two indices.
type WholeSlide struct {
	slide *slide.Slide
	dz    *slide.DeepZoom
	info  pyramid.Info
	shape pyramid.Shape
}

// OpenWholeSlide decodes a slide raster and builds its Deep Zoom levels
// with the given tile edge.
func OpenWholeSlide(path string, tileSize int) (*WholeSlide, error) {
	s, err := slide.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open whole-slide source: %w", err)
	}
	return NewWholeSlide(s, path, tileSize), nil
}

// NewWholeSlide wraps an already decoded slide.
func NewWholeSlide(s *slide.Slide, path string, tileSize int) *WholeSlide {
	if tileSize <= 0 {
		tileSize = pyramid.DefaultTileSize
	}
	dz := slide.NewDeepZoom(s, tileSize)
	dims := s.Dimensions()
	return &WholeSlide{
		slide: s,
		dz:    dz,
		info: pyramid.Info{
			Path:           path,
			Backend:        pyramid.WholeSlide,
			Kind:           pyramid.TrueColorRGB,
			SampleType:     pyramid.Uint8,
			NativeTileSize: tileSize,
		},
		shape: pyramid.Shape{
			Channels: 3,
			Levels:   pyramid.CoalescedLevelCount(dz.AllLevelTiles()),
			Width:    dims.X,
			Height:   dims.Y,
		},
	}
}

// Info reports a true-color RGB source whose native tile size is the Deep
// Zoom tile edge.
func (w *WholeSlide) Info() pyramid.Info { return w.info }

// Shape reports three channels and the coalesced level count.
func (w *WholeSlide) Shape() pyramid.Shape { return w.shape }

// Warning is always empty; whole-slide reads never degrade.
func (w *WholeSlide) Warning() string { return "" }

// Close is a no-op. The slide is released with the source.
func (w *WholeSlide) Close() error { return nil }

// nativeLevel maps a visible level to its Deep Zoom level.
func (w *WholeSlide) nativeLevel(level int) (int, error) {
	if level < 0 || level >= w.shape.Levels {
		return 0, fmt.Errorf("%w: %d", pyramid.ErrLevelOutOfRange, level)
	}
	return w.dz.LevelCount() - 1 - level, nil
}

func (w *WholeSlide) checkEdge(edge int) error {
	if edge != 0 && edge != w.dz.TileSize() {
		return fmt.Errorf("%w: built with %d, asked for %d", ErrTileSizeFixed, w.dz.TileSize(), edge)
	}
	return nil
}

// LevelSize returns the Deep Zoom dimensions of a visible level.
func (w *WholeSlide) LevelSize(level int) (int, int, error) {
	l, err := w.nativeLevel(level)
	if err != nil {
		return 0, 0, err
	}
	d := w.dz.LevelDimensions(l)
	return d.X, d.Y, nil
}

// LevelTiles returns the Deep Zoom tile grid of a visible level. Edge must
// be zero or the edge the source was opened with.
func (w *WholeSlide) LevelTiles(level, edge int) (int, int, error) {
	if err := w.checkEdge(edge); err != nil {
		return 0, 0, err
	}
	l, err := w.nativeLevel(level)
	if err != nil {
		return 0, 0, err
	}
	g := w.dz.LevelTiles(l)
	return g.X, g.Y, nil
}

// FetchRGB returns the Deep Zoom tile as an RGBA image.
func (w *WholeSlide) FetchRGB(level, tx, ty, edge int) (image.Image, error) {
	if err := w.checkEdge(edge); err != nil {
		return nil, err
	}
	l, err := w.nativeLevel(level)
	if err != nil {
		return nil, err
	}
	img, err := w.dz.Tile(l, tx, ty)
	if err != nil {
		return nil, fmt.Errorf("level %d tile (%d,%d): %w", level, tx, ty, err)
	}
	return clone.AsRGBA(img), nil
}

// FetchTile extracts one color channel of a Deep Zoom tile as 8-bit samples.
func (w *WholeSlide) FetchTile(level, channel, tx, ty, edge int) (*pyramid.Tile, error) {
	if channel < 0 || channel >= 3 {
		return nil, fmt.Errorf("%w: %d of 3", pyramid.ErrChannelOutOfRange, channel)
	}
	img, err := w.FetchRGB(level, tx, ty, edge)
	if err != nil {
		return nil, err
	}
	rgba := img.(*image.RGBA)
	b := rgba.Bounds()
	tile := pyramid.NewTile(pyramid.Uint8, b.Dy(), b.Dx())
	for y := 0; y < b.Dy(); y++ {
		row := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < b.Dx(); x++ {
			tile.Samples[y*b.Dx()+x] = uint16(row[x*4+channel])
		}
	}
	return tile, nil
}
