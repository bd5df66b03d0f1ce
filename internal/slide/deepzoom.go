package slide

import (
	"errors"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// ErrBadTile is returned for Deep Zoom addresses outside the level grid.
var ErrBadTile = errors.New("slide: invalid deep zoom tile address")

// DeepZoom exposes a slide with Deep Zoom geometry: level 0 is a single
// pixel and the last level is full resolution, each level half the size of
// the next. Tiles have no overlap.
type DeepZoom struct {
	slide    *Slide
	tileSize int
	dims     []image.Point
}

// NewDeepZoom computes the Deep Zoom levels of a slide.
func NewDeepZoom(s *Slide, tileSize int) *DeepZoom {
	z := s.Dimensions()
	dims := []image.Point{z}
	for z.X > 1 || z.Y > 1 {
		z = image.Pt(max(1, (z.X+1)/2), max(1, (z.Y+1)/2))
		dims = append(dims, z)
	}
	for i, j := 0, len(dims)-1; i < j; i, j = i+1, j-1 {
		dims[i], dims[j] = dims[j], dims[i]
	}
	return &DeepZoom{slide: s, tileSize: tileSize, dims: dims}
}

// LevelCount returns the number of Deep Zoom levels.
func (dz *DeepZoom) LevelCount() int { return len(dz.dims) }

// TileSize returns the tile edge the generator was built with.
func (dz *DeepZoom) TileSize() int { return dz.tileSize }

// LevelDimensions returns the pixel size of a Deep Zoom level.
func (dz *DeepZoom) LevelDimensions(level int) image.Point { return dz.dims[level] }

// LevelTiles returns the tile grid of a Deep Zoom level.
func (dz *DeepZoom) LevelTiles(level int) image.Point {
	d := dz.dims[level]
	return image.Pt(ceilDiv(d.X, dz.tileSize), ceilDiv(d.Y, dz.tileSize))
}

// AllLevelTiles returns the tile grid of every level, smallest first.
func (dz *DeepZoom) AllLevelTiles() []image.Point {
	out := make([]image.Point, len(dz.dims))
	for i := range dz.dims {
		out[i] = dz.LevelTiles(i)
	}
	return out
}

func ceilDiv(n, d int) int { return (n + d - 1) / d }

// Tile renders one Deep Zoom tile by reading the closest native level at or
// above the needed resolution and resampling it to the tile size.
func (dz *DeepZoom) Tile(level, tx, ty int) (*image.NRGBA, error) {
	if level < 0 || level >= len(dz.dims) {
		return nil, ErrBadTile
	}
	grid := dz.LevelTiles(level)
	if tx < 0 || ty < 0 || tx >= grid.X || ty >= grid.Y {
		return nil, ErrBadTile
	}

	d := dz.dims[level]
	x0, y0 := tx*dz.tileSize, ty*dz.tileSize
	x1, y1 := min(x0+dz.tileSize, d.X), min(y0+dz.tileSize, d.Y)

	downsample := math.Exp2(float64(len(dz.dims) - 1 - level))
	native := dz.slide.BestLevelForDownsample(downsample)
	scale := downsample / dz.slide.LevelDownsample(native)

	nd := dz.slide.LevelDimensions(native)
	region := image.Rect(
		int(math.Floor(float64(x0)*scale)),
		int(math.Floor(float64(y0)*scale)),
		min(int(math.Ceil(float64(x1)*scale)), nd.X),
		min(int(math.Ceil(float64(y1)*scale)), nd.Y),
	)
	if region.Empty() {
		region = image.Rect(region.Min.X, region.Min.Y, region.Min.X+1, region.Min.Y+1).Intersect(image.Rect(0, 0, nd.X, nd.Y))
	}

	img := dz.slide.ReadRegion(native, region)
	w, h := x1-x0, y1-y0
	if img.Bounds().Dx() == w && img.Bounds().Dy() == h {
		return img, nil
	}
	return imaging.Resize(img, w, h, imaging.Lanczos), nil
}
