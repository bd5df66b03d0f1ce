// Package slide provides whole-slide pyramids: a native multi-resolution
// raster plus the Deep Zoom level geometry that tiled viewers expect.
//
// # Memory
//
// A slide is decoded in full and its native levels are kept in memory as
// NRGBA, about 5.3 bytes per full-resolution pixel with every level
// counted. Open refuses rasters above MaxPixels before decoding them.
// Larger images belong in a tiled store (OME-Zarr or pyramidal OME-TIFF),
// which is read tile by tile.
package slide

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/tiff"
)

// nativeFactor is the downsample step between native levels.
const nativeFactor = 4

// minNativeEdge stops native level generation once a level fits in it.
const minNativeEdge = 256

// ErrEmptySlide is returned for rasters with no pixels.
var ErrEmptySlide = errors.New("slide: image has no pixels")

// ErrSlideTooLarge is returned by Open for rasters above MaxPixels.
var ErrSlideTooLarge = errors.New("slide: image too large to decode in memory")

// MaxPixels is the largest full-resolution raster Open decodes: 2^28
// pixels, a 16384x16384 image, roughly 1.4 GiB with its levels.
var MaxPixels = 1 << 28

// Slide is a decoded slide with native resolution levels. Level 0 is full
// resolution; each further level is downsampled by nativeFactor. Levels are
// never modified after construction, so reads are safe from any goroutine.
type Slide struct {
	path   string
	levels []*image.NRGBA
}

// Open decodes the raster at path and builds its native levels.
//
// The header is read first so unsupported layouts and oversized rasters
// fail with a descriptive error before the full decode.
func Open(path string) (*Slide, error) {
	if err := checkHeader(path); err != nil {
		return nil, err
	}

	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to decode slide: %w", err)
	}
	s, err := New(img)
	if err != nil {
		return nil, err
	}
	s.path = path
	return s, nil
}

func checkHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open slide: %w", err)
	}
	defer f.Close()

	var cfg image.Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		if cfg, err = tiff.DecodeConfig(f); err != nil {
			return fmt.Errorf("failed to parse TIFF header: %w", err)
		}
	default:
		if cfg, _, err = image.DecodeConfig(f); err != nil {
			return fmt.Errorf("failed to parse image header: %w", err)
		}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return ErrEmptySlide
	}
	if cfg.Width*cfg.Height > MaxPixels {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrSlideTooLarge, cfg.Width, cfg.Height, MaxPixels)
	}
	return nil
}

// New builds a slide from an in-memory image.
func New(img image.Image) (*Slide, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, ErrEmptySlide
	}

	base := imaging.Clone(img)
	levels := []*image.NRGBA{base}
	for cur := base; max(cur.Bounds().Dx(), cur.Bounds().Dy()) > minNativeEdge; {
		w := max(1, (cur.Bounds().Dx()+nativeFactor-1)/nativeFactor)
		h := max(1, (cur.Bounds().Dy()+nativeFactor-1)/nativeFactor)
		cur = imaging.Resize(cur, w, h, imaging.Box)
		levels = append(levels, cur)
	}
	return &Slide{levels: levels}, nil
}

// Path returns the file the slide was opened from.
func (s *Slide) Path() string { return s.path }

// Dimensions returns the full-resolution size.
func (s *Slide) Dimensions() image.Point {
	return s.LevelDimensions(0)
}

// LevelCount returns the number of native levels.
func (s *Slide) LevelCount() int { return len(s.levels) }

// LevelDimensions returns the size of a native level.
func (s *Slide) LevelDimensions(level int) image.Point {
	return s.levels[level].Bounds().Size()
}

// LevelDownsample returns the downsample factor of a native level
// relative to level 0.
func (s *Slide) LevelDownsample(level int) float64 {
	return float64(s.levels[0].Bounds().Dx()) / float64(s.levels[level].Bounds().Dx())
}

// BestLevelForDownsample returns the native level with the largest
// downsample that does not exceed ds.
func (s *Slide) BestLevelForDownsample(ds float64) int {
	best := 0
	for i := range s.levels {
		if s.LevelDownsample(i) <= ds {
			best = i
		}
	}
	return best
}

// ReadRegion crops r, given in the level's own pixel coordinates.
func (s *Slide) ReadRegion(level int, r image.Rectangle) *image.NRGBA {
	return imaging.Crop(s.levels[level], r)
}
