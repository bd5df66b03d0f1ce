// Package compose turns raw channel tiles into 8-bit RGB(A) tiles.
//
// Multiplex groups are composited additively in floating point: every
// channel is normalized against its [Low, High] range, weighted by its
// display color and summed into a Buffer, which is clipped and quantized
// once all channels are in. True-color sources and mask groups bypass the
// float path.
//
// # Sample Units
//
// Ranges are expressed in 16-bit units (0-65535). 8-bit samples are
// promoted by multiplying by 255 before they are compared with a range, so
// an 8-bit value of 255 becomes 65025, not 65535.
//
// # Thread Safety
//
// Functions in this package are stateless. A Buffer belongs to one tile
// and must not be shared between goroutines.
package compose

import (
	"errors"
	"fmt"

	"github.com/ironsheep/tile-pyramid/internal/pyramid"
)

// ErrNotPlanar is returned when a tile still has more than two
// non-singleton dimensions after squeezing.
var ErrNotPlanar = errors.New("compose: tile is not a 2-D plane")

// promoteFactor scales 8-bit samples into 16-bit units.
const promoteFactor = 255

// Squeeze drops singleton dimensions until the tile is a 2-D plane. The
// samples are shared with the input.
func Squeeze(t *pyramid.Tile) (*pyramid.Tile, error) {
	if len(t.Shape) == 2 {
		return t, nil
	}
	shape := make([]int, 0, 2)
	for _, d := range t.Shape {
		if d != 1 {
			shape = append(shape, d)
		}
	}
	switch len(shape) {
	case 0:
		shape = []int{1, 1}
	case 1:
		shape = []int{1, shape[0]}
	case 2:
	default:
		return nil, fmt.Errorf("%w: shape %v", ErrNotPlanar, t.Shape)
	}
	return &pyramid.Tile{Shape: shape, Type: t.Type, Samples: t.Samples}, nil
}

// Promote converts 8-bit samples to 16-bit units in place. 16-bit tiles
// are returned unchanged.
func Promote(t *pyramid.Tile) *pyramid.Tile {
	if t.Type != pyramid.Uint8 {
		return t
	}
	for i, v := range t.Samples {
		t.Samples[i] = v * promoteFactor
	}
	t.Type = pyramid.Uint16
	return t
}

// Normalize squeezes then promotes a fetched tile. A nil tile stays nil.
func Normalize(t *pyramid.Tile) (*pyramid.Tile, error) {
	if t == nil {
		return nil, nil
	}
	sq, err := Squeeze(t)
	if err != nil {
		return nil, err
	}
	return Promote(sq), nil
}
