package compose

import (
	"errors"
	"fmt"
	"image"

	"github.com/ironsheep/tile-pyramid/internal/pyramid"
)

// ErrSizeMismatch is returned when a channel tile does not match the
// buffer it is composited into.
var ErrSizeMismatch = errors.New("compose: tile size does not match buffer")

// Buffer is a float RGB accumulator for one tile, interleaved R,G,B per
// pixel and zero on creation.
type Buffer struct {
	Width  int
	Height int
	Pix    []float32
}

// NewBuffer allocates a zeroed buffer.
func NewBuffer(width, height int) *Buffer {
	return &Buffer{
		Width:  width,
		Height: height,
		Pix:    make([]float32, width*height*3),
	}
}

// Composite adds one channel into buf:
//
//	f = clamp((v-low)/(high-low), 0, 1)
//	buf[c] += f * color[c]
//
// When high <= low the range is degenerate and f is a hard threshold: 1 for
// samples at or above low, 0 below. The tile must already be normalized.
func Composite(buf *Buffer, t *pyramid.Tile, color [3]float64, low, high float64) error {
	if t.Width() != buf.Width || t.Height() != buf.Height {
		return fmt.Errorf("%w: tile %dx%d, buffer %dx%d", ErrSizeMismatch,
			t.Width(), t.Height(), buf.Width, buf.Height)
	}

	r, g, b := float32(color[0]), float32(color[1]), float32(color[2])
	lo := float32(low)
	span := float32(high - low)
	degenerate := high <= low

	for i, v := range t.Samples {
		s := float32(v)
		var f float32
		switch {
		case degenerate:
			if s >= lo {
				f = 1
			}
		default:
			f = (s - lo) / span
			if f < 0 {
				f = 0
			} else if f > 1 {
				f = 1
			}
		}
		if f == 0 {
			continue
		}
		p := buf.Pix[i*3 : i*3+3 : i*3+3]
		p[0] += f * r
		p[1] += f * g
		p[2] += f * b
	}
	return nil
}

// Clip clamps every component to [0, 1].
func (b *Buffer) Clip() {
	for i, v := range b.Pix {
		if v < 0 {
			b.Pix[i] = 0
		} else if v > 1 {
			b.Pix[i] = 1
		}
	}
}

// Quantize converts a clipped buffer to an opaque 8-bit image using
// round(v*255).
func (b *Buffer) Quantize() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, b.Width, b.Height))
	for i := 0; i < b.Width*b.Height; i++ {
		src := b.Pix[i*3 : i*3+3 : i*3+3]
		dst := img.Pix[i*4 : i*4+4 : i*4+4]
		dst[0] = quantize(src[0])
		dst[1] = quantize(src[1])
		dst[2] = quantize(src[2])
		dst[3] = 0xff
	}
	return img
}

func quantize(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 0xff
	}
	return uint8(v*255 + 0.5)
}
