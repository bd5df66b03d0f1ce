package compose

import (
	"errors"
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/clone"

	"github.com/ironsheep/tile-pyramid/internal/pyramid"
)

// ErrNoTile is returned when the source produced no tile for an address.
var ErrNoTile = errors.New("no tile produced")

// Validate checks every group against the source channel count. It is run
// once before a render so bad configuration fails before any output.
func Validate(groups []pyramid.GroupSpec, channels int) error {
	for gi, g := range groups {
		if len(g.Channels) == 0 {
			return fmt.Errorf("group %d %q: %w", gi, g.Label, pyramid.ErrEmptyGroup)
		}
		for _, ch := range g.Channels {
			if ch.Index < 0 || ch.Index >= channels {
				return fmt.Errorf("group %d %q: %w: channel %d of %d",
					gi, g.Label, pyramid.ErrChannelOutOfRange, ch.Index, channels)
			}
		}
	}
	return nil
}

// RenderGroup produces the output tile for one group at one address.
//
// Mask groups are flat-filled regardless of the source kind. Otherwise the
// source classification picks the path: true-color sources pass through,
// multiplex sources are composited. The returned image is always RGBA with
// its origin at (0,0).
func RenderGroup(src pyramid.Source, g pyramid.GroupSpec, addr pyramid.TileAddress) (*image.RGBA, error) {
	if len(g.Channels) == 0 {
		return nil, pyramid.ErrEmptyGroup
	}
	if g.Mask {
		return renderMask(src, g.Channels[0], addr)
	}
	switch src.Info().Kind {
	case pyramid.TrueColorRGB:
		return renderRGB(src, addr)
	case pyramid.TrueColorGray:
		return renderGray(src, addr)
	default:
		return renderMultiplex(src, g.Channels, addr)
	}
}

// fetch reads and normalizes one channel tile.
func fetch(src pyramid.Source, channel int, addr pyramid.TileAddress) (*pyramid.Tile, error) {
	raw, err := src.FetchTile(addr.Level, channel, addr.X, addr.Y, addr.Edge)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNoTile
	}
	return Normalize(raw)
}

// fetchRaw reads one channel tile and squeezes it without promotion.
func fetchRaw(src pyramid.Source, channel int, addr pyramid.TileAddress) (*pyramid.Tile, error) {
	raw, err := src.FetchTile(addr.Level, channel, addr.X, addr.Y, addr.Edge)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNoTile
	}
	return Squeeze(raw)
}

func renderMultiplex(src pyramid.Source, channels []pyramid.ChannelSpec, addr pyramid.TileAddress) (*image.RGBA, error) {
	var buf *Buffer
	for _, ch := range channels {
		t, err := fetch(src, ch.Index, addr)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", ch.Index, err)
		}
		if buf == nil {
			buf = NewBuffer(t.Width(), t.Height())
		}
		if err := Composite(buf, t, ch.Color, ch.Low, ch.High); err != nil {
			return nil, fmt.Errorf("channel %d: %w", ch.Index, err)
		}
	}
	buf.Clip()
	return buf.Quantize(), nil
}

func renderRGB(src pyramid.Source, addr pyramid.TileAddress) (*image.RGBA, error) {
	if f, ok := src.(pyramid.RGBFetcher); ok {
		img, err := f.FetchRGB(addr.Level, addr.X, addr.Y, addr.Edge)
		if err != nil {
			return nil, err
		}
		if img == nil {
			return nil, ErrNoTile
		}
		return clone.AsRGBA(img), nil
	}

	var planes [3]*pyramid.Tile
	for c := range planes {
		t, err := fetchRaw(src, c, addr)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", c, err)
		}
		if c > 0 && (t.Width() != planes[0].Width() || t.Height() != planes[0].Height()) {
			return nil, fmt.Errorf("channel %d: %w", c, ErrSizeMismatch)
		}
		planes[c] = t
	}

	img := image.NewRGBA(planes[0].Bounds())
	for i := range planes[0].Samples {
		img.Pix[i*4] = uint8(planes[0].Samples[i])
		img.Pix[i*4+1] = uint8(planes[1].Samples[i])
		img.Pix[i*4+2] = uint8(planes[2].Samples[i])
		img.Pix[i*4+3] = 0xff
	}
	return img, nil
}

func renderGray(src pyramid.Source, addr pyramid.TileAddress) (*image.RGBA, error) {
	t, err := fetchRaw(src, 0, addr)
	if err != nil {
		return nil, fmt.Errorf("channel 0: %w", err)
	}
	img := image.NewRGBA(t.Bounds())
	for i, v := range t.Samples {
		g := uint8(v)
		img.Pix[i*4] = g
		img.Pix[i*4+1] = g
		img.Pix[i*4+2] = g
		img.Pix[i*4+3] = 0xff
	}
	return img, nil
}

// renderMask paints the channel color wherever the mask sample is
// non-zero. Alpha is 0xff inside the mask and 0 elsewhere.
func renderMask(src pyramid.Source, ch pyramid.ChannelSpec, addr pyramid.TileAddress) (*image.RGBA, error) {
	t, err := fetchRaw(src, ch.Index, addr)
	if err != nil {
		return nil, fmt.Errorf("mask channel %d: %w", ch.Index, err)
	}
	fill := [4]uint8{quantize(float32(ch.Color[0])), quantize(float32(ch.Color[1])), quantize(float32(ch.Color[2])), 0xff}
	img := image.NewRGBA(t.Bounds())
	for i, v := range t.Samples {
		if v != 0 {
			copy(img.Pix[i*4:i*4+4], fill[:])
		}
	}
	return img, nil
}
