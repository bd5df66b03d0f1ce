package zarr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/mrjoshuak/go-jpeg2000"
)

// Codec errors
var (
	ErrUnsupportedCompressor = errors.New("zarr: unsupported compressor")
	ErrCorruptChunk          = errors.New("zarr: corrupted chunk")
)

// Codec decodes one stored chunk into raw array bytes.
type Codec interface {
	Decode(src []byte) ([]byte, error)
}

// CompressorMeta is the "compressor" entry of a .zarray document.
type CompressorMeta struct {
	ID    string `json:"id"`
	Level int    `json:"level,omitempty"`
}

// newCodec selects the codec for a compressor entry. A nil entry means
// chunks are stored uncompressed.
func newCodec(c *CompressorMeta, dt dtype) (Codec, error) {
	if c == nil {
		return rawCodec{}, nil
	}
	switch c.ID {
	case "zlib":
		return zlibCodec{}, nil
	case "gzip":
		return gzipCodec{}, nil
	case "zstd":
		return &zstdCodec{}, nil
	case "jpeg2k", "imagecodecs_jpeg2k":
		return jpeg2kCodec{dt: dt}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCompressor, c.ID)
	}
}

type rawCodec struct{}

func (rawCodec) Decode(src []byte) ([]byte, error) { return src, nil }

type zlibCodec struct{}

func (zlibCodec) Decode(src []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: zlib: %v", ErrCorruptChunk, err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: zlib: %v", ErrCorruptChunk, err)
	}
	return out, nil
}

type gzipCodec struct{}

func (gzipCodec) Decode(src []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: gzip: %v", ErrCorruptChunk, err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: gzip: %v", ErrCorruptChunk, err)
	}
	return out, nil
}

// zstdCodec shares one decoder; DecodeAll is safe for concurrent use.
type zstdCodec struct {
	once sync.Once
	dec  *zstd.Decoder
	err  error
}

func (c *zstdCodec) Decode(src []byte) ([]byte, error) {
	c.once.Do(func() {
		c.dec, c.err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	if c.err != nil {
		return nil, fmt.Errorf("zarr: zstd decoder: %w", c.err)
	}
	out, err := c.dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrCorruptChunk, err)
	}
	return out, nil
}

// jpeg2kCodec decodes a JPEG 2000 codestream holding one gray plane and
// re-serializes it in the array's dtype.
type jpeg2kCodec struct {
	dt dtype
}

func (c jpeg2kCodec) Decode(src []byte) ([]byte, error) {
	img, err := jpeg2000.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: jpeg2k: %v", ErrCorruptChunk, err)
	}
	b := img.Bounds()
	out := make([]byte, b.Dx()*b.Dy()*c.dt.size)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := grayAt(img, x, y, c.dt.size)
			if c.dt.size == 1 {
				out[i] = uint8(v)
			} else {
				c.dt.order.PutUint16(out[i:], v)
			}
			i += c.dt.size
		}
	}
	return out, nil
}

func grayAt(img image.Image, x, y, size int) uint16 {
	switch m := img.(type) {
	case *image.Gray16:
		v := m.Gray16At(x, y).Y
		if size == 1 {
			return v >> 8
		}
		return v
	case *image.Gray:
		return uint16(m.GrayAt(x, y).Y)
	default:
		v := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y
		if size == 1 {
			return v >> 8
		}
		return v
	}
}

// dtype is a parsed Zarr data type string such as "<u2".
type dtype struct {
	size  int
	order binary.ByteOrder
}
