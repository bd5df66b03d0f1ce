package ometiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/tiff"
	"github.com/klauspost/compress/zlib"
	"golang.org/x/image/tiff/lzw"
)

// TIFF tags read by the plane parser.
const (
	tagNewSubfileType   = 254
	tagImageWidth       = 256
	tagImageLength      = 257
	tagBitsPerSample    = 258
	tagCompression      = 259
	tagImageDescription = 270
	tagStripOffsets     = 273
	tagSamplesPerPixel  = 277
	tagRowsPerStrip     = 278
	tagStripByteCounts  = 279
	tagPlanarConfig     = 284
	tagPredictor        = 317
	tagTileWidth        = 322
	tagTileLength       = 323
	tagTileOffsets      = 324
	tagTileByteCounts   = 325
	tagSubIFDs          = 330
	tagSampleFormat     = 339
)

const (
	compressionNone       = 1
	compressionLZW        = 5
	compressionDeflate    = 8
	compressionDeflateOld = 32946

	predictorHorizontal = 2
)

// plane is one image file directory: a single resolution of one plane.
// Strips are treated as tiles as wide as the plane.
type plane struct {
	width, height  int
	blockW, blockH int
	tiled          bool

	samples     int
	bytes       int
	compression int
	predictor   int

	offsets []uint64
	counts  []uint64
	subIFDs []uint64
}

func parsePlane(ifd tiff.IFD) (*plane, error) {
	p := &plane{
		width:       int(fieldUint(ifd, tagImageWidth, 0)),
		height:      int(fieldUint(ifd, tagImageLength, 0)),
		samples:     int(fieldUint(ifd, tagSamplesPerPixel, 1)),
		compression: int(fieldUint(ifd, tagCompression, compressionNone)),
		predictor:   int(fieldUint(ifd, tagPredictor, 1)),
		subIFDs:     fieldUints(ifd, tagSubIFDs),
	}
	if p.width <= 0 || p.height <= 0 || p.samples <= 0 {
		return nil, fmt.Errorf("%w: empty plane", ErrUnsupported)
	}

	bits := fieldUints(ifd, tagBitsPerSample)
	if len(bits) == 0 {
		bits = []uint64{1}
	}
	for _, b := range bits[1:] {
		if b != bits[0] {
			return nil, fmt.Errorf("%w: mixed bits per sample %v", ErrUnsupported, bits)
		}
	}
	switch bits[0] {
	case 8:
		p.bytes = 1
	case 16:
		p.bytes = 2
	default:
		return nil, fmt.Errorf("%w: %d bits per sample", ErrUnsupported, bits[0])
	}
	for _, f := range fieldUints(ifd, tagSampleFormat) {
		if f != 1 {
			return nil, fmt.Errorf("%w: signed or floating-point samples", ErrUnsupported)
		}
	}
	if p.samples > 1 && fieldUint(ifd, tagPlanarConfig, 1) != 1 {
		return nil, fmt.Errorf("%w: separate sample planes", ErrUnsupported)
	}
	switch p.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateOld:
	default:
		return nil, fmt.Errorf("%w: compression %d", ErrUnsupported, p.compression)
	}

	if ifd.HasField(tagTileWidth) {
		p.tiled = true
		p.blockW = int(fieldUint(ifd, tagTileWidth, 0))
		p.blockH = int(fieldUint(ifd, tagTileLength, 0))
		p.offsets = fieldUints(ifd, tagTileOffsets)
		p.counts = fieldUints(ifd, tagTileByteCounts)
	} else {
		p.blockW = p.width
		p.blockH = int(min(fieldUint(ifd, tagRowsPerStrip, uint64(p.height)), uint64(p.height)))
		p.offsets = fieldUints(ifd, tagStripOffsets)
		p.counts = fieldUints(ifd, tagStripByteCounts)
	}
	if p.blockW <= 0 || p.blockH <= 0 {
		return nil, fmt.Errorf("%w: zero block size", ErrUnsupported)
	}
	if n := p.across() * p.down(); len(p.offsets) < n || len(p.counts) < n {
		return nil, fmt.Errorf("%w: %d blocks listed, want %d", ErrCorruptBlock, min(len(p.offsets), len(p.counts)), n)
	}
	return p, nil
}

func (p *plane) across() int { return (p.width + p.blockW - 1) / p.blockW }
func (p *plane) down() int   { return (p.height + p.blockH - 1) / p.blockH }

// block returns the decoded bytes of one tile or strip. Tiles are always
// full size, padding included; the last strip holds only the remaining
// rows. Blocks with a zero byte count read as zeros.
func (p *plane) block(r io.ReaderAt, order binary.ByteOrder, bx, by int) ([]byte, error) {
	i := by*p.across() + bx
	rows := p.blockH
	if !p.tiled {
		rows = min(p.blockH, p.height-by*p.blockH)
	}
	want := p.blockW * rows * p.samples * p.bytes
	if p.counts[i] == 0 {
		return make([]byte, want), nil
	}

	src := io.NewSectionReader(r, int64(p.offsets[i]), int64(p.counts[i]))
	var data []byte
	var err error
	switch p.compression {
	case compressionNone:
		data = make([]byte, p.counts[i])
		_, err = io.ReadFull(src, data)
	case compressionLZW:
		lr := lzw.NewReader(src, lzw.MSB, 8)
		data, err = io.ReadAll(lr)
		lr.Close()
	case compressionDeflate, compressionDeflateOld:
		var zr io.ReadCloser
		if zr, err = zlib.NewReader(src); err == nil {
			data, err = io.ReadAll(zr)
			zr.Close()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: block %d: %v", ErrCorruptBlock, i, err)
	}
	if len(data) < want {
		return nil, fmt.Errorf("%w: block %d holds %d bytes, want %d", ErrCorruptBlock, i, len(data), want)
	}
	data = data[:want]
	if p.predictor == predictorHorizontal {
		p.undoPredictor(data, order)
	}
	return data, nil
}

// undoPredictor reverses horizontal differencing row by row.
func (p *plane) undoPredictor(data []byte, order binary.ByteOrder) {
	n := p.blockW * p.samples
	s := p.samples
	if p.bytes == 1 {
		for row := 0; row+n <= len(data); row += n {
			for i := row + s; i < row+n; i++ {
				data[i] += data[i-s]
			}
		}
		return
	}
	for row := 0; row+2*n <= len(data); row += 2 * n {
		for i := s; i < n; i++ {
			at := row + 2*i
			order.PutUint16(data[at:], order.Uint16(data[at:])+order.Uint16(data[at-2*s:]))
		}
	}
}

// fieldUints decodes an unsigned integer field of any width.
func fieldUints(ifd tiff.IFD, tag uint16) []uint64 {
	if !ifd.HasField(tag) {
		return nil
	}
	f := ifd.GetField(tag)
	n := int(f.Count())
	b := f.Value().Bytes()
	if n == 0 || len(b) < n {
		return nil
	}
	size := len(b) / n
	if ft := f.Type(); ft != nil && int(ft.Size()) > 0 && int(ft.Size())*n <= len(b) {
		size = int(ft.Size())
	}
	order := f.Value().Order()
	out := make([]uint64, n)
	for i := range out {
		v := b[i*size:]
		switch size {
		case 1:
			out[i] = uint64(v[0])
		case 2:
			out[i] = uint64(order.Uint16(v))
		case 4:
			out[i] = uint64(order.Uint32(v))
		case 8:
			out[i] = order.Uint64(v)
		default:
			return nil
		}
	}
	return out
}

func fieldUint(ifd tiff.IFD, tag uint16, def uint64) uint64 {
	if v := fieldUints(ifd, tag); len(v) > 0 {
		return v[0]
	}
	return def
}

func fieldString(ifd tiff.IFD, tag uint16) string {
	if !ifd.HasField(tag) {
		return ""
	}
	return string(bytes.TrimRight(ifd.GetField(tag).Value().Bytes(), "\x00"))
}
