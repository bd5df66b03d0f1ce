// Package ometiff reads pyramidal OME-TIFF files tile by tile.
//
// An OME-TIFF stores each plane (one channel at one z and t) as an image
// file directory in the main chain. Reduced resolutions of a plane hang off
// its SubIFDs tag, level 1 first. The OME-XML in the first ImageDescription
// gives the channel count and the plane order. Files without OME-XML are
// read as one channel per full-size directory at the head of the chain.
//
// # Supported Encodings
//
//   - unsigned 8-bit and 16-bit samples, either byte order
//   - tiled or stripped planes; chunky RGB with three samples per pixel
//   - compression: none, LZW, deflate (Adobe and old-style codes)
//   - horizontal differencing predictor
//
// JPEG and JPEG 2000 compressed planes, BigTIFF and separate sample planes
// are rejected at Open, so a render never starts on a file it cannot decode.
//
// # Thread Safety
//
// A File is immutable after Open. ReadWindow uses positioned reads and may
// be called from several goroutines at once.
package ometiff

import (
	"encoding/binary"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/tiff"

	"github.com/ironsheep/tile-pyramid/internal/pyramid"
)

var (
	// ErrNotTIFF is returned for files without a TIFF header.
	ErrNotTIFF = errors.New("ometiff: not a TIFF file")
	// ErrUnsupported is returned for layouts and encodings the reader cannot decode.
	ErrUnsupported = errors.New("ometiff: unsupported encoding")
	// ErrCorruptBlock is returned when a tile or strip does not decode to its declared size.
	ErrCorruptBlock = errors.New("ometiff: corrupt block")
)

// File is an opened OME-TIFF image: the first series, z=0 and t=0.
type File struct {
	f        *os.File
	order    binary.ByteOrder
	sample   pyramid.SampleType
	channels int

	// rgb is set when one chunky plane per level holds every channel.
	rgb bool

	// levels[l][c] is the plane of channel c at level l.
	levels [][]*plane
}

type omeDocument struct {
	Images []struct {
		Pixels omePixels `xml:"Pixels"`
	} `xml:"Image"`
}

type omePixels struct {
	DimensionOrder string `xml:"DimensionOrder,attr"`
	SizeC          int    `xml:"SizeC,attr"`
	SizeZ          int    `xml:"SizeZ,attr"`
	SizeT          int    `xml:"SizeT,attr"`
}

// Open parses the directory structure of path. Tile data is read lazily.
func Open(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open OME-TIFF: %w", err)
	}
	f, err := open(fh)
	if err != nil {
		fh.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func open(fh *os.File) (*File, error) {
	order, err := byteOrder(fh)
	if err != nil {
		return nil, err
	}
	if _, err := fh.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	t, err := tiff.Parse(fh, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotTIFF, err)
	}
	ifds := t.IFDs()
	if len(ifds) == 0 {
		return nil, fmt.Errorf("%w: no image directories", ErrUnsupported)
	}

	first, err := parsePlane(ifds[0])
	if err != nil {
		return nil, err
	}

	f := &File{f: fh, order: order, channels: 1}
	if first.bytes == 1 {
		f.sample = pyramid.Uint8
	} else {
		f.sample = pyramid.Uint16
	}

	stride := 1
	switch {
	case first.samples == 3:
		f.rgb = true
		f.channels = 3
	case first.samples != 1:
		return nil, fmt.Errorf("%w: %d samples per pixel", ErrUnsupported, first.samples)
	default:
		if px, ok := parseOME(fieldString(ifds[0], tagImageDescription)); ok {
			f.channels = max(px.SizeC, 1)
			stride = channelStride(px.DimensionOrder, px.SizeZ, px.SizeT)
		} else {
			f.channels = leadingPlanes(ifds, first)
		}
	}

	var base []*plane
	if f.rgb {
		base = []*plane{first}
	} else {
		if last := (f.channels-1)*stride + 1; last > len(ifds) {
			return nil, fmt.Errorf("%w: %d channels described, %d directories stored",
				ErrUnsupported, f.channels, len(ifds))
		}
		for c := 0; c < f.channels; c++ {
			p, err := parsePlane(ifds[c*stride])
			if err != nil {
				return nil, fmt.Errorf("channel %d: %w", c, err)
			}
			if p.width != first.width || p.height != first.height || p.bytes != first.bytes || p.samples != 1 {
				return nil, fmt.Errorf("%w: channel %d differs from channel 0", ErrUnsupported, c)
			}
			base = append(base, p)
		}
	}

	// Levels exist only where every channel has a reduced plane.
	count := len(base[0].subIFDs)
	for _, p := range base[1:] {
		count = min(count, len(p.subIFDs))
	}
	f.levels = [][]*plane{base}
	for l := 0; l < count; l++ {
		level := make([]*plane, len(base))
		for c, p := range base {
			ifd, err := tiff.ParseIFD(t.R(), uint32(p.subIFDs[l]), nil, nil)
			if err != nil {
				return nil, fmt.Errorf("%w: level %d: %v", ErrUnsupported, l+1, err)
			}
			if level[c], err = parsePlane(ifd); err != nil {
				return nil, fmt.Errorf("level %d: %w", l+1, err)
			}
			if level[c].bytes != first.bytes || level[c].samples != first.samples {
				return nil, fmt.Errorf("%w: level %d changes sample layout", ErrUnsupported, l+1)
			}
		}
		f.levels = append(f.levels, level)
	}
	return f, nil
}

// byteOrder reads the TIFF header. BigTIFF files are rejected.
func byteOrder(r io.ReaderAt) (binary.ByteOrder, error) {
	var hdr [4]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil, ErrNotTIFF
	}
	var order binary.ByteOrder
	switch string(hdr[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, ErrNotTIFF
	}
	switch order.Uint16(hdr[2:]) {
	case 42:
		return order, nil
	case 43:
		return nil, fmt.Errorf("%w: BigTIFF", ErrUnsupported)
	default:
		return nil, ErrNotTIFF
	}
}

func parseOME(desc string) (omePixels, bool) {
	if !strings.Contains(desc, "<OME") {
		return omePixels{}, false
	}
	var doc omeDocument
	if err := xml.Unmarshal([]byte(desc), &doc); err != nil || len(doc.Images) == 0 {
		return omePixels{}, false
	}
	return doc.Images[0].Pixels, true
}

// channelStride returns how many directories separate consecutive channels
// at z=0, t=0 for an OME dimension order such as "XYZCT".
func channelStride(order string, sizeZ, sizeT int) int {
	stride := 1
	for _, d := range strings.TrimPrefix(strings.ToUpper(order), "XY") {
		switch d {
		case 'C':
			return stride
		case 'Z':
			stride *= max(sizeZ, 1)
		case 'T':
			stride *= max(sizeT, 1)
		}
	}
	return 1
}

// leadingPlanes counts the full-size, single-sample directories at the head
// of the main chain.
func leadingPlanes(ifds []tiff.IFD, first *plane) int {
	n := 1
	for _, ifd := range ifds[1:] {
		if fieldUint(ifd, tagNewSubfileType, 0)&1 != 0 {
			break
		}
		if int(fieldUint(ifd, tagImageWidth, 0)) != first.width ||
			int(fieldUint(ifd, tagImageLength, 0)) != first.height ||
			fieldUint(ifd, tagSamplesPerPixel, 1) != 1 {
			break
		}
		n++
	}
	return n
}

// Channels returns the number of channels.
func (f *File) Channels() int { return f.channels }

// LevelCount returns the number of resolution levels.
func (f *File) LevelCount() int { return len(f.levels) }

// LevelSize returns the width and height of a level.
func (f *File) LevelSize(level int) (width, height int) {
	p := f.levels[level][0]
	return p.width, p.height
}

// SampleType returns the native sample width.
func (f *File) SampleType() pyramid.SampleType { return f.sample }

// NativeTileSize returns the larger tile edge of level 0, or 0 when the
// planes are stored as strips.
func (f *File) NativeTileSize() int {
	p := f.levels[0][0]
	if !p.tiled {
		return 0
	}
	return max(p.blockW, p.blockH)
}

// ReadWindow returns one channel of the window [x0,x1)×[y0,y1) at a level
// as a tile of shape (1, height, width). The window is clipped to the
// level.
func (f *File) ReadWindow(level, channel, x0, y0, x1, y1 int) (*pyramid.Tile, error) {
	if level < 0 || level >= len(f.levels) {
		return nil, fmt.Errorf("%w: %d", pyramid.ErrLevelOutOfRange, level)
	}
	if channel < 0 || channel >= f.channels {
		return nil, fmt.Errorf("%w: %d of %d", pyramid.ErrChannelOutOfRange, channel, f.channels)
	}
	p, sample := f.levels[level][0], channel
	if !f.rgb {
		p, sample = f.levels[level][channel], 0
	}

	x0, y0 = max(x0, 0), max(y0, 0)
	x1, y1 = min(x1, p.width), min(y1, p.height)
	if x1 <= x0 || y1 <= y0 {
		return nil, pyramid.ErrTileOutOfRange
	}
	w, h := x1-x0, y1-y0
	tile := pyramid.NewTile(f.sample, 1, h, w)

	for by := y0 / p.blockH; by <= (y1-1)/p.blockH; by++ {
		for bx := x0 / p.blockW; bx <= (x1-1)/p.blockW; bx++ {
			data, err := p.block(f.f, f.order, bx, by)
			if err != nil {
				return nil, err
			}
			ox, oy := bx*p.blockW, by*p.blockH
			for y := max(y0, oy); y < min(y1, oy+p.blockH); y++ {
				row := (y - oy) * p.blockW
				out := tile.Samples[(y-y0)*w:]
				for x := max(x0, ox); x < min(x1, ox+p.blockW); x++ {
					i := (row+x-ox)*p.samples + sample
					if p.bytes == 1 {
						out[x-x0] = uint16(data[i])
					} else {
						out[x-x0] = f.order.Uint16(data[2*i:])
					}
				}
			}
		}
	}
	return tile, nil
}

// Close releases the file.
func (f *File) Close() error { return f.f.Close() }
