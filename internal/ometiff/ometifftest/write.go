// Package ometifftest writes small pyramidal OME-TIFF files for tests.
package ometifftest

import (
	"bytes"
	"compress/lzw"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"testing"

	"github.com/klauspost/compress/zlib"
)

// Level is the pixel size of one resolution. Level 0 is written to the main
// chain; later levels become SubIFDs of each plane.
type Level struct {
	Width, Height int
}

// Value returns the sample of a channel at a pixel of a level.
type Value func(level, channel, x, y int) uint16

// Options control the file layout.
type Options struct {
	// Channels is the number of single-sample channels. Ignored with RGB.
	Channels int
	// RGB writes one chunky plane with three samples per pixel.
	RGB bool
	// Bits is 8 or 16; 16 when zero.
	Bits int
	// Tile is the tile edge. Zero writes strips of RowsPerStrip rows.
	Tile         int
	RowsPerStrip int
	// Compression is "", "deflate" or "lzw". LZW blocks must stay under
	// 250 bytes so the encoder never widens its codes.
	Compression string
	Predictor   bool
	BigEndian   bool
	// NoOMEXML omits the OME-XML description.
	NoOMEXML bool
	// SizeZ writes extra z planes filled with ZValue. DimensionOrder is
	// "XYCZT" or "XYZCT"; "XYCZT" when empty.
	SizeZ          int
	ZValue         uint16
	DimensionOrder string
}

const (
	typeASCII = 2
	typeShort = 3
	typeLong  = 4
)

type entry struct {
	tag, typ uint16
	ints     []uint32
	ascii    string
}

type writer struct {
	t     *testing.T
	buf   bytes.Buffer
	order binary.ByteOrder
	opts  Options
	value Value
}

// Write creates the file at path.
func Write(t *testing.T, path string, opts Options, value Value, levels ...Level) {
	t.Helper()
	if opts.Bits == 0 {
		opts.Bits = 16
	}
	if opts.Channels == 0 {
		opts.Channels = 1
	}
	if opts.SizeZ == 0 {
		opts.SizeZ = 1
	}
	if opts.DimensionOrder == "" {
		opts.DimensionOrder = "XYCZT"
	}
	if opts.RowsPerStrip == 0 {
		opts.RowsPerStrip = 16
	}

	w := &writer{t: t, order: binary.LittleEndian, opts: opts, value: value}
	if opts.BigEndian {
		w.order = binary.BigEndian
		w.buf.WriteString("MM")
	} else {
		w.buf.WriteString("II")
	}
	w.u16(42)
	w.u32(0)

	channels, planes := opts.Channels, opts.Channels*opts.SizeZ
	if opts.RGB {
		channels, planes = 1, 1
	}

	prevNext := 4
	for i := 0; i < planes; i++ {
		c, z := i%channels, i/channels
		if opts.DimensionOrder == "XYZCT" {
			c, z = i/opts.SizeZ, i%opts.SizeZ
		}

		var subs []uint32
		for l := 1; l < len(levels); l++ {
			start, _ := w.plane(l, levels[l], c, z, nil)
			subs = append(subs, uint32(start))
		}
		var extra []entry
		if len(subs) > 0 {
			extra = append(extra, entry{tag: 330, typ: typeLong, ints: subs})
		}
		if i == 0 && !opts.NoOMEXML {
			extra = append(extra, entry{tag: 270, typ: typeASCII, ascii: w.omeXML(levels[0])})
		}
		start, next := w.plane(0, levels[0], c, z, extra)
		w.put32(prevNext, uint32(start))
		prevNext = next
	}

	if err := os.WriteFile(path, w.buf.Bytes(), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func (w *writer) omeXML(size Level) string {
	typ, c := "uint16", w.opts.Channels
	if w.opts.Bits == 8 {
		typ = "uint8"
	}
	if w.opts.RGB {
		c = 3
	}
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>`+
		`<OME xmlns="http://www.openmicroscopy.org/Schemas/OME/2016-06">`+
		`<Image ID="Image:0" Name="test"><Pixels ID="Pixels:0" DimensionOrder="%s" Type="%s" `+
		`SizeX="%d" SizeY="%d" SizeC="%d" SizeZ="%d" SizeT="1"></Pixels></Image></OME>`,
		w.opts.DimensionOrder, typ, size.Width, size.Height, c, w.opts.SizeZ)
}

// plane writes the blocks and directory of one plane at one level and
// returns the directory offset and the position of its next pointer.
func (w *writer) plane(level int, size Level, channel, z int, extra []entry) (int, int) {
	spp := 1
	if w.opts.RGB {
		spp = 3
	}
	bw, bh := size.Width, min(w.opts.RowsPerStrip, size.Height)
	if w.opts.Tile > 0 {
		bw, bh = w.opts.Tile, w.opts.Tile
	}
	across := (size.Width + bw - 1) / bw
	down := (size.Height + bh - 1) / bh

	var offsets, counts []uint32
	for by := 0; by < down; by++ {
		for bx := 0; bx < across; bx++ {
			rows := bh
			if w.opts.Tile == 0 {
				rows = min(bh, size.Height-by*bh)
			}
			raw := w.block(level, size, channel, z, spp, bx*bw, by*bh, bw, rows)
			data := w.compress(raw)
			w.align()
			offsets = append(offsets, uint32(w.buf.Len()))
			counts = append(counts, uint32(len(data)))
			w.buf.Write(data)
		}
	}

	bits := make([]uint32, spp)
	formats := make([]uint32, spp)
	for i := range bits {
		bits[i], formats[i] = uint32(w.opts.Bits), 1
	}
	photometric, compression := uint32(1), uint32(1)
	if w.opts.RGB {
		photometric = 2
	}
	switch w.opts.Compression {
	case "deflate":
		compression = 8
	case "lzw":
		compression = 5
	}
	subfile := uint32(0)
	if level > 0 {
		subfile = 1
	}

	entries := append(extra,
		entry{tag: 254, typ: typeLong, ints: []uint32{subfile}},
		entry{tag: 256, typ: typeLong, ints: []uint32{uint32(size.Width)}},
		entry{tag: 257, typ: typeLong, ints: []uint32{uint32(size.Height)}},
		entry{tag: 258, typ: typeShort, ints: bits},
		entry{tag: 259, typ: typeShort, ints: []uint32{compression}},
		entry{tag: 262, typ: typeShort, ints: []uint32{photometric}},
		entry{tag: 277, typ: typeShort, ints: []uint32{uint32(spp)}},
		entry{tag: 284, typ: typeShort, ints: []uint32{1}},
		entry{tag: 339, typ: typeShort, ints: formats},
	)
	if w.opts.Predictor {
		entries = append(entries, entry{tag: 317, typ: typeShort, ints: []uint32{2}})
	}
	if w.opts.Tile > 0 {
		entries = append(entries,
			entry{tag: 322, typ: typeLong, ints: []uint32{uint32(bw)}},
			entry{tag: 323, typ: typeLong, ints: []uint32{uint32(bh)}},
			entry{tag: 324, typ: typeLong, ints: offsets},
			entry{tag: 325, typ: typeLong, ints: counts},
		)
	} else {
		entries = append(entries,
			entry{tag: 273, typ: typeLong, ints: offsets},
			entry{tag: 278, typ: typeLong, ints: []uint32{uint32(bh)}},
			entry{tag: 279, typ: typeLong, ints: counts},
		)
	}
	return w.ifd(entries)
}

// block encodes the samples of one tile or strip, zero padded past the
// plane edge, with the predictor applied.
func (w *writer) block(level int, size Level, channel, z, spp, x0, y0, bw, bh int) []byte {
	nb := w.opts.Bits / 8
	out := make([]byte, bw*bh*spp*nb)
	for y := 0; y < bh; y++ {
		for x := 0; x < bw; x++ {
			if x0+x >= size.Width || y0+y >= size.Height {
				continue
			}
			for s := 0; s < spp; s++ {
				var v uint16
				switch {
				case z > 0:
					v = w.opts.ZValue
				case w.opts.RGB:
					v = w.value(level, s, x0+x, y0+y)
				default:
					v = w.value(level, channel, x0+x, y0+y)
				}
				i := (y*bw+x)*spp + s
				if nb == 1 {
					out[i] = byte(v)
				} else {
					w.order.PutUint16(out[2*i:], v)
				}
			}
		}
	}
	if w.opts.Predictor {
		n := bw * spp
		for row := 0; row < bh; row++ {
			for i := n - 1; i >= spp; i-- {
				at := row*n + i
				if nb == 1 {
					out[at] -= out[at-spp]
				} else {
					w.order.PutUint16(out[2*at:], w.order.Uint16(out[2*at:])-w.order.Uint16(out[2*(at-spp):]))
				}
			}
		}
	}
	return out
}

func (w *writer) compress(raw []byte) []byte {
	var b bytes.Buffer
	switch w.opts.Compression {
	case "":
		return raw
	case "deflate":
		zw := zlib.NewWriter(&b)
		zw.Write(raw)
		zw.Close()
	case "lzw":
		if len(raw) >= 250 {
			w.t.Fatalf("lzw block of %d bytes is too large", len(raw))
		}
		lw := lzw.NewWriter(&b, lzw.MSB, 8)
		lw.Write(raw)
		lw.Close()
	default:
		w.t.Fatalf("unknown compression %q", w.opts.Compression)
	}
	return b.Bytes()
}

// ifd writes a directory with its out-of-line values after it and returns
// the directory offset and the position of its next pointer.
func (w *writer) ifd(entries []entry) (int, int) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })
	w.align()
	start := w.buf.Len()
	dataPos := start + 2 + 12*len(entries) + 4

	var extra []byte
	w.u16(uint16(len(entries)))
	for _, e := range entries {
		var payload []byte
		count := len(e.ints)
		switch e.typ {
		case typeASCII:
			payload = append([]byte(e.ascii), 0)
			count = len(payload)
		case typeShort:
			for _, v := range e.ints {
				var b [2]byte
				w.order.PutUint16(b[:], uint16(v))
				payload = append(payload, b[:]...)
			}
		case typeLong:
			for _, v := range e.ints {
				var b [4]byte
				w.order.PutUint32(b[:], v)
				payload = append(payload, b[:]...)
			}
		}
		w.u16(e.tag)
		w.u16(e.typ)
		w.u32(uint32(count))
		if len(payload) <= 4 {
			var inline [4]byte
			copy(inline[:], payload)
			w.buf.Write(inline[:])
			continue
		}
		if len(extra)%2 == 1 {
			extra = append(extra, 0)
		}
		w.u32(uint32(dataPos + len(extra)))
		extra = append(extra, payload...)
	}
	next := w.buf.Len()
	w.u32(0)
	w.buf.Write(extra)
	return start, next
}

func (w *writer) align() {
	if w.buf.Len()%2 == 1 {
		w.buf.WriteByte(0)
	}
}

func (w *writer) u16(v uint16) {
	var b [2]byte
	w.order.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) u32(v uint32) {
	var b [4]byte
	w.order.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) put32(pos int, v uint32) {
	w.order.PutUint32(w.buf.Bytes()[pos:], v)
}
