package zarr

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ironsheep/tile-pyramid/internal/pyramid"
)

// Array errors
var (
	ErrNotArray           = errors.New("zarr: not an array")
	ErrUnsupportedDType   = errors.New("zarr: unsupported dtype")
	ErrUnsupportedOrder   = errors.New("zarr: unsupported memory order")
	ErrUnsupportedFilters = errors.New("zarr: filters are not supported")
	ErrBadSelection       = errors.New("zarr: selection does not match array")
)

// ArrayMeta is the .zarray document of one array.
type ArrayMeta struct {
	ZarrFormat         int               `json:"zarr_format"`
	Shape              []int             `json:"shape"`
	Chunks             []int             `json:"chunks"`
	DType              string            `json:"dtype"`
	Compressor         *CompressorMeta   `json:"compressor"`
	FillValue          json.RawMessage   `json:"fill_value"`
	Order              string            `json:"order"`
	Filters            []json.RawMessage `json:"filters"`
	DimensionSeparator string            `json:"dimension_separator,omitempty"`
}

// Range is a half-open index interval [Start, Stop).
type Range struct {
	Start int
	Stop  int
}

// Array is one opened Zarr array.
type Array struct {
	dir       string
	meta      ArrayMeta
	chunks    []int
	unchunked bool
	dt        dtype
	sample    pyramid.SampleType
	codec     Codec
	fill      uint16
	sep       string
}

// OpenArray reads the .zarray document in dir and prepares its codec.
func OpenArray(dir string) (*Array, error) {
	data, err := os.ReadFile(filepath.Join(dir, ".zarray"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotArray, dir)
		}
		return nil, fmt.Errorf("failed to read array metadata: %w", err)
	}

	var meta ArrayMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Join(dir, ".zarray"), err)
	}
	if meta.ZarrFormat != 0 && meta.ZarrFormat != 2 {
		return nil, fmt.Errorf("zarr: unsupported zarr_format %d", meta.ZarrFormat)
	}
	if len(meta.Shape) < 2 {
		return nil, fmt.Errorf("zarr: array %s has %d dimensions, need at least 2", dir, len(meta.Shape))
	}
	if meta.Order != "" && meta.Order != "C" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedOrder, meta.Order)
	}
	if len(meta.Filters) > 0 {
		return nil, ErrUnsupportedFilters
	}

	dt, sample, err := parseDType(meta.DType)
	if err != nil {
		return nil, err
	}
	codec, err := newCodec(meta.Compressor, dt)
	if err != nil {
		return nil, err
	}

	a := &Array{
		dir:    dir,
		meta:   meta,
		dt:     dt,
		sample: sample,
		codec:  codec,
		fill:   parseFill(meta.FillValue),
		sep:    ".",
	}
	if meta.DimensionSeparator == "/" {
		a.sep = "/"
	}

	// A store without usable chunk geometry is read as one chunk spanning
	// the whole array.
	if len(meta.Chunks) != len(meta.Shape) || containsNonPositive(meta.Chunks) {
		a.unchunked = true
		a.chunks = append([]int(nil), meta.Shape...)
	} else {
		a.chunks = append([]int(nil), meta.Chunks...)
	}
	return a, nil
}

func containsNonPositive(v []int) bool {
	for _, n := range v {
		if n <= 0 {
			return true
		}
	}
	return false
}

func parseDType(s string) (dtype, pyramid.SampleType, error) {
	switch s {
	case "|u1", "<u1", ">u1", "u1":
		return dtype{size: 1, order: binary.LittleEndian}, pyramid.Uint8, nil
	case "<u2":
		return dtype{size: 2, order: binary.LittleEndian}, pyramid.Uint16, nil
	case ">u2":
		return dtype{size: 2, order: binary.BigEndian}, pyramid.Uint16, nil
	default:
		return dtype{}, 0, fmt.Errorf("%w: %q", ErrUnsupportedDType, s)
	}
}

func parseFill(raw json.RawMessage) uint16 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0
	}
	if f < 0 {
		return 0
	}
	if f > 65535 {
		return 65535
	}
	return uint16(f)
}

// Shape returns the array dimensions.
func (a *Array) Shape() []int { return a.meta.Shape }

// Chunks returns the chunk dimensions used for reads.
func (a *Array) Chunks() []int { return a.chunks }

// Unchunked reports whether the store declared no chunk geometry.
func (a *Array) Unchunked() bool { return a.unchunked }

// SampleType returns the native sample width.
func (a *Array) SampleType() pyramid.SampleType { return a.sample }

// Read returns the samples inside sel, one Range per dimension. Ranges are
// clipped to the array bounds; the returned tile shape is the clipped
// extent of each range.
func (a *Array) Read(sel []Range) (*pyramid.Tile, error) {
	nd := len(a.meta.Shape)
	if len(sel) != nd {
		return nil, fmt.Errorf("%w: %d ranges for %d dimensions", ErrBadSelection, len(sel), nd)
	}

	clipped := make([]Range, nd)
	outShape := make([]int, nd)
	for d, r := range sel {
		r.Start = max(r.Start, 0)
		r.Stop = min(r.Stop, a.meta.Shape[d])
		if r.Stop <= r.Start {
			return nil, fmt.Errorf("%w: empty range [%d,%d) on dimension %d", ErrBadSelection, sel[d].Start, sel[d].Stop, d)
		}
		clipped[d] = r
		outShape[d] = r.Stop - r.Start
	}

	out := pyramid.NewTile(a.sample, outShape...)

	// Walk every chunk that intersects the selection.
	first := make([]int, nd)
	last := make([]int, nd)
	for d, r := range clipped {
		first[d] = r.Start / a.chunks[d]
		last[d] = (r.Stop - 1) / a.chunks[d]
	}
	coords := append([]int(nil), first...)
	for {
		if err := a.copyChunk(coords, clipped, out); err != nil {
			return nil, err
		}
		if !advance(coords, first, last) {
			break
		}
	}
	return out, nil
}

// advance steps coords through the box [first, last] in row-major order.
func advance(coords, first, last []int) bool {
	for d := len(coords) - 1; d >= 0; d-- {
		if coords[d] < last[d] {
			coords[d]++
			return true
		}
		coords[d] = first[d]
	}
	return false
}

// copyChunk copies the intersection of one chunk with sel into out.
func (a *Array) copyChunk(coords []int, sel []Range, out *pyramid.Tile) error {
	samples, err := a.loadChunk(coords)
	if err != nil {
		return err
	}

	nd := len(coords)
	lo := make([]int, nd)
	hi := make([]int, nd)
	for d := range coords {
		origin := coords[d] * a.chunks[d]
		lo[d] = max(sel[d].Start, origin)
		hi[d] = min(sel[d].Stop, origin+a.chunks[d])
	}

	chunkStride := strides(a.chunks)
	outStride := strides(out.Shape)

	// Iterate all positions over the leading dimensions; the last dimension
	// is copied as one contiguous run.
	pos := append([]int(nil), lo...)
	run := hi[nd-1] - lo[nd-1]
	end := subOne(hi[:nd-1])
	for {
		ci, oi := 0, 0
		for d := 0; d < nd; d++ {
			ci += (pos[d] - coords[d]*a.chunks[d]) * chunkStride[d]
			oi += (pos[d] - sel[d].Start) * outStride[d]
		}
		if samples == nil {
			for i := 0; i < run; i++ {
				out.Samples[oi+i] = a.fill
			}
		} else {
			copy(out.Samples[oi:oi+run], samples[ci:ci+run])
		}

		if !advance(pos[:nd-1], lo[:nd-1], end) {
			break
		}
	}
	return nil
}

func subOne(v []int) []int {
	out := make([]int, len(v))
	for i, n := range v {
		out[i] = n - 1
	}
	return out
}

func strides(shape []int) []int {
	s := make([]int, len(shape))
	acc := 1
	for d := len(shape) - 1; d >= 0; d-- {
		s[d] = acc
		acc *= shape[d]
	}
	return s
}

// ChunkKey returns the store key of a chunk.
func (a *Array) ChunkKey(coords []int) string {
	parts := make([]string, len(coords))
	for i, c := range coords {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, a.sep)
}

// loadChunk reads and decodes one chunk. A missing chunk returns nil
// samples, meaning fill value.
func (a *Array) loadChunk(coords []int) ([]uint16, error) {
	key := a.ChunkKey(coords)
	raw, err := os.ReadFile(filepath.Join(a.dir, filepath.FromSlash(key)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read chunk %s: %w", key, err)
	}

	data, err := a.codec.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", key, err)
	}

	n := 1
	for _, c := range a.chunks {
		n *= c
	}
	if len(data) != n*a.dt.size {
		return nil, fmt.Errorf("%w: chunk %s has %d bytes, want %d", ErrCorruptChunk, key, len(data), n*a.dt.size)
	}

	samples := make([]uint16, n)
	if a.dt.size == 1 {
		for i, b := range data {
			samples[i] = uint16(b)
		}
	} else {
		for i := range samples {
			samples[i] = a.dt.order.Uint16(data[2*i:])
		}
	}
	return samples, nil
}
