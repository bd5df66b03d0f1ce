// Package zarrtest writes small Zarr v2 stores for tests.
package zarrtest

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Level describes one array of a test store. Value returns the sample at a
// full multi-dimensional index.
type Level struct {
	Shape  []int
	Chunks []int
	Value  func(idx []int) uint16
}

// Options control how chunks are stored.
type Options struct {
	// DType is "<u2" when empty.
	DType string
	// Compressor is "zlib", "gzip", "zstd" or "" for raw chunks.
	Compressor string
	// Separator is the dimension separator, "." when empty.
	Separator string
	// Axes are written into the multiscales attribute when non-nil.
	Axes []string
	// SkipChunks lists chunk keys that are not written (read as fill).
	SkipChunks map[string]bool
	// FillValue is recorded in .zarray.
	FillValue int
}

// Write creates a multiscale store at dir with one sub-array per level.
func Write(t *testing.T, dir string, opts Options, levels ...Level) {
	t.Helper()
	if opts.DType == "" {
		opts.DType = "<u2"
	}
	if opts.Separator == "" {
		opts.Separator = "."
	}

	datasets := make([]map[string]string, len(levels))
	for i, lvl := range levels {
		name := strconv.Itoa(i)
		datasets[i] = map[string]string{"path": name}
		writeArray(t, filepath.Join(dir, name), opts, lvl)
	}

	ms := map[string]interface{}{"version": "0.4", "datasets": datasets}
	if opts.Axes != nil {
		axes := make([]map[string]string, len(opts.Axes))
		for i, a := range opts.Axes {
			typ := "space"
			if a == "c" {
				typ = "channel"
			}
			axes[i] = map[string]string{"name": a, "type": typ}
		}
		ms["axes"] = axes
	}
	writeJSON(t, filepath.Join(dir, ".zattrs"), map[string]interface{}{"multiscales": []interface{}{ms}})
	writeJSON(t, filepath.Join(dir, ".zgroup"), map[string]int{"zarr_format": 2})
}

func writeArray(t *testing.T, dir string, opts Options, lvl Level) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create array dir: %v", err)
	}

	var compressor interface{}
	if opts.Compressor != "" {
		compressor = map[string]interface{}{"id": opts.Compressor, "level": 1}
	}
	meta := map[string]interface{}{
		"zarr_format":         2,
		"shape":               lvl.Shape,
		"chunks":              lvl.Chunks,
		"dtype":               opts.DType,
		"compressor":          compressor,
		"fill_value":          opts.FillValue,
		"order":               "C",
		"filters":             nil,
		"dimension_separator": opts.Separator,
	}
	writeJSON(t, filepath.Join(dir, ".zarray"), meta)

	chunks := lvl.Chunks
	if len(chunks) != len(lvl.Shape) {
		chunks = lvl.Shape
	}
	grid := make([]int, len(lvl.Shape))
	for d := range grid {
		grid[d] = (lvl.Shape[d] + chunks[d] - 1) / chunks[d]
	}

	coords := make([]int, len(grid))
	for {
		key := joinKey(coords, opts.Separator)
		if !opts.SkipChunks[key] {
			data := encodeChunk(t, opts, lvl, chunks, coords)
			path := filepath.Join(dir, filepath.FromSlash(key))
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				t.Fatalf("failed to create chunk dir: %v", err)
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				t.Fatalf("failed to write chunk: %v", err)
			}
		}
		if !next(coords, grid) {
			break
		}
	}
}

func encodeChunk(t *testing.T, opts Options, lvl Level, chunks, coords []int) []byte {
	t.Helper()
	n := 1
	for _, c := range chunks {
		n *= c
	}
	size := 2
	var order binary.ByteOrder = binary.LittleEndian
	switch opts.DType {
	case "|u1", "<u1", "u1":
		size = 1
	case ">u2":
		order = binary.BigEndian
	}

	raw := make([]byte, n*size)
	local := make([]int, len(chunks))
	idx := make([]int, len(chunks))
	for i := 0; i < n; i++ {
		inside := true
		for d := range idx {
			idx[d] = coords[d]*chunks[d] + local[d]
			if idx[d] >= lvl.Shape[d] {
				inside = false
			}
		}
		var v uint16
		if inside && lvl.Value != nil {
			v = lvl.Value(idx)
		}
		if size == 1 {
			raw[i] = uint8(v)
		} else {
			order.PutUint16(raw[2*i:], v)
		}
		next(local, chunks)
	}

	var buf bytes.Buffer
	switch opts.Compressor {
	case "":
		return raw
	case "zlib":
		w := zlib.NewWriter(&buf)
		w.Write(raw)
		w.Close()
	case "gzip":
		w := gzip.NewWriter(&buf)
		w.Write(raw)
		w.Close()
	case "zstd":
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			t.Fatalf("zstd writer: %v", err)
		}
		defer enc.Close()
		return enc.EncodeAll(raw, nil)
	default:
		t.Fatalf("unsupported test compressor %q", opts.Compressor)
	}
	return buf.Bytes()
}

func next(coords, limit []int) bool {
	for d := len(coords) - 1; d >= 0; d-- {
		coords[d]++
		if coords[d] < limit[d] {
			return true
		}
		coords[d] = 0
	}
	return false
}

func joinKey(coords []int, sep string) string {
	parts := make([]string, len(coords))
	for i, c := range coords {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, sep)
}

func writeJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// Key formats chunk coordinates the way Write names chunk files.
func Key(sep string, coords ...int) string {
	if sep == "" {
		sep = "."
	}
	return joinKey(coords, sep)
}

