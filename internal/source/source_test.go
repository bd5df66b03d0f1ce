package source

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ironsheep/tile-pyramid/internal/ometiff"
	"github.com/ironsheep/tile-pyramid/internal/ometiff/ometifftest"
	"github.com/ironsheep/tile-pyramid/internal/pyramid"
	"github.com/ironsheep/tile-pyramid/internal/slide"
	"github.com/ironsheep/tile-pyramid/internal/zarr/zarrtest"
)

// writeStore creates a two-level multiplex store and returns its path.
func writeStore(t *testing.T, channels int, dtype string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "image.ome.zarr")
	value := func(idx []int) uint16 { return uint16(idx[0]*1000 + idx[1] + idx[2]) }
	zarrtest.Write(t, dir, zarrtest.Options{DType: dtype, Compressor: "zstd"},
		zarrtest.Level{Shape: []int{channels, 100, 150}, Chunks: []int{1, 64, 64}, Value: value},
		zarrtest.Level{Shape: []int{channels, 50, 75}, Chunks: []int{1, 64, 64}, Value: value},
	)
	return dir
}

func writePNG(t *testing.T, width, height int, c color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	path := filepath.Join(t.TempDir(), "slide.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create slide: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("failed to encode slide: %v", err)
	}
	return path
}

func TestOpen_Chunked(t *testing.T) {
	src, err := Open(writeStore(t, 4, "<u2"), Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer src.Close()

	info := src.Info()
	if info.Backend != pyramid.ChunkedArray || info.Kind != pyramid.Multiplex {
		t.Errorf("info: got %v/%v, want chunked-array/multiplex", info.Backend, info.Kind)
	}
	if info.NativeTileSize != 64 {
		t.Errorf("NativeTileSize: got %d, want 64", info.NativeTileSize)
	}
	want := pyramid.Shape{Channels: 4, Levels: 2, Width: 150, Height: 100}
	if src.Shape() != want {
		t.Errorf("Shape: got %+v, want %+v", src.Shape(), want)
	}
}

func TestChunked_Classification(t *testing.T) {
	tests := []struct {
		channels int
		dtype    string
		want     pyramid.Kind
	}{
		{3, "|u1", pyramid.TrueColorRGB},
		{1, "|u1", pyramid.TrueColorGray},
		{3, "<u2", pyramid.Multiplex},
		{1, "<u2", pyramid.Multiplex},
		{5, "|u1", pyramid.Multiplex},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			src, err := OpenChunked(writeStore(t, tt.channels, tt.dtype))
			if err != nil {
				t.Fatalf("OpenChunked failed: %v", err)
			}
			if src.Info().Kind != tt.want {
				t.Errorf("Kind(%d channels %s): got %v, want %v", tt.channels, tt.dtype, src.Info().Kind, tt.want)
			}
		})
	}
}

func TestChunked_FetchTile(t *testing.T) {
	src, err := OpenChunked(writeStore(t, 2, "<u2"))
	if err != nil {
		t.Fatalf("OpenChunked failed: %v", err)
	}

	tile, err := src.FetchTile(0, 1, 1, 1, 64)
	if err != nil {
		t.Fatalf("FetchTile failed: %v", err)
	}
	// Edge tile: columns 64..127, rows 64..99.
	if tile.Width() != 64 || tile.Height() != 36 {
		t.Errorf("size: got %dx%d, want 64x36", tile.Width(), tile.Height())
	}
	if tile.Shape[0] != 1 {
		t.Errorf("channel dimension: got %d, want singleton", tile.Shape[0])
	}
	if got, want := tile.Samples[0], uint16(1000+64+64); got != want {
		t.Errorf("first sample: got %d, want %d", got, want)
	}

	if _, err := src.FetchTile(0, 2, 0, 0, 64); !errors.Is(err, pyramid.ErrChannelOutOfRange) {
		t.Errorf("bad channel: got %v, want ErrChannelOutOfRange", err)
	}
	if _, err := src.FetchTile(0, 0, 3, 0, 64); !errors.Is(err, pyramid.ErrTileOutOfRange) {
		t.Errorf("bad tile: got %v, want ErrTileOutOfRange", err)
	}
	if _, err := src.FetchTile(2, 0, 0, 0, 64); !errors.Is(err, pyramid.ErrLevelOutOfRange) {
		t.Errorf("bad level: got %v, want ErrLevelOutOfRange", err)
	}
}

func TestChunked_NativeEdge(t *testing.T) {
	src, err := OpenChunked(writeStore(t, 1, "<u2"))
	if err != nil {
		t.Fatalf("OpenChunked failed: %v", err)
	}
	tile, err := src.FetchTile(0, 0, 2, 0, 0)
	if err != nil {
		t.Fatalf("FetchTile failed: %v", err)
	}
	if tile.Width() != 22 {
		t.Errorf("native edge tile width: got %d, want 22", tile.Width())
	}
	if src.Warning() != "" {
		t.Errorf("Warning: got %q, want none", src.Warning())
	}
}

func TestChunked_UntiledPlaceholder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "flat.zarr")
	zarrtest.Write(t, dir, zarrtest.Options{},
		zarrtest.Level{Shape: []int{2, 40, 40}, Value: func([]int) uint16 { return 500 }},
	)
	src, err := OpenChunked(dir)
	if err != nil {
		t.Fatalf("OpenChunked failed: %v", err)
	}
	if src.Info().NativeTileSize != 0 {
		t.Fatalf("NativeTileSize: got %d, want 0", src.Info().NativeTileSize)
	}

	tile, err := src.FetchTile(0, 0, 0, 0, 0)
	if err != nil {
		t.Fatalf("FetchTile failed: %v", err)
	}
	if tile.Width() != 1024 || tile.Height() != 1024 {
		t.Errorf("placeholder size: got %dx%d, want 1024x1024", tile.Width(), tile.Height())
	}
	for _, v := range tile.Samples {
		if v != 0 {
			t.Fatal("placeholder is not black")
		}
	}
	if want := "Level 0 is not tiled. It will show as all-black."; src.Warning() != want {
		t.Errorf("Warning: got %q, want %q", src.Warning(), want)
	}

	// An explicit edge still reads real data.
	tile, err = src.FetchTile(0, 1, 0, 0, 32)
	if err != nil {
		t.Fatalf("FetchTile(32) failed: %v", err)
	}
	if tile.Samples[0] != 500 {
		t.Errorf("explicit edge sample: got %d, want 500", tile.Samples[0])
	}
}

func TestWholeSlide_LevelMapping(t *testing.T) {
	s, err := slide.New(image.NewRGBA(image.Rect(0, 0, 1000, 600)))
	if err != nil {
		t.Fatalf("slide.New failed: %v", err)
	}
	ws := NewWholeSlide(s, "memory", 256)

	// Deep Zoom grids from full resolution: 4x3, 2x2, then nine 1x1 levels.
	if ws.Shape().Levels != 3 {
		t.Fatalf("Levels: got %d, want 3", ws.Shape().Levels)
	}
	if ws.Shape().Channels != 3 || ws.Info().Kind != pyramid.TrueColorRGB {
		t.Errorf("shape/kind: got %+v %v", ws.Shape(), ws.Info().Kind)
	}

	tests := []struct {
		level  int
		nx, ny int
		w, h   int
	}{
		{0, 4, 3, 1000, 600},
		{1, 2, 2, 500, 300},
		{2, 1, 1, 250, 150},
	}
	for _, tt := range tests {
		nx, ny, err := ws.LevelTiles(tt.level, 256)
		if err != nil {
			t.Fatalf("LevelTiles(%d) failed: %v", tt.level, err)
		}
		if nx != tt.nx || ny != tt.ny {
			t.Errorf("LevelTiles(%d): got (%d,%d), want (%d,%d)", tt.level, nx, ny, tt.nx, tt.ny)
		}
		w, h, _ := ws.LevelSize(tt.level)
		if w != tt.w || h != tt.h {
			t.Errorf("LevelSize(%d): got %dx%d, want %dx%d", tt.level, w, h, tt.w, tt.h)
		}
	}

	if _, _, err := ws.LevelTiles(3, 256); !errors.Is(err, pyramid.ErrLevelOutOfRange) {
		t.Errorf("hidden level: got %v, want ErrLevelOutOfRange", err)
	}
	if _, _, err := ws.LevelTiles(0, 512); !errors.Is(err, ErrTileSizeFixed) {
		t.Errorf("mismatched edge: got %v, want ErrTileSizeFixed", err)
	}
}

func TestWholeSlide_Fetch(t *testing.T) {
	path := writePNG(t, 300, 200, color.RGBA{255, 128, 0, 255})
	src, err := Open(path, Options{TileSize: 128})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if src.Info().Backend != pyramid.WholeSlide {
		t.Fatalf("Backend: got %v, want whole-slide", src.Info().Backend)
	}

	rgb, ok := src.(pyramid.RGBFetcher)
	if !ok {
		t.Fatal("whole-slide source does not implement RGBFetcher")
	}
	img, err := rgb.FetchRGB(0, 2, 1, 128)
	if err != nil {
		t.Fatalf("FetchRGB failed: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 44 || b.Dy() != 72 {
		t.Errorf("edge tile: got %dx%d, want 44x72", b.Dx(), b.Dy())
	}

	tile, err := src.FetchTile(0, 1, 0, 0, 128)
	if err != nil {
		t.Fatalf("FetchTile failed: %v", err)
	}
	if tile.Type != pyramid.Uint8 || tile.Samples[0] != 128 {
		t.Errorf("green channel: got %v %d, want uint8 128", tile.Type, tile.Samples[0])
	}
}

func TestOpen_Unsupported(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(txt, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	svs := filepath.Join(dir, "slide.svs")
	if err := os.WriteFile(svs, []byte("II*\x00"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{txt, svs, dir} {
		if _, err := Open(path, Options{}); !errors.Is(err, pyramid.ErrUnsupportedFormat) {
			t.Errorf("Open(%s): got %v, want ErrUnsupportedFormat", filepath.Base(path), err)
		}
	}

	ome := filepath.Join(dir, "broken.ome.tif")
	if err := os.WriteFile(ome, []byte("II*\x00"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(ome, Options{}); !errors.Is(err, ometiff.ErrNotTIFF) {
		t.Errorf("Open(broken.ome.tif): got %v, want ErrNotTIFF", err)
	}

	if _, err := Open(filepath.Join(dir, "missing.zarr"), Options{}); err == nil {
		t.Error("Open(missing): expected error")
	}
}

func TestOpen_OMETIFF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.ome.tiff")
	value := func(level, channel, x, y int) uint16 { return uint16(channel*1000 + x + y) }
	ometifftest.Write(t, path, ometifftest.Options{Channels: 4, Tile: 32, Compression: "deflate"}, value,
		ometifftest.Level{Width: 150, Height: 100},
		ometifftest.Level{Width: 75, Height: 50},
	)

	src, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer src.Close()

	info := src.Info()
	if info.Backend != pyramid.ChunkedArray || info.Kind != pyramid.Multiplex || info.NativeTileSize != 32 {
		t.Errorf("info: got %+v", info)
	}
	if sh := src.Shape(); sh.Channels != 4 || sh.Levels != 2 || sh.Width != 150 || sh.Height != 100 {
		t.Errorf("shape: got %+v", sh)
	}

	// 150 at edge 64: tile 2 starts at x=128 and is 22 wide.
	tile, err := src.FetchTile(0, 3, 2, 1, 64)
	if err != nil {
		t.Fatalf("FetchTile failed: %v", err)
	}
	if tile.Width() != 22 || tile.Height() != 36 {
		t.Errorf("edge tile: got %dx%d, want 22x36", tile.Width(), tile.Height())
	}
	if want := uint16(3000 + 128 + 64); tile.Samples[0] != want {
		t.Errorf("first sample: got %d, want %d", tile.Samples[0], want)
	}

	// Native edge.
	tile, err = src.FetchTile(1, 0, 2, 1, 0)
	if err != nil {
		t.Fatalf("FetchTile(native) failed: %v", err)
	}
	if tile.Width() != 11 || tile.Height() != 18 {
		t.Errorf("native edge tile: got %dx%d, want 11x18", tile.Width(), tile.Height())
	}
}

func TestOpen_OMETIFF_TrueColor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "he.ome.tif")
	ometifftest.Write(t, path, ometifftest.Options{RGB: true, Bits: 8, Tile: 16},
		func(level, channel, x, y int) uint16 { return uint16(50 * (channel + 1)) },
		ometifftest.Level{Width: 40, Height: 40},
	)

	src, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer src.Close()
	if src.Info().Kind != pyramid.TrueColorRGB || src.Info().SampleType != pyramid.Uint8 {
		t.Errorf("got %v %v, want truecolor-rgb uint8", src.Info().Kind, src.Info().SampleType)
	}
	tile, err := src.FetchTile(0, 2, 0, 0, 16)
	if err != nil {
		t.Fatalf("FetchTile failed: %v", err)
	}
	if tile.Samples[0] != 150 {
		t.Errorf("blue sample: got %d, want 150", tile.Samples[0])
	}
}

func TestCache(t *testing.T) {
	path := writeStore(t, 2, "<u2")
	cache := NewCache(Options{})

	a, err := cache.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	b, err := cache.Load(path)
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if a != b {
		t.Error("Load returned a different source for the same path")
	}

	cache.Evict(path)
	c, err := cache.Load(path)
	if err != nil {
		t.Fatalf("Load after Evict failed: %v", err)
	}
	if c == a {
		t.Error("Load after Evict returned the evicted source")
	}

	cache.Clear()
	cache.Evict("never-loaded")
}

func TestCache_Concurrent(t *testing.T) {
	path := writeStore(t, 1, "<u2")
	cache := NewCache(Options{})

	var wg sync.WaitGroup
	results := make([]pyramid.Source, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			src, err := cache.Load(path)
			if err != nil {
				t.Errorf("Load failed: %v", err)
				return
			}
			results[i] = src
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Fatal("concurrent loads returned different sources")
		}
	}
}
