package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// createInMemoryImage creates a solid color image for testing.
func createInMemoryImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func absDiff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}

func closeColor(a, b [3]float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-9 {
			return false
		}
	}
	return true
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		want    [3]float64
		wantErr bool
	}{
		{"#FF0000", [3]float64{1, 0, 0}, false},
		{"00ff00", [3]float64{0, 1, 0}, false},
		{"#0000Ff", [3]float64{0, 0, 1}, false},
		{" #ffffff ", [3]float64{1, 1, 1}, false},
		{"#000000", [3]float64{0, 0, 0}, false},
		{"#F00", [3]float64{}, true},
		{"#FF000080", [3]float64{}, true},
		{"#GG0000", [3]float64{}, true},
		{"", [3]float64{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseColor(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrBadColor) {
					t.Errorf("ParseColor(%q): got %v, want ErrBadColor", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseColor(%q) failed: %v", tt.in, err)
			}
			if !closeColor(got, tt.want) {
				t.Errorf("ParseColor(%q): got %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatColor(t *testing.T) {
	if got := FormatColor([3]float64{1, 0.5, 0}); got != "#ff8000" {
		t.Errorf("FormatColor: got %q, want #ff8000", got)
	}
	if got := FormatColor([3]float64{2, -1, 1}); got != "#ff00ff" {
		t.Errorf("FormatColor(out of range): got %q, want #ff00ff", got)
	}

	rgb, err := ParseColor(FormatColor([3]float64{0, 1, 1}))
	if err != nil || !closeColor(rgb, [3]float64{0, 1, 1}) {
		t.Errorf("round trip: got %v, %v", rgb, err)
	}
}

func TestDescribeColor(t *testing.T) {
	tests := []struct {
		name string
		rgb  [3]float64
		hex  string
		hsl  HSLColor
	}{
		{"red", [3]float64{1, 0, 0}, "#FF0000", HSLColor{H: 0, S: 100, L: 50}},
		{"green", [3]float64{0, 1, 0}, "#00FF00", HSLColor{H: 120, S: 100, L: 50}},
		{"blue", [3]float64{0, 0, 1}, "#0000FF", HSLColor{H: 240, S: 100, L: 50}},
		{"white", [3]float64{1, 1, 1}, "#FFFFFF", HSLColor{H: 0, S: 0, L: 100}},
		{"black", [3]float64{0, 0, 0}, "#000000", HSLColor{H: 0, S: 0, L: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DescribeColor(tt.rgb)
			if got.Hex != tt.hex {
				t.Errorf("Hex: got %s, want %s", got.Hex, tt.hex)
			}
			if got.HSL != tt.hsl {
				t.Errorf("HSL: got %+v, want %+v", got.HSL, tt.hsl)
			}
		})
	}
}

func TestSampleColor(t *testing.T) {
	img := createInMemoryImage(4, 4, color.RGBA{0, 128, 255, 255})
	got, err := SampleColor(img, 3, 3)
	if err != nil {
		t.Fatalf("SampleColor failed: %v", err)
	}
	if got.RGB != (RGBColor{0, 128, 255}) {
		t.Errorf("RGB: got %+v", got.RGB)
	}

	for _, p := range []image.Point{{-1, 0}, {4, 0}, {0, 4}} {
		if _, err := SampleColor(img, p.X, p.Y); err == nil {
			t.Errorf("SampleColor(%v): expected error", p)
		}
	}
}

func TestWriteJPEG(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0_0_0.jpg")
	img := createInMemoryImage(64, 32, color.RGBA{200, 100, 50, 255})

	if err := WriteJPEG(path, img, 0); err != nil {
		t.Fatalf("WriteJPEG failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("tile not written: %v", err)
	}
	defer f.Close()
	decoded, err := jpeg.Decode(f)
	if err != nil {
		t.Fatalf("tile is not a JPEG: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 64 || b.Dy() != 32 {
		t.Errorf("size: got %dx%d, want 64x32", b.Dx(), b.Dy())
	}
	r, g, b, _ := decoded.At(10, 10).RGBA()
	if absDiff(uint8(r>>8), 200) > 8 || absDiff(uint8(g>>8), 100) > 8 || absDiff(uint8(b>>8), 50) > 8 {
		t.Errorf("color: got (%d,%d,%d), want about (200,100,50)", r>>8, g>>8, b>>8)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the tile", len(entries))
	}
}

func TestWriteJPEG_MissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "0_0_0.jpg")
	if err := WriteJPEG(path, createInMemoryImage(2, 2, color.White), 85); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestEncodePreview(t *testing.T) {
	img := createInMemoryImage(400, 200, color.RGBA{0, 0, 255, 255})

	result, err := EncodePreview(img, 100, 80)
	if err != nil {
		t.Fatalf("EncodePreview failed: %v", err)
	}
	if result.Width != 100 || result.Height != 50 {
		t.Errorf("size: got %dx%d, want 100x50", result.Width, result.Height)
	}
	if result.MimeType != "image/jpeg" {
		t.Errorf("MimeType: got %s, want image/jpeg", result.MimeType)
	}

	data, err := base64.StdEncoding.DecodeString(result.ImageBase64)
	if err != nil {
		t.Fatalf("failed to decode base64: %v", err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
		t.Errorf("preview is not a JPEG: %v", err)
	}

	same, err := EncodePreview(img, 0, 80)
	if err != nil {
		t.Fatalf("EncodePreview(0) failed: %v", err)
	}
	if same.Width != 400 || same.Height != 200 {
		t.Errorf("unscaled size: got %dx%d", same.Width, same.Height)
	}
}

func TestDrawGrid_Lines(t *testing.T) {
	// A 100x100 thumbnail of a 400x400 level with 100 pixel tiles: lines
	// fall every 25 thumbnail pixels.
	img := createInMemoryImage(100, 100, color.RGBA{0, 0, 0, 255})
	result, tx, ty, scale := drawGrid(img, GridOptions{TileSize: 100, LevelWidth: 400, LevelHeight: 400, Color: "#00FF00"})

	if tx != 4 || ty != 4 || scale != 0.25 {
		t.Errorf("grid: got %dx%d scale %v, want 4x4 scale 0.25", tx, ty, scale)
	}
	if c := result.RGBAAt(25, 60); c != (color.RGBA{0, 255, 0, 255}) {
		t.Errorf("vertical line at (25,60): got %v", c)
	}
	if c := result.RGBAAt(60, 75); c != (color.RGBA{0, 255, 0, 255}) {
		t.Errorf("horizontal line at (60,75): got %v", c)
	}
	if c := result.RGBAAt(10, 10); c != (color.RGBA{0, 0, 0, 255}) {
		t.Errorf("background at (10,10): got %v", c)
	}
	if c := result.RGBAAt(0, 40); c != (color.RGBA{0, 0, 0, 255}) {
		t.Errorf("no line at the left edge: got %v", c)
	}
}

func TestDrawGrid_PartialTiles(t *testing.T) {
	img := createInMemoryImage(300, 200, color.RGBA{128, 128, 128, 255})
	result, tx, ty, _ := drawGrid(img, GridOptions{TileSize: 256, LevelWidth: 300, LevelHeight: 200, ShowCoordinates: true})
	if tx != 2 || ty != 1 {
		t.Errorf("grid: got %dx%d, want 2x1", tx, ty)
	}
	// Default line color is red.
	if c := result.RGBAAt(256, 150); c != (color.RGBA{255, 0, 0, 255}) {
		t.Errorf("line at x=256: got %v", c)
	}
}

func TestGridOverlay(t *testing.T) {
	img := createInMemoryImage(1000, 500, color.RGBA{128, 128, 128, 255})
	result, err := GridOverlay(img, GridOptions{TileSize: 1024, LevelWidth: 4000, LevelHeight: 2000, MaxSide: 500, ShowCoordinates: true})
	if err != nil {
		t.Fatalf("GridOverlay failed: %v", err)
	}
	if result.Width != 500 || result.Height != 250 {
		t.Errorf("size: got %dx%d, want 500x250", result.Width, result.Height)
	}
	if result.TilesX != 4 || result.TilesY != 2 {
		t.Errorf("tiles: got %dx%d, want 4x2", result.TilesX, result.TilesY)
	}
	if result.Scale != 0.125 {
		t.Errorf("Scale: got %v, want 0.125", result.Scale)
	}

	if _, err := GridOverlay(img, GridOptions{TileSize: 0, LevelWidth: 10, LevelHeight: 10}); err == nil {
		t.Error("expected error for zero tile size")
	}
	if _, err := GridOverlay(img, GridOptions{TileSize: 10}); err == nil {
		t.Error("expected error for zero level size")
	}
}

func TestDominantColors(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			c := color.RGBA{R: 220, G: 30, B: 30, A: 255}
			if x >= 48 {
				c = color.RGBA{R: 30, G: 30, B: 220, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}

	res := DominantColors(img, 2)
	if len(res.Colors) == 0 || len(res.Colors) > 2 {
		t.Fatalf("got %d colors, want 1 or 2", len(res.Colors))
	}
	total := 0.0
	for i, c := range res.Colors {
		if i > 0 && c.Percentage > res.Colors[i-1].Percentage {
			t.Errorf("colors not sorted by share: %v", res.Colors)
		}
		if len(c.Hex) != 7 || c.Hex[0] != '#' {
			t.Errorf("Hex: got %q", c.Hex)
		}
		total += c.Percentage
	}
	if total > 100.5 {
		t.Errorf("shares sum to %v, want at most 100", total)
	}
	if top := res.Colors[0].RGB; top.R < top.B {
		t.Errorf("largest color: got %+v, want the red majority", top)
	}
}

func TestDominantColors_Empty(t *testing.T) {
	img := createInMemoryImage(8, 8, color.White)
	if res := DominantColors(img, 0); len(res.Colors) != 0 {
		t.Errorf("count 0: got %v", res.Colors)
	}
	if res := DominantColors(image.NewRGBA(image.Rect(0, 0, 0, 0)), 3); len(res.Colors) != 0 {
		t.Errorf("empty image: got %v", res.Colors)
	}
}
