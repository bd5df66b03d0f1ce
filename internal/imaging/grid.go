package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
)

// GridOverlayResult contains a level thumbnail with tile boundaries drawn.
type GridOverlayResult struct {
	PreviewResult
	LevelWidth  int     `json:"level_width"`
	LevelHeight int     `json:"level_height"`
	TilesX      int     `json:"tiles_x"`
	TilesY      int     `json:"tiles_y"`
	TileSize    int     `json:"tile_size"`
	Scale       float64 `json:"scale"`
}

// GridOptions control how a tile grid overlay is drawn.
type GridOptions struct {
	// TileSize is the tile edge in level pixels.
	TileSize int
	// LevelWidth and LevelHeight are the level size the thumbnail shows.
	LevelWidth  int
	LevelHeight int
	// MaxSide bounds the longest side of the output. Zero keeps the
	// thumbnail size.
	MaxSide int
	// ShowCoordinates labels each tile with "tx,ty".
	ShowCoordinates bool
	// Color is the line color as "#RRGGBB"; red when empty or invalid.
	Color string
}

// GridOverlay draws tile boundaries over a thumbnail of one level.
//
// The thumbnail may be smaller than the level; boundaries are placed at
// tx*TileSize scaled by thumbnail width over LevelWidth.
func GridOverlay(thumb image.Image, opts GridOptions) (*GridOverlayResult, error) {
	if opts.TileSize <= 0 {
		return nil, fmt.Errorf("tile size must be positive, got %d", opts.TileSize)
	}
	if opts.LevelWidth <= 0 || opts.LevelHeight <= 0 {
		return nil, fmt.Errorf("level size must be positive, got %dx%d", opts.LevelWidth, opts.LevelHeight)
	}

	if opts.MaxSide > 0 {
		b := thumb.Bounds()
		if b.Dx() > opts.MaxSide || b.Dy() > opts.MaxSide {
			thumb = imaging.Fit(thumb, opts.MaxSide, opts.MaxSide, imaging.Lanczos)
		}
	}

	result, tilesX, tilesY, scale := drawGrid(thumb, opts)

	preview, err := EncodePreview(result, 0, 90)
	if err != nil {
		return nil, err
	}
	return &GridOverlayResult{
		PreviewResult: *preview,
		LevelWidth:    opts.LevelWidth,
		LevelHeight:   opts.LevelHeight,
		TilesX:        tilesX,
		TilesY:        tilesY,
		TileSize:      opts.TileSize,
		Scale:         scale,
	}, nil
}

// drawGrid copies thumb and draws the tile boundaries and labels on it.
func drawGrid(thumb image.Image, opts GridOptions) (result *image.RGBA, tilesX, tilesY int, scale float64) {
	bounds := thumb.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	scale = float64(width) / float64(opts.LevelWidth)

	lineColor := color.RGBA{255, 0, 0, 255}
	if rgb, err := ParseColor(opts.Color); err == nil {
		lineColor = color.RGBA{quantize(rgb[0]), quantize(rgb[1]), quantize(rgb[2]), 255}
	}

	result = image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(result, result.Bounds(), thumb, bounds.Min, draw.Src)

	tilesX = (opts.LevelWidth + opts.TileSize - 1) / opts.TileSize
	tilesY = (opts.LevelHeight + opts.TileSize - 1) / opts.TileSize

	// Vertical lines
	for tx := 1; tx < tilesX; tx++ {
		x := int(float64(tx*opts.TileSize) * scale)
		for y := 0; y < height; y++ {
			result.SetRGBA(x, y, lineColor)
		}
	}

	// Horizontal lines
	for ty := 1; ty < tilesY; ty++ {
		y := int(float64(ty*opts.TileSize) * scale)
		for x := 0; x < width; x++ {
			result.SetRGBA(x, y, lineColor)
		}
	}

	if opts.ShowCoordinates {
		labelColor := color.RGBA{255, 255, 255, 255}
		bgColor := color.RGBA{0, 0, 0, 180}
		for ty := 0; ty < tilesY; ty++ {
			for tx := 0; tx < tilesX; tx++ {
				x := int(float64(tx*opts.TileSize)*scale) + 2
				y := int(float64(ty*opts.TileSize)*scale) + 2
				drawLabel(result, x, y, fmt.Sprintf("%d,%d", tx, ty), labelColor, bgColor)
			}
		}
	}

	return result, tilesX, tilesY, scale
}

func quantize(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

// drawLabel draws a label in a 3x5 pixel digit font. Runes without a glyph
// leave a gap.
func drawLabel(img *image.RGBA, x, y int, text string, fg, bg color.RGBA) {
	glyphs := map[rune][]string{
		'0': {"111", "101", "101", "101", "111"},
		'1': {"010", "110", "010", "010", "111"},
		'2': {"111", "001", "111", "100", "111"},
		'3': {"111", "001", "111", "001", "111"},
		'4': {"101", "101", "111", "001", "001"},
		'5': {"111", "100", "111", "001", "111"},
		'6': {"111", "100", "111", "101", "111"},
		'7': {"111", "001", "001", "001", "001"},
		'8': {"111", "101", "111", "101", "111"},
		'9': {"111", "101", "111", "001", "111"},
		',': {"000", "000", "000", "010", "010"},
	}

	bounds := img.Bounds()
	const charWidth, labelHeight = 4, 7
	labelWidth := len(text) * charWidth

	inside := func(px, py int) bool {
		return image.Pt(px, py).In(bounds)
	}

	for dy := -1; dy < labelHeight; dy++ {
		for dx := -1; dx < labelWidth; dx++ {
			if px, py := x+dx, y+dy; inside(px, py) {
				img.SetRGBA(px, py, bg)
			}
		}
	}

	cx := x
	for _, ch := range text {
		for row, line := range glyphs[ch] {
			for col, pixel := range line {
				if px, py := cx+col, y+row; pixel == '1' && inside(px, py) {
					img.SetRGBA(px, py, fg)
				}
			}
		}
		cx += charWidth
	}
}
