package imaging

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sort"
	"strings"

	"github.com/cenkalti/dominantcolor"
	"github.com/lucasb-eyer/go-colorful"
)

// ErrBadColor is returned for color strings that are not "#RRGGBB" or
// "RRGGBB".
var ErrBadColor = errors.New("imaging: invalid hex color")

// RGBColor represents an RGB color with 8-bit components.
type RGBColor struct {
	R uint8 `json:"r"` // Red component (0-255)
	G uint8 `json:"g"` // Green component (0-255)
	B uint8 `json:"b"` // Blue component (0-255)
}

// HSLColor represents a color in HSL (Hue, Saturation, Lightness) color space.
type HSLColor struct {
	H int `json:"h"` // Hue: 0-360 degrees (0=red, 120=green, 240=blue)
	S int `json:"s"` // Saturation: 0-100 percent (0=gray, 100=vivid)
	L int `json:"l"` // Lightness: 0-100 percent (0=black, 50=normal, 100=white)
}

// ColorResult contains a color value in multiple representations.
type ColorResult struct {
	Hex string   `json:"hex"` // Hex format "#RRGGBB"
	RGB RGBColor `json:"rgb"` // RGB components
	HSL HSLColor `json:"hsl"` // HSL representation
}

// ParseColor parses a hex color into an RGB float triple in 0-1.
//
// Both "#RRGGBB" and bare "RRGGBB" are accepted, in either case. Shorthand
// "#RGB" and alpha forms are rejected.
func ParseColor(hex string) ([3]float64, error) {
	s := strings.TrimSpace(hex)
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	if len(s) != 7 {
		return [3]float64{}, fmt.Errorf("%w: %q", ErrBadColor, hex)
	}
	c, err := colorful.Hex(strings.ToLower(s))
	if err != nil {
		return [3]float64{}, fmt.Errorf("%w: %q", ErrBadColor, hex)
	}
	return [3]float64{c.R, c.G, c.B}, nil
}

// FormatColor renders an RGB float triple as lower-case "#rrggbb",
// clamping out-of-range components.
func FormatColor(rgb [3]float64) string {
	return colorful.Color{R: rgb[0], G: rgb[1], B: rgb[2]}.Clamped().Hex()
}

// DescribeColor reports an RGB float triple in hex, 8-bit and HSL form.
func DescribeColor(rgb [3]float64) ColorResult {
	c := colorful.Color{R: rgb[0], G: rgb[1], B: rgb[2]}.Clamped()
	r, g, b := c.RGB255()
	h, s, l := c.Hsl()
	if math.IsNaN(h) {
		h = 0
	}
	return ColorResult{
		Hex: strings.ToUpper(c.Hex()),
		RGB: RGBColor{R: r, G: g, B: b},
		HSL: HSLColor{
			H: int(math.Round(h)) % 360,
			S: int(math.Round(s * 100)),
			L: int(math.Round(l * 100)),
		},
	}
}

// SampleColor reads the color of one pixel of a rendered tile.
//
// Coordinates are relative to the image origin. An error is returned for
// coordinates outside the image.
func SampleColor(img image.Image, x, y int) (*ColorResult, error) {
	b := img.Bounds()
	px, py := b.Min.X+x, b.Min.Y+y
	if x < 0 || y < 0 || px >= b.Max.X || py >= b.Max.Y {
		return nil, fmt.Errorf("coordinates (%d,%d) outside image bounds", x, y)
	}
	c, _ := colorful.MakeColor(img.At(px, py))
	res := DescribeColor([3]float64{c.R, c.G, c.B})
	return &res, nil
}

// ColorFrequency is one dominant color with its share of the image.
type ColorFrequency struct {
	Hex        string   `json:"hex"`
	RGB        RGBColor `json:"rgb"`
	Percentage float64  `json:"percentage"` // 0-100
}

// DominantColorsResult lists colors by share, largest first.
type DominantColorsResult struct {
	Colors []ColorFrequency `json:"colors"`
}

// DominantColors clusters the pixels of a rendered tile and returns up to
// count representative colors. It is a quick check that a channel group
// renders in the colors the author chose.
func DominantColors(img image.Image, count int) *DominantColorsResult {
	res := &DominantColorsResult{Colors: []ColorFrequency{}}
	if count <= 0 || img.Bounds().Empty() {
		return res
	}
	for _, c := range dominantcolor.FindWeight(img, count) {
		res.Colors = append(res.Colors, ColorFrequency{
			Hex:        dominantcolor.Hex(c.RGBA),
			RGB:        RGBColor{R: c.RGBA.R, G: c.RGBA.G, B: c.RGBA.B},
			Percentage: c.Weight * 100,
		})
	}
	sort.SliceStable(res.Colors, func(i, j int) bool {
		return res.Colors[i].Percentage > res.Colors[j].Percentage
	})
	return res
}
