package pyramid

import (
	"fmt"
	"image"
)

// DefaultTileSize is the tile edge used when neither the caller nor the
// store provides one.
const DefaultTileSize = 1024

// Backend identifies the storage format behind a Source.
type Backend int

const (
	// ChunkedArray is a chunked pyramidal array store.
	ChunkedArray Backend = iota
	// WholeSlide is a slide raster exposed through Deep Zoom levels.
	WholeSlide
)

// MarshalText encodes the name for JSON output.
func (b Backend) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

func (b Backend) String() string {
	switch b {
	case ChunkedArray:
		return "chunked-array"
	case WholeSlide:
		return "whole-slide"
	default:
		return fmt.Sprintf("Backend(%d)", int(b))
	}
}

// Kind is the color classification of a source, computed once at open time.
type Kind int

const (
	// Multiplex sources carry N intensity channels that are pseudocolored.
	Multiplex Kind = iota
	// TrueColorRGB sources already hold 8-bit red, green and blue.
	TrueColorRGB
	// TrueColorGray sources hold a single 8-bit channel shown as gray.
	TrueColorGray
)

// MarshalText encodes the name for JSON output.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k Kind) String() string {
	switch k {
	case Multiplex:
		return "multiplex"
	case TrueColorRGB:
		return "truecolor-rgb"
	case TrueColorGray:
		return "truecolor-gray"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// SampleType is the native sample width of a source.
type SampleType int

const (
	// Uint8 samples hold 0-255.
	Uint8 SampleType = iota
	// Uint16 samples hold 0-65535.
	Uint16
)

// MarshalText encodes the name for JSON output.
func (t SampleType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t SampleType) String() string {
	switch t {
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	default:
		return fmt.Sprintf("SampleType(%d)", int(t))
	}
}

// Shape describes a source: channel count, visible level count and the
// full-resolution pixel size.
type Shape struct {
	Channels int `json:"channels"`
	Levels   int `json:"levels"`
	Width    int `json:"width"`
	Height   int `json:"height"`
}

// Info is the open-time description of a source.
type Info struct {
	Path       string     `json:"path"`
	Backend    Backend    `json:"backend"`
	Kind       Kind       `json:"kind"`
	SampleType SampleType `json:"sample_type"`

	// NativeTileSize is the tile edge of the underlying storage, resolved
	// once at open. Zero means the storage is not tiled.
	NativeTileSize int `json:"native_tile_size"`
}

// Tile holds raw samples fetched from a source.
//
// Samples are row-major over Shape. A fetch that selects one channel of a
// multi-channel array keeps the singleton channel dimension; the normalizer
// squeezes it. 8-bit sources store their values unscaled in Samples and set
// Type to Uint8.
type Tile struct {
	Shape   []int
	Type    SampleType
	Samples []uint16
}

// NewTile allocates a zeroed tile of the given type and shape.
func NewTile(t SampleType, shape ...int) *Tile {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Tile{
		Shape:   append([]int(nil), shape...),
		Type:    t,
		Samples: make([]uint16, n),
	}
}

// Width is the size of the last dimension.
func (t *Tile) Width() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[len(t.Shape)-1]
}

// Height is the size of the second-to-last dimension.
func (t *Tile) Height() int {
	if len(t.Shape) < 2 {
		return 1
	}
	return t.Shape[len(t.Shape)-2]
}

// Bounds returns the tile extent with the origin at (0,0).
func (t *Tile) Bounds() image.Rectangle {
	return image.Rect(0, 0, t.Width(), t.Height())
}

// ChannelSpec is one rendered channel within a group.
type ChannelSpec struct {
	// Index selects the source channel.
	Index int `json:"id"`

	// Label is the display name of the channel.
	Label string `json:"label"`

	// Color is the display color as RGB floats in 0-1.
	Color [3]float64 `json:"color"`

	// Low and High bound the normalization range in 16-bit units.
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// GroupSpec is a named output layer. Path is the unique output directory
// relative to the output root.
type GroupSpec struct {
	Label    string        `json:"label"`
	Channels []ChannelSpec `json:"channels"`
	Path     string        `json:"path"`

	// Mask groups are flat-filled with the first channel's color wherever
	// the sample is non-zero.
	Mask bool `json:"mask,omitempty"`
}

// TileAddress locates one tile in the pyramid.
type TileAddress struct {
	Level int
	X     int
	Y     int
	Edge  int
}

// Filename returns the viewer file name for the address, "{level}_{x}_{y}.jpg".
func (a TileAddress) Filename() string {
	return fmt.Sprintf("%d_%d_%d.jpg", a.Level, a.X, a.Y)
}

func (a TileAddress) String() string {
	return fmt.Sprintf("level %d tile (%d,%d)", a.Level, a.X, a.Y)
}

// TileWarning records a tile that was skipped during a render.
type TileWarning struct {
	Level   int    `json:"level"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Group   string `json:"group,omitempty"`
	Message string `json:"message"`
}

func (w TileWarning) String() string {
	if w.Group == "" {
		return fmt.Sprintf("level %d tile (%d,%d): %s", w.Level, w.X, w.Y, w.Message)
	}
	return fmt.Sprintf("level %d tile (%d,%d) group %s: %s", w.Level, w.X, w.Y, w.Group, w.Message)
}
