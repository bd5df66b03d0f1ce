package source

import (
	"fmt"
	"sync"

	"github.com/ironsheep/tile-pyramid/internal/ometiff"
	"github.com/ironsheep/tile-pyramid/internal/pyramid"
	"github.com/ironsheep/tile-pyramid/internal/zarr"
)

// untiledPlaceholder is the edge of the black tile returned for stores that
// declare no tiling when the native tile size is requested.
const untiledPlaceholder = 1024

// tiledStore is the read model shared by the chunked backends: a stack of
// resolution levels with the same channels, read by pixel window.
type tiledStore interface {
	Channels() int
	LevelCount() int
	LevelSize(level int) (width, height int)
	NativeTileSize() int
	SampleType() pyramid.SampleType
	ReadWindow(level, channel, x0, y0, x1, y1 int) (*pyramid.Tile, error)
	Close() error
}

// Chunked adapts a chunked pyramidal store: a Zarr multiscale directory or
// a pyramidal OME-TIFF. Its state is fixed at open time apart from the
// source warning, which is written at most once.
type Chunked struct {
	store tiledStore
	info  pyramid.Info
	shape pyramid.Shape

	warnOnce sync.Once
	warnMu   sync.RWMutex
	warning  string
}

// OpenChunked opens a Zarr directory store.
func OpenChunked(path string) (*Chunked, error) {
	store, err := zarr.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open chunked store: %w", err)
	}
	return newChunked(path, store), nil
}

// OpenOMETIFF opens a pyramidal OME-TIFF file.
func OpenOMETIFF(path string) (*Chunked, error) {
	f, err := ometiff.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open OME-TIFF: %w", err)
	}
	return newChunked(path, f), nil
}

func newChunked(path string, store tiledStore) *Chunked {
	sample := store.SampleType()
	channels := store.Channels()
	w, h := store.LevelSize(0)

	return &Chunked{
		store: store,
		info: pyramid.Info{
			Path:           path,
			Backend:        pyramid.ChunkedArray,
			Kind:           classify(channels, sample),
			SampleType:     sample,
			NativeTileSize: store.NativeTileSize(),
		},
		shape: pyramid.Shape{
			Channels: channels,
			Levels:   store.LevelCount(),
			Width:    w,
			Height:   h,
		},
	}
}

// classify derives the color classification from channel count and
// sample type: 8-bit three channel and 8-bit single channel stores are
// true color; everything else is multiplex.
func classify(channels int, t pyramid.SampleType) pyramid.Kind {
	if t != pyramid.Uint8 {
		return pyramid.Multiplex
	}
	switch channels {
	case 3:
		return pyramid.TrueColorRGB
	case 1:
		return pyramid.TrueColorGray
	default:
		return pyramid.Multiplex
	}
}

// Info returns the classification and native tile size resolved at open.
func (c *Chunked) Info() pyramid.Info { return c.info }

// Shape returns the channel count, level count and level 0 size.
func (c *Chunked) Shape() pyramid.Shape { return c.shape }

// Close releases the underlying store.
func (c *Chunked) Close() error { return c.store.Close() }

// LevelSize returns the pixel size of a level.
func (c *Chunked) LevelSize(level int) (int, int, error) {
	if level < 0 || level >= c.shape.Levels {
		return 0, 0, fmt.Errorf("%w: %d", pyramid.ErrLevelOutOfRange, level)
	}
	w, h := c.store.LevelSize(level)
	return w, h, nil
}

// LevelTiles returns the tile grid of a level for an explicit edge.
func (c *Chunked) LevelTiles(level, edge int) (int, int, error) {
	if edge <= 0 {
		return 0, 0, pyramid.ErrInvalidTileSize
	}
	w, h, err := c.LevelSize(level)
	if err != nil {
		return 0, 0, err
	}
	nx, ny := pyramid.LevelTiles(w, h, edge)
	return nx, ny, nil
}

// FetchTile slices one channel of a tile window out of a level. An edge of
// zero uses the native chunk edge; when the store declares no tiling the
// result is an all-black placeholder and a source warning is recorded.
func (c *Chunked) FetchTile(level, channel, tx, ty, edge int) (*pyramid.Tile, error) {
	if channel < 0 || channel >= c.shape.Channels {
		return nil, fmt.Errorf("%w: %d of %d", pyramid.ErrChannelOutOfRange, channel, c.shape.Channels)
	}
	if edge == 0 {
		if c.info.NativeTileSize == 0 {
			c.warnOnce.Do(func() {
				c.warnMu.Lock()
				c.warning = fmt.Sprintf("Level %d is not tiled. It will show as all-black.", level)
				c.warnMu.Unlock()
			})
			return pyramid.NewTile(c.info.SampleType, untiledPlaceholder, untiledPlaceholder), nil
		}
		edge = c.info.NativeTileSize
	}
	if err := pyramid.CheckAddress(c, level, tx, ty, edge); err != nil {
		return nil, err
	}

	x0, y0 := tx*edge, ty*edge
	tile, err := c.store.ReadWindow(level, channel, x0, y0, x0+edge, y0+edge)
	if err != nil {
		return nil, fmt.Errorf("level %d channel %d tile (%d,%d): %w", level, channel, tx, ty, err)
	}
	return tile, nil
}

// Warning returns the degraded-mode message recorded by FetchTile, if any.
func (c *Chunked) Warning() string {
	c.warnMu.RLock()
	defer c.warnMu.RUnlock()
	return c.warning
}
