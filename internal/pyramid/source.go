package pyramid

import (
	"errors"
	"image"
)

// Sentinel errors shared by sources, the compositor and the renderer.
var (
	ErrUnsupportedFormat = errors.New("pyramid: unsupported source format")
	ErrLevelOutOfRange   = errors.New("pyramid: level out of range")
	ErrTileOutOfRange    = errors.New("pyramid: tile out of range")
	ErrChannelOutOfRange = errors.New("pyramid: channel out of range")
	ErrInvalidTileSize   = errors.New("pyramid: tile size must be positive")
	ErrEmptyGroup        = errors.New("pyramid: group has no channels")
)

// Source is an opened, read-only pyramidal image.
//
// Implementations must tolerate concurrent calls to FetchTile; the renderer
// fetches tiles from several goroutines when configured with more than one
// worker.
type Source interface {
	// Info returns the open-time description.
	Info() Info

	// Shape returns channel count, visible level count and level 0 size.
	Shape() Shape

	// LevelSize returns the pixel size of a visible level.
	LevelSize(level int) (width, height int, err error)

	// LevelTiles returns the tile grid of a level for the given tile edge.
	LevelTiles(level, edge int) (nx, ny int, err error)

	// FetchTile returns the raw samples of one channel at a tile address.
	// An edge of zero requests the native tile size. A nil tile with a nil
	// error means no tile was produced for the address.
	FetchTile(level, channel, tx, ty, edge int) (*Tile, error)

	// Warning returns the source-level warning recorded during fetches,
	// or "" when nothing degraded.
	Warning() string

	Close() error
}

// RGBFetcher is implemented by sources that natively produce RGB tiles,
// avoiding three single-channel fetches.
type RGBFetcher interface {
	FetchRGB(level, tx, ty, edge int) (image.Image, error)
}

// CheckAddress validates a tile address against a source.
func CheckAddress(src Source, level, tx, ty, edge int) error {
	nx, ny, err := src.LevelTiles(level, edge)
	if err != nil {
		return err
	}
	if tx < 0 || ty < 0 || tx >= nx || ty >= ny {
		return ErrTileOutOfRange
	}
	return nil
}
