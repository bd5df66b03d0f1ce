// Package pyramidtest provides an in-memory pyramid.Source for tests.
package pyramidtest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ironsheep/tile-pyramid/internal/pyramid"
)

// ErrInjected is returned by FetchTile for addresses registered with Fail.
var ErrInjected = errors.New("pyramidtest: injected fetch failure")

// SampleFunc returns the native sample for a pixel of a channel at a level.
type SampleFunc func(level, channel, x, y int) uint16

// Source is an in-memory multi-level source. Level sizes are listed from
// full resolution down.
type Source struct {
	info     pyramid.Info
	channels int
	sizes    [][2]int
	sample   SampleFunc

	mu       sync.Mutex
	failures map[[4]int]bool
	fetches  int
}

// New builds a source with the given channel count, sample type and level
// sizes. A nil sample function yields zeros.
func New(channels int, t pyramid.SampleType, sample SampleFunc, sizes ...[2]int) *Source {
	kind := pyramid.Multiplex
	if t == pyramid.Uint8 && channels == 3 {
		kind = pyramid.TrueColorRGB
	} else if t == pyramid.Uint8 && channels == 1 {
		kind = pyramid.TrueColorGray
	}
	if sample == nil {
		sample = func(int, int, int, int) uint16 { return 0 }
	}
	return &Source{
		info: pyramid.Info{
			Path:           "memory",
			Backend:        pyramid.ChunkedArray,
			Kind:           kind,
			SampleType:     t,
			NativeTileSize: 256,
		},
		channels: channels,
		sizes:    sizes,
		sample:   sample,
		failures: make(map[[4]int]bool),
	}
}

// Fail makes FetchTile return ErrInjected for one channel at one address.
func (s *Source) Fail(level, channel, tx, ty int) {
	s.mu.Lock()
	s.failures[[4]int{level, channel, tx, ty}] = true
	s.mu.Unlock()
}

// Fetches reports how many FetchTile calls were made.
func (s *Source) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

func (s *Source) Info() pyramid.Info { return s.info }

func (s *Source) Shape() pyramid.Shape {
	return pyramid.Shape{
		Channels: s.channels,
		Levels:   len(s.sizes),
		Width:    s.sizes[0][0],
		Height:   s.sizes[0][1],
	}
}

func (s *Source) LevelSize(level int) (int, int, error) {
	if level < 0 || level >= len(s.sizes) {
		return 0, 0, pyramid.ErrLevelOutOfRange
	}
	return s.sizes[level][0], s.sizes[level][1], nil
}

func (s *Source) LevelTiles(level, edge int) (int, int, error) {
	w, h, err := s.LevelSize(level)
	if err != nil {
		return 0, 0, err
	}
	nx, ny := pyramid.LevelTiles(w, h, edge)
	return nx, ny, nil
}

func (s *Source) FetchTile(level, channel, tx, ty, edge int) (*pyramid.Tile, error) {
	s.mu.Lock()
	s.fetches++
	failed := s.failures[[4]int{level, channel, tx, ty}]
	s.mu.Unlock()
	if failed {
		return nil, fmt.Errorf("%w at level %d channel %d (%d,%d)", ErrInjected, level, channel, tx, ty)
	}
	if channel < 0 || channel >= s.channels {
		return nil, pyramid.ErrChannelOutOfRange
	}
	if edge == 0 {
		edge = s.info.NativeTileSize
	}
	if err := pyramid.CheckAddress(s, level, tx, ty, edge); err != nil {
		return nil, err
	}
	w, h, _ := s.LevelSize(level)
	x0, y0 := tx*edge, ty*edge
	tw, th := min(edge, w-x0), min(edge, h-y0)

	tile := pyramid.NewTile(s.info.SampleType, 1, th, tw)
	for y := 0; y < th; y++ {
		for x := 0; x < tw; x++ {
			tile.Samples[y*tw+x] = s.sample(level, channel, x0+x, y0+y)
		}
	}
	return tile, nil
}

func (s *Source) Warning() string { return "" }

func (s *Source) Close() error { return nil }
