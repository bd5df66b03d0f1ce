package zarr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ironsheep/tile-pyramid/internal/pyramid"
)

// ErrNoLevels is returned when a directory holds no readable arrays.
var ErrNoLevels = errors.New("zarr: store has no resolution levels")

// Store is a multiscale image: one array per resolution level, level 0 at
// full resolution.
type Store struct {
	Path   string
	Levels []*Array

	// Axes names the array dimensions, outermost first.
	Axes []string

	// ChannelAxis is the index of the channel dimension, or -1 when the
	// arrays are single 2-D planes.
	ChannelAxis int
}

type multiscalesAttrs struct {
	Multiscales []struct {
		Axes     []json.RawMessage `json:"axes"`
		Datasets []struct {
			Path string `json:"path"`
		} `json:"datasets"`
	} `json:"multiscales"`
	Layout *int `json:"bioformats2raw.layout"`
}

// IsStore reports whether path looks like a Zarr directory.
func IsStore(path string) bool {
	for _, name := range []string{".zgroup", ".zattrs", ".zarray"} {
		if _, err := os.Stat(filepath.Join(path, name)); err == nil {
			return true
		}
	}
	return false
}

// Open opens a multiscale store rooted at path.
//
// Level paths come from the OME-NGFF "multiscales" attribute when present.
// A bioformats2raw layout is followed into its first image. Without
// metadata the store may be a single array, or numbered sub-arrays 0, 1, 2…
func Open(path string) (*Store, error) {
	attrs, err := readAttrs(path)
	if err != nil {
		return nil, err
	}

	if attrs.Layout != nil && len(attrs.Multiscales) == 0 {
		return Open(filepath.Join(path, "0"))
	}

	s := &Store{Path: path}
	var levelPaths []string
	if len(attrs.Multiscales) > 0 {
		ms := attrs.Multiscales[0]
		for _, ds := range ms.Datasets {
			levelPaths = append(levelPaths, ds.Path)
		}
		s.Axes = parseAxes(ms.Axes)
	}

	switch {
	case len(levelPaths) > 0:
		for _, p := range levelPaths {
			a, err := OpenArray(filepath.Join(path, filepath.FromSlash(p)))
			if err != nil {
				return nil, fmt.Errorf("level %s: %w", p, err)
			}
			s.Levels = append(s.Levels, a)
		}
	default:
		if a, err := OpenArray(path); err == nil {
			s.Levels = append(s.Levels, a)
			break
		} else if !errors.Is(err, ErrNotArray) {
			return nil, err
		}
		for i := 0; ; i++ {
			a, err := OpenArray(filepath.Join(path, strconv.Itoa(i)))
			if errors.Is(err, ErrNotArray) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("level %d: %w", i, err)
			}
			s.Levels = append(s.Levels, a)
		}
	}

	if len(s.Levels) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoLevels, path)
	}
	if err := s.resolveAxes(); err != nil {
		return nil, err
	}
	return s, nil
}

func readAttrs(path string) (multiscalesAttrs, error) {
	var attrs multiscalesAttrs
	data, err := os.ReadFile(filepath.Join(path, ".zattrs"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return attrs, nil
		}
		return attrs, fmt.Errorf("failed to read attributes: %w", err)
	}
	if err := json.Unmarshal(data, &attrs); err != nil {
		return attrs, fmt.Errorf("failed to parse %s: %w", filepath.Join(path, ".zattrs"), err)
	}
	return attrs, nil
}

// parseAxes accepts both the v0.3 string form and the v0.4 object form.
func parseAxes(raw []json.RawMessage) []string {
	var names []string
	for _, r := range raw {
		var name string
		if err := json.Unmarshal(r, &name); err == nil {
			names = append(names, name)
			continue
		}
		var obj struct {
			Name string `json:"name"`
			Type string `json:"type"`
		}
		if err := json.Unmarshal(r, &obj); err == nil {
			if obj.Type == "channel" && obj.Name == "" {
				obj.Name = "c"
			}
			names = append(names, obj.Name)
		}
	}
	return names
}

func (s *Store) resolveAxes() error {
	nd := len(s.Levels[0].Shape())
	for i, a := range s.Levels {
		if len(a.Shape()) != nd {
			return fmt.Errorf("zarr: level %d has %d dimensions, level 0 has %d", i, len(a.Shape()), nd)
		}
	}

	s.ChannelAxis = -1
	if len(s.Axes) == nd {
		for i, name := range s.Axes {
			if name == "c" {
				s.ChannelAxis = i
			}
		}
		return nil
	}

	s.Axes = nil
	switch {
	case nd == 3:
		s.ChannelAxis = 0
	case nd >= 4:
		// czyx or tczyx
		s.ChannelAxis = nd - 4
	}
	return nil
}

// Channels returns the size of the channel axis, 1 for planar stores.
func (s *Store) Channels() int {
	if s.ChannelAxis < 0 {
		return 1
	}
	return s.Levels[0].Shape()[s.ChannelAxis]
}

// LevelSize returns the width and height of a level.
func (s *Store) LevelSize(level int) (width, height int) {
	shape := s.Levels[level].Shape()
	return shape[len(shape)-1], shape[len(shape)-2]
}

// NativeTileSize returns the larger spatial chunk edge of level 0, or 0
// when the store declares no chunking.
func (s *Store) NativeTileSize() int {
	a := s.Levels[0]
	if a.Unchunked() {
		return 0
	}
	c := a.Chunks()
	return max(c[len(c)-1], c[len(c)-2])
}

// Selection builds the read ranges for one channel of a spatial window.
// Non-spatial, non-channel axes (time, z) select index 0.
func (s *Store) Selection(channel, x0, y0, x1, y1 int) []Range {
	nd := len(s.Levels[0].Shape())
	sel := make([]Range, nd)
	for d := range sel {
		switch {
		case d == nd-1:
			sel[d] = Range{x0, x1}
		case d == nd-2:
			sel[d] = Range{y0, y1}
		case d == s.ChannelAxis:
			sel[d] = Range{channel, channel + 1}
		default:
			sel[d] = Range{0, 1}
		}
	}
	return sel
}

// LevelCount returns the number of resolution levels.
func (s *Store) LevelCount() int { return len(s.Levels) }

// SampleType returns the native sample width of level 0.
func (s *Store) SampleType() pyramid.SampleType { return s.Levels[0].SampleType() }

// ReadWindow reads one channel of the window [x0,x1)×[y0,y1) at a level.
// The window is clipped to the level.
func (s *Store) ReadWindow(level, channel, x0, y0, x1, y1 int) (*pyramid.Tile, error) {
	return s.Levels[level].Read(s.Selection(channel, x0, y0, x1, y1))
}

// Close is a no-op; chunk files are opened per read.
func (s *Store) Close() error { return nil }
