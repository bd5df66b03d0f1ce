// Package config reads Minerva Author save files and writes the
// exhibit.json that the viewer loads next to the rendered tiles.
//
// A save file carries the channel groups (with per-channel color and
// normalized intensity range), the sample description and the story
// waypoints. RenderGroups converts the channel groups into render groups with
// their output paths assigned; Exhibit describes those same paths to the
// viewer, so the two must always be built from the same group list.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ironsheep/tile-pyramid/internal/imaging"
	"github.com/ironsheep/tile-pyramid/internal/layout"
	"github.com/ironsheep/tile-pyramid/internal/pyramid"
)

// ErrInvalidSave is returned for save files that parse as JSON but lack
// required content.
var ErrInvalidSave = errors.New("config: invalid save file")

// maxIntensity converts the 0-1 ranges of a save file to 16-bit units.
const maxIntensity = 65535

// Save is a Minerva Author save file.
type Save struct {
	Groups     []SaveGroup `json:"groups"`
	SampleInfo SampleInfo  `json:"sample_info"`
	Waypoints  []Waypoint  `json:"waypoints"`
	Masks      []SaveMask  `json:"masks,omitempty"`

	// Paths controls how labels become output directories. It is not
	// part of the file.
	Paths layout.Options `json:"-"`
}

// SaveGroup is one channel group as edited in the author tool.
type SaveGroup struct {
	Label    string        `json:"label"`
	Channels []SaveChannel `json:"channels"`
}

// SaveChannel is one channel of a group. Min and Max are fractions of the
// 16-bit intensity range; Color is hex without the leading "#".
type SaveChannel struct {
	ID    int     `json:"id"`
	Label string  `json:"label"`
	Color string  `json:"color"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// SaveMask is a labeled segmentation mask stored as one source channel.
type SaveMask struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
	Color string `json:"color"`
}

// SampleInfo describes the imaged sample.
type SampleInfo struct {
	Name     string  `json:"name"`
	Text     string  `json:"text"`
	Rotation float64 `json:"rotation"`
}

// Waypoint is one stop of the narrated story.
type Waypoint struct {
	Name     string      `json:"name"`
	Text     string      `json:"text"`
	Group    string      `json:"group"`
	Zoom     float64     `json:"zoom"`
	Pan      []float64   `json:"pan"`
	Arrows   []Arrow     `json:"arrows"`
	Overlays [][]float64 `json:"overlays"`
}

// Arrow points at a location within a waypoint.
type Arrow struct {
	Text     string    `json:"text"`
	Hide     bool      `json:"hide"`
	Position []float64 `json:"position"`
	Angle    Angle     `json:"angle"`
}

// DefaultArrowAngle is used for arrows saved without an angle.
const DefaultArrowAngle = 60

// Angle is an arrow angle in degrees. The author tool writes "" for arrows
// whose angle was never set; those decode as DefaultArrowAngle.
type Angle float64

// UnmarshalJSON accepts a number, a numeric string or "".
func (a *Angle) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*a = Angle(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("arrow angle: %w", err)
	}
	if s == "" {
		*a = DefaultArrowAngle
		return nil
	}
	if err := json.Unmarshal([]byte(s), &n); err != nil {
		return fmt.Errorf("arrow angle %q: %w", s, err)
	}
	*a = Angle(n)
	return nil
}

// Load reads and validates a save file.
func Load(path string) (*Save, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read save file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates save file content.
func Parse(data []byte) (*Save, error) {
	var s Save
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse save file: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the fields a render depends on. Channel indices are
// checked against the source later, when its channel count is known.
func (s *Save) Validate() error {
	if s.Groups == nil {
		return fmt.Errorf("%w: missing groups", ErrInvalidSave)
	}
	for gi, g := range s.Groups {
		if len(g.Channels) == 0 {
			return fmt.Errorf("%w: group %d %q has no channels", ErrInvalidSave, gi, g.Label)
		}
		for ci, c := range g.Channels {
			if _, err := imaging.ParseColor(c.Color); err != nil {
				return fmt.Errorf("%w: group %q channel %d: %v", ErrInvalidSave, g.Label, ci, err)
			}
			if c.Min > c.Max {
				return fmt.Errorf("%w: group %q channel %d: min %v above max %v",
					ErrInvalidSave, g.Label, ci, c.Min, c.Max)
			}
		}
	}
	for mi, m := range s.Masks {
		if _, err := imaging.ParseColor(m.Color); err != nil {
			return fmt.Errorf("%w: mask %d %q: %v", ErrInvalidSave, mi, m.Label, err)
		}
	}
	for wi, w := range s.Waypoints {
		for oi, o := range w.Overlays {
			if len(o) != 4 {
				return fmt.Errorf("%w: waypoint %d overlay %d has %d values, want 4",
					ErrInvalidSave, wi, oi, len(o))
			}
		}
	}
	return nil
}

// RenderGroups converts the save file into render groups with unique output
// paths. Color groups come first in save order, followed by one mask group
// per mask.
func (s *Save) RenderGroups() []pyramid.GroupSpec {
	groups := make([]pyramid.GroupSpec, 0, len(s.Groups)+len(s.Masks))
	for _, g := range s.Groups {
		spec := pyramid.GroupSpec{Label: g.Label}
		for _, c := range g.Channels {
			rgb, _ := imaging.ParseColor(c.Color)
			spec.Channels = append(spec.Channels, pyramid.ChannelSpec{
				Index: c.ID,
				Label: c.Label,
				Color: rgb,
				Low:   float64(int(maxIntensity * c.Min)),
				High:  float64(int(maxIntensity * c.Max)),
			})
		}
		groups = append(groups, spec)
	}
	for _, m := range s.Masks {
		rgb, _ := imaging.ParseColor(m.Color)
		groups = append(groups, pyramid.GroupSpec{
			Label:    m.Label,
			Mask:     true,
			Channels: []pyramid.ChannelSpec{{Index: m.ID, Label: m.Label, Color: rgb}},
		})
	}
	s.Paths.Apply(groups)
	return groups
}
