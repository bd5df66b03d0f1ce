package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ironsheep/tile-pyramid/internal/imaging"
	"github.com/ironsheep/tile-pyramid/internal/pyramid"
)

// ExhibitFile is the name of the viewer configuration in the output root.
const ExhibitFile = "exhibit.json"

// imageName identifies the single image of an exhibit.
const imageName = "i0"

// Exhibit is the viewer configuration.
type Exhibit struct {
	Images   []ExhibitImage `json:"Images"`
	Header   string         `json:"Header"`
	Rotation float64        `json:"Rotation"`
	Layout   ExhibitLayout  `json:"Layout"`
	Stories  []Story        `json:"Stories"`
	Groups   []ExhibitGroup `json:"Groups"`
	Masks    []ExhibitGroup `json:"Masks"`
}

// ExhibitImage locates the rendered pyramid. MaxLevel is the index of the
// smallest level.
type ExhibitImage struct {
	Name        string `json:"Name"`
	Description string `json:"Description"`
	Path        string `json:"Path"`
	Width       int    `json:"Width"`
	Height      int    `json:"Height"`
	MaxLevel    int    `json:"MaxLevel"`
}

// ExhibitLayout arranges images in the viewer; one image fills a 1x1 grid.
type ExhibitLayout struct {
	Grid [][]string `json:"Grid"`
}

// Story is an ordered list of waypoints.
type Story struct {
	Name        string            `json:"Name"`
	Description string            `json:"Description"`
	Waypoints   []ExhibitWaypoint `json:"Waypoints"`
}

// ExhibitWaypoint is a Waypoint as the viewer reads it, with the group
// named by label and overlays expanded to rectangles.
type ExhibitWaypoint struct {
	Name        string         `json:"Name"`
	Description string         `json:"Description"`
	Arrows      []ExhibitArrow `json:"Arrows"`
	Overlays    []Overlay      `json:"Overlays"`
	Group       string         `json:"Group"`
	Masks       []string       `json:"Masks"`
	ActiveMasks []string       `json:"ActiveMasks"`
	Zoom        float64        `json:"Zoom"`
	Pan         []float64      `json:"Pan"`
}

// ExhibitArrow is an annotation arrow. Angle is in degrees.
type ExhibitArrow struct {
	Text      string    `json:"Text"`
	HideArrow bool      `json:"HideArrow"`
	Point     []float64 `json:"Point"`
	Angle     float64   `json:"Angle"`
}

// Overlay is a highlighted rectangle in image coordinates.
type Overlay struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ExhibitGroup tells the viewer where a group's tiles live and how to
// label it. Colors are hex without "#".
type ExhibitGroup struct {
	Name     string   `json:"Name"`
	Path     string   `json:"Path"`
	Colors   []string `json:"Colors"`
	Channels []string `json:"Channels"`
}

// Exhibit builds the viewer configuration for a rendered pyramid.
//
// groups must be the list returned by RenderGroups for the same save file, so
// the paths match the rendered directories. rootURL is where the viewer
// will find the tiles; empty means alongside exhibit.json.
func (s *Save) Exhibit(groups []pyramid.GroupSpec, shape pyramid.Shape, rootURL string) *Exhibit {
	if rootURL == "" {
		rootURL = "."
	}
	ex := &Exhibit{
		Images: []ExhibitImage{{
			Name:        imageName,
			Description: s.SampleInfo.Name,
			Path:        rootURL,
			Width:       shape.Width,
			Height:      shape.Height,
			MaxLevel:    shape.Levels - 1,
		}},
		Header:   s.SampleInfo.Text,
		Rotation: s.SampleInfo.Rotation,
		Layout:   ExhibitLayout{Grid: [][]string{{imageName}}},
		Stories: []Story{{
			Waypoints: make([]ExhibitWaypoint, 0, len(s.Waypoints)),
		}},
		Groups: []ExhibitGroup{},
		Masks:  []ExhibitGroup{},
	}

	for _, w := range s.Waypoints {
		ex.Stories[0].Waypoints = append(ex.Stories[0].Waypoints, exhibitWaypoint(w))
	}

	for _, g := range groups {
		eg := ExhibitGroup{Name: g.Label, Path: g.Path}
		for _, ch := range g.Channels {
			eg.Colors = append(eg.Colors, strings.TrimPrefix(imaging.FormatColor(ch.Color), "#"))
			eg.Channels = append(eg.Channels, ch.Label)
		}
		if g.Mask {
			ex.Masks = append(ex.Masks, eg)
		} else {
			ex.Groups = append(ex.Groups, eg)
		}
	}
	return ex
}

func exhibitWaypoint(w Waypoint) ExhibitWaypoint {
	ew := ExhibitWaypoint{
		Name:        w.Name,
		Description: w.Text,
		Arrows:      make([]ExhibitArrow, 0, len(w.Arrows)),
		Overlays:    make([]Overlay, 0, len(w.Overlays)),
		Group:       w.Group,
		Masks:       []string{},
		ActiveMasks: []string{},
		Zoom:        w.Zoom,
		Pan:         w.Pan,
	}
	for _, a := range w.Arrows {
		ew.Arrows = append(ew.Arrows, ExhibitArrow{
			Text:      a.Text,
			HideArrow: a.Hide,
			Point:     a.Position,
			Angle:     float64(a.Angle),
		})
	}
	for _, o := range w.Overlays {
		ew.Overlays = append(ew.Overlays, Overlay{X: o[0], Y: o[1], Width: o[2], Height: o[3]})
	}
	return ew
}

// WriteExhibit writes ex to dir/exhibit.json. Non-ASCII text is written
// as UTF-8, not escaped.
func WriteExhibit(dir string, ex *Exhibit) error {
	f, err := os.Create(filepath.Join(dir, ExhibitFile))
	if err != nil {
		return fmt.Errorf("failed to create exhibit: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ex); err != nil {
		f.Close()
		return fmt.Errorf("failed to write exhibit: %w", err)
	}
	return f.Close()
}
