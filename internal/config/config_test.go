package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ironsheep/tile-pyramid/internal/pyramid"
)

const sampleSave = `{
  "groups": [
    {
      "label": "Structural Components",
      "channels": [
        {"id": 0, "label": "DNA", "color": "0000ff", "min": 0.01, "max": 0.5},
        {"id": 3, "label": "Keratin", "color": "FFFFFF", "min": 0.0, "max": 1.0}
      ]
    },
    {
      "label": "Structural Components",
      "channels": [
        {"id": 5, "label": "CD45", "color": "#00ff00", "min": 0.1, "max": 0.2}
      ]
    }
  ],
  "masks": [
    {"id": 7, "label": "Cell outlines", "color": "ff0000"}
  ],
  "sample_info": {"name": "Tonsil", "text": "Zellkern – Übersicht", "rotation": 90},
  "waypoints": [
    {
      "name": "Overview",
      "text": "Start here",
      "group": "Structural Components",
      "zoom": 0.5,
      "pan": [0.5, 0.5],
      "arrows": [
        {"text": "germinal center", "hide": false, "position": [0.2, 0.3], "angle": ""},
        {"text": "", "hide": true, "position": [0.6, 0.6], "angle": 120}
      ],
      "overlays": [[0.1, 0.2, 0.3, 0.4]]
    }
  ]
}`

func writeSave(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "author.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write save file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	s, err := Load(writeSave(t, sampleSave))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(s.Groups) != 2 || len(s.Masks) != 1 || len(s.Waypoints) != 1 {
		t.Fatalf("got %d groups, %d masks, %d waypoints", len(s.Groups), len(s.Masks), len(s.Waypoints))
	}
	arrows := s.Waypoints[0].Arrows
	if arrows[0].Angle != DefaultArrowAngle {
		t.Errorf("empty angle: got %v, want %v", arrows[0].Angle, DefaultArrowAngle)
	}
	if arrows[1].Angle != 120 {
		t.Errorf("angle: got %v, want 120", arrows[1].Angle)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "none.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		isSave  bool
	}{
		{"not json", `{"groups": [`, false},
		{"no groups", `{"sample_info": {"name": "x"}}`, true},
		{"empty group", `{"groups": [{"label": "a", "channels": []}]}`, true},
		{"bad color", `{"groups": [{"label": "a", "channels": [{"id": 0, "color": "blue", "min": 0, "max": 1}]}]}`, true},
		{"min above max", `{"groups": [{"label": "a", "channels": [{"id": 0, "color": "0000ff", "min": 0.8, "max": 0.2}]}]}`, true},
		{"bad mask color", `{"groups": [], "masks": [{"id": 1, "label": "m", "color": ""}]}`, true},
		{"short overlay", `{"groups": [], "waypoints": [{"overlays": [[1, 2, 3]]}]}`, true},
		{"bad angle", `{"groups": [], "waypoints": [{"arrows": [{"angle": "steep"}]}]}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, ErrInvalidSave) != tt.isSave {
				t.Errorf("errors.Is(ErrInvalidSave) = %v, want %v: %v", !tt.isSave, tt.isSave, err)
			}
		})
	}
}

func TestGroups(t *testing.T) {
	s, err := Parse([]byte(sampleSave))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	groups := s.RenderGroups()
	if len(groups) != 3 {
		t.Fatalf("got %d groups, want 3", len(groups))
	}

	first := groups[0]
	if first.Path != "Structural-Components_0__DNA--3__Keratin" {
		t.Errorf("path: got %q", first.Path)
	}
	dna := first.Channels[0]
	if dna.Index != 0 || dna.Color[0] != 0 || dna.Color[1] != 0 || dna.Color[2] < 0.999 {
		t.Errorf("DNA channel: got %+v", dna)
	}
	if dna.Low != 655 || dna.High != 32767 {
		t.Errorf("DNA range: got [%v, %v], want [655, 32767]", dna.Low, dna.High)
	}
	if k := first.Channels[1]; k.Low != 0 || k.High != 65535 {
		t.Errorf("Keratin range: got [%v, %v]", k.Low, k.High)
	}

	// Same label, different channels: distinct paths without a suffix.
	if groups[1].Path != "Structural-Components_5__CD45" {
		t.Errorf("second path: got %q", groups[1].Path)
	}

	mask := groups[2]
	if !mask.Mask || mask.Channels[0].Index != 7 || mask.Path != "Cell-outlines_7__Cell-outlines" {
		t.Errorf("mask group: got %+v", mask)
	}
}

func TestExhibit(t *testing.T) {
	s, err := Parse([]byte(sampleSave))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	groups := s.RenderGroups()
	ex := s.Exhibit(groups, pyramid.Shape{Channels: 8, Levels: 5, Width: 10000, Height: 8000}, "")

	img := ex.Images[0]
	if img.Name != "i0" || img.Path != "." || img.Width != 10000 || img.Height != 8000 || img.MaxLevel != 4 {
		t.Errorf("image: got %+v", img)
	}
	if ex.Header != "Zellkern – Übersicht" || ex.Rotation != 90 {
		t.Errorf("header/rotation: got %q %v", ex.Header, ex.Rotation)
	}
	if len(ex.Layout.Grid) != 1 || ex.Layout.Grid[0][0] != "i0" {
		t.Errorf("layout: got %v", ex.Layout.Grid)
	}

	if len(ex.Groups) != 2 || len(ex.Masks) != 1 {
		t.Fatalf("got %d groups and %d masks", len(ex.Groups), len(ex.Masks))
	}
	g := ex.Groups[0]
	if g.Path != groups[0].Path || g.Name != "Structural Components" {
		t.Errorf("group: got %+v", g)
	}
	if strings.Join(g.Colors, ",") != "0000ff,ffffff" || strings.Join(g.Channels, ",") != "DNA,Keratin" {
		t.Errorf("group colors/channels: got %v %v", g.Colors, g.Channels)
	}

	wp := ex.Stories[0].Waypoints[0]
	if wp.Name != "Overview" || wp.Description != "Start here" || wp.Zoom != 0.5 {
		t.Errorf("waypoint: got %+v", wp)
	}
	if wp.Arrows[0].Angle != 60 || !wp.Arrows[1].HideArrow {
		t.Errorf("arrows: got %+v", wp.Arrows)
	}
	if wp.Overlays[0] != (Overlay{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.4}) {
		t.Errorf("overlay: got %+v", wp.Overlays[0])
	}

	withURL := s.Exhibit(groups, pyramid.Shape{Levels: 1}, "https://example.org/tiles")
	if withURL.Images[0].Path != "https://example.org/tiles" {
		t.Errorf("root URL: got %q", withURL.Images[0].Path)
	}
}

func TestWriteExhibit(t *testing.T) {
	s, err := Parse([]byte(sampleSave))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	dir := t.TempDir()
	ex := s.Exhibit(s.RenderGroups(), pyramid.Shape{Levels: 3, Width: 100, Height: 100}, "")
	if err := WriteExhibit(dir, ex); err != nil {
		t.Fatalf("WriteExhibit failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, ExhibitFile))
	if err != nil {
		t.Fatalf("exhibit not written: %v", err)
	}
	if !strings.Contains(string(data), "Zellkern – Übersicht") {
		t.Error("non-ASCII header was escaped")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("exhibit is not JSON: %v", err)
	}
	for _, key := range []string{"Images", "Header", "Rotation", "Layout", "Stories", "Groups", "Masks"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %s", key)
		}
	}
}
