package render

import (
	"context"
	"errors"
	"image/jpeg"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/ironsheep/tile-pyramid/internal/layout"
	"github.com/ironsheep/tile-pyramid/internal/pyramid"
	"github.com/ironsheep/tile-pyramid/internal/pyramid/pyramidtest"
)

// newSource builds a three-level, two-channel source: 300x200, 150x100,
// 75x50. With 128 pixel tiles the grids are 3x2, 2x1 and 1x1.
func newSource() *pyramidtest.Source {
	return pyramidtest.New(2, pyramid.Uint16, func(level, channel, x, y int) uint16 {
		return uint16((x + y) * 100 * (channel + 1))
	}, [2]int{300, 200}, [2]int{150, 100}, [2]int{75, 50})
}

func newGroups() []pyramid.GroupSpec {
	groups := []pyramid.GroupSpec{
		{Label: "DNA", Channels: []pyramid.ChannelSpec{{Index: 0, Label: "Hoechst", Color: [3]float64{0, 0, 1}, High: 65535}}},
		{Label: "Both", Channels: []pyramid.ChannelSpec{
			{Index: 0, Label: "Hoechst", Color: [3]float64{0, 0, 1}, High: 65535},
			{Index: 1, Label: "CD3", Color: [3]float64{1, 0, 0}, Low: 100, High: 20000},
		}},
	}
	layout.Apply(groups)
	return groups
}

func listTiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read %s: %v", dir, err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestRender(t *testing.T) {
	root := t.TempDir()
	src := newSource()
	groups := newGroups()

	var calls [][2]int
	report, err := Render(context.Background(), src, groups, Options{
		TileSize:   128,
		OutputRoot: root,
		Progress: func(completed, total int) {
			calls = append(calls, [2]int{completed, total})
		},
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	if report.Total != 9*2 || report.Completed != 18 || report.Written != 18 {
		t.Errorf("report: got %+v, want 18/18/18", report)
	}
	if len(report.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", report.Warnings)
	}
	if len(calls) != 18 {
		t.Fatalf("progress called %d times, want 18", len(calls))
	}
	for i, c := range calls {
		if c[0] != i+1 || c[1] != 18 {
			t.Errorf("progress call %d: got %v", i, c)
		}
	}

	want := []string{"0_0_0.jpg", "0_0_1.jpg", "0_1_0.jpg", "0_1_1.jpg", "0_2_0.jpg", "0_2_1.jpg", "1_0_0.jpg", "1_1_0.jpg", "2_0_0.jpg"}
	for _, g := range groups {
		got := listTiles(t, filepath.Join(root, g.Path))
		if len(got) != len(want) {
			t.Fatalf("group %s: got %v, want %v", g.Path, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("group %s tile %d: got %s, want %s", g.Path, i, got[i], want[i])
			}
		}
	}

	f, err := os.Open(filepath.Join(root, groups[1].Path, "0_2_1.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := jpeg.Decode(f)
	if err != nil {
		t.Fatalf("tile is not a JPEG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 44 || b.Dy() != 72 {
		t.Errorf("edge tile size: got %dx%d, want 44x72", b.Dx(), b.Dy())
	}
}

func TestRender_Parallel(t *testing.T) {
	root := t.TempDir()
	src := newSource()
	groups := newGroups()

	var mu sync.Mutex
	last := 0
	report, err := Render(context.Background(), src, groups, Options{
		TileSize:   64,
		OutputRoot: root,
		Workers:    4,
		Progress: func(completed, total int) {
			mu.Lock()
			defer mu.Unlock()
			if completed != last+1 {
				t.Errorf("progress jumped from %d to %d", last, completed)
			}
			last = completed
		},
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	// 64 pixel tiles: 5x4 + 3x2 + 2x1 = 28 tiles per group.
	if report.Total != 56 || report.Written != 56 || last != 56 {
		t.Errorf("report: got %+v, last progress %d", report, last)
	}
	for _, g := range groups {
		if n := len(listTiles(t, filepath.Join(root, g.Path))); n != 28 {
			t.Errorf("group %s: %d tiles, want 28", g.Path, n)
		}
	}
}

func TestRender_FaultInjection(t *testing.T) {
	root := t.TempDir()
	src := newSource()
	groups := newGroups()
	// Channel 1 is only used by the second group.
	src.Fail(0, 1, 1, 0)

	report, err := Render(context.Background(), src, groups, Options{TileSize: 128, OutputRoot: root})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if report.Total != 18 || report.Completed != 18 || report.Written != 17 {
		t.Errorf("report: got total %d completed %d written %d", report.Total, report.Completed, report.Written)
	}
	if len(report.Warnings) != 1 {
		t.Fatalf("warnings: got %v, want one", report.Warnings)
	}
	w := report.Warnings[0]
	if w.Level != 0 || w.X != 1 || w.Y != 0 || w.Group != groups[1].Path {
		t.Errorf("warning: got %+v", w)
	}

	if _, err := os.Stat(filepath.Join(root, groups[0].Path, "0_1_0.jpg")); err != nil {
		t.Errorf("other group missing the failed address: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, groups[1].Path, "0_1_0.jpg")); !os.IsNotExist(err) {
		t.Errorf("failed tile exists: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, groups[1].Path, "0_2_0.jpg")); err != nil {
		t.Errorf("same group missing a later tile: %v", err)
	}
}

// nilSource returns no tile for level 1.
type nilSource struct {
	*pyramidtest.Source
}

func (s nilSource) FetchTile(level, channel, tx, ty, edge int) (*pyramid.Tile, error) {
	if level == 1 {
		return nil, nil
	}
	return s.Source.FetchTile(level, channel, tx, ty, edge)
}

func TestRender_NoTile(t *testing.T) {
	groups := newGroups()[:1]
	report, err := Render(context.Background(), nilSource{newSource()}, groups, Options{TileSize: 128, OutputRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if len(report.Warnings) != 2 {
		t.Fatalf("warnings: got %v, want two", report.Warnings)
	}
	for _, w := range report.Warnings {
		if w.Level != 1 || w.Message != "no tile produced" {
			t.Errorf("warning: got %+v", w)
		}
	}
}

func TestRender_Validation(t *testing.T) {
	src := newSource()
	root := t.TempDir()

	bad := newGroups()
	bad[0].Channels[0].Index = 2
	if _, err := Render(context.Background(), src, bad, Options{OutputRoot: root}); !errors.Is(err, pyramid.ErrChannelOutOfRange) {
		t.Errorf("out of range channel: got %v", err)
	}

	empty := []pyramid.GroupSpec{{Label: "x", Path: "x"}}
	if _, err := Render(context.Background(), src, empty, Options{OutputRoot: root}); !errors.Is(err, pyramid.ErrEmptyGroup) {
		t.Errorf("empty group: got %v", err)
	}

	if _, err := Render(context.Background(), src, newGroups(), Options{OutputRoot: filepath.Join(root, "missing")}); !errors.Is(err, ErrOutputRoot) {
		t.Errorf("missing root: got %v", err)
	}

	noPath := newGroups()
	noPath[0].Path = ""
	if _, err := Render(context.Background(), src, noPath, Options{OutputRoot: root}); err == nil {
		t.Error("expected error for group without path")
	}

	if entries, _ := os.ReadDir(root); len(entries) != 0 {
		t.Errorf("validation failures wrote output: %d entries", len(entries))
	}
	if src.Fetches() != 0 {
		t.Errorf("validation failures fetched %d tiles", src.Fetches())
	}
}

func TestRender_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	count := 0
	report, err := Render(ctx, newSource(), newGroups(), Options{
		TileSize:   128,
		OutputRoot: t.TempDir(),
		Progress: func(completed, total int) {
			count = completed
			if completed == 5 {
				cancel()
			}
		},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if count != 5 || report.Completed != 5 {
		t.Errorf("completed: progress %d report %d, want 5", count, report.Completed)
	}
}

func TestPrepareOutput(t *testing.T) {
	root := t.TempDir()

	fresh := filepath.Join(root, "a", "b")
	if err := PrepareOutput(fresh, false, nil); err != nil {
		t.Fatalf("new directory: %v", err)
	}
	if st, err := os.Stat(fresh); err != nil || !st.IsDir() {
		t.Fatalf("directory not created: %v", err)
	}

	if err := PrepareOutput(fresh, false, nil); !errors.Is(err, ErrOutputExists) {
		t.Errorf("existing without force: got %v, want ErrOutputExists", err)
	}
	if err := PrepareOutput(fresh, true, nil); err != nil {
		t.Errorf("existing with force: %v", err)
	}

	file := filepath.Join(root, "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := PrepareOutput(file, true, nil); !errors.Is(err, ErrOutputRoot) {
		t.Errorf("regular file: got %v, want ErrOutputRoot", err)
	}
}

func TestMosaic(t *testing.T) {
	src := newSource()
	g := newGroups()[0]
	src.Fail(1, 0, 1, 0)

	img, warnings, err := Mosaic(src, g, 1, 64)
	if err != nil {
		t.Fatalf("Mosaic failed: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 150 || b.Dy() != 100 {
		t.Errorf("size: got %dx%d, want 150x100", b.Dx(), b.Dy())
	}
	if len(warnings) != 1 || warnings[0].X != 1 || warnings[0].Y != 0 {
		t.Fatalf("warnings: got %v", warnings)
	}

	// Channel 0 at (149,99) is (149+99)*100 = 24800 of 65535 in blue.
	if c := img.RGBAAt(149, 99); c.B == 0 || c.R != 0 || c.A != 0xff {
		t.Errorf("rendered pixel: got %v", c)
	}
	// The failed tile stays black.
	if c := img.RGBAAt(100, 10); c.R != 0 || c.G != 0 || c.B != 0 || c.A != 0xff {
		t.Errorf("failed tile pixel: got %v, want opaque black", c)
	}

	if _, _, err := Mosaic(src, g, 3, 64); !errors.Is(err, pyramid.ErrLevelOutOfRange) {
		t.Errorf("bad level: got %v", err)
	}
}
