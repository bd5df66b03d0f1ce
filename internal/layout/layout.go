// Package layout maps group and channel labels to filesystem-safe,
// collision-free output paths.
//
// Paths are a pure function of the ordered group list: the same groups in
// the same order always produce the same paths, so re-rendering a group
// overwrites its previous tiles instead of creating a sibling directory.
package layout

import (
	"path"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/ironsheep/tile-pyramid/internal/pyramid"
)

// Placeholder replaces labels that sanitize to nothing.
const Placeholder = "0"

// ChannelSeparator joins the per-channel parts of a group path.
const ChannelSeparator = "--"

var (
	unsafeChars = regexp.MustCompile(`[^0-9a-zA-Z _-]`)
	spaces      = regexp.MustCompile(`\s+`)
	hyphens     = regexp.MustCompile(`-+`)
)

// Options control how labels become path components.
type Options struct {
	// FoldDiacritics maps accented letters to their base letter before
	// unsafe characters are stripped, so "Zellkern ä" keeps its "a". It is
	// off by default: plain stripping gives the same directory names as
	// pyramids rendered by earlier tooling.
	FoldDiacritics bool
}

// Sanitize reduces a label to the characters [0-9a-zA-Z_-] using the
// default Options.
func Sanitize(label string) string {
	return Options{}.Sanitize(label)
}

// Sanitize strips every character outside [0-9a-zA-Z _-]. Runs of spaces
// become "-", as do underscores, and repeated hyphens collapse to one.
// A label with nothing left becomes Placeholder.
func (o Options) Sanitize(label string) string {
	if o.FoldDiacritics {
		label = foldDiacritics(label)
	}
	s := unsafeChars.ReplaceAllString(label, "")
	s = strings.TrimSpace(s)
	s = spaces.ReplaceAllString(s, "_")
	s = strings.ReplaceAll(s, "_", "-")
	s = hyphens.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return Placeholder
	}
	return s
}

func foldDiacritics(label string) string {
	folded, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), label)
	if err != nil {
		return label
	}
	return folded
}

// Dedupe returns names with collisions resolved in input order. The first
// occurrence keeps its name; later ones get "-N" inserted before the
// extension with N counting up from 0 until the name is unused.
func Dedupe(names []string) []string {
	used := make(map[string]bool, len(names))
	out := make([]string, len(names))
	for i, name := range names {
		unique := name
		ext := path.Ext(name)
		root := strings.TrimSuffix(name, ext)
		for n := 0; used[unique]; n++ {
			unique = root + "-" + strconv.Itoa(n) + ext
		}
		used[unique] = true
		out[i] = unique
	}
	return out
}

// GroupPath builds the directory name for a group from its sanitized label
// and its ordered channels.
func GroupPath(label string, channels []pyramid.ChannelSpec) string {
	return Options{}.GroupPath(label, channels)
}

// GroupPath is GroupPath with channel labels sanitized under o.
func (o Options) GroupPath(label string, channels []pyramid.ChannelSpec) string {
	parts := make([]string, len(channels))
	for i, ch := range channels {
		parts[i] = strconv.Itoa(ch.Index) + "__" + o.Sanitize(ch.Label)
	}
	return label + "_" + strings.Join(parts, ChannelSeparator)
}

// AssignPaths returns a unique path for every group, keyed by position in
// groups. Groups that share a label but differ in channels already get
// distinct paths from their channel parts; only exact repeats receive a
// numeric suffix.
func AssignPaths(groups []pyramid.GroupSpec) map[int]string {
	return Options{}.AssignPaths(groups)
}

// AssignPaths is AssignPaths with labels sanitized under o.
func (o Options) AssignPaths(groups []pyramid.GroupSpec) map[int]string {
	paths := make([]string, len(groups))
	for i, g := range groups {
		paths[i] = o.GroupPath(o.Sanitize(g.Label), g.Channels)
	}
	paths = Dedupe(paths)

	out := make(map[int]string, len(groups))
	for i, p := range paths {
		out[i] = p
	}
	return out
}

// Apply sets Path on every group in place using AssignPaths.
func Apply(groups []pyramid.GroupSpec) {
	Options{}.Apply(groups)
}

// Apply sets Path on every group in place using o.AssignPaths.
func (o Options) Apply(groups []pyramid.GroupSpec) {
	paths := o.AssignPaths(groups)
	for i := range groups {
		groups[i].Path = paths[i]
	}
}
