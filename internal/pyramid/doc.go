// Package pyramid defines the shared model for multi-resolution tile rendering.
//
// A pyramid is a multi-resolution image where level 0 is full resolution and
// each higher level index is a downsampled copy. Every level is cut into a grid
// of fixed-size square tiles addressed by (level, tile-x, tile-y).
//
// # Sources
//
// The Source interface hides the storage backend. Two backends exist:
//   - ChunkedArray: a chunked pyramidal array store (OME-Zarr directory)
//   - WholeSlide: a slide raster exposed through Deep Zoom level geometry
//
// Sources are classified once at open time (see Kind) so that callers can
// dispatch on the classification instead of re-inspecting tiles.
//
// # Tile Grid
//
// Grid arithmetic is pure: LevelTiles, TotalTiles and CoalescedLevelCount only
// read Source state and never fetch pixels.
//
// # Logging
//
// No package in this module owns a global logger. A *slog.Logger is threaded
// through options structs; Logger returns a silent logger when none was set.
package pyramid
