// Package imaging encodes finished tiles and builds inspection images for
// the MCP server.
//
// This package sits at the output end of the pipeline: it writes composed
// RGBA tiles as JPEG files, encodes preview tiles as base64 for tool
// responses, parses and formats channel display colors, and draws tile
// boundaries over level thumbnails.
//
// # Coordinate System
//
// All pixel coordinates are 0-based with the origin at the top-left corner:
//   - X: horizontal position (0 = leftmost pixel)
//   - Y: vertical position (0 = topmost pixel)
//   - Tile (tx, ty) covers [tx*edge, (tx+1)*edge) x [ty*edge, (ty+1)*edge)
//
// # Color Representation
//
// Channel colors are RGB float triples in 0-1, the form the compositor
// consumes. On the wire they are "#RRGGBB" hex strings. ColorResult reports
// a color in hex, 8-bit RGB and HSL.
//
// # JPEG Output
//
// Tiles are always written as baseline JPEG. JPEG has no alpha channel, so
// transparent mask pixels are written as black.
//
// # Thread Safety
//
// All functions are stateless and may be called concurrently. WriteJPEG
// writes through a temporary file in the target directory, so concurrent
// writers to distinct paths never observe partial files.
package imaging
