// Package server implements the MCP (Model Context Protocol) server for
// inspecting and rendering tile pyramids.
//
// The server lets an MCP client look at a pyramidal image the way the
// renderer will see it: how it was classified, how its levels tile, what a
// channel group looks like with its colors and ranges applied, and finally
// render the whole exhibit.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Source Inspection:
//   - pyramid_info: Backend, classification, shape and level sizes
//   - pyramid_tile_grid: Tiles per level and total render work
//   - pyramid_group_paths: Output directories for a save file's groups
//
// Rendering Previews:
//   - pyramid_preview_tile: One composed tile as JPEG, with dominant colors
//   - pyramid_grid_overlay: A whole level with tile boundaries drawn
//
// Analysis:
//   - pyramid_channel_stats: Intensity statistics and suggested ranges
//
// Output:
//   - pyramid_render: Render every tile and write exhibit.json
//
// Preview tools take a channel group from a save file (config + group) or
// inline channels. Channels without a range get one from channel
// statistics, so a bare channel index already previews sensibly.
//
// # Source Caching
//
// Opened sources are cached by path for the lifetime of Serve and closed
// when it returns. Whole-slide sources are cached at their default tile
// edge; a render at another edge opens a separate copy.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: Additional error details (typically the Go error string)
//
// Per-tile failures during pyramid_render do not fail the call; they are
// listed in the returned report.
//
// # Usage
//
//	srv := server.New(logger)
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
