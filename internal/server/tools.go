package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// pathProperty is the source path argument shared by every tool.
var pathProperty = map[string]interface{}{
	"type":        "string",
	"description": "Absolute path to the pyramid source: an OME-Zarr directory, a pyramidal OME-TIFF or a raster file (TIFF, PNG, JPEG, BMP)",
}

var tileSizeProperty = map[string]interface{}{
	"type":        "integer",
	"description": "Tile edge in pixels. Default 1024",
	"default":     1024,
}

// channelsProperty describes an inline channel group.
var channelsProperty = map[string]interface{}{
	"type": "array",
	"items": map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"index": map[string]interface{}{"type": "integer", "description": "Source channel index"},
			"label": map[string]interface{}{"type": "string"},
			"color": map[string]interface{}{"type": "string", "description": "Hex color, e.g. \"#00FF00\""},
			"low":   map[string]interface{}{"type": "number", "description": "Range start in 16-bit units"},
			"high":  map[string]interface{}{"type": "number", "description": "Range end in 16-bit units. Omit to pick the range from channel statistics"},
		},
		"required": []string{"index"},
	},
	"description": "Channels to composite. Ignored when config is given",
}

var configProperty = map[string]interface{}{
	"type":        "string",
	"description": "Optional path to an author save file; its groups are used instead of inline channels",
}

var groupProperty = map[string]interface{}{
	"type":        "integer",
	"description": "Index of the group in the save file (color groups first, then masks). Default 0",
	"default":     0,
}

var foldProperty = map[string]interface{}{
	"type":        "boolean",
	"description": "Keep accented letters in output paths as their base letter instead of dropping them. Default false",
	"default":     false,
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Source Inspection
		{
			Name:        "pyramid_info",
			Description: "Open a pyramid source and report its backend, classification (multiplex, true-color RGB or gray), sample type, channel count, level sizes and any degraded-mode warning.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty,
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "pyramid_tile_grid",
			Description: "Compute the tile grid of every level for a tile size: tiles per level, total tiles, and total render work for a number of groups.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path":      pathProperty,
					"tile_size": tileSizeProperty,
					"groups": map[string]interface{}{
						"type":        "integer",
						"description": "Number of channel groups to size the render for. Default 1",
						"default":     1,
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "pyramid_group_paths",
			Description: "Load an author save file and list the render groups with their sanitized, de-duplicated output directories.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"config": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the author save file",
					},
					"fold_diacritics": foldProperty,
				},
				"required": []string{"config"},
			},
		},

		// Rendering Previews
		{
			Name:        "pyramid_preview_tile",
			Description: "Compose one output tile for a channel group and return it as base64-encoded JPEG along with each channel's display color, the tile's dominant colors and, optionally, the rendered color at one pixel. Use this to check colors and ranges before a full render.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path":      pathProperty,
					"level":     map[string]interface{}{"type": "integer", "description": "Pyramid level, 0 is full resolution. Default 0"},
					"x":         map[string]interface{}{"type": "integer", "description": "Tile column. Default 0"},
					"y":         map[string]interface{}{"type": "integer", "description": "Tile row. Default 0"},
					"tile_size": tileSizeProperty,
					"channels":  channelsProperty,
					"config":    configProperty,
					"group":     groupProperty,
					"max_side": map[string]interface{}{
						"type":        "integer",
						"description": "Scale the preview so its longest side is at most this many pixels. Default 512",
						"default":     512,
					},
					"colors": map[string]interface{}{
						"type":        "integer",
						"description": "Number of dominant colors to report. Default 3",
						"default":     3,
					},
					"sample_x": map[string]interface{}{
						"type":        "integer",
						"description": "Optional tile pixel column to read the rendered color at (use with sample_y)",
					},
					"sample_y": map[string]interface{}{
						"type":        "integer",
						"description": "Optional tile pixel row to read the rendered color at (use with sample_x)",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "pyramid_grid_overlay",
			Description: "Compose a whole level (the lowest resolution by default) and draw the tile boundaries over it, optionally labeling each tile with its column and row.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path":      pathProperty,
					"level":     map[string]interface{}{"type": "integer", "description": "Pyramid level. Default is the lowest resolution"},
					"tile_size": tileSizeProperty,
					"channels":  channelsProperty,
					"config":    configProperty,
					"group":     groupProperty,
					"max_side": map[string]interface{}{
						"type":        "integer",
						"description": "Longest side of the returned image. Default 1024",
						"default":     1024,
					},
					"show_coordinates": map[string]interface{}{
						"type":        "boolean",
						"description": "Label each tile with \"tx,ty\". Default true",
						"default":     true,
					},
					"grid_color": map[string]interface{}{
						"type":        "string",
						"description": "Line color in hex. Default \"#FF0000\"",
						"default":     "#FF0000",
					},
				},
				"required": []string{"path"},
			},
		},

		// Analysis
		{
			Name:        "pyramid_channel_stats",
			Description: "Compute intensity statistics for channels over the lowest-resolution level: min, max, mean, standard deviation, 0.5%/99.5% quantiles and a background threshold, in 16-bit units.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty,
					"channels": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "integer"},
						"description": "Channel indices. Default is every channel",
					},
				},
				"required": []string{"path"},
			},
		},

		// Output
		{
			Name:        "pyramid_render",
			Description: "Render every tile of every group in an author save file to JPEG and write exhibit.json. Returns a report with the tile counts and per-tile warnings.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty,
					"config": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the author save file",
					},
					"output_dir": map[string]interface{}{
						"type":        "string",
						"description": "Directory to write into. Created if missing; an existing directory needs force",
					},
					"tile_size": tileSizeProperty,
					"workers": map[string]interface{}{
						"type":        "integer",
						"description": "Tiles rendered at once. Default 1",
						"default":     1,
					},
					"quality": map[string]interface{}{
						"type":        "integer",
						"description": "JPEG quality 1-100. Default 85",
						"default":     85,
					},
					"auto_range": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"", "quantile", "cluster"},
						"description": "Fill channels saved without a range from channel statistics",
					},
					"url": map[string]interface{}{
						"type":        "string",
						"description": "Base URL of the tiles in exhibit.json. Default \".\"",
					},
					"force": map[string]interface{}{
						"type":        "boolean",
						"description": "Write into an existing output directory",
						"default":     false,
					},
					"fold_diacritics": foldProperty,
				},
				"required": []string{"path", "config", "output_dir"},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
