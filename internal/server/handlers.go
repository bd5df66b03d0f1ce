package server

import (
	"encoding/json"
	"fmt"

	"github.com/ironsheep/tile-pyramid/internal/compose"
	"github.com/ironsheep/tile-pyramid/internal/config"
	"github.com/ironsheep/tile-pyramid/internal/imaging"
	"github.com/ironsheep/tile-pyramid/internal/layout"
	"github.com/ironsheep/tile-pyramid/internal/pyramid"
	"github.com/ironsheep/tile-pyramid/internal/render"
	"github.com/ironsheep/tile-pyramid/internal/source"
	"github.com/ironsheep/tile-pyramid/internal/stats"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "pyramid_info", "pyramid_render").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(params.Name, params.Arguments)
	if err != nil {
		s.log.Info("tool failed", "tool", params.Name, "error", err)
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
//
// Each tool handler:
//  1. Unmarshals arguments from JSON
//  2. Applies default values for optional parameters
//  3. Loads the source from cache
//  4. Calls the appropriate compose/render/stats function
//  5. Returns the result or error
func (s *Server) executeTool(name string, args json.RawMessage) (interface{}, error) {
	switch name {
	// Source Inspection
	case "pyramid_info":
		return s.handlePyramidInfo(args)
	case "pyramid_tile_grid":
		return s.handlePyramidTileGrid(args)
	case "pyramid_group_paths":
		return s.handlePyramidGroupPaths(args)

	// Rendering Previews
	case "pyramid_preview_tile":
		return s.handlePyramidPreviewTile(args)
	case "pyramid_grid_overlay":
		return s.handlePyramidGridOverlay(args)

	// Analysis
	case "pyramid_channel_stats":
		return s.handlePyramidChannelStats(args)

	// Output
	case "pyramid_render":
		return s.handlePyramidRender(args)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// Panics are suppressed; on marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// tileSize resolves a requested tile edge. Whole-slide sources are built
// for one edge, so zero selects theirs.
func tileSize(src pyramid.Source, requested int) int {
	if requested > 0 {
		return requested
	}
	if info := src.Info(); info.Backend == pyramid.WholeSlide && info.NativeTileSize > 0 {
		return info.NativeTileSize
	}
	return pyramid.DefaultTileSize
}

// === Source Inspection Handlers ===

type pathArgs struct {
	Path string `json:"path"`
}

type levelInfo struct {
	Level  int `json:"level"`
	Width  int `json:"width"`
	Height int `json:"height"`
	TilesX int `json:"tiles_x,omitempty"`
	TilesY int `json:"tiles_y,omitempty"`
}

type pyramidInfoResult struct {
	pyramid.Info
	Shape   pyramid.Shape `json:"shape"`
	Levels  []levelInfo   `json:"levels"`
	Warning string        `json:"warning,omitempty"`
}

func (s *Server) handlePyramidInfo(args json.RawMessage) (interface{}, error) {
	var a pathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	src, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}

	res := &pyramidInfoResult{Info: src.Info(), Shape: src.Shape(), Warning: src.Warning()}
	for level := 0; level < res.Shape.Levels; level++ {
		w, h, err := src.LevelSize(level)
		if err != nil {
			return nil, err
		}
		res.Levels = append(res.Levels, levelInfo{Level: level, Width: w, Height: h})
	}
	return res, nil
}

type pyramidTileGridArgs struct {
	Path     string `json:"path"`
	TileSize int    `json:"tile_size"`
	Groups   int    `json:"groups"`
}

type tileGridResult struct {
	TileSize   int         `json:"tile_size"`
	Levels     []levelInfo `json:"levels"`
	TotalTiles int         `json:"total_tiles"`
	Groups     int         `json:"groups"`
	TotalWork  int         `json:"total_work"`
}

func (s *Server) handlePyramidTileGrid(args json.RawMessage) (interface{}, error) {
	var a pyramidTileGridArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Groups == 0 {
		a.Groups = 1
	}
	src, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}
	edge := tileSize(src, a.TileSize)

	res := &tileGridResult{TileSize: edge, Groups: a.Groups}
	for level := 0; level < src.Shape().Levels; level++ {
		w, h, err := src.LevelSize(level)
		if err != nil {
			return nil, err
		}
		nx, ny, err := src.LevelTiles(level, edge)
		if err != nil {
			return nil, err
		}
		res.Levels = append(res.Levels, levelInfo{Level: level, Width: w, Height: h, TilesX: nx, TilesY: ny})
	}
	if res.TotalTiles, err = pyramid.TotalTiles(src, edge); err != nil {
		return nil, err
	}
	if res.TotalWork, err = pyramid.TotalWork(src, edge, a.Groups); err != nil {
		return nil, err
	}
	return res, nil
}

type configArgs struct {
	Config         string `json:"config"`
	FoldDiacritics bool   `json:"fold_diacritics"`
}

type groupPathResult struct {
	Index    int      `json:"index"`
	Label    string   `json:"label"`
	Path     string   `json:"path"`
	Mask     bool     `json:"mask,omitempty"`
	Channels []string `json:"channels"`
}

func (s *Server) handlePyramidGroupPaths(args json.RawMessage) (interface{}, error) {
	var a configArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	save, err := config.Load(a.Config)
	if err != nil {
		return nil, err
	}
	save.Paths.FoldDiacritics = a.FoldDiacritics

	groups := save.RenderGroups()
	res := make([]groupPathResult, 0, len(groups))
	for i, g := range groups {
		r := groupPathResult{Index: i, Label: g.Label, Path: g.Path, Mask: g.Mask, Channels: []string{}}
		for _, ch := range g.Channels {
			r.Channels = append(r.Channels, ch.Label)
		}
		res = append(res, r)
	}
	return map[string]interface{}{"groups": res}, nil
}

// === Preview Handlers ===

type channelArg struct {
	Index int     `json:"index"`
	Label string  `json:"label"`
	Color string  `json:"color"`
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
}

// groupArgs selects the group a preview renders: a group from a save file,
// inline channels, or channel 0 in white.
type groupArgs struct {
	Channels []channelArg `json:"channels"`
	Config   string       `json:"config"`
	Group    int          `json:"group"`
}

// resolveGroup builds the group to preview and fills any missing display
// range from channel statistics.
func (s *Server) resolveGroup(src pyramid.Source, a groupArgs) (pyramid.GroupSpec, error) {
	var g pyramid.GroupSpec
	switch {
	case a.Config != "":
		save, err := config.Load(a.Config)
		if err != nil {
			return g, err
		}
		groups := save.RenderGroups()
		if a.Group < 0 || a.Group >= len(groups) {
			return g, fmt.Errorf("group %d out of range, save file has %d groups", a.Group, len(groups))
		}
		g = groups[a.Group]

	case len(a.Channels) > 0:
		g.Label = "preview"
		for _, c := range a.Channels {
			if c.Color == "" {
				c.Color = "#FFFFFF"
			}
			rgb, err := imaging.ParseColor(c.Color)
			if err != nil {
				return g, fmt.Errorf("channel %d: %w", c.Index, err)
			}
			g.Channels = append(g.Channels, pyramid.ChannelSpec{
				Index: c.Index, Label: c.Label, Color: rgb, Low: c.Low, High: c.High,
			})
		}
		g.Path = layout.GroupPath(g.Label, g.Channels)

	default:
		g = pyramid.GroupSpec{
			Label:    "preview",
			Channels: []pyramid.ChannelSpec{{Index: 0, Color: [3]float64{1, 1, 1}}},
		}
		g.Path = layout.GroupPath(g.Label, g.Channels)
	}

	if err := compose.Validate([]pyramid.GroupSpec{g}, src.Shape().Channels); err != nil {
		return g, err
	}
	if src.Info().Kind == pyramid.Multiplex {
		groups := []pyramid.GroupSpec{g}
		if err := stats.AutoRange(src, groups, stats.Quantile); err != nil {
			return g, err
		}
		g = groups[0]
	}
	return g, nil
}

type pyramidPreviewTileArgs struct {
	groupArgs
	Path     string `json:"path"`
	Level    int    `json:"level"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	TileSize int    `json:"tile_size"`
	MaxSide  int    `json:"max_side"`
	Colors   int    `json:"colors"`
	SampleX  *int   `json:"sample_x"`
	SampleY  *int   `json:"sample_y"`
}

// channelColor describes the display color of one group channel.
type channelColor struct {
	Index int                 `json:"index"`
	Label string              `json:"label"`
	Color imaging.ColorResult `json:"color"`
}

type previewTileResult struct {
	imaging.PreviewResult
	Level          int                      `json:"level"`
	X              int                      `json:"x"`
	Y              int                      `json:"y"`
	TileSize       int                      `json:"tile_size"`
	Group          pyramid.GroupSpec        `json:"group"`
	ChannelColors  []channelColor           `json:"channel_colors"`
	DominantColors []imaging.ColorFrequency `json:"dominant_colors"`
	Sample         *imaging.ColorResult     `json:"sample,omitempty"`
}

func (s *Server) handlePyramidPreviewTile(args json.RawMessage) (interface{}, error) {
	var a pyramidPreviewTileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.MaxSide == 0 {
		a.MaxSide = 512
	}
	if a.Colors == 0 {
		a.Colors = 3
	}
	src, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}
	edge := tileSize(src, a.TileSize)
	if err := pyramid.CheckAddress(src, a.Level, a.X, a.Y, edge); err != nil {
		return nil, err
	}
	g, err := s.resolveGroup(src, a.groupArgs)
	if err != nil {
		return nil, err
	}

	img, err := compose.RenderGroup(src, g, pyramid.TileAddress{Level: a.Level, X: a.X, Y: a.Y, Edge: edge})
	if err != nil {
		return nil, err
	}
	preview, err := imaging.EncodePreview(img, a.MaxSide, 0)
	if err != nil {
		return nil, err
	}
	res := &previewTileResult{
		PreviewResult:  *preview,
		Level:          a.Level,
		X:              a.X,
		Y:              a.Y,
		TileSize:       edge,
		Group:          g,
		ChannelColors:  make([]channelColor, 0, len(g.Channels)),
		DominantColors: imaging.DominantColors(img, a.Colors).Colors,
	}
	for _, ch := range g.Channels {
		res.ChannelColors = append(res.ChannelColors, channelColor{
			Index: ch.Index, Label: ch.Label, Color: imaging.DescribeColor(ch.Color),
		})
	}

	// Sample coordinates are tile pixels, before any preview scaling.
	if a.SampleX != nil || a.SampleY != nil {
		if a.SampleX == nil || a.SampleY == nil {
			return nil, fmt.Errorf("sample_x and sample_y must be given together")
		}
		if res.Sample, err = imaging.SampleColor(img, *a.SampleX, *a.SampleY); err != nil {
			return nil, err
		}
	}
	return res, nil
}

type pyramidGridOverlayArgs struct {
	groupArgs
	Path            string `json:"path"`
	Level           *int   `json:"level"`
	TileSize        int    `json:"tile_size"`
	MaxSide         int    `json:"max_side"`
	ShowCoordinates *bool  `json:"show_coordinates"`
	GridColor       string `json:"grid_color"`
}

type gridOverlayResult struct {
	*imaging.GridOverlayResult
	Level    int                   `json:"level"`
	Warnings []pyramid.TileWarning `json:"warnings,omitempty"`
}

func (s *Server) handlePyramidGridOverlay(args json.RawMessage) (interface{}, error) {
	var a pyramidGridOverlayArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.MaxSide == 0 {
		a.MaxSide = 1024
	}
	if a.GridColor == "" {
		a.GridColor = "#FF0000"
	}
	show := a.ShowCoordinates == nil || *a.ShowCoordinates

	src, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}
	level := src.Shape().Levels - 1
	if a.Level != nil {
		level = *a.Level
	}
	edge := tileSize(src, a.TileSize)
	g, err := s.resolveGroup(src, a.groupArgs)
	if err != nil {
		return nil, err
	}

	mosaic, warnings, err := render.Mosaic(src, g, level, edge)
	if err != nil {
		return nil, err
	}
	overlay, err := imaging.GridOverlay(mosaic, imaging.GridOptions{
		TileSize:        edge,
		LevelWidth:      mosaic.Bounds().Dx(),
		LevelHeight:     mosaic.Bounds().Dy(),
		MaxSide:         a.MaxSide,
		ShowCoordinates: show,
		Color:           a.GridColor,
	})
	if err != nil {
		return nil, err
	}
	return &gridOverlayResult{GridOverlayResult: overlay, Level: level, Warnings: warnings}, nil
}

// === Analysis Handlers ===

type pyramidChannelStatsArgs struct {
	Path     string `json:"path"`
	Channels []int  `json:"channels"`
}

func (s *Server) handlePyramidChannelStats(args json.RawMessage) (interface{}, error) {
	var a pyramidChannelStatsArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	src, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}
	if len(a.Channels) == 0 {
		for c := 0; c < src.Shape().Channels; c++ {
			a.Channels = append(a.Channels, c)
		}
	}

	res := make([]*stats.ChannelStats, 0, len(a.Channels))
	for _, c := range a.Channels {
		st, err := stats.Channel(src, c)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", c, err)
		}
		res = append(res, st)
	}
	return map[string]interface{}{"channels": res}, nil
}

// === Output Handlers ===

type pyramidRenderArgs struct {
	Path      string `json:"path"`
	Config    string `json:"config"`
	OutputDir string `json:"output_dir"`
	TileSize  int    `json:"tile_size"`
	Workers   int    `json:"workers"`
	Quality   int    `json:"quality"`
	AutoRange string `json:"auto_range"`
	URL       string `json:"url"`
	Force     bool   `json:"force"`

	FoldDiacritics bool `json:"fold_diacritics"`
}

type renderResult struct {
	*render.Report
	Exhibit string   `json:"exhibit"`
	Groups  []string `json:"groups"`
}

func (s *Server) handlePyramidRender(args json.RawMessage) (interface{}, error) {
	var a pyramidRenderArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.OutputDir == "" {
		return nil, fmt.Errorf("output_dir is required")
	}
	save, err := config.Load(a.Config)
	if err != nil {
		return nil, err
	}
	save.Paths.FoldDiacritics = a.FoldDiacritics

	src, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}
	edge := tileSize(src, a.TileSize)
	if info := src.Info(); info.Backend == pyramid.WholeSlide && edge != info.NativeTileSize {
		// The cached slide was built for another edge.
		fresh, err := source.Open(a.Path, source.Options{TileSize: edge, Logger: s.log})
		if err != nil {
			return nil, err
		}
		defer fresh.Close()
		src = fresh
	}

	groups := save.RenderGroups()
	if err := compose.Validate(groups, src.Shape().Channels); err != nil {
		return nil, err
	}
	if a.AutoRange != "" {
		method, err := stats.ParseMethod(a.AutoRange)
		if err != nil {
			return nil, err
		}
		if err := stats.AutoRange(src, groups, method); err != nil {
			return nil, err
		}
	}

	if err := render.PrepareOutput(a.OutputDir, a.Force, s.log); err != nil {
		return nil, err
	}
	if err := config.WriteExhibit(a.OutputDir, save.Exhibit(groups, src.Shape(), a.URL)); err != nil {
		return nil, err
	}

	report, err := render.Render(s.ctx, src, groups, render.Options{
		TileSize:   edge,
		OutputRoot: a.OutputDir,
		Workers:    a.Workers,
		Quality:    a.Quality,
		Logger:     s.log,
	})
	if err != nil {
		return nil, err
	}

	res := &renderResult{Report: report, Exhibit: config.ExhibitFile}
	for _, g := range groups {
		res.Groups = append(res.Groups, g.Path)
	}
	return res, nil
}
