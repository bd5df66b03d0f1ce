package server

import (
	"testing"
)

func toolMap() map[string]Tool {
	m := make(map[string]Tool)
	for _, tool := range GetToolDefinitions() {
		m[tool.Name] = tool
	}
	return m
}

func requiredOf(t *testing.T, tool Tool) []string {
	t.Helper()
	required, ok := tool.InputSchema["required"].([]string)
	if !ok {
		t.Fatalf("%s: 'required' should be a string slice", tool.Name)
	}
	return required
}

func TestGetToolDefinitions(t *testing.T) {
	expectedTools := []string{
		"pyramid_info",
		"pyramid_tile_grid",
		"pyramid_group_paths",
		"pyramid_preview_tile",
		"pyramid_grid_overlay",
		"pyramid_channel_stats",
		"pyramid_render",
	}

	tools := toolMap()
	if len(tools) != len(expectedTools) {
		t.Errorf("Tool count: got %d, want %d", len(tools), len(expectedTools))
	}
	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("Expected tool %s not found", name)
		}
	}
}

func TestToolDefinitions_Structure(t *testing.T) {
	for _, tool := range GetToolDefinitions() {
		t.Run(tool.Name, func(t *testing.T) {
			if tool.Description == "" {
				t.Error("Tool description is empty")
			}
			if tool.InputSchema["type"] != "object" {
				t.Errorf("InputSchema type: got %v, want 'object'", tool.InputSchema["type"])
			}
			props, ok := tool.InputSchema["properties"].(map[string]interface{})
			if !ok {
				t.Fatal("InputSchema properties should be a map")
			}
			// Every required argument must be declared.
			for _, r := range requiredOf(t, tool) {
				if _, ok := props[r]; !ok {
					t.Errorf("required argument %q has no property", r)
				}
			}
		})
	}
}

func TestToolDefinitions_Required(t *testing.T) {
	tests := map[string][]string{
		"pyramid_info":          {"path"},
		"pyramid_tile_grid":     {"path"},
		"pyramid_group_paths":   {"config"},
		"pyramid_preview_tile":  {"path"},
		"pyramid_grid_overlay":  {"path"},
		"pyramid_channel_stats": {"path"},
		"pyramid_render":        {"path", "config", "output_dir"},
	}

	tools := toolMap()
	for name, want := range tests {
		t.Run(name, func(t *testing.T) {
			got := requiredOf(t, tools[name])
			if len(got) != len(want) {
				t.Fatalf("required: got %v, want %v", got, want)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("required[%d]: got %s, want %s", i, got[i], want[i])
				}
			}
		})
	}
}

func TestToolDefinitions_OptionalDefaults(t *testing.T) {
	toolDefaults := map[string]map[string]interface{}{
		"pyramid_tile_grid":    {"tile_size": 1024, "groups": 1},
		"pyramid_preview_tile": {"tile_size": 1024, "max_side": 512, "colors": 3, "group": 0},
		"pyramid_grid_overlay": {"max_side": 1024, "show_coordinates": true, "grid_color": "#FF0000"},
		"pyramid_group_paths":  {"fold_diacritics": false},
		"pyramid_render":       {"workers": 1, "quality": 85, "force": false, "fold_diacritics": false},
	}

	tools := toolMap()
	for toolName, expectedDefaults := range toolDefaults {
		props, ok := tools[toolName].InputSchema["properties"].(map[string]interface{})
		if !ok {
			t.Errorf("%s: properties should be a map", toolName)
			continue
		}

		for paramName, expected := range expectedDefaults {
			param, ok := props[paramName].(map[string]interface{})
			if !ok {
				t.Errorf("%s.%s: parameter not found or not a map", toolName, paramName)
				continue
			}
			if actual, ok := param["default"]; !ok || actual != expected {
				t.Errorf("%s.%s: default got %v (%T), want %v (%T)",
					toolName, paramName, actual, actual, expected, expected)
			}
		}
	}
}

func TestHandleToolsList(t *testing.T) {
	s := New(nil)
	resp := s.handleToolsList(&MCPRequest{JSONRPC: "2.0", ID: 1})

	if resp == nil {
		t.Fatal("handleToolsList returned nil")
	}
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %v", resp.Error)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatal("Result should be a map")
	}
	toolsList, ok := result["tools"].([]Tool)
	if !ok {
		t.Fatal("tools should be a slice of Tool")
	}
	if len(toolsList) != len(GetToolDefinitions()) {
		t.Errorf("Tool count: got %d, want %d", len(toolsList), len(GetToolDefinitions()))
	}
}
