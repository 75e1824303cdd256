package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Basic Image Information
		{
			Name:        "image_load",
			Description: "Load an image file and return its dimensions and format. Verifies the file is readable and caches the decoded pixels for subsequent operations.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the image file",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "image_dimensions",
			Description: "Get the width and height of an image file.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the image file",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "image_crop",
			Description: "Crop a rectangular region from an image and return it as base64-encoded PNG. Use this to zoom into areas that need detailed examination.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the image file",
					},
					"x1": map[string]interface{}{
						"type":        "integer",
						"description": "Left edge X coordinate (0-based)",
					},
					"y1": map[string]interface{}{
						"type":        "integer",
						"description": "Top edge Y coordinate (0-based)",
					},
					"x2": map[string]interface{}{
						"type":        "integer",
						"description": "Right edge X coordinate (exclusive)",
					},
					"y2": map[string]interface{}{
						"type":        "integer",
						"description": "Bottom edge Y coordinate (exclusive)",
					},
					"scale": map[string]interface{}{
						"type":        "number",
						"description": "Optional scale factor (e.g., 2.0 to double size). Default 1.0",
						"default":     1.0,
					},
				},
				"required": []string{"path", "x1", "y1", "x2", "y2"},
			},
		},

		// Diff Operations
		{
			Name:        "image_diff",
			Description: "Compare two same-sized images pixel by pixel and return the number of changed pixels plus a black/white change mask as base64 PNG. Adaptive thresholding tightens sensitivity in text-like areas and relaxes it in smooth areas.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"before_path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the before image",
					},
					"after_path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the after image (must match the before image's dimensions)",
					},
					"threshold": map[string]interface{}{
						"type":        "integer",
						"description": "Per-pixel difference threshold: sum of absolute R, G and B differences that counts as changed. Default 30",
						"default":     30,
					},
					"adaptive": map[string]interface{}{
						"type":        "boolean",
						"description": "Scale the threshold per pixel based on local content (0.8x in text-like areas, 2.0x in smooth areas). Default true",
						"default":     true,
					},
				},
				"required": []string{"before_path", "after_path"},
			},
		},
		{
			Name:        "image_diff_regions",
			Description: "Compare two images and cluster the changed pixels into distinct regions. Returns each region's bounding box, pixel count and center, plus a color-coded label mask as base64 PNG. Page-level background changes are filtered out.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"before_path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the before image",
					},
					"after_path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the after image",
					},
					"threshold": map[string]interface{}{
						"type":        "integer",
						"description": "Per-pixel difference threshold. Default 30",
						"default":     30,
					},
					"adaptive": map[string]interface{}{
						"type":        "boolean",
						"description": "Adapt the threshold to local content. Default true",
						"default":     true,
					},
					"dilate_radius": map[string]interface{}{
						"type":        "integer",
						"description": "Dilation radius in pixels used to bridge nearby changes into one region. Default 3",
						"default":     3,
					},
					"min_area": map[string]interface{}{
						"type":        "integer",
						"description": "Minimum changed-pixel count for a region to be reported. Default 100",
						"default":     100,
					},
					"filter_background": map[string]interface{}{
						"type":        "boolean",
						"description": "Drop regions that look like page-level background changes rather than content edits. Default true",
						"default":     true,
					},
				},
				"required": []string{"before_path", "after_path"},
			},
		},
		{
			Name:        "image_diff_lines",
			Description: "Compare two images and group the changed regions into horizontal text lines ordered top to bottom. Returns each line's bounding box and an annotated copy of the after image with numbered line boxes.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"before_path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the before image",
					},
					"after_path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the after image",
					},
					"threshold": map[string]interface{}{
						"type":        "integer",
						"description": "Per-pixel difference threshold. Default 30",
						"default":     30,
					},
					"adaptive": map[string]interface{}{
						"type":        "boolean",
						"description": "Adapt the threshold to local content. Default true",
						"default":     true,
					},
					"dilate_radius": map[string]interface{}{
						"type":        "integer",
						"description": "Dilation radius for region clustering. Default 3",
						"default":     3,
					},
					"min_area": map[string]interface{}{
						"type":        "integer",
						"description": "Minimum changed-pixel count per region. Default 100",
						"default":     100,
					},
					"overlap_threshold": map[string]interface{}{
						"type":        "number",
						"description": "Minimum vertical overlap ratio for two regions to share a line. Default 0.4",
						"default":     0.4,
					},
					"max_x_gap": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum horizontal gap in pixels between regions on the same line. Default 55",
						"default":     55,
					},
					"merge_gap": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum vertical center distance in pixels when merging adjacent line groups. Default 30",
						"default":     30,
					},
					"box_color": map[string]interface{}{
						"type":        "string",
						"description": "Hex color for the overlay boxes (#RRGGBB or #RRGGBBAA). Default #FF0000",
						"default":     "#FF0000",
					},
				},
				"required": []string{"before_path", "after_path"},
			},
		},
		{
			Name:        "image_diff_recognize",
			Description: "Compare two images, detect the changed text lines and recognize each line's new text. Lines are recognized independently, so one failed line does not lose the others. Requires a configured recognition backend.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"before_path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the before image",
					},
					"after_path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the after image; line crops are taken from this side",
					},
					"threshold": map[string]interface{}{
						"type":        "integer",
						"description": "Per-pixel difference threshold. Default 30",
						"default":     30,
					},
					"adaptive": map[string]interface{}{
						"type":        "boolean",
						"description": "Adapt the threshold to local content. Default true",
						"default":     true,
					},
					"dilate_radius": map[string]interface{}{
						"type":        "integer",
						"description": "Dilation radius for region clustering. Default 3",
						"default":     3,
					},
					"min_area": map[string]interface{}{
						"type":        "integer",
						"description": "Minimum changed-pixel count per region. Default 100",
						"default":     100,
					},
					"hints": map[string]interface{}{
						"type": "array",
						"items": map[string]interface{}{
							"type": "string",
						},
						"description": "Optional expected wording per line, matched to lines by index (top to bottom)",
					},
				},
				"required": []string{"before_path", "after_path"},
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
