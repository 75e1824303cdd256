package server

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"strconv"

	"github.com/ironsheep/image-diff-mcp/internal/detection"
	"github.com/ironsheep/image-diff-mcp/internal/imaging"
	"github.com/ironsheep/image-diff-mcp/internal/ocr"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "image_diff", "image_crop").
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
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
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
//  3. Loads images from cache as needed
//  4. Calls the appropriate imaging/detection/ocr function
//  5. Returns the result or error
//
// The context reaches tools that block on remote work; the pure image
// transforms run to completion regardless.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	// Basic Image Information
	case "image_load":
		return s.handleImageLoad(args)
	case "image_dimensions":
		return s.handleImageDimensions(args)

	// Region Operations
	case "image_crop":
		return s.handleImageCrop(args)

	// Diff Operations
	case "image_diff":
		return s.handleImageDiff(args)
	case "image_diff_regions":
		return s.handleImageDiffRegions(args)
	case "image_diff_lines":
		return s.handleImageDiffLines(args)
	case "image_diff_recognize":
		return s.handleImageDiffRecognize(ctx, args)

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

// === Basic Image Information Handlers ===

type imageLoadArgs struct {
	Path string `json:"path"`
}

func (s *Server) handleImageLoad(args json.RawMessage) (interface{}, error) {
	var a imageLoadArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	return imaging.LoadImageInfo(s.cache, a.Path)
}

func (s *Server) handleImageDimensions(args json.RawMessage) (interface{}, error) {
	var a imageLoadArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	return imaging.GetDimensions(s.cache, a.Path)
}

// === Region Operation Handlers ===

type imageCropArgs struct {
	Path  string  `json:"path"`
	X1    int     `json:"x1"`
	Y1    int     `json:"y1"`
	X2    int     `json:"x2"`
	Y2    int     `json:"y2"`
	Scale float64 `json:"scale"`
}

func (s *Server) handleImageCrop(args json.RawMessage) (interface{}, error) {
	var a imageCropArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Scale == 0 {
		a.Scale = 1.0
	}
	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}
	return imaging.Crop(img, a.X1, a.Y1, a.X2, a.Y2, a.Scale)
}

// === Diff Operation Handlers ===

// loadPair loads both sides of a diff as normalized RGBA buffers.
func (s *Server) loadPair(beforePath, afterPath string) (*image.RGBA, *image.RGBA, error) {
	if beforePath == "" || afterPath == "" {
		return nil, nil, fmt.Errorf("before_path and after_path are required")
	}
	before, err := s.cache.LoadRGBA(beforePath)
	if err != nil {
		return nil, nil, fmt.Errorf("before image: %w", err)
	}
	after, err := s.cache.LoadRGBA(afterPath)
	if err != nil {
		return nil, nil, fmt.Errorf("after image: %w", err)
	}
	return before, after, nil
}

// diffOptionsFrom applies tool argument defaults over the standard diff
// options. A zero threshold means "not provided".
func diffOptionsFrom(threshold int, adaptive *bool) imaging.DiffOptions {
	opts := imaging.DefaultDiffOptions()
	if threshold != 0 {
		opts.Threshold = threshold
	}
	if adaptive != nil {
		opts.Adaptive = *adaptive
	}
	return opts
}

// clusterOptionsFrom applies tool argument defaults over the standard
// clustering options. Disabling filter_background turns the background
// vote filter off entirely.
func clusterOptionsFrom(dilateRadius, minArea int, filterBackground *bool) detection.ClusterOptions {
	opts := detection.DefaultClusterOptions()
	if dilateRadius != 0 {
		opts.DilateRadius = dilateRadius
	}
	if minArea != 0 {
		opts.MinArea = minArea
	}
	if filterBackground != nil && !*filterBackground {
		opts.Filter.MinVotes = 0
	}
	return opts
}

// groupOptionsFrom applies tool argument defaults over the standard line
// grouping options.
func groupOptionsFrom(overlapThreshold float64, maxXGap, mergeGap int) detection.GroupOptions {
	opts := detection.DefaultGroupOptions()
	if overlapThreshold != 0 {
		opts.OverlapThreshold = overlapThreshold
	}
	if maxXGap != 0 {
		opts.MaxXGap = maxXGap
	}
	if mergeGap != 0 {
		opts.MergeGap = mergeGap
	}
	return opts
}

type imageDiffArgs struct {
	BeforePath string `json:"before_path"`
	AfterPath  string `json:"after_path"`
	Threshold  int    `json:"threshold"`
	Adaptive   *bool  `json:"adaptive,omitempty"`
}

type diffToolResult struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	DiffPixels int    `json:"diff_pixels"`
	MaskBase64 string `json:"mask_base64"`
	MimeType   string `json:"mime_type"`
}

func (s *Server) handleImageDiff(args json.RawMessage) (interface{}, error) {
	var a imageDiffArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	before, after, err := s.loadPair(a.BeforePath, a.AfterPath)
	if err != nil {
		return nil, err
	}

	res, err := imaging.Diff(before, after, diffOptionsFrom(a.Threshold, a.Adaptive))
	if err != nil {
		return nil, err
	}

	mask, err := imaging.EncodePNGBase64(res.Mask)
	if err != nil {
		return nil, err
	}

	return &diffToolResult{
		Width:      res.Width,
		Height:     res.Height,
		DiffPixels: res.DiffPixels,
		MaskBase64: mask,
		MimeType:   "image/png",
	}, nil
}

type imageDiffRegionsArgs struct {
	BeforePath       string `json:"before_path"`
	AfterPath        string `json:"after_path"`
	Threshold        int    `json:"threshold"`
	Adaptive         *bool  `json:"adaptive,omitempty"`
	DilateRadius     int    `json:"dilate_radius"`
	MinArea          int    `json:"min_area"`
	FilterBackground *bool  `json:"filter_background,omitempty"`
}

type diffRegionsResult struct {
	Width         int                `json:"width"`
	Height        int                `json:"height"`
	DiffPixels    int                `json:"diff_pixels"`
	Regions       []detection.Region `json:"regions"`
	Count         int                `json:"count"`
	LabeledBase64 string             `json:"labeled_base64"`
	MimeType      string             `json:"mime_type"`
}

func (s *Server) handleImageDiffRegions(args json.RawMessage) (interface{}, error) {
	var a imageDiffRegionsArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	before, after, err := s.loadPair(a.BeforePath, a.AfterPath)
	if err != nil {
		return nil, err
	}

	diff, err := imaging.Diff(before, after, diffOptionsFrom(a.Threshold, a.Adaptive))
	if err != nil {
		return nil, err
	}

	clustered, err := detection.Cluster(diff.Mask, clusterOptionsFrom(a.DilateRadius, a.MinArea, a.FilterBackground))
	if err != nil {
		return nil, err
	}

	labeled, err := imaging.EncodePNGBase64(clustered.Labeled)
	if err != nil {
		return nil, err
	}

	return &diffRegionsResult{
		Width:         diff.Width,
		Height:        diff.Height,
		DiffPixels:    diff.DiffPixels,
		Regions:       clustered.Regions,
		Count:         clustered.Count,
		LabeledBase64: labeled,
		MimeType:      "image/png",
	}, nil
}

type imageDiffLinesArgs struct {
	BeforePath       string  `json:"before_path"`
	AfterPath        string  `json:"after_path"`
	Threshold        int     `json:"threshold"`
	Adaptive         *bool   `json:"adaptive,omitempty"`
	DilateRadius     int     `json:"dilate_radius"`
	MinArea          int     `json:"min_area"`
	OverlapThreshold float64 `json:"overlap_threshold"`
	MaxXGap          int     `json:"max_x_gap"`
	MergeGap         int     `json:"merge_gap"`
	BoxColor         string  `json:"box_color"`
}

type lineSummary struct {
	LineIndex   int                   `json:"line_index"`
	Box         detection.BoundingBox `json:"bounding_box"`
	RegionCount int                   `json:"region_count"`
}

type diffLinesResult struct {
	Width         int           `json:"width"`
	Height        int           `json:"height"`
	DiffPixels    int           `json:"diff_pixels"`
	Lines         []lineSummary `json:"lines"`
	Count         int           `json:"count"`
	OverlayBase64 string        `json:"overlay_base64"`
	MimeType      string        `json:"mime_type"`
}

func (s *Server) handleImageDiffLines(args json.RawMessage) (interface{}, error) {
	var a imageDiffLinesArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.BoxColor == "" {
		a.BoxColor = "#FF0000"
	}
	before, after, err := s.loadPair(a.BeforePath, a.AfterPath)
	if err != nil {
		return nil, err
	}

	diff, err := imaging.Diff(before, after, diffOptionsFrom(a.Threshold, a.Adaptive))
	if err != nil {
		return nil, err
	}

	clustered, err := detection.Cluster(diff.Mask, clusterOptionsFrom(a.DilateRadius, a.MinArea, nil))
	if err != nil {
		return nil, err
	}

	groups := detection.GroupLines(clustered.Regions, groupOptionsFrom(a.OverlapThreshold, a.MaxXGap, a.MergeGap))

	lines := make([]lineSummary, 0, len(groups))
	boxes := make([]imaging.OverlayBox, 0, len(groups))
	for _, g := range groups {
		lines = append(lines, lineSummary{
			LineIndex:   g.Index,
			Box:         g.Box,
			RegionCount: len(g.Regions),
		})
		boxes = append(boxes, imaging.OverlayBox{
			Rect:  g.Box.Rect(),
			Label: strconv.Itoa(g.Index),
		})
	}

	overlay, err := imaging.Overlay(after, boxes, a.BoxColor)
	if err != nil {
		return nil, err
	}

	return &diffLinesResult{
		Width:         diff.Width,
		Height:        diff.Height,
		DiffPixels:    diff.DiffPixels,
		Lines:         lines,
		Count:         len(lines),
		OverlayBase64: overlay.ImageBase64,
		MimeType:      overlay.MimeType,
	}, nil
}

type imageDiffRecognizeArgs struct {
	BeforePath   string   `json:"before_path"`
	AfterPath    string   `json:"after_path"`
	Threshold    int      `json:"threshold"`
	Adaptive     *bool    `json:"adaptive,omitempty"`
	DilateRadius int      `json:"dilate_radius"`
	MinArea      int      `json:"min_area"`
	Hints        []string `json:"hints,omitempty"`
}

type recognizedLine struct {
	LineIndex int                   `json:"line_index"`
	Box       detection.BoundingBox `json:"bounding_box"`
	Text      string                `json:"text,omitempty"`
	Error     string                `json:"error,omitempty"`
}

type diffRecognizeResult struct {
	Width  int              `json:"width"`
	Height int              `json:"height"`
	Lines  []recognizedLine `json:"lines"`
	Count  int              `json:"count"`
}

func (s *Server) handleImageDiffRecognize(ctx context.Context, args json.RawMessage) (interface{}, error) {
	if s.recognizer == nil {
		return nil, fmt.Errorf("no recognition backend configured: set DIFF_MCP_RECOGNIZER_URL or DIFF_MCP_OCR_LOCAL")
	}

	var a imageDiffRecognizeArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	before, after, err := s.loadPair(a.BeforePath, a.AfterPath)
	if err != nil {
		return nil, err
	}

	diff, err := imaging.Diff(before, after, diffOptionsFrom(a.Threshold, a.Adaptive))
	if err != nil {
		return nil, err
	}

	clustered, err := detection.Cluster(diff.Mask, clusterOptionsFrom(a.DilateRadius, a.MinArea, nil))
	if err != nil {
		return nil, err
	}

	groups := detection.GroupLines(clustered.Regions, detection.DefaultGroupOptions())
	if len(groups) == 0 {
		return &diffRecognizeResult{
			Width:  diff.Width,
			Height: diff.Height,
			Lines:  []recognizedLine{},
		}, nil
	}

	jobs, err := ocr.JobsFromLines(after, groups, a.Hints, s.crop)
	if err != nil {
		return nil, err
	}

	results := ocr.NewOrchestrator(s.recognizer, s.orch).Run(ctx, jobs)

	resByIndex := make(map[int]ocr.LineResult, len(results))
	for _, r := range results {
		resByIndex[r.LineIndex] = r
	}

	lines := make([]recognizedLine, 0, len(groups))
	for i := range groups {
		r := resByIndex[groups[i].Index]
		groups[i].Text = r.Text

		line := recognizedLine{
			LineIndex: groups[i].Index,
			Box:       groups[i].Box,
			Text:      groups[i].Text,
		}
		if r.Err != nil {
			line.Error = r.Err.Error()
		}
		lines = append(lines, line)
	}

	return &diffRecognizeResult{
		Width:  diff.Width,
		Height: diff.Height,
		Lines:  lines,
		Count:  len(lines),
	}, nil
}
