package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ironsheep/image-diff-mcp/internal/detection"
	"github.com/ironsheep/image-diff-mcp/internal/imaging"
	"github.com/ironsheep/image-diff-mcp/internal/ocr"
)

// createTestImageFile creates a solid-color test image file and returns its
// path. The caller is responsible for removing the file.
func createTestImageFile(t *testing.T, width, height int, c color.Color) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return writeImageFile(t, img)
}

func writeImageFile(t *testing.T, img image.Image) string {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "handler-test-*.png")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer tmpFile.Close()

	if err := png.Encode(tmpFile, img); err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("failed to encode image: %v", err)
	}
	return tmpFile.Name()
}

func paintRect(img *image.RGBA, x, y, w, h int, c color.RGBA) {
	for yy := y; yy < y+h; yy++ {
		for xx := x; xx < x+w; xx++ {
			img.SetRGBA(xx, yy, c)
		}
	}
}

// createDiffPair writes a white 100x60 before image and an after image with
// two black 30x6 bars (two changed text lines). Each bar is 180 changed
// pixels; 360 in total.
func createDiffPair(t *testing.T) (string, string) {
	t.Helper()

	white := color.RGBA{255, 255, 255, 255}
	black := color.RGBA{0, 0, 0, 255}

	before := image.NewRGBA(image.Rect(0, 0, 100, 60))
	after := image.NewRGBA(image.Rect(0, 0, 100, 60))
	paintRect(before, 0, 0, 100, 60, white)
	paintRect(after, 0, 0, 100, 60, white)
	paintRect(after, 10, 10, 30, 6, black)
	paintRect(after, 10, 45, 30, 6, black)

	return writeImageFile(t, before), writeImageFile(t, after)
}

func decodeBase64PNG(t *testing.T, data string) image.Image {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		t.Fatalf("result image is not valid base64: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("result image is not valid PNG: %v", err)
	}
	return img
}

func callTool(t *testing.T, s *Server, name string, args map[string]interface{}) (interface{}, error) {
	t.Helper()
	argsJSON, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("failed to marshal arguments: %v", err)
	}
	return s.executeTool(context.Background(), name, argsJSON)
}

func TestHandleToolsCall_ImageLoad(t *testing.T) {
	s := New()
	imgPath := createTestImageFile(t, 100, 80, color.RGBA{255, 0, 0, 255})
	defer os.Remove(imgPath)

	params := map[string]interface{}{
		"name": "image_load",
		"arguments": map[string]interface{}{
			"path": imgPath,
		},
	}
	paramsJSON, _ := json.Marshal(params)

	req := &MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params:  paramsJSON,
	}

	resp := s.handleRequest(context.Background(), req)

	if resp == nil {
		t.Fatal("handleRequest returned nil")
	}
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %v", resp.Error)
	}
}

func TestHandleToolsCall_InvalidParams(t *testing.T) {
	s := New()
	req := &MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Params:  json.RawMessage(`this is not json`),
	}

	resp := s.handleToolsCall(context.Background(), req)
	if resp.Error == nil {
		t.Fatal("expected an error for malformed params")
	}
	if resp.Error.Code != -32602 {
		t.Errorf("error code = %d, want -32602", resp.Error.Code)
	}
}

func TestHandleToolsCall_UnknownTool(t *testing.T) {
	s := New()
	req := &MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Params:  json.RawMessage(`{"name":"image_interpolate","arguments":{}}`),
	}

	resp := s.handleToolsCall(context.Background(), req)
	if resp.Error == nil {
		t.Fatal("expected an error for an unknown tool")
	}
	if resp.Error.Code != -32000 {
		t.Errorf("error code = %d, want -32000", resp.Error.Code)
	}
}

func TestExecuteTool_ImageDimensions(t *testing.T) {
	s := New()
	imgPath := createTestImageFile(t, 200, 150, color.RGBA{0, 255, 0, 255})
	defer os.Remove(imgPath)

	result, err := callTool(t, s, "image_dimensions", map[string]interface{}{"path": imgPath})
	if err != nil {
		t.Fatalf("image_dimensions failed: %v", err)
	}

	dims, ok := result.(*imaging.DimensionsResult)
	if !ok {
		t.Fatalf("result type = %T", result)
	}
	if dims.Width != 200 || dims.Height != 150 {
		t.Errorf("dimensions = %dx%d, want 200x150", dims.Width, dims.Height)
	}
}

func TestExecuteTool_ImageCrop(t *testing.T) {
	s := New()
	imgPath := createTestImageFile(t, 100, 100, color.RGBA{0, 0, 255, 255})
	defer os.Remove(imgPath)

	result, err := callTool(t, s, "image_crop", map[string]interface{}{
		"path": imgPath,
		"x1":   10, "y1": 10, "x2": 50, "y2": 40,
	})
	if err != nil {
		t.Fatalf("image_crop failed: %v", err)
	}

	crop, ok := result.(*imaging.CropResult)
	if !ok {
		t.Fatalf("result type = %T", result)
	}
	if crop.Width != 40 || crop.Height != 30 {
		t.Errorf("crop = %dx%d, want 40x30", crop.Width, crop.Height)
	}
}

func TestExecuteTool_ImageDiff(t *testing.T) {
	s := New()
	beforePath, afterPath := createDiffPair(t)
	defer os.Remove(beforePath)
	defer os.Remove(afterPath)

	result, err := callTool(t, s, "image_diff", map[string]interface{}{
		"before_path": beforePath,
		"after_path":  afterPath,
	})
	if err != nil {
		t.Fatalf("image_diff failed: %v", err)
	}

	diff, ok := result.(*diffToolResult)
	if !ok {
		t.Fatalf("result type = %T", result)
	}
	if diff.Width != 100 || diff.Height != 60 {
		t.Errorf("dimensions = %dx%d, want 100x60", diff.Width, diff.Height)
	}
	if diff.DiffPixels != 360 {
		t.Errorf("diff_pixels = %d, want 360", diff.DiffPixels)
	}
	if diff.MimeType != "image/png" {
		t.Errorf("mime_type = %q", diff.MimeType)
	}

	mask := decodeBase64PNG(t, diff.MaskBase64)
	if mask.Bounds().Dx() != 100 || mask.Bounds().Dy() != 60 {
		t.Fatalf("mask is %dx%d", mask.Bounds().Dx(), mask.Bounds().Dy())
	}
	if r, _, _, _ := mask.At(15, 12).RGBA(); r>>8 != 255 {
		t.Error("changed pixel not white in mask")
	}
	if r, g, b, _ := mask.At(5, 5).RGBA(); r != 0 || g != 0 || b != 0 {
		t.Error("unchanged pixel not black in mask")
	}
}

func TestExecuteTool_ImageDiff_DimensionMismatch(t *testing.T) {
	s := New()
	beforePath := createTestImageFile(t, 100, 60, color.White)
	afterPath := createTestImageFile(t, 50, 50, color.White)
	defer os.Remove(beforePath)
	defer os.Remove(afterPath)

	_, err := callTool(t, s, "image_diff", map[string]interface{}{
		"before_path": beforePath,
		"after_path":  afterPath,
	})
	if err == nil {
		t.Fatal("expected an error for mismatched dimensions")
	}
}

func TestExecuteTool_ImageDiff_MissingPaths(t *testing.T) {
	s := New()
	if _, err := callTool(t, s, "image_diff", map[string]interface{}{}); err == nil {
		t.Fatal("expected an error for missing paths")
	}
}

func TestExecuteTool_ImageDiff_ThresholdAndAdaptiveArgs(t *testing.T) {
	s := New()
	beforePath := createTestImageFile(t, 20, 10, color.RGBA{128, 128, 128, 255})
	afterPath := createTestImageFile(t, 20, 10, color.RGBA{143, 143, 143, 255})
	defer os.Remove(beforePath)
	defer os.Remove(afterPath)

	// Fixed threshold 30, difference 45 per pixel: everything changes.
	result, err := callTool(t, s, "image_diff", map[string]interface{}{
		"before_path": beforePath,
		"after_path":  afterPath,
		"adaptive":    false,
	})
	if err != nil {
		t.Fatalf("image_diff failed: %v", err)
	}
	if got := result.(*diffToolResult).DiffPixels; got != 200 {
		t.Errorf("diff_pixels = %d, want 200", got)
	}

	// Raising the threshold above the difference silences the diff.
	result, err = callTool(t, s, "image_diff", map[string]interface{}{
		"before_path": beforePath,
		"after_path":  afterPath,
		"adaptive":    false,
		"threshold":   50,
	})
	if err != nil {
		t.Fatalf("image_diff failed: %v", err)
	}
	if got := result.(*diffToolResult).DiffPixels; got != 0 {
		t.Errorf("diff_pixels = %d, want 0", got)
	}

	// Adaptive mode doubles the effective threshold in smooth areas, so the
	// uniform 45-point change stays below the cutoff.
	result, err = callTool(t, s, "image_diff", map[string]interface{}{
		"before_path": beforePath,
		"after_path":  afterPath,
	})
	if err != nil {
		t.Fatalf("image_diff failed: %v", err)
	}
	if got := result.(*diffToolResult).DiffPixels; got != 0 {
		t.Errorf("diff_pixels = %d, want 0 with adaptive thresholding", got)
	}
}

func TestExecuteTool_ImageDiffRegions(t *testing.T) {
	s := New()
	beforePath, afterPath := createDiffPair(t)
	defer os.Remove(beforePath)
	defer os.Remove(afterPath)

	result, err := callTool(t, s, "image_diff_regions", map[string]interface{}{
		"before_path": beforePath,
		"after_path":  afterPath,
	})
	if err != nil {
		t.Fatalf("image_diff_regions failed: %v", err)
	}

	regions, ok := result.(*diffRegionsResult)
	if !ok {
		t.Fatalf("result type = %T", result)
	}
	if regions.Count != 2 || len(regions.Regions) != 2 {
		t.Fatalf("count = %d (%d regions), want 2", regions.Count, len(regions.Regions))
	}

	first := regions.Regions[0]
	if first.ID != 1 {
		t.Errorf("first region ID = %d, want 1", first.ID)
	}
	want := detection.BoundingBox{X: 10, Y: 10, Width: 30, Height: 6}
	if first.Box != want {
		t.Errorf("first region box = %+v, want %+v", first.Box, want)
	}
	if first.PixelCount != 180 {
		t.Errorf("first region pixel count = %d, want 180", first.PixelCount)
	}

	second := regions.Regions[1]
	if second.Box.Y != 45 {
		t.Errorf("second region box = %+v, want Y=45", second.Box)
	}

	labeled := decodeBase64PNG(t, regions.LabeledBase64)
	if labeled.Bounds().Dx() != 100 || labeled.Bounds().Dy() != 60 {
		t.Fatalf("labeled mask is %dx%d", labeled.Bounds().Dx(), labeled.Bounds().Dy())
	}
	if _, _, _, a := labeled.At(15, 12).RGBA(); a>>8 != 180 {
		t.Errorf("labeled pixel alpha = %d, want 180", a>>8)
	}
	if _, _, _, a := labeled.At(5, 5).RGBA(); a != 0 {
		t.Error("background pixel not transparent in labeled mask")
	}
}

func TestExecuteTool_ImageDiffLines(t *testing.T) {
	s := New()
	beforePath, afterPath := createDiffPair(t)
	defer os.Remove(beforePath)
	defer os.Remove(afterPath)

	result, err := callTool(t, s, "image_diff_lines", map[string]interface{}{
		"before_path": beforePath,
		"after_path":  afterPath,
	})
	if err != nil {
		t.Fatalf("image_diff_lines failed: %v", err)
	}

	lines, ok := result.(*diffLinesResult)
	if !ok {
		t.Fatalf("result type = %T", result)
	}
	if lines.Count != 2 || len(lines.Lines) != 2 {
		t.Fatalf("count = %d (%d lines), want 2", lines.Count, len(lines.Lines))
	}

	top := lines.Lines[0]
	if top.LineIndex != 0 {
		t.Errorf("first line index = %d, want 0", top.LineIndex)
	}
	if (top.Box != detection.BoundingBox{X: 10, Y: 10, Width: 30, Height: 6}) {
		t.Errorf("first line box = %+v", top.Box)
	}
	if top.RegionCount != 1 {
		t.Errorf("first line region count = %d, want 1", top.RegionCount)
	}

	bottom := lines.Lines[1]
	if bottom.LineIndex != 1 || bottom.Box.Y != 45 {
		t.Errorf("second line = %+v", bottom)
	}

	overlay := decodeBase64PNG(t, lines.OverlayBase64)
	if overlay.Bounds().Dx() != 100 || overlay.Bounds().Dy() != 60 {
		t.Fatalf("overlay is %dx%d", overlay.Bounds().Dx(), overlay.Bounds().Dy())
	}
	// The box outline starts at the line's top-left corner.
	if r, g, b, _ := overlay.At(10, 10).RGBA(); r>>8 != 255 || g != 0 || b != 0 {
		t.Error("overlay outline not drawn at line corner")
	}
}

// fakeRecognizer resolves every submitted task with text derived from its
// task ID, and records the submissions it saw.
type fakeRecognizer struct {
	mu      sync.Mutex
	submits []ocr.SubmitRequest
	failFor string // substring of task IDs that should report failed
	stall   bool   // report every task as pending forever
}

func (f *fakeRecognizer) Submit(ctx context.Context, req ocr.SubmitRequest) (*ocr.SubmitResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, req)
	return &ocr.SubmitResponse{Success: true, TaskID: "task-" + req.ImageName}, nil
}

func (f *fakeRecognizer) Check(ctx context.Context, ids []string) (*ocr.CheckResponse, error) {
	tasks := make([]ocr.TaskInfo, 0, len(ids))
	for _, id := range ids {
		if f.stall {
			tasks = append(tasks, ocr.TaskInfo{TaskID: id, Status: ocr.TaskPending, UpdatedAt: time.Now()})
			continue
		}
		if f.failFor != "" && strings.Contains(id, f.failFor) {
			tasks = append(tasks, ocr.TaskInfo{TaskID: id, Status: ocr.TaskFailed, ErrorMessage: "unreadable"})
			continue
		}
		tasks = append(tasks, ocr.TaskInfo{
			TaskID: id,
			Status: ocr.TaskDone,
			Output: &ocr.TaskOutput{Text: "text for " + id},
		})
	}
	return &ocr.CheckResponse{Success: true, Tasks: tasks}, nil
}

func (f *fakeRecognizer) submitted() []ocr.SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ocr.SubmitRequest, len(f.submits))
	copy(out, f.submits)
	return out
}

func fastOrchestratorConfig() ocr.Config {
	return ocr.Config{
		BatchSize:      10,
		PollInterval:   5 * time.Millisecond,
		GracePeriod:    time.Second,
		StuckAfter:     10 * time.Second,
		BatchTimeout:   5 * time.Second,
		MaxResubmits:   1,
		SubmitAttempts: 2,
		SubmitBackoff:  time.Millisecond,
	}
}

func TestExecuteTool_ImageDiffRecognize_NoBackend(t *testing.T) {
	s := New()
	beforePath, afterPath := createDiffPair(t)
	defer os.Remove(beforePath)
	defer os.Remove(afterPath)

	_, err := callTool(t, s, "image_diff_recognize", map[string]interface{}{
		"before_path": beforePath,
		"after_path":  afterPath,
	})
	if err == nil {
		t.Fatal("expected an error without a recognition backend")
	}
	if !strings.Contains(err.Error(), "no recognition backend") {
		t.Errorf("error = %v", err)
	}
}

func TestExecuteTool_ImageDiffRecognize(t *testing.T) {
	rec := &fakeRecognizer{}
	s := New().WithRecognizer(rec).WithOrchestratorConfig(fastOrchestratorConfig())

	beforePath, afterPath := createDiffPair(t)
	defer os.Remove(beforePath)
	defer os.Remove(afterPath)

	result, err := callTool(t, s, "image_diff_recognize", map[string]interface{}{
		"before_path": beforePath,
		"after_path":  afterPath,
		"hints":       []string{"alpha", "beta"},
	})
	if err != nil {
		t.Fatalf("image_diff_recognize failed: %v", err)
	}

	rr, ok := result.(*diffRecognizeResult)
	if !ok {
		t.Fatalf("result type = %T", result)
	}
	if rr.Count != 2 || len(rr.Lines) != 2 {
		t.Fatalf("count = %d (%d lines), want 2", rr.Count, len(rr.Lines))
	}

	top := rr.Lines[0]
	if top.LineIndex != 0 {
		t.Errorf("first line index = %d", top.LineIndex)
	}
	if (top.Box != detection.BoundingBox{X: 10, Y: 10, Width: 30, Height: 6}) {
		t.Errorf("first line box = %+v", top.Box)
	}
	if !strings.HasPrefix(top.Text, "text for task-line-000") {
		t.Errorf("first line text = %q", top.Text)
	}
	if top.Error != "" {
		t.Errorf("first line error = %q", top.Error)
	}

	bottom := rr.Lines[1]
	if bottom.LineIndex != 1 || bottom.Box.Y != 45 {
		t.Errorf("second line = %+v", bottom)
	}
	if !strings.HasPrefix(bottom.Text, "text for task-line-001") {
		t.Errorf("second line text = %q", bottom.Text)
	}

	// Hints are matched to lines by index.
	for _, req := range rec.submitted() {
		switch {
		case strings.HasPrefix(req.ImageName, "line-000") && req.Wording != "alpha":
			t.Errorf("line 0 wording = %q, want alpha", req.Wording)
		case strings.HasPrefix(req.ImageName, "line-001") && req.Wording != "beta":
			t.Errorf("line 1 wording = %q, want beta", req.Wording)
		}
	}
}

func TestExecuteTool_ImageDiffRecognize_PartialFailure(t *testing.T) {
	rec := &fakeRecognizer{failFor: "line-001"}
	s := New().WithRecognizer(rec).WithOrchestratorConfig(fastOrchestratorConfig())

	beforePath, afterPath := createDiffPair(t)
	defer os.Remove(beforePath)
	defer os.Remove(afterPath)

	result, err := callTool(t, s, "image_diff_recognize", map[string]interface{}{
		"before_path": beforePath,
		"after_path":  afterPath,
	})
	if err != nil {
		t.Fatalf("image_diff_recognize failed: %v", err)
	}

	rr := result.(*diffRecognizeResult)
	if len(rr.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(rr.Lines))
	}
	if rr.Lines[0].Error != "" || rr.Lines[0].Text == "" {
		t.Errorf("healthy line affected by sibling failure: %+v", rr.Lines[0])
	}
	if rr.Lines[1].Error == "" {
		t.Errorf("failed line reported no error: %+v", rr.Lines[1])
	}
}

func TestExecuteTool_ImageDiffRecognize_CancelledContext(t *testing.T) {
	rec := &fakeRecognizer{stall: true}
	s := New().WithRecognizer(rec).WithOrchestratorConfig(fastOrchestratorConfig())

	beforePath, afterPath := createDiffPair(t)
	defer os.Remove(beforePath)
	defer os.Remove(afterPath)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	args, err := json.Marshal(map[string]interface{}{
		"before_path": beforePath,
		"after_path":  afterPath,
	})
	if err != nil {
		t.Fatalf("failed to marshal arguments: %v", err)
	}

	start := time.Now()
	result, err := s.executeTool(ctx, "image_diff_recognize", args)
	if err != nil {
		t.Fatalf("image_diff_recognize failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("cancelled recognition still ran for %s", elapsed)
	}

	// The tasks never finish, so without the cancellation every line would
	// wait out the full batch timeout.
	rr := result.(*diffRecognizeResult)
	if len(rr.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(rr.Lines))
	}
	for _, line := range rr.Lines {
		if !strings.Contains(line.Error, "batch timed out") {
			t.Errorf("line %d error = %q, want a batch timeout", line.LineIndex, line.Error)
		}
	}
}

func TestExecuteTool_ImageDiffRecognize_NoChanges(t *testing.T) {
	rec := &fakeRecognizer{}
	s := New().WithRecognizer(rec).WithOrchestratorConfig(fastOrchestratorConfig())

	beforePath := createTestImageFile(t, 100, 60, color.White)
	afterPath := createTestImageFile(t, 100, 60, color.White)
	defer os.Remove(beforePath)
	defer os.Remove(afterPath)

	result, err := callTool(t, s, "image_diff_recognize", map[string]interface{}{
		"before_path": beforePath,
		"after_path":  afterPath,
	})
	if err != nil {
		t.Fatalf("image_diff_recognize failed: %v", err)
	}

	rr := result.(*diffRecognizeResult)
	if rr.Count != 0 || len(rr.Lines) != 0 {
		t.Errorf("expected no lines, got %+v", rr)
	}
	if len(rec.submitted()) != 0 {
		t.Error("recognizer called with no changed lines")
	}
}

func TestHandleToolsCall_WireFormat(t *testing.T) {
	s := New()
	beforePath, afterPath := createDiffPair(t)
	defer os.Remove(beforePath)
	defer os.Remove(afterPath)

	params := map[string]interface{}{
		"name": "image_diff",
		"arguments": map[string]interface{}{
			"before_path": beforePath,
			"after_path":  afterPath,
		},
	}
	paramsJSON, _ := json.Marshal(params)

	resp := s.handleToolsCall(context.Background(), &MCPRequest{JSONRPC: "2.0", ID: 7, Params: paramsJSON})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result type = %T", resp.Result)
	}
	content, ok := result["content"].([]map[string]interface{})
	if !ok || len(content) != 1 {
		t.Fatalf("content = %#v", result["content"])
	}
	text, ok := content[0]["text"].(string)
	if !ok {
		t.Fatalf("content text = %#v", content[0]["text"])
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		t.Fatalf("content text is not JSON: %v", err)
	}
	if got, ok := payload["diff_pixels"].(float64); !ok || got != 360 {
		t.Errorf("diff_pixels = %v, want 360", payload["diff_pixels"])
	}
	if _, ok := payload["mask_base64"].(string); !ok {
		t.Error("mask_base64 missing from wire payload")
	}
}
