package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/ironsheep/image-diff-mcp/internal/imaging"
	"github.com/ironsheep/image-diff-mcp/internal/ocr"
)

// Server handles MCP protocol communication
type Server struct {
	cache      *imaging.ImageCache
	recognizer ocr.Service
	orch       ocr.Config
	crop       ocr.CropOptions
}

// MCPRequest represents an incoming JSON-RPC request
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an outgoing JSON-RPC response
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents a JSON-RPC error
type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// MCPNotification represents an outgoing notification (no ID)
type MCPNotification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// New creates a new MCP server instance. Recognition starts disabled;
// wire a backend with WithRecognizer to enable image_diff_recognize.
func New() *Server {
	return &Server{
		cache: imaging.NewImageCache(),
		orch:  ocr.DefaultConfig(),
		crop:  ocr.DefaultCropOptions(),
	}
}

// WithRecognizer wires a recognition backend into the server, enabling the
// image_diff_recognize tool. A nil service leaves recognition disabled.
func (s *Server) WithRecognizer(svc ocr.Service) *Server {
	s.recognizer = svc
	return s
}

// WithOrchestratorConfig overrides the recognition orchestration parameters.
func (s *Server) WithOrchestratorConfig(cfg ocr.Config) *Server {
	s.orch = cfg
	return s
}

// WithCropOptions overrides how detected line boxes are cropped before
// submission to the recognizer.
func (s *Server) WithCropOptions(opts ocr.CropOptions) *Server {
	s.crop = opts
	return s
}

// Run starts the MCP server, reading from stdin and writing to stdout.
// The context is threaded into tool execution; cancelling it aborts
// in-flight work and stops the loop at the next request boundary.
func (s *Server) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)
	// Increase buffer size for large requests
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	encoder := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req MCPRequest
		if err := json.Unmarshal(line, &req); err != nil {
			log.Warn().Err(err).Msg("failed to parse request")
			continue
		}

		resp := s.handleRequest(ctx, &req)
		if resp != nil {
			if err := encoder.Encode(resp); err != nil {
				log.Error().Err(err).Msg("failed to encode response")
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	return nil
}

// handleRequest routes requests to appropriate handlers
func (s *Server) handleRequest(ctx context.Context, req *MCPRequest) *MCPResponse {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		// Client acknowledgment, no response needed
		return nil
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "ping":
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  map[string]interface{}{},
		}
	default:
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &MCPError{
				Code:    -32601,
				Message: fmt.Sprintf("Method not found: %s", req.Method),
			},
		}
	}
}

// handleInitialize responds to the initialize request
func (s *Server) handleInitialize(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    "image-diff-mcp",
				"version": "0.1.0",
			},
		},
	}
}
