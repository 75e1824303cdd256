// Package server implements the MCP (Model Context Protocol) server for image diffing tools.
//
// This package provides a JSON-RPC 2.0 server that exposes before/after
// image comparison through the MCP protocol. It's designed to work with
// Claude and other MCP-compatible clients, enabling AI systems to inspect
// exactly what changed between two renders of the same document or screen.
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
// The server provides 7 tools:
//
// Basic Image Information:
//   - image_load: Load image and get metadata
//   - image_dimensions: Get width and height
//
// Region Operations:
//   - image_crop: Extract rectangular region
//
// Diff Operations:
//   - image_diff: Pixel-level comparison with change mask
//   - image_diff_regions: Cluster changes into distinct regions
//   - image_diff_lines: Group changed regions into text lines
//   - image_diff_recognize: Recognize the text of changed lines
//
// The diff tools build on each other: regions clusters the raw pixel diff,
// lines groups the regions by reading order, and recognize submits each
// line crop to the configured recognition backend.
//
// # Recognition Backend
//
// image_diff_recognize needs a backend wired in with WithRecognizer: either
// an HTTP client for a remote recognition service or the in-process
// Tesseract backend. Without one the tool returns an error while all other
// tools keep working.
//
// # Image Caching
//
// The server maintains an in-memory cache of loaded images. Images are cached
// by path and reused across multiple tool calls, avoiding redundant disk I/O.
// The cache persists for the lifetime of the server process.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: Additional error details (typically the Go error string)
//
// # Usage
//
// The server is typically started by an MCP client:
//
//	srv := server.New().WithRecognizer(backend)
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Cancelling the context aborts in-flight recognition and stops the loop
// at the next request boundary.
package server
