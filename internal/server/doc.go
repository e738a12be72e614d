// Package server implements the MCP (Model Context Protocol) server that
// exposes drawing-to-NC synthesis as tools.
//
// The server is a JSON-RPC 2.0 endpoint over stdio. A client hands it the
// recognized contours of a drawing (or the drawing image itself) plus a
// structured machining directive, and gets back features, a process recipe
// or a complete FANUC-style NC program.
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
// Logs go to stderr through logrus; stdout carries only protocol messages.
//
// # Available Tools
//
// Drawing input:
//   - nc_drawing_info: Load a drawing and report its size and format
//   - nc_extract_contours: Raw contours from a clean drawing raster
//   - nc_render_overlay: Detected features drawn over the drawing
//
// Feature recognition:
//   - nc_classify_contours: Contours to circles, rectangles, polygons, ellipses
//   - nc_detect_features: Duplicates, counterbores, pitch circles, pockets
//   - nc_normalize: Translate features into the machining frame
//
// Planning and emission:
//   - nc_plan: Ordered machining stages with tools and cutting data
//   - nc_generate_program: The complete flow, ending in NC program text
//   - nc_generate_batch: Several independent jobs on the worker pool
//
// Reference data:
//   - nc_thread_table: Configured threads, tap drills and tool numbers
//
// # Drawing Caching
//
// Drawings are decoded once per path and reused by the extraction and
// overlay tools for the lifetime of the process.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: The Go error string
//
// Non-fatal findings such as an under-matched hole pattern are not errors;
// they travel in the diagnostics of the tool result.
//
// # Usage
//
//	srv := server.New(cfg, logger, version)
//	if err := srv.Run(ctx); err != nil {
//	    logger.Fatal(err)
//	}
package server
