// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/answerdock/answerdock/services/orchestrator/datatypes"
)

// =============================================================================
// Interface
// =============================================================================

// FrameWriter writes stream frames to an SSE response.
//
// # Description
//
// Every frame goes out as a single data line holding the frame JSON:
//
//	data: {json}
//
// The frame type lives inside the JSON payload, not in an SSE event
// field, so plain EventSource clients receive every frame through
// their default message handler.
type FrameWriter interface {
	// WriteFrame serializes and writes one frame, flushing immediately.
	WriteFrame(frame datatypes.StreamFrame) error

	// WriteKeepAlive sends a comment line to prevent connection
	// timeouts. Comments are ignored by SSE clients but reset load
	// balancer idle counters.
	WriteKeepAlive() error
}

// =============================================================================
// Implementation
// =============================================================================

// frameWriter is the http.ResponseWriter-backed FrameWriter.
//
// # Thread Safety
//
// Thread-safe via mutex. The event loop and the keepalive goroutine
// write concurrently; the mutex keeps frames from interleaving.
//
// # Limitations
//
//   - Cannot be reused across requests
//
// # Assumptions
//
//   - Response headers already set by caller via SetSSEHeaders
type frameWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewFrameWriter creates a FrameWriter over the given ResponseWriter.
//
// # Inputs
//
//   - w: HTTP ResponseWriter. Must implement http.Flusher.
//
// # Outputs
//
//   - FrameWriter: Ready to write frames.
//   - error: Non-nil if the ResponseWriter does not support flushing.
func NewFrameWriter(w http.ResponseWriter) (FrameWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &frameWriter{writer: w, flusher: flusher}, nil
}

func (w *frameWriter) WriteFrame(frame datatypes.StreamFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	w.flusher.Flush()
	return nil
}

func (w *frameWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// SetSSEHeaders configures response headers for SSE streaming. Must be
// called before any body write.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ FrameWriter = (*frameWriter)(nil)
