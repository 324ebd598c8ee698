// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/answerdock/answerdock/services/orchestrator/datatypes"
)

// bareWriter implements http.ResponseWriter without http.Flusher.
type bareWriter struct{}

func (bareWriter) Header() http.Header       { return http.Header{} }
func (bareWriter) Write(b []byte) (int, error) { return len(b), nil }
func (bareWriter) WriteHeader(int)           {}

func TestNewFrameWriter_RequiresFlusher(t *testing.T) {
	_, err := NewFrameWriter(bareWriter{})
	require.Error(t, err)
}

func TestFrameWriter_DataOnlyFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewFrameWriter(rec)
	require.NoError(t, err)

	require.NoError(t, writer.WriteFrame(datatypes.DeltaFrame("hello")))

	body := rec.Body.String()
	assert.Equal(t, "data: {\"type\":\"delta\",\"text\":\"hello\"}\n\n", body)
	// Data-only protocol: no "event:" field, the type lives in the JSON.
	assert.NotContains(t, body, "event:")
}

func TestFrameWriter_KeepAliveIsComment(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewFrameWriter(rec)
	require.NoError(t, err)

	require.NoError(t, writer.WriteKeepAlive())
	assert.Equal(t, ": ping\n\n", rec.Body.String())
}

func TestFrameWriter_ConcurrentWrites(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewFrameWriter(rec)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = writer.WriteFrame(datatypes.DeltaFrame("x"))
		}()
		go func() {
			defer wg.Done()
			_ = writer.WriteKeepAlive()
		}()
	}
	wg.Wait()

	// Interleaved writers must never tear a frame.
	for _, chunk := range splitFrames(rec.Body.String()) {
		assert.True(t,
			chunk == ": ping" || chunk == `data: {"type":"delta","text":"x"}`,
			"unexpected frame %q", chunk)
	}
}

func splitFrames(body string) []string {
	var out []string
	start := 0
	for i := 0; i+1 < len(body); i++ {
		if body[i] == '\n' && body[i+1] == '\n' {
			out = append(out, body[start:i])
			start = i + 2
		}
	}
	return out
}

func TestSetSSEHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSSEHeaders(rec)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
}
