// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine defines the upstream completion+retrieval boundary.
//
// The coordinator issues one request and consumes an ordered event
// stream. Modeling the stream as a pull interface keeps the citation
// extractor and the stream coordinator testable against a synthetic
// event producer, decoupled from any concrete provider client.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// EventType discriminates upstream stream events. Event kinds outside
// the known set must be ignored without failing the stream.
type EventType string

const (
	// EventTextDelta carries one increment of generated answer text.
	EventTextDelta EventType = "text-delta"

	// EventRetrievalResults carries the retrieval hits backing the
	// answer. Emitted before generation text starts.
	EventRetrievalResults EventType = "retrieval-results"

	// EventCompleted terminates a successful stream and may carry the
	// assembled final output.
	EventCompleted EventType = "completed"
)

// RetrievalResult is one retrieval hit from the index.
type RetrievalResult struct {
	Filename string  `json:"filename"`
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
}

// Event is one element of the upstream stream.
type Event struct {
	Type    EventType         `json:"type"`
	Text    string            `json:"text,omitempty"`
	Results []RetrievalResult `json:"results,omitempty"`
	Final   string            `json:"final,omitempty"`
}

// AnswerRequest is the single request the coordinator issues upstream.
type AnswerRequest struct {
	// SystemInstructions frame the generation.
	SystemInstructions string

	// Question is the screened user question.
	Question string

	// IndexRef names the retrieval index (the Weaviate class) to search.
	IndexRef string

	// MaxResults caps retrieval hits. Zero means the engine default.
	MaxResults int
}

// AnswerStream is a pull-based event stream. Recv returns io.EOF after
// the terminal event has been consumed; any other error is a transport
// failure. Recv is not safe for concurrent use: one session consumes
// its stream on a single dedicated loop so event ordering is preserved.
type AnswerStream interface {
	Recv() (Event, error)
	Close() error
}

// Engine opens answer streams.
type Engine interface {
	Open(ctx context.Context, req AnswerRequest) (AnswerStream, error)
}

// =============================================================================
// Errors
// =============================================================================

// EngineError reports an upstream failure with enough structure for the
// caller to distinguish transport trouble from misconfiguration.
type EngineError struct {
	Stage     string // "retrieval" or "generation"
	Retryable bool
	Err       error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s failed: %v", e.Stage, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// IsEOF reports whether err terminates a stream normally.
func IsEOF(err error) bool { return errors.Is(err, io.EOF) }
