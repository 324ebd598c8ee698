// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides request, response, and wire frame types
// for the orchestrator service.
//
// This file contains the streaming chat request and the SSE frame
// model. For document ingestion types, see documents.go.
package datatypes

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/answerdock/answerdock/services/orchestrator/citations"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxQuestionBytes is the maximum size of a chat question. Byte
	// length, not rune count, to bound memory regardless of encoding.
	MaxQuestionBytes = 16 * 1024 // 16KB

	// MaxRetrievalResults caps the client-requested retrieval limit.
	MaxRetrievalResults = 20
)

// Answer phrases returned when retrieval produced no usable evidence.
// The coordinator picks by the dominant script of the question.
const (
	NoEvidenceAnswerEnglish = "I could not find an answer to your question in the uploaded documents."
	NoEvidenceAnswerArabic  = "لم أتمكن من العثور على إجابة لسؤالك في المستندات المرفوعة."
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateQuestionBytes)
}

// validateQuestionBytes rejects question fields over MaxQuestionBytes.
func validateQuestionBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQuestionBytes
}

// =============================================================================
// Chat Stream Request
// =============================================================================

// ChatStreamRequest represents the body of POST /v1/chat/stream.
//
// # Description
//
// Carries one user question for a retrieval-grounded streaming answer.
// Every request includes a unique ID and timestamp for audit trails;
// both are generated server-side when the client omits them.
//
// # Fields
//
//   - RequestID: Optional. UUID v4 correlating logs and frames.
//   - Timestamp: Optional. Unix milliseconds (UTC) at request creation.
//   - Question: Required. The user question, max 16KB.
//   - MaxResults: Optional. Retrieval hit cap, 0-20. Zero uses the
//     server default.
//
// # Validation
//
// Uses go-playground/validator:
//   - Question: required, maxbytes custom rule (16KB)
//   - MaxResults: 0-20
//
// # Limitations
//
//   - Single-turn only. Conversation history is out of scope for this
//     endpoint; each request stands alone.
type ChatStreamRequest struct {
	RequestID  string `json:"request_id" validate:"omitempty,uuid4"`
	Timestamp  int64  `json:"timestamp" validate:"gte=0"`
	Question   string `json:"question" binding:"required" validate:"required,maxbytes"`
	MaxResults int    `json:"max_results" validate:"gte=0,lte=20"`
}

// Validate validates the ChatStreamRequest fields.
func (r *ChatStreamRequest) Validate() error {
	return chatValidate.Struct(r)
}

// EnsureDefaults populates RequestID and Timestamp if the client
// omitted them.
func (r *ChatStreamRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = uuid.NewString()
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
}

// =============================================================================
// Stream Frames
// =============================================================================

// FrameType discriminates the SSE frames written to the client.
type FrameType string

const (
	// FrameDelta carries one increment of answer text.
	FrameDelta FrameType = "delta"

	// FrameDone terminates a successful stream with the final answer
	// and its sources.
	FrameDone FrameType = "done"

	// FrameError terminates a failed stream with a client-safe message.
	FrameError FrameType = "error"
)

// StreamFrame is the JSON payload of one SSE data line.
//
// # Description
//
// Exactly one terminal frame (done or error) ends every stream that is
// not aborted by client disconnect. Delta frames carry only Text; the
// done frame carries the cleaned full answer plus deduplicated sources;
// the error frame carries a sanitized message without internal detail.
//
// # Examples
//
//	data: {"type":"delta","text":"The leave policy"}
//
//	data: {"type":"done","answer":"...","sources":[{"document":"Policy.pdf","page":5}]}
//
//	data: {"type":"error","error":"the answer service is unavailable"}
type StreamFrame struct {
	Type    FrameType          `json:"type"`
	Text    string             `json:"text,omitempty"`
	Answer  string             `json:"answer,omitempty"`
	Sources []citations.Source `json:"sources"`
	Error   string             `json:"error,omitempty"`
}

// MarshalJSON keeps sources out of non-terminal frames while always
// emitting the key, empty list included, on the done frame.
func (f StreamFrame) MarshalJSON() ([]byte, error) {
	type frame StreamFrame
	if f.Type != FrameDone {
		return json.Marshal(struct {
			frame
			Sources []citations.Source `json:"sources,omitempty"`
		}{frame: frame(f)})
	}
	if f.Sources == nil {
		f.Sources = []citations.Source{}
	}
	return json.Marshal(frame(f))
}

// DeltaFrame builds a delta frame for one text increment.
func DeltaFrame(text string) StreamFrame {
	return StreamFrame{Type: FrameDelta, Text: text}
}

// DoneFrame builds the terminal success frame. A nil source slice is
// normalized to an empty list so the encoded JSON always carries the
// sources key on success.
func DoneFrame(answer string, sources []citations.Source) StreamFrame {
	if sources == nil {
		sources = []citations.Source{}
	}
	return StreamFrame{Type: FrameDone, Answer: answer, Sources: sources}
}

// ErrorFrame builds the terminal failure frame.
func ErrorFrame(message string) StreamFrame {
	return StreamFrame{Type: FrameError, Error: message}
}
