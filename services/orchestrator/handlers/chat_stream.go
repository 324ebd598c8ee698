// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/answerdock/answerdock/services/engine"
	"github.com/answerdock/answerdock/services/guard"
	"github.com/answerdock/answerdock/services/orchestrator/citations"
	"github.com/answerdock/answerdock/services/orchestrator/datatypes"
	"github.com/answerdock/answerdock/services/orchestrator/observability"
	"github.com/answerdock/answerdock/services/orchestrator/registry"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// defaultHeartbeatInterval is the keepalive ping cadence.
	defaultHeartbeatInterval = 15 * time.Second

	// defaultStreamTimeout bounds one complete answer stream.
	defaultStreamTimeout = 5 * time.Minute

	// clientErrUpstream is the sanitized message for engine failures.
	clientErrUpstream = "the answer service is unavailable"
)

// =============================================================================
// Handler
// =============================================================================

// ChatStreamConfig configures the streaming chat handler.
type ChatStreamConfig struct {
	// SystemInstructions frame every generation request.
	SystemInstructions string

	// IndexRef is the Weaviate class holding page blocks.
	IndexRef string

	// HeartbeatInterval is the keepalive cadence. Zero uses the default.
	HeartbeatInterval time.Duration

	// StreamTimeout bounds one stream end to end. Zero uses the default.
	StreamTimeout time.Duration
}

// ChatStreamHandler coordinates one SSE answer stream per request:
// screen the question, open the engine stream, relay deltas, then
// finalize with citations and output scrubbing.
type ChatStreamHandler struct {
	engine   engine.Engine
	filter   *guard.Filter
	registry *registry.Registry
	cfg      ChatStreamConfig
	tracer   trace.Tracer
}

// NewChatStreamHandler wires the streaming chat handler.
func NewChatStreamHandler(eng engine.Engine, filter *guard.Filter, reg *registry.Registry, cfg ChatStreamConfig) *ChatStreamHandler {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = defaultStreamTimeout
	}
	return &ChatStreamHandler{
		engine:   eng,
		filter:   filter,
		registry: reg,
		cfg:      cfg,
		tracer:   otel.Tracer("answerdock/orchestrator"),
	}
}

// HandleChatStream handles POST /v1/chat/stream.
//
// # Description
//
// Runs the full session state machine. Admission failures (bad body,
// screened-out question) are plain HTTP errors; once the SSE response
// has begun, failures surface as a terminal error frame instead. A
// client disconnect aborts the stream with no terminal frame.
//
// Delta frames relay engine text verbatim, markers included. The done
// frame carries the cleaned answer: citation markers stripped, any
// trailing sources line dropped, instruction leakage scrubbed. When
// retrieval produced nothing, the answer is replaced with a fixed
// no-evidence phrase in the question's language and sources are empty.
//
// # Inputs
//
//	c - Gin context carrying the HTTP request and response writer
//
// # Outputs
//
// None. All results are written to the response.
//
// # Limitations
//
//   - Single question per request; no conversation history
func (h *ChatStreamHandler) HandleChatStream(c *gin.Context) {
	startTime := time.Now()

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()

	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted()
		defer m.StreamEnded()
	}

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest("chat_stream", success)
			m.RecordStreamDuration(time.Since(startTime).Seconds(), success)
		}
	}()

	// Step 1: Parse and validate the request body.
	var req datatypes.ChatStreamRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		slog.Error("Failed to parse chat stream request", "error", err)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
		return
	}
	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		slog.Error("Chat stream request validation failed",
			"error", err,
			"requestId", req.RequestID)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request: validation failed"})
		return
	}
	span.SetAttributes(attribute.String("request.id", req.RequestID))

	// Step 2: Screen the question before anything reaches the engine.
	if screening := h.filter.ScreenInput(req.Question); screening.Blocked {
		span.SetAttributes(attribute.String("filter.category", string(screening.Category)))
		slog.Warn("Blocked chat stream question",
			"category", screening.Category,
			"requestId", req.RequestID)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordFilterBlock(string(screening.Category))
		}
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
			Error:    "question blocked by content filter",
			Reason:   screening.Reason,
			Category: string(screening.Category),
		})
		return
	}

	// Step 3: Seed the citation environment with the known corpus.
	knownDocs, err := h.registry.Names(ctx)
	if err != nil {
		// Citations degrade to default-document attribution only.
		slog.Warn("Could not list known documents",
			"error", err,
			"requestId", req.RequestID)
	}
	env := citations.Env{KnownDocuments: knownDocs}
	if len(knownDocs) > 0 {
		// Bare page tokens with no filename nearby fall back to the
		// corpus's first document.
		env.DefaultDocument = knownDocs[0]
	}
	extractor := citations.NewExtractor(env)

	// Step 4: Allocate the secure accumulator for the final answer.
	acc, err := NewAnswerAccumulator()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "secure memory unavailable")
		slog.Error("Failed to create answer accumulator",
			"error", err,
			"requestId", req.RequestID)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "secure memory unavailable"})
		return
	}
	defer acc.Destroy()

	// Step 5: Open the engine stream. Retrieval runs here, so failures
	// still surface as plain HTTP errors.
	streamCtx, cancel := context.WithTimeout(ctx, h.cfg.StreamTimeout)
	defer cancel()

	answerStream, err := h.engine.Open(streamCtx, engine.AnswerRequest{
		SystemInstructions: h.cfg.SystemInstructions,
		Question:           req.Question,
		IndexRef:           h.cfg.IndexRef,
		MaxResults:         req.MaxResults,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "engine open failed")
		slog.Error("Failed to open answer stream",
			"error", err,
			"requestId", req.RequestID)
		c.JSON(http.StatusBadGateway, datatypes.ErrorResponse{Error: clientErrUpstream})
		return
	}
	defer func() { _ = answerStream.Close() }()

	// Step 6: Switch to SSE.
	SetSSEHeaders(c.Writer)
	writer, err := NewFrameWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		slog.Error("Failed to create frame writer",
			"error", err,
			"requestId", req.RequestID)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "streaming not supported"})
		return
	}

	// Step 7: Heartbeat until the event loop finishes.
	heartbeatDone := make(chan struct{})
	go h.runHeartbeat(streamCtx, writer, heartbeatDone)
	defer close(heartbeatDone)

	// Step 8: Single event loop. One goroutine consumes the stream so
	// frame order matches event order.
	if outcome := h.consumeStream(streamCtx, answerStream, writer, extractor, acc, req, span); outcome != outcomeCompleted {
		return
	}

	// Step 9: Finalize.
	h.finalize(writer, extractor, acc, req, span)
	success = true
}

// =============================================================================
// Event Loop
// =============================================================================

type streamOutcome int

const (
	outcomeCompleted streamOutcome = iota
	outcomeFailed                  // error frame written
	outcomeAborted                 // client gone, no terminal frame
)

// consumeStream relays engine events until the terminal event. On an
// engine failure the partial text already sent stays sent; the stream
// ends with an error frame instead of a done frame.
func (h *ChatStreamHandler) consumeStream(
	ctx context.Context,
	stream engine.AnswerStream,
	writer FrameWriter,
	extractor *citations.Extractor,
	acc AnswerAccumulator,
	req datatypes.ChatStreamRequest,
	span trace.Span,
) streamOutcome {
	firstDelta := time.Time{}
	admitted := time.Now()
	accumulated := 0

	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return outcomeCompleted
		}
		if err != nil {
			if ctx.Err() != nil {
				// Client disconnect or timeout: abort, no terminal frame.
				span.SetAttributes(attribute.Bool("stream.aborted", true))
				slog.Info("Chat stream aborted",
					"reason", ctx.Err(),
					"requestId", req.RequestID)
				if m := observability.DefaultMetrics; m != nil {
					m.RecordClientDisconnect()
				}
				return outcomeAborted
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "engine stream failed")
			slog.Error("Answer stream failed",
				"error", err,
				"requestId", req.RequestID)
			if werr := writer.WriteFrame(datatypes.ErrorFrame(clientErrUpstream)); werr != nil {
				slog.Debug("Failed to write error frame", "error", werr)
			}
			return outcomeFailed
		}

		switch ev.Type {
		case engine.EventRetrievalResults:
			for _, r := range ev.Results {
				extractor.HarvestResult(r.Filename, r.Text)
			}
			span.SetAttributes(attribute.Int("retrieval.hits", len(ev.Results)))

		case engine.EventTextDelta:
			if firstDelta.IsZero() {
				firstDelta = time.Now()
				if m := observability.DefaultMetrics; m != nil {
					m.RecordTimeToFirstDelta(firstDelta.Sub(admitted).Seconds())
				}
			}
			if err := acc.Write(ev.Text); err != nil {
				span.RecordError(err)
				slog.Error("Accumulator write failed",
					"error", err,
					"requestId", req.RequestID)
				if werr := writer.WriteFrame(datatypes.ErrorFrame("answer too large")); werr != nil {
					slog.Debug("Failed to write error frame", "error", werr)
				}
				return outcomeFailed
			}
			accumulated += len(ev.Text)
			// Deltas relay verbatim; cleanup happens once at the end.
			if err := writer.WriteFrame(datatypes.DeltaFrame(ev.Text)); err != nil {
				slog.Info("Client write failed mid-stream",
					"error", err,
					"requestId", req.RequestID)
				if m := observability.DefaultMetrics; m != nil {
					m.RecordClientDisconnect()
				}
				return outcomeAborted
			}

		case engine.EventCompleted:
			// Engines that streamed deltas repeat the assembled answer
			// here; skip the duplicate. An engine that sent no deltas
			// delivers the whole answer in this one event.
			if accumulated == 0 && ev.Final != "" {
				if err := acc.Write(ev.Final); err != nil {
					span.RecordError(err)
					slog.Error("Accumulator write failed",
						"error", err,
						"requestId", req.RequestID)
					if werr := writer.WriteFrame(datatypes.ErrorFrame("answer too large")); werr != nil {
						slog.Debug("Failed to write error frame", "error", werr)
					}
					return outcomeFailed
				}
				accumulated = len(ev.Final)
			}
			span.SetAttributes(attribute.Int("answer.final_bytes", len(ev.Final)))

		default:
			// Unknown event kinds never fail the stream.
			slog.Debug("Ignoring unknown stream event",
				"type", ev.Type,
				"requestId", req.RequestID)
		}
	}
}

// finalize builds and writes the done frame.
func (h *ChatStreamHandler) finalize(
	writer FrameWriter,
	extractor *citations.Extractor,
	acc AnswerAccumulator,
	req datatypes.ChatStreamRequest,
	span trace.Span,
) {
	answer, digest, err := acc.Finalize()
	if err != nil {
		span.RecordError(err)
		slog.Error("Accumulator finalize failed",
			"error", err,
			"requestId", req.RequestID)
		if werr := writer.WriteFrame(datatypes.ErrorFrame("answer finalization failed")); werr != nil {
			slog.Debug("Failed to write error frame", "error", werr)
		}
		return
	}

	extractor.Harvest(answer, "")
	sources := extractor.Finalize()
	if m := observability.DefaultMetrics; m != nil {
		m.RecordCitations(extractor.Hits())
	}

	// The trailing sources line is redundant only when the structured
	// source list actually carries something.
	cleaned := citations.StripMarkers(answer, len(sources) > 0)
	cleaned = h.filter.ScreenOutput(cleaned)

	// No citations and nothing left after cleanup means the corpus had
	// no evidence for this question.
	if len(sources) == 0 && cleaned == "" {
		cleaned = noEvidenceAnswer(req.Question)
	}

	slog.Info("Chat stream completed",
		"requestId", req.RequestID,
		"answer_length", len(cleaned),
		"answer_sha256", digest,
		"sources", len(sources))

	if err := writer.WriteFrame(datatypes.DoneFrame(cleaned, sources)); err != nil {
		slog.Debug("Failed to write done frame",
			"error", err,
			"requestId", req.RequestID)
	}
}

// runHeartbeat sends keepalive pings until the stream finishes.
func (h *ChatStreamHandler) runHeartbeat(ctx context.Context, writer FrameWriter, done <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("Failed to write keepalive", "error", err)
				return
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordKeepAlive()
			}
		}
	}
}

// noEvidenceAnswer picks the fixed no-evidence phrase by the dominant
// script of the question.
func noEvidenceAnswer(question string) string {
	arabic := 0
	latin := 0
	for _, r := range question {
		switch {
		case unicode.Is(unicode.Arabic, r):
			arabic++
		case unicode.IsLetter(r):
			latin++
		}
	}
	if arabic > latin {
		return datatypes.NoEvidenceAnswerArabic
	}
	return datatypes.NoEvidenceAnswerEnglish
}
