// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"golang.org/x/time/rate"
)

const defaultMaxResults = 6

// RAGConfig configures the retrieval-augmented engine.
type RAGConfig struct {
	// Model is the chat completion model name.
	Model string

	// MaxResults is the default retrieval hit cap when a request does
	// not specify one.
	MaxResults int

	// UpstreamRPS throttles completion requests to the provider. Zero
	// disables throttling.
	UpstreamRPS float64
}

// RAGEngine answers questions by searching a Weaviate class for
// relevant page blocks and streaming a completion grounded on them.
type RAGEngine struct {
	weaviate *weaviate.Client
	oai      *openai.Client
	cfg      RAGConfig
	limiter  *rate.Limiter
}

var _ Engine = (*RAGEngine)(nil)

// NewRAGEngine builds an engine over an existing Weaviate client and
// OpenAI-compatible completion client.
func NewRAGEngine(weaviateClient *weaviate.Client, oaiClient *openai.Client, cfg RAGConfig) *RAGEngine {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultMaxResults
	}
	var limiter *rate.Limiter
	if cfg.UpstreamRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.UpstreamRPS), 1)
	}
	return &RAGEngine{
		weaviate: weaviateClient,
		oai:      oaiClient,
		cfg:      cfg,
		limiter:  limiter,
	}
}

// Open runs retrieval synchronously, then opens the completion stream.
// The returned stream yields the retrieval-results event first, then
// text deltas, then the completed event.
//
// # Description
//
//	Retrieval failures surface from Open itself so the caller can
//	report an error before any frame is written. Generation failures
//	surface from Recv on the returned stream.
//
// # Inputs
//
//	ctx - Governs retrieval, throttling, and the completion stream
//	req - Question, index reference, and optional result cap
//
// # Outputs
//
//	AnswerStream - Ordered event stream, nil on error
//	error - *EngineError on retrieval or stream-open failure
func (e *RAGEngine) Open(ctx context.Context, req AnswerRequest) (AnswerStream, error) {
	results, err := e.retrieve(ctx, req)
	if err != nil {
		return nil, &EngineError{Stage: "retrieval", Retryable: true, Err: err}
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, &EngineError{Stage: "generation", Retryable: false, Err: err}
		}
	}

	stream, err := e.oai.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: e.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemInstructions},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(req.Question, results)},
		},
		Stream: true,
	})
	if err != nil {
		return nil, &EngineError{Stage: "generation", Retryable: true, Err: err}
	}

	slog.Debug("Opened answer stream",
		"index", req.IndexRef,
		"retrieval_hits", len(results))

	return &ragStream{upstream: stream, results: results}, nil
}

func (e *RAGEngine) retrieve(ctx context.Context, req AnswerRequest) ([]RetrievalResult, error) {
	limit := req.MaxResults
	if limit <= 0 {
		limit = e.cfg.MaxResults
	}

	nearText := e.weaviate.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{req.Question})

	fields := []graphql.Field{
		{Name: "filename"},
		{Name: "text"},
		{Name: "_additional { certainty }"},
	}

	result, err := e.weaviate.GraphQL().Get().
		WithClassName(req.IndexRef).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("search error: %s", result.Errors[0].Message)
	}

	return parseRetrieval(result.Data["Get"], req.IndexRef), nil
}

// parseRetrieval walks the GraphQL response shape. Malformed entries
// are skipped instead of failing the whole retrieval.
func parseRetrieval(raw any, className string) []RetrievalResult {
	get, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	items, ok := get[className].([]any)
	if !ok {
		return nil
	}

	results := make([]RetrievalResult, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		r := RetrievalResult{}
		r.Filename, _ = obj["filename"].(string)
		r.Text, _ = obj["text"].(string)
		if add, ok := obj["_additional"].(map[string]any); ok {
			if c, ok := add["certainty"].(float64); ok {
				r.Score = c
			}
		}
		if r.Text == "" {
			continue
		}
		results = append(results, r)
	}
	return results
}

// buildPrompt assembles the grounded user prompt. Retrieved blocks are
// passed through verbatim so their page markers survive into the
// generation context.
func buildPrompt(question string, results []RetrievalResult) string {
	var sb strings.Builder
	sb.WriteString("Context:\n\n")
	for _, r := range results {
		sb.WriteString(r.Text)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Question: ")
	sb.WriteString(question)
	return sb.String()
}

// =============================================================================
// Stream
// =============================================================================

type ragStream struct {
	upstream *openai.ChatCompletionStream
	results  []RetrievalResult

	sentResults bool
	done        bool
	final       strings.Builder
}

func (s *ragStream) Recv() (Event, error) {
	if !s.sentResults {
		s.sentResults = true
		return Event{Type: EventRetrievalResults, Results: s.results}, nil
	}
	if s.done {
		return Event{}, io.EOF
	}

	for {
		resp, err := s.upstream.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			return Event{Type: EventCompleted, Final: s.final.String()}, nil
		}
		if err != nil {
			s.done = true
			return Event{}, &EngineError{Stage: "generation", Retryable: true, Err: err}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		s.final.WriteString(delta)
		return Event{Type: EventTextDelta, Text: delta}, nil
	}
}

func (s *ragStream) Close() error {
	if s.upstream != nil {
		return s.upstream.Close()
	}
	return nil
}
