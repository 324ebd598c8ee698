// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate/entities/models"
)

// WeaviateChunkStore stores page chunks as objects of one Weaviate
// class with filename, text, and page properties.
type WeaviateChunkStore struct {
	client    *weaviate.Client
	className string
}

// NewWeaviateChunkStore creates a chunk store over the given class.
func NewWeaviateChunkStore(client *weaviate.Client, className string) (*WeaviateChunkStore, error) {
	if client == nil {
		return nil, fmt.Errorf("weaviate client is required")
	}
	if className == "" {
		return nil, fmt.Errorf("class name is required")
	}
	return &WeaviateChunkStore{client: client, className: className}, nil
}

// InsertChunks indexes a batch of chunks in one round trip.
func (s *WeaviateChunkStore) InsertChunks(ctx context.Context, chunks []PageChunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	objects := make([]*models.Object, 0, len(chunks))
	for _, chunk := range chunks {
		objects = append(objects, &models.Object{
			Class: s.className,
			ID:    strfmt.UUID(uuid.NewString()),
			Properties: map[string]interface{}{
				"filename": chunk.Document,
				"text":     chunk.Text,
				"page":     chunk.Page,
			},
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().
		WithObjects(objects...).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("batch insert failed: %w", err)
	}

	stored := 0
	for _, obj := range resp {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			slog.Warn("Chunk rejected by index",
				"class", s.className,
				"error", obj.Result.Errors.Error[0].Message)
			continue
		}
		stored++
	}
	if stored == 0 {
		return 0, fmt.Errorf("index rejected every chunk in the batch")
	}
	return stored, nil
}

// DeleteDocument removes every chunk whose filename matches.
func (s *WeaviateChunkStore) DeleteDocument(ctx context.Context, document string) (int, error) {
	where := filters.Where().
		WithPath([]string{"filename"}).
		WithOperator(filters.Equal).
		WithValueString(document)

	resp, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(s.className).
		WithWhere(where).
		WithOutput("minimal").
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("batch delete failed: %w", err)
	}
	if resp == nil || resp.Results == nil {
		return 0, nil
	}
	return int(resp.Results.Successful), nil
}

var _ ChunkStore = (*WeaviateChunkStore)(nil)
