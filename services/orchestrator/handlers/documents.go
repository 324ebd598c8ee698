// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/answerdock/answerdock/pkg/pagetag"
	"github.com/answerdock/answerdock/services/orchestrator/datatypes"
	"github.com/answerdock/answerdock/services/orchestrator/observability"
	"github.com/answerdock/answerdock/services/orchestrator/registry"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// defaultChunkSize is the target chunk length in characters. Page
	// markers ride on top of this, so retrieval blocks stay a little
	// larger.
	defaultChunkSize = 1200

	// defaultChunkOverlap keeps sentence context across chunk edges.
	defaultChunkOverlap = 150
)

// =============================================================================
// Chunk Store
// =============================================================================

// PageChunk is one retrieval unit. Text already carries the page
// marker, so provenance survives indexing.
type PageChunk struct {
	Document string
	Page     int
	Text     string
}

// ChunkStore abstracts the vector index used for page chunks.
type ChunkStore interface {
	// InsertChunks indexes a batch of chunks and reports how many
	// were stored.
	InsertChunks(ctx context.Context, chunks []PageChunk) (int, error)

	// DeleteDocument removes every chunk belonging to one document and
	// reports how many objects were removed.
	DeleteDocument(ctx context.Context, document string) (int, error)
}

// =============================================================================
// Handler
// =============================================================================

// DocumentsHandler serves the document corpus endpoints: ingest,
// list, and delete. The vector index holds the chunks; the registry
// holds per-document bookkeeping so re-uploads of unchanged content
// become no-ops.
type DocumentsHandler struct {
	store    ChunkStore
	registry *registry.Registry
	splitter textsplitter.TextSplitter
}

// NewDocumentsHandler wires the document endpoints.
func NewDocumentsHandler(store ChunkStore, reg *registry.Registry) *DocumentsHandler {
	return &DocumentsHandler{
		store:    store,
		registry: reg,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(defaultChunkSize),
			textsplitter.WithChunkOverlap(defaultChunkOverlap),
		),
	}
}

// HandleIngestDocument handles POST /v1/documents.
//
// # Description
//
// Validates the upload, then compares its content hash against the
// registry. An identical re-upload is acknowledged without touching
// the index. A changed document is replaced atomically from the
// caller's view: old chunks are deleted, new chunks inserted, and the
// registry record swapped last.
//
// # Inputs
//
//	c - Gin context carrying the HTTP request and response writer
//
// # Outputs
//
// None. All results are written to the response.
func (h *DocumentsHandler) HandleIngestDocument(c *gin.Context) {
	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest("documents_ingest", success)
		}
	}()

	// Step 1: Parse and validate the upload.
	var req datatypes.IngestDocumentRequest
	if err := c.BindJSON(&req); err != nil {
		slog.Error("Failed to parse ingest request", "error", err)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		slog.Error("Ingest request validation failed", "error", err, "document", req.Name)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request: validation failed"})
		return
	}

	ctx := c.Request.Context()

	// Step 2: Hash the tagged corpus blob. The blob is the canonical
	// form of the document, so the hash ignores upload details that
	// cannot affect retrieval.
	pages := make([]pagetag.Page, 0, len(req.Pages))
	for _, p := range req.Pages {
		pages = append(pages, pagetag.Page{Number: p.PageNumber, Text: p.Text})
	}
	blob := pagetag.TagPages(req.Name, pages)
	if blob == "" {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "document has no extractable text"})
		return
	}
	sum := sha256.Sum256([]byte(blob))
	contentHash := hex.EncodeToString(sum[:])

	// Step 3: Short-circuit an unchanged re-upload.
	existing, found, err := h.registry.Get(ctx, req.Name)
	if err != nil {
		slog.Error("Registry lookup failed", "error", err, "document", req.Name)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "document registry unavailable"})
		return
	}
	if found && existing.ContentHash == contentHash {
		slog.Info("Document unchanged, skipping re-index", "document", req.Name)
		success = true
		c.JSON(http.StatusOK, datatypes.IngestDocumentResponse{
			Document:  req.Name,
			Pages:     existing.Pages,
			Chunks:    existing.Chunks,
			Unchanged: true,
		})
		return
	}

	// Step 4: Chunk each page independently so no chunk ever separates
	// a marker from the page text it describes.
	chunks, err := h.chunkPages(req.Name, pages)
	if err != nil {
		slog.Error("Failed to chunk document", "error", err, "document", req.Name)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "failed to chunk document"})
		return
	}

	// Step 5: Replace means delete-then-insert. A crash between the two
	// loses the old copy, never duplicates it.
	replaced := false
	if found {
		removed, err := h.store.DeleteDocument(ctx, req.Name)
		if err != nil {
			slog.Error("Failed to delete stale chunks", "error", err, "document", req.Name)
			c.JSON(http.StatusBadGateway, datatypes.ErrorResponse{Error: "document index unavailable"})
			return
		}
		replaced = true
		slog.Info("Removed stale chunks before re-index", "document", req.Name, "removed", removed)
	}

	stored, err := h.store.InsertChunks(ctx, chunks)
	if err != nil {
		slog.Error("Failed to index chunks", "error", err, "document", req.Name)
		c.JSON(http.StatusBadGateway, datatypes.ErrorResponse{Error: "document index unavailable"})
		return
	}

	// Step 6: Record the new state. The registry write comes last so a
	// failed ingest never masquerades as a completed one.
	nonEmpty := 0
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			nonEmpty++
		}
	}
	if err := h.registry.Put(ctx, registry.Record{
		Name:        req.Name,
		ContentHash: contentHash,
		Pages:       nonEmpty,
		Chunks:      stored,
	}); err != nil {
		slog.Error("Failed to record ingested document", "error", err, "document", req.Name)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "document registry unavailable"})
		return
	}

	slog.Info("Ingested document",
		"document", req.Name,
		"pages", nonEmpty,
		"chunks", stored,
		"replaced", replaced)
	success = true

	status := http.StatusCreated
	if replaced {
		status = http.StatusOK
	}
	c.JSON(status, datatypes.IngestDocumentResponse{
		Document: req.Name,
		Pages:    nonEmpty,
		Chunks:   stored,
		Replaced: replaced,
	})
}

// HandleListDocuments handles GET /v1/documents.
func (h *DocumentsHandler) HandleListDocuments(c *gin.Context) {
	records, err := h.registry.List(c.Request.Context())
	if err != nil {
		slog.Error("Failed to list documents", "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "document registry unavailable"})
		return
	}

	docs := make([]datatypes.DocumentInfo, 0, len(records))
	for _, rec := range records {
		docs = append(docs, datatypes.DocumentInfo{
			Name:       rec.Name,
			Pages:      rec.Pages,
			Chunks:     rec.Chunks,
			IngestedAt: rec.IngestedAt,
		})
	}
	c.JSON(http.StatusOK, datatypes.ListDocumentsResponse{Documents: docs})
}

// HandleDeleteDocument handles DELETE /v1/documents/:name.
//
// Removes the document's chunks from the index first, then the
// registry record, so a partial failure leaves the document listed
// and retryable rather than orphaned in the index.
func (h *DocumentsHandler) HandleDeleteDocument(c *gin.Context) {
	name := c.Param("name")
	ctx := c.Request.Context()

	_, found, err := h.registry.Get(ctx, name)
	if err != nil {
		slog.Error("Registry lookup failed", "error", err, "document", name)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "document registry unavailable"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "document not found"})
		return
	}

	removed, err := h.store.DeleteDocument(ctx, name)
	if err != nil {
		slog.Error("Failed to delete document chunks", "error", err, "document", name)
		c.JSON(http.StatusBadGateway, datatypes.ErrorResponse{Error: "document index unavailable"})
		return
	}

	if _, err := h.registry.Delete(ctx, name); err != nil {
		slog.Error("Failed to delete document record", "error", err, "document", name)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "document registry unavailable"})
		return
	}

	slog.Info("Deleted document", "document", name, "objectsRemoved", removed)
	c.JSON(http.StatusOK, datatypes.DeleteDocumentResponse{
		Document:       name,
		Deleted:        true,
		ObjectsRemoved: removed,
	})
}

// chunkPages splits each page and re-attaches its marker to every
// resulting chunk.
func (h *DocumentsHandler) chunkPages(document string, pages []pagetag.Page) ([]PageChunk, error) {
	var chunks []PageChunk
	for _, p := range pages {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		parts, err := h.splitter.SplitText(text)
		if err != nil {
			return nil, fmt.Errorf("failed to split page %d: %w", p.Number, err)
		}
		for _, part := range parts {
			chunks = append(chunks, PageChunk{
				Document: document,
				Page:     p.Number,
				Text:     pagetag.TagPage(document, pagetag.Page{Number: p.Number, Text: part}),
			})
		}
	}
	return chunks, nil
}
