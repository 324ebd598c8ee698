// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxDocumentNameBytes bounds document names. Names are stored as
	// Weaviate properties and echoed in citations, so they stay short.
	MaxDocumentNameBytes = 255

	// MaxPagesPerDocument bounds a single ingest request.
	MaxPagesPerDocument = 2000

	// MaxPageTextBytes bounds one page of extracted text.
	MaxPageTextBytes = 256 * 1024 // 256KB
)

// docValidate is the validator instance for document datatypes.
var docValidate *validator.Validate

func init() {
	docValidate = validator.New()
	_ = docValidate.RegisterValidation("docname", validateDocumentName)
	_ = docValidate.RegisterValidation("pagebytes", validatePageBytes)
}

// validateDocumentName accepts flat file names only. Path separators
// and parent references are rejected because the name round-trips into
// page markers and back out of model-generated citations.
func validateDocumentName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	if name == "" || len(name) > MaxDocumentNameBytes {
		return false
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return false
	}
	return true
}

func validatePageBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxPageTextBytes
}

// =============================================================================
// Ingestion Request Types
// =============================================================================

// PageUpload is one extracted page of a document.
type PageUpload struct {
	PageNumber int    `json:"page_number" validate:"required,gte=1"`
	Text       string `json:"text" validate:"pagebytes"`
}

// IngestDocumentRequest represents the body of POST /v1/documents.
//
// # Description
//
// Carries the full extracted text of one document, page by page. Page
// numbers come from the extractor and need not be contiguous; blank
// pages may be omitted or sent empty. Re-sending a document under the
// same name replaces its indexed content when the text has changed and
// is a no-op when it has not.
//
// # Validation
//
//   - Name: required, flat file name, max 255 bytes
//   - Pages: required, 1-2000 entries, each page number >= 1 and text
//     capped at 256KB
type IngestDocumentRequest struct {
	Name  string       `json:"name" binding:"required" validate:"required,docname"`
	Pages []PageUpload `json:"pages" binding:"required" validate:"required,min=1,max=2000,dive"`
}

// Validate validates the IngestDocumentRequest fields.
func (r *IngestDocumentRequest) Validate() error {
	return docValidate.Struct(r)
}

// =============================================================================
// Response Types
// =============================================================================

// IngestDocumentResponse reports the outcome of one ingestion.
type IngestDocumentResponse struct {
	Document  string `json:"document"`
	Pages     int    `json:"pages"`
	Chunks    int    `json:"chunks"`
	Replaced  bool   `json:"replaced"`
	Unchanged bool   `json:"unchanged,omitempty"`
}

// DocumentInfo is one entry in the document listing.
type DocumentInfo struct {
	Name       string `json:"name"`
	Pages      int    `json:"pages"`
	Chunks     int    `json:"chunks"`
	IngestedAt int64  `json:"ingested_at"`
}

// ListDocumentsResponse represents the body of GET /v1/documents.
type ListDocumentsResponse struct {
	Documents []DocumentInfo `json:"documents"`
}

// DeleteDocumentResponse reports the outcome of a document removal.
type DeleteDocumentResponse struct {
	Document       string `json:"document"`
	Deleted        bool   `json:"deleted"`
	ObjectsRemoved int    `json:"objects_removed"`
}

// ErrorResponse is the uniform JSON error body for non-stream
// endpoints. Category distinguishes a content-filter block from a
// generic validation failure; both reject with 400.
type ErrorResponse struct {
	Error        string `json:"error"`
	Reason       string `json:"reason,omitempty"`
	Category     string `json:"category,omitempty"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}
