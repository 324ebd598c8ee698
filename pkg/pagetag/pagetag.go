// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pagetag converts paginated source documents into a single
// tagged corpus blob. Every non-empty page is wrapped in a canonical
// machine-parseable marker so that page provenance survives chunking
// and indexing. The marker is the only channel through which a
// retrieval hit can be traced back to an exact document/page location.
package pagetag

import (
	"fmt"
	"strings"
)

// BlockSeparator joins tagged page blocks in the corpus blob.
const BlockSeparator = "\n\n---\n\n"

// markerFormat is the canonical page marker. The citations package
// parses this exact shape back out of retrieval snippets and answers.
const markerFormat = "[DOCUMENT: %s | PAGE: %d]"

// Page is one page of a source document. Number is the 1-based position
// in the document's original pagination; sequences handed to TagPages
// may be sparse where empty pages were already dropped.
type Page struct {
	Number int
	Text   string
}

// Marker returns the canonical marker for one page of a document.
func Marker(document string, page int) string {
	return fmt.Sprintf(markerFormat, document, page)
}

// TagDocument tags a full page list for one named document.
//
// # Description
//
// The input slice holds one entry per original page, in order, with
// empty strings for pages that had no extractable text. Page numbers
// in the emitted markers are the 1-based slice positions, so filtering
// happens here and original indices are never lost. Empty pages
// contribute no block and are invisible to retrieval.
//
// # Inputs
//
//   - document: Stable document name used in every marker.
//   - pages: Raw per-page text, index 0 is page 1.
//
// # Outputs
//
//   - string: The tagged corpus blob, empty if no page had text.
func TagDocument(document string, pages []string) string {
	tagged := make([]Page, 0, len(pages))
	for i, text := range pages {
		tagged = append(tagged, Page{Number: i + 1, Text: text})
	}
	return TagPages(document, tagged)
}

// TagPages tags a prepared (possibly sparse) page sequence.
//
// Callers that filtered empty pages themselves must preserve the
// original page numbers; this function trusts Number as-is. Page text
// is never mutated beyond whitespace trimming at block boundaries.
func TagPages(document string, pages []Page) string {
	blocks := make([]string, 0, len(pages))
	for _, p := range pages {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		blocks = append(blocks, Marker(document, p.Number)+"\n"+text)
	}
	return strings.Join(blocks, BlockSeparator)
}

// TagPage wraps a single page's text with its marker. Used at ingestion
// time when each page block is chunked independently so that a chunk
// never separates a marker from the page text it describes.
func TagPage(document string, page Page) string {
	text := strings.TrimSpace(page.Text)
	if text == "" {
		return ""
	}
	return Marker(document, page.Number) + "\n" + text
}
