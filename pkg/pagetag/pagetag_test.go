// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pagetag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagDocument_OneMarkerPerNonEmptyPage(t *testing.T) {
	blob := TagDocument("Policy.pdf", []string{"intro text", "", "body text", "   ", "closing"})

	assert.Equal(t, 3, strings.Count(blob, "[DOCUMENT: Policy.pdf"))
	assert.Contains(t, blob, "[DOCUMENT: Policy.pdf | PAGE: 1]\nintro text")
	assert.Contains(t, blob, "[DOCUMENT: Policy.pdf | PAGE: 3]\nbody text")
	assert.Contains(t, blob, "[DOCUMENT: Policy.pdf | PAGE: 5]\nclosing")
	assert.NotContains(t, blob, "PAGE: 2]")
	assert.NotContains(t, blob, "PAGE: 4]")
}

// Empty pages are dropped but the numbering of the surviving pages must
// stay anchored to the original pagination, not the filtered positions.
func TestTagDocument_PreservesOriginalPageNumbers(t *testing.T) {
	blob := TagDocument("Manual.pdf", []string{"", "", "late start"})

	assert.Equal(t, "[DOCUMENT: Manual.pdf | PAGE: 3]\nlate start", blob)
}

func TestTagDocument_AllEmptyYieldsEmptyBlob(t *testing.T) {
	assert.Empty(t, TagDocument("Empty.pdf", []string{"", "  ", "\n\t"}))
	assert.Empty(t, TagDocument("Nil.pdf", nil))
}

func TestTagDocument_BlocksJoinedBySeparator(t *testing.T) {
	blob := TagDocument("Doc.pdf", []string{"a", "b"})

	parts := strings.Split(blob, BlockSeparator)
	require.Len(t, parts, 2)
	assert.Equal(t, "[DOCUMENT: Doc.pdf | PAGE: 1]\na", parts[0])
	assert.Equal(t, "[DOCUMENT: Doc.pdf | PAGE: 2]\nb", parts[1])
}

func TestTagDocument_TrimsOnlyBlockBoundaries(t *testing.T) {
	blob := TagDocument("Doc.pdf", []string{"  leading and trailing  \n"})

	assert.Equal(t, "[DOCUMENT: Doc.pdf | PAGE: 1]\nleading and trailing", blob)

	// Interior whitespace is untouched.
	blob = TagDocument("Doc.pdf", []string{"line one\n\n  indented line"})
	assert.Contains(t, blob, "line one\n\n  indented line")
}

func TestTagPages_SparseSequence(t *testing.T) {
	blob := TagPages("Report.pdf", []Page{
		{Number: 2, Text: "second"},
		{Number: 7, Text: "seventh"},
	})

	assert.Contains(t, blob, "| PAGE: 2]")
	assert.Contains(t, blob, "| PAGE: 7]")
}

func TestTagPage_SinglePage(t *testing.T) {
	assert.Equal(t, "[DOCUMENT: a.pdf | PAGE: 4]\ntext", TagPage("a.pdf", Page{Number: 4, Text: "text"}))
	assert.Empty(t, TagPage("a.pdf", Page{Number: 4, Text: "  "}))
}
