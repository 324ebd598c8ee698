// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/answerdock/answerdock/services/orchestrator/citations"
)

func TestChatStreamRequest_Validate(t *testing.T) {
	req := ChatStreamRequest{Question: "what is the leave policy?"}
	assert.NoError(t, req.Validate())

	req = ChatStreamRequest{}
	assert.Error(t, req.Validate(), "empty question rejected")

	req = ChatStreamRequest{Question: strings.Repeat("a", MaxQuestionBytes+1)}
	assert.Error(t, req.Validate(), "oversized question rejected")

	req = ChatStreamRequest{Question: "ok", MaxResults: MaxRetrievalResults + 1}
	assert.Error(t, req.Validate())

	req = ChatStreamRequest{Question: "ok", RequestID: "not-a-uuid"}
	assert.Error(t, req.Validate())
}

func TestChatStreamRequest_EnsureDefaults(t *testing.T) {
	req := ChatStreamRequest{Question: "q"}
	req.EnsureDefaults()
	assert.NotEmpty(t, req.RequestID)
	assert.Positive(t, req.Timestamp)
	assert.NoError(t, req.Validate(), "generated ID passes uuid4 validation")
}

func TestIngestDocumentRequest_Validate(t *testing.T) {
	req := IngestDocumentRequest{
		Name:  "Policy.pdf",
		Pages: []PageUpload{{PageNumber: 1, Text: "hello"}},
	}
	assert.NoError(t, req.Validate())

	for _, name := range []string{"", "../etc/passwd", "a/b.pdf", `a\b.pdf`, strings.Repeat("x", 300)} {
		req.Name = name
		assert.Error(t, req.Validate(), "name %q rejected", name)
	}

	req = IngestDocumentRequest{Name: "ok.pdf"}
	assert.Error(t, req.Validate(), "empty pages rejected")

	req = IngestDocumentRequest{
		Name:  "ok.pdf",
		Pages: []PageUpload{{PageNumber: 0, Text: "x"}},
	}
	assert.Error(t, req.Validate(), "page numbers start at 1")
}

func TestStreamFrame_DoneCarriesSourcesKey(t *testing.T) {
	raw, err := json.Marshal(DoneFrame("answer", nil))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"sources":[]`)

	raw, err = json.Marshal(DoneFrame("answer", []citations.Source{
		{Document: "Policy.pdf", Page: 5},
	}))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"Policy.pdf"`)
	assert.Contains(t, string(raw), `"page":5`)
}

func TestStreamFrame_DeltaOmitsSources(t *testing.T) {
	raw, err := json.Marshal(DeltaFrame("hello"))
	require.NoError(t, err)
	assert.Equal(t, `{"type":"delta","text":"hello"}`, string(raw))
}

func TestStreamFrame_Error(t *testing.T) {
	raw, err := json.Marshal(ErrorFrame("the answer service is unavailable"))
	require.NoError(t, err)
	assert.Equal(t, `{"type":"error","error":"the answer service is unavailable"}`, string(raw))
}
