// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package citations reconstructs verifiable document/page citations
// from the several inconsistent marker dialects an upstream retrieval
// and generation service emits. Candidates from every grammar are
// unioned into one evidence set, deduplicated by (document, page) and
// sorted once at finalization so the result is deterministic no matter
// in which order upstream events arrived.
package citations

import (
	"regexp"
	"sort"
	"strings"
)

// Source is one citation backing an answer. Two sources are identical
// iff Document and Page match; an absent page counts as page 0.
type Source struct {
	Document string `json:"document"`
	Page     int    `json:"page,omitempty"`
	Snippet  string `json:"snippet,omitempty"`
}

// Key returns the deduplication identity of the source.
func (s Source) Key() SourceKey {
	return SourceKey{Document: s.Document, Page: s.Page}
}

// SourceKey identifies a source for deduplication: (document, page??0).
type SourceKey struct {
	Document string
	Page     int
}

// =============================================================================
// Extractor
// =============================================================================

// Extractor accumulates citation evidence across retrieval events and
// the final answer text of one stream session. Not safe for concurrent
// use; each session consumes its upstream events on a single loop.
type Extractor struct {
	env   Env
	found map[SourceKey]Source
	hits  map[string]int
}

// NewExtractor creates an extractor bound to the given corpus
// environment.
func NewExtractor(env Env) *Extractor {
	return &Extractor{
		env:   env,
		found: make(map[SourceKey]Source),
		hits:  make(map[string]int),
	}
}

// Harvest runs every grammar over text and merges the candidates into
// the accumulated evidence set. The snippet, when given, is attached to
// any newly discovered source. Returns the number of sources that were
// new to this session.
func (e *Extractor) Harvest(text, snippet string) int {
	added := 0
	for _, g := range grammars {
		candidates := g.Extract(e.env, text)
		if len(candidates) == 0 {
			continue
		}
		e.hits[g.Name] += len(candidates)
		for _, c := range candidates {
			if c.Snippet == "" {
				c.Snippet = snippet
			}
			if e.merge(c) {
				added++
			}
		}
	}
	return added
}

// HarvestResult scans one retrieval result. The result's filename joins
// the known documents and becomes the default attribution for bare page
// tokens inside its own snippet text.
func (e *Extractor) HarvestResult(filename, text string) int {
	env := e.env
	if filename != "" {
		env.DefaultDocument = filename
		env.KnownDocuments = appendUnique(env.KnownDocuments, filename)
	}
	saved := e.env
	e.env = env
	defer func() { e.env = saved }()
	return e.Harvest(text, trimSnippet(text))
}

// merge inserts a candidate, keeping any non-empty snippet found by any
// match for the same key. Reports whether the key was new.
func (e *Extractor) merge(s Source) bool {
	key := s.Key()
	existing, ok := e.found[key]
	if !ok {
		e.found[key] = s
		return true
	}
	if existing.Snippet == "" && s.Snippet != "" {
		existing.Snippet = s.Snippet
		e.found[key] = existing
	}
	return false
}

// Hits returns per-grammar candidate counts, for metrics.
func (e *Extractor) Hits() map[string]int {
	out := make(map[string]int, len(e.hits))
	for k, v := range e.hits {
		out[k] = v
	}
	return out
}

// Finalize resolves the accumulated evidence into the final ordered
// source list. Applied once per session, never incrementally:
//
//   - A page-less source merges into the page-qualified entries for the
//     same document (its snippet survives; the weaker entry does not
//     suppress them).
//   - Sort is total and deterministic: document ascending, then page
//     ascending, with page-less (0) entries first for their document.
func (e *Extractor) Finalize() []Source {
	paged := make(map[string]bool)
	for key := range e.found {
		if key.Page > 0 {
			paged[key.Document] = true
		}
	}

	out := make([]Source, 0, len(e.found))
	var orphans []Source
	for key, src := range e.found {
		if key.Page == 0 && paged[key.Document] {
			orphans = append(orphans, src)
			continue
		}
		out = append(out, src)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Document != out[j].Document {
			return out[i].Document < out[j].Document
		}
		return out[i].Page < out[j].Page
	})

	// A dropped page-less source donates its snippet to the first
	// snippet-less paged entry of the same document.
	for _, orphan := range orphans {
		if orphan.Snippet == "" {
			continue
		}
		for i := range out {
			if out[i].Document == orphan.Document && out[i].Snippet == "" {
				out[i].Snippet = orphan.Snippet
				break
			}
		}
	}

	return out
}

// Extract is the one-shot convenience form: union every grammar over
// text, deduplicate and sort. A text with zero matches yields an empty
// list.
func Extract(env Env, text string) []Source {
	e := NewExtractor(env)
	e.Harvest(text, "")
	return e.Finalize()
}

// =============================================================================
// Display Cleanup
// =============================================================================

var (
	sourcesLineRe = regexp.MustCompile(`(?i)^\s*(?:sources?|المصادر|المصدر)\s*[::]`)
	blankRunRe    = regexp.MustCompile(`\n{3,}`)
	spaceRunRe    = regexp.MustCompile(`[ \t]{2,}`)
)

// StripMarkers removes every recognized marker substring from an
// assembled answer so it can be displayed. Only the machine dialects
// (canonical and provider annotations) are stripped; natural-language
// phrasings are prose and stay. When dropSourcesLine is set, a trailing
// "Sources: …" line (or its Arabic equivalent) is removed too.
//
// Runs on the final assembled answer only, never on in-flight deltas: a
// marker split across two deltas must not be half-stripped.
func StripMarkers(text string, dropSourcesLine bool) string {
	cleaned := canonicalRe.ReplaceAllString(text, "")
	cleaned = providerPagedRe.ReplaceAllString(cleaned, "")
	cleaned = providerPagelessRe.ReplaceAllString(cleaned, "")

	if dropSourcesLine {
		cleaned = stripTrailingSourcesLine(cleaned)
	}

	cleaned = spaceRunRe.ReplaceAllString(cleaned, " ")
	cleaned = blankRunRe.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}

func stripTrailingSourcesLine(text string) string {
	lines := strings.Split(strings.TrimRight(text, " \t\n"), "\n")
	if len(lines) == 0 {
		return text
	}
	if sourcesLineRe.MatchString(lines[len(lines)-1]) {
		return strings.Join(lines[:len(lines)-1], "\n")
	}
	return text
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if strings.EqualFold(existing, v) {
			return list
		}
	}
	out := make([]string, len(list), len(list)+1)
	copy(out, list)
	return append(out, v)
}

// trimSnippet shortens retrieval text into a displayable snippet.
func trimSnippet(text string) string {
	const maxSnippet = 160
	text = strings.TrimSpace(canonicalRe.ReplaceAllString(text, ""))
	if len(text) <= maxSnippet {
		return text
	}
	cut := text[:maxSnippet]
	if i := strings.LastIndexByte(cut, ' '); i > maxSnippet/2 {
		cut = cut[:i]
	}
	return cut + "…"
}
