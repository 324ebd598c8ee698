// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package citations

import (
	"regexp"
	"strconv"
	"strings"
)

// =============================================================================
// Grammar Definitions
// =============================================================================

// Grammar is one named citation-marker dialect. Each grammar is a pure
// function from text to candidate sources; the extractor unions all
// grammars in a fixed order and deduplicates afterwards. Keeping the
// dialects as a closed named set makes each one independently testable
// instead of an implicit cascade of regex replacements.
type Grammar struct {
	// Name identifies the grammar in metrics and tests.
	Name string

	// Extract returns every candidate source the dialect recognizes in
	// text. Zero matches is the common case, not an error.
	Extract func(env Env, text string) []Source
}

// Env carries the corpus knowledge some grammars need. Grammars that
// parse fully-qualified markers ignore it.
type Env struct {
	// KnownDocuments are the ingested document names. The heuristic
	// grammar only ever attributes a bare page token to one of these.
	KnownDocuments []string

	// DefaultDocument receives bare page tokens with no known filename
	// in the surrounding window. Usually the corpus's first document,
	// or the filename of the retrieval result being scanned.
	DefaultDocument string
}

// Grammar names, in evaluation order.
const (
	GrammarCanonical        = "canonical"
	GrammarProviderPaged    = "provider_paged"
	GrammarProviderPageless = "provider_pageless"
	GrammarNaturalLanguage  = "natural_language"
	GrammarBarePage         = "bare_page"
)

var (
	// Canonical marker emitted by pagetag: [DOCUMENT: name | PAGE: n].
	// Authoritative; always wins ties.
	canonicalRe = regexp.MustCompile(`\[DOCUMENT:\s*([^|\]]+?)\s*\|\s*PAGE:\s*(\d+)\s*\]`)

	// Provider-native annotation markers, with and without a page index
	// segment: 【3:7†Policy.pdf】 and 【3†Policy.pdf】.
	providerPagedRe    = regexp.MustCompile(`【\d+:(\d+)†([^】]+)】`)
	providerPagelessRe = regexp.MustCompile(`【\d+†([^】]+)】`)

	// Natural-language phrasings, English and Arabic, in both
	// directions, with comma-joined page lists sharing one filename.
	filePat = `([\p{L}\w][\p{L}\w.\-]*\.(?:pdf|docx?|txt|md))`
	pagesEn = `(\d+(?:\s*,\s*(?:and\s+)?\d+)*(?:\s+and\s+\d+)?)`
	pagesAr = `(\d+(?:\s*[،,]\s*(?:و\s*)?\d+)*)`

	nlPageFromFileEn = regexp.MustCompile(`(?i)\bpages?\s+` + pagesEn + `\s+(?:of|from|in)\s+(?:the\s+file\s+|file\s+)?` + filePat)
	nlFileThenPageEn = regexp.MustCompile(`(?i)\bfrom\s+(?:the\s+file\s+|file\s+)?` + filePat + `\s*[,:]?\s*(?:on\s+)?pages?\s+` + pagesEn)
	nlPageFromFileAr = regexp.MustCompile(`(?:الصفحات|الصفحة|صفحة)\s*(?:رقم\s*)?` + pagesAr + `\s*من\s*(?:ملف|المستند|مستند)?\s*` + filePat)
	nlFileThenPageAr = regexp.MustCompile(`من\s*(?:ملف|المستند|مستند)\s+` + filePat + `[^\n]{0,80}?(?:الصفحة|صفحة)\s*(?:رقم\s*)?` + pagesAr)

	// Bare localized page tokens resolved by the heuristic grammar.
	barePageRe = regexp.MustCompile(`(?i)\bpage\s+(\d+)\b|(?:الصفحة|صفحة)\s*(?:رقم\s*)?(\d+)`)

	pageListSplitRe = regexp.MustCompile(`[،,]|\band\b|\bو`)
)

// heuristicWindow is how far (in bytes) around a bare page token the
// heuristic grammar searches for a known filename.
const heuristicWindow = 200

// grammars is the closed set, in the fixed union order.
var grammars = []Grammar{
	{Name: GrammarCanonical, Extract: extractCanonical},
	{Name: GrammarProviderPaged, Extract: extractProviderPaged},
	{Name: GrammarProviderPageless, Extract: extractProviderPageless},
	{Name: GrammarNaturalLanguage, Extract: extractNaturalLanguage},
	{Name: GrammarBarePage, Extract: extractBarePage},
}

// Grammars returns the closed grammar set in evaluation order.
func Grammars() []Grammar {
	out := make([]Grammar, len(grammars))
	copy(out, grammars)
	return out
}

// =============================================================================
// Grammar Implementations
// =============================================================================

func extractCanonical(_ Env, text string) []Source {
	var out []Source
	for _, m := range canonicalRe.FindAllStringSubmatch(text, -1) {
		page, err := strconv.Atoi(m[2])
		if err != nil || page < 1 {
			continue
		}
		out = append(out, Source{Document: strings.TrimSpace(m[1]), Page: page})
	}
	return out
}

func extractProviderPaged(_ Env, text string) []Source {
	var out []Source
	for _, m := range providerPagedRe.FindAllStringSubmatch(text, -1) {
		page, err := strconv.Atoi(m[1])
		if err != nil || page < 1 {
			continue
		}
		out = append(out, Source{Document: strings.TrimSpace(m[2]), Page: page})
	}
	return out
}

func extractProviderPageless(_ Env, text string) []Source {
	var out []Source
	for _, m := range providerPagelessRe.FindAllStringSubmatch(text, -1) {
		out = append(out, Source{Document: strings.TrimSpace(m[1])})
	}
	return out
}

func extractNaturalLanguage(_ Env, text string) []Source {
	var out []Source
	collect := func(doc, pageList string) {
		doc = strings.TrimSpace(doc)
		if doc == "" {
			return
		}
		for _, page := range splitPageList(pageList) {
			out = append(out, Source{Document: doc, Page: page})
		}
	}
	for _, m := range nlPageFromFileEn.FindAllStringSubmatch(text, -1) {
		collect(m[2], m[1])
	}
	for _, m := range nlFileThenPageEn.FindAllStringSubmatch(text, -1) {
		collect(m[1], m[2])
	}
	for _, m := range nlPageFromFileAr.FindAllStringSubmatch(text, -1) {
		collect(m[2], m[1])
	}
	for _, m := range nlFileThenPageAr.FindAllStringSubmatch(text, -1) {
		collect(m[1], m[2])
	}
	return out
}

// extractBarePage attributes a bare "page N" / "صفحة N" token to the
// known filename nearest to it inside a ±200 character window, falling
// back to the corpus default document. When two documents are discussed
// without adjacent filename text this can misattribute; the behavior is
// kept as documented and flagged in tests rather than silently changed.
func extractBarePage(env Env, text string) []Source {
	matches := barePageRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}

	var out []Source
	for _, idx := range matches {
		page := barePageNumber(text, idx)
		if page < 1 {
			continue
		}
		doc := nearestKnownDocument(env, text, idx[0], idx[1])
		if doc == "" {
			doc = env.DefaultDocument
		}
		if doc == "" {
			continue
		}
		out = append(out, Source{Document: doc, Page: page})
	}
	return out
}

// barePageNumber pulls the captured page number out of whichever
// alternation branch matched.
func barePageNumber(text string, idx []int) int {
	for group := 1; group <= 2; group++ {
		lo, hi := idx[2*group], idx[2*group+1]
		if lo < 0 {
			continue
		}
		page, err := strconv.Atoi(text[lo:hi])
		if err == nil {
			return page
		}
	}
	return 0
}

// nearestKnownDocument returns the known document name whose closest
// occurrence falls inside the window around [start, end), or "" when
// none does. Distance ties resolve to the earlier KnownDocuments entry.
func nearestKnownDocument(env Env, text string, start, end int) string {
	lo := start - heuristicWindow
	if lo < 0 {
		lo = 0
	}
	hi := end + heuristicWindow
	if hi > len(text) {
		hi = len(text)
	}
	window := strings.ToLower(text[lo:hi])

	best := ""
	bestDist := -1
	for _, doc := range env.KnownDocuments {
		needle := strings.ToLower(doc)
		if needle == "" {
			continue
		}
		offset := 0
		for {
			pos := strings.Index(window[offset:], needle)
			if pos < 0 {
				break
			}
			abs := lo + offset + pos
			dist := abs - end
			if abs < start {
				dist = start - (abs + len(needle))
			}
			if dist < 0 {
				dist = 0
			}
			if bestDist < 0 || dist < bestDist {
				best = doc
				bestDist = dist
			}
			offset += pos + len(needle)
		}
	}
	return best
}

// splitPageList parses a comma-joined page list ("3, 5 and 7") into
// individual page numbers, dropping anything non-numeric.
func splitPageList(list string) []int {
	var pages []int
	for _, part := range pageListSplitRe.Split(list, -1) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		page, err := strconv.Atoi(part)
		if err != nil || page < 1 {
			continue
		}
		pages = append(pages, page)
	}
	return pages
}
