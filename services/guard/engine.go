// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package guard screens chat traffic in both directions: user input is
// rejected before any upstream call when it is empty, over-long, or
// matches an abuse / prompt-injection / off-topic pattern, and the
// final assembled answer is scrubbed of system-prompt leakage before
// display. Pattern sets are bilingual (English and Arabic) and embedded
// in the binary so they cannot be tampered with on the host filesystem.
package guard

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/answerdock/answerdock/services/guard/enforcement"
	"gopkg.in/yaml.v3"
)

// Filter is the main entry point for content screening. It holds the
// compiled rule sets loaded from the embedded pattern file and is safe
// for concurrent use once constructed.
type Filter struct {
	maxInputRunes int
	inputRules    []RuleSet
	outputRules   []Pattern
}

// defaultMaxInputRunes applies when the pattern file does not set one.
const defaultMaxInputRunes = 2000

// NewFilter builds a Filter from the pattern file embedded via the
// enforcement package.
//
// It unmarshals the YAML, compiles every regex, and sorts the rule sets
// by priority. Returns an error if the embedded YAML is malformed or a
// regex does not compile.
func NewFilter() (*Filter, error) {
	var file PatternFile
	if err := yaml.Unmarshal(enforcement.FilterPatterns, &file); err != nil {
		return nil, fmt.Errorf("unmarshal embedded filter patterns: %w", err)
	}
	if err := file.compile(); err != nil {
		return nil, err
	}
	if file.MaxInputRunes <= 0 {
		file.MaxInputRunes = defaultMaxInputRunes
	}
	return &Filter{
		maxInputRunes: file.MaxInputRunes,
		inputRules:    file.InputRules,
		outputRules:   file.OutputRules,
	}, nil
}

// ScreenInput screens one user question before any upstream call.
//
// Checks run in a fixed priority order and the first violation wins;
// reasons are never aggregated:
//
//  1. empty input
//  2. length ceiling
//  3. rule sets by ascending priority (abuse, injection, off-topic)
func (f *Filter) ScreenInput(text string) Screening {
	if strings.TrimSpace(text) == "" {
		return Screening{Blocked: true, Reason: "empty input"}
	}
	if utf8.RuneCountInString(text) > f.maxInputRunes {
		return Screening{
			Blocked: true,
			Reason:  fmt.Sprintf("input exceeds %d characters", f.maxInputRunes),
		}
	}
	for _, set := range f.inputRules {
		for _, p := range set.Patterns {
			if p.compiled.MatchString(text) {
				return Screening{
					Blocked:  true,
					Reason:   p.Description,
					Category: set.Category,
				}
			}
		}
	}
	return Screening{}
}

// ScreenOutput strips system-prompt leakage from the final assembled
// answer. Best-effort scrub, not a cryptographic guarantee. Must run on
// the complete answer only: a leakage pattern may span the boundary
// between two in-flight deltas and would evade a per-delta scrub.
func (f *Filter) ScreenOutput(text string) string {
	for _, p := range f.outputRules {
		text = p.compiled.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

// MaxInputRunes reports the configured input length ceiling.
func (f *Filter) MaxInputRunes() int {
	return f.maxInputRunes
}
