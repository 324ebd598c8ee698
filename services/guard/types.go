// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guard

import (
	"fmt"
	"regexp"
	"sort"
)

// Category classifies why an input was blocked.
type Category string

const (
	CategoryInappropriate Category = "inappropriate"
	CategoryInjection     Category = "injection"
	CategoryOfftopic      Category = "offtopic"
)

// Screening is the result of screening one user input.
type Screening struct {
	Blocked  bool     `json:"blocked"`
	Reason   string   `json:"reason,omitempty"`
	Category Category `json:"category,omitempty"`
}

// Pattern is one compiled screening rule.
type Pattern struct {
	Id          string `yaml:"id"`
	Description string `yaml:"description"`
	Regex       string `yaml:"regex"`

	compiled *regexp.Regexp
}

// RuleSet groups the patterns of one category. Sets are evaluated in
// ascending Priority order and screening stops at the first match.
type RuleSet struct {
	Category Category  `yaml:"category"`
	Priority int       `yaml:"priority"`
	Patterns []Pattern `yaml:"patterns"`
}

// PatternFile is the schema of the embedded filter pattern YAML.
type PatternFile struct {
	// MaxInputRunes caps user input length; longer inputs are rejected
	// before any pattern runs.
	MaxInputRunes int `yaml:"max_input_runes"`

	// InputRules screen user questions before any upstream call.
	InputRules []RuleSet `yaml:"input_rules"`

	// OutputRules describe system-prompt leakage shapes scrubbed from
	// the final assembled answer.
	OutputRules []Pattern `yaml:"output_rules"`
}

// compile compiles every regex and orders rule sets by priority.
func (f *PatternFile) compile() error {
	for si := range f.InputRules {
		set := &f.InputRules[si]
		for pi := range set.Patterns {
			p := &set.Patterns[pi]
			compiled, err := regexp.Compile(p.Regex)
			if err != nil {
				return fmt.Errorf("compile input pattern %q: %w", p.Id, err)
			}
			p.compiled = compiled
		}
	}
	for pi := range f.OutputRules {
		p := &f.OutputRules[pi]
		compiled, err := regexp.Compile(p.Regex)
		if err != nil {
			return fmt.Errorf("compile output pattern %q: %w", p.Id, err)
		}
		p.compiled = compiled
	}
	sort.SliceStable(f.InputRules, func(i, j int) bool {
		return f.InputRules[i].Priority < f.InputRules[j].Priority
	})
	return nil
}
