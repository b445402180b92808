// Copyright 2024 Lozee Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package splitter separates a language model reply into the text shown to
// the user and an optional trailing JSON analysis object.
package splitter

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Analysis is the structured side-channel object a model may append after its reply
type Analysis map[string]any

// Outcome describes how a reply was split
type Outcome int

const (
	// OutcomeNoJSON means no split point was found
	OutcomeNoJSON Outcome = iota
	// OutcomeParsed means a prose prefix and an analysis object were recovered
	OutcomeParsed
	// OutcomeJSONOnly means the reply was only an analysis object
	OutcomeJSONOnly
	// OutcomeParseFailed means the candidate suffix was not a JSON object
	OutcomeParseFailed
)

// String returns the label used in logs and metrics
func (o Outcome) String() string {
	switch o {
	case OutcomeNoJSON:
		return "no_json"
	case OutcomeParsed:
		return "parsed"
	case OutcomeJSONOnly:
		return "json_only"
	case OutcomeParseFailed:
		return "parse_failed"
	default:
		return "unknown"
	}
}

// Result is the display text and analysis recovered from one reply.
// Analysis is never nil.
type Result struct {
	Display  string
	Analysis Analysis
	Outcome  Outcome
}

// HasAnalysis reports whether an analysis object was recovered
func (r Result) HasAnalysis() bool {
	return r.Outcome == OutcomeParsed || r.Outcome == OutcomeJSONOnly
}

// Splitter splits replies using a Locator to pick the split point
type Splitter struct {
	locator Locator
}

// Option configures a Splitter
type Option func(*Splitter)

// WithLocator replaces the default first-brace locator
func WithLocator(l Locator) Option {
	return func(s *Splitter) {
		if l != nil {
			s.locator = l
		}
	}
}

// New creates a Splitter. Without options it splits at the first '{'.
func New(opts ...Option) *Splitter {
	s := &Splitter{locator: FirstBrace()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var defaultSplitter = New()

// Split splits raw at the first '{' character
func Split(raw string) Result {
	return defaultSplitter.Split(raw)
}

// Split separates raw into display text and analysis. A suffix that does not
// parse leaves the whole raw text as display text.
func (s *Splitter) Split(raw string) Result {
	if raw == "" {
		return unsplit(raw, OutcomeNoJSON)
	}

	idx := s.locator.Locate(raw)
	if idx < 0 || idx >= len(raw) {
		return unsplit(raw, OutcomeNoJSON)
	}

	analysis, ok := parseObject(raw[idx:])
	if !ok {
		return unsplit(raw, OutcomeParseFailed)
	}

	prefix := strings.TrimSpace(raw[:idx])
	if prefix == "" {
		// an empty display string is never a useful answer
		return Result{Display: raw, Analysis: analysis, Outcome: OutcomeJSONOnly}
	}

	return Result{Display: prefix, Analysis: analysis, Outcome: OutcomeParsed}
}

func unsplit(raw string, outcome Outcome) Result {
	return Result{Display: raw, Analysis: Analysis{}, Outcome: outcome}
}

// parseObject parses s as exactly one JSON object, allowing surrounding whitespace
func parseObject(s string) (Analysis, bool) {
	trimmed := bytes.TrimSpace([]byte(s))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}

	var analysis Analysis
	if err := json.Unmarshal(trimmed, &analysis); err != nil {
		return nil, false
	}

	return analysis, true
}
