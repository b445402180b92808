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

package splitter

import (
	"fmt"
	"strings"
)

// Strategy names accepted by ParseStrategy
const (
	StrategyFirst    = "first"
	StrategyLast     = "last"
	StrategySentinel = "sentinel"
)

// DefaultSentinel is the marker the chat prompt asks the model to start its analysis with
const DefaultSentinel = `{"summaryTitle":`

// Locator picks the byte index where the analysis object starts, or -1
type Locator interface {
	Locate(raw string) int
}

// LocatorFunc adapts a function to the Locator interface
type LocatorFunc func(raw string) int

// Locate implements Locator
func (f LocatorFunc) Locate(raw string) int {
	return f(raw)
}

// FirstBrace splits at the first '{'. Prose containing a brace before the
// object defeats it.
func FirstBrace() Locator {
	return LocatorFunc(func(raw string) int {
		return strings.IndexByte(raw, '{')
	})
}

// LastBrace splits at the right-most '{' whose suffix is a complete JSON object.
// Falls back to the last '{' so a failed parse still reports ParseFailed.
// Each candidate costs a parse of its suffix, so a reply that ends in '}'
// with n braces is O(n*len(raw)) in the worst case.
func LastBrace() Locator {
	return LocatorFunc(func(raw string) int {
		last := strings.LastIndexByte(raw, '{')
		if !strings.HasSuffix(strings.TrimSpace(raw), "}") {
			return last
		}
		for i := last; i >= 0; i = strings.LastIndexByte(raw[:i], '{') {
			// an inner '{' never parses on its own: its suffix carries the outer '}'
			if _, ok := parseObject(raw[i:]); ok {
				return i
			}
		}
		return last
	})
}

// Sentinel splits at the first occurrence of marker
func Sentinel(marker string) Locator {
	return LocatorFunc(func(raw string) int {
		if marker == "" {
			return -1
		}
		return strings.Index(raw, marker)
	})
}

// ParseStrategy resolves a strategy name from configuration
func ParseStrategy(name, sentinel string) (Locator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", StrategyFirst:
		return FirstBrace(), nil
	case StrategyLast:
		return LastBrace(), nil
	case StrategySentinel:
		if sentinel == "" {
			sentinel = DefaultSentinel
		}
		return Sentinel(sentinel), nil
	default:
		return nil, fmt.Errorf("unknown split strategy %q", name)
	}
}
