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
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSplit_Scenarios(t *testing.T) {
	tests := []struct {
		name            string
		raw             string
		expectedDisplay string
		expectedOutcome Outcome
		expectedData    Analysis
	}{
		{
			name:            "plain greeting",
			raw:             "안녕하세요! 오늘도 좋은 하루네요.",
			expectedDisplay: "안녕하세요! 오늘도 좋은 하루네요.",
			expectedOutcome: OutcomeNoJSON,
			expectedData:    Analysis{},
		},
		{
			name:            "prose followed by analysis",
			raw:             `오늘 기분이 좋아요.{"summaryTitle":"기쁨"}`,
			expectedDisplay: "오늘 기분이 좋아요.",
			expectedOutcome: OutcomeParsed,
			expectedData:    Analysis{"summaryTitle": "기쁨"},
		},
		{
			name:            "analysis only keeps raw text",
			raw:             `{"summaryTitle":"기쁨"}`,
			expectedDisplay: `{"summaryTitle":"기쁨"}`,
			expectedOutcome: OutcomeJSONOnly,
			expectedData:    Analysis{"summaryTitle": "기쁨"},
		},
		{
			name:            "brace in prose",
			raw:             "좋아요 {이건 JSON이 아님",
			expectedDisplay: "좋아요 {이건 JSON이 아님",
			expectedOutcome: OutcomeParseFailed,
			expectedData:    Analysis{},
		},
		{
			name:            "empty input",
			raw:             "",
			expectedDisplay: "",
			expectedOutcome: OutcomeNoJSON,
			expectedData:    Analysis{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Split(tt.raw)

			assert.Equal(t, tt.expectedDisplay, result.Display)
			assert.Equal(t, tt.expectedOutcome, result.Outcome)
			assert.Equal(t, tt.expectedData, result.Analysis)
		})
	}
}

func TestSplit_PrefixIsTrimmed(t *testing.T) {
	raw := "  \n오늘은 산책을 했어요.\n\n  {\"summaryTitle\": \"산책\", \"keywords\": [\"산책\", \"날씨\"], \"score\": 3}\n"

	result := Split(raw)

	require.Equal(t, OutcomeParsed, result.Outcome)
	assert.Equal(t, "오늘은 산책을 했어요.", result.Display)
	assert.Equal(t, "산책", result.Analysis["summaryTitle"])
	assert.Equal(t, []any{"산책", "날씨"}, result.Analysis["keywords"])
	assert.Equal(t, float64(3), result.Analysis["score"])
	assert.True(t, result.HasAnalysis())
}

func TestSplit_NestedObject(t *testing.T) {
	result := Split(`답변입니다. {"summaryTitle":"x","detail":{"mood":"calm","level":2}}`)

	require.Equal(t, OutcomeParsed, result.Outcome)
	assert.Equal(t, "답변입니다.", result.Display)
	assert.Equal(t, map[string]any{"mood": "calm", "level": float64(2)}, result.Analysis["detail"])
}

func TestSplit_EmptyObjectAfterProse(t *testing.T) {
	result := Split("hello {}")

	assert.Equal(t, OutcomeParsed, result.Outcome)
	assert.Equal(t, "hello", result.Display)
	assert.NotNil(t, result.Analysis)
	assert.Empty(t, result.Analysis)
}

func TestSplit_FailuresKeepRawText(t *testing.T) {
	inputs := []string{
		`truncated reply {"summaryTitle":"기`,
		`two objects {"a":1} {"b":2}`,
		`trailing prose {"a":1} and more words`,
		`set notation {1, 2, 3}`,
		`   {`,
		`only closing } brace then {`,
	}

	for _, raw := range inputs {
		t.Run(raw, func(t *testing.T) {
			result := Split(raw)

			assert.Equal(t, raw, result.Display)
			assert.Equal(t, OutcomeParseFailed, result.Outcome)
			assert.Empty(t, result.Analysis)
			assert.False(t, result.HasAnalysis())
		})
	}
}

func TestSplit_NoBraceReturnsInputUnchanged(t *testing.T) {
	inputs := []string{
		"   leading and trailing spaces are kept   ",
		"line one\nline two",
		"closing only }",
		"\t",
	}

	for _, raw := range inputs {
		result := Split(raw)
		assert.Equal(t, raw, result.Display)
		assert.Equal(t, OutcomeNoJSON, result.Outcome)
		assert.Empty(t, result.Analysis)
	}
}

func TestSplit_PrefixPlusObjectProperty(t *testing.T) {
	prefixes := []string{"좋아요.", "  네, 알겠어요!  ", "Sure thing.\n"}
	objects := []map[string]any{
		{"summaryTitle": "기쁨"},
		{"n": float64(1), "ok": true, "none": nil},
		{"list": []any{"a", float64(2)}},
	}

	for _, prefix := range prefixes {
		for _, obj := range objects {
			data, err := json.Marshal(obj)
			require.NoError(t, err)

			result := Split(prefix + string(data))

			assert.Equal(t, OutcomeParsed, result.Outcome)
			assert.Equal(t, Analysis(obj), result.Analysis)
			assert.NotContains(t, result.Display, "{")
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	inputs := []string{"", "plain", `a {"b":1}`, `{"b":1}`, "broken {"}

	for _, raw := range inputs {
		assert.Equal(t, Split(raw), Split(raw))
	}
}

func TestSplit_ConcurrentUse(t *testing.T) {
	raw := `오늘 기분이 좋아요.{"summaryTitle":"기쁨"}`
	expected := Split(raw)

	var wg sync.WaitGroup
	results := make([]Result, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = Split(raw)
		}(i)
	}
	wg.Wait()

	for _, result := range results {
		assert.Equal(t, expected, result)
	}
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "no_json", OutcomeNoJSON.String())
	assert.Equal(t, "parsed", OutcomeParsed.String())
	assert.Equal(t, "json_only", OutcomeJSONOnly.String())
	assert.Equal(t, "parse_failed", OutcomeParseFailed.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
