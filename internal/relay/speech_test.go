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

package relay

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lozee/lozee-relay/internal/resilience"
)

func TestTTS(t *testing.T) {
	synth := &fakeSynthesizer{audio: []byte("ID3-mp3")}
	server := newTestServer(t, nil, Dependencies{Synthesizer: synth})

	w := serve(server, jsonRequest("/api/tts", `{"text":"  반가워요  "}`))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/mpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "ID3-mp3", w.Body.String())
	assert.Equal(t, "반가워요", synth.last.Text)
	assert.Equal(t, "nova", synth.last.Voice)
	assert.InDelta(t, 1.0, synth.last.Speed, 0.0001)
}

func TestTTS_Overrides(t *testing.T) {
	synth := &fakeSynthesizer{audio: []byte("mp3")}
	server := newTestServer(t, nil, Dependencies{Synthesizer: synth})

	w := serve(server, jsonRequest("/api/tts", `{"text":"hi","voice":"shimmer","speed":1.5}`))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "shimmer", synth.last.Voice)
	assert.InDelta(t, 1.5, synth.last.Speed, 0.0001)
}

func TestTTS_InvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"text":`},
		{name: "missing text", body: `{}`},
		{name: "blank text", body: `{"text":"   "}`},
		{name: "too long", body: `{"text":"` + strings.Repeat("가", 21) + `"}`},
		{name: "speed too low", body: `{"text":"hi","speed":0.1}`},
		{name: "speed too high", body: `{"text":"hi","speed":4.5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			synth := &fakeSynthesizer{audio: []byte("mp3")}
			server := newTestServer(t, nil, Dependencies{Synthesizer: synth})

			w := serve(server, jsonRequest("/api/tts", tt.body))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Zero(t, synth.calls)
		})
	}
}

func TestTTS_CountsCharactersNotBytes(t *testing.T) {
	synth := &fakeSynthesizer{audio: []byte("mp3")}
	server := newTestServer(t, nil, Dependencies{Synthesizer: synth})

	w := serve(server, jsonRequest("/api/tts", `{"text":"`+strings.Repeat("가", 20)+`"}`))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTTS_NotConfigured(t *testing.T) {
	server := newTestServer(t, nil, Dependencies{})

	w := serve(server, jsonRequest("/api/tts", `{"text":"hi"}`))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(resilience.ErrorCodeNotConfigured), decodeError(t, w).Code)
}

func TestTTS_UpstreamFailure(t *testing.T) {
	server := newTestServer(t, nil, Dependencies{Synthesizer: &fakeSynthesizer{err: errors.New("boom")}})

	w := serve(server, jsonRequest("/api/tts", `{"text":"hi"}`))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(resilience.ErrorCodeDependencyFailure), decodeError(t, w).Code)
}

func multipartRequest(t *testing.T, fileName, content string, fields map[string]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if fileName != "" {
		part, err := writer.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/stt", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestSTT(t *testing.T) {
	transcriber := &fakeTranscriber{text: "안녕하세요"}
	server := newTestServer(t, nil, Dependencies{Transcriber: transcriber})

	w := serve(server, multipartRequest(t, "voice.webm", "fake-audio", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"text":"안녕하세요"}`, w.Body.String())
	assert.Equal(t, "voice.webm", transcriber.last.FileName)
	assert.Equal(t, "ko", transcriber.last.Language)
	assert.Equal(t, "fake-audio", transcriber.audio)
}

func TestSTT_LanguageOverride(t *testing.T) {
	transcriber := &fakeTranscriber{text: "hello"}
	server := newTestServer(t, nil, Dependencies{Transcriber: transcriber})

	w := serve(server, multipartRequest(t, "voice.m4a", "fake-audio", map[string]string{"language": "en"}))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "en", transcriber.last.Language)
}

func TestSTT_MissingFile(t *testing.T) {
	transcriber := &fakeTranscriber{text: "unused"}
	server := newTestServer(t, nil, Dependencies{Transcriber: transcriber})

	w := serve(server, multipartRequest(t, "", "", map[string]string{"language": "ko"}))

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "file is required", decodeError(t, w).Error)
}

func TestSTT_NotConfigured(t *testing.T) {
	server := newTestServer(t, nil, Dependencies{})

	w := serve(server, multipartRequest(t, "voice.webm", "fake-audio", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSTT_UpstreamFailure(t *testing.T) {
	server := newTestServer(t, nil, Dependencies{Transcriber: &fakeTranscriber{err: errors.New("boom")}})

	w := serve(server, multipartRequest(t, "voice.webm", "fake-audio", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(resilience.ErrorCodeDependencyFailure), decodeError(t, w).Code)
}

func TestSTT_TooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Speech.MaxAudioBytes = 128
	server := newTestServer(t, cfg, Dependencies{Transcriber: &fakeTranscriber{text: "x"}})

	w := serve(server, multipartRequest(t, "voice.webm", strings.Repeat("a", 512), nil))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
