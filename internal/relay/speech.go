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
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	internalopenai "github.com/lozee/lozee-relay/internal/openai"
	"github.com/lozee/lozee-relay/internal/resilience"
)

// TTSRequest is the /api/tts body
type TTSRequest struct {
	Text  string   `json:"text"`
	Voice string   `json:"voice"`
	Speed *float64 `json:"speed"`
}

func (s *Server) handleTTS(c *gin.Context) {
	if s.synthesizer == nil {
		s.errors.Abort(c, resilience.NewNotConfiguredError(msgKeyNotConfigured), "synthesizing speech")
		return
	}

	var req TTSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if isBodyTooLarge(err) {
			s.errors.Abort(c, resilience.NewPayloadTooLargeError(msgInvalidRequest, err), "reading the speech request")
			return
		}
		s.errors.Abort(c, resilience.NewBadRequestError(msgInvalidRequest, err), "reading the speech request")
		return
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		s.errors.Abort(c, resilience.NewBadRequestError("text is required", nil), "validating the speech request")
		return
	}
	if n := utf8.RuneCountInString(text); n > s.cfg.Speech.MaxTTSChars {
		s.errors.Abort(c, resilience.NewBadRequestError(
			fmt.Sprintf("text exceeds %d characters", s.cfg.Speech.MaxTTSChars), nil), "validating the speech request")
		return
	}

	speed := s.cfg.Speech.Speed
	if req.Speed != nil {
		if *req.Speed < 0.25 || *req.Speed > 4 {
			s.errors.Abort(c, resilience.NewBadRequestError("speed must be between 0.25 and 4.0", nil), "validating the speech request")
			return
		}
		speed = *req.Speed
	}
	voice := req.Voice
	if voice == "" {
		voice = s.cfg.Speech.Voice
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	callStart := time.Now()
	audio, err := s.synthesizer.Synthesize(ctx, internalopenai.SpeechRequest{
		Text:  text,
		Voice: voice,
		Speed: speed,
	})
	s.metrics.ObserveUpstream("tts", time.Since(callStart), err)
	if err != nil {
		s.errors.Abort(c, resilience.NewUpstreamError(msgInternalError, err), "synthesizing speech")
		return
	}

	s.logger.Debug("Speech synthesized",
		zap.String("voice", voice),
		zap.Int("text_length", len(text)),
		zap.Int("audio_bytes", len(audio)),
	)

	c.Data(http.StatusOK, "audio/mpeg", audio)
}

func (s *Server) handleSTT(c *gin.Context) {
	if s.transcriber == nil {
		s.errors.Abort(c, resilience.NewNotConfiguredError(msgKeyNotConfigured), "transcribing speech")
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		if isBodyTooLarge(err) {
			s.errors.Abort(c, resilience.NewPayloadTooLargeError("audio file is too large", err), "reading the audio upload")
			return
		}
		s.errors.Abort(c, resilience.NewBadRequestError("file is required", err), "reading the audio upload")
		return
	}

	file, err := header.Open()
	if err != nil {
		s.errors.Abort(c, resilience.NewInternalError("failed to read audio upload", err), "reading the audio upload")
		return
	}
	defer func() { _ = file.Close() }()

	language := c.PostForm("language")
	if language == "" {
		language = s.cfg.Speech.Language
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	callStart := time.Now()
	text, err := s.transcriber.Transcribe(ctx, internalopenai.TranscriptionRequest{
		Audio:    file,
		FileName: header.Filename,
		Language: language,
	})
	s.metrics.ObserveUpstream("stt", time.Since(callStart), err)
	if err != nil {
		s.errors.Abort(c, resilience.NewUpstreamError(msgInternalError, err), "transcribing speech")
		return
	}

	s.logger.Debug("Speech transcribed",
		zap.String("file_name", header.Filename),
		zap.Int64("audio_bytes", header.Size),
		zap.String("language", language),
		zap.Int("text_length", len(text)),
	)

	c.JSON(http.StatusOK, gin.H{"text": text})
}
