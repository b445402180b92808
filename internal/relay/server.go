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

// Package relay serves the chat, speech and operational HTTP routes
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lozee/lozee-relay/internal/config"
	"github.com/lozee/lozee-relay/internal/health"
	"github.com/lozee/lozee-relay/internal/metrics"
	internalopenai "github.com/lozee/lozee-relay/internal/openai"
	"github.com/lozee/lozee-relay/internal/resilience"
	"github.com/lozee/lozee-relay/internal/splitter"
)

const (
	// ServiceName is reported by /health and the startup log
	ServiceName = "lozee-relay"
	// Version of the relay
	Version = "1.0.0"
)

// ChatCompleter produces one assistant reply for a conversation
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req internalopenai.ChatCompletionRequest) (*internalopenai.ChatCompletionResponse, error)
}

// Transcriber converts recorded speech to text
type Transcriber interface {
	Transcribe(ctx context.Context, req internalopenai.TranscriptionRequest) (string, error)
}

// SpeechSynthesizer converts text to encoded audio
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, req internalopenai.SpeechRequest) ([]byte, error)
}

// Dependencies are the collaborators injected into the server. Vendor
// fields stay nil when no API key is configured; their routes then fail
// with 500 instead of the process refusing to start.
type Dependencies struct {
	Chat        ChatCompleter
	Transcriber Transcriber
	Synthesizer SpeechSynthesizer
	Metrics     *metrics.Metrics
}

// Server owns the gin engine and everything the handlers share
type Server struct {
	cfg         *config.Config
	logger      *zap.Logger
	chat        ChatCompleter
	transcriber Transcriber
	synthesizer SpeechSynthesizer
	splitter    *splitter.Splitter
	metrics     *metrics.Metrics
	health      *health.Manager
	errors      *resilience.ErrorHandler
	router      *gin.Engine
}

// NewServer wires the routes. It fails only when the configured split
// strategy is unknown.
func NewServer(cfg *config.Config, deps Dependencies, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	locator, err := splitter.ParseStrategy(cfg.Chat.SplitStrategy, cfg.Chat.Sentinel)
	if err != nil {
		return nil, fmt.Errorf("failed to configure splitter: %w", err)
	}

	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}

	s := &Server{
		cfg:         cfg,
		logger:      logger,
		chat:        deps.Chat,
		transcriber: deps.Transcriber,
		synthesizer: deps.Synthesizer,
		splitter:    splitter.New(splitter.WithLocator(locator)),
		metrics:     m,
		health:      health.NewManager(ServiceName, Version, logger),
		errors:      resilience.NewErrorHandler(logger),
	}
	s.registerHealthChecks()
	s.router = s.buildRouter()

	return s, nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// HTTPServer builds the listener configuration for addr
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(
		RequestID(),
		AccessLog(s.logger),
		Metrics(s.metrics),
		Recovery(s.logger),
	)

	router.GET("/health", gin.WrapF(s.health.HTTPHandler()))
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := router.Group("/api")
	api.POST("/gpt-chat", BodyLimit(s.cfg.Server.MaxBodyBytes, s.errors), s.handleChat)
	api.POST("/tts", BodyLimit(s.cfg.Server.MaxBodyBytes, s.errors), s.handleTTS)
	api.POST("/stt", BodyLimit(s.cfg.Speech.MaxAudioBytes, s.errors), s.handleSTT)

	return router
}

const selfTestReply = `ok {"summaryTitle":"self-test"}`

func (s *Server) registerHealthChecks() {
	s.health.AddChecker("openai", health.ConfigChecker("openai.apikey", func() error {
		if s.chat == nil {
			return errors.New("API key is not configured")
		}
		return nil
	}))
	s.health.AddCheckerFunc("splitter", health.SelfTestChecker("splitter", func(context.Context) error {
		if result := s.splitter.Split(selfTestReply); result.Outcome != splitter.OutcomeParsed {
			return fmt.Errorf("self-test reply split as %s", result.Outcome)
		}
		return nil
	}))
}

// requestContext bounds a vendor call by server.request_timeout
func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), time.Duration(s.cfg.Server.RequestTimeout)*time.Second)
}
