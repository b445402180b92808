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

package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/lozee/lozee-relay/internal/resilience"
)

const (
	// DefaultChatModel is used when a request does not name a model
	DefaultChatModel = "gpt-4-turbo"
	// DefaultTranscriptionModel is the Whisper model used for speech recognition
	DefaultTranscriptionModel = openai.Whisper1
	// DefaultSpeechModel is the text-to-speech model
	DefaultSpeechModel = openai.TTSModel1
	// DefaultVoice is the text-to-speech voice
	DefaultVoice = openai.VoiceNova
	// BaseRetryDelay defines the base delay for exponential backoff
	BaseRetryDelay = time.Second
)

// Client wraps the go-openai client with retries and logging
type Client struct {
	client  *openai.Client
	logger  *zap.Logger
	backoff resilience.BackoffConfig
}

// RetryableError represents a vendor error that can be retried
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, e.Message)
}

// RetryDelay implements resilience.DelayHinter
func (e *RetryableError) RetryDelay() time.Duration {
	return e.RetryAfter
}

// NewClient creates a client for the public OpenAI endpoint
func NewClient(apiKey string, logger *zap.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	return NewClientWithConfig(openai.DefaultConfig(apiKey), logger), nil
}

// NewClientWithConfig creates a client from an explicit go-openai config,
// which is how tests and alternate endpoints set BaseURL.
func NewClientWithConfig(cfg openai.ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	backoff := resilience.DefaultBackoffConfig()
	backoff.BaseDelay = BaseRetryDelay
	backoff.RetryOnFunc = isRetryable

	return &Client{
		client:  openai.NewClientWithConfig(cfg),
		logger:  logger,
		backoff: backoff,
	}
}

// SetBackoff replaces the retry policy. A caller predicate can only narrow
// the set of retried errors: 4xx responses other than 429 are never retried.
func (c *Client) SetBackoff(cfg resilience.BackoffConfig) {
	retryOn := cfg.RetryOnFunc
	cfg.RetryOnFunc = func(err error) bool {
		return isRetryable(err) && (retryOn == nil || retryOn(err))
	}
	c.backoff = cfg
}

// ChatCompletionRequest represents a chat completion request
type ChatCompletionRequest struct {
	Messages    []openai.ChatCompletionMessage
	MaxTokens   int
	Temperature float32
	Model       string
}

// ChatCompletionResponse represents the response from a chat completion.
// Content is empty when the model returned no choices.
type ChatCompletionResponse struct {
	Content      string
	FinishReason string
	Usage        openai.Usage
}

// CreateChatCompletion creates a chat completion with retry logic
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	if req.Model == "" {
		req.Model = DefaultChatModel
	}

	openaiReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	c.logger.Debug("Creating chat completion",
		zap.String("model", req.Model),
		zap.Int("max_tokens", req.MaxTokens),
		zap.Float64("temperature", float64(req.Temperature)),
		zap.Int("message_count", len(req.Messages)),
	)

	var resp openai.ChatCompletionResponse
	err := resilience.WithExponentialBackoff(ctx, c.logger, c.backoff, func(ctx context.Context) error {
		var err error
		resp, err = c.client.CreateChatCompletion(ctx, openaiReq)
		if err != nil {
			return c.handleAPIError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := &ChatCompletionResponse{Usage: resp.Usage}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
		out.FinishReason = string(resp.Choices[0].FinishReason)
	}

	c.logger.Debug("Chat completion successful",
		zap.String("finish_reason", out.FinishReason),
		zap.Int("choices", len(resp.Choices)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)

	return out, nil
}

// TranscriptionRequest carries one audio upload
type TranscriptionRequest struct {
	Audio    io.Reader
	FileName string
	Language string
	Model    string
}

// Transcribe converts speech to text with Whisper. The audio reader is
// consumed once, so transcription is not retried.
func (c *Client) Transcribe(ctx context.Context, req TranscriptionRequest) (string, error) {
	if req.Audio == nil {
		return "", fmt.Errorf("audio is required")
	}
	if req.FileName == "" {
		req.FileName = "audio.webm"
	}
	if req.Model == "" {
		req.Model = DefaultTranscriptionModel
	}

	start := time.Now()
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    req.Model,
		FilePath: req.FileName,
		Reader:   req.Audio,
		Language: req.Language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", c.handleAPIError(err)
	}

	c.logger.Debug("Transcription completed",
		zap.String("file_name", req.FileName),
		zap.String("language", req.Language),
		zap.Int("text_length", len(resp.Text)),
		zap.Duration("processing_time", time.Since(start)),
	)

	return resp.Text, nil
}

// SpeechRequest carries text to synthesize
type SpeechRequest struct {
	Text  string
	Voice string
	Speed float64
	Model string
}

// Synthesize converts text to mp3 audio
func (c *Client) Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("text is required")
	}

	speechReq := openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(req.Model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(req.Voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          req.Speed,
	}
	if speechReq.Model == "" {
		speechReq.Model = DefaultSpeechModel
	}
	if speechReq.Voice == "" {
		speechReq.Voice = DefaultVoice
	}
	if speechReq.Speed == 0 {
		speechReq.Speed = 1.0
	}

	var audio []byte
	err := resilience.WithExponentialBackoff(ctx, c.logger, c.backoff, func(ctx context.Context) error {
		stream, err := c.client.CreateSpeech(ctx, speechReq)
		if err != nil {
			return c.handleAPIError(err)
		}
		defer func() { _ = stream.Close() }()

		audio, err = io.ReadAll(stream)
		if err != nil {
			return fmt.Errorf("failed to read speech audio: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Speech synthesis completed",
		zap.String("voice", string(speechReq.Voice)),
		zap.Int("text_length", len(req.Text)),
		zap.Int("audio_bytes", len(audio)),
	)

	return audio, nil
}

// handleAPIError classifies vendor errors; 429 and 5xx become RetryableError
func (c *Client) handleAPIError(err error) error {
	status, message := 0, err.Error()

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status, message = apiErr.HTTPStatusCode, apiErr.Message
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return fmt.Errorf("OpenAI client error: %w", err)
	}

	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("invalid API key or unauthorized access: %w", err)
	case http.StatusTooManyRequests:
		return &RetryableError{StatusCode: status, Message: message, RetryAfter: BaseRetryDelay}
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		// zero RetryAfter: exponential backoff
		return &RetryableError{StatusCode: status, Message: message}
	default:
		return fmt.Errorf("OpenAI API error (status %d): %s: %w", status, message, err)
	}
}

func isRetryable(err error) bool {
	var retryErr *RetryableError
	return errors.As(err, &retryErr)
}
