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
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	internalopenai "github.com/lozee/lozee-relay/internal/openai"
	"github.com/lozee/lozee-relay/internal/resilience"
)

// Client-facing messages for /api/gpt-chat
const (
	msgKeyNotConfigured = "API 키가 설정되지 않았습니다."
	msgInvalidRequest   = "유효하지 않은 요청입니다."
	msgInternalError    = "서버 내부 오류"
)

// ChatMessage is one turn of the conversation sent by the client
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the /api/gpt-chat body. Profile fields the client also
// sends (userAge, userDisease, onboarding flags) are accepted and ignored.
type ChatRequest struct {
	Messages    json.RawMessage `json:"messages"`
	UserID      string          `json:"userId"`
	Model       string          `json:"model"`
	Temperature *float64        `json:"temperature"`
}

var allowedRoles = map[string]bool{
	openai.ChatMessageRoleSystem:    true,
	openai.ChatMessageRoleUser:      true,
	openai.ChatMessageRoleAssistant: true,
}

// parseMessages requires a non-empty JSON array of {role, content}
func parseMessages(raw json.RawMessage) ([]openai.ChatCompletionMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("messages must be an array")
	}

	var messages []ChatMessage
	if err := json.Unmarshal(trimmed, &messages); err != nil {
		return nil, fmt.Errorf("invalid messages: %w", err)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("messages must not be empty")
	}

	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		if !allowedRoles[msg.Role] {
			return nil, fmt.Errorf("message %d has unknown role %q", i, msg.Role)
		}
		out[i] = openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}
	return out, nil
}

// chatModel honours the client's model only when it is allow-listed
func (s *Server) chatModel(requested string) string {
	if requested != "" && s.cfg.IsAllowedModel(requested) {
		return requested
	}
	return s.cfg.Chat.Model
}

// chatTemperature honours the client's temperature only when
// chat.allow_client_temperature is set and the value is in [0, 2]
func (s *Server) chatTemperature(requested *float64) float32 {
	if s.cfg.Chat.AllowClientTemperature && requested != nil && *requested >= 0 && *requested <= 2 {
		return float32(*requested)
	}
	return float32(s.cfg.Chat.Temperature)
}

func (s *Server) handleChat(c *gin.Context) {
	start := time.Now()

	if s.chat == nil {
		s.errors.Abort(c, resilience.NewNotConfiguredError(msgKeyNotConfigured), "creating a chat reply")
		return
	}

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if isBodyTooLarge(err) {
			s.errors.Abort(c, resilience.NewPayloadTooLargeError(msgInvalidRequest, err), "reading the chat request")
			return
		}
		s.errors.Abort(c, resilience.NewBadRequestError(msgInvalidRequest, err), "reading the chat request")
		return
	}

	messages, err := parseMessages(req.Messages)
	if err != nil {
		s.errors.Abort(c, resilience.NewBadRequestError(msgInvalidRequest, err), "validating the chat request")
		return
	}

	model := s.chatModel(req.Model)
	ctx, cancel := s.requestContext(c)
	defer cancel()

	callStart := time.Now()
	resp, err := s.chat.CreateChatCompletion(ctx, internalopenai.ChatCompletionRequest{
		Messages:    messages,
		Model:       model,
		MaxTokens:   s.cfg.Chat.MaxTokens,
		Temperature: s.chatTemperature(req.Temperature),
	})
	s.metrics.ObserveUpstream("chat", time.Since(callStart), err)
	if err != nil {
		s.errors.Abort(c, resilience.NewUpstreamError(msgInternalError, err), "creating a chat reply")
		return
	}

	content := resp.Content
	if strings.TrimSpace(content) == "" {
		content = s.cfg.Chat.FallbackReply
	}

	result := s.splitter.Split(content)
	s.metrics.ObserveSplit(result.Outcome.String())

	s.logger.Info("Chat reply relayed",
		zap.String("user_id", req.UserID),
		zap.String("model", model),
		zap.Int("message_count", len(messages)),
		zap.String("split_outcome", result.Outcome.String()),
		zap.Int("text_length", len(result.Display)),
		zap.Int("analysis_keys", len(result.Analysis)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("processing_time", time.Since(start)),
		zap.String("request_id", c.GetString(resilience.RequestIDKey)),
	)

	c.JSON(http.StatusOK, gin.H{
		"text":                   result.Display,
		s.cfg.Chat.AnalysisField: result.Analysis,
	})
}
