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

package resilience

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorResponse is the error body returned by every relay endpoint
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorCode represents standard error codes used across the relay
type ErrorCode string

const (
	ErrorCodeBadRequest        ErrorCode = "BAD_REQUEST"
	ErrorCodePayloadTooLarge   ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrorCodeInternalError     ErrorCode = "INTERNAL_ERROR"
	ErrorCodeNotConfigured     ErrorCode = "NOT_CONFIGURED"
	ErrorCodeTimeout           ErrorCode = "TIMEOUT"
	ErrorCodeDependencyFailure ErrorCode = "DEPENDENCY_FAILURE"
)

// ServiceError is an error with a client-safe message and an HTTP status
type ServiceError struct {
	Message    string
	Code       ErrorCode
	StatusCode int
	Internal   error
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Internal
}

// ToErrorResponse converts a ServiceError to an ErrorResponse
func (e *ServiceError) ToErrorResponse(requestID string) ErrorResponse {
	return ErrorResponse{
		Error:     e.Message,
		Code:      string(e.Code),
		RequestID: requestID,
		Timestamp: time.Now(),
	}
}

// NewServiceError creates a new ServiceError
func NewServiceError(message string, code ErrorCode, statusCode int, internal error) *ServiceError {
	return &ServiceError{
		Message:    message,
		Code:       code,
		StatusCode: statusCode,
		Internal:   internal,
	}
}

// NewBadRequestError creates a 400 error
func NewBadRequestError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeBadRequest, http.StatusBadRequest, internal)
}

// NewPayloadTooLargeError creates a 413 error
func NewPayloadTooLargeError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodePayloadTooLarge, http.StatusRequestEntityTooLarge, internal)
}

// NewInternalError creates a 500 error
func NewInternalError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeInternalError, http.StatusInternalServerError, internal)
}

// NewNotConfiguredError reports a missing vendor credential. Browsers see a
// plain 500, the same as any other server-side fault.
func NewNotConfiguredError(message string) *ServiceError {
	return NewServiceError(message, ErrorCodeNotConfigured, http.StatusInternalServerError, nil)
}

// NewUpstreamError wraps a failed vendor call. Deadline errors get the
// TIMEOUT code; the status stays 500 either way.
func NewUpstreamError(message string, internal error) *ServiceError {
	code := ErrorCodeDependencyFailure
	if errors.Is(internal, context.DeadlineExceeded) {
		code = ErrorCodeTimeout
	}
	return NewServiceError(message, code, http.StatusInternalServerError, internal)
}

// ErrorHandler writes ServiceErrors to gin responses and logs their cause
type ErrorHandler struct {
	logger *zap.Logger
}

// NewErrorHandler creates a new error handler with the given logger
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorHandler{logger: logger}
}

// Abort writes err as an ErrorResponse and stops the handler chain.
// Errors that are not ServiceErrors become generic 500s.
func (eh *ErrorHandler) Abort(c *gin.Context, err error, operation string) {
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		serviceErr = NewInternalError("An error occurred while "+operation, err)
	}

	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("error_code", string(serviceErr.Code)),
		zap.Int("status_code", serviceErr.StatusCode),
		zap.String("request_id", c.GetString(RequestIDKey)),
	}
	if serviceErr.Internal != nil {
		fields = append(fields, zap.Error(serviceErr.Internal))
	}

	if serviceErr.StatusCode >= http.StatusInternalServerError {
		eh.logger.Error("Request failed", fields...)
	} else {
		eh.logger.Warn("Request rejected", fields...)
	}

	c.AbortWithStatusJSON(serviceErr.StatusCode, serviceErr.ToErrorResponse(c.GetString(RequestIDKey)))
}

// RequestIDKey is the gin context key holding the request id
const RequestIDKey = "request_id"
