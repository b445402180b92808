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
	"fmt"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type hintedError struct {
	delay time.Duration
}

func (e *hintedError) Error() string             { return "rate limited" }
func (e *hintedError) RetryDelay() time.Duration { return e.delay }

func TestDefaultBackoffConfig(t *testing.T) {
	config := DefaultBackoffConfig()

	if config.BaseDelay != 1*time.Second {
		t.Errorf("Expected BaseDelay to be 1 second, got %v", config.BaseDelay)
	}

	if config.MaxRetries != 3 {
		t.Errorf("Expected MaxRetries to be 3, got %d", config.MaxRetries)
	}

	if config.Multiplier != 2.0 {
		t.Errorf("Expected Multiplier to be 2.0, got %f", config.Multiplier)
	}

	if config.MaxDelay != 30*time.Second {
		t.Errorf("Expected MaxDelay to be 30 seconds, got %v", config.MaxDelay)
	}
}

func TestWithExponentialBackoff_Success(t *testing.T) {
	attempts := 0
	fn := func(_ context.Context) error {
		attempts++
		return nil
	}

	err := WithExponentialBackoff(context.Background(), zap.NewNop(), DefaultBackoffConfig(), fn)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestWithExponentialBackoff_SuccessAfterRetry(t *testing.T) {
	config := DefaultBackoffConfig()
	config.BaseDelay = 10 * time.Millisecond

	attempts := 0
	fn := func(_ context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}

	start := time.Now()
	err := WithExponentialBackoff(context.Background(), zap.NewNop(), config, fn)
	duration := time.Since(start)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}

	if duration < 10*time.Millisecond {
		t.Errorf("Expected some delay from retries, got %v", duration)
	}
}

func TestWithExponentialBackoff_ExhaustRetries(t *testing.T) {
	config := DefaultBackoffConfig()
	config.BaseDelay = 1 * time.Millisecond
	config.MaxRetries = 2

	attempts := 0
	testError := errors.New("persistent error")
	fn := func(_ context.Context) error {
		attempts++
		return testError
	}

	err := WithExponentialBackoff(context.Background(), nil, config, fn)

	if err == nil {
		t.Fatal("Expected error after exhausting retries")
	}

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}

	if !errors.Is(err, testError) {
		t.Errorf("Expected wrapped error to contain original error")
	}
}

func TestWithExponentialBackoff_NonRetryableError(t *testing.T) {
	config := DefaultBackoffConfig()
	config.RetryOnFunc = func(err error) bool {
		return err.Error() != "non-retryable"
	}

	attempts := 0
	fn := func(_ context.Context) error {
		attempts++
		return errors.New("non-retryable")
	}

	err := WithExponentialBackoff(context.Background(), zap.NewNop(), config, fn)

	if err == nil {
		t.Error("Expected error for non-retryable error")
	}

	if attempts != 1 {
		t.Errorf("Expected 1 attempt for non-retryable error, got %d", attempts)
	}
}

func TestWithExponentialBackoff_ContextCancellation(t *testing.T) {
	config := DefaultBackoffConfig()
	config.BaseDelay = 500 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	fn := func(_ context.Context) error {
		attempts++
		if attempts == 1 {
			cancel()
			return errors.New("first error")
		}
		return nil
	}

	err := WithExponentialBackoff(ctx, zap.NewNop(), config, fn)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	if attempts != 1 {
		t.Errorf("Expected 1 attempt before cancellation, got %d", attempts)
	}
}

func TestWithExponentialBackoff_HonoursDelayHint(t *testing.T) {
	config := DefaultBackoffConfig()
	config.BaseDelay = time.Hour
	config.MaxRetries = 1

	attempts := 0
	fn := func(_ context.Context) error {
		attempts++
		if attempts == 1 {
			return fmt.Errorf("wrapped: %w", &hintedError{delay: time.Millisecond})
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := WithExponentialBackoff(ctx, zap.NewNop(), config, fn); err != nil {
		t.Errorf("Expected hinted delay to be used instead of base delay, got %v", err)
	}
}

func TestDelayFor(t *testing.T) {
	config := BackoffConfig{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   300 * time.Millisecond,
		Multiplier: 2,
	}

	tests := []struct {
		attempt  int
		err      error
		expected time.Duration
	}{
		{attempt: 0, err: errors.New("x"), expected: 100 * time.Millisecond},
		{attempt: 1, err: errors.New("x"), expected: 200 * time.Millisecond},
		{attempt: 2, err: errors.New("x"), expected: 300 * time.Millisecond},
		{attempt: 0, err: &hintedError{delay: 250 * time.Millisecond}, expected: 250 * time.Millisecond},
		{attempt: 0, err: &hintedError{delay: time.Minute}, expected: 300 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := config.delayFor(tt.attempt, tt.err); got != tt.expected {
			t.Errorf("attempt %d (%v): expected %v, got %v", tt.attempt, tt.err, tt.expected, got)
		}
	}
}

func TestDefaultRetryOnFunc(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "canceled", err: context.Canceled, expected: false},
		{name: "wrapped deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), expected: false},
		{name: "generic", err: errors.New("boom"), expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultRetryOnFunc(tt.err); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}
