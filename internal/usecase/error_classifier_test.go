package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"finagent/internal/domain"
)

func TestClassifyNilError(t *testing.T) {
	got := NewErrorClassifier().Classify(nil)
	if got.Category != ErrorCategoryUnknown || got.Original != nil {
		t.Errorf("Classify(nil) = %+v", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category ErrorCategory
		sentinel error
		status   int
	}{
		{"429", fmt.Errorf("API error 429: slow down"), ErrorCategoryRetryable, domain.ErrRateLimit, 429},
		{"401", fmt.Errorf("API error 401: unauthorized"), ErrorCategoryPermanent, domain.ErrAuthInvalid, 401},
		{"403", fmt.Errorf("API error 403: forbidden"), ErrorCategoryPermanent, domain.ErrAuthInvalid, 403},
		{"400 overflow", fmt.Errorf("API error 400: prompt is too long for context"), ErrorCategoryPermanent, domain.ErrContextOverflow, 400},
		{"400 plain", fmt.Errorf("API error 400: invalid tool schema"), ErrorCategoryPermanent, nil, 400},
		{"500", fmt.Errorf("API error 500: boom"), ErrorCategoryRetryable, nil, 500},
		{"503", fmt.Errorf("API error 503: loading model"), ErrorCategoryRetryable, nil, 503},
		{"504", fmt.Errorf("API error 504: gateway"), ErrorCategoryRetryable, domain.ErrTimeout, 504},
		{"wrapped rate limit", fmt.Errorf("ollama: %w", domain.ErrRateLimit), ErrorCategoryRetryable, domain.ErrRateLimit, 0},
		{"wrapped auth", fmt.Errorf("openai: %w", domain.ErrAuthInvalid), ErrorCategoryPermanent, domain.ErrAuthInvalid, 0},
		{"breaker open", fmt.Errorf("llm: %w", domain.ErrModelUnavailable), ErrorCategoryPermanent, domain.ErrModelUnavailable, 0},
		{"deadline", fmt.Errorf("chat: %w", context.DeadlineExceeded), ErrorCategoryRetryable, domain.ErrTimeout, 0},
		{"canceled", fmt.Errorf("chat: %w", context.Canceled), ErrorCategoryPermanent, nil, 0},
		{"conn refused", errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"), ErrorCategoryRetryable, nil, 0},
		{"rate limit text", errors.New("Too Many Requests"), ErrorCategoryRetryable, domain.ErrRateLimit, 0},
		{"unknown", errors.New("something odd"), ErrorCategoryUnknown, nil, 0},
	}
	c := NewErrorClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.err)
			if got.Category != tt.category {
				t.Errorf("Category = %s, want %s", got.Category, tt.category)
			}
			if got.Sentinel != tt.sentinel {
				t.Errorf("Sentinel = %v, want %v", got.Sentinel, tt.sentinel)
			}
			if got.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", got.StatusCode, tt.status)
			}
			if got.Original != tt.err {
				t.Error("Original not preserved")
			}
		})
	}
}

func TestClassifiedErrorRetryable(t *testing.T) {
	if !(ClassifiedError{Category: ErrorCategoryRetryable}).Retryable() {
		t.Error("retryable category should report Retryable")
	}
	if (ClassifiedError{Category: ErrorCategoryUnknown}).Retryable() {
		t.Error("unknown category should not be retried")
	}
}
