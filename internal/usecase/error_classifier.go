package usecase

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"finagent/internal/domain"
)

// ErrorCategory tells the agent loop whether a failed model call is worth
// another attempt.
type ErrorCategory int

const (
	ErrorCategoryUnknown   ErrorCategory = iota
	ErrorCategoryRetryable               // 429, 5xx, timeouts, dropped connections
	ErrorCategoryPermanent               // auth, bad request, context overflow, open breaker
)

func (c ErrorCategory) String() string {
	switch c {
	case ErrorCategoryRetryable:
		return "retryable"
	case ErrorCategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ClassifiedError holds the result of error classification.
type ClassifiedError struct {
	Original   error
	Category   ErrorCategory
	Sentinel   error // mapped domain sentinel, or nil
	StatusCode int   // HTTP status if one could be extracted
}

// Retryable reports whether the call may be attempted again.
func (c ClassifiedError) Retryable() bool { return c.Category == ErrorCategoryRetryable }

// ErrorClassifier sorts model provider errors into retryable and permanent.
type ErrorClassifier struct{}

func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// apiErrorPattern matches the "API error <status>:" prefix produced by the llm adapters.
var apiErrorPattern = regexp.MustCompile(`API error (\d+):`)

type sentinelRule struct {
	sentinel error
	category ErrorCategory
}

// Checked in order; the first match wins.
var sentinelRules = []sentinelRule{
	{domain.ErrRateLimit, ErrorCategoryRetryable},
	{domain.ErrTimeout, ErrorCategoryRetryable},
	{domain.ErrAuthInvalid, ErrorCategoryPermanent},
	{domain.ErrContextOverflow, ErrorCategoryPermanent},
	{domain.ErrModelUnavailable, ErrorCategoryPermanent},
	{domain.ErrModelResponse, ErrorCategoryPermanent},
}

type stringRule struct {
	patterns []string
	sentinel error
	category ErrorCategory
}

var stringRules = []stringRule{
	{[]string{"rate limit", "too many requests"}, domain.ErrRateLimit, ErrorCategoryRetryable},
	{[]string{"context length", "token limit", "maximum context"}, domain.ErrContextOverflow, ErrorCategoryPermanent},
	{[]string{"connection refused", "no such host", "timeout", "deadline exceeded", "connection reset", "eof"}, nil, ErrorCategoryRetryable},
}

// Classify inspects an error returned by a model provider.
func (c *ErrorClassifier) Classify(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{}
	}

	// The caller's own cancellation is never worth retrying.
	if errors.Is(err, context.Canceled) {
		return ClassifiedError{Original: err, Category: ErrorCategoryPermanent}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassifiedError{Original: err, Category: ErrorCategoryRetryable, Sentinel: domain.ErrTimeout}
	}

	for _, r := range sentinelRules {
		if errors.Is(err, r.sentinel) {
			return ClassifiedError{Original: err, Category: r.category, Sentinel: r.sentinel}
		}
	}

	errStr := err.Error()
	if m := apiErrorPattern.FindStringSubmatch(errStr); len(m) == 2 {
		code, _ := strconv.Atoi(m[1])
		return classifyByStatus(err, code, errStr)
	}

	lower := strings.ToLower(errStr)
	for _, r := range stringRules {
		for _, p := range r.patterns {
			if strings.Contains(lower, p) {
				return ClassifiedError{Original: err, Category: r.category, Sentinel: r.sentinel}
			}
		}
	}
	return ClassifiedError{Original: err, Category: ErrorCategoryUnknown}
}

func classifyByStatus(err error, code int, body string) ClassifiedError {
	ce := ClassifiedError{Original: err, StatusCode: code, Category: ErrorCategoryPermanent}
	switch {
	case code == 429:
		ce.Category, ce.Sentinel = ErrorCategoryRetryable, domain.ErrRateLimit
	case code == 401 || code == 403:
		ce.Sentinel = domain.ErrAuthInvalid
	case code == 408 || code == 504:
		ce.Category, ce.Sentinel = ErrorCategoryRetryable, domain.ErrTimeout
	case code == 413:
		ce.Sentinel = domain.ErrContextOverflow
	case code == 400:
		lower := strings.ToLower(body)
		if strings.Contains(lower, "context") || strings.Contains(lower, "too long") {
			ce.Sentinel = domain.ErrContextOverflow
		}
	case code >= 500 && code < 600:
		ce.Category = ErrorCategoryRetryable
	}
	return ce
}
