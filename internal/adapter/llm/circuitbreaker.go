package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"finagent/internal/domain"
	"finagent/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// Warmer is implemented by providers that can preload their model.
type Warmer interface {
	Warmup(ctx context.Context) error
}

// CircuitBreakerProvider wraps an LLMProvider so repeated failures open the
// circuit and later calls fail fast with domain.ErrModelUnavailable.
type CircuitBreakerProvider struct {
	inner   domain.LLMProvider
	breaker *gobreaker.CircuitBreaker[*domain.ChatResponse]
	logger  *slog.Logger
}

// NewCircuitBreakerProvider wraps inner. Zero config fields use defaults.
func NewCircuitBreakerProvider(inner domain.LLMProvider, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerProvider {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[*domain.ChatResponse](gobreaker.Settings{
		Name:        "llm:" + inner.Name(),
		MaxRequests: 1, // one probe while half-open
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// A caller giving up is not the model's fault.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &CircuitBreakerProvider{inner: inner, breaker: cb, logger: logger}
}

// Chat implements domain.LLMProvider.
func (p *CircuitBreakerProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := p.breaker.Execute(func() (*domain.ChatResponse, error) {
		return p.inner.Chat(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: provider %q circuit open: %v", domain.ErrModelUnavailable, p.inner.Name(), err)
	}
	return resp, err
}

// Name implements domain.LLMProvider.
func (p *CircuitBreakerProvider) Name() string { return p.inner.Name() }

// IsHealthy reports false while the circuit is open, otherwise it asks the
// wrapped provider when it can be probed.
func (p *CircuitBreakerProvider) IsHealthy(ctx context.Context) bool {
	if p.breaker.State() == gobreaker.StateOpen {
		return false
	}
	if hc, ok := p.inner.(domain.HealthChecker); ok {
		return hc.IsHealthy(ctx)
	}
	return true
}

// Warmup delegates to the wrapped provider. Warmup failures do not count
// against the circuit.
func (p *CircuitBreakerProvider) Warmup(ctx context.Context) error {
	if w, ok := p.inner.(Warmer); ok {
		return w.Warmup(ctx)
	}
	return nil
}

// State returns the current circuit breaker state.
func (p *CircuitBreakerProvider) State() gobreaker.State {
	return p.breaker.State()
}

// Counts returns the current failure/success counts.
func (p *CircuitBreakerProvider) Counts() gobreaker.Counts {
	return p.breaker.Counts()
}

var (
	_ domain.LLMProvider   = (*CircuitBreakerProvider)(nil)
	_ domain.HealthChecker = (*CircuitBreakerProvider)(nil)
	_ Warmer               = (*CircuitBreakerProvider)(nil)
)
