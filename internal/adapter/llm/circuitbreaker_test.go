package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finagent/internal/domain"
	"finagent/internal/infra/config"
)

type stubProvider struct {
	calls   int
	err     error
	healthy bool
	warmed  int
}

func (s *stubProvider) Chat(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant, Content: "ok"}}, nil
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) IsHealthy(_ context.Context) bool { return s.healthy }

func (s *stubProvider) Warmup(_ context.Context) error {
	s.warmed++
	return nil
}

func TestCircuitBreaker_PassesThrough(t *testing.T) {
	inner := &stubProvider{healthy: true}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{}, quietLogger())

	resp, err := cb.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Message.Content)
	assert.Equal(t, "stub", cb.Name())
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	inner := &stubProvider{err: errors.New("API error 500: boom"), healthy: true}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{
		MaxFailures: 3,
		Timeout:     time.Minute,
		Interval:    time.Minute,
	}, quietLogger())

	for range 3 {
		_, err := cb.Chat(context.Background(), domain.ChatRequest{})
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrModelUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Chat(context.Background(), domain.ChatRequest{})
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, 3, inner.calls, "open circuit must not reach the provider")
	assert.False(t, cb.IsHealthy(context.Background()))
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	inner := &stubProvider{err: errors.New("connection refused")}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{
		MaxFailures: 1,
		Timeout:     20 * time.Millisecond,
	}, quietLogger())

	_, err := cb.Chat(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	require.Equal(t, gobreaker.StateOpen, cb.State())

	inner.err = nil
	time.Sleep(40 * time.Millisecond)

	_, err = cb.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_CancelDoesNotTrip(t *testing.T) {
	inner := &stubProvider{err: context.Canceled}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 2}, quietLogger())

	for range 5 {
		_, err := cb.Chat(context.Background(), domain.ChatRequest{})
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.Equal(t, 5, inner.calls)
}

func TestCircuitBreaker_HealthAndWarmupDelegate(t *testing.T) {
	inner := &stubProvider{healthy: false}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{}, quietLogger())

	assert.False(t, cb.IsHealthy(context.Background()))
	inner.healthy = true
	assert.True(t, cb.IsHealthy(context.Background()))

	require.NoError(t, cb.Warmup(context.Background()))
	assert.Equal(t, 1, inner.warmed)
}

func TestCircuitBreaker_Counts(t *testing.T) {
	inner := &stubProvider{}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{}, quietLogger())

	_, _ = cb.Chat(context.Background(), domain.ChatRequest{})
	inner.err = errors.New("fail")
	_, _ = cb.Chat(context.Background(), domain.ChatRequest{})

	counts := cb.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
}
