// Package channel exposes the agent over HTTP.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"finagent/internal/domain"
	"finagent/internal/infra/config"
	"finagent/internal/infra/metrics"
	"finagent/internal/infra/middleware"
	"finagent/internal/usecase"
)

const (
	maxBodyBytes         = 1 << 20
	defaultHealthTimeout = 5 * time.Second
)

// Asker is the slice of usecase.Router the API needs.
type Asker interface {
	Ask(ctx context.Context, req usecase.AskRequest) (*usecase.AskResult, error)
	History(ctx context.Context, id string) ([]domain.Message, error)
}

// HTTPServer serves the JSON API.
type HTTPServer struct {
	cfg     config.ServerConfig
	asker   Asker
	probes  map[string]domain.HealthChecker
	metrics *metrics.Metrics
	logger  *slog.Logger

	server    *http.Server
	boundAddr string
	cancel    context.CancelFunc
}

// NewHTTPServer creates the API server. probes are reported by name on the
// health endpoint; m may be nil, in which case /metrics is not mounted.
func NewHTTPServer(cfg config.ServerConfig, asker Asker, probes map[string]domain.HealthChecker, m *metrics.Metrics, logger *slog.Logger) *HTTPServer {
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = defaultHealthTimeout
	}
	return &HTTPServer{
		cfg:     cfg,
		asker:   asker,
		probes:  probes,
		metrics: m,
		logger:  logger,
	}
}

// Handler builds the routed handler with the middleware stack. The rate
// limiter's cleanup goroutine lives until ctx is cancelled.
func (s *HTTPServer) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/ask", s.handleAsk)
	mux.HandleFunc("GET /api/v1/conversations/{id}", s.handleConversation)
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return middleware.Chain(mux,
		middleware.Recover(s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger, s.metrics, routeLabel),
		middleware.SecurityHeaders,
		middleware.RateLimit(ctx, s.cfg),
	)
}

// routeLabel keeps conversation ids out of metric labels.
func routeLabel(r *http.Request) string {
	if strings.HasPrefix(r.URL.Path, "/api/v1/conversations/") {
		return "/api/v1/conversations/{id}"
	}
	switch r.URL.Path {
	case "/api/v1/ask", "/api/v1/health", "/metrics":
		return r.URL.Path
	}
	return "other"
}

// Start listens on cfg.Addr and serves in the background.
func (s *HTTPServer) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.boundAddr = ln.Addr().String()

	writeTimeout := 120 * time.Second
	if s.cfg.RunTimeout > 0 {
		writeTimeout = s.cfg.RunTimeout + 10*time.Second
	}
	s.server = &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		s.logger.Info("http server started", "addr", s.boundAddr)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once Start has returned.
func (s *HTTPServer) Addr() string { return s.boundAddr }

// Stop drains in-flight requests until ctx expires.
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.cancel()
	return err
}

type askRequest struct {
	Question       string           `json:"question"`
	ConversationID string           `json:"conversation_id,omitempty"`
	History        []domain.Message `json:"history,omitempty"`
}

type askResponse struct {
	ConversationID string            `json:"conversation_id"`
	Answer         string            `json:"answer"`
	Messages       []domain.Message  `json:"messages"`
	States         []domain.RunState `json:"states"`
	Iterations     int               `json:"iterations"`
	Usage          domain.Usage      `json:"usage"`
}

type conversationResponse struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []domain.Message `json:"messages"`
}

func (s *HTTPServer) handleAsk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		msg := "invalid JSON: " + err.Error()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = "request body too large (max 1MB)"
		}
		middleware.WriteError(w, http.StatusBadRequest, domain.CodeValidation, "", msg)
		return
	}

	ctx := r.Context()
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	res, err := s.asker.Ask(ctx, usecase.AskRequest{
		Question:       req.Question,
		ConversationID: req.ConversationID,
		History:        req.History,
	})
	if res != nil {
		w.Header().Set("X-Conversation-ID", res.ConversationID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		ConversationID: res.ConversationID,
		Answer:         res.Answer.Content,
		Messages:       res.Messages,
		States:         res.States,
		Iterations:     res.Iterations,
		Usage:          res.Usage,
	})
}

func (s *HTTPServer) handleConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	msgs, err := s.asker.History(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conversationResponse{ConversationID: id, Messages: msgs})
}

// writeError maps err onto the JSON error envelope. Failed runs carry their
// reason; unclassified errors are logged and hidden from the client.
func (s *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := domain.HTTPStatusOf(err)
	code := domain.ErrorCodeOf(err)

	var runErr *domain.RunError
	if errors.As(err, &runErr) {
		middleware.WriteError(w, status, code, string(runErr.Reason), runErr.Error())
		return
	}

	msg := err.Error()
	if code == domain.CodeUnknown {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err,
			"request_id", middleware.RequestIDFrom(r.Context()))
		msg = "internal server error"
	}
	middleware.WriteError(w, status, code, "", msg)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// handleHealth probes every dependency concurrently, each bounded by
// HealthTimeout. Any failing probe makes the service "degraded" with 503.
func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]string, len(s.probes))
	)
	for name, probe := range s.probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state := "ok"
			if !probe.IsHealthy(ctx) {
				state = "down"
			}
			mu.Lock()
			checks[name] = state
			mu.Unlock()
		}()
	}
	wg.Wait()

	resp := healthResponse{Status: "ok", Checks: checks}
	status := http.StatusOK
	for _, state := range checks {
		if state != "ok" {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
