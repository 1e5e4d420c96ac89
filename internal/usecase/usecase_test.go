package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"finagent/internal/domain"
)

// --- Mocks ---

// llmStep is one scripted model reply: a message or an error.
type llmStep struct {
	msg domain.Message
	err error
}

type mockLLM struct {
	mu       sync.Mutex
	steps    []llmStep
	callIdx  int
	requests []domain.ChatRequest
	// repeat, when set, answers every call past the script.
	repeat func(call int) llmStep
}

func (m *mockLLM) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	idx := m.callIdx
	m.callIdx++
	var step llmStep
	switch {
	case idx < len(m.steps):
		step = m.steps[idx]
	case m.repeat != nil:
		step = m.repeat(idx)
	default:
		step = llmStep{msg: assistantText("fallback")}
	}
	m.mu.Unlock()

	if step.err != nil {
		return nil, step.err
	}
	return &domain.ChatResponse{
		Message: step.msg,
		Usage:   domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (m *mockLLM) Name() string { return "mock" }

func (m *mockLLM) Requests() []domain.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChatRequest(nil), m.requests...)
}

func assistantText(s string) domain.Message {
	return domain.Message{Role: domain.RoleAssistant, Content: s}
}

func assistantCalls(calls ...domain.ToolCall) domain.Message {
	return domain.Message{Role: domain.RoleAssistant, ToolCalls: calls}
}

func call(id, name, args string) domain.ToolCall {
	return domain.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

// spyTool counts executions and delegates to fn.
type spyTool struct {
	name     string
	required []string
	fn       func(ctx context.Context, args json.RawMessage) (string, error)
	calls    atomic.Int32
}

func (t *spyTool) Name() string        { return t.name }
func (t *spyTool) Description() string { return "spy tool " + t.name }
func (t *spyTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name, Description: t.Description(), Parameters: json.RawMessage(`{"type":"object"}`)}
}

func (t *spyTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	t.calls.Add(1)
	if t.fn == nil {
		return t.name + " ok", nil
	}
	return t.fn(ctx, args)
}

func (t *spyTool) Calls() int { return int(t.calls.Load()) }

// fakeCatalog is a minimal domain.ToolCatalog. Validate requires a JSON
// object carrying every field in the tool's required list.
type fakeCatalog struct {
	tools map[string]*spyTool
}

func newCatalog(tools ...*spyTool) *fakeCatalog {
	c := &fakeCatalog{tools: make(map[string]*spyTool)}
	for _, t := range tools {
		c.tools[t.name] = t
	}
	return c
}

func (c *fakeCatalog) Get(name string) (domain.Tool, error) {
	t, ok := c.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrToolNotFound, name)
	}
	return t, nil
}

func (c *fakeCatalog) Schemas() []domain.ToolSchema {
	out := make([]domain.ToolSchema, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t.Schema())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *fakeCatalog) Validate(name string, args json.RawMessage) error {
	t, ok := c.tools[name]
	if !ok {
		return domain.ErrToolNotFound
	}
	var obj map[string]any
	if err := json.Unmarshal(args, &obj); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrToolValidation, err)
	}
	for _, f := range t.required {
		if _, ok := obj[f]; !ok {
			return fmt.Errorf("%w: missing property %q", domain.ErrToolValidation, f)
		}
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAgent(llm domain.LLMProvider, catalog domain.ToolCatalog, mutate ...func(*AgentDeps)) *Agent {
	deps := AgentDeps{
		LLM:           llm,
		Tools:         catalog,
		Logger:        discardLogger(),
		SystemPrompt:  "You are a financial analysis assistant.",
		MaxIterations: 10,
		PolicyLimits:  map[string]int{"web_search": 2},
	}
	for _, m := range mutate {
		m(&deps)
	}
	return NewAgent(deps)
}
