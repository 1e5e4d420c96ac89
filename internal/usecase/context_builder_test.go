package usecase

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"finagent/internal/domain"
)

func TestContextBuilderBuild(t *testing.T) {
	seed := 7
	cb := NewContextBuilder(ContextBuilderOptions{Model: "qwen2.5:14b", Temperature: 0.2, Seed: &seed})
	conv, _ := NewConversation("c", "sys", []domain.Message{{Role: domain.RoleUser, Content: "q"}})
	tools := []domain.ToolSchema{{Name: "web_search", Parameters: json.RawMessage(`{"type":"object"}`)}}

	req := cb.Build(conv, tools)

	if req.Model != "qwen2.5:14b" || req.Temperature != 0.2 || req.Seed == nil || *req.Seed != 7 {
		t.Errorf("request options = %+v", req)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != domain.RoleSystem {
		t.Errorf("messages = %+v", req.Messages)
	}
	if len(req.Tools) != 1 || req.Tools[0].Name != "web_search" {
		t.Errorf("tools = %+v", req.Tools)
	}
}

func TestContextBuilderNeverTruncates(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	cb := NewContextBuilder(ContextBuilderOptions{ContextWindow: 10, Logger: logger})

	var prior []domain.Message
	for i := 0; i < 20; i++ {
		prior = append(prior, domain.Message{Role: domain.RoleUser, Content: strings.Repeat("earnings ", 20)}, assistantText("noted"))
	}
	conv, _ := NewConversation("c", "sys", prior)

	req := cb.Build(conv, nil)
	if len(req.Messages) != len(prior)+1 {
		t.Errorf("messages = %d, want %d", len(req.Messages), len(prior)+1)
	}
	if !strings.Contains(buf.String(), "context window") {
		t.Error("expected a context window warning")
	}
}

func TestEstimateTokensGrows(t *testing.T) {
	cb := NewContextBuilder(ContextBuilderOptions{Logger: discardLogger()})
	small := domain.ChatRequest{Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}}}
	large := domain.ChatRequest{Messages: []domain.Message{{Role: domain.RoleUser, Content: strings.Repeat("revenue growth ", 100)}}}

	s, l := cb.EstimateTokens(small), cb.EstimateTokens(large)
	if s <= 0 || l <= s {
		t.Errorf("estimates small=%d large=%d", s, l)
	}

	withTools := large
	withTools.Tools = []domain.ToolSchema{{Name: "kb_read", Description: "search the knowledge base"}}
	if cb.EstimateTokens(withTools) <= l {
		t.Error("tool schemas not counted")
	}
}
