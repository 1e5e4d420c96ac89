package domain

import (
	"encoding/json"
	"testing"
)

func TestMessageCloneDoesNotShareToolCalls(t *testing.T) {
	orig := Message{
		Role: RoleAssistant,
		ToolCalls: []ToolCall{
			{ID: "call_1", Name: "financial_score", Arguments: json.RawMessage(`{"ticker":"AAPL"}`)},
		},
	}

	cp := orig.Clone()
	cp.ToolCalls[0].Name = "mutated"
	cp.ToolCalls[0].Arguments[2] = 'X'

	if orig.ToolCalls[0].Name != "financial_score" {
		t.Errorf("original name changed to %q", orig.ToolCalls[0].Name)
	}
	if string(orig.ToolCalls[0].Arguments) != `{"ticker":"AAPL"}` {
		t.Errorf("original arguments changed to %s", orig.ToolCalls[0].Arguments)
	}
}

func TestNewToolResultMessage(t *testing.T) {
	call := ToolCall{ID: "call_7", Name: "kb_read"}
	msg := NewToolResultMessage(call, ToolResult{Content: "boom", IsError: true})

	if msg.Role != RoleToolResult {
		t.Errorf("role = %q", msg.Role)
	}
	if msg.ToolCallID != "call_7" || msg.Name != "kb_read" {
		t.Errorf("back-reference = %q/%q", msg.ToolCallID, msg.Name)
	}
	if !msg.IsError || msg.Content != "boom" {
		t.Errorf("got %+v", msg)
	}
}

func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleSystem, RoleUser, RoleAssistant, RoleToolResult} {
		if !r.Valid() {
			t.Errorf("%q should be valid", r)
		}
	}
	if Role("tool").Valid() {
		t.Error(`"tool" is a wire role, not a conversation role`)
	}
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]RunState{
		{StateAwaitingModel, StateModelResponded},
		{StateAwaitingModel, StateFailed},
		{StateModelResponded, StateExecutingTools},
		{StateModelResponded, StateDone},
		{StateExecutingTools, StateAwaitingModel},
		{StateExecutingTools, StateFailed},
	}
	for _, tr := range allowed {
		if !CanTransition(tr[0], tr[1]) {
			t.Errorf("%s -> %s should be allowed", tr[0], tr[1])
		}
	}
	if CanTransition(StateDone, StateAwaitingModel) {
		t.Error("DONE is terminal")
	}
	if CanTransition(StateAwaitingModel, StateExecutingTools) {
		t.Error("tools cannot run before the model responds")
	}
}
