package usecase

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"finagent/internal/domain"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewConversationID returns a fresh, time-ordered ULID.
func NewConversationID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Conversation is the append-only message log of one conversation. The
// system prompt is held separately and only prepended by Render, so it can
// never appear mid-sequence.
type Conversation struct {
	mu           sync.RWMutex
	id           string
	systemPrompt string
	msgs         []domain.Message
	// pending holds tool call ids that were requested but not yet answered.
	pending map[string]struct{}
}

// NewConversation creates a conversation seeded with prior history. prior is
// checked with the same rules as Append.
func NewConversation(id, systemPrompt string, prior []domain.Message) (*Conversation, error) {
	if id == "" {
		id = NewConversationID()
	}
	c := &Conversation{
		id:           id,
		systemPrompt: systemPrompt,
		msgs:         make([]domain.Message, 0, len(prior)+4),
		pending:      make(map[string]struct{}),
	}
	if err := c.Append(prior...); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return c, nil
}

func (c *Conversation) ID() string { return c.id }

func (c *Conversation) SystemPrompt() string { return c.systemPrompt }

// Append adds msgs in order. Either all of them are appended or none are.
func (c *Conversation) Append(msgs ...domain.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := make(map[string]struct{}, len(c.pending))
	for id := range c.pending {
		pending[id] = struct{}{}
	}
	for i, m := range msgs {
		if err := checkOrder(m, pending); err != nil {
			return domain.NewDomainError("Conversation.Append", domain.ErrConversationOrder,
				fmt.Sprintf("message %d: %s", len(c.msgs)+i, err))
		}
	}

	now := time.Now()
	for _, m := range msgs {
		m = m.Clone()
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		c.msgs = append(c.msgs, m)
	}
	c.pending = pending
	return nil
}

// checkOrder validates m against the calls still awaiting a result and
// updates pending to reflect m.
func checkOrder(m domain.Message, pending map[string]struct{}) error {
	switch m.Role {
	case domain.RoleSystem:
		return fmt.Errorf("system messages are not part of the history")
	case domain.RoleUser:
	case domain.RoleAssistant:
		for _, call := range m.ToolCalls {
			if call.ID == "" {
				return fmt.Errorf("tool call %q has no id", call.Name)
			}
			if _, dup := pending[call.ID]; dup {
				return fmt.Errorf("duplicate tool call id %q", call.ID)
			}
			pending[call.ID] = struct{}{}
		}
	case domain.RoleToolResult:
		if _, ok := pending[m.ToolCallID]; !ok {
			return fmt.Errorf("tool result %q answers no outstanding call", m.ToolCallID)
		}
		delete(pending, m.ToolCallID)
	default:
		return fmt.Errorf("unknown role %q", m.Role)
	}
	return nil
}

// Snapshot returns a copy of the messages appended so far.
func (c *Conversation) Snapshot() []domain.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Message, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = m.Clone()
	}
	return out
}

// Since returns copies of the messages appended after the first n.
func (c *Conversation) Since(n int) []domain.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n >= len(c.msgs) {
		return nil
	}
	out := make([]domain.Message, 0, len(c.msgs)-n)
	for _, m := range c.msgs[n:] {
		out = append(out, m.Clone())
	}
	return out
}

func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.msgs)
}

// Pending reports how many tool calls still await a result.
func (c *Conversation) Pending() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pending)
}

// Render returns the sequence sent to the model: the system prompt followed
// by the messages.
func (c *Conversation) Render() []domain.Message {
	msgs := c.Snapshot()
	out := make([]domain.Message, 0, len(msgs)+1)
	out = append(out, domain.Message{Role: domain.RoleSystem, Content: c.systemPrompt})
	return append(out, msgs...)
}
