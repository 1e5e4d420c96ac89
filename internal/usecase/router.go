package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"finagent/internal/domain"
)

// AskRequest is one question from a caller.
type AskRequest struct {
	Question string
	// ConversationID continues a stored conversation. Empty starts a new one.
	ConversationID string
	// History seeds a new conversation. It is rejected when ConversationID
	// is set, since the stored log is authoritative.
	History []domain.Message
}

// AskResult is what the caller gets back from a run.
type AskResult struct {
	ConversationID string
	Answer         domain.Message
	// Messages holds every message the run appended, question first.
	Messages   []domain.Message
	States     []domain.RunState
	Iterations int
	Usage      domain.Usage
}

// Router connects callers to the agent: it loads or creates the
// conversation, serializes runs per conversation and persists what each run
// appended, including the partial log of a failed run.
type Router struct {
	agent  *Agent
	store  domain.ConversationStore
	locks  *ConversationLocker
	logger *slog.Logger
}

func NewRouter(agent *Agent, store domain.ConversationStore, logger *slog.Logger) *Router {
	return &Router{
		agent:  agent,
		store:  store,
		locks:  NewConversationLocker(),
		logger: logger,
	}
}

// Ask runs the agent for req. A FAILED run returns both the result (with
// the messages appended before the failure) and a *domain.RunError.
func (r *Router) Ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, domain.NewDomainError("Router.Ask", domain.ErrInvalidInput, "question is required")
	}
	if req.ConversationID != "" && len(req.History) > 0 {
		return nil, domain.NewDomainError("Router.Ask", domain.ErrInvalidInput,
			"history is only accepted when starting a conversation")
	}

	id := req.ConversationID
	var seed []domain.Message
	if id == "" {
		// Check the history before creating anything.
		if _, err := NewConversation("", "", req.History); err != nil {
			return nil, err
		}
		created, err := r.store.Create(ctx)
		if err != nil {
			return nil, domain.WrapOp("Router.Ask", err)
		}
		id = created
		seed = req.History
	}

	unlock, err := r.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	ctx = domain.ContextWithConversationID(ctx, id)

	prior := seed
	if req.ConversationID != "" {
		prior, err = r.store.Load(ctx, id)
		if err != nil {
			return nil, domain.WrapOp("Router.Ask", err)
		}
	}

	conv, err := NewConversation(id, r.agent.SystemPrompt(), prior)
	if err != nil {
		return nil, err
	}

	res, runErr := r.agent.Run(ctx, conv, question)
	if res == nil {
		return nil, runErr
	}

	// Persist even when the caller went away; the run already happened.
	toSave := append(append([]domain.Message(nil), seed...), res.Appended...)
	if err := r.store.Append(context.WithoutCancel(ctx), id, toSave); err != nil {
		r.logger.Error("persist conversation failed", "conversation_id", id, "messages", len(toSave), "error", err)
		if runErr == nil {
			return nil, fmt.Errorf("persist conversation %s: %w", id, err)
		}
	}

	return &AskResult{
		ConversationID: id,
		Answer:         res.Answer,
		Messages:       res.Appended,
		States:         res.States,
		Iterations:     res.Iterations,
		Usage:          res.Usage,
	}, runErr
}

// History returns the stored messages of a conversation.
func (r *Router) History(ctx context.Context, id string) ([]domain.Message, error) {
	msgs, err := r.store.Load(ctx, id)
	if err != nil {
		return nil, domain.WrapOp("Router.History", err)
	}
	return msgs, nil
}
