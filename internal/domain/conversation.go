package domain

import "context"

// ConversationStore persists conversations between runs.
type ConversationStore interface {
	Create(ctx context.Context) (string, error)
	Load(ctx context.Context, id string) ([]Message, error)
	Append(ctx context.Context, id string, msgs []Message) error
}
