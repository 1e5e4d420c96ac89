package domain

import "context"

type ctxKey string

const conversationCtxKey ctxKey = "conversation_id"

// ContextWithConversationID returns a new context carrying the conversation ID.
func ContextWithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationCtxKey, id)
}

// ConversationIDFromContext extracts the conversation ID from the context.
// Returns empty string if not set.
func ConversationIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(conversationCtxKey).(string); ok {
		return v
	}
	return ""
}
