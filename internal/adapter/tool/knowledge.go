package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"finagent/internal/domain"
	"finagent/internal/infra/tracer"
)

// NoKnowledgeFound is returned by kb_read when nothing relevant is stored.
const NoKnowledgeFound = "No relevant context found in the knowledge base."

const maxKnowledgeContent = 8000

// KBReadTool retrieves the closest saved snippet for a query.
type KBReadTool struct {
	store  domain.KnowledgeStore
	logger *slog.Logger
}

// NewKBReadTool creates the kb_read tool.
func NewKBReadTool(store domain.KnowledgeStore, logger *slog.Logger) *KBReadTool {
	return &KBReadTool{store: store, logger: logger}
}

func (t *KBReadTool) Name() string { return "kb_read" }
func (t *KBReadTool) Description() string {
	return "Retrieve information saved earlier in the internal vector knowledge base. " +
		"Returns the most relevant stored text."
}

type kbReadParams struct {
	Query string `json:"query" jsonschema:"required,minLength=1,maxLength=1000" jsonschema_description:"The question or topic to look up in the knowledge base"`
}

func (t *KBReadTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  paramsSchema[kbReadParams](),
	}
}

func (t *KBReadTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	return Execute(ctx, t.Name(), t.logger, params,
		func(ctx context.Context, span trace.Span, p kbReadParams) (any, error) {
			if err := RequireField("query", p.Query); err != nil {
				return nil, invalidArg(t.Name(), "%v", err)
			}
			span.SetAttributes(tracer.StringAttr("tool.query", p.Query))

			entry, found, err := t.store.Nearest(ctx, p.Query)
			if err != nil {
				return nil, err
			}
			if !found || strings.TrimSpace(entry.Content) == "" {
				t.logger.Debug("knowledge base miss", "query", p.Query)
				return NoKnowledgeFound, nil
			}
			span.SetAttributes(tracer.FloatAttr("kb.score", entry.Score))
			t.logger.Debug("knowledge base hit", "query", p.Query, "id", entry.ID, "score", entry.Score)
			return entry.Content, nil
		},
	)
}

// KBWriteTool saves a fact into the knowledge base.
type KBWriteTool struct {
	store  domain.KnowledgeStore
	logger *slog.Logger
}

// NewKBWriteTool creates the kb_write tool.
func NewKBWriteTool(store domain.KnowledgeStore, logger *slog.Logger) *KBWriteTool {
	return &KBWriteTool{store: store, logger: logger}
}

func (t *KBWriteTool) Name() string { return "kb_write" }
func (t *KBWriteTool) Description() string {
	return "Permanently save a new fact or piece of information into the internal " +
		"vector knowledge base for later retrieval."
}

type kbWriteParams struct {
	Content string `json:"content" jsonschema:"required,minLength=1,maxLength=8000" jsonschema_description:"The text or fact to save"`
}

func (t *KBWriteTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  paramsSchema[kbWriteParams](),
	}
}

func (t *KBWriteTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	return Execute(ctx, t.Name(), t.logger, params,
		func(ctx context.Context, span trace.Span, p kbWriteParams) (any, error) {
			content := strings.TrimSpace(p.Content)
			if err := RequireField("content", content); err != nil {
				return nil, invalidArg(t.Name(), "%v", err)
			}
			if len(content) > maxKnowledgeContent {
				return nil, invalidArg(t.Name(), "content exceeds maximum length of %d", maxKnowledgeContent)
			}

			id, err := t.store.Save(ctx, content)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("kb.id", id))
			t.logger.Info("knowledge saved", "id", id, "bytes", len(content))
			return fmt.Sprintf("Saved to the knowledge base (ID: %s).", id), nil
		},
	)
}
