package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"finagent/internal/domain"
	"finagent/internal/infra/tracer"
)

// Execute is the standard tool execution pipeline: parse params -> start
// span -> run handler -> render the payload.
//
// The handler returns either a string, passed through as the payload, or any
// other value, which is marshaled to JSON. Handler errors come back as
// *domain.ToolError so the agent can report the failure kind.
func Execute[P any](
	ctx context.Context,
	toolName string,
	logger *slog.Logger,
	rawParams json.RawMessage,
	handler func(ctx context.Context, span trace.Span, params P) (any, error),
) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "tool."+toolName,
		trace.WithAttributes(tracer.StringAttr("tool.name", toolName)),
	)
	defer span.End()

	var p P
	if err := json.Unmarshal(rawParams, &p); err != nil {
		te := domain.NewToolError(domain.KindValidation, toolName, fmt.Sprintf("invalid params: %v", err), nil)
		tracer.RecordError(span, te)
		return "", te
	}

	start := time.Now()
	result, err := handler(ctx, span, p)
	if err != nil {
		te := classifyToolError(toolName, err)
		tracer.RecordError(span, te)
		logger.Warn("tool handler failed",
			"tool_name", toolName,
			"conversation_id", domain.ConversationIDFromContext(ctx),
			"kind", te.Kind,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return "", te
	}

	return formatResult(span, toolName, result)
}

// formatResult converts the handler's return value into the payload string.
func formatResult(span trace.Span, toolName string, result any) (string, error) {
	switch v := result.(type) {
	case string:
		tracer.SetOK(span)
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			te := domain.NewToolError(domain.KindExternalService, toolName,
				fmt.Sprintf("failed to format response: %v", err), nil)
			tracer.RecordError(span, te)
			return "", te
		}
		tracer.SetOK(span)
		return string(data), nil
	}
}

// invalidArg reports a bad argument that the schema could not catch.
func invalidArg(toolName, format string, args ...any) error {
	return domain.NewToolError(domain.KindValidation, toolName, fmt.Sprintf(format, args...), nil)
}
