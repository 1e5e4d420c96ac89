package llm

import (
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"finagent/internal/domain"
)

// The model binding is two halves: the catalog and conversation go out as
// wire types, and the wire response comes back as one domain.Message. Both
// are pure so they can be tested without a server.

// toOpenAITools converts the tool catalog to function definitions.
func toOpenAITools(schemas []domain.ToolSchema) []openai.Tool {
	if len(schemas) == 0 {
		return nil
	}
	tools := make([]openai.Tool, len(schemas))
	for i, s := range schemas {
		params := s.Parameters
		if len(params) == 0 || !json.Valid(params) {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		tools[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  params,
			},
		}
	}
	return tools
}

// toOpenAIMessages converts the rendered conversation to chat messages.
// tool_result turns become role "tool" messages keyed by the call id.
func toOpenAIMessages(msgs []domain.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case domain.RoleToolResult:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				Name:       m.Name,
				ToolCallID: m.ToolCallID,
			})
		case domain.RoleAssistant:
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: m.Content,
			}
			for _, tc := range m.ToolCalls {
				args := string(tc.Arguments)
				if args == "" {
					args = "{}"
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			out = append(out, msg)
		default:
			out = append(out, openai.ChatCompletionMessage{
				Role:    string(m.Role),
				Content: m.Content,
			})
		}
	}
	return out
}

// toOpenAIRequest builds the wire request. model is used when req.Model is empty.
func toOpenAIRequest(req domain.ChatRequest, model string) openai.ChatCompletionRequest {
	if req.Model != "" {
		model = req.Model
	}
	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(req.Messages),
		Tools:       toOpenAITools(req.Tools),
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		Seed:        req.Seed,
	}
}

// fromOpenAIResponse converts the first choice into an assistant message.
// Tool call arguments that are not valid JSON are passed on as a JSON
// string, so schema validation rejects them instead of the message log.
func fromOpenAIResponse(resp openai.ChatCompletionResponse) (*domain.ChatResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", domain.ErrModelResponse)
	}
	choice := resp.Choices[0].Message

	msg := domain.Message{
		Role:      domain.RoleAssistant,
		Content:   choice.Content,
		Timestamp: time.Now(),
	}
	if msg.Content == "" && choice.MultiContent != nil {
		for _, part := range choice.MultiContent {
			if part.Type == openai.ChatMessagePartTypeText {
				msg.Content += part.Text
			}
		}
	}
	for _, tc := range choice.ToolCalls {
		if tc.Function.Name == "" {
			return nil, fmt.Errorf("%w: tool call %q has no function name", domain.ErrModelResponse, tc.ID)
		}
		msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: normalizeArguments(tc.Function.Arguments),
		})
	}

	created := time.Now()
	if resp.Created > 0 {
		created = time.Unix(resp.Created, 0)
	}
	return &domain.ChatResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Message: msg,
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		CreatedAt: created,
	}, nil
}

func normalizeArguments(args string) json.RawMessage {
	if args == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(args)) {
		return json.RawMessage(args)
	}
	quoted, _ := json.Marshal(args)
	return quoted
}
