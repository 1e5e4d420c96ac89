package llm

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finagent/internal/domain"
)

func TestToOpenAITools(t *testing.T) {
	tools := toOpenAITools([]domain.ToolSchema{
		{
			Name:        "get_stock_fundamentals",
			Description: "Fetch valuation ratios",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"ticker":{"type":"string"}},"required":["ticker"]}`),
		},
		{Name: "list_tools", Description: "no params"},
		{Name: "broken", Parameters: json.RawMessage(`{not json`)},
	})

	require.Len(t, tools, 3)
	assert.Equal(t, openai.ToolTypeFunction, tools[0].Type)
	assert.Equal(t, "get_stock_fundamentals", tools[0].Function.Name)
	assert.Equal(t, "Fetch valuation ratios", tools[0].Function.Description)
	assert.JSONEq(t, `{"type":"object","properties":{"ticker":{"type":"string"}},"required":["ticker"]}`,
		string(tools[0].Function.Parameters.(json.RawMessage)))
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(tools[1].Function.Parameters.(json.RawMessage)))
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(tools[2].Function.Parameters.(json.RawMessage)))

	assert.Nil(t, toOpenAITools(nil))
}

func TestToOpenAIMessages(t *testing.T) {
	msgs := toOpenAIMessages([]domain.Message{
		{Role: domain.RoleSystem, Content: "You are a financial analyst."},
		{Role: domain.RoleUser, Content: "What is AAPL's P/E?"},
		{
			Role: domain.RoleAssistant,
			ToolCalls: []domain.ToolCall{
				{ID: "call_1", Name: "get_stock_fundamentals", Arguments: json.RawMessage(`{"ticker":"AAPL"}`)},
				{ID: "call_2", Name: "list_tools"},
			},
		},
		{Role: domain.RoleToolResult, ToolCallID: "call_1", Name: "get_stock_fundamentals", Content: `{"pe_ratio":31.2}`},
		{Role: domain.RoleAssistant, Content: "AAPL trades at 31.2x earnings."},
	})

	require.Len(t, msgs, 5)
	assert.Equal(t, openai.ChatMessageRoleSystem, msgs[0].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, msgs[1].Role)

	assert.Equal(t, openai.ChatMessageRoleAssistant, msgs[2].Role)
	require.Len(t, msgs[2].ToolCalls, 2)
	assert.Equal(t, "call_1", msgs[2].ToolCalls[0].ID)
	assert.Equal(t, `{"ticker":"AAPL"}`, msgs[2].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "{}", msgs[2].ToolCalls[1].Function.Arguments)

	assert.Equal(t, openai.ChatMessageRoleTool, msgs[3].Role)
	assert.Equal(t, "call_1", msgs[3].ToolCallID)
	assert.Equal(t, "get_stock_fundamentals", msgs[3].Name)
	assert.Equal(t, `{"pe_ratio":31.2}`, msgs[3].Content)

	assert.Equal(t, "AAPL trades at 31.2x earnings.", msgs[4].Content)
	assert.Empty(t, msgs[4].ToolCalls)
}

func TestToOpenAIRequest(t *testing.T) {
	seed := 42
	req := toOpenAIRequest(domain.ChatRequest{
		Messages:    []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
		MaxTokens:   512,
		Temperature: 0.1,
		Seed:        &seed,
	}, "qwen2.5:7b")

	assert.Equal(t, "qwen2.5:7b", req.Model)
	assert.Equal(t, 512, req.MaxTokens)
	assert.InDelta(t, 0.1, req.Temperature, 1e-6)
	require.NotNil(t, req.Seed)
	assert.Equal(t, 42, *req.Seed)
	assert.Nil(t, req.Tools)

	override := toOpenAIRequest(domain.ChatRequest{Model: "llama3.1"}, "qwen2.5:7b")
	assert.Equal(t, "llama3.1", override.Model)
}

func TestFromOpenAIResponse_ToolCalls(t *testing.T) {
	resp, err := fromOpenAIResponse(openai.ChatCompletionResponse{
		ID:      "chatcmpl-1",
		Model:   "qwen2.5:7b",
		Created: 1700000000,
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{
					{ID: "call_1", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: "get_stock_fundamentals", Arguments: `{"ticker":"MSFT"}`}},
					{ID: "call_2", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: "list_tools"}},
					{ID: "call_3", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: "web_search", Arguments: `query=msft`}},
				},
			},
		}},
		Usage: openai.Usage{PromptTokens: 120, CompletionTokens: 30, TotalTokens: 150},
	})
	require.NoError(t, err)

	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, domain.RoleAssistant, resp.Message.Role)
	assert.Equal(t, int64(1700000000), resp.CreatedAt.Unix())
	assert.Equal(t, domain.Usage{PromptTokens: 120, CompletionTokens: 30, TotalTokens: 150}, resp.Usage)

	require.Len(t, resp.Message.ToolCalls, 3)
	assert.JSONEq(t, `{"ticker":"MSFT"}`, string(resp.Message.ToolCalls[0].Arguments))
	assert.JSONEq(t, `{}`, string(resp.Message.ToolCalls[1].Arguments))
	// Arguments that are not JSON survive as a JSON string.
	assert.JSONEq(t, `"query=msft"`, string(resp.Message.ToolCalls[2].Arguments))
}

func TestFromOpenAIResponse_MultiContent(t *testing.T) {
	resp, err := fromOpenAIResponse(openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "Revenue grew "},
					{Type: openai.ChatMessagePartTypeText, Text: "8% year over year."},
				},
			},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Revenue grew 8% year over year.", resp.Message.Content)
	assert.False(t, resp.CreatedAt.IsZero())
}

func TestFromOpenAIResponse_Malformed(t *testing.T) {
	_, err := fromOpenAIResponse(openai.ChatCompletionResponse{})
	assert.ErrorIs(t, err, domain.ErrModelResponse)

	_, err = fromOpenAIResponse(openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				ToolCalls: []openai.ToolCall{{ID: "call_1", Function: openai.FunctionCall{Arguments: "{}"}}},
			},
		}},
	})
	assert.ErrorIs(t, err, domain.ErrModelResponse)
	assert.Contains(t, err.Error(), "call_1")
}
