package tool

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schemaDoc struct {
	Schema     string                    `json:"$schema"`
	Type       string                    `json:"type"`
	Required   []string                  `json:"required"`
	Properties map[string]map[string]any `json:"properties"`
}

func decodeSchema(t *testing.T, raw json.RawMessage) schemaDoc {
	t.Helper()
	var doc schemaDoc
	require.NoError(t, json.Unmarshal(raw, &doc))
	return doc
}

func TestParamsSchemaTicker(t *testing.T) {
	doc := decodeSchema(t, paramsSchema[tickerParams]())

	assert.Empty(t, doc.Schema, "$schema should be stripped for model consumption")
	assert.Equal(t, "object", doc.Type)
	assert.Equal(t, []string{"ticker"}, doc.Required)

	ticker := doc.Properties["ticker"]
	assert.Equal(t, "string", ticker["type"])
	assert.Equal(t, "^[A-Za-z0-9.^=-]{1,15}$", ticker["pattern"])
	assert.NotEmpty(t, ticker["description"])
}

func TestParamsSchemaOptionalFields(t *testing.T) {
	doc := decodeSchema(t, paramsSchema[priceHistoryParams]())

	assert.Equal(t, []string{"ticker"}, doc.Required)
	period := doc.Properties["period"]
	assert.Len(t, period["enum"], len(historyPeriods))
	assert.Equal(t, "1mo", period["default"])

	news := decodeSchema(t, paramsSchema[newsParams]())
	limit := news.Properties["limit"]
	assert.Equal(t, "integer", limit["type"])
	assert.EqualValues(t, 1, limit["minimum"])
	assert.EqualValues(t, 20, limit["maximum"])
}

func TestParamsSchemaArray(t *testing.T) {
	doc := decodeSchema(t, paramsSchema[compareParams]())
	tickers := doc.Properties["tickers"]
	assert.Equal(t, "array", tickers["type"])
	assert.EqualValues(t, 2, tickers["minItems"])
	assert.EqualValues(t, 5, tickers["maxItems"])
}

func TestParamsSchemaIsCached(t *testing.T) {
	a := paramsSchema[kbReadParams]()
	b := paramsSchema[kbReadParams]()
	assert.Equal(t, string(a), string(b))
}

func TestCompileSchema(t *testing.T) {
	s, err := compileSchema("empty", nil)
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = compileSchema("kb_write", paramsSchema[kbWriteParams]())
	require.NoError(t, err)
	require.NotNil(t, s)

	assert.NoError(t, s.Validate(map[string]any{"content": "Apple reports on Oct 30"}))
	assert.Error(t, s.Validate(map[string]any{"content": ""}))
	assert.Error(t, s.Validate(map[string]any{}))

	_, err = compileSchema("broken", json.RawMessage(`{"type":`))
	assert.Error(t, err)
}
