package parser_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srnnkls/lalia-go/pkg/chat"
	"github.com/srnnkls/lalia-go/pkg/parser"
	"github.com/srnnkls/lalia-go/pkg/registry"
)

type searchArgs struct {
	Query string `json:"query"`
}

type fakeCompleter struct {
	corrected string
}

func (f *fakeCompleter) CompleteFunctionCall(ctx context.Context, messages []chat.Message, schema *registry.Function) (json.RawMessage, chat.Message, error) {
	content := "corrected"
	reply, _ := chat.NewAssistantMessage(&content, nil, chat.FinishStop)
	return json.RawMessage(f.corrected), reply, nil
}

func TestParseSucceedsOnValidJSON(t *testing.T) {
	p, err := parser.New(3, &fakeCompleter{})
	require.NoError(t, err)

	value, errChain, err := parser.Parse[searchArgs](context.Background(), p, `{"query":"go"}`, nil)
	require.NoError(t, err)
	assert.Empty(t, errChain)
	assert.Equal(t, "go", value.Query)
}

func TestParseRepairsMalformedJSONViaCompleter(t *testing.T) {
	completer := &fakeCompleter{corrected: `{"query":"fixed"}`}
	p, err := parser.New(3, completer)
	require.NoError(t, err)

	value, errChain, err := parser.Parse[searchArgs](context.Background(), p, `not json`, nil)
	require.NoError(t, err)
	require.Len(t, errChain, 1)
	assert.Equal(t, "fixed", value.Query)
}

func TestParseExhaustsRetriesAndFails(t *testing.T) {
	completer := &fakeCompleter{corrected: `still not json`}
	p, err := parser.New(2, completer)
	require.NoError(t, err)

	value, errChain, err := parser.Parse[searchArgs](context.Background(), p, `not json`, nil)
	require.Error(t, err)
	assert.Nil(t, value)
	assert.Len(t, errChain, 2)
}

func TestParseUnwrapsWrapperSchemaValueField(t *testing.T) {
	// A real Completer (OpenAIClient/AnthropicClient) is forced against
	// responseWrapperSchema and so returns {"value": <T>}, not <T>
	// directly.
	completer := &fakeCompleter{corrected: `{"value":{"query":"fixed"}}`}
	p, err := parser.New(3, completer)
	require.NoError(t, err)

	value, errChain, err := parser.Parse[searchArgs](context.Background(), p, `not json`, nil)
	require.NoError(t, err)
	require.Len(t, errChain, 1)
	assert.Equal(t, "fixed", value.Query)
}

func TestParseAcceptsYAMLFallback(t *testing.T) {
	p, err := parser.New(1, &fakeCompleter{})
	require.NoError(t, err)

	value, _, err := parser.Parse[searchArgs](context.Background(), p, "query: go\n", nil)
	require.NoError(t, err)
	assert.Equal(t, "go", value.Query)
}
