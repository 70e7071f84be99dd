package chat_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srnnkls/lalia-go/pkg/chat"
	"github.com/srnnkls/lalia-go/pkg/tags"
)

func TestNewAssistantMessageRequiresContentOrCall(t *testing.T) {
	_, err := chat.NewAssistantMessage(nil, nil, chat.FinishStop)
	require.Error(t, err)
}

func TestNewAssistantMessageAcceptsContentOnly(t *testing.T) {
	content := "hello"
	msg, err := chat.NewAssistantMessage(&content, nil, chat.FinishStop)
	require.NoError(t, err)
	assert.False(t, msg.IsFunctionCall())
	assert.Equal(t, chat.RoleAssistant, msg.Role())
}

func TestNewAssistantMessageAcceptsFunctionCallOnly(t *testing.T) {
	call := &chat.FunctionCall{Name: "search", Arguments: map[string]any{"q": "go"}}
	msg, err := chat.NewAssistantMessage(nil, call, chat.FinishFunctionCall)
	require.NoError(t, err)
	assert.True(t, msg.IsFunctionCall())
}

func TestFunctionCallErrorCoercesFinishReason(t *testing.T) {
	result := chat.NewFunctionCallError("search", nil, "boom")
	assert.Equal(t, chat.FinishFunctionCallError, result.FinishReason)
	assert.NotNil(t, result.Err)
	assert.Nil(t, result.Value)
}

func TestToWireCarriesFunctionCallArguments(t *testing.T) {
	call := &chat.FunctionCall{Name: "search", RawArguments: `{"q":"go"}`}
	msg, err := chat.NewAssistantMessage(nil, call, chat.FinishFunctionCall)
	require.NoError(t, err)

	wire := chat.ToWire(msg)
	require.NotNil(t, wire.FunctionCall)
	assert.Equal(t, "search", wire.FunctionCall.Name)
	assert.JSONEq(t, `{"q":"go"}`, wire.FunctionCall.Arguments)
}

func TestMessageAddTagIsAccretive(t *testing.T) {
	msg := chat.NewUserMessage("hi")
	msg.AddTag(tags.MustNew("role", "retry"))
	assert.Len(t, msg.Tags(), 1)
	msg.AddTag(tags.MustNew("error", "function_call"))
	assert.Len(t, msg.Tags(), 2)
}
