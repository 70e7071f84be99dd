package dispatch_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srnnkls/lalia-go/pkg/chat"
	"github.com/srnnkls/lalia-go/pkg/dispatch"
	"github.com/srnnkls/lalia-go/pkg/llm"
	"github.com/srnnkls/lalia-go/pkg/registry"
)

type fakeClient struct {
	lastReq llm.Request
}

func (f *fakeClient) Model() string { return "fake-model" }

func (f *fakeClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.lastReq = req
	content := "ok"
	msg, _ := chat.NewAssistantMessage(&content, nil, chat.FinishStop)
	return &llm.Response{Choices: []chat.Choice{{Message: msg, FinishReason: chat.FinishStop}}}, nil
}

type fakeSession struct {
	client    *fakeClient
	functions []*registry.Function
}

func (s *fakeSession) Client() llm.Client                 { return s.client }
func (s *fakeSession) Functions() []*registry.Function    { return s.functions }

func TestDefaultDispatcherDelegatesToClient(t *testing.T) {
	client := &fakeClient{}
	session := &fakeSession{client: client}
	d := dispatch.NewDefault()

	call := d.Dispatch(session)
	assert.Equal(t, chat.FinishDelegate, call.FinishReason)

	resp, err := call.Callback(context.Background(), nil, call.Kwargs)
	require.NoError(t, err)
	assert.Equal(t, chat.FinishStop, resp.Choices[0].FinishReason)
}

func TestSequentialDispatcherForcesFunctionsInOrder(t *testing.T) {
	client := &fakeClient{}
	session := &fakeSession{client: client}
	d := dispatch.NewSequential("search", "finish")

	first := d.Dispatch(session)
	assert.Equal(t, "search", first.Kwargs.FunctionCall.Named)

	second := d.Dispatch(session)
	assert.Equal(t, "finish", second.Kwargs.FunctionCall.Named)

	third := d.Dispatch(session)
	assert.Empty(t, third.Kwargs.FunctionCall.Named)

	d.Reset()
	reset := d.Dispatch(session)
	assert.Equal(t, "search", reset.Kwargs.FunctionCall.Named)
}
