// Package llm defines the LLM Client contract — an OpenAI-compatible chat
// completion shape — and the OpenAI-wire and Anthropic-bridge backends
// that implement it.
package llm

import (
	"context"

	"github.com/srnnkls/lalia-go/pkg/budget"
	"github.com/srnnkls/lalia-go/pkg/chat"
	"github.com/srnnkls/lalia-go/pkg/registry"
	"github.com/srnnkls/lalia-go/pkg/tags"
)

// Usage reports token accounting for a single completion, as returned by
// the vendor API.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Request is everything a Client needs to produce one completion.
type Request struct {
	Messages     []chat.Message
	Context      []tags.TagPattern
	Functions    []*registry.Function
	FunctionCall budget.FunctionCallDirective
	MaxTokens    int
	Temperature  *float64
	NChoices     int
}

// Response is a completed chat turn: one or more candidate choices plus
// usage accounting.
type Response struct {
	Choices []chat.Choice
	Usage   Usage
}

// Client is the vendor-facing contract every backend implements. It
// mirrors the OpenAI Chat Completions wire shape: functions/function_call
// in the request, choices[].finish_reason and usage in the response.
type Client interface {
	// Complete sends req and returns one response with req.NChoices (or 1)
	// candidate choices.
	Complete(ctx context.Context, req Request) (*Response, error)
	// Model returns the model name this client is configured for, used by
	// the budgeter to pick a token encoding.
	Model() string
}
