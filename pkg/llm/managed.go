package llm

import (
	"context"
	"encoding/json"

	"github.com/srnnkls/lalia-go/pkg/budget"
	"github.com/srnnkls/lalia-go/pkg/chat"
	"github.com/srnnkls/lalia-go/pkg/logger"
	"github.com/srnnkls/lalia-go/pkg/parser"
	"github.com/srnnkls/lalia-go/pkg/registry"
	"github.com/srnnkls/lalia-go/pkg/tags"
)

// systemScope protects system messages from budget truncation, per spec's
// LLM Client contract.
var systemScope = tags.ForTag(chat.ScopeTag)

// Managed wraps a transport Client with the two pieces of the LLM Client
// contract the wire backends themselves don't implement: budget-aware
// truncation of the outgoing message list, and parser-backed enrichment
// of an incoming function call's arguments against the function registry.
type Managed struct {
	transport Client
	budgeter  *budget.Budgeter
	parser    *parser.Parser
	registry  *registry.Registry
}

// NewManaged builds a Managed client. parser may be nil, in which case a
// function call's raw arguments are deserialized once with no repair
// retries attempted on failure.
func NewManaged(transport Client, budgeter *budget.Budgeter, p *parser.Parser, reg *registry.Registry) *Managed {
	return &Managed{transport: transport, budgeter: budgeter, parser: p, registry: reg}
}

func (m *Managed) Model() string { return m.transport.Model() }

// Complete truncates req.Messages to fit the token budget (system messages
// are always kept), forwards the truncated request to the transport, then
// resolves and parses every returned function call's arguments against
// the registry before returning.
func (m *Managed) Complete(ctx context.Context, req Request) (*Response, error) {
	truncated, err := m.budgeter.Truncate(ctx, req.Messages, req.Functions, systemScope)
	if err != nil {
		return nil, err
	}
	req.Messages = truncated

	resp, err := m.transport.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	for i, choice := range resp.Choices {
		if choice.Message == nil || choice.Message.FunctionCall == nil {
			continue
		}
		enriched, err := m.enrichFunctionCall(ctx, choice.Message.FunctionCall, truncated)
		if err != nil {
			return nil, err
		}
		enriched.Context = req.Context
		resp.Choices[i].Message.FunctionCall = enriched
	}
	return resp, nil
}

// enrichFunctionCall resolves call.Name against the registry, parses its
// raw arguments (with repair, if a Parser is configured), and splices the
// parsed arguments, function reference, and parser error chain back onto
// the call, mirroring the LLM Client contract's "invoke the parser on its
// raw arguments string" clause.
func (m *Managed) enrichFunctionCall(ctx context.Context, call *chat.FunctionCall, transcript []chat.Message) (*chat.FunctionCall, error) {
	fn, _ := m.registry.ByName(call.Name)
	call.Function = fn

	if call.RawArguments == "" {
		return call, nil
	}
	if m.parser == nil {
		var args map[string]any
		if err := json.Unmarshal([]byte(call.RawArguments), &args); err == nil {
			call.Arguments = args
		}
		return call, nil
	}

	parsed, errChain, err := parser.Parse[map[string]any](ctx, m.parser, call.RawArguments, transcript)
	call.ParsingErrorMessages = errChain
	if err != nil {
		logger.ForFunction(ctx, call.Name).WithField("error", err).Warn("llm: exhausted parser repair retries for function-call arguments")
		call.Arguments = nil
		return call, nil
	}
	call.Arguments = *parsed
	return call, nil
}
