// Package dispatch implements the per-turn policy object a Session
// consults before every LLM round trip: which callback to invoke, what
// extra context to expand, and whether to override the model's own
// finish reason.
package dispatch

import (
	"context"

	"github.com/srnnkls/lalia-go/pkg/budget"
	"github.com/srnnkls/lalia-go/pkg/chat"
	"github.com/srnnkls/lalia-go/pkg/llm"
	"github.com/srnnkls/lalia-go/pkg/registry"
	"github.com/srnnkls/lalia-go/pkg/tags"
)

// Callback is the shape of dispatch_call.callback: invoked with the
// visible messages and the kwargs the dispatcher assembled, it returns a
// completion the same way an llm.Client would.
type Callback func(ctx context.Context, messages []chat.Message, kwargs Kwargs) (*llm.Response, error)

// Kwargs carries the optional completion parameters a Dispatcher may
// vary per turn: which functions are in scope, how function selection is
// constrained, and a temperature override.
type Kwargs struct {
	Functions    []*registry.Function
	FunctionCall budget.FunctionCallDirective
	Temperature  *float64
	MaxTokens    int
	NChoices     int
	// Context is the union of the caller's expand-context and the
	// dispatch call's own context, set by the session right before
	// invoking Callback; delegateCallback forwards it onto the LLM
	// request so the client can splice it onto any resulting
	// FunctionCall.
	Context []tags.TagPattern
}

// DispatchCall is what Dispatch returns: the callback to run, the extra
// context to union into the caller's expand-window, the kwargs to pass,
// and a finish-reason override that takes precedence over the model's own
// claim unless it is FinishDelegate.
type DispatchCall struct {
	Callback     Callback
	Context      []tags.TagPattern
	Kwargs       Kwargs
	FinishReason chat.FinishReason
}

// Dispatcher is a per-turn policy object. Reset is invoked whenever the
// session commits or rolls back so stateful dispatchers (e.g. a
// sequential scheduler that forces one named function per turn) can
// restore idle state between conversations.
type Dispatcher interface {
	Dispatch(session Session) DispatchCall
	Reset()
}

// Session is the minimal view a Dispatcher needs of its owning session:
// enough to build a callback bound to the right client and function set,
// without dispatch importing session (which would cycle, since session
// drives dispatch).
type Session interface {
	Client() llm.Client
	Functions() []*registry.Function
}

func delegateCallback(session Session) Callback {
	return func(ctx context.Context, messages []chat.Message, kwargs Kwargs) (*llm.Response, error) {
		return session.Client().Complete(ctx, llm.Request{
			Messages:     messages,
			Context:      kwargs.Context,
			Functions:    kwargs.Functions,
			FunctionCall: kwargs.FunctionCall,
			Temperature:  kwargs.Temperature,
			MaxTokens:    kwargs.MaxTokens,
			NChoices:     kwargs.NChoices,
		})
	}
}

// Default is the no-op dispatcher: every turn delegates straight to the
// session's LLM client with the session's full function set, auto
// function-call selection, and no finish-reason override.
type Default struct{}

// NewDefault builds the default dispatcher.
func NewDefault() *Default { return &Default{} }

func (d *Default) Dispatch(session Session) DispatchCall {
	return DispatchCall{
		Callback:     delegateCallback(session),
		Kwargs:       Kwargs{Functions: session.Functions()},
		FinishReason: chat.FinishDelegate,
	}
}

func (d *Default) Reset() {}

// Sequential forces one named function per turn, in order, until the list
// is exhausted, after which it falls back to Default behavior. Reset
// rewinds it to the first function, so a Session can be reused across
// conversations without reconstructing the dispatcher.
type Sequential struct {
	names []string
	index int
}

// NewSequential builds a dispatcher that forces names[0] on the first
// turn, names[1] on the second, and so on.
func NewSequential(names ...string) *Sequential {
	return &Sequential{names: names}
}

func (s *Sequential) Dispatch(session Session) DispatchCall {
	if s.index >= len(s.names) {
		return NewDefault().Dispatch(session)
	}
	name := s.names[s.index]
	s.index++
	return DispatchCall{
		Callback: delegateCallback(session),
		Kwargs: Kwargs{
			Functions:    session.Functions(),
			FunctionCall: budget.FunctionCallDirective{Named: name},
		},
		FinishReason: chat.FinishDelegate,
	}
}

func (s *Sequential) Reset() { s.index = 0 }
