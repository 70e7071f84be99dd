package budget

import (
	"context"

	"github.com/pkg/errors"

	"github.com/srnnkls/lalia-go/pkg/chat"
	"github.com/srnnkls/lalia-go/pkg/logger"
	"github.com/srnnkls/lalia-go/pkg/registry"
	"github.com/srnnkls/lalia-go/pkg/tags"
)

// ErrBudgetTooTight is returned when the protected messages and function
// definitions, together with the completion buffer, already exceed the
// threshold, before any truncation
// of the droppable tail is even attempted.
var ErrBudgetTooTight = errors.New("budget: protected messages and functions exceed the token threshold")

// Budgeter bounds a message sequence to a token threshold, always
// preserving messages that match an exclude predicate (e.g. the most
// recent system prompt, or anything tagged "pinned").
type Budgeter struct {
	threshold        int
	completionBuffer int
	counter          *Counter
}

// New builds a Budgeter for model, validating that the completion buffer
// doesn't exceed the threshold outright.
func New(threshold, completionBuffer int, model string) (*Budgeter, error) {
	if threshold <= 0 {
		return nil, errors.New("budget: token_threshold must be positive")
	}
	if completionBuffer <= 0 {
		return nil, errors.New("budget: completion_buffer must be positive")
	}
	if completionBuffer > threshold {
		return nil, errors.New("budget: completion_buffer must not exceed token_threshold")
	}
	counter, err := NewCounter(model)
	if err != nil {
		return nil, err
	}
	return &Budgeter{threshold: threshold, completionBuffer: completionBuffer, counter: counter}, nil
}

// Calculate delegates to the underlying Counter.
func (b *Budgeter) Calculate(messages []chat.Message, functions []*registry.Function, directive FunctionCallDirective) int {
	return b.counter.Calculate(messages, functions, directive)
}

// Truncate returns the subsequence of messages that fits within the token
// threshold: every message matched by excludeTags is always kept (in its
// original position); the remaining messages are walked from newest to
// oldest, greedily included while they fit, and dropped silently once the
// budget is exhausted.
//
// Returns ErrBudgetTooTight if the protected messages plus function
// definitions plus the completion buffer already exceed the threshold.
func (b *Budgeter) Truncate(ctx context.Context, messages []chat.Message, functions []*registry.Function, excludeTags tags.Predicate) ([]chat.Message, error) {
	protected := make([]bool, len(messages))
	for i, m := range messages {
		protected[i] = excludeTags.Matches(m.Tags())
	}

	base := 0
	for i, m := range messages {
		if protected[i] {
			base += b.counter.MessageTokens(m)
		}
	}
	base += b.counter.FunctionsTokens(functions) + b.completionBuffer

	if base > b.threshold {
		return nil, ErrBudgetTooTight
	}

	keep := append([]bool{}, protected...)
	running := base
	for i := len(messages) - 1; i >= 0; i-- {
		if protected[i] {
			continue
		}
		cost := b.counter.MessageTokens(messages[i])
		if running+cost > b.threshold {
			break
		}
		keep[i] = true
		running += cost
	}

	out := make([]chat.Message, 0, len(messages))
	for i, k := range keep {
		if k {
			out = append(out, messages[i])
		}
	}
	if dropped := len(messages) - len(out); dropped > 0 {
		logger.G(ctx).WithField("dropped", dropped).Debug("budget: truncated oldest messages to fit threshold")
	}
	return out, nil
}
