// Package buffer implements the transactional tagged-message log: a
// committed segment, a pending segment accumulating the current turn, and
// a fold engine tracking per-message visibility across both.
package buffer

import (
	"github.com/srnnkls/lalia-go/pkg/chat"
	"github.com/srnnkls/lalia-go/pkg/fold"
	"github.com/srnnkls/lalia-go/pkg/tags"
)

type bound struct {
	start, end int
}

// MessageBuffer is the ordered sequence of committed messages followed by
// pending ones, with fold state tracked in parallel. It is not safe for
// concurrent use: per the concurrency model, a Session and its buffer are
// owned by a single goroutine at a time.
type MessageBuffer struct {
	committed []chat.Message
	pending   []chat.Message
	bounds    []bound
	folds     *fold.Engine
}

// New builds an empty MessageBuffer whose default fold hides messages
// matched by defaultFoldTags (commonly an "error" TagPattern).
func New(defaultFoldTags tags.Predicate) *MessageBuffer {
	return &MessageBuffer{folds: fold.NewEngine(defaultFoldTags)}
}

// Len returns the number of messages in the full sequence, regardless of
// fold state.
func (b *MessageBuffer) Len() int { return len(b.committed) + len(b.pending) }

// All returns every message in the full sequence, committed then pending.
func (b *MessageBuffer) All() []chat.Message {
	out := make([]chat.Message, 0, b.Len())
	out = append(out, b.committed...)
	out = append(out, b.pending...)
	return out
}

// At returns the message at index i in the full sequence.
func (b *MessageBuffer) At(i int) chat.Message {
	if i < len(b.committed) {
		return b.committed[i]
	}
	return b.pending[i-len(b.committed)]
}

// Visible returns the messages whose fold state is Unfolded, in sequence
// order — the view an LLM call actually sees.
func (b *MessageBuffer) Visible() []chat.Message {
	all := b.All()
	states := append(append([]fold.State{}, b.folds.MessageStates...), b.folds.PendingStates...)
	out := make([]chat.Message, 0, len(all))
	for i, m := range all {
		if i < len(states) && states[i] == fold.Unfolded {
			out = append(out, m)
		}
	}
	return out
}

// Add appends a message to the pending segment. A nil message is a no-op.
func (b *MessageBuffer) Add(m chat.Message) {
	if m == nil {
		return
	}
	b.pending = append(b.pending, m)
	b.folds.Add(m.Tags())
}

// AddAll appends each non-nil message in order.
func (b *MessageBuffer) AddAll(ms ...chat.Message) {
	for _, m := range ms {
		b.Add(m)
	}
}

// Commit moves the pending segment onto committed and records a
// transactional bound (len(committed)-before, len(committed)-before +
// len(pending)-before) so a later Revert can undo exactly this commit.
func (b *MessageBuffer) Commit() {
	start := len(b.committed)
	end := start + len(b.pending)
	b.bounds = append(b.bounds, bound{start: start, end: end})
	b.committed = append(b.committed, b.pending...)
	b.pending = nil
	b.folds.Commit()
}

// Rollback discards the pending segment without touching committed.
func (b *MessageBuffer) Rollback() {
	b.pending = nil
	b.folds.Rollback()
}

// Revert pops the most recent transactional bound and moves the committed
// messages it covers back to the front of pending, truncating committed.
// It is a no-op if there is no bound to pop.
func (b *MessageBuffer) Revert() {
	if len(b.bounds) == 0 {
		return
	}
	last := b.bounds[len(b.bounds)-1]
	b.bounds = b.bounds[:len(b.bounds)-1]

	reverted := append([]chat.Message{}, b.committed[last.start:last.end]...)
	b.pending = append(reverted, b.pending...)
	b.committed = b.committed[:last.start]
	b.folds.Revert(last.start, last.end)
}

// Clear empties the buffer entirely: committed, pending, bounds, and fold
// stack.
func (b *MessageBuffer) Clear() {
	b.committed = nil
	b.pending = nil
	b.bounds = nil
	b.folds.Clear(nil, nil)
}

// Filter mutates the buffer in place, retaining only messages for which
// keep returns true. This invalidates prior transactional bounds (they may
// no longer index into a coherent committed segment), so the bound stack
// is cleared.
func (b *MessageBuffer) Filter(keep func(chat.Message) bool) {
	b.committed = filterMessages(b.committed, keep)
	b.pending = filterMessages(b.pending, keep)
	b.bounds = nil
	b.folds.Update(tagSets(b.committed), tagSets(b.pending))
}

func filterMessages(in []chat.Message, keep func(chat.Message) bool) []chat.Message {
	out := in[:0:0]
	for _, m := range in {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

func tagSets(ms []chat.Message) []tags.Set {
	out := make([]tags.Set, len(ms))
	for i, m := range ms {
		out[i] = m.Tags()
	}
	return out
}

// Fold hides messages matching operand (any tags.Derive-able shape). A nil
// operand clears the fold stack back to just the default fold.
func (b *MessageBuffer) Fold(operand any) error {
	return b.folds.Fold(operand, tagSets(b.committed), tagSets(b.pending))
}

// Unfold shows messages matching operand, undoing a matching Fold call if
// one is on the stack. A nil operand clears the fold stack.
func (b *MessageBuffer) Unfold(operand any) error {
	return b.folds.Unfold(operand, tagSets(b.committed), tagSets(b.pending))
}

// Expand temporarily unfolds operand, runs fn against the buffer, and
// folds operand again afterward regardless of whether fn returns an error
// or panics.
func (b *MessageBuffer) Expand(operand any, fn func() error) (err error) {
	if err := b.Unfold(operand); err != nil {
		return err
	}
	defer func() {
		if foldErr := b.Fold(operand); err == nil {
			err = foldErr
		}
	}()
	return fn()
}
