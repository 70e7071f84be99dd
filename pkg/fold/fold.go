// Package fold implements per-message visibility: a stack of predicate-
// scoped folds walked newest-to-oldest, with dense parallel state arrays
// kept in sync with a message buffer's committed and pending segments.
package fold

import "github.com/srnnkls/lalia-go/pkg/tags"

// State is a message's visibility: Unfolded (shown to the model) or
// Folded (hidden).
type State int8

const (
	Unfolded State = iota
	Folded
)

// Invert returns the opposite state.
func (s State) Invert() State {
	if s == Unfolded {
		return Folded
	}
	return Unfolded
}

func (s State) String() string {
	if s == Unfolded {
		return "unfolded"
	}
	return "folded"
}

// Fold pairs a predicate with the state it assigns to matching messages.
type Fold struct {
	Predicate tags.Predicate
	State     State
}

// Invert returns the fold with the same predicate and the opposite state.
func (f Fold) Invert() Fold {
	return Fold{Predicate: f.Predicate, State: f.State.Invert()}
}

// Equal compares two folds by predicate identity and state.
func (f Fold) Equal(other Fold) bool {
	return f.Predicate.Equal(other.Predicate) && f.State == other.State
}

// Engine holds the fold stack and the dense state arrays mirroring a
// message buffer's committed and pending segments.
type Engine struct {
	stack           []Fold
	defaultFoldTags tags.Predicate
	MessageStates   []State
	PendingStates   []State
}

// NewEngine builds an Engine whose default fold (the fallback applied when
// no stack entry matches) hides messages matching defaultFoldTags. A zero
// Predicate (IsZero) means "no default fold": everything defaults to
// Unfolded.
func NewEngine(defaultFoldTags tags.Predicate) *Engine {
	return &Engine{defaultFoldTags: defaultFoldTags}
}

func (e *Engine) defaultFold() Fold {
	if e.defaultFoldTags.IsZero() {
		return Fold{Predicate: tags.Never, State: Unfolded}
	}
	return Fold{Predicate: e.defaultFoldTags, State: Folded}
}

// GetState walks the stack newest-to-oldest, returning the state of the
// first matching fold, falling through to the default fold, and finally to
// Unfolded.
func (e *Engine) GetState(t tags.Set) State {
	for i := len(e.stack) - 1; i >= 0; i-- {
		if e.stack[i].Predicate.Matches(t) {
			return e.stack[i].State
		}
	}
	def := e.defaultFold()
	if def.Predicate.Matches(t) {
		return def.State
	}
	return Unfolded
}

// Add appends the fold state for a newly-pending message's tags. O(1).
func (e *Engine) Add(t tags.Set) {
	e.PendingStates = append(e.PendingStates, e.GetState(t))
}

// Commit moves pending states onto the committed array.
func (e *Engine) Commit() {
	e.MessageStates = append(e.MessageStates, e.PendingStates...)
	e.PendingStates = nil
}

// Rollback discards pending states.
func (e *Engine) Rollback() {
	e.PendingStates = nil
}

// Revert moves committed states in [start:end) back to the front of
// pending, truncating committed at start, mirroring MessageBuffer.Revert.
func (e *Engine) Revert(start, end int) {
	reverted := append([]State{}, e.MessageStates[start:end]...)
	e.PendingStates = append(reverted, e.PendingStates...)
	e.MessageStates = e.MessageStates[:start]
}

// Update recomputes both state arrays from scratch against the given tag
// sequences, in O(n). Called after any stack mutation (Fold/Unfold/Clear)
// or after a structural edit to the underlying messages (Filter).
func (e *Engine) Update(committed, pending []tags.Set) {
	e.MessageStates = make([]State, len(committed))
	for i, t := range committed {
		e.MessageStates[i] = e.GetState(t)
	}
	e.PendingStates = make([]State, len(pending))
	for i, t := range pending {
		e.PendingStates[i] = e.GetState(t)
	}
}

// Clear empties the fold stack (reverting to the default fold alone) and
// recomputes state.
func (e *Engine) Clear(committed, pending []tags.Set) {
	e.stack = nil
	e.Update(committed, pending)
}

// Fold pushes a FOLDED entry for operand, removing any identical FOLDED
// entry (same predicate) first so re-folding the same tags doesn't grow
// the stack, then recomputes state. An UNFOLDED entry for the same
// predicate stays on the stack beneath the new one. A nil operand clears the stack instead
// (equivalent to Clear), matching the original's "fold with no args resets
// everything" shorthand.
func (e *Engine) Fold(operand any, committed, pending []tags.Set) error {
	if operand == nil {
		e.Clear(committed, pending)
		return nil
	}
	p, err := tags.Derive(operand)
	if err != nil {
		return err
	}
	entry := Fold{Predicate: p, State: Folded}
	e.removeEqual(entry)
	e.stack = append(e.stack, entry)
	e.Update(committed, pending)
	return nil
}

// Unfold pushes an UNFOLDED entry for operand. If the stack already holds
// the inverse (FOLDED) entry for the same predicate, that entry is removed
// instead of pushing a contradicting one. A nil operand clears the stack.
func (e *Engine) Unfold(operand any, committed, pending []tags.Set) error {
	if operand == nil {
		e.Clear(committed, pending)
		return nil
	}
	p, err := tags.Derive(operand)
	if err != nil {
		return err
	}
	entry := Fold{Predicate: p, State: Unfolded}
	if !e.removeEqual(entry.Invert()) {
		e.stack = append(e.stack, entry)
	}
	e.Update(committed, pending)
	return nil
}

func (e *Engine) removeEqual(target Fold) bool {
	for i, f := range e.stack {
		if f.Equal(target) {
			e.stack = append(e.stack[:i], e.stack[i+1:]...)
			return true
		}
	}
	return false
}
