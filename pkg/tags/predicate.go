package tags

import (
	"fmt"
	"sync"
)

// Predicate is a boolean test over a tag Set. Predicates derived from the
// same operand (the same Tag, TagPattern, or composition of either) compare
// equal by identity key rather than by closure identity, so folds and
// filters can de-duplicate and compare predicates built at different call
// sites.
type Predicate struct {
	key   string
	match func(Set) bool
}

// Matches reports whether the predicate holds for the given tag set.
func (p Predicate) Matches(s Set) bool {
	if p.match == nil {
		return false
	}
	return p.match(s)
}

// Equal compares two predicates by identity key.
func (p Predicate) Equal(other Predicate) bool {
	return p.key == other.key
}

// IsZero reports whether p is the zero Predicate (matches nothing).
func (p Predicate) IsZero() bool {
	return p.match == nil
}

func (p Predicate) String() string {
	return p.key
}

// registry memoizes predicates by identity key: deriving a predicate for
// the same operand twice returns the same Predicate value, process-wide.
type registry struct {
	mu    sync.Mutex
	cache map[string]Predicate
}

var predicates = &registry{cache: map[string]Predicate{}}

func (r *registry) intern(key string, build func() func(Set) bool) Predicate {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.cache[key]; ok {
		return p
	}
	p := Predicate{key: key, match: build()}
	r.cache[key] = p
	return p
}

// ForTag derives the (memoized) predicate that matches sets containing t
// exactly.
func ForTag(t Tag) Predicate {
	return predicates.intern(t.identityKey(), func() func(Set) bool {
		return func(s Set) bool {
			_, ok := s[t]
			return ok
		}
	})
}

// ForPattern derives the (memoized) predicate that matches sets containing
// any tag matched by p.
func ForPattern(p TagPattern) Predicate {
	return predicates.intern(p.identityKey(), func() func(Set) bool {
		return func(s Set) bool {
			for t := range s {
				if p.Matches(t) {
					return true
				}
			}
			return false
		}
	})
}

// Always is the predicate that matches every tag set.
var Always = predicates.intern("always", func() func(Set) bool {
	return func(Set) bool { return true }
})

// Never is the predicate that matches no tag set.
var Never = predicates.intern("never", func() func(Set) bool {
	return func(Set) bool { return false }
})

// And derives the memoized conjunction of a and b.
func And(a, b Predicate) Predicate {
	key := fmt.Sprintf("and(%s,%s)", a.key, b.key)
	return predicates.intern(key, func() func(Set) bool {
		return func(s Set) bool { return a.Matches(s) && b.Matches(s) }
	})
}

// Or derives the memoized disjunction of a and b.
func Or(a, b Predicate) Predicate {
	key := fmt.Sprintf("or(%s,%s)", a.key, b.key)
	return predicates.intern(key, func() func(Set) bool {
		return func(s Set) bool { return a.Matches(s) || b.Matches(s) }
	})
}

// Not derives the memoized negation of a.
func Not(a Predicate) Predicate {
	key := fmt.Sprintf("not(%s)", a.key)
	return predicates.intern(key, func() func(Set) bool {
		return func(s Set) bool { return !a.Matches(s) }
	})
}

// And is a convenience method equivalent to And(p, other).
func (p Predicate) And(other Predicate) Predicate { return And(p, other) }

// Or is a convenience method equivalent to Or(p, other).
func (p Predicate) Or(other Predicate) Predicate { return Or(p, other) }

// Negate is a convenience method equivalent to Not(p).
func (p Predicate) Negate() Predicate { return Not(p) }

// OrAll folds Or across ps, returning Never for an empty slice.
func OrAll(ps ...Predicate) Predicate {
	if len(ps) == 0 {
		return Never
	}
	out := ps[0]
	for _, p := range ps[1:] {
		out = Or(out, p)
	}
	return out
}

// AndAll folds And across ps, returning Always for an empty slice.
func AndAll(ps ...Predicate) Predicate {
	if len(ps) == 0 {
		return Always
	}
	out := ps[0]
	for _, p := range ps[1:] {
		out = And(out, p)
	}
	return out
}
