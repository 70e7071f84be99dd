package tags

import "fmt"

// Derive normalizes any of the accepted tag-predicate shapes into a
// Predicate:
//
//   - Tag                 -> matches sets containing that exact tag
//   - TagPattern          -> matches sets containing any tag it matches
//   - Predicate           -> passed through unchanged
//   - []Tag               -> matches sets containing any of the tags (OR)
//   - []TagPattern        -> matches sets containing any tag matched by any pattern (OR)
//   - [2]string{key, val} -> shorthand for Tag{key, val}
//   - map[string]string   -> a single-entry map is shorthand for Tag{key, val}; OR'd if larger
//   - [][2]string         -> shorthand for []Tag (OR)
//   - []map[string]string -> shorthand for []Tag (OR)
//   - nil                 -> Always
//
// Any other shape returns a *BadArgumentError.
func Derive(operand any) (Predicate, error) {
	switch v := operand.(type) {
	case nil:
		return Always, nil
	case Predicate:
		return v, nil
	case Tag:
		return ForTag(v), nil
	case TagPattern:
		return ForPattern(v), nil
	case []Tag:
		ps := make([]Predicate, len(v))
		for i, t := range v {
			ps[i] = ForTag(t)
		}
		return OrAll(ps...), nil
	case []TagPattern:
		ps := make([]Predicate, len(v))
		for i, p := range v {
			ps[i] = ForPattern(p)
		}
		return OrAll(ps...), nil
	case Set:
		ps := make([]Predicate, 0, len(v))
		for t := range v {
			ps = append(ps, ForTag(t))
		}
		return OrAll(ps...), nil
	case [2]string:
		return ForTag(Tag{Key: v[0], Value: v[1]}), nil
	case map[string]string:
		return derivePairs(v)
	case [][2]string:
		ps := make([]Predicate, len(v))
		for i, pair := range v {
			ps[i] = ForTag(Tag{Key: pair[0], Value: pair[1]})
		}
		return OrAll(ps...), nil
	case []map[string]string:
		ps := make([]Predicate, 0, len(v))
		for _, m := range v {
			p, err := derivePairs(m)
			if err != nil {
				return Predicate{}, err
			}
			ps = append(ps, p)
		}
		return OrAll(ps...), nil
	default:
		return Predicate{}, &BadArgumentError{Shape: fmt.Sprintf("%T", operand)}
	}
}

func derivePairs(m map[string]string) (Predicate, error) {
	ps := make([]Predicate, 0, len(m))
	for k, val := range m {
		ps = append(ps, ForTag(Tag{Key: k, Value: val}))
	}
	return OrAll(ps...), nil
}

