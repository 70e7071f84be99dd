package tags

import "regexp"

// TagPattern matches any Tag whose key and value satisfy two regular
// expressions, anchored at the start of the string (mirroring Python's
// re.match semantics: a prefix match, not a full match).
type TagPattern struct {
	keySrc   string
	valueSrc string
	key      *regexp.Regexp
	value    *regexp.Regexp
}

// NewPattern compiles a TagPattern from a key and value regular expression.
// An empty pattern matches anything.
func NewPattern(keyPattern, valuePattern string) (TagPattern, error) {
	if keyPattern == "" {
		keyPattern = ".*"
	}
	if valuePattern == "" {
		valuePattern = ".*"
	}
	keyRe, err := regexp.Compile(keyPattern)
	if err != nil {
		return TagPattern{}, &BadArgumentError{Shape: "invalid key pattern: " + err.Error()}
	}
	valueRe, err := regexp.Compile(valuePattern)
	if err != nil {
		return TagPattern{}, &BadArgumentError{Shape: "invalid value pattern: " + err.Error()}
	}
	return TagPattern{keySrc: keyPattern, valueSrc: valuePattern, key: keyRe, value: valueRe}, nil
}

// MustPattern is NewPattern but panics on error.
func MustPattern(keyPattern, valuePattern string) TagPattern {
	p, err := NewPattern(keyPattern, valuePattern)
	if err != nil {
		panic(err)
	}
	return p
}

// Matches reports whether the tag's key and value both match this pattern,
// anchored at the start of each string.
func (p TagPattern) Matches(t Tag) bool {
	return matchFromStart(p.key, t.Key) && matchFromStart(p.value, t.Value)
}

// Equal compares two patterns by their source regular expressions, not by
// compiled-object identity.
func (p TagPattern) Equal(other TagPattern) bool {
	return p.keySrc == other.keySrc && p.valueSrc == other.valueSrc
}

func (p TagPattern) String() string {
	return p.keySrc + "~" + p.valueSrc
}

// identityKey is the string used to memoize a predicate derived from this
// pattern; two patterns with the same source regexes share a predicate.
func (p TagPattern) identityKey() string {
	return "pattern:" + p.keySrc + "\x00" + p.valueSrc
}

func matchFromStart(re *regexp.Regexp, s string) bool {
	loc := re.FindStringIndex(s)
	return loc != nil && loc[0] == 0
}
