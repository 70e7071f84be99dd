// Package budget implements deterministic BPE token counting and
// threshold-aware message truncation.
package budget

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/pkoukk/tiktoken-go"

	"github.com/srnnkls/lalia-go/pkg/chat"
	"github.com/srnnkls/lalia-go/pkg/logger"
	"github.com/srnnkls/lalia-go/pkg/registry"
)

// Overhead constants, per the structural cost of the chat-completion wire
// format. These are authoritative fixed values, not estimates: changing
// them changes every truncation decision downstream.
const (
	OverheadMessageInstance = 4
	OverheadSystemRole      = -4
	OverheadFunctionRole    = -2
	OverheadMessageName     = -1
	OverheadFunctionCall    = 3
	OverheadFunctionName    = 4
	OverheadNoneDirective   = 1
	OverheadCompletion      = 3
)

// FunctionCallDirective describes how the caller constrained function
// selection for a completion, which changes the token accounting.
type FunctionCallDirective struct {
	// None is true when function_call was omitted/none: adds
	// OverheadNoneDirective.
	None bool
	// Named, if non-empty, is a specific function forced by name: adds
	// OverheadFunctionName + tokens(name).
	Named string
}

// Encoder wraps a tiktoken encoding, resolved from a model name with a
// documented fallback.
type Encoder struct {
	enc  *tiktoken.Tiktoken
	name string
}

// modelEncodings maps a handful of well-known model name prefixes to their
// tiktoken encoding; the longest matching prefix wins. Anything
// unrecognized falls back to cl100k_base, logged by NewCounter.
var modelEncodings = map[string]string{
	"gpt-4":         "cl100k_base",
	"gpt-4o":        "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
	"claude":        "cl100k_base",
}

func encodingForModel(model string) string {
	if enc, ok := modelEncodings[model]; ok {
		return enc
	}
	best, bestLen := "cl100k_base", 0
	for prefix, enc := range modelEncodings {
		if len(prefix) > bestLen && len(model) >= len(prefix) && model[:len(prefix)] == prefix {
			best, bestLen = enc, len(prefix)
		}
	}
	return best
}

// NewEncoder resolves model to a tiktoken encoding, falling back to
// cl100k_base (with the fallback flag set) for unrecognized models rather
// than failing outright.
func NewEncoder(model string) (*Encoder, bool, error) {
	name := encodingForModel(model)
	fellBack := !knownModel(model)
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, false, errors.Wrapf(err, "budget: load tiktoken encoding %q", name)
	}
	return &Encoder{enc: enc, name: name}, fellBack, nil
}

func knownModel(model string) bool {
	if _, ok := modelEncodings[model]; ok {
		return true
	}
	for prefix := range modelEncodings {
		if len(model) >= len(prefix) && model[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// Count returns the number of BPE tokens in s.
func (e *Encoder) Count(s string) int {
	if s == "" {
		return 0
	}
	return len(e.enc.Encode(s, nil, nil))
}

// Counter computes the wire-format token cost of messages and function
// definitions, using the Overhead constants above.
type Counter struct {
	encoder *Encoder
}

// NewCounter builds a Counter for the given model, falling back to
// cl100k_base for unrecognized model names (see NewEncoder) and logging a
// warning when it does.
func NewCounter(model string) (*Counter, error) {
	enc, fellBack, err := NewEncoder(model)
	if err != nil {
		return nil, err
	}
	if fellBack {
		logger.L.WithField("model", model).Warn("budget: unrecognized model, falling back to cl100k_base encoding")
	}
	return &Counter{encoder: enc}, nil
}

// MessageTokens returns the token cost of a single message, per spec
// §4.5's per-message formula.
func (c *Counter) MessageTokens(m chat.Message) int {
	total := OverheadMessageInstance

	switch v := m.(type) {
	case *chat.SystemMessage:
		total += OverheadSystemRole
		total += c.encoder.Count(v.Content)
	case *chat.UserMessage:
		total += c.encoder.Count(v.Content)
	case *chat.FunctionMessage:
		total += OverheadFunctionRole
		total += c.encoder.Count(v.Content)
		if v.Name != "" {
			total += c.encoder.Count(v.Name) + OverheadMessageName
		}
	case *chat.AssistantMessage:
		if v.Content != nil {
			total += c.encoder.Count(*v.Content)
		}
		if v.FunctionCall != nil {
			total += c.encoder.Count(v.FunctionCall.Name)
			argsJSON := v.FunctionCall.RawArguments
			if argsJSON == "" {
				raw, _ := json.Marshal(v.FunctionCall.Arguments)
				argsJSON = string(raw)
			}
			total += c.encoder.Count(argsJSON)
			total += OverheadFunctionCall
		}
	}
	return total
}

// FunctionsTokens estimates the cost of rendering the function namespace
// shown to the model: each function's name, description, and parameter
// schema, serialized compactly. The real system uses a dedicated
// pretty-printer (out of scope here); this is a deliberate stand-in sized
// the same order of magnitude.
func (c *Counter) FunctionsTokens(functions []*registry.Function) int {
	if len(functions) == 0 {
		return 0
	}
	total := 0
	for _, f := range functions {
		total += c.encoder.Count(f.Name())
		total += c.encoder.Count(f.Description())
		schemaMap, err := f.SchemaMap()
		if err == nil {
			raw, _ := json.Marshal(schemaMap)
			total += c.encoder.Count(string(raw))
		}
	}
	return total
}

// Calculate returns the total token cost of messages, functions, and the
// given function-call directive, per spec §4.5: Σ per-message + tokens(
// function namespace) + COMPLETION + directive adjustments.
func (c *Counter) Calculate(messages []chat.Message, functions []*registry.Function, directive FunctionCallDirective) int {
	total := 0
	for _, m := range messages {
		total += c.MessageTokens(m)
	}
	total += c.FunctionsTokens(functions)
	total += OverheadCompletion
	if directive.None {
		total += OverheadNoneDirective
	}
	if directive.Named != "" {
		total += OverheadFunctionName + c.encoder.Count(directive.Named)
	}
	return total
}
