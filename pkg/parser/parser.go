// Package parser implements parse-with-repair: deserialize a payload,
// validate it, and if either step fails, re-query the model with a
// synthetic corrective schema before giving up.
package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/srnnkls/lalia-go/pkg/chat"
	"github.com/srnnkls/lalia-go/pkg/logger"
	"github.com/srnnkls/lalia-go/pkg/registry"
	"github.com/srnnkls/lalia-go/pkg/tags"
	"github.com/srnnkls/lalia-go/pkg/telemetry"
)

// Completer is the minimal re-query contract the repair loop needs from an
// LLM client: force a function call against schema and return both its
// arguments and the assistant message produced, bypassing the normal
// parse-with-repair pipeline (the recursive call must not trigger another
// nested repair). Declared here, not in pkg/llm, so llm can depend on
// parser without a cycle: the concrete llm.OpenAIClient and
// llm.AnthropicClient implement this interface structurally (the
// llm.Client interface itself does not include CompleteFunctionCall).
type Completer interface {
	CompleteFunctionCall(ctx context.Context, messages []chat.Message, schema *registry.Function) (arguments json.RawMessage, reply chat.Message, err error)
}

// Validatable is implemented by target types that need validation beyond
// successful deserialization.
type Validatable interface {
	Validate() error
}

// FailureKind distinguishes why a parse attempt failed.
type FailureKind string

const (
	FailureDeserialization FailureKind = "deserialization"
	FailureValidation      FailureKind = "validation"
)

// Parser retries deserialization/validation against a sequence of fallback
// LLMs, each up to maxRetries times.
type Parser struct {
	completers []Completer
	maxRetries int
}

// New builds a Parser. maxRetries must be positive.
func New(maxRetries int, completers ...Completer) (*Parser, error) {
	if maxRetries <= 0 {
		return nil, errors.New("parser: max_retries must be positive")
	}
	if len(completers) == 0 {
		return nil, errors.New("parser: at least one completer is required")
	}
	return &Parser{completers: completers, maxRetries: maxRetries}, nil
}

func deserialize[T any](payload string) (T, error) {
	var v T
	jsonErr := json.Unmarshal([]byte(payload), &v)
	if jsonErr == nil {
		return v, nil
	}
	var yamlCandidate T
	if yamlErr := yaml.Unmarshal([]byte(payload), &yamlCandidate); yamlErr == nil {
		return yamlCandidate, nil
	}
	return v, jsonErr
}

func validate(v any) error {
	if validatable, ok := v.(Validatable); ok {
		return validatable.Validate()
	}
	return nil
}

// unwrap projects a completer's corrective response through the wrapper
// schema's "value" field, per spec §4.6 step 5: a Completer that honors
// responseWrapperSchema returns {"value": <T>}, not <T> directly, so the
// repair loop must pull the inner value back out before treating it as the
// next payload to deserialize. If args doesn't carry a "value" key at all
// (a completer that ignored the wrapper schema), args is returned as-is.
func unwrap(args json.RawMessage) string {
	var wrapper struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(args, &wrapper); err == nil && wrapper.Value != nil {
		return string(wrapper.Value)
	}
	return string(args)
}

func responseWrapperSchema[T any](typeName string) *registry.Function {
	field := reflect.StructField{
		Name: "Value",
		Type: reflect.TypeOf((*T)(nil)).Elem(),
		Tag:  `json:"value"`,
	}
	wrapperType := reflect.StructOf([]reflect.StructField{field})

	return registry.ReflectType("parser", typeName+"_response", "Corrected value for "+typeName, wrapperType,
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			return nil, errors.New("parser: response wrapper schema is descriptive only and is never invoked")
		})
}

// Parse deserializes payload into T, validating it and repairing malformed
// input by re-querying the configured completers. messages is the
// conversation context the corrective re-queries are sent with; the
// caller's slice is not modified.
//
// On success returns the parsed value and the error messages synthesized
// during repair (empty when payload parsed on the first try). On
// exhausting every completer's retries, returns a nil value, the full
// slice of synthesized error messages, and a non-nil error.
func Parse[T any](ctx context.Context, p *Parser, payload string, messages []chat.Message) (*T, []*chat.FunctionMessage, error) {
	typeName := reflect.TypeOf((*T)(nil)).Elem().Name()
	schema := responseWrapperSchema[T](typeName)

	var errorChain []*chat.FunctionMessage
	working := append([]chat.Message{}, messages...)

	for _, completer := range p.completers {
		for attempt := 0; attempt < p.maxRetries; attempt++ {
			var kind FailureKind
			value, parseErr := deserialize[T](payload)
			if parseErr == nil {
				if valErr := validate(value); valErr == nil {
					return &value, errorChain, nil
				} else {
					kind = FailureValidation
					parseErr = valErr
				}
			} else {
				kind = FailureDeserialization
			}

			logger.G(ctx).WithField("kind", kind).WithField("attempt", attempt).Debug("parser: repairing malformed function-call payload")

			errMsg := chat.NewFunctionMessage(
				typeName,
				fmt.Sprintf("Error: %s failure: %s\npayload: %s", kind, parseErr.Error(), payload),
				nil,
				tags.MustNew("error", "function_call"),
				tags.MustNew("error_kind", string(kind)),
			)
			errorChain = append(errorChain, errMsg)
			working = append(working, errMsg)

			var args json.RawMessage
			var reply chat.Message
			spanErr := telemetry.WithParseSpan(ctx, typeName, attempt, func(ctx context.Context) error {
				var completeErr error
				args, reply, completeErr = completer.CompleteFunctionCall(ctx, working, schema)
				return completeErr
			})
			if spanErr != nil {
				return nil, errorChain, errors.Wrap(spanErr, "parser: corrective re-query failed")
			}
			working = append(working, reply)
			payload = unwrap(args)
		}
	}

	return nil, errorChain, errors.Errorf("parser: exhausted retries repairing %s", typeName)
}
