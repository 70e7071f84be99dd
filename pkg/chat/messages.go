package chat

import (
	"time"

	"github.com/pkg/errors"

	"github.com/srnnkls/lalia-go/pkg/registry"
	"github.com/srnnkls/lalia-go/pkg/tags"
)

// Message is the sum type carried by the message buffer: exactly one of
// SystemMessage, UserMessage, AssistantMessage, FunctionMessage.
type Message interface {
	Role() Role
	Tags() tags.Set
	Timestamp() time.Time
	// AddTag accretively tags a message in place, used to mark a call
	// message with its error state as the session loop discovers it.
	AddTag(tags.Tag)
	content() string // unexported: forces Message to only be implemented in this package
}

// SystemMessage seeds the conversation with the operator's framing.
type SystemMessage struct {
	Content string
	At      time.Time
	TagSet  tags.Set
}

// ScopeTag marks a message with its role for predicate-based selection
// (e.g. excluding system messages from budget truncation) without a
// caller having to remember to attach it themselves.
var ScopeTag = tags.MustNew("role", "system")

// NewSystemMessage builds a SystemMessage stamped with the current time,
// always carrying ScopeTag in addition to any caller-supplied tags.
func NewSystemMessage(content string, ts ...tags.Tag) *SystemMessage {
	return &SystemMessage{Content: content, At: time.Now(), TagSet: tags.NewSet(ts...).Add(ScopeTag)}
}

func (m *SystemMessage) Role() Role            { return RoleSystem }
func (m *SystemMessage) Tags() tags.Set        { return m.TagSet }
func (m *SystemMessage) Timestamp() time.Time  { return m.At }
func (m *SystemMessage) AddTag(t tags.Tag)     { m.TagSet = m.TagSet.Add(t) }
func (m *SystemMessage) content() string       { return m.Content }

// UserMessage carries input supplied by the caller of a Session.
type UserMessage struct {
	Content string
	At      time.Time
	TagSet  tags.Set
}

// NewUserMessage builds a UserMessage stamped with the current time.
func NewUserMessage(content string, ts ...tags.Tag) *UserMessage {
	return &UserMessage{Content: content, At: time.Now(), TagSet: tags.NewSet(ts...)}
}

func (m *UserMessage) Role() Role           { return RoleUser }
func (m *UserMessage) Tags() tags.Set       { return m.TagSet }
func (m *UserMessage) Timestamp() time.Time { return m.At }
func (m *UserMessage) AddTag(t tags.Tag)    { m.TagSet = m.TagSet.Add(t) }
func (m *UserMessage) content() string      { return m.Content }

// FunctionCall is the assistant's request to invoke a named function with
// the given arguments. Arguments is nil when the wire payload failed to
// deserialize at all; Function is nil when the name didn't resolve against
// a registry.
type FunctionCall struct {
	Name                 string
	Arguments            map[string]any
	RawArguments         string
	Function             *registry.Function
	Context              []tags.TagPattern
	ParsingErrorMessages []*FunctionMessage
}

// AssistantMessage is the model's turn: free text, a function call, or
// both may not both be nil.
type AssistantMessage struct {
	Content      *string
	FunctionCall *FunctionCall
	FinishReason FinishReason
	At           time.Time
	TagSet       tags.Set
}

// NewAssistantMessage validates that at least one of content or call is
// present, mirroring the invariant on the Python AssistantMessage.
func NewAssistantMessage(content *string, call *FunctionCall, finish FinishReason, ts ...tags.Tag) (*AssistantMessage, error) {
	if content == nil && call == nil {
		return nil, errors.New("chat: assistant message must carry content or a function call")
	}
	return &AssistantMessage{
		Content:      content,
		FunctionCall: call,
		FinishReason: finish,
		At:           time.Now(),
		TagSet:       tags.NewSet(ts...),
	}, nil
}

func (m *AssistantMessage) Role() Role           { return RoleAssistant }
func (m *AssistantMessage) Tags() tags.Set       { return m.TagSet }
func (m *AssistantMessage) Timestamp() time.Time { return m.At }
func (m *AssistantMessage) AddTag(t tags.Tag)    { m.TagSet = m.TagSet.Add(t) }
func (m *AssistantMessage) content() string {
	if m.Content != nil {
		return *m.Content
	}
	return ""
}

// IsFunctionCall reports whether this turn carries a function call rather
// than (or in addition to) plain text.
func (m *AssistantMessage) IsFunctionCall() bool { return m.FunctionCall != nil }

// Error describes why a function call failed to execute.
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

// FunctionCallResult is the outcome of executing a FunctionCall: exactly
// one of Value or Err is set.
type FunctionCallResult struct {
	Name         string
	Arguments    map[string]any
	Value        any
	Err          *Error
	FinishReason FinishReason
}

// NewFunctionCallResult builds a successful result.
func NewFunctionCallResult(name string, args map[string]any, value any) FunctionCallResult {
	return FunctionCallResult{Name: name, Arguments: args, Value: value, FinishReason: FinishFunctionCall}
}

// NewFunctionCallError builds a failed result; FinishReason is always
// coerced to function_call_error, mirroring execute_function_call in the
// original implementation.
func NewFunctionCallError(name string, args map[string]any, message string) FunctionCallResult {
	return FunctionCallResult{Name: name, Arguments: args, Err: &Error{Message: message}, FinishReason: FinishFunctionCallError}
}

// FunctionMessage reports the outcome of a function call back to the
// model.
type FunctionMessage struct {
	Name    string
	Content string
	Result  *FunctionCallResult
	At      time.Time
	TagSet  tags.Set
}

// NewFunctionMessage builds a FunctionMessage stamped with the current
// time.
func NewFunctionMessage(name, content string, result *FunctionCallResult, ts ...tags.Tag) *FunctionMessage {
	return &FunctionMessage{Name: name, Content: content, Result: result, At: time.Now(), TagSet: tags.NewSet(ts...)}
}

func (m *FunctionMessage) Role() Role           { return RoleFunction }
func (m *FunctionMessage) Tags() tags.Set       { return m.TagSet }
func (m *FunctionMessage) Timestamp() time.Time { return m.At }
func (m *FunctionMessage) AddTag(t tags.Tag)    { m.TagSet = m.TagSet.Add(t) }
func (m *FunctionMessage) content() string      { return m.Content }
