// Package session implements the conversational state machine: a single
// Session owns a message buffer, a dispatcher, an LLM client, and the
// function registry it exposes to the model, and drives the turn loop
// described in the original's Idle -> Generating -> Handling ->
// {Stopping|Executing|Failing} state machine.
package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/srnnkls/lalia-go/pkg/budget"
	"github.com/srnnkls/lalia-go/pkg/buffer"
	"github.com/srnnkls/lalia-go/pkg/chat"
	"github.com/srnnkls/lalia-go/pkg/dispatch"
	"github.com/srnnkls/lalia-go/pkg/llm"
	"github.com/srnnkls/lalia-go/pkg/logger"
	"github.com/srnnkls/lalia-go/pkg/registry"
	"github.com/srnnkls/lalia-go/pkg/store"
	"github.com/srnnkls/lalia-go/pkg/tags"
	"github.com/srnnkls/lalia-go/pkg/telemetry"
)

const failureQuery = "What went wrong? Do I need to provide more information?"

func argumentParsingFailureMessage(name string) string {
	return fmt.Sprintf("Error: Parsing of function_call arguments for %s failed.", name)
}

func maxFunctionCallRetryFailureMessage(name string, attempts int) string {
	return fmt.Sprintf("Error: Calling of function `%s` failed after %d retries.", name, attempts)
}

func functionCallTag(name string) tags.Tag { return tags.MustNew("function", name) }

func errorTag(name string) []tags.Tag {
	return []tags.Tag{functionCallTag(name), tags.MustNew("error", "function_call")}
}

// Config carries Session's tunable knobs, mirroring the Python dataclass's
// autocommit/memory/retry fields.
type Config struct {
	// Autocommit promotes the pending segment to committed immediately
	// after a turn ends in FinishStop.
	Autocommit bool
	// Memory bounds how many historical completions TokensUsed sums
	// over; 0 means unbounded.
	Memory int
	// MaxIterations bounds how many LLM round trips a single Call may
	// take before _complete_failure is invoked.
	MaxIterations int
	// MaxFunctionCallAttempts bounds how many times a single function
	// call may be retried after an execution error before giving up.
	MaxFunctionCallAttempts int
	// RollbackOnError rolls the pending segment back before re-raising
	// any error out of Call.
	RollbackOnError bool
}

// DefaultConfig mirrors the Python Session dataclass's field defaults.
func DefaultConfig() Config {
	return Config{
		Autocommit:              true,
		Memory:                  100,
		MaxIterations:           10,
		MaxFunctionCallAttempts: 5,
		RollbackOnError:         true,
	}
}

// Session is a single conversation: a message buffer, the native
// functions it exposes to the model, and the policy objects (dispatcher,
// LLM client) that drive each turn.
type Session struct {
	ID              string
	client          llm.Client
	systemMessage   *chat.SystemMessage
	initMessages    []chat.Message
	messages        *buffer.MessageBuffer
	registry        *registry.Registry
	failureMessages []chat.Message
	dispatcher      dispatch.Dispatcher
	storageBackend  store.Store
	config          Config

	usageHistory []llm.Usage
}

// New builds a Session. system may be empty; init is seeded into the
// buffer right after the system message, both during New and after every
// Reset (committed at once when Config.Autocommit is set, left pending
// otherwise).
func New(client llm.Client, reg *registry.Registry, dispatcher dispatch.Dispatcher, storageBackend store.Store, system string, init []chat.Message, cfg Config) *Session {
	s := &Session{
		ID:             uuid.NewString(),
		client:         client,
		registry:       reg,
		dispatcher:     dispatcher,
		storageBackend: storageBackend,
		config:         cfg,
	}
	if system != "" {
		s.systemMessage = chat.NewSystemMessage(system)
	}
	s.initMessages = init
	s.failureMessages = []chat.Message{chat.NewUserMessage(failureQuery)}
	s.messages = buffer.New(tags.ForPattern(tags.MustPattern("error", ".*")))
	s.seed()
	return s
}

func (s *Session) seed() {
	if s.systemMessage != nil {
		s.messages.Add(s.systemMessage)
	}
	s.messages.AddAll(s.initMessages...)
	if s.config.Autocommit {
		s.messages.Commit()
	}
}

// Client implements dispatch.Session.
func (s *Session) Client() llm.Client { return s.client }

// Functions implements dispatch.Session, returning every function
// currently registered.
func (s *Session) Functions() []*registry.Function { return s.registry.All() }

// Messages exposes the underlying buffer for callers that need to fold,
// inspect, or render the conversation directly.
func (s *Session) Messages() *buffer.MessageBuffer { return s.messages }

// TokensUsed sums prompt, completion, and total tokens across every
// historical LLM response this session produced, bounded by Config.Memory
// (0 means unbounded).
func (s *Session) TokensUsed() llm.Usage {
	history := s.usageHistory
	if s.config.Memory > 0 && len(history) > s.config.Memory {
		history = history[len(history)-s.config.Memory:]
	}
	var total llm.Usage
	for _, u := range history {
		total.PromptTokens += u.PromptTokens
		total.CompletionTokens += u.CompletionTokens
		total.TotalTokens += u.TotalTokens
	}
	return total
}

// Add appends a message to the pending segment without driving the turn
// loop.
func (s *Session) Add(m chat.Message) { s.messages.Add(m) }

// Commit promotes the pending segment to committed.
func (s *Session) Commit() { s.messages.Commit() }

// Revert pops the most recent transactional bound back into pending.
func (s *Session) Revert() { s.messages.Revert() }

// Rollback discards the pending segment and resets the dispatcher to its
// idle state.
func (s *Session) Rollback() {
	s.messages.Rollback()
	s.dispatcher.Reset()
}

// Reset clears the buffer entirely and re-seeds the system and init
// messages, resetting the dispatcher alongside it.
func (s *Session) Reset() {
	s.messages.Clear()
	s.seed()
	s.dispatcher.Reset()
}

// Call runs the full turn loop for userInput: it is added to the buffer,
// committed if autocommit is on, and the session iterates LLM round trips
// (via CompleteChoices) until a choice finishes with Stop, a choice
// finishes with Failure, or MaxIterations is exhausted (which triggers
// _complete_failure exactly once). Any error unwinds through
// handleException, which rolls back pending state (when
// Config.RollbackOnError is set) before re-raising.
func (s *Session) Call(ctx context.Context, userInput string) (completion chat.Completion, err error) {
	ctx = logger.WithSession(ctx, s.ID)
	defer func() {
		if err != nil {
			s.handleException()
		}
	}()

	s.Add(chat.NewUserMessage(userInput))
	if s.config.Autocommit {
		s.Commit()
	}

	for i := 0; i < s.config.MaxIterations; i++ {
		choices, completeErr := s.completeChoicesInternal(ctx, nil, 1)
		if completeErr != nil {
			return chat.Completion{}, completeErr
		}
		choice := choices[0]
		if choice.FinishReason == chat.FinishStop {
			return choice, nil
		}
		if choice.FinishReason == chat.FinishFailure {
			return s.completeFailureInternal(ctx)
		}
	}
	return s.completeFailureInternal(ctx)
}

// Complete drives exactly one LLM round trip for message (which may be
// nil to continue without adding a new turn) and returns its single
// resulting Completion.
func (s *Session) Complete(ctx context.Context, message chat.Message) (chat.Completion, error) {
	choices, err := s.completeChoicesInternal(ctx, message, 1)
	if err != nil {
		return chat.Completion{}, err
	}
	return choices[0], nil
}

// CompleteChoices drives one LLM round trip requesting nChoices candidate
// completions.
func (s *Session) CompleteChoices(ctx context.Context, message chat.Message, nChoices int) (completions []chat.Completion, err error) {
	ctx = logger.WithSession(ctx, s.ID)
	defer func() {
		if err != nil {
			s.handleException()
		}
	}()
	return s.completeChoicesInternal(ctx, message, nChoices)
}

func (s *Session) completeChoicesInternal(ctx context.Context, message chat.Message, nChoices int) ([]chat.Completion, error) {
	if message != nil {
		s.Add(message)
	}

	call := s.dispatcher.Dispatch(s)
	kwargs := call.Kwargs
	if kwargs.Functions == nil {
		kwargs.Functions = s.Functions()
	}
	kwargs.Context = call.Context
	if nChoices > 0 {
		kwargs.NChoices = nChoices
	}

	var resp *llm.Response
	var callErr error
	err := s.messages.Expand(call.Context, func() error {
		resp, callErr = call.Callback(ctx, s.messages.Visible(), kwargs)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("session: llm response contained no choices")
	}

	out := make([]chat.Completion, 0, len(resp.Choices))
	for _, choice := range resp.Choices {
		s.usageHistory = append(s.usageHistory, resp.Usage)

		completion, handleErr := s.handleChoice(ctx, choice)
		if handleErr != nil {
			return nil, handleErr
		}
		if call.FinishReason != chat.FinishDelegate {
			completion.FinishReason = call.FinishReason
		}
		out = append(out, completion)

		if completion.FinishReason == chat.FinishStop {
			if s.config.Autocommit {
				s.Commit()
			}
			s.dispatcher.Reset()
		}
	}
	return out, nil
}

// handleChoice dispatches on the shape of an assistant choice: plain text
// terminates the turn, a function call is routed through
// handleFunctionCallMessage. The resulting message is added to the
// buffer unconditionally, whether the call ultimately succeeded, errored,
// or failed.
func (s *Session) handleChoice(ctx context.Context, choice chat.Choice) (chat.Completion, error) {
	assistant := choice.Message
	if assistant == nil {
		return chat.Completion{}, errors.New("session: assistant message must carry content or a function call")
	}
	if assistant.IsFunctionCall() {
		functionMessage, finish, err := s.handleFunctionCallMessage(ctx, assistant)
		if err != nil {
			return chat.Completion{}, err
		}
		s.Add(functionMessage)
		return chat.Completion{Message: functionMessage, FinishReason: finish}, nil
	}
	s.Add(assistant)
	return chat.Completion{Message: assistant, FinishReason: choice.FinishReason}, nil
}

// handleFunctionCallMessage implements the per-call-message retry loop: a
// parse failure is terminal (no retry); an execution error re-queries the
// model with the error folded into context and retries, up to
// MaxFunctionCallAttempts.
func (s *Session) handleFunctionCallMessage(ctx context.Context, callMessage *chat.AssistantMessage) (*chat.FunctionMessage, chat.FinishReason, error) {
	name := callMessage.FunctionCall.Name
	contextTags := callMessage.FunctionCall.Context

	for attempt := 1; attempt <= s.config.MaxFunctionCallAttempts; attempt++ {
		callMessage.AddTag(functionCallTag(name))

		for _, errMsg := range callMessage.FunctionCall.ParsingErrorMessages {
			s.Add(errMsg)
		}
		s.Add(callMessage)

		if callMessage.FunctionCall.Arguments == nil || callMessage.FunctionCall.Function == nil {
			for _, t := range errorTag(name) {
				callMessage.AddTag(t)
			}
			return s.handleFunctionCallFailure(argumentParsingFailureMessage(name), name)
		}

		functionMessage, finish := s.handleFunctionCall(ctx, name, callMessage.FunctionCall.Function, callMessage.FunctionCall.Arguments)
		if finish == chat.FinishFunctionCallError {
			for _, t := range errorTag(name) {
				callMessage.AddTag(t)
			}
			next, err := s.completeFunctionCallError(ctx, functionMessage, contextTags, callMessage.FunctionCall.Function)
			if err != nil {
				return nil, chat.FinishError, err
			}
			callMessage = next
			contextTags = callMessage.FunctionCall.Context
			continue
		}
		return functionMessage, finish, nil
	}

	return s.handleFunctionCallFailure(maxFunctionCallRetryFailureMessage(name, s.config.MaxFunctionCallAttempts), name)
}

func (s *Session) handleFunctionCallFailure(content, name string) (*chat.FunctionMessage, chat.FinishReason, error) {
	msg := chat.NewFunctionMessage(name, content, nil, functionCallTag(name), tags.MustNew("error", "function_call"))
	return msg, chat.FinishFailure, nil
}

// handleFunctionCall invokes fn against arguments inside an execute span,
// mapping the outcome to a FunctionMessage and the native finish reason
// execute_function_call would have produced.
func (s *Session) handleFunctionCall(ctx context.Context, name string, fn *registry.Function, arguments map[string]any) (*chat.FunctionMessage, chat.FinishReason) {
	raw, marshalErr := json.Marshal(arguments)
	if marshalErr != nil {
		result := chat.NewFunctionCallError(name, arguments, marshalErr.Error())
		return chat.NewFunctionMessage(name, "Error: "+marshalErr.Error(), &result, functionCallTag(name), tags.MustNew("error", "function_call")), chat.FinishFunctionCallError
	}

	var value any
	var execErr error
	_ = telemetry.WithExecuteSpan(ctx, name, func(ctx context.Context) error {
		value, execErr = fn.Invoke(ctx, raw)
		return execErr
	})

	if execErr != nil {
		logger.ForFunction(ctx, name).WithField("error", execErr).Debug("session: function call failed")
		result := chat.NewFunctionCallError(name, arguments, execErr.Error())
		return chat.NewFunctionMessage(name, "Error: "+execErr.Error(), &result, functionCallTag(name), tags.MustNew("error", "function_call")), chat.FinishFunctionCallError
	}

	result := chat.NewFunctionCallResult(name, arguments, value)
	content, ok := value.(string)
	if !ok {
		encoded, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			content = fmt.Sprintf("%v", value)
		} else {
			content = string(encoded)
		}
	}
	return chat.NewFunctionMessage(name, content, &result, functionCallTag(name)), chat.FinishFunctionCall
}

// completeFunctionCallError re-queries the model forcing the failing
// function's schema again, adding the error message and the union of its
// tags into context first.
func (s *Session) completeFunctionCallError(ctx context.Context, errorMessage *chat.FunctionMessage, contextTags []tags.TagPattern, fn *registry.Function) (*chat.AssistantMessage, error) {
	s.Add(errorMessage)
	for t := range errorMessage.Tags() {
		pattern, err := tags.NewPattern(t.Key, t.Value)
		if err != nil {
			continue
		}
		contextTags = append(contextTags, pattern)
	}

	var assistant *chat.AssistantMessage
	err := s.messages.Expand(contextTags, func() error {
		resp, err := s.client.Complete(ctx, llm.Request{
			Messages:     s.messages.Visible(),
			Context:      contextTags,
			Functions:    []*registry.Function{fn},
			FunctionCall: fnDirective(fn),
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
			return errors.New("session: corrective re-query returned no choices")
		}
		assistant = resp.Choices[0].Message
		return nil
	})
	if err != nil {
		return nil, err
	}
	if assistant.FunctionCall == nil {
		return nil, errors.New("session: corrective re-query did not return a function call")
	}
	assistant.FunctionCall.Context = contextTags
	return assistant, nil
}

func (s *Session) completeFailureInternal(ctx context.Context) (chat.Completion, error) {
	for _, m := range s.failureMessages {
		s.Add(m)
	}
	completions, err := s.completeChoicesInternal(ctx, nil, 1)
	if err != nil {
		return chat.Completion{}, err
	}
	if s.config.Autocommit {
		s.Commit()
	}
	return completions[0], nil
}

func (s *Session) handleException() {
	if s.config.RollbackOnError {
		s.Rollback()
	}
}

// Save marshals the session's committed+pending messages, config, and
// usage history into a store.Record and persists it under s.ID.
func (s *Session) Save(ctx context.Context) error {
	messages, err := json.Marshal(chat.ToWireAll(s.messages.All()))
	if err != nil {
		return errors.Wrap(err, "session: marshal messages")
	}
	cfg, err := json.Marshal(s.config)
	if err != nil {
		return errors.Wrap(err, "session: marshal config")
	}
	usage, err := json.Marshal(s.usageHistory)
	if err != nil {
		return errors.Wrap(err, "session: marshal usage")
	}
	return s.storageBackend.Save(ctx, store.Record{ID: s.ID, Messages: messages, Config: cfg, Usage: usage})
}

// Load retrieves the record stored under id, replacing this session's
// config and usage history (messages are left to the caller to re-inject
// via Add, since wire messages don't round-trip function references).
func (s *Session) Load(ctx context.Context, id string) error {
	record, err := s.storageBackend.Load(ctx, id)
	if err != nil {
		return err
	}
	var cfg Config
	if err := json.Unmarshal(record.Config, &cfg); err != nil {
		return errors.Wrap(err, "session: unmarshal config")
	}
	var usage []llm.Usage
	if err := json.Unmarshal(record.Usage, &usage); err != nil {
		return errors.Wrap(err, "session: unmarshal usage")
	}
	s.ID = id
	s.config = cfg
	s.usageHistory = usage
	return nil
}

func fnDirective(fn *registry.Function) budget.FunctionCallDirective {
	return budget.FunctionCallDirective{Named: fn.Name()}
}
