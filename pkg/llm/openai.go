package llm

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/srnnkls/lalia-go/pkg/budget"
	"github.com/srnnkls/lalia-go/pkg/chat"
	"github.com/srnnkls/lalia-go/pkg/logger"
	"github.com/srnnkls/lalia-go/pkg/registry"
	"github.com/srnnkls/lalia-go/pkg/telemetry"
)

// OpenAIClient implements Client against the OpenAI-compatible Chat
// Completions API, using the legacy functions/function_call request shape
// (rather than the newer tools/tool_calls shape) to match spec §6's wire
// contract directly.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds a client from an API key and model name. baseURL,
// if non-empty, points at an OpenAI-compatible endpoint other than
// OpenAI's own (e.g. a local proxy or another vendor's compatibility
// layer).
func NewOpenAIClient(apiKey, model, baseURL string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model}
}

func (c *OpenAIClient) Model() string { return c.model }

func toOpenAIMessages(messages []chat.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		wire := chat.ToWire(m)
		msg := openai.ChatCompletionMessage{Role: wire.Role, Name: wire.Name}
		if wire.Content != nil {
			msg.Content = *wire.Content
		}
		if wire.FunctionCall != nil {
			msg.FunctionCall = &openai.FunctionCall{
				Name:      wire.FunctionCall.Name,
				Arguments: wire.FunctionCall.Arguments,
			}
		}
		out = append(out, msg)
	}
	return out
}

func toOpenAIFunctions(functions []*registry.Function) []openai.FunctionDefinition {
	if len(functions) == 0 {
		return nil
	}
	out := make([]openai.FunctionDefinition, 0, len(functions))
	for _, f := range functions {
		params, _ := f.SchemaMap()
		out = append(out, openai.FunctionDefinition{
			Name:        f.Name(),
			Description: f.Description(),
			Parameters:  params,
		})
	}
	return out
}

// Complete sends req to the configured OpenAI-compatible endpoint.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (resp *Response, err error) {
	err = telemetry.WithGenerateSpan(ctx, c.model, 0, func(ctx context.Context) error {
		n := req.NChoices
		if n == 0 {
			n = 1
		}
		apiReq := openai.ChatCompletionRequest{
			Model:     c.model,
			Messages:  toOpenAIMessages(req.Messages),
			MaxTokens: req.MaxTokens,
			N:         n,
		}
		if functions := toOpenAIFunctions(req.Functions); len(functions) > 0 {
			apiReq.Functions = functions
		}
		if req.FunctionCall.None {
			apiReq.FunctionCall = "none"
		} else if req.FunctionCall.Named != "" {
			apiReq.FunctionCall = map[string]string{"name": req.FunctionCall.Named}
		}
		if req.Temperature != nil {
			apiReq.Temperature = float32(*req.Temperature)
		}

		apiResp, apiErr := c.client.CreateChatCompletion(ctx, apiReq)
		if apiErr != nil {
			return errors.Wrap(apiErr, "llm: openai chat completion")
		}

		resp = &Response{
			Usage: Usage{
				PromptTokens:     apiResp.Usage.PromptTokens,
				CompletionTokens: apiResp.Usage.CompletionTokens,
				TotalTokens:      apiResp.Usage.TotalTokens,
			},
		}
		for _, choice := range apiResp.Choices {
			assistant, convErr := fromOpenAIChoice(choice)
			if convErr != nil {
				return convErr
			}
			resp.Choices = append(resp.Choices, chat.Choice{
				Index:        choice.Index,
				Message:      assistant,
				FinishReason: mapFinishReason(choice.FinishReason),
			})
		}
		return nil
	})
	return resp, err
}

func fromOpenAIChoice(choice openai.ChatCompletionChoice) (*chat.AssistantMessage, error) {
	var content *string
	if choice.Message.Content != "" {
		c := choice.Message.Content
		content = &c
	}
	var call *chat.FunctionCall
	if choice.Message.FunctionCall != nil {
		var args map[string]any
		_ = json.Unmarshal([]byte(choice.Message.FunctionCall.Arguments), &args)
		call = &chat.FunctionCall{
			Name:         choice.Message.FunctionCall.Name,
			Arguments:    args,
			RawArguments: choice.Message.FunctionCall.Arguments,
		}
	}
	return chat.NewAssistantMessage(content, call, mapFinishReason(choice.FinishReason))
}

func mapFinishReason(r openai.FinishReason) chat.FinishReason {
	switch r {
	case openai.FinishReasonStop:
		return chat.FinishStop
	case openai.FinishReasonLength:
		return chat.FinishLength
	case openai.FinishReasonFunctionCall:
		return chat.FinishFunctionCall
	case openai.FinishReasonContentFilter:
		return chat.FinishContentFilter
	case openai.FinishReasonNull, "":
		return chat.FinishNull
	default:
		return chat.FinishStop
	}
}

// CompleteFunctionCall implements parser.Completer: it forces a call to
// the named schema and returns its raw arguments plus the assistant
// message produced, without routing back through a repair pipeline.
func (c *OpenAIClient) CompleteFunctionCall(ctx context.Context, messages []chat.Message, schema *registry.Function) (json.RawMessage, chat.Message, error) {
	resp, err := c.Complete(ctx, Request{
		Messages:     messages,
		Functions:    []*registry.Function{schema},
		FunctionCall: budget.FunctionCallDirective{Named: schema.Name()},
	})
	if err != nil {
		return nil, nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, nil, errors.New("llm: no choices returned for corrective function call")
	}
	choice := resp.Choices[0]
	if choice.Message.FunctionCall == nil {
		return nil, nil, errors.New("llm: corrective re-query did not return a function call")
	}
	args, _ := json.Marshal(choice.Message.FunctionCall.Arguments)
	if choice.Message.FunctionCall.RawArguments != "" {
		args = []byte(choice.Message.FunctionCall.RawArguments)
	}
	logger.G(ctx).WithField("schema", schema.Name()).Debug("llm: corrective re-query completed")
	return args, choice.Message, nil
}
