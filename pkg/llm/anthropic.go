package llm

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"

	"github.com/srnnkls/lalia-go/pkg/budget"
	"github.com/srnnkls/lalia-go/pkg/chat"
	"github.com/srnnkls/lalia-go/pkg/logger"
	"github.com/srnnkls/lalia-go/pkg/registry"
	"github.com/srnnkls/lalia-go/pkg/telemetry"
)

// AnthropicClient implements Client against the Anthropic Messages API,
// bridging its native tool-use content blocks onto the same
// functions/function_call contract the OpenAI-wire backend exposes:
// exactly one function call per completion, surfaced as a single
// FunctionCall rather than Anthropic's multi-block tool_use array.
// Request.NChoices is not honoured: every response carries exactly one
// choice.
type AnthropicClient struct {
	client anthropic.Client
	model  string
}

// NewAnthropicClient builds a client from an API key and model name. The
// underlying SDK client also honors ANTHROPIC_API_KEY from the
// environment when apiKey is empty.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &AnthropicClient{client: anthropic.NewClient(opts...), model: model}
}

func (c *AnthropicClient) Model() string { return c.model }

func toAnthropicMessages(messages []chat.Message) (anthropicMessages []anthropic.MessageParam, system []anthropic.TextBlockParam) {
	for _, m := range messages {
		switch v := m.(type) {
		case *chat.SystemMessage:
			system = append(system, anthropic.TextBlockParam{Text: v.Content})
		case *chat.UserMessage:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(anthropic.NewTextBlock(v.Content)))
		case *chat.AssistantMessage:
			var blocks []anthropic.ContentBlockParamUnion
			if v.Content != nil && *v.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(*v.Content))
			}
			if v.FunctionCall != nil {
				input := map[string]any(v.FunctionCall.Arguments)
				blocks = append(blocks, anthropic.NewToolUseBlock(v.FunctionCall.Name, input, v.FunctionCall.Name))
			}
			if len(blocks) > 0 {
				anthropicMessages = append(anthropicMessages, anthropic.NewAssistantMessage(blocks...))
			}
		case *chat.FunctionMessage:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(v.Name, v.Content, v.Result != nil && v.Result.Err != nil),
			))
		}
	}
	return anthropicMessages, system
}

func toAnthropicTools(functions []*registry.Function) []anthropic.ToolUnionParam {
	if len(functions) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(functions))
	for _, f := range functions {
		raw, err := json.Marshal(f.Schema())
		if err != nil {
			continue
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			continue
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, f.Name())
		if toolParam.OfTool == nil {
			continue
		}
		toolParam.OfTool.Description = anthropic.String(f.Description())
		out = append(out, toolParam)
	}
	return out
}

// Complete sends req to the Anthropic Messages API, collapsing its
// multi-block tool_use response onto the single-function-call contract
// of Response.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (resp *Response, err error) {
	err = telemetry.WithGenerateSpan(ctx, c.model, 0, func(ctx context.Context) error {
		messages, system := toAnthropicMessages(req.Messages)
		maxTokens := req.MaxTokens
		if maxTokens <= 0 {
			maxTokens = 4096
		}

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(c.model),
			MaxTokens: int64(maxTokens),
			Messages:  messages,
		}
		if len(system) > 0 {
			params.System = system
		}
		if tools := toAnthropicTools(req.Functions); len(tools) > 0 {
			params.Tools = tools
			if req.FunctionCall.Named != "" {
				params.ToolChoice = anthropic.ToolChoiceParamOfTool(req.FunctionCall.Named)
			}
		}

		apiResp, apiErr := c.client.Messages.New(ctx, params)
		if apiErr != nil {
			return errors.Wrap(apiErr, "llm: anthropic messages.new")
		}

		assistant, convErr := fromAnthropicMessage(apiResp)
		if convErr != nil {
			return convErr
		}

		resp = &Response{
			Choices: []chat.Choice{{
				Index:        0,
				Message:      assistant,
				FinishReason: mapAnthropicStopReason(apiResp.StopReason),
			}},
			Usage: Usage{
				PromptTokens:     int(apiResp.Usage.InputTokens),
				CompletionTokens: int(apiResp.Usage.OutputTokens),
				TotalTokens:      int(apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens),
			},
		}
		return nil
	})
	return resp, err
}

func fromAnthropicMessage(msg *anthropic.Message) (*chat.AssistantMessage, error) {
	var content *string
	var call *chat.FunctionCall

	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text := variant.Text
			content = &text
		case anthropic.ToolUseBlock:
			var args map[string]any
			if err := json.Unmarshal(variant.Input, &args); err != nil {
				call = &chat.FunctionCall{Name: variant.Name, RawArguments: string(variant.Input)}
				continue
			}
			call = &chat.FunctionCall{Name: variant.Name, Arguments: args, RawArguments: string(variant.Input)}
		}
	}

	finish := mapAnthropicStopReason(msg.StopReason)
	return chat.NewAssistantMessage(content, call, finish)
}

func mapAnthropicStopReason(r anthropic.StopReason) chat.FinishReason {
	switch r {
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return chat.FinishStop
	case anthropic.StopReasonMaxTokens:
		return chat.FinishLength
	case anthropic.StopReasonToolUse:
		return chat.FinishFunctionCall
	default:
		return chat.FinishNull
	}
}

// CompleteFunctionCall implements parser.Completer by forcing a tool_use
// call against schema and returning its raw input.
func (c *AnthropicClient) CompleteFunctionCall(ctx context.Context, messages []chat.Message, schema *registry.Function) (json.RawMessage, chat.Message, error) {
	resp, err := c.Complete(ctx, Request{
		Messages:     messages,
		Functions:    []*registry.Function{schema},
		FunctionCall: budget.FunctionCallDirective{Named: schema.Name()},
	})
	if err != nil {
		return nil, nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, nil, errors.New("llm: no choices returned for corrective tool call")
	}
	choice := resp.Choices[0]
	if choice.Message.FunctionCall == nil {
		return nil, nil, errors.New("llm: corrective re-query did not return a tool call")
	}
	logger.G(ctx).WithField("schema", schema.Name()).Debug("llm: anthropic corrective re-query completed")
	return []byte(choice.Message.FunctionCall.RawArguments), choice.Message, nil
}
