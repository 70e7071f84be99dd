package chat

import "encoding/json"

// WireFunctionCall is the JSON-stringified-arguments shape used on the
// wire by OpenAI-compatible chat completion APIs.
type WireFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// WireMessage is the flat, role-tagged shape sent to and received from an
// LLM client, per spec §6's wire contract.
type WireMessage struct {
	Role         string            `json:"role"`
	Content      *string           `json:"content,omitempty"`
	Name         string            `json:"name,omitempty"`
	FunctionCall *WireFunctionCall `json:"function_call,omitempty"`
}

// ToWireAll renders a slice of messages into their wire representations,
// for serialization (e.g. a Session snapshot) rather than transport.
func ToWireAll(messages []Message) []WireMessage {
	out := make([]WireMessage, len(messages))
	for i, m := range messages {
		out[i] = ToWire(m)
	}
	return out
}

// ToWire renders a Message into its wire representation. Tags and
// timestamps are internal bookkeeping and never cross the wire.
func ToWire(m Message) WireMessage {
	switch v := m.(type) {
	case *SystemMessage:
		content := v.Content
		return WireMessage{Role: string(RoleSystem), Content: &content}
	case *UserMessage:
		content := v.Content
		return WireMessage{Role: string(RoleUser), Content: &content}
	case *FunctionMessage:
		content := v.Content
		return WireMessage{Role: string(RoleFunction), Name: v.Name, Content: &content}
	case *AssistantMessage:
		wire := WireMessage{Role: string(RoleAssistant), Content: v.Content}
		if v.FunctionCall != nil {
			args, _ := json.Marshal(v.FunctionCall.Arguments)
			if v.FunctionCall.RawArguments != "" {
				args = []byte(v.FunctionCall.RawArguments)
			}
			wire.FunctionCall = &WireFunctionCall{Name: v.FunctionCall.Name, Arguments: string(args)}
		}
		return wire
	default:
		return WireMessage{Role: string(m.Role())}
	}
}
