package providers

import (
	"encoding/json"

	"github.com/msgcode/msgcode/internal/errs"
)

// The wire-format adapter is three pure functions. The HTTP client feeds
// them; tests exercise them without a network.

// wireRequest is the OpenAI chat-completions request body.
type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Temperature float64       `json:"temperature"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireResponse struct {
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// BuildChatCompletionRequest maps a ChatRequest onto the wire body.
// Temperature defaults to 0: deterministic tool use over creativity.
func BuildChatCompletionRequest(req ChatRequest, defaultModel string) ([]byte, error) {
	wr := wireRequest{
		Model:    req.Model,
		Messages: make([]wireMessage, 0, len(req.Messages)),
	}
	if wr.Model == "" {
		wr.Model = defaultModel
	}
	if req.Temperature != nil {
		wr.Temperature = *req.Temperature
	}
	for _, m := range req.Messages {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Args)
			if err != nil {
				return nil, errs.Wrap(errs.ProviderError, err)
			}
			var wtc wireToolCall
			wtc.ID = tc.ID
			wtc.Type = "function"
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = string(args)
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		wr.Messages = append(wr.Messages, wm)
	}
	for _, t := range req.Tools {
		wr.Tools = append(wr.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return json.Marshal(wr)
}

// ParseChatCompletionResponse decodes the wire body into content plus
// normalized tool calls.
func ParseChatCompletionResponse(body []byte) (*ChatResponse, error) {
	var wr wireResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return nil, errs.Wrap(errs.ProviderError, err)
	}
	if wr.Error != nil {
		return nil, errs.New(errs.ProviderError, "%s", wr.Error.Message).With("type", wr.Error.Type)
	}
	if len(wr.Choices) == 0 {
		return nil, errs.New(errs.ProviderError, "response has no choices")
	}
	choice := wr.Choices[0]
	calls, err := NormalizeToolCalls(choice.Message.ToolCalls)
	if err != nil {
		return nil, err
	}
	return &ChatResponse{
		Content:      choice.Message.Content,
		ToolCalls:    calls,
		FinishReason: choice.FinishReason,
	}, nil
}

// NormalizeToolCalls decodes raw function calls into {id, name, args}.
// Malformed argument JSON is TOOL_ARG_INVALID: the model emitted a call the
// bus could never execute.
func NormalizeToolCalls(raw []wireToolCall) ([]ToolCall, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]ToolCall, 0, len(raw))
	for _, r := range raw {
		if r.Function.Name == "" {
			return nil, errs.New(errs.ToolArgInvalid, "tool call %s has no function name", r.ID)
		}
		args := map[string]any{}
		if r.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(r.Function.Arguments), &args); err != nil {
				return nil, errs.New(errs.ToolArgInvalid,
					"tool call %s (%s): arguments are not valid JSON", r.ID, r.Function.Name)
			}
		}
		out = append(out, ToolCall{ID: r.ID, Name: r.Function.Name, Args: args})
	}
	return out, nil
}
