package providers

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/msgcode/msgcode/internal/errs"
)

func TestBuildRequestDefaults(t *testing.T) {
	body, err := BuildChatCompletionRequest(ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, "local-model")
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	json.Unmarshal(body, &got)
	if got["model"] != "local-model" {
		t.Errorf("model = %v", got["model"])
	}
	if got["temperature"] != float64(0) {
		t.Errorf("temperature = %v, want 0", got["temperature"])
	}
	if _, hasTools := got["tools"]; hasTools {
		t.Error("tools present without tool defs")
	}
}

func TestBuildRequestWithToolsAndHistory(t *testing.T) {
	body, err := BuildChatCompletionRequest(ChatRequest{
		Messages: []Message{
			{Role: "assistant", ToolCalls: []ToolCall{{ID: "call_1", Name: "bash", Args: map[string]any{"command": "ls"}}}},
			{Role: "tool", ToolCallID: "call_1", Content: "file.txt"},
		},
		Tools: []ToolDef{{Name: "bash", Description: "run a command", Parameters: map[string]any{"type": "object"}}},
	}, "m")
	if err != nil {
		t.Fatal(err)
	}
	s := string(body)
	for _, want := range []string{`"tool_calls"`, `"arguments":"{\"command\":\"ls\"}"`, `"tool_call_id":"call_1"`, `"type":"function"`} {
		if !strings.Contains(s, want) {
			t.Errorf("request missing %s:\n%s", want, s)
		}
	}
}

func TestParseResponseContent(t *testing.T) {
	resp, err := ParseChatCompletionResponse([]byte(
		`{"choices":[{"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hello" || len(resp.ToolCalls) != 0 || resp.FinishReason != "stop" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestParseResponseToolCalls(t *testing.T) {
	body := `{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[
		{"id":"call_1","type":"function","function":{"name":"read_file","arguments":"{\"path\":\"a.txt\"}"}}
	]},"finish_reason":"tool_calls"}]}`
	resp, err := ParseChatCompletionResponse([]byte(body))
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("toolCalls = %+v", resp.ToolCalls)
	}
	tc := resp.ToolCalls[0]
	if tc.Name != "read_file" || tc.Args["path"] != "a.txt" {
		t.Errorf("call = %+v", tc)
	}
}

func TestParseResponseErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code errs.Code
	}{
		{"not json", `<html>`, errs.ProviderError},
		{"api error", `{"error":{"message":"model not loaded","type":"invalid_request"}}`, errs.ProviderError},
		{"no choices", `{"choices":[]}`, errs.ProviderError},
		{"malformed args", `{"choices":[{"message":{"tool_calls":[{"id":"1","function":{"name":"bash","arguments":"{broken"}}]}}]}`, errs.ToolArgInvalid},
		{"nameless call", `{"choices":[{"message":{"tool_calls":[{"id":"1","function":{"name":"","arguments":"{}"}}]}}]}`, errs.ToolArgInvalid},
	}
	for _, tt := range tests {
		_, err := ParseChatCompletionResponse([]byte(tt.body))
		if errs.CodeOf(err) != tt.code {
			t.Errorf("%s: code = %v, want %v", tt.name, errs.CodeOf(err), tt.code)
		}
	}
}

func TestNormalizeEmptyArguments(t *testing.T) {
	var raw []wireToolCall
	raw = append(raw, wireToolCall{ID: "1"})
	raw[0].Function.Name = "desktop"
	raw[0].Function.Arguments = ""
	calls, err := NormalizeToolCalls(raw)
	if err != nil {
		t.Fatal(err)
	}
	if calls[0].Args == nil || len(calls[0].Args) != 0 {
		t.Errorf("args = %v, want empty map", calls[0].Args)
	}
}
