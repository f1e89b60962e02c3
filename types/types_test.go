package types

import (
	"encoding/json"
	"testing"
)

func TestModelResponseAccessors(t *testing.T) {
	resp := ModelResponse{
		Parts: []Part{
			ThinkingPart("let me see"),
			TextPart("The answer "),
			ToolCallPart(ToolCall{ID: "c1", Name: "calculate", Args: json.RawMessage(`{}`)}),
			TextPart("is 42."),
		},
	}

	if got := resp.TextContent(); got != "The answer is 42." {
		t.Errorf("TextContent() = %q", got)
	}
	if got := resp.ThinkingContent(); got != "let me see" {
		t.Errorf("ThinkingContent() = %q", got)
	}
	calls := resp.ToolCalls()
	if len(calls) != 1 || calls[0].Name != "calculate" {
		t.Errorf("ToolCalls() = %#v", calls)
	}
}

func TestUsageAdd(t *testing.T) {
	total := Usage{}
	total.Add(Usage{Requests: 1, InputTokens: 100, OutputTokens: 20, TotalTokens: 120})
	total.Add(Usage{Requests: 1, InputTokens: 50, OutputTokens: 10, TotalTokens: 60})

	if total.Requests != 2 || total.InputTokens != 150 || total.OutputTokens != 30 || total.TotalTokens != 180 {
		t.Errorf("accumulated usage = %+v", total)
	}
}

func TestMessageConstructors(t *testing.T) {
	if m := SystemMessage("be brief"); m.Kind != MessageSystem || m.Content != "be brief" {
		t.Errorf("system message = %+v", m)
	}
	if m := UserMessage("hi"); m.Kind != MessageUser || m.Content != "hi" {
		t.Errorf("user message = %+v", m)
	}
	ret := ToolReturn{ToolCallID: "c1", ToolName: "calculate", Content: json.RawMessage(`{"result":42}`)}
	m := ToolReturnMessage(ret)
	if m.Kind != MessageToolReturn || m.ToolReturn == nil || m.ToolReturn.ToolCallID != "c1" {
		t.Errorf("tool return message = %+v", m)
	}
}
