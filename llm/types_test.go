// ABOUTME: Tests for the unified message model: content parts, extraction, finish reasons.
// ABOUTME: Exercises the helpers the planner and adapters rely on.

package llm

import (
	"encoding/json"
	"testing"
)

func TestMessageTextContent(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Content: []ContentPart{
			TextPart("hello "),
			ToolCallPart("call_1", "read_file", json.RawMessage(`{"path":"/tmp/x"}`)),
			TextPart("world"),
		},
	}
	if got := msg.TextContent(); got != "hello world" {
		t.Errorf("TextContent() = %q, want %q", got, "hello world")
	}
}

func TestMessageToolCalls(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Content: []ContentPart{
			TextPart("thinking"),
			ToolCallPart("call_1", "read_file", json.RawMessage(`{"path":"/tmp/x"}`)),
			ToolCallPart("call_2", "sleep", json.RawMessage(`{"seconds":5}`)),
		},
	}
	calls := msg.ToolCalls()
	if len(calls) != 2 {
		t.Fatalf("got %d tool calls, want 2", len(calls))
	}
	if calls[0].Name != "read_file" || calls[1].Name != "sleep" {
		t.Errorf("call names = %s, %s", calls[0].Name, calls[1].Name)
	}

	args, err := calls[0].ArgumentsMap()
	if err != nil {
		t.Fatalf("ArgumentsMap: %v", err)
	}
	if args["path"] != "/tmp/x" {
		t.Errorf("args = %v", args)
	}
}

func TestMessageConstructors(t *testing.T) {
	tests := []struct {
		msg      Message
		wantRole Role
		wantText string
	}{
		{SystemMessage("be terse"), RoleSystem, "be terse"},
		{UserMessage("hi"), RoleUser, "hi"},
		{AssistantMessage("hello"), RoleAssistant, "hello"},
	}
	for _, tt := range tests {
		if tt.msg.Role != tt.wantRole {
			t.Errorf("role = %s, want %s", tt.msg.Role, tt.wantRole)
		}
		if got := tt.msg.TextContent(); got != tt.wantText {
			t.Errorf("text = %q, want %q", got, tt.wantText)
		}
	}
}

func TestToolResultMessage(t *testing.T) {
	msg := ToolResultMessage("call_9", "boom", true)
	if msg.Role != RoleTool || msg.ToolCallID != "call_9" {
		t.Errorf("msg = %+v", msg)
	}
	if msg.Content[0].ToolResult == nil || !msg.Content[0].ToolResult.IsError {
		t.Error("tool result should carry the error flag")
	}
}

func TestUsageAdd(t *testing.T) {
	total := Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}.
		Add(Usage{InputTokens: 3, OutputTokens: 2, TotalTokens: 5})
	if total.InputTokens != 13 || total.OutputTokens != 7 || total.TotalTokens != 20 {
		t.Errorf("total = %+v", total)
	}
}

func TestExtractSystemText(t *testing.T) {
	system, rest := ExtractSystemText([]Message{
		SystemMessage("first"),
		UserMessage("question"),
		SystemMessage("second"),
	})
	if system != "first\n\nsecond" {
		t.Errorf("system = %q", system)
	}
	if len(rest) != 1 || rest[0].Role != RoleUser {
		t.Errorf("rest = %+v", rest)
	}
}
