package llm

import (
	"context"
	"strings"
	"testing"
)

func TestDummyEmitsToolCall(t *testing.T) {
	p := NewTestProvider()

	resp, err := p.Chat(context.Background(), &Request{
		Messages: []Message{{Role: RoleUser, Content: "what time is it?"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].Name != "clock" {
		t.Errorf("tool = %q, want clock", resp.ToolCalls[0].Name)
	}
}

func TestDummyClosesLoopAfterToolResult(t *testing.T) {
	p := NewTestProvider()

	resp, err := p.Chat(context.Background(), &Request{
		Messages: []Message{
			{Role: RoleUser, Content: "what time is it?"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_clock", Name: "clock"}}},
			{Role: RoleTool, ToolID: "call_clock", Content: "2026-08-30T10:00:00Z"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.ToolCalls) != 0 {
		t.Fatalf("unexpected tool calls after result: %+v", resp.ToolCalls)
	}
	if !strings.Contains(resp.Content, "2026-08-30T10:00:00Z") {
		t.Errorf("content %q does not echo the tool result", resp.Content)
	}
}

func TestSanitizeTitle(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Trip Planning", "Trip Planning"},
		{`"Quoted Title"`, "Quoted Title"},
		{"  padded  ", "padded"},
		{"First line\nsecond line", "First line"},
		{strings.Repeat("x", 100), strings.Repeat("x", 64)},
		{"", ""},
	}
	for _, c := range cases {
		if got := sanitizeTitle(c.in); got != c.want {
			t.Errorf("sanitizeTitle(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestAnthropicRequestShapesToolTraffic(t *testing.T) {
	p := NewAnthropicProvider("key", "")

	ar := p.convertRequest(&Request{
		Model: "claude-sonnet-4-20250514",
		Messages: []Message{
			{Role: RoleSystem, Content: "be brief"},
			{Role: RoleUser, Content: "run it"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "clock", Input: []byte(`{}`)}}},
			{Role: RoleTool, ToolID: "c1", Content: "noon"},
		},
		Tools: []ToolSpec{{Name: "clock", Description: "tells time", Parameters: map[string]any{"type": "object"}}},
	})

	if ar.System != "be brief" {
		t.Errorf("system = %q", ar.System)
	}
	if len(ar.Messages) != 3 {
		t.Fatalf("messages = %d, want 3 (system folded out)", len(ar.Messages))
	}
	if ar.Messages[1].Content[0].Type != "tool_use" {
		t.Errorf("assistant block type = %q, want tool_use", ar.Messages[1].Content[0].Type)
	}
	last := ar.Messages[2]
	if last.Role != "user" || last.Content[0].Type != "tool_result" || last.Content[0].ToolUseID != "c1" {
		t.Errorf("tool result not shaped as user tool_result block: %+v", last)
	}
	if len(ar.Tools) != 1 || ar.Tools[0].Name != "clock" {
		t.Errorf("tools = %+v", ar.Tools)
	}
}
