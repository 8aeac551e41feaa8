package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DummyProvider answers with canned responses. It backs the "dummy"
// config provider so the daemon runs without an API key, and the fast
// variant drives tests.
type DummyProvider struct {
	delay time.Duration
}

func NewDummyProvider(delay time.Duration) *DummyProvider {
	return &DummyProvider{delay: delay}
}

func (d *DummyProvider) Name() string { return "dummy" }

func (d *DummyProvider) Chat(ctx context.Context, req *Request) (*Response, error) {
	select {
	case <-time.After(d.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	last := lastMessage(req.Messages)

	// After a tool result, wrap up.
	if last.Role == RoleTool {
		return &Response{
			Content: fmt.Sprintf("The tool reported: %s", firstLine(last.Content)),
		}, nil
	}

	lower := strings.ToLower(last.Content)
	switch {
	case strings.Contains(lower, "what time"):
		input, _ := json.Marshal(map[string]string{})
		return &Response{
			ToolCalls: []ToolCall{{ID: "call_clock", Name: "clock", Input: input}},
		}, nil
	case strings.Contains(lower, "echo "):
		input, _ := json.Marshal(map[string]string{
			"text": strings.TrimSpace(last.Content[strings.Index(lower, "echo ")+5:]),
		})
		return &Response{
			ToolCalls: []ToolCall{{ID: "call_echo", Name: "echo", Input: input}},
		}, nil
	case strings.Contains(lower, "hello"), strings.Contains(lower, "hi"):
		return &Response{Content: "Hello! I'm the built-in dummy model. Ask me 'what time is it' to see a tool call."}, nil
	default:
		return &Response{Content: fmt.Sprintf("You said: %q. This is a canned response.", last.Content)}, nil
	}
}

func lastMessage(messages []Message) Message {
	if len(messages) == 0 {
		return Message{}
	}
	return messages[len(messages)-1]
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
