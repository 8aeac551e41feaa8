package llm

import (
	"context"
	"encoding/json"
)

// Message roles. Tool results go back to the model as RoleTool messages
// carrying the id of the call they answer.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in a conversation sent to a provider.
type Message struct {
	Role      string
	Content   string
	ToolCalls []ToolCall // assistant messages only
	ToolID    string     // tool result messages only
	IsError   bool       // tool result messages only
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolSpec describes a tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is a single chat completion call.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolSpec
	MaxTokens int
}

// Response is what a provider returned for a Request.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Provider is a chat completion backend.
type Provider interface {
	Chat(ctx context.Context, req *Request) (*Response, error)
	Name() string
}
