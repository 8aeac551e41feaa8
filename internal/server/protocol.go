package server

import "encoding/json"

// Frame types carried over the WebSocket.
const (
	FrameChatSend           = "chat.send"
	FrameChatEvent          = "chat.event"
	FrameChatInterrupt      = "chat.interrupt"
	FramePermissionRequest  = "permission.request"
	FramePermissionDecision = "permission.decision"
	FrameError              = "error"
)

// Frame is the JSON envelope for every WebSocket message, in both
// directions. Fields outside a frame type's contract are ignored.
type Frame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`

	// chat.send, chat.event
	Content string `json:"content,omitempty"`
	Event   string `json:"event,omitempty"` // chat.event subtype
	Tool    string `json:"tool,omitempty"`

	// permission.request, permission.decision
	RequestID string          `json:"request_id,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Verdict   string          `json:"verdict,omitempty"` // "allow" or "deny"
	Scope     string          `json:"scope,omitempty"`   // "once", "session", "persistent"

	// error
	Error string `json:"error,omitempty"`
}
