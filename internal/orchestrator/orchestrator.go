package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ehrlich-b/perch/internal/agentctx"
	"github.com/ehrlich-b/perch/internal/history"
	"github.com/ehrlich-b/perch/internal/llm"
	"github.com/ehrlich-b/perch/internal/logger"
	"github.com/ehrlich-b/perch/internal/permission"
	"github.com/ehrlich-b/perch/internal/registry"
	"github.com/ehrlich-b/perch/internal/store"
	"github.com/ehrlich-b/perch/internal/tools"
)

// maxAgentSteps caps provider round trips per inbound message.
const maxAgentSteps = 16

// Event is a progress notification pushed to the transport while a
// message is being handled.
type Event struct {
	SessionID string `json:"session_id"`
	Type      string `json:"type"` // "assistant", "tool_use", "tool_result", "error"
	Tool      string `json:"tool,omitempty"`
	Content   string `json:"content,omitempty"`
}

// Emitter receives events. A nil emitter discards them.
type Emitter interface {
	Emit(ev Event)
}

// Orchestrator glues the registry, the shared agent context, the
// permission gate, and the model provider into one message pipeline.
type Orchestrator struct {
	registry *registry.Registry
	agents   *agentctx.Manager
	gate     *permission.Gate
	provider llm.Provider
	tools    *tools.Registry
	history  *history.Store
	model    string
	emitter  Emitter

	// guard serializes bind + agent call + persistence so two sessions
	// can never interleave clear/restore on the shared context.
	guard sync.Mutex

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func New(reg *registry.Registry, agents *agentctx.Manager, gate *permission.Gate, provider llm.Provider, toolReg *tools.Registry, h *history.Store, model string) *Orchestrator {
	return &Orchestrator{
		registry: reg,
		agents:   agents,
		gate:     gate,
		provider: provider,
		tools:    toolReg,
		history:  h,
		model:    model,
		running:  make(map[string]context.CancelFunc),
	}
}

// SetEmitter routes progress events to the transport layer.
func (o *Orchestrator) SetEmitter(e Emitter) {
	o.emitter = e
}

func (o *Orchestrator) emit(ev Event) {
	if o.emitter != nil {
		o.emitter.Emit(ev)
	}
}

// HandleMessage runs one inbound chat message end to end and returns
// the assistant's final reply.
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID, text string) (string, error) {
	session, err := o.registry.Ensure(sessionID)
	if err != nil {
		return "", fmt.Errorf("ensure session: %w", err)
	}

	reply, err := o.exchange(ctx, sessionID, text)
	if err != nil {
		o.emit(Event{SessionID: sessionID, Type: "error", Content: err.Error()})
		return "", err
	}

	// Auto-naming talks to the provider again, so it runs after the
	// guard is released; other sessions must not wait on it.
	if session.State == store.StateNew {
		o.autoName(sessionID, text)
	}

	o.emit(Event{SessionID: sessionID, Type: "assistant", Content: reply})
	return reply, nil
}

// exchange is the guarded portion of HandleMessage: bind, agent loop,
// persistence, registry bookkeeping.
func (o *Orchestrator) exchange(ctx context.Context, sessionID, text string) (string, error) {
	o.guard.Lock()
	defer o.guard.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	o.setRunning(sessionID, cancel)
	defer func() {
		o.clearRunning(sessionID)
		cancel()
	}()

	if warn := o.agents.Bind(sessionID); warn != nil {
		logger.Warn("context bound empty", "session", sessionID, "error", warn)
	}

	messages := toMessages(o.agents.Snapshot())
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: text})

	reply, err := o.runAgentLoop(ctx, sessionID, messages)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	userTurn := history.Turn{Role: history.RoleUser, Content: text, Timestamp: now}
	assistantTurn := history.Turn{Role: history.RoleAssistant, Content: reply, Timestamp: time.Now().UTC()}
	for _, turn := range []history.Turn{userTurn, assistantTurn} {
		if _, err := o.history.Append(sessionID, turn); err != nil {
			return "", fmt.Errorf("persist turn: %w", err)
		}
		if err := o.agents.Append(sessionID, turn); err != nil {
			logger.Warn("context append failed", "session", sessionID, "error", err)
		}
	}

	if _, err := o.registry.RecountMessages(sessionID); err != nil {
		logger.Warn("recount failed", "session", sessionID, "error", err)
	}
	if err := o.registry.Touch(sessionID); err != nil {
		logger.Warn("touch failed", "session", sessionID, "error", err)
	}

	return reply, nil
}

// Forget drops the shared context binding if it points at sessionID.
// Called on session deletion so a later reuse of the id starts from
// the empty history instead of the deleted conversation.
func (o *Orchestrator) Forget(sessionID string) {
	o.guard.Lock()
	defer o.guard.Unlock()
	if o.agents.Bound() == sessionID {
		o.agents.Unbind()
	}
}

// runAgentLoop drives provider round trips until the model answers
// without tool calls. Tool calls within one response run concurrently;
// a permission wait suspends only its own call.
func (o *Orchestrator) runAgentLoop(ctx context.Context, sessionID string, messages []llm.Message) (string, error) {
	for step := 0; step < maxAgentSteps; step++ {
		resp, err := o.provider.Chat(ctx, &llm.Request{
			Model:    o.model,
			Messages: messages,
			Tools:    o.tools.Specs(),
		})
		if err != nil {
			return "", fmt.Errorf("provider call: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		results := make([]llm.Message, len(resp.ToolCalls))
		var wg sync.WaitGroup
		for i, call := range resp.ToolCalls {
			wg.Add(1)
			go func(i int, call llm.ToolCall) {
				defer wg.Done()
				results[i] = o.runToolCall(ctx, sessionID, call)
			}(i, call)
		}
		wg.Wait()
		messages = append(messages, results...)
	}
	return "", fmt.Errorf("agent loop exceeded %d steps", maxAgentSteps)
}

func (o *Orchestrator) runToolCall(ctx context.Context, sessionID string, call llm.ToolCall) llm.Message {
	o.emit(Event{SessionID: sessionID, Type: "tool_use", Tool: call.Name, Content: string(call.Input)})

	verdict, err := o.gate.Check(ctx, sessionID, call.ID, call.Name, call.Input)
	if err != nil {
		logger.Warn("permission check failed", "session", sessionID, "tool", call.Name, "error", err)
	}
	if verdict != permission.Allow {
		o.emit(Event{SessionID: sessionID, Type: "tool_result", Tool: call.Name, Content: "permission denied"})
		return llm.Message{
			Role:    llm.RoleTool,
			ToolID:  call.ID,
			Content: fmt.Sprintf("permission to use %s was denied", call.Name),
			IsError: true,
		}
	}

	result, err := o.tools.Run(ctx, call.Name, call.Input)
	if err != nil {
		o.emit(Event{SessionID: sessionID, Type: "tool_result", Tool: call.Name, Content: err.Error()})
		return llm.Message{Role: llm.RoleTool, ToolID: call.ID, Content: err.Error(), IsError: true}
	}
	if result.Error != "" {
		o.emit(Event{SessionID: sessionID, Type: "tool_result", Tool: call.Name, Content: result.Error})
		return llm.Message{Role: llm.RoleTool, ToolID: call.ID, Content: result.Error, IsError: true}
	}

	o.emit(Event{SessionID: sessionID, Type: "tool_result", Tool: call.Name, Content: result.Output})
	return llm.Message{Role: llm.RoleTool, ToolID: call.ID, Content: result.Output}
}

// autoName asks the provider for a display name after the first
// exchange. Failures are logged and the session keeps its id as name.
func (o *Orchestrator) autoName(sessionID, firstMessage string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	title, err := llm.Title(ctx, o.provider, o.model, firstMessage)
	if err != nil {
		logger.Warn("auto-name failed", "session", sessionID, "error", err)
		return
	}
	if err := o.registry.Rename(sessionID, title); err != nil {
		logger.Warn("auto-name rename failed", "session", sessionID, "error", err)
	}
}

// Interrupt cancels the in-flight agent call for a session and denies
// its pending permission requests. The context binding is untouched so
// the session resumes without a reload.
func (o *Orchestrator) Interrupt(sessionID string) {
	o.mu.Lock()
	cancel, ok := o.running[sessionID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	o.gate.InterruptSession(sessionID)
}

func (o *Orchestrator) setRunning(sessionID string, cancel context.CancelFunc) {
	o.mu.Lock()
	o.running[sessionID] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) clearRunning(sessionID string) {
	o.mu.Lock()
	delete(o.running, sessionID)
	o.mu.Unlock()
}

func toMessages(turns []history.Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(turns))
	for _, turn := range turns {
		messages = append(messages, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	return messages
}
