package permission

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/perch/internal/logger"
	"github.com/ehrlich-b/perch/internal/store"
)

// Verdict is the outcome of a permission check.
type Verdict string

const (
	Allow Verdict = "allow"
	Deny  Verdict = "deny"
)

// Scope is the lifetime of a cached decision.
type Scope string

const (
	ScopeOnce       Scope = "once"       // this invocation only, never cached
	ScopeSession    Scope = "session"    // cached for the session's lifetime
	ScopePersistent Scope = "persistent" // durable across restarts
)

// ErrNotDurable reports that a persistent-scope decision applied in memory
// but could not be written to the rules table; it will not survive a
// restart.
var ErrNotDurable = fmt.Errorf("permission rule not durable")

// Request is an interactive permission request pushed to the connection
// owning a session.
type Request struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Tool      string          `json:"tool"`
	Input     json.RawMessage `json:"input,omitempty"`
}

// Asker pushes an interactive request toward the user. The connection layer
// implements it; decisions come back through Resolve carrying the request id.
type Asker interface {
	Ask(ctx context.Context, req Request) error
}

type sessionKey struct {
	sessionID string
	tool      string
}

type pendingRequest struct {
	req     Request
	verdict Verdict
	done    chan struct{}
}

// Gate intercepts every tool-use request from the agent. Decisions resolve
// from caches in fixed precedence order; a cache miss suspends the calling
// goroutine on a pending handle until the user answers, the ask times out,
// or the owning connection goes away. A suspended check never blocks other
// sessions and is never left pending forever.
type Gate struct {
	store      *store.Store
	askTimeout time.Duration

	mu         sync.Mutex
	asker      Asker
	bypassAll  bool
	once       map[string]Verdict    // invocation id → verdict, consumed on use
	session    map[sessionKey]Verdict
	persistent map[string]Verdict // overlay over the rules table
	pending    map[string]*pendingRequest
}

func NewGate(s *store.Store, asker Asker, askTimeout time.Duration) *Gate {
	if askTimeout <= 0 {
		askTimeout = 5 * time.Minute
	}
	return &Gate{
		store:      s,
		asker:      asker,
		askTimeout: askTimeout,
		once:       make(map[string]Verdict),
		session:    make(map[sessionKey]Verdict),
		persistent: make(map[string]Verdict),
		pending:    make(map[string]*pendingRequest),
	}
}

// SetAsker installs the connection layer after construction; the gate
// and the transport reference each other.
func (g *Gate) SetAsker(a Asker) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.asker = a
}

// SetBypassAll toggles the global bypass flag. When set, every check is
// auto-allowed without consulting any cache.
func (g *Gate) SetBypassAll(v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bypassAll = v
}

func (g *Gate) BypassAll() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bypassAll
}

// Check evaluates a tool-use attempt. Precedence, stopping at the first
// match: global bypass, one-time entry (consumed), session entry, persistent
// entry, then AWAITING_USER: the request goes to the session's connection
// and the calling goroutine parks until a decision, the ask timeout, or ctx
// cancellation. Timeout, cancellation, and missing connections all default
// to deny without caching.
func (g *Gate) Check(ctx context.Context, sessionID, invocationID, tool string, input json.RawMessage) (Verdict, error) {
	g.mu.Lock()

	if g.bypassAll {
		g.mu.Unlock()
		return Allow, nil
	}
	if v, ok := g.once[invocationID]; ok {
		delete(g.once, invocationID)
		g.mu.Unlock()
		return v, nil
	}
	if v, ok := g.session[sessionKey{sessionID, tool}]; ok {
		g.mu.Unlock()
		return v, nil
	}
	if v, ok := g.persistent[tool]; ok {
		g.mu.Unlock()
		return v, nil
	}
	g.mu.Unlock()

	// Rules table lookup outside the gate lock; a read failure degrades to
	// "ask again", never to a crash.
	if rule, err := g.store.GetPermissionRule(tool); err != nil {
		logger.Warn("permission: rule lookup failed", "tool", tool, "error", err)
	} else if rule != nil {
		v := Verdict(rule.Verdict)
		g.mu.Lock()
		g.persistent[tool] = v
		g.mu.Unlock()
		return v, nil
	}

	return g.ask(ctx, sessionID, tool, input)
}

func (g *Gate) ask(ctx context.Context, sessionID, tool string, input json.RawMessage) (Verdict, error) {
	p := &pendingRequest{
		req: Request{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Tool:      tool,
			Input:     input,
		},
		done: make(chan struct{}),
	}

	g.mu.Lock()
	g.pending[p.req.ID] = p
	asker := g.asker
	g.mu.Unlock()

	if asker == nil {
		g.drop(p.req.ID)
		logger.Warn("permission: no transport installed, denying", "tool", tool, "session", sessionID)
		return Deny, nil
	}
	if err := asker.Ask(ctx, p.req); err != nil {
		g.drop(p.req.ID)
		logger.Warn("permission: no connection to ask, denying", "tool", tool, "session", sessionID, "error", err)
		return Deny, nil
	}

	timer := time.NewTimer(g.askTimeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return p.verdict, nil
	case <-ctx.Done():
		if v, resolved := g.raceResolved(p); resolved {
			return v, nil
		}
		logger.Info("permission: check cancelled, denying", "tool", tool, "request", p.req.ID)
		return Deny, nil
	case <-timer.C:
		if v, resolved := g.raceResolved(p); resolved {
			return v, nil
		}
		logger.Info("permission: ask timed out, denying", "tool", tool, "request", p.req.ID)
		return Deny, nil
	}
}

// raceResolved handles a decision that lands in the same instant as a
// timeout or cancellation: if the handle was already resolved, its verdict
// wins; otherwise the handle is dropped.
func (g *Gate) raceResolved(p *pendingRequest) (Verdict, bool) {
	g.drop(p.req.ID)
	select {
	case <-p.done:
		return p.verdict, true
	default:
		return Deny, false
	}
}

// drop removes a pending handle without resolving it.
func (g *Gate) drop(requestID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending, requestID)
}

// Resolve delivers a user decision for a pending request. Session and
// persistent scopes write the corresponding cache entry before the waiter
// resumes; one-time scope caches nothing. Exactly one resolution per
// request id; late or duplicate decisions are logged and ignored. The
// returned error is only ever ErrNotDurable: the decision took effect but
// the durable write failed.
func (g *Gate) Resolve(requestID string, verdict Verdict, scope Scope) error {
	g.mu.Lock()
	p, ok := g.pending[requestID]
	if !ok {
		g.mu.Unlock()
		logger.Warn("permission: decision for unknown or already-resolved request", "request", requestID)
		return nil
	}
	delete(g.pending, requestID)
	p.verdict = verdict

	switch scope {
	case ScopeSession:
		g.session[sessionKey{p.req.SessionID, p.req.Tool}] = verdict
	case ScopePersistent:
		g.persistent[p.req.Tool] = verdict
	}
	tool := p.req.Tool
	g.mu.Unlock()

	var durableErr error
	if scope == ScopePersistent {
		if err := g.store.PutPermissionRule(tool, string(verdict)); err != nil {
			logger.Error("permission: persistent rule write failed", "tool", tool, "error", err)
			durableErr = fmt.Errorf("%w: %v", ErrNotDurable, err)
		}
	}

	close(p.done)
	return durableErr
}

// GrantOnce pre-seeds a one-time verdict for a specific tool invocation.
// The entry is consumed by the first matching Check.
func (g *Gate) GrantOnce(invocationID string, verdict Verdict) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.once[invocationID] = verdict
}

// GrantPersistent records a durable rule directly (CLI management path).
func (g *Gate) GrantPersistent(tool string, verdict Verdict) error {
	g.mu.Lock()
	g.persistent[tool] = verdict
	g.mu.Unlock()
	if err := g.store.PutPermissionRule(tool, string(verdict)); err != nil {
		return fmt.Errorf("%w: %v", ErrNotDurable, err)
	}
	return nil
}

// ForgetPersistent removes a durable rule and its overlay entry.
func (g *Gate) ForgetPersistent(tool string) error {
	g.mu.Lock()
	delete(g.persistent, tool)
	g.mu.Unlock()
	if err := g.store.DeletePermissionRule(tool); err != nil {
		return fmt.Errorf("delete permission rule: %w", err)
	}
	return nil
}

// AbandonSession resolves every pending request owned by a session with a
// deny-and-discard verdict. Called when the owning connection closes so no
// suspended tool call is left blocked forever.
func (g *Gate) AbandonSession(sessionID string) {
	g.finishSession(sessionID, "connection closed")
}

// InterruptSession is AbandonSession for an explicit stop: in-flight
// permission requests for the session resolve deny-and-discard.
func (g *Gate) InterruptSession(sessionID string) {
	g.finishSession(sessionID, "interrupted")
}

func (g *Gate) finishSession(sessionID, reason string) {
	g.mu.Lock()
	var abandoned []*pendingRequest
	for id, p := range g.pending {
		if p.req.SessionID == sessionID {
			delete(g.pending, id)
			p.verdict = Deny
			abandoned = append(abandoned, p)
		}
	}
	g.mu.Unlock()

	for _, p := range abandoned {
		logger.Info("permission: pending request denied", "request", p.req.ID, "tool", p.req.Tool, "reason", reason)
		close(p.done)
	}
}

// ClearSession drops session-scoped cache entries when a session ends.
func (g *Gate) ClearSession(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for k := range g.session {
		if k.sessionID == sessionID {
			delete(g.session, k)
		}
	}
}

// Pending returns a copy of the currently suspended requests.
func (g *Gate) Pending() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Request, 0, len(g.pending))
	for _, p := range g.pending {
		out = append(out, p.req)
	}
	return out
}
