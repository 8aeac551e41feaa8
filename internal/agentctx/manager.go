package agentctx

import (
	"fmt"
	"sync"

	"github.com/ehrlich-b/perch/internal/history"
)

// Manager owns the single live agent's conversation context. Exactly one
// session is represented at a time; the in-memory turn sequence must always
// equal that session's persisted history, or be empty when unbound. Every
// cross-session leak traces back to a violation of that invariant, so Bind
// clears before it restores instead of appending on top.
type Manager struct {
	history *history.Store

	mu        sync.Mutex
	sessionID string
	turns     []history.Turn
}

func NewManager(h *history.Store) *Manager {
	return &Manager{history: h}
}

// Bind makes the live context represent sessionID. Already bound to the same
// non-empty session is a no-op; bound to anything else clears the sequence
// before the session's history is restored in persisted order.
//
// A failed history load is recoverable: the context binds empty and the
// returned warning tells the caller, but the manager is never left in a
// stale or mixed state.
func (m *Manager) Bind(sessionID string) (warn error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessionID == sessionID && len(m.turns) > 0 {
		return nil
	}
	if m.sessionID != sessionID {
		m.turns = nil
	}

	turns, err := m.history.Load(sessionID)
	if err != nil {
		m.turns = nil
		m.sessionID = sessionID
		return fmt.Errorf("bind %s: history unreadable, starting empty: %w", sessionID, err)
	}
	m.turns = append(m.turns[:0], turns...)
	m.sessionID = sessionID
	return nil
}

// Unbind detaches without persisting anything.
func (m *Manager) Unbind() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionID = ""
	m.turns = nil
}

// Append extends the live context after an exchange has been persisted,
// keeping the context identical to the history without a reload.
func (m *Manager) Append(sessionID string, turn history.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessionID != sessionID {
		return fmt.Errorf("context bound to %q, not %q", m.sessionID, sessionID)
	}
	m.turns = append(m.turns, turn)
	return nil
}

// Bound returns the session id the context currently represents, or "".
func (m *Manager) Bound() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Len returns the number of turns in the live context.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.turns)
}

// Snapshot returns a copy of the current turn sequence for an agent call.
func (m *Manager) Snapshot() []history.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]history.Turn, len(m.turns))
	copy(out, m.turns)
	return out
}
