package registry

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ehrlich-b/perch/internal/history"
	"github.com/ehrlich-b/perch/internal/logger"
	"github.com/ehrlich-b/perch/internal/store"
)

// Registry tracks session metadata. The sqlite row is a cache; the history
// file is the source of truth for message counts, which is why every append
// path ends in RecountMessages and why Rebuild can reconstruct the whole
// table from the history directory.
type Registry struct {
	store   *store.Store
	history *history.Store
}

func New(s *store.Store, h *history.Store) *Registry {
	return &Registry{store: s, history: h}
}

// NewID generates a fresh session id.
func NewID() string {
	return uuid.NewString()
}

// Ensure returns the session with the given id, creating it on first use.
func (r *Registry) Ensure(id string) (*store.Session, error) {
	sess, err := r.store.GetSession(id)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}
	return r.store.CreateSession(id)
}

func (r *Registry) Get(id string) (*store.Session, error) {
	return r.store.GetSession(id)
}

func (r *Registry) List() ([]*store.Session, error) {
	return r.store.ListSessions()
}

// Rename sets the display name. A new session whose generated name differs
// from its id moves to the auto-named state.
func (r *Registry) Rename(id, displayName string) error {
	sess, err := r.store.GetSession(id)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("rename: session %s not found", id)
	}
	if terminal(sess.State) {
		return fmt.Errorf("rename: session %s is %s", id, sess.State)
	}
	state := sess.State
	if sess.State == store.StateNew && displayName != id {
		state = store.StateAutoNamed
	}
	return r.store.UpdateSessionName(id, displayName, state)
}

// Finalize moves a session to the terminal finalized state.
func (r *Registry) Finalize(id string) error {
	return r.transition(id, store.StateFinalized)
}

// Archive moves a session to the terminal archived state.
func (r *Registry) Archive(id string) error {
	return r.transition(id, store.StateArchived)
}

func (r *Registry) transition(id, target string) error {
	sess, err := r.store.GetSession(id)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("session %s not found", id)
	}
	if terminal(sess.State) {
		return fmt.Errorf("session %s is already %s", id, sess.State)
	}
	return r.store.UpdateSessionState(id, target)
}

func terminal(state string) bool {
	return state == store.StateFinalized || state == store.StateArchived
}

// RecountMessages recomputes the cached message count from the history
// store. Call after every append.
func (r *Registry) RecountMessages(id string) (int, error) {
	n, err := r.history.Count(id)
	if err != nil {
		return 0, err
	}
	if err := r.store.SetMessageCount(id, n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *Registry) SetFileCount(id string, n int) error {
	return r.store.SetFileCount(id, n)
}

func (r *Registry) Touch(id string) error {
	return r.store.TouchSession(id)
}

// Delete removes the metadata row and the history record. Callers are
// responsible for not deleting a session an open connection still references.
func (r *Registry) Delete(id string) error {
	if err := r.history.Delete(id); err != nil {
		return err
	}
	return r.store.DeleteSession(id)
}

// Rebuild reconstructs registry rows by rescanning the history directory.
// Used when the database is lost or stale; existing rows keep their names
// and states, only counts are recomputed.
func (r *Registry) Rebuild() error {
	ids, err := r.history.List()
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}
	for _, id := range ids {
		if _, err := r.Ensure(id); err != nil {
			return fmt.Errorf("rebuild %s: %w", id, err)
		}
		if _, err := r.RecountMessages(id); err != nil {
			logger.Warn("registry: rebuild recount failed", "session", id, "error", err)
		}
	}
	return nil
}
