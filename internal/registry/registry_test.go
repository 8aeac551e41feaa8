package registry

import (
	"testing"
	"time"

	"github.com/ehrlich-b/perch/internal/history"
	"github.com/ehrlich-b/perch/internal/store"
)

func testRegistry(t *testing.T) (*Registry, *history.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	h := history.NewStore(t.TempDir())
	return New(s, h), h
}

func userTurn(content string) history.Turn {
	return history.Turn{Role: history.RoleUser, Content: content, Timestamp: time.Now().UTC()}
}

func TestEnsureCreatesOnce(t *testing.T) {
	r, _ := testRegistry(t)

	first, err := r.Ensure("s-1")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if first.State != store.StateNew {
		t.Errorf("state = %q, want new", first.State)
	}
	if first.DisplayName != "s-1" {
		t.Errorf("display name = %q, want id", first.DisplayName)
	}

	again, err := r.Ensure("s-1")
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if again.CreatedAt != first.CreatedAt {
		t.Error("second ensure should not recreate the session")
	}

	sessions, _ := r.List()
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
}

func TestRenameDrivesAutoNamed(t *testing.T) {
	r, _ := testRegistry(t)
	if _, err := r.Ensure("s-1"); err != nil {
		t.Fatal(err)
	}

	if err := r.Rename("s-1", "dinner plans"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	got, _ := r.Get("s-1")
	if got.State != store.StateAutoNamed {
		t.Errorf("state = %q, want auto_named", got.State)
	}
	if got.DisplayName != "dinner plans" {
		t.Errorf("display name = %q", got.DisplayName)
	}
}

func TestRenameToOwnIDStaysNew(t *testing.T) {
	r, _ := testRegistry(t)
	if _, err := r.Ensure("s-1"); err != nil {
		t.Fatal(err)
	}
	if err := r.Rename("s-1", "s-1"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	got, _ := r.Get("s-1")
	if got.State != store.StateNew {
		t.Errorf("state = %q, want new", got.State)
	}
}

func TestTerminalStatesRejectTransitions(t *testing.T) {
	r, _ := testRegistry(t)
	if _, err := r.Ensure("s-1"); err != nil {
		t.Fatal(err)
	}

	if err := r.Archive("s-1"); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if err := r.Finalize("s-1"); err == nil {
		t.Error("finalize after archive should fail")
	}
	if err := r.Rename("s-1", "too late"); err == nil {
		t.Error("rename after archive should fail")
	}
}

func TestRecountMessagesTracksHistory(t *testing.T) {
	r, h := testRegistry(t)
	if _, err := r.Ensure("s-1"); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if _, err := h.Append("s-1", userTurn("hello")); err != nil {
			t.Fatal(err)
		}
	}

	n, err := r.RecountMessages("s-1")
	if err != nil {
		t.Fatalf("recount: %v", err)
	}
	if n != 3 {
		t.Errorf("recount = %d, want 3", n)
	}
	got, _ := r.Get("s-1")
	if got.MessageCount != 3 {
		t.Errorf("cached count = %d, want 3", got.MessageCount)
	}
}

func TestRebuildFromHistoryDir(t *testing.T) {
	r, h := testRegistry(t)

	// Sessions exist only as history files, as after a lost database.
	for _, id := range []string{"a", "b"} {
		if _, err := h.Append(id, userTurn("hi")); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := h.Append("b", userTurn("again")); err != nil {
		t.Fatal(err)
	}

	if err := r.Rebuild(); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	a, _ := r.Get("a")
	if a == nil || a.MessageCount != 1 {
		t.Fatalf("session a = %+v, want count 1", a)
	}
	b, _ := r.Get("b")
	if b == nil || b.MessageCount != 2 {
		t.Fatalf("session b = %+v, want count 2", b)
	}
}

func TestDeleteRemovesHistoryAndRow(t *testing.T) {
	r, h := testRegistry(t)
	if _, err := r.Ensure("s-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Append("s-1", userTurn("hello")); err != nil {
		t.Fatal(err)
	}

	if err := r.Delete("s-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ := r.Get("s-1")
	if got != nil {
		t.Fatal("session row should be gone")
	}
	ids, _ := h.List()
	if len(ids) != 0 {
		t.Fatalf("history ids = %v, want none", ids)
	}
}
