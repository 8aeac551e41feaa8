package agentctx

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ehrlich-b/perch/internal/history"
)

func seed(t *testing.T, h *history.Store, sessionID string, contents ...string) {
	t.Helper()
	for i, c := range contents {
		role := history.RoleUser
		if i%2 == 1 {
			role = history.RoleAssistant
		}
		turn := history.Turn{Role: role, Content: c, Timestamp: time.Date(2026, 8, 30, 14, 0, i, 0, time.UTC)}
		if _, err := h.Append(sessionID, turn); err != nil {
			t.Fatalf("seed %s: %v", sessionID, err)
		}
	}
}

func contents(turns []history.Turn) []string {
	out := make([]string, len(turns))
	for i, tu := range turns {
		out[i] = tu.Content
	}
	return out
}

func TestBindRestoresHistory(t *testing.T) {
	h := history.NewStore(t.TempDir())
	seed(t, h, "s1", "my name is benno", "ah ok")
	m := NewManager(h)

	if warn := m.Bind("s1"); warn != nil {
		t.Fatalf("bind warning: %v", warn)
	}
	if m.Bound() != "s1" {
		t.Errorf("bound = %q, want s1", m.Bound())
	}
	got := m.Snapshot()
	if len(got) != 2 {
		t.Fatalf("got %d turns, want 2", len(got))
	}
	if got[0].Content != "my name is benno" || got[1].Content != "ah ok" {
		t.Errorf("contents = %v", contents(got))
	}
}

func TestNoCrossSessionLeakage(t *testing.T) {
	h := history.NewStore(t.TempDir())
	seed(t, h, "s1", "my name is benno", "ah ok")
	seed(t, h, "s2", "totally different topic")
	m := NewManager(h)

	// A → B → A must yield exactly A's history: no foreign turns, no
	// duplicates.
	if warn := m.Bind("s1"); warn != nil {
		t.Fatal(warn)
	}
	if warn := m.Bind("s2"); warn != nil {
		t.Fatal(warn)
	}
	if m.Len() != 1 {
		t.Fatalf("s2 context has %d turns, want 1", m.Len())
	}
	if warn := m.Bind("s1"); warn != nil {
		t.Fatal(warn)
	}

	got := m.Snapshot()
	fresh, err := h.Load("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(fresh) {
		t.Fatalf("rebound context has %d turns, fresh load has %d", len(got), len(fresh))
	}
	for i := range fresh {
		if got[i].Content != fresh[i].Content {
			t.Errorf("turn %d = %q, want %q", i, got[i].Content, fresh[i].Content)
		}
	}
}

func TestIdempotentRebind(t *testing.T) {
	h := history.NewStore(t.TempDir())
	seed(t, h, "s1", "one", "two")
	m := NewManager(h)

	if warn := m.Bind("s1"); warn != nil {
		t.Fatal(warn)
	}
	if warn := m.Bind("s1"); warn != nil {
		t.Fatal(warn)
	}
	if m.Len() != 2 {
		t.Fatalf("double bind produced %d turns, want 2", m.Len())
	}
}

func TestAppendKeepsContextInSync(t *testing.T) {
	h := history.NewStore(t.TempDir())
	seed(t, h, "s1", "hello")
	m := NewManager(h)

	if warn := m.Bind("s1"); warn != nil {
		t.Fatal(warn)
	}
	turn := history.Turn{Role: history.RoleAssistant, Content: "hi there", Timestamp: time.Now().UTC()}
	if _, err := h.Append("s1", turn); err != nil {
		t.Fatal(err)
	}
	if err := m.Append("s1", turn); err != nil {
		t.Fatalf("append: %v", err)
	}
	if m.Len() != 2 {
		t.Fatalf("context has %d turns, want 2", m.Len())
	}

	if err := m.Append("other", turn); err == nil {
		t.Error("append to unbound session should fail")
	}
}

func TestUnbindClears(t *testing.T) {
	h := history.NewStore(t.TempDir())
	seed(t, h, "s1", "hello")
	m := NewManager(h)

	if warn := m.Bind("s1"); warn != nil {
		t.Fatal(warn)
	}
	m.Unbind()
	if m.Bound() != "" {
		t.Errorf("bound = %q after unbind", m.Bound())
	}
	if m.Len() != 0 {
		t.Errorf("len = %d after unbind", m.Len())
	}
}

func TestBindUnreadableHistoryWarnsAndBindsEmpty(t *testing.T) {
	dir := t.TempDir()
	h := history.NewStore(dir)
	seed(t, h, "s1", "hello")
	m := NewManager(h)
	if warn := m.Bind("s1"); warn != nil {
		t.Fatal(warn)
	}

	// Replace s2's history with an unreadable directory entry.
	if err := os.Mkdir(filepath.Join(dir, "s2.md"), 0755); err != nil {
		t.Fatal(err)
	}

	warn := m.Bind("s2")
	if warn == nil {
		t.Fatal("expected a warning for unreadable history")
	}
	// Never half-bound: the context is bound to s2 and empty, with no s1
	// residue.
	if m.Bound() != "s2" {
		t.Errorf("bound = %q, want s2", m.Bound())
	}
	if m.Len() != 0 {
		t.Errorf("len = %d, want 0", m.Len())
	}
}

func TestBindEmptySessionIsEmptyContext(t *testing.T) {
	h := history.NewStore(t.TempDir())
	m := NewManager(h)
	if warn := m.Bind("fresh"); warn != nil {
		t.Fatalf("bind warning: %v", warn)
	}
	if m.Bound() != "fresh" || m.Len() != 0 {
		t.Errorf("bound=%q len=%d, want fresh/0", m.Bound(), m.Len())
	}
}
