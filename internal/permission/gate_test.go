package permission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ehrlich-b/perch/internal/store"
)

// channelAsker records outgoing requests and hands them to the test.
type channelAsker struct {
	requests chan Request
}

func newChannelAsker() *channelAsker {
	return &channelAsker{requests: make(chan Request, 8)}
}

func (a *channelAsker) Ask(ctx context.Context, req Request) error {
	a.requests <- req
	return nil
}

// deadAsker simulates a session with no live connection.
type deadAsker struct{}

func (deadAsker) Ask(ctx context.Context, req Request) error {
	return fmt.Errorf("no connection for session")
}

func testGate(t *testing.T, asker Asker, timeout time.Duration) (*Gate, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewGate(s, asker, timeout), s
}

func TestBypassAllWinsOverEverything(t *testing.T) {
	g, s := testGate(t, deadAsker{}, time.Minute)

	// Even a persistent deny is bypassed.
	if err := s.PutPermissionRule("bash", "deny"); err != nil {
		t.Fatal(err)
	}
	g.SetBypassAll(true)

	v, err := g.Check(context.Background(), "s1", "inv1", "bash", nil)
	if err != nil {
		t.Fatal(err)
	}
	if v != Allow {
		t.Errorf("verdict = %q, want allow", v)
	}
}

func TestOnceEntryConsumedOnFirstUse(t *testing.T) {
	asker := newChannelAsker()
	g, _ := testGate(t, asker, 50*time.Millisecond)

	g.GrantOnce("inv1", Allow)

	v, err := g.Check(context.Background(), "s1", "inv1", "bash", nil)
	if err != nil {
		t.Fatal(err)
	}
	if v != Allow {
		t.Fatalf("first check = %q, want allow", v)
	}

	// Entry is gone: the second check for the same invocation id falls
	// through to the interactive path and times out to deny.
	v, err = g.Check(context.Background(), "s1", "inv1", "bash", nil)
	if err != nil {
		t.Fatal(err)
	}
	if v != Deny {
		t.Errorf("second check = %q, want deny after timeout", v)
	}
}

func TestSessionEntryBeatsPersistent(t *testing.T) {
	asker := newChannelAsker()
	g, s := testGate(t, asker, time.Minute)

	if err := s.PutPermissionRule("bash", "deny"); err != nil {
		t.Fatal(err)
	}

	// The persistent deny matches without asking.
	v, err := g.Check(context.Background(), "s1", "inv1", "bash", nil)
	if err != nil {
		t.Fatal(err)
	}
	if v != Deny {
		t.Fatalf("persistent deny not applied, got %q", v)
	}

	// A session allow for the same tool shadows the persistent deny.
	g.session[sessionKey{sessionID: "s1", tool: "bash"}] = Allow

	v, err = g.Check(context.Background(), "s1", "inv2", "bash", nil)
	if err != nil {
		t.Fatal(err)
	}
	if v != Allow {
		t.Fatalf("session allow did not shadow persistent deny, got %q", v)
	}
	select {
	case r := <-asker.requests:
		t.Errorf("unexpected interactive request %+v", r)
	default:
	}

	// Other sessions still see the persistent deny.
	v, err = g.Check(context.Background(), "s2", "inv3", "bash", nil)
	if err != nil {
		t.Fatal(err)
	}
	if v != Deny {
		t.Errorf("other session verdict = %q, want deny", v)
	}
}

func TestSessionScopedEntryIsPerSession(t *testing.T) {
	asker := newChannelAsker()
	g, _ := testGate(t, asker, time.Minute)

	done := make(chan Verdict, 1)
	go func() {
		v, _ := g.Check(context.Background(), "s1", "inv1", "bash", nil)
		done <- v
	}()
	req := <-asker.requests
	g.Resolve(req.ID, Allow, ScopeSession)
	if v := <-done; v != Allow {
		t.Fatalf("verdict = %q", v)
	}

	// A different session must ask again.
	go func() {
		v, _ := g.Check(context.Background(), "s2", "inv2", "bash", nil)
		done <- v
	}()
	req2 := <-asker.requests
	if req2.SessionID != "s2" {
		t.Errorf("request session = %q, want s2", req2.SessionID)
	}
	g.Resolve(req2.ID, Deny, ScopeOnce)
	if v := <-done; v != Deny {
		t.Fatalf("verdict = %q, want deny", v)
	}
}

func TestPersistentScopeSurvivesNewGate(t *testing.T) {
	asker := newChannelAsker()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	g := NewGate(s, asker, time.Minute)
	done := make(chan Verdict, 1)
	go func() {
		v, _ := g.Check(context.Background(), "s1", "inv1", "mail", nil)
		done <- v
	}()
	req := <-asker.requests
	if err := g.Resolve(req.ID, Allow, ScopePersistent); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	<-done

	// A fresh gate over the same store applies the rule without asking:
	// the decision survived the "restart".
	g2 := NewGate(s, deadAsker{}, time.Minute)
	v, err := g2.Check(context.Background(), "s9", "inv9", "mail", nil)
	if err != nil {
		t.Fatal(err)
	}
	if v != Allow {
		t.Errorf("verdict after restart = %q, want allow", v)
	}
}

func TestOneTimeScopeCachesNothing(t *testing.T) {
	asker := newChannelAsker()
	g, _ := testGate(t, asker, time.Minute)

	for i := 0; i < 2; i++ {
		done := make(chan Verdict, 1)
		go func(i int) {
			v, _ := g.Check(context.Background(), "s1", fmt.Sprintf("inv%d", i), "bash", nil)
			done <- v
		}(i)
		req := <-asker.requests
		g.Resolve(req.ID, Allow, ScopeOnce)
		if v := <-done; v != Allow {
			t.Fatalf("check %d = %q", i, v)
		}
	}
	// Both checks had to ask: nothing was cached.
}

func TestDuplicateResolveIsNoOp(t *testing.T) {
	asker := newChannelAsker()
	g, _ := testGate(t, asker, time.Minute)

	done := make(chan Verdict, 1)
	go func() {
		v, _ := g.Check(context.Background(), "s1", "inv1", "bash", nil)
		done <- v
	}()
	req := <-asker.requests
	if err := g.Resolve(req.ID, Allow, ScopeOnce); err != nil {
		t.Fatal(err)
	}
	if v := <-done; v != Allow {
		t.Fatalf("verdict = %q", v)
	}

	// Second resolution for the same id: logged, ignored, not fatal.
	if err := g.Resolve(req.ID, Deny, ScopePersistent); err != nil {
		t.Fatalf("duplicate resolve: %v", err)
	}
	if _, err := g.store.GetPermissionRule("bash"); err != nil {
		t.Fatal(err)
	}
}

func TestUnknownRequestIDIsIgnored(t *testing.T) {
	g, _ := testGate(t, deadAsker{}, time.Minute)
	if err := g.Resolve("no-such-request", Allow, ScopeSession); err != nil {
		t.Fatalf("resolve unknown: %v", err)
	}
}

func TestAbandonSessionResolvesPendingDeny(t *testing.T) {
	asker := newChannelAsker()
	g, _ := testGate(t, asker, time.Hour)

	done := make(chan Verdict, 1)
	go func() {
		v, _ := g.Check(context.Background(), "s1", "inv1", "bash", nil)
		done <- v
	}()
	<-asker.requests

	// The owning connection closes. The suspended check must resolve
	// within bounded time rather than hang on the one-hour timeout.
	g.AbandonSession("s1")

	select {
	case v := <-done:
		if v != Deny {
			t.Errorf("verdict = %q, want deny", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("suspended check never resolved after connection loss")
	}

	// Deny-and-discard: asking again is required, nothing was cached.
	if len(g.Pending()) != 0 {
		t.Errorf("pending = %d, want 0", len(g.Pending()))
	}
}

func TestAskTimeoutDefaultsToDeny(t *testing.T) {
	asker := newChannelAsker()
	g, _ := testGate(t, asker, 30*time.Millisecond)

	v, err := g.Check(context.Background(), "s1", "inv1", "bash", nil)
	if err != nil {
		t.Fatal(err)
	}
	if v != Deny {
		t.Errorf("verdict = %q, want deny on timeout", v)
	}
}

func TestNoConnectionDeniesImmediately(t *testing.T) {
	g, _ := testGate(t, deadAsker{}, time.Hour)

	start := time.Now()
	v, err := g.Check(context.Background(), "s1", "inv1", "bash", nil)
	if err != nil {
		t.Fatal(err)
	}
	if v != Deny {
		t.Errorf("verdict = %q, want deny", v)
	}
	if time.Since(start) > time.Second {
		t.Error("check should not wait when no connection exists")
	}
}

func TestContextCancellationDenies(t *testing.T) {
	asker := newChannelAsker()
	g, _ := testGate(t, asker, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Verdict, 1)
	go func() {
		v, _ := g.Check(ctx, "s1", "inv1", "bash", nil)
		done <- v
	}()
	<-asker.requests
	cancel()

	select {
	case v := <-done:
		if v != Deny {
			t.Errorf("verdict = %q, want deny", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled check never resolved")
	}
}

func TestPersistentWriteFailureStillAppliesInMemory(t *testing.T) {
	asker := newChannelAsker()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	g := NewGate(s, asker, time.Minute)

	done := make(chan Verdict, 1)
	go func() {
		v, _ := g.Check(context.Background(), "s1", "inv1", "bash", nil)
		done <- v
	}()
	req := <-asker.requests

	// Kill the database underneath the gate so the durable write fails.
	s.Close()

	err = g.Resolve(req.ID, Allow, ScopePersistent)
	if !errors.Is(err, ErrNotDurable) {
		t.Fatalf("resolve error = %v, want ErrNotDurable", err)
	}
	if v := <-done; v != Allow {
		t.Fatalf("verdict = %q, want allow despite write failure", v)
	}

	// In-memory effect still applies for this process.
	v, checkErr := g.Check(context.Background(), "s2", "inv2", "bash", nil)
	if checkErr != nil {
		t.Fatal(checkErr)
	}
	if v != Allow {
		t.Errorf("verdict = %q, want allow from overlay", v)
	}
}

func TestClearSessionDropsSessionEntries(t *testing.T) {
	asker := newChannelAsker()
	g, _ := testGate(t, asker, 30*time.Millisecond)

	done := make(chan Verdict, 1)
	go func() {
		v, _ := g.Check(context.Background(), "s1", "inv1", "bash", nil)
		done <- v
	}()
	req := <-asker.requests
	g.Resolve(req.ID, Allow, ScopeSession)
	<-done

	g.ClearSession("s1")

	// With the session entry gone this check has to ask again; nobody
	// answers and the short timeout denies.
	v, err := g.Check(context.Background(), "s1", "inv2", "bash", nil)
	if err != nil {
		t.Fatal(err)
	}
	if v != Deny {
		t.Errorf("verdict = %q, want deny", v)
	}
}

func TestConcurrentChecksResolveIndependently(t *testing.T) {
	asker := newChannelAsker()
	g, _ := testGate(t, asker, time.Hour)

	const n = 4
	verdicts := make([]Verdict, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			input, _ := json.Marshal(map[string]int{"i": i})
			v, _ := g.Check(context.Background(), "s1", fmt.Sprintf("inv%d", i), fmt.Sprintf("tool%d", i), input)
			verdicts[i] = v
		}(i)
	}

	// Answer out of order: evens allow, odds deny.
	var reqs []Request
	for i := 0; i < n; i++ {
		reqs = append(reqs, <-asker.requests)
	}
	for i := n - 1; i >= 0; i-- {
		req := reqs[i]
		var want Verdict = Deny
		if req.Tool == "tool0" || req.Tool == "tool2" {
			want = Allow
		}
		g.Resolve(req.ID, want, ScopeOnce)
	}
	wg.Wait()

	for i, v := range verdicts {
		want := Deny
		if i%2 == 0 {
			want = Allow
		}
		if v != want {
			t.Errorf("check %d = %q, want %q", i, v, want)
		}
	}
}
