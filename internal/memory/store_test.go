package memory

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

func userEntry(text string) Entry {
	return Entry{Role: RoleUser, Content: text, Author: "ada"}
}

func TestNewKey(t *testing.T) {
	if got := NewKey("g1", "u1").String(); got != "g1_u1" {
		t.Errorf("guild key = %q", got)
	}
	if got := NewKey("", "u1").String(); got != "dm_u1" {
		t.Errorf("dm key = %q", got)
	}
}

func TestStore_AppendBounded(t *testing.T) {
	s := NewStore(Options{MaxEntries: 5})
	key := NewKey("g", "u")

	for i := 0; i < 12; i++ {
		s.Append(key, userEntry(fmt.Sprintf("m%d", i)))
		if n := len(s.Context(key)); n > 5 {
			t.Fatalf("after %d appends len = %d, want <= 5", i+1, n)
		}
	}

	got := s.Context(key)
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
	for i, e := range got {
		want := fmt.Sprintf("m%d", i+7)
		if e.Content != want {
			t.Errorf("entry %d = %q, want %q (oldest evicted first)", i, e.Content, want)
		}
	}
}

func TestStore_AppendSetsTimestamp(t *testing.T) {
	s := NewStore(Options{})
	key := NewKey("g", "u")
	s.Append(key, userEntry("hi"))
	if s.Context(key)[0].Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestStore_ContextIsCopy(t *testing.T) {
	s := NewStore(Options{})
	key := NewKey("g", "u")
	s.Append(key, userEntry("original"))

	ctx := s.Context(key)
	ctx[0].Content = "mutated"

	if s.Context(key)[0].Content != "original" {
		t.Error("Context must return a copy")
	}
}

func TestStore_ResetOnlyTouchesOneUser(t *testing.T) {
	var resetKeys []Key
	s := NewStore(Options{OnReset: func(k Key) error {
		resetKeys = append(resetKeys, k)
		return nil
	}})
	a := NewKey("g", "a")
	b := NewKey("g", "b")
	s.Append(a, userEntry("a1"))
	s.Remember(a, "arxiv", "q", "r")
	s.Append(b, userEntry("b1"))
	s.Remember(b, "arxiv", "q", "r")

	cleared, err := s.Reset(a)
	if err != nil {
		t.Fatalf("Reset error: %v", err)
	}
	if !cleared {
		t.Error("Reset should report cleared state")
	}
	if len(s.Context(a)) != 0 {
		t.Error("a's log should be empty")
	}
	if _, ok := s.Recall(a, "arxiv"); ok {
		t.Error("a's command memory should be gone")
	}
	if len(s.Context(b)) != 1 {
		t.Error("b's log should be untouched")
	}
	if _, ok := s.Recall(b, "arxiv"); !ok {
		t.Error("b's command memory should be untouched")
	}
	if len(resetKeys) != 1 || resetKeys[0] != a {
		t.Errorf("OnReset keys = %v", resetKeys)
	}
}

func TestStore_ResetNothingToClear(t *testing.T) {
	s := NewStore(Options{})
	cleared, err := s.Reset(NewKey("g", "nobody"))
	if err != nil {
		t.Fatalf("Reset error: %v", err)
	}
	if cleared {
		t.Error("Reset of unknown user should report nothing to clear")
	}
}

func TestStore_ResetHookError(t *testing.T) {
	boom := errors.New("disk full")
	s := NewStore(Options{OnReset: func(Key) error { return boom }})
	key := NewKey("g", "u")
	s.Append(key, userEntry("x"))

	if _, err := s.Reset(key); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if len(s.Context(key)) != 0 {
		t.Error("state should be cleared even when the hook fails")
	}
}

func TestStore_GlobalReset(t *testing.T) {
	called := false
	s := NewStore(Options{OnGlobalReset: func() error {
		called = true
		return nil
	}})
	for _, u := range []string{"a", "b", "c"} {
		s.Append(NewKey("g", u), userEntry("hello"))
		s.Remember(NewKey("g", u), "arxiv", "q", "r")
	}

	if err := s.GlobalReset(); err != nil {
		t.Fatalf("GlobalReset error: %v", err)
	}
	for _, u := range []string{"a", "b", "c"} {
		if len(s.Context(NewKey("g", u))) != 0 {
			t.Errorf("user %s still has entries", u)
		}
		if len(s.Contexts(NewKey("g", u))) != 0 {
			t.Errorf("user %s still has command memory", u)
		}
	}
	if !called {
		t.Error("OnGlobalReset not called")
	}
	if s.ActiveUsers() != 0 {
		t.Errorf("ActiveUsers = %d, want 0", s.ActiveUsers())
	}
}

func TestStore_RememberTrimsPreviousContext(t *testing.T) {
	s := NewStore(Options{})
	key := NewKey("g", "u")
	s.SetContext(key, "arxiv", strings.Repeat("x", 5000))

	s.Remember(key, "arxiv", "what?", "this.")

	got, ok := s.Recall(key, "arxiv")
	if !ok {
		t.Fatal("context missing")
	}
	suffix := "Question: what?\n\nResponse: this.\n\n"
	if !strings.HasSuffix(got, suffix) {
		t.Errorf("context does not end with exchange: %q", got[len(got)-60:])
	}
	if len(got) != MaxCommandContext+len(suffix) {
		t.Errorf("len = %d, want %d", len(got), MaxCommandContext+len(suffix))
	}
}

func TestStore_RecallWithoutMemory(t *testing.T) {
	s := NewStore(Options{})
	key := NewKey("g", "u")
	s.Append(key, userEntry("plain message"))
	if _, ok := s.Recall(key, "arxiv"); ok {
		t.Error("command memory must not exist unless remembered")
	}
}

func TestStore_PendingAndCommit(t *testing.T) {
	s := NewStore(Options{})
	a := NewKey("g", "a")
	b := NewKey("g", "b")
	s.Append(a, userEntry("a1"))
	s.Append(b, userEntry("b1"))

	pending := s.Pending()
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	if pending[0].Key != a || pending[0].Username != "ada" {
		t.Errorf("pending[0] = %+v", pending[0])
	}

	ran, err := s.Commit(pending[0], func() error { return nil })
	if err != nil || !ran {
		t.Fatalf("Commit = %v, %v", ran, err)
	}

	pending = s.Pending()
	if len(pending) != 1 || pending[0].Key != b {
		t.Fatalf("after commit pending = %+v", pending)
	}

	// new activity makes a pending again
	s.Append(a, userEntry("a2"))
	if len(s.Pending()) != 2 {
		t.Error("new activity should make user pending again")
	}
}

func TestStore_CommitAfterResetIsDropped(t *testing.T) {
	s := NewStore(Options{})
	key := NewKey("g", "u")
	s.Append(key, userEntry("hello"))

	snap := s.Pending()[0]
	if _, err := s.Reset(key); err != nil {
		t.Fatal(err)
	}

	ran, err := s.Commit(snap, func() error {
		t.Error("fn must not run after a reset")
		return nil
	})
	if err != nil {
		t.Fatalf("Commit error: %v", err)
	}
	if ran {
		t.Error("Commit should report it did not run")
	}
	if len(s.Pending()) != 0 {
		t.Error("reset user should not be pending")
	}
}

func TestStore_CommitAfterGlobalResetIsDropped(t *testing.T) {
	s := NewStore(Options{})
	key := NewKey("g", "u")
	s.Append(key, userEntry("hello"))
	snap := s.Pending()[0]

	_ = s.GlobalReset()

	ran, _ := s.Commit(snap, func() error { return nil })
	if ran {
		t.Error("Commit should not run after a global reset")
	}
}

func TestStore_CommitErrorKeepsPending(t *testing.T) {
	s := NewStore(Options{})
	key := NewKey("g", "u")
	s.Append(key, userEntry("hello"))
	snap := s.Pending()[0]

	_, err := s.Commit(snap, func() error { return errors.New("write failed") })
	if err == nil {
		t.Fatal("expected error")
	}
	if len(s.Pending()) != 1 {
		t.Error("failed commit should leave the user pending")
	}
}

func TestSnapshot_UserEntries(t *testing.T) {
	snap := Snapshot{Entries: []Entry{
		{Role: RoleUser, Content: "1"},
		{Role: RoleAssistant, Content: "r"},
		{Role: RoleUser, Content: "2"},
		{Role: RoleUser, Content: "3"},
	}}
	got := snap.UserEntries(2)
	if len(got) != 2 || got[0].Content != "2" || got[1].Content != "3" {
		t.Errorf("UserEntries = %+v", got)
	}
}

func TestStore_ConcurrentAppends(t *testing.T) {
	s := NewStore(Options{MaxEntries: 50})
	var wg sync.WaitGroup
	for u := 0; u < 8; u++ {
		wg.Add(1)
		go func(u int) {
			defer wg.Done()
			key := NewKey("g", fmt.Sprint(u))
			for i := 0; i < 200; i++ {
				s.Append(key, userEntry("x"))
				if u%2 == 0 && i%50 == 0 {
					_, _ = s.Reset(key)
				}
			}
		}(u)
	}
	wg.Wait()

	for u := 0; u < 8; u++ {
		if n := len(s.Context(NewKey("g", fmt.Sprint(u)))); n > 50 {
			t.Errorf("user %d len = %d, want <= 50", u, n)
		}
	}
}
