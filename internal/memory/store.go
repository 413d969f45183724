package memory

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	DefaultMaxEntries = 50
	// MaxCommandContext bounds the carried-over part of a command memory
	// context before a new exchange is appended.
	MaxCommandContext = 2000
)

type Options struct {
	MaxEntries int
	// OnReset runs under the user's lock after their state is cleared.
	OnReset func(Key) error
	// OnGlobalReset runs after every user's state is cleared.
	OnGlobalReset func() error
	Now           func() time.Time
}

// Store holds per-user conversation logs and command memory contexts.
// Each user has a private lock; the map lock is only held to find or
// create a user's state.
type Store struct {
	maxEntries    int
	onReset       func(Key) error
	onGlobalReset func() error
	now           func() time.Time

	mu    sync.RWMutex
	users map[Key]*userState
}

type userState struct {
	mu          sync.Mutex
	entries     []Entry
	commands    map[string]string
	username    string
	epoch       uint64 // bumped by every reset
	seq         uint64 // bumped by every append
	analyzedSeq uint64
}

func NewStore(opts Options) *Store {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		maxEntries:    opts.MaxEntries,
		onReset:       opts.OnReset,
		onGlobalReset: opts.OnGlobalReset,
		now:           opts.Now,
		users:         make(map[Key]*userState),
	}
}

func (s *Store) MaxEntries() int {
	return s.maxEntries
}

func (s *Store) lookup(key Key) *userState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[key]
}

func (s *Store) state(key Key) *userState {
	if st := s.lookup(key); st != nil {
		return st
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.users[key]
	if !ok {
		st = &userState{commands: make(map[string]string)}
		s.users[key] = st
	}
	return st
}

func (s *Store) snapshotStates() map[Key]*userState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Key]*userState, len(s.users))
	for k, st := range s.users {
		out[k] = st
	}
	return out
}

// Append adds an entry to the user's log, evicting the oldest entries when
// the log would exceed the configured maximum.
func (s *Store) Append(key Key, entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	st := s.state(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.entries = append(st.entries, entry)
	if over := len(st.entries) - s.maxEntries; over > 0 {
		st.entries = append(st.entries[:0:0], st.entries[over:]...)
	}
	if entry.Role == RoleUser && entry.Author != "" {
		st.username = entry.Author
	}
	st.seq++
}

// Context returns an ordered copy of the user's log.
func (s *Store) Context(key Key) []Entry {
	st := s.lookup(key)
	if st == nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Entry, len(st.entries))
	copy(out, st.entries)
	return out
}

// UserEntries returns at most limit of the user's most recent messages.
func (s *Store) UserEntries(key Key, limit int) []Entry {
	snap := Snapshot{Entries: s.Context(key)}
	return snap.UserEntries(limit)
}

// Recall returns the named command memory context.
func (s *Store) Recall(key Key, command string) (string, bool) {
	st := s.lookup(key)
	if st == nil {
		return "", false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	text, ok := st.commands[command]
	return text, ok
}

// Remember appends a question/answer exchange to the named command memory
// context, keeping only the last MaxCommandContext characters of what was
// there before.
func (s *Store) Remember(key Key, command, question, answer string) {
	st := s.state(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	prev := st.commands[command]
	if len(prev) > MaxCommandContext {
		prev = trimLeft(prev, MaxCommandContext)
	}
	st.commands[command] = prev + "Question: " + question + "\n\nResponse: " + answer + "\n\n"
}

// SetContext replaces the named command memory context.
func (s *Store) SetContext(key Key, name, text string) {
	st := s.state(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.commands[name] = text
}

// Contexts lists the user's command memory context names.
func (s *Store) Contexts(key Key) []string {
	st := s.lookup(key)
	if st == nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	names := make([]string, 0, len(st.commands))
	for name := range st.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset clears one user's log and command memory. It reports whether there
// was anything to clear.
func (s *Store) Reset(key Key) (bool, error) {
	st := s.lookup(key)
	if st == nil {
		if s.onReset != nil {
			return false, s.onReset(key)
		}
		return false, nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	cleared := st.clear()
	if s.onReset != nil {
		if err := s.onReset(key); err != nil {
			return cleared, err
		}
	}
	return cleared, nil
}

// GlobalReset clears every user's state.
func (s *Store) GlobalReset() error {
	for _, st := range s.snapshotStates() {
		st.mu.Lock()
		st.clear()
		st.mu.Unlock()
	}
	if s.onGlobalReset != nil {
		return s.onGlobalReset()
	}
	return nil
}

func (st *userState) clear() bool {
	had := len(st.entries) > 0 || len(st.commands) > 0
	st.entries = nil
	st.commands = make(map[string]string)
	st.username = ""
	st.epoch++
	st.analyzedSeq = st.seq
	return had
}

// ActiveUsers counts users with a non-empty log.
func (s *Store) ActiveUsers() int {
	n := 0
	for _, st := range s.snapshotStates() {
		st.mu.Lock()
		if len(st.entries) > 0 {
			n++
		}
		st.mu.Unlock()
	}
	return n
}

// Pending snapshots every user with activity since their last committed
// analysis, ordered by key.
func (s *Store) Pending() []Snapshot {
	var out []Snapshot
	for key, st := range s.snapshotStates() {
		st.mu.Lock()
		if st.seq > st.analyzedSeq && len(st.entries) > 0 {
			entries := make([]Entry, len(st.entries))
			copy(entries, st.entries)
			out = append(out, Snapshot{
				Key:      key,
				Username: st.username,
				Entries:  entries,
				state:    st,
				epoch:    st.epoch,
				seq:      st.seq,
			})
		}
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// Commit runs fn under the user's lock if no reset happened since snap was
// taken, then marks the snapshot's activity as analyzed. It reports whether
// fn ran.
func (s *Store) Commit(snap Snapshot, fn func() error) (bool, error) {
	st := snap.state
	if st == nil {
		return false, nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.epoch != snap.epoch {
		return false, nil
	}
	if err := fn(); err != nil {
		return false, err
	}
	if snap.seq > st.analyzedSeq {
		st.analyzedSeq = snap.seq
	}
	return true, nil
}

func trimLeft(s string, n int) string {
	cut := len(s) - n
	// keep the cut on a rune boundary
	for cut < len(s) && !isRuneStart(s[cut]) {
		cut++
	}
	return strings.Clone(s[cut:])
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
