package memory

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DirectScope is the scope used for conversations outside a guild.
const DirectScope = "dm"

// Key identifies one user's state inside one guild (or direct messages).
type Key struct {
	Scope string
	User  string
}

func NewKey(guildID, userID string) Key {
	if guildID == "" {
		guildID = DirectScope
	}
	return Key{Scope: guildID, User: userID}
}

// String renders the key as "<guild>_<user>" or "dm_<user>". It is also
// the file stem for per-user documents.
func (k Key) String() string {
	return k.Scope + "_" + k.User
}

type Entry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Author    string    `json:"author,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a consistent copy of one user's log taken for profile analysis.
type Snapshot struct {
	Key      Key
	Username string
	Entries  []Entry

	state *userState
	epoch uint64
	seq   uint64
}

// UserEntries returns at most limit of the most recent user-authored entries.
func (s Snapshot) UserEntries(limit int) []Entry {
	out := make([]Entry, 0, len(s.Entries))
	for _, e := range s.Entries {
		if e.Role == RoleUser {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
