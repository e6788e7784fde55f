package types

import "time"

// SyncState tracks how a session relates to the remote store.
//
// The tri-state replaces a saved/dirty boolean pair so the invalid
// "saved AND dirty" combination is not representable.
type SyncState uint8

const (
	// SyncClean means cache and remote agree with the in-memory session
	// as of its UpdatedAt.
	SyncClean SyncState = iota
	// SyncDirty means the session has local edits not yet confirmed remote.
	SyncDirty
	// SyncDirtySaving means a remote flush for the dirty session is in flight.
	SyncDirtySaving
)

// String returns the string representation of the sync state.
func (s SyncState) String() string {
	switch s {
	case SyncClean:
		return "clean"
	case SyncDirty:
		return "dirty"
	case SyncDirtySaving:
		return "dirty-saving"
	default:
		return "unknown"
	}
}

// IsDirty reports whether the session still has unconfirmed local edits.
// A session being saved is still dirty until the flush succeeds.
func (s SyncState) IsDirty() bool {
	return s == SyncDirty || s == SyncDirtySaving
}

// Sender identifies who produced a chat message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// ChatMessage is a single entry in a session transcript. Kind, AttachmentURL
// and Media are opaque payload carried for the UI; the engine never
// interprets them.
type ChatMessage struct {
	ID            string    `json:"id"`
	Sender        Sender    `json:"sender"`
	Text          string    `json:"text"`
	Kind          string    `json:"kind,omitempty"`
	AttachmentURL string    `json:"attachment_url,omitempty"`
	Media         string    `json:"media,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// DefaultTitle is the title a session carries until it is renamed or a
// title is derived from its first user message.
const DefaultTitle = "New chat"

// ChatSession is one conversation. Messages are append-only from the
// engine's perspective; only a whole-session clear or delete removes entries.
type ChatSession struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Messages  []ChatMessage `json:"messages"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`

	// Active mirrors the "last focused" marker into the remote store so a
	// fresh login can recover focus without the URL.
	Active bool `json:"is_active"`

	// Sync is local bookkeeping and is never sent to the remote store.
	Sync SyncState `json:"sync_state"`
}

// Clone returns a deep copy safe to hand outside the store.
func (s ChatSession) Clone() ChatSession {
	out := s
	if s.Messages != nil {
		out.Messages = make([]ChatMessage, len(s.Messages))
		copy(out.Messages, s.Messages)
	}
	return out
}

// HasContent reports whether the session carries anything worth persisting.
func (s ChatSession) HasContent() bool {
	return len(s.Messages) > 0 || (s.Title != "" && s.Title != DefaultTitle)
}

// Touch refreshes the modification timestamp.
func (s *ChatSession) Touch() {
	s.UpdatedAt = time.Now().UTC()
}
