package session

import "errors"

var (
	// ErrEmptyID rejects a session with no id. This is a programming error,
	// never a runtime condition.
	ErrEmptyID = errors.New("session id is empty")

	// ErrNotFound means the session id is not in the local set. Operations
	// receiving it treat the call as a no-op.
	ErrNotFound = errors.New("session not found")

	// ErrNoActiveSession means a message could not be attached to any
	// session. The UI must prompt the user to start a new chat.
	ErrNoActiveSession = errors.New("no active session")

	// ErrCreateDebounced means a create call arrived inside the debounce
	// window and was dropped, not queued.
	ErrCreateDebounced = errors.New("session creation debounced")

	// ErrFlushSuperseded marks a session re-dirtied by a mutation that raced
	// a drain: its earlier flush landed, but the newer edit has not gone out
	// yet. The next mutation or FlushAll picks it up.
	ErrFlushSuperseded = errors.New("flush superseded by concurrent mutation")
)
