package session

import (
	"context"

	"github.com/studyowl/sessionsync/internal/types"
)

// RemoteStore is the durable per-row session store. Rows are always
// owner-filtered; last-write-wins is the accepted merge policy.
type RemoteStore interface {
	// ListByOwner returns the owner's sessions ordered by updatedAt descending.
	ListByOwner(ctx context.Context, ownerID string) ([]types.ChatSession, error)
	// Upsert inserts or replaces one session row for the owner.
	Upsert(ctx context.Context, sess types.ChatSession, ownerID string) error
	// DeleteByID removes one session row.
	DeleteByID(ctx context.Context, id, ownerID string) error
	// DeleteAllByOwner removes every session row for the owner.
	DeleteAllByOwner(ctx context.Context, ownerID string) error
}

// CacheEntry is the full-snapshot value persisted per owner scope. The whole
// session set is written on every mutation; read and write paths stay
// symmetric.
type CacheEntry struct {
	Sessions []types.ChatSession `json:"sessions"`
	ActiveID string              `json:"active_session_id"`
}

// LocalCache is the fast cache, durable across process restarts and scoped
// by owner. A nil entry with nil error means absent; implementations purge
// malformed entries and report them absent.
type LocalCache interface {
	Read(scope string) (*CacheEntry, error)
	Write(scope string, entry CacheEntry) error
	Clear(scope string) error
}

// IdentitySource yields the current owner and notifies on change. Callbacks
// fire on the caller's goroutine after the new identity is visible via
// Current.
type IdentitySource interface {
	Current() types.Owner
	OnChange(fn func(types.Owner))
}

// Navigator mirrors the active session id into the UI's URL `session`
// query parameter.
type Navigator interface {
	SessionParam() string
	SetSessionParam(id string)
	ClearSessionParam()
}
