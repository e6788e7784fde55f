package session

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/studyowl/sessionsync/internal/logging"
	"github.com/studyowl/sessionsync/internal/types"
)

// Store is the canonical in-process session table plus the single active
// pointer. All methods are synchronous and do no I/O; persistence is the
// flusher's job. There is exactly one Store per engine, passed by reference
// to the components that need it.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*types.ChatSession
	activeID string
	logger   *logging.Logger
}

// NewStore creates an empty store.
func NewStore(logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{
		sessions: make(map[string]*types.ChatSession),
		logger:   logger.Named("store"),
	}
}

// Upsert inserts or replaces a session by id. The active pointer is not
// touched; callers re-elect explicitly.
func (s *Store) Upsert(sess types.ChatSession) error {
	if sess.ID == "" {
		return ErrEmptyID
	}
	cp := sess.Clone()
	s.mu.Lock()
	s.sessions[cp.ID] = &cp
	s.mu.Unlock()
	return nil
}

// Remove deletes a session. If it was the active one the pointer is cleared;
// the caller must re-elect. Reports whether the session existed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	if s.activeID == id {
		s.activeID = ""
	}
	return true
}

// SetActive moves the active pointer. An empty id clears it. Pointing at a
// session not present locally is rejected with ErrNotFound. Setting the same
// id again is a no-op so downstream notifications are not repeated.
func (s *Store) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.activeID {
		return nil
	}
	if id != "" {
		if _, ok := s.sessions[id]; !ok {
			return ErrNotFound
		}
	}
	s.activeID = id
	return nil
}

// ActiveID returns the current active pointer, empty when unset.
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// Get returns a copy of the session.
func (s *Store) Get(id string) (types.ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return types.ChatSession{}, false
	}
	return sess.Clone(), true
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// MarkDirty flags a session as having unconfirmed local edits. Idempotent;
// a session mid-flush drops back to dirty so a completing flush cannot mark
// the superseding edit clean.
func (s *Store) MarkDirty(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.Sync = types.SyncDirty
	}
}

// MarkSaving transitions dirty -> dirtySaving, claiming the single in-flight
// flush slot. Returns false if the session is absent or not plain dirty.
func (s *Store) MarkSaving(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Sync != types.SyncDirty {
		return false
	}
	sess.Sync = types.SyncDirtySaving
	return true
}

// MarkClean completes a flush: dirtySaving -> clean. Fails silently when the
// session no longer exists (deleted concurrently) or was re-marked dirty
// while the flush was in flight.
func (s *Store) MarkClean(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok && sess.Sync == types.SyncDirtySaving {
		sess.Sync = types.SyncClean
	}
}

// MarkFlushFailed releases the flush slot without cleaning:
// dirtySaving -> dirty.
func (s *Store) MarkFlushFailed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok && sess.Sync == types.SyncDirtySaving {
		sess.Sync = types.SyncDirty
	}
}

// Snapshot returns copies of every session, most recently updated first.
func (s *Store) Snapshot() []types.ChatSession {
	s.mu.RLock()
	out := make([]types.ChatSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// DirtyIDs returns the ids of every session with unconfirmed edits, most
// recently updated first.
func (s *Store) DirtyIDs() []string {
	ids := make([]string, 0)
	for _, sess := range s.Snapshot() {
		if sess.Sync == types.SyncDirty {
			ids = append(ids, sess.ID)
		}
	}
	return ids
}

// ActiveFlagged returns the session carrying the denormalized active flag,
// if any. When more than one is flagged the store self-heals by keeping the
// most recently updated flag and logging the violation.
func (s *Store) ActiveFlagged() (types.ChatSession, bool) {
	s.mu.Lock()
	var flagged []*types.ChatSession
	for _, sess := range s.sessions {
		if sess.Active {
			flagged = append(flagged, sess)
		}
	}
	if len(flagged) > 1 {
		sort.Slice(flagged, func(i, j int) bool {
			return flagged[i].UpdatedAt.After(flagged[j].UpdatedAt)
		})
		for _, sess := range flagged[1:] {
			sess.Active = false
			// Dirty, or the heal never persists and the duplicate flags
			// come straight back from cache or remote on the next reload.
			sess.Sync = types.SyncDirty
		}
		s.logger.Warn("multiple sessions flagged active, electing most recent",
			zap.String("kept", flagged[0].ID),
			zap.Int("demoted", len(flagged)-1),
		)
	}
	s.mu.Unlock()

	if len(flagged) == 0 {
		return types.ChatSession{}, false
	}
	return flagged[0].Clone(), true
}

// SetActiveFlag sets or clears the denormalized flag on one session without
// touching any other row.
func (s *Store) SetActiveFlag(id string, active bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Active == active {
		return false
	}
	sess.Active = active
	return true
}

// ReplaceAll swaps the whole table for a freshly loaded set and elects the
// given active id. An active id not present in the set clears the pointer
// rather than dangling.
func (s *Store) ReplaceAll(sessions []types.ChatSession, activeID string) {
	next := make(map[string]*types.ChatSession, len(sessions))
	for _, sess := range sessions {
		if sess.ID == "" {
			s.logger.Error("dropping session with empty id during replace")
			continue
		}
		cp := sess.Clone()
		next[cp.ID] = &cp
	}
	if _, ok := next[activeID]; !ok {
		activeID = ""
	}

	s.mu.Lock()
	s.sessions = next
	s.activeID = activeID
	s.mu.Unlock()
}

// Clear empties the table and the active pointer.
func (s *Store) Clear() {
	s.mu.Lock()
	s.sessions = make(map[string]*types.ChatSession)
	s.activeID = ""
	s.mu.Unlock()
}
