package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/studyowl/sessionsync/internal/types"
)

// fakeRemote is an in-memory RemoteStore with scriptable failures.
type fakeRemote struct {
	mu         sync.Mutex
	rows       map[string]map[string]types.ChatSession // ownerID -> sessionID -> row
	listErr    error
	upsertErr  error
	deleteErr  error
	upserts    int
	upsertHook func(sess types.ChatSession)
	deleteHook func()
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{rows: make(map[string]map[string]types.ChatSession)}
}

func (f *fakeRemote) seed(ownerID string, sessions ...types.ChatSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows[ownerID] == nil {
		f.rows[ownerID] = make(map[string]types.ChatSession)
	}
	for _, s := range sessions {
		f.rows[ownerID][s.ID] = s.Clone()
	}
}

func (f *fakeRemote) get(ownerID, id string) (types.ChatSession, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[ownerID][id]
	return s, ok
}

func (f *fakeRemote) failUpserts(err error) {
	f.mu.Lock()
	f.upsertErr = err
	f.mu.Unlock()
}

// onUpsert installs a hook running while an upsert is on the wire.
func (f *fakeRemote) onUpsert(fn func(sess types.ChatSession)) {
	f.mu.Lock()
	f.upsertHook = fn
	f.mu.Unlock()
}

// onDelete installs a hook running before a delete is applied.
func (f *fakeRemote) onDelete(fn func()) {
	f.mu.Lock()
	f.deleteHook = fn
	f.mu.Unlock()
}

func (f *fakeRemote) ListByOwner(ctx context.Context, ownerID string) ([]types.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]types.ChatSession, 0, len(f.rows[ownerID]))
	for _, s := range f.rows[ownerID] {
		out = append(out, s.Clone())
	}
	return out, nil
}

func (f *fakeRemote) Upsert(ctx context.Context, sess types.ChatSession, ownerID string) error {
	f.mu.Lock()
	hook := f.upsertHook
	f.mu.Unlock()
	if hook != nil {
		hook(sess)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	if f.rows[ownerID] == nil {
		f.rows[ownerID] = make(map[string]types.ChatSession)
	}
	f.rows[ownerID][sess.ID] = sess.Clone()
	f.upserts++
	return nil
}

func (f *fakeRemote) DeleteByID(ctx context.Context, id, ownerID string) error {
	f.mu.Lock()
	hook := f.deleteHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.rows[ownerID], id)
	return nil
}

func (f *fakeRemote) DeleteAllByOwner(ctx context.Context, ownerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.rows, ownerID)
	return nil
}

// fakeCache is an in-memory LocalCache.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]CacheEntry
	readErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]CacheEntry)}
}

func (f *fakeCache) Read(scope string) (*CacheEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	entry, ok := f.entries[scope]
	if !ok {
		return nil, nil
	}
	cp := CacheEntry{ActiveID: entry.ActiveID}
	for _, s := range entry.Sessions {
		cp.Sessions = append(cp.Sessions, s.Clone())
	}
	return &cp, nil
}

func (f *fakeCache) Write(scope string, entry CacheEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := CacheEntry{ActiveID: entry.ActiveID}
	for _, s := range entry.Sessions {
		cp.Sessions = append(cp.Sessions, s.Clone())
	}
	f.entries[scope] = cp
	return nil
}

func (f *fakeCache) Clear(scope string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, scope)
	return nil
}

func (f *fakeCache) entry(scope string) (CacheEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[scope]
	return e, ok
}

// fakeNav records the URL session parameter.
type fakeNav struct {
	mu    sync.Mutex
	param string
}

func (f *fakeNav) SessionParam() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.param
}

func (f *fakeNav) SetSessionParam(id string) {
	f.mu.Lock()
	f.param = id
	f.mu.Unlock()
}

func (f *fakeNav) ClearSessionParam() {
	f.mu.Lock()
	f.param = ""
	f.mu.Unlock()
}

// fakeIdentity is a manually driven IdentitySource.
type fakeIdentity struct {
	mu    sync.Mutex
	owner types.Owner
	subs  []func(types.Owner)
}

func (f *fakeIdentity) Current() types.Owner {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owner
}

func (f *fakeIdentity) OnChange(fn func(types.Owner)) {
	f.mu.Lock()
	f.subs = append(f.subs, fn)
	f.mu.Unlock()
}

func (f *fakeIdentity) set(owner types.Owner) {
	f.mu.Lock()
	f.owner = owner
	subs := make([]func(types.Owner), len(f.subs))
	copy(subs, f.subs)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(owner)
	}
}

// testRig bundles an engine with its fakes.
type testRig struct {
	engine   *Engine
	remote   *fakeRemote
	cache    *fakeCache
	nav      *fakeNav
	identity *fakeIdentity
}

func newTestRig(t *testing.T, owner types.Owner) *testRig {
	t.Helper()
	rig := &testRig{
		remote:   newFakeRemote(),
		cache:    newFakeCache(),
		nav:      &fakeNav{},
		identity: &fakeIdentity{owner: owner},
	}
	rig.engine = NewEngine(rig.cache, rig.remote, rig.nav, rig.identity, nil, nil, Options{
		CreateDebounce: 500 * time.Millisecond,
		RemoteTimeout:  time.Second,
		FlushTimeout:   time.Second,
	})
	return rig
}

// start runs the initial load and waits until the store settles non-empty.
func (r *testRig) start(t *testing.T) {
	t.Helper()
	r.engine.Start(context.Background())
	r.waitLoaded(t)
}

func (r *testRig) waitLoaded(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.engine.store.Len() > 0 && r.engine.store.ActiveID() != ""
	}, 2*time.Second, 5*time.Millisecond, "engine never published a session set")
}

// settle waits for background flushes.
func (r *testRig) settle() {
	r.engine.flusher.Wait()
}

var errRemoteDown = errors.New("remote unavailable")

func testSession(id string, updated time.Time) types.ChatSession {
	return types.ChatSession{
		ID:        id,
		Title:     types.DefaultTitle,
		CreatedAt: updated.Add(-time.Hour),
		UpdatedAt: updated,
	}
}
