package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/studyowl/sessionsync/internal/logging"
	"github.com/studyowl/sessionsync/internal/monitoring"
	"github.com/studyowl/sessionsync/internal/shared/id"
	"github.com/studyowl/sessionsync/internal/types"
)

const defaultRemoteTimeout = 3 * time.Second

// Resolver decides which session set and which active id are published on
// load, on identity change, and on navigation.
//
// Precedence, first match wins:
//  1. a manual "new session" is in flight: reload is a no-op
//  2. the URL session id, when present in the freshly loaded set
//  3. authenticated: the remote row flagged active
//  4. authenticated: the most recently updated remote session
//  5. guest: the active id stored alongside the cached set
//  6. empty set: synthesize one session, seeded with the URL id if present
type Resolver struct {
	store   *Store
	cache   LocalCache
	remote  RemoteStore
	nav     Navigator
	flusher *Flusher
	guard   *CreateGuard
	epoch   *Epoch
	logger  *logging.Logger
	metrics *monitoring.Metrics
	notify  func()

	remoteTimeout time.Duration
	newSessionID  func() string
}

// NewResolver wires a resolver against the engine's store and ports.
func NewResolver(store *Store, cache LocalCache, remote RemoteStore, nav Navigator,
	flusher *Flusher, guard *CreateGuard, epoch *Epoch, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Resolver{
		store:         store,
		cache:         cache,
		remote:        remote,
		nav:           nav,
		flusher:       flusher,
		guard:         guard,
		epoch:         epoch,
		logger:        logger.Named("resolver"),
		remoteTimeout: defaultRemoteTimeout,
		newSessionID:  id.NewSessionID,
		notify:        func() {},
	}
}

// WithMetrics attaches a metrics collector.
func (r *Resolver) WithMetrics(m *monitoring.Metrics) *Resolver {
	r.metrics = m
	return r
}

// WithRemoteTimeout bounds the initial remote read; past it the resolver
// proceeds with whatever cache state is available.
func (r *Resolver) WithRemoteTimeout(d time.Duration) *Resolver {
	if d > 0 {
		r.remoteTimeout = d
	}
	return r
}

// WithNotify registers the callback fired after every publish.
func (r *Resolver) WithNotify(fn func()) *Resolver {
	if fn != nil {
		r.notify = fn
	}
	return r
}

// WithSessionIDFunc overrides id generation. Test hook.
func (r *Resolver) WithSessionIDFunc(fn func() string) *Resolver {
	r.newSessionID = fn
	return r
}

// Reload produces the session set and active id for the given owner. The
// epoch is the generation this reload was dispatched under; once it goes
// stale nothing is published.
func (r *Resolver) Reload(ctx context.Context, owner types.Owner, epoch uint64) {
	if r.guard.InFlight() {
		r.logger.Debug("reload skipped, manual creation in flight")
		return
	}

	cached := r.readCache(owner)

	if owner.IsGuest() {
		r.reloadGuest(owner, epoch, cached)
		return
	}
	r.reloadAuthenticated(ctx, owner, epoch, cached)
}

func (r *Resolver) readCache(owner types.Owner) *CacheEntry {
	entry, err := r.cache.Read(owner.ScopeKey())
	if err != nil {
		// Malformed entries are purged by the adapter; anything surfacing
		// here is an I/O failure. Treat as absent.
		r.logger.Warn("cache read failed",
			zap.String("scope", owner.ScopeKey()),
			zap.Error(err),
		)
		return nil
	}
	return entry
}

// reloadGuest publishes from the cache only.
func (r *Resolver) reloadGuest(owner types.Owner, epoch uint64, cached *CacheEntry) {
	if r.epoch.IsStale(epoch) {
		return
	}

	if cached == nil || len(cached.Sessions) == 0 {
		r.synthesize(owner, epoch)
		return
	}

	active := r.electGuest(cached)
	r.publish(owner, epoch, cached.Sessions, active, "cache")
}

// electGuest picks the active id for a cached guest set: URL parameter
// first, then the stored active pointer, then the most recently updated
// session when the pointer is invalid.
func (r *Resolver) electGuest(cached *CacheEntry) string {
	if urlID := r.nav.SessionParam(); urlID != "" && containsSession(cached.Sessions, urlID) {
		return urlID
	}
	if cached.ActiveID != "" && containsSession(cached.Sessions, cached.ActiveID) {
		return cached.ActiveID
	}
	return mostRecent(cached.Sessions)
}

// reloadAuthenticated publishes the cached set immediately, then republishes
// against the remote result. The optimistic read keeps the UI off the
// network's critical path.
func (r *Resolver) reloadAuthenticated(ctx context.Context, owner types.Owner, epoch uint64, cached *CacheEntry) {
	if cached != nil && len(cached.Sessions) > 0 && !r.epoch.IsStale(epoch) {
		r.publish(owner, epoch, cached.Sessions, r.electGuest(cached), "cache")
	}

	rctx, cancel := context.WithTimeout(ctx, r.remoteTimeout)
	defer cancel()

	remote, err := r.remote.ListByOwner(rctx, owner.ID)
	if err != nil {
		// Degrade to whatever the cache gave us; never surface to the UI.
		r.metrics.IncRemoteErrors()
		r.logger.Warn("remote load failed, staying on cache",
			zap.String("owner", owner.String()),
			zap.Error(err),
		)
		if (cached == nil || len(cached.Sessions) == 0) && !r.epoch.IsStale(epoch) {
			r.synthesize(owner, epoch)
		}
		return
	}
	if r.epoch.IsStale(epoch) {
		r.logger.Debug("discarding stale reload", zap.Uint64("epoch", epoch))
		return
	}

	merged := mergeDirty(remote, cached)
	if len(merged) == 0 {
		r.synthesize(owner, epoch)
		return
	}

	r.publish(owner, epoch, merged, r.electAuthenticated(merged), "remote")
}

// electAuthenticated picks the active id for a remote-backed set: URL
// parameter first, then the row flagged active, then the most recent.
func (r *Resolver) electAuthenticated(sessions []types.ChatSession) string {
	if urlID := r.nav.SessionParam(); urlID != "" && containsSession(sessions, urlID) {
		return urlID
	}
	for _, s := range sessions {
		if s.Active {
			return s.ID
		}
	}
	return mostRecent(sessions)
}

// synthesize handles the first-ever load with no session set anywhere.
// The single new session is seeded with the URL id when one is present.
func (r *Resolver) synthesize(owner types.Owner, epoch uint64) {
	sid := r.nav.SessionParam()
	if sid == "" {
		sid = r.newSessionID()
	}
	now := time.Now().UTC()
	sess := types.ChatSession{
		ID:        sid,
		Title:     types.DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
		Active:    true,
		Sync:      types.SyncDirty,
	}
	r.publish(owner, epoch, []types.ChatSession{sess}, sid, "synthesized")
	r.flusher.FlushAsync(sid)
}

// publish replaces the store contents, elects the active id, mirrors it to
// the URL and re-caches. The elected session carries the denormalized
// active flag; every other row has it cleared.
func (r *Resolver) publish(owner types.Owner, epoch uint64, sessions []types.ChatSession, activeID string, source string) {
	if r.epoch.IsStale(epoch) {
		return
	}

	for i := range sessions {
		sessions[i].Active = sessions[i].ID == activeID
	}
	r.store.ReplaceAll(sessions, activeID)
	if activeID != "" {
		r.nav.SetSessionParam(activeID)
	} else {
		r.nav.ClearSessionParam()
	}
	r.flusher.SaveLocal()
	r.metrics.RecordReload(modeLabel(owner), source)
	r.logger.Info("session set published",
		zap.String("owner", owner.String()),
		zap.Int("sessions", len(sessions)),
		zap.String("active", activeID),
		zap.String("source", source),
	)
	r.notify()
}

// mergeDirty overlays locally dirty cached sessions onto the remote result.
// The remote set is authoritative for everything clean; a dirty cached
// session that is newer than (or missing from) its remote counterpart is
// kept so an unflushed edit is not silently dropped.
func mergeDirty(remote []types.ChatSession, cached *CacheEntry) []types.ChatSession {
	for i := range remote {
		remote[i].Sync = types.SyncClean
	}
	if cached == nil {
		return remote
	}

	byID := make(map[string]int, len(remote))
	for i, s := range remote {
		byID[s.ID] = i
	}
	for _, local := range cached.Sessions {
		if !local.Sync.IsDirty() {
			continue
		}
		local.Sync = types.SyncDirty
		if idx, ok := byID[local.ID]; ok {
			if local.UpdatedAt.After(remote[idx].UpdatedAt) {
				remote[idx] = local
			}
		} else {
			remote = append(remote, local)
		}
	}
	return remote
}

func containsSession(sessions []types.ChatSession, id string) bool {
	for _, s := range sessions {
		if s.ID == id {
			return true
		}
	}
	return false
}

func mostRecent(sessions []types.ChatSession) string {
	if len(sessions) == 0 {
		return ""
	}
	best := sessions[0]
	for _, s := range sessions[1:] {
		if s.UpdatedAt.After(best.UpdatedAt) {
			best = s
		}
	}
	return best.ID
}

func modeLabel(owner types.Owner) string {
	if owner.IsGuest() {
		return "guest"
	}
	return "authenticated"
}
