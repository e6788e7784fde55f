package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/studyowl/sessionsync/internal/logging"
	"github.com/studyowl/sessionsync/internal/monitoring"
	"github.com/studyowl/sessionsync/internal/types"
)

const defaultFlushTimeout = 10 * time.Second

// Flusher guarantees that every accepted mutation reaches the local cache
// synchronously before the mutating call returns, and the remote store
// eventually, with at most one flush per session in flight at a time.
//
// Failed flushes are not retried on a timer; the session stays dirty and is
// picked up by the next mutation or FlushAll. The last error is retained per
// session id so callers can enumerate what remains dirty and why.
type Flusher struct {
	store   *Store
	cache   LocalCache
	remote  RemoteStore
	logger  *logging.Logger
	metrics *monitoring.Metrics
	timeout time.Duration

	mu    sync.Mutex
	owner types.Owner
	errs  map[string]error

	wg sync.WaitGroup
}

// NewFlusher creates a flusher bound to the given store and ports.
func NewFlusher(store *Store, cache LocalCache, remote RemoteStore, logger *logging.Logger) *Flusher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Flusher{
		store:   store,
		cache:   cache,
		remote:  remote,
		logger:  logger.Named("flush"),
		timeout: defaultFlushTimeout,
		errs:    make(map[string]error),
	}
}

// WithMetrics attaches a metrics collector.
func (f *Flusher) WithMetrics(m *monitoring.Metrics) *Flusher {
	f.metrics = m
	return f
}

// WithTimeout overrides the per-flush remote timeout.
func (f *Flusher) WithTimeout(d time.Duration) *Flusher {
	if d > 0 {
		f.timeout = d
	}
	return f
}

// SetOwner switches the owner scope used for cache writes and remote rows.
// Pending errors belong to the departing owner's sessions and are dropped.
func (f *Flusher) SetOwner(owner types.Owner) {
	f.mu.Lock()
	f.owner = owner
	f.errs = make(map[string]error)
	f.mu.Unlock()
}

// Owner returns the owner scope currently flushed to.
func (f *Flusher) Owner() types.Owner {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owner
}

// SaveLocal writes the entire current session set to the cache under the
// owner's scope. Full snapshot, not a diff: read and write paths stay
// symmetric. Failures are logged and absorbed; stale cache beats a blocked
// mutation.
func (f *Flusher) SaveLocal() {
	owner := f.Owner()
	entry := CacheEntry{
		Sessions: f.store.Snapshot(),
		ActiveID: f.store.ActiveID(),
	}
	if err := f.cache.Write(owner.ScopeKey(), entry); err != nil {
		f.logger.Warn("local cache write failed",
			zap.String("scope", owner.ScopeKey()),
			zap.Error(err),
		)
	}
	f.metrics.SetSessionGauges(len(entry.Sessions), f.countDirty(entry.Sessions))
}

func (f *Flusher) countDirty(sessions []types.ChatSession) int {
	n := 0
	for _, s := range sessions {
		if s.Sync.IsDirty() {
			n++
		}
	}
	return n
}

// FlushAsync schedules a background remote flush for one session. Guest
// sessions never reach the remote store; the call is a no-op for them.
func (f *Flusher) FlushAsync(id string) {
	owner := f.Owner()
	if owner.IsGuest() {
		return
	}
	if !f.store.MarkSaving(id) {
		// Absent, already clean, or a flush is in flight.
		return
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		defer cancel()
		f.flushClaimed(ctx, id, owner)
	}()
}

// DeleteRemoteAsync removes one session row in the background, so a slow
// remote never stalls the deleting caller. Failures are absorbed: the row
// resurfaces on next sign-in at worst. Guest rows never existed remotely.
func (f *Flusher) DeleteRemoteAsync(id string) {
	owner := f.Owner()
	if owner.IsGuest() {
		return
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		defer cancel()
		if err := f.remote.DeleteByID(ctx, id, owner.ID); err != nil {
			f.metrics.IncRemoteErrors()
			f.logger.Warn("remote delete failed",
				zap.String("session", id),
				zap.Error(err),
			)
		}
	}()
}

// FlushSync flushes one session and waits for the result. Used for the
// create path, where the first upsert must land before the user can switch
// away and race a "session not found".
func (f *Flusher) FlushSync(ctx context.Context, id string) error {
	owner := f.Owner()
	if owner.IsGuest() {
		return nil
	}
	if !f.store.MarkSaving(id) {
		return nil
	}
	return f.flushClaimed(ctx, id, owner)
}

// flushClaimed performs the remote upsert for a session already moved to
// dirtySaving. The claim is released on every path.
func (f *Flusher) flushClaimed(ctx context.Context, id string, owner types.Owner) error {
	sess, ok := f.store.Get(id)
	if !ok {
		// Deleted while claiming; nothing to release.
		return nil
	}

	start := time.Now()
	err := f.remote.Upsert(ctx, sess, owner.ID)
	if err != nil {
		f.store.MarkFlushFailed(id)
		f.setErr(id, err)
		f.metrics.RecordFlush("error", time.Since(start))
		f.metrics.IncRemoteErrors()
		f.logger.Warn("remote flush failed",
			zap.String("session", id),
			zap.Error(err),
		)
		return err
	}

	f.store.MarkClean(id)
	f.clearErr(id)
	f.metrics.RecordFlush("ok", time.Since(start))
	f.logger.Debug("session flushed", zap.String("session", id))
	return nil
}

// FlushAll drains every dirty session sequentially. Sequential on purpose:
// teardown and explicit saves should not amplify remote writes. In-flight
// background flushes are waited out first so the returned map is the full
// picture. Returns the ids still dirty afterwards with their last error.
func (f *Flusher) FlushAll(ctx context.Context) map[string]error {
	f.wg.Wait()

	owner := f.Owner()
	if owner.IsGuest() {
		return nil
	}

	for _, id := range f.store.DirtyIDs() {
		if ctx.Err() != nil {
			f.setErr(id, ctx.Err())
			continue
		}
		if !f.store.MarkSaving(id) {
			continue
		}
		f.flushClaimed(ctx, id, owner)
	}

	remaining := make(map[string]error)
	f.mu.Lock()
	for _, sess := range f.store.Snapshot() {
		if sess.Sync.IsDirty() {
			err := f.errs[sess.ID]
			if err == nil {
				// Re-marked dirty by a mutation racing this drain: the
				// earlier flush landed and cleared the retained error, but
				// the newer edit is still unsent. Never report a nil cause.
				err = ErrFlushSuperseded
			}
			remaining[sess.ID] = err
		}
	}
	f.mu.Unlock()
	if len(remaining) == 0 {
		return nil
	}
	return remaining
}

// Wait blocks until background flushes settle. Test hook.
func (f *Flusher) Wait() {
	f.wg.Wait()
}

// Forget drops retained error state for a deleted session.
func (f *Flusher) Forget(id string) {
	f.clearErr(id)
}

// LastError returns the retained error for a session, if any.
func (f *Flusher) LastError(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs[id]
}

func (f *Flusher) setErr(id string, err error) {
	f.mu.Lock()
	f.errs[id] = err
	f.mu.Unlock()
}

func (f *Flusher) clearErr(id string) {
	f.mu.Lock()
	delete(f.errs, id)
	f.mu.Unlock()
}
