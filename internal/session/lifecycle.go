package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/studyowl/sessionsync/internal/logging"
	"github.com/studyowl/sessionsync/internal/monitoring"
	"github.com/studyowl/sessionsync/internal/shared/id"
	"github.com/studyowl/sessionsync/internal/types"
)

const (
	defaultCreateDebounce = time.Second
	titleMaxRunes         = 48
)

// Options tunes engine behavior. Zero values fall back to defaults.
type Options struct {
	CreateDebounce time.Duration
	RemoteTimeout  time.Duration
	FlushTimeout   time.Duration
}

// Engine is the operations surface of the synchronization core. Every
// operation is a composed transaction: store mutation, synchronous cache
// write, asynchronous remote flush, URL update.
//
// Operations are serialized by a single mutex, mirroring the cooperative
// single-threaded model of the UI host: the in-memory table is mutated
// before any asynchronous tail, so a second operation always sees the
// first one's synchronous prefix.
type Engine struct {
	store    *Store
	cache    LocalCache
	remote   RemoteStore
	nav      Navigator
	source   IdentitySource
	flusher  *Flusher
	resolver *Resolver
	identity *IdentityResolver
	epoch    *Epoch
	guard    *CreateGuard
	logger   *logging.Logger
	metrics  *monitoring.Metrics

	newSessionID func() string
	newMessageID func() string
	debounce     time.Duration

	mu         sync.Mutex
	lastCreate time.Time

	listenerMu sync.Mutex
	listeners  []func()
}

// NewEngine assembles the engine and its internal components around one
// explicitly constructed store.
func NewEngine(cache LocalCache, remote RemoteStore, nav Navigator, source IdentitySource,
	logger *logging.Logger, metrics *monitoring.Metrics, opts Options) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}

	debounce := opts.CreateDebounce
	if debounce <= 0 {
		debounce = defaultCreateDebounce
	}

	store := NewStore(logger)
	epoch := &Epoch{}
	guard := &CreateGuard{}
	flusher := NewFlusher(store, cache, remote, logger).
		WithMetrics(metrics).
		WithTimeout(opts.FlushTimeout)

	e := &Engine{
		store:        store,
		cache:        cache,
		remote:       remote,
		nav:          nav,
		source:       source,
		flusher:      flusher,
		epoch:        epoch,
		guard:        guard,
		logger:       logger.Named("engine"),
		metrics:      metrics,
		newSessionID: id.NewSessionID,
		newMessageID: id.NewMessageID,
		debounce:     debounce,
	}

	e.resolver = NewResolver(store, cache, remote, nav, flusher, guard, epoch, logger).
		WithMetrics(metrics).
		WithRemoteTimeout(opts.RemoteTimeout).
		WithNotify(e.notifyListeners)

	e.identity = NewIdentityResolver(source, store, cache, nav, flusher, e.resolver, epoch, logger)

	return e
}

// Start performs the initial identity classification and load.
func (e *Engine) Start(ctx context.Context) {
	e.identity.Start(ctx)
}

// OnChange registers a listener notified after every state change. Used by
// the stream layer so the UI reads the store reactively.
func (e *Engine) OnChange(fn func()) {
	if fn == nil {
		return
	}
	e.listenerMu.Lock()
	e.listeners = append(e.listeners, fn)
	e.listenerMu.Unlock()
}

func (e *Engine) notifyListeners() {
	e.listenerMu.Lock()
	listeners := make([]func(), len(e.listeners))
	copy(listeners, e.listeners)
	e.listenerMu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// Snapshot returns the session list, most recently updated first.
func (e *Engine) Snapshot() []types.ChatSession {
	return e.store.Snapshot()
}

// Active returns the currently active session.
func (e *Engine) Active() (types.ChatSession, bool) {
	if activeID := e.store.ActiveID(); activeID != "" {
		return e.store.Get(activeID)
	}
	return types.ChatSession{}, false
}

// Owner returns the identity the engine currently serves.
func (e *Engine) Owner() types.Owner {
	return e.flusher.Owner()
}

// Create starts a new empty session and makes it active. Calls inside the
// debounce window are dropped, not queued, absorbing UI double-clicks.
// Manual creation always succeeds regardless of how many sessions exist;
// only the resolver's auto-creation is guarded by that.
func (e *Engine) Create(ctx context.Context) (types.ChatSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	if !e.lastCreate.IsZero() && now.Sub(e.lastCreate) < e.debounce {
		e.logger.Debug("create debounced")
		return types.ChatSession{}, ErrCreateDebounced
	}
	e.lastCreate = now

	// Flush the outgoing session first so its content is not stranded.
	outgoingID := e.store.ActiveID()
	if outgoing, ok := e.store.Get(outgoingID); ok && outgoing.HasContent() {
		e.flusher.FlushAsync(outgoingID)
	}

	release := e.guard.Begin()

	created := time.Now().UTC()
	sess := types.ChatSession{
		ID:        e.newSessionID(),
		Title:     types.DefaultTitle,
		CreatedAt: created,
		UpdatedAt: created,
		Active:    true,
		Sync:      types.SyncDirty,
	}

	if err := e.store.Upsert(sess); err != nil {
		release()
		return types.ChatSession{}, err
	}
	if outgoingID != "" {
		e.store.SetActiveFlag(outgoingID, false)
		e.store.MarkDirty(outgoingID)
	}
	if err := e.store.SetActive(sess.ID); err != nil {
		release()
		return types.ChatSession{}, err
	}
	e.nav.SetSessionParam(sess.ID)
	e.flusher.SaveLocal()
	e.metrics.IncSessionsCreated()

	// The creation upsert goes out immediately; switching away before the
	// first periodic flush must not race a "session not found" remotely.
	// The guard holds until it lands so a reload cannot clobber the row.
	go func() {
		fctx, cancel := context.WithTimeout(context.Background(), e.flusher.timeout)
		defer cancel()
		if err := e.flusher.FlushSync(fctx, sess.ID); err != nil {
			e.logger.Warn("creation flush failed", zap.String("session", sess.ID), zap.Error(err))
		}
		if outgoingID != "" {
			e.flusher.FlushAsync(outgoingID)
		}
		release()
	}()

	e.logger.Info("session created", zap.String("session", sess.ID))
	e.notifyListeners()
	return sess, nil
}

// SwitchTo makes an existing session active, mirrors the URL, re-caches and
// flushes both rows whose active flag flipped. Idempotent.
func (e *Engine) SwitchTo(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.switchLocked(sessionID)
}

func (e *Engine) switchLocked(sessionID string) error {
	if _, ok := e.store.Get(sessionID); !ok {
		return ErrNotFound
	}

	outgoingID := e.store.ActiveID()
	if outgoingID == sessionID {
		e.nav.SetSessionParam(sessionID)
		return nil
	}

	if outgoingID != "" && e.store.SetActiveFlag(outgoingID, false) {
		e.store.MarkDirty(outgoingID)
	}
	if e.store.SetActiveFlag(sessionID, true) {
		e.store.MarkDirty(sessionID)
	}
	if err := e.store.SetActive(sessionID); err != nil {
		return err
	}

	e.nav.SetSessionParam(sessionID)
	e.flusher.SaveLocal()
	if outgoingID != "" {
		e.flusher.FlushAsync(outgoingID)
	}
	e.flusher.FlushAsync(sessionID)

	e.logger.Debug("switched session",
		zap.String("from", outgoingID),
		zap.String("to", sessionID),
	)
	e.notifyListeners()
	return nil
}

// Delete removes one session everywhere. When the active session is
// deleted the most recently updated survivor is elected, or the pointer is
// cleared if none remain. The remote row is removed on the async flush
// tail like every other remote write.
func (e *Engine) Delete(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	wasActive := e.store.ActiveID() == sessionID
	if !e.store.Remove(sessionID) {
		return ErrNotFound
	}
	e.flusher.Forget(sessionID)

	if wasActive {
		if next := mostRecent(e.store.Snapshot()); next != "" {
			e.store.SetActiveFlag(next, true)
			e.store.MarkDirty(next)
			if err := e.store.SetActive(next); err == nil {
				e.nav.SetSessionParam(next)
				e.flusher.FlushAsync(next)
			}
		} else {
			e.nav.ClearSessionParam()
		}
	}

	e.flusher.SaveLocal()
	e.flusher.DeleteRemoteAsync(sessionID)

	e.logger.Info("session deleted", zap.String("session", sessionID), zap.Bool("was_active", wasActive))
	e.notifyListeners()
	return nil
}

// DeleteAll clears the store, the owner's cache scope and the owner's
// remote rows.
func (e *Engine) DeleteAll(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.store.Clear()
	e.nav.ClearSessionParam()

	owner := e.flusher.Owner()
	if err := e.cache.Clear(owner.ScopeKey()); err != nil {
		e.logger.Warn("cache clear failed", zap.String("scope", owner.ScopeKey()), zap.Error(err))
	}
	if !owner.IsGuest() {
		if err := e.remote.DeleteAllByOwner(ctx, owner.ID); err != nil {
			e.metrics.IncRemoteErrors()
			e.logger.Warn("remote bulk delete failed", zap.Error(err))
		}
	}

	e.logger.Info("all sessions deleted", zap.String("owner", owner.String()))
	e.notifyListeners()
	return nil
}

// Rename sets a session title, marks it dirty and flushes.
func (e *Engine) Rename(ctx context.Context, sessionID, title string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, ok := e.store.Get(sessionID)
	if !ok {
		return ErrNotFound
	}
	sess.Title = strings.TrimSpace(title)
	if sess.Title == "" {
		sess.Title = types.DefaultTitle
	}
	sess.Touch()
	if err := e.store.Upsert(sess); err != nil {
		return err
	}
	e.store.MarkDirty(sessionID)
	e.flusher.SaveLocal()
	e.flusher.FlushAsync(sessionID)
	e.notifyListeners()
	return nil
}

// ClearMessages empties one session's transcript without deleting the
// session itself.
func (e *Engine) ClearMessages(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, ok := e.store.Get(sessionID)
	if !ok {
		return ErrNotFound
	}
	sess.Messages = nil
	sess.Touch()
	if err := e.store.Upsert(sess); err != nil {
		return err
	}
	e.store.MarkDirty(sessionID)
	e.flusher.SaveLocal()
	e.flusher.FlushAsync(sessionID)
	e.notifyListeners()
	return nil
}

// AppendMessage attaches a message to the active session, resolving it with
// a three-tier fallback: the active pointer, then any session flagged
// active in the set, then reconstruction from the cache when the in-memory
// set is empty. With no session resolvable the message is rejected with
// ErrNoActiveSession and the caller prompts for a new chat.
func (e *Engine) AppendMessage(ctx context.Context, msg types.ChatMessage) (types.ChatSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	targetID := e.resolveAppendTarget()
	if targetID == "" {
		e.logger.Warn("message dropped, no active session resolvable")
		return types.ChatSession{}, ErrNoActiveSession
	}

	sess, ok := e.store.Get(targetID)
	if !ok {
		return types.ChatSession{}, ErrNoActiveSession
	}

	if msg.ID == "" {
		msg.ID = e.newMessageID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	sess.Messages = append(sess.Messages, msg)
	if msg.Sender == types.SenderUser && (sess.Title == "" || sess.Title == types.DefaultTitle) {
		sess.Title = deriveTitle(msg.Text)
	}
	sess.Touch()

	if err := e.store.Upsert(sess); err != nil {
		return types.ChatSession{}, err
	}
	e.store.MarkDirty(targetID)
	e.flusher.SaveLocal()
	e.flusher.FlushAsync(targetID)
	e.metrics.IncMessagesAppended()

	e.notifyListeners()
	updated, _ := e.store.Get(targetID)
	return updated, nil
}

// resolveAppendTarget implements the three-tier active session fallback.
func (e *Engine) resolveAppendTarget() string {
	// Tier 1: the pointer.
	if activeID := e.store.ActiveID(); activeID != "" {
		return activeID
	}

	// Tier 2: the denormalized flag in the in-memory set.
	if flagged, ok := e.store.ActiveFlagged(); ok {
		if err := e.store.SetActive(flagged.ID); err == nil {
			return flagged.ID
		}
	}

	// Tier 3: the in-memory set is empty but a persisted cache may have
	// survived a process reset.
	if e.store.Len() > 0 {
		return ""
	}
	owner := e.flusher.Owner()
	entry, err := e.cache.Read(owner.ScopeKey())
	if err != nil || entry == nil || len(entry.Sessions) == 0 {
		return ""
	}
	active := entry.ActiveID
	if active == "" || !containsSession(entry.Sessions, active) {
		active = mostRecent(entry.Sessions)
	}
	e.store.ReplaceAll(entry.Sessions, active)
	e.logger.Info("session set reconstructed from cache",
		zap.String("scope", owner.ScopeKey()),
		zap.Int("sessions", len(entry.Sessions)),
	)
	return e.store.ActiveID()
}

// HandleNavigation treats browser back/forward as an external switch
// trigger: when the URL id differs from the pointer and exists locally the
// engine re-runs the switch. Unknown ids are ignored.
func (e *Engine) HandleNavigation(ctx context.Context, urlID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if urlID == "" || urlID == e.store.ActiveID() {
		return nil
	}
	if _, ok := e.store.Get(urlID); !ok {
		e.logger.Debug("navigation to unknown session ignored", zap.String("session", urlID))
		return nil
	}
	return e.switchLocked(urlID)
}

// FlushAll drains every dirty session. Invoked on teardown and on explicit
// user save. The returned map is empty on full convergence; otherwise it
// holds each still-dirty id and its last error.
func (e *Engine) FlushAll(ctx context.Context) map[string]error {
	return e.flusher.FlushAll(ctx)
}

// Close is the teardown hook: a best-effort flush of unsaved work. Loss is
// bounded to mutations whose flush cannot complete before the host exits.
func (e *Engine) Close(ctx context.Context) error {
	remaining := e.FlushAll(ctx)
	if len(remaining) > 0 {
		for sid, err := range remaining {
			e.logger.Warn("session still dirty at shutdown",
				zap.String("session", sid),
				zap.Error(err),
			)
		}
	}
	return nil
}

// deriveTitle builds a session title from the first user message.
func deriveTitle(text string) string {
	title := strings.Join(strings.Fields(text), " ")
	if title == "" {
		return types.DefaultTitle
	}
	runes := []rune(title)
	if len(runes) > titleMaxRunes {
		title = strings.TrimSpace(string(runes[:titleMaxRunes])) + "…"
	}
	return title
}
