package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/studyowl/sessionsync/internal/logging"
	"github.com/studyowl/sessionsync/internal/types"
)

// IdentityResolver observes the identity source and drives the
// reload-and-clear sequence on every mode transition.
//
// Transitions:
//   - guest -> authenticated: the guest set is discarded from the store and
//     the guest cache scope. Policy choice, not a merge; see DESIGN.md.
//   - authenticated -> guest: store, active pointer, URL param and the
//     departing owner's cache scope are cleared. Remote rows are preserved
//     so a later sign-in recovers them.
//   - authenticated(a) -> authenticated(b): treated as a full
//     sign-out/sign-in pair, never a rename.
//
// Every transition advances the epoch, so a reload dispatched by an earlier
// transition discards itself instead of racing the newer one.
type IdentityResolver struct {
	source   IdentitySource
	store    *Store
	cache    LocalCache
	nav      Navigator
	flusher  *Flusher
	resolver *Resolver
	epoch    *Epoch
	logger   *logging.Logger

	mu      sync.Mutex
	mode    types.Owner
	started bool
}

// NewIdentityResolver wires the state machine. Start must be called before
// transitions are observed.
func NewIdentityResolver(source IdentitySource, store *Store, cache LocalCache, nav Navigator,
	flusher *Flusher, resolver *Resolver, epoch *Epoch, logger *logging.Logger) *IdentityResolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &IdentityResolver{
		source:   source,
		store:    store,
		cache:    cache,
		nav:      nav,
		flusher:  flusher,
		resolver: resolver,
		epoch:    epoch,
		logger:   logger.Named("identity"),
	}
}

// Start subscribes to the identity source and performs the initial load for
// whatever identity is already present.
func (r *IdentityResolver) Start(ctx context.Context) {
	r.source.OnChange(func(next types.Owner) {
		r.transition(ctx, next)
	})
	r.transition(ctx, r.source.Current())
}

// Mode returns the current classification.
func (r *IdentityResolver) Mode() types.Owner {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

func (r *IdentityResolver) transition(ctx context.Context, next types.Owner) {
	r.mu.Lock()
	prev := r.mode
	if r.started && prev == next {
		r.mu.Unlock()
		return
	}
	initial := !r.started
	r.started = true
	r.mode = next
	r.mu.Unlock()

	epoch := r.epoch.Next()
	r.logger.Info("identity transition",
		zap.String("from", prev.String()),
		zap.String("to", next.String()),
		zap.Bool("initial", initial),
		zap.Uint64("epoch", epoch),
	)

	switch {
	case initial:
		// Nothing to clear on the very first classification.

	case !prev.IsGuest():
		// Sign-out, or a->b handled as sign-out first. Cache only: remote
		// rows stay so a later sign-in recovers them.
		r.store.Clear()
		r.nav.ClearSessionParam()
		if err := r.cache.Clear(prev.ScopeKey()); err != nil {
			r.logger.Warn("failed to clear departing cache scope",
				zap.String("scope", prev.ScopeKey()),
				zap.Error(err),
			)
		}

	case prev.IsGuest() && !next.IsGuest():
		// Guest sessions are discarded on sign-in, not merged.
		if r.store.Len() > 0 {
			r.logger.Info("discarding guest sessions on sign-in",
				zap.Int("count", r.store.Len()),
			)
		}
		r.store.Clear()
		if err := r.cache.Clear(types.Guest.ScopeKey()); err != nil {
			r.logger.Warn("failed to clear guest cache scope", zap.Error(err))
		}
	}

	r.flusher.SetOwner(next)

	go r.resolver.Reload(ctx, next, epoch)
}
