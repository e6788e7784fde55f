package session

import (
	"sync"
	"sync/atomic"
)

// Epoch is the monotonically increasing generation counter that invalidates
// stale asynchronous reloads. Every reload carries the epoch at dispatch
// time; a reload observing a newer epoch after an await discards its result
// instead of publishing. This replaces wall-clock guards for correctness.
type Epoch struct {
	n atomic.Uint64
}

// Next advances the generation and returns the new value.
func (e *Epoch) Next() uint64 {
	return e.n.Add(1)
}

// Current returns the latest generation.
func (e *Epoch) Current() uint64 {
	return e.n.Load()
}

// IsStale reports whether a dispatched generation has been superseded.
func (e *Epoch) IsStale(v uint64) bool {
	return e.n.Load() != v
}

// CreateGuard marks a manual "new session" operation as in flight so a
// concurrent reload cannot overwrite a session the user just explicitly
// created. The guard is held until the creation flush lands, not for a
// fixed delay.
type CreateGuard struct {
	mu       sync.Mutex
	inflight int
}

// Begin raises the guard and returns its release func. Release is
// idempotent.
func (g *CreateGuard) Begin() func() {
	g.mu.Lock()
	g.inflight++
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.inflight--
			g.mu.Unlock()
		})
	}
}

// InFlight reports whether any manual creation is still unreleased.
func (g *CreateGuard) InFlight() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inflight > 0
}
