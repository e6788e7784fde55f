// Package session implements the chat session synchronization core.
//
// The core owns an identity-addressed collection of chat sessions, keeps the
// fast local cache consistent with the durable remote store, tracks which
// sessions carry unsynchronized edits, and resolves the active session from
// three competing sources of truth: the URL parameter, the local cache and
// the remote store.
//
// Components:
//   - Store: the canonical in-memory table plus the single active pointer
//   - IdentityResolver: guest/authenticated classification and the
//     reload-and-clear sequence on transition
//   - Resolver: the tie-break protocol electing the active session
//   - Flusher: synchronous cache writes, asynchronous remote flushes,
//     teardown convergence
//   - Engine: the composed operations surface (create, switch, delete,
//     rename, append, clear)
//
// Consistency model: the in-memory table is mutated synchronously before any
// asynchronous tail, so concurrent operations on the same session are
// ordered by their synchronous prefixes. Across the asynchronous remote
// flush tail last-write-wins applies; there are no vector clocks and no
// merge. Remote and cache failures are absorbed at the component boundary
// and logged: stale-but-present data always beats blocking or erroring.
//
// Example Usage:
//
//	engine := session.NewEngine(cache, remote, nav, identity, logger, metrics, session.Options{})
//	engine.Start(ctx)
//	sess, err := engine.AppendMessage(ctx, msg)
package session
