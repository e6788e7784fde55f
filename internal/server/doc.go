// Package server provides HTTP server setup and initialization for the
// session sync daemon.
//
// This package orchestrates all components:
//   - HTTP routing with Gin framework
//   - Middleware stack (CORS, rate limiting, recovery, metrics)
//   - Local snapshot cache and remote sync adapter construction
//   - Identity source and URL mirror wiring
//   - Sync engine assembly and lifecycle
//
// Server Lifecycle:
//  1. Load configuration from environment/flags
//  2. Initialize logger (production or development)
//  3. Build cache, remote store, identity source and URL mirror
//  4. Assemble the sync engine
//  5. Setup HTTP routes, websocket stream and middleware
//  6. Start HTTP server
//  7. Graceful shutdown on signal: drain HTTP, flush the engine
package server
