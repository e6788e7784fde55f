// Package id provides centralized ID generation.
//
// Session ids are prefixed ULIDs: lexicographically sortable, random, and
// never derived from content. Message ids are UUIDs, matching what the UI
// already generates for optimistic rendering.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const (
	// SessionPrefix marks session ids in logs and URLs.
	SessionPrefix = "sess"
)

// Generator generates prefixed ULIDs.
type Generator struct {
	mu      sync.Mutex // protects entropy reader
	entropy io.Reader
}

var (
	defaultGen *Generator
	once       sync.Once
)

// Default returns the shared generator backed by crypto/rand.
func Default() *Generator {
	once.Do(func() {
		defaultGen = NewGenerator(rand.Reader)
	})
	return defaultGen
}

// NewGenerator creates a generator with the given entropy source. Tests pass
// a deterministic reader.
func NewGenerator(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID string.
func (g *Generator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate())
}

// NewSessionID generates a new chat session id.
func NewSessionID() string {
	return Default().GenerateWithPrefix(SessionPrefix)
}

// NewMessageID generates a new chat message id.
func NewMessageID() string {
	return uuid.NewString()
}
