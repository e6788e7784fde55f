package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyowl/sessionsync/internal/session"
	"github.com/studyowl/sessionsync/internal/types"
)

func newTestCache(t *testing.T) *FileCache {
	t.Helper()
	c, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	return c
}

func sampleEntry() session.CacheEntry {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return session.CacheEntry{
		Sessions: []types.ChatSession{
			{
				ID:        "sess_a",
				Title:     "Fractions homework",
				CreatedAt: now.Add(-time.Hour),
				UpdatedAt: now,
				Active:    true,
				Sync:      types.SyncDirty,
				Messages: []types.ChatMessage{
					{ID: "m1", Sender: types.SenderUser, Text: "what is 3/4 + 1/8", CreatedAt: now},
				},
			},
		},
		ActiveID: "sess_a",
	}
}

func TestReadAbsentScope(t *testing.T) {
	c := newTestCache(t)
	entry, err := c.Read("guest")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestWriteReadRoundTrip(t *testing.T) {
	c := newTestCache(t)
	want := sampleEntry()

	require.NoError(t, c.Write("owner:alice", want))

	got, err := c.Read("owner:alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.ActiveID, got.ActiveID)
	require.Len(t, got.Sessions, 1)
	assert.Equal(t, "Fractions homework", got.Sessions[0].Title)
	assert.Equal(t, types.SyncDirty, got.Sessions[0].Sync)
	require.Len(t, got.Sessions[0].Messages, 1)
	assert.Equal(t, "what is 3/4 + 1/8", got.Sessions[0].Messages[0].Text)
}

func TestScopesAreIsolated(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Write("guest", sampleEntry()))

	entry, err := c.Read("owner:alice")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestCorruptEntryPurgedAndAbsent(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Write("guest", sampleEntry()))

	path := c.scopePath("guest")
	require.NoError(t, os.WriteFile(path, []byte("not zstd at all"), 0o644))

	entry, err := c.Read("guest")
	require.NoError(t, err)
	assert.Nil(t, entry)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "corrupt entry must be purged")
}

func TestClearRemovesScope(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Write("guest", sampleEntry()))
	require.NoError(t, c.Clear("guest"))
	require.NoError(t, c.Clear("guest")) // idempotent

	entry, err := c.Read("guest")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestScopeFileNameSanitization(t *testing.T) {
	assert.Equal(t, "guest", scopeFileName("guest"))
	assert.Equal(t, "owner_alice", scopeFileName("owner:alice"))

	weird := scopeFileName("owner:weird id/with spaces")
	assert.NotContains(t, weird, "/")
	assert.NotContains(t, weird, " ")
	assert.Len(t, weird, 32)
}

func TestWriteIsAtomic(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Write("guest", sampleEntry()))

	entries, err := os.ReadDir(filepath.Dir(c.scopePath("guest")))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}
