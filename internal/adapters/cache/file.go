// Package cache implements the owner-scoped local cache on the filesystem.
//
// One zstd-compressed JSON snapshot file per owner scope. The whole session
// set is rewritten on every save; reads are symmetric. A file that fails to
// decompress or decode is purged and reported absent rather than surfaced
// as an error.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/studyowl/sessionsync/internal/logging"
	"github.com/studyowl/sessionsync/internal/monitoring"
	"github.com/studyowl/sessionsync/internal/session"
)

const fileExt = ".json.zst"

// FileCache stores one snapshot file per scope under a directory.
type FileCache struct {
	dir     string
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu  sync.Mutex
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// New creates the cache directory if needed and prepares the codec.
func New(dir string, logger *logging.Logger) (*FileCache, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to init zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init zstd decoder: %w", err)
	}
	return &FileCache{
		dir:    dir,
		logger: logger.Named("cache"),
		enc:    enc,
		dec:    dec,
	}, nil
}

// WithMetrics attaches a metrics collector.
func (c *FileCache) WithMetrics(m *monitoring.Metrics) *FileCache {
	c.metrics = m
	return c
}

// Read loads the snapshot for a scope. Absent files return (nil, nil);
// malformed files are purged and also reported absent.
func (c *FileCache) Read(scope string) (*session.CacheEntry, error) {
	path := c.scopePath(scope)

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	c.mu.Lock()
	plain, err := c.dec.DecodeAll(raw, nil)
	c.mu.Unlock()
	if err != nil {
		c.purge(scope, path, err)
		return nil, nil
	}

	var entry session.CacheEntry
	if err := sonic.Unmarshal(plain, &entry); err != nil {
		c.purge(scope, path, err)
		return nil, nil
	}
	return &entry, nil
}

// Write persists the snapshot atomically: temp file then rename, so a crash
// mid-write never leaves a truncated entry behind.
func (c *FileCache) Write(scope string, entry session.CacheEntry) error {
	plain, err := sonic.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	c.mu.Lock()
	compressed := c.enc.EncodeAll(plain, nil)
	c.mu.Unlock()

	path := c.scopePath(scope)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit cache file: %w", err)
	}
	return nil
}

// Clear removes the scope's snapshot. Missing files are fine.
func (c *FileCache) Clear(scope string) error {
	err := os.Remove(c.scopePath(scope))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear cache scope: %w", err)
	}
	return nil
}

func (c *FileCache) purge(scope, path string, cause error) {
	c.logger.Warn("purging malformed cache entry",
		zap.String("scope", scope),
		zap.Error(cause),
	)
	c.metrics.IncCachePurges()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("failed to purge cache entry", zap.String("scope", scope), zap.Error(err))
	}
}

func (c *FileCache) scopePath(scope string) string {
	return filepath.Join(c.dir, scopeFileName(scope)+fileExt)
}

// scopeFileName maps a scope key to a safe file name. Owner ids can carry
// arbitrary characters, so anything outside a small allowlist falls back to
// a hash of the scope.
func scopeFileName(scope string) string {
	safe := true
	for _, r := range scope {
		if !(r == '-' || r == '_' || r == ':' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			safe = false
			break
		}
	}
	if safe {
		return strings.ReplaceAll(scope, ":", "_")
	}
	sum := sha256.Sum256([]byte(scope))
	return hex.EncodeToString(sum[:16])
}
