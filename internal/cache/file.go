package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const entrySuffix = ".json"

// entry is the on-disk envelope for one cached value.
type entry struct {
	Key       string        `json:"key"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
	Value     []byte        `json:"value"`
}

func (e entry) expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) >= e.TTL
}

// FileCache keeps one file per key under a directory. Writes go through a
// temporary file and a rename so readers never see a partial entry.
type FileCache struct {
	dir string
	ttl time.Duration
	now func() time.Time
}

// NewFileCache creates dir if needed. ttl is only reported by Stats; each Put
// carries its own ttl.
func NewFileCache(dir string, ttl time.Duration) (*FileCache, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating cache directory %s: %w", dir, err)
	}
	return &FileCache{dir: dir, ttl: ttl, now: time.Now}, nil
}

func (c *FileCache) path(key string) string {
	return filepath.Join(c.dir, key+entrySuffix)
}

// Get returns the value for key. Expired entries are removed and reported as
// misses; unreadable entries are misses too.
func (c *FileCache) Get(_ context.Context, key string) ([]byte, bool) {
	logger := log.WithField("key", key)

	data, err := os.ReadFile(c.path(key))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.WithError(err).Warn("Failed to read cache entry, treating as miss")
		}
		return nil, false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		logger.WithError(err).Warn("Corrupt cache entry, treating as miss")
		return nil, false
	}

	if e.Key != key {
		logger.WithField("stored_key", e.Key).Warn("Cache entry key mismatch, treating as miss")
		return nil, false
	}

	if e.expired(c.now()) {
		logger.WithField("created_at", e.CreatedAt).Debug("Cache entry expired")
		if err := os.Remove(c.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.WithError(err).Warn("Failed to evict expired cache entry")
		}
		return nil, false
	}

	return e.Value, true
}

// Put atomically writes value under key. A non-positive ttl uses the cache default.
func (c *FileCache) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	data, err := json.Marshal(entry{
		Key:       key,
		CreatedAt: c.now().UTC(),
		TTL:       ttl,
		Value:     value,
	})
	if err != nil {
		return fmt.Errorf("error encoding cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, "."+key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("error creating temporary cache file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op after a successful rename.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("error writing cache entry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("error syncing cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error closing cache entry: %w", err)
	}

	if err := os.Rename(tmpName, c.path(key)); err != nil {
		return fmt.Errorf("error publishing cache entry: %w", err)
	}

	log.WithFields(logrus.Fields{
		"key":   key,
		"bytes": len(value),
		"ttl":   ttl,
	}).Debug("Stored cache entry")
	return nil
}

// Stats counts the entries currently on disk, expired or not.
func (c *FileCache) Stats() Stats {
	stats := Stats{Backend: "file", Directory: c.dir, TTL: c.ttl}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		log.WithError(err).Warn("Failed to list cache directory")
		return stats
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), entrySuffix) && !strings.HasPrefix(e.Name(), ".") {
			stats.Size++
		}
	}
	return stats
}
