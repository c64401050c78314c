// Package cache implements the content-addressed result cache shared by the
// OCR and extraction stages.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// SetLogLevel sets the logging level for the cache package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}

// Cache stores serialized results keyed by content hash. Implementations
// degrade to misses on storage failure rather than returning errors from Get.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Stats() Stats
}

// Stats describes a cache for status reporting.
type Stats struct {
	Backend   string        `json:"backend"`
	Size      int           `json:"size"`
	Directory string        `json:"directory,omitempty"`
	TTL       time.Duration `json:"ttl"`
}

// Key derives a deterministic key from a namespace and the normalized input
// parts. Parts are length-prefixed so that ("ab","c") and ("a","bc") differ.
func Key(namespace string, parts ...[]byte) string {
	h := sha256.New()
	writePart(h, []byte(namespace))
	for _, p := range parts {
		writePart(h, p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

type byteWriter interface {
	Write(p []byte) (int, error)
}

func writePart(w byteWriter, p []byte) {
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(len(p)))
	_, _ = w.Write(size[:])
	_, _ = w.Write(p)
}

// Noop never stores anything. It backs cache_enabled=false.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool) { return nil, false }

func (Noop) Put(context.Context, string, []byte, time.Duration) error { return nil }

func (Noop) Stats() Stats { return Stats{Backend: "disabled"} }
