// Package dedupe guards against submitting the same request twice while the
// first one is still in flight.
package dedupe

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
)

// Deduper records in-flight keys so a second submission can be rejected locally.
type Deduper interface {
	// SeenAndRecord atomically checks if key is in flight and records it if not.
	// Returns true if key was already recorded, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord releases key once its request resolved.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

// inMemoryDeduper implements Deduper with a map. Keys are never evicted;
// a bounded deduper reports new keys as seen once full.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	maxSize int // 0 or negative = unbounded
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]struct{})
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[key]; exists {
		return true
	}
	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		return true
	}
	d.seen[key] = struct{}{}
	d.size.Add(1)
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[key]; exists {
		delete(d.seen, key)
		d.size.Add(-1)
	}
}

// Size returns the current number of recorded keys.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}

// Key joins parts into a case-insensitive key.
func Key(parts ...string) string {
	norm := make([]string, len(parts))
	for i, p := range parts {
		norm[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return strings.Join(norm, "\x1f")
}
