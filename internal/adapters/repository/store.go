// Package repository holds the local mirror of server-owned collections.
//
// A Store is an ordered, deduplicated, keyed collection. Writes go through its
// typed operations only and publish an immutable Snapshot, so readers never
// take the write lock.
package repository

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/okian/racesync/pkg/metrics"
)

// Entity is anything with a stable identity.
type Entity interface {
	Key() string
}

// Listener receives the ordered contents after every applied write.
type Listener[T Entity] func(items []T)

// entry pairs an entity with its insertion sequence, used as the tie-breaker.
type entry[T Entity] struct {
	seq  uint64
	item T
}

// Store is an in-memory ordered collection keyed by Entity.Key.
type Store[T Entity] struct {
	name    string
	compare func(a, b T) int // nil keeps insertion order

	mu      sync.Mutex
	entries []entry[T]
	seq     uint64
	closed  bool

	// published is the latest immutable view; replaced on every write.
	published atomic.Pointer[Snapshot[T]]

	// deliverMu is taken before mu is released so listeners see writes in
	// publish order.
	deliverMu sync.Mutex

	subMu  sync.RWMutex
	subs   map[uint64]Listener[T]
	nextID uint64
}

// New creates an empty store. name labels metrics and logs.
func New[T Entity](name string, opts ...Option[T]) *Store[T] {
	s := &Store[T]{
		name: name,
		subs: make(map[uint64]Listener[T]),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.published.Store(&Snapshot[T]{})
	metrics.UpdateStoreSize(name, 0)
	return s
}

// Name returns the store label.
func (s *Store[T]) Name() string { return s.name }

// List returns the ordered contents. Repeated calls against an unchanged store
// return equal sequences.
func (s *Store[T]) List() []T {
	return s.published.Load().Items()
}

// Get returns the entity with id or ErrNotFound.
func (s *Store[T]) Get(id string) (T, error) {
	return s.published.Load().Get(id)
}

// Len returns the number of entities.
func (s *Store[T]) Len() int {
	return s.published.Load().Len()
}

// Snapshot returns an immutable copy usable for rollback.
func (s *Store[T]) Snapshot() *Snapshot[T] {
	return s.published.Load()
}

// Upsert inserts e or replaces the entity sharing its id, keeping the original
// insertion sequence, and re-establishes order.
func (s *Store[T]) Upsert(e T) {
	s.write("upsert", func() {
		if i := s.indexOf(e.Key()); i >= 0 {
			s.entries[i].item = e
			return
		}
		s.seq++
		s.entries = append(s.entries, entry[T]{seq: s.seq, item: e})
	})
}

// Remove deletes the entity with id. Removing an absent id is a no-op.
func (s *Store[T]) Remove(id string) {
	s.write("remove", func() {
		if i := s.indexOf(id); i >= 0 {
			s.entries = slices.Delete(s.entries, i, i+1)
		}
	})
}

// Replace discards the contents and stores items. Duplicate ids in items collapse
// to the last occurrence, kept at the position of the first.
func (s *Store[T]) Replace(items []T) {
	s.write("replace", func() {
		s.entries = s.entries[:0:0]
		pos := make(map[string]int, len(items))
		for _, it := range items {
			if i, ok := pos[it.Key()]; ok {
				s.entries[i].item = it
				continue
			}
			s.seq++
			pos[it.Key()] = len(s.entries)
			s.entries = append(s.entries, entry[T]{seq: s.seq, item: it})
		}
	})
}

// Reinstate restores the version of id held by snap, including its original
// position. If snap did not hold id, the entity is removed.
func (s *Store[T]) Reinstate(snap *Snapshot[T], id string) {
	s.write("reinstate", func() {
		prev, had := snap.entry(id)
		i := s.indexOf(id)
		switch {
		case had && i >= 0:
			s.entries[i] = prev
		case had:
			s.entries = append(s.entries, prev)
		case i >= 0:
			s.entries = slices.Delete(s.entries, i, i+1)
		}
	})
}

// Subscribe registers fn for change notifications and returns its cancel func.
func (s *Store[T]) Subscribe(fn Listener[T]) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

// Close stops the store from accepting writes. Later writes are discarded silently.
func (s *Store[T]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Closed reports whether Close was called.
func (s *Store[T]) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// write applies mutate under the lock, re-sorts, publishes a snapshot and
// notifies listeners outside the lock. Listeners must not write to the store
// they are subscribed to.
func (s *Store[T]) write(op string, mutate func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		metrics.RecordStoreDiscardedWrite(s.name)
		return
	}
	mutate()
	s.sortLocked()
	snap := newSnapshot(s.entries)
	s.published.Store(snap)
	s.deliverMu.Lock()
	s.mu.Unlock()
	defer s.deliverMu.Unlock()

	metrics.RecordStoreWrite(s.name, op)
	metrics.UpdateStoreSize(s.name, snap.Len())

	s.notify(snap)
}

func (s *Store[T]) notify(snap *Snapshot[T]) {
	s.subMu.RLock()
	listeners := make([]Listener[T], 0, len(s.subs))
	for _, fn := range s.subs {
		listeners = append(listeners, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range listeners {
		fn(snap.Items())
	}
}

func (s *Store[T]) sortLocked() {
	slices.SortStableFunc(s.entries, func(a, b entry[T]) int {
		if s.compare != nil {
			if c := s.compare(a.item, b.item); c != 0 {
				return c
			}
		}
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
}

func (s *Store[T]) indexOf(id string) int {
	return slices.IndexFunc(s.entries, func(e entry[T]) bool { return e.item.Key() == id })
}
