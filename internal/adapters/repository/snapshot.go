package repository

// Snapshot is an immutable, ordered view of a store at one point in time.
type Snapshot[T Entity] struct {
	entries []entry[T]
	index   map[string]int
}

func newSnapshot[T Entity](entries []entry[T]) *Snapshot[T] {
	cp := make([]entry[T], len(entries))
	copy(cp, entries)
	index := make(map[string]int, len(cp))
	for i, e := range cp {
		index[e.item.Key()] = i
	}
	return &Snapshot[T]{entries: cp, index: index}
}

// Items returns the ordered entities. The returned slice is owned by the caller.
func (s *Snapshot[T]) Items() []T {
	out := make([]T, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.item
	}
	return out
}

// Get returns the entity with id or ErrNotFound.
func (s *Snapshot[T]) Get(id string) (T, error) {
	if e, ok := s.entry(id); ok {
		return e.item, nil
	}
	var zero T
	return zero, ErrNotFound
}

// Has reports whether the snapshot holds id.
func (s *Snapshot[T]) Has(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Len returns the number of entities.
func (s *Snapshot[T]) Len() int {
	return len(s.entries)
}

func (s *Snapshot[T]) entry(id string) (entry[T], bool) {
	if s == nil {
		return entry[T]{}, false
	}
	i, ok := s.index[id]
	if !ok {
		return entry[T]{}, false
	}
	return s.entries[i], true
}
