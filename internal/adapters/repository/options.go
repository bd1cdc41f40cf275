package repository

// Option applies a configuration option to a Store.
type Option[T Entity] func(*Store[T])

// WithOrder sorts the store by cmp. Entities comparing equal keep insertion order.
// Without it the store keeps insertion order.
func WithOrder[T Entity](cmp func(a, b T) int) Option[T] {
	return func(s *Store[T]) {
		s.compare = cmp
	}
}
