package quiescence

import "sync"

// Registry manages one [Monitor] per speaker. Monitors are created lazily on
// first use via the factory supplied at construction, so each speaker gets an
// independent debounce window and accumulator.
//
// All methods are safe for concurrent use.
type Registry[T any] struct {
	factory func(speaker string) *Monitor[T]

	mu       sync.Mutex
	monitors map[string]*Monitor[T]
}

// NewRegistry creates a Registry whose monitors are built by factory.
func NewRegistry[T any](factory func(speaker string) *Monitor[T]) *Registry[T] {
	return &Registry[T]{
		factory:  factory,
		monitors: make(map[string]*Monitor[T]),
	}
}

// Monitor returns the monitor for speaker, creating it on first use.
func (r *Registry[T]) Monitor(speaker string) *Monitor[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.monitors[speaker]
	if !ok {
		m = r.factory(speaker)
		r.monitors[speaker] = m
	}
	return m
}

// Remove drops the monitor for speaker, flushing any pending accumulation
// first. Subsequent Activity for the same speaker creates a fresh monitor.
func (r *Registry[T]) Remove(speaker string) {
	r.mu.Lock()
	m := r.monitors[speaker]
	delete(r.monitors, speaker)
	r.mu.Unlock()

	if m != nil {
		m.Flush()
	}
}
