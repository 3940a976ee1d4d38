// Package quiescence implements silence-based debouncing of streaming input.
//
// A [Monitor] accumulates values as they arrive and flushes the accumulated
// batch once no new value has been observed for the configured window. The
// debounce timer restarts on every value, so a batch has no maximum duration —
// only a maximum gap. This is intentional: a speaker who keeps talking keeps
// extending the same utterance. Callers that need a bound can set one with
// [WithMaxBatch].
//
// Alongside accumulation the monitor evaluates a hotness predicate against
// every incoming value. Once the predicate fires for the current batch,
// hotness is sticky until the batch flushes. The voice layer uses this to tag
// utterances as directed-at-agent versus ambient.
//
// All methods are safe for concurrent use.
package quiescence

import (
	"sync"
	"time"
)

// FlushFunc receives the accumulated batch when quiescence is reached.
// hot reports whether the hotness predicate fired for any value in the batch.
//
// The callback runs on the timer goroutine without the monitor lock held, so
// it may safely call back into the monitor.
type FlushFunc[T any] func(vals []T, hot bool)

// Monitor debounces a stream of values into discrete batches.
//
// A Monitor is a long-lived per-stream observer. It holds no terminal state:
// every flush resets the accumulator and hotness and the monitor keeps
// listening.
type Monitor[T any] struct {
	window   time.Duration
	flush    FlushFunc[T]
	hotness  func(T) bool
	maxBatch int

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
	acm   []T
	hot   bool
}

// Option configures a [Monitor] during construction.
type Option[T any] func(*Monitor[T])

// WithMaxBatch caps the number of values accumulated before a forced flush.
// Zero (the default) means unlimited — the only flush trigger is quiescence.
func WithMaxBatch[T any](n int) Option[T] {
	return func(m *Monitor[T]) {
		m.maxBatch = n
	}
}

// NewMonitor creates a Monitor that flushes after window of inactivity.
//
// flush must not be nil. hotness may be nil, in which case no batch is ever
// marked hot.
func NewMonitor[T any](window time.Duration, flush FlushFunc[T], hotness func(T) bool, opts ...Option[T]) *Monitor[T] {
	m := &Monitor[T]{
		window:  window,
		flush:   flush,
		hotness: hotness,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Activity records a new value: it appends the value to the accumulator,
// updates sticky hotness, and restarts the debounce timer.
func (m *Monitor[T]) Activity(val T) {
	m.mu.Lock()

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}

	// Stop can miss a timer that already fired and is blocked on m.mu.
	// Bumping the generation turns that stale callback into a no-op, so a
	// value arriving inside the window never flushes with the old batch.
	m.gen++
	gen := m.gen

	m.acm = append(m.acm, val)

	if !m.hot && m.hotness != nil {
		m.hot = m.hotness(val)
	}

	if m.maxBatch > 0 && len(m.acm) >= m.maxBatch {
		vals, hot := m.resetLocked()
		m.mu.Unlock()
		m.flush(vals, hot)
		return
	}

	m.timer = time.AfterFunc(m.window, func() { m.expire(gen) })
	m.mu.Unlock()
}

// Flush forces an immediate flush of the current accumulation, if any.
// Useful when the underlying stream ends (speaker left the channel).
func (m *Monitor[T]) Flush() {
	m.mu.Lock()
	m.expireLocked()
}

// expire is the timer callback. A gen older than the monitor's means another
// value arrived after this timer fired, so the callback does nothing.
func (m *Monitor[T]) expire(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.expireLocked()
}

// expireLocked drains the accumulator and invokes the flush callback outside
// the lock. Takes ownership of m.mu and releases it.
func (m *Monitor[T]) expireLocked() {
	if len(m.acm) == 0 {
		m.timer = nil
		m.mu.Unlock()
		return
	}
	vals, hot := m.resetLocked()
	m.mu.Unlock()

	m.flush(vals, hot)
}

// resetLocked extracts the current batch and resets accumulator, hotness and
// timer. Must be called with m.mu held.
func (m *Monitor[T]) resetLocked() ([]T, bool) {
	vals := m.acm
	hot := m.hot
	m.acm = nil
	m.hot = false
	m.timer = nil
	return vals, hot
}
