package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/floomby/charlie/internal/convo"
)

// Dispatcher represents one in-flight spoken response: an ordered sequence of
// segments submitted for synthesis, a finalization seal, an error flag, and
// optional handles to nested child responses.
//
// A Dispatcher is created through [Scheduler.NewDispatcher], which assigns a
// process-unique monotonic ID and enrolls it at the tail of the playback
// queue. The owning response generator then calls [Dispatcher.AppendSegment]
// zero or more times followed by exactly one [Dispatcher.Finalize], or marks
// the dispatcher errored with [Dispatcher.SetErrored] when generation fails
// upstream.
//
// All methods are safe for concurrent use.
type Dispatcher struct {
	id        uint64
	scheduler *Scheduler

	// snapshot is the frozen view of the conversation as of creation time.
	// May be nil when the response has no conversational context.
	snapshot *convo.Log

	errored atomic.Bool

	mu        sync.Mutex
	segments  []string
	finalized bool
	total     int
	next      int // index of the next segment to hand to the player
	children  []*Handle
}

// ID returns the dispatcher's process-unique monotonic identifier.
func (d *Dispatcher) ID() uint64 {
	return d.id
}

// Snapshot returns the frozen conversation view captured at creation time,
// or nil if none was supplied.
func (d *Dispatcher) Snapshot() *convo.Log {
	return d.snapshot
}

// AppendSegment normalizes text and submits it for synthesis as this
// dispatcher's next segment.
//
// Normalization trims whitespace, strips a leading self-identification
// prefix, and spaces out digit runs glued to words. If nothing speakable
// remains the call is a silent no-op: no segment is created and no index is
// consumed. Otherwise the segment takes the next contiguous index, is
// submitted to the synthesizer, and its text is echoed into the live
// conversation log under the agent's own speaker identity — spoken replies
// become part of future context.
//
// Returns [ErrFinalized] if the dispatcher has been finalized.
func (d *Dispatcher) AppendSegment(ctx context.Context, text string) error {
	normalized := normalizeSegment(d.scheduler.agentName, text)

	d.mu.Lock()
	if d.finalized {
		d.mu.Unlock()
		return fmt.Errorf("append segment to dispatcher %d: %w", d.id, ErrFinalized)
	}
	if normalized == "" {
		d.mu.Unlock()
		return nil
	}
	idx := len(d.segments)
	d.segments = append(d.segments, normalized)
	d.mu.Unlock()

	d.scheduler.submitSegment(ctx, Key{Dispatcher: d.id, Segment: idx}, normalized)
	return nil
}

// PlayCanned enqueues one of the pre-recorded audio variants for kind as this
// dispatcher's next segment, bypassing the synthesis collaborator. The
// variant is chosen uniformly at random and registered under the same
// correlation-key namespace as synthesized segments, and the kind's fixed
// text is appended to the live conversation log.
//
// Returns [ErrFinalized] if the dispatcher has been finalized, or
// [ErrUnknownCanned] for an unregistered kind.
func (d *Dispatcher) PlayCanned(kind CannedKind) error {
	text, pcm, err := d.scheduler.canned.Pick(kind)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if d.finalized {
		d.mu.Unlock()
		return fmt.Errorf("play canned on dispatcher %d: %w", d.id, ErrFinalized)
	}
	idx := len(d.segments)
	d.segments = append(d.segments, text)
	d.mu.Unlock()

	d.scheduler.deliverCanned(Key{Dispatcher: d.id, Segment: idx}, kind, pcm, text)
	return nil
}

// Finalize seals the dispatcher: the segment count becomes fixed and further
// appends fail. Returns [ErrFinalized] if already finalized.
func (d *Dispatcher) Finalize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.finalized {
		return fmt.Errorf("finalize dispatcher %d: %w", d.id, ErrFinalized)
	}
	d.finalized = true
	d.total = len(d.segments)
	return nil
}

// IsFinalized reports whether [Dispatcher.Finalize] has succeeded.
func (d *Dispatcher) IsFinalized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.finalized
}

// SetErrored flags the dispatcher as failed. The scheduler treats an errored
// dispatcher as complete-with-skip: it is evicted on the next tick and its
// unplayed segments are dropped.
func (d *Dispatcher) SetErrored() {
	d.errored.Store(true)
}

// Errored reports whether the dispatcher has been flagged as failed, either
// by its owner or by scheduler-side stall eviction.
func (d *Dispatcher) Errored() bool {
	return d.errored.Load()
}

// AddChild registers a handle to a nested response spawned while this
// response was being produced. Children are independent dispatchers enqueued
// in their own right; registration only lets callers await the spawned work.
func (d *Dispatcher) AddChild(h *Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.children = append(d.children, h)
}

// Children returns the registered child handles in registration order.
func (d *Dispatcher) Children() []*Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Handle(nil), d.children...)
}

// SegmentCount returns the number of segments accepted so far.
func (d *Dispatcher) SegmentCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.segments)
}

// Segments returns a copy of the accepted segment texts in index order.
func (d *Dispatcher) Segments() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.segments...)
}

// nextKey returns the correlation key of the next unplayed segment.
func (d *Dispatcher) nextKey() Key {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Key{Dispatcher: d.id, Segment: d.next}
}

// advance marks one more segment as handed to the player.
func (d *Dispatcher) advance() {
	d.mu.Lock()
	d.next++
	d.mu.Unlock()
}

// drained reports whether the dispatcher is finalized with every segment
// already handed to the player.
func (d *Dispatcher) drained() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.finalized && d.next >= d.total
}
