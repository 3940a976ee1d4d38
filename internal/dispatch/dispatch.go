// Package dispatch serializes agent responses onto a single audio output.
//
// The two central types are [Dispatcher] — one in-flight spoken response,
// an ordered, appendable, finalizable sequence of segments — and [Scheduler],
// which drains all dispatchers onto one serial [Player] in creation order
// while tolerating out-of-order, delayed, or failed synthesis completions.
//
// Synthesis is asynchronous and out-of-process: appending a segment submits
// (dispatcher ID, segment index, text) to a [Synthesizer] and returns
// immediately. The finished audio arrives later — in any order — through
// [Scheduler.Deliver], keyed by the same correlation [Key]. The scheduler's
// tick loop matches completions against the head dispatcher's next segment,
// so playback order is always ascending dispatcher ID with contiguous
// segment indices inside each response.
//
// Nothing in this package is fatal: a response that errors or stalls is
// evicted and the pipeline moves on.
package dispatch

import (
	"context"
	"errors"
)

// ErrFinalized is returned when a segment append or a second finalize is
// attempted on an already-finalized dispatcher. This is caller misuse, not a
// runtime condition — it is never retried internally.
var ErrFinalized = errors.New("dispatch: response already finalized")

// ErrUnknownCanned is returned by [Library.Pick] for an unregistered kind.
var ErrUnknownCanned = errors.New("dispatch: unknown canned response kind")

// Key correlates an asynchronous synthesis completion with the segment that
// requested it. Dispatcher IDs are strictly increasing and never reused for
// the lifetime of the process, so a Key is globally unique.
type Key struct {
	// Dispatcher is the owning dispatcher's ID.
	Dispatcher uint64

	// Segment is the zero-based segment index within that dispatcher.
	Segment int
}

// Artifact is a playable piece of audio, produced either by the synthesis
// collaborator or copied from the canned-response library.
type Artifact struct {
	// Key addresses the segment this artifact belongs to.
	Key Key

	// PCM is the raw audio payload. Its format is an agreement between the
	// synthesizer and the player; the scheduler never inspects it.
	PCM []byte

	// Label is a short human-readable tag for logging ("segment",
	// "canned:thinking").
	Label string
}

// Synthesizer is the narrow capability interface for speech synthesis.
// Submit must not block on synthesis: it dispatches the request and returns.
// The finished artifact is surfaced later through [Scheduler.Deliver] under
// the same key, in no guaranteed order relative to other submissions.
type Synthesizer interface {
	Submit(ctx context.Context, key Key, text string) error
}

// Player is the single serial audio consumer. Play blocks until the artifact
// has finished playing or failed; the scheduler guarantees at most one Play
// call is in flight at a time.
type Player interface {
	Play(ctx context.Context, art Artifact) error
}
