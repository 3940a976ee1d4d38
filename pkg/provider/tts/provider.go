// Package tts defines the Provider interface for Text-to-Speech backends.
//
// Synthesis in Charlie is fully asynchronous: the caller submits a Request
// tagged with a nonce and moves on; the finished audio arrives later on the
// Results channel carrying the same nonce, in completion order rather than
// submission order. The playback scheduler correlates results back to
// response segments by nonce.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Request is one synthesis job.
type Request struct {
	// Nonce is the caller-chosen correlation token echoed back on the
	// matching Result. Must be unique among in-flight requests.
	Nonce string

	// Text is the sentence to speak.
	Text string

	// Voice optionally selects a backend voice; empty means the backend
	// default.
	Voice string
}

// Result is one finished synthesis job.
type Result struct {
	// Nonce is the token from the originating Request.
	Nonce string

	// PCM is the raw audio payload. Nil when Err is set.
	PCM []byte

	// Err is non-nil when the backend failed this job. The nonce is still
	// set so the caller can release whatever is waiting on it.
	Err error
}

// Provider is the abstraction over any TTS backend.
//
// Synthesize must not block on synthesis: it dispatches the job and
// returns. Callers must drain Results; the channel is closed by Close.
type Provider interface {
	Synthesize(ctx context.Context, req Request) error
	Results() <-chan Result
	Close() error
}
