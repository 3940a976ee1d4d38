package dispatch

import "context"

// Handle is a typed join point for a nested response spawned while a parent
// response was being produced. The child runs on its own dispatcher enqueued
// in its own right — the handle exists only so callers and tests can await
// the spawned work; it has no effect on the parent's completion.
type Handle struct {
	done chan struct{}
	d    *Dispatcher
	err  error
}

// Spawn runs fn on a new goroutine and returns a Handle that resolves with
// fn's result. fn typically creates a child dispatcher, fills it, and
// finalizes it (or marks it errored).
func Spawn(fn func() (*Dispatcher, error)) *Handle {
	h := &Handle{done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.d, h.err = fn()
	}()
	return h
}

// Done returns a channel closed when the spawned work has finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Await blocks until the spawned work finishes or ctx is cancelled, and
// returns the child dispatcher (possibly nil on failure) and the error fn
// reported.
func (h *Handle) Await(ctx context.Context) (*Dispatcher, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return h.d, h.err
	}
}
