// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/floomby/charlie/pkg/provider/tts"
)

// Provider is a scriptable tts.Provider. Tests inspect submitted requests
// with Requests and complete them with Finish.
type Provider struct {
	mu     sync.Mutex
	reqs   []tts.Request
	closed bool

	// SynthesizeErr, if non-nil, is returned by Synthesize.
	SynthesizeErr error

	results chan tts.Result
}

// New creates an open mock provider.
func New() *Provider {
	return &Provider{results: make(chan tts.Result, 64)}
}

// Synthesize records the request.
func (p *Provider) Synthesize(_ context.Context, req tts.Request) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SynthesizeErr != nil {
		return p.SynthesizeErr
	}
	p.reqs = append(p.reqs, req)
	return nil
}

// Requests returns copies of all recorded requests.
func (p *Provider) Requests() []tts.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]tts.Request(nil), p.reqs...)
}

// Finish pushes a successful result for nonce onto the Results channel.
func (p *Provider) Finish(nonce string, pcm []byte) {
	p.results <- tts.Result{Nonce: nonce, PCM: pcm}
}

// Fail pushes an error result for nonce onto the Results channel.
func (p *Provider) Fail(nonce string, err error) {
	p.results <- tts.Result{Nonce: nonce, Err: err}
}

func (p *Provider) Results() <-chan tts.Result {
	return p.results
}

// Close closes the Results channel. Safe to call once.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.results)
	}
	return nil
}

var _ tts.Provider = (*Provider)(nil)
