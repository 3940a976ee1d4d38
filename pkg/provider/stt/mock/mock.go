// Package mock provides test doubles for the stt.Provider and
// stt.SessionHandle interfaces.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/floomby/charlie/pkg/provider/stt"
)

// Session is a scriptable stt.SessionHandle. Tests push transcripts with
// EmitPartial/EmitFinal and inspect audio received via SendAudio.
type Session struct {
	mu     sync.Mutex
	audio  [][]byte
	closed bool

	partials chan stt.Transcript
	finals   chan stt.Transcript
}

// NewSession creates an open mock session.
func NewSession() *Session {
	return &Session{
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
	}
}

// SendAudio records the chunk. Returns an error after Close.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock: session is closed")
	}
	s.audio = append(s.audio, append([]byte(nil), chunk...))
	return nil
}

// Audio returns copies of all chunks received so far.
func (s *Session) Audio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.audio...)
}

// EmitPartial pushes an interim transcript to the Partials channel.
func (s *Session) EmitPartial(text string) {
	s.partials <- stt.Transcript{Text: text}
}

// EmitFinal pushes a committed transcript to the Finals channel.
func (s *Session) EmitFinal(text string) {
	s.finals <- stt.Transcript{Text: text, IsFinal: true}
}

func (s *Session) Partials() <-chan stt.Transcript { return s.partials }

func (s *Session) Finals() <-chan stt.Transcript { return s.finals }

// Close marks the session closed and closes both transcript channels.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.partials)
	close(s.finals)
	return nil
}

// Provider is a mock stt.Provider handing out pre-created sessions.
type Provider struct {
	mu sync.Mutex

	// Sessions is consumed front-to-back by StartStream. When empty, a
	// fresh Session is created.
	Sessions []*Session

	// StartErr, if non-nil, is returned by StartStream.
	StartErr error

	// StartCalls records the configs passed to StartStream.
	StartCalls []stt.StreamConfig
}

// StartStream records the call and returns the next scripted session.
func (p *Provider) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.StartCalls = append(p.StartCalls, cfg)
	if p.StartErr != nil {
		return nil, p.StartErr
	}
	if len(p.Sessions) > 0 {
		s := p.Sessions[0]
		p.Sessions = p.Sessions[1:]
		return s, nil
	}
	return NewSession(), nil
}

var (
	_ stt.Provider      = (*Provider)(nil)
	_ stt.SessionHandle = (*Session)(nil)
)
