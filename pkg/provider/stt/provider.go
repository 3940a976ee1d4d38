// Package stt defines the Provider interface for Speech-to-Text backends.
//
// Charlie opens one transcription session per speaking channel member. A
// session accepts raw PCM frames and emits Transcript values: low-latency
// partials for responsiveness and authoritative finals that feed the
// utterance segmenter and the conversation logs.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"time"
)

// Transcript is one speech-to-text result, partial or final.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal distinguishes authoritative results from interim guesses.
	IsFinal bool

	// Confidence is the overall score in [0.0, 1.0], zero when the backend
	// does not report one.
	Confidence float64

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// StreamConfig describes the audio format and recognition hints for a new
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Discord Opus decodes to
	// 48000; most STT backends want 16000 mono.
	SampleRate int

	// Channels is the number of audio channels. Implementations may downmix
	// stereo internally.
	Channels int

	// Language is the BCP-47 language tag ("en", "de-DE"). Empty lets the
	// backend auto-detect where supported.
	Language string
}

// SessionHandle is an open streaming transcription session. Callers must
// call Close when done; all methods are safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM bytes matching the format agreed
	// in StreamConfig. Returns an error after Close.
	SendAudio(chunk []byte) error

	// Partials emits interim transcripts. Closed when the session ends.
	Partials() <-chan Transcript

	// Finals emits committed transcripts — the values that reach the
	// conversation log. Closed when the session ends.
	Finals() <-chan Transcript

	// Close flushes pending audio, closes both transcript channels, and
	// releases resources. Calling Close more than once is safe.
	Close() error
}

// Provider is the abstraction over any STT backend. Multiple sessions may
// be open simultaneously, one per channel member.
type Provider interface {
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
