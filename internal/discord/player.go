package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/floomby/charlie/internal/dispatch"
	"github.com/floomby/charlie/pkg/audio"
)

// Compile-time interface assertion.
var _ dispatch.Player = (*Player)(nil)

// defaultSynthesisFormat matches the PCM the TTS daemon emits.
var defaultSynthesisFormat = audio.Format{SampleRate: 22050, Channels: 1}

// Player plays synthesized PCM into the voice channel. The scheduler calls
// Play serially, one artifact at a time, so Player holds a single encoder.
type Player struct {
	voice  *Voice
	source audio.Format
	logger *slog.Logger
	enc    *opusEncoder
}

// PlayerOption configures a [Player] during construction.
type PlayerOption func(*Player)

// WithSourceFormat declares the PCM format of incoming artifacts. Defaults
// to 22050 Hz mono.
func WithSourceFormat(f audio.Format) PlayerOption {
	return func(p *Player) {
		p.source = f
	}
}

// WithPlayerLogger sets the logger. Defaults to slog.Default.
func WithPlayerLogger(l *slog.Logger) PlayerOption {
	return func(p *Player) {
		p.logger = l
	}
}

// NewPlayer creates a Player bound to the given voice presence.
func NewPlayer(v *Voice, opts ...PlayerOption) (*Player, error) {
	enc, err := newOpusEncoder()
	if err != nil {
		return nil, err
	}
	p := &Player{
		voice:  v,
		source: defaultSynthesisFormat,
		logger: slog.Default(),
		enc:    enc,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Play converts the artifact to Discord's voice format, encodes it frame by
// frame, and pushes the frames to the voice connection. It blocks until the
// whole artifact has been handed off or ctx is cancelled.
func (p *Player) Play(ctx context.Context, art dispatch.Artifact) error {
	vc := p.voice.connection()
	if vc == nil {
		return errors.New("discord: no active voice connection")
	}

	pcm := audio.Convert(art.PCM, p.source, VoiceFormat)
	frames := frameChunks(pcm, opusFrameBytes)
	if len(frames) == 0 {
		return nil
	}

	if err := vc.Speaking(true); err != nil {
		p.logger.Warn("speaking notification", "error", err)
	}
	defer func() {
		if err := vc.Speaking(false); err != nil {
			p.logger.Warn("speaking notification", "error", err)
		}
	}()

	for _, frame := range frames {
		packet, err := p.enc.encode(frame)
		if err != nil {
			return fmt.Errorf("discord: encode playback frame: %w", err)
		}
		select {
		case vc.OpusSend <- packet:
		case <-ctx.Done():
			return ctx.Err()
		case <-p.voice.done:
			return errors.New("discord: voice connection closed during playback")
		}
	}
	return nil
}

// frameChunks splits pcm into size-byte frames, zero-padding the final
// partial frame. Opus encoders require exact frame sizes.
func frameChunks(pcm []byte, size int) [][]byte {
	if size <= 0 || len(pcm) == 0 {
		return nil
	}
	n := (len(pcm) + size - 1) / size
	frames := make([][]byte, 0, n)
	for start := 0; start < len(pcm); start += size {
		end := start + size
		if end <= len(pcm) {
			frames = append(frames, pcm[start:end])
			continue
		}
		padded := make([]byte, size)
		copy(padded, pcm[start:])
		frames = append(frames, padded)
	}
	return frames
}
