package discord

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/floomby/charlie/pkg/audio"
)

// Discord voice carries 48 kHz stereo Opus in 20 ms frames.
const (
	opusSampleRate  = 48000
	opusChannels    = 2
	opusFrameSizeMs = 20
	// opusFrameSamples is samples per channel per 20 ms frame.
	opusFrameSamples = opusSampleRate * opusFrameSizeMs / 1000 // 960
	// opusFrameBytes is the PCM size of one frame: 960 samples x 2 channels
	// x 2 bytes.
	opusFrameBytes = opusFrameSamples * opusChannels * 2
)

// VoiceFormat is the PCM format of decoded Discord voice.
var VoiceFormat = audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}

// opusDecoder wraps a gopus decoder for a single inbound SSRC. Decoder state
// carries across consecutive frames, so each SSRC needs its own.
type opusDecoder struct {
	dec *gopus.Decoder
}

func newOpusDecoder() (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

// decode decodes one Opus packet into interleaved little-endian int16 PCM.
func (d *opusDecoder) decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, opusFrameSamples, false)
	if err != nil {
		return nil, fmt.Errorf("discord: opus decode: %w", err)
	}
	return audio.Int16ToBytes(pcm), nil
}

// opusEncoder wraps a gopus encoder for the outbound voice stream.
type opusEncoder struct {
	enc *gopus.Encoder
}

func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

// encode encodes exactly one frame of interleaved int16 PCM bytes.
func (e *opusEncoder) encode(pcm []byte) ([]byte, error) {
	packet, err := e.enc.Encode(audio.BytesToInt16(pcm), opusFrameSamples, len(pcm))
	if err != nil {
		return nil, fmt.Errorf("discord: opus encode: %w", err)
	}
	return packet, nil
}
