package discord

import (
	"bytes"
	"testing"
)

func TestFrameChunks(t *testing.T) {
	t.Parallel()

	t.Run("exact multiple", func(t *testing.T) {
		t.Parallel()
		frames := frameChunks(make([]byte, 8), 4)
		if len(frames) != 2 {
			t.Fatalf("got %d frames, want 2", len(frames))
		}
		for i, f := range frames {
			if len(f) != 4 {
				t.Errorf("frame %d: got %d bytes, want 4", i, len(f))
			}
		}
	})

	t.Run("partial frame zero padded", func(t *testing.T) {
		t.Parallel()
		frames := frameChunks([]byte{1, 2, 3, 4, 5, 6}, 4)
		if len(frames) != 2 {
			t.Fatalf("got %d frames, want 2", len(frames))
		}
		want := []byte{5, 6, 0, 0}
		if !bytes.Equal(frames[1], want) {
			t.Errorf("final frame = %v, want %v", frames[1], want)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		t.Parallel()
		if frames := frameChunks(nil, 4); frames != nil {
			t.Errorf("got %d frames, want none", len(frames))
		}
	})

	t.Run("opus frame size", func(t *testing.T) {
		t.Parallel()
		// One second of 48 kHz stereo is exactly 50 Opus frames.
		frames := frameChunks(make([]byte, opusSampleRate*opusChannels*2), opusFrameBytes)
		if len(frames) != 50 {
			t.Errorf("got %d frames, want 50", len(frames))
		}
	})
}
