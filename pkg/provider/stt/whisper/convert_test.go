package whisper

import (
	"encoding/binary"
	"math"
	"testing"
)

func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestPCMToFloat32(t *testing.T) {
	t.Parallel()

	in := pcm16(0, 16384, -16384, 32767, -32768)
	want := []float32{0, 0.5, -0.5, 32767.0 / 32768.0, -1.0}

	got := pcmToFloat32(in)
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPCMToFloat32IgnoresTrailingByte(t *testing.T) {
	t.Parallel()

	in := append(pcm16(100), 0x7f)
	if got := pcmToFloat32(in); len(got) != 1 {
		t.Errorf("len = %d, want 1", len(got))
	}
}

func TestPCMToFloat32MonoDownmix(t *testing.T) {
	t.Parallel()

	// Two stereo frames: (L=16384, R=0) and (L=-16384, R=-16384).
	in := pcm16(16384, 0, -16384, -16384)
	got := pcmToFloat32Mono(in, 2)

	want := []float32{0.25, -0.5}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("frame %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestComputeRMS(t *testing.T) {
	t.Parallel()

	if got := computeRMS(nil); got != 0 {
		t.Errorf("computeRMS(nil) = %v, want 0", got)
	}
	if got := computeRMS(pcm16(0, 0, 0)); got != 0 {
		t.Errorf("silence RMS = %v, want 0", got)
	}
	if got := computeRMS(pcm16(1000, -1000, 1000, -1000)); math.Abs(got-1000) > 1e-9 {
		t.Errorf("square wave RMS = %v, want 1000", got)
	}
}

func TestChunkDurationMs(t *testing.T) {
	t.Parallel()

	// 16 kHz mono 16-bit: 32 bytes per millisecond.
	if got := chunkDurationMs(make([]byte, 320), 16000, 1); got != 10 {
		t.Errorf("duration = %d, want 10", got)
	}
	// 48 kHz stereo 16-bit: 192 bytes per millisecond.
	if got := chunkDurationMs(make([]byte, 1920), 48000, 2); got != 10 {
		t.Errorf("duration = %d, want 10", got)
	}
	if got := chunkDurationMs(make([]byte, 100), 0, 1); got != 0 {
		t.Errorf("invalid rate duration = %d, want 0", got)
	}
}
