// Package audio provides the small set of PCM transforms Charlie needs to
// move sound between Discord voice (48 kHz stereo Opus) and the speech
// providers (16 kHz mono for recognition, whatever the synthesis daemon
// emits on the way back). All functions operate on little-endian int16 PCM.
package audio

import "fmt"

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String renders the format as e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Convert transcodes pcm from one format to another. Resampling happens
// before channel conversion so stereo input headed for a mono target is not
// resampled twice. If from equals to, pcm is returned unchanged. Input with
// an odd byte count has the trailing byte dropped.
func Convert(pcm []byte, from, to Format) []byte {
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	if from == to {
		return pcm
	}

	if from.SampleRate != to.SampleRate {
		pcm = Resample(pcm, from.Channels, from.SampleRate, to.SampleRate)
	}

	switch {
	case from.Channels == 1 && to.Channels == 2:
		pcm = MonoToStereo(pcm)
	case from.Channels == 2 && to.Channels == 1:
		pcm = StereoToMono(pcm)
	}
	return pcm
}

// Resample converts interleaved int16 PCM with the given channel count from
// srcRate to dstRate using linear interpolation. Returns the input unchanged
// when the rates match or the parameters are degenerate.
func Resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	if channels <= 0 || srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return pcm
	}
	stride := channels * 2
	srcFrames := len(pcm) / stride
	if srcFrames < 2 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*stride)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		for c := range channels {
			s0 := sampleAt(pcm, idx*channels+c)
			s1 := s0
			if idx+1 < srcFrames {
				s1 = sampleAt(pcm, (idx+1)*channels+c)
			}
			v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
			j := (i*channels + c) * 2
			out[j] = byte(v)
			out[j+1] = byte(v >> 8)
		}
	}
	return out
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j], out[j+1] = lo, hi
		out[j+2], out[j+3] = lo, hi
	}
	return out
}

// StereoToMono averages the L and R channel of each stereo frame. The
// average of two int16 values cannot overflow int16, so no clamping is
// needed.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(sampleAt(pcm, i*2))
		r := int32(sampleAt(pcm, i*2+1))
		avg := int16((l + r) / 2)
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// BytesToInt16 converts little-endian PCM bytes to int16 samples. A trailing
// odd byte is ignored.
func BytesToInt16(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

// Int16ToBytes converts int16 samples to little-endian PCM bytes.
func Int16ToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}
