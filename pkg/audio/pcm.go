package audio

import "math"

// DownmixMono averages interleaved multi-channel PCM into mono.
func DownmixMono(pcm []int16, channels int) []int16 {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / channels
	mono := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int32
		for c := 0; c < channels; c++ {
			sum += int32(pcm[i*channels+c])
		}
		mono[i] = int16(sum / int32(channels))
	}
	return mono
}

// Resample converts PCM between sample rates by linear interpolation.
func Resample(pcm []int16, srcRate, dstRate int) []int16 {
	if srcRate == dstRate || len(pcm) == 0 || srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	ratio := float64(srcRate) / float64(dstRate)
	outLen := int(math.Floor(float64(len(pcm)) / ratio))
	if outLen < 1 {
		outLen = 1
	}
	out := make([]int16, outLen)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(pcm)-1 {
			out[i] = pcm[len(pcm)-1]
			continue
		}
		frac := pos - float64(idx)
		a := float64(pcm[idx])
		b := float64(pcm[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}

// RMSEnergy returns the root-mean-square energy of a PCM frame,
// normalized to [0, 1] over the int16 range. Used by barge-in detection.
func RMSEnergy(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		f := float64(s) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(pcm)))
}

// PCM16Bytes serializes samples as 16-bit little-endian, the wire format
// for linear16 STT streaming.
func PCM16Bytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// SamplesFromPCM16 parses 16-bit little-endian bytes into samples.
// A trailing odd byte is dropped.
func SamplesFromPCM16(b []byte) []int16 {
	n := len(b) / 2
	pcm := make([]int16, n)
	for i := 0; i < n; i++ {
		pcm[i] = int16(uint16(b[i*2]) | uint16(b[i*2+1])<<8)
	}
	return pcm
}

// SineTone synthesizes a deterministic sine wave, used as the last-resort
// speech stand-in when no TTS provider is reachable.
func SineTone(durMs, sampleRate int, freqHz, amplitude float64) []int16 {
	if durMs <= 0 || sampleRate <= 0 {
		return nil
	}
	n := sampleRate * durMs / 1000
	pcm := make([]int16, n)
	scale := amplitude * 32767.0
	for i := range pcm {
		t := float64(i) / float64(sampleRate)
		pcm[i] = int16(scale * math.Sin(2*math.Pi*freqHz*t))
	}
	return pcm
}
