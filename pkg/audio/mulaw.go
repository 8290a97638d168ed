// Package audio implements the codec bridge between the carrier's
// narrowband μ-law frames and the media room's linear PCM: G.711 μ-law
// encode/decode, WAV parsing, mono downmix, linear resampling, and RMS
// energy measurement.
package audio

import "encoding/base64"

// CarrierSampleRate is the narrowband rate of the carrier media stream.
const CarrierSampleRate = 8000

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// MulawDecode expands one μ-law byte to a 16-bit linear sample.
func MulawDecode(u byte) int16 {
	u = ^u
	t := (int32(u&0x0f) << 3) + mulawBias
	t <<= (u & 0x70) >> 4
	if u&0x80 != 0 {
		return int16(mulawBias - t)
	}
	return int16(t - mulawBias)
}

// MulawEncode compresses one 16-bit linear sample to a μ-law byte.
// Sign-magnitude with the segment exponent found by scanning from
// 0x4000 down; magnitudes clip at 32635 before biasing.
func MulawEncode(sample int16) byte {
	s := int32(sample)
	var sign byte
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exponent := byte(7)
	for mask := int32(0x4000); mask != 0 && s&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(s>>(exponent+3)) & 0x0f
	return ^(sign | exponent<<4 | mantissa)
}

// MulawDecodeBytes expands a μ-law frame to linear PCM.
func MulawDecodeBytes(frame []byte) []int16 {
	pcm := make([]int16, len(frame))
	for i, b := range frame {
		pcm[i] = MulawDecode(b)
	}
	return pcm
}

// MulawEncodeSamples compresses linear PCM to a μ-law frame.
func MulawEncodeSamples(pcm []int16) []byte {
	frame := make([]byte, len(pcm))
	for i, s := range pcm {
		frame[i] = MulawEncode(s)
	}
	return frame
}

// DecodeCarrierAudio converts a carrier media payload (base64 μ-law at
// 8 kHz) to linear PCM samples.
func DecodeCarrierAudio(payload string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, err
	}
	return MulawDecodeBytes(raw), nil
}

// EncodeCarrierAudio converts linear PCM at any rate and channel count
// into a carrier media payload: mono downmix, resample to 8 kHz, μ-law
// compress, base64 encode.
func EncodeCarrierAudio(pcm []int16, sampleRate, channels int) string {
	if channels > 1 {
		pcm = DownmixMono(pcm, channels)
	}
	if sampleRate != CarrierSampleRate && sampleRate > 0 {
		pcm = Resample(pcm, sampleRate, CarrierSampleRate)
	}
	return base64.StdEncoding.EncodeToString(MulawEncodeSamples(pcm))
}
