package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResample(t *testing.T) {
	tests := []struct {
		name    string
		src     []int16
		srcRate int
		dstRate int
		wantLen int
	}{
		{
			name:    "downsample 16k to 8k halves the frame",
			src:     make([]int16, 320),
			srcRate: 16000,
			dstRate: 8000,
			wantLen: 160,
		},
		{
			name:    "upsample 8k to 16k doubles the frame",
			src:     make([]int16, 160),
			srcRate: 8000,
			dstRate: 16000,
			wantLen: 320,
		},
		{
			name:    "same rate returns input untouched",
			src:     []int16{1, 2, 3},
			srcRate: 8000,
			dstRate: 8000,
			wantLen: 3,
		},
		{
			name:    "24k to 8k thirds the frame",
			src:     make([]int16, 240),
			srcRate: 24000,
			dstRate: 8000,
			wantLen: 80,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Resample(tt.src, tt.srcRate, tt.dstRate)
			assert.Len(t, out, tt.wantLen)
		})
	}
}

func TestResampleInterpolatesLinearly(t *testing.T) {
	// Doubling the rate of a ramp should land midpoints between samples.
	src := []int16{0, 100, 200, 300}
	out := Resample(src, 8000, 16000)

	assert.Equal(t, int16(0), out[0])
	assert.Equal(t, int16(50), out[1])
	assert.Equal(t, int16(100), out[2])
	assert.Equal(t, int16(150), out[3])
}

func TestResamplePreservesSineShape(t *testing.T) {
	src := SineTone(50, 16000, 440, 0.5)
	down := Resample(src, 16000, 8000)

	// Energy should survive the rate change.
	assert.InDelta(t, RMSEnergy(src), RMSEnergy(down), 0.02)
}

func TestDownmixMono(t *testing.T) {
	stereo := []int16{100, 200, -100, -200, 0, 0}
	mono := DownmixMono(stereo, 2)
	assert.Equal(t, []int16{150, -150, 0}, mono)

	// Single channel passes through.
	assert.Equal(t, stereo, DownmixMono(stereo, 1))
}

func TestRMSEnergy(t *testing.T) {
	assert.Equal(t, 0.0, RMSEnergy(nil))
	assert.Equal(t, 0.0, RMSEnergy(make([]int16, 160)))

	// Full-scale sine has RMS amplitude/√2.
	sine := SineTone(100, 8000, 440, 1.0)
	assert.InDelta(t, 1.0/math.Sqrt2, RMSEnergy(sine), 0.01)

	// Half-scale sine halves the energy.
	half := SineTone(100, 8000, 440, 0.5)
	assert.InDelta(t, 0.5/math.Sqrt2, RMSEnergy(half), 0.01)
}

func TestPCM16BytesRoundTrip(t *testing.T) {
	src := []int16{0, 1, -1, 32767, -32768, 256, -256}
	assert.Equal(t, src, SamplesFromPCM16(PCM16Bytes(src)))
}

func TestSamplesFromPCM16DropsTrailingByte(t *testing.T) {
	assert.Len(t, SamplesFromPCM16([]byte{0x00, 0x01, 0xFF}), 1)
}

func TestSineToneLength(t *testing.T) {
	assert.Len(t, SineTone(20, 8000, 440, 0.5), 160)
	assert.Len(t, SineTone(1000, 16000, 440, 0.5), 16000)
	assert.Nil(t, SineTone(0, 8000, 440, 0.5))
}
