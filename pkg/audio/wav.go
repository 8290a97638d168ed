package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrNotWAV indicates the data does not start with a RIFF/WAVE header.
	ErrNotWAV = errors.New("audio: not a RIFF/WAVE file")
	// ErrWAVFormat indicates an unsupported encoding inside a valid container.
	ErrWAVFormat = errors.New("audio: unsupported WAV format")
)

// IsWAV reports whether data begins with a RIFF/WAVE header. TTS adapters
// use it to sniff provider responses.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// ParseWAV decodes a PCM WAV file into mono samples and its sample rate.
// Chunks are walked in order with odd-size padding; only format tag 1
// (integer PCM) at 16 bits is accepted. Multi-channel audio is downmixed.
func ParseWAV(data []byte) ([]int16, int, error) {
	if !IsWAV(data) {
		return nil, 0, ErrNotWAV
	}

	var (
		sampleRate int
		channels   int
		bits       int
		haveFmt    bool
		pcmData    []byte
	)

	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if off+size > len(data) {
			size = len(data) - off
		}
		body := data[off : off+size]

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("%w: fmt chunk too short (%d bytes)", ErrWAVFormat, size)
			}
			format := int(binary.LittleEndian.Uint16(body[0:2]))
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bits = int(binary.LittleEndian.Uint16(body[14:16]))
			if format != 1 {
				return nil, 0, fmt.Errorf("%w: format tag %d", ErrWAVFormat, format)
			}
			if bits != 16 {
				return nil, 0, fmt.Errorf("%w: %d-bit samples", ErrWAVFormat, bits)
			}
			if channels < 1 {
				return nil, 0, fmt.Errorf("%w: %d channels", ErrWAVFormat, channels)
			}
			haveFmt = true
		case "data":
			pcmData = body
		}

		off += size
		if size%2 == 1 {
			off++ // chunks are word-aligned
		}
	}

	if !haveFmt {
		return nil, 0, fmt.Errorf("%w: missing fmt chunk", ErrWAVFormat)
	}
	if pcmData == nil {
		return nil, 0, fmt.Errorf("%w: missing data chunk", ErrWAVFormat)
	}

	pcm := SamplesFromPCM16(pcmData)
	if channels > 1 {
		pcm = DownmixMono(pcm, channels)
	}
	return pcm, sampleRate, nil
}
