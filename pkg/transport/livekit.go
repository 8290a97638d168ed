package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/vocero-ai/vocero/pkg/audio"
)

const frameDuration = 20 * time.Millisecond

// LiveKitTransport joins a room as the agent participant and bridges
// audio through a PCMU 8 kHz track.
type LiveKitTransport struct {
	url   string
	token string

	mu        sync.Mutex
	room      *lksdk.Room
	track     *lksdk.LocalTrack
	connected bool

	// playGen invalidates in-flight playback; each PublishAudio owns
	// one generation and stops as soon as it is no longer current.
	playGen atomic.Int64

	remote chan RemoteFrame
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewLiveKit returns a transport for one room join token.
func NewLiveKit(url, joinToken string) *LiveKitTransport {
	return &LiveKitTransport{
		url:    url,
		token:  joinToken,
		remote: make(chan RemoteFrame, 64),
		done:   make(chan struct{}),
	}
}

func (t *LiveKitTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		return fmt.Errorf("already connected")
	}

	room, err := lksdk.ConnectToRoomWithToken(t.url, t.token, &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: t.onTrackSubscribed,
		},
	})
	if err != nil {
		return fmt.Errorf("connect to room: %w", err)
	}

	// The carrier leg is 8 kHz μ-law; publishing PCMU end to end avoids
	// a transcode on the hot path.
	track, err := lksdk.NewLocalTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypePCMU,
		ClockRate: 8000,
		Channels:  1,
	})
	if err != nil {
		room.Disconnect()
		return fmt.Errorf("create audio track: %w", err)
	}
	if _, err := room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   "agent-voice",
		Source: livekit.TrackSource_MICROPHONE,
	}); err != nil {
		room.Disconnect()
		return fmt.Errorf("publish audio track: %w", err)
	}

	t.room = room
	t.track = track
	t.connected = true
	return nil
}

func (t *LiveKitTransport) PublishAudio(ctx context.Context, pcm []int16, sampleRate int) error {
	t.mu.Lock()
	track := t.track
	t.mu.Unlock()
	if track == nil {
		return fmt.Errorf("not connected")
	}

	if sampleRate != 8000 {
		pcm = audio.Resample(pcm, sampleRate, 8000)
	}
	payload := audio.MulawEncodeSamples(pcm)

	gen := t.playGen.Add(1)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for off := 0; off < len(payload); off += FrameSamples {
		if t.playGen.Load() != gen {
			return nil
		}
		end := off + FrameSamples
		if end > len(payload) {
			end = len(payload)
		}
		if err := track.WriteSample(media.Sample{
			Data:     payload[off:end],
			Duration: frameDuration,
		}, nil); err != nil {
			return fmt.Errorf("write audio sample: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

func (t *LiveKitTransport) InterruptPlayback() {
	t.playGen.Add(1)
}

func (t *LiveKitTransport) RemoteAudio() <-chan RemoteFrame {
	return t.remote
}

func (t *LiveKitTransport) Disconnect() {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return
	}
	t.connected = false
	close(t.done)
	if t.room != nil {
		t.room.Disconnect()
		t.room = nil
		t.track = nil
	}
	t.mu.Unlock()

	t.wg.Wait()
	close(t.remote)
}

func (t *LiveKitTransport) onTrackSubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		rate := int(track.Codec().ClockRate)
		for {
			select {
			case <-t.done:
				return
			default:
			}

			rtp, _, err := track.ReadRTP()
			if err != nil {
				return
			}
			frame := RemoteFrame{Payload: rtp.Payload, SampleRate: rate}
			select {
			case t.remote <- frame:
			case <-t.done:
				return
			default:
				// Real-time audio: dropping beats backpressure.
				slog.Debug("Remote audio frame dropped", "participant", rp.Identity())
			}
		}
	}()
}
