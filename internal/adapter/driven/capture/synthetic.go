package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	opusFrame         = 20 * time.Millisecond
	opusSamplesPerPkt = 960
)

// opusSilence is a single 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Synthetic produces tracks without touching any device: audio is a stream
// of Opus silence, video is negotiated but carries no frames. It is used by
// the headless softphone and in tests.
type Synthetic struct{}

func (Synthetic) Capture(ctx context.Context, c port.Constraints) (port.LocalStream, error) {
	if !c.Audio && !c.Video {
		return nil, domain.NewCaptureError(domain.CaptureConstraints, fmt.Errorf("neither audio nor video requested"))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var tracks []*gatedTrack
	var audio *gatedTrack
	if c.Audio {
		t, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		}, "audio", "synthetic")
		if err != nil {
			return nil, domain.NewCaptureError(domain.CaptureConstraints, err)
		}
		audio = newGatedTrack(domain.MediaAudio, t)
		tracks = append(tracks, audio)
	}
	if c.Video {
		t, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		}, "video", "synthetic")
		if err != nil {
			return nil, domain.NewCaptureError(domain.CaptureConstraints, err)
		}
		tracks = append(tracks, newGatedTrack(domain.MediaVideo, t))
	}

	s := newStream(tracks)
	if audio != nil {
		go generateSilence(audio, s.Done())
	}
	log.Debug().Str("stream_id", s.ID()).Int("tracks", len(tracks)).Msg("Synthetic media ready")
	return s, nil
}

func generateSilence(track *gatedTrack, done <-chan struct{}) {
	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()

	var seq uint16
	var ts uint32
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			seq++
			ts += opusSamplesPerPkt
			pkt := &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					PayloadType:    111,
					SequenceNumber: seq,
					Timestamp:      ts,
					Marker:         seq == 1,
				},
				Payload: opusSilence,
			}
			if err := track.writeRTP(pkt); err != nil {
				log.Trace().Err(err).Msg("Synthetic audio write failed")
			}
		}
	}
}
