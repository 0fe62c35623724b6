//go:build linux && cgo

package capture

import (
	"context"
	"errors"
	"math/rand/v2"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const rtpMTU = 1200

// Device captures the camera and microphone through pion/mediadevices
// (V4L2 and malgo). Encoded RTP is relayed into gated tracks so the call can
// mute without renegotiating.
type Device struct {
	VideoBitRate int
	MaxWidth     int
	MaxHeight    int
}

type captureResult struct {
	stream *Stream
	err    error
}

// Capture opens the devices. Opening can block on the OS; if ctx ends first
// the late result is released in the background.
func (d Device) Capture(ctx context.Context, c port.Constraints) (port.LocalStream, error) {
	if !c.Audio && !c.Video {
		return nil, domain.NewCaptureError(domain.CaptureConstraints, errors.New("neither audio nor video requested"))
	}

	ch := make(chan captureResult, 1)
	go func() {
		s, err := d.open(c)
		ch <- captureResult{stream: s, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return r.stream, nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.stream != nil {
				r.stream.Stop()
			}
		}()
		return nil, ctx.Err()
	}
}

func (d Device) codecSelector() (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000
	if d.VideoBitRate > 0 {
		vpxParams.BitRate = d.VideoBitRate
	}

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

type attempt struct {
	video bool
	audio bool
	label string
}

func attempts(c port.Constraints) []attempt {
	switch {
	case c.Audio && c.Video:
		return []attempt{
			{true, true, "video+audio"},
			{true, false, "video-only"},
			{false, true, "audio-only"},
		}
	case c.Video:
		return []attempt{{true, false, "video-only"}}
	default:
		return []attempt{{false, true, "audio-only"}}
	}
}

func (d Device) open(c port.Constraints) (*Stream, error) {
	selector, err := d.codecSelector()
	if err != nil {
		return nil, domain.NewCaptureError(domain.CaptureConstraints, err)
	}

	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		return nil, domain.NewCaptureError(domain.CaptureDeviceMissing, errors.New("no media devices found"))
	}
	for _, dev := range devices {
		log.Debug().Interface("kind", dev.Kind).Str("label", dev.Label).Msg("Media device")
	}

	maxWidth, maxHeight := d.MaxWidth, d.MaxHeight
	if maxWidth <= 0 {
		maxWidth = 640
	}
	if maxHeight <= 0 {
		maxHeight = 480
	}

	// GetUserMedia fails as a unit, so a missing microphone would also lose
	// the camera. Fall back to fewer devices before giving up.
	var lastErr error
	for _, a := range attempts(c) {
		constraints := mediadevices.MediaStreamConstraints{Codec: selector}
		if a.video {
			constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
				// MJPEG nodes on some cameras emit frames the encoder rejects.
				mc.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				mc.Width = prop.IntRanged{Max: maxWidth}
				mc.Height = prop.IntRanged{Max: maxHeight}
			}
		}
		if a.audio {
			constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
		}

		ms, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Warn().Err(err).Str("attempt", a.label).Msg("GetUserMedia failed")
			lastErr = err
			continue
		}

		s, err := relay(ms.GetTracks())
		if err != nil {
			log.Warn().Err(err).Str("attempt", a.label).Msg("Captured track unusable")
			lastErr = err
			continue
		}
		log.Info().Str("attempt", a.label).Int("tracks", len(s.tracks)).Msg("Local media captured")
		return s, nil
	}
	return nil, Classify(lastErr)
}

// relay reads encoded RTP from each device track and writes it into a gated
// static track. On error every device track is closed.
func relay(devTracks []mediadevices.Track) (*Stream, error) {
	var (
		tracks []*gatedTrack
		stops  []func()
	)
	closeAll := func() {
		for _, stop := range stops {
			stop()
		}
		for _, t := range devTracks {
			t.Close()
		}
	}

	type pump struct {
		reader mediadevices.RTPReadCloser
		track  *gatedTrack
	}
	var pumps []pump

	for _, dt := range devTracks {
		kind := domain.MediaAudio
		capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
		if dt.Kind() == webrtc.RTPCodecTypeVideo {
			kind = domain.MediaVideo
			capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
		}

		reader, err := dt.NewRTPReader(capability.MimeType, rand.Uint32(), rtpMTU)
		if err != nil {
			closeAll()
			return nil, err
		}
		stops = append(stops, func() { reader.Close() })

		local, err := webrtc.NewTrackLocalStaticRTP(capability, string(kind), "device")
		if err != nil {
			closeAll()
			return nil, err
		}
		gt := newGatedTrack(kind, local)
		tracks = append(tracks, gt)
		pumps = append(pumps, pump{reader: reader, track: gt})

		dt.OnEnded(func(err error) {
			if err != nil {
				log.Warn().Err(err).Str("kind", string(kind)).Msg("Local track ended")
			}
		})
	}

	for _, t := range devTracks {
		stops = append(stops, func() { t.Close() })
	}
	s := newStream(tracks, stops...)
	for _, p := range pumps {
		go forward(p.reader, p.track, s.Done())
	}
	return s, nil
}

func forward(reader mediadevices.RTPReadCloser, track *gatedTrack, done <-chan struct{}) {
	for {
		pkts, release, err := reader.Read()
		if err != nil {
			select {
			case <-done:
			default:
				log.Warn().Err(err).Str("kind", string(track.kind)).Msg("Device read failed")
			}
			return
		}
		for _, pkt := range pkts {
			if err := track.writeRTP(pkt); err != nil {
				log.Trace().Err(err).Msg("Local RTP write failed")
			}
		}
		release()
	}
}
