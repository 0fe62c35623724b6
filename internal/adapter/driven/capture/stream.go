package capture

import (
	"sync"
	"sync/atomic"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// gatedTrack is a local track whose media only flows while enabled.
// Disabling it keeps the track negotiated but stops sending.
type gatedTrack struct {
	kind    domain.MediaKind
	local   webrtc.TrackLocal
	out     rtpWriter
	enabled atomic.Bool
}

type rtpWriter interface {
	WriteRTP(*rtp.Packet) error
}

func newGatedTrack(kind domain.MediaKind, local *webrtc.TrackLocalStaticRTP) *gatedTrack {
	g := &gatedTrack{kind: kind, local: local, out: local}
	g.enabled.Store(true)
	return g
}

// writeRTP forwards pkt unless the track is disabled.
func (g *gatedTrack) writeRTP(pkt *rtp.Packet) error {
	if !g.enabled.Load() {
		return nil
	}
	return g.out.WriteRTP(pkt)
}

// Stream is a captured local stream. It implements port.LocalStream and
// exposes its tracks to the peer adapter.
type Stream struct {
	id     string
	tracks []*gatedTrack

	stopOnce sync.Once
	stops    []func()
	done     chan struct{}
}

func newStream(tracks []*gatedTrack, stops ...func()) *Stream {
	return &Stream{
		id:     uuid.NewString(),
		tracks: tracks,
		stops:  stops,
		done:   make(chan struct{}),
	}
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Kinds() []domain.MediaKind {
	kinds := make([]domain.MediaKind, 0, len(s.tracks))
	for _, t := range s.tracks {
		kinds = append(kinds, t.kind)
	}
	return kinds
}

func (s *Stream) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t.local)
	}
	return out
}

func (s *Stream) SetEnabled(kind domain.MediaKind, enabled bool) {
	for _, t := range s.tracks {
		if t.kind == kind {
			t.enabled.Store(enabled)
		}
	}
}

func (s *Stream) Enabled(kind domain.MediaKind) bool {
	for _, t := range s.tracks {
		if t.kind == kind {
			return t.enabled.Load()
		}
	}
	return false
}

// Stop releases the capture devices. Safe to call more than once.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		for _, stop := range s.stops {
			stop()
		}
	})
}

// Done is closed once the stream is stopped.
func (s *Stream) Done() <-chan struct{} { return s.done }
