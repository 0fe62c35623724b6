package pion

import (
	"sync"
	"sync/atomic"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// remoteStream groups every track received on one connection. Rendering is
// left to the owner; until then packets are drained and counted.
type remoteStream struct {
	id string

	mu        sync.Mutex
	kinds     []domain.MediaKind
	receivers []*webrtc.RTPReceiver
	released  bool

	audioPackets atomic.Uint64
	videoPackets atomic.Uint64

	stopped  chan struct{}
	stopOnce sync.Once
}

func newRemoteStream() *remoteStream {
	return &remoteStream{
		id:      uuid.NewString(),
		stopped: make(chan struct{}),
	}
}

func (s *remoteStream) ID() string { return s.id }

func (s *remoteStream) Kinds() []domain.MediaKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.MediaKind(nil), s.kinds...)
}

// Packets returns how many RTP packets of kind have been received.
func (s *remoteStream) Packets(kind domain.MediaKind) uint64 {
	if kind == domain.MediaVideo {
		return s.videoPackets.Load()
	}
	return s.audioPackets.Load()
}

func (s *remoteStream) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.released = true
		receivers := s.receivers
		s.receivers = nil
		s.mu.Unlock()

		close(s.stopped)
		for _, r := range receivers {
			r.Stop()
		}
	})
}

func (s *remoteStream) add(kind domain.MediaKind, r *webrtc.RTPReceiver) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	s.kinds = append(s.kinds, kind)
	s.receivers = append(s.receivers, r)
	return true
}

func (s *remoteStream) drain(kind domain.MediaKind, track *webrtc.TrackRemote) {
	counter := &s.audioPackets
	if kind == domain.MediaVideo {
		counter = &s.videoPackets
	}
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
		counter.Add(1)
	}
}
