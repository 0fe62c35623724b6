package port

import "github.com/Wyydra/yacall/internal/core/domain"

type ICEServer struct {
	URLs []string
}

type PeerConfig struct {
	Role       domain.Role
	ICEServers []ICEServer
}

// PeerEvents are raised by a PeerConnection from its own goroutines. After
// RemoveListeners no new event is raised, though one already in flight may
// still arrive.
type PeerEvents struct {
	OnLocalDescription func(domain.SessionDescription)
	OnRemoteStream     func(RemoteStream)
	OnConnected        func()
	OnError            func(error)
	OnClosed           func()
}

// PeerConnection is the negotiated connection handle for one call attempt.
// An initiator emits its offer on its own once gathering completes; a
// responder emits its answer after the remote offer has been applied.
type PeerConnection interface {
	ApplyRemoteDescription(desc domain.SessionDescription) error
	AddICECandidate(c domain.ICECandidate) error
	RemoveListeners()
	Close() error
}

type PeerFactory interface {
	NewPeer(cfg PeerConfig, local LocalStream, events PeerEvents) (PeerConnection, error)
}

// RemoteStream is the media received from the other participant. Stop is
// idempotent.
type RemoteStream interface {
	ID() string
	Kinds() []domain.MediaKind
	Stop()
}
