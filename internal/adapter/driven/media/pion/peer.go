package pion

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrPeerFailed = errors.New("peer connection failed")

// TrackSource is implemented by local streams whose media can be sent over a
// pion connection. Streams that are not track sources produce a receive-only
// connection.
type TrackSource interface {
	Tracks() []webrtc.TrackLocal
}

type Options struct {
	// PLIInterval is how often a keyframe is requested on remote video.
	PLIInterval time.Duration
	Logger      zerolog.Logger
}

// Factory implements port.PeerFactory. Gathering is non-trickle: a local
// description is emitted only once ICE gathering has completed, with every
// candidate embedded in it.
type Factory struct {
	api         *webrtc.API
	pliInterval time.Duration
}

func NewFactory(opts Options) (*Factory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.LoggerFactory = LoggerFactory{Logger: opts.Logger}

	if opts.PLIInterval <= 0 {
		opts.PLIInterval = 3 * time.Second
	}

	return &Factory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(interceptorRegistry),
			webrtc.WithSettingEngine(se),
		),
		pliInterval: opts.PLIInterval,
	}, nil
}

func (f *Factory) NewPeer(cfg port.PeerConfig, local port.LocalStream, events port.PeerEvents) (port.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers(cfg.ICEServers)})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	p := &peer{
		pc:          pc,
		role:        cfg.Role,
		events:      events,
		pliInterval: f.pliInterval,
		closed:      make(chan struct{}),
		l:           log.With().Str("role", cfg.Role.String()).Logger(),
	}
	p.remote = newRemoteStream()

	if err := p.addLocalMedia(local); err != nil {
		pc.Close()
		return nil, err
	}

	pc.OnTrack(p.onTrack)
	pc.OnConnectionStateChange(p.onStateChange)

	if cfg.Role == domain.RoleInitiator {
		offer, err := pc.CreateOffer(nil)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("create offer: %w", err)
		}
		if err := p.setLocal(offer); err != nil {
			pc.Close()
			return nil, err
		}
	}
	return p, nil
}

func iceServers(servers []port.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, webrtc.ICEServer{URLs: s.URLs})
	}
	return out
}

type peer struct {
	pc          *webrtc.PeerConnection
	role        domain.Role
	events      port.PeerEvents
	pliInterval time.Duration
	l           zerolog.Logger

	remote    *remoteStream
	surfaced  atomic.Bool
	detached  atomic.Bool
	closed    chan struct{}
	closeOnce sync.Once
}

func (p *peer) addLocalMedia(local port.LocalStream) error {
	sending := map[webrtc.RTPCodecType]bool{}
	if src, ok := local.(TrackSource); ok {
		for _, track := range src.Tracks() {
			if _, err := p.pc.AddTrack(track); err != nil {
				return fmt.Errorf("add %s track: %w", track.Kind(), err)
			}
			sending[track.Kind()] = true
		}
	}

	// Keep both m-lines so the remote side can always send audio and video.
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if sending[kind] {
			continue
		}
		if _, err := p.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return nil
}

// setLocal applies desc and emits the complete description once gathering
// finishes.
func (p *peer) setLocal(desc webrtc.SessionDescription) error {
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("set local %s: %w", desc.Type, err)
	}
	go func() {
		select {
		case <-gathered:
		case <-p.closed:
			return
		}
		ld := p.pc.LocalDescription()
		if ld == nil {
			return
		}
		p.l.Debug().Int("sdp_len", len(ld.SDP)).Msg("ICE gathering complete")
		p.emit(func(ev port.PeerEvents) {
			if ev.OnLocalDescription != nil {
				ev.OnLocalDescription(domain.SessionDescription{Type: p.role.Produces(), SDP: ld.SDP})
			}
		})
	}()
	return nil
}

func (p *peer) ApplyRemoteDescription(desc domain.SessionDescription) error {
	sdpType := webrtc.SDPTypeOffer
	if desc.Type == domain.SDPTypeAnswer {
		sdpType = webrtc.SDPTypeAnswer
	}
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP}); err != nil {
		return fmt.Errorf("set remote %s: %w", desc.Type, err)
	}

	if p.role == domain.RoleResponder && sdpType == webrtc.SDPTypeOffer {
		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		return p.setLocal(answer)
	}
	return nil
}

func (p *peer) AddICECandidate(c domain.ICECandidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func (p *peer) RemoveListeners() {
	p.detached.Store(true)
}

func (p *peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		p.remote.Stop()
		err = p.pc.Close()
	})
	return err
}

func (p *peer) emit(fn func(port.PeerEvents)) {
	if p.detached.Load() {
		return
	}
	fn(p.events)
}

func (p *peer) onStateChange(s webrtc.PeerConnectionState) {
	p.l.Debug().Str("state", s.String()).Msg("Peer connection state changed")
	switch s {
	case webrtc.PeerConnectionStateConnected:
		p.emit(func(ev port.PeerEvents) {
			if ev.OnConnected != nil {
				ev.OnConnected()
			}
		})
	case webrtc.PeerConnectionStateDisconnected:
		p.l.Warn().Msg("Peer connection interrupted, waiting for ICE to recover")
	case webrtc.PeerConnectionStateFailed:
		p.emit(func(ev port.PeerEvents) {
			if ev.OnError != nil {
				ev.OnError(ErrPeerFailed)
			}
		})
	case webrtc.PeerConnectionStateClosed:
		p.emit(func(ev port.PeerEvents) {
			if ev.OnClosed != nil {
				ev.OnClosed()
			}
		})
	}
}

func (p *peer) onTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	kind := domain.MediaAudio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = domain.MediaVideo
	}
	p.l.Debug().Str("kind", string(kind)).Str("codec", track.Codec().MimeType).Msg("Received remote track")

	if !p.remote.add(kind, receiver) {
		// Arrived after the stream was released.
		receiver.Stop()
		return
	}
	go p.remote.drain(kind, track)
	if kind == domain.MediaVideo {
		go p.requestKeyframes(track)
	}

	if p.surfaced.CompareAndSwap(false, true) {
		p.emit(func(ev port.PeerEvents) {
			if ev.OnRemoteStream != nil {
				ev.OnRemoteStream(p.remote)
			}
		})
	}
}

// requestKeyframes sends a PLI right away and then periodically until the
// remote stream is released.
func (p *peer) requestKeyframes(track *webrtc.TrackRemote) {
	sendPLI := func() bool {
		err := p.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
		})
		return err == nil
	}
	if !sendPLI() {
		return
	}

	ticker := time.NewTicker(p.pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.remote.stopped:
			return
		case <-ticker.C:
			if !sendPLI() {
				return
			}
		}
	}
}
