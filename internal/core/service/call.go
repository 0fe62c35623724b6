package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Settings struct {
	ICEServers         []port.ICEServer
	NegotiationTimeout time.Duration
	Constraints        port.Constraints
	RecordTimeout      time.Duration
}

type CallHooks struct {
	OnStateChange  func(domain.State)
	OnRemoteStream func(port.RemoteStream)
}

type CallService struct {
	self     domain.UserID
	channel  port.SignalingChannel
	capturer port.MediaCapturer
	peers    port.PeerFactory
	recorder port.CallRecorder
	settings Settings
}

func NewCallService(self domain.UserID, channel port.SignalingChannel, capturer port.MediaCapturer, peers port.PeerFactory, recorder port.CallRecorder, settings Settings) *CallService {
	if settings.RecordTimeout <= 0 {
		settings.RecordTimeout = 5 * time.Second
	}
	return &CallService{
		self:     self,
		channel:  channel,
		capturer: capturer,
		peers:    peers,
		recorder: recorder,
		settings: settings,
	}
}

// Place starts an outgoing call to remote.
func (s *CallService) Place(ctx context.Context, remote domain.UserID, hooks CallHooks) (*Call, error) {
	if err := s.checkPeer(remote); err != nil {
		return nil, err
	}
	return s.begin(ctx, domain.CallAttempt{
		ID:     domain.NewCallID(),
		Local:  s.self,
		Remote: remote,
		Role:   domain.RoleInitiator,
	}, hooks), nil
}

// Accept answers the call callID placed by caller. The invitation itself is
// delivered outside this package.
func (s *CallService) Accept(ctx context.Context, callID domain.CallID, caller domain.UserID, hooks CallHooks) (*Call, error) {
	if err := s.checkPeer(caller); err != nil {
		return nil, err
	}
	if callID.IsZero() {
		return nil, errors.New("call id is required")
	}
	return s.begin(ctx, domain.CallAttempt{
		ID:     callID,
		Local:  s.self,
		Remote: caller,
		Role:   domain.RoleResponder,
	}, hooks), nil
}

// AcceptOffer answers the call an incoming offer invites to. The offer is
// handed to the new call, which buffers it until local media is ready.
func (s *CallService) AcceptOffer(ctx context.Context, offer domain.Signal, hooks CallHooks) (*Call, error) {
	if offer.Kind != domain.SignalOffer || offer.Description == nil {
		return nil, fmt.Errorf("not an offer: %s", offer.Kind)
	}
	c, err := s.Accept(ctx, offer.CallID, offer.From, hooks)
	if err != nil {
		return nil, err
	}
	c.coord.ReceiveOffer(*offer.Description)
	return c, nil
}

func (s *CallService) checkPeer(remote domain.UserID) error {
	if remote.IsZero() {
		return errors.New("remote participant is required")
	}
	if remote == s.self {
		return fmt.Errorf("cannot call yourself (%s)", remote)
	}
	return nil
}

func (s *CallService) begin(ctx context.Context, attempt domain.CallAttempt, hooks CallHooks) *Call {
	ctx, cancel := context.WithCancel(ctx)
	c := &Call{
		attempt: attempt,
		svc:     s,
		l:       log.With().Str("call_id", attempt.ID.String()).Str("role", attempt.Role.String()).Logger(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		started: make(chan struct{}),
	}
	c.coord = NewCoordinator(CoordinatorConfig{
		CallID:             attempt.ID,
		Local:              attempt.Local,
		ICEServers:         s.settings.ICEServers,
		NegotiationTimeout: s.settings.NegotiationTimeout,
	}, s.peers, s.channel, CoordinatorHooks{
		OnRemoteStream: hooks.OnRemoteStream,
		OnConnected:    c.markConnected,
		OnClosed: func(err error) {
			// A failed Start also closes the session; let run record it
			// as a start failure first.
			<-c.started
			c.end(domain.EndRemoteClosed, err)
		},
		OnStateChange: hooks.OnStateChange,
	})

	// Subscribe before capture so signals that beat the local start are buffered.
	c.subscribe()

	c.l.Info().Str("remote", attempt.Remote.String()).Msg("Call attempt started")
	go c.run()
	return c
}

// Call binds one coordinator to one call attempt. It owns the local media.
type Call struct {
	attempt domain.CallAttempt
	svc     *CallService
	coord   *Coordinator
	l       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	unsubs []func()

	mu          sync.Mutex
	local       port.LocalStream
	audioMuted  bool
	videoOff    bool
	connected   bool
	ended       bool
	reason      domain.EndReason
	err         error
	endOnce     sync.Once
	releaseOnce sync.Once
	done        chan struct{}
	started     chan struct{} // closed once run has handled Start's result
}

// subscribe listens only for the description kind the role consumes, so a
// stray offer to an initiator (or answer to a responder) never reaches the
// coordinator and cannot displace a buffered description.
func (c *Call) subscribe() {
	ch := c.svc.channel
	kind, receive := domain.SignalAnswer, c.coord.ReceiveAnswer
	if c.attempt.Role == domain.RoleResponder {
		kind, receive = domain.SignalOffer, c.coord.ReceiveOffer
	}
	expects := c.attempt.Role.Expects()

	c.unsubs = append(c.unsubs,
		ch.OnMessage(kind, func(sig domain.Signal) {
			if c.accepts(sig) && sig.Description != nil && sig.Description.Type == expects {
				receive(*sig.Description)
			}
		}),
		ch.OnMessage(domain.SignalCandidate, func(sig domain.Signal) {
			if c.accepts(sig) && sig.Candidate != nil {
				c.coord.ReceiveICECandidate(*sig.Candidate)
			}
		}),
	)
}

func (c *Call) accepts(sig domain.Signal) bool {
	if sig.From != c.attempt.Remote {
		return false
	}
	return sig.CallID.IsZero() || sig.CallID == c.attempt.ID
}

func (c *Call) run() {
	defer close(c.started)

	local, err := c.svc.capturer.Capture(c.ctx, c.svc.settings.Constraints)
	if err != nil {
		if c.ctx.Err() != nil {
			c.end(domain.EndLocalHangup, nil)
			return
		}
		var ce *domain.CaptureError
		if !errors.As(err, &ce) {
			ce = domain.NewCaptureError(domain.CaptureDeviceMissing, err)
		}
		c.l.Warn().Err(ce.Err).Str("category", string(ce.Category)).Msg(ce.Message())
		c.end(domain.EndCaptureFailed, ce)
		return
	}

	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		local.Stop()
		return
	}
	c.local = local
	local.SetEnabled(domain.MediaAudio, !c.audioMuted)
	local.SetEnabled(domain.MediaVideo, !c.videoOff)
	c.mu.Unlock()

	c.l.Debug().Str("stream_id", local.ID()).Msg("Local media captured")
	if err := c.coord.Start(local, c.attempt.Role, c.attempt.Remote); err != nil {
		c.end(domain.EndStartFailed, err)
	}
}

// Hangup ends the call locally. Safe to call more than once.
func (c *Call) Hangup() {
	c.end(domain.EndLocalHangup, nil)
}

// ToggleMute flips local audio. Returns true when muted.
func (c *Call) ToggleMute() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audioMuted = !c.audioMuted
	if c.local != nil {
		c.local.SetEnabled(domain.MediaAudio, !c.audioMuted)
	}
	c.l.Info().Bool("muted", c.audioMuted).Msg("Audio toggled")
	return c.audioMuted
}

// ToggleCamera flips local video. Returns true when the camera is off.
func (c *Call) ToggleCamera() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.videoOff = !c.videoOff
	if c.local != nil {
		c.local.SetEnabled(domain.MediaVideo, !c.videoOff)
	}
	c.l.Info().Bool("camera_off", c.videoOff).Msg("Video toggled")
	return c.videoOff
}

func (c *Call) Attempt() domain.CallAttempt     { return c.attempt }
func (c *Call) State() domain.State             { return c.coord.State() }
func (c *Call) Connected() bool                 { return c.coord.Connected() }
func (c *Call) RemoteStream() port.RemoteStream { return c.coord.RemoteStream() }
func (c *Call) Done() <-chan struct{}           { return c.done }

// Err returns the error that ended the call, if any. A capture failure is a
// *domain.CaptureError.
func (c *Call) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Call) Reason() domain.EndReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *Call) markConnected() {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
}

func (c *Call) end(reason domain.EndReason, err error) {
	c.endOnce.Do(func() {
		c.mu.Lock()
		c.ended = true
		c.reason = reason
		c.err = err
		local := c.local
		connected := c.connected
		c.mu.Unlock()

		c.cancel()
		for _, unsub := range c.unsubs {
			unsub()
		}
		c.releaseLocal(local)
		c.coord.Cleanup()
		c.coord.Stop()

		var ev *zerolog.Event
		if err != nil {
			ev = c.l.Warn().Err(err)
		} else {
			ev = c.l.Info()
		}
		ev.Str("reason", string(reason)).Bool("connected", connected).Msg("Call ended")

		c.record(domain.CallRecord{
			Attempt:   c.attempt,
			Connected: connected,
			Reason:    reason,
			EndedAt:   time.Now().UTC(),
		})
		close(c.done)
	})
}

func (c *Call) releaseLocal(local port.LocalStream) {
	if local == nil {
		return
	}
	c.releaseOnce.Do(local.Stop)
}

// record notifies the record-keeper without holding up teardown.
func (c *Call) record(rec domain.CallRecord) {
	if c.svc.recorder == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.svc.settings.RecordTimeout)
		defer cancel()
		if err := c.svc.recorder.CallEnded(ctx, rec); err != nil {
			c.l.Warn().Err(err).Msg("Failed to notify record keeper")
		}
	}()
}
