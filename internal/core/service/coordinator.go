package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type CoordinatorConfig struct {
	CallID             domain.CallID
	Local              domain.UserID
	ICEServers         []port.ICEServer
	NegotiationTimeout time.Duration // 0 disables
}

// CoordinatorHooks are invoked in order on a dedicated goroutine, never on
// the coordinator's event loop, so they may call back into the coordinator.
type CoordinatorHooks struct {
	OnRemoteStream func(port.RemoteStream)
	OnConnected    func()
	OnClosed       func(err error)
	OnStateChange  func(domain.State)
}

type envelope struct {
	ev    event
	reply chan error
}

// Coordinator drives one call session. All transitions run on a single
// goroutine; handle callbacks, signaling input and user actions are queued
// onto it.
type Coordinator struct {
	cfg     CoordinatorConfig
	peers   port.PeerFactory
	channel port.SignalingChannel
	hooks   CoordinatorHooks
	l       zerolog.Logger

	events chan envelope
	quit   chan struct{}
	done   chan struct{}
	stop   sync.Once
	notes  *notifier

	// owned by run
	m       machine
	peer    port.PeerConnection
	peerGen uint64
	remote  port.RemoteStream
	timer   *time.Timer

	mu      sync.RWMutex
	state   domain.State
	exposed port.RemoteStream
}

func NewCoordinator(cfg CoordinatorConfig, peers port.PeerFactory, channel port.SignalingChannel, hooks CoordinatorHooks) *Coordinator {
	c := &Coordinator{
		cfg:     cfg,
		peers:   peers,
		channel: channel,
		hooks:   hooks,
		l:       log.With().Str("call_id", cfg.CallID.String()).Str("user_id", cfg.Local.String()).Logger(),
		events:  make(chan envelope, 32),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		notes:   newNotifier(),
	}
	go c.notes.run()
	go c.run()
	return c
}

// Start creates a fresh peer handle for role and target, replacing any
// handle a previous Start left behind.
func (c *Coordinator) Start(local port.LocalStream, role domain.Role, target domain.UserID) error {
	return c.call(startEvent{local: local, role: role, target: target})
}

func (c *Coordinator) ReceiveOffer(desc domain.SessionDescription) {
	desc.Type = domain.SDPTypeOffer
	c.post(remoteDescriptionEvent{desc: desc})
}

func (c *Coordinator) ReceiveAnswer(desc domain.SessionDescription) {
	desc.Type = domain.SDPTypeAnswer
	c.post(remoteDescriptionEvent{desc: desc})
}

func (c *Coordinator) ReceiveICECandidate(candidate domain.ICECandidate) {
	c.post(candidateEvent{candidate: candidate})
}

// Cleanup tears the session down without firing OnClosed. It is synchronous
// and idempotent.
func (c *Coordinator) Cleanup() {
	if err := c.call(cleanupEvent{}); err != nil && err != domain.ErrCoordinatorStopped {
		c.l.Warn().Err(err).Msg("Cleanup failed")
	}
}

// Stop cleans up and ends the event loop. Hooks already queued are still
// delivered, possibly after Stop returns. Safe to call from a hook.
func (c *Coordinator) Stop() {
	c.stop.Do(func() {
		c.Cleanup()
		close(c.quit)
		<-c.done
		c.notes.stop()
	})
}

func (c *Coordinator) State() domain.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Coordinator) Connected() bool {
	return c.State() == domain.StateConnected
}

func (c *Coordinator) RemoteStream() port.RemoteStream {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exposed
}

func (c *Coordinator) post(ev event) {
	select {
	case c.events <- envelope{ev: ev}:
	case <-c.quit:
	}
}

func (c *Coordinator) call(ev event) error {
	reply := make(chan error, 1)
	select {
	case c.events <- envelope{ev: ev, reply: reply}:
	case <-c.quit:
		return domain.ErrCoordinatorStopped
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return domain.ErrCoordinatorStopped
	}
}

func (c *Coordinator) run() {
	defer close(c.done)
	for {
		select {
		case <-c.quit:
			c.dispatch(cleanupEvent{})
			return
		case env := <-c.events:
			err := c.dispatch(env.ev)
			if env.reply != nil {
				env.reply <- err
			}
		}
	}
}

func (c *Coordinator) dispatch(ev event) error {
	prev := c.m.state
	next, effects, err := transition(c.m, ev)
	c.m = next

	var follow event
	for _, e := range effects {
		if follow = c.apply(e); follow != nil {
			break
		}
	}
	c.publish(prev)

	if follow != nil {
		if ferr := c.dispatch(follow); ferr != nil && err == nil {
			err = ferr
		}
		if pe, ok := follow.(peerErrorEvent); ok && err == nil {
			err = pe.err
		}
	}
	return err
}

// apply executes one effect. A failing handle operation is returned as the
// event to feed back into the machine.
func (c *Coordinator) apply(e effect) event {
	switch e := e.(type) {
	case createPeerEffect:
		peer, err := c.peers.NewPeer(port.PeerConfig{Role: e.role, ICEServers: c.cfg.ICEServers}, e.local, c.peerEvents(e.gen))
		if err != nil {
			return peerErrorEvent{gen: e.gen, err: fmt.Errorf("create peer: %w", err)}
		}
		c.peer = peer
		c.peerGen = e.gen
		c.l.Debug().Str("role", e.role.String()).Uint64("gen", e.gen).Msg("Peer created")

	case applyRemoteEffect:
		if !c.holds(e.gen) {
			return nil
		}
		if err := c.peer.ApplyRemoteDescription(e.desc); err != nil {
			return peerErrorEvent{gen: e.gen, err: fmt.Errorf("apply remote %s: %w", e.desc.Type, err)}
		}
		c.l.Debug().Str("type", string(e.desc.Type)).Int("sdp_len", len(e.desc.SDP)).Msg("Remote description applied")

	case addCandidateEffect:
		if !c.holds(e.gen) {
			return nil
		}
		if err := c.peer.AddICECandidate(e.candidate); err != nil {
			c.l.Warn().Err(err).Msg("Failed to add ICE candidate")
		}

	case sendDescriptionEffect:
		sig := domain.NewDescriptionSignal(c.cfg.CallID, c.cfg.Local, e.target, e.desc)
		if err := c.channel.Send(context.Background(), sig); err != nil {
			c.l.Warn().Err(err).Str("kind", string(sig.Kind)).Msg("Failed to send signal")
		} else {
			c.l.Debug().Str("kind", string(sig.Kind)).Str("to", e.target.String()).Msg("Signal sent")
		}

	case destroyPeerEffect:
		c.stopTimer()
		if c.peer == nil || c.peerGen != e.gen {
			return nil
		}
		c.peer.RemoveListeners()
		if err := c.peer.Close(); err != nil {
			c.l.Debug().Err(err).Msg("Peer close error")
		}
		c.peer = nil

	case releaseRemoteEffect:
		if c.remote != nil {
			c.remote.Stop()
			c.remote = nil
		}

	case surfaceStreamEffect:
		if c.remote == e.stream {
			return nil
		}
		if c.remote != nil {
			c.remote.Stop()
		}
		c.remote = e.stream
		if fn := c.hooks.OnRemoteStream; fn != nil {
			stream := e.stream
			c.notes.push(func() { fn(stream) })
		}

	case stopStreamEffect:
		if e.stream != nil {
			e.stream.Stop()
		}

	case notifyConnectedEffect:
		c.l.Info().Msg("Call connected")
		if fn := c.hooks.OnConnected; fn != nil {
			c.notes.push(fn)
		}

	case notifyClosedEffect:
		c.l.Info().AnErr("cause", e.err).Msg("Call closed")
		if fn := c.hooks.OnClosed; fn != nil {
			err := e.err
			c.notes.push(func() { fn(err) })
		}

	case reportErrorEffect:
		c.l.Error().Err(e.err).Msg("Call session error")

	case armTimeoutEffect:
		c.stopTimer()
		if d := c.cfg.NegotiationTimeout; d > 0 {
			gen := e.gen
			c.timer = time.AfterFunc(d, func() { c.post(timeoutEvent{gen: gen}) })
		}

	case traceEffect:
		c.l.Debug().Msg(e.msg)
	}
	return nil
}

// peerEvents binds every callback to gen so events from a superseded handle
// are recognised and ignored.
func (c *Coordinator) peerEvents(gen uint64) port.PeerEvents {
	return port.PeerEvents{
		OnLocalDescription: func(desc domain.SessionDescription) {
			c.post(localDescriptionEvent{gen: gen, desc: desc})
		},
		OnRemoteStream: func(stream port.RemoteStream) {
			c.post(remoteStreamEvent{gen: gen, stream: stream})
		},
		OnConnected: func() {
			c.post(connectedEvent{gen: gen})
		},
		OnError: func(err error) {
			c.post(peerErrorEvent{gen: gen, err: err})
		},
		OnClosed: func() {
			c.post(peerClosedEvent{gen: gen})
		},
	}
}

func (c *Coordinator) holds(gen uint64) bool {
	return c.peer != nil && c.peerGen == gen
}

func (c *Coordinator) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coordinator) publish(prev domain.State) {
	c.mu.Lock()
	c.state = c.m.state
	c.exposed = c.remote
	c.mu.Unlock()

	if c.m.state != prev {
		c.l.Debug().Str("from", prev.String()).Str("to", c.m.state.String()).Msg("State changed")
		if fn := c.hooks.OnStateChange; fn != nil {
			s := c.m.state
			c.notes.push(func() { fn(s) })
		}
	}
}

// notifier runs owner hooks in submission order on its own goroutine.
type notifier struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
	quit  chan struct{}
	done  chan struct{}
}

func newNotifier() *notifier {
	return &notifier{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (n *notifier) push(fn func()) {
	n.mu.Lock()
	n.queue = append(n.queue, fn)
	n.mu.Unlock()
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.done)
	for {
		n.mu.Lock()
		batch := n.queue
		n.queue = nil
		n.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-n.wake:
		case <-n.quit:
			n.mu.Lock()
			empty := len(n.queue) == 0
			n.mu.Unlock()
			if empty {
				return
			}
		}
	}
}

// stop lets the notifier exit once its queue is empty.
func (n *notifier) stop() {
	close(n.quit)
}
