package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

const waitTimeout = 2 * time.Second

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type fakePeer struct {
	factory *fakePeerFactory
	role    domain.Role
	events  port.PeerEvents

	mu         sync.Mutex
	applied    []domain.SessionDescription
	candidates []domain.ICECandidate
	detached   bool
	closed     int
}

func (p *fakePeer) ApplyRemoteDescription(desc domain.SessionDescription) error {
	p.mu.Lock()
	p.applied = append(p.applied, desc)
	p.mu.Unlock()
	if p.factory.applyErr != nil {
		return p.factory.applyErr
	}
	if p.role == domain.RoleResponder && p.factory.autoDescribe {
		go p.EmitLocal(p.factory.answerSDP)
	}
	return nil
}

func (p *fakePeer) AddICECandidate(c domain.ICECandidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) RemoveListeners() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detached = true
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed++
	detached := p.detached
	p.mu.Unlock()
	// A real handle reports its own closure; it must be swallowed once
	// listeners are gone.
	if !detached && p.events.OnClosed != nil {
		p.events.OnClosed()
	}
	return nil
}

func (p *fakePeer) live() (port.PeerEvents, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events, !p.detached
}

func (p *fakePeer) EmitLocal(sdp string) {
	if ev, ok := p.live(); ok {
		ev.OnLocalDescription(domain.SessionDescription{Type: p.role.Produces(), SDP: sdp})
	}
}

func (p *fakePeer) EmitStream(s port.RemoteStream) {
	if ev, ok := p.live(); ok {
		ev.OnRemoteStream(s)
	}
}

func (p *fakePeer) EmitError(err error) {
	if ev, ok := p.live(); ok {
		ev.OnError(err)
	}
}

func (p *fakePeer) EmitClosed() {
	if ev, ok := p.live(); ok {
		ev.OnClosed()
	}
}

func (p *fakePeer) Applied() []domain.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.SessionDescription(nil), p.applied...)
}

func (p *fakePeer) Closed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) Detached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.detached
}

type fakePeerFactory struct {
	autoDescribe bool
	offerSDP     string
	answerSDP    string
	createErr    error
	applyErr     error

	mu    sync.Mutex
	peers []*fakePeer
}

func newFakePeerFactory() *fakePeerFactory {
	return &fakePeerFactory{autoDescribe: true, offerSDP: "SDP_A", answerSDP: "SDP_B"}
}

func (f *fakePeerFactory) NewPeer(cfg port.PeerConfig, local port.LocalStream, events port.PeerEvents) (port.PeerConnection, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	p := &fakePeer{factory: f, role: cfg.Role, events: events}
	f.mu.Lock()
	f.peers = append(f.peers, p)
	f.mu.Unlock()
	if cfg.Role == domain.RoleInitiator && f.autoDescribe {
		go p.EmitLocal(f.offerSDP)
	}
	return p, nil
}

func (f *fakePeerFactory) Peers() []*fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakePeer(nil), f.peers...)
}

func (f *fakePeerFactory) Last(t *testing.T) *fakePeer {
	t.Helper()
	peers := f.Peers()
	if len(peers) == 0 {
		t.Fatalf("no peer created")
	}
	return peers[len(peers)-1]
}

type fakeChannel struct {
	mu       sync.Mutex
	sent     []domain.Signal
	handlers map[domain.SignalKind]map[int]func(domain.Signal)
	next     int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[domain.SignalKind]map[int]func(domain.Signal))}
}

func (c *fakeChannel) Send(ctx context.Context, sig domain.Signal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sig)
	return nil
}

func (c *fakeChannel) OnMessage(kind domain.SignalKind, h func(domain.Signal)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers[kind] == nil {
		c.handlers[kind] = make(map[int]func(domain.Signal))
	}
	id := c.next
	c.next++
	c.handlers[kind][id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[kind], id)
	}
}

func (c *fakeChannel) Deliver(sig domain.Signal) {
	c.mu.Lock()
	var hs []func(domain.Signal)
	for _, h := range c.handlers[sig.Kind] {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(sig)
	}
}

func (c *fakeChannel) Sent() []domain.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Signal(nil), c.sent...)
}

func (c *fakeChannel) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, hs := range c.handlers {
		n += len(hs)
	}
	return n
}

type fakeStream struct {
	id string

	mu      sync.Mutex
	stops   int
	enabled map[domain.MediaKind]bool
}

func newFakeStream(id string) *fakeStream {
	return &fakeStream{id: id, enabled: map[domain.MediaKind]bool{domain.MediaAudio: true, domain.MediaVideo: true}}
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Kinds() []domain.MediaKind {
	return []domain.MediaKind{domain.MediaAudio, domain.MediaVideo}
}

func (s *fakeStream) SetEnabled(kind domain.MediaKind, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled[kind] = enabled
}

func (s *fakeStream) Enabled(kind domain.MediaKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled[kind]
}

func (s *fakeStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
}

func (s *fakeStream) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

// gatedCapturer blocks until release is closed, then returns stream or err.
type gatedCapturer struct {
	release   chan struct{}
	stream    *fakeStream
	err       error
	ignoreCtx bool
}

func newGatedCapturer(open bool) *gatedCapturer {
	g := &gatedCapturer{release: make(chan struct{}), stream: newFakeStream("local")}
	if open {
		close(g.release)
	}
	return g
}

func (g *gatedCapturer) Capture(ctx context.Context, c port.Constraints) (port.LocalStream, error) {
	if g.ignoreCtx {
		<-g.release
	} else {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return g.stream, nil
}

type fakeRecorder struct {
	records chan domain.CallRecord
	err     error
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{records: make(chan domain.CallRecord, 8)}
}

func (r *fakeRecorder) CallEnded(ctx context.Context, rec domain.CallRecord) error {
	r.records <- rec
	return r.err
}

// expectOne waits for a single record and checks no second one follows.
func (r *fakeRecorder) expectOne(t *testing.T) domain.CallRecord {
	t.Helper()
	var rec domain.CallRecord
	select {
	case rec = <-r.records:
	case <-time.After(waitTimeout):
		t.Fatalf("record keeper was not notified")
	}
	select {
	case extra := <-r.records:
		t.Fatalf("record keeper notified twice: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
	return rec
}

var errBoom = errors.New("boom")
