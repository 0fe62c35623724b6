package service

import (
	"errors"
	"testing"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

type hookLog struct {
	connected chan struct{}
	closed    chan error
	streams   chan port.RemoteStream
}

func newTestCoordinator(t *testing.T, factory *fakePeerFactory, timeout time.Duration) (*Coordinator, *fakeChannel, *hookLog) {
	t.Helper()
	ch := newFakeChannel()
	hl := &hookLog{
		connected: make(chan struct{}, 4),
		closed:    make(chan error, 4),
		streams:   make(chan port.RemoteStream, 4),
	}
	c := NewCoordinator(CoordinatorConfig{
		CallID:             domain.NewCallID(),
		Local:              domain.NewUserID(),
		NegotiationTimeout: timeout,
	}, factory, ch, CoordinatorHooks{
		OnRemoteStream: func(s port.RemoteStream) { hl.streams <- s },
		OnConnected:    func() { hl.connected <- struct{}{} },
		OnClosed:       func(err error) { hl.closed <- err },
	})
	t.Cleanup(c.Stop)
	return c, ch, hl
}

func expectNoClose(t *testing.T, hl *hookLog) {
	t.Helper()
	select {
	case err := <-hl.closed:
		t.Fatalf("unexpected close notification: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCoordinatorInitiatorSendsOffer(t *testing.T) {
	factory := newFakePeerFactory()
	c, ch, _ := newTestCoordinator(t, factory, 0)
	target := domain.NewUserID()

	if err := c.Start(newFakeStream("local"), domain.RoleInitiator, target); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "offer sent", func() bool { return len(ch.Sent()) == 1 })

	sig := ch.Sent()[0]
	if sig.Kind != domain.SignalOffer || sig.To != target {
		t.Errorf("unexpected signal %+v", sig)
	}
	if sig.Description == nil || sig.Description.SDP != "SDP_A" {
		t.Errorf("expected SDP_A, got %+v", sig.Description)
	}
	waitFor(t, "negotiating", func() bool { return c.State() == domain.StateNegotiating })
}

func TestCoordinatorAnswerConnects(t *testing.T) {
	factory := newFakePeerFactory()
	c, ch, hl := newTestCoordinator(t, factory, 0)

	if err := c.Start(newFakeStream("local"), domain.RoleInitiator, domain.NewUserID()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "offer sent", func() bool { return len(ch.Sent()) == 1 })

	peer := factory.Last(t)
	c.ReceiveAnswer(answer("SDP_B"))
	waitFor(t, "answer applied", func() bool { return len(peer.Applied()) == 1 })
	if got := peer.Applied()[0]; got.Type != domain.SDPTypeAnswer || got.SDP != "SDP_B" {
		t.Errorf("unexpected applied description %+v", got)
	}

	remote := newFakeStream("remote")
	peer.EmitStream(remote)

	select {
	case <-hl.connected:
	case <-time.After(waitTimeout):
		t.Fatal("connected hook not called")
	}
	select {
	case s := <-hl.streams:
		if s != remote {
			t.Errorf("unexpected stream surfaced")
		}
	case <-time.After(waitTimeout):
		t.Fatal("remote stream hook not called")
	}
	if !c.Connected() || c.RemoteStream() != remote {
		t.Errorf("expected connected with remote stream exposed")
	}
}

func TestCoordinatorEarlyAnswerAppliedOnStart(t *testing.T) {
	factory := newFakePeerFactory()
	c, _, _ := newTestCoordinator(t, factory, 0)

	c.ReceiveAnswer(answer("SDP_B"))
	if err := c.Start(newFakeStream("local"), domain.RoleInitiator, domain.NewUserID()); err != nil {
		t.Fatalf("start: %v", err)
	}

	peer := factory.Last(t)
	applied := peer.Applied()
	if len(applied) != 1 || applied[0].SDP != "SDP_B" {
		t.Fatalf("expected buffered answer applied once, got %+v", applied)
	}
}

func TestCoordinatorResponderAnswersBufferedOffer(t *testing.T) {
	factory := newFakePeerFactory()
	c, ch, _ := newTestCoordinator(t, factory, 0)
	caller := domain.NewUserID()

	c.ReceiveOffer(offer("SDP_A"))
	if err := c.Start(newFakeStream("local"), domain.RoleResponder, caller); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "answer sent", func() bool { return len(ch.Sent()) == 1 })

	sig := ch.Sent()[0]
	if sig.Kind != domain.SignalAnswer || sig.To != caller || sig.Description.SDP != "SDP_B" {
		t.Errorf("unexpected signal %+v", sig)
	}
	if applied := factory.Last(t).Applied(); len(applied) != 1 || applied[0].SDP != "SDP_A" {
		t.Errorf("expected offer applied, got %+v", applied)
	}
}

func TestCoordinatorCleanupReleasesWithoutClosedHook(t *testing.T) {
	factory := newFakePeerFactory()
	c, _, hl := newTestCoordinator(t, factory, 0)

	if err := c.Start(newFakeStream("local"), domain.RoleInitiator, domain.NewUserID()); err != nil {
		t.Fatalf("start: %v", err)
	}
	peer := factory.Last(t)
	remote := newFakeStream("remote")
	peer.EmitStream(remote)
	waitFor(t, "connected", c.Connected)

	c.Cleanup()
	c.Cleanup()

	if peer.Closed() != 1 || !peer.Detached() {
		t.Errorf("peer should be detached and closed once, closed=%d", peer.Closed())
	}
	if remote.Stops() != 1 {
		t.Errorf("remote stream stopped %d times", remote.Stops())
	}
	if c.State() != domain.StateIdle || c.RemoteStream() != nil {
		t.Errorf("expected idle with no remote stream, got %s", c.State())
	}
	expectNoClose(t, hl)
}

func TestCoordinatorRemoteCloseFiresOnce(t *testing.T) {
	factory := newFakePeerFactory()
	c, _, hl := newTestCoordinator(t, factory, 0)

	if err := c.Start(newFakeStream("local"), domain.RoleInitiator, domain.NewUserID()); err != nil {
		t.Fatalf("start: %v", err)
	}
	peer := factory.Last(t)
	events, _ := peer.live()
	events.OnError(errBoom)
	events.OnClosed()

	select {
	case err := <-hl.closed:
		if !errors.Is(err, errBoom) {
			t.Errorf("expected boom, got %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("closed hook not called")
	}
	expectNoClose(t, hl)

	if c.State() != domain.StateClosed {
		t.Errorf("expected closed, got %s", c.State())
	}
	if err := c.Start(newFakeStream("local"), domain.RoleInitiator, domain.NewUserID()); !errors.Is(err, domain.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestCoordinatorIgnoresSupersededPeer(t *testing.T) {
	factory := newFakePeerFactory()
	factory.autoDescribe = false
	c, ch, hl := newTestCoordinator(t, factory, 0)
	target := domain.NewUserID()

	if err := c.Start(newFakeStream("local"), domain.RoleInitiator, target); err != nil {
		t.Fatalf("start: %v", err)
	}
	first := factory.Last(t)
	stale := first.events

	if err := c.Start(newFakeStream("local"), domain.RoleInitiator, target); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if first.Closed() != 1 {
		t.Errorf("superseded peer not closed")
	}

	staleStream := newFakeStream("stale")
	stale.OnLocalDescription(offer("OLD"))
	stale.OnRemoteStream(staleStream)
	stale.OnClosed()

	factory.Last(t).EmitLocal("NEW")
	waitFor(t, "offer sent", func() bool { return len(ch.Sent()) == 1 })
	time.Sleep(50 * time.Millisecond)

	if sent := ch.Sent(); len(sent) != 1 || sent[0].Description.SDP != "NEW" {
		t.Errorf("expected only the new offer, got %+v", sent)
	}
	if staleStream.Stops() != 1 {
		t.Errorf("stale remote stream should be stopped")
	}
	if c.Connected() {
		t.Errorf("stale stream must not connect the session")
	}
	expectNoClose(t, hl)
}

func TestCoordinatorStartFailure(t *testing.T) {
	factory := newFakePeerFactory()
	factory.createErr = errBoom
	c, _, hl := newTestCoordinator(t, factory, 0)

	err := c.Start(newFakeStream("local"), domain.RoleInitiator, domain.NewUserID())
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected boom from start, got %v", err)
	}
	select {
	case <-hl.closed:
	case <-time.After(waitTimeout):
		t.Fatal("closed hook not called")
	}
	if c.State() != domain.StateClosed {
		t.Errorf("expected closed, got %s", c.State())
	}
}

func TestCoordinatorNegotiationTimeout(t *testing.T) {
	factory := newFakePeerFactory()
	factory.autoDescribe = false
	c, _, hl := newTestCoordinator(t, factory, 30*time.Millisecond)

	if err := c.Start(newFakeStream("local"), domain.RoleInitiator, domain.NewUserID()); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case err := <-hl.closed:
		if !errors.Is(err, ErrNegotiationTimeout) {
			t.Errorf("expected timeout, got %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("negotiation did not time out")
	}
	if factory.Last(t).Closed() != 1 {
		t.Errorf("peer not closed on timeout")
	}
}

func TestCoordinatorStopIsIdempotent(t *testing.T) {
	c, _, _ := newTestCoordinator(t, newFakePeerFactory(), 0)
	c.Stop()
	c.Stop()

	if err := c.Start(newFakeStream("local"), domain.RoleInitiator, domain.NewUserID()); !errors.Is(err, domain.ErrCoordinatorStopped) {
		t.Errorf("expected ErrCoordinatorStopped, got %v", err)
	}
	c.ReceiveOffer(offer("late"))
	c.Cleanup()
}
