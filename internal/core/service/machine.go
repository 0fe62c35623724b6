package service

import (
	"errors"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

var ErrNegotiationTimeout = errors.New("negotiation timed out")

// machine is the coordinator's state, kept free of handles so that
// transition stays a pure function. gen identifies the current peer handle;
// every handle event carries the gen it was registered with.
type machine struct {
	state         domain.State
	gen           uint64
	role          domain.Role
	target        domain.UserID
	hasPeer       bool
	pending       *domain.SessionDescription
	remoteApplied bool
	descSent      bool
	closeFired    bool
}

type event interface{ isEvent() }

type startEvent struct {
	local  port.LocalStream
	role   domain.Role
	target domain.UserID
}

type remoteDescriptionEvent struct{ desc domain.SessionDescription }
type candidateEvent struct{ candidate domain.ICECandidate }
type cleanupEvent struct{}

type localDescriptionEvent struct {
	gen  uint64
	desc domain.SessionDescription
}

type remoteStreamEvent struct {
	gen    uint64
	stream port.RemoteStream
}

type connectedEvent struct{ gen uint64 }

type peerErrorEvent struct {
	gen uint64
	err error
}

type peerClosedEvent struct{ gen uint64 }
type timeoutEvent struct{ gen uint64 }

func (startEvent) isEvent()             {}
func (remoteDescriptionEvent) isEvent() {}
func (candidateEvent) isEvent()         {}
func (cleanupEvent) isEvent()           {}
func (localDescriptionEvent) isEvent()  {}
func (remoteStreamEvent) isEvent()      {}
func (connectedEvent) isEvent()         {}
func (peerErrorEvent) isEvent()         {}
func (peerClosedEvent) isEvent()        {}
func (timeoutEvent) isEvent()           {}

type effect interface{ isEffect() }

type createPeerEffect struct {
	gen   uint64
	role  domain.Role
	local port.LocalStream
}

type applyRemoteEffect struct {
	gen  uint64
	desc domain.SessionDescription
}

type addCandidateEffect struct {
	gen       uint64
	candidate domain.ICECandidate
}

type sendDescriptionEffect struct {
	target domain.UserID
	desc   domain.SessionDescription
}

// destroyPeerEffect removes the handle's listeners before closing it.
type destroyPeerEffect struct{ gen uint64 }

type releaseRemoteEffect struct{}
type surfaceStreamEffect struct{ stream port.RemoteStream }
type stopStreamEffect struct{ stream port.RemoteStream }
type notifyConnectedEffect struct{}
type notifyClosedEffect struct{ err error }
type reportErrorEffect struct{ err error }
type armTimeoutEffect struct{ gen uint64 }
type traceEffect struct{ msg string }

func (createPeerEffect) isEffect()      {}
func (applyRemoteEffect) isEffect()     {}
func (addCandidateEffect) isEffect()    {}
func (sendDescriptionEffect) isEffect() {}
func (destroyPeerEffect) isEffect()     {}
func (releaseRemoteEffect) isEffect()   {}
func (surfaceStreamEffect) isEffect()   {}
func (stopStreamEffect) isEffect()      {}
func (notifyConnectedEffect) isEffect() {}
func (notifyClosedEffect) isEffect()    {}
func (reportErrorEffect) isEffect()     {}
func (armTimeoutEffect) isEffect()      {}
func (traceEffect) isEffect()           {}

func transition(m machine, ev event) (machine, []effect, error) {
	switch ev := ev.(type) {
	case startEvent:
		return onStart(m, ev)

	case remoteDescriptionEvent:
		if m.state == domain.StateClosed {
			return m, trace("remote description after close ignored"), nil
		}
		if !m.hasPeer {
			desc := ev.desc
			m.pending = &desc
			return m, trace("remote description buffered"), nil
		}
		if ev.desc.Type != m.role.Expects() {
			return m, trace("remote " + string(ev.desc.Type) + " ignored by " + m.role.String()), nil
		}
		if m.remoteApplied {
			return m, trace("duplicate remote description ignored"), nil
		}
		m.remoteApplied = true
		return m, []effect{applyRemoteEffect{gen: m.gen, desc: ev.desc}}, nil

	case candidateEvent:
		if !m.hasPeer {
			return m, trace("ice candidate without peer dropped"), nil
		}
		return m, []effect{addCandidateEffect{gen: m.gen, candidate: ev.candidate}}, nil

	case localDescriptionEvent:
		if !m.current(ev.gen) {
			return m, trace("stale local description ignored"), nil
		}
		if m.descSent {
			return m, trace("extra local description ignored"), nil
		}
		m.descSent = true
		if m.state == domain.StateInitializing {
			m.state = domain.StateNegotiating
		}
		desc := domain.SessionDescription{Type: m.role.Produces(), SDP: ev.desc.SDP}
		return m, []effect{sendDescriptionEffect{target: m.target, desc: desc}}, nil

	case remoteStreamEvent:
		if !m.current(ev.gen) {
			return m, []effect{stopStreamEffect{stream: ev.stream}}, nil
		}
		effects := []effect{surfaceStreamEffect{stream: ev.stream}}
		if m.state != domain.StateConnected {
			m.state = domain.StateConnected
			effects = append(effects, notifyConnectedEffect{})
		}
		return m, effects, nil

	case connectedEvent:
		if !m.current(ev.gen) || m.state == domain.StateConnected {
			return m, nil, nil
		}
		m.state = domain.StateConnected
		return m, []effect{notifyConnectedEffect{}}, nil

	case peerErrorEvent:
		if !m.current(ev.gen) {
			return m, trace("stale peer error ignored"), nil
		}
		m, effects := closeSession(m, ev.err)
		return m, append([]effect{reportErrorEffect{err: ev.err}}, effects...), nil

	case peerClosedEvent:
		if !m.current(ev.gen) {
			return m, trace("stale peer close ignored"), nil
		}
		m, effects := closeSession(m, nil)
		return m, effects, nil

	case timeoutEvent:
		if !m.current(ev.gen) {
			return m, nil, nil
		}
		if m.state != domain.StateInitializing && m.state != domain.StateNegotiating {
			return m, nil, nil
		}
		m, effects := closeSession(m, ErrNegotiationTimeout)
		return m, append([]effect{reportErrorEffect{err: ErrNegotiationTimeout}}, effects...), nil

	case cleanupEvent:
		return onCleanup(m)
	}
	return m, nil, nil
}

func onStart(m machine, ev startEvent) (machine, []effect, error) {
	if m.state == domain.StateClosed {
		return m, nil, domain.ErrSessionClosed
	}

	var effects []effect
	if m.hasPeer {
		effects = append(effects, destroyPeerEffect{gen: m.gen}, releaseRemoteEffect{})
	}

	pending := m.pending
	m = machine{
		state:   domain.StateInitializing,
		gen:     m.gen + 1,
		role:    ev.role,
		target:  ev.target,
		hasPeer: true,
	}
	effects = append(effects, createPeerEffect{gen: m.gen, role: ev.role, local: ev.local})

	if pending != nil {
		if pending.Type == ev.role.Expects() {
			m.remoteApplied = true
			effects = append(effects, applyRemoteEffect{gen: m.gen, desc: *pending})
		} else {
			effects = append(effects, traceEffect{msg: "buffered " + string(pending.Type) + " discarded for " + ev.role.String()})
		}
	}
	effects = append(effects, armTimeoutEffect{gen: m.gen})
	return m, effects, nil
}

func onCleanup(m machine) (machine, []effect, error) {
	switch {
	case m.state == domain.StateClosed:
		return m, nil, nil
	case m.state == domain.StateIdle && !m.hasPeer:
		m.pending = nil
		return m, nil, nil
	}

	var effects []effect
	if m.hasPeer {
		effects = append(effects, destroyPeerEffect{gen: m.gen})
	}
	effects = append(effects, releaseRemoteEffect{})
	return machine{gen: m.gen + 1}, effects, nil
}

// closeSession is the single teardown path shared by remote close, peer
// errors and timeouts.
func closeSession(m machine, err error) (machine, []effect) {
	effects := []effect{releaseRemoteEffect{}, destroyPeerEffect{gen: m.gen}}
	m.state = domain.StateClosed
	m.hasPeer = false
	m.pending = nil
	if !m.closeFired {
		m.closeFired = true
		effects = append(effects, notifyClosedEffect{err: err})
	}
	return m, effects
}

func (m machine) current(gen uint64) bool {
	return m.hasPeer && gen == m.gen && m.state != domain.StateClosed
}

func trace(msg string) []effect {
	return []effect{traceEffect{msg: msg}}
}
