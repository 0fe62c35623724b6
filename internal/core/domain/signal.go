package domain

import "errors"

var ErrUnknownSignal = errors.New("unknown signal kind")

type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "ice-candidate"
)

func (k SignalKind) Valid() bool {
	switch k {
	case SignalOffer, SignalAnswer, SignalCandidate:
		return true
	}
	return false
}

type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

type SessionDescription struct {
	Type SDPType
	SDP  string
}

type ICECandidate struct {
	Candidate        string
	SDPMid           *string
	SDPMLineIndex    *uint16
	UsernameFragment *string
}

// Signal is one addressed signaling message. Exactly one of Description or
// Candidate is set, depending on Kind.
type Signal struct {
	Kind        SignalKind
	CallID      CallID
	From        UserID
	To          UserID
	Description *SessionDescription
	Candidate   *ICECandidate
}

func NewDescriptionSignal(callID CallID, from, to UserID, desc SessionDescription) Signal {
	kind := SignalOffer
	if desc.Type == SDPTypeAnswer {
		kind = SignalAnswer
	}
	return Signal{
		Kind:        kind,
		CallID:      callID,
		From:        from,
		To:          to,
		Description: &desc,
	}
}

func NewCandidateSignal(callID CallID, from, to UserID, c ICECandidate) Signal {
	return Signal{
		Kind:      SignalCandidate,
		CallID:    callID,
		From:      from,
		To:        to,
		Candidate: &c,
	}
}
