package domain

import "time"

type Role int

const (
	RoleInitiator Role = iota // caller, produces the offer
	RoleResponder             // receiver, produces the answer
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "unknown"
	}
}

// Expects reports which inbound description kind this role consumes.
func (r Role) Expects() SDPType {
	if r == RoleInitiator {
		return SDPTypeAnswer
	}
	return SDPTypeOffer
}

// Produces reports which description kind this role emits.
func (r Role) Produces() SDPType {
	if r == RoleInitiator {
		return SDPTypeOffer
	}
	return SDPTypeAnswer
}

type State int

const (
	StateIdle State = iota
	StateInitializing
	StateNegotiating
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CallAttempt lives from the moment a user starts or accepts a call until
// its session reaches StateClosed.
type CallAttempt struct {
	ID     CallID
	Local  UserID
	Remote UserID
	Role   Role
}

type EndReason string

const (
	EndLocalHangup   EndReason = "local_hangup"
	EndRemoteClosed  EndReason = "remote_closed"
	EndCaptureFailed EndReason = "capture_failed"
	EndStartFailed   EndReason = "start_failed"
)

// CallRecord is what the external record-keeper receives once per attempt.
type CallRecord struct {
	Attempt   CallAttempt
	Connected bool
	Reason    EndReason
	EndedAt   time.Time
}

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)
