package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type sdp struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// message is the relay wire format. The address field depends on the type:
// receiverId for offers, callerId for answers, targetId for candidates.
// The relay stamps from on delivery.
type message struct {
	Type       domain.SignalKind `json:"type"`
	CallID     string            `json:"callId"`
	From       string            `json:"from,omitempty"`
	ReceiverID string            `json:"receiverId,omitempty"`
	CallerID   string            `json:"callerId,omitempty"`
	TargetID   string            `json:"targetId,omitempty"`
	Offer      *sdp              `json:"offer,omitempty"`
	Answer     *sdp              `json:"answer,omitempty"`
	Candidate  *candidate        `json:"candidate,omitempty"`
}

// Encode serialises sig. From is only written when set, which is the relay's
// job.
func Encode(sig domain.Signal) ([]byte, error) {
	m := message{
		Type:   sig.Kind,
		CallID: sig.CallID.String(),
	}
	if !sig.From.IsZero() {
		m.From = sig.From.String()
	}

	switch sig.Kind {
	case domain.SignalOffer:
		if sig.Description == nil {
			return nil, errors.New("offer without description")
		}
		m.ReceiverID = sig.To.String()
		m.Offer = &sdp{Type: string(domain.SDPTypeOffer), SDP: sig.Description.SDP}
	case domain.SignalAnswer:
		if sig.Description == nil {
			return nil, errors.New("answer without description")
		}
		m.CallerID = sig.To.String()
		m.Answer = &sdp{Type: string(domain.SDPTypeAnswer), SDP: sig.Description.SDP}
	case domain.SignalCandidate:
		if sig.Candidate == nil {
			return nil, errors.New("ice-candidate without candidate")
		}
		m.TargetID = sig.To.String()
		m.Candidate = &candidate{
			Candidate:        sig.Candidate.Candidate,
			SDPMid:           sig.Candidate.SDPMid,
			SDPMLineIndex:    sig.Candidate.SDPMLineIndex,
			UsernameFragment: sig.Candidate.UsernameFragment,
		}
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownSignal, sig.Kind)
	}
	return json.Marshal(m)
}

// Decode parses one wire message. Unknown fields, fields that do not belong
// to the message type and trailing data are rejected.
func Decode(data []byte) (domain.Signal, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var m message
	if err := dec.Decode(&m); err != nil {
		return domain.Signal{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return domain.Signal{}, errors.New("unexpected trailing data")
	}
	if err := m.validate(); err != nil {
		return domain.Signal{}, err
	}
	return m.signal()
}

func (m message) validate() error {
	switch m.Type {
	case domain.SignalOffer:
		if m.Offer == nil {
			return errors.New("offer message missing offer")
		}
		if m.Offer.Type != string(domain.SDPTypeOffer) {
			return fmt.Errorf("offer message has offer.type=%q", m.Offer.Type)
		}
		if m.ReceiverID == "" {
			return errors.New("offer message missing receiverId")
		}
		if m.Answer != nil || m.Candidate != nil || m.CallerID != "" || m.TargetID != "" {
			return errors.New("offer message has unexpected fields")
		}
	case domain.SignalAnswer:
		if m.Answer == nil {
			return errors.New("answer message missing answer")
		}
		if m.Answer.Type != string(domain.SDPTypeAnswer) {
			return fmt.Errorf("answer message has answer.type=%q", m.Answer.Type)
		}
		if m.CallerID == "" {
			return errors.New("answer message missing callerId")
		}
		if m.Offer != nil || m.Candidate != nil || m.ReceiverID != "" || m.TargetID != "" {
			return errors.New("answer message has unexpected fields")
		}
	case domain.SignalCandidate:
		if m.Candidate == nil {
			return errors.New("ice-candidate message missing candidate")
		}
		if m.TargetID == "" {
			return errors.New("ice-candidate message missing targetId")
		}
		if m.Offer != nil || m.Answer != nil || m.ReceiverID != "" || m.CallerID != "" {
			return errors.New("ice-candidate message has unexpected fields")
		}
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownSignal, m.Type)
	}
	return nil
}

func (m message) signal() (domain.Signal, error) {
	callID, err := domain.ParseCallID(m.CallID)
	if err != nil {
		return domain.Signal{}, err
	}
	sig := domain.Signal{Kind: m.Type, CallID: callID}
	if m.From != "" {
		if sig.From, err = domain.ParseUserID(m.From); err != nil {
			return domain.Signal{}, err
		}
	}

	var to string
	switch m.Type {
	case domain.SignalOffer:
		to = m.ReceiverID
		sig.Description = &domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: m.Offer.SDP}
	case domain.SignalAnswer:
		to = m.CallerID
		sig.Description = &domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: m.Answer.SDP}
	case domain.SignalCandidate:
		to = m.TargetID
		sig.Candidate = &domain.ICECandidate{
			Candidate:        m.Candidate.Candidate,
			SDPMid:           m.Candidate.SDPMid,
			SDPMLineIndex:    m.Candidate.SDPMLineIndex,
			UsernameFragment: m.Candidate.UsernameFragment,
		}
	}
	if sig.To, err = domain.ParseUserID(to); err != nil {
		return domain.Signal{}, err
	}
	return sig, nil
}
