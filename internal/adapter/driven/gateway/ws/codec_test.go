package ws

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/Wyydra/yacall/internal/core/domain"
)

const (
	callA = "4f1c1f5e-2b1e-4d52-9a55-1f3f3f1b2a01"
	userA = "0b6f4a0e-8f2e-4a8e-b7d5-5b7a8f6f0a11"
	userB = "9d3e2c1b-7a6f-4e5d-8c4b-3a2f1e0d9c22"
)

func TestDecodeValidMessages(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind domain.SignalKind
		to   string
	}{
		{
			name: "offer",
			raw:  `{"type":"offer","callId":"` + callA + `","from":"` + userA + `","receiverId":"` + userB + `","offer":{"type":"offer","sdp":"v=0"}}`,
			kind: domain.SignalOffer,
			to:   userB,
		},
		{
			name: "answer",
			raw:  `{"type":"answer","callId":"` + callA + `","from":"` + userB + `","callerId":"` + userA + `","answer":{"type":"answer","sdp":"v=0"}}`,
			kind: domain.SignalAnswer,
			to:   userA,
		},
		{
			name: "candidate",
			raw:  `{"type":"ice-candidate","callId":"` + callA + `","targetId":"` + userB + `","candidate":{"candidate":"candidate:1 1 udp 1 127.0.0.1 9 typ host","sdpMid":"0","sdpMLineIndex":0}}`,
			kind: domain.SignalCandidate,
			to:   userB,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := Decode([]byte(tt.raw))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if sig.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", sig.Kind, tt.kind)
			}
			if sig.To.String() != tt.to {
				t.Errorf("to = %s, want %s", sig.To, tt.to)
			}
			if sig.CallID.String() != callA {
				t.Errorf("call id = %s", sig.CallID)
			}
		})
	}
}

func TestDecodeCandidateFields(t *testing.T) {
	raw := `{"type":"ice-candidate","callId":"` + callA + `","targetId":"` + userB + `","candidate":{"candidate":"c","sdpMid":"audio","sdpMLineIndex":1,"usernameFragment":"uf"}}`
	sig, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	c := sig.Candidate
	if c == nil || c.Candidate != "c" {
		t.Fatalf("unexpected candidate %+v", c)
	}
	if c.SDPMid == nil || *c.SDPMid != "audio" {
		t.Errorf("sdpMid not decoded")
	}
	if c.SDPMLineIndex == nil || *c.SDPMLineIndex != 1 {
		t.Errorf("sdpMLineIndex not decoded")
	}
	if c.UsernameFragment == nil || *c.UsernameFragment != "uf" {
		t.Errorf("usernameFragment not decoded")
	}
	if !sig.From.IsZero() {
		t.Errorf("from should be empty before the relay stamps it")
	}
}

func TestDecodeRejectsInvalidMessages(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `offer`},
		{"unknown field", `{"type":"offer","callId":"` + callA + `","receiverId":"` + userB + `","offer":{"type":"offer","sdp":"x"},"extra":1}`},
		{"wrong sdp type", `{"type":"offer","callId":"` + callA + `","receiverId":"` + userB + `","offer":{"type":"answer","sdp":"x"}}`},
		{"missing offer", `{"type":"offer","callId":"` + callA + `","receiverId":"` + userB + `"}`},
		{"missing receiver", `{"type":"offer","callId":"` + callA + `","offer":{"type":"offer","sdp":"x"}}`},
		{"answer with wrong address", `{"type":"answer","callId":"` + callA + `","receiverId":"` + userB + `","answer":{"type":"answer","sdp":"x"}}`},
		{"candidate with sdp", `{"type":"ice-candidate","callId":"` + callA + `","targetId":"` + userB + `","candidate":{"candidate":"c"},"offer":{"type":"offer","sdp":"x"}}`},
		{"bad call id", `{"type":"answer","callId":"nope","callerId":"` + userA + `","answer":{"type":"answer","sdp":"x"}}`},
		{"bad target", `{"type":"ice-candidate","callId":"` + callA + `","targetId":"nope","candidate":{"candidate":"c"}}`},
		{"trailing data", `{"type":"ice-candidate","callId":"` + callA + `","targetId":"` + userB + `","candidate":{"candidate":"c"}}{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.raw)); err == nil {
				t.Errorf("expected error")
			}
		})
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"hangup","callId":"` + callA + `"}`))
	if !errors.Is(err, domain.ErrUnknownSignal) {
		t.Errorf("expected ErrUnknownSignal, got %v", err)
	}
}

func TestEncodeUsesTypeSpecificAddress(t *testing.T) {
	callID, _ := domain.ParseCallID(callA)
	from, _ := domain.ParseUserID(userA)
	to, _ := domain.ParseUserID(userB)

	tests := []struct {
		sig     domain.Signal
		address string
		body    string
	}{
		{domain.NewDescriptionSignal(callID, domain.UserID{}, to, domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "x"}), "receiverId", "offer"},
		{domain.NewDescriptionSignal(callID, domain.UserID{}, to, domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: "x"}), "callerId", "answer"},
		{domain.NewCandidateSignal(callID, from, to, domain.ICECandidate{Candidate: "c"}), "targetId", "candidate"},
	}

	for _, tt := range tests {
		t.Run(string(tt.sig.Kind), func(t *testing.T) {
			data, err := Encode(tt.sig)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			var fields map[string]json.RawMessage
			if err := json.Unmarshal(data, &fields); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if string(fields[tt.address]) != `"`+userB+`"` {
				t.Errorf("%s = %s", tt.address, fields[tt.address])
			}
			if _, ok := fields[tt.body]; !ok {
				t.Errorf("missing %s body in %s", tt.body, data)
			}
			_, hasFrom := fields["from"]
			if hasFrom != !tt.sig.From.IsZero() {
				t.Errorf("from presence mismatch in %s", data)
			}

			back, err := Decode(data)
			if err != nil {
				t.Fatalf("decode own output: %v", err)
			}
			if back.Kind != tt.sig.Kind || back.To != to {
				t.Errorf("round trip changed signal: %+v", back)
			}
		})
	}
}

func TestEncodeRejectsIncompleteSignal(t *testing.T) {
	if _, err := Encode(domain.Signal{Kind: domain.SignalOffer}); err == nil {
		t.Errorf("offer without description should fail")
	}
	if _, err := Encode(domain.Signal{Kind: "bye"}); !errors.Is(err, domain.ErrUnknownSignal) {
		t.Errorf("expected ErrUnknownSignal, got %v", err)
	}
}
