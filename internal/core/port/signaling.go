package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// SignalingChannel is a persistent per-user connection to the signaling relay.
// Send is fire-and-forget: a nil error only means the message was handed to
// the transport, not that it was delivered.
type SignalingChannel interface {
	Send(ctx context.Context, signal domain.Signal) error
	OnMessage(kind domain.SignalKind, handler func(domain.Signal)) (unsubscribe func())
}
