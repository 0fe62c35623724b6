package ws

import (
	"fmt"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/rs/zerolog/log"
)

// Conn is the relay side of one participant connection.
type Conn interface {
	UserID() domain.UserID
	Deliver(data []byte) error
	Close() error
}

type delivery struct {
	to   domain.UserID
	kind domain.SignalKind
	data []byte
}

// Hub routes signals between connected participants by user id. It does not
// buffer for offline users.
type Hub struct {
	clients    map[domain.UserID]Conn
	route      chan delivery
	register   chan Conn
	unregister chan Conn
	quit       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[domain.UserID]Conn),
		route:      make(chan delivery, 256),
		register:   make(chan Conn),
		unregister: make(chan Conn),
		quit:       make(chan struct{}),
	}
}

// Route validates a raw message from sender, stamps the sender and queues it
// for the addressee.
func (h *Hub) Route(sender domain.UserID, data []byte) error {
	sig, err := Decode(data)
	if err != nil {
		return fmt.Errorf("decode signal: %w", err)
	}
	sig.From = sender
	out, err := Encode(sig)
	if err != nil {
		return fmt.Errorf("encode signal: %w", err)
	}

	select {
	case h.route <- delivery{to: sig.To, kind: sig.Kind, data: out}:
	case <-h.quit:
	default:
		log.Warn().Str("to", sig.To.String()).Msg("Route channel full, dropping signal")
	}
	return nil
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			for id, client := range h.clients {
				client.Close()
				delete(h.clients, id)
			}
			return

		case client := <-h.register:
			if old, ok := h.clients[client.UserID()]; ok && old != client {
				old.Close()
				log.Info().Str("user_id", client.UserID().String()).Msg("Replacing previous connection")
			}
			h.clients[client.UserID()] = client
			log.Info().Str("user_id", client.UserID().String()).Msg("Client registered")

		case client := <-h.unregister:
			if cur, ok := h.clients[client.UserID()]; ok && cur == client {
				delete(h.clients, client.UserID())
				client.Close()
				log.Info().Str("user_id", client.UserID().String()).Msg("Client unregistered")
			}

		case d := <-h.route:
			client, ok := h.clients[d.to]
			if !ok {
				log.Debug().Str("to", d.to.String()).Str("kind", string(d.kind)).Msg("Addressee offline, signal dropped")
				continue
			}
			if err := client.Deliver(d.data); err != nil {
				log.Error().Err(err).Str("user_id", d.to.String()).Msg("Error delivering signal")
				client.Close()
				delete(h.clients, d.to)
			}
		}
	}
}

func (h *Hub) Register(c Conn) {
	select {
	case h.register <- c:
	case <-h.quit:
		c.Close()
	}
}

func (h *Hub) Unregister(c Conn) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

func (h *Hub) Stop() {
	close(h.quit)
}
