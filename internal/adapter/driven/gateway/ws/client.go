package ws

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 64
)

type subscription struct {
	fn func(domain.Signal)
}

// Client is a participant's persistent connection to the relay. It
// implements port.SignalingChannel and may be shared by several calls.
type Client struct {
	user domain.UserID
	conn *websocket.Conn
	send chan []byte
	l    zerolog.Logger

	mu       sync.RWMutex
	handlers map[domain.SignalKind][]*subscription

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects user to the relay at relayURL.
func Dial(ctx context.Context, relayURL string, user domain.UserID) (*Client, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	q := u.Query()
	q.Set("user", user.String())
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	return NewClient(user, conn), nil
}

// NewClient takes ownership of conn and starts its pumps.
func NewClient(user domain.UserID, conn *websocket.Conn) *Client {
	c := &Client{
		user:     user,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		l:        log.With().Str("user_id", user.String()).Logger(),
		handlers: make(map[domain.SignalKind][]*subscription),
		done:     make(chan struct{}),
	}
	go c.readPump()
	go c.writePump()
	c.l.Info().Msg("Connected to relay")
	return c
}

func (c *Client) User() domain.UserID { return c.user }

// Done is closed when the relay connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Send hands sig to the write pump. Once the relay connection is lost the
// signal is dropped and only logged.
func (c *Client) Send(ctx context.Context, sig domain.Signal) error {
	data, err := Encode(sig)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		c.l.Warn().Str("kind", string(sig.Kind)).Str("to", sig.To.String()).Msg("Relay connection closed, signal dropped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) OnMessage(kind domain.SignalKind, handler func(domain.Signal)) func() {
	sub := &subscription{fn: handler}
	c.mu.Lock()
	c.handlers[kind] = append(c.handlers[kind], sub)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			subs := c.handlers[kind]
			for i, s := range subs {
				if s == sub {
					c.handlers[kind] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

func (c *Client) Close() error {
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.shutdown()
	return nil
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) dispatch(sig domain.Signal) {
	c.mu.RLock()
	subs := append([]*subscription(nil), c.handlers[sig.Kind]...)
	c.mu.RUnlock()

	if len(subs) == 0 {
		c.l.Debug().Str("kind", string(sig.Kind)).Msg("No handler for signal")
		return
	}
	for _, s := range subs {
		s.fn(sig)
	}
}

// readPump delivers inbound signals one at a time, in arrival order.
func (c *Client) readPump() {
	defer c.shutdown()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.l.Error().Err(err).Msg("Relay connection lost")
			} else {
				c.l.Info().Msg("Relay connection closed")
			}
			return
		}
		sig, err := Decode(data)
		if err != nil {
			c.l.Warn().Err(err).Msg("Invalid signal from relay")
			continue
		}
		c.dispatch(sig)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.l.Error().Err(err).Msg("Failed to write to relay")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
