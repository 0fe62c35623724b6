package memory

import (
	"context"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/rs/zerolog/log"
)

// Bus is an in-process relay. Each participant gets its own Channel;
// deliveries to one participant happen on a single goroutine in send order.
type Bus struct {
	mu    sync.Mutex
	users map[domain.UserID]*Channel
}

func NewBus() *Bus {
	return &Bus{users: make(map[domain.UserID]*Channel)}
}

// Channel returns user's endpoint, creating it on first use.
func (b *Bus) Channel(user domain.UserID) *Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.users[user]; ok {
		return ch
	}
	ch := &Channel{
		bus:      b,
		user:     user,
		handlers: make(map[domain.SignalKind]map[uint64]func(domain.Signal)),
		inbox:    make(chan domain.Signal, 64),
		quit:     make(chan struct{}),
	}
	b.users[user] = ch
	go ch.run()
	return ch
}

// Disconnect drops user from the bus. Signals addressed to it are discarded
// from then on.
func (b *Bus) Disconnect(user domain.UserID) {
	b.mu.Lock()
	ch, ok := b.users[user]
	delete(b.users, user)
	b.mu.Unlock()
	if ok {
		close(ch.quit)
	}
}

func (b *Bus) lookup(user domain.UserID) (*Channel, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.users[user]
	return ch, ok
}

// Channel implements port.SignalingChannel for one participant.
type Channel struct {
	bus  *Bus
	user domain.UserID

	mu       sync.RWMutex
	handlers map[domain.SignalKind]map[uint64]func(domain.Signal)
	next     uint64

	inbox chan domain.Signal
	quit  chan struct{}
}

func (c *Channel) Send(ctx context.Context, sig domain.Signal) error {
	sig.From = c.user
	dst, ok := c.bus.lookup(sig.To)
	if !ok {
		log.Debug().Str("to", sig.To.String()).Str("kind", string(sig.Kind)).Msg("Addressee offline, signal dropped")
		return nil
	}
	select {
	case dst.inbox <- sig:
	case <-dst.quit:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (c *Channel) OnMessage(kind domain.SignalKind, handler func(domain.Signal)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers[kind] == nil {
		c.handlers[kind] = make(map[uint64]func(domain.Signal))
	}
	id := c.next
	c.next++
	c.handlers[kind][id] = handler
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[kind], id)
	}
}

func (c *Channel) run() {
	for {
		select {
		case <-c.quit:
			return
		case sig := <-c.inbox:
			c.mu.RLock()
			hs := make([]func(domain.Signal), 0, len(c.handlers[sig.Kind]))
			for _, h := range c.handlers[sig.Kind] {
				hs = append(hs, h)
			}
			c.mu.RUnlock()
			for _, h := range hs {
				h(sig)
			}
		}
	}
}
