package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// TODO: restrict origins once the relay sits behind the product domain
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSClient is the relay side of one participant connection. Deliver is only
// called from the hub loop.
type WSClient struct {
	id        domain.UserID
	conn      *websocket.Conn
	closeOnce sync.Once
}

func (c *WSClient) UserID() domain.UserID {
	return c.id
}

func (c *WSClient) Deliver(data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WSClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// ServeWS upgrades the request and relays the participant's signals until
// the connection drops. The participant is named by the user query
// parameter; authentication happens in front of the relay.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, err := domain.ParseUserID(r.URL.Query().Get("user"))
	if err != nil {
		http.Error(w, "missing or invalid user", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}
	conn.SetReadLimit(maxMessageSize)

	client := &WSClient{
		id:   userID,
		conn: conn,
	}

	l := log.With().Str("user_id", userID.String()).Logger()
	l.Info().Msg("New client connected")

	h.Hub.Register(client)

	defer func() {
		l.Info().Msg("Client disconnected")
		h.Hub.Unregister(client)
		client.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			break
		}
		if err := h.Hub.Route(userID, data); err != nil {
			l.Warn().Err(err).Msg("Rejected signal")
		}
	}
}
