package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yalive/internal/core/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendQueue  = 64
)

var errQueueFull = errors.New("client send queue full")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// TODO: restrict to the web app origin once it has a fixed host
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSClient is one push channel connection. Frames are written by a single
// writer goroutine fed from send.
type WSClient struct {
	id   string
	user domain.UserID
	conn *websocket.Conn

	send      chan *domain.Envelope
	done      chan struct{}
	closeOnce sync.Once
}

func newWSClient(user domain.UserID, conn *websocket.Conn) *WSClient {
	return &WSClient{
		id:   uuid.NewString(),
		user: user,
		conn: conn,
		send: make(chan *domain.Envelope, sendQueue),
		done: make(chan struct{}),
	}
}

func (c *WSClient) ID() string {
	return c.id
}

func (c *WSClient) UserID() domain.UserID {
	return c.user
}

func (c *WSClient) Send(env *domain.Envelope) error {
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.send <- env:
		return nil
	default:
		return errQueueFull
	}
}

func (c *WSClient) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *WSClient) writePump(l zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				l.Error().Err(err).Msg("Error writing frame")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// ServeWS upgrades the request to the push channel. The identity comes from
// the user query parameter or the X-User-ID header.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		user = r.Header.Get(UserHeader)
	}
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing user")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := newWSClient(domain.UserID(user), conn)
	l := log.With().Str("client_id", client.id).Str("user_id", user).Logger()
	l.Info().Msg("New client connected")

	h.Hub.Register(client)
	go client.writePump(l)

	defer func() {
		l.Info().Msg("Client disconnected")
		h.Hub.Unregister(client)
		client.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := context.WithoutCancel(r.Context())
	for {
		var env domain.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			return
		}
		if err := h.dispatch(ctx, client, env); err != nil {
			l.Warn().Err(err).Str("op", string(env.Op)).Str("topic", env.Topic).Msg("Frame rejected")
			client.Send(&domain.Envelope{
				Op:    domain.OpError,
				ID:    env.ID,
				Topic: env.Topic,
				Error: err.Error(),
			})
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, c *WSClient, env domain.Envelope) error {
	if env.Topic == "" {
		return domain.ErrEmptyTopic
	}
	switch env.Op {
	case domain.OpSubscribe:
		// call topics are private to their owner
		if owner, ok := domain.CallTopicOwner(env.Topic); ok && owner != c.user {
			return errors.Wrapf(domain.ErrForbidden, "%s cannot subscribe to %s", c.user, env.Topic)
		}
		h.Hub.Subscribe(c, env.Topic)
		return nil
	case domain.OpUnsubscribe:
		h.Hub.Unsubscribe(c, env.Topic)
		return nil
	case domain.OpPublish:
		return h.Calls.HandlePublish(ctx, c.user, env.Topic, env.Payload)
	default:
		return errors.Errorf("unsupported op %q", env.Op)
	}
}
