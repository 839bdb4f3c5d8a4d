// Package wsbus is the client side of the push channel: one websocket to the
// signaling server carrying subscribe, unsubscribe and publish frames.
package wsbus

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yalive/internal/core/domain"
	"github.com/Wyydra/yalive/internal/core/port"
)

const (
	writeWait  = 10 * time.Second
	readWait   = 90 * time.Second
	maxBackoff = 30 * time.Second
	inboxSize  = 256
)

// Bus implements port.SignalingBus. Handlers and connection listeners all run
// on one dispatch goroutine, in delivery order, with no bus lock held.
//
// Subscriptions do not survive a disconnect: listeners see connected=false
// and must subscribe again once the bus reconnects.
type Bus struct {
	url    string
	user   domain.UserID
	dialer *websocket.Dialer
	clock  clock.Clock
	log    zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	dropped   chan struct{}
	subs      map[string]map[*subscription]struct{}
	listeners []func(bool)

	writeMu sync.Mutex

	inbox     chan func()
	quit      chan struct{}
	closeOnce sync.Once
}

type subscription struct {
	bus     *Bus
	topic   string
	handler port.MessageHandler
	active  atomic.Bool
}

func (s *subscription) Unsubscribe() {
	if !s.active.CompareAndSwap(true, false) {
		return
	}
	s.bus.unsubscribe(s)
}

// New returns a disconnected bus for user. serverURL is the websocket
// endpoint, e.g. ws://localhost:8080/ws.
func New(serverURL string, user domain.UserID, clk clock.Clock) *Bus {
	if clk == nil {
		clk = clock.New()
	}
	b := &Bus{
		url:    serverURL,
		user:   user,
		dialer: websocket.DefaultDialer,
		clock:  clk,
		log:    log.With().Str("user_id", user.String()).Logger(),
		subs:   make(map[string]map[*subscription]struct{}),
		inbox:  make(chan func(), inboxSize),
		quit:   make(chan struct{}),
	}
	go b.dispatch()
	return b
}

func (b *Bus) dispatch() {
	for {
		select {
		case fn := <-b.inbox:
			fn()
		case <-b.quit:
			return
		}
	}
}

func (b *Bus) enqueue(fn func()) {
	select {
	case b.inbox <- fn:
	case <-b.quit:
	}
}

// Connect dials the server once. It fails if the bus is already connected.
func (b *Bus) Connect(ctx context.Context) error {
	u, err := url.Parse(b.url)
	if err != nil {
		return errors.Wrapf(err, "parse bus url %q", b.url)
	}
	q := u.Query()
	q.Set("user", b.user.String())
	u.RawQuery = q.Encode()

	b.mu.Lock()
	if b.conn != nil {
		b.mu.Unlock()
		return errors.New("signaling bus already connected")
	}
	b.mu.Unlock()

	conn, _, err := b.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return errors.Wrap(err, "dial signaling bus")
	}
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	b.mu.Lock()
	if b.conn != nil {
		b.mu.Unlock()
		conn.Close()
		return errors.New("signaling bus already connected")
	}
	b.conn = conn
	b.dropped = make(chan struct{})
	dropped := b.dropped
	b.mu.Unlock()

	b.log.Info().Str("url", b.url).Msg("Signaling bus connected")
	b.notify(true)
	go b.readLoop(conn, dropped)
	return nil
}

// Run keeps the bus connected until ctx is done, retrying with exponential
// backoff.
func (b *Bus) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if err := b.Connect(ctx); err != nil {
			b.log.Warn().Err(err).Dur("retry_in", backoff).Msg("Signaling bus connect failed")
			select {
			case <-ctx.Done():
				return
			case <-b.clock.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second

		b.mu.Lock()
		dropped := b.dropped
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			b.Disconnect()
			return
		case <-dropped:
		}
	}
}

// Disconnect closes the connection. Listeners see connected=false.
func (b *Bus) Disconnect() {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return
	}
	b.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	b.writeMu.Unlock()
	b.drop(conn)
}

// Close disconnects and stops the dispatch goroutine. The bus cannot be
// reused.
func (b *Bus) Close() {
	b.Disconnect()
	b.closeOnce.Do(func() { close(b.quit) })
}

func (b *Bus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

func (b *Bus) OnConnectionChange(fn func(connected bool)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

func (b *Bus) Subscribe(topic string, handler port.MessageHandler) (port.Subscription, error) {
	if topic == "" {
		return nil, domain.ErrEmptyTopic
	}
	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		b.log.Warn().Str("topic", topic).Msg("Subscribe dropped, signaling bus not connected")
		return nil, domain.ErrNotConnected
	}
	s := &subscription{bus: b, topic: topic, handler: handler}
	s.active.Store(true)
	subs, ok := b.subs[topic]
	if !ok {
		subs = make(map[*subscription]struct{})
		b.subs[topic] = subs
	}
	subs[s] = struct{}{}
	first := !ok
	b.mu.Unlock()

	if first {
		if err := b.write(conn, &domain.Envelope{Op: domain.OpSubscribe, ID: domain.NewMessageID().String(), Topic: topic}); err != nil {
			s.Unsubscribe()
			return nil, err
		}
	}
	return s, nil
}

func (b *Bus) unsubscribe(s *subscription) {
	b.mu.Lock()
	subs := b.subs[s.topic]
	delete(subs, s)
	last := subs != nil && len(subs) == 0
	if last {
		delete(b.subs, s.topic)
	}
	conn := b.conn
	b.mu.Unlock()

	if last && conn != nil {
		if err := b.write(conn, &domain.Envelope{Op: domain.OpUnsubscribe, ID: domain.NewMessageID().String(), Topic: s.topic}); err != nil {
			b.log.Debug().Err(err).Str("topic", s.topic).Msg("Unsubscribe not sent")
		}
	}
}

// Publish sends payload to destination. There is no acknowledgement.
func (b *Bus) Publish(destination string, payload any) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		b.log.Warn().Str("destination", destination).Msg("Publish dropped, signaling bus not connected")
		return domain.ErrNotConnected
	}
	env, err := domain.NewEnvelope(domain.OpPublish, destination, payload)
	if err != nil {
		return errors.Wrapf(err, "encode publish to %s", destination)
	}
	return b.write(conn, env)
}

func (b *Bus) write(conn *websocket.Conn, env *domain.Envelope) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(env); err != nil {
		go b.drop(conn)
		return errors.Wrapf(domain.ErrNotConnected, "write %s %s: %v", env.Op, env.Topic, err)
	}
	return nil
}

func (b *Bus) readLoop(conn *websocket.Conn, dropped chan struct{}) {
	defer close(dropped)
	defer b.drop(conn)

	for {
		var env domain.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.log.Warn().Err(err).Msg("Signaling bus connection lost")
			}
			return
		}
		switch env.Op {
		case domain.OpMessage:
			b.deliver(env.Topic, env.Payload)
		case domain.OpError:
			b.log.Warn().Str("topic", env.Topic).Str("id", env.ID).Str("error", env.Error).Msg("Server rejected frame")
		default:
			b.log.Debug().Str("op", string(env.Op)).Msg("Ignoring frame")
		}
	}
}

func (b *Bus) deliver(topic string, payload json.RawMessage) {
	b.mu.Lock()
	targets := make([]*subscription, 0, len(b.subs[topic]))
	for s := range b.subs[topic] {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	b.enqueue(func() {
		for _, s := range targets {
			// skip subscriptions cancelled while this message was queued
			if s.active.Load() {
				s.handler(payload)
			}
		}
	})
}

// drop forgets conn and every subscription made on it.
func (b *Bus) drop(conn *websocket.Conn) {
	b.mu.Lock()
	if b.conn != conn {
		b.mu.Unlock()
		return
	}
	b.conn = nil
	for _, subs := range b.subs {
		for s := range subs {
			s.active.Store(false)
		}
	}
	b.subs = make(map[string]map[*subscription]struct{})
	b.mu.Unlock()

	conn.Close()
	b.log.Info().Msg("Signaling bus disconnected")
	b.notify(false)
}

func (b *Bus) notify(connected bool) {
	b.mu.Lock()
	listeners := append([]func(bool){}, b.listeners...)
	b.mu.Unlock()
	b.enqueue(func() {
		for _, fn := range listeners {
			fn(connected)
		}
	})
}
