package ws

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yalive/internal/core/domain"
)

// Hub routes published payloads to the clients subscribed to a topic.
// Implements port.RealTimeGateway.
type Hub struct {
	mu      sync.RWMutex
	clients map[Client]map[string]struct{}
	topics  map[string]map[Client]struct{}

	register   chan Client
	unregister chan Client
	quit       chan struct{}
	stopOnce   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[Client]map[string]struct{}),
		topics:     make(map[string]map[Client]struct{}),
		register:   make(chan Client),
		unregister: make(chan Client),
		quit:       make(chan struct{}),
	}
}

// Publish sends payload to every subscriber of topic. A client whose queue
// is full is dropped.
func (h *Hub) Publish(ctx context.Context, topic string, payload any) error {
	env, err := domain.NewEnvelope(domain.OpMessage, topic, payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	targets := make([]Client, 0, len(h.topics[topic]))
	for c := range h.topics[topic] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.Send(env); err != nil {
			log.Error().Err(err).Str("client_id", c.ID()).Str("topic", topic).Msg("Error sending message")
			h.remove(c)
		}
	}
	log.Debug().Str("topic", topic).Int("subscribers", len(targets)).Msg("Published")
	return nil
}

func (h *Hub) Subscribe(c Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	topics, ok := h.clients[c]
	if !ok {
		topics = make(map[string]struct{})
		h.clients[c] = topics
	}
	topics[topic] = struct{}{}

	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[Client]struct{})
		h.topics[topic] = subs
	}
	subs[c] = struct{}{}
}

func (h *Hub) Unsubscribe(c Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients[c], topic)
	h.dropTopicLocked(c, topic)
}

// Subscribers returns how many clients listen on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
			}
			h.clients = make(map[Client]map[string]struct{})
			h.topics = make(map[string]map[Client]struct{})
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[client]; !ok {
				h.clients[client] = make(map[string]struct{})
			}
			n := len(h.clients)
			h.mu.Unlock()
			log.Info().Str("client_id", client.ID()).Str("user_id", client.UserID().String()).Int("count", n).Msg("Client registered")

		case client := <-h.unregister:
			if h.remove(client) {
				log.Info().Str("client_id", client.ID()).Str("user_id", client.UserID().String()).Msg("Client unregistered")
			}
		}
	}
}

func (h *Hub) Register(c Client) {
	select {
	case h.register <- c:
	case <-h.quit:
	}
}

func (h *Hub) Unregister(c Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

// remove forgets c and its subscriptions and closes it. It reports whether
// c was known.
func (h *Hub) remove(c Client) bool {
	h.mu.Lock()
	topics, ok := h.clients[c]
	if ok {
		for topic := range topics {
			h.dropTopicLocked(c, topic)
		}
		delete(h.clients, c)
	}
	h.mu.Unlock()

	if ok {
		c.Close()
	}
	return ok
}

func (h *Hub) dropTopicLocked(c Client, topic string) {
	subs := h.topics[topic]
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}
