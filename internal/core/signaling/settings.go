package signaling

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yalive/internal/core/domain"
	"github.com/Wyydra/yalive/internal/core/port"
)

// SettingsCache holds chat settings per stream. Local changes apply
// optimistically; pushed updates are authoritative and may overwrite them.
// A pushed change raises a notice, at most one per stream per throttle
// window.
//
// Losing the bus connection clears every entry. Watched streams stay watched
// and are subscribed again once the bus is back.
type SettingsCache struct {
	bus      port.SignalingBus
	notifier port.Notifier
	clock    clock.Clock
	throttle time.Duration

	mu         sync.Mutex
	entries    map[domain.RoomID]domain.ChatSettings
	subs       map[domain.RoomID]port.Subscription
	watched    map[domain.RoomID]struct{}
	lastNotice map[domain.RoomID]time.Time
}

func NewSettingsCache(deps Deps, cfg Config) *SettingsCache {
	c := &SettingsCache{
		bus:        deps.Bus,
		notifier:   deps.Notifier,
		clock:      deps.clock(),
		throttle:   cfg.NoticeThrottle,
		entries:    make(map[domain.RoomID]domain.ChatSettings),
		subs:       make(map[domain.RoomID]port.Subscription),
		watched:    make(map[domain.RoomID]struct{}),
		lastNotice: make(map[domain.RoomID]time.Time),
	}
	deps.Bus.OnConnectionChange(func(connected bool) {
		if !connected {
			c.Clear()
			return
		}
		c.resubscribe()
	})
	return c
}

// Get returns the cached settings, empty when the stream is unknown.
func (c *SettingsCache) Get(stream domain.RoomID) domain.ChatSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.ChatSettings{}.Merge(c.entries[stream])
}

func (c *SettingsCache) ApplyLocal(stream domain.RoomID, patch domain.ChatSettings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[stream] = c.entries[stream].Merge(patch)
}

// ApplyPushed stores an authoritative update and reports whether a notice
// was emitted.
func (c *SettingsCache) ApplyPushed(stream domain.RoomID, patch domain.ChatSettings) bool {
	c.mu.Lock()
	prev := c.entries[stream]
	next := prev.Merge(patch)
	c.entries[stream] = next

	changes := prev.Changes(next)
	if len(changes) == 0 {
		c.mu.Unlock()
		return false
	}

	now := c.clock.Now()
	if last, ok := c.lastNotice[stream]; ok && now.Sub(last) < c.throttle {
		c.mu.Unlock()
		log.Debug().Str("stream", stream.String()).Msg("Settings notice throttled")
		return false
	}
	c.lastNotice[stream] = now
	c.mu.Unlock()

	c.notifier.Notify(domain.InfoNotice(domain.ChangeNotice(changes)))
	return true
}

// Watch subscribes to pushed settings for stream. The stream stays watched
// until Unwatch even when the bus is down.
func (c *SettingsCache) Watch(stream domain.RoomID) error {
	c.mu.Lock()
	c.watched[stream] = struct{}{}
	_, subscribed := c.subs[stream]
	c.mu.Unlock()
	if subscribed {
		return nil
	}
	return c.subscribe(stream)
}

func (c *SettingsCache) subscribe(stream domain.RoomID) error {
	topic := domain.StreamSettingsTopic(stream)
	sub, err := c.bus.Subscribe(topic, func(payload json.RawMessage) {
		c.handlePush(stream, payload)
	})
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Cannot watch settings, signaling bus unavailable")
		return err
	}

	c.mu.Lock()
	_, still := c.watched[stream]
	if _, dup := c.subs[stream]; dup || !still {
		c.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	c.subs[stream] = sub
	c.mu.Unlock()
	return nil
}

// Unwatch unsubscribes and removes the entry for stream.
func (c *SettingsCache) Unwatch(stream domain.RoomID) {
	c.mu.Lock()
	sub := c.subs[stream]
	delete(c.subs, stream)
	delete(c.watched, stream)
	delete(c.entries, stream)
	delete(c.lastNotice, stream)
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// Clear drops every entry. Subscriptions are dropped without unsubscribing
// since the connection that carried them is gone; the watch list is kept.
func (c *SettingsCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[domain.RoomID]domain.ChatSettings)
	c.subs = make(map[domain.RoomID]port.Subscription)
	c.lastNotice = make(map[domain.RoomID]time.Time)
	log.Info().Msg("Settings cache cleared")
}

func (c *SettingsCache) resubscribe() {
	c.mu.Lock()
	streams := make([]domain.RoomID, 0, len(c.watched))
	for stream := range c.watched {
		if _, ok := c.subs[stream]; !ok {
			streams = append(streams, stream)
		}
	}
	c.mu.Unlock()

	for _, stream := range streams {
		if err := c.subscribe(stream); err != nil {
			return
		}
	}
	if len(streams) > 0 {
		log.Info().Int("streams", len(streams)).Msg("Settings subscriptions restored")
	}
}

func (c *SettingsCache) handlePush(stream domain.RoomID, payload json.RawMessage) {
	var msg domain.SettingsMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Warn().Err(err).Str("stream", stream.String()).Msg("Malformed settings push")
		return
	}

	switch msg.Type {
	case domain.MsgChatSettingsUpdate:
		c.ApplyPushed(stream, msg.Settings)
	case domain.MsgStreamUpdate:
		// stream metadata refresh, not a moderator action
		c.ApplyLocal(stream, msg.Settings)
	default:
		log.Debug().Str("type", msg.Type).Msg("Ignoring settings push")
	}
}
