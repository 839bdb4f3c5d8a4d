package signaling

import (
	"context"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yalive/internal/core/domain"
	"github.com/Wyydra/yalive/internal/core/port"
)

// StreamCoordinator drives a streamer's broadcasts: create, go live, end.
// Sessions read through an LRU cache; the REST collaborator stays the source
// of truth.
type StreamCoordinator struct {
	self     domain.UserData
	deps     Deps
	cfg      Config
	settings *SettingsCache

	cacheMu  sync.Mutex
	sessions *lru.Cache

	mu         sync.Mutex
	broadcasts map[domain.RoomID]*broadcast
}

type broadcast struct {
	mu     sync.Mutex
	status domain.StreamStatus
	room   port.MediaRoom

	end once
}

func NewStreamCoordinator(self domain.UserData, deps Deps, cfg Config, settings *SettingsCache) *StreamCoordinator {
	return &StreamCoordinator{
		self:       self,
		deps:       deps,
		cfg:        cfg,
		settings:   settings,
		sessions:   lru.New(cfg.SessionCacheSize),
		broadcasts: make(map[domain.RoomID]*broadcast),
	}
}

// CreateStream registers a new scheduled broadcast.
func (c *StreamCoordinator) CreateStream(ctx context.Context, meta domain.StreamMetadata) (domain.StreamSession, error) {
	s, err := c.deps.Streams.CreateStream(ctx, meta)
	if err != nil {
		c.deps.Notifier.Notify(domain.ErrorNotice("Something went wrong. Please try again."))
		return domain.StreamSession{}, errors.Wrap(err, "create stream")
	}

	c.cacheMu.Lock()
	c.sessions.Clear()
	c.sessions.Add(s.RoomID, s)
	c.cacheMu.Unlock()

	b := c.broadcast(s.RoomID)
	b.mu.Lock()
	b.status = s.Status
	b.mu.Unlock()

	log.Info().Str("room", s.RoomID.String()).Str("title", s.Title).Msg("Stream created")
	return s, nil
}

// Session returns the stream, from cache when possible.
func (c *StreamCoordinator) Session(ctx context.Context, room domain.RoomID) (domain.StreamSession, error) {
	c.cacheMu.Lock()
	v, ok := c.sessions.Get(room)
	c.cacheMu.Unlock()
	if ok {
		return v.(domain.StreamSession), nil
	}

	s, err := c.deps.Streams.GetStream(ctx, room)
	if err != nil {
		return domain.StreamSession{}, errors.Wrapf(err, "get stream %s", room)
	}
	c.cacheMu.Lock()
	c.sessions.Add(room, s)
	c.cacheMu.Unlock()
	return s, nil
}

// StartStream obtains a streamer token, marks the stream live, and connects
// the media room. On failure the stream stays Scheduled.
func (c *StreamCoordinator) StartStream(ctx context.Context, room domain.RoomID) error {
	l := log.With().Str("room", room.String()).Logger()
	b := c.broadcast(room)

	token, err := c.deps.Streams.BroadcastToken(ctx, room, c.self)
	if err == nil {
		var vt domain.ViewerToken
		if vt, err = domain.ParseViewerToken(token); err == nil && vt.Identity != c.self.Identity {
			err = errors.Wrapf(domain.ErrInvalidToken, "token issued for %s", vt.Identity)
		}
	}
	if err != nil {
		l.Error().Err(err).Msg("Broadcast token unavailable")
		c.deps.Notifier.Notify(domain.ErrorNotice("Could not start the stream"))
		return errors.Wrap(err, "broadcast token")
	}

	if err := c.deps.Streams.StartStream(ctx, room); err != nil {
		l.Error().Err(err).Msg("Start stream failed")
		c.deps.Notifier.Notify(domain.ErrorNotice("Could not start the stream"))
		return errors.Wrap(err, "start stream")
	}

	b.mu.Lock()
	b.status = domain.StreamLive
	b.mu.Unlock()
	c.updateCached(room, func(s *domain.StreamSession) {
		s.Status = domain.StreamLive
		s.StartTime = c.deps.clock().Now()
	})

	mr, err := c.deps.Media.Connect(ctx, c.cfg.MediaURL, token, func() {
		l.Warn().Msg("Broadcast media room disconnected")
	})
	if err != nil {
		l.Error().Err(err).Msg("Media room connect failed")
		c.deps.Notifier.Notify(domain.ErrorNotice("Could not connect to the media room"))
		return errors.Wrap(err, "connect media room")
	}

	b.mu.Lock()
	if b.end.Done() {
		b.mu.Unlock()
		mr.Disconnect()
		return nil
	}
	b.room = mr
	b.mu.Unlock()

	if c.settings != nil {
		_ = c.settings.Watch(room)
	}
	l.Info().Msg("Stream live")
	return nil
}

// EndStream ends the broadcast. The REST end call is issued at most once per
// stream no matter how many paths trigger it; a failure is reported but never
// blocks local teardown.
func (c *StreamCoordinator) EndStream(ctx context.Context, room domain.RoomID) error {
	b := c.broadcast(room)
	var endErr error

	b.end.Do(func() {
		l := log.With().Str("room", room.String()).Logger()

		b.mu.Lock()
		mr := b.room
		b.room = nil
		b.status = domain.StreamEnded
		b.mu.Unlock()

		if mr != nil {
			mr.Disconnect()
		}
		if c.settings != nil {
			c.settings.Unwatch(room)
		}

		if err := c.deps.Streams.EndStream(ctx, room); err != nil {
			l.Error().Err(err).Msg("End stream failed")
			c.deps.Notifier.Notify(domain.ErrorNotice("Failed to end the stream"))
			endErr = errors.Wrap(err, "end stream")
		}

		c.updateCached(room, func(s *domain.StreamSession) {
			s.Status = domain.StreamEnded
		})
		l.Info().Msg("Stream ended")
	})
	return endErr
}

// JoinStream fetches a fresh viewer-role token. Safe to call repeatedly.
func (c *StreamCoordinator) JoinStream(ctx context.Context, room domain.RoomID, viewer domain.UserData) (domain.ViewerToken, error) {
	raw, err := c.deps.Streams.JoinStream(ctx, room, viewer)
	if err != nil {
		c.deps.Notifier.Notify(domain.ErrorNotice("Could not join the stream"))
		return domain.ViewerToken{}, errors.Wrap(err, "join stream")
	}
	return domain.ParseViewerToken(raw)
}

// UpdateChatSettings applies the change optimistically and sends it to the
// server, which pushes the authoritative value back.
func (c *StreamCoordinator) UpdateChatSettings(ctx context.Context, room domain.RoomID, patch domain.ChatSettings) error {
	if c.settings != nil {
		c.settings.ApplyLocal(room, patch)
	}
	if err := c.deps.Streams.UpdateChatSettings(ctx, c.self.Identity, patch); err != nil {
		c.deps.Notifier.Notify(domain.ErrorNotice("Could not update chat settings"))
		return errors.Wrap(err, "update chat settings")
	}
	return nil
}

// Close is the teardown path: every live broadcast is ended.
func (c *StreamCoordinator) Close(ctx context.Context) {
	c.mu.Lock()
	live := make([]domain.RoomID, 0, len(c.broadcasts))
	for room, b := range c.broadcasts {
		b.mu.Lock()
		if b.status == domain.StreamLive {
			live = append(live, room)
		}
		b.mu.Unlock()
	}
	c.mu.Unlock()

	for _, room := range live {
		_ = c.EndStream(ctx, room)
	}
}

func (c *StreamCoordinator) Status(room domain.RoomID) domain.StreamStatus {
	b := c.broadcast(room)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (c *StreamCoordinator) broadcast(room domain.RoomID) *broadcast {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.broadcasts[room]
	if !ok {
		b = &broadcast{status: domain.StreamScheduled}
		c.broadcasts[room] = b
	}
	return b
}

func (c *StreamCoordinator) updateCached(room domain.RoomID, fn func(s *domain.StreamSession)) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	v, ok := c.sessions.Get(room)
	if !ok {
		return
	}
	s := v.(domain.StreamSession)
	fn(&s)
	c.sessions.Add(room, s)
}
