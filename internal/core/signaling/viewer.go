package signaling

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yalive/internal/core/domain"
	"github.com/Wyydra/yalive/internal/core/port"
)

// Viewer holds one viewer's token and media connection for the stream being
// watched. Both are re-acquired whenever the (room, viewer) pair changes.
type Viewer struct {
	deps     Deps
	cfg      Config
	settings *SettingsCache

	mu    sync.Mutex
	room  domain.RoomID
	self  domain.UserID
	token domain.ViewerToken
	conn  port.MediaRoom
	gen   uint64
}

func NewViewer(deps Deps, cfg Config, settings *SettingsCache) *Viewer {
	return &Viewer{deps: deps, cfg: cfg, settings: settings}
}

// Watch connects self to the stream hosted by host in room.
func (v *Viewer) Watch(ctx context.Context, room domain.RoomID, host domain.UserID, self domain.UserData) (domain.ViewerToken, error) {
	l := log.With().Str("room", room.String()).Str("viewer", self.Identity.String()).Logger()

	v.mu.Lock()
	if v.conn != nil && v.room == room && v.self == self.Identity {
		tok := v.token
		v.mu.Unlock()
		return tok, nil
	}
	prevConn, prevRoom := v.conn, v.room
	v.conn = nil
	v.token = domain.ViewerToken{}
	v.room, v.self = room, self.Identity
	v.gen++
	gen := v.gen
	v.mu.Unlock()

	v.release(prevConn, prevRoom, room)

	raw, err := v.deps.Streams.CreateViewerToken(ctx, host, self.Identity)
	if err != nil {
		l.Error().Err(err).Msg("Viewer token unavailable")
		v.deps.Notifier.Notify(domain.ErrorNotice("Could not load the stream"))
		return domain.ViewerToken{}, errors.Wrap(err, "create viewer token")
	}
	tok, err := domain.ParseViewerToken(raw)
	if err != nil {
		return domain.ViewerToken{}, err
	}

	conn, err := v.deps.Media.Connect(ctx, v.cfg.MediaURL, raw, func() {
		v.onDropped(gen)
	})
	if err != nil {
		l.Error().Err(err).Msg("Media room connect failed")
		v.deps.Notifier.Notify(domain.ErrorNotice("Could not connect to the stream"))
		return domain.ViewerToken{}, errors.Wrap(err, "connect media room")
	}

	v.mu.Lock()
	if gen != v.gen {
		v.mu.Unlock()
		conn.Disconnect()
		return tok, nil
	}
	v.token = tok
	v.conn = conn
	v.mu.Unlock()

	if v.settings != nil {
		_ = v.settings.Watch(room)
	}
	l.Info().Str("name", tok.Name).Msg("Watching stream")
	return tok, nil
}

// Token returns the token of the current pair.
func (v *Viewer) Token() domain.ViewerToken {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.token
}

// Leave disconnects and removes the settings entry of the watched stream.
func (v *Viewer) Leave() {
	v.mu.Lock()
	conn, room := v.conn, v.room
	v.conn = nil
	v.token = domain.ViewerToken{}
	v.room, v.self = "", ""
	v.gen++
	v.mu.Unlock()

	v.release(conn, room, "")
}

func (v *Viewer) release(conn port.MediaRoom, room, next domain.RoomID) {
	if conn != nil {
		conn.Disconnect()
	}
	if room != "" && room != next && v.settings != nil {
		v.settings.Unwatch(room)
	}
}

func (v *Viewer) onDropped(gen uint64) {
	v.mu.Lock()
	if gen != v.gen {
		v.mu.Unlock()
		return
	}
	v.conn = nil
	v.mu.Unlock()
	log.Warn().Msg("Stream media room disconnected")
}
