// Package livekit connects to media rooms with the LiveKit Go SDK.
package livekit

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	lksdk "github.com/livekit/server-sdk-go/v2"

	"github.com/Wyydra/yalive/internal/core/port"
)

// Connector implements port.MediaRoomConnector. Tracks are never published
// from here; the caller of Connect only needs the room lifecycle.
type Connector struct {
	autoSubscribe bool
}

func NewConnector(autoSubscribe bool) *Connector {
	return &Connector{autoSubscribe: autoSubscribe}
}

type room struct {
	room   *lksdk.Room
	closed atomic.Bool
}

// Disconnect leaves the room. onDisconnected is not fired for it.
func (r *room) Disconnect() {
	if r.closed.CompareAndSwap(false, true) {
		r.room.Disconnect()
	}
}

func (c *Connector) Connect(ctx context.Context, serverURL, token string, onDisconnected func()) (port.MediaRoom, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := &room{}
	cb := lksdk.NewRoomCallback()
	cb.OnDisconnected = func() {
		if !r.closed.CompareAndSwap(false, true) {
			return
		}
		log.Info().Msg("Media room dropped")
		if onDisconnected != nil {
			onDisconnected()
		}
	}

	lk, err := lksdk.ConnectToRoomWithToken(serverURL, token, cb, lksdk.WithAutoSubscribe(c.autoSubscribe))
	if err != nil {
		return nil, errors.Wrapf(err, "connect media room at %s", serverURL)
	}
	r.room = lk
	log.Info().Str("room", lk.Name()).Str("sid", lk.SID()).Msg("Media room connected")
	return r, nil
}
