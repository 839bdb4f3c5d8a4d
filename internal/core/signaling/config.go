// Package signaling holds the client side of call and live-stream
// signaling: the call session state machines, the broadcast and viewer
// lifecycle, and the pushed chat settings cache.
package signaling

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Wyydra/yalive/internal/core/port"
)

type Config struct {
	// MediaURL is the media room server the issued tokens are valid for.
	MediaURL string

	RingTimeout    time.Duration
	CloseDelay     time.Duration
	NoticeThrottle time.Duration
	CleanupTimeout time.Duration

	SessionCacheSize int
}

func DefaultConfig() Config {
	return Config{
		RingTimeout:      60 * time.Second,
		CloseDelay:       1500 * time.Millisecond,
		NoticeThrottle:   2000 * time.Millisecond,
		CleanupTimeout:   5 * time.Second,
		SessionCacheSize: 64,
	}
}

// Deps are the collaborators shared by every coordinator of one signed-in
// user.
type Deps struct {
	Bus      port.SignalingBus
	Calls    port.CallAPI
	Streams  port.StreamAPI
	Media    port.MediaRoomConnector
	View     port.CallView
	Notifier port.Notifier
	Clock    clock.Clock
}

func (d Deps) clock() clock.Clock {
	if d.Clock == nil {
		return clock.New()
	}
	return d.Clock
}
