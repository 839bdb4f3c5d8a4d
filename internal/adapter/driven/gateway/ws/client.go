package ws

import "github.com/Wyydra/yalive/internal/core/domain"

// Client is one push channel connection as seen by the Hub.
type Client interface {
	ID() string
	UserID() domain.UserID
	// Send queues env for delivery. It must not block.
	Send(env *domain.Envelope) error
	Close() error
}
