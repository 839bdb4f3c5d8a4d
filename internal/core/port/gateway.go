package port

import (
	"context"
)

// RealTimeGateway pushes payloads to every subscriber of a topic.
type RealTimeGateway interface {
	Publish(ctx context.Context, topic string, payload any) error
}
