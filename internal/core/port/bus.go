package port

import "encoding/json"

// MessageHandler receives the raw payload of a pushed message.
type MessageHandler func(payload json.RawMessage)

type Subscription interface {
	Unsubscribe()
}

// SignalingBus is the client side of the push channel. Publish is fire and
// forget. Both Publish and Subscribe fail with domain.ErrNotConnected while
// no connection is established.
type SignalingBus interface {
	Subscribe(topic string, handler MessageHandler) (Subscription, error)
	Publish(destination string, payload any) error
	Connected() bool
	OnConnectionChange(fn func(connected bool))
}
