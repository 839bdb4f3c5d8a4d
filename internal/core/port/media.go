package port

import "context"

// MediaRoom is an open connection to an external media room.
type MediaRoom interface {
	Disconnect()
}

type MediaRoomConnector interface {
	// Connect joins the room the token is scoped to. onDisconnected fires when
	// the room drops the connection on its own.
	Connect(ctx context.Context, serverURL, token string, onDisconnected func()) (MediaRoom, error)
}
