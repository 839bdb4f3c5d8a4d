package port

import (
	"context"

	"github.com/Wyydra/yalive/internal/core/domain"
)

type StreamRepository interface {
	Save(ctx context.Context, s domain.StreamSession) error
	Get(ctx context.Context, room domain.RoomID) (domain.StreamSession, error)
	ListByStreamer(ctx context.Context, streamer domain.UserID) ([]domain.StreamSession, error)
}

type ChatSettingsRepository interface {
	Save(ctx context.Context, user domain.UserID, s domain.ChatSettings) error
	Get(ctx context.Context, user domain.UserID) (domain.ChatSettings, error)
}

// CallRepository tracks who is in which call code.
type CallRepository interface {
	Join(ctx context.Context, code string, user domain.UserID) error
	// Leave reports whether user was in the call.
	Leave(ctx context.Context, code string, user domain.UserID) (bool, error)
	Participants(ctx context.Context, code string) ([]domain.UserID, error)
}

// TokenIssuer mints media room bearer tokens.
type TokenIssuer interface {
	Issue(ctx context.Context, room domain.RoomID, user domain.UserData, canPublish bool) (string, error)
}
