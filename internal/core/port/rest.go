package port

import (
	"context"

	"github.com/Wyydra/yalive/internal/core/domain"
)

// StreamAPI is the REST collaborator for broadcasts.
type StreamAPI interface {
	CreateViewerToken(ctx context.Context, host, self domain.UserID) (string, error)
	CreateStream(ctx context.Context, meta domain.StreamMetadata) (domain.StreamSession, error)
	GetStream(ctx context.Context, room domain.RoomID) (domain.StreamSession, error)
	StartStream(ctx context.Context, room domain.RoomID) error
	EndStream(ctx context.Context, room domain.RoomID) error
	JoinStream(ctx context.Context, room domain.RoomID, user domain.UserData) (string, error)
	BroadcastToken(ctx context.Context, room domain.RoomID, user domain.UserData) (string, error)
	UpdateChatSettings(ctx context.Context, user domain.UserID, settings domain.ChatSettings) error
}

// CallAPI is the REST collaborator for calls.
type CallAPI interface {
	CallToken(ctx context.Context, code string, user domain.UserData) (string, error)
	LeaveCall(ctx context.Context, code string) error
}
