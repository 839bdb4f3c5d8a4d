package domain

import (
	"github.com/google/uuid"
)

// UserID is the identity of a user on the platform. It doubles as the
// media room identity.
type UserID string

// RoomID names a call room or a stream room.
type RoomID string

func NewRoomID() RoomID {
	return RoomID(uuid.New().String())
}

func (id UserID) String() string {
	return string(id)
}

func (id RoomID) String() string {
	return string(id)
}

type MessageID uuid.UUID

func NewMessageID() MessageID {
	return MessageID(uuid.New())
}

func (id MessageID) String() string {
	return uuid.UUID(id).String()
}

// UserData is the display identity attached to token requests.
type UserData struct {
	Identity UserID `json:"identity"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
}
