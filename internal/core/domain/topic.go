package domain

import (
	"fmt"
	"strings"
)

// Publish destinations handled by the server relay.
const (
	DestCallInvite = "app/call.invite"
	DestCallAccept = "app/call.accept"
	DestCallReject = "app/call.reject"
)

// Message types pushed on streams/{streamId}/settings.
const (
	MsgChatSettingsUpdate = "CHAT_SETTINGS_UPDATE"
	MsgStreamUpdate       = "STREAM_UPDATE"
)

const callTopicPrefix = "call/"

// CallTopic is the per-callee topic that carries Invite, Accept and Reject.
func CallTopic(user UserID) string {
	return callTopicPrefix + user.String()
}

// CallTopicOwner returns the user a call topic belongs to.
func CallTopicOwner(topic string) (UserID, bool) {
	if !strings.HasPrefix(topic, callTopicPrefix) {
		return "", false
	}
	owner := strings.TrimPrefix(topic, callTopicPrefix)
	if owner == "" || strings.Contains(owner, "/") {
		return "", false
	}
	return UserID(owner), true
}

func StreamSettingsTopic(stream RoomID) string {
	return fmt.Sprintf("streams/%s/settings", stream)
}

// SettingsMessage is the payload pushed on a stream settings topic.
type SettingsMessage struct {
	Type     string         `json:"type"`
	Settings ChatSettings   `json:"settings"`
	Stream   *StreamSession `json:"stream,omitempty"`
}
