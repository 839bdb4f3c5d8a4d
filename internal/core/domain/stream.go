package domain

import "time"

type StreamStatus string

const (
	StreamScheduled StreamStatus = "SCHEDULED"
	StreamLive      StreamStatus = "LIVE"
	StreamEnded     StreamStatus = "ENDED"
)

// StreamMetadata is what a streamer fills in on the create form.
type StreamMetadata struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// StreamSession is a broadcast. Status only moves Scheduled -> Live -> Ended.
type StreamSession struct {
	RoomID      RoomID       `json:"roomId"`
	StreamerID  UserID       `json:"streamerId"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      StreamStatus `json:"status"`
	StartTime   time.Time    `json:"startTime"`
}

// CanTransition reports whether the session may move to status to.
func (s StreamSession) CanTransition(to StreamStatus) bool {
	switch to {
	case StreamLive:
		return s.Status == StreamScheduled
	case StreamEnded:
		return s.Status == StreamScheduled || s.Status == StreamLive
	}
	return false
}
