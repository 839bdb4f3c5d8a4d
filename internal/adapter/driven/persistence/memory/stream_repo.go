package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/Wyydra/yalive/internal/core/domain"
)

type StreamRepository struct {
	mu      sync.Mutex
	streams map[domain.RoomID]domain.StreamSession
	order   []domain.RoomID
}

func NewStreamRepository() *StreamRepository {
	return &StreamRepository{
		streams: make(map[domain.RoomID]domain.StreamSession),
	}
}

func (r *StreamRepository) Save(ctx context.Context, s domain.StreamSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.streams[s.RoomID]; !ok {
		r.order = append(r.order, s.RoomID)
	}
	r.streams[s.RoomID] = s
	return nil
}

func (r *StreamRepository) Get(ctx context.Context, room domain.RoomID) (domain.StreamSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[room]
	if !ok {
		return domain.StreamSession{}, errors.Wrapf(domain.ErrStreamNotFound, "room %s", room)
	}
	return s, nil
}

// ListByStreamer returns the streamer's sessions, newest first.
func (r *StreamRepository) ListByStreamer(ctx context.Context, streamer domain.UserID) ([]domain.StreamSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.StreamSession
	for i := len(r.order) - 1; i >= 0; i-- {
		if s := r.streams[r.order[i]]; s.StreamerID == streamer {
			out = append(out, s)
		}
	}
	return out, nil
}

type ChatSettingsRepository struct {
	mu       sync.Mutex
	settings map[domain.UserID]domain.ChatSettings
}

func NewChatSettingsRepository() *ChatSettingsRepository {
	return &ChatSettingsRepository{
		settings: make(map[domain.UserID]domain.ChatSettings),
	}
}

func (r *ChatSettingsRepository) Save(ctx context.Context, user domain.UserID, s domain.ChatSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[user] = domain.ChatSettings{}.Merge(s)
	return nil
}

// Get returns empty settings for a user that never saved any.
func (r *ChatSettingsRepository) Get(ctx context.Context, user domain.UserID) (domain.ChatSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.ChatSettings{}.Merge(r.settings[user]), nil
}

type CallRepository struct {
	mu    sync.Mutex
	calls map[string]map[domain.UserID]struct{}
}

func NewCallRepository() *CallRepository {
	return &CallRepository{
		calls: make(map[string]map[domain.UserID]struct{}),
	}
}

func (r *CallRepository) Join(ctx context.Context, code string, user domain.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.calls[code]
	if !ok {
		members = make(map[domain.UserID]struct{})
		r.calls[code] = members
	}
	members[user] = struct{}{}
	return nil
}

func (r *CallRepository) Leave(ctx context.Context, code string, user domain.UserID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.calls[code]
	if !ok {
		return false, nil
	}
	if _, ok := members[user]; !ok {
		return false, nil
	}
	delete(members, user)
	if len(members) == 0 {
		delete(r.calls, code)
	}
	return true, nil
}

func (r *CallRepository) Participants(ctx context.Context, code string) ([]domain.UserID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.UserID, 0, len(r.calls[code]))
	for u := range r.calls[code] {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
