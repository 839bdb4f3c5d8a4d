package service

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yalive/internal/core/domain"
	"github.com/Wyydra/yalive/internal/core/port"
)

// ChatSettingsService stores a streamer's chat settings and pushes every
// change to the streamer's open streams.
type ChatSettingsService struct {
	repo    port.ChatSettingsRepository
	streams port.StreamRepository
	gateway port.RealTimeGateway
}

func NewChatSettingsService(repo port.ChatSettingsRepository, streams port.StreamRepository, gateway port.RealTimeGateway) *ChatSettingsService {
	return &ChatSettingsService{
		repo:    repo,
		streams: streams,
		gateway: gateway,
	}
}

func (s *ChatSettingsService) Get(ctx context.Context, user domain.UserID) (domain.ChatSettings, error) {
	settings, err := s.repo.Get(ctx, user)
	if err != nil {
		return domain.ChatSettings{}, err
	}
	return settings.WithDefaults(), nil
}

// Update merges patch into the stored settings and returns the result.
func (s *ChatSettingsService) Update(ctx context.Context, user domain.UserID, patch domain.ChatSettings) (domain.ChatSettings, error) {
	cur, err := s.repo.Get(ctx, user)
	if err != nil {
		return domain.ChatSettings{}, err
	}
	next := cur.Merge(patch).WithDefaults()
	if err := s.repo.Save(ctx, user, next); err != nil {
		return domain.ChatSettings{}, errors.Wrap(err, "save chat settings")
	}

	sessions, err := s.streams.ListByStreamer(ctx, user)
	if err != nil {
		return next, errors.Wrapf(err, "list streams of %s", user)
	}
	msg := domain.SettingsMessage{Type: domain.MsgChatSettingsUpdate, Settings: next}
	for _, session := range sessions {
		if session.Status == domain.StreamEnded {
			continue
		}
		if err := s.gateway.Publish(ctx, domain.StreamSettingsTopic(session.RoomID), msg); err != nil {
			log.Error().Err(err).Str("room", session.RoomID.String()).Msg("Error pushing chat settings")
		}
	}
	log.Info().Str("user_id", user.String()).Int("streams", len(sessions)).Msg("Chat settings updated")
	return next, nil
}
