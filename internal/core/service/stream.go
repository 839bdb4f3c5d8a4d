package service

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yalive/internal/core/domain"
	"github.com/Wyydra/yalive/internal/core/port"
)

// StreamService owns stream sessions and their Scheduled -> Live -> Ended
// lifecycle. Every transition is pushed to the stream's settings topic.
type StreamService struct {
	repo     port.StreamRepository
	settings port.ChatSettingsRepository
	issuer   port.TokenIssuer
	gateway  port.RealTimeGateway
	clock    clock.Clock
}

func NewStreamService(repo port.StreamRepository, settings port.ChatSettingsRepository, issuer port.TokenIssuer, gateway port.RealTimeGateway, clk clock.Clock) *StreamService {
	if clk == nil {
		clk = clock.New()
	}
	return &StreamService{
		repo:     repo,
		settings: settings,
		issuer:   issuer,
		gateway:  gateway,
		clock:    clk,
	}
}

func (s *StreamService) Create(ctx context.Context, streamer domain.UserID, meta domain.StreamMetadata) (domain.StreamSession, error) {
	session := domain.StreamSession{
		RoomID:      domain.NewRoomID(),
		StreamerID:  streamer,
		Title:       meta.Title,
		Description: meta.Description,
		Status:      domain.StreamScheduled,
	}
	if err := s.repo.Save(ctx, session); err != nil {
		return domain.StreamSession{}, errors.Wrap(err, "save stream")
	}
	log.Info().Str("room", session.RoomID.String()).Str("streamer", streamer.String()).Msg("Stream created")
	return session, nil
}

func (s *StreamService) Get(ctx context.Context, room domain.RoomID) (domain.StreamSession, error) {
	return s.repo.Get(ctx, room)
}

func (s *StreamService) Start(ctx context.Context, room domain.RoomID, user domain.UserID) error {
	return s.transition(ctx, room, user, domain.StreamLive)
}

func (s *StreamService) End(ctx context.Context, room domain.RoomID, user domain.UserID) error {
	return s.transition(ctx, room, user, domain.StreamEnded)
}

// Join issues a subscribe-only token for room.
func (s *StreamService) Join(ctx context.Context, room domain.RoomID, user domain.UserData) (string, error) {
	session, err := s.repo.Get(ctx, room)
	if err != nil {
		return "", err
	}
	if session.Status == domain.StreamEnded {
		return "", errors.Wrapf(domain.ErrInvalidTransition, "stream %s has ended", room)
	}
	return s.issue(ctx, room, user, false)
}

// Broadcast issues a publishing token for room to its streamer.
func (s *StreamService) Broadcast(ctx context.Context, room domain.RoomID, user domain.UserData) (string, error) {
	session, err := s.repo.Get(ctx, room)
	if err != nil {
		return "", err
	}
	if session.StreamerID != user.Identity {
		return "", errors.Wrapf(domain.ErrForbidden, "%s is not the streamer of %s", user.Identity, room)
	}
	return s.issue(ctx, room, user, true)
}

// ViewerToken issues a token for self to watch host's current stream: the
// live one if any, else the latest scheduled one.
func (s *StreamService) ViewerToken(ctx context.Context, host, self domain.UserID) (string, error) {
	sessions, err := s.repo.ListByStreamer(ctx, host)
	if err != nil {
		return "", errors.Wrapf(err, "list streams of %s", host)
	}

	var current *domain.StreamSession
	for i := range sessions {
		switch sessions[i].Status {
		case domain.StreamLive:
			current = &sessions[i]
		case domain.StreamScheduled:
			if current == nil {
				current = &sessions[i]
			}
		}
		if current != nil && current.Status == domain.StreamLive {
			break
		}
	}
	if current == nil {
		return "", errors.Wrapf(domain.ErrStreamNotFound, "no stream for host %s", host)
	}
	return s.issue(ctx, current.RoomID, domain.UserData{Identity: self, Name: self.String()}, false)
}

func (s *StreamService) issue(ctx context.Context, room domain.RoomID, user domain.UserData, canPublish bool) (string, error) {
	token, err := s.issuer.Issue(ctx, room, user, canPublish)
	if err != nil {
		return "", errors.Wrap(domain.ErrTokenIssuance, err.Error())
	}
	return token, nil
}

func (s *StreamService) transition(ctx context.Context, room domain.RoomID, user domain.UserID, to domain.StreamStatus) error {
	l := log.With().Str("room", room.String()).Str("status", string(to)).Logger()

	session, err := s.repo.Get(ctx, room)
	if err != nil {
		return err
	}
	if session.StreamerID != user {
		return errors.Wrapf(domain.ErrForbidden, "%s is not the streamer of %s", user, room)
	}
	if !session.CanTransition(to) {
		return errors.Wrapf(domain.ErrInvalidTransition, "%s -> %s", session.Status, to)
	}

	session.Status = to
	if to == domain.StreamLive {
		session.StartTime = s.clock.Now().UTC()
	}
	if err := s.repo.Save(ctx, session); err != nil {
		return errors.Wrap(err, "save stream")
	}
	l.Info().Msg("Stream transitioned")

	settings, err := s.settings.Get(ctx, session.StreamerID)
	if err != nil {
		l.Warn().Err(err).Msg("Chat settings unavailable for stream update")
	}
	msg := domain.SettingsMessage{
		Type:     domain.MsgStreamUpdate,
		Settings: settings.WithDefaults(),
		Stream:   &session,
	}
	if err := s.gateway.Publish(ctx, domain.StreamSettingsTopic(room), msg); err != nil {
		l.Error().Err(err).Msg("Error pushing stream update")
	}
	return nil
}
