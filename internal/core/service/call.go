package service

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yalive/internal/core/domain"
	"github.com/Wyydra/yalive/internal/core/port"
)

// CallRelay forwards call signaling published on app/call.* to the per-user
// call topics and hands out media tokens for call rooms.
type CallRelay struct {
	calls   port.CallRepository
	issuer  port.TokenIssuer
	gateway port.RealTimeGateway
}

func NewCallRelay(calls port.CallRepository, issuer port.TokenIssuer, gateway port.RealTimeGateway) *CallRelay {
	return &CallRelay{
		calls:   calls,
		issuer:  issuer,
		gateway: gateway,
	}
}

// HandlePublish routes a publish from user from. The sender must be the
// party the payload claims it comes from.
func (s *CallRelay) HandlePublish(ctx context.Context, from domain.UserID, dest string, payload json.RawMessage) error {
	l := log.With().Str("user_id", from.String()).Str("destination", dest).Logger()

	switch dest {
	case domain.DestCallInvite:
		var inv domain.CallInvite
		if err := json.Unmarshal(payload, &inv); err != nil {
			return errors.Wrap(err, "decode invite")
		}
		if inv.CallerID != from || inv.CalleeID == "" || inv.Room == "" {
			return errors.Wrapf(domain.ErrForbidden, "invite from %s", from)
		}
		l.Info().Str("callee", inv.CalleeID.String()).Str("room", inv.Room.String()).Msg("Relaying invite")
		return s.gateway.Publish(ctx, domain.CallTopic(inv.CalleeID), domain.NewInviteSignal(inv))

	case domain.DestCallAccept:
		var a domain.AcceptSignal
		if err := json.Unmarshal(payload, &a); err != nil {
			return errors.Wrap(err, "decode accept")
		}
		if a.FromUser != from || a.AcceptedFrom == "" {
			return errors.Wrapf(domain.ErrForbidden, "accept from %s", from)
		}
		l.Info().Str("caller", a.AcceptedFrom.String()).Msg("Relaying accept")
		return s.gateway.Publish(ctx, domain.CallTopic(a.AcceptedFrom), domain.NewAcceptSignal(a))

	case domain.DestCallReject:
		var r domain.RejectSignal
		if err := json.Unmarshal(payload, &r); err != nil {
			return errors.Wrap(err, "decode reject")
		}
		sig := domain.NewRejectSignal(r)
		switch from {
		case r.CalleeID:
			// the callee's other tabs drop the invite too
			if err := s.gateway.Publish(ctx, domain.CallTopic(r.CallerID), sig); err != nil {
				return err
			}
			l.Info().Str("caller", r.CallerID.String()).Msg("Relaying reject")
			return s.gateway.Publish(ctx, domain.CallTopic(r.CalleeID), sig)
		case r.CallerID:
			l.Info().Str("callee", r.CalleeID.String()).Msg("Relaying cancel")
			return s.gateway.Publish(ctx, domain.CallTopic(r.CalleeID), sig)
		}
		return errors.Wrapf(domain.ErrForbidden, "reject from %s", from)
	}

	return errors.Wrap(domain.ErrUnknownDestination, dest)
}

// CallToken issues a publishing token for the call room named by code and
// records user as a participant.
func (s *CallRelay) CallToken(ctx context.Context, code string, user domain.UserData) (string, error) {
	token, err := s.issuer.Issue(ctx, domain.RoomID(code), user, true)
	if err != nil {
		return "", errors.Wrap(domain.ErrTokenIssuance, err.Error())
	}
	if err := s.calls.Join(ctx, code, user.Identity); err != nil {
		return "", errors.Wrapf(err, "join call %s", code)
	}
	return token, nil
}

// LeaveCall removes user from the call. Leaving twice is not an error.
func (s *CallRelay) LeaveCall(ctx context.Context, code string, user domain.UserID) error {
	was, err := s.calls.Leave(ctx, code, user)
	if err != nil {
		return errors.Wrapf(err, "leave call %s", code)
	}
	l := log.With().Str("code", code).Str("user_id", user.String()).Logger()
	if !was {
		l.Debug().Msg("Leave for absent participant")
		return nil
	}
	l.Info().Msg("Left call")
	return nil
}

func (s *CallRelay) Participants(ctx context.Context, code string) ([]domain.UserID, error) {
	return s.calls.Participants(ctx, code)
}
