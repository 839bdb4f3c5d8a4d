package signaling

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yalive/internal/core/domain"
	"github.com/Wyydra/yalive/internal/core/port"
)

// Phone owns the outgoing call attempts of one signed-in user. At most one
// live attempt exists per room.
type Phone struct {
	self domain.UserData
	deps Deps
	cfg  Config

	mu       sync.Mutex
	attempts map[domain.RoomID]*CallSession
}

func NewPhone(self domain.UserData, deps Deps, cfg Config) *Phone {
	return &Phone{
		self:     self,
		deps:     deps,
		cfg:      cfg,
		attempts: make(map[domain.RoomID]*CallSession),
	}
}

// Dial rings callee into room. The media token is fetched before anything is
// published; if that fails the attempt never leaves Idle.
func (p *Phone) Dial(ctx context.Context, callee domain.UserID, room domain.RoomID) (*CallSession, error) {
	invite := domain.CallInvite{
		CallerID:     p.self.Identity,
		CalleeID:     callee,
		Room:         room,
		CallerName:   p.self.Name,
		CallerAvatar: p.self.Avatar,
	}

	s, err := p.track(invite)
	if err != nil {
		return nil, err
	}
	if err := s.dial(ctx); err != nil {
		p.forget(s)
		return nil, err
	}
	return s, nil
}

// Join enters the media room of an invite the user accepted.
func (p *Phone) Join(ctx context.Context, invite domain.CallInvite) (*CallSession, error) {
	s, err := p.track(invite)
	if err != nil {
		return nil, err
	}
	if err := s.join(ctx); err != nil {
		p.forget(s)
		return nil, err
	}
	return s, nil
}

// Session returns the live attempt for room, if any.
func (p *Phone) Session(room domain.RoomID) (*CallSession, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.attempts[room]
	return s, ok
}

// HangupAll tears down every live attempt.
func (p *Phone) HangupAll() {
	p.mu.Lock()
	sessions := make([]*CallSession, 0, len(p.attempts))
	for _, s := range p.attempts {
		sessions = append(sessions, s)
	}
	p.mu.Unlock()

	for _, s := range sessions {
		s.Hangup()
	}
}

func (p *Phone) track(invite domain.CallInvite) (*CallSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.attempts[invite.Room]; ok {
		switch prev.State() {
		case domain.CallDialing, domain.CallRinging:
			return nil, errors.Wrapf(domain.ErrCallInProgress, "room %s", invite.Room)
		}
	}
	s := newCallSession(p, invite)
	s.state = domain.CallDialing
	p.attempts[invite.Room] = s
	return s, nil
}

func (p *Phone) forget(s *CallSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attempts[s.invite.Room] == s {
		delete(p.attempts, s.invite.Room)
	}
}

// CallSession is the state machine of one call attempt.
//
//	Idle -> Dialing -> Ringing -> Accepted | Rejected | Missed | Left
//
// Terminal states are sinks. The leave side effect (disconnect media, REST
// leave, close window) runs exactly once, whichever of hangup, ring timeout,
// rejection or media disconnect reaches it first.
type CallSession struct {
	phone  *Phone
	invite domain.CallInvite
	log    zerolog.Logger

	mu         sync.Mutex
	state      domain.CallState
	token      string
	ringTimer  *clock.Timer
	closeTimer *clock.Timer
	sub        port.Subscription
	room       port.MediaRoom

	leave once
}

func newCallSession(p *Phone, invite domain.CallInvite) *CallSession {
	return &CallSession{
		phone:  p,
		invite: invite,
		state:  domain.CallIdle,
		log: log.With().
			Str("room", invite.Room.String()).
			Str("caller", invite.CallerID.String()).
			Str("callee", invite.CalleeID.String()).
			Logger(),
	}
}

func (s *CallSession) Invite() domain.CallInvite {
	return s.invite
}

func (s *CallSession) State() domain.CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *CallSession) dial(ctx context.Context) error {
	deps, cfg := s.phone.deps, s.phone.cfg

	token, err := deps.Calls.CallToken(ctx, s.invite.Code(), s.phone.self)
	if err != nil {
		s.resetIdle()
		deps.Notifier.Notify(domain.ErrorNotice("Could not start the call. Please try again."))
		return errors.Wrap(err, "fetch call token")
	}
	if s.ended() {
		s.log.Debug().Msg("Hung up while dialing")
		return errors.Wrapf(domain.ErrCallEnded, "room %s", s.invite.Room)
	}

	sub, err := deps.Bus.Subscribe(domain.CallTopic(s.invite.CallerID), s.handleSignal)
	if err != nil {
		s.log.Warn().Err(err).Msg("Dropping dial, signaling bus unavailable")
		s.resetIdle()
		return err
	}

	s.mu.Lock()
	if s.endedLocked() {
		s.mu.Unlock()
		sub.Unsubscribe()
		s.log.Debug().Msg("Hung up while dialing")
		return errors.Wrapf(domain.ErrCallEnded, "room %s", s.invite.Room)
	}
	s.token = token
	s.sub = sub
	s.state = domain.CallRinging
	s.ringTimer = deps.clock().AfterFunc(cfg.RingTimeout, s.onRingTimeout)
	s.mu.Unlock()

	if err := deps.Bus.Publish(domain.DestCallInvite, s.invite); err != nil {
		s.log.Warn().Err(err).Str("destination", domain.DestCallInvite).Msg("Dropping invite, signaling bus unavailable")
		s.mu.Lock()
		if s.state == domain.CallRinging {
			s.stopLocked()
			s.state = domain.CallIdle
		}
		s.mu.Unlock()
		return err
	}

	s.log.Info().Msg("Ringing")
	return nil
}

func (s *CallSession) join(ctx context.Context) error {
	deps := s.phone.deps

	token, err := deps.Calls.CallToken(ctx, s.invite.Code(), s.phone.self)
	if err != nil {
		s.resetIdle()
		deps.Notifier.Notify(domain.ErrorNotice("Could not join the call. Please try again."))
		return errors.Wrap(err, "fetch call token")
	}

	s.mu.Lock()
	if s.endedLocked() {
		s.mu.Unlock()
		return errors.Wrapf(domain.ErrCallEnded, "room %s", s.invite.Room)
	}
	s.token = token
	s.state = domain.CallAccepted
	s.mu.Unlock()

	s.connect()
	return nil
}

func (s *CallSession) handleSignal(payload json.RawMessage) {
	var sig domain.CallSignal
	if err := json.Unmarshal(payload, &sig); err != nil {
		s.log.Warn().Err(err).Msg("Malformed call signal")
		return
	}

	switch sig.Type {
	case domain.SignalAccept:
		a := sig.Accept()
		if a.AcceptedFrom != s.invite.CallerID || a.FromUser != s.invite.CalleeID {
			return
		}
		s.onAccepted()
	case domain.SignalReject:
		r := sig.Reject()
		if r.Room != s.invite.Room || r.CallerID != s.invite.CallerID {
			return
		}
		s.onRejected()
	}
}

func (s *CallSession) onAccepted() {
	s.mu.Lock()
	if s.state != domain.CallRinging {
		s.mu.Unlock()
		s.log.Debug().Str("state", string(s.state)).Msg("Ignoring late accept")
		return
	}
	s.state = domain.CallAccepted
	s.stopLocked()
	s.mu.Unlock()

	s.log.Info().Msg("Call accepted")
	go s.connect()
}

func (s *CallSession) onRejected() {
	s.mu.Lock()
	if s.state != domain.CallRinging {
		s.mu.Unlock()
		s.log.Debug().Str("state", string(s.state)).Msg("Ignoring late reject")
		return
	}
	s.state = domain.CallRejected
	s.stopLocked()
	s.closeTimer = s.phone.deps.clock().AfterFunc(s.phone.cfg.CloseDelay, func() {
		s.teardown("rejected")
	})
	s.mu.Unlock()

	s.log.Info().Msg("Call rejected")
	s.phone.deps.Notifier.Notify(domain.InfoNotice("Call declined"))
}

func (s *CallSession) onRingTimeout() {
	s.mu.Lock()
	if s.state != domain.CallRinging {
		s.mu.Unlock()
		return
	}
	s.state = domain.CallMissed
	s.mu.Unlock()

	s.log.Info().Msg("No answer")
	s.teardown("missed")
}

func (s *CallSession) onMediaDisconnected() {
	s.teardown("media disconnected")
}

// Hangup ends the attempt from the user's side.
func (s *CallSession) Hangup() {
	s.mu.Lock()
	if !s.state.Terminal() {
		s.state = domain.CallLeft
	}
	s.mu.Unlock()
	s.teardown("hangup")
}

// connect hands the pre-fetched token to the media room client.
func (s *CallSession) connect() {
	deps, cfg := s.phone.deps, s.phone.cfg

	s.mu.Lock()
	token := s.token
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.CleanupTimeout)
	defer cancel()

	room, err := deps.Media.Connect(ctx, cfg.MediaURL, token, s.onMediaDisconnected)
	if err != nil {
		s.log.Error().Err(err).Msg("Media room connect failed")
		deps.Notifier.Notify(domain.ErrorNotice("Could not connect to the call"))
		s.teardown("media connect failed")
		return
	}

	s.mu.Lock()
	if s.leave.Done() {
		s.mu.Unlock()
		room.Disconnect()
		return
	}
	s.room = room
	s.mu.Unlock()
}

func (s *CallSession) teardown(reason string) {
	s.leave.Do(func() {
		deps, cfg := s.phone.deps, s.phone.cfg

		s.mu.Lock()
		s.stopLocked()
		if s.closeTimer != nil {
			s.closeTimer.Stop()
			s.closeTimer = nil
		}
		room := s.room
		s.room = nil
		s.mu.Unlock()

		if room != nil {
			room.Disconnect()
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.CleanupTimeout)
		defer cancel()
		if err := deps.Calls.LeaveCall(ctx, s.invite.Code()); err != nil {
			s.log.Error().Err(err).Str("reason", reason).Msg("Leave call failed")
		}

		deps.View.CloseWindow()
		s.phone.forget(s)
		s.log.Info().Str("reason", reason).Msg("Left call")
	})
}

func (s *CallSession) stopLocked() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
	}
}

// ended reports whether teardown already ran or the state is a sink.
func (s *CallSession) ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedLocked()
}

func (s *CallSession) endedLocked() bool {
	return s.leave.Done() || s.state.Terminal()
}

func (s *CallSession) resetIdle() {
	s.mu.Lock()
	if !s.endedLocked() {
		s.state = domain.CallIdle
	}
	s.mu.Unlock()
}
