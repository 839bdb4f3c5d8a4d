package signaling

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yalive/internal/core/domain"
	"github.com/Wyydra/yalive/internal/core/port"
)

// Callee answers invites pushed on the user's own call topic.
//
// The callee holds one invite at a time. A new invite replaces the held one
// and the older invite is discarded without a reply. This is last writer wins
// and does not make concurrent calls correct.
type Callee struct {
	self domain.UserData
	deps Deps
	log  zerolog.Logger

	mu    sync.Mutex
	state domain.CallState
	held  *domain.CallInvite
	sub   port.Subscription
}

func NewCallee(self domain.UserData, deps Deps) *Callee {
	return &Callee{
		self:  self,
		deps:  deps,
		state: domain.CallIdle,
		log:   log.With().Str("callee", self.Identity.String()).Logger(),
	}
}

// Start subscribes to call/{self}.
func (c *Callee) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		return nil
	}
	sub, err := c.deps.Bus.Subscribe(domain.CallTopic(c.self.Identity), c.handleSignal)
	if err != nil {
		c.log.Warn().Err(err).Msg("Cannot listen for calls, signaling bus unavailable")
		return err
	}
	c.sub = sub
	return nil
}

// Stop unsubscribes and drops any held invite.
func (c *Callee) Stop() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	ringing := c.held != nil
	c.held = nil
	c.state = domain.CallIdle
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if ringing {
		c.deps.View.StopRingtone()
	}
}

func (c *Callee) State() domain.CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Incoming returns the held invite.
func (c *Callee) Incoming() (domain.CallInvite, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held == nil {
		return domain.CallInvite{}, false
	}
	return *c.held, true
}

func (c *Callee) handleSignal(payload json.RawMessage) {
	var sig domain.CallSignal
	if err := json.Unmarshal(payload, &sig); err != nil {
		c.log.Warn().Err(err).Msg("Malformed call signal")
		return
	}

	switch sig.Type {
	case domain.SignalInvite:
		inv := sig.Invite()
		if inv.CalleeID != c.self.Identity {
			return
		}
		c.onInvite(inv)
	case domain.SignalReject:
		c.onCancelled(sig.Reject())
	}
}

func (c *Callee) onInvite(inv domain.CallInvite) {
	c.mu.Lock()
	discarded := c.held
	c.held = &inv
	c.state = domain.CallIncoming
	c.mu.Unlock()

	if discarded != nil {
		c.log.Info().
			Str("discarded_room", discarded.Room.String()).
			Str("room", inv.Room.String()).
			Msg("Replacing held invite")
	}
	c.log.Info().Str("room", inv.Room.String()).Str("caller", inv.CallerID.String()).Msg("Incoming call")
	c.deps.View.PlayRingtone(inv)
}

// onCancelled clears the held invite when a reject for it is pushed, e.g.
// from another tab of the same user.
func (c *Callee) onCancelled(r domain.RejectSignal) {
	c.mu.Lock()
	if c.held == nil || c.held.Room != r.Room || c.held.CallerID != r.CallerID {
		c.mu.Unlock()
		return
	}
	c.held = nil
	c.state = domain.CallIdle
	c.mu.Unlock()

	c.deps.View.StopRingtone()
}

// Accept answers the held invite. With no invite held, or with the bus
// disconnected, the action is dropped.
func (c *Callee) Accept() {
	c.mu.Lock()
	if c.state != domain.CallIncoming || c.held == nil {
		c.mu.Unlock()
		c.log.Debug().Msg("Accept without incoming call")
		return
	}
	inv := *c.held

	accept := domain.AcceptSignal{FromUser: c.self.Identity, AcceptedFrom: inv.CallerID}
	if err := c.deps.Bus.Publish(domain.DestCallAccept, accept); err != nil {
		c.mu.Unlock()
		c.log.Warn().Err(err).Str("destination", domain.DestCallAccept).Msg("Dropping accept")
		return
	}
	c.held = nil
	c.state = domain.CallLeft
	c.mu.Unlock()

	c.deps.View.StopRingtone()
	c.deps.View.OpenCall(inv)
}

// Reject declines the held invite. Same drop rules as Accept.
func (c *Callee) Reject() {
	c.mu.Lock()
	if c.state != domain.CallIncoming || c.held == nil {
		c.mu.Unlock()
		c.log.Debug().Msg("Reject without incoming call")
		return
	}
	inv := *c.held

	reject := domain.RejectSignal{Room: inv.Room, CallerID: inv.CallerID, CalleeID: c.self.Identity}
	if err := c.deps.Bus.Publish(domain.DestCallReject, reject); err != nil {
		c.mu.Unlock()
		c.log.Warn().Err(err).Str("destination", domain.DestCallReject).Msg("Dropping reject")
		return
	}
	c.held = nil
	c.state = domain.CallIdle
	c.mu.Unlock()

	c.deps.View.StopRingtone()
}
