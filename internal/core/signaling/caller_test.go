package signaling

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/yalive/internal/core/domain"
)

var ada = domain.UserData{Identity: "42", Name: "Ada", Avatar: "https://cdn.test/ada.png"}

func dialRinging(t *testing.T, h *harness) (*Phone, *CallSession) {
	t.Helper()
	p := NewPhone(ada, h.deps(), h.cfg)
	s, err := p.Dial(context.Background(), "7", "r1")
	require.NoError(t, err)
	require.Equal(t, domain.CallRinging, s.State())
	return p, s
}

// waitConnected blocks until the accepted session holds its media room.
func waitConnected(t *testing.T, s *CallSession) {
	t.Helper()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.room != nil
	}, time.Second, 5*time.Millisecond)
}

func TestDialPublishesInvite(t *testing.T) {
	h := newHarness(t)
	_, _ = dialRinging(t, h)

	sent := h.bus.sent(domain.DestCallInvite)
	require.Len(t, sent, 1)

	var inv domain.CallInvite
	require.NoError(t, json.Unmarshal(sent[0], &inv))
	assert.Equal(t, domain.CallInvite{
		CallerID:     "42",
		CalleeID:     "7",
		Room:         "r1",
		CallerName:   "Ada",
		CallerAvatar: "https://cdn.test/ada.png",
	}, inv)
	assert.Equal(t, 1, h.bus.subscribers("call/42"))
	assert.Equal(t, 1, h.calls.tokens["r1-42"])
}

func TestDialNoAnswerLeavesOnce(t *testing.T) {
	h := newHarness(t)
	p, s := dialRinging(t, h)

	h.clock.Add(59 * time.Second)
	assert.Equal(t, domain.CallRinging, s.State())
	assert.Equal(t, 0, h.calls.totalLeaves())

	h.clock.Add(time.Second)
	require.Eventually(t, func() bool {
		_, ok := p.Session("r1")
		return !ok
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, domain.CallMissed, s.State())
	assert.Equal(t, 1, h.calls.leaveCount("r1-42"))
	assert.Equal(t, 1, h.view.closeCount())
	assert.Empty(t, h.media.connected())
	assert.Equal(t, 0, h.bus.subscribers("call/42"))

	s.Hangup()
	h.clock.Add(time.Minute)
	assert.Equal(t, 1, h.calls.totalLeaves())
}

func TestDialAcceptConnectsMedia(t *testing.T) {
	h := newHarness(t)
	_, s := dialRinging(t, h)

	h.bus.push(t, "call/42", domain.NewAcceptSignal(domain.AcceptSignal{FromUser: "7", AcceptedFrom: "42"}))
	assert.Equal(t, domain.CallAccepted, s.State())

	waitConnected(t, s)
	room := h.media.connected()[0]
	vt, err := domain.ParseViewerToken(room.token)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("42"), vt.Identity)

	// the ring timer was stopped by the accept
	h.clock.Add(2 * time.Minute)
	assert.Equal(t, domain.CallAccepted, s.State())
	assert.Equal(t, 0, h.calls.totalLeaves())

	s.Hangup()
	assert.Equal(t, 1, h.calls.leaveCount("r1-42"))
	assert.Equal(t, 1, room.disconnectCount())

	room.drop()
	s.Hangup()
	assert.Equal(t, 1, h.calls.totalLeaves())
	assert.Equal(t, 1, h.view.closeCount())
}

func TestDialMediaDropLeavesOnce(t *testing.T) {
	h := newHarness(t)
	_, s := dialRinging(t, h)

	h.bus.push(t, "call/42", domain.NewAcceptSignal(domain.AcceptSignal{FromUser: "7", AcceptedFrom: "42"}))
	waitConnected(t, s)

	h.media.connected()[0].drop()
	assert.Equal(t, 1, h.calls.leaveCount("r1-42"))

	s.Hangup()
	assert.Equal(t, 1, h.calls.totalLeaves())
}

func TestDialIgnoresForeignAccept(t *testing.T) {
	h := newHarness(t)
	_, s := dialRinging(t, h)

	h.bus.push(t, "call/42", domain.NewAcceptSignal(domain.AcceptSignal{FromUser: "8", AcceptedFrom: "42"}))
	h.bus.push(t, "call/42", domain.NewRejectSignal(domain.RejectSignal{Room: "r9", CallerID: "42", CalleeID: "7"}))
	assert.Equal(t, domain.CallRinging, s.State())
}

func TestDialRejectClosesAfterDelay(t *testing.T) {
	h := newHarness(t)
	_, s := dialRinging(t, h)

	h.bus.push(t, "call/42", domain.NewRejectSignal(domain.RejectSignal{Room: "r1", CallerID: "42", CalleeID: "7"}))
	assert.Equal(t, domain.CallRejected, s.State())
	assert.Contains(t, h.notifier.all(), domain.InfoNotice("Call declined"))
	assert.Equal(t, 0, h.calls.totalLeaves())

	h.clock.Add(1500 * time.Millisecond)
	require.Eventually(t, func() bool {
		return h.view.closeCount() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.calls.leaveCount("r1-42"))

	h.clock.Add(time.Minute)
	assert.Equal(t, domain.CallRejected, s.State())
	assert.Equal(t, 1, h.calls.totalLeaves())
}

func TestDialLateSignalsIgnored(t *testing.T) {
	h := newHarness(t)
	_, s := dialRinging(t, h)

	// keep a handle on the handler; teardown unsubscribes it
	h.bus.mu.Lock()
	handler := h.bus.handlers["call/42"][0].handler
	h.bus.mu.Unlock()

	h.bus.push(t, "call/42", domain.NewRejectSignal(domain.RejectSignal{Room: "r1", CallerID: "42", CalleeID: "7"}))
	require.Equal(t, domain.CallRejected, s.State())

	raw, err := json.Marshal(domain.NewAcceptSignal(domain.AcceptSignal{FromUser: "7", AcceptedFrom: "42"}))
	require.NoError(t, err)
	handler(raw)

	assert.Equal(t, domain.CallRejected, s.State())
	assert.Empty(t, h.media.connected())
}

func TestDialHangupWhileRinging(t *testing.T) {
	h := newHarness(t)
	_, s := dialRinging(t, h)

	s.Hangup()
	assert.Equal(t, domain.CallLeft, s.State())
	assert.Equal(t, 1, h.calls.leaveCount("r1-42"))

	h.clock.Add(time.Minute)
	assert.Equal(t, domain.CallLeft, s.State())
	assert.Equal(t, 1, h.calls.totalLeaves())
}

func TestDialHangupWhileDialing(t *testing.T) {
	h := newHarness(t)
	h.calls.gate = make(chan struct{})
	h.calls.entered = make(chan struct{}, 1)
	p := NewPhone(ada, h.deps(), h.cfg)

	errc := make(chan error, 1)
	go func() {
		_, err := p.Dial(context.Background(), "7", "r1")
		errc <- err
	}()
	<-h.calls.entered

	s, ok := p.Session("r1")
	require.True(t, ok)
	assert.Equal(t, domain.CallDialing, s.State())
	s.Hangup()
	close(h.calls.gate)

	err := <-errc
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCallEnded))

	assert.Equal(t, domain.CallLeft, s.State())
	assert.Empty(t, h.bus.sent(domain.DestCallInvite))
	assert.Equal(t, 0, h.bus.subscribers("call/42"))
	assert.Equal(t, 1, h.calls.leaveCount("r1-42"))
	assert.Equal(t, 1, h.view.closeCount())

	h.clock.Add(61 * time.Second)
	assert.Equal(t, domain.CallLeft, s.State())
	assert.Equal(t, 1, h.calls.totalLeaves())
	_, ok = p.Session("r1")
	assert.False(t, ok)
}

func TestJoinHangupWhileFetchingToken(t *testing.T) {
	h := newHarness(t)
	h.calls.gate = make(chan struct{})
	h.calls.entered = make(chan struct{}, 1)
	p := NewPhone(carol, h.deps(), h.cfg)
	invite := domain.CallInvite{CallerID: "42", CalleeID: "9", Room: "r1"}

	errc := make(chan error, 1)
	go func() {
		_, err := p.Join(context.Background(), invite)
		errc <- err
	}()
	<-h.calls.entered

	s, ok := p.Session("r1")
	require.True(t, ok)
	s.Hangup()
	close(h.calls.gate)

	err := <-errc
	assert.True(t, errors.Is(err, domain.ErrCallEnded))
	assert.Equal(t, domain.CallLeft, s.State())
	assert.Empty(t, h.media.connected())
}

func TestDialTokenFailureStaysIdle(t *testing.T) {
	h := newHarness(t)
	h.calls.tokenErr = errBoom
	p := NewPhone(ada, h.deps(), h.cfg)

	s, err := p.Dial(context.Background(), "7", "r1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errBoom))
	assert.Nil(t, s)

	assert.Empty(t, h.bus.sent(domain.DestCallInvite))
	assert.Equal(t, 0, h.bus.subscribers("call/42"))
	assert.Equal(t, []domain.Notice{domain.ErrorNotice("Could not start the call. Please try again.")}, h.notifier.all())
	_, ok := p.Session("r1")
	assert.False(t, ok)

	h.clock.Add(2 * time.Minute)
	assert.Equal(t, 0, h.calls.totalLeaves())
}

func TestDialBusDisconnectedDropsAction(t *testing.T) {
	h := newHarness(t)
	h.bus.setConnected(false)
	p := NewPhone(ada, h.deps(), h.cfg)

	_, err := p.Dial(context.Background(), "7", "r1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotConnected))
	assert.Empty(t, h.bus.sent(domain.DestCallInvite))
}

func TestDialTwiceWhileRinging(t *testing.T) {
	h := newHarness(t)
	p, _ := dialRinging(t, h)

	_, err := p.Dial(context.Background(), "7", "r1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCallInProgress))

	_, err = p.Dial(context.Background(), "7", "r2")
	require.NoError(t, err)
}

func TestHangupAll(t *testing.T) {
	h := newHarness(t)
	p := NewPhone(ada, h.deps(), h.cfg)
	_, err := p.Dial(context.Background(), "7", "r1")
	require.NoError(t, err)
	_, err = p.Dial(context.Background(), "8", "r2")
	require.NoError(t, err)

	p.HangupAll()
	assert.Equal(t, 1, h.calls.leaveCount("r1-42"))
	assert.Equal(t, 1, h.calls.leaveCount("r2-42"))
}

func TestJoinConnectsWithToken(t *testing.T) {
	h := newHarness(t)
	bob := domain.UserData{Identity: "7", Name: "Bob"}
	p := NewPhone(bob, h.deps(), h.cfg)

	inv := domain.CallInvite{CallerID: "42", CalleeID: "7", Room: "r1", CallerName: "Ada"}
	s, err := p.Join(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, domain.CallAccepted, s.State())
	require.Len(t, h.media.connected(), 1)

	vt, err := domain.ParseViewerToken(h.media.connected()[0].token)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("7"), vt.Identity)

	s.Hangup()
	assert.Equal(t, 1, h.calls.leaveCount("r1-42"))
}

func TestJoinMediaFailureLeaves(t *testing.T) {
	h := newHarness(t)
	h.media.err = errBoom
	p := NewPhone(domain.UserData{Identity: "7"}, h.deps(), h.cfg)

	s, err := p.Join(context.Background(), domain.CallInvite{CallerID: "42", CalleeID: "7", Room: "r1"})
	require.NoError(t, err)
	assert.Equal(t, domain.CallAccepted, s.State())
	assert.Equal(t, 1, h.calls.leaveCount("r1-42"))
	assert.Contains(t, h.notifier.all(), domain.ErrorNotice("Could not connect to the call"))
}
