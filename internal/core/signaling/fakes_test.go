package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/yalive/internal/core/domain"
	"github.com/Wyydra/yalive/internal/core/port"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func mintToken(t *testing.T, identity domain.UserID, name string) string {
	t.Helper()
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: []byte(testSecret)},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err)
	raw, err := jwt.Signed(signer).
		Claims(jwt.Claims{Subject: string(identity), Expiry: jwt.NewNumericDate(time.Now().Add(time.Hour))}).
		Claims(map[string]any{"name": name}).
		Serialize()
	require.NoError(t, err)
	return raw
}

type published struct {
	dest    string
	payload json.RawMessage
}

type fakeBus struct {
	mu        sync.Mutex
	connected bool
	handlers  map[string][]*fakeSub
	published []published
	listeners []func(bool)
}

type fakeSub struct {
	bus     *fakeBus
	topic   string
	handler port.MessageHandler
}

func (s *fakeSub) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.handlers[s.topic]
	for i, x := range subs {
		if x == s {
			s.bus.handlers[s.topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func newFakeBus() *fakeBus {
	return &fakeBus{connected: true, handlers: make(map[string][]*fakeSub)}
}

func (b *fakeBus) Subscribe(topic string, h port.MessageHandler) (port.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil, domain.ErrNotConnected
	}
	s := &fakeSub{bus: b, topic: topic, handler: h}
	b.handlers[topic] = append(b.handlers[topic], s)
	return s, nil
}

func (b *fakeBus) Publish(dest string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return domain.ErrNotConnected
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b.published = append(b.published, published{dest: dest, payload: raw})
	return nil
}

func (b *fakeBus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBus) OnConnectionChange(fn func(bool)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

func (b *fakeBus) setConnected(c bool) {
	b.mu.Lock()
	b.connected = c
	if !c {
		b.handlers = make(map[string][]*fakeSub)
	}
	listeners := append([]func(bool){}, b.listeners...)
	b.mu.Unlock()
	for _, fn := range listeners {
		fn(c)
	}
}

// push delivers payload to every handler of topic, in order, on the caller's
// goroutine.
func (b *fakeBus) push(t *testing.T, topic string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	b.mu.Lock()
	subs := append([]*fakeSub{}, b.handlers[topic]...)
	b.mu.Unlock()
	for _, s := range subs {
		s.handler(raw)
	}
}

func (b *fakeBus) subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[topic])
}

func (b *fakeBus) sent(dest string) []json.RawMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []json.RawMessage
	for _, p := range b.published {
		if p.dest == dest {
			out = append(out, p.payload)
		}
	}
	return out
}

type fakeCallAPI struct {
	mu       sync.Mutex
	tokenErr error
	leaveErr error
	tokens   map[string]int
	leaves   map[string]int
	token    func(user domain.UserData) string

	// gate, when set, holds CallToken until closed; entered is signalled first.
	gate    chan struct{}
	entered chan struct{}
}

func newFakeCallAPI(t *testing.T) *fakeCallAPI {
	return &fakeCallAPI{
		tokens: make(map[string]int),
		leaves: make(map[string]int),
		token: func(user domain.UserData) string {
			return mintToken(t, user.Identity, user.Name)
		},
	}
}

func (a *fakeCallAPI) CallToken(ctx context.Context, code string, user domain.UserData) (string, error) {
	if a.gate != nil {
		a.entered <- struct{}{}
		<-a.gate
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tokenErr != nil {
		return "", a.tokenErr
	}
	a.tokens[code]++
	return a.token(user), nil
}

func (a *fakeCallAPI) LeaveCall(ctx context.Context, code string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.leaves[code]++
	return a.leaveErr
}

func (a *fakeCallAPI) leaveCount(code string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.leaves[code]
}

func (a *fakeCallAPI) totalLeaves() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.leaves {
		n += c
	}
	return n
}

type fakeStreamAPI struct {
	t  *testing.T
	mu sync.Mutex

	createErr, startErr, endErr, tokenErr error

	created    []domain.StreamMetadata
	gets       map[domain.RoomID]int
	starts     map[domain.RoomID]int
	ends       map[domain.RoomID]int
	joins      int
	viewerReqs []domain.UserID
	settings   []domain.ChatSettings
	endBlock   chan struct{}
}

func newFakeStreamAPI(t *testing.T) *fakeStreamAPI {
	return &fakeStreamAPI{
		t:      t,
		gets:   make(map[domain.RoomID]int),
		starts: make(map[domain.RoomID]int),
		ends:   make(map[domain.RoomID]int),
	}
}

func (a *fakeStreamAPI) CreateViewerToken(ctx context.Context, host, self domain.UserID) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tokenErr != nil {
		return "", a.tokenErr
	}
	a.viewerReqs = append(a.viewerReqs, self)
	return mintToken(a.t, self, "viewer "+string(self)), nil
}

func (a *fakeStreamAPI) CreateStream(ctx context.Context, meta domain.StreamMetadata) (domain.StreamSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.createErr != nil {
		return domain.StreamSession{}, a.createErr
	}
	a.created = append(a.created, meta)
	return domain.StreamSession{
		RoomID:     domain.RoomID("r2"),
		StreamerID: "42",
		Title:      meta.Title,
		Status:     domain.StreamScheduled,
	}, nil
}

func (a *fakeStreamAPI) GetStream(ctx context.Context, room domain.RoomID) (domain.StreamSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gets[room]++
	return domain.StreamSession{RoomID: room, Status: domain.StreamScheduled}, nil
}

func (a *fakeStreamAPI) StartStream(ctx context.Context, room domain.RoomID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.starts[room]++
	return a.startErr
}

func (a *fakeStreamAPI) EndStream(ctx context.Context, room domain.RoomID) error {
	if a.endBlock != nil {
		<-a.endBlock
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ends[room]++
	return a.endErr
}

func (a *fakeStreamAPI) JoinStream(ctx context.Context, room domain.RoomID, user domain.UserData) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tokenErr != nil {
		return "", a.tokenErr
	}
	a.joins++
	return mintToken(a.t, user.Identity, user.Name), nil
}

func (a *fakeStreamAPI) BroadcastToken(ctx context.Context, room domain.RoomID, user domain.UserData) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tokenErr != nil {
		return "", a.tokenErr
	}
	return mintToken(a.t, user.Identity, user.Name), nil
}

func (a *fakeStreamAPI) UpdateChatSettings(ctx context.Context, user domain.UserID, s domain.ChatSettings) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settings = append(a.settings, s)
	return nil
}

func (a *fakeStreamAPI) endCount(room domain.RoomID) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ends[room]
}

type fakeRoom struct {
	token          string
	onDisconnected func()

	mu          sync.Mutex
	disconnects int
}

func (r *fakeRoom) Disconnect() {
	r.mu.Lock()
	r.disconnects++
	r.mu.Unlock()
}

func (r *fakeRoom) disconnectCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnects
}

// drop simulates the media room closing on its own.
func (r *fakeRoom) drop() {
	r.onDisconnected()
}

type fakeMedia struct {
	mu    sync.Mutex
	err   error
	rooms []*fakeRoom
}

func (m *fakeMedia) Connect(ctx context.Context, url, token string, onDisconnected func()) (port.MediaRoom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	r := &fakeRoom{token: token, onDisconnected: onDisconnected}
	m.rooms = append(m.rooms, r)
	return r, nil
}

func (m *fakeMedia) connected() []*fakeRoom {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*fakeRoom{}, m.rooms...)
}

type fakeView struct {
	mu      sync.Mutex
	ringing []domain.CallInvite
	stops   int
	opened  []domain.CallInvite
	closes  int
}

func (v *fakeView) PlayRingtone(inv domain.CallInvite) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ringing = append(v.ringing, inv)
}

func (v *fakeView) StopRingtone() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stops++
}

func (v *fakeView) OpenCall(inv domain.CallInvite) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.opened = append(v.opened, inv)
}

func (v *fakeView) CloseWindow() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closes++
}

func (v *fakeView) closeCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closes
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []domain.Notice
}

func (n *fakeNotifier) Notify(notice domain.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *fakeNotifier) all() []domain.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Notice{}, n.notices...)
}

type harness struct {
	bus      *fakeBus
	calls    *fakeCallAPI
	streams  *fakeStreamAPI
	media    *fakeMedia
	view     *fakeView
	notifier *fakeNotifier
	clock    *clock.Mock
	cfg      Config
}

func newHarness(t *testing.T) *harness {
	cfg := DefaultConfig()
	cfg.MediaURL = "wss://media.test"
	return &harness{
		bus:      newFakeBus(),
		calls:    newFakeCallAPI(t),
		streams:  newFakeStreamAPI(t),
		media:    &fakeMedia{},
		view:     &fakeView{},
		notifier: &fakeNotifier{},
		clock:    clock.NewMock(),
		cfg:      cfg,
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Bus:      h.bus,
		Calls:    h.calls,
		Streams:  h.streams,
		Media:    h.media,
		View:     h.view,
		Notifier: h.notifier,
		Clock:    h.clock,
	}
}

var errBoom = errors.New("boom")
