package restapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/yalive/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yalive/internal/adapter/driven/persistence/memory"
	httpadapter "github.com/Wyydra/yalive/internal/adapter/driving/http"
	"github.com/Wyydra/yalive/internal/core/domain"
	"github.com/Wyydra/yalive/internal/core/service"
)

type fmtIssuer struct{}

func (fmtIssuer) Issue(ctx context.Context, room domain.RoomID, user domain.UserData, canPublish bool) (string, error) {
	return fmt.Sprintf("%s|%s|%t", room, user.Identity, canPublish), nil
}

func newServer(t *testing.T) (*httptest.Server, *memory.CallRepository) {
	t.Helper()
	hub := ws.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	streams := memory.NewStreamRepository()
	settings := memory.NewChatSettingsRepository()
	calls := memory.NewCallRepository()
	h := httpadapter.NewHandler(
		service.NewCallRelay(calls, fmtIssuer{}, hub),
		service.NewStreamService(streams, settings, fmtIssuer{}, hub, nil),
		service.NewChatSettingsService(settings, streams, hub),
		hub,
	)
	srv := httptest.NewServer(h.NewRouter())
	t.Cleanup(srv.Close)
	return srv, calls
}

func newClient(t *testing.T, srv *httptest.Server, id domain.UserID) *Client {
	t.Helper()
	c, err := New(srv.URL+"/", domain.UserData{Identity: id, Name: "user " + id.String()}, 5*time.Second)
	require.NoError(t, err)
	return c
}

func TestStreamFlow(t *testing.T) {
	ctx := context.Background()
	srv, _ := newServer(t)
	ada := newClient(t, srv, "42")
	bob := newClient(t, srv, "7")

	s, err := ada.CreateStream(ctx, domain.StreamMetadata{Title: "Speedrun"})
	require.NoError(t, err)
	assert.Equal(t, domain.StreamScheduled, s.Status)

	token, err := ada.BroadcastToken(ctx, s.RoomID, domain.UserData{Identity: "42"})
	require.NoError(t, err)
	assert.Equal(t, s.RoomID.String()+"|42|true", token)

	require.NoError(t, ada.StartStream(ctx, s.RoomID))

	got, err := bob.GetStream(ctx, s.RoomID)
	require.NoError(t, err)
	assert.Equal(t, domain.StreamLive, got.Status)

	token, err = bob.CreateViewerToken(ctx, "42", "7")
	require.NoError(t, err)
	assert.Equal(t, s.RoomID.String()+"|7|false", token)

	token, err = bob.JoinStream(ctx, s.RoomID, domain.UserData{Identity: "7"})
	require.NoError(t, err)
	assert.Equal(t, s.RoomID.String()+"|7|false", token)

	require.NoError(t, ada.UpdateChatSettings(ctx, "42", domain.ChatSettings{IsChatDelayed: domain.Bool(true)}))
	require.NoError(t, ada.EndStream(ctx, s.RoomID))
}

func TestStatusErrors(t *testing.T) {
	ctx := context.Background()
	srv, _ := newServer(t)
	ada := newClient(t, srv, "42")
	bob := newClient(t, srv, "7")

	_, err := bob.GetStream(ctx, "missing")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)

	s, err := ada.CreateStream(ctx, domain.StreamMetadata{Title: "Speedrun"})
	require.NoError(t, err)

	err = bob.StartStream(ctx, s.RoomID)
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.Code)

	err = bob.UpdateChatSettings(ctx, "42", domain.ChatSettings{IsChatEnabled: domain.Bool(false)})
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.Code)
}

func TestCallTokenAndLeave(t *testing.T) {
	ctx := context.Background()
	srv, calls := newServer(t)
	carol := newClient(t, srv, "9")

	token, err := carol.CallToken(ctx, "r1-7", domain.UserData{Identity: "9"})
	require.NoError(t, err)
	assert.Equal(t, "r1-7|9|true", token)

	who, err := calls.Participants(ctx, "r1-7")
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"9"}, who)

	require.NoError(t, carol.LeaveCall(ctx, "r1-7"))
	who, err = calls.Participants(ctx, "r1-7")
	require.NoError(t, err)
	assert.Empty(t, who)
}

func TestTransportError(t *testing.T) {
	c, err := New("http://127.0.0.1:1", domain.UserData{Identity: "7"}, time.Second)
	require.NoError(t, err)
	_, err = c.GetStream(context.Background(), "r1")
	require.Error(t, err)
	var se *StatusError
	assert.False(t, errors.As(err, &se))
}
