package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/yalive/internal/core/domain"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStreamRepository(t *testing.T) {
	ctx := context.Background()
	r := openTest(t).Streams()

	_, err := r.Get(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrStreamNotFound))

	start := time.Date(2026, 10, 16, 20, 0, 0, 0, time.UTC)
	require.NoError(t, r.Save(ctx, domain.StreamSession{RoomID: "a", StreamerID: "42", Title: "First", Status: domain.StreamScheduled}))
	require.NoError(t, r.Save(ctx, domain.StreamSession{RoomID: "b", StreamerID: "42", Title: "Second", Status: domain.StreamScheduled}))
	require.NoError(t, r.Save(ctx, domain.StreamSession{RoomID: "a", StreamerID: "42", Title: "First", Status: domain.StreamLive, StartTime: start}))

	s, err := r.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.StreamLive, s.Status)
	assert.True(t, start.Equal(s.StartTime))

	list, err := r.ListByStreamer(ctx, "42")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.RoomID("b"), list[0].RoomID)

	list, err = r.ListByStreamer(ctx, "7")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestChatSettingsRepository(t *testing.T) {
	ctx := context.Background()
	r := openTest(t).ChatSettings()

	s, err := r.Get(ctx, "42")
	require.NoError(t, err)
	assert.True(t, s.IsEmpty())

	require.NoError(t, r.Save(ctx, "42", domain.ChatSettings{IsChatDelayed: domain.Bool(true)}))
	require.NoError(t, r.Save(ctx, "42", domain.ChatSettings{IsChatDelayed: domain.Bool(true), IsChatEnabled: domain.Bool(false)}))

	s, err = r.Get(ctx, "42")
	require.NoError(t, err)
	assert.True(t, *s.IsChatDelayed)
	assert.False(t, *s.IsChatEnabled)
	assert.Nil(t, s.IsChatFollowersOnly)
}
