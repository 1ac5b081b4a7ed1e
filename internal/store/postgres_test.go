package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/live-score-backend/internal/apperr"
	"github.com/DoyleJ11/live-score-backend/internal/engine"
	"github.com/DoyleJ11/live-score-backend/internal/token"
)

// openTestPostgres connects to DATABASE_URL and skips when it is unset.
func openTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	pg, err := OpenPostgres(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Close() })
	require.NoError(t, pg.Migrate(context.Background()))
	return pg
}

func testMatchID() string {
	return "T" + uuid.NewString()[:8]
}

func TestPostgres_SaveLoadUpsertDelete(t *testing.T) {
	pg := openTestPostgres(t)
	ctx := context.Background()
	id := testMatchID()
	t.Cleanup(func() { _ = pg.DeleteSession(context.Background(), id) })

	_, err := pg.LoadSession(ctx, id)
	require.ErrorIs(t, err, apperr.ErrSessionNotFound)

	rec := testRecord(id)
	require.NoError(t, pg.SaveSession(ctx, rec))

	rec.State.Score.Runs = 12
	rec.State.Version = 3
	rec.Members = append(rec.Members, Member{Identity: "fan2", Role: token.RoleObserver, Token: "t2"})
	require.NoError(t, pg.SaveSession(ctx, rec))

	got, err := pg.LoadSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "U1", got.ControllerID)
	assert.Equal(t, 12, got.State.Score.Runs)
	assert.Equal(t, 3, got.State.Version)
	assert.ElementsMatch(t, rec.Members, got.Members)
	assert.Empty(t, got.State.Comments)

	require.NoError(t, pg.DeleteSession(ctx, id))
	_, err = pg.LoadSession(ctx, id)
	assert.ErrorIs(t, err, apperr.ErrSessionNotFound)
	assert.NoError(t, pg.DeleteSession(ctx, id), "deleting twice is harmless")
}

func TestPostgres_CommentsKeepOrderAcrossSaves(t *testing.T) {
	pg := openTestPostgres(t)
	ctx := context.Background()
	id := testMatchID()
	t.Cleanup(func() { _ = pg.DeleteSession(context.Background(), id) })

	require.NoError(t, pg.SaveSession(ctx, testRecord(id)))

	at := time.Date(2026, 5, 1, 14, 0, 0, 0, time.UTC)
	for i, msg := range []string{"first ball", "four!", "drinks"} {
		require.NoError(t, pg.AppendComment(ctx, id, engine.Comment{
			ID:        uuid.NewString(),
			User:      "fan1",
			Message:   msg,
			Timestamp: at.Add(time.Duration(i) * time.Minute),
		}))
	}

	// A state save must not touch the comment log.
	rec := testRecord(id)
	rec.State.Score.Runs = 4
	require.NoError(t, pg.SaveSession(ctx, rec))

	got, err := pg.LoadSession(ctx, id)
	require.NoError(t, err)
	require.Len(t, got.State.Comments, 3)
	assert.Equal(t, "first ball", got.State.Comments[0].Message)
	assert.Equal(t, "drinks", got.State.Comments[2].Message)
	assert.WithinDuration(t, at.Add(time.Minute), got.State.Comments[1].Timestamp, time.Millisecond)
	assert.Equal(t, 4, got.State.Score.Runs)
}

func TestPostgres_AppendCommentToUnknownMatch(t *testing.T) {
	pg := openTestPostgres(t)

	err := pg.AppendComment(context.Background(), testMatchID(), engine.Comment{
		ID:        uuid.NewString(),
		User:      "fan1",
		Message:   "anyone here?",
		Timestamp: time.Now().UTC(),
	})
	assert.ErrorIs(t, err, apperr.ErrSessionNotFound)
}
