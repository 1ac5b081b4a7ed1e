package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/live-score-backend/internal/apperr"
	"github.com/DoyleJ11/live-score-backend/internal/engine"
	"github.com/DoyleJ11/live-score-backend/internal/token"
)

func testRecord(id string) Record {
	return Record{
		ID:           id,
		ControllerID: "U1",
		State:        engine.NewState(engine.Team{Name: "A"}, engine.Team{Name: "B"}, nil),
		Members:      []Member{{Identity: "fan1", Role: token.RoleObserver, Token: "t1"}},
	}
}

func TestMemory_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.LoadSession(ctx, "M1")
	require.ErrorIs(t, err, apperr.ErrSessionNotFound)

	rec := testRecord("M1")
	rec.State.Score.Runs = 4
	require.NoError(t, m.SaveSession(ctx, rec))

	got, err := m.LoadSession(ctx, "M1")
	require.NoError(t, err)
	assert.Equal(t, 4, got.State.Score.Runs)
	assert.Equal(t, "U1", got.ControllerID)
	assert.Len(t, got.Members, 1)

	require.NoError(t, m.DeleteSession(ctx, "M1"))
	_, err = m.LoadSession(ctx, "M1")
	assert.ErrorIs(t, err, apperr.ErrSessionNotFound)
}

func TestMemory_CommentsSurviveSaves(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.SaveSession(ctx, testRecord("M1")))

	require.NoError(t, m.AppendComment(ctx, "M1", engine.Comment{ID: "1", User: "fan1", Message: "hi"}))
	require.NoError(t, m.AppendComment(ctx, "M1", engine.Comment{ID: "2", User: "Umpire", Message: "four"}))

	rec := testRecord("M1")
	rec.State.Score.Runs = 10
	require.NoError(t, m.SaveSession(ctx, rec))

	got, err := m.LoadSession(ctx, "M1")
	require.NoError(t, err)
	require.Len(t, got.State.Comments, 2)
	assert.Equal(t, "hi", got.State.Comments[0].Message)
	assert.Equal(t, "four", got.State.Comments[1].Message)
	assert.Equal(t, 10, got.State.Score.Runs)

	assert.ErrorIs(t, m.AppendComment(ctx, "nope", engine.Comment{}), apperr.ErrSessionNotFound)
}

// flakyStore fails the first n calls of every kind.
type flakyStore struct {
	*Memory
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyStore) SaveSession(ctx context.Context, rec Record) error {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return errors.New("connection reset")
	}
	return f.Memory.SaveSession(ctx, rec)
}

func (f *flakyStore) DeleteSession(ctx context.Context, id string) error {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return errors.New("connection reset")
	}
	return f.Memory.DeleteSession(ctx, id)
}

func (f *flakyStore) LoadSession(ctx context.Context, id string) (Record, error) {
	f.calls.Add(1)
	return f.Memory.LoadSession(ctx, id)
}

func fastPolicy(retries uint64) RetryPolicy {
	return RetryPolicy{AttemptTimeout: time.Second, MaxRetries: retries, InitialInterval: time.Millisecond}
}

func TestRetrying_RecoversFromTransientFailure(t *testing.T) {
	inner := &flakyStore{Memory: NewMemory()}
	inner.failures.Store(2)
	r := NewRetrying(inner, fastPolicy(3), nil)

	require.NoError(t, r.SaveSession(context.Background(), testRecord("M1")))
	assert.Equal(t, int32(3), inner.calls.Load())
}

func TestRetrying_ExhaustedWritesAreRetryable(t *testing.T) {
	inner := &flakyStore{Memory: NewMemory()}
	inner.failures.Store(100)
	r := NewRetrying(inner, fastPolicy(2), nil)

	err := r.SaveSession(context.Background(), testRecord("M1"))
	require.ErrorIs(t, err, apperr.ErrPersistFailed)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.True(t, ae.Retryable())
	assert.Equal(t, int32(3), inner.calls.Load())

	err = r.DeleteSession(context.Background(), "M1")
	assert.ErrorIs(t, err, apperr.ErrDeleteFailed)
}

func TestRetrying_NotFoundIsNotRetried(t *testing.T) {
	inner := &flakyStore{Memory: NewMemory()}
	r := NewRetrying(inner, fastPolicy(5), nil)

	_, err := r.LoadSession(context.Background(), "missing")
	require.ErrorIs(t, err, apperr.ErrSessionNotFound)
	assert.Equal(t, int32(1), inner.calls.Load())
}
