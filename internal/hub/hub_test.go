package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/live-score-backend/internal/apperr"
	"github.com/DoyleJ11/live-score-backend/internal/engine"
	"github.com/DoyleJ11/live-score-backend/internal/lobby"
	"github.com/DoyleJ11/live-score-backend/internal/room"
	"github.com/DoyleJ11/live-score-backend/internal/store"
	"github.com/DoyleJ11/live-score-backend/internal/token"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestHub(t *testing.T, st store.Store, cfg Config) *Hub {
	t.Helper()
	tokens, err := token.New(token.Config{Secret: []byte("secret")})
	require.NoError(t, err)
	h := NewHub(context.Background(), lobby.Deps{
		Store:  st,
		Fanout: room.NewBroadcaster(nil),
		Tokens: tokens,
	}, cfg)
	t.Cleanup(h.Shutdown)
	return h
}

func initialState() engine.State {
	return engine.NewState(engine.Team{Name: "Lions"}, engine.Team{Name: "Tigers"}, nil)
}

func runs(n int) lobby.MutationFunc {
	return func(s engine.State) ([]engine.Event, engine.State, error) {
		return engine.Apply(s, engine.Command{
			Type:  engine.CmdUpdateScore,
			Delta: engine.Delta{Score: &engine.ScoreDelta{Runs: &n}},
		})
	}
}

func TestHub_Create_Get_SamePointer(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	h := newTestHub(t, st, Config{})

	id, err := h.Create(ctx, "U1", initialState())
	require.NoError(t, err)
	assert.Len(t, id, codeLength)

	lb1, err := h.Lobby(ctx, id)
	require.NoError(t, err)
	lb2, err := h.Lobby(ctx, id)
	require.NoError(t, err)
	assert.Same(t, lb1, lb2)

	v, err := h.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "U1", v.ControllerID)
	assert.Equal(t, "Lions", v.State.TeamA.Name)

	_, err = st.LoadSession(ctx, id)
	assert.NoError(t, err, "initial record must be persisted")
}

func TestHub_UnknownMatch(t *testing.T) {
	h := newTestHub(t, store.NewMemory(), Config{})
	_, err := h.Get(context.Background(), "nope00")
	assert.ErrorIs(t, err, apperr.ErrSessionNotFound)
	_, err = h.ApplyMutation(context.Background(), "nope00", "U1", runs(1))
	assert.ErrorIs(t, err, apperr.ErrSessionNotFound)
}

func TestHub_ApplyMutation(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t, store.NewMemory(), Config{})
	id, err := h.Create(ctx, "U1", initialState())
	require.NoError(t, err)

	state, err := h.ApplyMutation(ctx, id, "U1", runs(4))
	require.NoError(t, err)
	assert.Equal(t, 4, state.Score.Runs)

	_, err = h.ApplyMutation(ctx, id, "U2", runs(6))
	assert.ErrorIs(t, err, apperr.ErrNotController)
}

func TestHub_EndTombstones(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	st := store.NewMemory()
	h := newTestHub(t, st, Config{TombstoneTTL: time.Minute, Now: clk.Now})

	id, err := h.Create(ctx, "U1", initialState())
	require.NoError(t, err)
	lb, err := h.Lobby(ctx, id)
	require.NoError(t, err)

	require.NoError(t, h.End(ctx, id))
	require.NoError(t, h.End(ctx, id))
	<-lb.Done()

	_, err = h.Get(ctx, id)
	assert.ErrorIs(t, err, apperr.ErrSessionNotFound)
	_, err = h.ApplyMutation(ctx, id, "U1", runs(1))
	assert.ErrorIs(t, err, apperr.ErrSessionEnded)

	stats, err := h.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Live: 0, Ended: 1}, stats)

	require.NoError(t, st.DeleteSession(ctx, id))
	clk.Advance(2 * time.Minute)
	_, err = h.ApplyMutation(ctx, id, "U1", runs(1))
	assert.ErrorIs(t, err, apperr.ErrSessionNotFound)
}

func TestHub_RehydratesFromStore(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	rec := store.Record{
		ID:           "abc123",
		ControllerID: "U1",
		State:        initialState(),
		Members:      []store.Member{{Identity: "fan1", Role: token.RoleObserver, Token: "tok-1"}},
	}
	rec.State.Score.Runs = 17
	require.NoError(t, st.SaveSession(ctx, rec))

	h := newTestHub(t, st, Config{})

	const n = 20
	lobbies := make([]*lobby.Lobby, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lb, err := h.Lobby(ctx, "abc123")
			assert.NoError(t, err)
			lobbies[i] = lb
		}(i)
	}
	wg.Wait()
	for _, lb := range lobbies {
		assert.Same(t, lobbies[0], lb)
	}

	v, err := h.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, 17, v.State.Score.Runs)

	tok, isNew, _, err := lobbies[0].Admit(ctx, "fan1")
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, "tok-1", tok)
}

func TestHub_CompletedRecordIsNotRevived(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	rec := store.Record{ID: "done01", ControllerID: "U1", State: initialState()}
	rec.State.Status = engine.StatusCompleted
	require.NoError(t, st.SaveSession(ctx, rec))

	h := newTestHub(t, st, Config{})
	_, err := h.Lobby(ctx, "done01")
	assert.ErrorIs(t, err, apperr.ErrSessionEnded)
	_, err = h.Get(ctx, "done01")
	assert.ErrorIs(t, err, apperr.ErrSessionNotFound)
}

func TestHub_CreateRegeneratesOnCollision(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.SaveSession(ctx, store.Record{ID: "aaaaaa", ControllerID: "U9", State: initialState()}))

	codes := []string{"aaaaaa", "bbbbbb", "bbbbbb", "cccccc"}
	var i atomic.Int32
	gen := func() (string, error) {
		return codes[i.Add(1)-1], nil
	}
	h := newTestHub(t, st, Config{GenerateCode: gen})

	first, err := h.Create(ctx, "U1", initialState())
	require.NoError(t, err)
	assert.Equal(t, "bbbbbb", first)

	second, err := h.Create(ctx, "U1", initialState())
	require.NoError(t, err)
	assert.Equal(t, "cccccc", second)
}

type refusingStore struct{ *store.Memory }

func (refusingStore) SaveSession(context.Context, store.Record) error {
	return apperr.Wrap(apperr.CodePersistFailed, "save match", errors.New("disk full"))
}

func TestHub_CreatePersistFailureLeavesNothingBehind(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t, refusingStore{store.NewMemory()}, Config{})

	_, err := h.Create(ctx, "U1", initialState())
	require.ErrorIs(t, err, apperr.ErrPersistFailed)

	stats, err := h.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Live)
}

// gatedStore holds every load until release is closed.
type gatedStore struct {
	*store.Memory
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) LoadSession(ctx context.Context, id string) (store.Record, error) {
	s.once.Do(func() { close(s.entered) })
	select {
	case <-s.release:
	case <-ctx.Done():
		return store.Record{}, ctx.Err()
	}
	return s.Memory.LoadSession(ctx, id)
}

func TestHub_CancelledLoaderDoesNotFailOthers(t *testing.T) {
	ctx := context.Background()
	st := &gatedStore{
		Memory:  store.NewMemory(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	require.NoError(t, st.SaveSession(ctx, store.Record{ID: "abc123", ControllerID: "U1", State: initialState()}))
	h := newTestHub(t, st, Config{})

	firstCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	firstErr := make(chan error, 1)
	go func() {
		_, err := h.Lobby(firstCtx, "abc123")
		firstErr <- err
	}()
	select {
	case <-st.entered:
	case <-time.After(time.Second):
		t.Fatal("load never started")
	}

	type result struct {
		lb  *lobby.Lobby
		err error
	}
	second := make(chan result, 1)
	go func() {
		lb, err := h.Lobby(ctx, "abc123")
		second <- result{lb, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller is still waiting")
	}

	close(st.release)
	select {
	case r := <-second:
		require.NoError(t, r.err)
		assert.NotNil(t, r.lb)
	case <-time.After(time.Second):
		t.Fatal("second caller never got the lobby")
	}

	lb, err := h.Lobby(ctx, "abc123")
	require.NoError(t, err)
	v, err := lb.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, "U1", v.ControllerID)
}
