package hub

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/DoyleJ11/live-score-backend/internal/apperr"
	"github.com/DoyleJ11/live-score-backend/internal/engine"
	"github.com/DoyleJ11/live-score-backend/internal/lobby"
	"github.com/DoyleJ11/live-score-backend/internal/store"
)

const (
	codeCharset    = "abcdefghijklmnopqrstuvwxyz0123456789"
	codeLength     = 6
	maxCodeAttempt = 16

	DefaultTombstoneTTL = time.Hour
)

var errCodeTaken = errors.New("match code already in use")

type HubMsg interface{ isHubMsg() }

type lookup struct {
	lobby *lobby.Lobby
	ended bool
}

type createLobby struct {
	Session lobby.Session
	Reply   chan error
}

type getLobby struct {
	Code  string
	Reply chan lookup
}

// ensureLobby returns the running lobby for Session.ID, starting one from
// Session only if none exists.
type ensureLobby struct {
	Session lobby.Session
	Reply   chan lookup
}

type removeLobby struct {
	Code      string
	Tombstone bool
	Reply     chan struct{}
}

type getStats struct {
	Reply chan Stats
}

type shutdownHub struct{}

func (createLobby) isHubMsg() {}
func (getLobby) isHubMsg()    {}
func (ensureLobby) isHubMsg() {}
func (removeLobby) isHubMsg() {}
func (getStats) isHubMsg()    {}
func (shutdownHub) isHubMsg() {}

type Stats struct {
	Live  int
	Ended int
}

type Config struct {
	TombstoneTTL time.Duration
	Now          func() time.Time
	// GenerateCode overrides match code generation; tests use it to force
	// collisions.
	GenerateCode func() (string, error)
}

// Hub is the registry of live matches. Its loop serialises only map
// operations; everything touching a single match runs on that match's
// lobby, and store loads run outside the loop.
type Hub struct {
	inbox      chan HubMsg
	lobbies    map[string]*lobby.Lobby
	tombstones map[string]time.Time

	deps    lobby.Deps
	store   store.Store
	loads   singleflight.Group
	log     *zap.Logger
	ttl     time.Duration
	now     func() time.Time
	genCode func() (string, error)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHub(parent context.Context, deps lobby.Deps, cfg Config) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if cfg.TombstoneTTL <= 0 {
		cfg.TombstoneTTL = DefaultTombstoneTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.GenerateCode == nil {
		cfg.GenerateCode = GenerateCode
	}
	h := &Hub{
		inbox:      make(chan HubMsg, 64),
		lobbies:    make(map[string]*lobby.Lobby),
		tombstones: make(map[string]time.Time),
		deps:       deps,
		store:      deps.Store,
		log:        deps.Log,
		ttl:        cfg.TombstoneTTL,
		now:        cfg.Now,
		genCode:    cfg.GenerateCode,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go h.loop()
	return h
}

// GenerateCode returns a random six-character match code.
func GenerateCode() (string, error) {
	code := make([]byte, codeLength)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			return "", err
		}
		code[i] = codeCharset[num.Int64()]
	}
	return string(code), nil
}

func (h *Hub) loop() {
	defer close(h.done)

	sweep := time.NewTicker(sweepInterval(h.ttl))
	defer sweep.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.stopAll()
			return

		case <-sweep.C:
			h.sweepTombstones()

		case m := <-h.inbox:
			switch msg := m.(type) {
			case createLobby:
				id := msg.Session.ID
				if h.lobbies[id] != nil || h.isTombstoned(id) {
					msg.Reply <- errCodeTaken
					break
				}
				h.lobbies[id] = lobby.New(h.ctx, msg.Session, h.deps)
				msg.Reply <- nil

			case getLobby:
				msg.Reply <- lookup{lobby: h.lobbies[msg.Code], ended: h.isTombstoned(msg.Code)}

			case ensureLobby:
				id := msg.Session.ID
				if h.isTombstoned(id) {
					msg.Reply <- lookup{ended: true}
					break
				}
				if lb := h.lobbies[id]; lb != nil {
					msg.Reply <- lookup{lobby: lb}
					break
				}
				lb := lobby.New(h.ctx, msg.Session, h.deps)
				h.lobbies[id] = lb
				msg.Reply <- lookup{lobby: lb}

			case removeLobby:
				if lb := h.lobbies[msg.Code]; lb != nil {
					lb.Stop()
					delete(h.lobbies, msg.Code)
				}
				if msg.Tombstone {
					h.tombstones[msg.Code] = h.now()
				}
				msg.Reply <- struct{}{}

			case getStats:
				msg.Reply <- Stats{Live: len(h.lobbies), Ended: len(h.tombstones)}

			case shutdownHub:
				h.stopAll()
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) stopAll() {
	for id, lb := range h.lobbies {
		lb.Stop()
		delete(h.lobbies, id)
	}
}

func (h *Hub) isTombstoned(id string) bool {
	at, ok := h.tombstones[id]
	if !ok {
		return false
	}
	if h.now().Sub(at) >= h.ttl {
		delete(h.tombstones, id)
		return false
	}
	return true
}

func (h *Hub) sweepTombstones() {
	now := h.now()
	for id, at := range h.tombstones {
		if now.Sub(at) >= h.ttl {
			delete(h.tombstones, id)
		}
	}
}

func sweepInterval(ttl time.Duration) time.Duration {
	every := ttl / 2
	if every < time.Second {
		every = time.Second
	}
	return every
}

func request[T any](ctx context.Context, h *Hub, m HubMsg, reply chan T) (T, error) {
	var zero T
	select {
	case h.inbox <- m:
	case <-h.done:
		return zero, apperr.ErrSessionNotFound
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-h.done:
		return zero, apperr.ErrSessionNotFound
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Create registers a new live match for controllerID and persists its
// initial record.
func (h *Hub) Create(ctx context.Context, controllerID string, initial engine.State) (string, error) {
	for attempt := 0; attempt < maxCodeAttempt; attempt++ {
		code, err := h.genCode()
		if err != nil {
			return "", fmt.Errorf("generate match code: %w", err)
		}

		// A persisted match that is not loaded yet still owns its code.
		_, err = h.store.LoadSession(ctx, code)
		if err == nil {
			h.log.Debug("match code collision in store, regenerating", zap.String("match_id", code))
			continue
		}
		if !errors.Is(err, apperr.ErrSessionNotFound) {
			return "", fmt.Errorf("check match code: %w", err)
		}

		sess := lobby.Session{ID: code, ControllerID: controllerID, State: engine.Clone(initial)}
		reply := make(chan error, 1)
		res, err := request(ctx, h, createLobby{Session: sess, Reply: reply}, reply)
		if err != nil {
			return "", err
		}
		if errors.Is(res, errCodeTaken) {
			h.log.Debug("match code collision, regenerating", zap.String("match_id", code))
			continue
		}

		if err := h.store.SaveSession(ctx, store.Record{ID: code, ControllerID: controllerID, State: sess.State}); err != nil {
			h.drop(ctx, code)
			return "", err
		}
		h.log.Info("match created", zap.String("match_id", code), zap.String("controller_id", controllerID))
		return code, nil
	}
	return "", errors.New("could not allocate a unique match code")
}

// Lobby resolves the running lobby for id, loading it from the store when
// this process has not seen it yet. Ended matches report
// apperr.ErrSessionEnded; unknown ones apperr.ErrSessionNotFound.
func (h *Hub) Lobby(ctx context.Context, id string) (*lobby.Lobby, error) {
	reply := make(chan lookup, 1)
	res, err := request(ctx, h, getLobby{Code: id, Reply: reply}, reply)
	if err != nil {
		return nil, err
	}
	if res.ended {
		return nil, apperr.ErrSessionEnded
	}
	if res.lobby != nil {
		return res.lobby, nil
	}

	// The load is shared by every caller waiting on id and outlives any one
	// of them.
	loaded := h.loads.DoChan(id, func() (any, error) {
		return h.rehydrate(context.WithoutCancel(ctx), id)
	})
	select {
	case res := <-loaded:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*lobby.Lobby), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) rehydrate(ctx context.Context, id string) (*lobby.Lobby, error) {
	rec, err := h.store.LoadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.State.Status == engine.StatusCompleted {
		h.remove(ctx, id, true)
		return nil, apperr.ErrSessionEnded
	}

	reply := make(chan lookup, 1)
	res, err := request(ctx, h, ensureLobby{Session: lobby.SessionFromRecord(rec), Reply: reply}, reply)
	if err != nil {
		return nil, err
	}
	if res.ended {
		return nil, apperr.ErrSessionEnded
	}
	h.log.Info("match rehydrated from store", zap.String("match_id", id))
	return res.lobby, nil
}

// Get returns a snapshot of a live match. Ended and unknown matches are both
// reported as apperr.ErrSessionNotFound.
func (h *Hub) Get(ctx context.Context, id string) (lobby.View, error) {
	lb, err := h.Lobby(ctx, id)
	if errors.Is(err, apperr.ErrSessionEnded) {
		return lobby.View{}, apperr.ErrSessionNotFound
	}
	if err != nil {
		return lobby.View{}, err
	}
	v, err := lb.View(ctx)
	if errors.Is(err, apperr.ErrSessionEnded) {
		return lobby.View{}, apperr.ErrSessionNotFound
	}
	return v, err
}

// ApplyMutation runs fn on the match's serialization point.
func (h *Hub) ApplyMutation(ctx context.Context, id, controllerID string, fn lobby.MutationFunc) (engine.State, error) {
	lb, err := h.Lobby(ctx, id)
	if err != nil {
		return engine.State{}, err
	}
	return lb.Apply(ctx, controllerID, fn)
}

// End forgets a match: its lobby stops and the id is remembered as ended for
// the tombstone TTL. Ending twice is harmless.
func (h *Hub) End(ctx context.Context, id string) error {
	return h.remove(ctx, id, true)
}

func (h *Hub) drop(ctx context.Context, id string) {
	_ = h.remove(ctx, id, false)
}

func (h *Hub) remove(ctx context.Context, id string, tombstone bool) error {
	reply := make(chan struct{}, 1)
	_, err := request(ctx, h, removeLobby{Code: id, Tombstone: tombstone, Reply: reply}, reply)
	return err
}

func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	return request(ctx, h, getStats{Reply: reply}, reply)
}

// Shutdown stops every lobby and the hub loop.
func (h *Hub) Shutdown() {
	select {
	case h.inbox <- shutdownHub{}:
	case <-h.done:
	}
	<-h.done
}
