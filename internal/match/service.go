// Package match coordinates live matches: admission of viewers, the umpire's
// mutations and the end of a match. It owns no state of its own; sessions
// live in their lobbies and connections in the room broadcaster.
package match

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/DoyleJ11/live-score-backend/internal/apperr"
	"github.com/DoyleJ11/live-score-backend/internal/engine"
	"github.com/DoyleJ11/live-score-backend/internal/hub"
	"github.com/DoyleJ11/live-score-backend/internal/lobby"
	"github.com/DoyleJ11/live-score-backend/internal/room"
	"github.com/DoyleJ11/live-score-backend/internal/store"
	"github.com/DoyleJ11/live-score-backend/internal/token"
)

const (
	MinUsernameLen = 2
	MaxUsernameLen = 20
)

type Verifier interface {
	Verify(raw string) (token.Claims, error)
}

type Disconnector interface {
	DisconnectAll(sessionID string) int
}

type Config struct {
	// PublicURL and APIPrefix build the join link handed back on create.
	PublicURL string
	APIPrefix string
}

type CreateMatchInput struct {
	TeamA engine.Team    `json:"teamA"`
	TeamB engine.Team    `json:"teamB"`
	Rules map[string]any `json:"rules,omitempty"`
}

type Created struct {
	MatchID   string      `json:"matchId"`
	MatchLink string      `json:"matchLink"`
	TeamA     engine.Team `json:"teamA"`
	TeamB     engine.Team `json:"teamB"`
}

type Service struct {
	hub    *hub.Hub
	rooms  Disconnector
	tokens Verifier
	store  store.Store
	log    *zap.Logger
	cfg    Config
}

func NewService(h *hub.Hub, rooms Disconnector, tokens Verifier, st store.Store, log *zap.Logger, cfg Config) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{hub: h, rooms: rooms, tokens: tokens, store: st, log: log, cfg: cfg}
}

// Authenticate verifies a raw bearer token.
func (s *Service) Authenticate(raw string) (token.Claims, error) {
	return s.tokens.Verify(raw)
}

func (s *Service) CreateMatch(ctx context.Context, controllerID string, in CreateMatchInput) (Created, error) {
	if strings.TrimSpace(controllerID) == "" {
		return Created{}, apperr.ErrNotController
	}
	in.TeamA.Name = strings.TrimSpace(in.TeamA.Name)
	in.TeamB.Name = strings.TrimSpace(in.TeamB.Name)
	if in.TeamA.Name == "" {
		return Created{}, apperr.MissingField("teamA.name")
	}
	if in.TeamB.Name == "" {
		return Created{}, apperr.MissingField("teamB.name")
	}

	state := engine.NewState(in.TeamA, in.TeamB, in.Rules)
	id, err := s.hub.Create(ctx, controllerID, state)
	if err != nil {
		return Created{}, err
	}
	return Created{
		MatchID:   id,
		MatchLink: s.MatchLink(id),
		TeamA:     state.TeamA,
		TeamB:     state.TeamB,
	}, nil
}

func (s *Service) MatchLink(id string) string {
	return strings.TrimRight(s.cfg.PublicURL, "/") + s.cfg.APIPrefix + "/matches/" + id + "/join"
}

// Admit reserves username as a viewer of sessionID. Asking again for a name
// that is already reserved hands back the same token with isNew false.
func (s *Service) Admit(ctx context.Context, sessionID, username string) (tok string, isNew bool, v lobby.View, err error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", false, lobby.View{}, apperr.MissingField("username")
	}
	if n := utf8.RuneCountInString(username); n < MinUsernameLen || n > MaxUsernameLen {
		return "", false, lobby.View{}, apperr.New(apperr.CodeMissingField, "username must be 2-20 characters")
	}
	if username == lobby.UmpireDisplayName {
		return "", false, lobby.View{}, apperr.New(apperr.CodeMissingField, "username is reserved")
	}

	lb, err := s.hub.Lobby(ctx, sessionID)
	if err != nil {
		return "", false, lobby.View{}, err
	}
	return lb.Admit(ctx, username)
}

// Connect authenticates a new connection and attaches it to its match. A
// viewer token names its match; an account-level umpire token takes it from
// sessionHint. The returned claims carry the resolved match.
func (s *Service) Connect(ctx context.Context, raw, sessionHint string, c room.Conn) (token.Claims, error) {
	claims, err := s.tokens.Verify(raw)
	if err != nil {
		return token.Claims{}, err
	}
	switch {
	case claims.SessionID == "":
		claims.SessionID = sessionHint
	case sessionHint != "" && sessionHint != claims.SessionID:
		if claims.Role == token.RoleController {
			return token.Claims{}, apperr.ErrNotController
		}
		return token.Claims{}, apperr.ErrNotMember
	}
	if claims.SessionID == "" {
		return token.Claims{}, apperr.MissingField("match")
	}

	lb, err := s.hub.Lobby(ctx, claims.SessionID)
	if err != nil {
		return token.Claims{}, err
	}
	if err := lb.Attach(ctx, c, claims); err != nil {
		return token.Claims{}, err
	}
	s.log.Info("connection joined",
		zap.String("match_id", claims.SessionID),
		zap.String("identity", claims.Identity),
		zap.String("role", string(claims.Role)),
	)
	return claims, nil
}

// Disconnect is the cleanup run when a connection goes away. It never fails;
// problems are logged.
func (s *Service) Disconnect(ctx context.Context, claims token.Claims, c room.Conn) {
	log := s.log.With(zap.String("match_id", claims.SessionID), zap.String("identity", claims.Identity))
	lb, err := s.hub.Lobby(ctx, claims.SessionID)
	if err != nil {
		if !errors.Is(err, apperr.ErrSessionEnded) && !errors.Is(err, apperr.ErrSessionNotFound) {
			log.Warn("disconnect cleanup: resolve match", zap.Error(err))
		}
		return
	}
	if err := lb.Detach(ctx, c, claims); err != nil && !errors.Is(err, apperr.ErrSessionEnded) {
		log.Warn("disconnect cleanup failed", zap.Error(err))
		return
	}
	log.Debug("connection left")
}

// Leave releases a viewer's reservation. raw must be a viewer token for
// sessionID.
func (s *Service) Leave(ctx context.Context, sessionID, raw string) error {
	claims, err := s.tokens.Verify(raw)
	if err != nil {
		return err
	}
	if claims.Role != token.RoleObserver || claims.SessionID != sessionID {
		return apperr.ErrNotMember
	}
	lb, err := s.hub.Lobby(ctx, sessionID)
	if err != nil {
		return err
	}
	return lb.Release(ctx, claims.Identity, raw)
}

// Submit merges delta into the match state on behalf of the umpire and
// broadcasts score_updated once it is stored.
func (s *Service) Submit(ctx context.Context, sessionID, controllerID string, delta engine.Delta) (engine.State, error) {
	return s.hub.ApplyMutation(ctx, sessionID, controllerID, func(st engine.State) ([]engine.Event, engine.State, error) {
		return engine.Apply(st, engine.Command{Type: engine.CmdUpdateScore, Delta: delta})
	})
}

// Comment appends a message to the match's comment log and broadcasts it.
func (s *Service) Comment(ctx context.Context, sessionID string, author token.Claims, message string) (engine.Comment, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return engine.Comment{}, apperr.MissingField("message")
	}
	if author.Role == token.RoleObserver && author.SessionID != sessionID {
		return engine.Comment{}, apperr.ErrNotMember
	}
	lb, err := s.hub.Lobby(ctx, sessionID)
	if err != nil {
		return engine.Comment{}, err
	}
	return lb.Comment(ctx, author, message)
}

// EndSession ends a live match. Viewers get match_ended before their
// connections are closed, then the match is forgotten and its record
// deleted. Ending a match that has already ended succeeds.
func (s *Service) EndSession(ctx context.Context, sessionID, controllerID string) error {
	log := s.log.With(zap.String("match_id", sessionID))

	lb, err := s.hub.Lobby(ctx, sessionID)
	if errors.Is(err, apperr.ErrSessionEnded) {
		return nil
	}
	if err != nil {
		return err
	}

	alreadyEnded, err := lb.End(ctx, controllerID)
	if errors.Is(err, apperr.ErrSessionEnded) {
		return nil
	}
	if err != nil {
		return err
	}
	if alreadyEnded {
		return nil
	}

	// The match is over whatever happens to the caller from here on.
	cleanup := context.WithoutCancel(ctx)

	n := s.rooms.DisconnectAll(sessionID)
	if err := s.hub.End(cleanup, sessionID); err != nil {
		log.Warn("forget ended match", zap.Error(err))
	}
	if err := s.store.DeleteSession(cleanup, sessionID); err != nil {
		log.Error("delete ended match", zap.Error(err))
	}
	log.Info("match ended", zap.Int("disconnected", n))
	return nil
}

// Snapshot returns the current state of a live match.
func (s *Service) Snapshot(ctx context.Context, sessionID string) (lobby.View, error) {
	return s.hub.Get(ctx, sessionID)
}

// SnapshotFor returns the current state to the holder of raw. Viewers must
// still hold their reservation; umpires must own the match.
func (s *Service) SnapshotFor(ctx context.Context, sessionID, raw string) (lobby.View, error) {
	claims, err := s.tokens.Verify(raw)
	if err != nil {
		return lobby.View{}, err
	}
	lb, err := s.hub.Lobby(ctx, sessionID)
	if errors.Is(err, apperr.ErrSessionEnded) {
		return lobby.View{}, apperr.ErrSessionNotFound
	}
	if err != nil {
		return lobby.View{}, err
	}
	return lb.ViewAs(ctx, claims)
}
