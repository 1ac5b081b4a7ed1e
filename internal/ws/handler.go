package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/live-score-backend/internal/apperr"
	"github.com/DoyleJ11/live-score-backend/internal/engine"
	"github.com/DoyleJ11/live-score-backend/internal/room"
	"github.com/DoyleJ11/live-score-backend/internal/token"
	"github.com/DoyleJ11/live-score-backend/pkg/types"
)

const (
	DefaultOutbox       = 32
	DefaultWriteTimeout = 3 * time.Second
	cleanupTimeout      = 5 * time.Second
)

// Service is what the transport needs from the match coordinator.
type Service interface {
	Connect(ctx context.Context, raw, sessionHint string, c room.Conn) (token.Claims, error)
	Disconnect(ctx context.Context, claims token.Claims, c room.Conn)
	Submit(ctx context.Context, sessionID, controllerID string, delta engine.Delta) (engine.State, error)
	Comment(ctx context.Context, sessionID string, author token.Claims, message string) (engine.Comment, error)
	EndSession(ctx context.Context, sessionID, controllerID string) error
}

type Config struct {
	Outbox       int
	WriteTimeout time.Duration
	// EvictOnExpiry closes a connection when its token expires. Otherwise a
	// token is only checked when the connection is opened.
	EvictOnExpiry  bool
	OriginPatterns []string
}

// Handler serves GET /ws?token=...&match=...
//
// The connection is attached to its match before the upgrade, so auth and
// match errors are reported as plain HTTP statuses. The state snapshot
// queued by the attach is the first frame the client reads.
func Handler(svc Service, cfg Config, log *zap.Logger) http.HandlerFunc {
	if cfg.Outbox <= 0 {
		cfg.Outbox = DefaultOutbox
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}

	return func(w http.ResponseWriter, r *http.Request) {
		raw := token.FromRequest(r)
		if raw == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		c := newConn(cfg.Outbox, log)
		claims, err := svc.Connect(r.Context(), raw, r.URL.Query().Get("match"), c)
		if err != nil {
			http.Error(w, err.Error(), apperr.CodeOf(err).HTTPStatus())
			return
		}

		cleanup := func() {
			ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
			defer cancel()
			svc.Disconnect(ctx, claims, c)
			c.Close()
		}

		sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: cfg.OriginPatterns,
		})
		if err != nil {
			log.Debug("websocket accept failed", zap.Error(err))
			cleanup()
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go c.writeLoop(ctx, sock, cfg.WriteTimeout)
		defer func() {
			cleanup()
			select {
			case <-c.writerDone:
			case <-time.After(cfg.WriteTimeout + cleanupTimeout):
				_ = sock.CloseNow()
			}
		}()

		if cfg.EvictOnExpiry {
			timer := time.AfterFunc(time.Until(claims.ExpiresAt), func() {
				sendError(c, apperr.ErrExpiredToken)
				c.Close()
			})
			defer timer.Stop()
		}

		s := &session{svc: svc, claims: claims, conn: c, log: log.With(
			zap.String("match_id", claims.SessionID),
			zap.String("identity", claims.Identity),
		)}
		for {
			_, data, err := sock.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					s.log.Debug("read ended", zap.Error(err))
				}
				return
			}
			s.handle(ctx, data)
		}
	}
}

// session dispatches the messages read from one connection.
type session struct {
	svc    Service
	claims token.Claims
	conn   room.Conn
	log    *zap.Logger
}

func (s *session) handle(ctx context.Context, data []byte) {
	var cm types.ClientMessage
	if err := json.Unmarshal(data, &cm); err != nil {
		sendError(s.conn, apperr.New(apperr.CodeMissingField, "invalid JSON message"))
		return
	}
	if cm.MatchID != "" && cm.MatchID != s.claims.SessionID {
		sendError(s.conn, apperr.New(apperr.CodeNotMember, "connection is bound to another match"))
		return
	}

	var err error
	switch cm.Type {
	case types.MsgUmpireAction:
		err = s.umpireAction(ctx, cm)
	case types.MsgSendComment:
		_, err = s.svc.Comment(ctx, s.claims.SessionID, s.claims, cm.Message)
	case types.MsgEndMatch:
		err = s.endMatch(ctx)
	default:
		err = apperr.New(apperr.CodeMissingField, "unknown message type")
	}
	if err != nil {
		s.log.Debug("client message rejected", zap.String("type", cm.Type), zap.Error(err))
		sendError(s.conn, err)
	}
}

func (s *session) umpireAction(ctx context.Context, cm types.ClientMessage) error {
	if s.claims.Role != token.RoleController {
		return apperr.ErrNotController
	}
	if cm.Action != types.ActionUpdateScore {
		return apperr.New(apperr.CodeMissingField, "unknown action")
	}
	if len(cm.Data) == 0 {
		return apperr.MissingField("data")
	}
	var delta engine.Delta
	if err := json.Unmarshal(cm.Data, &delta); err != nil {
		return apperr.Wrap(apperr.CodeMissingField, "invalid action data", err)
	}
	_, err := s.svc.Submit(ctx, s.claims.SessionID, s.claims.Identity, delta)
	return err
}

func (s *session) endMatch(ctx context.Context) error {
	if s.claims.Role != token.RoleController {
		return apperr.ErrNotController
	}
	return s.svc.EndSession(ctx, s.claims.SessionID, s.claims.Identity)
}

func sendError(c room.Conn, err error) {
	p := types.ErrorPayload{Code: string(apperr.CodeOf(err)), Message: err.Error()}
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		p.Message = "internal error"
	}
	msg, merr := json.Marshal(types.ServerMessage{Type: types.EvtError, Data: p})
	if merr != nil {
		return
	}
	c.Send(msg)
}
