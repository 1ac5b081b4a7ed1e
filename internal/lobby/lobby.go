package lobby

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/live-score-backend/internal/apperr"
	"github.com/DoyleJ11/live-score-backend/internal/engine"
	"github.com/DoyleJ11/live-score-backend/internal/room"
	"github.com/DoyleJ11/live-score-backend/internal/store"
	"github.com/DoyleJ11/live-score-backend/internal/token"
	"github.com/DoyleJ11/live-score-backend/pkg/types"
)

// UmpireDisplayName is the author shown on comments written by the umpire.
const UmpireDisplayName = "Umpire"

// Fanout is the slice of the room broadcaster a lobby drives.
type Fanout interface {
	Join(sessionID string, c room.Conn, identity string, role token.Role)
	Leave(sessionID string, c room.Conn) (room.Member, bool)
	LeaveIdentity(sessionID, identity string) int
	Broadcast(sessionID, event string, payload any)
	Send(c room.Conn, event string, payload any) bool
}

type Issuer interface {
	Issue(sessionID string, role token.Role, identity string) (string, error)
}

type Deps struct {
	Store  store.Store
	Fanout Fanout
	Tokens Issuer
	Log    *zap.Logger
	Now    func() time.Time
}

// Session is the authoritative record of one live match.
type Session struct {
	ID           string
	ControllerID string
	State        engine.State
	Members      map[string]store.Member // observer identity -> member
}

func SessionFromRecord(rec store.Record) Session {
	s := Session{
		ID:           rec.ID,
		ControllerID: rec.ControllerID,
		State:        engine.Clone(rec.State),
		Members:      make(map[string]store.Member, len(rec.Members)),
	}
	for _, m := range rec.Members {
		s.Members[m.Identity] = m
	}
	return s
}

func (s Session) record(state engine.State, members map[string]store.Member) store.Record {
	rec := store.Record{
		ID:           s.ID,
		ControllerID: s.ControllerID,
		State:        state,
		Members:      make([]store.Member, 0, len(members)),
	}
	for _, m := range members {
		rec.Members = append(rec.Members, m)
	}
	return rec
}

// View is a consistent snapshot of a session.
type View struct {
	ID           string
	ControllerID string
	State        engine.State
	Viewers      int
}

func (v View) Public() types.MatchView {
	return types.NewMatchView(v.ID, v.State, v.Viewers)
}

// MutationFunc is a pure transformation of the current state.
type MutationFunc func(engine.State) ([]engine.Event, engine.State, error)

type msg interface{ isLobbyMsg() }

type admitReply struct {
	token string
	isNew bool
	view  View
	err   error
}

type admitMsg struct {
	Identity string
	Reply    chan admitReply
}

type attachMsg struct {
	Conn   room.Conn
	Claims token.Claims
	Reply  chan error
}

type viewAsMsg struct {
	Claims token.Claims
	Reply  chan viewReply
}

type viewReply struct {
	view View
	err  error
}

type detachMsg struct {
	Conn   room.Conn
	Claims token.Claims
	Reply  chan error
}

type releaseMsg struct {
	Identity string
	Token    string
	Reply    chan error
}

type mutateReply struct {
	state engine.State
	err   error
}

type mutateMsg struct {
	ControllerID string
	Fn           MutationFunc
	Reply        chan mutateReply
}

type commentReply struct {
	comment engine.Comment
	err     error
}

type commentMsg struct {
	Author  token.Claims
	Message string
	Reply   chan commentReply
}

type endReply struct {
	alreadyEnded bool
	err          error
}

type endMsg struct {
	ControllerID string
	Reply        chan endReply
}

type getStateMsg struct {
	Reply chan View
}

func (admitMsg) isLobbyMsg()    {}
func (attachMsg) isLobbyMsg()   {}
func (viewAsMsg) isLobbyMsg()   {}
func (detachMsg) isLobbyMsg()   {}
func (releaseMsg) isLobbyMsg()  {}
func (mutateMsg) isLobbyMsg()   {}
func (commentMsg) isLobbyMsg()  {}
func (endMsg) isLobbyMsg()      {}
func (getStateMsg) isLobbyMsg() {}

// Lobby owns one session. Every read and write of the session goes through
// its loop goroutine, one message at a time.
type Lobby struct {
	inbox chan msg
	sess  Session
	deps  Deps
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(parent context.Context, sess Session, deps Deps) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if sess.Members == nil {
		sess.Members = make(map[string]store.Member)
	}

	l := &Lobby{
		inbox:  make(chan msg, 64),
		sess:   sess,
		deps:   deps,
		log:    deps.Log.With(zap.String("match_id", sess.ID)),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go l.loop()
	return l
}

func (l *Lobby) ID() string { return l.sess.ID }

// Done is closed once the loop has exited.
func (l *Lobby) Done() <-chan struct{} { return l.done }

// Stop terminates the loop. Pending and later calls fail with
// apperr.ErrSessionEnded.
func (l *Lobby) Stop() { l.cancel() }

func (l *Lobby) loop() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case admitMsg:
				msg.Reply <- l.admit(msg.Identity)
			case attachMsg:
				msg.Reply <- l.attach(msg.Conn, msg.Claims)
			case viewAsMsg:
				if err := l.authorize(msg.Claims); err != nil {
					msg.Reply <- viewReply{err: err}
					break
				}
				msg.Reply <- viewReply{view: l.view()}
			case detachMsg:
				msg.Reply <- l.detach(msg.Conn, msg.Claims)
			case releaseMsg:
				msg.Reply <- l.release(msg.Identity, msg.Token)
			case mutateMsg:
				msg.Reply <- l.mutate(msg.ControllerID, msg.Fn)
			case commentMsg:
				msg.Reply <- l.comment(msg.Author, msg.Message)
			case endMsg:
				msg.Reply <- l.end(msg.ControllerID)
			case getStateMsg:
				msg.Reply <- l.view()
			}
		}
	}
}

func (l *Lobby) ended() bool {
	return l.sess.State.Status == engine.StatusCompleted
}

func (l *Lobby) view() View {
	return View{
		ID:           l.sess.ID,
		ControllerID: l.sess.ControllerID,
		State:        engine.Clone(l.sess.State),
		Viewers:      len(l.sess.Members),
	}
}

func (l *Lobby) admit(identity string) admitReply {
	if l.ended() {
		return admitReply{err: apperr.ErrSessionEnded}
	}
	if m, ok := l.sess.Members[identity]; ok {
		return admitReply{token: m.Token, isNew: false, view: l.view()}
	}

	tok, err := l.deps.Tokens.Issue(l.sess.ID, token.RoleObserver, identity)
	if err != nil {
		return admitReply{err: err}
	}
	l.sess.Members[identity] = store.Member{Identity: identity, Role: token.RoleObserver, Token: tok}
	if err := l.persist(l.sess.State); err != nil {
		delete(l.sess.Members, identity)
		return admitReply{err: err}
	}
	l.log.Info("viewer admitted", zap.String("identity", identity))
	return admitReply{token: tok, isNew: true, view: l.view()}
}

// holds reports whether claims carry the token of a current reservation.
// A released token keeps verifying until it expires, so identity alone is
// not enough.
func (l *Lobby) holds(claims token.Claims) bool {
	m, ok := l.sess.Members[claims.Identity]
	return ok && claims.SessionID == l.sess.ID && m.Token == claims.Token
}

// authorize checks that claims may see this session.
func (l *Lobby) authorize(claims token.Claims) error {
	if l.ended() {
		return apperr.ErrSessionEnded
	}
	switch claims.Role {
	case token.RoleObserver:
		if !l.holds(claims) {
			return apperr.ErrNotMember
		}
	case token.RoleController:
		if claims.Identity != l.sess.ControllerID {
			return apperr.ErrNotController
		}
		if claims.SessionID != "" && claims.SessionID != l.sess.ID {
			return apperr.ErrNotController
		}
	default:
		return apperr.ErrMalformedToken
	}
	return nil
}

func (l *Lobby) attach(c room.Conn, claims token.Claims) error {
	if err := l.authorize(claims); err != nil {
		return err
	}

	// Join and the initial snapshot share one turn of the loop, so no
	// broadcast can land between them.
	l.deps.Fanout.Join(l.sess.ID, c, claims.Identity, claims.Role)
	l.deps.Fanout.Send(c, types.EvtStateSnapshot, l.view().Public())
	if claims.Role == token.RoleController {
		l.deps.Fanout.Send(c, types.EvtJoinedAsUmpire, types.MatchRef{MatchID: l.sess.ID})
	}
	l.log.Debug("connection attached",
		zap.String("conn_id", c.ID()),
		zap.String("identity", claims.Identity),
		zap.String("role", string(claims.Role)),
	)
	return nil
}

// detach runs when c has gone away. The room may already have dropped c as
// a slow consumer, so the reservation is found from the connection's claims
// rather than from the room.
func (l *Lobby) detach(c room.Conn, claims token.Claims) error {
	l.deps.Fanout.Leave(l.sess.ID, c)
	if claims.Role != token.RoleObserver || !l.holds(claims) {
		return nil
	}
	delete(l.sess.Members, claims.Identity)
	l.log.Info("viewer left", zap.String("identity", claims.Identity))
	if l.ended() {
		return nil
	}
	return l.persist(l.sess.State)
}

func (l *Lobby) release(identity, raw string) error {
	m, ok := l.sess.Members[identity]
	if !ok || m.Token != raw {
		return apperr.ErrNotMember
	}
	delete(l.sess.Members, identity)
	l.deps.Fanout.LeaveIdentity(l.sess.ID, identity)
	l.log.Info("viewer released", zap.String("identity", identity))
	if l.ended() {
		return nil
	}
	return l.persist(l.sess.State)
}

func (l *Lobby) mutate(controllerID string, fn MutationFunc) mutateReply {
	if controllerID != l.sess.ControllerID {
		return mutateReply{err: apperr.ErrNotController}
	}
	if l.ended() {
		return mutateReply{err: apperr.ErrSessionEnded}
	}

	events, next, err := fn(engine.Clone(l.sess.State))
	if err != nil {
		return mutateReply{err: err}
	}
	if next.Status == engine.StatusCompleted {
		return mutateReply{err: apperr.New(apperr.CodeInvalidMutation, "a score update cannot end the match")}
	}
	next.Version = l.sess.State.Version + 1

	if err := l.persist(next); err != nil {
		return mutateReply{err: err}
	}
	l.sess.State = next
	l.publish(events)
	return mutateReply{state: engine.Clone(next)}
}

func (l *Lobby) comment(claims token.Claims, message string) commentReply {
	author := claims.Identity
	switch claims.Role {
	case token.RoleObserver:
		if !l.holds(claims) {
			return commentReply{err: apperr.ErrNotMember}
		}
	case token.RoleController:
		if claims.Identity != l.sess.ControllerID {
			return commentReply{err: apperr.ErrNotController}
		}
		author = UmpireDisplayName
	default:
		return commentReply{err: apperr.ErrNotMember}
	}

	c := engine.Comment{
		ID:        uuid.NewString(),
		User:      author,
		Message:   message,
		Timestamp: l.deps.Now().UTC(),
	}
	events, next, err := engine.Apply(l.sess.State, engine.Command{Type: engine.CmdAddComment, Comment: c})
	if err != nil {
		return commentReply{err: err}
	}
	c = next.Comments[len(next.Comments)-1]

	if err := l.deps.Store.AppendComment(l.ctx, l.sess.ID, c); err != nil {
		l.log.Warn("append comment failed", zap.Error(err))
		return commentReply{err: asPersistErr(err)}
	}
	l.sess.State = next
	l.publish(events)
	return commentReply{comment: c}
}

func (l *Lobby) end(controllerID string) endReply {
	if controllerID != l.sess.ControllerID {
		return endReply{err: apperr.ErrNotController}
	}
	if l.ended() {
		return endReply{alreadyEnded: true}
	}

	events, next, err := engine.Apply(l.sess.State, engine.Command{Type: engine.CmdEndMatch})
	if err != nil {
		return endReply{err: err}
	}
	l.sess.State = next
	l.publish(events)

	// Record the terminal status in case the caller's delete never lands;
	// a rehydrated ended match is then refused rather than revived.
	if err := l.persist(next); err != nil {
		l.log.Warn("persist ended status failed", zap.Error(err))
	}
	l.log.Info("match ended")
	return endReply{}
}

func (l *Lobby) publish(events []engine.Event) {
	for _, ev := range events {
		switch ev.Type {
		case engine.EvtScoreUpdated:
			v := l.view().Public()
			v.Comments = nil
			l.deps.Fanout.Broadcast(l.sess.ID, types.EvtScoreUpdated, v)
		case engine.EvtCommentAdded:
			l.deps.Fanout.Broadcast(l.sess.ID, types.EvtNewComment, ev.Comment)
		case engine.EvtMatchEnded:
			l.deps.Fanout.Broadcast(l.sess.ID, types.EvtMatchEnded, types.MatchRef{MatchID: l.sess.ID})
		}
	}
}

func (l *Lobby) persist(state engine.State) error {
	err := l.deps.Store.SaveSession(l.ctx, l.sess.record(state, l.sess.Members))
	if err != nil {
		l.log.Warn("persist match failed", zap.Error(err))
		return asPersistErr(err)
	}
	return nil
}

func asPersistErr(err error) error {
	if apperr.CodeOf(err) != "" {
		return err
	}
	return apperr.Wrap(apperr.CodePersistFailed, "persist match", err)
}
