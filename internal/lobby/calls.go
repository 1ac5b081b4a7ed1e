package lobby

import (
	"context"

	"github.com/DoyleJ11/live-score-backend/internal/apperr"
	"github.com/DoyleJ11/live-score-backend/internal/engine"
	"github.com/DoyleJ11/live-score-backend/internal/room"
	"github.com/DoyleJ11/live-score-backend/internal/token"
)

func (l *Lobby) post(ctx context.Context, m msg) error {
	select {
	case l.inbox <- m:
		return nil
	case <-l.done:
		return apperr.ErrSessionEnded
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, l *Lobby, reply chan T) (T, error) {
	var zero T
	select {
	case r := <-reply:
		return r, nil
	case <-l.done:
		select {
		case r := <-reply:
			return r, nil
		default:
			return zero, apperr.ErrSessionEnded
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func call[T any](ctx context.Context, l *Lobby, m msg, reply chan T) (T, error) {
	if err := l.post(ctx, m); err != nil {
		var zero T
		return zero, err
	}
	return await(ctx, l, reply)
}

// Admit reserves identity as an observer. A repeat call for a current member
// returns the token it already holds with isNew false.
func (l *Lobby) Admit(ctx context.Context, identity string) (tok string, isNew bool, v View, err error) {
	reply := make(chan admitReply, 1)
	r, err := call(ctx, l, admitMsg{Identity: identity, Reply: reply}, reply)
	if err != nil {
		return "", false, View{}, err
	}
	return r.token, r.isNew, r.view, r.err
}

// Attach checks the connection's claims against the membership and, when
// allowed, joins it to the room and sends it the current snapshot.
func (l *Lobby) Attach(ctx context.Context, c room.Conn, claims token.Claims) error {
	reply := make(chan error, 1)
	r, err := call(ctx, l, attachMsg{Conn: c, Claims: claims, Reply: reply}, reply)
	if err != nil {
		return err
	}
	return r
}

// ViewAs returns the current snapshot if claims may see it. A viewer must
// still hold its reservation.
func (l *Lobby) ViewAs(ctx context.Context, claims token.Claims) (View, error) {
	reply := make(chan viewReply, 1)
	r, err := call(ctx, l, viewAsMsg{Claims: claims, Reply: reply}, reply)
	if err != nil {
		return View{}, err
	}
	return r.view, r.err
}

// Detach removes c from the room. An observer's reservation is released
// with it, provided claims still carry the token that holds it.
func (l *Lobby) Detach(ctx context.Context, c room.Conn, claims token.Claims) error {
	reply := make(chan error, 1)
	r, err := call(ctx, l, detachMsg{Conn: c, Claims: claims, Reply: reply}, reply)
	if err != nil {
		return err
	}
	return r
}

// Release drops an observer's reservation, closing any connections it holds.
// raw must be the token the reservation was issued.
func (l *Lobby) Release(ctx context.Context, identity, raw string) error {
	reply := make(chan error, 1)
	r, err := call(ctx, l, releaseMsg{Identity: identity, Token: raw, Reply: reply}, reply)
	if err != nil {
		return err
	}
	return r
}

// Apply runs fn against the current state on behalf of the controller,
// persists the result and broadcasts its events.
func (l *Lobby) Apply(ctx context.Context, controllerID string, fn MutationFunc) (engine.State, error) {
	reply := make(chan mutateReply, 1)
	r, err := call(ctx, l, mutateMsg{ControllerID: controllerID, Fn: fn, Reply: reply}, reply)
	if err != nil {
		return engine.State{}, err
	}
	return r.state, r.err
}

func (l *Lobby) Comment(ctx context.Context, author token.Claims, message string) (engine.Comment, error) {
	reply := make(chan commentReply, 1)
	r, err := call(ctx, l, commentMsg{Author: author, Message: message, Reply: reply}, reply)
	if err != nil {
		return engine.Comment{}, err
	}
	return r.comment, r.err
}

// End marks the match completed and broadcasts match_ended. Ending an ended
// match reports alreadyEnded and has no effect.
func (l *Lobby) End(ctx context.Context, controllerID string) (alreadyEnded bool, err error) {
	reply := make(chan endReply, 1)
	r, err := call(ctx, l, endMsg{ControllerID: controllerID, Reply: reply}, reply)
	if err != nil {
		return false, err
	}
	return r.alreadyEnded, r.err
}

func (l *Lobby) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	return call(ctx, l, getStateMsg{Reply: reply}, reply)
}
