// Package room fans match events out to the live connections of each match.
//
// A room only knows which connections want which match's events. Whether an
// identity is allowed to be there is decided by the session actor before it
// calls Join.
package room

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/DoyleJ11/live-score-backend/internal/token"
	"github.com/DoyleJ11/live-score-backend/pkg/types"
)

// Conn is one live connection as seen by the broadcaster.
type Conn interface {
	ID() string
	// Send enqueues msg without blocking. It reports false when the
	// connection cannot take it (outbox full or already closed).
	Send(msg []byte) bool
	// Close stops accepting messages, flushes what is queued, then tears the
	// connection down. It must be safe to call more than once.
	Close()
}

type Member struct {
	Conn     Conn
	Identity string
	Role     token.Role
}

type Broadcaster struct {
	mu    sync.Mutex
	rooms map[string]map[string]Member // sessionID -> connID -> member
	log   *zap.Logger
}

func NewBroadcaster(log *zap.Logger) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{
		rooms: make(map[string]map[string]Member),
		log:   log,
	}
}

// Join adds c to the session's fanout set. An identity may hold several
// connections at once; joining never evicts an earlier one.
func (b *Broadcaster) Join(sessionID string, c Conn, identity string, role token.Role) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rooms[sessionID]
	if !ok {
		r = make(map[string]Member)
		b.rooms[sessionID] = r
	}
	r[c.ID()] = Member{Conn: c, Identity: identity, Role: role}
}

// Leave removes c from the session's fanout set and returns the member it was
// joined as.
func (b *Broadcaster) Leave(sessionID string, c Conn) (Member, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rooms[sessionID]
	if !ok {
		return Member{}, false
	}
	m, ok := r[c.ID()]
	if !ok {
		return Member{}, false
	}
	delete(r, c.ID())
	if len(r) == 0 {
		delete(b.rooms, sessionID)
	}
	return m, true
}

// LeaveIdentity closes and removes every connection joined as identity.
func (b *Broadcaster) LeaveIdentity(sessionID, identity string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.rooms[sessionID]
	n := 0
	for id, m := range r {
		if m.Identity != identity {
			continue
		}
		delete(r, id)
		m.Conn.Close()
		n++
	}
	if r != nil && len(r) == 0 {
		delete(b.rooms, sessionID)
	}
	return n
}

// Broadcast enqueues event to every connection in the session. Enqueueing
// happens under the room lock, so two Broadcast calls for the same session
// reach each connection in call order. A connection that cannot keep up is
// dropped.
func (b *Broadcaster) Broadcast(sessionID, event string, payload any) {
	msg, err := encode(event, payload)
	if err != nil {
		b.log.Error("encode broadcast", zap.String("match_id", sessionID), zap.String("event", event), zap.Error(err))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.rooms[sessionID]
	for id, m := range r {
		if m.Conn.Send(msg) {
			continue
		}
		delete(r, id)
		m.Conn.Close()
		b.log.Warn("dropped slow connection",
			zap.String("match_id", sessionID),
			zap.String("conn_id", id),
			zap.String("identity", m.Identity),
		)
	}
	if r != nil && len(r) == 0 {
		delete(b.rooms, sessionID)
	}
}

// Send delivers event to a single connection, joined or not.
func (b *Broadcaster) Send(c Conn, event string, payload any) bool {
	msg, err := encode(event, payload)
	if err != nil {
		b.log.Error("encode message", zap.String("event", event), zap.Error(err))
		return false
	}
	return c.Send(msg)
}

// DisconnectAll closes every connection of the session and forgets the room.
// Events already queued are flushed by each connection before it closes.
func (b *Broadcaster) DisconnectAll(sessionID string) int {
	b.mu.Lock()
	r := b.rooms[sessionID]
	delete(b.rooms, sessionID)
	b.mu.Unlock()

	for _, m := range r {
		m.Conn.Close()
	}
	return len(r)
}

func (b *Broadcaster) Count(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms[sessionID])
}

// CountRole reports how many connections of the given role are joined.
func (b *Broadcaster) CountRole(sessionID string, role token.Role) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, m := range b.rooms[sessionID] {
		if m.Role == role {
			n++
		}
	}
	return n
}

func encode(event string, payload any) ([]byte, error) {
	return json.Marshal(types.ServerMessage{Type: event, Data: payload})
}
