// Package store mirrors live matches into durable storage. The in-memory
// session actors stay authoritative while a match is live; the store is what
// survives a restart.
package store

import (
	"context"

	"github.com/DoyleJ11/live-score-backend/internal/engine"
	"github.com/DoyleJ11/live-score-backend/internal/token"
)

type Member struct {
	Identity string     `json:"identity"`
	Role     token.Role `json:"role"`
	Token    string     `json:"token"`
}

// Record is the persisted form of one match.
type Record struct {
	ID           string
	ControllerID string
	State        engine.State
	Members      []Member
}

// Store is the persistence boundary. Every call is atomic on its own.
// LoadSession reports apperr.ErrSessionNotFound for unknown ids.
type Store interface {
	LoadSession(ctx context.Context, id string) (Record, error)
	SaveSession(ctx context.Context, rec Record) error
	DeleteSession(ctx context.Context, id string) error
	AppendComment(ctx context.Context, id string, c engine.Comment) error
}
