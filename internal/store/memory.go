package store

import (
	"context"
	"slices"
	"sync"

	"github.com/DoyleJ11/live-score-backend/internal/apperr"
	"github.com/DoyleJ11/live-score-backend/internal/engine"
)

// Memory keeps records in process. It backs tests and runs without a
// DATABASE_URL.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

func (m *Memory) LoadSession(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, apperr.ErrSessionNotFound
	}
	return copyRecord(rec), nil
}

func (m *Memory) SaveSession(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec = copyRecord(rec)
	// Comments are owned by AppendComment; a save never rewrites them.
	if prev, ok := m.records[rec.ID]; ok {
		rec.State.Comments = prev.State.Comments
	} else {
		rec.State.Comments = []engine.Comment{}
	}
	m.records[rec.ID] = rec
	return nil
}

func (m *Memory) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *Memory) AppendComment(_ context.Context, id string, c engine.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return apperr.ErrSessionNotFound
	}
	rec.State.Comments = append(slices.Clone(rec.State.Comments), c)
	m.records[id] = rec
	return nil
}

func copyRecord(rec Record) Record {
	rec.State = engine.Clone(rec.State)
	rec.Members = slices.Clone(rec.Members)
	return rec
}
