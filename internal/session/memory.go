package session

import (
	"cmp"
	"context"
	"slices"
	"sync"
)

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository keeps editing sessions in process memory. Sessions are
// stored and handed out as snapshots, so a caller holding one cannot change
// the recording, selection or pass state seen by other requests until it
// saves again.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]*Session
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*Session)}
}

// Save records a snapshot of s, replacing any earlier pass of the same session.
func (r *MemoryRepository) Save(_ context.Context, s *Session) error {
	snap := s.Clone()
	r.mu.Lock()
	r.byID[snap.ID] = snap
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

// List returns snapshots of every open session, oldest first.
func (r *MemoryRepository) List(_ context.Context) ([]*Session, error) {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s.Clone())
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Session) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Delete closes a session and drops its recording.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return ErrSessionNotFound
	}
	delete(r.byID, id)
	return nil
}
