// Package store archives finalized transcripts. Recognition works without a
// store; when one is configured every ended session is persisted so that
// transcripts survive process restarts and can be fetched later.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/voxhollow/sibilant/internal/session"
)

// ErrNotFound is returned by Get when no transcript with the given ID exists.
var ErrNotFound = errors.New("store: transcript not found")

// Record is an archived transcript for one finished session.
type Record struct {
	ID        string           `json:"id"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   time.Time        `json:"ended_at"`
	Symbols   []session.Symbol `json:"symbols"`
	Text      string           `json:"text"`
	CreatedAt time.Time        `json:"created_at"`
}

// Store persists finalized transcripts.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save archives a transcript. Saving the same ID twice replaces the
	// previous record.
	Save(ctx context.Context, rec *Record) error

	// Get retrieves an archived transcript by ID. Returns ErrNotFound if no
	// record with the given ID exists.
	Get(ctx context.Context, id string) (*Record, error)

	// List returns archived transcripts ordered newest first. A limit of 0
	// returns all records.
	List(ctx context.Context, limit int) ([]Record, error)

	// Delete removes an archived transcript. Deleting a non-existent record
	// is not an error.
	Delete(ctx context.Context, id string) error
}

// MemoryStore is an in-process Store used when no database is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]Record)}
}

func (s *MemoryStore) Save(_ context.Context, rec *Record) error {
	if rec.ID == "" {
		return fmt.Errorf("store: save: record has no id")
	}
	cp := *rec
	cp.Symbols = append([]session.Symbol(nil), rec.Symbols...)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.mu.Lock()
	s.recs[cp.ID] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	rec, ok := s.recs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("store: get %q: %w", id, ErrNotFound)
	}
	rec.Symbols = append([]session.Symbol(nil), rec.Symbols...)
	return &rec, nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	recs := make([]Record, 0, len(s.recs))
	for _, rec := range s.recs {
		rec.Symbols = append([]session.Symbol(nil), rec.Symbols...)
		recs = append(recs, rec)
	}
	s.mu.RUnlock()
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].EndedAt.Equal(recs[j].EndedAt) {
			return recs[i].EndedAt.After(recs[j].EndedAt)
		}
		return recs[i].ID < recs[j].ID
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.recs, id)
	s.mu.Unlock()
	return nil
}
