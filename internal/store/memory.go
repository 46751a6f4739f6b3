package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"dataspace.app/orchestrator/internal/model"
)

// MemoryRequestStore keeps the ledger in process memory.
type MemoryRequestStore struct {
	mu      sync.Mutex
	records map[string]*model.RequestRecord
	now     func() time.Time
}

func NewMemoryRequestStore() *MemoryRequestStore {
	return &MemoryRequestStore{
		records: make(map[string]*model.RequestRecord),
		now:     time.Now,
	}
}

func (s *MemoryRequestStore) Create(ctx context.Context, userID, buildingID, optimizationType string) (model.RequestRecord, error) {
	rec := newRequestRecord(s.now(), userID, buildingID, optimizationType)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = &rec
	return rec.Clone(), nil
}

func (s *MemoryRequestStore) Get(ctx context.Context, id string) (model.RequestRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return model.RequestRecord{}, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryRequestStore) List(ctx context.Context) ([]model.RequestRecord, error) {
	s.mu.Lock()
	out := make([]model.RequestRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryRequestStore) UpdateStatus(ctx context.Context, id string, status model.RequestStatus) error {
	return s.mutate(id, func(rec *model.RequestRecord) error {
		return transition(rec, status, s.now())
	})
}

func (s *MemoryRequestStore) RecordJob(ctx context.Context, id, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	for _, other := range s.records {
		if other.ID != id && other.MatchesCallback(rec.UserID, jobID) {
			return fmt.Errorf("%w: %s owned by %s", ErrDuplicateJob, jobID, other.ID)
		}
	}

	next := rec.Clone()
	if err := assignJob(&next, jobID, s.now()); err != nil {
		return err
	}
	*rec = next
	return nil
}

func (s *MemoryRequestStore) RecordResult(ctx context.Context, id string, result json.RawMessage) error {
	return s.mutate(id, func(rec *model.RequestRecord) error {
		return complete(rec, result, s.now())
	})
}

func (s *MemoryRequestStore) RecordError(ctx context.Context, id string, message string) error {
	return s.mutate(id, func(rec *model.RequestRecord) error {
		return fail(rec, message, s.now())
	})
}

func (s *MemoryRequestStore) FindByCallback(ctx context.Context, userID, jobID string) (model.RequestRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.findLocked(userID, jobID)
	if rec == nil {
		return model.RequestRecord{}, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryRequestStore) ResolveByCallback(ctx context.Context, userID, jobID string, result json.RawMessage) (model.RequestRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.findLocked(userID, jobID)
	if rec == nil {
		return model.RequestRecord{}, ErrNotFound
	}

	next := rec.Clone()
	if err := complete(&next, result, s.now()); err != nil {
		return model.RequestRecord{}, err
	}
	*rec = next
	return next.Clone(), nil
}

func (s *MemoryRequestStore) findLocked(userID, jobID string) *model.RequestRecord {
	for _, rec := range s.records {
		if rec.MatchesCallback(userID, jobID) {
			return rec
		}
	}
	return nil
}

// mutate applies fn to a copy and stores it only if fn succeeds.
func (s *MemoryRequestStore) mutate(id string, fn func(rec *model.RequestRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	next := rec.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	*rec = next
	return nil
}
