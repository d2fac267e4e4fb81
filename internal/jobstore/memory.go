package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/snarg/scribe-engine/internal/assemble"
	"github.com/snarg/scribe-engine/internal/entities"
)

// MemoryStore is the in-process Store used by tests and single-node
// deployments without Postgres. Jobs are deep-copied on the way in and out so
// callers never share memory with the stored record.
type MemoryStore struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	retention Retention
	now       func() time.Time
}

// NewMemoryStore creates an empty in-memory job store.
func NewMemoryStore(retention Retention) *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[string]*Job),
		retention: retention,
		now:       time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, params CreateParams) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	j := &Job{
		ID:        uuid.NewString(),
		Status:    StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
		Language:  params.Language,
		Chunks:    params.Chunks,
	}
	s.jobs[j.ID] = j
	return cloneJob(j)
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(j)
}

func (s *MemoryStore) Update(_ context.Context, id string, fn UpdateFunc) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}

	// Mutate a copy so a failing fn leaves the record untouched.
	work, err := cloneJob(j)
	if err != nil {
		return nil, err
	}
	if err := fn(work); err != nil {
		return nil, err
	}
	work.UpdatedAt = s.now().UTC()
	s.jobs[id] = work
	return cloneJob(work)
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id, reason string) error {
	_, err := s.Update(ctx, id, markFailed(reason, s.now().UTC()))
	return err
}

func (s *MemoryStore) MarkCompleted(ctx context.Context, id string, transcript *assemble.AssembledTranscript, result *entities.Result) error {
	_, err := s.Update(ctx, id, markCompleted(transcript, result, s.now().UTC()))
	return err
}

func (s *MemoryStore) Retry(ctx context.Context, id string) (*Job, error) {
	return s.Update(ctx, id, retry(s.now().UTC()))
}

func (s *MemoryStore) PurgeExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	purged := 0
	for id, j := range s.jobs {
		if s.retention.expired(j, now) {
			delete(s.jobs, id)
			purged++
		}
	}
	return purged, nil
}

// cloneJob deep-copies a job through JSON. Job records are small and mutations
// are rare, so the simplicity wins over hand-written copying.
func cloneJob(j *Job) (*Job, error) {
	raw, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("clone job: %w", err)
	}
	out := &Job{}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("clone job: %w", err)
	}
	return out, nil
}
