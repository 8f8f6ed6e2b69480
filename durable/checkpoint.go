package durable

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Checkpoint is a suspended job waiting to be resumed at DueAt.
type Checkpoint struct {
	Args      ResumeArgs `json:"args"`
	DueAt     time.Time  `json:"due_at"`
	Attempts  int        `json:"attempts"`
	LastError string     `json:"last_error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ID is the checkpoint key. A job has at most one checkpoint.
func (c Checkpoint) ID() string { return c.Args.Key() }

// CheckpointStore persists checkpoints.
type CheckpointStore interface {
	// Save inserts or replaces the checkpoint of a job.
	Save(ctx context.Context, cp Checkpoint) error
	Delete(ctx context.Context, id string) error
	// Due returns up to limit checkpoints with DueAt <= now, earliest first.
	Due(ctx context.Context, now time.Time, limit int) ([]Checkpoint, error)
}

// MemoryCheckpointStore keeps checkpoints in a map.
type MemoryCheckpointStore struct {
	mu   sync.Mutex
	data map[string]Checkpoint
}

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{data: make(map[string]Checkpoint)}
}

func (s *MemoryCheckpointStore) Save(_ context.Context, cp Checkpoint) error {
	if err := cp.Args.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[cp.ID()] = cp
	return nil
}

func (s *MemoryCheckpointStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

func (s *MemoryCheckpointStore) Due(_ context.Context, now time.Time, limit int) ([]Checkpoint, error) {
	s.mu.Lock()
	out := make([]Checkpoint, 0, len(s.data))
	for _, cp := range s.data {
		if !cp.DueAt.After(now) {
			out = append(out, cp)
		}
	}
	s.mu.Unlock()
	return limitDue(out, limit), nil
}

// Len returns the number of stored checkpoints.
func (s *MemoryCheckpointStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func limitDue(cps []Checkpoint, limit int) []Checkpoint {
	sort.Slice(cps, func(i, j int) bool {
		if cps[i].DueAt.Equal(cps[j].DueAt) {
			return cps[i].ID() < cps[j].ID()
		}
		return cps[i].DueAt.Before(cps[j].DueAt)
	})
	if limit > 0 && len(cps) > limit {
		cps = cps[:limit]
	}
	return cps
}
