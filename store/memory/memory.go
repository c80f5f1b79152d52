// Package memory provides an in-memory types.JobStore.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/arloliu/jobline/types"
)

// Store keeps jobs in a map. Jobs are copied on the way in and out so
// callers never share memory with the store.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*types.Job
}

var _ types.JobStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{jobs: make(map[string]*types.Job)}
}

// Upsert creates or replaces the job identified by j.ID.
func (s *Store) Upsert(ctx context.Context, j *types.Job) error {
	if err := ctx.Err(); err != nil {
		return types.Persistence(err)
	}
	if j == nil || j.ID == "" {
		return types.Persistence(fmt.Errorf("job id is required"))
	}

	s.mu.Lock()
	s.jobs[j.ID] = j.Clone()
	s.mu.Unlock()

	return nil
}

// Get returns a copy of the job, or types.ErrJobNotFound.
func (s *Store) Get(ctx context.Context, id string) (*types.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.Persistence(err)
	}

	s.mu.RLock()
	j, ok := s.jobs[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, types.ErrJobNotFound)
	}

	return j.Clone(), nil
}

// List returns copies of all jobs ordered by creation time.
func (s *Store) List() []*types.Job {
	s.mu.RLock()
	out := make([]*types.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}

		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})

	return out
}
