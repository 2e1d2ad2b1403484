package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuongbtq/permit-search/internal/domain"
)

// MemoryStore keeps jobs in a map; suitable for a single api-service process
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*domain.SearchJob
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*domain.SearchJob),
	}
}

// Create inserts a new job
func (s *MemoryStore) Create(_ context.Context, job *domain.SearchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get returns a copy of the job
func (s *MemoryStore) Get(_ context.Context, id string) (*domain.SearchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job.Clone(), nil
}

// Claim moves a pending job to running
func (s *MemoryStore) Claim(_ context.Context, id string) (*domain.SearchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if job.Status != domain.JobStatusPending {
		return nil, domain.ErrJobAlreadyClaimed
	}
	if err := job.Start(); err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

// Update replaces the mutable fields of a non-terminal job. Progress never decreases.
func (s *MemoryStore) Update(_ context.Context, job *domain.SearchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[job.ID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if current.Status.IsTerminal() {
		return domain.ErrJobFinalized
	}

	next := job.Clone()
	if current.Progress > next.Progress {
		next.Progress = current.Progress
	}
	next.Address = current.Address
	next.StartTime = current.StartTime
	s.jobs[job.ID] = next
	return nil
}

// Delete removes a job
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return domain.ErrJobNotFound
	}
	delete(s.jobs, id)
	return nil
}

// Count returns the number of stored jobs
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.jobs), nil
}

// DeleteTerminalBefore removes finished jobs started before cutoff
func (s *MemoryStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, job := range s.jobs {
		if job.Status.IsTerminal() && job.StartTime.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

// AbandonStaleBefore fails unfinished jobs started before cutoff
func (s *MemoryStore) AbandonStaleBefore(_ context.Context, cutoff, now time.Time, message string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var abandoned int64
	for _, job := range s.jobs {
		if job.Status.IsTerminal() || !job.StartTime.Before(cutoff) {
			continue
		}
		if err := job.Abandon(message, now); err != nil {
			return abandoned, err
		}
		abandoned++
	}
	return abandoned, nil
}

// Stats tallies jobs per status
func (s *MemoryStore) Stats(_ context.Context) (domain.JobStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats domain.JobStats
	for _, job := range s.jobs {
		stats.Add(job.Status, 1)
	}
	return stats, nil
}
