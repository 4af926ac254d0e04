package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// Jobs is a concurrent-safe job table.
type Jobs struct {
	now func() time.Time

	mu   sync.RWMutex
	byID map[string]models.Job
}

// NewJobs returns an empty job store.
func NewJobs(now func() time.Time) *Jobs {
	if now == nil {
		now = time.Now
	}
	return &Jobs{
		now:  now,
		byID: make(map[string]models.Job),
	}
}

// Now returns the store clock.
func (s *Jobs) Now() time.Time {
	return s.now()
}

// Create stores a new job record. Existing ids are never overwritten.
func (s *Jobs) Create(job models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[job.ID]; ok {
		return fmt.Errorf("create job %q: %w", job.ID, ErrExists)
	}
	s.byID[job.ID] = job
	return nil
}

// Get returns the job with id.
func (s *Jobs) Get(id string) (models.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.byID[id]
	return job, ok
}

// Update applies fn to a copy of the job and stores it when fn succeeds.
func (s *Jobs) Update(id string, fn func(*models.Job) error) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.byID[id]
	if !ok {
		return models.Job{}, fmt.Errorf("update job %q: %w", id, ErrNotFound)
	}
	if err := fn(&job); err != nil {
		return models.Job{}, err
	}
	s.byID[id] = job
	return job, nil
}

// Delete removes a job record.
func (s *Jobs) Delete(id string) {
	s.mu.Lock()
	delete(s.byID, id)
	s.mu.Unlock()
}

// List returns jobs of kind (all kinds when empty), newest first.
func (s *Jobs) List(kind models.JobKind) []models.Job {
	s.mu.RLock()
	out := make([]models.Job, 0, len(s.byID))
	for _, job := range s.byID {
		if kind != "" && job.Kind != kind {
			continue
		}
		out = append(out, job)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
