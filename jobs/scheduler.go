package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/robfig/cron/v3"
)

// Scheduler enqueues periodic list scrapes from standard five-field cron
// expressions.
type Scheduler struct {
	service *Service
	cron    *cron.Cron
	logger  *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]cron.EntryID
	started bool
}

// NewScheduler returns a stopped scheduler bound to service.
func NewScheduler(service *Service, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		service: service,
		cron:    cron.New(),
		logger:  logger,
		ctx:     context.Background(),
		entries: make(map[string]cron.EntryID),
	}
}

// Add schedules a list scrape of brandID. A later Add for the same brand
// replaces the earlier schedule.
func (s *Scheduler) Add(brandID, spec string) error {
	if _, ok := s.service.stores.Brands.Get(brandID); !ok {
		return fmt.Errorf("schedule %s: %w", brandID, ErrBrandNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(spec, func() { s.fire(brandID) })
	if err != nil {
		return fmt.Errorf("schedule %s: invalid cron expression %q: %w", brandID, spec, err)
	}
	if prev, ok := s.entries[brandID]; ok {
		s.cron.Remove(prev)
	}
	s.entries[brandID] = id
	s.logger.Info("list scrape scheduled", slog.String("brand_id", brandID), slog.String("schedule", spec))
	return nil
}

// Len returns the number of scheduled brands.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Start runs the cron loop until Stop. Enqueues use ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrSchedulerStarted
	}
	s.started = true
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("entries", len(s.entries)))
	return nil
}

// Stop halts the cron loop and waits for running enqueues.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) fire(brandID string) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	id, err := s.service.Enqueue(ctx, EnqueueRequest{Kind: models.JobListScrape, BrandID: brandID})
	if err != nil {
		s.logger.Error("scheduled scrape not queued", slog.String("brand_id", brandID), slog.Any("error", err))
		return
	}
	s.logger.Info("scheduled scrape queued", slog.String("brand_id", brandID), slog.String("job_id", id))
}
