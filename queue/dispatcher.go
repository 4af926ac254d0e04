// Package queue runs typed jobs on bounded per-kind worker lanes with
// retry, cancellation and ordered progress notifications.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/store"
)

// Reporter receives percentage progress from a running handler.
type Reporter func(percent int)

// Handler performs one attempt of a job. The returned value becomes the
// job result on success.
type Handler func(ctx context.Context, job models.Job, payload any, report Reporter) (any, error)

// Observer is notified after every stored change to a job. Updates for one
// job arrive in order. Implementations must not block.
type Observer interface {
	JobUpdated(job models.Job)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(job models.Job)

// JobUpdated calls f.
func (f ObserverFunc) JobUpdated(job models.Job) {
	f(job)
}

// Lane configures how one job kind is executed.
type Lane struct {
	Kind        models.JobKind
	Concurrency int
	// SerializeByKey runs jobs sharing a key one at a time.
	SerializeByKey bool
	Retry          config.RetryPolicy
}

// LanesFromConfig returns the lanes for every job kind.
func LanesFromConfig(cfg *config.Config) []Lane {
	return []Lane{
		{Kind: models.JobListScrape, Concurrency: cfg.ListConcurrency, SerializeByKey: true, Retry: cfg.ListRetry},
		{Kind: models.JobDetailScrape, Concurrency: cfg.DetailConcurrency, Retry: cfg.DetailRetry},
		{Kind: models.JobExport, Concurrency: cfg.ExportConcurrency, Retry: cfg.ExportRetry},
	}
}

type lane struct {
	Lane
	handler Handler
	ch      chan *task
	keys    *keyedMutex
}

type task struct {
	id      string
	kind    models.JobKind
	key     string
	payload any

	attempts  int
	cancelled atomic.Bool

	mu     sync.Mutex // serializes store updates and notifications
	cancel context.CancelFunc
}

// Dispatcher owns every job record transition after Enqueue.
type Dispatcher struct {
	jobs    *store.Jobs
	lanes   map[models.JobKind]*lane
	retries *retryTimers
	metrics *Metrics
	logger  *slog.Logger

	mu        sync.Mutex
	tasks     map[string]*task
	observers map[int]Observer
	nextObs   int
	started   bool
	closed    bool

	ctx       context.Context
	stop      context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewDispatcher builds a dispatcher over jobs. depth bounds each lane's backlog.
func NewDispatcher(jobs *store.Jobs, lanes []Lane, depth int, metrics *Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if depth <= 0 {
		depth = 1024
	}
	d := &Dispatcher{
		jobs:      jobs,
		lanes:     make(map[models.JobKind]*lane),
		retries:   newRetryTimers(),
		metrics:   metrics,
		logger:    logger,
		tasks:     make(map[string]*task),
		observers: make(map[int]Observer),
	}
	for _, l := range lanes {
		if l.Concurrency <= 0 {
			l.Concurrency = 1
		}
		d.lanes[l.Kind] = &lane{
			Lane: l,
			ch:   make(chan *task, depth),
			keys: newKeyedMutex(),
		}
	}
	return d
}

// Register binds the handler for kind. It must be called before Start.
func (d *Dispatcher) Register(kind models.JobKind, h Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.lanes[kind]
	if !ok {
		return fmt.Errorf("register %s: %w", kind, ErrUnknownKind)
	}
	if d.started {
		return fmt.Errorf("register %s: dispatcher already started", kind)
	}
	l.handler = h
	return nil
}

// Start launches the lane workers. Workers stop when ctx ends or on Close.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	d.ctx, d.stop = context.WithCancel(ctx)

	for _, l := range d.lanes {
		for i := 0; i < l.Concurrency; i++ {
			d.wg.Add(1)
			go d.worker(l)
		}
	}
	d.logger.Info("dispatcher started", slog.Int("lanes", len(d.lanes)))
}

// Close stops workers and pending retries, then waits for running attempts.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		stop := d.stop
		d.mu.Unlock()

		d.retries.Stop()
		if stop != nil {
			stop()
		}
		d.wg.Wait()
	})
}

// Subscribe registers o and returns a function that removes it.
func (d *Dispatcher) Subscribe(o Observer) func() {
	d.mu.Lock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = o
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.observers, id)
		d.mu.Unlock()
	}
}

// Enqueue stores job as pending and queues it on its kind's lane. key groups
// jobs that must not run concurrently on serialized lanes.
func (d *Dispatcher) Enqueue(job models.Job, key string, payload any) error {
	d.mu.Lock()
	closed := d.closed
	l, ok := d.lanes[job.Kind]
	d.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !ok || l.handler == nil {
		return fmt.Errorf("enqueue %s: %w", job.Kind, ErrUnknownKind)
	}

	if job.Status == "" {
		job.Status = models.StatusPending
	}
	if err := d.jobs.Create(job); err != nil {
		if errors.Is(err, store.ErrExists) {
			return fmt.Errorf("enqueue %s: %w", job.ID, ErrDuplicateJob)
		}
		return err
	}

	t := &task{id: job.ID, kind: job.Kind, key: key, payload: payload}
	d.mu.Lock()
	d.tasks[t.id] = t
	d.mu.Unlock()

	t.mu.Lock()
	d.notify(job)
	t.mu.Unlock()

	select {
	case l.ch <- t:
		return nil
	default:
		d.forget(t.id)
		d.jobs.Delete(t.id)
		return fmt.Errorf("enqueue %s: %w", job.ID, ErrQueueFull)
	}
}

// Cancel stops a job. A running attempt has its context cancelled; a queued
// or backing-off job is failed when it is next dispatched.
func (d *Dispatcher) Cancel(id string) error {
	d.mu.Lock()
	t, ok := d.tasks[id]
	d.mu.Unlock()
	if !ok {
		job, exists := d.jobs.Get(id)
		if !exists {
			return ErrJobNotFound
		}
		if job.Status.Terminal() {
			return ErrJobFinished
		}
		return ErrJobNotFound
	}

	t.cancelled.Store(true)
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.retries.Expedite(id)
	d.logger.Info("job cancellation requested", slog.String("job_id", id))
	return nil
}

func (d *Dispatcher) worker(l *lane) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case t := <-l.ch:
			d.run(l, t)
		}
	}
}

func (d *Dispatcher) run(l *lane, t *task) {
	if l.SerializeByKey && t.key != "" {
		unlock := l.keys.Lock(t.key)
		defer unlock()
	}

	if !d.activate(t) {
		return
	}
	if t.cancelled.Load() {
		d.finish(t, nil, ErrCancelled)
		return
	}

	attemptCtx, cancel := context.WithCancel(d.ctx)
	defer cancel()

	t.mu.Lock()
	t.attempts++
	t.cancel = cancel
	if t.cancelled.Load() {
		cancel()
	}
	job, err := d.jobs.Update(t.id, func(j *models.Job) error {
		j.Attempts = t.attempts
		j.UpdatedAt = d.jobs.Now()
		return nil
	})
	if err == nil {
		d.notify(job)
	}
	t.mu.Unlock()
	if err != nil {
		d.logger.Error("job record vanished", slog.String("job_id", t.id), slog.Any("error", err))
		d.forget(t.id)
		return
	}

	d.logger.Info("job attempt started",
		slog.String("job_id", t.id),
		slog.String("kind", string(t.kind)),
		slog.Int("attempt", t.attempts),
	)

	done := d.metrics.attemptStarted(string(t.kind))
	result, err := d.invoke(attemptCtx, l.handler, job, t)
	done()

	t.mu.Lock()
	t.cancel = nil
	t.mu.Unlock()

	switch {
	case err == nil:
		d.finish(t, result, nil)
	case t.cancelled.Load():
		d.finish(t, nil, ErrCancelled)
	case d.ctx.Err() != nil:
		d.finish(t, nil, fmt.Errorf("%w: %v", ErrClosed, err))
	case IsPermanent(err) || t.attempts >= l.Retry.MaxAttempts:
		d.finish(t, nil, err)
	default:
		d.scheduleRetry(l, t, err)
	}
}

// activate moves a pending job to active. Retries find it active already.
func (d *Dispatcher) activate(t *task) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, err := d.jobs.Update(t.id, func(j *models.Job) error {
		if j.Status == models.StatusActive {
			return nil
		}
		return j.Transition(models.StatusActive, d.jobs.Now())
	})
	if err != nil {
		d.logger.Error("job activation failed", slog.String("job_id", t.id), slog.Any("error", err))
		d.forget(t.id)
		return false
	}
	d.notify(job)
	return true
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, job models.Job, t *task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	report := func(percent int) {
		d.progress(t, percent)
	}
	return h(ctx, job, t.payload, report)
}

func (d *Dispatcher) progress(t *task, percent int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := false
	job, err := d.jobs.Update(t.id, func(j *models.Job) error {
		changed = j.SetProgress(percent, d.jobs.Now())
		return nil
	})
	if err == nil && changed {
		d.notify(job)
	}
}

func (d *Dispatcher) scheduleRetry(l *lane, t *task, cause error) {
	delay := Backoff(l.Retry, t.attempts)
	d.metrics.retried(string(t.kind))
	d.logger.Warn("job attempt failed, retrying",
		slog.String("job_id", t.id),
		slog.String("kind", string(t.kind)),
		slog.Int("attempt", t.attempts),
		slog.Duration("backoff", delay),
		slog.Any("error", cause),
	)

	t.mu.Lock()
	job, err := d.jobs.Update(t.id, func(j *models.Job) error {
		j.Error = cause.Error()
		j.UpdatedAt = d.jobs.Now()
		return nil
	})
	if err == nil {
		d.notify(job)
	}
	t.mu.Unlock()

	scheduled := d.retries.Schedule(t.id, delay, func() {
		select {
		case l.ch <- t:
		case <-d.ctx.Done():
		}
	})
	if !scheduled {
		d.finish(t, nil, fmt.Errorf("%w: %v", ErrClosed, cause))
	}
}

func (d *Dispatcher) finish(t *task, result any, cause error) {
	t.mu.Lock()
	job, err := d.jobs.Update(t.id, func(j *models.Job) error {
		now := d.jobs.Now()
		if cause == nil {
			j.Result = result
			j.Error = ""
			return j.Transition(models.StatusCompleted, now)
		}
		j.Error = cause.Error()
		return j.Transition(models.StatusFailed, now)
	})
	if err == nil {
		d.notify(job)
	}
	t.mu.Unlock()
	d.forget(t.id)

	if err != nil {
		d.logger.Error("job finish failed", slog.String("job_id", t.id), slog.Any("error", err))
		return
	}
	d.metrics.finished(string(t.kind), string(job.Status))
	if cause != nil {
		d.logger.Warn("job failed",
			slog.String("job_id", t.id),
			slog.String("kind", string(t.kind)),
			slog.Int("attempts", t.attempts),
			slog.String("error", job.Error),
		)
		return
	}
	d.logger.Info("job completed",
		slog.String("job_id", t.id),
		slog.String("kind", string(t.kind)),
		slog.Int("attempts", t.attempts),
	)
}

func (d *Dispatcher) forget(id string) {
	d.mu.Lock()
	delete(d.tasks, id)
	d.mu.Unlock()
}

func (d *Dispatcher) notify(job models.Job) {
	d.mu.Lock()
	observers := make([]Observer, 0, len(d.observers))
	for _, o := range d.observers {
		observers = append(observers, o)
	}
	d.mu.Unlock()

	for _, o := range observers {
		o.JobUpdated(job)
	}
}
