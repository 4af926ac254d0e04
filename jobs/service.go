// Package jobs exposes catalog work as typed jobs: list scrapes, detail
// scrapes and CSV exports run on the queue dispatcher.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/export"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/queue"
	"github.com/aluiziolira/go-scrape-catalog/scraper"
	"github.com/aluiziolira/go-scrape-catalog/store"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	ErrInvalidRequest   = errors.New("jobs: invalid request")
	ErrBrandNotFound    = errors.New("jobs: brand not found")
	ErrNoProducts       = errors.New("jobs: no products found")
	ErrJobNotFound      = errors.New("jobs: job not found")
	ErrJobNotCompleted  = errors.New("jobs: job not completed")
	ErrNoExportFile     = errors.New("jobs: job has no export file")
	ErrProductNotFound  = errors.New("jobs: product not found")
	ErrNothingExported  = errors.New("jobs: no exportable products")
	ErrDuplicateJob     = queue.ErrDuplicateJob
	ErrSchedulerStarted = errors.New("jobs: scheduler already started")
)

// EnqueueRequest describes a job to create. JobID is optional; a random id is
// assigned when empty.
type EnqueueRequest struct {
	JobID      string         `json:"job_id,omitempty" validate:"omitempty,max=128"`
	Kind       models.JobKind `json:"kind" validate:"required,oneof=list-scrape detail-scrape export"`
	BrandID    string         `json:"brand_id,omitempty" validate:"required_if=Kind list-scrape"`
	ProductIDs []string       `json:"product_ids,omitempty" validate:"required_unless=Kind list-scrape,dive,required"`
	Filename   string         `json:"filename,omitempty" validate:"omitempty,max=200"`
}

// Service owns the job lifecycle on top of the stores and the dispatcher.
type Service struct {
	cfg        *config.Config
	stores     *store.Stores
	scraper    *scraper.Scraper
	dispatcher *queue.Dispatcher
	exporter   export.Generator
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewService builds the service and registers its handlers on dispatcher.
// The dispatcher must not be started yet.
func NewService(cfg *config.Config, stores *store.Stores, scr *scraper.Scraper, dispatcher *queue.Dispatcher, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		cfg:        cfg,
		stores:     stores,
		scraper:    scr,
		dispatcher: dispatcher,
		validate:   validator.New(),
		logger:     logger,
	}
	s.exporter = export.Generator{Vendor: s.brandName, Logger: logger}

	handlers := map[models.JobKind]queue.Handler{
		models.JobListScrape:   s.handleListScrape,
		models.JobDetailScrape: s.handleDetailScrape,
		models.JobExport:       s.handleExport,
	}
	for kind, h := range handlers {
		if err := dispatcher.Register(kind, h); err != nil {
			return nil, fmt.Errorf("register handlers: %w", err)
		}
	}
	return s, nil
}

// Enqueue validates req, stores a pending job and queues it. The id is
// returned immediately; processing is asynchronous.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.validate.Struct(req); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	key := ""
	switch req.Kind {
	case models.JobListScrape:
		if _, ok := s.stores.Brands.Get(req.BrandID); !ok {
			return "", fmt.Errorf("enqueue %s for %q: %w", req.Kind, req.BrandID, ErrBrandNotFound)
		}
		key = req.BrandID
	case models.JobDetailScrape, models.JobExport:
		// Partly unknown id lists are accepted; the job reports the misses.
		if found, _ := s.stores.Products.GetMany(req.ProductIDs); len(found) == 0 {
			return "", fmt.Errorf("enqueue %s: none of %d products exist: %w", req.Kind, len(req.ProductIDs), ErrProductNotFound)
		}
	}

	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	job := models.NewJob(req.JobID, req.Kind, s.stores.Jobs.Now())
	if err := s.dispatcher.Enqueue(job, key, req); err != nil {
		return "", err
	}

	s.logger.Info("job enqueued",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.String("brand_id", req.BrandID),
		slog.Int("products", len(req.ProductIDs)),
	)
	return job.ID, nil
}

// GetJobStatus returns the job with id. An unknown id is reported with ok=false.
func (s *Service) GetJobStatus(id string) (models.Job, bool) {
	return s.stores.Jobs.Get(id)
}

// ListJobs returns jobs of kind, or every job when kind is empty, newest first.
func (s *Service) ListJobs(kind models.JobKind) []models.Job {
	return s.stores.Jobs.List(kind)
}

// Cancel requests cancellation of a pending or active job.
func (s *Service) Cancel(id string) error {
	if err := s.dispatcher.Cancel(id); err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			return fmt.Errorf("cancel %s: %w", id, ErrJobNotFound)
		}
		return fmt.Errorf("cancel %s: %w", id, err)
	}
	return nil
}

// ExportFile resolves the output of a completed export job.
func (s *Service) ExportFile(id string) (models.ExportResult, error) {
	job, ok := s.stores.Jobs.Get(id)
	if !ok {
		return models.ExportResult{}, fmt.Errorf("export file %s: %w", id, ErrJobNotFound)
	}
	if job.Status != models.StatusCompleted {
		return models.ExportResult{}, fmt.Errorf("export file %s (%s): %w", id, job.Status, ErrJobNotCompleted)
	}
	result, ok := job.Result.(models.ExportResult)
	if !ok || result.FilePath == "" {
		return models.ExportResult{}, fmt.Errorf("export file %s: %w", id, ErrNoExportFile)
	}
	return result, nil
}

// CreateBrand registers a brand. Active defaults to true for new brands.
func (s *Service) CreateBrand(b models.Brand) (models.Brand, error) {
	if err := s.validate.Var(b.Website, "required,url"); err != nil {
		return models.Brand{}, fmt.Errorf("%w: website: %v", ErrInvalidRequest, err)
	}
	if b.BaseURL != "" {
		if err := s.validate.Var(b.BaseURL, "url"); err != nil {
			return models.Brand{}, fmt.Errorf("%w: base url: %v", ErrInvalidRequest, err)
		}
	}
	created, err := s.stores.Brands.Create(b)
	if err != nil {
		return models.Brand{}, err
	}
	s.logger.Info("brand created", slog.String("brand_id", created.ID), slog.String("name", created.Name))
	return created, nil
}

// BrandSummary is a brand with its stored product count.
type BrandSummary struct {
	models.Brand
	Products int  `json:"products"`
	Custom   bool `json:"custom_strategy"`
}

// ListBrands returns every brand ordered by name.
func (s *Service) ListBrands() []BrandSummary {
	brands := s.stores.Brands.List()
	out := make([]BrandSummary, 0, len(brands))
	for _, b := range brands {
		out = append(out, BrandSummary{
			Brand:    b,
			Products: s.stores.Products.CountByBrand(b.ID),
			Custom:   s.scraper.HasStrategy(b),
		})
	}
	return out
}

// ListProducts returns products matching filter.
func (s *Service) ListProducts(filter store.ProductFilter) []models.Product {
	return s.stores.Products.List(filter)
}

// GetProduct returns one product.
func (s *Service) GetProduct(id string) (models.Product, error) {
	p, ok := s.stores.Products.Get(id)
	if !ok {
		return models.Product{}, fmt.Errorf("product %s: %w", id, ErrProductNotFound)
	}
	return p, nil
}

// AutoScrape enqueues a list scrape for every active brand without products.
// It returns the created job ids.
func (s *Service) AutoScrape(ctx context.Context) ([]string, error) {
	var ids []string
	for _, b := range s.stores.Brands.List() {
		if !b.Active || s.stores.Products.CountByBrand(b.ID) > 0 {
			continue
		}
		id, err := s.Enqueue(ctx, EnqueueRequest{Kind: models.JobListScrape, BrandID: b.ID})
		if err != nil {
			return ids, fmt.Errorf("auto scrape %s: %w", b.Name, err)
		}
		s.logger.Info("auto scrape queued", slog.String("brand", b.Name), slog.String("job_id", id))
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Service) brandName(brandID string) string {
	if b, ok := s.stores.Brands.Get(brandID); ok {
		return b.Name
	}
	return ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
