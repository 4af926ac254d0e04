// Package scraper fetches catalog pages and extracts products from them.
package scraper

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
)

// ProgressFunc receives completed and total sub-units of work.
type ProgressFunc func(done, total int)

func (f ProgressFunc) report(done, total int) {
	if f != nil {
		f(done, total)
	}
}

// Scraper runs list and detail crawls using per-brand strategies.
type Scraper struct {
	cfg      *config.Config
	fetcher  *Fetcher
	registry *Registry
	Metrics  *Metrics
	logger   *slog.Logger
}

// NewScraper builds a scraper configured from cfg.
func NewScraper(cfg *config.Config, registry *Registry, metrics *Metrics, logger *slog.Logger) (*Scraper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	fetcher, err := NewFetcher(cfg, metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("build fetcher: %w", err)
	}
	return &Scraper{
		cfg:      cfg,
		fetcher:  fetcher,
		registry: registry,
		Metrics:  metrics,
		logger:   logger,
	}, nil
}

// Fetcher exposes the underlying fetcher.
func (s *Scraper) Fetcher() *Fetcher {
	return s.fetcher
}

// Strategy returns the strategy bound to brand.
func (s *Scraper) Strategy(brand models.Brand) Strategy {
	return s.registry.Lookup(brand)
}

// HasStrategy reports whether brand has a registered strategy of its own.
func (s *Scraper) HasStrategy(brand models.Brand) bool {
	return s.registry.Registered(brand.Name)
}

// ListResult is the outcome of crawling every listing page of a brand.
type ListResult struct {
	Products     []models.Product
	TotalPages   int
	PagesFetched int
	PagesFailed  int
	Dropped      map[string]int
	Imageless    int
}

type pageOutcome struct {
	extraction Extraction
	err        error
}

// ScrapeBrand fetches page 1 of the brand's seed URL, discovers the page
// count, then fetches the remaining pages concurrently. A page 1 failure is
// returned; later page failures are logged and dropped.
func (s *Scraper) ScrapeBrand(ctx context.Context, brand models.Brand, progress ProgressFunc) (*ListResult, error) {
	strat := s.registry.Lookup(brand)
	paginator := NewPaginator(strat.Pagination, brand.Website, s.cfg.MaxPages)

	firstURL, err := paginator.URL(1)
	if err != nil {
		return nil, err
	}
	body, err := s.fetcher.Fetch(ctx, firstURL, "list")
	if err != nil {
		return nil, fmt.Errorf("first page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse first page: %w", err)
	}

	total := paginator.Discover(doc)
	s.logger.Info("listing pagination discovered",
		slog.String("brand", brand.Name),
		slog.String("seed", firstURL),
		slog.Int("total_pages", total),
	)

	outcomes := make([]pageOutcome, total)
	outcomes[0] = pageOutcome{extraction: Extract(doc, strat, brand, firstURL, s.logger)}

	var (
		mu   sync.Mutex
		done = 1
	)
	progress.report(done, total)

	var wg sync.WaitGroup
	for page := 2; page <= total; page++ {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			outcome := s.scrapePage(ctx, paginator, strat, brand, page)
			mu.Lock()
			outcomes[page-1] = outcome
			done++
			progress.report(done, total)
			mu.Unlock()
		}(page)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &ListResult{TotalPages: total, Dropped: make(map[string]int)}
	for i, outcome := range outcomes {
		if outcome.err != nil {
			result.PagesFailed++
			s.logger.Warn("listing page dropped",
				slog.String("brand", brand.Name),
				slog.Int("page", i+1),
				slog.Any("error", outcome.err),
			)
			continue
		}
		result.PagesFetched++
		result.Products = append(result.Products, outcome.extraction.Products...)
		result.Imageless += outcome.extraction.Imageless
		for reason, n := range outcome.extraction.Dropped {
			result.Dropped[reason] += n
			s.Metrics.AddDropped(reason, n)
		}
	}
	s.Metrics.AddExtracted(brand.Name, len(result.Products))
	return result, nil
}

func (s *Scraper) scrapePage(ctx context.Context, paginator *Paginator, strat Strategy, brand models.Brand, page int) pageOutcome {
	if err := ctx.Err(); err != nil {
		return pageOutcome{err: err}
	}
	pageURL, err := paginator.URL(page)
	if err != nil {
		return pageOutcome{err: err}
	}
	body, err := s.fetcher.Fetch(ctx, pageURL, "list")
	if err != nil {
		return pageOutcome{err: err}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return pageOutcome{err: fmt.Errorf("parse page %d: %w", page, err)}
	}
	return pageOutcome{extraction: Extract(doc, strat, brand, pageURL, s.logger)}
}
