package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/aluiziolira/go-scrape-catalog/export"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/pipeline"
	"github.com/aluiziolira/go-scrape-catalog/queue"
	"github.com/aluiziolira/go-scrape-catalog/scraper"
)

// listShare is the progress share of the page crawl; ingestion takes the rest.
const listShare = 90

func requestFrom(payload any) (EnqueueRequest, error) {
	req, ok := payload.(EnqueueRequest)
	if !ok {
		return EnqueueRequest{}, queue.Permanent(fmt.Errorf("unexpected payload %T", payload))
	}
	return req, nil
}

func (s *Service) handleListScrape(ctx context.Context, job models.Job, payload any, report queue.Reporter) (any, error) {
	req, err := requestFrom(payload)
	if err != nil {
		return nil, err
	}
	brand, ok := s.stores.Brands.Get(req.BrandID)
	if !ok {
		return nil, queue.Permanent(fmt.Errorf("brand %s: %w", req.BrandID, ErrBrandNotFound))
	}

	listing, err := s.scraper.ScrapeBrand(ctx, brand, func(done, total int) {
		if total > 0 {
			report(done * listShare / total)
		}
	})
	if err != nil {
		err = fmt.Errorf("scrape %s: %w", brand.Name, err)
		var fe *scraper.FetchError
		if errors.As(err, &fe) && !fe.Retryable() {
			return nil, queue.Permanent(err)
		}
		return nil, err
	}

	stored, stats, err := s.ingest(ctx, job.ID, listing.Products)
	if err != nil {
		return nil, fmt.Errorf("ingest %s: %w", brand.Name, err)
	}

	dropped := make(map[string]int, len(listing.Dropped)+len(stats.Rejected))
	for reason, n := range listing.Dropped {
		dropped[reason] += n
	}
	for reason, n := range stats.Rejected {
		dropped[reason] += n
	}
	if len(dropped) == 0 {
		dropped = nil
	}

	s.logger.Info("list scrape finished",
		slog.String("job_id", job.ID),
		slog.String("brand", brand.Name),
		slog.Int("pages", listing.TotalPages),
		slog.Int("pages_failed", listing.PagesFailed),
		slog.Int("products", stored),
		slog.Int("imageless", listing.Imageless),
	)
	return models.ListScrapeResult{
		BrandID:      brand.ID,
		Products:     stored,
		TotalPages:   listing.TotalPages,
		PagesFetched: listing.PagesFetched,
		PagesFailed:  listing.PagesFailed,
		Dropped:      dropped,
	}, nil
}

// ingest runs extracted products through the pipeline into the product
// store, and into a JSONL snapshot when a snapshot dir is configured.
func (s *Service) ingest(ctx context.Context, jobID string, products []models.Product) (int, pipeline.Stats, error) {
	sink := pipeline.NewStoreWriter(s.stores.Products)
	var writer pipeline.OutputWriter = sink
	if s.cfg.SnapshotDir != "" {
		snapshot, err := pipeline.NewJSONWriter(filepath.Join(s.cfg.SnapshotDir, "listing-"+jobID+".jsonl"))
		if err != nil {
			return 0, pipeline.Stats{}, err
		}
		writer = pipeline.NewMultiWriter(sink, snapshot)
	}

	p := pipeline.NewPipeline(ctx, writer, s.cfg)
	p.Start(s.cfg.PipelineWorkers)
	var submitErr error
	for i := range products {
		if submitErr = p.Process(&products[i]); submitErr != nil {
			break
		}
	}
	closeErr := p.Close()
	writerErr := writer.Close()
	return sink.Written(), p.GetMetrics(), errors.Join(submitErr, closeErr, writerErr)
}

func (s *Service) handleDetailScrape(ctx context.Context, job models.Job, payload any, report queue.Reporter) (any, error) {
	req, err := requestFrom(payload)
	if err != nil {
		return nil, err
	}

	products, missing := s.stores.Products.GetMany(req.ProductIDs)
	for _, id := range missing {
		s.logger.Warn("product not in store, skipping", slog.String("job_id", job.ID), slog.String("product_id", id))
	}
	if len(products) == 0 {
		return nil, queue.Permanent(fmt.Errorf("none of the %d requested products exist: %w", len(req.ProductIDs), ErrNoProducts))
	}

	byBrand := make(map[string][]models.Product)
	for _, p := range products {
		byBrand[p.BrandID] = append(byBrand[p.BrandID], p)
	}

	result := models.DetailScrapeResult{Failed: len(missing)}
	total := len(products)
	finished := 0
	for _, brandID := range sortedKeys(byBrand) {
		group := byBrand[brandID]
		brand, ok := s.stores.Brands.Get(brandID)
		if !ok {
			brand = models.Brand{ID: brandID}
		}

		base := finished
		crawl, err := s.scraper.ScrapeDetails(ctx, group, s.scraper.Strategy(brand), func(done, _ int) {
			report((base + done) * 100 / total)
		})
		if err != nil {
			return nil, fmt.Errorf("detail crawl %s: %w", brandID, err)
		}
		for _, p := range crawl.Products {
			if _, failed := crawl.Failures[p.ID]; failed || p.Details == nil {
				continue
			}
			if _, err := s.stores.Products.SetDetails(p.ID, p.Details); err != nil {
				s.logger.Warn("store details failed", slog.String("product_id", p.ID), slog.Any("error", err))
			}
		}
		result.Success += crawl.Succeeded
		result.Failed += crawl.Failed
		finished += len(group)
	}

	s.logger.Info("detail scrape finished",
		slog.String("job_id", job.ID),
		slog.Int("success", result.Success),
		slog.Int("failed", result.Failed),
	)
	return result, nil
}

func (s *Service) handleExport(ctx context.Context, job models.Job, payload any, report queue.Reporter) (any, error) {
	req, err := requestFrom(payload)
	if err != nil {
		return nil, err
	}

	products, missing := s.stores.Products.GetMany(req.ProductIDs)
	if len(products) == 0 {
		return nil, queue.Permanent(fmt.Errorf("none of the %d requested products exist: %w", len(req.ProductIDs), ErrNoProducts))
	}
	if len(missing) > 0 {
		s.logger.Warn("export skipping missing products", slog.String("job_id", job.ID), slog.Int("missing", len(missing)))
	}
	report(10)

	data, summary, err := s.exporter.Generate(products)
	if err != nil {
		return nil, fmt.Errorf("generate csv: %w", err)
	}
	if summary.Products == 0 {
		return nil, queue.Permanent(fmt.Errorf("%d products resolved: %w", len(products), ErrNothingExported))
	}
	report(80)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filename := req.Filename
	if filename == "" {
		filename = export.DefaultFilename(job.ID)
	}
	path, err := export.WriteFile(s.cfg.ExportDir, filename, data)
	if err != nil {
		return nil, fmt.Errorf("write export: %w", err)
	}

	s.logger.Info("export written",
		slog.String("job_id", job.ID),
		slog.String("path", path),
		slog.Int("products", summary.Products),
		slog.Int("rows", summary.Rows),
	)
	return models.ExportResult{
		FilePath:     path,
		Filename:     filepath.Base(path),
		ProductCount: summary.Products,
		RowCount:     summary.Rows,
		Skipped:      summary.Skipped,
		Missing:      len(missing),
	}, nil
}
