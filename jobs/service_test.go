package jobs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/queue"
	"github.com/aluiziolira/go-scrape-catalog/scraper"
	"github.com/aluiziolira/go-scrape-catalog/store"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	svc       *Service
	stores    *store.Stores
	transport *httpmock.MockTransport
	cfg       *config.Config
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.ExportDir = t.TempDir()
	cfg.Timeout = 5 * time.Second
	cfg.DetailBatchDelay = 0
	fast := config.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
	cfg.ListRetry, cfg.DetailRetry, cfg.ExportRetry = fast, fast, fast
	return cfg
}

// newHarness wires a service over fresh stores and a mocked transport. The
// dispatcher runs only when start is true.
func newHarness(t *testing.T, start bool) *harness {
	t.Helper()
	cfg := testConfig(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stores := store.New()

	registry := scraper.NewRegistry()
	tiles := scraper.DefaultStrategy()
	tiles.Container = "article.tile"
	tiles.Selectors = scraper.Selectors{Name: "h3", Image: "img", Price: ".price", URL: "a"}
	registry.Register("Tiles", tiles)

	scr, err := scraper.NewScraper(cfg, registry, nil, logger)
	require.NoError(t, err)
	transport := httpmock.NewMockTransport()
	scr.Fetcher().WithTransport(transport)

	dispatcher := queue.NewDispatcher(stores.Jobs, queue.LanesFromConfig(cfg), cfg.QueueDepth, nil, logger)
	svc, err := NewService(cfg, stores, scr, dispatcher, logger)
	require.NoError(t, err)

	if start {
		ctx, cancel := context.WithCancel(context.Background())
		dispatcher.Start(ctx)
		t.Cleanup(func() {
			cancel()
			dispatcher.Close()
		})
	}
	return &harness{svc: svc, stores: stores, transport: transport, cfg: cfg}
}

func (h *harness) brand(t *testing.T, name, website string) models.Brand {
	t.Helper()
	b, err := h.svc.CreateBrand(models.Brand{Name: name, Website: website, Active: true})
	require.NoError(t, err)
	return b
}

func (h *harness) product(brandID, name, pageURL, price string) models.Product {
	p := models.Product{
		ID:       models.ProductID(brandID, pageURL),
		BrandID:  brandID,
		Name:     name,
		Type:     "Ring",
		Price:    price,
		ImageURL: pageURL + ".jpg",
		URL:      pageURL,
	}
	return h.stores.Products.Upsert(p)
}

// storedProduct stores a product of an unregistered brand and returns its id.
func (h *harness) storedProduct(slug string) string {
	return h.product("stock", slug, "https://stock.test/p/"+slug, "€ 10,00").ID
}

func waitTerminal(t *testing.T, svc *Service, id string) models.Job {
	t.Helper()
	var job models.Job
	require.Eventually(t, func() bool {
		var ok bool
		job, ok = svc.GetJobStatus(id)
		return ok && job.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return job
}

func tilePage(page, total, perPage int) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 1; i <= perPage; i++ {
		id := (page-1)*perPage + i
		fmt.Fprintf(&b, `<article class="tile"><a href="/p/item-%d"><h3>Item %d</h3></a><span class="price">€ %d,00</span><img src="/img/%d.jpg"></article>`, id, id, id, id)
	}
	fmt.Fprintf(&b, "<p>Pagina %d di %d</p></body></html>", page, total)
	return b.String()
}

// genericPage renders listing markup the default strategy has to cope with:
// every tile part carries a "product" class.
func genericPage(page, total, perPage int) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="products-grid">`)
	for i := 1; i <= perPage; i++ {
		id := (page-1)*perPage + i
		fmt.Fprintf(&b, `<div class="product"><a href="/p/ring-%d"><img src="/img/ring-%d.jpg"></a>`+
			`<h3 class="product-name">Gold Ring %d</h3><span class="product-price">€ %d,00</span></div>`, id, id, id, id)
	}
	fmt.Fprintf(&b, "</div><p>Page %d of %d</p></body></html>", page, total)
	return b.String()
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(http.StatusOK, body)
	resp.Header.Set("Content-Type", "text/html; charset=utf-8")
	return httpmock.ResponderFromResponse(resp)
}

func detailPage(sku string) string {
	return fmt.Sprintf(`<html><head><title>Product %s</title></head><body><span itemprop="sku">%s</span></body></html>`, sku, sku)
}

func TestEnqueueValidation(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	tests := []struct {
		name string
		req  EnqueueRequest
		want error
	}{
		{"unknown kind", EnqueueRequest{Kind: "reindex"}, ErrInvalidRequest},
		{"list without brand", EnqueueRequest{Kind: models.JobListScrape}, ErrInvalidRequest},
		{"list with unknown brand", EnqueueRequest{Kind: models.JobListScrape, BrandID: "missing"}, ErrBrandNotFound},
		{"detail without ids", EnqueueRequest{Kind: models.JobDetailScrape}, ErrInvalidRequest},
		{"export with blank id", EnqueueRequest{Kind: models.JobExport, ProductIDs: []string{""}}, ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Enqueue(ctx, tt.req)
			require.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, h.svc.ListJobs(""))
}

func TestEnqueueAssignsIDAndStartsPending(t *testing.T) {
	h := newHarness(t, false)

	id, err := h.svc.Enqueue(context.Background(), EnqueueRequest{Kind: models.JobExport, ProductIDs: []string{h.storedProduct("a")}})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, ok := h.svc.GetJobStatus(id)
	require.True(t, ok)
	assert.Equal(t, models.StatusPending, job.Status)
	assert.Equal(t, models.JobExport, job.Kind)
	assert.Zero(t, job.Progress)

	_, ok = h.svc.GetJobStatus("nope")
	assert.False(t, ok)
}

func TestEnqueueDuplicateIDKeepsOriginal(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	_, err := h.svc.Enqueue(ctx, EnqueueRequest{JobID: "job-1", Kind: models.JobExport, ProductIDs: []string{h.storedProduct("a")}})
	require.NoError(t, err)

	_, err = h.svc.Enqueue(ctx, EnqueueRequest{JobID: "job-1", Kind: models.JobDetailScrape, ProductIDs: []string{h.storedProduct("b")}})
	require.ErrorIs(t, err, ErrDuplicateJob)

	jobs := h.svc.ListJobs("")
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobExport, jobs[0].Kind)
}

func TestListScrapeStoresEveryPage(t *testing.T) {
	h := newHarness(t, true)
	brand := h.brand(t, "Tiles", "https://tiles.test/catalog")

	h.transport.RegisterResponder(http.MethodGet, "https://tiles.test/catalog",
		htmlResponder(tilePage(1, 3, 4)))
	h.transport.RegisterResponderWithQuery(http.MethodGet, "https://tiles.test/catalog", "page=2",
		htmlResponder(tilePage(2, 3, 4)))
	h.transport.RegisterResponderWithQuery(http.MethodGet, "https://tiles.test/catalog", "page=3",
		htmlResponder(tilePage(3, 3, 4)))

	id, err := h.svc.Enqueue(context.Background(), EnqueueRequest{Kind: models.JobListScrape, BrandID: brand.ID})
	require.NoError(t, err)

	job := waitTerminal(t, h.svc, id)
	require.Equal(t, models.StatusCompleted, job.Status, job.Error)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.CompletedAt)

	result, ok := job.Result.(models.ListScrapeResult)
	require.True(t, ok)
	assert.Equal(t, 12, result.Products)
	assert.Equal(t, 3, result.TotalPages)
	assert.Equal(t, 3, result.PagesFetched)
	assert.Zero(t, result.PagesFailed)

	stored := h.svc.ListProducts(store.ProductFilter{BrandID: brand.ID})
	require.Len(t, stored, 12)
	for _, p := range stored {
		assert.Equal(t, models.ProductID(brand.ID, p.URL), p.ID)
	}

	summaries := h.svc.ListBrands()
	require.Len(t, summaries, 1)
	assert.Equal(t, 12, summaries[0].Products)
	assert.True(t, summaries[0].Custom)
}

func TestListScrapeWithDefaultStrategy(t *testing.T) {
	h := newHarness(t, true)
	brand := h.brand(t, "Generic Gold", "https://generic.test/shop")

	h.transport.RegisterResponder(http.MethodGet, "https://generic.test/shop",
		htmlResponder(genericPage(1, 2, 3)))
	h.transport.RegisterResponderWithQuery(http.MethodGet, "https://generic.test/shop", "page=2",
		htmlResponder(genericPage(2, 2, 3)))

	id, err := h.svc.Enqueue(context.Background(), EnqueueRequest{Kind: models.JobListScrape, BrandID: brand.ID})
	require.NoError(t, err)

	job := waitTerminal(t, h.svc, id)
	require.Equal(t, models.StatusCompleted, job.Status, job.Error)

	result, ok := job.Result.(models.ListScrapeResult)
	require.True(t, ok)
	assert.Equal(t, 6, result.Products)
	assert.Equal(t, 2, result.PagesFetched)

	stored := h.svc.ListProducts(store.ProductFilter{BrandID: brand.ID})
	require.Len(t, stored, 6)
	for _, p := range stored {
		assert.Contains(t, p.URL, "https://generic.test/p/ring-")
		assert.NotEmpty(t, p.ImageURL)
		assert.NotEmpty(t, p.Price)
	}

	summaries := h.svc.ListBrands()
	require.Len(t, summaries, 1)
	assert.False(t, summaries[0].Custom)
}

func TestListScrapeWritesSnapshot(t *testing.T) {
	h := newHarness(t, true)
	h.cfg.SnapshotDir = t.TempDir()
	brand := h.brand(t, "Tiles", "https://tiles.test/all")
	h.transport.RegisterResponder(http.MethodGet, "https://tiles.test/all",
		htmlResponder(tilePage(1, 1, 3)))

	id, err := h.svc.Enqueue(context.Background(), EnqueueRequest{Kind: models.JobListScrape, BrandID: brand.ID})
	require.NoError(t, err)
	job := waitTerminal(t, h.svc, id)
	require.Equal(t, models.StatusCompleted, job.Status, job.Error)

	data, err := os.ReadFile(h.cfg.SnapshotDir + "/listing-" + id + ".jsonl")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 3)
}

func TestListScrapeFailsWhenFirstPageFails(t *testing.T) {
	h := newHarness(t, true)
	brand := h.brand(t, "Tiles", "https://tiles.test/gone")
	h.transport.RegisterResponder(http.MethodGet, "https://tiles.test/gone",
		httpmock.NewStringResponder(http.StatusNotFound, "missing"))

	id, err := h.svc.Enqueue(context.Background(), EnqueueRequest{Kind: models.JobListScrape, BrandID: brand.ID})
	require.NoError(t, err)

	job := waitTerminal(t, h.svc, id)
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Contains(t, job.Error, "not_found")
	assert.Zero(t, h.stores.Products.CountByBrand(brand.ID))
}

func TestDetailScrapeCountsMissingAsFailed(t *testing.T) {
	h := newHarness(t, true)
	brand := h.brand(t, "Tiles", "https://tiles.test/catalog")

	var ids []string
	for i := 1; i <= 3; i++ {
		pageURL := fmt.Sprintf("https://tiles.test/p/item-%d", i)
		h.transport.RegisterResponder(http.MethodGet, pageURL,
			htmlResponder(detailPage(fmt.Sprintf("SKU-%d", i))))
		ids = append(ids, h.product(brand.ID, fmt.Sprintf("Item %d", i), pageURL, "10").ID)
	}
	ids = append(ids, "missing-1", "missing-2")

	id, err := h.svc.Enqueue(context.Background(), EnqueueRequest{Kind: models.JobDetailScrape, ProductIDs: ids})
	require.NoError(t, err)

	job := waitTerminal(t, h.svc, id)
	require.Equal(t, models.StatusCompleted, job.Status, job.Error)
	assert.Equal(t, models.DetailScrapeResult{Success: 3, Failed: 2}, job.Result)

	p, err := h.svc.GetProduct(ids[0])
	require.NoError(t, err)
	require.NotNil(t, p.Details)
	assert.Equal(t, "SKU-1", p.Details.SKU)
}

func TestEnqueueRejectsUnknownProducts(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	for _, kind := range []models.JobKind{models.JobDetailScrape, models.JobExport} {
		t.Run(string(kind), func(t *testing.T) {
			id, err := h.svc.Enqueue(ctx, EnqueueRequest{Kind: kind, ProductIDs: []string{"x", "y"}})
			require.ErrorIs(t, err, ErrProductNotFound)
			assert.Empty(t, id)
		})
	}
	assert.Empty(t, h.svc.ListJobs(""))

	id, err := h.svc.Enqueue(ctx, EnqueueRequest{Kind: models.JobExport, ProductIDs: []string{"x", h.storedProduct("known")}})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestExportWritesFile(t *testing.T) {
	h := newHarness(t, true)
	brand := h.brand(t, "Tiles", "https://tiles.test/catalog")
	a := h.product(brand.ID, "Anello", "https://tiles.test/p/a", "€ 49,90")
	b := h.product(brand.ID, "Bracciale", "https://tiles.test/p/b", "")

	id, err := h.svc.Enqueue(context.Background(), EnqueueRequest{
		Kind:       models.JobExport,
		ProductIDs: []string{a.ID, b.ID, "missing"},
		Filename:   "../tiles export.csv",
	})
	require.NoError(t, err)

	job := waitTerminal(t, h.svc, id)
	require.Equal(t, models.StatusCompleted, job.Status, job.Error)

	result, err := h.svc.ExportFile(id)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ProductCount)
	assert.Equal(t, 2, result.RowCount)
	assert.Equal(t, 1, result.Missing)
	assert.NotContains(t, result.Filename, "/")
	assert.True(t, strings.HasPrefix(result.FilePath, h.cfg.ExportDir))

	data, err := os.ReadFile(result.FilePath)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.HasPrefix(text, "\uFEFFHandle,Title,"))
	assert.Contains(t, text, ",Tiles,")
	assert.Contains(t, text, "49.90")
	assert.Contains(t, text, "0.01")
}

func TestExportDefaultFilename(t *testing.T) {
	h := newHarness(t, true)
	brand := h.brand(t, "Tiles", "https://tiles.test/catalog")
	a := h.product(brand.ID, "Anello", "https://tiles.test/p/a", "10")

	id, err := h.svc.Enqueue(context.Background(), EnqueueRequest{Kind: models.JobExport, ProductIDs: []string{a.ID}})
	require.NoError(t, err)
	job := waitTerminal(t, h.svc, id)
	require.Equal(t, models.StatusCompleted, job.Status, job.Error)

	result, err := h.svc.ExportFile(id)
	require.NoError(t, err)
	assert.Equal(t, "products-export-"+id+".csv", result.Filename)
}

func TestExportFileErrors(t *testing.T) {
	h := newHarness(t, false)

	_, err := h.svc.ExportFile("unknown")
	require.ErrorIs(t, err, ErrJobNotFound)

	id, err := h.svc.Enqueue(context.Background(), EnqueueRequest{Kind: models.JobExport, ProductIDs: []string{h.storedProduct("a")}})
	require.NoError(t, err)
	_, err = h.svc.ExportFile(id)
	require.ErrorIs(t, err, ErrJobNotCompleted)

	running := newHarness(t, true)
	brand := running.brand(t, "Tiles", "https://tiles.test/one")
	running.transport.RegisterResponder(http.MethodGet, "https://tiles.test/one",
		htmlResponder(tilePage(1, 1, 1)))
	listID, err := running.svc.Enqueue(context.Background(), EnqueueRequest{Kind: models.JobListScrape, BrandID: brand.ID})
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, waitTerminal(t, running.svc, listID).Status)

	_, err = running.svc.ExportFile(listID)
	require.ErrorIs(t, err, ErrNoExportFile)
}

func TestCancelUnknownJob(t *testing.T) {
	h := newHarness(t, false)
	require.ErrorIs(t, h.svc.Cancel("ghost"), ErrJobNotFound)
}

func TestCancelPendingJobFailsIt(t *testing.T) {
	h := newHarness(t, false)
	id, err := h.svc.Enqueue(context.Background(), EnqueueRequest{Kind: models.JobExport, ProductIDs: []string{h.storedProduct("a")}})
	require.NoError(t, err)
	require.NoError(t, h.svc.Cancel(id))

	h.svc.dispatcher.Start(context.Background())
	t.Cleanup(h.svc.dispatcher.Close)

	job := waitTerminal(t, h.svc, id)
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Equal(t, queue.ErrCancelled.Error(), job.Error)
}

func TestCreateBrandValidatesWebsite(t *testing.T) {
	h := newHarness(t, false)

	_, err := h.svc.CreateBrand(models.Brand{Name: "Nowhere", Website: "not a url"})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.svc.CreateBrand(models.Brand{Name: "Tiles", Website: "https://tiles.test"})
	require.NoError(t, err)
	_, err = h.svc.CreateBrand(models.Brand{Name: "tiles", Website: "https://other.test"})
	require.ErrorIs(t, err, store.ErrExists)
}

func TestAutoScrapeQueuesEmptyActiveBrands(t *testing.T) {
	h := newHarness(t, false)
	h.brand(t, "Empty", "https://empty.test")
	stocked := h.brand(t, "Stocked", "https://stocked.test")
	h.product(stocked.ID, "Item", "https://stocked.test/p/1", "5")
	_, err := h.svc.CreateBrand(models.Brand{Name: "Dormant", Website: "https://dormant.test", Active: false})
	require.NoError(t, err)

	ids, err := h.svc.AutoScrape(context.Background())
	require.NoError(t, err)
	require.Len(t, ids, 1)

	job, ok := h.svc.GetJobStatus(ids[0])
	require.True(t, ok)
	assert.Equal(t, models.JobListScrape, job.Kind)
}

func TestSchedulerAdd(t *testing.T) {
	h := newHarness(t, false)
	brand := h.brand(t, "Tiles", "https://tiles.test")
	sched := NewScheduler(h.svc, nil)

	require.ErrorIs(t, sched.Add("ghost", "0 3 * * *"), ErrBrandNotFound)
	require.Error(t, sched.Add(brand.ID, "every day"))

	require.NoError(t, sched.Add(brand.ID, "0 3 * * *"))
	require.NoError(t, sched.Add(brand.ID, "30 4 * * 1"))
	assert.Equal(t, 1, sched.Len())

	require.NoError(t, sched.Start(context.Background()))
	require.ErrorIs(t, sched.Start(context.Background()), ErrSchedulerStarted)
	sched.Stop()
}

func TestSchedulerFireEnqueuesListScrape(t *testing.T) {
	h := newHarness(t, false)
	brand := h.brand(t, "Tiles", "https://tiles.test")
	sched := NewScheduler(h.svc, nil)

	sched.fire(brand.ID)

	jobs := h.svc.ListJobs(models.JobListScrape)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.StatusPending, jobs[0].Status)
}
