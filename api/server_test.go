package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/jobs"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/queue"
	"github.com/aluiziolira/go-scrape-catalog/scraper"
	"github.com/aluiziolira/go-scrape-catalog/store"
	"github.com/gorilla/websocket"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	server     *httptest.Server
	svc        *jobs.Service
	stores     *store.Stores
	dispatcher *queue.Dispatcher
	hub        *Hub
}

func newFixture(t *testing.T, start bool) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.ExportDir = t.TempDir()
	cfg.DetailBatchDelay = 0
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stores := store.New()

	scr, err := scraper.NewScraper(cfg, scraper.NewRegistry(), nil, logger)
	require.NoError(t, err)
	scr.Fetcher().WithTransport(httpmock.NewMockTransport())

	dispatcher := queue.NewDispatcher(stores.Jobs, queue.LanesFromConfig(cfg), cfg.QueueDepth, nil, logger)
	svc, err := jobs.NewService(cfg, stores, scr, dispatcher, logger)
	require.NoError(t, err)

	hub := NewHub(svc.GetJobStatus, logger)
	unsubscribe := dispatcher.Subscribe(hub)

	server := httptest.NewServer(NewServer(svc, hub, logger).Handler())
	t.Cleanup(func() {
		hub.Close()
		server.Close()
		unsubscribe()
		dispatcher.Close()
	})
	if start {
		dispatcher.Start(context.Background())
	}
	return &fixture{server: server, svc: svc, stores: stores, dispatcher: dispatcher, hub: hub}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (f *fixture) seedProduct(t *testing.T) models.Product {
	t.Helper()
	brand, err := f.svc.CreateBrand(models.Brand{Name: "Morellato", Website: "https://www.morellato.com/it/gioielli", Active: true})
	require.NoError(t, err)
	url := "https://www.morellato.com/it/anello-love.htm"
	return f.stores.Products.Upsert(models.Product{
		ID:       models.ProductID(brand.ID, url),
		BrandID:  brand.ID,
		Name:     "Anello Love",
		Type:     "Ring",
		Price:    "€ 39,00",
		ImageURL: "https://www.morellato.com/media/anello.jpg",
		URL:      url,
	})
}

func (f *fixture) waitTerminal(t *testing.T, id string) models.Job {
	t.Helper()
	var job models.Job
	require.Eventually(t, func() bool {
		var ok bool
		job, ok = f.svc.GetJobStatus(id)
		return ok && job.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return job
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, false)
	resp := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]string](t, resp)["status"])
}

func TestEnqueueAndStatus(t *testing.T) {
	f := newFixture(t, false)
	p := f.seedProduct(t)

	resp := f.do(t, http.MethodPost, "/api/jobs", map[string]any{"kind": "export", "product_ids": []string{p.ID}})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	id := decode[map[string]string](t, resp)["job_id"]
	require.NotEmpty(t, id)

	resp = f.do(t, http.MethodGet, "/api/jobs/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	job := decode[models.Job](t, resp)
	assert.Equal(t, models.StatusPending, job.Status)
	assert.Equal(t, models.JobExport, job.Kind)

	resp = f.do(t, http.MethodGet, "/api/jobs?kind=export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]models.Job](t, resp), 1)
}

func TestEnqueueErrors(t *testing.T) {
	f := newFixture(t, false)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"bad kind", map[string]any{"kind": "crawl"}, http.StatusBadRequest},
		{"unknown field", map[string]any{"kind": "export", "ids": []string{"x"}}, http.StatusBadRequest},
		{"missing brand", map[string]any{"kind": "list-scrape", "brand_id": "nope"}, http.StatusNotFound},
		{"unknown products", map[string]any{"kind": "detail-scrape", "product_ids": []string{"x", "y"}}, http.StatusNotFound},
		{"unknown export products", map[string]any{"kind": "export", "product_ids": []string{"x"}}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/api/jobs", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}

	assert.Empty(t, f.svc.ListJobs(""))

	p := f.seedProduct(t)
	body := map[string]any{"job_id": "fixed", "kind": "export", "product_ids": []string{p.ID}}
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/jobs", body).StatusCode)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/jobs", body).StatusCode)
}

func TestJobStatusNotFound(t *testing.T) {
	f := newFixture(t, false)
	resp := f.do(t, http.MethodGet, "/api/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDownloadStatuses(t *testing.T) {
	f := newFixture(t, false)

	resp := f.do(t, http.MethodGet, "/api/jobs/missing/download", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	p := f.seedProduct(t)
	id, err := f.svc.Enqueue(context.Background(), jobs.EnqueueRequest{Kind: models.JobExport, ProductIDs: []string{p.ID}})
	require.NoError(t, err)
	resp = f.do(t, http.MethodGet, "/api/jobs/"+id+"/download", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDownloadCompletedExport(t *testing.T) {
	f := newFixture(t, true)
	p := f.seedProduct(t)

	id, err := f.svc.Enqueue(context.Background(), jobs.EnqueueRequest{
		Kind:       models.JobExport,
		ProductIDs: []string{p.ID},
		Filename:   "morellato.csv",
	})
	require.NoError(t, err)
	job := f.waitTerminal(t, id)
	require.Equal(t, models.StatusCompleted, job.Status, job.Error)

	resp := f.do(t, http.MethodGet, "/api/jobs/"+id+"/download", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="morellato.csv"`, resp.Header.Get("Content-Disposition"))
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/csv"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "\uFEFFHandle,"))
	assert.Contains(t, lines[1], "Anello Love")
	assert.Contains(t, lines[1], "39.00")
}

func TestCancelEndpoint(t *testing.T) {
	f := newFixture(t, false)

	resp := f.do(t, http.MethodPost, "/api/jobs/ghost/cancel", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	p := f.seedProduct(t)
	id, err := f.svc.Enqueue(context.Background(), jobs.EnqueueRequest{Kind: models.JobExport, ProductIDs: []string{p.ID}})
	require.NoError(t, err)
	resp = f.do(t, http.MethodPost, "/api/jobs/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	f.dispatcher.Start(context.Background())
	job := f.waitTerminal(t, id)
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Equal(t, "job cancelled", job.Error)

	resp = f.do(t, http.MethodPost, "/api/jobs/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestBrandsAndProducts(t *testing.T) {
	f := newFixture(t, false)

	resp := f.do(t, http.MethodPost, "/api/brands", map[string]any{"name": "S'Agapõ", "website": "https://www.sagapo.it/gioielli"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[models.Brand](t, resp)
	assert.True(t, created.Active)

	resp = f.do(t, http.MethodPost, "/api/brands", map[string]any{"name": "s'agapõ", "website": "https://www.sagapo.it"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp = f.do(t, http.MethodPost, "/api/brands", map[string]any{"name": "Bad", "website": "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	p := f.seedProduct(t)

	resp = f.do(t, http.MethodGet, "/api/brands", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]jobs.BrandSummary](t, resp), 2)

	resp = f.do(t, http.MethodGet, "/api/products?brand_id="+p.BrandID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	products := decode[[]models.Product](t, resp)
	require.Len(t, products, 1)
	assert.Equal(t, p.ID, products[0].ID)

	resp = f.do(t, http.MethodGet, "/api/products/"+p.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = f.do(t, http.MethodGet, "/api/products/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebsocketStreamsJobUpdates(t *testing.T) {
	f := newFixture(t, false)
	p := f.seedProduct(t)

	id, err := f.svc.Enqueue(context.Background(), jobs.EnqueueRequest{Kind: models.JobExport, ProductIDs: []string{p.ID}})
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/ws?job_id=" + id
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var first Message
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "job_update", first.Type)
	assert.Equal(t, id, first.Payload.ID)
	assert.Equal(t, models.StatusPending, first.Payload.Status)

	f.dispatcher.Start(context.Background())

	progress := first.Payload.Progress
	for {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		require.Equal(t, id, msg.Payload.ID)
		require.GreaterOrEqual(t, msg.Payload.Progress, progress)
		progress = msg.Payload.Progress
		if msg.Payload.Status.Terminal() {
			assert.Equal(t, models.StatusCompleted, msg.Payload.Status)
			assert.Equal(t, 100, msg.Payload.Progress)
			break
		}
	}
}

func TestHubDropsForSlowClients(t *testing.T) {
	hub := NewHub(nil, nil)
	c := &client{jobID: "", send: make(chan Message, 1), done: make(chan struct{})}
	hub.clients[c] = struct{}{}

	hub.JobUpdated(models.Job{ID: "a"})
	hub.JobUpdated(models.Job{ID: "a"})

	assert.Len(t, c.send, 1)
	assert.Equal(t, int64(1), hub.Dropped())
}

func TestHubGreetingNeverBlocks(t *testing.T) {
	job := models.Job{ID: "j1", Status: models.StatusActive}
	hub := NewHub(func(id string) (models.Job, bool) { return job, id == job.ID }, nil)
	c := &client{jobID: "j1", send: make(chan Message, 1), done: make(chan struct{})}
	hub.clients[c] = struct{}{}

	// Updates that raced the greeting already fill the buffer.
	hub.JobUpdated(job)

	done := make(chan struct{})
	go func() {
		hub.greet(c)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("greet blocked on a full client buffer")
	}
	assert.Len(t, c.send, 1)
	assert.Equal(t, int64(1), hub.Dropped())

	other := &client{jobID: "j1", send: make(chan Message, 1), done: make(chan struct{})}
	hub.greet(other)
	require.Len(t, other.send, 1)
	assert.Equal(t, models.StatusActive, (<-other.send).Payload.Status)
}
