package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"
)

// Fetcher issues single page requests through a shared colly collector.
type Fetcher struct {
	collector *colly.Collector
	metrics   *Metrics
	logger    *slog.Logger
	rps       float64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewFetcher builds a fetcher configured from cfg.
func NewFetcher(cfg *config.Config, metrics *Metrics, logger *slog.Logger) (*Fetcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.DetectCharset = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	return &Fetcher{
		collector: collector,
		metrics:   metrics,
		logger:    logger,
		rps:       cfg.RequestsPerSecond,
		limiters:  make(map[string]*rate.Limiter),
	}, nil
}

// WithTransport replaces the HTTP transport used for all fetches.
func (f *Fetcher) WithTransport(rt http.RoundTripper) {
	f.collector.WithTransport(rt)
}

// Fetch returns the body of pageURL. Any non-2xx response is an error.
func (f *Fetcher) Fetch(ctx context.Context, pageURL, phase string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.wait(ctx, pageURL); err != nil {
		return nil, err
	}

	c := f.collector.Clone()

	var (
		body   []byte
		status int
	)
	c.OnRequest(func(r *colly.Request) {
		f.metrics.IncRequest(phase)
	})
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	start := time.Now()
	err := c.Visit(pageURL)
	c.Wait()
	f.metrics.ObserveDuration(time.Since(start))

	if err != nil {
		fe := newFetchError(pageURL, phase, err, status)
		f.metrics.IncError(string(fe.Kind))
		f.logger.Debug("fetch failed",
			slog.String("url", pageURL),
			slog.String("phase", phase),
			slog.String("category", string(fe.Kind)),
			slog.Any("error", err),
		)
		return nil, fe
	}
	return body, nil
}

// wait blocks on the per-host limiter when request pacing is enabled.
func (f *Fetcher) wait(ctx context.Context, pageURL string) error {
	if f.rps <= 0 {
		return nil
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	f.mu.Lock()
	limiter, ok := f.limiters[u.Host]
	if !ok {
		burst := int(f.rps)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(f.rps), burst)
		f.limiters[u.Host] = limiter
	}
	f.mu.Unlock()

	return limiter.Wait(ctx)
}
