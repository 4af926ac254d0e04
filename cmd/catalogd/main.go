package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/api"
	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/jobs"
	"github.com/aluiziolira/go-scrape-catalog/queue"
	"github.com/aluiziolira/go-scrape-catalog/scraper"
	"github.com/aluiziolira/go-scrape-catalog/sites"
	"github.com/aluiziolira/go-scrape-catalog/store"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	defaultCfg := config.DefaultConfig()

	listenAddr := flag.String("addr", envString("CATALOG_ADDR", defaultCfg.ListenAddr), "HTTP API listen address")
	metricsAddr := flag.String("metrics-addr", envString("CATALOG_METRICS_ADDR", defaultCfg.MetricsAddr), "Prometheus metrics listen address (empty disables)")
	sitesFile := flag.String("sites", envString("CATALOG_SITES", defaultCfg.SitesFile), "Sites file with seed brands and strategies")
	exportDir := flag.String("export-dir", envString("CATALOG_EXPORT_DIR", defaultCfg.ExportDir), "Directory for CSV exports")
	snapshotDir := flag.String("snapshot-dir", envString("CATALOG_SNAPSHOT_DIR", ""), "Directory for JSONL listing snapshots (empty disables)")
	maxPages := flag.Int("pages", envInt("CATALOG_MAX_PAGES", defaultCfg.MaxPages), "Maximum listing pages per brand")
	parallelism := flag.Int("parallel", envInt("CATALOG_PARALLEL", defaultCfg.Parallelism), "Concurrent requests per host")
	delay := flag.Duration("delay", envDuration("CATALOG_DELAY", defaultCfg.Delay), "Delay between requests to one host")
	randomDelay := flag.Duration("random-delay", envDuration("CATALOG_RANDOM_DELAY", defaultCfg.RandomDelay), "Random jitter added to delay")
	timeout := flag.Duration("timeout", envDuration("CATALOG_TIMEOUT", defaultCfg.Timeout), "Per-request timeout")
	rps := flag.Float64("rps", envFloat("CATALOG_RPS", defaultCfg.RequestsPerSecond), "Requests per second per host (0 = unlimited)")
	respectRobots := flag.Bool("respect-robots", envBool("CATALOG_RESPECT_ROBOTS", defaultCfg.RespectRobotsTxt), "Respect robots.txt directives")
	batchDelay := flag.Duration("detail-batch-delay", envDuration("CATALOG_DETAIL_BATCH_DELAY", defaultCfg.DetailBatchDelay), "Pause between detail batches")
	autoScrape := flag.Bool("auto-scrape", envBool("CATALOG_AUTO_SCRAPE", false), "Scrape active brands without products at startup")
	verbose := flag.Bool("v", envBool("CATALOG_VERBOSE", false), "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := defaultCfg
	cfg.ListenAddr = *listenAddr
	cfg.MetricsAddr = *metricsAddr
	cfg.SitesFile = *sitesFile
	cfg.ExportDir = *exportDir
	cfg.SnapshotDir = *snapshotDir
	cfg.MaxPages = *maxPages
	cfg.Parallelism = *parallelism
	cfg.Delay = *delay
	cfg.RandomDelay = *randomDelay
	cfg.Timeout = *timeout
	cfg.RequestsPerSecond = *rps
	cfg.RespectRobotsTxt = *respectRobots
	cfg.DetailBatchDelay = *batchDelay
	cfg.AutoScrape = *autoScrape
	cfg.Verbose = *verbose
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("catalogd failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	strategies := scraper.NewRegistry()
	sites.Register(strategies)

	stores := store.New()
	seeded, err := seedSites(cfg.SitesFile, stores, strategies, logger)
	if err != nil {
		return err
	}

	scr, err := scraper.NewScraper(cfg, strategies, scraper.NewMetrics(registry), logger)
	if err != nil {
		return fmt.Errorf("initialise scraper: %w", err)
	}

	dispatcher := queue.NewDispatcher(stores.Jobs, queue.LanesFromConfig(cfg), cfg.QueueDepth, queue.NewMetrics(registry), logger)
	svc, err := jobs.NewService(cfg, stores, scr, dispatcher, logger)
	if err != nil {
		return err
	}

	hub := api.NewHub(svc.GetJobStatus, logger)
	unsubscribe := dispatcher.Subscribe(hub)
	defer unsubscribe()

	scheduler := jobs.NewScheduler(svc, logger)
	for _, s := range seeded {
		if s.schedule == "" {
			continue
		}
		if err := scheduler.Add(s.brandID, s.schedule); err != nil {
			return err
		}
	}

	dispatcher.Start(ctx)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	if cfg.AutoScrape {
		ids, err := svc.AutoScrape(ctx)
		if err != nil {
			slog.Warn("auto scrape incomplete", slog.Any("error", err))
		}
		slog.Info("auto scrape queued", slog.Int("jobs", len(ids)))
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	apiServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(svc, hub, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	slog.Info("api server listening",
		slog.String("addr", cfg.ListenAddr),
		slog.Int("brands", len(stores.Brands.List())),
		slog.Int("schedules", scheduler.Len()),
	)

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	case err := <-serveErr:
		runErr = fmt.Errorf("api server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	scheduler.Stop()
	hub.Close()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("api server shutdown failed", slog.Any("error", err))
	}
	dispatcher.Close()
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}
	return runErr
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
