package config

import (
	"fmt"
	"time"
)

// RetryPolicy configures job-level retries for one job kind.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// Config holds process configuration.
type Config struct {
	ListenAddr  string
	MetricsAddr string
	SitesFile   string
	ExportDir   string
	SnapshotDir string

	MaxPages          int
	Parallelism       int
	Delay             time.Duration
	RandomDelay       time.Duration
	Timeout           time.Duration
	RequestsPerSecond float64
	UserAgent         string
	RespectRobotsTxt  bool

	DetailBatchSize  int
	DetailBatchDelay time.Duration

	ListConcurrency   int
	DetailConcurrency int
	ExportConcurrency int
	QueueDepth        int
	ListRetry         RetryPolicy
	DetailRetry       RetryPolicy
	ExportRetry       RetryPolicy

	PipelineWorkers int
	BatchSize       int
	DedupeMaxSize   int

	AutoScrape bool
	Verbose    bool
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:  ":8080",
		MetricsAddr: ":9090",
		SitesFile:   "configs/sites.yaml",
		ExportDir:   "exports",

		MaxPages:          500,
		Parallelism:       16,
		Delay:             0,
		RandomDelay:       0,
		Timeout:           20 * time.Second,
		RequestsPerSecond: 0,
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		RespectRobotsTxt:  false,

		DetailBatchSize:  5,
		DetailBatchDelay: time.Second,

		ListConcurrency:   1,
		DetailConcurrency: 2,
		ExportConcurrency: 3,
		QueueDepth:        1024,
		ListRetry:         RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Multiplier: 2, MaxDelay: time.Minute},
		DetailRetry:       RetryPolicy{MaxAttempts: 2, BaseDelay: time.Second, Multiplier: 2, MaxDelay: 30 * time.Second},
		ExportRetry:       RetryPolicy{MaxAttempts: 1, BaseDelay: time.Second, Multiplier: 2, MaxDelay: 30 * time.Second},

		PipelineWorkers: 2,
		BatchSize:       64,
		DedupeMaxSize:   100000,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.ExportDir == "" {
		return fmt.Errorf("export dir cannot be empty")
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second cannot be negative")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.DetailBatchSize <= 0 {
		return fmt.Errorf("detail batch size must be positive")
	}
	if c.DetailBatchDelay < 0 {
		return fmt.Errorf("detail batch delay cannot be negative")
	}
	if c.ListConcurrency <= 0 || c.DetailConcurrency <= 0 || c.ExportConcurrency <= 0 {
		return fmt.Errorf("queue concurrency must be positive")
	}
	if c.QueueDepth <= 0 {
		return fmt.Errorf("queue depth must be positive")
	}
	for name, policy := range map[string]RetryPolicy{"list": c.ListRetry, "detail": c.DetailRetry, "export": c.ExportRetry} {
		if err := policy.validate(); err != nil {
			return fmt.Errorf("%s retry: %w", name, err)
		}
	}
	if c.PipelineWorkers <= 0 {
		return fmt.Errorf("pipeline workers must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	return nil
}

func (p RetryPolicy) validate() error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("base delay cannot be negative")
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1")
	}
	if p.MaxDelay > 0 && p.BaseDelay > p.MaxDelay {
		return fmt.Errorf("base delay (%s) cannot exceed max delay (%s)", p.BaseDelay, p.MaxDelay)
	}
	return nil
}
