package config

import (
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "negative parallelism",
			mutate: func(cfg *Config) {
				cfg.Parallelism = -1
			},
			wantErr: "parallelism",
		},
		{
			name: "empty listen address",
			mutate: func(cfg *Config) {
				cfg.ListenAddr = ""
			},
			wantErr: "listen address",
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.Timeout = -1 * time.Second
			},
			wantErr: "timeout",
		},
		{
			name: "zero detail batch",
			mutate: func(cfg *Config) {
				cfg.DetailBatchSize = 0
			},
			wantErr: "detail batch size",
		},
		{
			name: "zero export concurrency",
			mutate: func(cfg *Config) {
				cfg.ExportConcurrency = 0
			},
			wantErr: "concurrency",
		},
		{
			name: "retry without attempts",
			mutate: func(cfg *Config) {
				cfg.ListRetry.MaxAttempts = 0
			},
			wantErr: "list retry",
		},
		{
			name: "retry base above max",
			mutate: func(cfg *Config) {
				cfg.DetailRetry.BaseDelay = time.Minute
				cfg.DetailRetry.MaxDelay = time.Second
			},
			wantErr: "detail retry",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
	if cfg.ListRetry.MaxAttempts <= cfg.ExportRetry.MaxAttempts {
		t.Fatalf("list scrapes should retry more than exports")
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("CATALOG_TEST_INT", "42")
	t.Setenv("CATALOG_TEST_BAD", "forty")
	t.Setenv("CATALOG_TEST_DUR", "1500ms")
	t.Setenv("CATALOG_TEST_BOOL", "true")
	t.Setenv("CATALOG_TEST_BLANK", "   ")
	t.Setenv("CATALOG_TEST_RPS", "0.5")

	if v, ok, err := EnvInt("CATALOG_TEST_INT"); err != nil || !ok || v != 42 {
		t.Fatalf("EnvInt = %d,%v,%v", v, ok, err)
	}
	if _, _, err := EnvInt("CATALOG_TEST_BAD"); err == nil {
		t.Fatalf("EnvInt should reject non-numeric values")
	}
	if v, ok, err := EnvDuration("CATALOG_TEST_DUR"); err != nil || !ok || v != 1500*time.Millisecond {
		t.Fatalf("EnvDuration = %v,%v,%v", v, ok, err)
	}
	if v, ok, err := EnvBool("CATALOG_TEST_BOOL"); err != nil || !ok || !v {
		t.Fatalf("EnvBool = %v,%v,%v", v, ok, err)
	}
	if v, ok, err := EnvFloat("CATALOG_TEST_RPS"); err != nil || !ok || v != 0.5 {
		t.Fatalf("EnvFloat = %v,%v,%v", v, ok, err)
	}
	if _, _, err := EnvFloat("CATALOG_TEST_BAD"); err == nil {
		t.Fatalf("EnvFloat should reject non-numeric values")
	}
	if _, ok, err := EnvFloat("CATALOG_TEST_UNSET"); err != nil || ok {
		t.Fatalf("EnvFloat on unset key = %v,%v", ok, err)
	}
	if _, ok := EnvString("CATALOG_TEST_BLANK"); ok {
		t.Fatalf("blank values should be treated as unset")
	}
}
