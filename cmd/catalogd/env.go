package main

import (
	"fmt"
	"os"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/config"
)

// Flag defaults read from the environment. A malformed value is fatal.

func envString(key, fallback string) string {
	if value, ok := config.EnvString(key); ok {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	value, ok, err := config.EnvInt(key)
	if err != nil {
		fatalEnv(key, err)
	}
	if !ok {
		return fallback
	}
	return value
}

func envFloat(key string, fallback float64) float64 {
	value, ok, err := config.EnvFloat(key)
	if err != nil {
		fatalEnv(key, err)
	}
	if !ok {
		return fallback
	}
	return value
}

func envBool(key string, fallback bool) bool {
	value, ok, err := config.EnvBool(key)
	if err != nil {
		fatalEnv(key, err)
	}
	if !ok {
		return fallback
	}
	return value
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value, ok, err := config.EnvDuration(key)
	if err != nil {
		fatalEnv(key, err)
	}
	if !ok {
		return fallback
	}
	return value
}

func fatalEnv(key string, err error) {
	fmt.Fprintf(os.Stderr, "invalid %s: %v\n", key, err)
	os.Exit(1)
}
