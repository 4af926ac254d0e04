package main

import "testing"

func TestEnvFloatAcceptsFractions(t *testing.T) {
	t.Setenv("CATALOG_RPS", "0.25")
	if got := envFloat("CATALOG_RPS", 2); got != 0.25 {
		t.Fatalf("envFloat = %v, want 0.25", got)
	}
	t.Setenv("CATALOG_RPS", "")
	if got := envFloat("CATALOG_RPS", 1.5); got != 1.5 {
		t.Fatalf("envFloat fallback = %v, want 1.5", got)
	}
}
