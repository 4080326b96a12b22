package main

import (
	"testing"
	"time"
)

func TestJitteredIntervalWithSample(t *testing.T) {
	base := 10 * time.Second
	if got := jitteredIntervalWithSample(base, 0, 0.7); got != base {
		t.Fatalf("expected no jitter interval %s, got %s", base, got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 0); got != 8*time.Second {
		t.Fatalf("expected min jitter interval 8s, got %s", got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 0.5); got != 10*time.Second {
		t.Fatalf("expected midpoint jitter interval 10s, got %s", got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 1); got != 12*time.Second {
		t.Fatalf("expected max jitter interval 12s, got %s", got)
	}
}

func TestClampJitterRatio(t *testing.T) {
	if got := clampJitterRatio(-0.5); got != 0 {
		t.Fatalf("expected clamp to 0, got %f", got)
	}
	if got := clampJitterRatio(1.5); got != 1 {
		t.Fatalf("expected clamp to 1, got %f", got)
	}
	if got := clampJitterRatio(0.3); got != 0.3 {
		t.Fatalf("expected 0.3 unchanged, got %f", got)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("RIDESYNC_TEST_STR", "  value  ")
	if got := envOrDefault("RIDESYNC_TEST_STR", "fallback"); got != "value" {
		t.Fatalf("expected trimmed env value, got %q", got)
	}
	if got := envOrDefault("RIDESYNC_TEST_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}

	t.Setenv("RIDESYNC_TEST_INT", "12")
	if got := intEnv("RIDESYNC_TEST_INT", 4); got != 12 {
		t.Fatalf("expected 12, got %d", got)
	}
	t.Setenv("RIDESYNC_TEST_INT", "twelve")
	if got := intEnv("RIDESYNC_TEST_INT", 4); got != 4 {
		t.Fatalf("expected fallback 4 for invalid int, got %d", got)
	}

	t.Setenv("RIDESYNC_TEST_DUR", "250ms")
	if got := durationEnv("RIDESYNC_TEST_DUR", time.Second); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", got)
	}
	t.Setenv("RIDESYNC_TEST_DUR", "soon")
	if got := durationEnv("RIDESYNC_TEST_DUR", time.Second); got != time.Second {
		t.Fatalf("expected fallback 1s for invalid duration, got %s", got)
	}

	t.Setenv("RIDESYNC_TEST_FLOAT", "0.25")
	if got := floatEnv("RIDESYNC_TEST_FLOAT", 0.5); got != 0.25 {
		t.Fatalf("expected 0.25, got %f", got)
	}
}
