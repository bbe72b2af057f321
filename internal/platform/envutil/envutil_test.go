package envutil

import (
	"testing"
	"time"
)

func TestInt(t *testing.T) {
	t.Setenv("LLM_SUBMIT_MAX_ATTEMPTS", "5")
	if got := Int("LLM_SUBMIT_MAX_ATTEMPTS", 3); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
	t.Setenv("LLM_SUBMIT_MAX_ATTEMPTS", "five")
	if got := Int("LLM_SUBMIT_MAX_ATTEMPTS", 3); got != 3 {
		t.Fatalf("expected default on parse failure, got %d", got)
	}
}

func TestBool(t *testing.T) {
	cases := map[string]bool{"on": true, "0": false, "bogus": true, "": true}
	for raw, want := range cases {
		t.Setenv("OTEL_ENABLED", raw)
		if got := Bool("OTEL_ENABLED", true); got != want {
			t.Fatalf("Bool(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestDurations(t *testing.T) {
	t.Setenv("LLM_BATCH_TIMEOUT_SECONDS", "-4")
	if got := Seconds("LLM_BATCH_TIMEOUT_SECONDS", 55); got != 0 {
		t.Fatalf("negative seconds should clamp to 0, got %s", got)
	}
	t.Setenv("LLM_SUBMIT_BACKOFF_MS", "250")
	if got := Millis("LLM_SUBMIT_BACKOFF_MS", 1000); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", got)
	}
}
