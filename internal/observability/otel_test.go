package observability

import (
	"context"
	"testing"

	"github.com/yungbote/lexicon-backend/internal/platform/logger"
)

func TestParseHeaders(t *testing.T) {
	got := parseHeaders("x-api-key=abc, broken, =nokey,tenant = lexicon")
	if len(got) != 2 || got["x-api-key"] != "abc" || got["tenant"] != "lexicon" {
		t.Fatalf("unexpected headers %v", got)
	}
	if parseHeaders("") != nil {
		t.Fatalf("empty input should give nil")
	}
}

func TestSampleRatioClamps(t *testing.T) {
	t.Setenv("OTEL_SAMPLER_RATIO", "4")
	if r := sampleRatio(); r != 1 {
		t.Fatalf("expected 1, got %v", r)
	}
	t.Setenv("OTEL_SAMPLER_RATIO", "-1")
	if r := sampleRatio(); r != 0 {
		t.Fatalf("expected 0, got %v", r)
	}
}

func TestInitOTelDisabled(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "")
	shutdown := InitOTel(context.Background(), logger.Nop(), OtelConfig{})
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
