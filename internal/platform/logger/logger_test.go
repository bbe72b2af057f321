package logger

import "testing"

func TestSanitizeKVs(t *testing.T) {
	out := sanitizeKVs([]interface{}{
		"api_key", "sk-live",
		"owner_user_id", "0b7c",
		"input_tokens", 120,
		"job_id", "abc",
	})
	if len(out) != 8 {
		t.Fatalf("expected 8 entries, got %d", len(out))
	}
	if out[1] != "[REDACTED]" {
		t.Fatalf("api_key not redacted: %v", out[1])
	}
	if s, ok := out[3].(string); !ok || len(s) != len("hash:")+12 {
		t.Fatalf("owner_user_id not hashed: %v", out[3])
	}
	if out[5] != 120 {
		t.Fatalf("token counts must pass through, got %v", out[5])
	}
	if out[7] != "abc" {
		t.Fatalf("job_id changed: %v", out[7])
	}
}

func TestSanitizeOddLength(t *testing.T) {
	out := sanitizeKVs([]interface{}{"job_id", "a", "dangling"})
	if len(out) != 3 || out[2] != "dangling" {
		t.Fatalf("unexpected: %v", out)
	}
}
