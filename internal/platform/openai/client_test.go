package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/yungbote/lexicon-backend/internal/platform/apierr"
	"github.com/yungbote/lexicon-backend/internal/platform/llm"
	"github.com/yungbote/lexicon-backend/internal/platform/logger"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(logger.Nop(), Config{APIKey: "sk-test", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestSubmitSendsBackgroundRequest(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/responses" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"id":"resp_123","status":"queued"}`))
	})
	handle, err := c.Submit(context.Background(), llm.Request{
		CustomID:        "item-1",
		Model:           "gpt-5-mini",
		Prompt:          "classify run",
		ServiceTier:     "flex",
		ReasoningEffort: "low",
		Schema:          map[string]any{"type": "object"},
	})
	if err != nil || handle != "resp_123" {
		t.Fatalf("Submit: %q %v", handle, err)
	}
	if got["background"] != true || got["service_tier"] != "flex" {
		t.Fatalf("unexpected body %v", got)
	}
	if _, ok := got["text"].(map[string]any)["format"]; !ok {
		t.Fatalf("schema not sent: %v", got)
	}
}

func TestSubmitClassifiesErrors(t *testing.T) {
	cases := []struct {
		status int
		want   apierr.Kind
	}{
		{http.StatusTooManyRequests, apierr.KindTransientProvider},
		{http.StatusServiceUnavailable, apierr.KindTransientProvider},
		{http.StatusBadRequest, apierr.KindPermanentProvider},
		{http.StatusUnauthorized, apierr.KindPermanentProvider},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
		})
		_, err := c.Submit(context.Background(), llm.Request{Model: "m", Prompt: "p"})
		if got := apierr.KindOf(err); got != tc.want {
			t.Fatalf("status %d: expected %s, got %s", tc.status, tc.want, got)
		}
	}
}

func TestPollMapsStatuses(t *testing.T) {
	bodies := map[string]string{
		"pending":   `{"id":"r","status":"in_progress"}`,
		"completed": `{"id":"r","status":"completed","output":[{"type":"message","role":"assistant","content":[{"type":"output_text","text":"{\"gloss\":\"x\"}"}]}],"usage":{"input_tokens":12,"output_tokens":5}}`,
		"failed":    `{"id":"r","status":"failed","error":{"code":"server_error","message":"boom"}}`,
		"refused":   `{"id":"r","status":"completed","output":[{"type":"message","content":[{"type":"refusal","refusal":"no"}]}]}`,
	}
	want := map[string]llm.State{"pending": llm.StatePending, "completed": llm.StateCompleted, "failed": llm.StateFailed, "refused": llm.StateFailed}
	for name, body := range bodies {
		body := body
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet || r.URL.Path != "/v1/responses/resp_9" {
				t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			}
			_, _ = w.Write([]byte(body))
		})
		st, err := c.Poll(context.Background(), "resp_9")
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if st.State != want[name] {
			t.Fatalf("%s: expected %s, got %s", name, want[name], st.State)
		}
		if name == "completed" && (st.Text != `{"gloss":"x"}` || st.InputTokens != 12 || st.OutputTokens != 5) {
			t.Fatalf("unexpected completed status %+v", st)
		}
		if name == "failed" && st.Error != "boom" {
			t.Fatalf("expected provider error text, got %q", st.Error)
		}
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(logger.Nop(), Config{}); err == nil {
		t.Fatalf("expected missing key error")
	}
}
