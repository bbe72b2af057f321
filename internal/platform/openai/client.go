package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yungbote/lexicon-backend/internal/platform/envutil"
	"github.com/yungbote/lexicon-backend/internal/platform/llm"
	"github.com/yungbote/lexicon-backend/internal/platform/logger"
)

// Client talks to the Responses API in background mode. It never retries on its own;
// the batch submitter owns the retry policy.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *logger.Logger
}

var _ llm.Provider = (*Client)(nil)

type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		APIKey:  envutil.String("OPENAI_API_KEY", ""),
		BaseURL: envutil.String("OPENAI_BASE_URL", "https://api.openai.com"),
		Timeout: envutil.Seconds("OPENAI_TIMEOUT_SECONDS", 30),
	}
}

func NewClient(log *logger.Logger, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.With("client", "OpenAIClient"),
	}, nil
}

type openAIHTTPError struct {
	StatusCode int
	Body       string
}

func (e *openAIHTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, truncate(e.Body, 512))
}

func (e *openAIHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

type inputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesRequest struct {
	Model        string            `json:"model"`
	Instructions string            `json:"instructions,omitempty"`
	Input        []inputMessage    `json:"input"`
	Background   bool              `json:"background"`
	Store        bool              `json:"store"`
	ServiceTier  string            `json:"service_tier,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Reasoning    *struct {
		Effort string `json:"effort"`
	} `json:"reasoning,omitempty"`
	Text *struct {
		Format map[string]any `json:"format"`
	} `json:"text,omitempty"`
}

type responsesResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details,omitempty"`
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type    string `json:"type"`
			Text    string `json:"text,omitempty"`
			Refusal string `json:"refusal,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func (c *Client) Submit(ctx context.Context, req llm.Request) (string, error) {
	ctx, span := otel.Tracer("lexicon/openai").Start(ctx, "openai.submit")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", req.Model), attribute.String("llm.custom_id", req.CustomID))

	body := responsesRequest{
		Model:        req.Model,
		Instructions: req.Instructions,
		Input:        []inputMessage{{Role: "user", Content: req.Prompt}},
		Background:   true,
		Store:        true,
		ServiceTier:  req.ServiceTier,
	}
	if req.CustomID != "" {
		body.Metadata = map[string]string{"custom_id": req.CustomID}
	}
	if req.ReasoningEffort != "" {
		body.Reasoning = &struct {
			Effort string `json:"effort"`
		}{Effort: req.ReasoningEffort}
	}
	if req.Schema != nil {
		name := req.SchemaName
		if name == "" {
			name = "result"
		}
		body.Text = &struct {
			Format map[string]any `json:"format"`
		}{Format: map[string]any{
			"type":   "json_schema",
			"name":   name,
			"schema": req.Schema,
			"strict": true,
		}}
	}

	var resp responsesResponse
	if err := c.do(ctx, http.MethodPost, "/v1/responses", body, &resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		return "", llm.Classify(err)
	}
	if resp.ID == "" {
		return "", llm.Classify(fmt.Errorf("openai returned no response id"))
	}
	return resp.ID, nil
}

func (c *Client) Poll(ctx context.Context, handle string) (llm.Status, error) {
	ctx, span := otel.Tracer("lexicon/openai").Start(ctx, "openai.poll")
	defer span.End()

	var resp responsesResponse
	if err := c.do(ctx, http.MethodGet, "/v1/responses/"+handle, nil, &resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "poll failed")
		return llm.Status{}, llm.Classify(err)
	}
	return statusFromResponse(resp), nil
}

func statusFromResponse(resp responsesResponse) llm.Status {
	out := llm.Status{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens}
	switch resp.Status {
	case "queued", "in_progress", "":
		out.State = llm.StatePending
	case "completed":
		text, refusal := extractOutputText(resp)
		if refusal != "" && text == "" {
			out.State = llm.StateFailed
			out.Error = "model refused: " + refusal
			return out
		}
		out.State = llm.StateCompleted
		out.Text = text
	default:
		out.State = llm.StateFailed
		switch {
		case resp.Error != nil && resp.Error.Message != "":
			out.Error = resp.Error.Message
		case resp.IncompleteDetails != nil:
			out.Error = "incomplete: " + resp.IncompleteDetails.Reason
		default:
			out.Error = "response " + resp.Status
		}
	}
	return out
}

func extractOutputText(resp responsesResponse) (string, string) {
	var text, refusal strings.Builder
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		for _, c := range item.Content {
			switch c.Type {
			case "output_text":
				text.WriteString(c.Text)
			case "refusal":
				refusal.WriteString(c.Refusal)
			}
		}
	}
	return text.String(), refusal.String()
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Debug("OpenAI request rejected", "path", path, "status", resp.StatusCode)
		return &openAIHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("openai decode error: %w; raw=%s", err, truncate(string(raw), 256))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
