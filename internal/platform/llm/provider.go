package llm

import (
	"context"
	"errors"

	"github.com/yungbote/lexicon-backend/internal/platform/apierr"
	"github.com/yungbote/lexicon-backend/internal/platform/httpx"
)

// Request is one prompt sent to the provider in background mode.
type Request struct {
	CustomID        string
	Model           string
	Instructions    string
	Prompt          string
	ServiceTier     string
	ReasoningEffort string
	SchemaName      string
	Schema          map[string]any
}

type State string

const (
	StatePending   State = "pending"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Status is what the provider reports for a tracking handle.
type Status struct {
	State        State
	Text         string
	InputTokens  int64
	OutputTokens int64
	Error        string
}

// Provider submits prompts and reports their progress. Submit errors are classified with
// apierr.KindTransientProvider or apierr.KindPermanentProvider.
type Provider interface {
	Submit(ctx context.Context, req Request) (handle string, err error)
	Poll(ctx context.Context, handle string) (Status, error)
}

// Classify wraps err as a transient or permanent provider error. Already-classified errors pass through.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ae *apierr.Error
	if errors.As(err, &ae) && (ae.Kind == apierr.KindTransientProvider || ae.Kind == apierr.KindPermanentProvider) {
		return err
	}
	if httpx.IsRetryableError(err) {
		return apierr.TransientProvider(err)
	}
	return apierr.PermanentProvider(err)
}

func IsTransient(err error) bool {
	return apierr.IsKind(err, apierr.KindTransientProvider)
}
