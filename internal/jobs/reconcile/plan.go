// Package reconcile decides what a poll tick should do with a job. It performs no I/O,
// so the state machine can be exercised without timers or a provider.
package reconcile

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gorm.io/datatypes"

	types "github.com/yungbote/lexicon-backend/internal/domain"
	lex "github.com/yungbote/lexicon-backend/internal/domain/lexicon"
	"github.com/yungbote/lexicon-backend/internal/platform/apierr"
	"github.com/yungbote/lexicon-backend/internal/platform/llm"
)

type ActionKind string

const (
	ActionComplete ActionKind = "complete"
	ActionFail     ActionKind = "fail"
)

// Observation is the provider's answer for one submitted item. Err is set when the poll itself failed.
type Observation struct {
	Status llm.Status
	Err    error
}

type Snapshot struct {
	Job          *types.LLMJob
	Items        []*types.LLMJobItem
	Observations map[uuid.UUID]Observation
	Fields       []lex.FieldSpec
	Schema       *jsonschema.Schema
	// PreconditionErr is set when the job can no longer be processed at all.
	PreconditionErr string
}

type ItemAction struct {
	ItemID       uuid.UUID
	Kind         ActionKind
	Result       json.RawMessage
	Error        string
	InputTokens  int64
	OutputTokens int64
}

type Finalize struct {
	Status string
	Error  string
}

// Decision is the outcome of planning one job.
type Decision struct {
	Actions  []ItemAction
	Finalize *Finalize
}

// Plan turns observations into item transitions and decides whether the job is done.
func Plan(s Snapshot) Decision {
	var out Decision
	if s.Job == nil || types.IsTerminalJob(s.Job.Status) {
		return out
	}

	if s.PreconditionErr != "" {
		for _, it := range s.Items {
			if it.Status == types.ItemStatusSubmitted {
				out.Actions = append(out.Actions, ItemAction{ItemID: it.ID, Kind: ActionFail, Error: s.PreconditionErr})
			}
		}
		out.Finalize = &Finalize{Status: types.JobStatusFailed, Error: s.PreconditionErr}
		return out
	}

	open := 0
	for _, it := range s.Items {
		switch it.Status {
		case types.ItemStatusCompleted, types.ItemStatusFailed:
			continue
		case types.ItemStatusPending:
			open++
			continue
		}
		obs, ok := s.Observations[it.ID]
		if !ok {
			open++
			continue
		}
		act, done := decide(it, obs, s)
		if !done {
			open++
			continue
		}
		out.Actions = append(out.Actions, act)
	}

	if open == 0 {
		if len(s.Items) == 0 {
			out.Finalize = &Finalize{Status: types.JobStatusFailed, Error: "job has no items"}
		} else {
			out.Finalize = &Finalize{Status: types.JobStatusCompleted}
		}
	}
	return out
}

func decide(it *types.LLMJobItem, obs Observation, s Snapshot) (ItemAction, bool) {
	act := ItemAction{ItemID: it.ID, InputTokens: obs.Status.InputTokens, OutputTokens: obs.Status.OutputTokens}
	if obs.Err != nil {
		// a handle the provider rejects outright will never resolve
		if apierr.IsKind(obs.Err, apierr.KindPermanentProvider) {
			act.Kind = ActionFail
			act.Error = obs.Err.Error()
			return act, true
		}
		return act, false
	}
	switch obs.Status.State {
	case llm.StateCompleted:
		values, err := ParseResult(obs.Status.Text, s.Schema, s.Fields)
		if err != nil {
			act.Kind = ActionFail
			act.Error = "invalid result: " + err.Error()
			return act, true
		}
		enc := make(map[string]json.RawMessage, len(values))
		for _, f := range s.Fields {
			raw, err := f.Canonical(values[f.Name])
			if err != nil {
				act.Kind = ActionFail
				act.Error = "invalid result: " + err.Error()
				return act, true
			}
			enc[f.Name] = raw
		}
		b, _ := json.Marshal(enc)
		act.Kind = ActionComplete
		act.Result = b
		return act, true
	case llm.StateFailed:
		act.Kind = ActionFail
		act.Error = obs.Status.Error
		if act.Error == "" {
			act.Error = "provider reported failure"
		}
		return act, true
	default:
		return act, false
	}
}

// Updates returns the column updates for applying a to a submitted item.
func (a ItemAction) Updates(now time.Time) map[string]interface{} {
	u := map[string]interface{}{
		"completed_at":  now,
		"input_tokens":  a.InputTokens,
		"output_tokens": a.OutputTokens,
	}
	switch a.Kind {
	case ActionComplete:
		u["status"] = types.ItemStatusCompleted
		u["result_payload"] = datatypes.JSON(a.Result)
	default:
		u["status"] = types.ItemStatusFailed
		u["error"] = a.Error
	}
	return u
}
