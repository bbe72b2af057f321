package services

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/yungbote/lexicon-backend/internal/data/repos"
	types "github.com/yungbote/lexicon-backend/internal/domain"
	lex "github.com/yungbote/lexicon-backend/internal/domain/lexicon"
	"github.com/yungbote/lexicon-backend/internal/platform/apierr"
	"github.com/yungbote/lexicon-backend/internal/platform/dbctx"
	"github.com/yungbote/lexicon-backend/internal/platform/logger"
)

// WritebackPolicy decides which result fields bypass review. Everything not listed is staged.
type WritebackPolicy struct {
	Direct map[string]map[string]bool
}

func DefaultWritebackPolicy() WritebackPolicy {
	return WritebackPolicy{
		Direct: map[string]map[string]bool{
			types.JobTypeModerate: {"flagged": true, "flagged_reason": true},
		},
	}
}

func (p WritebackPolicy) isDirect(jobType, field string) bool {
	return p.Direct[jobType][field]
}

// Writeback moves completed item results into the lexicon when a job finishes.
type Writeback struct {
	stores     *repos.EntityRegistry
	changesets ChangesetService
	policy     WritebackPolicy
	log        *logger.Logger
}

func NewWriteback(baseLog *logger.Logger, stores *repos.EntityRegistry, changesets ChangesetService, policy WritebackPolicy) *Writeback {
	return &Writeback{
		stores:     stores,
		changesets: changesets,
		policy:     policy,
		log:        baseLog.With("service", "Writeback"),
	}
}

// Apply writes direct fields immediately and stages the rest into one changeset for the job.
// It returns the changeset id, or nil when nothing needed review. Values equal to what is
// already stored are skipped. Entities deleted since submission are skipped with a warning.
func (w *Writeback) Apply(dbc dbctx.Context, job *types.LLMJob, items []*types.LLMJobItem) (*uuid.UUID, error) {
	kind, err := lex.ParseEntityKind(job.EntityType)
	if err != nil {
		return nil, err
	}
	var proposed []ProposedChange
	direct := 0
	for _, it := range items {
		if it.Status != types.ItemStatusCompleted || len(it.ResultPayload) == 0 {
			continue
		}
		var result map[string]json.RawMessage
		if err := json.Unmarshal(it.ResultPayload, &result); err != nil {
			return nil, fmt.Errorf("item %s result: %w", it.ID, err)
		}
		names := make([]string, 0, len(result))
		for name := range result {
			names = append(names, name)
		}
		sort.Strings(names)
		directValues := map[string]any{}
		for _, name := range names {
			raw := result[name]
			spec, ok := lex.LookupField(kind, name)
			if !ok || !spec.Writable {
				continue
			}
			v, err := spec.Decode(raw)
			if err != nil {
				return nil, fmt.Errorf("item %s field %s: %w", it.ID, name, err)
			}
			if w.policy.isDirect(job.JobType, name) {
				directValues[name] = v
				continue
			}
			proposed = append(proposed, ProposedChange{EntityID: it.EntityID, Field: name, NewValue: v})
		}
		if len(directValues) == 0 {
			continue
		}
		if err := w.changesets.WriteDirect(dbc, kind, it.EntityID, directValues); err != nil {
			if apierr.IsKind(err, apierr.KindNotFound) {
				w.log.Warn("writeback target missing", "job_id", job.ID, "entity_id", it.EntityID)
				continue
			}
			return nil, err
		}
		direct += len(directValues)
	}

	proposed, err = w.dropUnchanged(dbc, kind, proposed)
	if err != nil {
		return nil, err
	}
	if len(proposed) == 0 {
		w.log.Info("writeback done", "job_id", job.ID, "direct", direct, "staged", 0)
		return nil, nil
	}
	label := job.Label
	if label == "" {
		label = job.JobType
	}
	res, err := w.changesets.StageChanges(dbc, StageChangesParams{
		Kind:        kind,
		Label:       "llm job: " + label,
		Author:      "llm-job:" + job.ID.String(),
		SourceJobID: &job.ID,
		Changes:     proposed,
	})
	if err != nil {
		return nil, err
	}
	w.log.Info("writeback done", "job_id", job.ID, "direct", direct, "staged", res.Staged, "changeset_id", res.ChangesetID)
	return &res.ChangesetID, nil
}

func (w *Writeback) dropUnchanged(dbc dbctx.Context, kind lex.EntityKind, in []ProposedChange) ([]ProposedChange, error) {
	if len(in) == 0 {
		return in, nil
	}
	st, err := w.stores.Store(kind)
	if err != nil {
		return nil, apierr.Validation("%v", err)
	}
	out := in[:0]
	for _, pc := range in {
		spec, _ := lex.LookupField(kind, pc.Field)
		current, err := st.CurrentFieldValue(dbc, pc.EntityID, pc.Field)
		if apierr.IsKind(err, apierr.KindNotFound) {
			w.log.Warn("writeback target missing", "entity_type", kind, "entity_id", pc.EntityID)
			continue
		}
		if err != nil {
			return nil, err
		}
		same, err := spec.SameValue(current, pc.NewValue)
		if err != nil {
			return nil, err
		}
		if !same {
			out = append(out, pc)
		}
	}
	return out, nil
}
