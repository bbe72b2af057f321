package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/lexicon-backend/internal/data/repos"
	types "github.com/yungbote/lexicon-backend/internal/domain"
	lex "github.com/yungbote/lexicon-backend/internal/domain/lexicon"
	"github.com/yungbote/lexicon-backend/internal/platform/apierr"
	"github.com/yungbote/lexicon-backend/internal/platform/dbctx"
	"github.com/yungbote/lexicon-backend/internal/platform/logger"
)

// ProposedChange is a single field edit before its old value has been captured.
type ProposedChange struct {
	EntityID int64
	Field    string
	NewValue any
}

type StageChangesParams struct {
	Kind        lex.EntityKind
	Label       string
	Author      string
	SourceJobID *uuid.UUID
	Changes     []ProposedChange
}

// EditRequest mixes immediate writes with staged ones for the same set of entities.
type EditRequest struct {
	EntityType string         `json:"entityType" validate:"required"`
	IDs        []int64        `json:"ids" validate:"required,min=1,dive,gt=0"`
	Direct     map[string]any `json:"direct"`
	Staged     map[string]any `json:"staged"`
	Label      string         `json:"label"`
	Author     string         `json:"author"`
}

type EditResult struct {
	Direct      int        `json:"direct"`
	ChangesetID *uuid.UUID `json:"changesetId,omitempty"`
	Staged      int        `json:"staged"`
}

type StageResult struct {
	ChangesetID uuid.UUID `json:"changesetId"`
	Staged      int       `json:"staged"`
}

type ApplyResult struct {
	ChangesetID uuid.UUID `json:"changesetId"`
	Applied     int       `json:"applied"`
}

type DeleteChangeResult struct {
	ChangesetID        *uuid.UUID `json:"changesetId,omitempty"`
	ChangesetDiscarded bool       `json:"changesetDiscarded"`
}

type ChangesetDetail struct {
	*types.Changeset
	Changes []*types.FieldChange `json:"changes"`
}

// FieldConflict is one staged change whose recorded old value no longer matches storage.
type FieldConflict struct {
	FieldChangeID uuid.UUID       `json:"fieldChangeId"`
	EntityID      int64           `json:"entityId"`
	Field         string          `json:"field"`
	Expected      json.RawMessage `json:"expected"`
	Actual        json.RawMessage `json:"actual,omitempty"`
	Missing       bool            `json:"missing,omitempty"`
}

// ConflictError is returned by ApplyChangeset when storage drifted. It classifies as a conflict.
type ConflictError struct {
	ChangesetID uuid.UUID
	Conflicts   []FieldConflict
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("%d.%s", c.EntityID, c.Field))
	}
	return fmt.Sprintf("changeset %s conflicts with current values: %s", e.ChangesetID, strings.Join(parts, ", "))
}

func (e *ConflictError) Details() any {
	return map[string]any{"changesetId": e.ChangesetID, "conflicts": e.Conflicts}
}

func (e *ConflictError) Unwrap() error {
	return apierr.Wrap(apierr.KindConflict, "changeset_conflict", errors.New("stale old values"))
}

type ChangesetService interface {
	StageChanges(dbc dbctx.Context, p StageChangesParams) (*StageResult, error)
	StageUpdates(dbc dbctx.Context, kind lex.EntityKind, ids []int64, values map[string]any, author string) (*StageResult, error)
	WriteDirect(dbc dbctx.Context, kind lex.EntityKind, id int64, values map[string]any) error
	SubmitEdits(dbc dbctx.Context, req EditRequest) (*EditResult, error)
	ApplyChangeset(dbc dbctx.Context, id uuid.UUID) (*ApplyResult, error)
	DiscardChangeset(dbc dbctx.Context, id uuid.UUID) (*types.Changeset, error)
	GetChangeset(dbc dbctx.Context, id uuid.UUID) (*ChangesetDetail, error)
	DeleteFieldChange(dbc dbctx.Context, id uuid.UUID) (*DeleteChangeResult, error)
}

type changesetService struct {
	db         *gorm.DB
	log        *logger.Logger
	changesets repos.ChangesetRepo
	changes    repos.FieldChangeRepo
	stores     *repos.EntityRegistry
}

func NewChangesetService(
	db *gorm.DB,
	baseLog *logger.Logger,
	changesets repos.ChangesetRepo,
	changes repos.FieldChangeRepo,
	stores *repos.EntityRegistry,
) ChangesetService {
	return &changesetService{
		db:         db,
		log:        baseLog.With("service", "ChangesetService"),
		changesets: changesets,
		changes:    changes,
		stores:     stores,
	}
}

func (s *changesetService) store(kind lex.EntityKind) (repos.EntityStore, error) {
	st, err := s.stores.Store(kind)
	if err != nil {
		return nil, apierr.Validation("%v", err)
	}
	return st, nil
}

// StageChanges captures the current value of every proposed field and stores the pairs in
// a new staged changeset. Fields without a registered current value are refused.
func (s *changesetService) StageChanges(dbc dbctx.Context, p StageChangesParams) (*StageResult, error) {
	if strings.TrimSpace(p.Author) == "" {
		return nil, apierr.Validation("author is required")
	}
	if len(p.Changes) == 0 {
		return nil, apierr.Validation("no changes to stage")
	}
	st, err := s.store(p.Kind)
	if err != nil {
		return nil, err
	}

	rows := make([]*types.FieldChange, 0, len(p.Changes))
	for _, pc := range p.Changes {
		spec, ok := lex.LookupField(p.Kind, pc.Field)
		if !ok {
			return nil, apierr.Validation("field %q has no current value for %s", pc.Field, p.Kind)
		}
		if !spec.Writable {
			return nil, apierr.Validation("field %q is read-only", pc.Field)
		}
		newRaw, err := spec.Canonical(pc.NewValue)
		if err != nil {
			return nil, apierr.Validation("%v", err)
		}
		current, err := st.CurrentFieldValue(dbc, pc.EntityID, pc.Field)
		if err != nil {
			if apierr.IsKind(err, apierr.KindNotFound) {
				return nil, apierr.Validation("%s %d has no current value for %q", p.Kind, pc.EntityID, pc.Field)
			}
			return nil, err
		}
		oldRaw, err := spec.Canonical(current)
		if err != nil {
			return nil, err
		}
		rows = append(rows, &types.FieldChange{
			ID:         uuid.New(),
			EntityType: string(p.Kind),
			EntityID:   pc.EntityID,
			Field:      pc.Field,
			OldValue:   datatypes.JSON(oldRaw),
			NewValue:   datatypes.JSON(newRaw),
			Author:     p.Author,
		})
	}

	cs := &types.Changeset{
		ID:          uuid.New(),
		Label:       p.Label,
		EntityType:  string(p.Kind),
		Author:      p.Author,
		Status:      types.ChangesetStaged,
		SourceJobID: p.SourceJobID,
	}
	for _, r := range rows {
		id := cs.ID
		r.ChangesetID = &id
	}
	err = inTx(s.db, dbc, func(inner dbctx.Context) error {
		if err := s.changesets.Create(inner, cs); err != nil {
			return err
		}
		return s.changes.CreateBatch(inner, rows)
	})
	if err != nil {
		return nil, apierr.FromStorage(err)
	}
	s.log.Info("changeset staged", "changeset_id", cs.ID, "entity_type", p.Kind, "changes", len(rows))
	return &StageResult{ChangesetID: cs.ID, Staged: len(rows)}, nil
}

// StageUpdates stages one change per (id, field) pair, in id order then field name order.
func (s *changesetService) StageUpdates(dbc dbctx.Context, kind lex.EntityKind, ids []int64, values map[string]any, author string) (*StageResult, error) {
	return s.stageUpdates(dbc, kind, ids, values, author, "staged update")
}

func (s *changesetService) stageUpdates(dbc dbctx.Context, kind lex.EntityKind, ids []int64, values map[string]any, author, label string) (*StageResult, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	changes := make([]ProposedChange, 0, len(ids)*len(names))
	for _, id := range ids {
		for _, name := range names {
			changes = append(changes, ProposedChange{EntityID: id, Field: name, NewValue: values[name]})
		}
	}
	return s.StageChanges(dbc, StageChangesParams{
		Kind:    kind,
		Label:   label,
		Author:  author,
		Changes: changes,
	})
}

func (s *changesetService) WriteDirect(dbc dbctx.Context, kind lex.EntityKind, id int64, values map[string]any) error {
	st, err := s.store(kind)
	if err != nil {
		return err
	}
	return st.WriteFields(dbc, id, values)
}

func (s *changesetService) SubmitEdits(dbc dbctx.Context, req EditRequest) (*EditResult, error) {
	if err := validateParams(req); err != nil {
		return nil, err
	}
	if len(req.Direct) == 0 && len(req.Staged) == 0 {
		return nil, apierr.Validation("nothing to write: both direct and staged are empty")
	}
	kind, err := lex.ParseEntityKind(req.EntityType)
	if err != nil {
		return nil, apierr.Validation("%v", err)
	}
	author := strings.TrimSpace(req.Author)
	if author == "" {
		author = "api"
	}

	out := &EditResult{}
	if len(req.Direct) > 0 {
		err := inTx(s.db, dbc, func(inner dbctx.Context) error {
			for _, id := range req.IDs {
				if err := s.WriteDirect(inner, kind, id, req.Direct); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, apierr.FromStorage(err)
		}
		out.Direct = len(req.IDs) * len(req.Direct)
	}
	if len(req.Staged) > 0 {
		label := req.Label
		if label == "" {
			label = "staged update"
		}
		res, err := s.stageUpdates(dbc, kind, req.IDs, req.Staged, author, label)
		if err != nil {
			return nil, err
		}
		id := res.ChangesetID
		out.ChangesetID = &id
		out.Staged = res.Staged
	}
	return out, nil
}

// ApplyChangeset writes every staged change, or nothing. A change whose old value differs from
// storage aborts the whole apply with a *ConflictError.
func (s *changesetService) ApplyChangeset(dbc dbctx.Context, id uuid.UUID) (*ApplyResult, error) {
	ctx, span := tracer.Start(dbc.Context(), "ApplyChangeset", trace.WithAttributes(attribute.String("changeset_id", id.String())))
	defer span.End()
	dbc.Ctx = ctx
	var applied int
	err := inTx(s.db, dbc, func(inner dbctx.Context) error {
		cs, err := s.changesets.GetByIDForUpdate(inner, id)
		if err != nil {
			return err
		}
		if cs == nil {
			return apierr.NotFound("changeset %s not found", id)
		}
		if cs.Status != types.ChangesetStaged {
			return apierr.Conflict("changeset %s is %s", id, cs.Status)
		}
		changes, err := s.changes.ListByChangeset(inner, id)
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			return apierr.Conflict("changeset %s has no changes", id)
		}

		byEntity := make(map[entityKey]*pendingWrite)
		var order []entityKey
		var conflicts []FieldConflict
		for _, fc := range changes {
			kind, err := lex.ParseEntityKind(fc.EntityType)
			if err != nil {
				return err
			}
			st, err := s.store(kind)
			if err != nil {
				return err
			}
			spec, ok := lex.LookupField(kind, fc.Field)
			if !ok || !spec.Writable {
				return apierr.Validation("field %q cannot be written for %s", fc.Field, kind)
			}
			current, err := st.CurrentFieldValue(inner, fc.EntityID, fc.Field)
			if apierr.IsKind(err, apierr.KindNotFound) {
				conflicts = append(conflicts, FieldConflict{
					FieldChangeID: fc.ID, EntityID: fc.EntityID, Field: fc.Field,
					Expected: json.RawMessage(fc.OldValue), Missing: true,
				})
				continue
			}
			if err != nil {
				return err
			}
			old, err := spec.Decode(fc.OldValue)
			if err != nil {
				return err
			}
			same, err := spec.SameValue(old, current)
			if err != nil {
				return err
			}
			if !same {
				actual, _ := spec.Canonical(current)
				conflicts = append(conflicts, FieldConflict{
					FieldChangeID: fc.ID, EntityID: fc.EntityID, Field: fc.Field,
					Expected: json.RawMessage(fc.OldValue), Actual: actual,
				})
				continue
			}
			next, err := spec.Decode(fc.NewValue)
			if err != nil {
				return err
			}
			key := entityKey{kind: kind, id: fc.EntityID}
			w, ok := byEntity[key]
			if !ok {
				w = &pendingWrite{store: st, expected: map[string]any{}, values: map[string]any{}}
				byEntity[key] = w
				order = append(order, key)
			}
			w.expected[fc.Field] = old
			w.values[fc.Field] = next
			w.changes = append(w.changes, fc)
		}
		if len(conflicts) > 0 {
			return &ConflictError{ChangesetID: id, Conflicts: conflicts}
		}

		// the writes are conditional on the old values, so a commit that lands after the
		// comparison above still aborts the apply
		for _, key := range order {
			w := byEntity[key]
			ok, err := w.store.WriteFieldsIf(inner, key.id, w.expected, w.values)
			if err != nil {
				return err
			}
			if !ok {
				conflicts = append(conflicts, s.driftedChanges(inner, key, w)...)
			}
		}
		if len(conflicts) > 0 {
			return &ConflictError{ChangesetID: id, Conflicts: conflicts}
		}
		moved, err := s.changesets.TransitionStatus(inner, id, []string{types.ChangesetStaged}, types.ChangesetApplied)
		if err != nil {
			return err
		}
		if !moved {
			return apierr.Conflict("changeset %s changed status during apply", id)
		}
		applied = len(changes)
		return nil
	})
	if err != nil {
		var ce *ConflictError
		if errors.As(err, &ce) {
			s.log.Warn("changeset conflict", "changeset_id", id, "conflicts", len(ce.Conflicts))
			return nil, err
		}
		return nil, apierr.FromStorage(err)
	}
	s.log.Info("changeset applied", "changeset_id", id, "changes", applied)
	return &ApplyResult{ChangesetID: id, Applied: applied}, nil
}

type entityKey struct {
	kind lex.EntityKind
	id   int64
}

type pendingWrite struct {
	store    repos.EntityStore
	expected map[string]any
	values   map[string]any
	changes  []*types.FieldChange
}

// driftedChanges reports the changes of a rejected conditional write. When the row is gone or
// the current values cannot be read, every change of the entity is reported.
func (s *changesetService) driftedChanges(dbc dbctx.Context, key entityKey, w *pendingWrite) []FieldConflict {
	var out []FieldConflict
	for _, fc := range w.changes {
		c := FieldConflict{FieldChangeID: fc.ID, EntityID: fc.EntityID, Field: fc.Field, Expected: json.RawMessage(fc.OldValue)}
		current, err := w.store.CurrentFieldValue(dbc, key.id, fc.Field)
		if apierr.IsKind(err, apierr.KindNotFound) {
			c.Missing = true
			out = append(out, c)
			continue
		}
		spec, _ := lex.LookupField(key.kind, fc.Field)
		if err == nil {
			if same, serr := spec.SameValue(w.expected[fc.Field], current); serr == nil && same {
				continue
			}
			c.Actual, _ = spec.Canonical(current)
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		// the row changed and changed back; report the entity rather than nothing
		for _, fc := range w.changes {
			out = append(out, FieldConflict{FieldChangeID: fc.ID, EntityID: fc.EntityID, Field: fc.Field, Expected: json.RawMessage(fc.OldValue)})
		}
	}
	return out
}

func (s *changesetService) DiscardChangeset(dbc dbctx.Context, id uuid.UUID) (*types.Changeset, error) {
	moved, err := s.changesets.TransitionStatus(dbc, id, []string{types.ChangesetStaged}, types.ChangesetDiscarded)
	if err != nil {
		return nil, apierr.FromStorage(err)
	}
	cs, err := s.changesets.GetByID(dbc, id)
	if err != nil {
		return nil, apierr.FromStorage(err)
	}
	if cs == nil {
		return nil, apierr.NotFound("changeset %s not found", id)
	}
	if !moved && cs.Status == types.ChangesetApplied {
		return nil, apierr.Conflict("changeset %s is already applied", id)
	}
	return cs, nil
}

func (s *changesetService) GetChangeset(dbc dbctx.Context, id uuid.UUID) (*ChangesetDetail, error) {
	cs, err := s.changesets.GetByID(dbc, id)
	if err != nil {
		return nil, apierr.FromStorage(err)
	}
	if cs == nil {
		return nil, apierr.NotFound("changeset %s not found", id)
	}
	changes, err := s.changes.ListByChangeset(dbc, id)
	if err != nil {
		return nil, apierr.FromStorage(err)
	}
	return &ChangesetDetail{Changeset: cs, Changes: changes}, nil
}

// DeleteFieldChange removes one staged change. When it was the last one the parent changeset
// is discarded; a changeset that is already discarded and empty reports discarded as well.
func (s *changesetService) DeleteFieldChange(dbc dbctx.Context, id uuid.UUID) (*DeleteChangeResult, error) {
	out := &DeleteChangeResult{}
	err := inTx(s.db, dbc, func(inner dbctx.Context) error {
		fc, err := s.changes.GetByID(inner, id)
		if err != nil {
			return err
		}
		if fc == nil {
			return apierr.NotFound("field change %s not found", id)
		}
		if fc.ChangesetID == nil {
			deleted, err := s.changes.Delete(inner, id)
			if err != nil {
				return err
			}
			if !deleted {
				return apierr.NotFound("field change %s not found", id)
			}
			return nil
		}

		csID := *fc.ChangesetID
		out.ChangesetID = &csID
		cs, err := s.changesets.GetByIDForUpdate(inner, csID)
		if err != nil {
			return err
		}
		if cs != nil && cs.Status == types.ChangesetApplied {
			return apierr.Conflict("changeset %s is applied; its changes cannot be removed", csID)
		}
		deleted, err := s.changes.Delete(inner, id)
		if err != nil {
			return err
		}
		if !deleted {
			return apierr.NotFound("field change %s not found", id)
		}
		remaining, err := s.changes.CountByChangeset(inner, csID)
		if err != nil {
			return err
		}
		if remaining > 0 || cs == nil {
			return nil
		}
		if _, err := s.changesets.TransitionStatus(inner, csID, []string{types.ChangesetStaged}, types.ChangesetDiscarded); err != nil {
			return err
		}
		out.ChangesetDiscarded = true
		return nil
	})
	if err != nil {
		return nil, apierr.FromStorage(err)
	}
	return out, nil
}
