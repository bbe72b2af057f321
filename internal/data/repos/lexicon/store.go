package lexicon

import (
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/lexicon-backend/internal/domain"
	lex "github.com/yungbote/lexicon-backend/internal/domain/lexicon"
	"github.com/yungbote/lexicon-backend/internal/platform/apierr"
	"github.com/yungbote/lexicon-backend/internal/platform/dbctx"
	"github.com/yungbote/lexicon-backend/internal/platform/logger"
)

// Snapshot is an entity's registered fields keyed by field name.
type Snapshot map[string]any

// EntityStore is the capability every entity kind exposes to the job pipeline.
// Implementations only ever touch fields in the kind's registry.
type EntityStore interface {
	Kind() types.EntityKind
	FindByIDs(dbc dbctx.Context, ids []int64) (map[int64]Snapshot, error)
	FindIDsByFilter(dbc dbctx.Context, pred clause.Expression, limit int) ([]int64, error)
	CountByFilter(dbc dbctx.Context, pred clause.Expression) (int64, error)
	CurrentFieldValue(dbc dbctx.Context, id int64, field string) (any, error)
	WriteFields(dbc dbctx.Context, id int64, values map[string]any) error
	// WriteFieldsIf writes values only while every field in expected still holds its expected
	// value. It reports false when the row is gone or any expected value drifted.
	WriteFieldsIf(dbc dbctx.Context, id int64, expected, values map[string]any) (bool, error)
}

type tableStore struct {
	db    *gorm.DB
	log   *logger.Logger
	kind  types.EntityKind
	table string
	pos   string
}

func (s *tableStore) Kind() types.EntityKind { return s.kind }

func (s *tableStore) scoped(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	q := transaction.WithContext(dbc.Context()).Table(s.table)
	if s.pos != "" {
		q = q.Where("pos = ?", s.pos)
	}
	return q
}

func (s *tableStore) columns() []string {
	fields := lex.Fields(s.kind)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, f.Column)
	}
	return out
}

func (s *tableStore) FindByIDs(dbc dbctx.Context, ids []int64) (map[int64]Snapshot, error) {
	out := make(map[int64]Snapshot, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []map[string]any
	if err := s.scoped(dbc).Select(s.columns()).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, apierr.FromStorage(err)
	}
	for _, row := range rows {
		snap, err := s.snapshot(row)
		if err != nil {
			return nil, err
		}
		out[snap["id"].(int64)] = snap
	}
	return out, nil
}

func (s *tableStore) snapshot(row map[string]any) (Snapshot, error) {
	snap := make(Snapshot, len(row))
	for _, f := range lex.Fields(s.kind) {
		v, err := f.Coerce(row[f.Column])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", s.table, f.Column, err)
		}
		snap[f.Name] = v
	}
	return snap, nil
}

func (s *tableStore) FindIDsByFilter(dbc dbctx.Context, pred clause.Expression, limit int) ([]int64, error) {
	q := s.scoped(dbc)
	if pred != nil {
		q = q.Where(pred)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var ids []int64
	if err := q.Order("id ASC").Pluck("id", &ids).Error; err != nil {
		return nil, apierr.FromStorage(err)
	}
	return ids, nil
}

func (s *tableStore) CountByFilter(dbc dbctx.Context, pred clause.Expression) (int64, error) {
	q := s.scoped(dbc)
	if pred != nil {
		q = q.Where(pred)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, apierr.FromStorage(err)
	}
	return n, nil
}

func (s *tableStore) CurrentFieldValue(dbc dbctx.Context, id int64, field string) (any, error) {
	spec, ok := lex.LookupField(s.kind, field)
	if !ok {
		return nil, apierr.Validation("field %q has no current value for %s", field, s.kind)
	}
	var rows []map[string]any
	if err := s.scoped(dbc).Select([]string{spec.Column}).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return nil, apierr.FromStorage(err)
	}
	if len(rows) == 0 {
		return nil, apierr.NotFound("%s %d not found", s.kind, id)
	}
	return spec.Coerce(rows[0][spec.Column])
}

func (s *tableStore) updates(values map[string]any) (map[string]any, error) {
	updates := make(map[string]any, len(values)+1)
	for name, raw := range values {
		spec, ok := lex.LookupField(s.kind, name)
		if !ok || !spec.Writable {
			return nil, apierr.Validation("field %q is not writable for %s", name, s.kind)
		}
		v, err := spec.Coerce(raw)
		if err != nil {
			return nil, apierr.Validation("%v", err)
		}
		updates[spec.Column] = v
	}
	updates["updated_at"] = time.Now().UTC()
	return updates, nil
}

func (s *tableStore) WriteFields(dbc dbctx.Context, id int64, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	updates, err := s.updates(values)
	if err != nil {
		return err
	}
	res := s.scoped(dbc).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return apierr.FromStorage(res.Error)
	}
	if res.RowsAffected == 0 {
		return apierr.NotFound("%s %d not found", s.kind, id)
	}
	return nil
}

func (s *tableStore) WriteFieldsIf(dbc dbctx.Context, id int64, expected, values map[string]any) (bool, error) {
	if len(values) == 0 {
		return true, nil
	}
	updates, err := s.updates(values)
	if err != nil {
		return false, err
	}
	q := s.scoped(dbc).Where("id = ?", id)
	for name, raw := range expected {
		spec, ok := lex.LookupField(s.kind, name)
		if !ok {
			return false, apierr.Validation("field %q is not registered for %s", name, s.kind)
		}
		v, err := spec.Coerce(raw)
		if err != nil {
			return false, apierr.Validation("%v", err)
		}
		// a nil value renders as IS NULL
		q = q.Where(clause.Eq{Column: clause.Column{Name: spec.Column}, Value: v})
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, apierr.FromStorage(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// LexicalUnitStore serves lexical_units, optionally restricted to one part of speech.
type LexicalUnitStore struct {
	tableStore
}

func NewLexicalUnitStore(db *gorm.DB, baseLog *logger.Logger, kind types.EntityKind) *LexicalUnitStore {
	return &LexicalUnitStore{tableStore{
		db:    db,
		log:   baseLog.With("repo", "LexicalUnitStore", "kind", string(kind)),
		kind:  kind,
		table: types.LexicalUnit{}.TableName(),
		pos:   kind.POS(),
	}}
}

// MemberIDs returns units belonging to frameIDs, grouped in frameIDs order and by id within a frame.
func (s *LexicalUnitStore) MemberIDs(dbc dbctx.Context, frameIDs []int64) ([]int64, error) {
	if len(frameIDs) == 0 {
		return []int64{}, nil
	}
	var rows []struct {
		ID      int64
		FrameID int64
	}
	if err := s.scoped(dbc).Select("id, frame_id").Where("frame_id IN ?", frameIDs).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, apierr.FromStorage(err)
	}
	rank := make(map[int64]int, len(frameIDs))
	for i, id := range frameIDs {
		if _, seen := rank[id]; !seen {
			rank[id] = i
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rank[rows[i].FrameID] < rank[rows[j].FrameID] })
	out := make([]int64, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ID)
	}
	return out, nil
}

func (s *LexicalUnitStore) CountMembers(dbc dbctx.Context, frameIDs []int64) (int64, error) {
	if len(frameIDs) == 0 {
		return 0, nil
	}
	var n int64
	if err := s.scoped(dbc).Where("frame_id IN ?", frameIDs).Count(&n).Error; err != nil {
		return 0, apierr.FromStorage(err)
	}
	return n, nil
}

type FrameStore struct {
	tableStore
}

func NewFrameStore(db *gorm.DB, baseLog *logger.Logger) *FrameStore {
	return &FrameStore{tableStore{
		db:    db,
		log:   baseLog.With("repo", "FrameStore"),
		kind:  types.KindFrame,
		table: types.Frame{}.TableName(),
	}}
}

// IDsByLabel maps folded labels to frame ids. Labels with no frame are absent.
func (s *FrameStore) IDsByLabel(dbc dbctx.Context, labels []string) (map[string]int64, error) {
	out := map[string]int64{}
	if len(labels) == 0 {
		return out, nil
	}
	folded := make([]string, 0, len(labels))
	for _, l := range labels {
		folded = append(folded, lex.FoldLabel(l))
	}
	var rows []struct {
		ID    int64
		Label string
	}
	if err := s.scoped(dbc).Select("id, label").Where("LOWER(label) IN ?", folded).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, apierr.FromStorage(err)
	}
	for _, r := range rows {
		key := lex.FoldLabel(r.Label)
		if _, dup := out[key]; !dup {
			out[key] = r.ID
		}
	}
	return out, nil
}

// ExistingIDs returns the subset of ids that name a frame.
func (s *FrameStore) ExistingIDs(dbc dbctx.Context, ids []int64) (map[int64]bool, error) {
	out := map[int64]bool{}
	if len(ids) == 0 {
		return out, nil
	}
	var found []int64
	if err := s.scoped(dbc).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
		return nil, apierr.FromStorage(err)
	}
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}
