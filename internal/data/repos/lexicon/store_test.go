package lexicon

import (
	"context"
	"testing"

	"github.com/yungbote/lexicon-backend/internal/data/repos/testutil"
	types "github.com/yungbote/lexicon-backend/internal/domain"
	"github.com/yungbote/lexicon-backend/internal/platform/apierr"
	"github.com/yungbote/lexicon-backend/internal/platform/dbctx"
)

func TestLexicalUnitStoreFieldAccess(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	frame := testutil.SeedFrame(t, ctx, db, "Motion")
	run := testutil.SeedLexicalUnit(t, ctx, db, "run", "verb", &frame.ID)
	dog := testutil.SeedLexicalUnit(t, ctx, db, "dog", "noun", nil)

	reg := NewRegistry(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx}
	verbs, err := reg.Store(types.KindVerb)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	v, err := verbs.CurrentFieldValue(dbc, run.ID, "frame_id")
	if err != nil || v != frame.ID {
		t.Fatalf("frame_id: %v %v", v, err)
	}
	if _, err := verbs.CurrentFieldValue(dbc, dog.ID, "gloss"); !apierr.IsKind(err, apierr.KindNotFound) {
		t.Fatalf("a noun is not visible through the verb store: %v", err)
	}
	if _, err := verbs.CurrentFieldValue(dbc, run.ID, "countable"); !apierr.IsKind(err, apierr.KindValidation) {
		t.Fatalf("countable is not a verb field: %v", err)
	}

	if err := verbs.WriteFields(dbc, run.ID, map[string]any{"gloss": "move fast", "flagged": true, "frame_id": nil}); err != nil {
		t.Fatalf("write: %v", err)
	}
	snaps, err := verbs.FindByIDs(dbc, []int64{run.ID, dog.ID})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected only the verb, got %d", len(snaps))
	}
	snap := snaps[run.ID]
	if snap["gloss"] != "move fast" || snap["flagged"] != true || snap["frame_id"] != nil {
		t.Fatalf("unexpected snapshot %#v", snap)
	}

	if err := verbs.WriteFields(dbc, run.ID, map[string]any{"pos": "noun"}); !apierr.IsKind(err, apierr.KindValidation) {
		t.Fatalf("pos is read-only: %v", err)
	}
	if err := verbs.WriteFields(dbc, dog.ID, map[string]any{"gloss": "x"}); !apierr.IsKind(err, apierr.KindNotFound) {
		t.Fatalf("expected not found writing a noun through the verb store: %v", err)
	}
}

func TestFrameStoreLookups(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	motion := testutil.SeedFrame(t, ctx, db, "Motion")
	reg := NewRegistry(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx}

	byLabel, err := reg.Frames.IDsByLabel(dbc, []string{" MOTION ", "nothing"})
	if err != nil {
		t.Fatalf("labels: %v", err)
	}
	if byLabel["motion"] != motion.ID || len(byLabel) != 1 {
		t.Fatalf("unexpected label map %v", byLabel)
	}
	exists, err := reg.Frames.ExistingIDs(dbc, []int64{motion.ID, motion.ID + 100})
	if err != nil || !exists[motion.ID] || exists[motion.ID+100] {
		t.Fatalf("unexpected existing ids %v %v", exists, err)
	}
	if _, err := reg.Units(types.KindFrame); err == nil {
		t.Fatalf("frames are not a unit kind")
	}
}

func TestWriteFieldsIfChecksExpectedValues(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dog := testutil.SeedLexicalUnit(t, ctx, db, "dog", "noun", nil)
	reg := NewRegistry(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx}
	nouns, err := reg.Store(types.KindNoun)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	ok, err := nouns.WriteFieldsIf(dbc, dog.ID,
		map[string]any{"gloss": "stale gloss"},
		map[string]any{"gloss": "a loyal animal"})
	if err != nil || ok {
		t.Fatalf("a drifted expected value must not write: ok=%v err=%v", ok, err)
	}
	if v, _ := nouns.CurrentFieldValue(dbc, dog.ID, "gloss"); v != "gloss of dog" {
		t.Fatalf("gloss changed despite the drift: %v", v)
	}

	ok, err = nouns.WriteFieldsIf(dbc, dog.ID,
		map[string]any{"gloss": "gloss of dog", "flagged": false, "frame_id": nil},
		map[string]any{"gloss": "a loyal animal", "flagged": true})
	if err != nil || !ok {
		t.Fatalf("matching expected values should write: ok=%v err=%v", ok, err)
	}
	if v, _ := nouns.CurrentFieldValue(dbc, dog.ID, "flagged"); v != true {
		t.Fatalf("flagged not written: %v", v)
	}

	if ok, err := nouns.WriteFieldsIf(dbc, dog.ID+100, nil, map[string]any{"gloss": "x"}); err != nil || ok {
		t.Fatalf("missing row should report false: ok=%v err=%v", ok, err)
	}
}
