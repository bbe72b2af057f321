package testutil

import (
	"context"
	"testing"

	types "github.com/yungbote/lexicon-backend/internal/domain"
	"gorm.io/gorm"
)

func SeedFrame(tb testing.TB, ctx context.Context, tx *gorm.DB, label string) *types.Frame {
	tb.Helper()
	f := &types.Frame{
		Label:           label,
		Definition:      label + " definition",
		ShortDefinition: label,
	}
	if err := tx.WithContext(ctx).Create(f).Error; err != nil {
		tb.Fatalf("seed frame: %v", err)
	}
	return f
}

func SeedLexicalUnit(tb testing.TB, ctx context.Context, tx *gorm.DB, lemma, pos string, frameID *int64) *types.LexicalUnit {
	tb.Helper()
	lu := &types.LexicalUnit{
		Lemma:   lemma,
		POS:     pos,
		Gloss:   "gloss of " + lemma,
		FrameID: frameID,
		Lexfile: pos + ".all",
	}
	if err := tx.WithContext(ctx).Create(lu).Error; err != nil {
		tb.Fatalf("seed lexical unit: %v", err)
	}
	return lu
}

// SeedLexicalUnits creates n units of pos named lemma0..lemmaN-1 and returns them in id order.
func SeedLexicalUnits(tb testing.TB, ctx context.Context, tx *gorm.DB, pos string, n int) []*types.LexicalUnit {
	tb.Helper()
	out := make([]*types.LexicalUnit, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, SeedLexicalUnit(tb, ctx, tx, pos+"_"+string(rune('a'+i)), pos, nil))
	}
	return out
}
