package lexicon

import (
	"fmt"
	"strings"
	"time"
)

// EntityKind is the closed set of things a job can target.
type EntityKind string

const (
	KindLexicalUnit EntityKind = "lexical_unit"
	KindNoun        EntityKind = "noun"
	KindVerb        EntityKind = "verb"
	KindAdjective   EntityKind = "adjective"
	KindAdverb      EntityKind = "adverb"
	KindFrame       EntityKind = "frame"
)

var allKinds = []EntityKind{KindLexicalUnit, KindNoun, KindVerb, KindAdjective, KindAdverb, KindFrame}

// AllKinds lists every entity kind in a stable order.
func AllKinds() []EntityKind {
	out := make([]EntityKind, len(allKinds))
	copy(out, allKinds)
	return out
}

func ParseEntityKind(raw string) (EntityKind, error) {
	k := EntityKind(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range allKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown entity kind %q", raw)
}

// IsLexicalUnit reports whether k is stored in lexical_units.
func (k EntityKind) IsLexicalUnit() bool {
	switch k {
	case KindLexicalUnit, KindNoun, KindVerb, KindAdjective, KindAdverb:
		return true
	}
	return false
}

// POS returns the part-of-speech restriction for k, or "" when unrestricted.
func (k EntityKind) POS() string {
	switch k {
	case KindNoun, KindVerb, KindAdjective, KindAdverb:
		return string(k)
	}
	return ""
}

type LexicalUnit struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Lemma         string    `gorm:"column:lemma;not null;index" json:"lemma"`
	POS           string    `gorm:"column:pos;not null;index" json:"pos"`
	Gloss         string    `gorm:"column:gloss;type:text" json:"gloss"`
	FrameID       *int64    `gorm:"column:frame_id;index" json:"frame_id,omitempty"`
	Lexfile       string    `gorm:"column:lexfile" json:"lexfile"`
	IsMWE         bool      `gorm:"column:is_mwe;not null;default:false" json:"is_mwe"`
	Flagged       bool      `gorm:"column:flagged;not null;default:false;index" json:"flagged"`
	FlaggedReason *string   `gorm:"column:flagged_reason;type:text" json:"flagged_reason,omitempty"`
	Verifiable    *bool     `gorm:"column:verifiable" json:"verifiable,omitempty"`
	VendlerClass  *string   `gorm:"column:vendler_class" json:"vendler_class,omitempty"`
	Countable     *bool     `gorm:"column:countable" json:"countable,omitempty"`
	Gradable      *bool     `gorm:"column:gradable" json:"gradable,omitempty"`
	Predicative   *bool     `gorm:"column:predicative" json:"predicative,omitempty"`
	CreatedAt     time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (LexicalUnit) TableName() string { return "lexical_units" }

type Frame struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Label           string    `gorm:"column:label;not null;uniqueIndex" json:"label"`
	Definition      string    `gorm:"column:definition;type:text" json:"definition"`
	ShortDefinition string    `gorm:"column:short_definition;type:text" json:"short_definition"`
	Flagged         bool      `gorm:"column:flagged;not null;default:false;index" json:"flagged"`
	FlaggedReason   *string   `gorm:"column:flagged_reason;type:text" json:"flagged_reason,omitempty"`
	CreatedAt       time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Frame) TableName() string { return "frames" }

// FoldLabel is the case folding used for every frame label comparison. Storage compares
// LOWER(label) against folded values.
func FoldLabel(label string) string { return strings.ToLower(strings.TrimSpace(label)) }
