package lexicon

import (
	"gorm.io/gorm"

	types "github.com/yungbote/lexicon-backend/internal/domain"
	lex "github.com/yungbote/lexicon-backend/internal/domain/lexicon"
	"github.com/yungbote/lexicon-backend/internal/platform/apierr"
	"github.com/yungbote/lexicon-backend/internal/platform/logger"
)

// Registry holds one store per entity kind.
type Registry struct {
	Frames *FrameStore
	units  map[types.EntityKind]*LexicalUnitStore
}

func NewRegistry(db *gorm.DB, baseLog *logger.Logger) *Registry {
	r := &Registry{
		Frames: NewFrameStore(db, baseLog),
		units:  map[types.EntityKind]*LexicalUnitStore{},
	}
	for _, k := range lex.AllKinds() {
		if k.IsLexicalUnit() {
			r.units[k] = NewLexicalUnitStore(db, baseLog, k)
		}
	}
	return r
}

func (r *Registry) Store(kind types.EntityKind) (EntityStore, error) {
	if kind == types.KindFrame {
		return r.Frames, nil
	}
	if s, ok := r.units[kind]; ok {
		return s, nil
	}
	return nil, apierr.Validation("unknown entity kind %q", kind)
}

func (r *Registry) Units(kind types.EntityKind) (*LexicalUnitStore, error) {
	if s, ok := r.units[kind]; ok {
		return s, nil
	}
	return nil, apierr.Validation("%q is not a lexical unit kind", kind)
}
