package scope

import (
	"sort"
	"strconv"
	"strings"

	lexrepo "github.com/yungbote/lexicon-backend/internal/data/repos/lexicon"
	lex "github.com/yungbote/lexicon-backend/internal/domain/lexicon"
	"github.com/yungbote/lexicon-backend/internal/lexicon/filter"
	"github.com/yungbote/lexicon-backend/internal/platform/apierr"
	"github.com/yungbote/lexicon-backend/internal/platform/dbctx"
	"github.com/yungbote/lexicon-backend/internal/platform/logger"
)

type Target struct {
	Kind lex.EntityKind `json:"entity_type"`
	ID   int64          `json:"entity_id"`
}

type Resolution struct {
	Kind    lex.EntityKind
	Targets []Target
	Count   int
}

// Resolver turns scope specs into ordered targets. It never writes.
type Resolver struct {
	stores *lexrepo.Registry
	log    *logger.Logger
}

func NewResolver(stores *lexrepo.Registry, baseLog *logger.Logger) *Resolver {
	return &Resolver{stores: stores, log: baseLog.With("service", "ScopeResolver")}
}

// Count reports how many targets Resolve would return, without loading them.
func (r *Resolver) Count(dbc dbctx.Context, spec Spec) (int, error) {
	spec, err := spec.Normalize()
	if err != nil {
		return 0, err
	}
	switch spec.Kind {
	case KindIDs:
		return clamp(len(spec.IDs), spec.Limit), nil
	case KindFrameIDs:
		frameIDs, err := r.frameIDs(dbc, spec.FrameRefs)
		if err != nil {
			return 0, err
		}
		if !spec.IncludeVerbs {
			return clamp(len(frameIDs), spec.Limit), nil
		}
		units, err := r.stores.Units(spec.POS)
		if err != nil {
			return 0, apierr.ScopeResolution("%v", err)
		}
		n, err := units.CountMembers(dbc, frameIDs)
		if err != nil {
			return 0, err
		}
		return clamp(int(n), spec.Limit), nil
	default:
		compiled, store, err := r.compile(spec)
		if err != nil {
			return 0, err
		}
		n, err := store.CountByFilter(dbc, compiled.Predicate)
		if err != nil {
			return 0, err
		}
		return clamp(int(n), effectiveLimit(compiled.Limit, spec.Limit)), nil
	}
}

func (r *Resolver) Resolve(dbc dbctx.Context, spec Spec) (*Resolution, error) {
	spec, err := spec.Normalize()
	if err != nil {
		return nil, err
	}
	kind := spec.TargetKind()
	var ids []int64
	switch spec.Kind {
	case KindIDs:
		ids = spec.IDs
		if spec.Limit > 0 && len(ids) > spec.Limit {
			ids = ids[:spec.Limit]
		}
	case KindFrameIDs:
		frameIDs, err := r.frameIDs(dbc, spec.FrameRefs)
		if err != nil {
			return nil, err
		}
		if spec.IncludeVerbs {
			units, err := r.stores.Units(spec.POS)
			if err != nil {
				return nil, apierr.ScopeResolution("%v", err)
			}
			if ids, err = units.MemberIDs(dbc, frameIDs); err != nil {
				return nil, err
			}
		} else {
			ids = frameIDs
		}
		if spec.Limit > 0 && len(ids) > spec.Limit {
			ids = ids[:spec.Limit]
		}
	default:
		compiled, store, err := r.compile(spec)
		if err != nil {
			return nil, err
		}
		if ids, err = store.FindIDsByFilter(dbc, compiled.Predicate, effectiveLimit(compiled.Limit, spec.Limit)); err != nil {
			return nil, err
		}
	}
	out := &Resolution{Kind: kind, Targets: make([]Target, 0, len(ids))}
	for _, id := range ids {
		out.Targets = append(out.Targets, Target{Kind: kind, ID: id})
	}
	out.Count = len(out.Targets)
	return out, nil
}

func (r *Resolver) compile(spec Spec) (filter.Compiled, lexrepo.EntityStore, error) {
	compiled, err := filter.Translate(spec.POS, spec.Filter)
	if err != nil {
		return filter.Compiled{}, nil, err
	}
	store, err := r.stores.Store(spec.POS)
	if err != nil {
		return filter.Compiled{}, nil, apierr.ScopeResolution("%v", err)
	}
	return compiled, store, nil
}

// frameIDs resolves refs to ids in first-mention order. Any unknown id or label fails the scope.
func (r *Resolver) frameIDs(dbc dbctx.Context, refs []FrameRef) ([]int64, error) {
	var numeric []int64
	var labels []string
	for _, ref := range refs {
		if ref.Label != "" {
			labels = append(labels, ref.Label)
		} else {
			numeric = append(numeric, ref.ID)
		}
	}
	existing, err := r.stores.Frames.ExistingIDs(dbc, numeric)
	if err != nil {
		return nil, err
	}
	byLabel, err := r.stores.Frames.IDsByLabel(dbc, labels)
	if err != nil {
		return nil, err
	}

	var missing []string
	out := make([]int64, 0, len(refs))
	seen := map[int64]bool{}
	for _, ref := range refs {
		var id int64
		if ref.Label != "" {
			got, ok := byLabel[lex.FoldLabel(ref.Label)]
			if !ok {
				missing = append(missing, ref.Label)
				continue
			}
			id = got
		} else {
			if !existing[ref.ID] {
				missing = append(missing, strconv.FormatInt(ref.ID, 10))
				continue
			}
			id = ref.ID
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, apierr.ScopeResolution("unknown frames: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func effectiveLimit(a, b int) int {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	case a < b:
		return a
	default:
		return b
	}
}

func clamp(n, limit int) int {
	if limit > 0 && n > limit {
		return limit
	}
	return n
}
