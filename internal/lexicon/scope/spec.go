package scope

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	lex "github.com/yungbote/lexicon-backend/internal/domain/lexicon"
	"github.com/yungbote/lexicon-backend/internal/lexicon/filter"
	"github.com/yungbote/lexicon-backend/internal/platform/apierr"
)

const (
	KindIDs      = "ids"
	KindFrameIDs = "frame_ids"
	KindFilters  = "filters"
)

// FrameRef names a frame by id or by label.
type FrameRef struct {
	ID    int64
	Label string
}

func (f FrameRef) MarshalJSON() ([]byte, error) {
	if f.Label != "" {
		return json.Marshal(f.Label)
	}
	return json.Marshal(f.ID)
}

// Spec is a decoded scope. Exactly one variant's fields are populated, selected by Kind.
type Spec struct {
	Kind         string
	POS          lex.EntityKind
	IDs          []int64
	FrameRefs    []FrameRef
	IncludeVerbs bool
	Filter       *filter.Node
	Limit        int
}

type idsWire struct {
	Kind  string  `json:"kind"`
	IDs   []int64 `json:"ids"`
	POS   string  `json:"pos,omitempty"`
	Limit *int    `json:"limit,omitempty"`
}

type frameIDsWire struct {
	Kind         string            `json:"kind"`
	FrameIDs     []json.RawMessage `json:"frameIds"`
	IncludeVerbs bool              `json:"includeVerbs"`
	POS          string            `json:"pos"`
	Limit        *int              `json:"limit,omitempty"`
}

type filtersWire struct {
	Kind      string          `json:"kind"`
	POS       string          `json:"pos"`
	Filters   json.RawMessage `json:"filters,omitempty"`
	FilterAST json.RawMessage `json:"filterAST,omitempty"`
	Limit     *int            `json:"limit,omitempty"`
}

// Parse decodes a scope document. Unknown discriminants and keys foreign to the variant are rejected.
func Parse(raw []byte) (Spec, error) {
	var head struct {
		Kind *string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Spec{}, apierr.ScopeResolution("invalid scope: %v", err)
	}
	if head.Kind == nil || *head.Kind == "" {
		return Spec{}, apierr.ScopeResolution("scope kind is required")
	}
	switch *head.Kind {
	case KindIDs:
		var w idsWire
		if err := strict(raw, &w); err != nil {
			return Spec{}, err
		}
		pos := lex.KindLexicalUnit
		if w.POS != "" {
			k, err := lex.ParseEntityKind(w.POS)
			if err != nil {
				return Spec{}, apierr.ScopeResolution("%v", err)
			}
			pos = k
		}
		return Spec{Kind: KindIDs, POS: pos, IDs: w.IDs, Limit: deref(w.Limit)}.Normalize()
	case KindFrameIDs:
		var w frameIDsWire
		if err := strict(raw, &w); err != nil {
			return Spec{}, err
		}
		pos, err := requirePOS(w.POS)
		if err != nil {
			return Spec{}, err
		}
		refs := make([]FrameRef, 0, len(w.FrameIDs))
		for _, r := range w.FrameIDs {
			ref, err := parseFrameRef(r)
			if err != nil {
				return Spec{}, err
			}
			refs = append(refs, ref)
		}
		return Spec{Kind: KindFrameIDs, POS: pos, FrameRefs: refs, IncludeVerbs: w.IncludeVerbs, Limit: deref(w.Limit)}.Normalize()
	case KindFilters:
		var w filtersWire
		if err := strict(raw, &w); err != nil {
			return Spec{}, err
		}
		pos, err := requirePOS(w.POS)
		if err != nil {
			return Spec{}, err
		}
		body := w.Filters
		if len(w.FilterAST) > 0 {
			if len(body) > 0 {
				return Spec{}, apierr.ScopeResolution("give either filters or filterAST, not both")
			}
			body = w.FilterAST
		}
		node, err := filter.Parse(body)
		if err != nil {
			return Spec{}, err
		}
		return Spec{Kind: KindFilters, POS: pos, Filter: node, Limit: deref(w.Limit)}.Normalize()
	default:
		return Spec{}, apierr.ScopeResolution("unknown scope kind %q", *head.Kind)
	}
}

// Normalize checks variant invariants and removes duplicate ids, keeping first occurrences.
func (s Spec) Normalize() (Spec, error) {
	if s.Limit < 0 {
		return s, apierr.ScopeResolution("scope limit must not be negative")
	}
	switch s.Kind {
	case KindIDs:
		if len(s.IDs) == 0 {
			return s, apierr.ScopeResolution("ids scope needs at least one id")
		}
		if s.POS == "" {
			s.POS = lex.KindLexicalUnit
		}
		seen := make(map[int64]bool, len(s.IDs))
		out := make([]int64, 0, len(s.IDs))
		for _, id := range s.IDs {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
		s.IDs = out
	case KindFrameIDs:
		if s.POS == "" {
			return s, apierr.ScopeResolution("pos is required for frame_ids scopes")
		}
		if s.IncludeVerbs && !s.POS.IsLexicalUnit() {
			return s, apierr.ScopeResolution("pos %q cannot be a frame member", s.POS)
		}
		if len(s.FrameRefs) == 0 {
			return s, apierr.ScopeResolution("frame_ids scope needs at least one frame")
		}
	case KindFilters:
		if s.POS == "" {
			return s, apierr.ScopeResolution("pos is required for filters scopes")
		}
		if s.Filter == nil {
			return s, apierr.ScopeResolution("filters scope needs a filter")
		}
	case "":
		return s, apierr.ScopeResolution("scope kind is required")
	default:
		return s, apierr.ScopeResolution("unknown scope kind %q", s.Kind)
	}
	return s, nil
}

// TargetKind is the entity kind the scope's targets belong to.
func (s Spec) TargetKind() lex.EntityKind {
	if s.Kind == KindFrameIDs && !s.IncludeVerbs {
		return lex.KindFrame
	}
	return s.POS
}

// MarshalJSON writes the wire form Parse accepts.
func (s Spec) MarshalJSON() ([]byte, error) {
	var limit *int
	if s.Limit > 0 {
		l := s.Limit
		limit = &l
	}
	switch s.Kind {
	case KindIDs:
		return json.Marshal(idsWire{Kind: s.Kind, IDs: s.IDs, POS: string(s.POS), Limit: limit})
	case KindFrameIDs:
		refs := make([]json.RawMessage, 0, len(s.FrameRefs))
		for _, r := range s.FrameRefs {
			b, err := r.MarshalJSON()
			if err != nil {
				return nil, err
			}
			refs = append(refs, b)
		}
		return json.Marshal(frameIDsWire{Kind: s.Kind, FrameIDs: refs, IncludeVerbs: s.IncludeVerbs, POS: string(s.POS), Limit: limit})
	default:
		f, err := json.Marshal(s.Filter)
		if err != nil {
			return nil, err
		}
		return json.Marshal(filtersWire{Kind: s.Kind, POS: string(s.POS), Filters: f, Limit: limit})
	}
}

func (s *Spec) UnmarshalJSON(b []byte) error {
	parsed, err := Parse(b)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func strict(raw []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apierr.ScopeResolution("invalid scope: %v", err)
	}
	return nil
}

func requirePOS(raw string) (lex.EntityKind, error) {
	if strings.TrimSpace(raw) == "" {
		return "", apierr.ScopeResolution("pos is required for this scope kind")
	}
	k, err := lex.ParseEntityKind(raw)
	if err != nil {
		return "", apierr.ScopeResolution("%v", err)
	}
	return k, nil
}

func parseFrameRef(raw json.RawMessage) (FrameRef, error) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return FrameRef{ID: n}, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return FrameRef{}, apierr.ScopeResolution("frame ids must be numbers or labels, got %s", string(raw))
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return FrameRef{}, apierr.ScopeResolution("empty frame label")
	}
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return FrameRef{ID: id}, nil
	}
	return FrameRef{Label: s}, nil
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
