package lexicon

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type FieldType string

const (
	FieldString FieldType = "string"
	FieldInt    FieldType = "int"
	FieldBool   FieldType = "bool"
	FieldTime   FieldType = "time"
)

// FieldSpec describes one column an entity kind exposes to filters, prompts and changesets.
// Fields missing from a kind's registry are invisible to all three.
type FieldSpec struct {
	Name     string
	Column   string
	Type     FieldType
	Nullable bool
	Writable bool
}

func field(name string, t FieldType, nullable, writable bool) FieldSpec {
	return FieldSpec{Name: name, Column: name, Type: t, Nullable: nullable, Writable: writable}
}

var (
	luBase = []FieldSpec{
		field("id", FieldInt, false, false),
		field("lemma", FieldString, false, true),
		field("pos", FieldString, false, false),
		field("gloss", FieldString, false, true),
		field("frame_id", FieldInt, true, true),
		field("lexfile", FieldString, false, false),
		field("is_mwe", FieldBool, false, false),
		field("flagged", FieldBool, false, true),
		field("flagged_reason", FieldString, true, true),
		field("verifiable", FieldBool, true, true),
		field("created_at", FieldTime, false, false),
		field("updated_at", FieldTime, false, false),
	}
	fVendler     = field("vendler_class", FieldString, true, true)
	fCountable   = field("countable", FieldBool, true, true)
	fGradable    = field("gradable", FieldBool, true, true)
	fPredicative = field("predicative", FieldBool, true, true)

	frameFields = []FieldSpec{
		field("id", FieldInt, false, false),
		field("label", FieldString, false, true),
		field("definition", FieldString, false, true),
		field("short_definition", FieldString, false, true),
		field("flagged", FieldBool, false, true),
		field("flagged_reason", FieldString, true, true),
		field("created_at", FieldTime, false, false),
		field("updated_at", FieldTime, false, false),
	}
)

func withExtra(extra ...FieldSpec) []FieldSpec {
	out := make([]FieldSpec, 0, len(luBase)+len(extra))
	out = append(out, luBase...)
	return append(out, extra...)
}

var registry = map[EntityKind][]FieldSpec{
	KindLexicalUnit: withExtra(fVendler, fCountable, fGradable, fPredicative),
	KindNoun:        withExtra(fCountable),
	KindVerb:        withExtra(fVendler),
	KindAdjective:   withExtra(fGradable, fPredicative),
	KindAdverb:      withExtra(fGradable),
	KindFrame:       frameFields,
}

// Fields returns the ordered field registry for kind.
func Fields(kind EntityKind) []FieldSpec {
	src := registry[kind]
	out := make([]FieldSpec, len(src))
	copy(out, src)
	return out
}

func LookupField(kind EntityKind, name string) (FieldSpec, bool) {
	for _, f := range registry[kind] {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Coerce converts a JSON-decoded or database-scanned value into the field's canonical Go type:
// string, int64, bool, time.Time (UTC) or nil.
func (f FieldSpec) Coerce(v any) (any, error) {
	if v == nil {
		if f.Nullable {
			return nil, nil
		}
		return nil, fmt.Errorf("field %q is not nullable", f.Name)
	}
	switch f.Type {
	case FieldString:
		switch t := v.(type) {
		case string:
			return t, nil
		case []byte:
			return string(t), nil
		case *string:
			if t == nil {
				return f.Coerce(nil)
			}
			return *t, nil
		}
	case FieldInt:
		switch t := v.(type) {
		case int:
			return int64(t), nil
		case int32:
			return int64(t), nil
		case int64:
			return t, nil
		case *int64:
			if t == nil {
				return f.Coerce(nil)
			}
			return *t, nil
		case float64:
			if t != math.Trunc(t) {
				return nil, fmt.Errorf("field %q expects an integer, got %v", f.Name, t)
			}
			return int64(t), nil
		case json.Number:
			n, err := t.Int64()
			if err != nil {
				return nil, fmt.Errorf("field %q expects an integer: %w", f.Name, err)
			}
			return n, nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("field %q expects an integer: %w", f.Name, err)
			}
			return n, nil
		case []byte:
			return f.Coerce(string(t))
		}
	case FieldBool:
		switch t := v.(type) {
		case bool:
			return t, nil
		case *bool:
			if t == nil {
				return f.Coerce(nil)
			}
			return *t, nil
		// sqlite scans booleans as integers
		case int64:
			return t != 0, nil
		case int:
			return t != 0, nil
		case float64:
			if t != 0 && t != 1 {
				return nil, fmt.Errorf("field %q expects a boolean, got %v", f.Name, t)
			}
			return t == 1, nil
		case json.Number:
			switch t.String() {
			case "0":
				return false, nil
			case "1":
				return true, nil
			}
			return nil, fmt.Errorf("field %q expects a boolean, got %s", f.Name, t)
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(t))
			if err != nil {
				return nil, fmt.Errorf("field %q expects a boolean: %w", f.Name, err)
			}
			return b, nil
		}
	case FieldTime:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
				if ts, err := time.Parse(layout, t); err == nil {
					return ts.UTC(), nil
				}
			}
			return nil, fmt.Errorf("field %q expects a timestamp, got %q", f.Name, t)
		case []byte:
			return f.Coerce(string(t))
		}
	}
	return nil, fmt.Errorf("field %q expects %s, got %T", f.Name, f.Type, v)
}

// Canonical returns the JSON encoding used to store and compare values of this field.
func (f FieldSpec) Canonical(v any) (json.RawMessage, error) {
	c, err := f.Coerce(v)
	if err != nil {
		return nil, err
	}
	if ts, ok := c.(time.Time); ok {
		c = ts.Format(time.RFC3339Nano)
	}
	return json.Marshal(c)
}

// SameValue reports whether a and b canonicalize to the same stored value.
func (f FieldSpec) SameValue(a, b any) (bool, error) {
	ca, err := f.Canonical(a)
	if err != nil {
		return false, err
	}
	cb, err := f.Canonical(b)
	if err != nil {
		return false, err
	}
	return string(ca) == string(cb), nil
}

// Decode parses a stored canonical value back into the field's Go type.
func (f FieldSpec) Decode(raw []byte) (any, error) {
	if len(raw) == 0 {
		return f.Coerce(nil)
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode %s value: %w", f.Name, err)
	}
	return f.Coerce(v)
}
