package reconcile

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	lex "github.com/yungbote/lexicon-backend/internal/domain/lexicon"
)

// ResultSchema is the JSON schema a provider result must satisfy: one property per target field,
// all required, nothing else allowed.
func ResultSchema(fields []lex.FieldSpec) map[string]any {
	props := make(map[string]any, len(fields))
	required := make([]string, 0, len(fields))
	for _, f := range fields {
		var prop map[string]any
		switch f.Type {
		case lex.FieldInt:
			prop = map[string]any{"type": "integer"}
		case lex.FieldBool:
			prop = map[string]any{"type": "boolean"}
		default:
			prop = map[string]any{"type": "string"}
		}
		if f.Nullable {
			prop["type"] = []any{prop["type"], "null"}
		}
		props[f.Name] = prop
		required = append(required, f.Name)
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

// CompileSchema compiles a schema document for validation.
func CompileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("result.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add result schema: %w", err)
	}
	return compiler.Compile("result.json")
}

// TargetFields resolves names against kind's registry. Every field must exist and be writable.
func TargetFields(kind lex.EntityKind, names []string) ([]lex.FieldSpec, error) {
	out := make([]lex.FieldSpec, 0, len(names))
	seen := map[string]bool{}
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		f, ok := lex.LookupField(kind, name)
		if !ok {
			return nil, fmt.Errorf("field %q does not exist on %s", name, kind)
		}
		if !f.Writable {
			return nil, fmt.Errorf("field %q is read-only on %s", name, kind)
		}
		out = append(out, f)
	}
	return out, nil
}

// ParseResult decodes and validates provider output, returning canonical values keyed by field.
func ParseResult(text string, schema *jsonschema.Schema, fields []lex.FieldSpec) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("result is not JSON: %w", err)
	}
	if schema != nil {
		if err := schema.Validate(doc); err != nil {
			return nil, fmt.Errorf("result does not match schema: %w", err)
		}
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("result must be a JSON object")
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		raw, present := obj[f.Name]
		if !present {
			return nil, fmt.Errorf("result is missing %q", f.Name)
		}
		v, err := f.Coerce(raw)
		if err != nil {
			return nil, err
		}
		out[f.Name] = v
	}
	return out, nil
}
