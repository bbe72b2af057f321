package filter

import (
	"bytes"
	"encoding/json"
	"strings"

	"gorm.io/gorm/clause"

	lex "github.com/yungbote/lexicon-backend/internal/domain/lexicon"
	"github.com/yungbote/lexicon-backend/internal/platform/apierr"
)

const (
	OpEquals     = "equals"
	OpNotEquals  = "not_equals"
	OpContains   = "contains"
	OpNotContain = "not_contains"
	OpStartsWith = "starts_with"
	OpEndsWith   = "ends_with"
	OpGt         = "gt"
	OpGte        = "gte"
	OpLt         = "lt"
	OpLte        = "lte"
	OpBetween    = "between"
	OpIn         = "in"
	OpNotIn      = "not_in"
	OpIsNull     = "is_null"
	OpIsNotNull  = "is_not_null"
)

var operatorsByType = map[lex.FieldType]map[string]bool{
	lex.FieldString: set(OpEquals, OpNotEquals, OpContains, OpNotContain, OpStartsWith, OpEndsWith, OpIn, OpNotIn, OpIsNull, OpIsNotNull),
	lex.FieldInt:    set(OpEquals, OpNotEquals, OpGt, OpGte, OpLt, OpLte, OpBetween, OpIn, OpNotIn, OpIsNull, OpIsNotNull),
	lex.FieldBool:   set(OpEquals, OpNotEquals, OpIsNull, OpIsNotNull),
	lex.FieldTime:   set(OpEquals, OpNotEquals, OpGt, OpGte, OpLt, OpLte, OpBetween, OpIsNull, OpIsNotNull),
}

func set(ops ...string) map[string]bool {
	m := make(map[string]bool, len(ops))
	for _, op := range ops {
		m[op] = true
	}
	return m
}

// Compiled is a translated filter. A nil Predicate matches every row of the kind.
type Compiled struct {
	Predicate clause.Expression
	Limit     int
}

// matchNone stands in for NOT(match everything).
var matchNone = clause.Expr{SQL: "1 = 0"}

// Translate compiles root into a storage predicate for kind. It performs no I/O.
func Translate(kind lex.EntityKind, root *Node) (Compiled, error) {
	if root == nil {
		return Compiled{}, nil
	}
	if err := root.check(0, true); err != nil {
		return Compiled{}, err
	}
	pred, err := translate(kind, root)
	if err != nil {
		return Compiled{}, err
	}
	out := Compiled{Predicate: pred}
	if root.Limit != nil {
		out.Limit = *root.Limit
	}
	return out, nil
}

func translate(kind lex.EntityKind, n *Node) (clause.Expression, error) {
	switch n.Type {
	case NodeGroup:
		exprs := make([]clause.Expression, 0, len(n.Children))
		unconstrained := false
		for i := range n.Children {
			e, err := translate(kind, &n.Children[i])
			if err != nil {
				return nil, err
			}
			if e == nil {
				unconstrained = true
				continue
			}
			exprs = append(exprs, e)
		}
		switch {
		case unconstrained && n.Op == OpOr:
			// one unconstrained branch makes the whole disjunction unconstrained
			return nil, nil
		case len(exprs) == 0:
			return nil, nil
		case len(exprs) == 1:
			return exprs[0], nil
		case n.Op == OpOr:
			return clause.Or(exprs...), nil
		default:
			return clause.And(exprs...), nil
		}
	case NodeNot:
		e, err := translate(kind, n.Child)
		if err != nil {
			return nil, err
		}
		if e == nil {
			return matchNone, nil
		}
		return clause.Not(e), nil
	default:
		return translateRule(kind, n)
	}
}

func translateRule(kind lex.EntityKind, n *Node) (clause.Expression, error) {
	spec, ok := lex.LookupField(kind, n.Field)
	if !ok {
		return nil, apierr.UnsupportedFilterField(string(kind), n.Field)
	}
	if !operatorsByType[spec.Type][n.Operator] {
		return nil, apierr.UnsupportedOperator(n.Field, n.Operator)
	}
	col := clause.Column{Name: spec.Column}

	switch n.Operator {
	case OpIsNull:
		return clause.Eq{Column: col, Value: nil}, nil
	case OpIsNotNull:
		return clause.Neq{Column: col, Value: nil}, nil
	case OpIn, OpNotIn:
		vals, err := listValue(spec, n, 1, 0)
		if err != nil {
			return nil, err
		}
		in := clause.IN{Column: col, Values: vals}
		if n.Operator == OpNotIn {
			return clause.Not(in), nil
		}
		return in, nil
	case OpBetween:
		vals, err := listValue(spec, n, 2, 2)
		if err != nil {
			return nil, err
		}
		return clause.And(clause.Gte{Column: col, Value: vals[0]}, clause.Lte{Column: col, Value: vals[1]}), nil
	}

	v, err := scalarValue(spec, n)
	if err != nil {
		return nil, err
	}
	switch n.Operator {
	case OpEquals:
		return clause.Eq{Column: col, Value: v}, nil
	case OpNotEquals:
		return clause.Neq{Column: col, Value: v}, nil
	case OpGt:
		return clause.Gt{Column: col, Value: v}, nil
	case OpGte:
		return clause.Gte{Column: col, Value: v}, nil
	case OpLt:
		return clause.Lt{Column: col, Value: v}, nil
	case OpLte:
		return clause.Lte{Column: col, Value: v}, nil
	case OpContains:
		return like(col, "%"+escapeLike(v.(string))+"%"), nil
	case OpNotContain:
		return clause.Not(like(col, "%"+escapeLike(v.(string))+"%")), nil
	case OpStartsWith:
		return like(col, escapeLike(v.(string))+"%"), nil
	case OpEndsWith:
		return like(col, "%"+escapeLike(v.(string))), nil
	}
	return nil, apierr.UnsupportedOperator(n.Field, n.Operator)
}

// like is a case-insensitive LIKE that behaves the same on Postgres and SQLite.
func like(col clause.Column, pattern string) clause.Expression {
	return clause.Expr{
		SQL:  `LOWER(?) LIKE ? ESCAPE '\'`,
		Vars: []interface{}{col, strings.ToLower(pattern)},
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

func decodeValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func scalarValue(spec lex.FieldSpec, n *Node) (any, error) {
	if len(n.Value) == 0 {
		return nil, apierr.Validation("operator %q on %q requires a value", n.Operator, n.Field)
	}
	raw, err := decodeValue(n.Value)
	if err != nil {
		return nil, apierr.Validation("invalid value for %q: %v", n.Field, err)
	}
	if raw == nil {
		return nil, apierr.Validation("use is_null or is_not_null to compare %q with null", n.Field)
	}
	if _, isList := raw.([]any); isList {
		return nil, apierr.Validation("operator %q on %q takes a single value", n.Operator, n.Field)
	}
	v, err := spec.Coerce(raw)
	if err != nil {
		return nil, apierr.Validation("%v", err)
	}
	return v, nil
}

// listValue decodes an array value with at least min and, when max > 0, at most max entries.
func listValue(spec lex.FieldSpec, n *Node, min, max int) ([]interface{}, error) {
	if len(n.Value) == 0 {
		return nil, apierr.Validation("operator %q on %q requires a list value", n.Operator, n.Field)
	}
	raw, err := decodeValue(n.Value)
	if err != nil {
		return nil, apierr.Validation("invalid value for %q: %v", n.Field, err)
	}
	items, ok := raw.([]any)
	if !ok || len(items) < min || (max > 0 && len(items) > max) {
		if max == min {
			return nil, apierr.Validation("operator %q on %q takes exactly %d values", n.Operator, n.Field, min)
		}
		return nil, apierr.Validation("operator %q on %q takes a non-empty list", n.Operator, n.Field)
	}
	out := make([]interface{}, 0, len(items))
	for _, item := range items {
		if item == nil {
			return nil, apierr.Validation("list values for %q must not be null", n.Field)
		}
		v, err := spec.Coerce(item)
		if err != nil {
			return nil, apierr.Validation("%v", err)
		}
		out = append(out, v)
	}
	return out, nil
}
