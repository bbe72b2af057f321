package filter

import (
	"bytes"
	"encoding/json"

	"github.com/yungbote/lexicon-backend/internal/platform/apierr"
)

const (
	NodeGroup = "group"
	NodeNot   = "not"
	NodeRule  = "rule"

	OpAnd = "and"
	OpOr  = "or"
)

const maxDepth = 32

// Node is one element of a filter tree. Type selects which of the other fields apply.
type Node struct {
	Type     string          `json:"type"`
	Op       string          `json:"op,omitempty"`
	Children []Node          `json:"children,omitempty"`
	Child    *Node           `json:"child,omitempty"`
	Field    string          `json:"field,omitempty"`
	Operator string          `json:"operator,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	Limit    *int            `json:"limit,omitempty"`
}

// Parse decodes a filter tree strictly: unknown keys, unknown node types and keys that do
// not belong to a node's type are all rejected.
func Parse(raw []byte) (*Node, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, apierr.Validation("filter is required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var n Node
	if err := dec.Decode(&n); err != nil {
		return nil, apierr.Validation("invalid filter: %v", err)
	}
	if err := n.check(0, true); err != nil {
		return nil, err
	}
	return &n, nil
}

func (n *Node) check(depth int, root bool) error {
	if depth > maxDepth {
		return apierr.Validation("filter nests deeper than %d levels", maxDepth)
	}
	if n.Limit != nil {
		if !root {
			return apierr.Validation("limit is only allowed on the root filter node")
		}
		if *n.Limit < 0 {
			return apierr.Validation("filter limit must not be negative")
		}
	}
	switch n.Type {
	case NodeGroup:
		if n.Op != OpAnd && n.Op != OpOr {
			return apierr.Validation("group op must be %q or %q, got %q", OpAnd, OpOr, n.Op)
		}
		if n.Child != nil || n.Field != "" || n.Operator != "" || n.Value != nil {
			return apierr.Validation("group nodes only take op and children")
		}
		for i := range n.Children {
			if err := n.Children[i].check(depth+1, false); err != nil {
				return err
			}
		}
	case NodeNot:
		if n.Child == nil {
			return apierr.Validation("not node requires a child")
		}
		if n.Op != "" || n.Children != nil || n.Field != "" || n.Operator != "" || n.Value != nil {
			return apierr.Validation("not nodes only take a child")
		}
		return n.Child.check(depth+1, false)
	case NodeRule:
		if n.Field == "" || n.Operator == "" {
			return apierr.Validation("rule nodes require field and operator")
		}
		if n.Op != "" || n.Children != nil || n.Child != nil {
			return apierr.Validation("rule nodes only take field, operator and value")
		}
	case "":
		return apierr.Validation("filter node is missing its type")
	default:
		return apierr.Validation("unknown filter node type %q", n.Type)
	}
	return nil
}

// Rule is a convenience constructor used by callers that build trees in code.
func Rule(field, operator string, value any) Node {
	n := Node{Type: NodeRule, Field: field, Operator: operator}
	if value != nil {
		// values built in code are plain scalars and slices
		b, _ := json.Marshal(value)
		n.Value = b
	}
	return n
}

func And(children ...Node) Node { return Node{Type: NodeGroup, Op: OpAnd, Children: children} }
func Or(children ...Node) Node  { return Node{Type: NodeGroup, Op: OpOr, Children: children} }
func Not(child Node) Node       { return Node{Type: NodeNot, Child: &child} }
