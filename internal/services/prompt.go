package services

import (
	"fmt"
	"strings"
	"text/template"

	lex "github.com/yungbote/lexicon-backend/internal/domain/lexicon"
	"github.com/yungbote/lexicon-backend/internal/platform/apierr"
)

// jobPrompt is a parsed job template. Snapshot fields are exposed by name, plus
// entity_type and entity_id. Referencing an unknown key is a render error.
type jobPrompt struct {
	tmpl *template.Template
}

func parseJobPrompt(src string) (*jobPrompt, error) {
	if strings.TrimSpace(src) == "" {
		return nil, apierr.Validation("prompt template is empty")
	}
	t, err := template.New("prompt").Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, apierr.Validation("prompt template: %v", err)
	}
	return &jobPrompt{tmpl: t}, nil
}

func (p *jobPrompt) render(kind lex.EntityKind, id int64, snap map[string]any) (string, error) {
	data := make(map[string]any, len(snap)+2)
	for k, v := range snap {
		data[k] = v
	}
	data["entity_type"] = string(kind)
	data["entity_id"] = id
	var b strings.Builder
	if err := p.tmpl.Execute(&b, data); err != nil {
		return "", apierr.Validation("render prompt for %s %d: %v", kind, id, err)
	}
	return b.String(), nil
}

func typeLabel(f lex.FieldSpec) string {
	var t string
	switch f.Type {
	case lex.FieldInt:
		t = "integer"
	case lex.FieldBool:
		t = "boolean"
	case lex.FieldTime:
		t = "RFC3339 timestamp"
	default:
		t = "string"
	}
	if f.Nullable {
		t += " or null"
	}
	return t
}

// resultInstructions tells the model which keys its JSON answer must carry.
func resultInstructions(kind lex.EntityKind, fields []lex.FieldSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are editing a %s record in a lexical database. ", strings.ReplaceAll(string(kind), "_", " "))
	b.WriteString("Respond with a single JSON object containing exactly these keys:\n")
	for _, f := range fields {
		fmt.Fprintf(&b, "- %s (%s)\n", f.Name, typeLabel(f))
	}
	return b.String()
}
