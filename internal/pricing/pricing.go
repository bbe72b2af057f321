package pricing

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed pricing.yaml
var defaultTable []byte

type ModelPrice struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

type Table struct {
	Models map[string]ModelPrice `yaml:"models"`
	Tiers  map[string]float64    `yaml:"tiers"`
}

// Estimator prices token usage. It is safe for concurrent use.
type Estimator struct {
	table Table
}

func Parse(raw []byte) (*Estimator, error) {
	var t Table
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("parse pricing table: %w", err)
	}
	norm := Table{Models: map[string]ModelPrice{}, Tiers: map[string]float64{}}
	for name, p := range t.Models {
		norm.Models[strings.ToLower(strings.TrimSpace(name))] = p
	}
	for name, m := range t.Tiers {
		norm.Tiers[strings.ToLower(strings.TrimSpace(name))] = m
	}
	return &Estimator{table: norm}, nil
}

// Default returns the estimator built from the embedded table.
func Default() *Estimator {
	e, err := Parse(defaultTable)
	if err != nil {
		return &Estimator{table: Table{Models: map[string]ModelPrice{}, Tiers: map[string]float64{}}}
	}
	return e
}

// Estimate returns the USD cost of a call, or nil when the model or tier is unknown.
// An empty tier is the default tier.
func (e *Estimator) Estimate(model string, inputTokens, outputTokens int64, tier string) *float64 {
	price, ok := e.lookup(model)
	if !ok {
		return nil
	}
	tier = strings.ToLower(strings.TrimSpace(tier))
	if tier == "" {
		tier = "default"
	}
	mult, ok := e.table.Tiers[tier]
	if !ok {
		return nil
	}
	cost := (float64(inputTokens)*price.Input + float64(outputTokens)*price.Output) * mult / 1_000_000
	return &cost
}

// lookup matches exactly, then by the longest known prefix (dated snapshots like gpt-4o-2024-08-06).
func (e *Estimator) lookup(model string) (ModelPrice, bool) {
	key := strings.ToLower(strings.TrimSpace(model))
	if key == "" {
		return ModelPrice{}, false
	}
	if p, ok := e.table.Models[key]; ok {
		return p, true
	}
	best := ""
	for name := range e.table.Models {
		if strings.HasPrefix(key, name+"-") && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return ModelPrice{}, false
	}
	return e.table.Models[best], true
}
