package llm

import (
	"regexp"
	"sync"
)

// Pricing is the per-million-token cost of one model.
type Pricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// dateSuffix matches trailing snapshot suffixes like "-20240718".
var dateSuffix = regexp.MustCompile(`-\d{8}$`)

// PricingTable maps model names to costs for best-effort estimation.
//
// Normalization strips one trailing 8-digit date suffix to match a
// snapshot name ("gpt-4o-mini-20240718") to its base model. This is a
// heuristic with no versioning policy behind it: estimates are advisory
// only and new naming schemes may not normalize at all.
type PricingTable struct {
	mu     sync.RWMutex
	models map[string]Pricing
}

// DefaultPricing returns a table seeded with common base-model prices.
// Numbers drift; override per deployment when estimates matter.
func DefaultPricing() *PricingTable {
	return NewPricingTable(map[string]Pricing{
		"gpt-4o":      {InputPerMTok: 2.50, OutputPerMTok: 10.00},
		"gpt-4o-mini": {InputPerMTok: 0.15, OutputPerMTok: 0.60},
		"gpt-4.1":     {InputPerMTok: 2.00, OutputPerMTok: 8.00},
		"o3-mini":     {InputPerMTok: 1.10, OutputPerMTok: 4.40},
	})
}

// NewPricingTable creates a table with the given base-model prices.
func NewPricingTable(models map[string]Pricing) *PricingTable {
	copied := make(map[string]Pricing, len(models))
	for name, p := range models {
		copied[name] = p
	}
	return &PricingTable{models: copied}
}

// Set adds or replaces one model's pricing.
func (t *PricingTable) Set(model string, p Pricing) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.models[model] = p
}

// Normalize resolves a model name to the table's base name. An exact hit
// wins; otherwise one trailing date suffix is stripped if the remainder
// is known. Unknown names are returned unchanged.
func (t *PricingTable) Normalize(model string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, ok := t.models[model]; ok {
		return model
	}
	if stripped := dateSuffix.ReplaceAllString(model, ""); stripped != model {
		if _, ok := t.models[stripped]; ok {
			return stripped
		}
	}
	return model
}

// Estimate returns the cost of a call in dollars. ok is false when the
// model (after normalization) is not in the table.
func (t *PricingTable) Estimate(model string, inputTokens, outputTokens int) (float64, bool) {
	normalized := t.Normalize(model)

	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.models[normalized]
	if !ok {
		return 0, false
	}
	cost := float64(inputTokens)/1e6*p.InputPerMTok + float64(outputTokens)/1e6*p.OutputPerMTok
	return cost, true
}
