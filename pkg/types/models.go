// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"sort"
)

// ModelPricing holds the pricing tiers for a Claude model in USD per million
// tokens. Cache pricing uses multipliers applied to the effective input rate,
// which may be the base or long-context rate depending on the request size.
type ModelPricing struct {
	InputPerMTok  float64
	OutputPerMTok float64

	// Premium rates applied when a single request's total input tokens
	// exceed LongCtxThreshold.
	LongCtxInputPerMTok  float64
	LongCtxOutputPerMTok float64
	LongCtxThreshold     int

	// CacheWriteMultiplier is the 1h-TTL cache write premium (2x input rate).
	CacheWriteMultiplier float64

	// CacheReadMultiplier is the cache hit discount (0.1x input rate).
	CacheReadMultiplier float64
}

// ModelConfig is the complete configuration for a Claude model.
type ModelConfig struct {
	ModelID         string
	DisplayName     string
	MaxOutputTokens int
	MaxPDFPages     int
	Pricing         ModelPricing

	// BetaHeader is sent as anthropic-beta when non-empty (1M context opt-in).
	BetaHeader string

	SupportsAdaptiveThinking bool
}

// DefaultModel is the registry alias used when no --model flag is given.
const DefaultModel = "sonnet"

// models maps short aliases to full model configurations.
// Pricing last verified 2026-02-08 against the published Claude pricing tables.
var models = map[string]ModelConfig{
	"opus": {
		ModelID:         "claude-opus-4-6",
		DisplayName:     "Claude Opus 4.6",
		MaxOutputTokens: 64000,
		MaxPDFPages:     100,
		BetaHeader:      "context-1m-2025-08-07",
		Pricing: ModelPricing{
			InputPerMTok:         5.0,
			OutputPerMTok:        25.0,
			LongCtxInputPerMTok:  10.0,
			LongCtxOutputPerMTok: 37.5,
			LongCtxThreshold:     200_000,
			CacheWriteMultiplier: 2.0,
			CacheReadMultiplier:  0.1,
		},
		SupportsAdaptiveThinking: true,
	},
	"sonnet": {
		ModelID:         "claude-sonnet-4-5",
		DisplayName:     "Claude Sonnet 4.5",
		MaxOutputTokens: 64000,
		MaxPDFPages:     100,
		BetaHeader:      "context-1m-2025-08-07",
		Pricing: ModelPricing{
			InputPerMTok:         3.0,
			OutputPerMTok:        15.0,
			LongCtxInputPerMTok:  6.0,
			LongCtxOutputPerMTok: 22.5,
			LongCtxThreshold:     200_000,
			CacheWriteMultiplier: 2.0,
			CacheReadMultiplier:  0.1,
		},
	},
	"haiku": {
		ModelID:         "claude-haiku-4-5",
		DisplayName:     "Claude Haiku 4.5",
		MaxOutputTokens: 64000,
		MaxPDFPages:     100,
		Pricing: ModelPricing{
			InputPerMTok:         1.0,
			OutputPerMTok:        5.0,
			LongCtxInputPerMTok:  1.0,
			LongCtxOutputPerMTok: 5.0,
			LongCtxThreshold:     200_000,
			CacheWriteMultiplier: 2.0,
			CacheReadMultiplier:  0.1,
		},
	},
}

// LookupModel resolves a model alias or full model ID to its configuration.
func LookupModel(name string) (ModelConfig, error) {
	if m, ok := models[name]; ok {
		return m, nil
	}
	for _, m := range models {
		if m.ModelID == name {
			return m, nil
		}
	}
	return ModelConfig{}, fmt.Errorf("unknown model %q (known: %v)", name, ModelAliases())
}

// ModelAliases returns the sorted registry aliases.
func ModelAliases() []string {
	aliases := make([]string, 0, len(models))
	for k := range models {
		aliases = append(aliases, k)
	}
	sort.Strings(aliases)
	return aliases
}

// RequestCost computes the USD cost of a single API request.
//
// The long-context threshold is evaluated per request: when the request's
// total input tokens (uncached plus cache write plus cache read) exceed the
// threshold, premium rates apply to every token of the request. Costs are
// accumulated per request rather than recomputed from aggregate totals,
// since aggregates across chunks would cross the threshold spuriously.
func (m ModelConfig) RequestCost(u Usage) float64 {
	p := m.Pricing
	inputRate := p.InputPerMTok
	outputRate := p.OutputPerMTok
	if u.TotalInput() > p.LongCtxThreshold {
		inputRate = p.LongCtxInputPerMTok
		outputRate = p.LongCtxOutputPerMTok
	}

	const mtok = 1_000_000
	cost := float64(u.InputTokens) * inputRate / mtok
	cost += float64(u.CacheCreationTokens) * inputRate * p.CacheWriteMultiplier / mtok
	cost += float64(u.CacheReadTokens) * inputRate * p.CacheReadMultiplier / mtok
	cost += float64(u.OutputTokens) * outputRate / mtok
	return cost
}
