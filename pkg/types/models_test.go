// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupModel(t *testing.T) {
	m, err := LookupModel("sonnet")
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", m.ModelID)

	// Full model IDs resolve too.
	m, err = LookupModel("claude-haiku-4-5")
	require.NoError(t, err)
	assert.Equal(t, "Claude Haiku 4.5", m.DisplayName)

	_, err = LookupModel("gpt-17")
	assert.Error(t, err)
}

func TestRequestCostBaseRates(t *testing.T) {
	m, err := LookupModel("sonnet")
	require.NoError(t, err)

	// 1M input at $3 + 1M output at $15 = $18.
	// 1M input exceeds the 200K long-context threshold, so premium rates apply.
	cost := m.RequestCost(Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000})
	assert.InDelta(t, 6.0+22.5, cost, 1e-9)

	// Under the threshold base rates apply.
	cost = m.RequestCost(Usage{InputTokens: 100_000, OutputTokens: 10_000})
	assert.InDelta(t, 0.3+0.15, cost, 1e-9)
}

func TestRequestCostLongContextThresholdPerRequest(t *testing.T) {
	m, err := LookupModel("sonnet")
	require.NoError(t, err)

	// Two requests of 150K input each stay below the 200K threshold
	// individually even though their sum exceeds it.
	per := m.RequestCost(Usage{InputTokens: 150_000})
	assert.InDelta(t, 0.45, per, 1e-9)

	aggregate := m.RequestCost(Usage{InputTokens: 300_000})
	assert.Greater(t, aggregate, 2*per)
}

func TestRequestCostCacheMultipliers(t *testing.T) {
	m, err := LookupModel("haiku")
	require.NoError(t, err)

	// Cache write at 2x input rate, cache read at 0.1x.
	cost := m.RequestCost(Usage{
		CacheCreationTokens: 1_000_000,
		CacheReadTokens:     1_000_000,
	})
	// Total input 2M crosses the (identical) long-ctx rate for haiku: $1/MTok.
	assert.InDelta(t, 2.0+0.1, cost, 1e-9)
}

func TestDocumentUsageTotals(t *testing.T) {
	d := DocumentUsage{
		DocName: "report",
		Pages:   42,
		Chunks:  5,
		Usage:   Usage{InputTokens: 1000, OutputTokens: 2000, CacheReadTokens: 300},
		CostUSD: 1.25,
		Elapsed: 90 * time.Second,
		Stages: []StageCost{
			{Name: "table fixes", Usage: Usage{InputTokens: 100, OutputTokens: 50}, CostUSD: 0.10, Elapsed: 5 * time.Second},
		},
	}

	assert.InDelta(t, 1.35, d.TotalCost(), 1e-9)
	assert.Equal(t, 95*time.Second, d.TotalElapsed())
	assert.Equal(t, 1400, d.TotalInputTokens())
	assert.Equal(t, 2050, d.TotalOutputTokens())
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{135 * time.Second, "2m 15s"},
		{3792 * time.Second, "1h 03m 12s"},
		{-time.Second, "0s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.d))
	}
}

func TestFormatSummaryContainsStages(t *testing.T) {
	m, err := LookupModel("sonnet")
	require.NoError(t, err)

	docs := []DocumentUsage{{
		DocName: "spec.pdf",
		Pages:   10,
		Chunks:  1,
		Usage:   Usage{InputTokens: 5000, OutputTokens: 8000},
		CostUSD: 0.135,
		Stages: []StageCost{
			{Name: "table fixes", Detail: "3 tables", CostUSD: 0.02},
		},
	}}

	out := FormatSummary(m, docs)
	assert.Contains(t, out, "spec.pdf")
	assert.Contains(t, out, "table fixes (3 tables)")
	assert.Contains(t, out, "TOTAL")
}
