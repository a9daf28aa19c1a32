// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"strings"
	"time"
)

// Usage is the token accounting for a single API request.
type Usage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens,omitempty"`
	CacheReadTokens     int `json:"cache_read_tokens,omitempty"`
}

// TotalInput returns all input tokens including cache writes and reads.
func (u Usage) TotalInput() int {
	return u.InputTokens + u.CacheCreationTokens + u.CacheReadTokens
}

// Add accumulates another request's usage into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationTokens += other.CacheCreationTokens
	u.CacheReadTokens += other.CacheReadTokens
}

// StageCost tracks an API-calling step that runs after chunk conversion,
// such as table regeneration. Stages appear as sub-lines in the summary.
type StageCost struct {
	Name    string        `json:"name"`
	Usage   Usage         `json:"usage"`
	CostUSD float64       `json:"cost_usd"`
	Elapsed time.Duration `json:"elapsed_ns"`
	Detail  string        `json:"detail,omitempty"`
}

// DocumentUsage is the token and cost accounting for one document conversion.
// The base fields cover chunk conversion; Stages holds later API-calling
// steps. CostUSD is accumulated request by request.
type DocumentUsage struct {
	DocName string        `json:"doc_name"`
	Pages   int           `json:"pages"`
	Chunks  int           `json:"chunks"`
	Usage   Usage         `json:"usage"`
	CostUSD float64       `json:"cost_usd"`
	Elapsed time.Duration `json:"elapsed_ns"`
	Stages  []StageCost   `json:"stages,omitempty"`
}

// TotalCost returns the USD cost of conversion plus all stages.
func (d DocumentUsage) TotalCost() float64 {
	total := d.CostUSD
	for _, s := range d.Stages {
		total += s.CostUSD
	}
	return total
}

// TotalElapsed returns the wall time of conversion plus all stages.
func (d DocumentUsage) TotalElapsed() time.Duration {
	total := d.Elapsed
	for _, s := range d.Stages {
		total += s.Elapsed
	}
	return total
}

// TotalInputTokens returns input tokens across conversion and all stages.
func (d DocumentUsage) TotalInputTokens() int {
	total := d.Usage.TotalInput()
	for _, s := range d.Stages {
		total += s.Usage.TotalInput()
	}
	return total
}

// TotalOutputTokens returns output tokens across conversion and all stages.
func (d DocumentUsage) TotalOutputTokens() int {
	total := d.Usage.OutputTokens
	for _, s := range d.Stages {
		total += s.Usage.OutputTokens
	}
	return total
}

// FormatDuration renders a duration as "45s", "2m 15s", or "1h 03m 12s".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "0s"
	}
	s := int(d.Seconds())
	if s < 60 {
		return fmt.Sprintf("%ds", s)
	}
	m := s / 60
	s %= 60
	if m < 60 {
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := m / 60
	m %= 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// FormatSummary renders a usage and cost table across all documents.
func FormatSummary(model ModelConfig, docs []DocumentUsage) string {
	var b strings.Builder
	p := model.Pricing
	fmt.Fprintf(&b, "Model: %s (%s)\n", model.DisplayName, model.ModelID)
	fmt.Fprintf(&b, "Pricing: $%.2f/MTok input, $%.2f/MTok output (long-ctx: $%.2f/$%.2f above %d tokens)\n",
		p.InputPerMTok, p.OutputPerMTok, p.LongCtxInputPerMTok, p.LongCtxOutputPerMTok, p.LongCtxThreshold)

	hasCache := false
	for _, d := range docs {
		if d.Usage.CacheCreationTokens > 0 || d.Usage.CacheReadTokens > 0 {
			hasCache = true
			break
		}
	}
	if hasCache {
		fmt.Fprintf(&b, "Cache: write %.1fx input, read %.1fx input (1h TTL)\n",
			p.CacheWriteMultiplier, p.CacheReadMultiplier)
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "%-35s %5s %10s %10s %10s %9s\n", "Document", "Pages", "Input", "Output", "Time", "Cost")
	b.WriteString(strings.Repeat("-", 85) + "\n")

	var totalPages, totalIn, totalOut int
	var totalCost float64
	var totalElapsed time.Duration
	for _, d := range docs {
		fmt.Fprintf(&b, "%-35s %5d %10d %10d %10s $%7.2f\n",
			d.DocName, d.Pages, d.TotalInputTokens(), d.TotalOutputTokens(),
			FormatDuration(d.TotalElapsed()), d.TotalCost())
		if len(d.Stages) > 0 {
			convLabel := fmt.Sprintf("  conversion (%d chunks)", d.Chunks)
			if d.Chunks == 1 {
				convLabel = "  conversion (1 chunk)"
			}
			fmt.Fprintf(&b, "%-35s %5s %10d %10d %10s $%7.2f\n",
				convLabel, "", d.Usage.TotalInput(), d.Usage.OutputTokens,
				FormatDuration(d.Elapsed), d.CostUSD)
			for _, s := range d.Stages {
				label := "  " + s.Name
				if s.Detail != "" {
					label += " (" + s.Detail + ")"
				}
				fmt.Fprintf(&b, "%-35s %5s %10d %10d %10s $%7.2f\n",
					label, "", s.Usage.TotalInput(), s.Usage.OutputTokens,
					FormatDuration(s.Elapsed), s.CostUSD)
			}
		}
		totalPages += d.Pages
		totalIn += d.TotalInputTokens()
		totalOut += d.TotalOutputTokens()
		totalCost += d.TotalCost()
		totalElapsed += d.TotalElapsed()
	}

	b.WriteString(strings.Repeat("-", 85) + "\n")
	fmt.Fprintf(&b, "%-35s %5d %10d %10d %10s $%7.2f\n",
		"TOTAL", totalPages, totalIn, totalOut, FormatDuration(totalElapsed), totalCost)
	return b.String()
}
