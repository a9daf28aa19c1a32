// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ledger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.yaml.in/yaml/v3"
)

func TestExportYAML(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if _, err := s.Record(ctx, sampleRun("alpha", 0.50)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Record(ctx, sampleRun("beta", 0.75)); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "runs.yaml")
	if err := s.Export(ctx, path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var runs []ExportRun
	if err := yaml.Unmarshal(data, &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("exported %d runs, want 2", len(runs))
	}
	// Recent orders newest first.
	if runs[0].DocName != "beta" || runs[1].DocName != "alpha" {
		t.Errorf("order = %s, %s", runs[0].DocName, runs[1].DocName)
	}
	r := runs[1]
	if r.InputTokens != 10_000 || r.OutputTokens != 5_000 {
		t.Errorf("tokens = %d/%d", r.InputTokens, r.OutputTokens)
	}
	if r.ElapsedSeconds != 90 {
		t.Errorf("elapsed = %v", r.ElapsedSeconds)
	}
	if r.FinishedAt != "2026-02-10T12:00:00Z" {
		t.Errorf("finished_at = %q", r.FinishedAt)
	}
	if strings.Contains(string(data), "cache_creation_tokens") {
		t.Error("zero cache fields should be omitted")
	}
}

func TestExportJSON(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if _, err := s.Record(ctx, sampleRun("alpha", 0.50)); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "runs.json")
	if err := s.Export(ctx, path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var runs []ExportRun
	if err := json.Unmarshal(data, &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].DocName != "alpha" {
		t.Fatalf("runs = %+v", runs)
	}
	if runs[0].CostUSD != 0.50 {
		t.Errorf("cost = %v", runs[0].CostUSD)
	}
}

func TestExportEmptyLedger(t *testing.T) {
	s := testStore(t)
	path := filepath.Join(t.TempDir(), "runs.yaml")
	if err := s.Export(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}
}
