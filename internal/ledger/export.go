// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"
)

// ExportRun is one ledger run flattened for export. Durations become
// seconds and timestamps RFC 3339 strings so the files are readable
// without this package.
type ExportRun struct {
	ID                  int64   `json:"id" yaml:"id"`
	DocName             string  `json:"doc_name" yaml:"doc_name"`
	PDFPath             string  `json:"pdf_path" yaml:"pdf_path"`
	OutputPath          string  `json:"output_path" yaml:"output_path"`
	ModelID             string  `json:"model_id" yaml:"model_id"`
	Pages               int     `json:"pages" yaml:"pages"`
	Chunks              int     `json:"chunks" yaml:"chunks"`
	InputTokens         int     `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens        int     `json:"output_tokens" yaml:"output_tokens"`
	CacheCreationTokens int     `json:"cache_creation_tokens,omitempty" yaml:"cache_creation_tokens,omitempty"`
	CacheReadTokens     int     `json:"cache_read_tokens,omitempty" yaml:"cache_read_tokens,omitempty"`
	CostUSD             float64 `json:"cost_usd" yaml:"cost_usd"`
	ElapsedSeconds      float64 `json:"elapsed_seconds" yaml:"elapsed_seconds"`
	CachedChunks        int     `json:"cached_chunks" yaml:"cached_chunks"`
	FreshChunks         int     `json:"fresh_chunks" yaml:"fresh_chunks"`
	ValidationErrors    int     `json:"validation_errors" yaml:"validation_errors"`
	ValidationWarnings  int     `json:"validation_warnings" yaml:"validation_warnings"`
	FinishedAt          string  `json:"finished_at" yaml:"finished_at"`
}

// Export writes the full run history to path. The format follows the file
// extension: .json for JSON, anything else for YAML.
func (s *Store) Export(ctx context.Context, path string) error {
	runs, err := s.exportRuns(ctx)
	if err != nil {
		return err
	}

	var data []byte
	if filepath.Ext(path) == ".json" {
		data, err = json.MarshalIndent(runs, "", "  ")
	} else {
		data, err = yaml.Marshal(runs)
	}
	if err != nil {
		return fmt.Errorf("marshaling export: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *Store) exportRuns(ctx context.Context) ([]ExportRun, error) {
	runs, err := s.Recent(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("querying for export: %w", err)
	}

	entries := make([]ExportRun, len(runs))
	for i, r := range runs {
		entries[i] = ExportRun{
			ID:                  r.ID,
			DocName:             r.DocName,
			PDFPath:             r.PDFPath,
			OutputPath:          r.OutputPath,
			ModelID:             r.ModelID,
			Pages:               r.Pages,
			Chunks:              r.Chunks,
			InputTokens:         r.Usage.InputTokens,
			OutputTokens:        r.Usage.OutputTokens,
			CacheCreationTokens: r.Usage.CacheCreationTokens,
			CacheReadTokens:     r.Usage.CacheReadTokens,
			CostUSD:             r.CostUSD,
			ElapsedSeconds:      r.Elapsed.Seconds(),
			CachedChunks:        r.CachedChunks,
			FreshChunks:         r.FreshChunks,
			ValidationErrors:    r.ValidationErrors,
			ValidationWarnings:  r.ValidationWarnings,
			FinishedAt:          r.FinishedAt.UTC().Format(time.RFC3339),
		}
	}
	return entries, nil
}
