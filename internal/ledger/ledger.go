// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ledger persists conversion run history in a SQLite database.
// Every completed conversion is recorded with its token usage, cost, and
// validation outcome; the stats command queries the history.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/pdf2md/pkg/types"
)

const dbFile = "ledger.db"

// DefaultPath returns the ledger location under the user's home directory,
// ~/.pdf2md/ledger.db. Falls back to the current directory when the home
// directory cannot be resolved.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".pdf2md", dbFile)
	}
	return filepath.Join(home, ".pdf2md", dbFile)
}

// Run is one recorded document conversion.
type Run struct {
	ID         int64
	DocName    string
	PDFPath    string
	OutputPath string
	ModelID    string

	Pages  int
	Chunks int

	Usage   types.Usage
	CostUSD float64
	Elapsed time.Duration

	CachedChunks int
	FreshChunks  int

	ValidationErrors   int
	ValidationWarnings int

	FinishedAt time.Time
}

// Store manages the run history database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the ledger database at path, creating the schema
// when missing.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating ledger schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			doc_name TEXT NOT NULL,
			pdf_path TEXT,
			output_path TEXT,
			model_id TEXT,
			pages INTEGER,
			chunks INTEGER,
			input_tokens INTEGER,
			output_tokens INTEGER,
			cache_creation_tokens INTEGER,
			cache_read_tokens INTEGER,
			cost_usd REAL,
			elapsed_ns INTEGER,
			cached_chunks INTEGER,
			fresh_chunks INTEGER,
			validation_errors INTEGER,
			validation_warnings INTEGER,
			finished_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_doc_name ON runs(doc_name)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_finished_at ON runs(finished_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Record inserts a completed run and returns its row ID. A zero FinishedAt
// is filled with the current time.
func (s *Store) Record(ctx context.Context, run Run) (int64, error) {
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (
			doc_name, pdf_path, output_path, model_id,
			pages, chunks,
			input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens,
			cost_usd, elapsed_ns, cached_chunks, fresh_chunks,
			validation_errors, validation_warnings, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.DocName, run.PDFPath, run.OutputPath, run.ModelID,
		run.Pages, run.Chunks,
		run.Usage.InputTokens, run.Usage.OutputTokens,
		run.Usage.CacheCreationTokens, run.Usage.CacheReadTokens,
		run.CostUSD, int64(run.Elapsed), run.CachedChunks, run.FreshChunks,
		run.ValidationErrors, run.ValidationWarnings,
		run.FinishedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("recording run: %w", err)
	}
	return res.LastInsertId()
}

const runColumns = `id, doc_name, pdf_path, output_path, model_id,
	pages, chunks,
	input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens,
	cost_usd, elapsed_ns, cached_chunks, fresh_chunks,
	validation_errors, validation_warnings, finished_at`

func scanRun(rows *sql.Rows) (Run, error) {
	var r Run
	var elapsed int64
	var finished string
	err := rows.Scan(
		&r.ID, &r.DocName, &r.PDFPath, &r.OutputPath, &r.ModelID,
		&r.Pages, &r.Chunks,
		&r.Usage.InputTokens, &r.Usage.OutputTokens,
		&r.Usage.CacheCreationTokens, &r.Usage.CacheReadTokens,
		&r.CostUSD, &elapsed, &r.CachedChunks, &r.FreshChunks,
		&r.ValidationErrors, &r.ValidationWarnings, &finished,
	)
	if err != nil {
		return Run{}, err
	}
	r.Elapsed = time.Duration(elapsed)
	if t, err := time.Parse(time.RFC3339Nano, finished); err == nil {
		r.FinishedAt = t
	}
	return r, nil
}

// Recent returns the most recent runs, newest first. limit <= 0 means all.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ByDocument returns all runs for one document, newest first.
func (s *Store) ByDocument(ctx context.Context, docName string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE doc_name = ? ORDER BY id DESC`, docName)
	if err != nil {
		return nil, fmt.Errorf("querying runs for %s: %w", docName, err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Totals aggregates the whole run history.
type Totals struct {
	Runs      int
	Documents int
	Pages     int
	Usage     types.Usage
	CostUSD   float64
	Elapsed   time.Duration
}

// Summarize computes aggregate totals across all recorded runs.
func (s *Store) Summarize(ctx context.Context) (Totals, error) {
	var t Totals
	var elapsed sql.NullInt64
	var cost sql.NullFloat64
	var pages, in, out, cw, cr sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*), count(DISTINCT doc_name),
			sum(pages), sum(input_tokens), sum(output_tokens),
			sum(cache_creation_tokens), sum(cache_read_tokens),
			sum(cost_usd), sum(elapsed_ns)
		 FROM runs`,
	).Scan(&t.Runs, &t.Documents, &pages, &in, &out, &cw, &cr, &cost, &elapsed)
	if err != nil {
		return Totals{}, fmt.Errorf("summarizing runs: %w", err)
	}
	t.Pages = int(pages.Int64)
	t.Usage = types.Usage{
		InputTokens:         int(in.Int64),
		OutputTokens:        int(out.Int64),
		CacheCreationTokens: int(cw.Int64),
		CacheReadTokens:     int(cr.Int64),
	}
	t.CostUSD = cost.Float64
	t.Elapsed = time.Duration(elapsed.Int64)
	return t, nil
}
