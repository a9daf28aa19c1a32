// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline orchestrates single-document conversion: work directory
// management, chunked conversion, deterministic merge, an ordered list of
// processing steps, and output writing.
//
// After merging, each Step runs in order against a shared Context. Steps
// transform the Markdown, append validation issues, or both. A step error
// is fatal: the pipeline stops without writing the output file, leaving the
// persisted chunks intact for a later resume.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pdiddy/pdf2md/internal/convert"
	"github.com/pdiddy/pdf2md/internal/format"
	"github.com/pdiddy/pdf2md/internal/markers"
	"github.com/pdiddy/pdf2md/internal/merge"
	"github.com/pdiddy/pdf2md/internal/tablefix"
	"github.com/pdiddy/pdf2md/internal/validate"
	"github.com/pdiddy/pdf2md/internal/workdir"
	"github.com/pdiddy/pdf2md/pkg/types"
)

// State tracks where a document is in its conversion lifecycle.
type State int

const (
	StateNeedsConversion State = iota
	StateConverting
	StateMerging
	StatePostProcessing
	StateWritten
	StateFailed
)

var stateNames = [...]string{
	"needs-conversion", "converting", "merging", "post-processing",
	"written", "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ResolveOutput returns the output Markdown path for a PDF: next to the
// source by default, or inside outputDir when set.
func ResolveOutput(pdfPath, outputDir string) string {
	base := filepath.Dir(pdfPath)
	if outputDir != "" {
		base = outputDir
	}
	stem := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
	return filepath.Join(base, stem+".md")
}

// StagingPath returns the work directory path for an output file,
// e.g. "doc.md" -> "doc.staging".
func StagingPath(outputFile string) string {
	return strings.TrimSuffix(outputFile, filepath.Ext(outputFile)) + ".staging"
}

// Context is the shared mutable state passed through all processing steps.
type Context struct {
	// Markdown is the current document text. Steps replace it.
	Markdown string

	// PDFPath is the source PDF, or "" when unavailable.
	PDFPath string

	// OutputFile is the target path for the final Markdown.
	OutputFile string

	// Dir is the document's work directory.
	Dir *workdir.Dir

	// Issues accumulates validation findings.
	Issues *validate.Result

	Log *slog.Logger
}

// Step is one processing stage run after chunk merging.
type Step interface {
	Name() string
	Run(ctx context.Context, p *Context) error
}

// StepTiming records one step's execution time.
type StepTiming struct {
	Name    string
	Elapsed time.Duration
}

// MergeTablesStep splices continuation tables into their preceding tables.
type MergeTablesStep struct {
	Registry *markers.Registry
}

func (MergeTablesStep) Name() string { return "merge continued tables" }

func (s MergeTablesStep) Run(_ context.Context, p *Context) error {
	p.Markdown = merge.New(s.Registry, p.Log).MergeContinuedTables(p.Markdown)
	return nil
}

// FixTablesStep regenerates complex tables from the source PDF. Skipped
// with a warning when no API-backed fixer is configured, so offline runs
// (remerge, tests) pass through unchanged.
type FixTablesStep struct {
	Fixer *tablefix.Fixer
}

func (FixTablesStep) Name() string { return "fix tables" }

func (s FixTablesStep) Run(ctx context.Context, p *Context) error {
	if s.Fixer == nil || s.Fixer.Backend == nil {
		p.Log.Warn("API client not available, skipping table fixes")
		return nil
	}
	if p.PDFPath == "" {
		p.Log.Warn("source PDF not available, skipping table fixes")
		return nil
	}
	out, _, err := s.Fixer.Fix(ctx, p.PDFPath, p.Dir, p.Markdown)
	if err != nil {
		return err
	}
	p.Markdown = out
	return nil
}

var consecutiveBlankLinesRE = regexp.MustCompile(`\n{3,}`)

// StripDescriptionsStep removes AI-generated image description blocks,
// markers included, and collapses the blank lines left behind.
type StripDescriptionsStep struct {
	Registry *markers.Registry
}

func (StripDescriptionsStep) Name() string { return "strip AI descriptions" }

func (s StripDescriptionsStep) Run(_ context.Context, p *Context) error {
	p.Markdown = s.Registry.DescBlock.ReplaceAllString(p.Markdown, "")
	p.Markdown = consecutiveBlankLinesRE.ReplaceAllString(p.Markdown, "\n\n")
	return nil
}

// FormatStep prettifies HTML tables and normalizes spacing.
type FormatStep struct{}

func (FormatStep) Name() string { return "format" }

func (FormatStep) Run(_ context.Context, p *Context) error {
	p.Markdown = format.Format(p.Markdown)
	return nil
}

// ValidateStep audits the converted Markdown and, when the source PDF is
// available, cross-checks per-page text fidelity.
type ValidateStep struct {
	Registry *markers.Registry
}

func (ValidateStep) Name() string { return "validate" }

func (s ValidateStep) Run(_ context.Context, p *Context) error {
	v := validate.New(s.Registry, p.Log)
	res := v.Validate(p.Markdown)
	if p.PDFPath != "" {
		v.CheckPageFidelity(p.PDFPath, p.Markdown, res)
	}
	p.Issues = res
	res.Log(p.Log)
	if !res.OK() {
		p.Log.Warn("validation found problems",
			"errors", len(res.Errors()), "warnings", len(res.Warnings()))
	}
	return nil
}

// Result is what the CLI consumes after a pipeline run. The merged
// Markdown itself stays on disk.
type Result struct {
	Stats        types.DocumentUsage
	OutputFile   string
	Issues       *validate.Result
	CachedChunks int
	FreshChunks  int
	StepTimings  []StepTiming
}

// Pipeline runs the full conversion flow for one document.
type Pipeline struct {
	Registry *markers.Registry
	Steps    []Step

	// FatalValidation aborts before the output write when the steps
	// recorded any error-severity issue. Persisted chunks stay intact.
	FatalValidation bool

	pdfPath    string
	outputFile string
	dir        *workdir.Dir
	log        *slog.Logger
	state      State
}

// New builds a pipeline for one document. The work directory is derived
// from the output path.
func New(reg *markers.Registry, steps []Step, pdfPath, outputFile string, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		Registry:   reg,
		Steps:      steps,
		pdfPath:    pdfPath,
		outputFile: outputFile,
		dir:        workdir.New(StagingPath(outputFile), log),
		log:        log,
		state:      StateNeedsConversion,
	}
}

// Dir exposes the document's work directory.
func (p *Pipeline) Dir() *workdir.Dir { return p.dir }

// State reports the current lifecycle state.
func (p *Pipeline) State() State { return p.state }

func (p *Pipeline) setState(s State) {
	p.log.Debug("pipeline state", "from", p.state.String(), "to", s.String())
	p.state = s
}

// ResolvePagesPerChunk returns the effective chunk size. An existing
// manifest wins over the requested value so cached chunks stay valid;
// force skips the manifest and uses the requested value as-is.
func (p *Pipeline) ResolvePagesPerChunk(requested int, force bool) int {
	if force {
		return requested
	}
	m := p.dir.LoadManifest()
	if m == nil {
		return requested
	}
	if m.PagesPerChunk != requested {
		p.log.Warn("using pages-per-chunk from existing work directory",
			"effective", m.PagesPerChunk, "requested", requested)
	}
	return m.PagesPerChunk
}

// LoadCachedStats returns previously saved usage stats, or nil.
func (p *Pipeline) LoadCachedStats() *types.DocumentUsage {
	return p.dir.LoadCombinedStats()
}

// NeedsConversion reports whether the document must be (re)converted:
// forced runs, missing output, or an output produced by a different model.
func (p *Pipeline) NeedsConversion(force bool, modelID string) bool {
	if force {
		return true
	}
	if _, err := os.Stat(p.outputFile); err != nil {
		return true
	}
	if modelID != "" {
		if m := p.dir.LoadManifest(); m != nil && m.ModelID != modelID {
			return true
		}
		// Missing manifest with an existing output is fine; the user may
		// have removed the staging directory.
	}
	return false
}

// Convert runs the full pipeline: chunked conversion with disk resume,
// merge, processing steps, output write.
func (p *Pipeline) Convert(ctx context.Context, conv *convert.Converter, pagesPerChunk, maxPages int, force bool) (Result, error) {
	if force {
		if err := p.dir.Invalidate(); err != nil {
			p.setState(StateFailed)
			return Result{}, fmt.Errorf("invalidating work directory: %w", err)
		}
	}

	p.setState(StateConverting)
	cr, err := conv.Convert(ctx, p.pdfPath, p.dir, pagesPerChunk, maxPages)
	if err != nil {
		p.setState(StateFailed)
		return Result{}, err
	}

	parts, err := p.loadChunks(cr.Stats.Chunks)
	if err != nil {
		p.setState(StateFailed)
		return Result{}, err
	}

	pctx, timings, err := p.process(ctx, parts)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Stats:        cr.Stats,
		OutputFile:   p.outputFile,
		Issues:       pctx.Issues,
		CachedChunks: cr.CachedChunks,
		FreshChunks:  cr.FreshChunks,
		StepTimings:  timings,
	}, nil
}

// Remerge reruns merge, steps, and output write from cached chunks with no
// collaborator calls. Errors when the staging directory or any chunk is
// missing.
func (p *Pipeline) Remerge(ctx context.Context) (Result, error) {
	if _, err := os.Stat(p.dir.Path()); err != nil {
		return Result{}, fmt.Errorf(
			"staging directory not found: %s (run a full conversion first)", p.dir.Path())
	}

	numChunks, err := p.dir.ChunkCount()
	if err != nil {
		return Result{}, err
	}
	totalPages, err := p.dir.TotalPages()
	if err != nil {
		return Result{}, err
	}
	p.log.Info("re-merging cached chunks", "chunks", numChunks, "pages", totalPages)

	var missing []string
	for i := 0; i < numChunks; i++ {
		if !p.dir.HasChunk(i) {
			missing = append(missing, fmt.Sprintf("%d", i+1))
		}
	}
	if len(missing) > 0 {
		return Result{}, fmt.Errorf(
			"missing chunks: %s (run a full conversion to generate them)",
			strings.Join(missing, ", "))
	}

	parts, err := p.loadChunks(numChunks)
	if err != nil {
		return Result{}, err
	}

	pctx, timings, err := p.process(ctx, parts)
	if err != nil {
		return Result{}, err
	}

	stats := p.dir.LoadCombinedStats()
	if stats == nil {
		stats = &types.DocumentUsage{
			DocName: strings.TrimSuffix(filepath.Base(p.outputFile), filepath.Ext(p.outputFile)),
			Chunks:  numChunks,
		}
	}

	return Result{
		Stats:        *stats,
		OutputFile:   p.outputFile,
		Issues:       pctx.Issues,
		CachedChunks: numChunks,
		StepTimings:  timings,
	}, nil
}

func (p *Pipeline) loadChunks(numChunks int) ([]string, error) {
	parts := make([]string, numChunks)
	for i := 0; i < numChunks; i++ {
		md, err := p.dir.LoadChunkMarkdown(i)
		if err != nil {
			return nil, fmt.Errorf("loading chunk %d: %w", i, err)
		}
		parts[i] = md
	}
	return parts, nil
}

// process merges chunk parts, runs every step in order, and writes the
// output file. Shared by Convert and Remerge.
func (p *Pipeline) process(ctx context.Context, parts []string) (*Context, []StepTiming, error) {
	p.setState(StateMerging)
	markdown := merge.New(p.Registry, p.log).MergeChunks(parts)
	if err := p.dir.SaveMerged(markdown); err != nil {
		p.setState(StateFailed)
		return nil, nil, fmt.Errorf("saving merged markdown: %w", err)
	}

	pctx := &Context{
		Markdown:   markdown,
		PDFPath:    p.pdfPath,
		OutputFile: p.outputFile,
		Dir:        p.dir,
		Issues:     &validate.Result{},
		Log:        p.log,
	}

	p.setState(StatePostProcessing)
	var timings []StepTiming
	for _, step := range p.Steps {
		p.log.Info("step", "name", step.Name())
		t0 := time.Now()
		if err := step.Run(ctx, pctx); err != nil {
			p.setState(StateFailed)
			return nil, nil, fmt.Errorf("step %q: %w", step.Name(), err)
		}
		timings = append(timings, StepTiming{Name: step.Name(), Elapsed: time.Since(t0)})
	}

	if p.FatalValidation {
		if errs := pctx.Issues.Errors(); len(errs) > 0 {
			p.setState(StateFailed)
			return nil, nil, fmt.Errorf("validation found %d error(s)", len(errs))
		}
	}

	if err := os.MkdirAll(filepath.Dir(p.outputFile), 0o755); err != nil {
		p.setState(StateFailed)
		return nil, nil, fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.WriteFile(p.outputFile, []byte(pctx.Markdown), 0o644); err != nil {
		p.setState(StateFailed)
		return nil, nil, fmt.Errorf("writing output: %w", err)
	}
	p.setState(StateWritten)
	p.log.Info("saved output", "path", p.outputFile,
		"lines", strings.Count(pctx.Markdown, "\n")+1)
	return pctx, timings, nil
}
