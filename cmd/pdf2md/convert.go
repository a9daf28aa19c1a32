// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/pdiddy/pdf2md/internal/claude"
	"github.com/pdiddy/pdf2md/internal/convert"
	"github.com/pdiddy/pdf2md/internal/ledger"
	"github.com/pdiddy/pdf2md/internal/markers"
	"github.com/pdiddy/pdf2md/internal/pipeline"
	"github.com/pdiddy/pdf2md/internal/rules"
	"github.com/pdiddy/pdf2md/internal/secrets"
	"github.com/pdiddy/pdf2md/internal/tablefix"
	"github.com/pdiddy/pdf2md/pkg/types"
)

const defaultRetries = 10

var convertCmd = &cobra.Command{
	Use:   "convert [pdfs...]",
	Short: "Convert PDF files to Markdown",
	Long: `Convert sends each PDF to the Claude API in page chunks and writes the
merged Markdown next to the input file (or under --output-dir). Chunks are
cached in a .staging/ directory; rerunning an interrupted conversion only
converts the chunks that are still missing.

Multiple PDFs are converted in parallel. Pass -j to control the worker
count; a bare -j uses one worker per document.

The API key comes from the ANTHROPIC_API_KEY environment variable or an
anthropic-api-key file inside .secrets/.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringP("output-dir", "o", "", "directory for output files (default: next to each PDF)")
	convertCmd.Flags().IntP("jobs", "j", 1, "parallel document workers (bare -j: one per document)")
	convertCmd.Flags().Lookup("jobs").NoOptDefVal = "0"
	convertCmd.Flags().String("model", types.DefaultModel, fmt.Sprintf("model alias or full model ID %v", types.ModelAliases()))
	convertCmd.Flags().Int("pages-per-chunk", convert.DefaultPagesPerChunk, "PDF pages per API request")
	convertCmd.Flags().Int("max-pages", 0, "convert only the first N pages (0: all)")
	convertCmd.Flags().Int("retries", defaultRetries, "retry attempts per chunk for transient API failures")
	convertCmd.Flags().Bool("cache", false, "enable prompt caching for the PDF document block")
	convertCmd.Flags().BoolP("force", "f", false, "reconvert even when output exists and chunks are cached")
	convertCmd.Flags().String("rules", "", "conversion rules file (default: auto-discover .pdf2md.rules next to each PDF)")
	convertCmd.Flags().String("from", "", `resume from a pipeline stage ("merge": remerge existing chunks, no API calls)`)
	convertCmd.Flags().Bool("strip-ai-descriptions", false, "remove AI image description blocks from the output")
	convertCmd.Flags().Bool("no-format", false, "skip HTML table prettification")
	convertCmd.Flags().Bool("fatal-validation", false, "treat validation errors as conversion failures")

	rootCmd.AddCommand(convertCmd)
}

// convertOptions carries the resolved convert flags to the per-document
// workers.
type convertOptions struct {
	model         types.ModelConfig
	outputDir     string
	pagesPerChunk int
	maxPages      int
	retries       int
	cache         bool
	force         bool
	fromStep      string
	stripDesc     bool
	noFormat      bool
	fatalValid    bool
	key           string
	rulesFor      func(pdfPath string) (string, error)
}

const (
	statusConverted = "converted"
	statusCached    = "cached"
	statusFailed    = "failed"
)

type docResult struct {
	name   string
	status string
	stats  types.DocumentUsage
}

func runConvert(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	fromStep, _ := cmd.Flags().GetString("from")
	if fromStep != "" && fromStep != "merge" {
		return fmt.Errorf("unknown --from stage %q (supported: merge)", fromStep)
	}
	if fromStep != "" && force {
		return fmt.Errorf("--from and --force are mutually exclusive")
	}

	modelName, _ := cmd.Flags().GetString("model")
	model, err := types.LookupModel(modelName)
	if err != nil {
		return err
	}

	pagesPerChunk, _ := cmd.Flags().GetInt("pages-per-chunk")
	if pagesPerChunk < 1 {
		return fmt.Errorf("--pages-per-chunk must be at least 1")
	}
	if pagesPerChunk > model.MaxPDFPages {
		return fmt.Errorf("--pages-per-chunk %d exceeds the %d-page API limit for %s",
			pagesPerChunk, model.MaxPDFPages, model.DisplayName)
	}

	pdfs, err := resolvePDFs(args)
	if err != nil {
		return err
	}

	key := secrets.AnthropicAPIKey(secrets.DefaultDir)
	if key == "" && fromStep != "merge" {
		return fmt.Errorf("no API key: set ANTHROPIC_API_KEY or create .secrets/anthropic-api-key")
	}

	outputDir, _ := cmd.Flags().GetString("output-dir")
	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	maxPages, _ := cmd.Flags().GetInt("max-pages")
	retries, _ := cmd.Flags().GetInt("retries")
	cache, _ := cmd.Flags().GetBool("cache")
	stripDesc, _ := cmd.Flags().GetBool("strip-ai-descriptions")
	noFormat, _ := cmd.Flags().GetBool("no-format")
	fatalValid, _ := cmd.Flags().GetBool("fatal-validation")
	rulesPath, _ := cmd.Flags().GetString("rules")

	reg := markers.NewRegistry()
	opts := convertOptions{
		model:         model,
		outputDir:     outputDir,
		pagesPerChunk: pagesPerChunk,
		maxPages:      maxPages,
		retries:       retries,
		cache:         cache,
		force:         force,
		fromStep:      fromStep,
		stripDesc:     stripDesc,
		noFormat:      noFormat,
		fatalValid:    fatalValid,
		key:           key,
		rulesFor:      rulesResolver(reg, rulesPath),
	}

	jobs, _ := cmd.Flags().GetInt("jobs")
	if jobs <= 0 {
		jobs = len(pdfs)
	}
	if jobs > len(pdfs) {
		jobs = len(pdfs)
	}

	store, err := ledger.Open(ledger.DefaultPath())
	if err != nil {
		slog.Warn("conversion ledger unavailable", "error", err)
		store = nil
	} else {
		defer store.Close()
	}

	results := make([]docResult, len(pdfs))
	sem := make(chan struct{}, jobs)
	var wg sync.WaitGroup
	for i, pdf := range pdfs {
		wg.Add(1)
		go func(i int, pdf string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = convertDoc(cmd.Context(), reg, pdf, opts, store)
		}(i, pdf)
	}
	wg.Wait()

	var docs []types.DocumentUsage
	var failed int
	for _, r := range results {
		if r.status == statusFailed {
			failed++
			continue
		}
		docs = append(docs, r.stats)
	}
	if len(docs) > 0 {
		fmt.Println()
		fmt.Print(types.FormatSummary(model, docs))
	}
	if failed > 0 {
		return fmt.Errorf("%d document(s) failed conversion", failed)
	}
	return nil
}

// resolvePDFs checks that every argument is an existing PDF file.
func resolvePDFs(args []string) ([]string, error) {
	pdfs := make([]string, 0, len(args))
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("pdf %s: %w", arg, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("pdf %s is a directory", arg)
		}
		pdfs = append(pdfs, arg)
	}
	return pdfs, nil
}

// rulesResolver returns a function mapping a PDF path to its system prompt.
// An explicit --rules file applies to every document; otherwise each PDF
// auto-discovers a rules file in its own directory. Parsed rules files are
// cached by path, since sibling PDFs usually share one.
func rulesResolver(reg *markers.Registry, explicit string) func(string) (string, error) {
	var mu sync.Mutex
	cache := map[string]string{}
	return func(pdfPath string) (string, error) {
		path := explicit
		if path == "" {
			path = rules.Discover(pdfPath)
		}
		if path == "" {
			return "", nil
		}
		mu.Lock()
		defer mu.Unlock()
		if sys, ok := cache[path]; ok {
			return sys, nil
		}
		sys, err := rules.Load(path, reg)
		if err != nil {
			return "", fmt.Errorf("rules %s: %w", path, err)
		}
		slog.Info("using rules file", "path", path)
		cache[path] = sys
		return sys, nil
	}
}

func docName(pdfPath string) string {
	base := filepath.Base(pdfPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// convertDoc runs the full pipeline for one PDF and reports its outcome.
// Errors never propagate past this function; a failed document is logged
// and counted so the other workers keep going.
func convertDoc(ctx context.Context, reg *markers.Registry, pdfPath string, opts convertOptions, store *ledger.Store) docResult {
	name := docName(pdfPath)
	log := slog.Default().With("doc", name)
	out := pipeline.ResolveOutput(pdfPath, opts.outputDir)

	systemPrompt, err := opts.rulesFor(pdfPath)
	if err != nil {
		log.Error("conversion failed", "error", err)
		return docResult{name: name, status: statusFailed}
	}

	fixer := &tablefix.Fixer{
		Backend: &claude.Client{
			APIKey:     opts.key,
			Model:      opts.model,
			MaxRetries: opts.retries,
			Thinking:   opts.model.SupportsAdaptiveThinking,
		},
		Model:    opts.model,
		Registry: reg,
		Log:      log,
	}
	steps := []pipeline.Step{
		pipeline.MergeTablesStep{Registry: reg},
		pipeline.FixTablesStep{Fixer: fixer},
	}
	if opts.stripDesc {
		steps = append(steps, pipeline.StripDescriptionsStep{Registry: reg})
	}
	if !opts.noFormat {
		steps = append(steps, pipeline.FormatStep{})
	}
	steps = append(steps, pipeline.ValidateStep{Registry: reg})

	p := pipeline.New(reg, steps, pdfPath, out, log)
	p.FatalValidation = opts.fatalValid

	var res pipeline.Result
	if opts.fromStep == "merge" {
		res, err = p.Remerge(ctx)
	} else {
		if !p.NeedsConversion(opts.force, opts.model.ModelID) {
			stats := p.LoadCachedStats()
			cost := 0.0
			if stats != nil {
				cost = stats.TotalCost()
			} else {
				stats = &types.DocumentUsage{DocName: name}
			}
			log.Info("cached, skipping conversion", "output", out, "cost_usd", fmt.Sprintf("%.2f", cost))
			return docResult{name: name, status: statusCached, stats: *stats}
		}
		pagesPerChunk := p.ResolvePagesPerChunk(opts.pagesPerChunk, opts.force)
		conv := &convert.Converter{
			Backend: &claude.Client{
				APIKey:        opts.key,
				Model:         opts.model,
				MaxRetries:    opts.retries,
				EnableCaching: opts.cache,
			},
			Model:        opts.model,
			Registry:     reg,
			SystemPrompt: systemPrompt,
			Log:          log,
		}
		res, err = p.Convert(ctx, conv, pagesPerChunk, opts.maxPages, opts.force)
	}
	if err != nil {
		log.Error("conversion failed", "error", err)
		return docResult{name: name, status: statusFailed}
	}

	recordRun(ctx, store, pdfPath, opts.model.ModelID, res, log)
	return docResult{name: name, status: statusConverted, stats: res.Stats}
}

// recordRun appends a finished conversion to the ledger. Ledger failures
// never fail the document.
func recordRun(ctx context.Context, store *ledger.Store, pdfPath, modelID string, res pipeline.Result, log *slog.Logger) {
	if store == nil {
		return
	}
	usage := res.Stats.Usage
	for _, s := range res.Stats.Stages {
		usage.Add(s.Usage)
	}
	run := ledger.Run{
		DocName:      docName(pdfPath),
		PDFPath:      pdfPath,
		OutputPath:   res.OutputFile,
		ModelID:      modelID,
		Pages:        res.Stats.Pages,
		Chunks:       res.Stats.Chunks,
		Usage:        usage,
		CostUSD:      res.Stats.TotalCost(),
		Elapsed:      res.Stats.TotalElapsed(),
		CachedChunks: res.CachedChunks,
		FreshChunks:  res.FreshChunks,
	}
	if res.Issues != nil {
		run.ValidationErrors = len(res.Issues.Errors())
		run.ValidationWarnings = len(res.Issues.Warnings())
	}
	if _, err := store.Record(ctx, run); err != nil {
		log.Warn("ledger record failed", "error", err)
	}
}
