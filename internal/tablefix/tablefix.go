// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package tablefix regenerates complex HTML tables from the source PDF.
// Tables carrying colspan or rowspan attributes are re-read from their PDF
// pages with extended thinking enabled, and the regenerated HTML replaces
// the original in place. Results are cached in the work directory keyed by
// a content hash of the merged Markdown.
package tablefix

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/pdiddy/pdf2md/internal/claude"
	"github.com/pdiddy/pdf2md/internal/markers"
	"github.com/pdiddy/pdf2md/internal/pdfutil"
	"github.com/pdiddy/pdf2md/internal/prompt"
	"github.com/pdiddy/pdf2md/internal/workdir"
	"github.com/pdiddy/pdf2md/pkg/types"
)

const (
	// contextLinesBefore and contextLinesAfter bound the non-empty lines of
	// surrounding document text included in the regeneration prompt.
	contextLinesBefore = 3
	contextLinesAfter  = 3
)

var extractPages = pdfutil.ExtractPages

// spanAttrRE detects colspan or rowspan attributes in table HTML.
var spanAttrRE = regexp.MustCompile(`(?i)(?:col|row)span\s*=`)

// tableTitleRE matches a table caption line, e.g. "Table 6" or "Table A.2".
var tableTitleRE = regexp.MustCompile(`(?i)\btable\s+([A-Za-z]?\d+(?:[.-]\d+)*)`)

// ComplexTable is one table selected for regeneration: merged cells make
// structural errors likely in the first-pass conversion.
type ComplexTable struct {
	// HTML is the full <table>...</table> block.
	HTML string

	// Start and End are the block's byte offsets in the merged Markdown.
	Start int
	End   int

	// Pages are the document pages the table spans, resolved from the
	// enclosing page markers.
	Pages []int

	// Label names the table for logs and result files, e.g. "Table 6".
	Label string
}

// FindComplexTables returns every HTML table in markdown that uses colspan
// or rowspan, in document order.
func FindComplexTables(reg *markers.Registry, markdown string) []ComplexTable {
	var found []ComplexTable
	for _, loc := range markers.TableBlock.FindAllStringIndex(markdown, -1) {
		html := markdown[loc[0]:loc[1]]
		if !spanAttrRE.MatchString(html) {
			continue
		}
		label := tableTitle(markdown, loc[0])
		if label == "" {
			label = "HTML table"
		}
		found = append(found, ComplexTable{
			HTML:  html,
			Start: loc[0],
			End:   loc[1],
			Pages: tablePages(reg, markdown, loc[0], loc[1]),
			Label: label,
		})
	}
	return found
}

// tablePages resolves the document pages a table spans: the page open at the
// table's start plus every page that begins inside the table block.
func tablePages(reg *markers.Registry, markdown string, start, end int) []int {
	var pages []int
	last := -1
	for _, m := range reg.PageBegin.ValuePattern().FindAllStringSubmatchIndex(markdown, -1) {
		if m[0] >= end {
			break
		}
		page := atoiOrZero(markdown[m[2]:m[3]])
		if page == 0 {
			continue
		}
		if m[0] < start {
			last = page
			continue
		}
		pages = append(pages, page)
	}
	if last > 0 && (len(pages) == 0 || pages[0] != last) {
		pages = append([]int{last}, pages...)
	}
	return pages
}

func atoiOrZero(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// tableTitle scans the non-empty lines above a table for a caption naming
// it, returning e.g. "Table 6", or "" when no caption is found nearby.
func tableTitle(markdown string, start int) string {
	lines := strings.Split(markdown[:start], "\n")
	seen := 0
	for i := len(lines) - 1; i >= 0 && seen < 4; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		seen++
		if m := tableTitleRE.FindStringSubmatch(line); m != nil {
			return "Table " + m[1]
		}
	}
	return ""
}

// contextLines extracts n non-empty lines adjacent to a byte position,
// preserving their original formatting. before selects the direction.
func contextLines(markdown string, pos, n int, before bool) string {
	lines := strings.Split(markdown, "\n")
	target := strings.Count(markdown[:pos], "\n")

	var picked []string
	if before {
		for i := target - 1; i >= 0 && len(picked) < n; i-- {
			if strings.TrimSpace(lines[i]) != "" {
				picked = append([]string{lines[i]}, picked...)
			}
		}
	} else {
		for i := target + 1; i < len(lines) && len(picked) < n; i++ {
			if strings.TrimSpace(lines[i]) != "" {
				picked = append(picked, lines[i])
			}
		}
	}
	return strings.Join(picked, "\n")
}

var fixPromptTmpl = template.Must(template.New("tablefix").Parse(
	"Please regenerate this complex table by reading directly from the PDF pages.\n" +
		"\n" +
		"**Table identification:** {{.Label}}\n" +
		"\n" +
		"**Previous extraction (for reference only — complex table with merged cells):**\n" +
		"```html\n" +
		"{{.HTML}}\n" +
		"```\n" +
		"\n" +
		"**Context before:**\n" +
		"{{.Before}}\n" +
		"\n" +
		"**Context after:**\n" +
		"{{.After}}\n" +
		"\n" +
		"Generate the complete, correctly structured table from the PDF with proper colspan/rowspan attributes.\n"))

type fixPromptData struct {
	Label  string
	HTML   string
	Before string
	After  string
}

// Backend is the API surface the fixer needs. The client should have
// extended thinking enabled; structural analysis of merged cells is the
// whole point of the second pass.
type Backend interface {
	Call(ctx context.Context, req claude.Request) (claude.Result, error)
}

// Fixer regenerates complex tables one at a time.
type Fixer struct {
	Backend  Backend
	Model    types.ModelConfig
	Registry *markers.Registry
	Log      *slog.Logger
}

type fixOutcome struct {
	html    string
	usage   types.Usage
	costUSD float64
	elapsed time.Duration
}

// Fix regenerates every complex table in markdown and returns the updated
// text plus aggregate stats. When dir holds cached results for an identical
// input hash, the cached output is returned without any API calls. Tables
// whose regeneration fails are left unchanged; the error return is reserved
// for cache persistence failures.
func (f *Fixer) Fix(ctx context.Context, pdfPath string, dir *workdir.Dir, markdown string) (string, workdir.TableFixStats, error) {
	log := f.Log
	if log == nil {
		log = slog.Default()
	}

	tables := FindComplexTables(f.Registry, markdown)
	if len(tables) == 0 {
		log.Debug("no complex tables detected")
		return markdown, workdir.TableFixStats{}, nil
	}
	log.Info("complex tables found", "count", len(tables))

	inputHash := ""
	if dir != nil {
		var err error
		inputHash, err = dir.ContentHashGlob("merged.md")
		if err != nil {
			return "", workdir.TableFixStats{}, fmt.Errorf("hashing merged markdown: %w", err)
		}
		if cached := dir.LoadTableFixStats(); cached != nil && inputHash != "" && cached.InputHash == inputHash {
			if out, ok := dir.LoadTableFixOutput(); ok {
				log.Info("table fixes cached",
					"tables", cached.TablesFixed,
					"cost_usd", fmt.Sprintf("%.4f", cached.CostUSD))
				return out, *cached, nil
			}
		}
		if err := dir.ClearTableFix(); err != nil {
			return "", workdir.TableFixStats{}, fmt.Errorf("clearing stale table fixes: %w", err)
		}
	}

	system := prompt.TableFixSystem(f.Registry)
	stats := workdir.TableFixStats{TablesFound: len(tables), InputHash: inputHash}

	// Last to first, so earlier tables' offsets stay valid as text is
	// spliced.
	for i := len(tables) - 1; i >= 0; i-- {
		t := tables[i]
		out, err := f.fixOne(ctx, pdfPath, t, markdown, system, log)
		if err != nil {
			log.Warn("table regeneration failed, leaving unchanged", "table", t.Label, "err", err)
			continue
		}

		stats.TablesFixed++
		stats.Usage.Add(out.usage)
		stats.CostUSD += out.costUSD
		stats.Elapsed += out.elapsed

		if dir != nil {
			err := dir.SaveTableFix(workdir.TableFixResult{
				Index:       i,
				Label:       t.Label,
				PageNumbers: t.Pages,
				Usage:       out.usage,
				CostUSD:     out.costUSD,
				Elapsed:     out.elapsed,
				BeforeChars: len(t.HTML),
				AfterChars:  len(out.html),
			}, t.HTML, out.html)
			if err != nil {
				return "", workdir.TableFixStats{}, fmt.Errorf("saving table fix %q: %w", t.Label, err)
			}
		}

		markdown = markdown[:t.Start] + out.html + markdown[t.End:]
	}

	if dir != nil {
		if err := dir.SaveTableFixStats(stats); err != nil {
			return "", workdir.TableFixStats{}, fmt.Errorf("saving table fix stats: %w", err)
		}
		if err := dir.SaveTableFixOutput(markdown); err != nil {
			return "", workdir.TableFixStats{}, fmt.Errorf("saving table fix output: %w", err)
		}
	}

	log.Info("table regeneration done",
		"fixed", stats.TablesFixed, "found", stats.TablesFound,
		"input_tokens", stats.Usage.TotalInput(),
		"output_tokens", stats.Usage.OutputTokens,
		"cost_usd", fmt.Sprintf("%.4f", stats.CostUSD),
		"elapsed", types.FormatDuration(stats.Elapsed))
	return markdown, stats, nil
}

// fixOne regenerates a single table from its PDF pages.
func (f *Fixer) fixOne(ctx context.Context, pdfPath string, t ComplexTable, markdown, system string, log *slog.Logger) (fixOutcome, error) {
	if len(t.Pages) == 0 {
		return fixOutcome{}, fmt.Errorf("no page markers locate the table in the PDF")
	}
	pageStart, pageEnd := t.Pages[0], t.Pages[0]
	for _, p := range t.Pages[1:] {
		if p < pageStart {
			pageStart = p
		}
		if p > pageEnd {
			pageEnd = p
		}
	}

	pdfData, err := extractPages(pdfPath, pageStart, pageEnd)
	if err != nil {
		return fixOutcome{}, fmt.Errorf("extracting pages %d-%d: %w", pageStart, pageEnd, err)
	}

	var buf bytes.Buffer
	err = fixPromptTmpl.Execute(&buf, fixPromptData{
		Label:  t.Label,
		HTML:   t.HTML,
		Before: contextLines(markdown, t.Start, contextLinesBefore, true),
		After:  contextLines(markdown, t.End, contextLinesAfter, false),
	})
	if err != nil {
		return fixOutcome{}, fmt.Errorf("rendering regeneration prompt: %w", err)
	}

	log.Info("regenerating table", "table", t.Label, "pages", fmt.Sprintf("%d-%d", pageStart, pageEnd))

	start := time.Now()
	res, err := f.Backend.Call(ctx, claude.Request{
		System:    system,
		Prompt:    buf.String(),
		PDFData:   pdfData,
		MaxTokens: f.Model.MaxOutputTokens,
	})
	if err != nil {
		return fixOutcome{}, err
	}
	elapsed := time.Since(start)

	corrected := markers.TableBlock.FindString(res.Text)
	if corrected == "" {
		return fixOutcome{}, fmt.Errorf("response contains no <table> block")
	}

	cost := f.Model.RequestCost(res.Usage)
	log.Info("table regenerated",
		"table", t.Label,
		"chars", len(corrected),
		"input_tokens", res.Usage.TotalInput(),
		"output_tokens", res.Usage.OutputTokens,
		"cost_usd", fmt.Sprintf("%.4f", cost),
		"elapsed", types.FormatDuration(elapsed))

	return fixOutcome{html: corrected, usage: res.Usage, costUSD: cost, elapsed: elapsed}, nil
}
