// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package convert implements chunked PDF-to-Markdown conversion through the
// Claude Messages API. A document is split into disjoint page ranges; each
// chunk is converted with the tail of the previous chunk as context and
// persisted immediately, so an interrupted run resumes at the first
// unconverted chunk.
package convert

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/pdf2md/internal/claude"
	"github.com/pdiddy/pdf2md/internal/markers"
	"github.com/pdiddy/pdf2md/internal/pdfutil"
	"github.com/pdiddy/pdf2md/internal/prompt"
	"github.com/pdiddy/pdf2md/internal/workdir"
	"github.com/pdiddy/pdf2md/pkg/types"
)

const (
	// DefaultPagesPerChunk balances output quality against API call count.
	DefaultPagesPerChunk = 10

	// contextMinPages is the minimum number of complete pages carried
	// forward as continuity context for the next chunk.
	contextMinPages = 3

	// contextMinLines extends the context tail one page at a time until
	// it spans at least this many lines.
	contextMinLines = 200
)

// PDF helpers as package-level vars for test substitution.
var (
	pageCount    = pdfutil.PageCount
	extractPages = pdfutil.ExtractPages
)

// Backend is the API surface the converter needs. *claude.Client satisfies
// it; tests substitute a canned implementation.
type Backend interface {
	Call(ctx context.Context, req claude.Request) (claude.Result, error)
}

// Converter converts PDFs to Markdown chunk by chunk. All cross-chunk state
// flows through the work directory on disk, never through loop variables.
type Converter struct {
	Backend  Backend
	Model    types.ModelConfig
	Registry *markers.Registry

	// SystemPrompt overrides the default system prompt when non-empty
	// (set from a custom rules file).
	SystemPrompt string

	Log *slog.Logger
}

// Result summarizes one document conversion.
type Result struct {
	Stats        types.DocumentUsage
	CachedChunks int
	FreshChunks  int
}

// Convert converts pdfPath to per-chunk Markdown under dir. pagesPerChunk
// bounds each API request; maxPages, when positive, caps the document at
// its first maxPages pages. Already-converted chunks found in dir are
// skipped. The aggregated stats are persisted to dir and returned.
func (c *Converter) Convert(ctx context.Context, pdfPath string, dir *workdir.Dir, pagesPerChunk, maxPages int) (Result, error) {
	if pagesPerChunk > c.Model.MaxPDFPages {
		return Result{}, fmt.Errorf("pages-per-chunk %d exceeds API limit of %d pages per request",
			pagesPerChunk, c.Model.MaxPDFPages)
	}

	log := c.Log
	if log == nil {
		log = slog.Default()
	}

	totalPages, err := pageCount(pdfPath)
	if err != nil {
		return Result{}, fmt.Errorf("counting pages: %w", err)
	}
	if maxPages > 0 && maxPages < totalPages {
		log.Info("limiting page range", "max_pages", maxPages, "total_pages", totalPages)
		totalPages = maxPages
	}

	chunks := PlanChunks(totalPages, pagesPerChunk)
	numChunks := len(chunks)
	log.Info("planned chunks",
		"pages", totalPages, "chunks", numChunks, "pages_per_chunk", pagesPerChunk)

	if _, err := dir.CreateOrValidate(pdfPath, totalPages, pagesPerChunk, maxPages, c.Model.ModelID, numChunks); err != nil {
		return Result{}, fmt.Errorf("validating work directory: %w", err)
	}

	sysPrompt := c.SystemPrompt
	if sysPrompt == "" {
		sysPrompt = prompt.System(c.Registry)
	}

	cached := 0
	conversionStart := time.Now()

	for _, chunk := range chunks {
		if dir.HasChunk(chunk.Index) {
			cached++
			log.Info("chunk cached, skipping",
				"chunk", chunk.Index+1, "of", numChunks,
				"pages", fmt.Sprintf("%d-%d", chunk.PageStart, chunk.PageEnd))
			continue
		}

		log.Info("converting chunk",
			"chunk", chunk.Index+1, "of", numChunks,
			"pages", fmt.Sprintf("%d-%d", chunk.PageStart, chunk.PageEnd))

		// Continuity context comes from disk, not from the previous
		// loop iteration.
		prevContext := ""
		if chunk.Index > 0 {
			prevContext = dir.LoadChunkContext(chunk.Index - 1)
		}

		userPrompt, err := prompt.ChunkPrompt(c.Registry, prompt.ChunkData{
			ChunkNum:        chunk.Index + 1,
			TotalChunks:     numChunks,
			ContextNote:     contextNote(chunk),
			PreviousContext: prevContext,
			PageStart:       chunk.PageStart,
			PageEnd:         chunk.PageEnd,
		})
		if err != nil {
			return Result{}, err
		}

		pdfData, err := extractPages(pdfPath, chunk.PageStart, chunk.PageEnd)
		if err != nil {
			return Result{}, fmt.Errorf("extracting pages %d-%d: %w", chunk.PageStart, chunk.PageEnd, err)
		}

		chunkStart := time.Now()
		res, err := c.Backend.Call(ctx, claude.Request{
			System:    sysPrompt,
			Prompt:    userPrompt,
			PDFData:   pdfData,
			MaxTokens: c.Model.MaxOutputTokens,
		})
		if err != nil {
			return Result{}, fmt.Errorf("chunk pages %d-%d: %w", chunk.PageStart, chunk.PageEnd, err)
		}
		chunkElapsed := time.Since(chunkStart)

		if res.Truncated() {
			return Result{}, fmt.Errorf(
				"chunk pages %d-%d truncated after %s (hit %d max output tokens): reduce --pages-per-chunk (currently %d)",
				chunk.PageStart, chunk.PageEnd, types.FormatDuration(chunkElapsed),
				c.Model.MaxOutputTokens, chunk.PageCount())
		}

		markdown := remapPageMarkers(c.Registry, res.Text, chunk.PageStart, log)
		tail := contextTail(c.Registry, markdown, contextMinPages, contextMinLines)

		log.Info("chunk done",
			"chunk", chunk.Index+1, "of", numChunks,
			"elapsed", types.FormatDuration(chunkElapsed),
			"input_tokens", res.Usage.TotalInput(),
			"output_tokens", res.Usage.OutputTokens)
		if res.Usage.CacheCreationTokens > 0 || res.Usage.CacheReadTokens > 0 {
			log.Info("cache",
				"written", res.Usage.CacheCreationTokens,
				"read", res.Usage.CacheReadTokens)
		}

		err = dir.SaveChunk(chunk.Index, markdown, tail, workdir.ChunkUsage{
			Index:     chunk.Index,
			PageStart: chunk.PageStart,
			PageEnd:   chunk.PageEnd,
			Usage:     res.Usage,
			CostUSD:   c.Model.RequestCost(res.Usage),
			Elapsed:   chunkElapsed,
		})
		if err != nil {
			return Result{}, fmt.Errorf("saving chunk %d: %w", chunk.Index, err)
		}
	}

	// Aggregate stats from disk so cached chunks count too.
	stats := types.DocumentUsage{
		DocName: docName(pdfPath),
		Pages:   totalPages,
		Chunks:  numChunks,
		Elapsed: time.Since(conversionStart),
	}
	for _, chunk := range chunks {
		cu, err := dir.LoadChunkUsage(chunk.Index)
		if err != nil {
			return Result{}, fmt.Errorf("loading chunk %d usage: %w", chunk.Index, err)
		}
		stats.Usage.Add(cu.Usage)
		stats.CostUSD += cu.CostUSD
	}
	if err := dir.SaveStats(stats); err != nil {
		return Result{}, fmt.Errorf("saving stats: %w", err)
	}

	log.Info("conversion done",
		"input_tokens", stats.Usage.TotalInput(),
		"output_tokens", stats.Usage.OutputTokens,
		"cost_usd", fmt.Sprintf("%.2f", stats.CostUSD),
		"elapsed", types.FormatDuration(stats.Elapsed))
	if cached > 0 {
		log.Info("chunk cache", "fresh", numChunks-cached, "cached", cached, "total", numChunks)
	}

	return Result{Stats: stats, CachedChunks: cached, FreshChunks: numChunks - cached}, nil
}

func contextNote(chunk ChunkPlan) string {
	switch {
	case chunk.First:
		return prompt.ContextNoteStart
	case chunk.Last:
		return prompt.ContextNoteEnd
	default:
		return prompt.ContextNoteMiddle
	}
}

// docName is the document name used in stats: the PDF basename without
// its extension.
func docName(pdfPath string) string {
	base := filepath.Base(pdfPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// contextTail extracts the trailing complete pages of markdown for use as
// continuity context. It takes at least minPages pages, extending one page
// at a time until the tail spans at least minLines lines. When no page
// markers are present it falls back to the last minLines lines.
func contextTail(reg *markers.Registry, markdown string, minPages, minLines int) string {
	beginIdx := reg.PageBegin.ValuePattern().FindAllStringIndex(markdown, -1)
	if len(beginIdx) == 0 {
		lines := strings.Split(markdown, "\n")
		if len(lines) > minLines {
			lines = lines[len(lines)-minLines:]
		}
		return strings.Join(lines, "\n")
	}

	take := minPages
	if take > len(beginIdx) {
		take = len(beginIdx)
	}
	for take < len(beginIdx) {
		tail := markdown[beginIdx[len(beginIdx)-take][0]:]
		if strings.Count(tail, "\n") >= minLines {
			break
		}
		take++
	}
	return markdown[beginIdx[len(beginIdx)-take][0]:]
}

// remapPageMarkers corrects page markers emitted with sub-PDF viewer
// numbering. Each chunk is sent as an extracted PDF whose pages restart at
// 1; if the model numbered markers by viewer position instead of original
// document position, the first begin marker is below pageStart and every
// begin/end marker is shifted by pageStart-1.
func remapPageMarkers(reg *markers.Registry, markdown string, pageStart int, log *slog.Logger) string {
	first := reg.PageBegin.GroupPattern().FindStringSubmatch(markdown)
	if first == nil {
		return markdown
	}

	firstPage, err := strconv.Atoi(first[2])
	if err != nil || firstPage >= pageStart {
		return markdown
	}

	offset := pageStart - 1
	log.Warn("page markers use sub-PDF numbering, remapping",
		"first_marker", firstPage, "expected_min", pageStart, "offset", offset)

	remap := func(groups *regexp.Regexp, s string) string {
		return groups.ReplaceAllStringFunc(s, func(m string) string {
			sub := groups.FindStringSubmatch(m)
			n, err := strconv.Atoi(sub[2])
			if err != nil {
				return m
			}
			return sub[1] + strconv.Itoa(n+offset) + sub[3]
		})
	}
	out := remap(reg.PageBegin.GroupPattern(), markdown)
	return remap(reg.PageEnd.GroupPattern(), out)
}
