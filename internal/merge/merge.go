// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package merge joins per-chunk Markdown into a single document. The merge
// is deterministic: chunks are concatenated by page markers with
// first-writer-wins deduplication, then tables split across page
// boundaries are folded back together using TABLE_CONTINUE markers.
package merge

import (
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pdiddy/pdf2md/internal/markers"
)

var (
	tbodyRows = regexp.MustCompile(`(?is)<tbody[^>]*>(.*?)</tbody>`)
	trTag     = regexp.MustCompile(`(?is)<tr\b[^>]*>.*?</tr>`)
	tableOpen = regexp.MustCompile(`(?i)<table\b`)
)

// Merger performs marker-driven chunk merging.
type Merger struct {
	reg *markers.Registry
	log *slog.Logger

	// pageBlock matches a whole page, PDF_PAGE_BEGIN through PDF_PAGE_END
	// inclusive, capturing the page number.
	pageBlock *regexp.Regexp
}

func New(reg *markers.Registry, log *slog.Logger) *Merger {
	if log == nil {
		log = slog.Default()
	}
	return &Merger{
		reg: reg,
		log: log,
		pageBlock: regexp.MustCompile(
			`(?s)(<!--\s*` + regexp.QuoteMeta(reg.PageBegin.Tag) + `\s+(\d+)\s*-->)` +
				`(.*?)` +
				`(<!--\s*` + regexp.QuoteMeta(reg.PageEnd.Tag) + `\s+\d+\s*-->)`),
	}
}

// extractPages maps page number to full page block for one chunk. A page
// appearing twice within a chunk keeps its first occurrence.
func (m *Merger) extractPages(markdown string) map[int]string {
	pages := make(map[int]string)
	for _, match := range m.pageBlock.FindAllStringSubmatch(markdown, -1) {
		num, err := strconv.Atoi(match[2])
		if err != nil {
			continue
		}
		if _, seen := pages[num]; !seen {
			pages[num] = match[0]
		}
	}
	return pages
}

// MergeChunks concatenates chunk outputs into one document ordered by page
// number. Chunks cover disjoint page ranges, so this is normally a plain
// ordered join; if a page appears in more than one chunk the first
// occurrence wins. Chunks without any page markers fall back to a simple
// join.
func (m *Merger) MergeChunks(parts []string) string {
	if len(parts) == 0 {
		return ""
	}
	if len(parts) == 1 {
		return parts[0]
	}

	m.log.Info("merging chunks by page markers", "chunks", len(parts))

	allPages := make(map[int]string)
	for i, part := range parts {
		chunkPages := m.extractPages(part)
		fresh := 0
		for num, content := range chunkPages {
			if _, seen := allPages[num]; !seen {
				allPages[num] = content
				fresh++
			}
		}
		m.log.Info("chunk pages", "chunk", i+1, "pages", len(chunkPages), "new", fresh)
	}

	if len(allPages) == 0 {
		m.log.Warn("no page markers found, falling back to simple join")
		var kept []string
		for _, part := range parts {
			if s := strings.TrimSpace(part); s != "" {
				kept = append(kept, s)
			}
		}
		return strings.Join(kept, "\n\n")
	}

	nums := make([]int, 0, len(allPages))
	for n := range allPages {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	m.log.Info("merged pages", "pages", len(nums), "first", nums[0], "last", nums[len(nums)-1])

	blocks := make([]string, len(nums))
	for i, n := range nums {
		blocks[i] = allPages[n]
	}
	return strings.Join(blocks, "\n\n")
}

// MergeContinuedTables folds continuation tables into their preceding
// tables. For each TABLE_CONTINUE marker, the continuation table's <tbody>
// rows are spliced into the preceding table's <tbody>, with any page
// markers between the two tables preserved inside the merged body so page
// provenance survives. The continuation's <thead>, its <table> wrapper,
// the marker itself, and any "(continued)" title line are dropped.
//
// A marker found inside an already-open table (an intra-chunk continuation
// the model flagged anyway) is simply removed. Markers are processed last
// to first so indices stay valid across splices.
func (m *Merger) MergeContinuedTables(markdown string) string {
	marks := m.reg.TableContinue.Pattern().FindAllStringIndex(markdown, -1)
	if len(marks) == 0 {
		return markdown
	}

	m.log.Info("merging continued tables", "markers", len(marks))

	for i := len(marks) - 1; i >= 0; i-- {
		markerStart, markerEnd := marks[i][0], marks[i][1]

		prefix := markdown[:markerStart]
		opens := len(tableOpen.FindAllStringIndex(prefix, -1))
		closes := strings.Count(strings.ToLower(prefix), "</table>")
		if opens > closes {
			m.log.Info("continue marker inside open table, removing marker only")
			markdown = markdown[:markerStart] + markdown[markerEnd:]
			continue
		}

		precedingTableEnd := strings.LastIndex(prefix, "</table>")
		if precedingTableEnd == -1 {
			m.log.Warn("continue marker has no preceding table, skipping", "offset", markerStart)
			continue
		}
		precedingTbodyEnd := strings.LastIndex(markdown[:precedingTableEnd], "</tbody>")
		if precedingTbodyEnd == -1 {
			m.log.Warn("preceding table has no tbody, skipping", "offset", markerStart)
			continue
		}

		contLoc := markers.TableBlock.FindStringIndex(markdown[markerEnd:])
		if contLoc == nil {
			m.log.Warn("no continuation table after marker, skipping", "offset", markerStart)
			continue
		}
		contStart := markerEnd + contLoc[0]
		contEnd := markerEnd + contLoc[1]
		contHTML := markdown[contStart:contEnd]

		tbody := tbodyRows.FindStringSubmatch(contHTML)
		if tbody == nil {
			m.log.Warn("continuation table has no tbody, skipping", "offset", markerStart)
			continue
		}
		contRows := strings.TrimSpace(tbody[1])
		rowCount := len(trTag.FindAllStringIndex(contRows, -1))

		// Page markers sitting between the two tables move inside the
		// merged tbody.
		afterPreceding := precedingTableEnd + len("</table>")
		between := markdown[afterPreceding:contStart]
		pageMarksText := m.extractPageMarkers(between)

		var insert string
		if pageMarksText != "" {
			insert = pageMarksText + "\n\n" + contRows
		} else {
			insert = contRows
		}

		merged := markdown[:precedingTbodyEnd] +
			"\n" + insert + "\n" +
			markdown[precedingTbodyEnd:afterPreceding] +
			markdown[contEnd:]

		endPages := m.reg.PageEnd.ValuePattern().FindAllStringSubmatch(pageMarksText, -1)
		beginPages := m.reg.PageBegin.ValuePattern().FindAllStringSubmatch(pageMarksText, -1)
		if len(endPages) > 0 && len(beginPages) > 0 {
			m.log.Info("merged continuation table", "rows", rowCount,
				"boundary", "p"+endPages[len(endPages)-1][1]+" to p"+beginPages[0][1])
		} else {
			m.log.Info("merged continuation table", "rows", rowCount)
		}

		markdown = merged
	}

	if remaining := len(m.reg.TableContinue.Pattern().FindAllStringIndex(markdown, -1)); remaining > 0 {
		m.log.Warn("continue markers still present after merging", "count", remaining)
	}
	return markdown
}

// extractPageMarkers keeps only whole-line page begin/end markers from a
// text region, in order. Everything else (the continue marker, continued
// titles, whitespace) is discarded.
func (m *Merger) extractPageMarkers(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		s := strings.TrimSpace(line)
		if m.reg.PageBegin.ValuePattern().MatchString(s) || m.reg.PageEnd.ValuePattern().MatchString(s) {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "\n\n")
}
