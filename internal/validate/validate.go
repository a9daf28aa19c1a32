// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package validate checks converted Markdown for structural problems:
// broken page marker pairing, unbalanced image blocks, heading gaps and
// duplicates, non-rectangular tables, suspicious binary sequences, and
// fabricated summary text. Checks are read-only and advisory; the caller
// decides whether issues are fatal.
package validate

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pdiddy/pdf2md/internal/markers"
	"github.com/pdiddy/pdf2md/internal/pdfutil"
)

// Severity classifies an issue. Errors indicate broken output; warnings
// indicate likely but not certain problems; info lines are statistics.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue is one validation finding.
type Issue struct {
	Severity Severity
	Category string
	Location string
	Message  string
}

func (i Issue) String() string {
	if i.Location != "" {
		return fmt.Sprintf("[%s] %s: %s", i.Category, i.Location, i.Message)
	}
	return fmt.Sprintf("[%s] %s", i.Category, i.Message)
}

// Result collects issues from all checks.
type Result struct {
	Issues []Issue
}

// OK reports whether no error-severity issues were found.
func (r *Result) OK() bool {
	for _, i := range r.Issues {
		if i.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Errors returns only the error-severity issues.
func (r *Result) Errors() []Issue { return r.bySeverity(SeverityError) }

// Warnings returns only the warning-severity issues.
func (r *Result) Warnings() []Issue { return r.bySeverity(SeverityWarning) }

func (r *Result) bySeverity(s Severity) []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.Severity == s {
			out = append(out, i)
		}
	}
	return out
}

func (r *Result) errorf(category, location, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{SeverityError, category, location, fmt.Sprintf(format, args...)})
}

func (r *Result) warnf(category, location, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{SeverityWarning, category, location, fmt.Sprintf(format, args...)})
}

func (r *Result) infof(category, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{SeverityInfo, category, "", fmt.Sprintf(format, args...)})
}

// Log writes every issue at its severity level.
func (r *Result) Log(log *slog.Logger) {
	for _, i := range r.Issues {
		switch i.Severity {
		case SeverityError:
			log.Error(i.Message, "category", i.Category, "location", i.Location)
		case SeverityWarning:
			log.Warn(i.Message, "category", i.Category, "location", i.Location)
		default:
			log.Info(i.Message, "category", i.Category)
		}
	}
}

// Fidelity check thresholds.
const (
	// fidelityMinWords skips pages whose markdown has too few significant
	// words to judge (image-only, formula-only pages).
	fidelityMinWords = 20

	// fidelityMinPDFWords skips pages whose PDF raw text is nearly empty
	// (scanned or blank pages).
	fidelityMinPDFWords = 5

	// fidelityOverlapThreshold is the minimum fraction of markdown words
	// that must appear in the PDF page's raw text.
	fidelityOverlapThreshold = 0.50
)

// pageTexts is a package-level var for test substitution.
var pageTexts = pdfutil.PageTexts

var (
	tableRefRE  = regexp.MustCompile(`\bTable\s+(\d+|[A-Z]\.\d+)\b`)
	tableDefRE  = regexp.MustCompile(`\*\*Table\s+(\d+|[A-Z]\.\d+)\s*[–—-]`)
	figureRefRE = regexp.MustCompile(`\bFigure\s+(\d+|[A-Z]\.\d+)\b`)
	figureDefRE = regexp.MustCompile(`\*\*Figure\s+(\d+|[A-Z]\.\d+)\s*[–—-]`)

	// sectionHeadingRE captures numbered (9.2.1) and lettered (A.1) section
	// identifiers at the start of a Markdown heading.
	sectionHeadingRE = regexp.MustCompile(`(?m)^#{1,6}\s+((?:[A-Z]|\d+)(?:\.(?:[A-Z]|\d+))*)\s+`)

	// binaryInTD matches binary-coded values like "0101b" in table cells.
	binaryInTD = regexp.MustCompile(`<td[^>]*>\s*([01]{4,8})b\s*</td>`)

	htmlCommentRE = regexp.MustCompile(`(?s)<!--.*?-->`)
	htmlTagRE     = regexp.MustCompile(`<[^>]+>`)
	latexBlockRE  = regexp.MustCompile(`(?s)\$\$.*?\$\$`)
	latexInlineRE = regexp.MustCompile(`\$[^$]+\$`)
	mdFormatRE    = regexp.MustCompile("[*_#`\\[\\]()>|]")
	alphaWordRE   = regexp.MustCompile(`[a-zA-Z]+`)

	trBlockRE  = regexp.MustCompile(`(?is)<tr\b[^>]*>(.*?)</tr>`)
	cellOpenRE = regexp.MustCompile(`(?is)<(th|td)\b([^>]*)>`)
	colspanRE  = regexp.MustCompile(`(?i)colspan\s*=\s*"?(\d+)"?`)
	rowspanRE  = regexp.MustCompile(`(?i)rowspan\s*=\s*"?(\d+)"?`)
)

// fabricationPatterns are telltale phrasings of invented summary text
// substituted for real content.
var fabricationPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"summary substitution",
		regexp.MustCompile(`(?i)(?:presented|shown|provided) as (?:summary|brief) (?:references?|overviews?)`)},
	{"complexity excuse",
		regexp.MustCompile(`(?is)Due to the complexity.*?(?:these are|they are|see|refer to)`)},
	{"subclauses redirect",
		regexp.MustCompile(`(?i)(?:full|complete|detailed) (?:command )?(?:details|specifications?) .*?(?:subclauses|sections?) (?:that follow|below)`)},
	{"omission note",
		regexp.MustCompile(`(?i)(?:content|table|data) (?:has been |is |was )?(?:omitted|summarized|abbreviated|condensed)`)},
}

// Validator runs structural checks against converted Markdown.
type Validator struct {
	reg *markers.Registry
	log *slog.Logger

	pageContent *regexp.Regexp
}

func New(reg *markers.Registry, log *slog.Logger) *Validator {
	if log == nil {
		log = slog.Default()
	}
	return &Validator{
		reg: reg,
		log: log,
		pageContent: regexp.MustCompile(
			`(?s)<!--\s*` + regexp.QuoteMeta(reg.PageBegin.Tag) + `\s+(\d+)\s*-->` +
				`(.*?)` +
				`<!--\s*` + regexp.QuoteMeta(reg.PageEnd.Tag) + `\s+\d+\s*-->`),
	}
}

// Validate runs every markdown-only check and returns the collected issues.
func (v *Validator) Validate(markdown string) *Result {
	res := &Result{}
	v.checkMissingTables(markdown, res)
	v.checkMissingFigures(markdown, res)
	v.checkFabrication(markdown, res)
	v.checkPageMarkers(markdown, res)
	v.checkPageEndMarkers(markdown, res)
	v.checkImageBlocks(markdown, res)
	v.checkHeadingSequence(markdown, res)
	v.checkDuplicateHeadings(markdown, res)
	v.checkTableRectangularity(markdown, res)
	v.checkBinarySequences(markdown, res)
	return res
}

// checkMissingTables warns when a numerically-referenced table has no bold
// title definition. Annex tables (B.1) are not checked.
func (v *Validator) checkMissingTables(markdown string, res *Result) {
	missing := missingNumeric(tableRefRE, tableDefRE, markdown)
	for _, t := range missing {
		res.warnf("tables", "", "Table %d is referenced in text but not defined in output", t)
	}
}

func (v *Validator) checkMissingFigures(markdown string, res *Result) {
	missing := missingNumeric(figureRefRE, figureDefRE, markdown)
	for _, f := range missing {
		res.warnf("figures", "", "Figure %d is referenced in text but not defined in output", f)
	}
}

func missingNumeric(refRE, defRE *regexp.Regexp, markdown string) []int {
	refs := make(map[int]bool)
	for _, m := range refRE.FindAllStringSubmatch(markdown, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil {
			refs[n] = true
		}
	}
	for _, m := range defRE.FindAllStringSubmatch(markdown, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil {
			delete(refs, n)
		}
	}
	missing := make([]int, 0, len(refs))
	for n := range refs {
		missing = append(missing, n)
	}
	sort.Ints(missing)
	return missing
}

func (v *Validator) checkFabrication(markdown string, res *Result) {
	for _, p := range fabricationPatterns {
		if m := p.re.FindString(markdown); m != "" {
			if len(m) > 100 {
				m = m[:100]
			}
			res.errorf("fabrication", "", "Possible fabricated %s: %q", p.name, m)
		}
	}
}

func (v *Validator) pageNumbers(markdown string, def markers.Def) []int {
	var pages []int
	for _, m := range def.ValuePattern().FindAllStringSubmatch(markdown, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil {
			pages = append(pages, n)
		}
	}
	return pages
}

// checkPageMarkers verifies begin markers are present, monotonic, and
// gapless.
func (v *Validator) checkPageMarkers(markdown string, res *Result) {
	pages := v.pageNumbers(markdown, v.reg.PageBegin)
	if len(pages) == 0 {
		res.errorf("pages", "", "No page markers found in output")
		return
	}

	skipped := len(v.reg.PageSkip.Pattern().FindAllStringIndex(markdown, -1))
	suffix := ""
	if skipped > 0 {
		suffix = fmt.Sprintf(" (%d skipped)", skipped)
	}
	res.infof("pages", "Page markers found: %d markers, range %d-%d%s",
		len(pages), minInt(pages), maxInt(pages), suffix)

	for i := 1; i < len(pages); i++ {
		if pages[i] < pages[i-1] {
			res.errorf("pages", fmt.Sprintf("page %d", pages[i]),
				"Page markers not monotonic: page %d follows page %d", pages[i], pages[i-1])
		}
		if gap := pages[i] - pages[i-1]; gap > 1 {
			res.errorf("pages", fmt.Sprintf("page %d", pages[i-1]),
				"Missing page marker(s): page %d jumps to page %d (missing %d page(s))",
				pages[i-1], pages[i], gap-1)
		}
	}
}

// checkPageEndMarkers verifies each begin marker has a matching end marker
// and vice versa.
func (v *Validator) checkPageEndMarkers(markdown string, res *Result) {
	begins := v.pageNumbers(markdown, v.reg.PageBegin)
	ends := v.pageNumbers(markdown, v.reg.PageEnd)

	if len(ends) == 0 {
		if len(begins) > 0 {
			res.errorf("pages", "", "No %s markers found (%s markers present)",
				v.reg.PageEnd.Tag, v.reg.PageBegin.Tag)
		}
		return
	}

	res.infof("pages", "Page end markers found: %d markers, range %d-%d",
		len(ends), minInt(ends), maxInt(ends))

	beginSet := toSet(begins)
	endSet := toSet(ends)
	for _, p := range sortedDiff(endSet, beginSet) {
		res.errorf("pages", fmt.Sprintf("page %d", p),
			"%s %d has no matching %s", v.reg.PageEnd.Tag, p, v.reg.PageBegin.Tag)
	}
	for _, p := range sortedDiff(beginSet, endSet) {
		res.errorf("pages", fmt.Sprintf("page %d", p),
			"%s %d has no matching %s", v.reg.PageBegin.Tag, p, v.reg.PageEnd.Tag)
	}
}

// checkImageBlocks verifies image and AI-description markers are balanced
// and not nested, tracking the current page for issue locations.
func (v *Validator) checkImageBlocks(markdown string, res *Result) {
	v.checkBlockPairing(markdown, v.reg.ImageBegin, v.reg.ImageEnd, "images", res)
	v.checkBlockPairing(markdown, v.reg.DescBegin, v.reg.DescEnd, "descriptions", res)
}

func (v *Validator) checkBlockPairing(markdown string, begin, end markers.Def, category string, res *Result) {
	currentPage := 0
	inBlock := false
	openPage := 0
	beginCount, endCount := 0, 0

	for _, line := range strings.Split(markdown, "\n") {
		if m := v.reg.PageBegin.ValuePattern().FindStringSubmatch(line); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				currentPage = n
			}
		}
		if begin.Pattern().MatchString(line) {
			beginCount++
			if inBlock {
				res.errorf(category, pageLoc(currentPage),
					"Nested %s — previous block opened on page %d was not closed",
					begin.Tag, openPage)
			}
			inBlock = true
			openPage = currentPage
		}
		if end.Pattern().MatchString(line) {
			endCount++
			if !inBlock {
				res.errorf(category, pageLoc(currentPage),
					"%s without matching %s", end.Tag, begin.Tag)
			}
			inBlock = false
			openPage = 0
		}
	}
	if inBlock {
		res.errorf(category, pageLoc(openPage), "%s was never closed with %s", begin.Tag, end.Tag)
	}
	if beginCount > 0 || endCount > 0 {
		res.infof(category, "Marker blocks: %d %s, %d %s",
			beginCount, begin.Tag, endCount, end.Tag)
	}
}

func pageLoc(page int) string {
	if page == 0 {
		return ""
	}
	return fmt.Sprintf("page %d", page)
}

// checkHeadingSequence warns when top-level numbered sections skip numbers.
func (v *Validator) checkHeadingSequence(markdown string, res *Result) {
	headings := sectionHeadingRE.FindAllStringSubmatch(markdown, -1)
	if len(headings) < 2 {
		return
	}

	var topLevel []int
	for _, h := range headings {
		if !strings.Contains(h[1], ".") {
			if n, err := strconv.Atoi(h[1]); err == nil {
				topLevel = append(topLevel, n)
			}
		}
	}
	for i := 1; i < len(topLevel); i++ {
		if gap := topLevel[i] - topLevel[i-1]; gap > 1 {
			res.warnf("headings", "",
				"Section gap: section %d jumps to section %d (missing %d sections)",
				topLevel[i-1], topLevel[i], gap-1)
		}
	}
}

// checkDuplicateHeadings warns when the same section number appears more
// than once. Wrapped documents often repeat front matter inside a national
// or corporate wrapper.
func (v *Validator) checkDuplicateHeadings(markdown string, res *Result) {
	currentPage := 0
	occurrences := make(map[string][]int)
	var order []string

	for _, line := range strings.Split(markdown, "\n") {
		if m := v.reg.PageBegin.ValuePattern().FindStringSubmatch(line); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				currentPage = n
			}
			continue
		}
		m := sectionHeadingRE.FindStringSubmatch(line)
		if m == nil || !strings.HasPrefix(line, "#") {
			continue
		}
		section := m[1]
		if _, seen := occurrences[section]; !seen {
			order = append(order, section)
		}
		occurrences[section] = append(occurrences[section], currentPage)
	}

	var dupes []string
	for _, s := range order {
		if len(occurrences[s]) > 1 {
			dupes = append(dupes, s)
		}
	}
	if len(dupes) == 0 {
		return
	}
	sort.Slice(dupes, func(i, j int) bool { return sectionLess(dupes[i], dupes[j]) })

	res.warnf("headings", "", "Duplicate section headings: %d sections appear more than once", len(dupes))
	for _, s := range dupes {
		parts := make([]string, len(occurrences[s]))
		for i, p := range occurrences[s] {
			parts[i] = fmt.Sprintf("p%d", p)
		}
		res.warnf("headings", "", "  Section %s appears %d times (pages: %s)",
			s, len(occurrences[s]), strings.Join(parts, ", "))
	}
}

// sectionLess orders section numbers with numeric parts by value and
// lettered parts after.
func sectionLess(a, b string) bool {
	ap, bp := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(ap) && i < len(bp); i++ {
		an, aerr := strconv.Atoi(ap[i])
		bn, berr := strconv.Atoi(bp[i])
		switch {
		case aerr == nil && berr == nil:
			if an != bn {
				return an < bn
			}
		case aerr == nil:
			return true
		case berr == nil:
			return false
		default:
			if ap[i] != bp[i] {
				return ap[i] < bp[i]
			}
		}
	}
	return len(ap) < len(bp)
}

// checkTableRectangularity verifies every row of every HTML table spans
// the same number of columns once colspan and rowspan are accounted for.
// The table width is the effective width of its first row.
func (v *Validator) checkTableRectangularity(markdown string, res *Result) {
	for tableIdx, tm := range markers.TableBlock.FindAllStringIndex(markdown, -1) {
		tableHTML := markdown[tm[0]:tm[1]]
		loc := fmt.Sprintf("table %d", tableIdx+1)
		if page := precedingPage(v.reg, markdown, tm[0]); page > 0 {
			loc = fmt.Sprintf("table %d (page %d)", tableIdx+1, page)
		}

		rows := trBlockRE.FindAllStringSubmatch(tableHTML, -1)
		if len(rows) < 2 {
			continue
		}

		// carry[k] = colspan of an active rowspan with k remaining rows.
		type span struct{ remaining, cols int }
		var carry []span
		width := 0

		for rowIdx, row := range rows {
			inherited := 0
			for _, s := range carry {
				inherited += s.cols
			}

			explicit := 0
			var next []span
			for _, s := range carry {
				if s.remaining > 1 {
					next = append(next, span{s.remaining - 1, s.cols})
				}
			}
			for _, cell := range cellOpenRE.FindAllStringSubmatch(row[1], -1) {
				cols := 1
				if m := colspanRE.FindStringSubmatch(cell[2]); m != nil {
					if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
						cols = n
					}
				}
				explicit += cols
				if m := rowspanRE.FindStringSubmatch(cell[2]); m != nil {
					if n, err := strconv.Atoi(m[1]); err == nil && n > 1 {
						next = append(next, span{n - 1, cols})
					}
				}
			}
			carry = next

			total := inherited + explicit
			if rowIdx == 0 {
				width = total
				continue
			}
			if explicit == 0 && inherited == 0 {
				res.warnf("tables", loc, "Row %d has no cells", rowIdx+1)
				continue
			}
			if total != width {
				res.warnf("tables", loc,
					"Row %d spans %d columns, table width is %d", rowIdx+1, total, width)
			}
		}
	}
}

// precedingPage returns the page number of the nearest PDF_PAGE_BEGIN
// before offset, or 0.
func precedingPage(reg *markers.Registry, markdown string, offset int) int {
	matches := reg.PageBegin.ValuePattern().FindAllStringSubmatchIndex(markdown[:offset], -1)
	if len(matches) == 0 {
		return 0
	}
	last := matches[len(matches)-1]
	n, err := strconv.Atoi(markdown[last[2]:last[3]])
	if err != nil {
		return 0
	}
	return n
}

// checkBinarySequences warns when binary-coded values in a table repeat or
// decrease, a sign the model misread an enumeration.
func (v *Validator) checkBinarySequences(markdown string, res *Result) {
	for _, tm := range markers.TableBlock.FindAllString(markdown, -1) {
		values := binaryInTD.FindAllStringSubmatch(tm, -1)
		if len(values) < 2 {
			continue
		}
		prev, err := strconv.ParseInt(values[0][1], 2, 64)
		if err != nil {
			continue
		}
		for i := 1; i < len(values); i++ {
			cur, err := strconv.ParseInt(values[i][1], 2, 64)
			if err != nil {
				continue
			}
			switch {
			case cur == prev:
				res.warnf("tables", "",
					"Duplicate binary value in table: %sb appears twice consecutively", values[i][1])
			case cur < prev:
				res.warnf("tables", "",
					"Binary sequence not monotonic in table: %sb follows %sb", values[i][1], values[i-1][1])
			}
			prev = cur
		}
	}
}

// CheckPageFidelity cross-checks each page's markdown against the PDF
// page's raw text. Pages whose markdown has substantial content but low
// word overlap with the source text are flagged as possible fabrication.
// Skipped pages and low-text pages on either side are excluded.
func (v *Validator) CheckPageFidelity(pdfPath, markdown string, res *Result) {
	texts, err := pageTexts(pdfPath)
	if err != nil {
		v.log.Debug("fidelity check skipped", "path", pdfPath, "err", err)
		return
	}

	contents := v.extractPageContents(markdown)
	if len(contents) == 0 {
		if v.reg.PageBegin.ValuePattern().MatchString(markdown) {
			res.errorf("fidelity", "",
				"Fidelity check skipped: %s markers present but no %s markers",
				v.reg.PageBegin.Tag, v.reg.PageEnd.Tag)
		}
		return
	}

	pages := make([]int, 0, len(contents))
	for p := range contents {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	type suspectPage struct {
		page    int
		overlap float64
	}
	var suspect []suspectPage

	for _, page := range pages {
		content := contents[page]
		if v.reg.PageSkip.Pattern().MatchString(content) {
			continue
		}
		mdWords := v.significantWords(content)
		if len(mdWords) < fidelityMinWords {
			continue
		}
		if page < 1 || page > len(texts) {
			continue
		}
		pdfWords := v.significantWords(texts[page-1])
		if len(pdfWords) < fidelityMinPDFWords {
			continue
		}

		common := 0
		for w := range mdWords {
			if pdfWords[w] {
				common++
			}
		}
		overlap := float64(common) / float64(len(mdWords))
		v.log.Debug("fidelity", "page", page,
			"common", common, "md_words", len(mdWords), "overlap", overlap)
		if overlap < fidelityOverlapThreshold {
			suspect = append(suspect, suspectPage{page, overlap})
		}
	}

	if len(suspect) > 0 {
		res.warnf("fidelity", "",
			"Page fidelity: %d page(s) have low text overlap with PDF source", len(suspect))
		for _, s := range suspect {
			res.warnf("fidelity", fmt.Sprintf("page %d", s.page),
				"  Page %d: %.0f%% of markdown words found in PDF text (threshold: %.0f%%)",
				s.page, s.overlap*100, fidelityOverlapThreshold*100)
		}
	}
}

// extractPageContents maps page number to the content between its markers.
func (v *Validator) extractPageContents(markdown string) map[int]string {
	out := make(map[int]string)
	for _, m := range v.pageContent.FindAllStringSubmatch(markdown, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil {
			if _, seen := out[n]; !seen {
				out[n] = m[2]
			}
		}
	}
	return out
}

// significantWords extracts lowercase alphabetic words of at least five
// characters, after stripping AI descriptions, HTML, LaTeX, and Markdown
// formatting. AI description blocks do not come from the PDF source and
// would poison the overlap measure.
func (v *Validator) significantWords(text string) map[string]bool {
	text = v.reg.DescBlock.ReplaceAllString(text, " ")
	text = htmlCommentRE.ReplaceAllString(text, " ")
	text = htmlTagRE.ReplaceAllString(text, " ")
	text = latexBlockRE.ReplaceAllString(text, " ")
	text = latexInlineRE.ReplaceAllString(text, " ")
	text = mdFormatRE.ReplaceAllString(text, " ")

	words := make(map[string]bool)
	for _, w := range alphaWordRE.FindAllString(strings.ToLower(text), -1) {
		if len(w) >= 5 {
			words[w] = true
		}
	}
	return words
}

func minInt(xs []int) int {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func maxInt(xs []int) int {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func toSet(xs []int) map[int]bool {
	s := make(map[int]bool, len(xs))
	for _, x := range xs {
		s[x] = true
	}
	return s
}

// sortedDiff returns the elements of a not present in b, ascending.
func sortedDiff(a, b map[int]bool) []int {
	var out []int
	for x := range a {
		if !b[x] {
			out = append(out, x)
		}
	}
	sort.Ints(out)
	return out
}
