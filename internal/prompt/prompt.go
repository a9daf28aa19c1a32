// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package prompt assembles the system and per-chunk prompts for PDF to
// Markdown conversion. Marker examples are injected from the markers
// registry so prompt text and parsing code always agree on marker format.
package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/pdiddy/pdf2md/internal/markers"
)

// Rule is one named system-prompt rule. Names are stable identifiers used
// by rules files to target a rule for replacement or extension.
type Rule struct {
	Name string
	Text string
}

// PreambleBody introduces the system prompt before the numbered rules.
const PreambleBody = "You are a precise document converter. " +
	"Convert the provided PDF pages to clean, well-structured Markdown."

const preambleClosing = "Follow these rules strictly:"

// bq substitutes "~" with a backtick so rule texts can be written as raw
// string literals. Rule texts never contain a literal tilde.
func bq(s string) string {
	return strings.ReplaceAll(s, "~", "`")
}

// DefaultRules returns the built-in rule registry in prompt order:
// framework rules first (fidelity, page markers, skip), then content
// rules (headings, formatting, formulas, tables, images).
func DefaultRules(reg *markers.Registry) []Rule {
	return []Rule{
		{"fidelity", ruleFidelity()},
		{"page_markers", rulePageMarkers(reg)},
		{"skip", ruleSkip(reg)},
		{"headings", ruleHeadings()},
		{"formatting", ruleFormatting()},
		{"formulas", ruleFormulas()},
		{"tables", ruleTables(reg)},
		{"images", ruleImages(reg)},
	}
}

// RuleNames returns the valid targets for rules-file directives: "preamble"
// plus every built-in rule name, sorted.
func RuleNames(reg *markers.Registry) []string {
	names := []string{"preamble"}
	for _, r := range DefaultRules(reg) {
		names = append(names, r.Name)
	}
	return names
}

// Build assembles rule texts into a numbered system prompt. Each rule is
// prefixed with its 1-based index and joined with blank lines.
func Build(ruleTexts []string, preambleBody string) string {
	numbered := make([]string, len(ruleTexts))
	for i, text := range ruleTexts {
		numbered[i] = fmt.Sprintf("%d. %s", i+1, text)
	}
	return preambleBody + "\n\n" + preambleClosing + "\n\n" + strings.Join(numbered, "\n\n")
}

// System returns the default system prompt for the given marker registry.
func System(reg *markers.Registry) string {
	rules := DefaultRules(reg)
	texts := make([]string, len(rules))
	for i, r := range rules {
		texts[i] = r.Text
	}
	return Build(texts, PreambleBody)
}

func ruleFidelity() string {
	return bq(`**Content fidelity** (CRITICAL): Do NOT summarize, paraphrase, or omit any content. Every paragraph, table, image, note, warning, and footnote must appear in the output exactly as in the source.
   - NEVER insert text that does not exist in the source document. Do not add editorial notes, summaries of omitted content, or "presented as summary references" placeholders. If you cannot fit all content, output what you can and stop -- do NOT substitute summaries for actual content.
   - **NEVER extrapolate from a Table of Contents**: If the pages you are processing contain a Table of Contents listing sections on later pages, do NOT generate content for those sections. Only convert content that is visually present on each specific PDF page. If the real content ends before the last page in your range, STOP — do NOT fabricate text for sections you can see in the TOC but that are not on the pages provided. Each page's markdown must correspond to what is actually printed on that physical page.`)
}

func rulePageMarkers(reg *markers.Registry) string {
	return bq(fmt.Sprintf(`**Page markers** (CRITICAL): Wrap EVERY page's content with a begin/end marker pair. Missing page markers are treated as conversion errors.
   - Place ~%s~ at the start and ~%s~ at the end of each page.
   - Emit markers for EVERY page in the range — even blank pages, image-only pages, or skipped content (e.g., Table of Contents).
   - For skipped pages, place ~%s~ between the markers (see the **Skip** rule).
   - N is the original document page number — the correct page range will be specified in the conversion instructions.
   - **Physical page anchoring** (CRITICAL): Page numbers are determined by physical position in the PDF, NOT by content type. The 1st physical page of the excerpt = 1st page number, the 2nd = 2nd page number, etc. Do NOT renumber or reorder pages. If a physical page's content is skipped, that page number still gets a ~%s~ marker — subsequent pages keep their original numbers.
   - Example structure:
   ~~~
   %s
   ...page 5 content...
   %s
   %s
   %s
   %s
   %s
   ...page 7 content...
   %s
   ~~~`,
		reg.PageBegin.Example(), reg.PageEnd.Example(),
		reg.PageSkip.Marker(), reg.PageSkip.Marker(),
		reg.PageBegin.Format(5), reg.PageEnd.Format(5),
		reg.PageBegin.Format(6), reg.PageSkip.Marker(), reg.PageEnd.Format(6),
		reg.PageBegin.Format(7), reg.PageEnd.Format(7)))
}

func ruleSkip(reg *markers.Registry) string {
	return bq(fmt.Sprintf(`**Skip**: Page headers, page footers, page numbers, and watermarks.
   - **CRITICAL**: When you skip entire page's content, you MUST still emit the page markers for that page. Place ~%s~ between the begin/end markers to signal the skip is intentional. Multiple consecutive pages can each be skipped this way — every page keeps its own number:
   ~~~
   %s
   %s
   %s
   %s
   %s
   %s
   %s
   %s
   %s
   %s
   ...page 12 content (first non-skipped page)...
   %s
   ~~~
   This preserves correct page numbering. NEVER silently omit page markers — every page in the range must have a begin/end pair.`,
		reg.PageSkip.Marker(),
		reg.PageBegin.Format(9), reg.PageSkip.Marker(), reg.PageEnd.Format(9),
		reg.PageBegin.Format(10), reg.PageSkip.Marker(), reg.PageEnd.Format(10),
		reg.PageBegin.Format(11), reg.PageSkip.Marker(), reg.PageEnd.Format(11),
		reg.PageBegin.Format(12), reg.PageEnd.Format(12)))
}

func ruleHeadings() string {
	return bq(`**Headings**:
   - **General policy**: Preserve the document's section numbering and hierarchy exactly as they appear in the source.
   - **Depth mapping**: Count the dot-separated numbers to determine Markdown heading depth:
     - ~#~ — document title (exactly one per document)
     - ~##~ — top-level sections (e.g. "1 Introduction")
     - ~###~ — subsections (e.g. "1.2 Scope")
     - ~####~ — sub-subsections (e.g. "1.2.1 General")
     - ~#####~ — deeper levels (e.g. "1.2.1.1 Details")`)
}

func ruleFormatting() string {
	return bq(`**Inline formatting**:
   - **Body text** — use Markdown syntax: ~*italic*~, ~**bold**~, ~~ ~code~ ~~.
   - **Inside HTML tables** — use HTML tags: ~<em>~, ~<strong>~, ~<code>~.
   - **Superscripts / Subscripts** (everywhere, body AND tables): ALWAYS use ~<sup>~ / ~<sub>~ — there is no Markdown equivalent. Do NOT use Unicode superscript/subscript characters (write ~a<sup>2</sup>~ not ~a²~, ~H<sub>2</sub>O~ not ~H₂O~).
   - **Dashes**: use an en-dash ~–~ for numeric ranges and list bullets; use a hyphen ~-~ only in compound words.`)
}

func ruleFormulas() string {
	return bq(`**Formulas**: Preserve mathematical formulas using LaTeX notation in ~$$~ blocks. Inline formulas use ~$...$~.`)
}

func ruleTables(reg *markers.Registry) string {
	tc := reg.TableContinue.Marker()
	return bq(fmt.Sprintf(`**Tables**: ALWAYS use HTML ~<table>~ format for ALL tables, even simple ones.
   - Use ~<thead>~ for header rows and ~<tbody>~ for data rows.
   - Use ~<th>~ for header cells and ~<td>~ for data cells.
   - Use ~rowspan~ and ~colspan~ for merged cells.
   - **Faithful structure** (CRITICAL): Reproduce the original table structure with exact ~colspan~/~rowspan~ values.
      - If the PDF shows N header rows, output N ~<tr>~ rows in ~<thead>~ — do NOT collapse or merge header rows.
      - Use ~rowspan~ for cells spanning multiple rows, ~colspan~ for cells spanning multiple columns. A single cell can have BOTH (e.g. ~<th rowspan="2" colspan="3">~).
      - Preserve every blank/empty cell as ~<td></td>~ or ~<th></th>~.
      - Keep empty separator rows — do NOT remove them.
   - **Rotated / angled header text** (CRITICAL): Technical tables often use rotated (vertical or diagonal) text for column headers. Each rotated label is a separate column — do NOT collapse them. When a group heading spans several rotated sub-columns, set its ~colspan~ equal to the number of sub-column labels beneath it.
   - **Column count — bottom-up strategy** (CRITICAL): To determine the table width W, look at the LAST (bottom-most) header row in ~<thead>~. Count every individual ~<th>~ cell in that row (each weighted by its ~colspan~), plus any columns still occupied by active ~rowspan~ cells from rows above. That total is W. Every other row — both header and body — MUST also total W.
   - **No empty header rows** (CRITICAL): Every ~<tr>~ inside ~<thead>~ MUST contain at least one explicit ~<th>~ cell. NEVER emit ~<tr></tr>~ or ~<tr>\n</tr>~ with zero cells. When a ~colspan~ group in row R expires (it has no ~rowspan~, or its ~rowspan~ ends at row R), the freed columns MUST be filled with explicit ~<th>~ cells in the very next row (R+1) — do NOT skip that row and place sub-labels in a later row. Use ~<th></th>~ placeholders if the PDF shows no text in that position.
   - **Multi-level header example** — a 6-column table with a 3-row header:
   ~~~
   <thead>
     <tr>
       <th rowspan="3">Name</th>        <!-- col 1 -->
       <th colspan="3">Details</th>     <!-- cols 2-4 -->
       <th rowspan="3">Price</th>       <!-- col 5 -->
       <th rowspan="3">Notes</th>       <!-- col 6 -->
     </tr>
     <tr>
       <th rowspan="2">Type</th>        <!-- col 2 -->
       <th colspan="2">Dimensions</th> <!-- cols 3-4 -->
     </tr>
     <tr>
       <th>Width</th>                   <!-- col 3 -->
       <th>Height</th>                  <!-- col 4 -->
     </tr>
   </thead>
   ~~~
   Verify W = 6 for every row (↓ = inherited from rowspan above):
   Row 1: Name(1) + Details(3) + Price(1) + Notes(1) = 6 ✓
   Row 2: Type(1) + Dimensions(2) + Name↓ + Price↓ + Notes↓ = 3+3 = 6 ✓
   Row 3: Width(1) + Height(1) + Name↓ + Type↓ + Price↓ + Notes↓ = 2+4 = 6 ✓
   Key: "Details" (colspan=3) expires after row 1, so its 3 freed columns (2-4) MUST be filled immediately in row 2: Type(col 2) + Dimensions(cols 3-4). Type needs ~rowspan="2"~ to carry into row 3; without it row 3 would only have 5 columns.
   - **rowspan boundary rule** (CRITICAL): A ~rowspan~ must NEVER exceed the remaining rows in its section (~<thead>~ or ~<tbody>~). If ~<thead>~ has 2 rows, max rowspan in row 1 is 2. Rowspan must NOT cross the ~<thead>~/~<tbody>~ boundary.
   - **Column-count self-check** (CRITICAL): After writing EACH row — header AND body — verify: (explicit cells, each weighted by its colspan) + (cells inherited from active rowspan above) = W. Pay special attention to body rows with ~colspan~: count how many header columns the merged cell actually spans and set ~colspan~ to that exact number. If any row does not equal W, fix the mismatch before proceeding to the next row.
   - **Completeness** (CRITICAL): You MUST convert EVERY table completely, no matter how large. NEVER replace a table with a summary, description, or "see below" reference. If a table has 100 rows, output all 100 rows.
   - **Cell formatting**: Preserve checkmarks (use ✓), footnote markers (a, b, c, etc.), and ALL special symbols exactly as they appear. Use ~<em>~ (not ~<i>~) for italics, and ~<br>~ (single, not double ~<br><br>~) for line breaks within cells.
   - **Continued tables**: If a table on the current page is a continuation of a table from a previous page (the PDF shows "(continued)" in the header, or the table has the same column structure and title as one from a prior page), emit ~%s~ on its own line immediately BEFORE the table title or ~<table>~ tag. Still output the full table including its repeated headers exactly as they appear in the PDF — the marker is metadata for post-processing. NEVER emit ~%s~ for the first table in your output or when no previous page in this chunk contains the same table — it means "this table already appeared earlier and continues here", not "this table is large".`,
		tc, tc))
}

func ruleImages(reg *markers.Registry) string {
	return bq(fmt.Sprintf(`**Images** (diagrams, figures, charts, illustrations): Wrap every image in structured markers with a bounding box and a detailed description. Do NOT output ~![...](...)~ references — image files are generated automatically in post-processing.
   - Wrap the entire image block with ~%s~ and ~%s~ markers.
   - **Bounding box**: Immediately after ~%s~, emit an ~IMAGE_RECT~ marker with normalized coordinates (0.0–1.0, origin at top-left, x grows right, y grows down): ~%s~. Example: ~%s~.
   - **Bounding box precision** (CRITICAL — read carefully): Define the box by locating the **text boundaries** around the figure, NOT by trying to find the figure's visual edges. Use the body text you are transcribing as reference landmarks — you know exactly where each text line sits on the page because you are reading it.
     - **Top edge (y1)**: find the last line of body text or heading you transcribed ABOVE this figure. Place y1 just below that text line's baseline. Everything between that text and the caption below is figure content and must be inside the box.
     - **Bottom edge (y2)**: find the figure caption (e.g., "Figure N – ...", "图 N ...", "Рис. N — ...") or the first line of body text below the figure. Place y2 just above that line. The caption is transcribed separately (as bold text in the image block) and must NOT be inside the box.
     - **Left / right edges**: use the outermost drawn elements or, if unclear, the page text margins.
     - **Why text-based landmarks**: Figures may contain a mix of raster images and vector graphics (boxes, lines, arrows) that are hard to visually bound. But the text gap on the page reliably contains the complete figure — all sub-parts, whether raster or vector-drawn, sit in the space between the surrounding paragraphs.
     - **Self-check**: every element mentioned in your AI description of the figure must be geometrically inside the IMAGE_RECT. If your description mentions elements that would fall outside your y1–y2 range, widen the box.
   - **Caption**: Preserve the original caption exactly as it appears in the PDF (e.g., "Figure 5 – Timing diagram") as a ~**bold**~ line inside the image block.
   - **Description**: Wrap with ~%s~ and ~%s~ markers. Inside, output a blockquote (~> ...~) with a thorough description: all labeled elements, axes, values, arrows, connections, states, transitions, and spatial relationships. Include enough detail that a reader who cannot see the image can fully understand it.
   - **No content extraction from figures**: Content visible inside a figure (e.g., tables in screenshots, text in diagrams, code in panels) must NOT be reproduced as standalone text, tables, or code blocks outside the image block. The figure is already captured by its bounding box and AI description. Only convert content that exists as first-class document content on the page.
   - Example:
   ~~~
   %s
   %s
   **Figure 5 – Timing diagram for forward frame**
   %s
   > The diagram shows a timing waveform with two signal lines...
   %s
   %s
   ~~~`,
		reg.ImageBegin.Marker(), reg.ImageEnd.Marker(),
		reg.ImageBegin.Marker(),
		reg.ImageRect.PromptTemplate(), reg.ImageRect.Example(),
		reg.DescBegin.Marker(), reg.DescEnd.Marker(),
		reg.ImageBegin.Marker(), reg.ImageRect.Example(),
		reg.DescBegin.Marker(), reg.DescEnd.Marker(), reg.ImageEnd.Marker()))
}

// TableFixSystem returns the system prompt for regenerating one complex
// table directly from its source PDF pages. The full table conversion rule
// applies; the output is a single table block with no surrounding document.
func TableFixSystem(reg *markers.Registry) string {
	return bq(`You are a precise document converter specializing in complex HTML tables with merged cells. You will receive PDF pages containing one table, the previous extraction of that table for reference, and the surrounding document text for orientation.

Read the table directly from the PDF pages and regenerate it from scratch. Do not trust the previous extraction's structure. Apply this rule:

`) + ruleTables(reg) + bq(`

Output ONLY the regenerated ~<table>...</table>~ block. No page markers, no headings, no commentary, no code fences.`)
}

// Context notes, selected by chunk position within the document.
const (
	ContextNoteStart = "This is the START of the document. Begin with an H1 heading " +
		"containing the full official document title as it appears on " +
		"the title page."

	ContextNoteMiddle = "This is a MIDDLE section. Continue from where the " +
		"previous chunk ended."

	ContextNoteEnd = "This is the END of the document. Include all remaining " +
		"content up to and including the Bibliography."
)

// ChunkData is the fill-in data for the per-chunk conversion prompt.
// Marker fields are populated by ChunkPrompt from the registry.
type ChunkData struct {
	ChunkNum    int
	TotalChunks int
	ContextNote string

	// PreviousContext is the tail of the previous chunk's output. Empty
	// for the first chunk; when empty the continuity block is omitted.
	PreviousContext string

	PageStart int
	PageEnd   int
	PageCount int

	PageBeginExample string
	PageEndExample   string
	PageSkipMarker   string
}

// PageStartPlus1 and PageStartPlus2 feed the page assignment examples.
func (d ChunkData) PageStartPlus1() int { return d.PageStart + 1 }
func (d ChunkData) PageStartPlus2() int { return d.PageStart + 2 }

var chunkPromptTmpl = template.Must(template.New("chunk").Parse(bq(`This is part {{.ChunkNum}} of {{.TotalChunks}} of a larger document. Convert these PDF pages to Markdown following the system instructions.

{{.ContextNote}}

IMPORTANT: These PDF pages correspond to pages {{.PageStart}} through {{.PageEnd}} of the original document ({{.PageCount}} pages). Wrap each page's content with ~{{.PageBeginExample}}~ and ~{{.PageEndExample}}~ markers. You MUST emit exactly {{.PageCount}} begin/end marker pairs, one pair for each page from {{.PageStart}} to {{.PageEnd}}.
{{if .PreviousContext}}
The previous chunk ended with this content (for continuity — do NOT repeat it):
<previous_context>
{{.PreviousContext}}
</previous_context>
{{end}}
BEFORE YOU START — page assignment procedure (CRITICAL):
1. This PDF excerpt has exactly {{.PageCount}} physical pages.
2. Assign page numbers strictly by position: the 1st page you see = page {{.PageStart}}, the 2nd = page {{.PageStartPlus1}}, the 3rd = page {{.PageStartPlus2}}, and so on through page {{.PageEnd}}.
3. Go through each physical page in order. For each page, either convert its content or emit ~{{.PageSkipMarker}}~ — but always under that page's assigned number.
**COMMON ERROR**: When the first pages of a chunk are Table of Contents or boilerplate, you may be tempted to skip them and assign page {{.PageStart}} to the first "real content" page. This is WRONG. Those TOC/boilerplate pages ARE pages {{.PageStart}}, {{.PageStartPlus1}}, etc. — emit ~{{.PageSkipMarker}}~ for each one. The first content page gets the NEXT number in sequence.

Output ONLY the markdown content.`)))

// ChunkPrompt renders the user prompt for one conversion chunk.
func ChunkPrompt(reg *markers.Registry, d ChunkData) (string, error) {
	d.PageBeginExample = reg.PageBegin.Example()
	d.PageEndExample = reg.PageEnd.Example()
	d.PageSkipMarker = reg.PageSkip.Marker()
	d.PageCount = d.PageEnd - d.PageStart + 1
	var buf bytes.Buffer
	if err := chunkPromptTmpl.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("rendering chunk prompt: %w", err)
	}
	return buf.String(), nil
}
