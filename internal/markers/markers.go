// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package markers is the single source of truth for the HTML comment markers
// embedded in converted Markdown output. Every other package renders and
// matches markers through a Registry instance so no marker pattern is
// hard-coded twice.
package markers

import (
	"fmt"
	"regexp"
	"sort"
)

// Def is one marker definition. A marker is an HTML comment carrying an
// upper-case tag and an optional value payload, e.g.
// "<!-- PDF_PAGE_BEGIN 42 -->" or the valueless "<!-- TABLE_CONTINUE -->".
type Def struct {
	// Tag is the upper-case token embedded in the HTML comment.
	Tag string

	valueRe  string // payload pattern with capture groups; empty if valueless
	valueFmt string // Sprintf template for the payload
	example  string // example payload for prompt text
	prompt   string // alternative prompt payload; falls back to example

	re          *regexp.Regexp
	reValue     *regexp.Regexp
	reValueLine *regexp.Regexp
	reGroups    *regexp.Regexp
}

func newDef(tag, valueRe, valueFmt, example, prompt string) Def {
	d := Def{Tag: tag, valueRe: valueRe, valueFmt: valueFmt, example: example, prompt: prompt}
	d.re = regexp.MustCompile(`<!--\s*` + regexp.QuoteMeta(tag) + `\s*-->`)
	if valueRe != "" {
		d.reValue = regexp.MustCompile(`<!--\s*` + regexp.QuoteMeta(tag) + `\s+` + valueRe + `\s*-->`)
		d.reValueLine = regexp.MustCompile(`(?m)^<!--\s*` + regexp.QuoteMeta(tag) + `\s+` + valueRe + `\s*-->$`)
		nc := nonCapturing(valueRe)
		d.reGroups = regexp.MustCompile(`(<!--\s*` + regexp.QuoteMeta(tag) + `\s+)(` + nc + `)(\s*-->)`)
	}
	return d
}

// nonCapturing converts every capturing group in pattern to non-capturing so
// the pattern can be embedded inside another group without shifting indexes.
var capturingGroup = regexp.MustCompile(`\((?:[^?])`)

func nonCapturing(pattern string) string {
	return capturingGroup.ReplaceAllStringFunc(pattern, func(m string) string {
		return "(?:" + m[1:]
	})
}

// Marker returns the literal valueless marker string.
func (d Def) Marker() string {
	return "<!-- " + d.Tag + " -->"
}

// HasValue reports whether the marker carries a value payload.
func (d Def) HasValue() bool { return d.valueRe != "" }

// Format renders the marker with a formatted value payload.
// Panics if the marker is valueless; use Marker instead.
func (d Def) Format(args ...any) string {
	if d.valueFmt == "" {
		panic(fmt.Sprintf("marker %s is valueless", d.Tag))
	}
	return fmt.Sprintf("<!-- %s %s -->", d.Tag, fmt.Sprintf(d.valueFmt, args...))
}

// Example returns a human-readable example for use in prompts, e.g.
// "<!-- PDF_PAGE_BEGIN N -->". Valueless markers return the literal form.
func (d Def) Example() string {
	if d.example != "" {
		return fmt.Sprintf("<!-- %s %s -->", d.Tag, d.example)
	}
	return d.Marker()
}

// PromptTemplate returns the prompt-ready template showing the value format.
func (d Def) PromptTemplate() string {
	if d.prompt != "" {
		return fmt.Sprintf("<!-- %s %s -->", d.Tag, d.prompt)
	}
	return d.Example()
}

// Pattern matches the valueless form, tolerating whitespace variations.
func (d Def) Pattern() *regexp.Regexp { return d.re }

// ValuePattern matches the valued form and captures the payload group(s).
// Nil for valueless markers.
func (d Def) ValuePattern() *regexp.Regexp { return d.reValue }

// LinePattern matches the valued form only when the marker is the sole
// content on its line. Nil for valueless markers.
func (d Def) LinePattern() *regexp.Regexp { return d.reValueLine }

// GroupPattern captures (prefix)(raw value)(suffix) for substitution and
// remapping. Nil for valueless markers.
func (d Def) GroupPattern() *regexp.Regexp { return d.reGroups }

// Registry holds every marker definition used in converted output.
// It is immutable after construction; callers share a single instance.
type Registry struct {
	// Page content boundaries, integer page number payload.
	PageBegin Def
	PageEnd   Def

	// PageSkip sits between PageBegin and PageEnd when a page's content is
	// intentionally omitted (tables of contents, copyright pages), keeping
	// page numbering intact.
	PageSkip Def

	// TableContinue precedes a <table> that continues a table from the
	// previous page.
	TableContinue Def

	// Image block boundaries.
	ImageBegin Def
	ImageEnd   Def

	// AI-generated image description boundaries. Content between them does
	// not come from the PDF source text and is excluded from fidelity checks.
	DescBegin Def
	DescEnd   Def

	// ImageRect carries a normalized bounding box (0.0-1.0, origin top-left)
	// inside an image block. The page number comes from the enclosing
	// PageBegin marker.
	ImageRect Def

	// DescBlock matches a full description block, begin through end.
	DescBlock *regexp.Regexp

	byTag map[string]Def
}

// NewRegistry builds the canonical marker registry.
func NewRegistry() *Registry {
	r := &Registry{
		PageBegin:     newDef("PDF_PAGE_BEGIN", `(\d+)`, "%d", "N", ""),
		PageEnd:       newDef("PDF_PAGE_END", `(\d+)`, "%d", "N", ""),
		PageSkip:      newDef("PDF_PAGE_SKIP", "", "", "", ""),
		TableContinue: newDef("TABLE_CONTINUE", "", "", "", ""),
		ImageBegin:    newDef("IMAGE_BEGIN", "", "", "", ""),
		ImageEnd:      newDef("IMAGE_END", "", "", "", ""),
		DescBegin:     newDef("IMAGE_AI_GENERATED_DESCRIPTION_BEGIN", "", "", "", ""),
		DescEnd:       newDef("IMAGE_AI_GENERATED_DESCRIPTION_END", "", "", "", ""),
		ImageRect: newDef("IMAGE_RECT",
			`([0-9.]+),([0-9.]+),([0-9.]+),([0-9.]+)`,
			"%.2f,%.2f,%.2f,%.2f",
			"0.02,0.15,0.98,0.65",
			"<x0>,<y0>,<x1>,<y1>"),
	}
	r.DescBlock = regexp.MustCompile(
		`(?s)<!--\s*` + regexp.QuoteMeta(r.DescBegin.Tag) + `\s*-->` +
			`.*?` +
			`<!--\s*` + regexp.QuoteMeta(r.DescEnd.Tag) + `\s*-->`)

	r.byTag = make(map[string]Def)
	for _, d := range []Def{
		r.PageBegin, r.PageEnd, r.PageSkip, r.TableContinue,
		r.ImageBegin, r.ImageEnd, r.DescBegin, r.DescEnd, r.ImageRect,
	} {
		if _, dup := r.byTag[d.Tag]; dup {
			panic("duplicate marker tag " + d.Tag)
		}
		r.byTag[d.Tag] = d
	}
	return r
}

// Lookup returns the definition for tag.
func (r *Registry) Lookup(tag string) (Def, bool) {
	d, ok := r.byTag[tag]
	return d, ok
}

// Tags returns all registered tags, sorted.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.byTag))
	for t := range r.byTag {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// TableBlock matches a full <table>...</table> HTML block.
var TableBlock = regexp.MustCompile(`(?is)<table\b[^>]*>.*?</table>`)

// Extracted-image file naming.

// ImageFilename renders the canonical extracted-image filename,
// e.g. ImageFilename(1, 1, "png") == "img_p001_01.png".
func ImageFilename(page, idx int, ext string) string {
	return fmt.Sprintf("img_p%03d_%02d.%s", page, idx, ext)
}

// ImageFilenameRE matches an extracted-image filename and captures
// (page, index, extension).
var ImageFilenameRE = regexp.MustCompile(`img_p(\d{3})_(\d{2})\.(\w+)`)

// ImageRefRE matches a Markdown image reference to an extracted image and
// captures (alt text, full path). Matches sub-extension filenames too.
var ImageRefRE = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]*?/img_p\d{3}_\d{2}\.[\w.]+)\)`)
