// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package format prettifies HTML table blocks and normalizes Markdown
// spacing in converted output. Format is pure and idempotent; it runs
// after all content transforms and before validation.
package format

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

const indentUnit = "  "

// blockTags get their own line and adjust indentation depth.
var blockTags = map[string]bool{
	"table": true, "thead": true, "tbody": true, "tfoot": true,
	"tr": true, "th": true, "td": true,
	"caption": true, "colgroup": true, "col": true,
}

// selfClosingTags never receive a matching end tag.
var selfClosingTags = map[string]bool{"br": true, "col": true, "img": true, "hr": true}

var (
	// tableBlockRE matches a complete table block starting at the
	// beginning of a line.
	tableBlockRE = regexp.MustCompile(`(?ms)^<table\b[^>]*>.*?</table>`)

	consecutiveBlankLinesRE = regexp.MustCompile(`\n{3,}`)
	trailingWhitespaceRE    = regexp.MustCompile(`(?m)[ \t]+$`)
)

// prettifier re-indents one HTML table block. Block-level table tags each
// get their own line with depth-based indentation; inline content inside
// cells stays on the cell's line.
type prettifier struct {
	lines   []string
	depth   int
	current string
	inCell  bool
}

func (p *prettifier) flushLine() {
	if s := strings.TrimRight(p.current, " \t"); s != "" {
		p.lines = append(p.lines, s)
	}
	p.current = ""
}

func (p *prettifier) indent() string {
	return strings.Repeat(indentUnit, p.depth)
}

func buildTag(t html.Token, selfClosing bool) string {
	parts := []string{t.Data}
	for _, a := range t.Attr {
		parts = append(parts, fmt.Sprintf(`%s="%s"`, a.Key, html.EscapeString(a.Val)))
	}
	if selfClosing {
		return "<" + strings.Join(parts, " ") + " />"
	}
	return "<" + strings.Join(parts, " ") + ">"
}

func (p *prettifier) startTag(t html.Token) {
	tag := t.Data
	if !blockTags[tag] {
		p.current += buildTag(t, false)
		return
	}
	if p.inCell && tag != "td" && tag != "th" {
		p.current += buildTag(t, false)
		return
	}

	p.flushLine()
	if tag == "td" || tag == "th" {
		p.current = p.indent() + buildTag(t, false)
		p.inCell = true
	} else {
		p.lines = append(p.lines, p.indent()+buildTag(t, false))
	}
	if !selfClosingTags[tag] {
		p.depth++
	}
}

func (p *prettifier) endTag(tag string) {
	if !blockTags[tag] {
		p.current += "</" + tag + ">"
		return
	}
	if p.inCell && tag != "td" && tag != "th" {
		p.current += "</" + tag + ">"
		return
	}

	if p.depth > 0 {
		p.depth--
	}
	if tag == "td" || tag == "th" {
		p.current += "</" + tag + ">"
		p.flushLine()
		p.inCell = false
	} else {
		p.flushLine()
		p.lines = append(p.lines, p.indent()+"</"+tag+">")
	}
}

func (p *prettifier) text(data string) {
	if p.inCell {
		p.current += strings.ReplaceAll(data, "\n", " ")
		return
	}
	if s := strings.TrimSpace(data); s != "" {
		p.flushLine()
		p.current = p.indent() + s
	}
}

func (p *prettifier) comment(raw string) {
	if p.inCell {
		p.current += raw
		return
	}
	p.flushLine()
	p.lines = append(p.lines, p.indent()+raw)
}

func (p *prettifier) selfClosing(t html.Token) {
	if blockTags[t.Data] {
		p.flushLine()
		p.lines = append(p.lines, p.indent()+buildTag(t, true))
	} else {
		p.current += buildTag(t, true)
	}
}

// PrettifyTable re-indents an HTML table block with two-space depth
// indentation. Cell content including inline HTML stays on one line, and
// HTML comments (page markers inside merged tables) keep their depth.
func PrettifyTable(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))
	p := &prettifier{}
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		// Raw text keeps entity references as written.
		raw := string(z.Raw())
		switch tt {
		case html.StartTagToken:
			p.startTag(z.Token())
		case html.EndTagToken:
			t := z.Token()
			p.endTag(t.Data)
		case html.SelfClosingTagToken:
			p.selfClosing(z.Token())
		case html.TextToken:
			p.text(raw)
		case html.CommentToken:
			p.comment(raw)
		}
	}
	p.flushLine()
	return strings.Join(p.lines, "\n")
}

// Format prettifies all table blocks, collapses runs of blank lines,
// strips trailing whitespace, and ends the text with a single newline.
// Idempotent: Format(Format(x)) == Format(x).
func Format(text string) string {
	text = tableBlockRE.ReplaceAllStringFunc(text, PrettifyTable)
	text = consecutiveBlankLinesRE.ReplaceAllString(text, "\n\n")
	text = trailingWhitespaceRE.ReplaceAllString(text, "")
	return strings.TrimRight(text, "\n") + "\n"
}
