// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package rules parses user rules files that customize the conversion
// system prompt. Four directives are supported: @replace, @append, @add,
// and @add after. Parsed overrides are merged with the built-in rule
// registry to build a custom system prompt.
package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pdiddy/pdf2md/internal/markers"
	"github.com/pdiddy/pdf2md/internal/prompt"
)

// AutoRulesFilename is auto-discovered next to each PDF when no explicit
// rules file is given.
const AutoRulesFilename = ".pdf2md.rules"

// preambleName targets the preamble, which is not a numbered rule.
const preambleName = "preamble"

// commentPrefix starts comment lines, stripped from rule text. Lines
// starting with "#" are preserved for Markdown headings.
const commentPrefix = ";"

var directiveRE = regexp.MustCompile(`^@(replace|append|add(?:\s+after)?)\s*(\S+)?\s*$`)

// Insertion is one "@add after NAME" directive in file order.
type Insertion struct {
	After string
	Text  string
}

// Overrides is the parsed content of a rules file.
type Overrides struct {
	// Replacements maps rule name to full replacement text.
	Replacements map[string]string

	// Appends maps rule name to text appended after the existing rule.
	Appends map[string]string

	// Insertions are new rules placed after a named rule.
	Insertions []Insertion

	// Extras are new rules appended after all others.
	Extras []string
}

// Empty reports whether the file contained no directives.
func (o Overrides) Empty() bool {
	return len(o.Replacements) == 0 && len(o.Appends) == 0 &&
		len(o.Insertions) == 0 && len(o.Extras) == 0
}

// stripRuleText removes comment lines and boundary blank lines, keeping
// internal blank lines.
func stripRuleText(lines []string) string {
	var cleaned []string
	for _, ln := range lines {
		if strings.HasPrefix(strings.TrimLeft(ln, " \t"), commentPrefix) {
			continue
		}
		cleaned = append(cleaned, ln)
	}
	for len(cleaned) > 0 && strings.TrimSpace(cleaned[0]) == "" {
		cleaned = cleaned[1:]
	}
	for len(cleaned) > 0 && strings.TrimSpace(cleaned[len(cleaned)-1]) == "" {
		cleaned = cleaned[:len(cleaned)-1]
	}
	return strings.Join(cleaned, "\n")
}

// Parse reads and validates a rules file.
func Parse(path string, reg *markers.Registry) (Overrides, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Overrides{}, fmt.Errorf("reading rules file: %w", err)
	}
	return parse(string(raw), reg)
}

func parse(raw string, reg *markers.Registry) (Overrides, error) {
	lines := strings.Split(raw, "\n")

	valid := make(map[string]bool)
	for _, n := range prompt.RuleNames(reg) {
		valid[n] = true
	}
	validList := strings.Join(prompt.RuleNames(reg), ", ")

	result := Overrides{
		Replacements: make(map[string]string),
		Appends:      make(map[string]string),
	}

	type section struct {
		dtype string
		name  string
		line  int
	}
	var sections []section
	for i, line := range lines {
		if m := directiveRE.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			sections = append(sections, section{
				dtype: strings.Join(strings.Fields(m[1]), " "),
				name:  m[2],
				line:  i,
			})
		}
	}
	if len(sections) == 0 {
		return result, nil
	}

	seenReplace := make(map[string]bool)
	seenAppend := make(map[string]bool)

	for i, s := range sections {
		textStart := s.line + 1
		textEnd := len(lines)
		if i+1 < len(sections) {
			textEnd = sections[i+1].line
		}
		text := stripRuleText(lines[textStart:textEnd])

		switch s.dtype {
		case "replace", "append":
			if s.name == "" {
				return Overrides{}, fmt.Errorf("@%s requires a rule name (line %d)", s.dtype, s.line+1)
			}
			if !valid[s.name] {
				return Overrides{}, fmt.Errorf("unknown rule name %q in @%s (line %d), valid names: %s",
					s.name, s.dtype, s.line+1, validList)
			}
		case "add after":
			if s.name == "" {
				return Overrides{}, fmt.Errorf("@add after requires a rule name (line %d)", s.line+1)
			}
			if !valid[s.name] {
				return Overrides{}, fmt.Errorf("unknown rule name %q in @add after (line %d), valid names: %s",
					s.name, s.line+1, validList)
			}
		case "add":
			if s.name != "" {
				return Overrides{}, fmt.Errorf("@add does not accept a name (%q), did you mean %q? (line %d)",
					s.name, "@add after "+s.name, s.line+1)
			}
		}

		switch s.dtype {
		case "replace":
			if seenReplace[s.name] {
				return Overrides{}, fmt.Errorf("duplicate @replace %s (line %d)", s.name, s.line+1)
			}
			if seenAppend[s.name] {
				return Overrides{}, fmt.Errorf("cannot @replace %s, already have @append %s", s.name, s.name)
			}
			seenReplace[s.name] = true
		case "append":
			if seenAppend[s.name] {
				return Overrides{}, fmt.Errorf("duplicate @append %s (line %d)", s.name, s.line+1)
			}
			if seenReplace[s.name] {
				return Overrides{}, fmt.Errorf("cannot @append %s, already have @replace %s", s.name, s.name)
			}
			seenAppend[s.name] = true
		}

		if text == "" {
			label := "@" + s.dtype
			if s.name != "" {
				label += " " + s.name
			}
			return Overrides{}, fmt.Errorf("%s has no rule text (line %d)", label, s.line+1)
		}

		switch s.dtype {
		case "replace":
			result.Replacements[s.name] = text
		case "append":
			result.Appends[s.name] = text
		case "add after":
			result.Insertions = append(result.Insertions, Insertion{After: s.name, Text: text})
		case "add":
			result.Extras = append(result.Extras, text)
		}
	}

	return result, nil
}

// BuildSystemPrompt merges overrides with the default rule registry and
// assembles the system prompt.
func BuildSystemPrompt(reg *markers.Registry, o Overrides) string {
	type entry struct {
		name string // empty for injected extras
		text string
	}
	var entries []entry
	for _, r := range prompt.DefaultRules(reg) {
		entries = append(entries, entry{r.Name, r.Text})
	}

	preambleBody := prompt.PreambleBody
	if t, ok := o.Replacements[preambleName]; ok {
		preambleBody = t
	}
	if t, ok := o.Appends[preambleName]; ok {
		preambleBody += "\n" + t
	}

	// @add after preamble inserts as rule 1, preserving file order.
	var preambleIns, otherIns []Insertion
	for _, ins := range o.Insertions {
		if ins.After == preambleName {
			preambleIns = append(preambleIns, ins)
		} else {
			otherIns = append(otherIns, ins)
		}
	}
	for i := len(preambleIns) - 1; i >= 0; i-- {
		entries = append([]entry{{text: preambleIns[i].Text}}, entries...)
	}

	for name, text := range o.Replacements {
		if name == preambleName {
			continue
		}
		for i := range entries {
			if entries[i].name == name {
				entries[i].text = text
				break
			}
		}
	}
	for name, text := range o.Appends {
		if name == preambleName {
			continue
		}
		for i := range entries {
			if entries[i].name == name {
				entries[i].text += "\n" + text
				break
			}
		}
	}

	offset := 0
	for _, ins := range otherIns {
		for i := range entries {
			if entries[i].name == ins.After {
				at := i + 1 + offset
				if at > len(entries) {
					at = len(entries)
				}
				entries = append(entries[:at], append([]entry{{text: ins.Text}}, entries[at:]...)...)
				offset++
				break
			}
		}
	}

	for _, text := range o.Extras {
		entries = append(entries, entry{text: text})
	}

	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.text
	}
	return prompt.Build(texts, preambleBody)
}

// Load parses a rules file and returns the resulting system prompt.
func Load(path string, reg *markers.Registry) (string, error) {
	o, err := Parse(path, reg)
	if err != nil {
		return "", err
	}
	return BuildSystemPrompt(reg, o), nil
}

// Discover returns the path of an auto-discovery rules file sitting next
// to pdfPath, or "" when none exists.
func Discover(pdfPath string) string {
	candidate := filepath.Join(filepath.Dir(pdfPath), AutoRulesFilename)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}

// WriteTemplate writes a fully commented rules template to path. Every
// built-in rule appears as a commented-out @replace block, so loading the
// generated file produces zero changes.
func WriteTemplate(path string, reg *markers.Registry) error {
	var lines []string
	add := func(s string) { lines = append(lines, s) }

	add("; pdf2md custom rules file")
	add(";")
	add("; Directives:")
	add(";   @replace NAME   -- completely replace a built-in rule or preamble")
	add(";   @append NAME    -- add text to end of a built-in rule or preamble")
	add(";   @add            -- new rule appended after all others")
	add(";   @add after NAME -- new rule inserted after named rule (or preamble)")
	add(";")
	add("; Valid names: " + strings.Join(prompt.RuleNames(reg), ", "))
	add(";")
	add("; Lines starting with ; are comments (stripped from rule text).")
	add("; Lines starting with # are preserved (useful for markdown headings).")
	add(";")
	add("; Auto-discovery: name this file " + AutoRulesFilename + " and place it next to")
	add("; your PDF and it will be applied automatically (no --rules needed).")
	add(";")
	add("")

	comment := func(text string) {
		for _, ln := range strings.Split(text, "\n") {
			if ln == "" {
				add(";")
			} else {
				add("; " + ln)
			}
		}
	}

	add("; @replace preamble")
	comment(prompt.PreambleBody)
	add("")

	for _, r := range prompt.DefaultRules(reg) {
		add("; @replace " + r.Name)
		comment(r.Text)
		add("")
	}

	add("; @add")
	add("; **Custom rule**: Your additional rule text here.")
	add("")

	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644)
}
