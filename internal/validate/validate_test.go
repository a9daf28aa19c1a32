// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package validate

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/pdiddy/pdf2md/internal/markers"
)

func newTestValidator() *Validator {
	return New(markers.NewRegistry(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func page(n int, body string) string {
	return fmt.Sprintf("<!-- PDF_PAGE_BEGIN %d -->\n%s\n<!-- PDF_PAGE_END %d -->\n", n, body, n)
}

func messages(issues []Issue) string {
	var b strings.Builder
	for _, i := range issues {
		b.WriteString(i.Message)
		b.WriteString("\n")
	}
	return b.String()
}

func TestValidateCleanDocument(t *testing.T) {
	v := newTestValidator()
	md := page(1, "# Title\n\nintro text") +
		page(2, "## 1 Scope\n\nbody") +
		page(3, "## 2 References\n\nmore body")
	res := v.Validate(md)
	if !res.OK() {
		t.Errorf("clean document reported errors:\n%s", messages(res.Errors()))
	}
	if len(res.Warnings()) != 0 {
		t.Errorf("clean document reported warnings:\n%s", messages(res.Warnings()))
	}
}

func TestValidateNoPageMarkers(t *testing.T) {
	v := newTestValidator()
	res := v.Validate("# Title\n\njust text, no markers")
	if res.OK() {
		t.Fatal("document without page markers must fail validation")
	}
	if !strings.Contains(messages(res.Errors()), "No page markers") {
		t.Errorf("unexpected errors:\n%s", messages(res.Errors()))
	}
}

func TestValidatePageGapAndBackwards(t *testing.T) {
	v := newTestValidator()
	md := page(1, "one") + page(2, "two") + page(5, "five") + page(4, "four")
	res := v.Validate(md)
	errs := messages(res.Errors())
	if !strings.Contains(errs, "page 2 jumps to page 5") {
		t.Errorf("gap not reported:\n%s", errs)
	}
	if !strings.Contains(errs, "not monotonic") {
		t.Errorf("backward page not reported:\n%s", errs)
	}
}

func TestValidateUnmatchedMarkers(t *testing.T) {
	v := newTestValidator()
	md := "<!-- PDF_PAGE_BEGIN 1 -->\ncontent\n<!-- PDF_PAGE_END 1 -->\n" +
		"<!-- PDF_PAGE_BEGIN 2 -->\ncontent without end\n"
	res := v.Validate(md)
	if !strings.Contains(messages(res.Errors()), "PDF_PAGE_BEGIN 2 has no matching PDF_PAGE_END") {
		t.Errorf("missing end marker not reported:\n%s", messages(res.Errors()))
	}
}

func TestValidateImageBlockPairing(t *testing.T) {
	v := newTestValidator()

	t.Run("balanced", func(t *testing.T) {
		md := page(1, "<!-- IMAGE_BEGIN -->\n<!-- IMAGE_RECT 0.1,0.2,0.9,0.8 -->\n"+
			"**Figure 1 – Overview**\n"+
			"<!-- IMAGE_AI_GENERATED_DESCRIPTION_BEGIN -->\n> described\n"+
			"<!-- IMAGE_AI_GENERATED_DESCRIPTION_END -->\n<!-- IMAGE_END -->")
		if res := v.Validate(md); !res.OK() {
			t.Errorf("balanced image block reported errors:\n%s", messages(res.Errors()))
		}
	})

	t.Run("unclosed", func(t *testing.T) {
		md := page(3, "<!-- IMAGE_BEGIN -->\ndangling")
		res := v.Validate(md)
		if !strings.Contains(messages(res.Errors()), "IMAGE_BEGIN was never closed") {
			t.Errorf("unclosed block not reported:\n%s", messages(res.Errors()))
		}
	})

	t.Run("nested", func(t *testing.T) {
		md := page(2, "<!-- IMAGE_BEGIN -->\n<!-- IMAGE_BEGIN -->\n<!-- IMAGE_END -->")
		res := v.Validate(md)
		if !strings.Contains(messages(res.Errors()), "Nested IMAGE_BEGIN") {
			t.Errorf("nested block not reported:\n%s", messages(res.Errors()))
		}
	})

	t.Run("end without begin", func(t *testing.T) {
		md := page(4, "<!-- IMAGE_END -->")
		res := v.Validate(md)
		if !strings.Contains(messages(res.Errors()), "IMAGE_END without matching IMAGE_BEGIN") {
			t.Errorf("stray end not reported:\n%s", messages(res.Errors()))
		}
	})
}

func TestValidateHeadingGap(t *testing.T) {
	v := newTestValidator()
	md := page(1, "## 1 Scope\n\n## 2 Terms\n\n## 5 Requirements")
	res := v.Validate(md)
	if !strings.Contains(messages(res.Warnings()), "section 2 jumps to section 5") {
		t.Errorf("heading gap not reported:\n%s", messages(res.Warnings()))
	}
}

func TestValidateDuplicateHeadings(t *testing.T) {
	v := newTestValidator()
	md := page(1, "## 1 Scope\n\ntext") + page(9, "## 1 Scope\n\nrepeated wrapper text")
	res := v.Validate(md)
	warns := messages(res.Warnings())
	if !strings.Contains(warns, "Duplicate section headings") {
		t.Fatalf("duplicates not reported:\n%s", warns)
	}
	if !strings.Contains(warns, "Section 1 appears 2 times (pages: p1, p9)") {
		t.Errorf("duplicate detail missing:\n%s", warns)
	}
}

func TestValidateFabrication(t *testing.T) {
	v := newTestValidator()
	md := page(1, "The remaining commands are presented as summary references.")
	res := v.Validate(md)
	if res.OK() {
		t.Fatal("fabricated summary phrasing must be an error")
	}
	if !strings.Contains(messages(res.Errors()), "fabricated summary substitution") {
		t.Errorf("fabrication category missing:\n%s", messages(res.Errors()))
	}
}

func TestValidateMissingTableAndFigure(t *testing.T) {
	v := newTestValidator()
	md := page(1, "See Table 3 and Figure 7 for details.\n\n"+
		"**Table 3 – Parameters**\n<table><tbody><tr><td>x</td></tr></tbody></table>")
	res := v.Validate(md)
	warns := messages(res.Warnings())
	if strings.Contains(warns, "Table 3") {
		t.Errorf("defined table flagged as missing:\n%s", warns)
	}
	if !strings.Contains(warns, "Figure 7 is referenced in text but not defined") {
		t.Errorf("missing figure not reported:\n%s", warns)
	}
}

func TestValidateTableRectangularity(t *testing.T) {
	v := newTestValidator()

	t.Run("rectangular with spans", func(t *testing.T) {
		md := page(1, `<table>
<thead>
<tr><th rowspan="2">Name</th><th colspan="2">Range</th></tr>
<tr><th>Min</th><th>Max</th></tr>
</thead>
<tbody>
<tr><td>speed</td><td>0</td><td>100</td></tr>
<tr><td colspan="3">note spanning all columns</td></tr>
</tbody>
</table>`)
		res := v.Validate(md)
		if got := messages(res.Warnings()); strings.Contains(got, "columns") {
			t.Errorf("valid table flagged:\n%s", got)
		}
	})

	t.Run("short row flagged", func(t *testing.T) {
		md := page(2, `<table>
<thead>
<tr><th>A</th><th>B</th><th>C</th></tr>
</thead>
<tbody>
<tr><td>1</td><td>2</td></tr>
</tbody>
</table>`)
		res := v.Validate(md)
		if !strings.Contains(messages(res.Warnings()), "Row 2 spans 2 columns, table width is 3") {
			t.Errorf("short row not reported:\n%s", messages(res.Warnings()))
		}
	})
}

func TestValidateBinarySequences(t *testing.T) {
	v := newTestValidator()
	md := page(1, `<table><tbody>
<tr><td>0000b</td></tr>
<tr><td>0001b</td></tr>
<tr><td>0001b</td></tr>
<tr><td>0001b</td></tr>
</tbody></table>
<table><tbody>
<tr><td>0100b</td></tr>
<tr><td>0010b</td></tr>
</tbody></table>`)
	res := v.Validate(md)
	warns := messages(res.Warnings())
	if !strings.Contains(warns, "Duplicate binary value") {
		t.Errorf("duplicate binary not reported:\n%s", warns)
	}
	if !strings.Contains(warns, "0010b follows 0100b") {
		t.Errorf("non-monotonic binary not reported:\n%s", warns)
	}
}

func TestCheckPageFidelity(t *testing.T) {
	orig := pageTexts
	defer func() { pageTexts = orig }()

	// wordRun generates n distinct significant words sharing a prefix.
	wordRun := func(prefix string, n int) string {
		var b strings.Builder
		for i := 0; i < n; i++ {
			fmt.Fprintf(&b, "%sword%c ", prefix, 'a'+i)
		}
		return b.String()
	}

	t.Run("matching page passes", func(t *testing.T) {
		content := wordRun("shared", 25)
		pageTexts = func(string) ([]string, error) {
			return []string{content}, nil
		}
		v := newTestValidator()
		res := &Result{}
		v.CheckPageFidelity("doc.pdf", page(1, content), res)
		if got := messages(res.Warnings()); strings.Contains(got, "fidelity") {
			t.Errorf("faithful page flagged:\n%s", got)
		}
	})

	t.Run("divergent page flagged", func(t *testing.T) {
		md := wordRun("invented", 25)
		pageTexts = func(string) ([]string, error) {
			return []string{wordRun("source", 10)}, nil
		}
		v := newTestValidator()
		res := &Result{}
		v.CheckPageFidelity("doc.pdf", page(1, md), res)
		warns := messages(res.Warnings())
		if !strings.Contains(warns, "low text overlap") {
			t.Errorf("divergent page not flagged:\n%s", warns)
		}
	})

	t.Run("skipped page excluded", func(t *testing.T) {
		pageTexts = func(string) ([]string, error) {
			return []string{"anything"}, nil
		}
		v := newTestValidator()
		res := &Result{}
		v.CheckPageFidelity("doc.pdf", page(1, "<!-- PDF_PAGE_SKIP -->"), res)
		if len(res.Issues) != 0 {
			t.Errorf("skipped page produced issues:\n%s", messages(res.Issues))
		}
	})
}

func TestResultSeverityHelpers(t *testing.T) {
	res := &Result{}
	res.errorf("pages", "page 3", "broken")
	res.warnf("tables", "", "odd")
	res.infof("pages", "stats")
	if res.OK() {
		t.Error("result with an error must not be OK")
	}
	if len(res.Errors()) != 1 || len(res.Warnings()) != 1 {
		t.Errorf("severity filters wrong: %d errors, %d warnings",
			len(res.Errors()), len(res.Warnings()))
	}
	if got := res.Errors()[0].String(); got != "[pages] page 3: broken" {
		t.Errorf("Issue.String() = %q", got)
	}
}
