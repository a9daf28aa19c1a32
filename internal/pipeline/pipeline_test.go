// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pdiddy/pdf2md/internal/markers"
	"github.com/pdiddy/pdf2md/internal/workdir"
)

var reg = markers.NewRegistry()

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolveOutput(t *testing.T) {
	got := ResolveOutput(filepath.Join("docs", "spec.pdf"), "")
	want := filepath.Join("docs", "spec.md")
	if got != want {
		t.Errorf("ResolveOutput = %q, want %q", got, want)
	}

	got = ResolveOutput(filepath.Join("docs", "spec.pdf"), "out")
	want = filepath.Join("out", "spec.md")
	if got != want {
		t.Errorf("ResolveOutput with dir = %q, want %q", got, want)
	}
}

func TestStagingPath(t *testing.T) {
	if got := StagingPath(filepath.Join("out", "spec.md")); got != filepath.Join("out", "spec.staging") {
		t.Errorf("StagingPath = %q", got)
	}
}

func page(n int, body string) string {
	return reg.PageBegin.Format(n) + "\n\n" + body + "\n\n" + reg.PageEnd.Format(n) + "\n"
}

const headTable = `**Table 1 – Codes**

<table>
<thead>
<tr><th>Code</th></tr>
</thead>
<tbody>
<tr><td>alpha</td></tr>
</tbody>
</table>`

var contTable = reg.TableContinue.Marker() + `
**Table 1 – Codes (continued)**

<table>
<thead>
<tr><th>Code</th></tr>
</thead>
<tbody>
<tr><td>beta</td></tr>
</tbody>
</table>`

// newPipe builds a pipeline whose staging directory holds two overlapping
// chunks with a table continued across the chunk boundary.
func newPipe(t *testing.T, steps []Step) *Pipeline {
	t.Helper()
	tmp := t.TempDir()
	pdf := filepath.Join(tmp, "doc.pdf")
	if err := os.WriteFile(pdf, []byte("%PDF-1.4 fake"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(tmp, "doc.md")

	p := New(reg, steps, "", out, nil)
	if _, err := p.Dir().CreateOrValidate(pdf, 3, 2, 0, "claude-sonnet-4-5", 2); err != nil {
		t.Fatal(err)
	}

	chunk0 := page(1, "# Example Document\n\nIntro paragraph.") + "\n" + page(2, headTable)
	chunk1 := page(2, "stale duplicate") + "\n" + page(3, contTable)
	if err := p.Dir().SaveChunk(0, chunk0, "tail", workdir.ChunkUsage{Index: 0, PageStart: 1, PageEnd: 2}); err != nil {
		t.Fatal(err)
	}
	if err := p.Dir().SaveChunk(1, chunk1, "", workdir.ChunkUsage{Index: 1, PageStart: 3, PageEnd: 3}); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRemergeRunsStepsAndWrites(t *testing.T) {
	steps := []Step{
		MergeTablesStep{Registry: reg},
		FixTablesStep{}, // no fixer configured, must skip cleanly
		FormatStep{},
		ValidateStep{Registry: reg},
	}
	p := newPipe(t, steps)

	res, err := p.Remerge(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if p.State() != StateWritten {
		t.Errorf("state = %s, want %s", p.State(), StateWritten)
	}
	if res.CachedChunks != 2 || res.FreshChunks != 0 {
		t.Errorf("cached/fresh = %d/%d, want 2/0", res.CachedChunks, res.FreshChunks)
	}
	if len(res.StepTimings) != len(steps) {
		t.Errorf("step timings = %d, want %d", len(res.StepTimings), len(steps))
	}

	data, err := os.ReadFile(res.OutputFile)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)

	// First writer wins for the overlapping page.
	if strings.Contains(out, "stale duplicate") {
		t.Error("page 2 content should come from the first chunk")
	}
	// The continued table is folded into its predecessor.
	if strings.Count(out, "<table") != 1 {
		t.Errorf("expected 1 table after folding, got %d", strings.Count(out, "<table"))
	}
	for _, row := range []string{"alpha", "beta"} {
		if !strings.Contains(out, row) {
			t.Errorf("output missing row %q", row)
		}
	}
	if reg.TableContinue.Pattern().MatchString(out) {
		t.Error("continuation marker should be consumed")
	}

	if res.Issues == nil {
		t.Fatal("validation issues not collected")
	}
	if len(res.Issues.Errors()) != 0 {
		t.Errorf("unexpected validation errors: %v", res.Issues.Errors())
	}

	// merged.md reflects the pre-step merge.
	if merged, ok := p.Dir().LoadMerged(); !ok || !strings.Contains(merged, reg.TableContinue.Marker()) {
		t.Error("merged.md should hold the raw merge before table folding")
	}
}

func TestRemergeMissingStaging(t *testing.T) {
	tmp := t.TempDir()
	p := New(reg, nil, "", filepath.Join(tmp, "doc.md"), nil)
	if _, err := p.Remerge(context.Background()); err == nil {
		t.Fatal("expected error for missing staging directory")
	}
}

func TestRemergeMissingChunk(t *testing.T) {
	p := newPipe(t, nil)
	if err := os.Remove(filepath.Join(p.Dir().Path(), "chunks", "chunk_02.md")); err != nil {
		t.Fatal(err)
	}
	_, err := p.Remerge(context.Background())
	if err == nil || !strings.Contains(err.Error(), "missing chunks: 2") {
		t.Fatalf("err = %v, want missing chunk 2", err)
	}
}

// gappedPipe builds a pipeline whose chunks skip page 2 entirely, which
// the validate step reports as an error.
func gappedPipe(t *testing.T, steps []Step) *Pipeline {
	t.Helper()
	tmp := t.TempDir()
	pdf := filepath.Join(tmp, "doc.pdf")
	if err := os.WriteFile(pdf, []byte("%PDF-1.4 fake"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := New(reg, steps, "", filepath.Join(tmp, "doc.md"), nil)
	if _, err := p.Dir().CreateOrValidate(pdf, 3, 2, 0, "claude-sonnet-4-5", 2); err != nil {
		t.Fatal(err)
	}
	if err := p.Dir().SaveChunk(0, page(1, "Intro."), "tail", workdir.ChunkUsage{Index: 0, PageStart: 1, PageEnd: 2}); err != nil {
		t.Fatal(err)
	}
	if err := p.Dir().SaveChunk(1, page(3, "Tail."), "", workdir.ChunkUsage{Index: 1, PageStart: 3, PageEnd: 3}); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestFatalValidationAbortsWrite(t *testing.T) {
	p := gappedPipe(t, []Step{ValidateStep{Registry: reg}})
	p.FatalValidation = true

	_, err := p.Remerge(context.Background())
	if err == nil || !strings.Contains(err.Error(), "validation") {
		t.Fatalf("err = %v, want validation failure", err)
	}
	if p.State() != StateFailed {
		t.Errorf("state = %s, want %s", p.State(), StateFailed)
	}

	out := filepath.Join(filepath.Dir(p.Dir().Path()), "doc.md")
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("output file must not be written when validation errors are fatal")
	}
	// Chunks survive for a corrected rerun.
	for i := 0; i < 2; i++ {
		if !p.Dir().HasChunk(i) {
			t.Errorf("chunk %d missing after fatal validation", i)
		}
	}
}

func TestFatalValidationOffStillWrites(t *testing.T) {
	p := gappedPipe(t, []Step{ValidateStep{Registry: reg}})

	res, err := p.Remerge(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if p.State() != StateWritten {
		t.Errorf("state = %s, want %s", p.State(), StateWritten)
	}
	if len(res.Issues.Errors()) == 0 {
		t.Error("expected the page gap to be recorded as an error")
	}
	if _, err := os.Stat(res.OutputFile); err != nil {
		t.Errorf("output file should exist: %v", err)
	}
}

func TestStripDescriptionsStep(t *testing.T) {
	md := "before\n\n" +
		reg.DescBegin.Marker() + "\n> generated text\n" + reg.DescEnd.Marker() +
		"\n\n\n\nafter\n"
	p := &Context{Markdown: md, Log: testLogger()}
	if err := (StripDescriptionsStep{Registry: reg}).Run(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(p.Markdown, "generated text") {
		t.Error("description content not removed")
	}
	if strings.Contains(p.Markdown, "\n\n\n") {
		t.Error("blank lines not collapsed")
	}
	for _, keep := range []string{"before", "after"} {
		if !strings.Contains(p.Markdown, keep) {
			t.Errorf("surrounding text %q lost", keep)
		}
	}
}

func TestNeedsConversion(t *testing.T) {
	p := newPipe(t, nil)
	out := filepath.Join(filepath.Dir(p.Dir().Path()), "doc.md")

	if !p.NeedsConversion(false, "") {
		t.Error("missing output should need conversion")
	}
	if err := os.WriteFile(out, []byte("# done\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if p.NeedsConversion(false, "claude-sonnet-4-5") {
		t.Error("existing output from the same model should not need conversion")
	}
	if !p.NeedsConversion(false, "claude-opus-4-6") {
		t.Error("model change should force reconversion")
	}
	if !p.NeedsConversion(true, "claude-sonnet-4-5") {
		t.Error("force should always need conversion")
	}
}

func TestResolvePagesPerChunk(t *testing.T) {
	p := newPipe(t, nil)

	if got := p.ResolvePagesPerChunk(20, false); got != 2 {
		t.Errorf("manifest value should win, got %d", got)
	}
	if got := p.ResolvePagesPerChunk(20, true); got != 20 {
		t.Errorf("force should use requested value, got %d", got)
	}

	fresh := New(reg, nil, "", filepath.Join(t.TempDir(), "new.md"), nil)
	if got := fresh.ResolvePagesPerChunk(20, false); got != 20 {
		t.Errorf("no manifest should use requested value, got %d", got)
	}
}
