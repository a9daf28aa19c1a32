package markers

import (
	"testing"
)

func TestMarkerLiteral(t *testing.T) {
	r := NewRegistry()
	tests := []struct {
		def  Def
		want string
	}{
		{r.TableContinue, "<!-- TABLE_CONTINUE -->"},
		{r.PageSkip, "<!-- PDF_PAGE_SKIP -->"},
		{r.ImageBegin, "<!-- IMAGE_BEGIN -->"},
		{r.DescEnd, "<!-- IMAGE_AI_GENERATED_DESCRIPTION_END -->"},
	}
	for _, tt := range tests {
		if got := tt.def.Marker(); got != tt.want {
			t.Errorf("%s.Marker() = %q, want %q", tt.def.Tag, got, tt.want)
		}
	}
}

func TestFormatValued(t *testing.T) {
	r := NewRegistry()
	if got := r.PageBegin.Format(42); got != "<!-- PDF_PAGE_BEGIN 42 -->" {
		t.Errorf("PageBegin.Format(42) = %q", got)
	}
	if got := r.PageEnd.Format(7); got != "<!-- PDF_PAGE_END 7 -->" {
		t.Errorf("PageEnd.Format(7) = %q", got)
	}
	if got := r.ImageRect.Format(0.02, 0.15, 0.98, 0.65); got != "<!-- IMAGE_RECT 0.02,0.15,0.98,0.65 -->" {
		t.Errorf("ImageRect.Format = %q", got)
	}
}

func TestFormatValuelessPanics(t *testing.T) {
	r := NewRegistry()
	defer func() {
		if recover() == nil {
			t.Error("Format on valueless marker should panic")
		}
	}()
	r.TableContinue.Format(1)
}

func TestValuePatternCaptures(t *testing.T) {
	r := NewRegistry()
	text := "intro\n<!-- PDF_PAGE_BEGIN 3 -->\nbody\n<!-- PDF_PAGE_END 3 -->\n<!--  PDF_PAGE_BEGIN  4  -->\n"

	matches := r.PageBegin.ValuePattern().FindAllStringSubmatch(text, -1)
	if len(matches) != 2 {
		t.Fatalf("got %d begin matches, want 2", len(matches))
	}
	if matches[0][1] != "3" || matches[1][1] != "4" {
		t.Errorf("captured values = %q, %q, want 3, 4", matches[0][1], matches[1][1])
	}
}

func TestLinePatternAnchored(t *testing.T) {
	r := NewRegistry()
	text := "prefix <!-- PDF_PAGE_BEGIN 1 -->\n<!-- PDF_PAGE_BEGIN 2 -->\n"

	matches := r.PageBegin.LinePattern().FindAllStringSubmatch(text, -1)
	if len(matches) != 1 {
		t.Fatalf("got %d line matches, want 1", len(matches))
	}
	if matches[0][1] != "2" {
		t.Errorf("captured value = %q, want 2", matches[0][1])
	}
}

func TestGroupPatternSubstitution(t *testing.T) {
	r := NewRegistry()
	text := "<!-- PDF_PAGE_BEGIN 1 -->\ncontent\n<!-- PDF_PAGE_END 1 -->"

	// Remap page 1 to page 11 touching only the value group.
	got := r.PageBegin.GroupPattern().ReplaceAllString(text, "${1}11${3}")
	want := "<!-- PDF_PAGE_BEGIN 11 -->\ncontent\n<!-- PDF_PAGE_END 1 -->"
	if got != want {
		t.Errorf("substitution = %q, want %q", got, want)
	}
}

func TestGroupPatternRect(t *testing.T) {
	r := NewRegistry()
	text := "<!-- IMAGE_RECT 0.02,0.15,0.98,0.65 -->"

	m := r.ImageRect.GroupPattern().FindStringSubmatch(text)
	if m == nil {
		t.Fatal("GroupPattern did not match rect marker")
	}
	if m[2] != "0.02,0.15,0.98,0.65" {
		t.Errorf("raw value group = %q", m[2])
	}

	vm := r.ImageRect.ValuePattern().FindStringSubmatch(text)
	if len(vm) != 5 {
		t.Fatalf("ValuePattern groups = %d, want 5", len(vm))
	}
	if vm[1] != "0.02" || vm[4] != "0.65" {
		t.Errorf("coordinates = %v", vm[1:])
	}
}

func TestExampleAndPromptTemplate(t *testing.T) {
	r := NewRegistry()
	if got := r.PageBegin.Example(); got != "<!-- PDF_PAGE_BEGIN N -->" {
		t.Errorf("PageBegin.Example() = %q", got)
	}
	if got := r.TableContinue.Example(); got != "<!-- TABLE_CONTINUE -->" {
		t.Errorf("TableContinue.Example() = %q", got)
	}
	if got := r.ImageRect.PromptTemplate(); got != "<!-- IMAGE_RECT <x0>,<y0>,<x1>,<y1> -->" {
		t.Errorf("ImageRect.PromptTemplate() = %q", got)
	}
	if got := r.PageEnd.PromptTemplate(); got != "<!-- PDF_PAGE_END N -->" {
		t.Errorf("PageEnd.PromptTemplate() = %q", got)
	}
}

func TestRegistryTagsUniqueAndSorted(t *testing.T) {
	r := NewRegistry()
	tags := r.Tags()
	if len(tags) != 9 {
		t.Fatalf("got %d tags, want 9", len(tags))
	}
	seen := make(map[string]bool)
	for i, tag := range tags {
		if seen[tag] {
			t.Errorf("duplicate tag %q", tag)
		}
		seen[tag] = true
		if i > 0 && tags[i-1] > tag {
			t.Errorf("tags not sorted: %q before %q", tags[i-1], tag)
		}
		if _, ok := r.Lookup(tag); !ok {
			t.Errorf("Lookup(%q) failed", tag)
		}
	}
}

func TestDescBlock(t *testing.T) {
	r := NewRegistry()
	text := "before\n<!-- IMAGE_AI_GENERATED_DESCRIPTION_BEGIN -->\nA chart showing growth.\n<!-- IMAGE_AI_GENERATED_DESCRIPTION_END -->\nafter"

	stripped := r.DescBlock.ReplaceAllString(text, "")
	if stripped != "before\n\nafter" {
		t.Errorf("stripped = %q", stripped)
	}
}

func TestTableBlock(t *testing.T) {
	text := "x\n<table class=\"a\">\n<tr><td>1</td></tr>\n</table>\ny\n<TABLE><tr></tr></TABLE>"
	blocks := TableBlock.FindAllString(text, -1)
	if len(blocks) != 2 {
		t.Fatalf("got %d table blocks, want 2", len(blocks))
	}
}

func TestImageFilename(t *testing.T) {
	if got := ImageFilename(1, 1, "png"); got != "img_p001_01.png" {
		t.Errorf("ImageFilename = %q", got)
	}
	m := ImageFilenameRE.FindStringSubmatch("img_p012_03.jpeg")
	if m == nil || m[1] != "012" || m[2] != "03" || m[3] != "jpeg" {
		t.Errorf("ImageFilenameRE groups = %v", m)
	}
}

func TestImageRef(t *testing.T) {
	text := "![Figure 2](assets/img_p004_02.png) and ![x](assets/img_p001_01.auto.png)"
	refs := ImageRefRE.FindAllStringSubmatch(text, -1)
	if len(refs) != 2 {
		t.Fatalf("got %d refs, want 2", len(refs))
	}
	if refs[0][1] != "Figure 2" || refs[0][2] != "assets/img_p004_02.png" {
		t.Errorf("ref groups = %v", refs[0])
	}
}
