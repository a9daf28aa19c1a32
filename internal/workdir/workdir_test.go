// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package workdir

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/pdf2md/pkg/types"
)

func writePDF(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 fake"), 0o644))
	return path
}

func newDir(t *testing.T) (*Dir, string) {
	t.Helper()
	tmp := t.TempDir()
	return New(filepath.Join(tmp, ".staging"), nil), tmp
}

func TestCreateOrValidateFresh(t *testing.T) {
	d, tmp := newDir(t)
	pdf := writePDF(t, tmp)

	cached, err := d.CreateOrValidate(pdf, 30, 10, 0, "claude-sonnet-4-5", 3)
	require.NoError(t, err)
	assert.Empty(t, cached)

	m := d.LoadManifest()
	require.NotNil(t, m)
	assert.Equal(t, 30, m.TotalPages)
	assert.Equal(t, 3, m.NumChunks)

	n, err := d.ChunkCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestResumeFindsCachedChunks(t *testing.T) {
	d, tmp := newDir(t)
	pdf := writePDF(t, tmp)

	_, err := d.CreateOrValidate(pdf, 30, 10, 0, "claude-sonnet-4-5", 3)
	require.NoError(t, err)

	usage := ChunkUsage{Index: 0, PageStart: 1, PageEnd: 10, Usage: types.Usage{InputTokens: 100, OutputTokens: 200}, CostUSD: 0.01}
	require.NoError(t, d.SaveChunk(0, "# chunk one", "tail", usage))
	require.NoError(t, d.SaveChunk(2, "# chunk three", "", ChunkUsage{Index: 2, PageStart: 21, PageEnd: 30}))

	// Same parameters: chunks 0 and 2 are cached.
	cached, err := d.CreateOrValidate(pdf, 30, 10, 0, "claude-sonnet-4-5", 3)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, cached)

	md, err := d.LoadChunkMarkdown(0)
	require.NoError(t, err)
	assert.Equal(t, "# chunk one", md)
	assert.Equal(t, "tail", d.LoadChunkContext(0))

	got, err := d.LoadChunkUsage(0)
	require.NoError(t, err)
	assert.Equal(t, usage, got)
}

func TestParameterChangeInvalidates(t *testing.T) {
	d, tmp := newDir(t)
	pdf := writePDF(t, tmp)

	_, err := d.CreateOrValidate(pdf, 30, 10, 0, "claude-sonnet-4-5", 3)
	require.NoError(t, err)
	require.NoError(t, d.SaveChunk(0, "# chunk", "", ChunkUsage{PageEnd: 10}))

	// Different pages-per-chunk: everything invalidated.
	cached, err := d.CreateOrValidate(pdf, 30, 5, 0, "claude-sonnet-4-5", 6)
	require.NoError(t, err)
	assert.Empty(t, cached)
	assert.False(t, d.HasChunk(0))
}

func TestModelChangeInvalidates(t *testing.T) {
	d, tmp := newDir(t)
	pdf := writePDF(t, tmp)

	_, err := d.CreateOrValidate(pdf, 30, 10, 0, "claude-sonnet-4-5", 3)
	require.NoError(t, err)
	require.NoError(t, d.SaveChunk(0, "# chunk", "", ChunkUsage{}))

	cached, err := d.CreateOrValidate(pdf, 30, 10, 0, "claude-opus-4-6", 3)
	require.NoError(t, err)
	assert.Empty(t, cached)
}

func TestPDFChangeInvalidates(t *testing.T) {
	d, tmp := newDir(t)
	pdf := writePDF(t, tmp)

	_, err := d.CreateOrValidate(pdf, 30, 10, 0, "claude-sonnet-4-5", 3)
	require.NoError(t, err)
	require.NoError(t, d.SaveChunk(0, "# chunk", "", ChunkUsage{}))

	// Rewrite the PDF with different content and mtime.
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4 fake but longer"), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(pdf, future, future))

	cached, err := d.CreateOrValidate(pdf, 30, 10, 0, "claude-sonnet-4-5", 3)
	require.NoError(t, err)
	assert.Empty(t, cached)
}

func TestCorruptManifestInvalidates(t *testing.T) {
	d, tmp := newDir(t)
	pdf := writePDF(t, tmp)

	_, err := d.CreateOrValidate(pdf, 30, 10, 0, "claude-sonnet-4-5", 3)
	require.NoError(t, err)
	require.NoError(t, d.SaveChunk(0, "# chunk", "", ChunkUsage{}))

	require.NoError(t, os.WriteFile(filepath.Join(d.Path(), "manifest.json"), []byte("{not json"), 0o644))

	cached, err := d.CreateOrValidate(pdf, 30, 10, 0, "claude-sonnet-4-5", 3)
	require.NoError(t, err)
	assert.Empty(t, cached)
	require.NotNil(t, d.LoadManifest())
}

func TestCorruptChunkMetaTreatedAbsent(t *testing.T) {
	d, tmp := newDir(t)
	pdf := writePDF(t, tmp)

	_, err := d.CreateOrValidate(pdf, 10, 10, 0, "claude-sonnet-4-5", 1)
	require.NoError(t, err)
	require.NoError(t, d.SaveChunk(0, "# chunk", "", ChunkUsage{}))
	require.True(t, d.HasChunk(0))

	metaPath := filepath.Join(d.Path(), "chunks", "chunk_01_meta.json")
	require.NoError(t, os.WriteFile(metaPath, []byte("truncat"), 0o644))
	assert.False(t, d.HasChunk(0))
}

func TestSaveChunkAtomicNoTempLeftovers(t *testing.T) {
	d, tmp := newDir(t)
	pdf := writePDF(t, tmp)

	_, err := d.CreateOrValidate(pdf, 10, 10, 0, "claude-sonnet-4-5", 1)
	require.NoError(t, err)
	require.NoError(t, d.SaveChunk(0, "content", "tail", ChunkUsage{}))

	entries, err := os.ReadDir(filepath.Join(d.Path(), "chunks"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestStatsRoundTrip(t *testing.T) {
	d, tmp := newDir(t)
	pdf := writePDF(t, tmp)
	_, err := d.CreateOrValidate(pdf, 10, 10, 0, "claude-sonnet-4-5", 1)
	require.NoError(t, err)

	assert.Nil(t, d.LoadStats())

	stats := types.DocumentUsage{
		DocName: "doc",
		Pages:   10,
		Chunks:  1,
		Usage:   types.Usage{InputTokens: 500, OutputTokens: 900},
		CostUSD: 0.05,
	}
	require.NoError(t, d.SaveStats(stats))

	got := d.LoadStats()
	require.NotNil(t, got)
	assert.Equal(t, stats, *got)
}

func TestLoadCombinedStatsAppendsTableFixes(t *testing.T) {
	d, tmp := newDir(t)
	pdf := writePDF(t, tmp)
	_, err := d.CreateOrValidate(pdf, 10, 10, 0, "claude-sonnet-4-5", 1)
	require.NoError(t, err)

	require.NoError(t, d.SaveStats(types.DocumentUsage{DocName: "doc", Pages: 10, CostUSD: 1.0}))
	require.NoError(t, d.SaveTableFixStats(TableFixStats{
		TablesFound: 3,
		TablesFixed: 2,
		Usage:       types.Usage{InputTokens: 100, OutputTokens: 50},
		CostUSD:     0.2,
	}))

	combined := d.LoadCombinedStats()
	require.NotNil(t, combined)
	require.Len(t, combined.Stages, 1)
	assert.Equal(t, "table fixes", combined.Stages[0].Name)
	assert.Equal(t, "2 tables", combined.Stages[0].Detail)
	assert.InDelta(t, 1.2, combined.TotalCost(), 1e-9)
}

func TestMergedRoundTrip(t *testing.T) {
	d, tmp := newDir(t)
	pdf := writePDF(t, tmp)
	_, err := d.CreateOrValidate(pdf, 10, 10, 0, "claude-sonnet-4-5", 1)
	require.NoError(t, err)

	_, ok := d.LoadMerged()
	assert.False(t, ok)

	require.NoError(t, d.SaveMerged("# merged output"))
	got, ok := d.LoadMerged()
	require.True(t, ok)
	assert.Equal(t, "# merged output", got)
}

func TestSaveTableFixFiles(t *testing.T) {
	d, tmp := newDir(t)
	pdf := writePDF(t, tmp)
	_, err := d.CreateOrValidate(pdf, 10, 10, 0, "claude-sonnet-4-5", 1)
	require.NoError(t, err)

	result := TableFixResult{
		Index:       0,
		Label:       "Table 3",
		PageNumbers: []int{3, 4, 6},
		BeforeChars: 10,
		AfterChars:  12,
	}
	require.NoError(t, d.SaveTableFix(result, "<table>a</table>", "<table>b</table>"))

	for _, name := range []string{"p003-006_table_3.json", "p003-006_table_3_before.html", "p003-006_table_3_after.html"} {
		_, err := os.Stat(filepath.Join(d.TableFixPath(), name))
		assert.NoError(t, err, name)
	}
}

func TestContentHashGlob(t *testing.T) {
	d, tmp := newDir(t)
	pdf := writePDF(t, tmp)
	_, err := d.CreateOrValidate(pdf, 10, 10, 0, "claude-sonnet-4-5", 1)
	require.NoError(t, err)

	h, err := d.ContentHashGlob("merged.md")
	require.NoError(t, err)
	assert.Empty(t, h, "no matching files hashes to empty string")

	require.NoError(t, d.SaveMerged("stable content"))
	h1, err := d.ContentHashGlob("merged.md")
	require.NoError(t, err)
	require.NotEmpty(t, h1)

	h2, err := d.ContentHashGlob("merged.md")
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	require.NoError(t, d.SaveMerged("different content"))
	h3, err := d.ContentHashGlob("merged.md")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestInvalidate(t *testing.T) {
	d, tmp := newDir(t)
	pdf := writePDF(t, tmp)
	_, err := d.CreateOrValidate(pdf, 10, 10, 0, "claude-sonnet-4-5", 1)
	require.NoError(t, err)
	require.NoError(t, d.SaveChunk(0, "x", "", ChunkUsage{}))
	require.NoError(t, d.SaveMerged("y"))

	require.NoError(t, d.Invalidate())
	assert.False(t, d.HasChunk(0))
	assert.Nil(t, d.LoadManifest())
	_, ok := d.LoadMerged()
	assert.False(t, ok)
}
