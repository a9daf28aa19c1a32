// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package workdir manages the .staging/ work directory for chunked PDF
// conversion with resume support. Each chunk's Markdown, context tail, and
// usage metadata are persisted immediately after conversion; on resume,
// already-converted chunks are skipped. A manifest.json records the
// conversion parameters, and any parameter change invalidates all cached
// chunks. All cross-chunk data flows through the filesystem, never held in
// memory across loop iterations.
package workdir

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pdiddy/pdf2md/pkg/types"
)

const (
	manifestFile    = "manifest.json"
	statsFile       = "stats.json"
	chunksSubdir    = "chunks"
	mergedFile      = "merged.md"
	tableFixSubdir  = "tablefix"
	tableFixOutFile = "output.md"
)

// Manifest records the conversion parameters for staleness detection.
// If any field differs between runs, all cached chunks are invalidated.
type Manifest struct {
	PDFMtime      int64  `json:"pdf_mtime"`
	PDFSize       int64  `json:"pdf_size"`
	TotalPages    int    `json:"total_pages"`
	PagesPerChunk int    `json:"pages_per_chunk"`
	MaxPages      int    `json:"max_pages"`
	ModelID       string `json:"model_id"`
	NumChunks     int    `json:"num_chunks"`
}

// ChunkUsage is the per-chunk token usage, cost, and timing, serialized to
// chunk_NN_meta.json. Cost is computed at save time so each chunk's
// metadata is self-contained.
type ChunkUsage struct {
	Index     int           `json:"index"`      // 0-based chunk index
	PageStart int           `json:"page_start"` // 1-indexed first page
	PageEnd   int           `json:"page_end"`   // 1-indexed last page, inclusive
	Usage     types.Usage   `json:"usage"`
	CostUSD   float64       `json:"cost_usd"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

// TableFixResult is the metadata for one regenerated table, serialized to
// tablefix/pNNN-NNN_label.json. Companion _before.html and _after.html
// files hold the original and regenerated HTML.
type TableFixResult struct {
	Index       int           `json:"index"`
	Label       string        `json:"label"`
	PageNumbers []int         `json:"page_numbers"`
	Usage       types.Usage   `json:"usage"`
	CostUSD     float64       `json:"cost_usd"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	BeforeChars int           `json:"before_chars"`
	AfterChars  int           `json:"after_chars"`
}

// TableFixStats aggregates all table regenerations for a document,
// serialized to tablefix/stats.json.
type TableFixStats struct {
	TablesFound int           `json:"tables_found"`
	TablesFixed int           `json:"tables_fixed"`
	Usage       types.Usage   `json:"usage"`
	CostUSD     float64       `json:"cost_usd"`
	Elapsed     time.Duration `json:"elapsed_ns"`

	// InputHash is the SHA256 of the merged Markdown the fixes were
	// computed from, for cache validation.
	InputHash string `json:"input_hash,omitempty"`
}

// Dir wraps a .staging/ work directory. The directory is not created until
// CreateOrValidate is called.
type Dir struct {
	path     string
	chunks   string
	tableFix string
	manifest *Manifest
	log      *slog.Logger
}

// New wraps the .staging/ directory at path.
func New(path string, log *slog.Logger) *Dir {
	if log == nil {
		log = slog.Default()
	}
	return &Dir{
		path:     path,
		chunks:   filepath.Join(path, chunksSubdir),
		tableFix: filepath.Join(path, tableFixSubdir),
		log:      log,
	}
}

// Path returns the .staging/ directory path.
func (d *Dir) Path() string { return d.path }

// TableFixPath returns the tablefix/ subdirectory path.
func (d *Dir) TableFixPath() string { return d.tableFix }

func (d *Dir) chunkMD(index int) string {
	return filepath.Join(d.chunks, fmt.Sprintf("chunk_%02d.md", index+1))
}

func (d *Dir) chunkContext(index int) string {
	return filepath.Join(d.chunks, fmt.Sprintf("chunk_%02d_context.md", index+1))
}

func (d *Dir) chunkMeta(index int) string {
	return filepath.Join(d.chunks, fmt.Sprintf("chunk_%02d_meta.json", index+1))
}

// writeFileAtomic writes data to path via a temp file and rename, so readers
// never observe a partially written file.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, append(data, '\n'))
}

// CreateOrValidate creates or validates the work directory and manifest.
//
// If the directory does not exist it is created with a fresh manifest. If it
// exists and the manifest matches the current parameters, the 0-based
// indices of already-cached chunks are returned. A mismatched or corrupt
// manifest invalidates everything before the fresh manifest is written.
func (d *Dir) CreateOrValidate(pdfPath string, totalPages, pagesPerChunk, maxPages int, modelID string, numChunks int) ([]int, error) {
	st, err := os.Stat(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("stat source PDF: %w", err)
	}
	fresh := Manifest{
		PDFMtime:      st.ModTime().UnixNano(),
		PDFSize:       st.Size(),
		TotalPages:    totalPages,
		PagesPerChunk: pagesPerChunk,
		MaxPages:      maxPages,
		ModelID:       modelID,
		NumChunks:     numChunks,
	}

	if err := os.MkdirAll(d.chunks, 0o755); err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}

	mPath := filepath.Join(d.path, manifestFile)
	if existing := d.LoadManifest(); existing != nil {
		if *existing == fresh {
			d.manifest = existing
			var cached []int
			for i := 0; i < numChunks; i++ {
				if d.HasChunk(i) {
					cached = append(cached, i)
				}
			}
			if len(cached) > 0 {
				d.log.Info("chunks cached", "cached", len(cached), "total", numChunks, "dir", d.path)
			}
			return cached, nil
		}
		d.log.Warn("manifest mismatch, invalidating work directory", "dir", d.path)
		if err := d.Invalidate(); err != nil {
			return nil, err
		}
	} else if _, statErr := os.Stat(mPath); statErr == nil {
		// Manifest file exists but did not parse.
		d.log.Warn("corrupt manifest, invalidating work directory", "dir", d.path)
		if err := d.Invalidate(); err != nil {
			return nil, err
		}
	}

	if err := writeJSONAtomic(mPath, fresh); err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}
	d.manifest = &fresh
	return nil, nil
}

// LoadManifest reads the manifest from disk. Returns nil if the file is
// missing or corrupt; never errors.
func (d *Dir) LoadManifest() *Manifest {
	data, err := os.ReadFile(filepath.Join(d.path, manifestFile))
	if err != nil {
		return nil
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return &m
}

func (d *Dir) loadedManifest() (*Manifest, error) {
	if d.manifest != nil {
		return d.manifest, nil
	}
	if m := d.LoadManifest(); m != nil {
		d.manifest = m
		return m, nil
	}
	return nil, fmt.Errorf("no manifest in %s; run conversion first", d.path)
}

// ChunkCount returns the expected number of chunks from the manifest.
func (d *Dir) ChunkCount() (int, error) {
	m, err := d.loadedManifest()
	if err != nil {
		return 0, err
	}
	return m.NumChunks, nil
}

// TotalPages returns the total page count from the manifest.
func (d *Dir) TotalPages() (int, error) {
	m, err := d.loadedManifest()
	if err != nil {
		return 0, err
	}
	return m.TotalPages, nil
}

// SaveChunk persists a converted chunk. Files are written in order:
// _context.md, then .md, then _meta.json. The meta file is written last so
// HasChunk only reports fully written chunks, and every write is atomic.
func (d *Dir) SaveChunk(index int, markdown, contextTail string, usage ChunkUsage) error {
	if err := writeFileAtomic(d.chunkContext(index), []byte(contextTail)); err != nil {
		return fmt.Errorf("writing chunk %d context: %w", index, err)
	}
	if err := writeFileAtomic(d.chunkMD(index), []byte(markdown)); err != nil {
		return fmt.Errorf("writing chunk %d markdown: %w", index, err)
	}
	if err := writeJSONAtomic(d.chunkMeta(index), usage); err != nil {
		return fmt.Errorf("writing chunk %d metadata: %w", index, err)
	}
	return nil
}

// HasChunk reports whether a chunk has been fully and validly written.
// A corrupt meta file counts as absent; the chunk will be reconverted.
func (d *Dir) HasChunk(index int) bool {
	data, err := os.ReadFile(d.chunkMeta(index))
	if err != nil {
		return false
	}
	var u ChunkUsage
	if err := json.Unmarshal(data, &u); err != nil {
		return false
	}
	_, err = os.Stat(d.chunkMD(index))
	return err == nil
}

// LoadChunkMarkdown reads the raw Markdown for a chunk.
func (d *Dir) LoadChunkMarkdown(index int) (string, error) {
	data, err := os.ReadFile(d.chunkMD(index))
	if err != nil {
		return "", fmt.Errorf("reading chunk %d: %w", index, err)
	}
	return string(data), nil
}

// LoadChunkContext reads the context tail for a chunk, or "" if none exists.
func (d *Dir) LoadChunkContext(index int) string {
	data, err := os.ReadFile(d.chunkContext(index))
	if err != nil {
		return ""
	}
	return string(data)
}

// LoadChunkUsage reads the usage metadata for a chunk.
func (d *Dir) LoadChunkUsage(index int) (ChunkUsage, error) {
	var u ChunkUsage
	data, err := os.ReadFile(d.chunkMeta(index))
	if err != nil {
		return u, fmt.Errorf("reading chunk %d metadata: %w", index, err)
	}
	if err := json.Unmarshal(data, &u); err != nil {
		return u, fmt.Errorf("corrupt chunk %d metadata: %w", index, err)
	}
	return u, nil
}

// SaveStats writes aggregated document usage to chunks/stats.json. Stages
// are persisted separately under tablefix/ and stripped here to avoid
// double counting.
func (d *Dir) SaveStats(stats types.DocumentUsage) error {
	stats.Stages = nil
	return writeJSONAtomic(filepath.Join(d.chunks, statsFile), stats)
}

// LoadStats reads aggregated document usage from chunks/stats.json.
// Returns nil if the file is missing or corrupt.
func (d *Dir) LoadStats() *types.DocumentUsage {
	data, err := os.ReadFile(filepath.Join(d.chunks, statsFile))
	if err != nil {
		return nil
	}
	var s types.DocumentUsage
	if err := json.Unmarshal(data, &s); err != nil {
		d.log.Warn("corrupt stats file, ignoring", "path", filepath.Join(d.chunks, statsFile))
		return nil
	}
	return &s
}

// LoadCombinedStats loads chunk stats plus table-fix stats as one
// DocumentUsage with the table fixes appended as a stage.
func (d *Dir) LoadCombinedStats() *types.DocumentUsage {
	stats := d.LoadStats()
	if stats == nil {
		return nil
	}
	if tf := d.LoadTableFixStats(); tf != nil && tf.TablesFixed > 0 {
		stats.Stages = append(stats.Stages, types.StageCost{
			Name:    "table fixes",
			Usage:   tf.Usage,
			CostUSD: tf.CostUSD,
			Elapsed: tf.Elapsed,
			Detail:  fmt.Sprintf("%d tables", tf.TablesFixed),
		})
	}
	return stats
}

// SaveMerged writes the merged phase output to merged.md.
func (d *Dir) SaveMerged(markdown string) error {
	return writeFileAtomic(filepath.Join(d.path, mergedFile), []byte(markdown))
}

// LoadMerged reads merged.md, or "" with ok=false if it does not exist.
func (d *Dir) LoadMerged() (string, bool) {
	data, err := os.ReadFile(filepath.Join(d.path, mergedFile))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Invalidate removes all contents of the work directory and recreates it
// empty. Safe to call when the directory does not exist.
func (d *Dir) Invalidate() error {
	if _, err := os.Stat(d.path); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(d.path); err != nil {
		return fmt.Errorf("removing work directory: %w", err)
	}
	d.manifest = nil
	return os.MkdirAll(d.chunks, 0o755)
}

// ClearTableFix removes and recreates the tablefix/ subdirectory.
func (d *Dir) ClearTableFix() error {
	if err := os.RemoveAll(d.tableFix); err != nil {
		return err
	}
	return os.MkdirAll(d.tableFix, 0o755)
}

// tableFixPrefix builds the per-table filename prefix from the page range
// and a sanitized label, e.g. "p003-006_table_23".
func tableFixPrefix(pageNumbers []int, label string) string {
	minPage, maxPage := pageNumbers[0], pageNumbers[0]
	for _, p := range pageNumbers[1:] {
		if p < minPage {
			minPage = p
		}
		if p > maxPage {
			maxPage = p
		}
	}
	sanitized := strings.ToLower(label)
	sanitized = strings.ReplaceAll(sanitized, " ", "_")
	sanitized = strings.ReplaceAll(sanitized, "–", "-")
	sanitized = strings.ReplaceAll(sanitized, "—", "-")
	return fmt.Sprintf("p%03d-%03d_%s", minPage, maxPage, sanitized)
}

// SaveTableFix persists one table regeneration result: a metadata JSON plus
// _before.html and _after.html companions.
func (d *Dir) SaveTableFix(result TableFixResult, beforeHTML, afterHTML string) error {
	if len(result.PageNumbers) == 0 {
		return fmt.Errorf("table fix result has no page numbers")
	}
	if err := os.MkdirAll(d.tableFix, 0o755); err != nil {
		return err
	}
	prefix := tableFixPrefix(result.PageNumbers, result.Label)
	if err := writeJSONAtomic(filepath.Join(d.tableFix, prefix+".json"), result); err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(d.tableFix, prefix+"_before.html"), []byte(beforeHTML)); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(d.tableFix, prefix+"_after.html"), []byte(afterHTML))
}

// SaveTableFixStats writes aggregate table fix stats to tablefix/stats.json.
func (d *Dir) SaveTableFixStats(stats TableFixStats) error {
	if err := os.MkdirAll(d.tableFix, 0o755); err != nil {
		return err
	}
	return writeJSONAtomic(filepath.Join(d.tableFix, statsFile), stats)
}

// LoadTableFixStats reads tablefix/stats.json. Returns nil if the file is
// missing or corrupt.
func (d *Dir) LoadTableFixStats() *TableFixStats {
	data, err := os.ReadFile(filepath.Join(d.tableFix, statsFile))
	if err != nil {
		return nil
	}
	var s TableFixStats
	if err := json.Unmarshal(data, &s); err != nil {
		d.log.Warn("corrupt table fix stats, ignoring", "path", filepath.Join(d.tableFix, statsFile))
		return nil
	}
	return &s
}

// SaveTableFixOutput writes post-table-fix Markdown to tablefix/output.md.
func (d *Dir) SaveTableFixOutput(markdown string) error {
	if err := os.MkdirAll(d.tableFix, 0o755); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(d.tableFix, tableFixOutFile), []byte(markdown))
}

// LoadTableFixOutput reads cached post-table-fix Markdown.
func (d *Dir) LoadTableFixOutput() (string, bool) {
	data, err := os.ReadFile(filepath.Join(d.tableFix, tableFixOutFile))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// ContentHashGlob computes a SHA256 hex digest over the contents of files
// matching the glob patterns, relative to the staging directory. Files are
// hashed in sorted path order for determinism. Returns "" when nothing
// matches.
func (d *Dir) ContentHashGlob(patterns ...string) (string, error) {
	var paths []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(d.path, pattern))
		if err != nil {
			return "", fmt.Errorf("bad glob pattern %q: %w", pattern, err)
		}
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		return "", nil
	}
	sort.Strings(paths)
	h := sha256.New()
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return "", fmt.Errorf("hashing %s: %w", p, err)
		}
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
