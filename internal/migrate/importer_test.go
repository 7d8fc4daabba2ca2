package migrate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hephaestus-forge/mnemo/internal/embed"
	"github.com/hephaestus-forge/mnemo/internal/memory"
	"github.com/hephaestus-forge/mnemo/internal/store"
)

func newImporter(t *testing.T) (*Importer, *memory.Memory, string) {
	t.Helper()
	s, err := store.Open(store.Options{Path: ":memory:", Dimensions: 64})
	require.NoError(t, err)

	mem := memory.New(s, embed.NewStaticEmbedder(64), 7*24*time.Hour)
	t.Cleanup(func() { _ = mem.Close() })

	dir := t.TempDir()
	manifest, err := LoadManifest(filepath.Join(dir, "manifest.json"))
	require.NoError(t, err)

	return NewImporter(mem, manifest), mem, dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const memoryMD = `# Memory

## Infrastructure

The forge server runs the training jobs on the RTX GPU.

The backup routine copies the database to cold storage nightly.

## Preferences

Giannis prefers direct answers without preamble.
`

func TestMigrateFile_CreatesChunks(t *testing.T) {
	imp, mem, dir := newImporter(t)
	ctx := context.Background()

	path := filepath.Join(dir, "MEMORY.md")
	writeFile(t, path, memoryMD)

	report, err := imp.MigrateFile(ctx, path, FileOptions{Tier: store.TierLongTerm})
	require.NoError(t, err)
	assert.Equal(t, 3, report.ChunksCreated)
	assert.Zero(t, report.ChunksSkipped)
	assert.Empty(t, report.Errors)

	stats, err := mem.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalChunks)
	assert.Equal(t, 3, stats.ByTier[store.TierLongTerm])
}

func TestMigrateFile_SecondRunIsIdempotent(t *testing.T) {
	// S6: re-importing the same file creates nothing new.
	imp, mem, dir := newImporter(t)
	ctx := context.Background()

	path := filepath.Join(dir, "MEMORY.md")
	writeFile(t, path, memoryMD)

	_, err := imp.MigrateFile(ctx, path, FileOptions{Tier: store.TierLongTerm})
	require.NoError(t, err)

	report, err := imp.MigrateFile(ctx, path, FileOptions{Tier: store.TierLongTerm})
	require.NoError(t, err)
	assert.Zero(t, report.ChunksCreated)
	assert.GreaterOrEqual(t, report.ChunksSkipped, 1)

	stats, err := mem.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalChunks)
}

func TestMigrateFile_ChunksKeepExtractedTags(t *testing.T) {
	// The known upstream bug dropped tags on import; any non-empty
	// dimension must survive here.
	imp, mem, dir := newImporter(t)
	ctx := context.Background()

	path := filepath.Join(dir, "MEMORY.md")
	writeFile(t, path, "# Hephie\n\nAntreas rebuilt the deployment pipeline in Athens.\n")

	report, err := imp.MigrateFile(ctx, path, FileOptions{Tier: store.TierLongTerm})
	require.NoError(t, err)
	require.Equal(t, 1, report.ChunksCreated)

	chunks, err := mem.GetByTier(ctx, store.TierLongTerm, store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	tags := chunks[0].Tags
	assert.False(t, tags.IsEmpty())
	assert.Contains(t, tags.People, "Antreas")
	assert.Contains(t, tags.Places, "Athens")
	// The heading trail contributed the project tag.
	assert.Contains(t, tags.Projects, "Hephie")
}

func TestMigrateAll_RoutesByConvention(t *testing.T) {
	imp, mem, dir := newImporter(t)
	ctx := context.Background()

	writeFile(t, filepath.Join(dir, "MEMORY.md"), "General forge knowledge lives here.\n")
	writeFile(t, filepath.Join(dir, "memory", "people", "Laura.md"), "Laura coordinates the hiring pipeline.\n")
	writeFile(t, filepath.Join(dir, "memory", "2026-07-30.md"), "Yesterday's deployment went smoothly.\n")
	writeFile(t, filepath.Join(dir, "memory", "notes.txt"), "not a memory file, ignored\n")

	report, err := imp.MigrateAll(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 3, report.ChunksCreated)
	assert.Equal(t, 3, report.FilesScanned)

	lauraChunks, err := mem.GetByPerson(ctx, "Laura", store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, lauraChunks, 1)
	assert.Equal(t, store.TierLongTerm, lauraChunks[0].Tier)

	stats, err := mem.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByTier[store.TierShortTerm], "dated files land in short-term")
}

func TestManifest_PersistsAcrossLoads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")

	m, err := LoadManifest(path)
	require.NoError(t, err)
	m.Record(ContentHash("alpha"), "chunk-1")
	require.NoError(t, m.Save())

	reloaded, err := LoadManifest(path)
	require.NoError(t, err)
	assert.True(t, reloaded.Has(ContentHash("alpha")))
	assert.False(t, reloaded.Has(ContentHash("beta")))
	assert.Equal(t, 1, reloaded.Len())
}

func TestParseMarkdown_TracksHeadingTrail(t *testing.T) {
	sections := parseMarkdown("# Top\n\n## Nested\n\nparagraph one here\n\n# Other\n\nparagraph two here\n")
	require.Len(t, sections, 2)
	assert.Equal(t, "paragraph one here", sections[0].text)
	assert.Equal(t, []string{"Top", "Nested"}, sections[0].headings)
	assert.Equal(t, []string{"Other"}, sections[1].headings)
}

func TestParseMarkdown_SkipsShortBlocks(t *testing.T) {
	sections := parseMarkdown("ok\n\na real paragraph of content\n")
	require.Len(t, sections, 1)
	assert.Equal(t, "a real paragraph of content", sections[0].text)
}

func TestWatcher_ReimportsOnChange(t *testing.T) {
	imp, mem, dir := newImporter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(dir, "MEMORY.md")
	writeFile(t, path, "The original watched fact about the forge.\n")

	w, err := NewWatcher(imp, 50*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Track(path, FileOptions{Tier: store.TierLongTerm}))

	go w.Run(ctx)

	writeFile(t, path, "The original watched fact about the forge.\n\nA brand new watched fact appears.\n")

	require.Eventually(t, func() bool {
		stats, err := mem.Stats(context.Background())
		return err == nil && stats.TotalChunks == 2
	}, 5*time.Second, 50*time.Millisecond)
}
