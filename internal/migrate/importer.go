package migrate

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hephaestus-forge/mnemo/internal/memory"
	"github.com/hephaestus-forge/mnemo/internal/store"
	"github.com/hephaestus-forge/mnemo/internal/tags"
)

// minChunkLen drops trivially short paragraphs during parsing.
const minChunkLen = 8

// datedFilePattern matches memory/YYYY-MM-DD.md daily files.
var datedFilePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\.md$`)

// Report summarizes one import run.
type Report struct {
	ChunksCreated int
	ChunksSkipped int
	FilesScanned  int
	Errors        []string
}

// FileOptions routes a file's chunks.
type FileOptions struct {
	Tier   store.Tier
	Person string
}

// Importer performs one-shot, idempotent file imports.
type Importer struct {
	mem       *memory.Memory
	manifest  *Manifest
	extractor *tags.Extractor
}

// NewImporter creates an importer over the facade and manifest.
func NewImporter(mem *memory.Memory, manifest *Manifest) *Importer {
	return &Importer{mem: mem, manifest: manifest, extractor: tags.NewExtractor()}
}

// MigrateFile parses one markdown file into chunks and imports the ones
// whose content hash isn't in the manifest. Embedding failures are
// swallowed per-chunk; manifest write failures are logged and swallowed:
// the import is best-effort.
func (i *Importer) MigrateFile(ctx context.Context, path string, opts FileOptions) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	report := &Report{FilesScanned: 1}
	tier := opts.Tier
	if tier == "" {
		tier = store.TierLongTerm
	}

	for _, section := range parseMarkdown(string(data)) {
		hash := ContentHash(section.text)
		if i.manifest.Has(hash) {
			report.ChunksSkipped++
			continue
		}

		// The heading trail feeds tag extraction, and extracted tags are
		// kept whenever any dimension is non-empty.
		chunkTags := i.extractor.Extract(section.text, section.headings...)

		id, err := i.mem.Remember(ctx, section.text, memory.RememberOptions{
			Tier:   tier,
			Person: opts.Person,
			Source: filepath.Base(path),
			Tags:   &chunkTags,
		})
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
			continue
		}

		i.manifest.Record(hash, id)
		report.ChunksCreated++
	}

	if err := i.manifest.Save(); err != nil {
		slog.Warn("manifest_save_failed",
			slog.String("path", path), slog.String("error", err.Error()))
	}
	return report, nil
}

// MigrateAll discovers memory files by convention under root and routes
// them: MEMORY.md to long-term, memory/people/<name>.md to long-term
// scoped to the person, dated memory/YYYY-MM-DD.md files to short-term.
func (i *Importer) MigrateAll(ctx context.Context, root string) (*Report, error) {
	total := &Report{}

	merge := func(r *Report, err error) {
		if err != nil {
			total.Errors = append(total.Errors, err.Error())
			return
		}
		total.ChunksCreated += r.ChunksCreated
		total.ChunksSkipped += r.ChunksSkipped
		total.FilesScanned += r.FilesScanned
		total.Errors = append(total.Errors, r.Errors...)
	}

	if rootFile := filepath.Join(root, "MEMORY.md"); fileExists(rootFile) {
		merge(i.MigrateFile(ctx, rootFile, FileOptions{Tier: store.TierLongTerm}))
	}

	peopleDir := filepath.Join(root, "memory", "people")
	if entries, err := os.ReadDir(peopleDir); err == nil {
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
				continue
			}
			person := strings.TrimSuffix(entry.Name(), ".md")
			merge(i.MigrateFile(ctx, filepath.Join(peopleDir, entry.Name()), FileOptions{
				Tier:   store.TierLongTerm,
				Person: person,
			}))
		}
	}

	memoryDir := filepath.Join(root, "memory")
	if entries, err := os.ReadDir(memoryDir); err == nil {
		for _, entry := range entries {
			if entry.IsDir() || !datedFilePattern.MatchString(entry.Name()) {
				continue
			}
			merge(i.MigrateFile(ctx, filepath.Join(memoryDir, entry.Name()), FileOptions{
				Tier: store.TierShortTerm,
			}))
		}
	}

	return total, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// mdSection is one parsed block with its heading trail.
type mdSection struct {
	text     string
	headings []string
}

// parseMarkdown splits a markdown document into paragraph chunks,
// tracking the heading trail above each.
func parseMarkdown(content string) []mdSection {
	var sections []mdSection
	var headings []string

	for _, block := range strings.Split(content, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}

		if strings.HasPrefix(block, "#") {
			// A heading block may carry trailing body lines.
			lines := strings.SplitN(block, "\n", 2)
			level := headingLevel(lines[0])
			title := strings.TrimSpace(strings.TrimLeft(lines[0], "# "))

			if level > 0 && title != "" {
				if level <= len(headings) {
					headings = headings[:level-1]
				}
				headings = append(headings, title)
			}

			if len(lines) == 2 {
				if body := strings.TrimSpace(lines[1]); len(body) >= minChunkLen {
					sections = append(sections, mdSection{text: body, headings: snapshot(headings)})
				}
			}
			continue
		}

		if len(block) >= minChunkLen {
			sections = append(sections, mdSection{text: block, headings: snapshot(headings)})
		}
	}
	return sections
}

func headingLevel(line string) int {
	level := 0
	for _, r := range line {
		if r != '#' {
			break
		}
		level++
	}
	return level
}

func snapshot(headings []string) []string {
	if len(headings) == 0 {
		return nil
	}
	out := make([]string, len(headings))
	copy(out, headings)
	return out
}
