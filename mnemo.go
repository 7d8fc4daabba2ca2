// Package mnemo is a persistent, tiered, semantic memory engine for
// long-running conversational agents.
//
// It stores derived facts as chunks in an embedded SQLite database with
// synchronized full-text (FTS5) and vector (HNSW) indexes, retrieves
// them by hybrid semantic+lexical similarity under strict per-subject
// compartmentalization, and assembles token-budgeted context windows
// for injection into a downstream language model. A second substrate
// tracks sub-agent progress events with a persistent log and an
// in-process pub/sub stream.
//
// The root package re-exports the facade; the engine lives under
// internal/.
package mnemo

import (
	"context"

	"github.com/hephaestus-forge/mnemo/internal/config"
	"github.com/hephaestus-forge/mnemo/internal/inject"
	"github.com/hephaestus-forge/mnemo/internal/memory"
	"github.com/hephaestus-forge/mnemo/internal/migrate"
	"github.com/hephaestus-forge/mnemo/internal/progress"
	"github.com/hephaestus-forge/mnemo/internal/store"
)

// Memory is the orchestration facade: Remember, Recall, Forget,
// PromoteToLongTerm, AssembleContext, maintenance cycles, stats, and
// once-only Close.
type Memory = memory.Memory

// Config is the engine configuration (YAML on disk, MNEMO_* env
// overrides).
type Config = config.Config

// Chunk is the atomic unit of memory.
type Chunk = store.Chunk

// StructuredTags is the five-dimension tag record.
type StructuredTags = store.StructuredTags

// Tier is a chunk's lifecycle state.
type Tier = store.Tier

// Tier values.
const (
	TierWorking   = store.TierWorking
	TierShortTerm = store.TierShortTerm
	TierLongTerm  = store.TierLongTerm
	TierEpisodic  = store.TierEpisodic
)

// RememberOptions tunes Memory.Remember.
type RememberOptions = memory.RememberOptions

// RecallOptions tunes Memory.Recall.
type RecallOptions = memory.RecallOptions

// Signals is the per-turn input to context assembly.
type Signals = inject.Signals

// Assembled is the injector's output.
type Assembled = inject.Assembled

// ProgressStore is the persistent progress event log.
type ProgressStore = progress.Store

// ProgressTracker emits progress events through store and stream.
type ProgressTracker = progress.Tracker

// ProgressStream is the in-process pub/sub bus for progress events.
type ProgressStream = progress.Stream

// Importer performs idempotent one-shot file imports.
type Importer = migrate.Importer

// FileOptions routes an imported file's chunks.
type FileOptions = migrate.FileOptions

// DefaultConfig returns the engine defaults.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig reads configuration from path with env overrides; a
// missing file yields defaults.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// Open builds a Memory from configuration.
func Open(ctx context.Context, cfg *Config) (*Memory, error) {
	return memory.Open(ctx, cfg)
}

// OpenProgressStore opens the progress event database at path.
func OpenProgressStore(path string) (*ProgressStore, error) {
	return progress.OpenStore(path)
}

// NewProgressTracker creates a tracker over the store (may be nil) and
// a fresh stream.
func NewProgressTracker(s *ProgressStore) *ProgressTracker {
	return progress.NewTracker(s, progress.NewStream())
}

// NewImporter creates an importer over the facade and the manifest at
// manifestPath.
func NewImporter(mem *Memory, manifestPath string) (*Importer, error) {
	manifest, err := migrate.LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	return migrate.NewImporter(mem, manifest), nil
}
