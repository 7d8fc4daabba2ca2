// Package config loads and validates Mnemo configuration.
// Configuration is YAML on disk with MNEMO_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	mnerr "github.com/hephaestus-forge/mnemo/internal/errors"
)

// Config represents the complete Mnemo configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle" json:"lifecycle"`
	Context    ContextConfig    `yaml:"context" json:"context"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// PathsConfig configures on-disk layout.
type PathsConfig struct {
	// Database is the chunk database path. ":memory:" keeps everything in RAM.
	Database string `yaml:"database" json:"database"`
	// ProgressDatabase is the progress event database path. Empty composes it
	// into the chunk database file.
	ProgressDatabase string `yaml:"progress_database" json:"progress_database"`
	// Manifest is the import manifest path.
	Manifest string `yaml:"manifest" json:"manifest"`
	// MemoryRoot is the directory scanned by the importer.
	MemoryRoot string `yaml:"memory_root" json:"memory_root"`
}

// RetrievalConfig configures hybrid search parameters.
type RetrievalConfig struct {
	// VectorWeight is the weight for semantic similarity (0.0-1.0).
	// Must sum to 1.0 with TextWeight.
	VectorWeight float64 `yaml:"vector_weight" json:"vector_weight"`

	// TextWeight is the weight for keyword matching (0.0-1.0).
	TextWeight float64 `yaml:"text_weight" json:"text_weight"`

	// TagBoost is the multiplicative boost applied when structured tags
	// intersect the boost dimensions.
	TagBoost float64 `yaml:"tag_boost" json:"tag_boost"`

	// TagMinSimilarity is the cosine floor for semantic tag matches.
	TagMinSimilarity float64 `yaml:"tag_min_similarity" json:"tag_min_similarity"`

	// MaxResults caps result list sizes.
	MaxResults int `yaml:"max_results" json:"max_results"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the backend: "ollama", "static", or "none".
	Provider   string        `yaml:"provider" json:"provider"`
	Model      string        `yaml:"model" json:"model"`
	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	BatchSize  int           `yaml:"batch_size" json:"batch_size"`
	OllamaHost string        `yaml:"ollama_host" json:"ollama_host"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	CacheSize  int           `yaml:"cache_size" json:"cache_size"`
}

// LifecycleConfig configures decay and promotion.
type LifecycleConfig struct {
	// Retention is how long inactive short-term chunks live before demotion.
	Retention time.Duration `yaml:"retention" json:"retention"`

	// PromotionConfidence is the confidence threshold for promotion.
	PromotionConfidence float64 `yaml:"promotion_confidence" json:"promotion_confidence"`

	// PromotionMinAccessCount promotes chunks accessed at least this often.
	PromotionMinAccessCount int `yaml:"promotion_min_access_count" json:"promotion_min_access_count"`

	// ImportantTags promote a chunk when present as a flat tag.
	ImportantTags []string `yaml:"important_tags" json:"important_tags"`
}

// ContextConfig configures the context injector.
type ContextConfig struct {
	// TokenBudget is the default total token budget.
	TokenBudget int `yaml:"token_budget" json:"token_budget"`

	// Partition allocates the budget per tier; fractions must sum to 1.0.
	Partition map[string]float64 `yaml:"partition" json:"partition"`

	// MaxChunks caps chunk count per tier, in addition to byte budgets.
	MaxChunks map[string]int `yaml:"max_chunks" json:"max_chunks"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Database: "mnemo.db",
			Manifest: "mnemo-manifest.json",
		},
		Retrieval: RetrievalConfig{
			VectorWeight:     0.7,
			TextWeight:       0.3,
			TagBoost:         1.3,
			TagMinSimilarity: 0.7,
			MaxResults:       50,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "static",
			Model:      "all-MiniLM-L6-v2",
			Dimensions: 384,
			BatchSize:  32,
			OllamaHost: "http://localhost:11434",
			Timeout:    60 * time.Second,
			CacheSize:  1000,
		},
		Lifecycle: LifecycleConfig{
			Retention:               7 * 24 * time.Hour,
			PromotionConfidence:     0.8,
			PromotionMinAccessCount: 3,
			ImportantTags:           []string{"important", "remember"},
		},
		Context: ContextConfig{
			TokenBudget: 4000,
			Partition: map[string]float64{
				"working":    0.60,
				"short_term": 0.15,
				"long_term":  0.20,
				"system":     0.05,
			},
			MaxChunks: map[string]int{
				"working":    20,
				"short_term": 5,
				"long_term":  10,
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path, applies env overrides, and validates.
// A missing file yields defaults (with env overrides still applied).
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, mnerr.Wrap(mnerr.ErrCodeConfigNotFound, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, mnerr.Wrap(mnerr.ErrCodeConfigInvalid, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies MNEMO_* environment variable overrides.
// Env vars have highest priority, above file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("MNEMO_DATABASE"); v != "" {
		c.Paths.Database = v
	}
	if v := os.Getenv("MNEMO_VECTOR_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Retrieval.VectorWeight = f
		}
	}
	if v := os.Getenv("MNEMO_TEXT_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Retrieval.TextWeight = f
		}
	}
	if v := os.Getenv("MNEMO_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("MNEMO_EMBED_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("MNEMO_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	const epsilon = 1e-6

	if c.Retrieval.VectorWeight < 0 || c.Retrieval.TextWeight < 0 {
		return mnerr.New(mnerr.ErrCodeConfigInvalid, "retrieval weights must be non-negative", nil)
	}
	if sum := c.Retrieval.VectorWeight + c.Retrieval.TextWeight; sum < 1.0-epsilon || sum > 1.0+epsilon {
		return mnerr.New(mnerr.ErrCodeConfigInvalid,
			fmt.Sprintf("retrieval weights must sum to 1.0, got %.3f", sum), nil)
	}
	if c.Retrieval.TagBoost < 1.0 {
		return mnerr.New(mnerr.ErrCodeConfigInvalid, "tag_boost must be >= 1.0", nil)
	}
	if c.Embeddings.Dimensions <= 0 {
		return mnerr.New(mnerr.ErrCodeConfigInvalid, "embedding dimensions must be positive", nil)
	}
	if c.Context.TokenBudget <= 0 {
		return mnerr.New(mnerr.ErrCodeConfigInvalid, "token_budget must be positive", nil)
	}
	if c.Lifecycle.Retention <= 0 {
		return mnerr.New(mnerr.ErrCodeConfigInvalid, "retention must be positive", nil)
	}

	var psum float64
	for _, frac := range c.Context.Partition {
		if frac < 0 {
			return mnerr.New(mnerr.ErrCodeConfigInvalid, "partition fractions must be non-negative", nil)
		}
		psum += frac
	}
	if psum < 1.0-epsilon || psum > 1.0+epsilon {
		return mnerr.New(mnerr.ErrCodeConfigInvalid,
			fmt.Sprintf("context partition must sum to 1.0, got %.3f", psum), nil)
	}

	return nil
}

// Save writes configuration to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	return os.WriteFile(path, data, 0o644)
}
