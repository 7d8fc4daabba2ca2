package embed

import (
	"context"
	"log/slog"

	"github.com/hephaestus-forge/mnemo/internal/config"
)

// NewFromConfig builds an embedder from configuration.
// Provider "none" returns nil (semantic search disabled).
// An unreachable Ollama falls back to the static embedder so semantic
// paths keep working offline, at reduced quality.
func NewFromConfig(ctx context.Context, cfg config.EmbeddingsConfig) Embedder {
	var inner Embedder

	switch cfg.Provider {
	case "none":
		return nil
	case "ollama":
		ollama := NewOllamaEmbedder(OllamaConfig{
			Host:       cfg.OllamaHost,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Timeout:    cfg.Timeout,
		})
		if ollama.Available(ctx) {
			inner = ollama
		} else {
			slog.Warn("embed_provider_fallback",
				slog.String("wanted", "ollama"),
				slog.String("host", cfg.OllamaHost),
				slog.String("using", "static"))
			_ = ollama.Close()
			inner = NewStaticEmbedder(cfg.Dimensions)
		}
	default:
		inner = NewStaticEmbedder(cfg.Dimensions)
	}

	return NewCachedEmbedder(inner, cfg.CacheSize)
}
