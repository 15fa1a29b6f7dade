// Package config provides configuration loading for crystald.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the daemon.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Segmenter   SegmenterConfig   `koanf:"segmenter"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Generation  GenerationConfig  `koanf:"generation"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	PageStore   PageStoreConfig   `koanf:"pagestore"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ReadTimeout     Duration `koanf:"read_timeout"`
	WriteTimeout    Duration `koanf:"write_timeout"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`
}

// SegmenterConfig tunes the text segmenter.
type SegmenterConfig struct {
	ChunkSizeWords int `koanf:"chunk_size_words"`
	OverlapWords   int `koanf:"overlap_words"`
}

// EmbeddingsConfig points at the embedding inference backend.
type EmbeddingsConfig struct {
	BaseURL    string   `koanf:"base_url"`
	Model      string   `koanf:"model"`
	Timeout    Duration `koanf:"timeout"`
	VectorSize int      `koanf:"vector_size"`
}

// GenerationConfig points at the text generation backend.
type GenerationConfig struct {
	BaseURL     string   `koanf:"base_url"`
	APIKey      Secret   `koanf:"api_key"`
	Model       string   `koanf:"model"`
	Timeout     Duration `koanf:"timeout"`
	MaxTokens   int      `koanf:"max_tokens"`
	Temperature float64  `koanf:"temperature"`
}

// VectorStoreConfig selects and configures the vector index backend.
type VectorStoreConfig struct {
	// Provider is chromem (embedded, default) or qdrant.
	Provider string `koanf:"provider"`

	// Collection names the chunk collection in either backend.
	Collection string `koanf:"collection"`

	// Path is the chromem persistence directory.
	Path string `koanf:"path"`

	// Compress enables gzip for chromem storage.
	Compress bool `koanf:"compress"`

	Qdrant QdrantConfig `koanf:"qdrant"`
}

// QdrantConfig configures the qdrant provider.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	APIKey Secret `koanf:"api_key"`
	UseTLS bool   `koanf:"use_tls"`
}

// PageStoreConfig configures the page database.
type PageStoreConfig struct {
	Path string `koanf:"path"`
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = Duration(30 * time.Second)
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = Duration(120 * time.Second)
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Segmenter.ChunkSizeWords == 0 {
		cfg.Segmenter.ChunkSizeWords = 500
	}
	if cfg.Segmenter.OverlapWords == 0 {
		cfg.Segmenter.OverlapWords = 100
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8081"
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = Duration(30 * time.Second)
	}
	if cfg.Embeddings.VectorSize == 0 {
		cfg.Embeddings.VectorSize = 384
	}

	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = Duration(60 * time.Second)
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 1024
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "knowledge_chunks"
	}
	if cfg.VectorStore.Path == "" {
		cfg.VectorStore.Path = "~/.config/crystald/index"
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}
}

// Validate checks cross-field constraints after defaults are applied.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format %q is not json or console", c.Logging.Format)
	}
	if c.Segmenter.ChunkSizeWords <= 0 {
		return fmt.Errorf("segmenter.chunk_size_words must be positive")
	}
	if c.Segmenter.OverlapWords < 0 {
		return fmt.Errorf("segmenter.overlap_words cannot be negative")
	}
	if c.Segmenter.OverlapWords >= c.Segmenter.ChunkSizeWords {
		return fmt.Errorf("segmenter.overlap_words must be smaller than chunk_size_words")
	}
	if c.Embeddings.VectorSize <= 0 {
		return fmt.Errorf("embeddings.vector_size must be positive")
	}
	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("vectorstore.provider %q is not chromem or qdrant", c.VectorStore.Provider)
	}
	return nil
}
