// Package services constructs and owns the engine's long-lived dependencies.
// Everything is built once at process start and injected by reference; there
// are no package-level singletons.
package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crystald/internal/config"
	"github.com/fyrsmithlabs/crystald/internal/embeddings"
	"github.com/fyrsmithlabs/crystald/internal/genai"
	"github.com/fyrsmithlabs/crystald/internal/knowledge"
	"github.com/fyrsmithlabs/crystald/internal/pagestore"
	"github.com/fyrsmithlabs/crystald/internal/segment"
	"github.com/fyrsmithlabs/crystald/internal/vectorstore"
)

// Registry holds the wired service graph.
type Registry struct {
	Store     pagestore.Store
	Index     vectorstore.Index
	Embedder  *embeddings.Service
	Generator genai.Generator
	Pages     *knowledge.PageService
	Search    *knowledge.SearchService
	Chat      *knowledge.ChatService

	logger *zap.Logger
}

// New builds the full service graph from configuration.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := pagestore.NewSQLiteStore(cfg.PageStore.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("building page store: %w", err)
	}

	index, err := newIndex(ctx, cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	embedder, err := embeddings.NewService(embeddings.Config{
		BaseURL: cfg.Embeddings.BaseURL,
		Model:   cfg.Embeddings.Model,
		Timeout: cfg.Embeddings.Timeout.Duration(),
	}, logger)
	if err != nil {
		_ = index.Close()
		_ = store.Close()
		return nil, fmt.Errorf("building embedding service: %w", err)
	}

	generator, err := genai.NewClient(genai.Config{
		BaseURL:     cfg.Generation.BaseURL,
		APIKey:      cfg.Generation.APIKey.Value(),
		Model:       cfg.Generation.Model,
		Timeout:     cfg.Generation.Timeout.Duration(),
		MaxTokens:   cfg.Generation.MaxTokens,
		Temperature: cfg.Generation.Temperature,
	}, logger)
	if err != nil {
		_ = index.Close()
		_ = store.Close()
		return nil, fmt.Errorf("building generation client: %w", err)
	}

	seg := segment.New(cfg.Segmenter.ChunkSizeWords, cfg.Segmenter.OverlapWords)

	pages := knowledge.NewPageService(store, index, embedder, seg, logger)
	search := knowledge.NewSearchService(store, index, embedder, generator, logger)
	chat := knowledge.NewChatService(search, generator, logger)

	return &Registry{
		Store:     store,
		Index:     index,
		Embedder:  embedder,
		Generator: generator,
		Pages:     pages,
		Search:    search,
		Chat:      chat,
		logger:    logger,
	}, nil
}

func newIndex(ctx context.Context, cfg *config.Config, logger *zap.Logger) (vectorstore.Index, error) {
	switch cfg.VectorStore.Provider {
	case "chromem":
		index, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{
			Path:       cfg.VectorStore.Path,
			Compress:   cfg.VectorStore.Compress,
			Collection: cfg.VectorStore.Collection,
			VectorSize: cfg.Embeddings.VectorSize,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("building chromem index: %w", err)
		}
		return index, nil
	case "qdrant":
		index, err := vectorstore.NewQdrantIndex(ctx, vectorstore.QdrantConfig{
			Host:       cfg.VectorStore.Qdrant.Host,
			Port:       cfg.VectorStore.Qdrant.Port,
			APIKey:     cfg.VectorStore.Qdrant.APIKey.Value(),
			UseTLS:     cfg.VectorStore.Qdrant.UseTLS,
			Collection: cfg.VectorStore.Collection,
			VectorSize: cfg.Embeddings.VectorSize,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("building qdrant index: %w", err)
		}
		return index, nil
	default:
		return nil, fmt.Errorf("unknown vectorstore provider %q", cfg.VectorStore.Provider)
	}
}

// Close releases all owned resources in reverse construction order.
func (r *Registry) Close() {
	if r.Index != nil {
		if err := r.Index.Close(); err != nil {
			r.logger.Error("closing vector index", zap.Error(err))
		}
	}
	if r.Store != nil {
		if err := r.Store.Close(); err != nil {
			r.logger.Error("closing page store", zap.Error(err))
		}
	}
}
