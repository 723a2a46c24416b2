// Package lifecycle owns the process-wide session: the embedding model,
// the stores, and the retriever, created lazily under a lock and torn
// down explicitly. It replaces implicit module-level singletons with one
// object whose lifetime the caller controls.
package lifecycle

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/docsage/exemplar/internal/config"
	"github.com/docsage/exemplar/internal/embed"
	"github.com/docsage/exemplar/internal/index"
	"github.com/docsage/exemplar/internal/search"
	"github.com/docsage/exemplar/internal/store"
)

// Session wires the retrieval core together. All fields are initialized
// on first use; after initialization, reads are lock-free and the
// underlying structures are only swapped whole (never mutated) by Reload.
type Session struct {
	cfg *config.Config

	mu        sync.Mutex
	opened    bool
	embedder  embed.Embedder
	manifest  *store.ManifestStore
	indexes   *store.IndexStore
	retriever *search.Retriever
}

// NewSession creates an unopened session for the given configuration.
func NewSession(cfg *config.Config) *Session {
	return &Session{cfg: cfg}
}

// Open initializes the embedder and stores. Safe to call repeatedly;
// only the first call does work. Model loading and index deserialization
// block the caller and are not cancellable once started.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil
	}

	embedder, err := buildEmbedder(s.cfg)
	if err != nil {
		return err
	}

	dim := embedder.Dimensions()
	if dim <= 0 {
		dim = s.cfg.Index.Dimension
	}
	indexes, err := store.NewIndexStore(filepath.Join(s.cfg.Paths.DataDir, "index"), dim)
	if err != nil {
		_ = embedder.Close()
		return err
	}

	manifest, err := store.NewManifestStore(filepath.Join(s.cfg.Paths.DataDir, "manifest.db"))
	if err != nil {
		_ = embedder.Close()
		return err
	}

	s.embedder = embedder
	s.indexes = indexes
	s.manifest = manifest
	s.retriever = search.NewRetriever(indexes, embedder)
	s.opened = true
	return nil
}

func buildEmbedder(cfg *config.Config) (embed.Embedder, error) {
	var inner embed.Embedder
	switch cfg.Embeddings.Backend {
	case config.EmbeddingBackendStatic:
		inner = embed.NewStaticEmbedder()
	case config.EmbeddingBackendOllama:
		inner = embed.NewOllamaEmbedder(embed.OllamaConfig{
			Host:       cfg.Embeddings.OllamaHost,
			Model:      cfg.Embeddings.OllamaModel,
			Dimensions: cfg.Index.Dimension,
		})
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", cfg.Embeddings.Backend)
	}
	return embed.NewCachedEmbedder(inner, cfg.Embeddings.CacheSize), nil
}

// Retriever returns the session's retriever. Open must have succeeded.
func (s *Session) Retriever() *search.Retriever {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retriever
}

// Manifest returns the session's manifest store.
func (s *Session) Manifest() *store.ManifestStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manifest
}

// IndexStore returns the session's index store.
func (s *Session) IndexStore() *store.IndexStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexes
}

// Coordinator builds a pipeline coordinator over the session's stores
// for the given record source. Merges completed by the coordinator are
// observed by the session's retriever via its reload hook.
func (s *Session) Coordinator(source index.RecordSource) *index.Coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()

	builder := index.NewBuilder(s.indexes, s.embedder, s.cfg.Index.EmbedConcurrency)
	merger := index.NewMerger(s.indexes)
	retriever := s.retriever
	return index.NewCoordinator(s.manifest, builder, merger, source, retriever.Reload)
}

// Reload re-reads the base index so this process observes merges
// completed by other processes.
func (s *Session) Reload(ctx context.Context) error {
	s.mu.Lock()
	retriever := s.retriever
	s.mu.Unlock()
	if retriever == nil {
		return fmt.Errorf("session not opened")
	}
	return retriever.Reload(ctx)
}

// Close releases the session's resources.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil
	}
	s.opened = false

	var firstErr error
	if err := s.manifest.Close(); err != nil {
		firstErr = err
	}
	if err := s.embedder.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
