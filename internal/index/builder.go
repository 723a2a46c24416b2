package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docsage/exemplar/internal/embed"
	"github.com/docsage/exemplar/internal/store"
	"github.com/docsage/exemplar/internal/text"
)

// DefaultEmbedConcurrency bounds parallel embedding calls in a build.
const DefaultEmbedConcurrency = 4

// Builder builds small, self-contained shard indexes from batches of new
// or changed records, without touching the base index. Shards from
// different producers are disjoint and may be built concurrently.
type Builder struct {
	store       *store.IndexStore
	embedder    embed.Embedder
	concurrency int
}

// BuildResult reports what a shard build produced.
type BuildResult struct {
	// ShardRef is the persisted shard's name; empty when no vectors were
	// added (the caller must not mark anything staged in that case).
	ShardRef string

	// Units are the keys that actually made it into the shard. Records
	// skipped for empty source text are absent.
	Units []store.UnitKey
}

// NewBuilder creates a shard builder.
func NewBuilder(st *store.IndexStore, embedder embed.Embedder, concurrency int) *Builder {
	if concurrency <= 0 {
		concurrency = DefaultEmbedConcurrency
	}
	return &Builder{store: st, embedder: embedder, concurrency: concurrency}
}

// BuildShard embeds the records and persists them as a new shard. Records
// with empty source text are skipped. Any embedding or persistence error
// aborts the whole batch; no partial shard is left behind.
func (b *Builder) BuildShard(ctx context.Context, records []Record) (*BuildResult, error) {
	kept := make([]Record, 0, len(records))
	for _, rec := range records {
		if strings.TrimSpace(rec.SourceText) == "" {
			slog.Debug("skipping record with empty source text",
				slog.String("unit", rec.Key.String()))
			continue
		}
		kept = append(kept, rec)
	}
	if len(kept) == 0 {
		return &BuildResult{}, nil
	}

	normalized := make([]string, len(kept))
	for i, rec := range kept {
		normalized[i] = text.Normalize(rec.SourceText)
	}

	// Each goroutine writes a distinct slice element; no lock needed.
	vectors := make([][]float32, len(kept))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i := range kept {
		g.Go(func() error {
			vec, err := b.embedder.Embed(gctx, normalized[i])
			if err != nil {
				return fmt.Errorf("embed %s: %w", kept[i].Key, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	shard := store.NewIndexRecord(b.store.Dimension())
	result := &BuildResult{}
	for i, rec := range kept {
		slot, err := shard.Index.Append(vectors[i])
		if err != nil {
			return nil, fmt.Errorf("append vector for %s: %w", rec.Key, err)
		}

		id := exampleID(rec)
		shard.IDToSlot[id] = slot
		shard.SlotToID[slot] = id
		shard.Metadata[id] = &store.Example{
			ID:         id,
			SourceText: normalized[i],
			Answer:     rec.Answer,
			Metadata:   exampleMetadata(rec),
			KeyOrder:   store.KeyOrderFromAnswer(rec.Answer),
		}
		result.Units = append(result.Units, rec.Key)
	}

	name := b.store.NewShardName()
	if err := b.store.SaveRecord(name, shard); err != nil {
		return nil, fmt.Errorf("persist shard %s: %w", name, err)
	}
	result.ShardRef = name

	slog.Info("shard built",
		slog.String("shard", name),
		slog.Int("vectors", shard.Index.Count()))
	return result, nil
}

// exampleID returns the deterministic id when a natural key is available,
// a fresh random id otherwise.
func exampleID(rec Record) string {
	if !rec.Key.IsZero() {
		return DeterministicID(rec.Key)
	}
	return uuid.NewString()
}

func exampleMetadata(rec Record) map[string]string {
	meta := make(map[string]string, len(rec.Metadata)+4)
	for k, v := range rec.Metadata {
		meta[k] = v
	}
	meta[store.MetaDocID] = rec.Key.DocID
	meta[store.MetaUnit] = rec.Key.Unit
	meta[store.MetaCategory] = rec.Category
	meta[store.MetaStatus] = store.MetaStatusActive
	return meta
}
