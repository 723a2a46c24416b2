package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/docsage/exemplar/internal/store"
)

// Coordinator runs the incremental pipeline: scan, two-stage change
// detection against the manifest, shard build, merge, and soft deletion
// of units the scan no longer reports.
type Coordinator struct {
	manifest *store.ManifestStore
	builder  *Builder
	merger   *Merger
	source   RecordSource

	// onReload, when set, is invoked after a successful merge or delete
	// so readers observe the new base.
	onReload func(ctx context.Context) error

	mu sync.Mutex
}

// RunStats summarizes one pipeline run.
type RunStats struct {
	Scanned   int // units reported by the scan
	Unchanged int // skipped by the fast fingerprint check
	Staged    int // skipped because a shard build was already in flight
	Rehashed  int // extracted but skipped by the content-hash check
	Indexed   int // embedded, staged, and merged this run
	Deleted   int // tracked units the scan no longer reported
	Recovered int // staged units whose interrupted merge completed at startup
}

// NewCoordinator creates a pipeline coordinator. onReload may be nil.
func NewCoordinator(
	manifest *store.ManifestStore,
	builder *Builder,
	merger *Merger,
	source RecordSource,
	onReload func(ctx context.Context) error,
) *Coordinator {
	return &Coordinator{
		manifest: manifest,
		builder:  builder,
		merger:   merger,
		source:   source,
		onReload: onReload,
	}
}

// Run executes one full incremental pass. Runs are serialized per
// coordinator; concurrent callers queue on the internal mutex.
func (c *Coordinator) Run(ctx context.Context) (*RunStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := &RunStats{}

	if err := c.recoverStaged(ctx, stats); err != nil {
		return nil, err
	}

	units, err := c.source.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	stats.Scanned = len(units)

	seen := make(map[store.UnitKey]struct{}, len(units))
	var (
		batch  []Record
		staged []store.StagedUnit
	)

	for _, unit := range units {
		seen[unit.Key] = struct{}{}

		// A unit with a build in flight is never re-selected, regardless
		// of fingerprint changes, until it reaches merged or deleted.
		isStaged, err := c.manifest.IsStaged(ctx, unit.Key)
		if err != nil {
			return nil, err
		}
		if isStaged {
			stats.Staged++
			continue
		}

		// Stage 1: cheap fingerprint check, no artifact I/O.
		changed, err := c.manifest.IsChangedFast(ctx, unit.Key, unit.Fingerprint)
		if err != nil {
			return nil, err
		}
		if !changed {
			stats.Unchanged++
			continue
		}

		rec, err := c.source.Extract(ctx, unit.Key)
		if err != nil {
			slog.Warn("extraction failed, skipping unit",
				slog.String("unit", unit.Key.String()),
				slog.String("error", err.Error()))
			continue
		}

		hash, err := ContentHash(rec.SourceText, rec.Answer)
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", unit.Key, err)
		}

		// Stage 2: the artifact may have been rewritten with identical
		// content (new mtime, same bytes). Refresh the fingerprint so
		// stage 1 short-circuits again next scan.
		processed, err := c.manifest.IsAlreadyProcessed(ctx, unit.Key, hash)
		if err != nil {
			return nil, err
		}
		if processed {
			if err := c.manifest.TouchFingerprint(ctx, unit.Key, unit.Fingerprint); err != nil {
				return nil, err
			}
			stats.Rehashed++
			continue
		}

		batch = append(batch, *rec)
		staged = append(staged, store.StagedUnit{
			Key:         unit.Key,
			ContentHash: hash,
			Fingerprint: unit.Fingerprint,
		})
	}

	if err := c.processDeletions(ctx, seen, stats); err != nil {
		return nil, err
	}

	if len(batch) == 0 {
		return stats, nil
	}

	result, err := c.builder.BuildShard(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("build shard: %w", err)
	}
	if result.ShardRef == "" {
		return stats, nil
	}

	// Only units that actually made it into the shard get staged.
	inShard := make(map[store.UnitKey]struct{}, len(result.Units))
	for _, key := range result.Units {
		inShard[key] = struct{}{}
	}
	toStage := staged[:0]
	for _, u := range staged {
		if _, ok := inShard[u.Key]; ok {
			toStage = append(toStage, u)
		}
	}
	if err := c.manifest.MarkStaged(ctx, toStage, result.ShardRef); err != nil {
		return nil, fmt.Errorf("mark staged: %w", err)
	}

	if err := c.merger.Merge(ctx, result.ShardRef); err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	if err := c.manifest.MarkMerged(ctx, result.Units); err != nil {
		return nil, fmt.Errorf("mark merged: %w", err)
	}
	stats.Indexed = len(result.Units)

	if c.onReload != nil {
		if err := c.onReload(ctx); err != nil {
			return nil, fmt.Errorf("reload after merge: %w", err)
		}
	}
	return stats, nil
}

// recoverStaged retries the merge of every shard still referenced by
// staged rows, finishing pipelines an earlier process abandoned between
// staging and merge. A shard that cannot be merged is logged and left
// staged; its units stay excluded from re-selection.
func (c *Coordinator) recoverStaged(ctx context.Context, stats *RunStats) error {
	shards, err := c.manifest.StagedShards(ctx)
	if err != nil {
		return err
	}
	for ref, keys := range shards {
		if err := c.merger.Merge(ctx, ref); err != nil {
			slog.Warn("staged shard recovery failed",
				slog.String("shard", ref),
				slog.String("error", err.Error()))
			continue
		}
		if err := c.manifest.MarkMerged(ctx, keys); err != nil {
			return fmt.Errorf("mark recovered shard %s merged: %w", ref, err)
		}
		stats.Recovered += len(keys)
	}

	if stats.Recovered > 0 && c.onReload != nil {
		if err := c.onReload(ctx); err != nil {
			return fmt.Errorf("reload after recovery: %w", err)
		}
	}
	return nil
}

// processDeletions marks tracked units absent from the scan as deleted:
// manifest status flips and the base metadata gets the soft-delete tag;
// the vectors themselves stay in the index.
func (c *Coordinator) processDeletions(ctx context.Context, seen map[store.UnitKey]struct{}, stats *RunStats) error {
	tracked, err := c.manifest.AllTrackedUnits(ctx)
	if err != nil {
		return err
	}

	var gone []store.UnitKey
	for _, key := range tracked {
		if _, ok := seen[key]; ok {
			continue
		}
		status, err := c.manifest.GetStatus(ctx, key)
		if err != nil {
			return err
		}
		if status == store.StatusDeleted {
			continue
		}
		gone = append(gone, key)
	}
	if len(gone) == 0 {
		return nil
	}

	if err := c.merger.SoftDelete(ctx, gone); err != nil {
		return err
	}
	if err := c.manifest.MarkDeleted(ctx, gone); err != nil {
		return err
	}
	stats.Deleted = len(gone)

	if c.onReload != nil {
		if err := c.onReload(ctx); err != nil {
			return fmt.Errorf("reload after delete: %w", err)
		}
	}
	return nil
}
