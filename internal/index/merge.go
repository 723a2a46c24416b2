package index

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/docsage/exemplar/internal/store"
)

// Merger folds shards into the base index. Merges compute slot offsets
// from the base's current vector count, so two merges racing on the same
// base would corrupt the id-slot mapping; a cross-process file lock
// serializes them.
type Merger struct {
	store *store.IndexStore
	lock  *flock.Flock
}

// NewMerger creates a merger for the given index store. The lock file
// lives next to the index records.
func NewMerger(st *store.IndexStore) *Merger {
	return &Merger{
		store: st,
		lock:  flock.New(filepath.Join(st.Dir(), "merge.lock")),
	}
}

// Merge folds the named shard into the base: appends the shard's vectors
// (order preserved), remaps every shard-local slot s to base slot
// offset+s in both direction maps, unions the metadata (shard wins on
// collision), persists the base, and deletes the shard record.
//
// After a successful merge the caller must mark the shard's units merged
// in the manifest and reload any retriever that should observe the merge.
func (m *Merger) Merge(ctx context.Context, shardRef string) error {
	if err := m.lock.Lock(); err != nil {
		return fmt.Errorf("acquire merge lock: %w", err)
	}
	defer func() { _ = m.lock.Unlock() }()

	shard, err := m.store.LoadRecord(shardRef)
	if err != nil {
		return fmt.Errorf("load shard %s: %w", shardRef, err)
	}

	base := m.store.LoadBase()

	// An empty shard merge is a no-op: the base is left untouched and
	// only the stale shard record is removed.
	if shard.Index.Count() == 0 {
		return m.store.DeleteRecord(shardRef)
	}

	offset, err := base.Index.Merge(shard.Index)
	if err != nil {
		return fmt.Errorf("merge shard %s: %w", shardRef, err)
	}

	for id, shardSlot := range shard.IDToSlot {
		base.IDToSlot[id] = offset + shardSlot
		base.SlotToID[offset+shardSlot] = id
	}
	for id, example := range shard.Metadata {
		base.Metadata[id] = example
	}

	if err := m.store.SaveRecord(store.BaseRecordName, base); err != nil {
		return fmt.Errorf("persist base after merge of %s: %w", shardRef, err)
	}
	if err := m.store.DeleteRecord(shardRef); err != nil {
		return fmt.Errorf("delete merged shard %s: %w", shardRef, err)
	}

	slog.Info("shard merged",
		slog.String("shard", shardRef),
		slog.Int("offset", offset),
		slog.Int("base_vectors", base.Index.Count()))
	return nil
}

// SoftDelete flags the examples belonging to the given units as deleted
// in the base record's metadata. Their vectors stay in the index
// untouched; queries filter on the metadata status. Runs under the same
// lock as Merge since it rewrites the base record.
func (m *Merger) SoftDelete(ctx context.Context, keys []store.UnitKey) error {
	if len(keys) == 0 {
		return nil
	}
	if err := m.lock.Lock(); err != nil {
		return fmt.Errorf("acquire merge lock: %w", err)
	}
	defer func() { _ = m.lock.Unlock() }()

	base := m.store.LoadBase()

	want := make(map[store.UnitKey]struct{}, len(keys))
	for _, key := range keys {
		want[key] = struct{}{}
	}

	changed := 0
	for _, example := range base.Metadata {
		key := store.UnitKey{
			DocID: example.Metadata[store.MetaDocID],
			Unit:  example.Metadata[store.MetaUnit],
		}
		if _, ok := want[key]; !ok {
			continue
		}
		if example.Metadata[store.MetaStatus] != store.MetaStatusDeleted {
			example.Metadata[store.MetaStatus] = store.MetaStatusDeleted
			changed++
		}
	}
	if changed == 0 {
		return nil
	}

	if err := m.store.SaveRecord(store.BaseRecordName, base); err != nil {
		return fmt.Errorf("persist base after soft delete: %w", err)
	}
	slog.Info("examples soft-deleted", slog.Int("count", changed))
	return nil
}
