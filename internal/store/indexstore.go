package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	exerrors "github.com/docsage/exemplar/internal/errors"
)

// BaseRecordName is the fixed name of the singleton base record. Shard
// records get generated names that can never collide with it.
const BaseRecordName = "base"

const (
	indexFileExt   = ".idx"
	sidecarFileExt = ".json"
)

// IndexRecord is one durable record: a vector index plus its side-tables.
// Every id in IDToSlot has exactly one vector in the index and exactly one
// metadata entry; the three are persisted and replaced as a unit.
type IndexRecord struct {
	Index    *VectorIndex
	Metadata map[string]*Example
	IDToSlot map[string]int
	SlotToID map[int]string
}

// NewIndexRecord returns an empty record for the given vector dimension.
func NewIndexRecord(dim int) *IndexRecord {
	return &IndexRecord{
		Index:    NewVectorIndex(dim),
		Metadata: make(map[string]*Example),
		IDToSlot: make(map[string]int),
		SlotToID: make(map[int]string),
	}
}

// sidecarDoc is the JSON wire form of the side-tables. Slot keys are
// strings because JSON object keys must be.
type sidecarDoc struct {
	MetadataByID map[string]*Example `json:"metadata_by_id"`
	IDToSlot     map[string]int      `json:"id_to_slot"`
	SlotToID     map[string]string   `json:"slot_to_id"`
	VectorCount  int                 `json:"vector_count"`
}

// IndexStore persists IndexRecords as named records in a directory:
// the "base" singleton plus any number of uniquely-named shards. Each
// record is an index file and a JSON sidecar, both replaced atomically
// via temp-file + rename. Last writer wins; callers are expected to be
// single-writer in practice (the merge engine holds a lock).
type IndexStore struct {
	dir string
	dim int
}

// NewIndexStore creates a store rooted at dir for vectors of dimension dim.
func NewIndexStore(dir string, dim int) (*IndexStore, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("index store: invalid dimension %d", dim)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index directory %s: %w", dir, err)
	}
	return &IndexStore{dir: dir, dim: dim}, nil
}

// Dir returns the store's root directory.
func (s *IndexStore) Dir() string { return s.dir }

// Dimension returns the configured vector dimension.
func (s *IndexStore) Dimension() int { return s.dim }

// NewShardName generates a unique shard record name: timestamp plus a
// random suffix, distinct from the base name by construction.
func (s *IndexStore) NewShardName() string {
	ts := time.Now().UTC().Format("20060102T150405")
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("shard-%s-%s", ts, suffix)
}

// LoadBase loads the base record. A missing base yields an empty record.
// A base that fails to deserialize also yields an empty record, logged
// rather than raised, so read paths stay available; query correctness
// after a corrupt load requires re-running the build pipeline.
func (s *IndexStore) LoadBase() *IndexRecord {
	rec, err := s.LoadRecord(BaseRecordName)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Error("base index load failed, starting empty",
				slog.String("dir", s.dir),
				slog.String("error", err.Error()))
		}
		return NewIndexRecord(s.dim)
	}
	return rec
}

// LoadRecord loads a named record. Unlike LoadBase it propagates all
// errors: a missing or corrupt shard must abort the merge that needs it.
func (s *IndexStore) LoadRecord(name string) (*IndexRecord, error) {
	indexBytes, err := os.ReadFile(s.indexPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, exerrors.New(exerrors.ErrCodeShardMissing,
				fmt.Sprintf("index record %s not found", name), err)
		}
		return nil, fmt.Errorf("read index record %s: %w", name, err)
	}
	idx, err := DecodeVectorIndex(indexBytes)
	if err != nil {
		return nil, exerrors.New(exerrors.ErrCodeCorruptIndex,
			fmt.Sprintf("decode index record %s", name), err)
	}

	sidecarBytes, err := os.ReadFile(s.sidecarPath(name))
	if err != nil {
		return nil, fmt.Errorf("read sidecar %s: %w", name, err)
	}
	var doc sidecarDoc
	if err := json.Unmarshal(sidecarBytes, &doc); err != nil {
		return nil, exerrors.New(exerrors.ErrCodeCorruptIndex,
			fmt.Sprintf("decode sidecar %s", name), err)
	}
	// Index and sidecar are replaced as a unit; a count mismatch means
	// the pair on disk is from two different writes.
	if doc.VectorCount != idx.Count() {
		return nil, exerrors.New(exerrors.ErrCodeCorruptIndex,
			fmt.Sprintf("record %s: sidecar count %d does not match index count %d",
				name, doc.VectorCount, idx.Count()), nil)
	}

	rec := &IndexRecord{
		Index:    idx,
		Metadata: doc.MetadataByID,
		IDToSlot: doc.IDToSlot,
		SlotToID: make(map[int]string, len(doc.SlotToID)),
	}
	if rec.Metadata == nil {
		rec.Metadata = make(map[string]*Example)
	}
	if rec.IDToSlot == nil {
		rec.IDToSlot = make(map[string]int)
	}
	for slotStr, id := range doc.SlotToID {
		slot, err := strconv.Atoi(slotStr)
		if err != nil {
			return nil, fmt.Errorf("decode sidecar %s: bad slot key %q", name, slotStr)
		}
		rec.SlotToID[slot] = id
	}
	return rec, nil
}

// SaveRecord atomically replaces the named record. The index file is
// written first, then the sidecar; each goes through temp + rename.
func (s *IndexStore) SaveRecord(name string, rec *IndexRecord) error {
	indexBytes, err := rec.Index.Encode()
	if err != nil {
		return fmt.Errorf("save record %s: %w", name, err)
	}

	slotToID := make(map[string]string, len(rec.SlotToID))
	for slot, id := range rec.SlotToID {
		slotToID[strconv.Itoa(slot)] = id
	}
	doc := sidecarDoc{
		MetadataByID: rec.Metadata,
		IDToSlot:     rec.IDToSlot,
		SlotToID:     slotToID,
		VectorCount:  rec.Index.Count(),
	}
	sidecarBytes, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("save sidecar %s: %w", name, err)
	}

	if err := atomicWrite(s.indexPath(name), indexBytes); err != nil {
		return fmt.Errorf("write index record %s: %w", name, err)
	}
	if err := atomicWrite(s.sidecarPath(name), sidecarBytes); err != nil {
		return fmt.Errorf("write sidecar %s: %w", name, err)
	}
	return nil
}

// DeleteRecord removes a named record. Missing files are not an error.
func (s *IndexStore) DeleteRecord(name string) error {
	if name == BaseRecordName {
		return fmt.Errorf("refusing to delete base record")
	}
	for _, path := range []string{s.indexPath(name), s.sidecarPath(name)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete record %s: %w", name, err)
		}
	}
	return nil
}

// ListShards returns the names of all shard records in the store.
func (s *IndexStore) ListShards() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list shards: %w", err)
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "shard-") && strings.HasSuffix(name, indexFileExt) {
			names = append(names, strings.TrimSuffix(name, indexFileExt))
		}
	}
	return names, nil
}

// SweepOrphans deletes shard records older than maxAge that inUse does
// not claim. A producer that abandons a build leaves its shard behind;
// this is the housekeeping pass that reclaims them. Returns the names of
// swept shards.
func (s *IndexStore) SweepOrphans(maxAge time.Duration, inUse func(name string) bool) ([]string, error) {
	names, err := s.ListShards()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-maxAge)
	var swept []string
	for _, name := range names {
		if inUse != nil && inUse(name) {
			continue
		}
		info, err := os.Stat(s.indexPath(name))
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := s.DeleteRecord(name); err != nil {
			slog.Warn("orphan shard sweep failed",
				slog.String("shard", name),
				slog.String("error", err.Error()))
			continue
		}
		slog.Info("orphan shard swept", slog.String("shard", name))
		swept = append(swept, name)
	}
	return swept, nil
}

func (s *IndexStore) indexPath(name string) string {
	return filepath.Join(s.dir, name+indexFileExt)
}

func (s *IndexStore) sidecarPath(name string) string {
	return filepath.Join(s.dir, name+sidecarFileExt)
}

// atomicWrite writes data to path via a temp file and rename.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
