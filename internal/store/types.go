// Package store provides the persistence layer for the example corpus:
// the append-only vector index with its durable base/shard records, the
// SQLite manifest tracking per-unit processing state, and the in-memory
// lexical index used for hybrid re-ranking.
package store

import (
	"fmt"
	"strconv"
	"time"
)

// Status is the manifest lifecycle state of one (document, unit) pair.
type Status string

const (
	// StatusUntracked means no manifest entry exists yet.
	StatusUntracked Status = "untracked"
	// StatusStaged means a shard build is in flight for this unit.
	StatusStaged Status = "staged"
	// StatusMerged means the unit's vector lives in the base index.
	StatusMerged Status = "merged"
	// StatusDeleted means a later scan no longer reported the unit.
	// The vector stays in the index; queries filter it out.
	StatusDeleted Status = "deleted"
)

// Metadata tag keys stored with every example.
const (
	MetaDocID    = "doc_id"
	MetaUnit     = "unit"
	MetaCategory = "category"
	MetaStatus   = "status"
)

// Metadata status values.
const (
	MetaStatusActive  = "active"
	MetaStatusDeleted = "deleted"
)

// UnitKey identifies one (document, sub-unit) pair, e.g. a page of a
// scanned invoice.
type UnitKey struct {
	DocID string
	Unit  string
}

// String returns the canonical "docID#unit" form used in logs and ids.
func (k UnitKey) String() string {
	return k.DocID + "#" + k.Unit
}

// IsZero reports whether the key is empty.
func (k UnitKey) IsZero() bool {
	return k.DocID == "" && k.Unit == ""
}

// Fingerprint is the cheap change proxy for a unit's answer artifact:
// modification time plus byte size. Comparing fingerprints avoids opening
// and hashing the artifact when it clearly has not changed.
type Fingerprint struct {
	ModTime int64 // Unix seconds
	Size    int64
}

// String encodes the fingerprint for storage and comparison.
func (f Fingerprint) String() string {
	return strconv.FormatInt(f.ModTime, 10) + ":" + strconv.FormatInt(f.Size, 10)
}

// ParseFingerprint decodes a stored fingerprint. Unparseable input yields
// the zero fingerprint, which never matches a real one.
func ParseFingerprint(s string) Fingerprint {
	var fp Fingerprint
	if _, err := fmt.Sscanf(s, "%d:%d", &fp.ModTime, &fp.Size); err != nil {
		return Fingerprint{}
	}
	return fp
}

// ManifestEntry is one row of the manifest: the durable state machine for
// a single (document, unit) pair.
type ManifestEntry struct {
	Key         UnitKey
	Status      Status
	ContentHash string
	Fingerprint Fingerprint
	ShardRef    string
	UpdatedAt   time.Time
}

// KeyOrder records the original field ordering of an example's answer
// payload: the top-level keys, and the keys of the first item when the
// answer contains a list of items. Captured once at insert time so later
// consumers can reproduce an ordering the payload's own map representation
// does not guarantee.
type KeyOrder struct {
	TopKeys  []string `json:"top_keys"`
	ItemKeys []string `json:"item_keys"`
}

// Example is one retrievable unit of the corpus: the source text that was
// embedded, the structured answer returned to callers, and flat metadata
// tags used for filtering.
type Example struct {
	ID         string            `json:"id"`
	SourceText string            `json:"source_text"`
	Answer     *Document         `json:"answer"`
	Metadata   map[string]string `json:"metadata"`
	KeyOrder   KeyOrder          `json:"key_order"`
}

// Deleted reports whether the example has been soft-deleted via its
// metadata status tag.
func (e *Example) Deleted() bool {
	return e.Metadata[MetaStatus] == MetaStatusDeleted
}

// Category returns the example's category tag, if any.
func (e *Example) Category() string {
	return e.Metadata[MetaCategory]
}

// ErrDimensionMismatch is returned when a vector's dimension does not
// match the index's configured dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
