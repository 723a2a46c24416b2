// Package index implements the incremental build pipeline: two-stage
// change detection against the manifest, shard builds of new or changed
// records, and the merge that folds a shard into the base index.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/docsage/exemplar/internal/store"
)

// Record is one extracted (source-text, structured-answer) pair handed to
// the shard builder. Extraction failures are the caller's responsibility
// to filter out before the record reaches the builder.
type Record struct {
	Key        store.UnitKey
	SourceText string
	Answer     *store.Document
	Category   string
	Metadata   map[string]string
}

// UnitStat is one unit reported by a scan: its key and the cheap
// fingerprint of its answer artifact.
type UnitStat struct {
	Key         store.UnitKey
	Fingerprint store.Fingerprint
}

// RecordSource is the external scanner/extraction front end. Scan is
// cheap and reports every currently-existing unit; Extract is expensive
// (opens and parses the artifact) and is only called for units the
// two-stage change detection lets through.
type RecordSource interface {
	Scan(ctx context.Context) ([]UnitStat, error)
	Extract(ctx context.Context, key store.UnitKey) (*Record, error)
}

// DeterministicID derives a stable example id from a unit key, so the
// same source record keeps its id across rebuilds.
func DeterministicID(key store.UnitKey) string {
	sum := sha256.Sum256([]byte(key.String()))
	return hex.EncodeToString(sum[:])[:16]
}

// ContentHash digests a record's source text and answer. Answer keys are
// canonicalized (sorted) first, so two payloads with the same fields in a
// different order hash identically.
func ContentHash(sourceText string, answer *store.Document) (string, error) {
	canonical, err := store.CanonicalJSON(answer)
	if err != nil {
		return "", fmt.Errorf("canonicalize answer: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(sourceText))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
