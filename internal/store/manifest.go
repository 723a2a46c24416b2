package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	exerrors "github.com/docsage/exemplar/internal/errors"
)

// ManifestStore is the durable per-unit state machine. One row per
// (document, unit) pair tracks the lifecycle status, the content hash,
// the fast fingerprint, and the shard currently holding the unit's
// not-yet-merged vector.
type ManifestStore struct {
	db *sql.DB
}

// StagedUnit carries the per-unit values written by MarkStaged.
type StagedUnit struct {
	Key         UnitKey
	ContentHash string
	Fingerprint Fingerprint
}

// NewManifestStore opens (or creates) the manifest database. An empty
// path opens an in-memory database for tests.
func NewManifestStore(path string) (*ManifestStore, error) {
	dsn := ":memory:"
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create manifest directory %s: %w", dir, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, exerrors.New(exerrors.ErrCodeStoreUnreachable,
			fmt.Sprintf("open manifest database at %s", dsn), err)
	}

	// Single writer keeps SQLite lock contention out of the picture.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL must be set via PRAGMA for modernc.org/sqlite; DSN params are ignored.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	m := &ManifestStore{db: db}
	if err := m.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

func (m *ManifestStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS manifest (
		doc_id       TEXT NOT NULL,
		unit         TEXT NOT NULL,
		status       TEXT NOT NULL,
		content_hash TEXT NOT NULL DEFAULT '',
		fingerprint  TEXT NOT NULL DEFAULT '',
		shard_ref    TEXT NOT NULL DEFAULT '',
		updated_at   TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (doc_id, unit)
	);
	CREATE INDEX IF NOT EXISTS idx_manifest_status ON manifest(status);
	CREATE INDEX IF NOT EXISTS idx_manifest_shard ON manifest(shard_ref);
	`
	if _, err := m.db.Exec(schema); err != nil {
		return fmt.Errorf("create manifest schema: %w", err)
	}
	return nil
}

// GetStatus returns the unit's status, or StatusUntracked when no row exists.
func (m *ManifestStore) GetStatus(ctx context.Context, key UnitKey) (Status, error) {
	var status string
	err := m.db.QueryRowContext(ctx,
		`SELECT status FROM manifest WHERE doc_id = ? AND unit = ?`,
		key.DocID, key.Unit).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return StatusUntracked, nil
	}
	if err != nil {
		return "", fmt.Errorf("query status for %s: %w", key, err)
	}
	return Status(status), nil
}

// IsChangedFast is the stage-1 filter: true when no row exists or the
// stored fingerprint differs from the supplied one. It spares the caller
// the cost of opening and hashing the artifact in the common
// nothing-changed case.
func (m *ManifestStore) IsChangedFast(ctx context.Context, key UnitKey, fp Fingerprint) (bool, error) {
	var stored string
	err := m.db.QueryRowContext(ctx,
		`SELECT fingerprint FROM manifest WHERE doc_id = ? AND unit = ?`,
		key.DocID, key.Unit).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("query fingerprint for %s: %w", key, err)
	}
	return stored != fp.String(), nil
}

// IsAlreadyProcessed is the stage-2 filter: true only when the unit is
// merged and the stored content hash matches. It catches artifacts that
// were rewritten with identical content (new mtime, same bytes).
func (m *ManifestStore) IsAlreadyProcessed(ctx context.Context, key UnitKey, contentHash string) (bool, error) {
	var status, stored string
	err := m.db.QueryRowContext(ctx,
		`SELECT status, content_hash FROM manifest WHERE doc_id = ? AND unit = ?`,
		key.DocID, key.Unit).Scan(&status, &stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query content hash for %s: %w", key, err)
	}
	return Status(status) == StatusMerged && stored == contentHash, nil
}

// IsStaged reports whether a shard build is in flight for the unit.
// Callers must skip staged units to avoid duplicate concurrent shards.
func (m *ManifestStore) IsStaged(ctx context.Context, key UnitKey) (bool, error) {
	status, err := m.GetStatus(ctx, key)
	if err != nil {
		return false, err
	}
	return status == StatusStaged, nil
}

// MarkStaged upserts each unit to status=staged with its hash,
// fingerprint, and shard reference. Each upsert is atomic per unit; no
// cross-unit atomicity is promised or needed.
func (m *ManifestStore) MarkStaged(ctx context.Context, units []StagedUnit, shardRef string) error {
	if len(units) == 0 {
		return nil
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO manifest (doc_id, unit, status, content_hash, fingerprint, shard_ref, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id, unit) DO UPDATE SET
			status = excluded.status,
			content_hash = excluded.content_hash,
			fingerprint = excluded.fingerprint,
			shard_ref = excluded.shard_ref,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, u := range units {
		if _, err := stmt.ExecContext(ctx,
			u.Key.DocID, u.Key.Unit, string(StatusStaged),
			u.ContentHash, u.Fingerprint.String(), shardRef, now); err != nil {
			return fmt.Errorf("stage %s: %w", u.Key, err)
		}
	}
	return tx.Commit()
}

// MarkMerged transitions staged units to merged and clears their shard
// reference. Applying it to an already-merged unit is a no-op.
func (m *ManifestStore) MarkMerged(ctx context.Context, keys []UnitKey) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE manifest SET status = ?, shard_ref = '', updated_at = ?
		WHERE doc_id = ? AND unit = ? AND status IN (?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare update: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, key := range keys {
		if _, err := stmt.ExecContext(ctx,
			string(StatusMerged), now, key.DocID, key.Unit,
			string(StatusStaged), string(StatusMerged)); err != nil {
			return fmt.Errorf("mark merged %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// MarkDeleted sets the units' status to deleted. Their vectors stay in
// the index; queries filter them out via metadata.
func (m *ManifestStore) MarkDeleted(ctx context.Context, keys []UnitKey) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE manifest SET status = ?, updated_at = ? WHERE doc_id = ? AND unit = ?
	`)
	if err != nil {
		return fmt.Errorf("prepare update: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, key := range keys {
		if _, err := stmt.ExecContext(ctx, string(StatusDeleted), now, key.DocID, key.Unit); err != nil {
			return fmt.Errorf("mark deleted %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// TouchFingerprint refreshes a unit's stored fingerprint without changing
// its status. Used when the artifact was rewritten with identical content
// so the stage-1 check short-circuits again on the next scan.
func (m *ManifestStore) TouchFingerprint(ctx context.Context, key UnitKey, fp Fingerprint) error {
	_, err := m.db.ExecContext(ctx,
		`UPDATE manifest SET fingerprint = ?, updated_at = ? WHERE doc_id = ? AND unit = ?`,
		fp.String(), time.Now().UTC(), key.DocID, key.Unit)
	if err != nil {
		return fmt.Errorf("touch fingerprint %s: %w", key, err)
	}
	return nil
}

// AllTrackedUnits returns every unit with a manifest row, regardless of status.
func (m *ManifestStore) AllTrackedUnits(ctx context.Context) ([]UnitKey, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT doc_id, unit FROM manifest ORDER BY doc_id, unit`)
	if err != nil {
		return nil, fmt.Errorf("query tracked units: %w", err)
	}
	defer rows.Close()

	var keys []UnitKey
	for rows.Next() {
		var key UnitKey
		if err := rows.Scan(&key.DocID, &key.Unit); err != nil {
			return nil, fmt.Errorf("scan tracked unit: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Entry returns the full manifest row for a unit.
func (m *ManifestStore) Entry(ctx context.Context, key UnitKey) (*ManifestEntry, error) {
	var (
		entry  ManifestEntry
		status string
		fp     string
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT status, content_hash, fingerprint, shard_ref, updated_at
		FROM manifest WHERE doc_id = ? AND unit = ?
	`, key.DocID, key.Unit).Scan(&status, &entry.ContentHash, &fp, &entry.ShardRef, &entry.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query entry %s: %w", key, err)
	}
	entry.Key = key
	entry.Status = Status(status)
	entry.Fingerprint = ParseFingerprint(fp)
	return &entry, nil
}

// CountByStatus returns the number of manifest rows per status.
func (m *ManifestStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM manifest GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// StagedShards groups staged units by the shard still holding their
// not-yet-merged vectors. A non-empty result at the start of a run means
// an earlier pipeline was interrupted between staging and merge.
func (m *ManifestStore) StagedShards(ctx context.Context) (map[string][]UnitKey, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT shard_ref, doc_id, unit FROM manifest
		WHERE status = ? AND shard_ref != ''
		ORDER BY shard_ref, doc_id, unit
	`, string(StatusStaged))
	if err != nil {
		return nil, fmt.Errorf("query staged shards: %w", err)
	}
	defer rows.Close()

	shards := make(map[string][]UnitKey)
	for rows.Next() {
		var ref string
		var key UnitKey
		if err := rows.Scan(&ref, &key.DocID, &key.Unit); err != nil {
			return nil, fmt.Errorf("scan staged shard: %w", err)
		}
		shards[ref] = append(shards[ref], key)
	}
	return shards, rows.Err()
}

// ActiveShardRefs returns the set of shard names still referenced by
// staged rows. Shards outside this set are orphans and may be swept.
func (m *ManifestStore) ActiveShardRefs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT DISTINCT shard_ref FROM manifest WHERE shard_ref != ''`)
	if err != nil {
		return nil, fmt.Errorf("query shard refs: %w", err)
	}
	defer rows.Close()

	refs := make(map[string]struct{})
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("scan shard ref: %w", err)
		}
		refs[ref] = struct{}{}
	}
	return refs, rows.Err()
}

// Close closes the underlying database.
func (m *ManifestStore) Close() error {
	return m.db.Close()
}
