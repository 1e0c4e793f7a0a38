package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Aman-CERP/amangrep/internal/bloom"
	amerrors "github.com/Aman-CERP/amangrep/internal/errors"
)

// SQLiteStore persists one catalog in a single database file using WAL
// mode. Writes go through a dedicated single-connection pool so there is
// exactly one writer; snapshots read from a separate read-only pool.
type SQLiteStore struct {
	path   string
	writer *sql.DB
	reader *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS index_meta (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	key_hash TEXT NOT NULL,
	key_json TEXT NOT NULL,
	schema_version INTEGER NOT NULL,
	state TEXT NOT NULL,
	uncertain_reason TEXT NOT NULL DEFAULT '',
	coverage_epoch INTEGER NOT NULL DEFAULT 0,
	ngram_size INTEGER NOT NULL,
	m_bits INTEGER NOT NULL,
	k_hashes INTEGER NOT NULL,
	seed INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	last_access INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS file_catalog (
	rel_path TEXT PRIMARY KEY,
	order_key BLOB NOT NULL,
	size INTEGER NOT NULL,
	mtime_ns INTEGER NOT NULL,
	fingerprint INTEGER NOT NULL,
	status TEXT NOT NULL,
	confirmed_epoch INTEGER NOT NULL
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS idx_catalog_order ON file_catalog(order_key);

CREATE TABLE IF NOT EXISTS file_blooms (
	rel_path TEXT NOT NULL,
	variant INTEGER NOT NULL,
	bits BLOB NOT NULL,
	PRIMARY KEY (rel_path, variant)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS dirty_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	rel_path TEXT NOT NULL,
	op TEXT NOT NULL,
	enqueued_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS meta_kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
) WITHOUT ROWID;
`

const checkpointKey = "build_checkpoint"

// OpenSQLite opens (creating if needed) the catalog database at path.
// An existing file is integrity-checked first; a failure comes back as
// an integrity error so the caller can quarantine the directory rather
// than silently rebuild over evidence of corruption.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating catalog directory: %w", err)
	}

	if err := ValidateIntegrity(path); err != nil {
		return nil, err
	}

	// modernc.org/sqlite may ignore DSN parameters, so the PRAGMAs are
	// applied explicitly after opening as well.
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening catalog database: %w", err)
	}

	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-65536",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := writer.Exec(pragma); err != nil {
			writer.Close()
			return nil, fmt.Errorf("setting %s: %w", pragma, err)
		}
	}

	if _, err := writer.Exec(schemaSQL); err != nil {
		writer.Close()
		return nil, fmt.Errorf("initializing catalog schema: %w", err)
	}

	reader, err := sql.Open("sqlite", path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("opening catalog read pool: %w", err)
	}
	reader.SetMaxOpenConns(8)
	if _, err := reader.Exec("PRAGMA busy_timeout=5000"); err != nil {
		writer.Close()
		reader.Close()
		return nil, fmt.Errorf("configuring catalog read pool: %w", err)
	}

	return &SQLiteStore{path: path, writer: writer, reader: reader}, nil
}

// ValidateIntegrity runs a PRAGMA integrity_check against an existing
// database file. A missing file is fine (a fresh catalog will be
// created); anything else wrong is reported as an integrity error.
func ValidateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return amerrors.IntegrityError("catalog unreadable", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return amerrors.IntegrityError("integrity check failed", err)
	}
	if result != "ok" {
		return amerrors.IntegrityError(
			fmt.Sprintf("integrity check reported: %s", result), nil)
	}

	// An empty but valid file has no tables yet; that is not corruption.
	var name string
	err = db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name='index_meta'").Scan(&name)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return amerrors.IntegrityError("schema probe failed", err)
	}
	return nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Meta(ctx context.Context) (*MetaRecord, error) {
	row := s.writer.QueryRowContext(ctx, `
		SELECT key_hash, key_json, schema_version, state, uncertain_reason,
		       coverage_epoch, ngram_size, m_bits, k_hashes, seed,
		       created_at, updated_at, last_access
		FROM index_meta WHERE id = 1`)

	var m MetaRecord
	var seed, created, updated, access int64
	err := row.Scan(&m.KeyHash, &m.KeyJSON, &m.SchemaVersion, &m.State,
		&m.UncertainReason, &m.CoverageEpoch,
		&m.Params.NgramSize, &m.Params.MBits, &m.Params.KHashes, &seed,
		&created, &updated, &access)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading catalog meta: %w", err)
	}
	m.Params.Seed = uint64(seed)
	m.CreatedAt = time.Unix(0, created)
	m.UpdatedAt = time.Unix(0, updated)
	m.LastAccess = time.Unix(0, access)
	return &m, nil
}

func (s *SQLiteStore) PutMeta(ctx context.Context, m *MetaRecord) error {
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO index_meta (id, key_hash, key_json, schema_version, state,
			uncertain_reason, coverage_epoch, ngram_size, m_bits, k_hashes, seed,
			created_at, updated_at, last_access)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			key_hash = excluded.key_hash,
			key_json = excluded.key_json,
			schema_version = excluded.schema_version,
			state = excluded.state,
			uncertain_reason = excluded.uncertain_reason,
			coverage_epoch = excluded.coverage_epoch,
			ngram_size = excluded.ngram_size,
			m_bits = excluded.m_bits,
			k_hashes = excluded.k_hashes,
			seed = excluded.seed,
			updated_at = excluded.updated_at,
			last_access = excluded.last_access`,
		m.KeyHash, m.KeyJSON, m.SchemaVersion, m.State, m.UncertainReason,
		m.CoverageEpoch, m.Params.NgramSize, m.Params.MBits, m.Params.KHashes,
		int64(m.Params.Seed), m.CreatedAt.UnixNano(), m.UpdatedAt.UnixNano(),
		m.LastAccess.UnixNano())
	if err != nil {
		return fmt.Errorf("writing catalog meta: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Touch(ctx context.Context, at time.Time) error {
	_, err := s.writer.ExecContext(ctx,
		"UPDATE index_meta SET last_access = ? WHERE id = 1", at.UnixNano())
	if err != nil {
		return fmt.Errorf("updating catalog access time: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertFiles(ctx context.Context, entries []*FileEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning catalog write: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO file_catalog (rel_path, order_key, size, mtime_ns,
			fingerprint, status, confirmed_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rel_path) DO UPDATE SET
			order_key = excluded.order_key,
			size = excluded.size,
			mtime_ns = excluded.mtime_ns,
			fingerprint = excluded.fingerprint,
			status = excluded.status,
			confirmed_epoch = excluded.confirmed_epoch`)
	if err != nil {
		return fmt.Errorf("preparing catalog upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		_, err := stmt.ExecContext(ctx, e.RelPath, e.OrderKey, e.Size,
			e.MtimeNS, int64(e.Fingerprint), string(e.Status), e.ConfirmedEpoch)
		if err != nil {
			return fmt.Errorf("upserting %s: %w", e.RelPath, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteFiles(ctx context.Context, relPaths []string) error {
	if len(relPaths) == 0 {
		return nil
	}

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning catalog delete: %w", err)
	}
	defer tx.Rollback()

	catalogStmt, err := tx.PrepareContext(ctx,
		"DELETE FROM file_catalog WHERE rel_path = ?")
	if err != nil {
		return fmt.Errorf("preparing catalog delete: %w", err)
	}
	defer catalogStmt.Close()

	bloomStmt, err := tx.PrepareContext(ctx,
		"DELETE FROM file_blooms WHERE rel_path = ?")
	if err != nil {
		return fmt.Errorf("preparing bloom delete: %w", err)
	}
	defer bloomStmt.Close()

	for _, p := range relPaths {
		if _, err := catalogStmt.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("deleting %s: %w", p, err)
		}
		if _, err := bloomStmt.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("deleting blooms for %s: %w", p, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteSubtree(ctx context.Context, relDir string) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning subtree delete: %w", err)
	}
	defer tx.Rollback()

	prefix := relDir + "/"
	_, err = tx.ExecContext(ctx,
		"DELETE FROM file_blooms WHERE rel_path = ? OR rel_path LIKE ? ESCAPE '\\'",
		relDir, likePrefix(prefix))
	if err != nil {
		return fmt.Errorf("deleting subtree blooms under %s: %w", relDir, err)
	}
	_, err = tx.ExecContext(ctx,
		"DELETE FROM file_catalog WHERE rel_path = ? OR rel_path LIKE ? ESCAPE '\\'",
		relDir, likePrefix(prefix))
	if err != nil {
		return fmt.Errorf("deleting subtree under %s: %w", relDir, err)
	}
	return tx.Commit()
}

// likePrefix escapes LIKE metacharacters so a path prefix matches
// literally.
func likePrefix(prefix string) string {
	escaped := make([]byte, 0, len(prefix)+8)
	for i := 0; i < len(prefix); i++ {
		c := prefix[i]
		if c == '%' || c == '_' || c == '\\' {
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, c)
	}
	return string(escaped) + "%"
}

func (s *SQLiteStore) GetFile(ctx context.Context, relPath string) (*FileEntry, error) {
	row := s.writer.QueryRowContext(ctx, `
		SELECT rel_path, order_key, size, mtime_ns, fingerprint, status, confirmed_epoch
		FROM file_catalog WHERE rel_path = ?`, relPath)

	var e FileEntry
	var fingerprint int64
	var status string
	err := row.Scan(&e.RelPath, &e.OrderKey, &e.Size, &e.MtimeNS,
		&fingerprint, &status, &e.ConfirmedEpoch)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading catalog entry %s: %w", relPath, err)
	}
	e.Fingerprint = uint64(fingerprint)
	e.Status = TokenStatus(status)
	return &e, nil
}

func (s *SQLiteStore) CountFiles(ctx context.Context) (int64, error) {
	var n int64
	err := s.writer.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM file_catalog").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting catalog entries: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) PutBloom(ctx context.Context, relPath string, variant bloom.Variant, bits []byte) error {
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO file_blooms (rel_path, variant, bits) VALUES (?, ?, ?)
		ON CONFLICT(rel_path, variant) DO UPDATE SET bits = excluded.bits`,
		relPath, int(variant), bits)
	if err != nil {
		return fmt.Errorf("writing bloom for %s: %w", relPath, err)
	}
	return nil
}

func (s *SQLiteStore) EnqueueDirty(ctx context.Context, entries []DirtyEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning dirty enqueue: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO dirty_queue (rel_path, op, enqueued_at) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing dirty enqueue: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		at := e.EnqueuedAt
		if at.IsZero() {
			at = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, e.RelPath, string(e.Op), at.UnixNano()); err != nil {
			return fmt.Errorf("enqueueing %s: %w", e.RelPath, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) TakeDirty(ctx context.Context, limit int) ([]DirtyEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning dirty take: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, rel_path, op, enqueued_at FROM dirty_queue
		ORDER BY enqueued_at, rel_path, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("reading dirty queue: %w", err)
	}

	var taken []DirtyEntry
	for rows.Next() {
		var e DirtyEntry
		var op string
		var at int64
		if err := rows.Scan(&e.ID, &e.RelPath, &op, &at); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning dirty entry: %w", err)
		}
		e.Op = DirtyOp(op)
		e.EnqueuedAt = time.Unix(0, at)
		taken = append(taken, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating dirty queue: %w", err)
	}
	rows.Close()

	if len(taken) == 0 {
		return nil, tx.Commit()
	}

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM dirty_queue WHERE id = ?")
	if err != nil {
		return nil, fmt.Errorf("preparing dirty delete: %w", err)
	}
	defer stmt.Close()
	for _, e := range taken {
		if _, err := stmt.ExecContext(ctx, e.ID); err != nil {
			return nil, fmt.Errorf("removing dirty entry %d: %w", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing dirty take: %w", err)
	}
	return taken, nil
}

func (s *SQLiteStore) ListDirty(ctx context.Context, limit int) ([]DirtyEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.writer.QueryContext(ctx, `
		SELECT id, rel_path, op, enqueued_at FROM dirty_queue
		ORDER BY enqueued_at, rel_path, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("reading dirty queue: %w", err)
	}
	defer rows.Close()

	var entries []DirtyEntry
	for rows.Next() {
		var e DirtyEntry
		var op string
		var at int64
		if err := rows.Scan(&e.ID, &e.RelPath, &op, &at); err != nil {
			return nil, fmt.Errorf("scanning dirty entry: %w", err)
		}
		e.Op = DirtyOp(op)
		e.EnqueuedAt = time.Unix(0, at)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dirty queue: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) DirtyCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.writer.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM dirty_queue").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting dirty queue: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) ClearDirty(ctx context.Context) error {
	if _, err := s.writer.ExecContext(ctx, "DELETE FROM dirty_queue"); err != nil {
		return fmt.Errorf("clearing dirty queue: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *BuildCheckpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	_, err = s.writer.ExecContext(ctx, `
		INSERT INTO meta_kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		checkpointKey, string(data))
	if err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadCheckpoint(ctx context.Context) (*BuildCheckpoint, error) {
	var raw string
	err := s.writer.QueryRowContext(ctx,
		"SELECT value FROM meta_kv WHERE key = ?", checkpointKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	var cp BuildCheckpoint
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		return nil, amerrors.IntegrityError("checkpoint undecodable", err)
	}
	return &cp, nil
}

func (s *SQLiteStore) ClearCheckpoint(ctx context.Context) error {
	_, err := s.writer.ExecContext(ctx,
		"DELETE FROM meta_kv WHERE key = ?", checkpointKey)
	if err != nil {
		return fmt.Errorf("clearing checkpoint: %w", err)
	}
	return nil
}

// OpenSnapshot pins a read-only transaction so searches observe one
// consistent catalog version while maintenance keeps writing. File rows
// are loaded eagerly in order-key order; bloom blobs are fetched lazily
// because most searches touch only a fraction of them.
func (s *SQLiteStore) OpenSnapshot(ctx context.Context) (Snapshot, error) {
	tx, err := s.reader.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("opening catalog snapshot: %w", err)
	}

	meta, err := readMetaTx(ctx, tx)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if meta == nil {
		tx.Rollback()
		return nil, ErrNoMeta
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT rel_path, order_key, size, mtime_ns, fingerprint, status, confirmed_epoch
		FROM file_catalog ORDER BY order_key, rel_path`)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("reading catalog files: %w", err)
	}
	defer rows.Close()

	var files []*FileEntry
	for rows.Next() {
		var e FileEntry
		var fingerprint int64
		var status string
		if err := rows.Scan(&e.RelPath, &e.OrderKey, &e.Size, &e.MtimeNS,
			&fingerprint, &status, &e.ConfirmedEpoch); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("scanning catalog file: %w", err)
		}
		e.Fingerprint = uint64(fingerprint)
		e.Status = TokenStatus(status)
		files = append(files, &e)
	}
	if err := rows.Err(); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("iterating catalog files: %w", err)
	}

	return &sqliteSnapshot{tx: tx, meta: meta, files: files}, nil
}

func readMetaTx(ctx context.Context, tx *sql.Tx) (*MetaRecord, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT key_hash, key_json, schema_version, state, uncertain_reason,
		       coverage_epoch, ngram_size, m_bits, k_hashes, seed,
		       created_at, updated_at, last_access
		FROM index_meta WHERE id = 1`)

	var m MetaRecord
	var seed, created, updated, access int64
	err := row.Scan(&m.KeyHash, &m.KeyJSON, &m.SchemaVersion, &m.State,
		&m.UncertainReason, &m.CoverageEpoch,
		&m.Params.NgramSize, &m.Params.MBits, &m.Params.KHashes, &seed,
		&created, &updated, &access)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot meta: %w", err)
	}
	m.Params.Seed = uint64(seed)
	m.CreatedAt = time.Unix(0, created)
	m.UpdatedAt = time.Unix(0, updated)
	m.LastAccess = time.Unix(0, access)
	return &m, nil
}

type sqliteSnapshot struct {
	tx    *sql.Tx
	meta  *MetaRecord
	files []*FileEntry
}

func (s *sqliteSnapshot) Files() []*FileEntry {
	return s.files
}

func (s *sqliteSnapshot) Bloom(relPath string, variant bloom.Variant) ([]byte, error) {
	var bits []byte
	err := s.tx.QueryRow(
		"SELECT bits FROM file_blooms WHERE rel_path = ? AND variant = ?",
		relPath, int(variant)).Scan(&bits)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading bloom for %s: %w", relPath, err)
	}
	return bits, nil
}

func (s *sqliteSnapshot) Meta() *MetaRecord {
	return s.meta
}

func (s *sqliteSnapshot) Release() error {
	return s.tx.Rollback()
}

// Close checkpoints the WAL so the directory holds a single compact
// file, then shuts both pools down.
func (s *SQLiteStore) Close() error {
	var firstErr error
	if s.reader != nil {
		if err := s.reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.writer != nil {
		if _, err := s.writer.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := s.writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
