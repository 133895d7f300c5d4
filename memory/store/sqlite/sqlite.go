// Package sqlite is the durable ChunkStore, backed by modernc.org/sqlite.
//
// Each chunk is one row: the indexed columns needed for filtering and the
// full JSON payload, so fields outside the schema survive a round trip.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/becomeliminal/atlas/memory"
)

// Store implements memory.ChunkStore and memory.MetaStore.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes read-modify-write transactions
}

var (
	_ memory.ChunkStore = (*Store)(nil)
	_ memory.MetaStore  = (*Store)(nil)
)

// Open opens (or creates) the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[SQLITE] Opened chunk store at %s", path)
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			file_path TEXT NOT NULL,
			file_hash TEXT NOT NULL,
			level INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			superseded_by TEXT NOT NULL DEFAULT '',
			deletion_eligible INTEGER NOT NULL DEFAULT 0,
			payload TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_path)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_created ON chunks(created_at, id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_superseded ON chunks(superseded_by)`,
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}
	return nil
}

const upsertChunk = `INSERT INTO chunks (id, file_path, file_hash, level, created_at, superseded_by, deletion_eligible, payload)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		file_path = excluded.file_path,
		file_hash = excluded.file_hash,
		level = excluded.level,
		created_at = excluded.created_at,
		superseded_by = excluded.superseded_by,
		deletion_eligible = excluded.deletion_eligible,
		payload = excluded.payload`

// Put inserts or replaces chunks in one transaction.
func (s *Store) Put(ctx context.Context, chunks ...*memory.ChunkPayload) error {
	if len(chunks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, c := range chunks {
		if err := c.Validate(); err != nil {
			return err
		}
		if err := putTx(ctx, tx, c); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func putTx(ctx context.Context, tx *sql.Tx, c *memory.ChunkPayload) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal chunk %s: %w", c.ID, err)
	}
	_, err = tx.ExecContext(ctx, upsertChunk,
		c.ID, c.FilePath, c.FileHash, int(c.ConsolidationLevel), c.CreatedAt.UnixNano(),
		c.SupersededBy, boolInt(c.DeletionEligible), string(payload))
	if err != nil {
		return fmt.Errorf("upsert chunk %s: %w", c.ID, err)
	}
	return nil
}

// Get returns one chunk or memory.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*memory.ChunkPayload, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM chunks WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, memory.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decode(payload)
}

// GetMany returns the chunks that exist among ids.
func (s *Store) GetMany(ctx context.Context, ids []string) (map[string]*memory.ChunkPayload, error) {
	out := make(map[string]*memory.ChunkPayload, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT payload FROM chunks WHERE id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		c, err := decode(payload)
		if err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

// List returns chunks matching opts ordered by creation time, then id.
func (s *Store) List(ctx context.Context, opts memory.ListOptions) ([]*memory.ChunkPayload, error) {
	var where []string
	var args []any
	if opts.FilePath != "" {
		where = append(where, "file_path = ?")
		args = append(args, opts.FilePath)
	}
	if opts.MinLevel > 0 {
		where = append(where, "level >= ?")
		args = append(args, int(opts.MinLevel))
	}
	if !opts.Since.IsZero() {
		where = append(where, "created_at > ?")
		args = append(args, opts.Since.UnixNano())
	}
	if !opts.IncludeSuperseded {
		where = append(where, "superseded_by = ''")
	}

	query := `SELECT payload FROM chunks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*memory.ChunkPayload
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		c, err := decode(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Count returns the number of stored chunks.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, err
}

// CountSince returns the number of chunks created after t. A zero t counts
// every chunk.
func (s *Store) CountSince(ctx context.Context, t time.Time) (int, error) {
	if t.IsZero() {
		return s.Count(ctx)
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE created_at > ?`, t.UnixNano()).Scan(&n)
	return n, err
}

// Stats counts chunks per level, superseded and deletion-eligible chunks.
func (s *Store) Stats(ctx context.Context) (byLevel map[memory.Level]int, superseded, eligible int, err error) {
	byLevel = make(map[memory.Level]int)
	rows, err := s.db.QueryContext(ctx, `SELECT level, COUNT(*) FROM chunks GROUP BY level`)
	if err != nil {
		return nil, 0, 0, err
	}
	defer rows.Close()
	for rows.Next() {
		var level, n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, 0, 0, err
		}
		byLevel[memory.Level(level)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(superseded_by != ''), 0), COALESCE(SUM(deletion_eligible), 0) FROM chunks`).
		Scan(&superseded, &eligible)
	return byLevel, superseded, eligible, err
}

// Touch records an access on each existing id.
func (s *Store) Touch(ctx context.Context, now time.Time, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range ids {
		var payload string
		err := tx.QueryRowContext(ctx, `SELECT payload FROM chunks WHERE id = ?`, id).Scan(&payload)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return err
		}
		c, err := decode(payload)
		if err != nil {
			return err
		}
		memory.Touch(c, now)
		if err := putTx(ctx, tx, c); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetMeta returns a stored meta value.
func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// SetMeta stores a meta value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func decode(payload string) (*memory.ChunkPayload, error) {
	var c memory.ChunkPayload
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return nil, fmt.Errorf("decode chunk: %w", err)
	}
	return &c, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
