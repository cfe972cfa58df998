package contextstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteAdapter implements Adapter on a local SQLite database. It is the
// default store for single-node deployments and for tests.
type SQLiteAdapter struct {
	db *sql.DB
}

// NewSQLiteAdapter opens or creates a SQLite database at the given path.
func NewSQLiteAdapter(dbPath string) (*SQLiteAdapter, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	a := &SQLiteAdapter{db: db}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return a, nil
}

func (a *SQLiteAdapter) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id         TEXT PRIMARY KEY,
		scope      TEXT NOT NULL,
		kind       TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      TEXT NOT NULL,
		source     TEXT,
		relevance  REAL NOT NULL DEFAULT 0.5,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_scope_kind ON records(scope, kind);
	CREATE INDEX IF NOT EXISTS idx_records_scope_key ON records(scope, key);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_records_identity ON records(scope, kind, key, value);

	CREATE TABLE IF NOT EXISTS scope_versions (
		scope   TEXT PRIMARY KEY,
		version INTEGER NOT NULL DEFAULT 0
	);
	`
	_, err := a.db.Exec(schema)
	return err
}

// Search finds records whose key or value match the query substring, most
// relevant first.
func (a *SQLiteAdapter) Search(ctx context.Context, q Query) ([]Record, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	where := []string{"scope = ?"}
	args := []interface{}{q.Scope}

	if len(q.Kinds) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(q.Kinds)), ",")
		where = append(where, fmt.Sprintf("kind IN (%s)", placeholders))
		for _, k := range q.Kinds {
			args = append(args, k)
		}
	}
	if q.Text != "" {
		where = append(where, "(key LIKE ? OR value LIKE ?)")
		like := "%" + q.Text + "%"
		args = append(args, like, like)
	}

	query := fmt.Sprintf(`
		SELECT id, scope, kind, key, value, source, relevance, updated_at
		FROM records
		WHERE %s
		ORDER BY relevance DESC, updated_at DESC
		LIMIT ?`, strings.Join(where, " AND "))
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var source sql.NullString
		var updated string
		if err := rows.Scan(&rec.ID, &rec.Scope, &rec.Kind, &rec.Key, &rec.Value, &source, &rec.Relevance, &updated); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Source = source.String
		rec.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Put upserts a record and bumps the scope version in the same transaction.
func (a *SQLiteAdapter) Put(ctx context.Context, rec Record) error {
	if rec.Scope == "" || rec.Kind == "" || rec.Key == "" {
		return fmt.Errorf("record requires scope, kind and key")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	if rec.Relevance == 0 {
		rec.Relevance = 0.5
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (id, scope, kind, key, value, source, relevance, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, kind, key, value) DO UPDATE SET
			source = excluded.source,
			relevance = excluded.relevance,
			updated_at = excluded.updated_at`,
		rec.ID, rec.Scope, rec.Kind, rec.Key, rec.Value, rec.Source, rec.Relevance,
		rec.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scope_versions (scope, version) VALUES (?, 1)
		ON CONFLICT(scope) DO UPDATE SET version = version + 1`, rec.Scope)
	if err != nil {
		return fmt.Errorf("bump scope version: %w", err)
	}

	return tx.Commit()
}

// Version returns the current write counter for a scope. A scope with no
// writes yet reports version 0.
func (a *SQLiteAdapter) Version(ctx context.Context, scope string) (uint64, error) {
	var version uint64
	err := a.db.QueryRowContext(ctx,
		`SELECT version FROM scope_versions WHERE scope = ?`, scope).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read scope version: %w", err)
	}
	return version, nil
}

// Close closes the database.
func (a *SQLiteAdapter) Close() error {
	return a.db.Close()
}
