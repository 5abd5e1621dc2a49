package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type SQLiteStore struct {
	db *sql.DB
	sqliteTx
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// sqlite allows one writer; a single connection keeps units of work serialized
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, sqliteTx: sqliteTx{q: db}}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Atomically runs fn inside one database transaction.
func (s *SQLiteStore) Atomically(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&sqliteTx{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// PendingOutbox returns unpublished events, oldest first.
func (s *SQLiteStore) PendingOutbox(ctx context.Context, limit int) ([]OutboxEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, family, aggregate_key, payload, created_at, attempts, last_error
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending outbox: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var ev OutboxEvent
		var payload string
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.Family, &ev.AggregateKey, &payload, &ev.CreatedAt, &ev.Attempts, &ev.LastError); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		ev.Payload = []byte(payload)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// MarkPublished marks an event as delivered to the broker
func (s *SQLiteStore) MarkPublished(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET published_at = ?, attempts = attempts + 1, last_error = '' WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

// MarkPublishError records a failed delivery attempt
func (s *SQLiteStore) MarkPublishError(ctx context.Context, id int64, cause string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET attempts = attempts + 1, last_error = ? WHERE id = ?`, cause, id)
	if err != nil {
		return fmt.Errorf("mark outbox error: %w", err)
	}
	slog.WarnContext(ctx, "Outbox event marked with publish error", "id", id, "error", cause)
	return nil
}

type sqliteTx struct {
	q queryer
}

func (t *sqliteTx) Get(ctx context.Context, c Collection, family, key string) (Document, error) {
	doc := Document{Collection: c, Family: family, Key: key}
	var body string
	err := t.q.QueryRowContext(ctx, `
		SELECT version, body, updated_at FROM documents
		WHERE collection = ? AND family = ? AND key = ?`,
		string(c), family, key).Scan(&doc.Version, &body, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("%s/%s: %w", c, key, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s/%s: %w", c, key, err)
	}
	doc.Body = []byte(body)
	return doc, nil
}

func (t *sqliteTx) Query(ctx context.Context, c Collection, family string, f Filter) ([]Document, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	var sb strings.Builder
	sb.WriteString(`SELECT key, version, body, updated_at FROM documents WHERE collection = ? AND family = ?`)
	args := []any{string(c), family}

	fields := make([]string, 0, len(f))
	for k := range f {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	for _, k := range fields {
		zero, value, err := sqlValue(f[k])
		if err != nil {
			return nil, fmt.Errorf("query %s field %s: %w", c, k, err)
		}
		sb.WriteString(` AND IFNULL(json_extract(body, ?), ?) = ?`)
		args = append(args, "$."+k, zero, value)
	}
	sb.WriteString(` ORDER BY key`)

	rows, err := t.q.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", c, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc := Document{Collection: c, Family: family}
		var body string
		if err := rows.Scan(&doc.Key, &doc.Version, &body, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", c, err)
		}
		doc.Body = []byte(body)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// sqlValue maps a filter value to what json_extract yields for it, together
// with the zero value used when the field is absent.
func sqlValue(v any) (zero, value any, err error) {
	switch x := v.(type) {
	case string:
		return "", x, nil
	case bool:
		if x {
			return int64(0), int64(1), nil
		}
		return int64(0), int64(0), nil
	case int:
		return int64(0), int64(x), nil
	case int64:
		return int64(0), x, nil
	}
	return nil, nil, fmt.Errorf("unsupported filter value %T", v)
}

func (t *sqliteTx) Upsert(ctx context.Context, doc Document) (int64, error) {
	var current int64
	err := t.q.QueryRowContext(ctx,
		`SELECT version FROM documents WHERE collection = ? AND family = ? AND key = ?`,
		string(doc.Collection), doc.Family, doc.Key).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("read version %s/%s: %w", doc.Collection, doc.Key, err)
	}
	if doc.Version != 0 && doc.Version != current {
		return 0, fmt.Errorf("%s/%s at version %d, expected %d: %w", doc.Collection, doc.Key, current, doc.Version, ErrVersionConflict)
	}

	next := current + 1
	updatedAt := doc.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO documents (collection, family, key, version, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection, family, key) DO UPDATE
		SET version = excluded.version, body = excluded.body, updated_at = excluded.updated_at
		WHERE documents.version = ?`,
		string(doc.Collection), doc.Family, doc.Key, next, string(doc.Body), updatedAt, current)
	if err != nil {
		return 0, fmt.Errorf("upsert %s/%s: %w", doc.Collection, doc.Key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return 0, fmt.Errorf("%s/%s changed during write: %w", doc.Collection, doc.Key, ErrVersionConflict)
	}
	return next, nil
}

func (t *sqliteTx) Delete(ctx context.Context, c Collection, family, key string) error {
	res, err := t.q.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND family = ? AND key = ?`,
		string(c), family, key)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", c, key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s/%s: %w", c, key, ErrNotFound)
	}
	return nil
}

func (t *sqliteTx) AppendOutbox(ctx context.Context, ev OutboxEvent) error {
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO outbox (event_type, family, aggregate_key, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		ev.Type, ev.Family, ev.AggregateKey, string(ev.Payload), createdAt)
	if err != nil {
		return fmt.Errorf("append outbox %s: %w", ev.Type, err)
	}
	return nil
}
