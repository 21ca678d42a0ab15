package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/nerrad567/medtwin-core/internal/infrastructure/database"
)

// SQLiteStore keeps documents in the documents table created by the
// medtwin migrations. Array mutations run in BEGIN IMMEDIATE
// transactions on the single-connection pool, which makes each one
// atomic with respect to every other writer.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore wraps an open, migrated database.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func jsonPath(field string) string {
	return "$." + field
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, collection, id string, out any) error {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying document: %w", err)
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}
	return nil
}

// Query implements Store.
func (s *SQLiteStore) Query(ctx context.Context, collection string, filter Filter, out any) error {
	if err := validateFilter(filter); err != nil {
		return err
	}

	query, args, err := buildSQLiteQuery(collection, filter)
	if err != nil {
		return err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var raws [][]byte
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return fmt.Errorf("scanning document: %w", err)
		}
		raws = append(raws, []byte(body))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating documents: %w", err)
	}

	return decodeList(raws, out)
}

// buildSQLiteQuery translates a Filter into json_extract/json_each
// conditions. Values are bound as JSON text and extracted back so
// numbers, strings and booleans compare with SQLite's JSON typing.
func buildSQLiteQuery(collection string, filter Filter) (string, []any, error) {
	var (
		b    strings.Builder
		args = []any{collection}
	)
	b.WriteString(`SELECT body FROM documents WHERE collection = ?`)

	for _, path := range sortedKeys(filter.Eq) {
		value, err := json.Marshal(filter.Eq[path])
		if err != nil {
			return "", nil, fmt.Errorf("encoding filter value: %w", err)
		}
		b.WriteString(` AND json_extract(body, ?) = json_extract(?, '$')`)
		args = append(args, jsonPath(path), string(value))
	}

	for _, path := range sortedKeys(filter.ElemMatch) {
		fields := filter.ElemMatch[path]
		b.WriteString(` AND EXISTS (SELECT 1 FROM json_each(documents.body, ?) AS e WHERE 1 = 1`)
		args = append(args, jsonPath(path))
		for _, key := range sortedKeys(fields) {
			value, err := json.Marshal(fields[key])
			if err != nil {
				return "", nil, fmt.Errorf("encoding filter value: %w", err)
			}
			b.WriteString(` AND json_extract(e.value, ?) = json_extract(?, '$')`)
			args = append(args, jsonPath(key), string(value))
		}
		b.WriteString(`)`)
	}

	b.WriteString(` ORDER BY id`)
	return b.String(), args, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, collection, id string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}

	ts := now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		collection, id, string(body), ts, ts,
	)
	if isSQLiteConflict(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

// Update implements Store using SQLite's RFC 7396 json_patch.
func (s *SQLiteStore) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encoding patch: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET body = json_patch(body, ?), updated_at = ? WHERE collection = ? AND id = ?`,
		string(body), now(), collection, id,
	)
	if isSQLiteConflict(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("updating document: %w", err)
	}
	return requireAffected(result)
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return requireAffected(result)
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// mutate loads, modifies and writes back one document in a single
// transaction. The write is skipped when fn reports no change.
func (s *SQLiteStore) mutate(ctx context.Context, collection, id string, fn func(Document) (bool, error)) (changed bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback() //nolint:errcheck // rollback after failure
		}
	}()

	var body string
	err = tx.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("querying document: %w", err)
	}

	doc, err := parseDocument([]byte(body))
	if err != nil {
		return false, err
	}
	changed, err = fn(doc)
	if err != nil {
		return false, err
	}

	if changed {
		updated, marshalErr := json.Marshal(doc)
		if marshalErr != nil {
			err = fmt.Errorf("encoding document: %w", marshalErr)
			return false, err
		}
		if _, err = tx.ExecContext(ctx,
			`UPDATE documents SET body = ?, updated_at = ? WHERE collection = ? AND id = ?`,
			string(updated), now(), collection, id,
		); err != nil {
			err = fmt.Errorf("updating document: %w", err)
			return false, err
		}
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("committing transaction: %w", err)
		return false, err
	}
	return changed, nil
}

// PushCapped implements Store.
func (s *SQLiteStore) PushCapped(ctx context.Context, collection, id, field string, value any, limit int) error {
	_, err := s.mutate(ctx, collection, id, func(doc Document) (bool, error) {
		return true, pushCapped(doc, field, value, limit)
	})
	return err
}

// AddToSet implements Store.
func (s *SQLiteStore) AddToSet(ctx context.Context, collection, id, field string, value any) (bool, error) {
	return s.mutate(ctx, collection, id, func(doc Document) (bool, error) {
		return addToSet(doc, field, value)
	})
}

// Pull implements Store.
func (s *SQLiteStore) Pull(ctx context.Context, collection, id, field string, match any) (bool, error) {
	return s.mutate(ctx, collection, id, func(doc Document) (bool, error) {
		return pull(doc, field, match)
	})
}

// HealthCheck implements Store.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}

// Close is a no-op; the database is owned by the caller.
func (s *SQLiteStore) Close() error {
	return nil
}

func isSQLiteConflict(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
