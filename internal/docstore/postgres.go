package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// postgresSchema mirrors the SQLite documents table with a JSONB body.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id         TEXT NOT NULL,
		body       JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (collection, id)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_twin_name
		ON documents ((body->>'name')) WHERE collection = 'twins'`,
	`CREATE INDEX IF NOT EXISTS idx_documents_body ON documents USING GIN (body jsonb_path_ops)`,
}

// PostgresStore keeps documents in a JSONB table. Array mutations lock
// the row with SELECT ... FOR UPDATE.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// ConnectPostgres opens a pool, verifies it and ensures the schema.
func ConnectPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the documents table and indexes if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring postgres schema: %w", err)
		}
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, collection, id string, out any) error {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT body FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying document: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}
	return nil
}

// Query implements Store. Filters become a JSONB containment document;
// ElemMatch conditions become single-element arrays of partial objects.
func (s *PostgresStore) Query(ctx context.Context, collection string, filter Filter, out any) error {
	if err := validateFilter(filter); err != nil {
		return err
	}

	contains, err := json.Marshal(containment(filter))
	if err != nil {
		return fmt.Errorf("encoding filter: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT body FROM documents WHERE collection = $1 AND body @> $2::jsonb ORDER BY id`,
		collection, string(contains),
	)
	if err != nil {
		return fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var raws [][]byte
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return fmt.Errorf("scanning document: %w", err)
		}
		raws = append(raws, body)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating documents: %w", err)
	}

	return decodeList(raws, out)
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, collection, id string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (collection, id, body) VALUES ($1, $2, $3::jsonb)`,
		collection, id, string(body),
	)
	if isPostgresConflict(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

// Update implements Store.
func (s *PostgresStore) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	_, err := s.mutateRaw(ctx, collection, id, func(body []byte) ([]byte, bool, error) {
		merged, err := applyMergePatch(body, patch)
		return merged, true, err
	})
	return err
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// mutateRaw locks the row, transforms its body and writes it back.
func (s *PostgresStore) mutateRaw(ctx context.Context, collection, id string, fn func([]byte) ([]byte, bool, error)) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var body []byte
	err = tx.QueryRow(ctx,
		`SELECT body FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`,
		collection, id,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("querying document: %w", err)
	}

	updated, changed, err := fn(body)
	if err != nil {
		return false, err
	}
	if changed {
		_, err = tx.Exec(ctx,
			`UPDATE documents SET body = $1::jsonb, updated_at = now() WHERE collection = $2 AND id = $3`,
			string(updated), collection, id,
		)
		if isPostgresConflict(err) {
			return false, ErrConflict
		}
		if err != nil {
			return false, fmt.Errorf("updating document: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}
	return changed, nil
}

func (s *PostgresStore) mutate(ctx context.Context, collection, id string, fn func(Document) (bool, error)) (bool, error) {
	return s.mutateRaw(ctx, collection, id, func(body []byte) ([]byte, bool, error) {
		doc, err := parseDocument(body)
		if err != nil {
			return nil, false, err
		}
		changed, err := fn(doc)
		if err != nil || !changed {
			return nil, false, err
		}
		updated, err := json.Marshal(doc)
		if err != nil {
			return nil, false, fmt.Errorf("encoding document: %w", err)
		}
		return updated, true, nil
	})
}

// PushCapped implements Store.
func (s *PostgresStore) PushCapped(ctx context.Context, collection, id, field string, value any, limit int) error {
	_, err := s.mutate(ctx, collection, id, func(doc Document) (bool, error) {
		return true, pushCapped(doc, field, value, limit)
	})
	return err
}

// AddToSet implements Store.
func (s *PostgresStore) AddToSet(ctx context.Context, collection, id, field string, value any) (bool, error) {
	return s.mutate(ctx, collection, id, func(doc Document) (bool, error) {
		return addToSet(doc, field, value)
	})
}

// Pull implements Store.
func (s *PostgresStore) Pull(ctx context.Context, collection, id, field string, match any) (bool, error) {
	return s.mutate(ctx, collection, id, func(doc Document) (bool, error) {
		return pull(doc, field, match)
	})
}

// HealthCheck implements Store.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func isPostgresConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
