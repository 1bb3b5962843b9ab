package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/voxhollow/sibilant/internal/session"
)

// Schema is the SQL DDL for the transcripts table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS transcripts (
    id         TEXT PRIMARY KEY,
    started_at TIMESTAMPTZ NOT NULL,
    ended_at   TIMESTAMPTZ NOT NULL,
    symbols    JSONB NOT NULL DEFAULT '[]',
    text       TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transcripts_ended ON transcripts(ended_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. The symbol
// sequence is serialised as JSONB so records stay self-contained even when
// the vocabulary changes between deployments.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// transcripts table and index if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Save archives a transcript, replacing any previous record with the same ID.
func (s *PostgresStore) Save(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		return fmt.Errorf("store: save: record has no id")
	}
	symbolsJSON, err := json.Marshal(emptySymbols(rec.Symbols))
	if err != nil {
		return fmt.Errorf("store: marshal symbols: %w", err)
	}

	const query = `
		INSERT INTO transcripts (id, started_at, ended_at, symbols, text)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at,
			symbols = EXCLUDED.symbols,
			text = EXCLUDED.text
		RETURNING created_at`

	err = s.db.QueryRow(ctx, query,
		rec.ID, rec.StartedAt, rec.EndedAt, symbolsJSON, rec.Text,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: save %q: %w", rec.ID, err)
	}
	return nil
}

// Get retrieves an archived transcript by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	const query = `
		SELECT id, started_at, ended_at, symbols, text, created_at
		FROM transcripts
		WHERE id = $1`

	var rec Record
	var symbolsJSON []byte

	err := s.db.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.StartedAt, &rec.EndedAt, &symbolsJSON, &rec.Text, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("store: get %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("store: get %q: %w", id, err)
	}
	if err := json.Unmarshal(symbolsJSON, &rec.Symbols); err != nil {
		return nil, fmt.Errorf("store: unmarshal symbols: %w", err)
	}
	return &rec, nil
}

// List returns archived transcripts ordered newest first.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]Record, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		const query = `
			SELECT id, started_at, ended_at, symbols, text, created_at
			FROM transcripts
			ORDER BY ended_at DESC, id
			LIMIT $1`
		rows, err = s.db.Query(ctx, query, limit)
	} else {
		const query = `
			SELECT id, started_at, ended_at, symbols, text, created_at
			FROM transcripts
			ORDER BY ended_at DESC, id`
		rows, err = s.db.Query(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var rec Record
		var symbolsJSON []byte
		if err := rows.Scan(
			&rec.ID, &rec.StartedAt, &rec.EndedAt, &symbolsJSON, &rec.Text, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		if err := json.Unmarshal(symbolsJSON, &rec.Symbols); err != nil {
			return nil, fmt.Errorf("store: unmarshal symbols: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return recs, nil
}

// Delete removes an archived transcript. Deleting a non-existent record is
// not an error.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM transcripts WHERE id = $1`
	_, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("store: delete %q: %w", id, err)
	}
	return nil
}

// emptySymbols returns s if non-nil, otherwise an empty non-nil slice. This
// ensures JSON marshalling produces "[]" instead of "null".
func emptySymbols(s []session.Symbol) []session.Symbol {
	if s == nil {
		return []session.Symbol{}
	}
	return s
}
