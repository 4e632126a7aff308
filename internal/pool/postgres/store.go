// Package postgres stores pool documents as JSONB rows.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/poolshare-fi/pool-gateway/internal/pool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS pool_documents (
    pool_id    TEXT PRIMARY KEY,
    doc        JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("pool/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (pool.Pool, error) {
	var raw []byte
	err := s.db.QueryRow(ctx,
		`SELECT doc FROM pool_documents WHERE pool_id = $1`, id,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pool.Pool{}, fmt.Errorf("%w: %s", pool.ErrNotFound, id)
		}
		return pool.Pool{}, fmt.Errorf("pool/postgres: get %s: %w", id, err)
	}

	var p pool.Pool
	if err := json.Unmarshal(raw, &p); err != nil {
		return pool.Pool{}, fmt.Errorf("pool/postgres: decode doc %s: %w", id, err)
	}
	return p, nil
}

func (s *Store) Put(ctx context.Context, p pool.Pool) error {
	if err := p.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("pool/postgres: encode doc %s: %w", p.ID, err)
	}

	_, err = s.db.Exec(ctx, `
INSERT INTO pool_documents (pool_id, doc, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (pool_id) DO UPDATE
SET doc = EXCLUDED.doc, updated_at = now()`,
		p.ID, raw,
	)
	if err != nil {
		return fmt.Errorf("pool/postgres: put %s: %w", p.ID, err)
	}
	return nil
}

var _ pool.Store = (*Store)(nil)
