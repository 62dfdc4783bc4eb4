// Package database owns the PostgreSQL connection pool and schema.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// Schema is the PostgreSQL DDL. Every statement is idempotent so it can run
// on every start.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	name TEXT NOT NULL,
	size BIGINT NOT NULL DEFAULT 0,
	content_type TEXT NOT NULL DEFAULT '',
	object_key TEXT NOT NULL DEFAULT '',
	content_hash TEXT,
	hashed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_owner_corpus
	ON documents(owner_id, created_at DESC, id) WHERE content_hash IS NOT NULL;

CREATE TABLE IF NOT EXISTS suppressions (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	hash_a TEXT NOT NULL,
	hash_b TEXT NOT NULL,
	label_a TEXT NOT NULL DEFAULT '',
	label_b TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_suppressions_owner_pair
	ON suppressions(owner_id, LEAST(hash_a, hash_b), GREATEST(hash_a, hash_b));

CREATE TABLE IF NOT EXISTS relationships (
	id TEXT PRIMARY KEY,
	source_document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	duplicate_document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	similarity_percentage INTEGER NOT NULL CHECK (similarity_percentage BETWEEN 0 AND 100),
	status TEXT NOT NULL CHECK (status IN ('exact', 'similar', 'reviewed', 'dismissed')),
	reviewed_by TEXT,
	reviewed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (source_document_id, duplicate_document_id)
);
CREATE INDEX IF NOT EXISTS idx_relationships_duplicate ON relationships(duplicate_document_id);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	action TEXT NOT NULL,
	subject_document_id TEXT NOT NULL DEFAULT '',
	payload JSONB,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_owner ON events(owner_id, created_at);`

// EnsureSchema creates the tables if needed. Having the migration in code
// keeps docker-compose able to bootstrap everything.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
