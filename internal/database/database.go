package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN and verifies it
// with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 16
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.MaxConnLifetime = 45 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// schema holds every table the pipeline touches. The players table is owned
// by the tournament system; the CREATE here only covers the columns this
// service reads and writes so a fresh database can run the pipeline.
const schema = `
CREATE SEQUENCE IF NOT EXISTS athlete_id_seq START 1 MAXVALUE 99999 NO CYCLE;

CREATE TABLE IF NOT EXISTS players (
	id BIGSERIAL PRIMARY KEY,
	school_id BIGINT,
	full_name TEXT,
	date_of_birth DATE,
	guardian_name TEXT,
	address TEXT,
	athlete_id TEXT UNIQUE,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_players_school ON players(school_id);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_id BIGINT NOT NULL,
	document_type TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	stored_path TEXT NOT NULL,
	file_size_bytes BIGINT NOT NULL,
	mime_type TEXT NOT NULL,
	uploaded_by TEXT NOT NULL,
	processing_status TEXT NOT NULL,
	ocr_text TEXT,
	extracted_data JSONB,
	ai_analysis JSONB,
	verification_status TEXT,
	error_message TEXT,
	processing_attempts INT NOT NULL DEFAULT 0,
	approved_by TEXT,
	approval_notes TEXT,
	approved_at TIMESTAMPTZ,
	processing_started_at TIMESTAMPTZ,
	processing_completed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(processing_status);
CREATE INDEX IF NOT EXISTS idx_documents_entity ON documents(entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(created_at);

CREATE TABLE IF NOT EXISTS processing_jobs (
	id BIGSERIAL PRIMARY KEY,
	job_type TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	payload JSONB NOT NULL DEFAULT '{}'::jsonb,
	priority INT NOT NULL DEFAULT 5,
	status TEXT NOT NULL,
	progress INT NOT NULL DEFAULT 0,
	error_message TEXT,
	attempts INT NOT NULL DEFAULT 0,
	max_attempts INT NOT NULL DEFAULT 1,
	run_at TIMESTAMPTZ NOT NULL,
	locked_by TEXT,
	heartbeat_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_processing_jobs_active
	ON processing_jobs(entity_type, entity_id, job_type)
	WHERE status IN ('pending', 'processing');
CREATE INDEX IF NOT EXISTS idx_processing_jobs_claim
	ON processing_jobs(job_type, priority, run_at, id)
	WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_processing_jobs_status ON processing_jobs(status, updated_at);

CREATE TABLE IF NOT EXISTS notifications (
	id BIGSERIAL PRIMARY KEY,
	type TEXT NOT NULL,
	title TEXT NOT NULL,
	message TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id BIGINT NOT NULL,
	document_id TEXT,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_entity ON notifications(entity_type, entity_id);`

// EnsureSchema creates the tables, indexes and the athlete id sequence if
// they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
