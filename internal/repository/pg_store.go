package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	generation BIGSERIAL PRIMARY KEY,
	instant    TIMESTAMPTZ NOT NULL UNIQUE,
	kind       TEXT NOT NULL,
	state_blob BYTEA NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_kind ON snapshots (kind);
CREATE INDEX IF NOT EXISTS idx_snapshots_instant ON snapshots (instant);

CREATE TABLE IF NOT EXISTS interactions (
	seq           BIGSERIAL PRIMARY KEY,
	id            UUID NOT NULL UNIQUE,
	instant       TIMESTAMPTZ NOT NULL,
	kind          TEXT NOT NULL,
	transport     TEXT NOT NULL,
	before_blob   BYTEA NOT NULL,
	after_blob    BYTEA NOT NULL,
	overflow_blob BYTEA,
	confidence    DOUBLE PRECISION NOT NULL,
	context_blob  BYTEA
);
CREATE INDEX IF NOT EXISTS idx_interactions_instant ON interactions (instant);
CREATE INDEX IF NOT EXISTS idx_interactions_kind ON interactions (kind);

CREATE TABLE IF NOT EXISTS autonomy_events (
	id         UUID PRIMARY KEY,
	instant    TIMESTAMPTZ NOT NULL,
	trigger_name TEXT NOT NULL,
	state_blob BYTEA,
	delivered  BOOLEAN NOT NULL,
	transport  TEXT
);
CREATE INDEX IF NOT EXISTS idx_autonomy_instant ON autonomy_events (instant);
`

// PgStore implementa AffectStore sobre Postgres. Backend alternativo para
// despliegues que centralizan el historial emocional fuera del host local.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore construye el pool, aplica el schema y verifica conectividad.
func NewPgStore(ctx context.Context, databaseURL string) (*PgStore, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// Configuración razonable para un unico escritor serializado.
	poolCfg.MaxConns = 4
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second
	poolCfg.ConnConfig.ConnectTimeout = 5 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply pg schema: %w", err)
	}
	return &PgStore{pool: pool}, nil
}

// CheckIntegrity en Postgres se reduce a un ping: la integridad fisica del
// archivo es problema del servidor, no del cliente.
func (s *PgStore) CheckIntegrity(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	return nil
}

func (s *PgStore) SaveSnapshot(ctx context.Context, instant time.Time, kind string, blob []byte) (int64, error) {
	const query = `
		INSERT INTO snapshots (instant, kind, state_blob)
		VALUES ($1, $2, $3)
		RETURNING generation
	`
	var generation int64
	if err := s.pool.QueryRow(ctx, query, instant.UTC(), kind, blob).Scan(&generation); err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	return generation, nil
}

func (s *PgStore) LatestSnapshot(ctx context.Context) (SnapshotRow, bool, error) {
	const query = `
		SELECT generation, instant, kind, state_blob
		FROM snapshots
		ORDER BY generation DESC
		LIMIT 1
	`
	return s.scanSnapshot(s.pool.QueryRow(ctx, query))
}

func (s *PgStore) LatestSnapshotByKind(ctx context.Context, kind string) (SnapshotRow, bool, error) {
	const query = `
		SELECT generation, instant, kind, state_blob
		FROM snapshots
		WHERE kind = $1
		ORDER BY generation DESC
		LIMIT 1
	`
	return s.scanSnapshot(s.pool.QueryRow(ctx, query, kind))
}

func (s *PgStore) scanSnapshot(row pgx.Row) (SnapshotRow, bool, error) {
	var snap SnapshotRow
	err := row.Scan(&snap.Generation, &snap.Instant, &snap.Kind, &snap.Blob)
	if err == pgx.ErrNoRows {
		return SnapshotRow{}, false, nil
	}
	if err != nil {
		return SnapshotRow{}, false, fmt.Errorf("scan snapshot: %w", err)
	}
	snap.Instant = snap.Instant.UTC()
	return snap, true, nil
}

func (s *PgStore) SnapshotsByKindDesc(ctx context.Context, kind string, limit int) ([]SnapshotRow, error) {
	const query = `
		SELECT generation, instant, kind, state_blob
		FROM snapshots
		WHERE kind = $1
		ORDER BY generation DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotRow
	for rows.Next() {
		var snap SnapshotRow
		if err := rows.Scan(&snap.Generation, &snap.Instant, &snap.Kind, &snap.Blob); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.Instant = snap.Instant.UTC()
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *PgStore) AppendInteraction(ctx context.Context, row InteractionRow) error {
	const query = `
		INSERT INTO interactions (id, instant, kind, transport, before_blob, after_blob, overflow_blob, confidence, context_blob)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.pool.Exec(ctx, query,
		row.ID, row.Instant.UTC(), row.Kind, row.Transport,
		row.BeforeBlob, row.AfterBlob, row.OverflowBlob, row.Confidence, row.ContextBlob,
	)
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	return nil
}

func (s *PgStore) ListInteractionsDesc(ctx context.Context, limit int) ([]InteractionRow, error) {
	const query = `
		SELECT seq, id, instant, kind, transport, before_blob, after_blob, overflow_blob, confidence, context_blob
		FROM interactions
		ORDER BY seq DESC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	defer rows.Close()

	var out []InteractionRow
	for rows.Next() {
		var r InteractionRow
		if err := rows.Scan(&r.Seq, &r.ID, &r.Instant, &r.Kind, &r.Transport,
			&r.BeforeBlob, &r.AfterBlob, &r.OverflowBlob, &r.Confidence, &r.ContextBlob); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		r.Instant = r.Instant.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PgStore) AppendAutonomyEvent(ctx context.Context, row AutonomyRow) error {
	const query = `
		INSERT INTO autonomy_events (id, instant, trigger_name, state_blob, delivered, transport)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.pool.Exec(ctx, query,
		row.ID, row.Instant.UTC(), row.Trigger, row.StateBlob, row.Delivered, row.Transport,
	)
	if err != nil {
		return fmt.Errorf("insert autonomy event: %w", err)
	}
	return nil
}

func (s *PgStore) Close() error {
	s.pool.Close()
	return nil
}
