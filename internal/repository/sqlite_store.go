package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	generation INTEGER PRIMARY KEY AUTOINCREMENT,
	instant    TIMESTAMP NOT NULL UNIQUE,
	kind       TEXT NOT NULL,
	state_blob BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_kind ON snapshots (kind);
CREATE INDEX IF NOT EXISTS idx_snapshots_instant ON snapshots (instant);

CREATE TABLE IF NOT EXISTS interactions (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	id            TEXT NOT NULL UNIQUE,
	instant       TIMESTAMP NOT NULL,
	kind          TEXT NOT NULL,
	transport     TEXT NOT NULL,
	before_blob   BLOB NOT NULL,
	after_blob    BLOB NOT NULL,
	overflow_blob BLOB,
	confidence    REAL NOT NULL,
	context_blob  BLOB
);
CREATE INDEX IF NOT EXISTS idx_interactions_instant ON interactions (instant);
CREATE INDEX IF NOT EXISTS idx_interactions_kind ON interactions (kind);

CREATE TABLE IF NOT EXISTS autonomy_events (
	id         TEXT PRIMARY KEY,
	instant    TIMESTAMP NOT NULL,
	trigger_name TEXT NOT NULL,
	state_blob BLOB,
	delivered  INTEGER NOT NULL,
	transport  TEXT
);
CREATE INDEX IF NOT EXISTS idx_autonomy_instant ON autonomy_events (instant);
`

// SQLiteStore implementa AffectStore sobre un archivo SQLite embebido.
// Es el backend por defecto: el nucleo es un servicio local y no necesita
// una base externa para sobrevivir reinicios.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore abre (o crea) el archivo, aplica el schema y corre el
// chequeo de integridad. Un chequeo fallido devuelve ErrCorruptStore junto
// con el store abierto, para que la capa superior intente la caminata de
// recuperacion leyendo lo que aun deserializa.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// Un solo escritor serializado detras del scheduler.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.CheckIntegrity(context.Background()); err != nil {
		return s, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) CheckIntegrity(ctx context.Context) error {
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	if !strings.EqualFold(result, "ok") {
		return fmt.Errorf("%w: %s", ErrCorruptStore, result)
	}
	return nil
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, instant time.Time, kind string, blob []byte) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (instant, kind, state_blob) VALUES (?, ?, ?)`,
		instant.UTC(), kind, blob,
	)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context) (SnapshotRow, bool, error) {
	return s.scanSnapshot(s.db.QueryRowContext(ctx,
		`SELECT generation, instant, kind, state_blob FROM snapshots ORDER BY generation DESC LIMIT 1`,
	))
}

func (s *SQLiteStore) LatestSnapshotByKind(ctx context.Context, kind string) (SnapshotRow, bool, error) {
	return s.scanSnapshot(s.db.QueryRowContext(ctx,
		`SELECT generation, instant, kind, state_blob FROM snapshots WHERE kind = ? ORDER BY generation DESC LIMIT 1`,
		kind,
	))
}

func (s *SQLiteStore) scanSnapshot(row *sql.Row) (SnapshotRow, bool, error) {
	var snap SnapshotRow
	err := row.Scan(&snap.Generation, &snap.Instant, &snap.Kind, &snap.Blob)
	if err == sql.ErrNoRows {
		return SnapshotRow{}, false, nil
	}
	if err != nil {
		return SnapshotRow{}, false, fmt.Errorf("scan snapshot: %w", err)
	}
	snap.Instant = snap.Instant.UTC()
	return snap, true, nil
}

func (s *SQLiteStore) SnapshotsByKindDesc(ctx context.Context, kind string, limit int) ([]SnapshotRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT generation, instant, kind, state_blob FROM snapshots WHERE kind = ? ORDER BY generation DESC LIMIT ?`,
		kind, limit,
	)
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

func (s *SQLiteStore) AppendInteraction(ctx context.Context, row InteractionRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO interactions (id, instant, kind, transport, before_blob, after_blob, overflow_blob, confidence, context_blob)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.Instant.UTC(), row.Kind, row.Transport,
		row.BeforeBlob, row.AfterBlob, row.OverflowBlob, row.Confidence, row.ContextBlob,
	)
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListInteractionsDesc(ctx context.Context, limit int) ([]InteractionRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, instant, kind, transport, before_blob, after_blob, overflow_blob, confidence, context_blob
		 FROM interactions ORDER BY seq DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	defer rows.Close()

	var out []InteractionRow
	for rows.Next() {
		var r InteractionRow
		var overflow, contextBlob []byte
		if err := rows.Scan(&r.Seq, &r.ID, &r.Instant, &r.Kind, &r.Transport,
			&r.BeforeBlob, &r.AfterBlob, &overflow, &r.Confidence, &contextBlob); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		r.Instant = r.Instant.UTC()
		r.OverflowBlob = overflow
		r.ContextBlob = contextBlob
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendAutonomyEvent(ctx context.Context, row AutonomyRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO autonomy_events (id, instant, trigger_name, state_blob, delivered, transport)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		row.ID, row.Instant.UTC(), row.Trigger, row.StateBlob, row.Delivered, row.Transport,
	)
	if err != nil {
		return fmt.Errorf("insert autonomy event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
