package repository

import (
	"context"
	"errors"
	"time"
)

// ErrCorruptStore indica que el chequeo de integridad al abrir fallo.
// El caller inicia la caminata de recuperacion sobre snapshots periodicos.
var ErrCorruptStore = errors.New("affect store failed integrity check")

// SnapshotRow es la fila cruda de la relacion snapshots. El blob se decodifica
// arriba (service) para que la caminata de recuperacion pueda saltear filas
// que no deserializan.
type SnapshotRow struct {
	Generation int64
	Instant    time.Time
	Kind       string
	Blob       []byte
}

// InteractionRow es la fila append-only de la relacion interactions. Seq lo
// asigna el store en orden de commit; ID es un identificador de correlacion
// y no ordena nada.
type InteractionRow struct {
	Seq          int64
	ID           string
	Instant      time.Time
	Kind         string
	Transport    string
	BeforeBlob   []byte
	AfterBlob    []byte
	OverflowBlob []byte
	Confidence   float64
	ContextBlob  []byte
}

// AutonomyRow es la fila append-only de la relacion autonomy_events.
type AutonomyRow struct {
	ID        string
	Instant   time.Time
	Trigger   string
	StateBlob []byte
	Delivered bool
	Transport string
}

// AffectStore es el store durable de la evolucion emocional: tres relaciones
// (snapshots, interactions, autonomy_events), las dos ultimas append-only.
// Un solo escritor (el worker de persistencia detras del scheduler) lo usa;
// no se requiere disciplina de locks adicional.
type AffectStore interface {
	SaveSnapshot(ctx context.Context, instant time.Time, kind string, blob []byte) (generation int64, err error)
	LatestSnapshot(ctx context.Context) (SnapshotRow, bool, error)
	LatestSnapshotByKind(ctx context.Context, kind string) (SnapshotRow, bool, error)
	SnapshotsByKindDesc(ctx context.Context, kind string, limit int) ([]SnapshotRow, error)

	AppendInteraction(ctx context.Context, row InteractionRow) error
	ListInteractionsDesc(ctx context.Context, limit int) ([]InteractionRow, error)

	AppendAutonomyEvent(ctx context.Context, row AutonomyRow) error

	CheckIntegrity(ctx context.Context) error
	Close() error
}
