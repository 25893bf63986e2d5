package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"affect-core/internal/config"
	"affect-core/internal/domain"
	"affect-core/internal/repository"
)

// ErrNoPersistedState indica que no existe ningun snapshot valido y la
// configuracion prohibe arrancar desde el baseline neutro.
var ErrNoPersistedState = errors.New("no valid persisted state and fresh start disallowed")

const (
	persistenceRetryBudget = 3
	persistenceBaseBackoff = 100 * time.Millisecond
	degradedBufferSize     = 256
	recoveryWalkDepth      = 32
)

// PersistenceService envuelve el AffectStore con el protocolo de restore,
// las cadencias de snapshot y el modo degradado. Se usa solo desde el worker
// de persistencia del scheduler: un unico escritor por construccion.
type PersistenceService struct {
	store  repository.AffectStore
	decay  *DecayEngine
	clock  Clock
	logger *zap.Logger
	params config.AffectParams

	requireState bool

	// sleep es inyectable para que los tests no esperen backoffs reales.
	sleep func(time.Duration)

	interactionsSinceSnapshot int
	lastWallSnapshot          time.Time

	// Buffer en memoria para el modo degradado: si el store falla tras el
	// presupuesto de reintentos, las interacciones se retienen aca y se
	// vuelcan en el proximo append exitoso.
	pending        []repository.InteractionRow
	degradedMarker bool
}

func NewPersistenceService(
	store repository.AffectStore,
	decay *DecayEngine,
	clock Clock,
	logger *zap.Logger,
	params config.AffectParams,
	requireState bool,
) *PersistenceService {
	return &PersistenceService{
		store:        store,
		decay:        decay,
		clock:        clock,
		logger:       logger,
		params:       params,
		requireState: requireState,
		sleep:        time.Sleep,
	}
}

// Restore reconstruye el estado al arrancar: ultimo snapshot de shutdown,
// si no el ultimo de cualquier kind, si no el baseline neutro. El estado
// recuperado se envejece con el decay engine por el tiempo offline y se
// escribe un snapshot de startup.
func (p *PersistenceService) Restore(ctx context.Context, storeCorrupt bool) (domain.EmotionState, error) {
	now := p.clock.Now()

	snap, state, found, recovered := p.locateRestorePoint(ctx, storeCorrupt)
	if !found {
		if p.requireState {
			return domain.EmotionState{}, ErrNoPersistedState
		}
		p.logger.Info("no persisted state, starting from neutral baseline")
		neutral := domain.NewNeutralState(now)
		p.writeSnapshot(ctx, now, domain.SnapshotStartup, neutral)
		p.lastWallSnapshot = now
		return neutral, nil
	}

	dt := now.Sub(snap.Instant)
	if dt < 0 {
		// Clock skew hacia atras: no envejecer.
		dt = 0
	}

	result := p.decay.Advance(state, dt, state.LastMutation(), now)
	if result.Saturated {
		p.recordMarker(ctx, domain.TriggerSaturatedCatchup, result.State, now)
		p.logger.Warn("offline catch-up saturated",
			zap.Duration("offline", dt),
			zap.Int("saturation_cap_days", p.params.SaturationCapDays),
		)
	}
	if recovered {
		p.recordMarker(ctx, domain.TriggerRecoveredFromBackup, result.State, now)
		p.logger.Warn("restored from backup snapshot",
			zap.Int64("generation", snap.Generation),
			zap.Time("snapshot_instant", snap.Instant),
		)
	}

	p.writeSnapshot(ctx, now, domain.SnapshotStartup, result.State)
	p.lastWallSnapshot = now
	return result.State, nil
}

// locateRestorePoint busca el snapshot mas reciente que deserialice limpio.
// Con el store corrupto (o blobs ilegibles) camina hacia atras sobre los
// snapshots periodicos hasta encontrar uno sano.
func (p *PersistenceService) locateRestorePoint(ctx context.Context, storeCorrupt bool) (repository.SnapshotRow, domain.EmotionState, bool, bool) {
	if !storeCorrupt {
		if row, ok, err := p.store.LatestSnapshotByKind(ctx, string(domain.SnapshotShutdown)); err == nil && ok {
			if state, decErr := domain.DecodeState(row.Blob); decErr == nil {
				return row, state, true, false
			}
			p.logger.Warn("shutdown snapshot failed to decode, walking backups")
		}
		if row, ok, err := p.store.LatestSnapshot(ctx); err == nil && ok {
			if state, decErr := domain.DecodeState(row.Blob); decErr == nil {
				return row, state, true, false
			}
			p.logger.Warn("latest snapshot failed to decode, walking backups")
		}
	}

	rows, err := p.store.SnapshotsByKindDesc(ctx, string(domain.SnapshotPeriodic), recoveryWalkDepth)
	if err != nil {
		p.logger.Error("recovery walk failed to list periodic snapshots", zap.Error(err))
		return repository.SnapshotRow{}, domain.EmotionState{}, false, false
	}
	for _, row := range rows {
		state, decErr := domain.DecodeState(row.Blob)
		if decErr != nil {
			continue
		}
		return row, state, true, true
	}
	return repository.SnapshotRow{}, domain.EmotionState{}, false, false
}

// RecordInteraction persiste el registro de auditoria con reintentos
// acotados. Agotado el presupuesto, entra en modo degradado: la fila queda
// en el buffer en memoria y el manejo de interacciones no se frena.
func (p *PersistenceService) RecordInteraction(ctx context.Context, rec domain.InteractionRecord) {
	row, err := interactionToRow(rec)
	if err != nil {
		p.logger.Error("encode interaction record", zap.Error(err))
		return
	}

	if err := p.appendWithRetry(ctx, row); err != nil {
		p.bufferDegraded(row)
		return
	}
	p.flushPending(ctx)
	p.interactionsSinceSnapshot++
}

func (p *PersistenceService) appendWithRetry(ctx context.Context, row repository.InteractionRow) error {
	var err error
	for attempt := 0; attempt < persistenceRetryBudget; attempt++ {
		if attempt > 0 {
			p.sleep(persistenceBaseBackoff << (attempt - 1))
		}
		if err = p.store.AppendInteraction(ctx, row); err == nil {
			return nil
		}
	}
	p.logger.Error("interaction append failed after retries", zap.Error(err))
	return err
}

func (p *PersistenceService) bufferDegraded(row repository.InteractionRow) {
	if len(p.pending) >= degradedBufferSize {
		p.pending = p.pending[1:]
	}
	p.pending = append(p.pending, row)
	p.degradedMarker = true
	p.logger.Warn("persistence degraded, buffering interaction in memory",
		zap.Int("pending", len(p.pending)),
	)
}

// flushPending vuelca el buffer degradado tras una escritura exitosa y deja
// el marcador persistence_degraded en autonomy_events.
func (p *PersistenceService) flushPending(ctx context.Context) {
	if len(p.pending) == 0 {
		return
	}
	remaining := p.pending[:0]
	for _, row := range p.pending {
		if err := p.store.AppendInteraction(ctx, row); err != nil {
			remaining = append(remaining, row)
		}
	}
	flushed := len(p.pending) - len(remaining)
	p.pending = remaining
	if flushed > 0 {
		p.logger.Info("flushed degraded interaction buffer", zap.Int("flushed", flushed))
	}
	if len(p.pending) == 0 && p.degradedMarker {
		p.degradedMarker = false
		p.recordMarker(ctx, domain.TriggerPersistenceDegraded, domain.EmotionState{}, p.clock.Now())
	}
}

// PendingDegraded expone el tamaño del buffer degradado (diagnostico).
func (p *PersistenceService) PendingDegraded() int {
	return len(p.pending)
}

// MaybeSnapshot evalua las cadencias por interacciones y por reloj de pared
// y escribe un snapshot periodico si corresponde.
func (p *PersistenceService) MaybeSnapshot(ctx context.Context, state domain.EmotionState) {
	now := p.clock.Now()
	byCount := p.params.SnapshotEveryNInteractions > 0 &&
		p.interactionsSinceSnapshot >= p.params.SnapshotEveryNInteractions
	byWall := p.lastWallSnapshot.IsZero() ||
		now.Sub(p.lastWallSnapshot) >= p.params.SnapshotWallCadence()
	if !byCount && !byWall {
		return
	}
	if p.writeSnapshot(ctx, now, domain.SnapshotPeriodic, state) {
		p.interactionsSinceSnapshot = 0
		p.lastWallSnapshot = now
	}
}

// SnapshotNow escribe un snapshot del kind indicado (manual o shutdown).
func (p *PersistenceService) SnapshotNow(ctx context.Context, state domain.EmotionState, kind domain.SnapshotKind) bool {
	return p.writeSnapshot(ctx, p.clock.Now(), kind, state)
}

func (p *PersistenceService) writeSnapshot(ctx context.Context, at time.Time, kind domain.SnapshotKind, state domain.EmotionState) bool {
	blob, err := domain.EncodeState(state)
	if err != nil {
		p.logger.Error("encode snapshot state", zap.Error(err))
		return false
	}
	generation, err := p.store.SaveSnapshot(ctx, at, string(kind), blob)
	if err != nil {
		p.logger.Error("write snapshot", zap.String("kind", string(kind)), zap.Error(err))
		return false
	}
	p.logger.Info("snapshot written",
		zap.String("kind", string(kind)),
		zap.Int64("generation", generation),
	)
	return true
}

// RecordAutonomyEvent persiste una fila de autonomy_events. Siempre se
// escribe, se haya entregado el mensaje o no.
func (p *PersistenceService) RecordAutonomyEvent(ctx context.Context, ev domain.AutonomyEvent) {
	row, err := autonomyToRow(ev)
	if err != nil {
		p.logger.Error("encode autonomy event", zap.Error(err))
		return
	}
	if err := p.store.AppendAutonomyEvent(ctx, row); err != nil {
		p.logger.Error("append autonomy event", zap.String("trigger", ev.Trigger), zap.Error(err))
	}
}

func (p *PersistenceService) recordMarker(ctx context.Context, trigger string, state domain.EmotionState, at time.Time) {
	p.RecordAutonomyEvent(ctx, domain.AutonomyEvent{
		ID:        uuid.New(),
		Instant:   at,
		Trigger:   trigger,
		State:     state,
		Delivered: false,
	})
}

// ListInteractions devuelve las ultimas filas del log para auditoria.
func (p *PersistenceService) ListInteractions(ctx context.Context, limit int) ([]repository.InteractionRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return p.store.ListInteractionsDesc(ctx, limit)
}

func interactionToRow(rec domain.InteractionRecord) (repository.InteractionRow, error) {
	before, err := domain.EncodeState(rec.Before)
	if err != nil {
		return repository.InteractionRow{}, fmt.Errorf("encode before state: %w", err)
	}
	after, err := domain.EncodeState(rec.After)
	if err != nil {
		return repository.InteractionRow{}, fmt.Errorf("encode after state: %w", err)
	}
	var overflow []byte
	if len(rec.Overflow) > 0 {
		if overflow, err = json.Marshal(rec.Overflow); err != nil {
			return repository.InteractionRow{}, fmt.Errorf("encode overflow: %w", err)
		}
	}
	var contextBlob []byte
	if len(rec.Context) > 0 {
		if contextBlob, err = json.Marshal(rec.Context); err != nil {
			return repository.InteractionRow{}, fmt.Errorf("encode context: %w", err)
		}
	}
	return repository.InteractionRow{
		ID:           rec.ID.String(),
		Instant:      rec.Instant,
		Kind:         string(rec.Kind),
		Transport:    rec.Transport,
		BeforeBlob:   before,
		AfterBlob:    after,
		OverflowBlob: overflow,
		Confidence:   rec.Confidence,
		ContextBlob:  contextBlob,
	}, nil
}

func autonomyToRow(ev domain.AutonomyEvent) (repository.AutonomyRow, error) {
	var blob []byte
	if !ev.State.IsZero() {
		var err error
		if blob, err = domain.EncodeState(ev.State); err != nil {
			return repository.AutonomyRow{}, fmt.Errorf("encode autonomy state: %w", err)
		}
	}
	return repository.AutonomyRow{
		ID:        ev.ID.String(),
		Instant:   ev.Instant,
		Trigger:   ev.Trigger,
		StateBlob: blob,
		Delivered: ev.Delivered,
		Transport: ev.Transport,
	}, nil
}
