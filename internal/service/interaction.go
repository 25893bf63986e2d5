package service

import (
	"math"
	"time"

	"github.com/google/uuid"

	"affect-core/internal/config"
	"affect-core/internal/domain"
)

// Deltas menores a este umbral se descartan antes de aplicar.
const minAppliedDelta = 1e-9

// InteractionHandler aplica eventos validados sobre el estado: tabla
// estatica de deltas, amortiguacion por estimulos repetidos y amplificacion
// por momentum. Solo el scheduler lo invoca; no es seguro para uso
// concurrente por si mismo.
type InteractionHandler struct {
	params  config.AffectParams
	history []domain.EventKind
}

func NewInteractionHandler(params config.AffectParams) *InteractionHandler {
	return &InteractionHandler{params: params}
}

// DampeningFactor calcula el multiplicador para el evento entrante segun
// cuantos eventos consecutivos del mismo kind lo preceden en la ventana.
// Garantiza un piso de efecto (default 50%).
func (h *InteractionHandler) DampeningFactor(kind domain.EventKind) float64 {
	consecutive := 0
	for i := len(h.history) - 1; i >= 0; i-- {
		if h.history[i] != kind {
			break
		}
		consecutive++
	}
	if consecutive == 0 {
		return 1.0
	}
	factor := 1.0 - h.params.DampeningSlope*float64(consecutive)
	if factor < h.params.DampeningFloor {
		factor = h.params.DampeningFloor
	}
	return factor
}

// Apply muta el estado con el evento y devuelve el registro de auditoria.
// Orden observable: amortiguacion, amplificacion por momentum, ApplyDelta en
// el orden canonico de ejes, registro.
func (h *InteractionHandler) Apply(state *domain.EmotionState, ev domain.InteractionEvent, at time.Time) domain.InteractionRecord {
	row := h.params.EventDeltas[string(ev.Kind)]
	factor := h.DampeningFactor(ev.Kind)

	before := state.Snapshot()
	overflow := make(map[domain.Dimension]float64)

	for _, d := range domain.Dimensions {
		nominal, ok := row.Deltas[string(d)]
		if !ok {
			continue
		}
		delta := nominal * factor
		// Emociones con momentum amplifican nuevos estimulos sobre su eje.
		if m := state.Momentum(d); m > 0 {
			delta *= 1 + h.params.MomentumAmplification*math.Min(m, 1.0)
		}
		if math.Abs(delta) < minAppliedDelta {
			continue
		}
		_, over := state.ApplyDelta(d, delta)
		if over > 0 {
			overflow[d] = over
		}
	}
	state.Touch(at)

	h.history = append(h.history, ev.Kind)
	if len(h.history) > h.params.DampeningWindow {
		h.history = h.history[len(h.history)-h.params.DampeningWindow:]
	}

	return domain.InteractionRecord{
		ID:         uuid.New(),
		Kind:       ev.Kind,
		Instant:    at,
		Transport:  ev.Transport,
		Before:     before,
		After:      state.Snapshot(),
		Overflow:   overflow,
		Confidence: row.Confidence,
		Context:    ev.Metadata,
	}
}

// ResetHistory limpia la ventana de amortiguacion. Usado al restaurar.
func (h *InteractionHandler) ResetHistory() {
	h.history = nil
}
