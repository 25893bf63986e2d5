package service

import (
	"time"

	"affect-core/internal/config"
	"affect-core/internal/domain"
)

// DecayEngine avanza un EmotionState por una duracion real. Es puro: recibe
// un snapshot y devuelve el estado resultante sin tocar el original. El
// scheduler lo invoca por tick y en bloque durante el catch-up offline.
type DecayEngine struct {
	params config.AffectParams
}

func NewDecayEngine(params config.AffectParams) *DecayEngine {
	return &DecayEngine{params: params}
}

// DecayResult es el estado avanzado mas los marcadores del calculo.
// Saturated indica que dt supero el tope de saturacion y el excedente se
// descarto; Persistence lo registra como saturated_catchup.
type DecayResult struct {
	State     domain.EmotionState
	Steps     int
	Saturated bool
}

// Advance aplica decaimiento hacia el punto neutro durante dt, dividido en
// pasos enteros de DecayStep mas una fraccion residual proporcional.
// lastInteraction marca desde cuando corre el reloj de idle drift.
func (e *DecayEngine) Advance(state domain.EmotionState, dt time.Duration, lastInteraction time.Time, now time.Time) DecayResult {
	out := state.Snapshot()
	if dt <= 0 {
		return DecayResult{State: out}
	}

	saturated := false
	if limit := e.params.SaturationCap(); dt > limit {
		dt = limit
		saturated = true
	}

	step := e.params.DecayStep()
	wholeSteps := int(dt / step)
	residual := float64(dt%step) / float64(step)

	// idleOffset simula cuanto silencio llevaba acumulado el estado al
	// comenzar el intervalo; crece a medida que avanzamos paso a paso.
	idleOffset := now.Add(-dt).Sub(lastInteraction)
	if idleOffset < 0 {
		idleOffset = 0
	}

	for i := 0; i < wholeSteps; i++ {
		e.applyStep(&out, 1.0, idleOffset)
		idleOffset += step
	}
	if residual > 0 {
		e.applyStep(&out, residual, idleOffset)
	}

	out.Touch(now)
	return DecayResult{State: out, Steps: wholeSteps, Saturated: saturated}
}

// applyStep ejecuta un paso de decaimiento escalado por fraction en [0,1].
func (e *DecayEngine) applyStep(state *domain.EmotionState, fraction float64, idleElapsed time.Duration) {
	for _, d := range domain.Dimensions {
		v := state.Value(d)
		rate := e.params.DecayRates[string(d)]
		// Inercia: emociones extremas decaen a la mitad de velocidad.
		if v >= e.params.InertiaThreshold {
			rate *= e.params.InertiaFactor
		}
		delta := rate * fraction

		switch {
		case v > domain.NeutralMidpoint:
			v -= delta
			if v < domain.NeutralMidpoint {
				v = domain.NeutralMidpoint
			}
		case v < domain.NeutralMidpoint:
			v += delta
			if v > domain.NeutralMidpoint {
				v = domain.NeutralMidpoint
			}
		}
		state.SetAbsolute(d, v)
	}

	if idleElapsed >= e.params.IdleThreshold() {
		stepMinutes := e.params.DecayStep().Minutes() * fraction
		for name, perMinute := range e.params.IdleRatesPerMinute {
			d := domain.Dimension(name)
			state.SetAbsolute(d, state.Value(d)+perMinute*stepMinutes)
		}
	}
}
