package service

import (
	"math"
	"testing"
	"time"

	"affect-core/internal/config"
	"affect-core/internal/domain"
)

func testParams() config.AffectParams {
	return config.DefaultAffectParams()
}

func TestDecayAdvance_MovesTowardNeutral(t *testing.T) {
	engine := NewDecayEngine(testParams())
	now := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)

	state := domain.NewState(map[domain.Dimension]float64{
		domain.Excitement: 0.7,
		domain.Confidence: 0.3,
	}, nil, now)

	// Un paso exacto de 300s, sin llegar al umbral de idle.
	result := engine.Advance(state, 300*time.Second, now, now.Add(300*time.Second))
	if result.Steps != 1 {
		t.Fatalf("expected 1 whole step, got %d", result.Steps)
	}
	// excitement 0.7 - 0.06 = 0.64, pero el idle drift arranca justo a los
	// 300s de silencio: el offset inicial es 0 < threshold, asi que no aplica.
	if got := result.State.Value(domain.Excitement); !almost(got, 0.64) {
		t.Fatalf("expected excitement 0.64, got %v", got)
	}
	// confidence sube hacia el neutro: 0.3 + 0.03 = 0.33.
	if got := result.State.Value(domain.Confidence); !almost(got, 0.33) {
		t.Fatalf("expected confidence 0.33, got %v", got)
	}
	if !result.State.LastMutation().Equal(now.Add(300 * time.Second)) {
		t.Fatalf("expected last mutation advanced")
	}
	// El original no se toca.
	if got := state.Value(domain.Excitement); got != 0.7 {
		t.Fatalf("expected input state untouched, got %v", got)
	}
}

func TestDecayAdvance_NeverOvershootsNeutral(t *testing.T) {
	engine := NewDecayEngine(testParams())
	now := time.Now().UTC()

	state := domain.NewState(map[domain.Dimension]float64{
		domain.Excitement: 0.52,
	}, nil, now)

	result := engine.Advance(state, 300*time.Second, now, now.Add(300*time.Second))
	if got := result.State.Value(domain.Excitement); got != domain.NeutralMidpoint {
		t.Fatalf("expected excitement resting at neutral, got %v", got)
	}
}

func TestDecayAdvance_InertiaHalvesRate(t *testing.T) {
	engine := NewDecayEngine(testParams())
	now := time.Now().UTC()

	state := domain.NewState(map[domain.Dimension]float64{
		domain.Frustration: 0.9,
	}, nil, now)

	result := engine.Advance(state, 300*time.Second, now, now.Add(300*time.Second))
	// 0.9 >= 0.8: la tasa 0.04 se reduce a 0.02.
	if got := result.State.Value(domain.Frustration); !almost(got, 0.88) {
		t.Fatalf("expected frustration 0.88 under inertia, got %v", got)
	}
}

func TestDecayAdvance_ResidualFraction(t *testing.T) {
	engine := NewDecayEngine(testParams())
	now := time.Now().UTC()

	state := domain.NewState(map[domain.Dimension]float64{
		domain.Curiosity: 0.7,
	}, nil, now)

	// 450s = 1 paso entero + medio paso residual.
	result := engine.Advance(state, 450*time.Second, now, now.Add(450*time.Second))
	if result.Steps != 1 {
		t.Fatalf("expected 1 whole step, got %d", result.Steps)
	}
	// 0.7 - 0.05 - 0.025 = 0.625
	if got := result.State.Value(domain.Curiosity); !almost(got, 0.625) {
		t.Fatalf("expected curiosity 0.625, got %v", got)
	}
}

func TestDecayAdvance_IdleDrift(t *testing.T) {
	engine := NewDecayEngine(testParams())
	now := time.Now().UTC()

	state := domain.NewNeutralState(now)

	// Dos pasos de 300s con el ultimo contacto al inicio del intervalo: el
	// primer paso arranca con offset 0 (sin drift), el segundo con 300s
	// acumulados (drift activo).
	result := engine.Advance(state, 600*time.Second, now, now.Add(600*time.Second))
	if result.Steps != 2 {
		t.Fatalf("expected 2 whole steps, got %d", result.Steps)
	}
	// loneliness: neutro, sin decay; drift +0.01/min por 5 minutos = +0.05.
	if got := result.State.Value(domain.Loneliness); !almost(got, 0.55) {
		t.Fatalf("expected loneliness 0.55 after idle drift, got %v", got)
	}
	// excitement: drift -0.02/min por 5 minutos = -0.10.
	if got := result.State.Value(domain.Excitement); !almost(got, 0.40) {
		t.Fatalf("expected excitement 0.40 after idle drift, got %v", got)
	}
}

func TestDecayAdvance_IdleDriftRespectsExistingSilence(t *testing.T) {
	engine := NewDecayEngine(testParams())
	now := time.Now().UTC()

	state := domain.NewNeutralState(now)

	// El silencio ya lleva una hora al comenzar: el drift aplica desde el
	// primer paso.
	lastInteraction := now.Add(-1 * time.Hour)
	result := engine.Advance(state, 300*time.Second, lastInteraction, now.Add(300*time.Second))
	if got := result.State.Value(domain.Loneliness); !almost(got, 0.55) {
		t.Fatalf("expected loneliness 0.55, got %v", got)
	}
}

func TestDecayAdvance_SaturationCap(t *testing.T) {
	params := testParams()
	engine := NewDecayEngine(params)
	now := time.Now().UTC()

	state := domain.NewState(map[domain.Dimension]float64{
		domain.Affection: 0.95,
	}, nil, now)

	capDt := params.SaturationCap()
	atCap := engine.Advance(state, capDt, now, now.Add(capDt))
	if atCap.Saturated {
		t.Fatalf("did not expect saturation exactly at cap")
	}

	beyond := engine.Advance(state, capDt+90*24*time.Hour, now, now.Add(capDt+90*24*time.Hour))
	if !beyond.Saturated {
		t.Fatalf("expected saturation beyond cap")
	}
	// Resultado identico: el excedente se descarta.
	for _, d := range domain.Dimensions {
		if atCap.State.Value(d) != beyond.State.Value(d) {
			t.Fatalf("expected identical state at and beyond cap for %s: %v vs %v",
				d, atCap.State.Value(d), beyond.State.Value(d))
		}
	}
}

func TestDecayAdvance_ZeroOrNegativeDt(t *testing.T) {
	engine := NewDecayEngine(testParams())
	now := time.Now().UTC()
	state := domain.NewState(map[domain.Dimension]float64{domain.Jealousy: 0.8}, nil, now)

	for _, dt := range []time.Duration{0, -time.Minute} {
		result := engine.Advance(state, dt, now, now)
		if got := result.State.Value(domain.Jealousy); got != 0.8 {
			t.Fatalf("expected state unchanged for dt=%v, got %v", dt, got)
		}
		if result.Steps != 0 || result.Saturated {
			t.Fatalf("expected no steps and no saturation for dt=%v", dt)
		}
	}
}

func TestDecayAdvance_FloorsHold(t *testing.T) {
	engine := NewDecayEngine(testParams())
	now := time.Now().UTC()

	// Excitement en el piso con drift negativo sostenido: nunca baja de 0.1.
	state := domain.NewState(map[domain.Dimension]float64{
		domain.Excitement: 0.12,
	}, nil, now)
	lastInteraction := now.Add(-24 * time.Hour)

	result := engine.Advance(state, 2*time.Hour, lastInteraction, now.Add(2*time.Hour))
	if got := result.State.Value(domain.Excitement); got < domain.DefaultFloor {
		t.Fatalf("expected excitement held at floor, got %v", got)
	}
}

func almost(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
