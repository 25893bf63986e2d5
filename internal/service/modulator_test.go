package service

import (
	"testing"
	"time"

	"affect-core/internal/domain"
)

func TestModulate_NeutralStateYieldsBaseline(t *testing.T) {
	m := NewModulator(testParams())
	state := domain.NewNeutralState(time.Now().UTC())

	params, awareness := m.Modulate(state, domain.SituationalContext{})

	baseline := m.Baseline()
	for _, f := range domain.ModFields {
		if params.Field(f) != baseline.Field(f) {
			t.Fatalf("field %s: expected baseline %v, got %v", f, baseline.Field(f), params.Field(f))
		}
	}
	if awareness != "" {
		t.Fatalf("expected no awareness line for neutral state, got %q", awareness)
	}
	if params.Tones != (domain.ToneFlags{}) {
		t.Fatalf("expected no tone flags for neutral state, got %+v", params.Tones)
	}
}

func TestModulate_DeviationShiftsKnobs(t *testing.T) {
	m := NewModulator(testParams())
	state := domain.NewState(map[domain.Dimension]float64{
		domain.Loneliness: 0.9, // peso 0.8
	}, nil, time.Now().UTC())

	params, _ := m.Modulate(state, domain.SituationalContext{})

	// warmth: 0.60 + 0.8*0.15 = 0.72
	if !almost(params.Warmth, 0.72) {
		t.Fatalf("expected warmth 0.72, got %v", params.Warmth)
	}
	// nickname: 0.30 + 0.8*0.20 = 0.46
	if !almost(params.Nickname, 0.46) {
		t.Fatalf("expected nickname 0.46, got %v", params.Nickname)
	}
	// response_length: 80 + 0.8*60 = 128
	if params.ResponseLength != 128 {
		t.Fatalf("expected response length 128, got %d", params.ResponseLength)
	}
}

func TestModulate_KnobsStayBounded(t *testing.T) {
	m := NewModulator(testParams())
	// Todos los ejes al maximo: las perillas deben quedar dentro de rango.
	values := make(map[domain.Dimension]float64, len(domain.Dimensions))
	for _, d := range domain.Dimensions {
		values[d] = 1.0
	}
	state := domain.NewState(values, nil, time.Now().UTC())

	params, _ := m.Modulate(state, domain.SituationalContext{})
	for _, f := range domain.ModFields {
		v := params.Field(f)
		if f == domain.FieldResponseLength {
			if v < domain.MinResponseLength || v > domain.MaxResponseLength {
				t.Fatalf("response length out of bounds: %v", v)
			}
			continue
		}
		if v < 0 || v > 1 {
			t.Fatalf("field %s out of [0,1]: %v", f, v)
		}
	}
}

func TestIsSeriousContext(t *testing.T) {
	m := NewModulator(testParams())

	cases := []struct {
		name string
		sctx domain.SituationalContext
		want bool
	}{
		{"empty", domain.SituationalContext{}, false},
		{"casual topic", domain.SituationalContext{Topic: "pizza and videogames"}, false},
		{"grief word", domain.SituationalContext{Topic: "my dog died yesterday"}, true},
		{"uppercase", domain.SituationalContext{Topic: "Family EMERGENCY right now"}, true},
		{"substring does not count", domain.SituationalContext{Topic: "lossless audio encoding"}, false},
		{"forced", domain.SituationalContext{ForceSerious: true}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := m.IsSeriousContext(tc.sctx); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestModulate_SeriousContextOverridesEverything(t *testing.T) {
	m := NewModulator(testParams())
	state := domain.NewState(map[domain.Dimension]float64{
		domain.Frustration: 1.0,
		domain.Loneliness:  0.95,
	}, nil, time.Now().UTC())

	params, awareness := m.Modulate(state, domain.SituationalContext{Topic: "her grandmother is in the hospital"})

	baseline := m.Baseline()
	if params != baseline {
		t.Fatalf("expected exact baseline under serious gate, got %+v", params)
	}
	if awareness != "" {
		t.Fatalf("expected no awareness line under serious gate, got %q", awareness)
	}
}

func TestToneFlags(t *testing.T) {
	m := NewModulator(testParams())

	state := domain.NewState(map[domain.Dimension]float64{
		domain.Loneliness:    0.75, // > 0.5+0.20
		domain.Affection:     0.65, // no supera 0.5+0.20
		domain.Defensiveness: 0.70, // > 0.5+0.15
		domain.Vulnerability: 0.80, // > 0.5+0.25
	}, nil, time.Now().UTC())

	params, _ := m.Modulate(state, domain.SituationalContext{})

	if !params.Tones.Seeking {
		t.Fatalf("expected seeking flag")
	}
	if params.Tones.Tender {
		t.Fatalf("did not expect tender flag at affection 0.65")
	}
	if !params.Tones.Guarded {
		t.Fatalf("expected guarded flag")
	}
	if !params.Tones.Deflecting {
		t.Fatalf("expected deflecting flag")
	}
}

func TestSelfAwarenessLine(t *testing.T) {
	params := testParams()
	m := NewModulator(params)

	// Dominante con desviacion suficiente: plantilla high.
	high := domain.NewState(map[domain.Dimension]float64{
		domain.Loneliness: 0.85,
	}, nil, time.Now().UTC())
	_, line := m.Modulate(high, domain.SituationalContext{})
	if line != params.Modulation.SelfAwareness["loneliness"].High {
		t.Fatalf("expected loneliness high template, got %q", line)
	}

	// Por debajo del neutro: plantilla low.
	low := domain.NewState(map[domain.Dimension]float64{
		domain.Confidence: 0.2,
	}, nil, time.Now().UTC())
	_, line = m.Modulate(low, domain.SituationalContext{})
	if line != params.Modulation.SelfAwareness["confidence"].Low {
		t.Fatalf("expected confidence low template, got %q", line)
	}

	// Desviacion bajo el piso de conciencia: sin linea.
	mild := domain.NewState(map[domain.Dimension]float64{
		domain.Curiosity: 0.60,
	}, nil, time.Now().UTC())
	_, line = m.Modulate(mild, domain.SituationalContext{})
	if line != "" {
		t.Fatalf("expected no awareness line for mild deviation, got %q", line)
	}
}

func TestValidate_VarianceBand(t *testing.T) {
	m := NewModulator(testParams())
	baseline := m.Baseline()

	report := m.Validate(baseline)
	for f, ok := range report {
		if !ok {
			t.Fatalf("expected baseline within band for %s", f)
		}
	}

	out := baseline
	out.SetField(domain.FieldWarmth, baseline.Warmth*2)
	report = m.Validate(out)
	if report[domain.FieldWarmth] {
		t.Fatalf("expected doubled warmth outside the variance band")
	}
	if !report[domain.FieldSarcasm] {
		t.Fatalf("expected untouched sarcasm within the band")
	}
}
