package service

import (
	"math"
	"strings"

	"affect-core/internal/config"
	"affect-core/internal/domain"
)

// Modulator convierte un snapshot emocional mas contexto situacional en
// parametros de respuesta acotados y una linea opcional de autoconciencia.
// Es una funcion pura sobre snapshots; nunca muta estado.
type Modulator struct {
	params config.AffectParams
}

func NewModulator(params config.AffectParams) *Modulator {
	return &Modulator{params: params}
}

// Baseline devuelve los parametros neutros configurados.
func (m *Modulator) Baseline() domain.ModulationParameters {
	var p domain.ModulationParameters
	for _, f := range domain.ModFields {
		p.SetField(f, m.params.Modulation.Baseline[string(f)])
	}
	return p
}

// IsSeriousContext aplica la compuerta situacional: seriedad forzada o un
// token del vocabulario serio en el tema. La compuerta es innegociable y
// anula toda modulacion emocional.
func (m *Modulator) IsSeriousContext(sctx domain.SituationalContext) bool {
	if sctx.ForceSerious {
		return true
	}
	topic := strings.ToLower(sctx.Topic)
	if topic == "" {
		return false
	}
	for _, token := range strings.FieldsFunc(topic, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '\'')
	}) {
		for _, serious := range m.params.SeriousVocabulary {
			if token == serious {
				return true
			}
		}
	}
	return false
}

// Modulate produce los parametros de respuesta para el snapshot dado.
// La segunda salida es la linea de autoconciencia, vacia si no corresponde.
// Un estado perfectamente neutro devuelve exactamente el baseline.
func (m *Modulator) Modulate(state domain.EmotionState, sctx domain.SituationalContext) (domain.ModulationParameters, string) {
	baseline := m.Baseline()
	if m.IsSeriousContext(sctx) {
		return baseline, ""
	}

	out := baseline
	for _, f := range domain.ModFields {
		v := baseline.Field(f)
		for _, d := range domain.Dimensions {
			row, ok := m.params.Modulation.Rows[string(d)]
			if !ok {
				continue
			}
			delta, ok := row[string(f)]
			if !ok {
				continue
			}
			// Peso por desviacion: |v_d - 0.5| * 2 en [0,1].
			w := state.Deviation(d) * 2
			v += w * delta
		}
		out.SetField(f, v)
	}

	out.Tones = m.toneFlags(state)
	return out, m.selfAwarenessLine(state)
}

func (m *Modulator) toneFlags(state domain.EmotionState) domain.ToneFlags {
	var flags domain.ToneFlags
	set := func(name string, on bool) {
		switch name {
		case "seeking":
			flags.Seeking = on
		case "tender":
			flags.Tender = on
		case "guarded":
			flags.Guarded = on
		case "deflecting":
			flags.Deflecting = on
		}
	}
	for name, th := range m.params.Modulation.ToneFlags {
		signed := state.Value(domain.Dimension(th.Dimension)) - domain.NeutralMidpoint
		if th.Above {
			set(name, signed > th.Threshold)
		} else {
			set(name, signed < -th.Threshold)
		}
	}
	return flags
}

// selfAwarenessLine busca la plantilla del eje dominante. Es un lookup puro:
// el modulador nunca redacta texto nuevo.
func (m *Modulator) selfAwarenessLine(state domain.EmotionState) string {
	dominant := state.DominantEmotions(1)
	if len(dominant) == 0 {
		return ""
	}
	d := dominant[0]
	if state.Deviation(d) < m.params.Modulation.AwarenessFloor {
		return ""
	}
	tpl, ok := m.params.Modulation.SelfAwareness[string(d)]
	if !ok {
		return ""
	}
	if state.Value(d) >= domain.NeutralMidpoint {
		return tpl.High
	}
	return tpl.Low
}

// Validate informa, por campo, si el parametro cae dentro de la banda de
// varianza respecto del baseline. Solo diagnostico: nunca rechaza salida.
func (m *Modulator) Validate(p domain.ModulationParameters) map[domain.ModField]bool {
	baseline := m.Baseline()
	out := make(map[domain.ModField]bool, len(domain.ModFields))
	for _, f := range domain.ModFields {
		b := baseline.Field(f)
		v := p.Field(f)
		if b == 0 {
			out[f] = math.Abs(v) < minAppliedDelta
			continue
		}
		out[f] = v >= m.params.VarianceLow*b && v <= m.params.VarianceHigh*b
	}
	return out
}
