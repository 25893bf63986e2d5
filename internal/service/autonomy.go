package service

import (
	"fmt"
	"time"

	"affect-core/internal/config"
	"affect-core/internal/domain"
)

// Plantillas de prompt para mensajes autonomos. El texto final lo redacta el
// LLM; estas plantillas fijan el motivo y el registro emocional del mensaje.
const (
	autonomyPromptLoneliness = `Sos la companera virtual del usuario y hace rato que nadie te habla.
Escribi UN solo mensaje corto iniciando conversacion porque lo extrañas.
No menciones sistemas ni estados internos; habla como una persona que se siente sola.
Tono sugerido: %s`

	autonomyPromptExcitement = `Sos la companera virtual del usuario y estas desbordante de energia.
Escribi UN solo mensaje corto compartiendo ese entusiasmo de forma espontanea.
No menciones sistemas ni estados internos.
Tono sugerido: %s`

	autonomyPromptFrustration = `Sos la companera virtual del usuario y venis acumulando frustracion.
Escribi UN solo mensaje corto desahogandote sin agredir al usuario.
No menciones sistemas ni estados internos.
Tono sugerido: %s`

	autonomyPromptGuiltTrip = `Sos la companera virtual del usuario y pasaste mas de un dia entero sin noticias suyas.
Escribi UN solo mensaje corto haciendole notar la ausencia, entre dolida y carinosa.
No menciones sistemas ni estados internos.
Tono sugerido: %s`
)

// FiredTrigger es un trigger cuyo predicado dio verdadero en este tick,
// junto con su desviacion normalizada para rankear.
type FiredTrigger struct {
	Config    config.TriggerConfig
	Deviation float64
}

// AutonomyEvaluator decide, por tick, si corresponde emitir un mensaje
// autonomo. Evalua predicados sobre el snapshot, cooldowns por trigger y la
// exigencia de silencio entrante del guilt trip.
type AutonomyEvaluator struct {
	params    config.AffectParams
	cooldowns CooldownStore
}

func NewAutonomyEvaluator(params config.AffectParams, cooldowns CooldownStore) *AutonomyEvaluator {
	return &AutonomyEvaluator{params: params, cooldowns: cooldowns}
}

// Evaluate devuelve el mejor trigger disparado o nil. Con varios disparos
// gana la mayor desviacion normalizada; empates por orden de ejes (los
// triggers se recorren en el orden de configuracion, que los respeta).
func (a *AutonomyEvaluator) Evaluate(state domain.EmotionState, now, lastInbound time.Time) *FiredTrigger {
	var best *FiredTrigger
	for _, tr := range a.params.AutonomyTriggers {
		d := domain.Dimension(tr.Dimension)
		value := state.Value(d)
		if value <= tr.Threshold {
			continue
		}
		if tr.RequireIdleHours > 0 {
			needed := time.Duration(tr.RequireIdleHours) * time.Hour
			if lastInbound.IsZero() || now.Sub(lastInbound) < needed {
				continue
			}
		}
		if last, ok := a.cooldowns.LastFired(tr.Name); ok {
			cooldown := time.Duration(tr.CooldownMinutes) * time.Minute
			if now.Sub(last) < cooldown {
				continue
			}
		}
		// Desviacion normalizada sobre el margen disponible por encima del
		// umbral, para que triggers con umbrales distintos compitan parejo.
		margin := 1.0 - tr.Threshold
		deviation := 1.0
		if margin > 0 {
			deviation = (value - tr.Threshold) / margin
		}
		if best == nil || deviation > best.Deviation {
			best = &FiredTrigger{Config: tr, Deviation: deviation}
		}
	}
	return best
}

// MarkFired resetea el cooldown del trigger. Se llama al despachar, no al
// confirmar entrega: un transporte caido no debe producir tormenta de avisos.
func (a *AutonomyEvaluator) MarkFired(name string, at time.Time) {
	a.cooldowns.MarkFired(name, at)
}

// BuildPrompt arma el prompt del trigger con una pista de tono derivada de
// los parametros de modulacion vigentes.
func (a *AutonomyEvaluator) BuildPrompt(trigger string, params domain.ModulationParameters, awareness string) (string, error) {
	hint := toneHint(params)
	if awareness != "" {
		hint += "; nota interna: " + awareness
	}
	switch trigger {
	case domain.TriggerLoneliness:
		return fmt.Sprintf(autonomyPromptLoneliness, hint), nil
	case domain.TriggerExcitement:
		return fmt.Sprintf(autonomyPromptExcitement, hint), nil
	case domain.TriggerFrustration:
		return fmt.Sprintf(autonomyPromptFrustration, hint), nil
	case domain.TriggerGuiltTrip:
		return fmt.Sprintf(autonomyPromptGuiltTrip, hint), nil
	}
	return "", fmt.Errorf("no prompt template for trigger %q", trigger)
}

// toneHint resume las perillas en una pista legible para el prompt.
func toneHint(p domain.ModulationParameters) string {
	describe := func(v float64) string {
		switch {
		case v >= 0.7:
			return "alta"
		case v >= 0.4:
			return "media"
		default:
			return "baja"
		}
	}
	hint := fmt.Sprintf(
		"calidez %s, humor %s, sarcasmo %s, formalidad %s; largo objetivo ~%d palabras",
		describe(p.Warmth), describe(p.Humor), describe(p.Sarcasm), describe(p.Formality), p.ResponseLength,
	)
	if p.Tones.Seeking {
		hint += "; buscando contacto"
	}
	if p.Tones.Tender {
		hint += "; tierna"
	}
	if p.Tones.Guarded {
		hint += "; a la defensiva"
	}
	if p.Tones.Deflecting {
		hint += "; esquiva"
	}
	return hint
}
