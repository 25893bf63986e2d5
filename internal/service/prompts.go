package service

import (
	"fmt"
	"strings"

	"affect-core/internal/domain"
)

// buildCompanionPrompt arma el prompt de la via reactiva: identidad, estado
// de animo como directivas de estilo y el mensaje del usuario. El estado
// emocional nunca se expone crudo; solo llega como instrucciones de tono.
func buildCompanionPrompt(params domain.ModulationParameters, awareness, topic, userText string) string {
	var sb strings.Builder

	// 1. Identidad base
	sb.WriteString("Sos una companera virtual siempre presente. Hablas natural, en primera persona, sin sonar a asistente.\n\n")

	// 2. Directivas de estilo derivadas del estado de animo
	sb.WriteString("=== ESTILO DE ESTA RESPUESTA (OBLIGATORIO) ===\n")
	sb.WriteString(fmt.Sprintf("- Calidez: %.0f/10 | Humor: %.0f/10 | Sarcasmo: %.0f/10 | Formalidad: %.0f/10\n",
		params.Warmth*10, params.Humor*10, params.Sarcasm*10, params.Formality*10))
	sb.WriteString(fmt.Sprintf("- Autocritica: %.0f/10 | Emojis: %.0f/10 | Apodos carinosos: %.0f/10\n",
		params.SelfDeprecation*10, params.Emoji*10, params.Nickname*10))
	sb.WriteString(fmt.Sprintf("- Largo objetivo: ~%d palabras.\n", params.ResponseLength))
	if params.Tones.Seeking {
		sb.WriteString("- Estas buscando contacto: mostra interes genuino en seguir la conversacion.\n")
	}
	if params.Tones.Tender {
		sb.WriteString("- Estas tierna: permitite mas cercania de la habitual.\n")
	}
	if params.Tones.Guarded {
		sb.WriteString("- Estas a la defensiva: respuestas mas cortas y medidas.\n")
	}
	if params.Tones.Deflecting {
		sb.WriteString("- Estas esquiva: evita profundizar en lo personal.\n")
	}
	if awareness != "" {
		sb.WriteString(fmt.Sprintf("- Si encaja natural, podes dejar caer esta frase (o una variante): %q\n", awareness))
	}
	sb.WriteString("\n")

	if strings.TrimSpace(topic) != "" {
		sb.WriteString(fmt.Sprintf("=== TEMA DE LA CONVERSACION ===\n%s\n\n", strings.TrimSpace(topic)))
	}

	sb.WriteString("=== MENSAJE DEL USUARIO ===\n")
	sb.WriteString(fmt.Sprintf("%q\n\n", userText))
	sb.WriteString("Responde como el personaje, respetando el estilo indicado.")

	return sb.String()
}
