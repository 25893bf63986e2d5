package transport

import (
	"context"
	"time"

	"affect-core/internal/domain"
)

// Payload es el mensaje saliente: texto plano mas los parametros de
// modulacion como pistas de tono. El nucleo no formatea por plataforma.
type Payload struct {
	Text   string                      `json:"text"`
	Params domain.ModulationParameters `json:"params"`
}

// Receipt es el resultado de un intento de entrega.
type Receipt struct {
	Delivered bool      `json:"delivered"`
	Instant   time.Time `json:"instant"`
}

// Transport es el contrato saliente hacia una plataforma de entrega.
// Deliver debe ser idempotente ante reintentos dentro de la ventana de
// entrega; el nucleo nunca reintenta un envio autonomo fallido.
type Transport interface {
	Name() string
	// Ranking ordena transportes para la entrega autonoma; mayor gana.
	Ranking() int
	Available() bool
	Deliver(ctx context.Context, payload Payload) (Receipt, error)
}

// Best devuelve el transporte disponible de mayor ranking, o nil.
func Best(transports []Transport) Transport {
	var best Transport
	for _, t := range transports {
		if t == nil || !t.Available() {
			continue
		}
		if best == nil || t.Ranking() > best.Ranking() {
			best = t
		}
	}
	return best
}
