package transport

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ConsoleTransport escribe los mensajes en el log local. Siempre disponible;
// es el transporte de desarrollo y el ultimo recurso de entrega.
type ConsoleTransport struct {
	logger *zap.Logger
}

func NewConsoleTransport(logger *zap.Logger) *ConsoleTransport {
	return &ConsoleTransport{logger: logger}
}

func (t *ConsoleTransport) Name() string { return "console" }

func (t *ConsoleTransport) Ranking() int { return 0 }

func (t *ConsoleTransport) Available() bool { return true }

func (t *ConsoleTransport) Deliver(_ context.Context, payload Payload) (Receipt, error) {
	t.logger.Info("companion says",
		zap.String("text", payload.Text),
		zap.Int("response_length", payload.Params.ResponseLength),
		zap.Bool("tender", payload.Params.Tones.Tender),
		zap.Bool("seeking", payload.Params.Tones.Seeking),
	)
	return Receipt{Delivered: true, Instant: time.Now().UTC()}, nil
}
