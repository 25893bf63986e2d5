package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// WebhookTransport entrega el payload como POST JSON a un endpoint externo
// (bridge de Discord, app movil, etc). La cabecera de idempotencia permite
// al receptor descartar duplicados dentro de la ventana de entrega.
type WebhookTransport struct {
	url    string
	client *http.Client
}

func NewWebhookTransport(url string, timeout time.Duration) *WebhookTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookTransport{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (t *WebhookTransport) Name() string { return "webhook" }

func (t *WebhookTransport) Ranking() int { return 10 }

func (t *WebhookTransport) Available() bool { return t.url != "" }

func (t *WebhookTransport) Deliver(ctx context.Context, payload Payload) (Receipt, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := t.client.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Receipt{Delivered: false, Instant: time.Now().UTC()},
			fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return Receipt{Delivered: true, Instant: time.Now().UTC()}, nil
}
