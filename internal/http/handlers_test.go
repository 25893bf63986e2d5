package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"affect-core/internal/config"
	"affect-core/internal/domain"
	"affect-core/internal/llm"
	"affect-core/internal/repository"
	"affect-core/internal/service"
	"affect-core/internal/transport"
)

type fixture struct {
	router *gin.Engine
	llm    *llm.MockClient
	cancel context.CancelFunc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	params := config.DefaultAffectParams()
	logger := zap.NewNop()
	clock := service.NewSystemClock()

	store, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "affect.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	decay := service.NewDecayEngine(params)
	persistence := service.NewPersistenceService(store, decay, clock, logger, params, false)
	state, err := persistence.Restore(context.Background(), false)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	mockLLM := &llm.MockClient{Response: "hola!"}
	scheduler := service.NewScheduler(
		logger, clock, params,
		service.NewInteractionHandler(params),
		decay,
		service.NewModulator(params),
		persistence,
		service.NewAutonomyEvaluator(params, service.NewMemoryCooldownStore()),
		mockLLM,
		[]transport.Transport{transport.NewConsoleTransport(logger)},
		state,
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		scheduler.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	router := NewRouter(logger, NewAffectHandler(logger, scheduler, persistence))
	return &fixture{router: router, llm: mockLLM, cancel: cancel}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Status     string          `json:"status"`
		Transports map[string]bool `json:"transports"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "ok" || !body.Transports["console"] {
		t.Fatalf("unexpected health body %+v", body)
	}
}

func TestPostEvent(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/events", `{"kind":"positive_message","transport":"http"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body)
	}

	w = f.do(http.MethodPost, "/events", `{"kind":"anger_spiral","transport":"http"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown kind, got %d", w.Code)
	}

	stale := time.Now().UTC().Add(-10 * time.Minute).Format(time.RFC3339)
	w = f.do(http.MethodPost, "/events", `{"kind":"positive_message","transport":"http","instant":"`+stale+`"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for stale instant, got %d", w.Code)
	}

	w = f.do(http.MethodPost, "/events", `{"transport":"http"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing kind, got %d", w.Code)
	}
}

func TestPostMessage(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/message", `{"text":"hola, como andas?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}

	var resp struct {
		Text   string                      `json:"text"`
		Params domain.ModulationParameters `json:"params"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Text != "hola!" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if resp.Params.ResponseLength == 0 {
		t.Fatalf("expected modulation params in response")
	}
	if len(f.llm.Prompts) == 0 {
		t.Fatalf("expected prompt sent to generator")
	}

	w = f.do(http.MethodPost, "/message", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing text, got %d", w.Code)
	}
}

func TestGetState(t *testing.T) {
	f := newFixture(t)

	// Mover el estado con un evento y esperar a que el loop lo procese.
	f.do(http.MethodPost, "/events", `{"kind":"positive_message","transport":"http"}`)

	deadline := time.Now().Add(2 * time.Second)
	var resp struct {
		Values   map[string]float64 `json:"values"`
		Dominant []string           `json:"dominant"`
	}
	for time.Now().Before(deadline) {
		w := f.do(http.MethodGet, "/state", "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode state: %v", err)
		}
		if resp.Values["excitement"] > 0.5 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if len(resp.Values) != len(domain.Dimensions) {
		t.Fatalf("expected %d values, got %d", len(domain.Dimensions), len(resp.Values))
	}
	if resp.Values["excitement"] <= 0.5 {
		t.Fatalf("expected event applied, excitement %v", resp.Values["excitement"])
	}
	if len(resp.Dominant) != 3 {
		t.Fatalf("expected 3 dominant axes, got %v", resp.Dominant)
	}
}

func TestPostSnapshotAndGetInteractions(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/snapshots", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body)
	}

	f.do(http.MethodPost, "/message", `{"text":"hola"}`)

	w = f.do(http.MethodGet, "/interactions?limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Interactions []map[string]any `json:"interactions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode interactions: %v", err)
	}
	if len(resp.Interactions) == 0 {
		t.Fatalf("expected at least one interaction row")
	}
	if resp.Interactions[0]["kind"] != "positive_message" {
		t.Fatalf("unexpected kind %v", resp.Interactions[0]["kind"])
	}
}
