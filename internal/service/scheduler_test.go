package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"affect-core/internal/config"
	"affect-core/internal/domain"
	"affect-core/internal/llm"
	"affect-core/internal/transport"
)

// mockTransport registra las entregas y permite simular fallas.
type mockTransport struct {
	name      string
	ranking   int
	available bool
	err       error
	payloads  []transport.Payload
}

func (m *mockTransport) Name() string    { return m.name }
func (m *mockTransport) Ranking() int    { return m.ranking }
func (m *mockTransport) Available() bool { return m.available }

func (m *mockTransport) Deliver(_ context.Context, p transport.Payload) (transport.Receipt, error) {
	if m.err != nil {
		return transport.Receipt{}, m.err
	}
	m.payloads = append(m.payloads, p)
	return transport.Receipt{Delivered: true, Instant: time.Now().UTC()}, nil
}

type schedulerFixture struct {
	scheduler *Scheduler
	clock     *fakeClock
	store     *mockAffectStore
	llm       *llm.MockClient
	transport *mockTransport
}

func newSchedulerFixture(t *testing.T, params config.AffectParams) *schedulerFixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)}
	store := &mockAffectStore{}
	mockLLM := &llm.MockClient{Response: "hola"}
	tr := &mockTransport{name: "console", available: true}

	persistence := newTestPersistenceWithParams(store, clock, false, params)
	persistence.lastWallSnapshot = clock.now

	s := NewScheduler(
		zap.NewNop(), clock, params,
		NewInteractionHandler(params),
		NewDecayEngine(params),
		NewModulator(params),
		persistence,
		NewAutonomyEvaluator(params, NewMemoryCooldownStore()),
		mockLLM,
		[]transport.Transport{tr},
		domain.NewNeutralState(clock.now),
	)
	return &schedulerFixture{scheduler: s, clock: clock, store: store, llm: mockLLM, transport: tr}
}

func TestSubmit_Validation(t *testing.T) {
	f := newSchedulerFixture(t, testParams())

	if err := f.scheduler.Submit(domain.InteractionEvent{Kind: "bogus", Transport: "http"}); !errors.Is(err, ErrUnknownEventKind) {
		t.Fatalf("expected ErrUnknownEventKind, got %v", err)
	}

	stale := f.clock.now.Add(-5 * time.Minute)
	if err := f.scheduler.Submit(domain.InteractionEvent{
		Kind: domain.EventPositiveMessage, Transport: "http", Instant: stale,
	}); !errors.Is(err, ErrEventSkew) {
		t.Fatalf("expected ErrEventSkew, got %v", err)
	}

	if err := f.scheduler.Submit(domain.InteractionEvent{
		Kind: domain.EventPositiveMessage, Transport: "http",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDrainQueue_AppliesEventsInOrder(t *testing.T) {
	f := newSchedulerFixture(t, testParams())

	if err := f.scheduler.Submit(domain.InteractionEvent{Kind: domain.EventPositiveMessage, Transport: "http"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.scheduler.Submit(domain.InteractionEvent{Kind: domain.EventErrorOccurred, Transport: "internal"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	f.scheduler.drainQueue(context.Background())

	if len(f.store.interactions) != 2 {
		t.Fatalf("expected 2 interactions persisted, got %d", len(f.store.interactions))
	}
	if f.store.interactions[0].Kind != string(domain.EventPositiveMessage) {
		t.Fatalf("expected FIFO order, first was %s", f.store.interactions[0].Kind)
	}
	// El orden de aplicacion queda observable en el seq de commit, aun si los
	// instantes coinciden.
	if f.store.interactions[0].Seq >= f.store.interactions[1].Seq {
		t.Fatalf("expected commit seq to follow application order, got %d then %d",
			f.store.interactions[0].Seq, f.store.interactions[1].Seq)
	}

	snap := f.scheduler.CurrentSnapshot()
	// positive_message: +0.15; error_occurred no toca excitement.
	if got := snap.Value(domain.Excitement); !almost(got, 0.65) {
		t.Fatalf("expected excitement 0.65, got %v", got)
	}
	// error_occurred: frustration +0.15.
	if got := snap.Value(domain.Frustration); !almost(got, 0.65) {
		t.Fatalf("expected frustration 0.65, got %v", got)
	}
}

func TestEnqueue_ShedsOldestNonError(t *testing.T) {
	params := testParams()
	params.EventQueueHighWater = 3
	f := newSchedulerFixture(t, params)

	submit := func(kind domain.EventKind) {
		t.Helper()
		if err := f.scheduler.Submit(domain.InteractionEvent{Kind: kind, Transport: "http"}); err != nil {
			t.Fatalf("submit %s: %v", kind, err)
		}
	}

	submit(domain.EventErrorOccurred)
	submit(domain.EventPositiveMessage)
	submit(domain.EventCodeUpdate)
	// Cuarto evento: se descarta el mas viejo que no sea error_occurred, o
	// sea positive_message.
	submit(domain.EventSuccessfulHelp)

	f.scheduler.queueMu.Lock()
	kinds := make([]domain.EventKind, 0, len(f.scheduler.queue))
	for _, item := range f.scheduler.queue {
		kinds = append(kinds, item.ev.Kind)
	}
	f.scheduler.queueMu.Unlock()

	want := []domain.EventKind{domain.EventErrorOccurred, domain.EventCodeUpdate, domain.EventSuccessfulHelp}
	if len(kinds) != len(want) {
		t.Fatalf("expected queue of %d, got %v", len(want), kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected %v at %d, got %v", want[i], i, kinds[i])
		}
	}
}

func TestRunTick_DecaysState(t *testing.T) {
	f := newSchedulerFixture(t, testParams())

	// Estado con excitement alto via evento.
	f.scheduler.Submit(domain.InteractionEvent{Kind: domain.EventPositiveMessage, Transport: "http"})
	f.scheduler.drainQueue(context.Background())

	f.clock.advance(300 * time.Second)
	f.scheduler.runTick(context.Background(), f.clock.now)

	snap := f.scheduler.CurrentSnapshot()
	// 0.65 - 0.06 = 0.59
	if got := snap.Value(domain.Excitement); !almost(got, 0.59) {
		t.Fatalf("expected excitement decayed to 0.59, got %v", got)
	}
}

func TestRunTick_IncrementalDecayMatchesBulkAdvance(t *testing.T) {
	params := testParams()
	f := newSchedulerFixture(t, params)

	start := f.clock.now
	initial := domain.NewState(map[domain.Dimension]float64{
		domain.Excitement:  0.72,
		domain.Frustration: 0.55,
	}, nil, start)
	f.scheduler.stateMu.Lock()
	f.scheduler.state = initial.Snapshot()
	f.scheduler.stateMu.Unlock()
	// Sin sintesis de long_idle: se compara el decaimiento puro.
	f.scheduler.idleSignaled = true

	total := 600 * time.Second
	tick := params.TickInterval()
	for elapsed := time.Duration(0); elapsed < total; elapsed += tick {
		f.clock.advance(tick)
		f.scheduler.runTick(context.Background(), f.clock.now)
	}

	bulk := NewDecayEngine(params).Advance(initial, total, start, start.Add(total))

	// Tick a tick y en bloque difieren a lo sumo en un paso de cuantizacion
	// por dimension.
	snap := f.scheduler.CurrentSnapshot()
	for _, d := range domain.Dimensions {
		got, want := snap.Value(d), bulk.State.Value(d)
		tolerance := params.DecayRates[string(d)]
		if diff := got - want; diff > tolerance || diff < -tolerance {
			t.Fatalf("dimension %s drifted: ticks gave %v, bulk gave %v", d, got, want)
		}
	}
}

func TestRunTick_SynthesizesLongIdleOnce(t *testing.T) {
	f := newSchedulerFixture(t, testParams())

	// Sin eventos entrantes por encima del umbral de 300s.
	f.clock.advance(301 * time.Second)
	f.scheduler.runTick(context.Background(), f.clock.now)

	if len(f.store.interactions) != 1 || f.store.interactions[0].Kind != string(domain.EventLongIdle) {
		t.Fatalf("expected one synthesized long_idle, got %+v", f.store.interactions)
	}

	// Un tick mas sin actividad: no se vuelve a sintetizar.
	f.clock.advance(5 * time.Second)
	f.scheduler.runTick(context.Background(), f.clock.now)
	if len(f.store.interactions) != 1 {
		t.Fatalf("expected long_idle synthesized once per window, got %d", len(f.store.interactions))
	}

	// Un evento entrante rearma la ventana.
	f.scheduler.Submit(domain.InteractionEvent{Kind: domain.EventPositiveMessage, Transport: "http"})
	f.scheduler.drainQueue(context.Background())
	f.clock.advance(301 * time.Second)
	f.scheduler.runTick(context.Background(), f.clock.now)

	idles := 0
	for _, row := range f.store.interactions {
		if row.Kind == string(domain.EventLongIdle) {
			idles++
		}
	}
	if idles != 2 {
		t.Fatalf("expected second long_idle after window reset, got %d", idles)
	}
}

func TestRunTick_FiresAutonomousMessage(t *testing.T) {
	f := newSchedulerFixture(t, testParams())

	// Forzar loneliness por encima del umbral de 0.70 con long_idle repetidos.
	for i := 0; i < 4; i++ {
		f.scheduler.Submit(domain.InteractionEvent{Kind: domain.EventLongIdle, Transport: "internal"})
	}
	f.scheduler.drainQueue(context.Background())

	if got := f.scheduler.CurrentSnapshot().Value(domain.Loneliness); got <= 0.70 {
		t.Fatalf("setup failed: loneliness %v not above trigger threshold", got)
	}

	f.clock.advance(5 * time.Second)
	f.scheduler.runTick(context.Background(), f.clock.now)

	// El worker corre en una goroutine: esperar la entrega y drenar el
	// outcome reencolado.
	deadline := time.Now().Add(2 * time.Second)
	for len(f.transport.payloads) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(f.transport.payloads) != 1 {
		t.Fatalf("expected one autonomous delivery, got %d", len(f.transport.payloads))
	}
	if len(f.llm.Prompts) == 0 {
		t.Fatalf("expected generation prompt captured")
	}

	f.scheduler.ioWG.Wait()
	f.scheduler.drainQueue(context.Background())

	if len(f.store.autonomy) != 1 {
		t.Fatalf("expected one autonomy event persisted, got %d", len(f.store.autonomy))
	}
	row := f.store.autonomy[0]
	if row.Trigger != domain.TriggerLoneliness {
		t.Fatalf("expected loneliness trigger, got %q", row.Trigger)
	}
	if !row.Delivered {
		t.Fatalf("expected delivered=true")
	}
	if row.Transport != "console" {
		t.Fatalf("expected console transport, got %q", row.Transport)
	}

	// Cooldown activo: el proximo tick no vuelve a disparar.
	f.clock.advance(5 * time.Second)
	f.scheduler.runTick(context.Background(), f.clock.now)
	f.scheduler.ioWG.Wait()
	f.scheduler.drainQueue(context.Background())
	if len(f.store.autonomy) != 1 {
		t.Fatalf("expected cooldown to suppress second message, got %d events", len(f.store.autonomy))
	}
}

func TestRunTick_AutonomyRecordedEvenWhenDeliveryFails(t *testing.T) {
	f := newSchedulerFixture(t, testParams())
	f.transport.err = errors.New("webhook down")

	for i := 0; i < 4; i++ {
		f.scheduler.Submit(domain.InteractionEvent{Kind: domain.EventLongIdle, Transport: "internal"})
	}
	f.scheduler.drainQueue(context.Background())

	f.clock.advance(5 * time.Second)
	f.scheduler.runTick(context.Background(), f.clock.now)
	f.scheduler.ioWG.Wait()
	f.scheduler.drainQueue(context.Background())

	if len(f.store.autonomy) != 1 {
		t.Fatalf("expected autonomy event persisted despite failure, got %d", len(f.store.autonomy))
	}
	if f.store.autonomy[0].Delivered {
		t.Fatalf("expected delivered=false on transport failure")
	}
}

func TestRespond_AppliesEventAndGenerates(t *testing.T) {
	f := newSchedulerFixture(t, testParams())
	f.llm.Response = "que bueno escucharte"

	done := make(chan struct{})
	var result ComposeResult
	var err error
	go func() {
		defer close(done)
		result, err = f.scheduler.Respond(
			context.Background(),
			domain.InteractionEvent{Kind: domain.EventPositiveMessage, Transport: "http"},
			domain.SituationalContext{Topic: "weekend plans"},
			"hola! como andas?",
		)
	}()

	// El loop dueño procesa el pedido.
	waitForQueue(t, f.scheduler)
	f.scheduler.drainQueue(context.Background())
	<-done

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "que bueno escucharte" {
		t.Fatalf("unexpected text %q", result.Text)
	}
	// La modulacion refleja el estado posterior al evento.
	if result.Params.Warmth <= 0.60 {
		t.Fatalf("expected warmth above baseline after positive message, got %v", result.Params.Warmth)
	}
	if got := f.scheduler.CurrentSnapshot().Value(domain.Excitement); !almost(got, 0.65) {
		t.Fatalf("expected event applied before generation, got %v", got)
	}
}

func TestRespond_GenerationFailureIsNotRolledBack(t *testing.T) {
	f := newSchedulerFixture(t, testParams())
	f.llm.Err = errors.New("llm unavailable")

	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = f.scheduler.Respond(
			context.Background(),
			domain.InteractionEvent{Kind: domain.EventPositiveMessage, Transport: "http"},
			domain.SituationalContext{},
			"hola",
		)
	}()

	waitForQueue(t, f.scheduler)
	f.scheduler.drainQueue(context.Background())
	<-done

	if err == nil {
		t.Fatalf("expected generation error")
	}
	// El evento quedo aplicado y persistido igual.
	if got := f.scheduler.CurrentSnapshot().Value(domain.Excitement); !almost(got, 0.65) {
		t.Fatalf("expected state mutation retained, got %v", got)
	}
	if len(f.store.interactions) != 1 {
		t.Fatalf("expected interaction persisted, got %d", len(f.store.interactions))
	}
}

func TestShutdown_DrainsAndWritesFinalSnapshot(t *testing.T) {
	f := newSchedulerFixture(t, testParams())

	f.scheduler.Submit(domain.InteractionEvent{Kind: domain.EventPositiveMessage, Transport: "http"})
	f.scheduler.shutdown()

	// El evento pendiente se proceso antes del snapshot final.
	if len(f.store.interactions) != 1 {
		t.Fatalf("expected pending event drained, got %d", len(f.store.interactions))
	}
	last := f.store.snapshots[len(f.store.snapshots)-1]
	if last.Kind != string(domain.SnapshotShutdown) {
		t.Fatalf("expected final shutdown snapshot, got %q", last.Kind)
	}

	state, err := domain.DecodeState(last.Blob)
	if err != nil {
		t.Fatalf("decode final snapshot: %v", err)
	}
	if got := state.Value(domain.Excitement); !almost(got, 0.65) {
		t.Fatalf("expected drained event reflected in snapshot, got %v", got)
	}

	// Despues del shutdown no se aceptan eventos.
	if err := f.scheduler.Submit(domain.InteractionEvent{Kind: domain.EventPositiveMessage, Transport: "http"}); !errors.Is(err, ErrSchedulerStopped) {
		t.Fatalf("expected ErrSchedulerStopped, got %v", err)
	}
}

func TestShutdown_DeadlineStopsDrainBeforeFinalSnapshot(t *testing.T) {
	params := testParams()
	params.ShutdownDrainSeconds = 0
	f := newSchedulerFixture(t, params)

	f.scheduler.Submit(domain.InteractionEvent{Kind: domain.EventPositiveMessage, Transport: "http"})
	f.scheduler.shutdown()

	// Deadline vencido: el drain se detiene antes de escribir el snapshot
	// final y el evento pendiente queda sin aplicar.
	if len(f.store.interactions) != 0 {
		t.Fatalf("expected drain stopped at deadline, got %d interactions", len(f.store.interactions))
	}
	if len(f.store.snapshots) == 0 {
		t.Fatalf("expected final shutdown snapshot")
	}
	last := f.store.snapshots[len(f.store.snapshots)-1]
	if last.Kind != string(domain.SnapshotShutdown) {
		t.Fatalf("expected shutdown snapshot, got %q", last.Kind)
	}
	state, err := domain.DecodeState(last.Blob)
	if err != nil {
		t.Fatalf("decode final snapshot: %v", err)
	}
	if got := state.Value(domain.Excitement); got != domain.NeutralMidpoint {
		t.Fatalf("expected unapplied event excluded from snapshot, got %v", got)
	}
}

func waitForQueue(t *testing.T, s *Scheduler) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.queueMu.Lock()
		n := len(s.queue)
		s.queueMu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("queue never received the request")
}
