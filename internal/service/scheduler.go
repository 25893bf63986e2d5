package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"affect-core/internal/config"
	"affect-core/internal/domain"
	"affect-core/internal/llm"
	"affect-core/internal/transport"
)

var (
	// ErrSchedulerStopped se devuelve al enviar eventos durante el shutdown.
	ErrSchedulerStopped = errors.New("scheduler stopped")
	// ErrUnknownEventKind rechaza kinds fuera del conjunto cerrado.
	ErrUnknownEventKind = errors.New("unknown event kind")
	// ErrEventSkew rechaza instantes fuera de la tolerancia de reloj.
	ErrEventSkew = errors.New("event instant outside skew tolerance")
)

// queueItem es una entrada del embudo de mutaciones. Exactamente uno de los
// tres usos esta activo: evento puro, pedido de respuesta (reply != nil) o
// resultado de un worker de autonomia que vuelve a serializarse.
type queueItem struct {
	ev      domain.InteractionEvent
	sctx    domain.SituationalContext
	reply   chan composeSnapshot
	outcome *domain.AutonomyEvent
}

// composeSnapshot es lo que el loop dueño entrega a un pedido de respuesta:
// snapshot inmutable mas modulacion ya calculada.
type composeSnapshot struct {
	state     domain.EmotionState
	params    domain.ModulationParameters
	awareness string
}

// ComposeResult es la respuesta completa de la via reactiva.
type ComposeResult struct {
	Text      string
	Params    domain.ModulationParameters
	Awareness string
}

// Scheduler es el dueño unico del EmotionState: consume el embudo de
// eventos, maneja el tick de decaimiento, evalua autonomia y coordina el
// shutdown. Toda mutacion pasa por su goroutine; el resto del mundo ve
// snapshots inmutables.
type Scheduler struct {
	logger      *zap.Logger
	clock       Clock
	params      config.AffectParams
	handler     *InteractionHandler
	decay       *DecayEngine
	modulator   *Modulator
	persistence *PersistenceService
	autonomy    *AutonomyEvaluator
	llmClient   llm.LLMClient
	transports  []transport.Transport

	stateMu sync.RWMutex
	state   domain.EmotionState

	queueMu   sync.Mutex
	queue     []queueItem
	accepting bool
	notify    chan struct{}

	lastDecayAt       time.Time
	lastInboundAt     time.Time
	lastInteractionAt time.Time
	idleSignaled      bool
	tickCount         int

	ioWG sync.WaitGroup
}

func NewScheduler(
	logger *zap.Logger,
	clock Clock,
	params config.AffectParams,
	handler *InteractionHandler,
	decay *DecayEngine,
	modulator *Modulator,
	persistence *PersistenceService,
	autonomy *AutonomyEvaluator,
	llmClient llm.LLMClient,
	transports []transport.Transport,
	initial domain.EmotionState,
) *Scheduler {
	now := clock.Now()
	return &Scheduler{
		logger:            logger,
		clock:             clock,
		params:            params,
		handler:           handler,
		decay:             decay,
		modulator:         modulator,
		persistence:       persistence,
		autonomy:          autonomy,
		llmClient:         llmClient,
		transports:        transports,
		state:             initial,
		accepting:         true,
		notify:            make(chan struct{}, 1),
		lastDecayAt:       now,
		lastInboundAt:     now,
		lastInteractionAt: initial.LastMutation(),
	}
}

// CurrentSnapshot devuelve una copia inmutable del estado para lectores.
func (s *Scheduler) CurrentSnapshot() domain.EmotionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state.Snapshot()
}

// Submit valida y encola un evento entrante. La validacion de kind e
// instante ocurre aca, en el borde: el handler nunca ve eventos invalidos.
func (s *Scheduler) Submit(ev domain.InteractionEvent) error {
	if !domain.IsEventKind(string(ev.Kind)) {
		return ErrUnknownEventKind
	}
	now := s.clock.Now()
	if ev.Instant.IsZero() {
		ev.Instant = now
	} else {
		skew := now.Sub(ev.Instant)
		if skew < 0 {
			skew = -skew
		}
		if skew > s.params.SkewTolerance() {
			return ErrEventSkew
		}
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	return s.enqueue(queueItem{ev: ev})
}

func (s *Scheduler) enqueue(item queueItem) error {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if !s.accepting {
		return ErrSchedulerStopped
	}
	if len(s.queue) >= s.params.EventQueueHighWater {
		s.shedLocked()
	}
	s.queue = append(s.queue, item)
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// shedLocked descarta el evento mas viejo que no sea error_occurred; si todo
// es error, cae el mas viejo igual. Los pedidos con reply no se descartan.
func (s *Scheduler) shedLocked() {
	victim := -1
	for i, item := range s.queue {
		if item.reply != nil || item.outcome != nil {
			continue
		}
		if victim < 0 {
			victim = i
		}
		if item.ev.Kind != domain.EventErrorOccurred {
			victim = i
			break
		}
	}
	if victim < 0 {
		return
	}
	dropped := s.queue[victim]
	s.queue = append(s.queue[:victim], s.queue[victim+1:]...)
	s.logger.Warn("event queue over high water, shedding oldest",
		zap.String("kind", string(dropped.ev.Kind)),
		zap.String("transport", dropped.ev.Transport),
	)
}

// Respond implementa la via reactiva: aplica el evento entrante, modula con
// el snapshot resultante y genera el texto fuera del loop dueño.
func (s *Scheduler) Respond(ctx context.Context, ev domain.InteractionEvent, sctx domain.SituationalContext, userText string) (ComposeResult, error) {
	if !domain.IsEventKind(string(ev.Kind)) {
		return ComposeResult{}, ErrUnknownEventKind
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Instant.IsZero() {
		ev.Instant = s.clock.Now()
	}

	reply := make(chan composeSnapshot, 1)
	if err := s.enqueue(queueItem{ev: ev, sctx: sctx, reply: reply}); err != nil {
		return ComposeResult{}, err
	}

	var snap composeSnapshot
	select {
	case snap = <-reply:
	case <-ctx.Done():
		return ComposeResult{}, ctx.Err()
	}

	prompt := buildCompanionPrompt(snap.params, snap.awareness, sctx.Topic, userText)
	genCtx, cancel := context.WithTimeout(ctx, s.params.GenerateTimeout())
	defer cancel()

	text, err := s.llmClient.Generate(genCtx, prompt)
	if err != nil {
		// El estado emocional ya esta comprometido; el fallo de generacion
		// no se revierte ni produce placeholder.
		return ComposeResult{}, err
	}
	return ComposeResult{Text: cleanGeneratedText(text), Params: snap.params, Awareness: snap.awareness}, nil
}

// Run es el loop dueño. Bloquea hasta que el contexto se cancele; entonces
// drena el embudo con deadline duro y escribe el snapshot de shutdown.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.params.TickInterval())
	defer ticker.Stop()

	s.logger.Info("scheduler started",
		zap.Duration("tick_interval", s.params.TickInterval()),
		zap.Int("transports", len(s.transports)),
	)

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case <-s.notify:
			s.drainQueue(context.WithoutCancel(ctx))
		case <-ticker.C:
			s.runTick(context.WithoutCancel(ctx), s.clock.Now())
		}
	}
}

func (s *Scheduler) drainQueue(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.queueMu.Lock()
		if len(s.queue) == 0 {
			s.queueMu.Unlock()
			return
		}
		item := s.queue[0]
		s.queue = s.queue[1:]
		s.queueMu.Unlock()
		s.process(ctx, item)
	}
}

// process aplica una entrada del embudo como transaccion atomica.
func (s *Scheduler) process(ctx context.Context, item queueItem) {
	if item.outcome != nil {
		s.persistence.RecordAutonomyEvent(ctx, *item.outcome)
		return
	}

	now := s.clock.Now()
	s.applyEvent(ctx, item.ev, now)

	if item.reply != nil {
		snap := s.CurrentSnapshot()
		params, awareness := s.modulator.Modulate(snap, item.sctx)
		item.reply <- composeSnapshot{state: snap, params: params, awareness: awareness}
	}
}

func (s *Scheduler) applyEvent(ctx context.Context, ev domain.InteractionEvent, now time.Time) domain.InteractionRecord {
	s.stateMu.Lock()
	rec := s.handler.Apply(&s.state, ev, now)
	s.stateMu.Unlock()

	s.lastInteractionAt = now
	if ev.Kind != domain.EventLongIdle {
		s.lastInboundAt = now
		s.idleSignaled = false
	}

	s.persistence.RecordInteraction(ctx, rec)
	s.persistence.MaybeSnapshot(ctx, rec.After)

	s.logger.Debug("interaction applied",
		zap.String("kind", string(ev.Kind)),
		zap.String("transport", ev.Transport),
	)
	return rec
}

// runTick es el latido del nucleo: decaer, detectar idle, evaluar autonomia
// y pedir snapshots periodicos. El decaimiento siempre precede a la
// evaluacion de autonomia del mismo tick.
func (s *Scheduler) runTick(ctx context.Context, now time.Time) {
	s.tickCount++

	dt := now.Sub(s.lastDecayAt)
	if dt > 0 {
		s.stateMu.Lock()
		result := s.decay.Advance(s.state, dt, s.lastInteractionAt, now)
		s.state = result.State
		s.stateMu.Unlock()
		if result.Saturated {
			s.logger.Warn("tick decay saturated", zap.Duration("dt", dt))
		}
	}
	s.lastDecayAt = now

	if !s.idleSignaled && now.Sub(s.lastInboundAt) >= s.params.IdleThreshold() {
		s.idleSignaled = true
		s.applyEvent(ctx, domain.InteractionEvent{
			ID:        uuid.New(),
			Kind:      domain.EventLongIdle,
			Transport: "internal",
			Instant:   now,
		}, now)
	}

	s.evaluateAutonomy(ctx, now)

	if s.params.SnapshotEveryNTicks > 0 && s.tickCount%s.params.SnapshotEveryNTicks == 0 {
		s.persistence.MaybeSnapshot(ctx, s.CurrentSnapshot())
	}
}

// evaluateAutonomy emite a lo sumo un mensaje autonomo por tick. El trabajo
// de IO (generar y entregar) corre en un worker; el resultado vuelve al
// embudo para que la escritura quede serializada.
func (s *Scheduler) evaluateAutonomy(ctx context.Context, now time.Time) {
	fired := s.autonomy.Evaluate(s.CurrentSnapshot(), now, s.lastInboundAt)
	if fired == nil {
		return
	}

	// El cooldown se resetea al despachar, no al confirmar entrega.
	s.autonomy.MarkFired(fired.Config.Name, now)

	snap := s.CurrentSnapshot()
	params, awareness := s.modulator.Modulate(snap, domain.SituationalContext{})
	trigger := fired.Config.Name

	prompt, err := s.autonomy.BuildPrompt(trigger, params, awareness)
	if err != nil {
		s.logger.Error("autonomy prompt", zap.String("trigger", trigger), zap.Error(err))
		return
	}

	s.logger.Info("autonomy trigger fired",
		zap.String("trigger", trigger),
		zap.Float64("deviation", fired.Deviation),
	)

	s.ioWG.Add(1)
	go func() {
		defer s.ioWG.Done()
		outcome := s.deliverAutonomous(ctx, trigger, prompt, params, snap)
		// Serializar el resultado detras del stream de mutaciones.
		if err := s.enqueue(queueItem{outcome: &outcome}); err != nil {
			s.persistence.RecordAutonomyEvent(ctx, outcome)
		}
	}()
}

// deliverAutonomous genera el texto y lo entrega al mejor transporte
// disponible. Cualquier fallo deja delivered=false; no hay reintentos: el
// proximo tick reevalua.
func (s *Scheduler) deliverAutonomous(ctx context.Context, trigger, prompt string, params domain.ModulationParameters, snap domain.EmotionState) domain.AutonomyEvent {
	outcome := domain.AutonomyEvent{
		ID:      uuid.New(),
		Instant: s.clock.Now(),
		Trigger: trigger,
		State:   snap,
	}

	genCtx, cancelGen := context.WithTimeout(ctx, s.params.GenerateTimeout())
	text, err := s.llmClient.Generate(genCtx, prompt)
	cancelGen()
	if err != nil {
		s.logger.Warn("autonomy generate failed", zap.String("trigger", trigger), zap.Error(err))
		return outcome
	}

	best := transport.Best(s.transports)
	if best == nil {
		s.logger.Warn("no transport available for autonomous message", zap.String("trigger", trigger))
		return outcome
	}
	outcome.Transport = best.Name()

	sendCtx, cancelSend := context.WithTimeout(ctx, s.params.SendTimeout())
	receipt, err := best.Deliver(sendCtx, transport.Payload{Text: cleanGeneratedText(text), Params: params})
	cancelSend()
	if err != nil {
		s.logger.Warn("autonomous delivery failed",
			zap.String("trigger", trigger),
			zap.String("transport", best.Name()),
			zap.Error(err),
		)
		return outcome
	}
	outcome.Delivered = receipt.Delivered
	return outcome
}

// shutdown deja de aceptar eventos, drena con deadline duro y escribe el
// snapshot final.
func (s *Scheduler) shutdown() {
	s.queueMu.Lock()
	s.accepting = false
	s.queueMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.params.ShutdownDrain())
	defer cancel()

	// El drain corre en esta misma goroutine y respeta el deadline: cuando
	// retorna, nadie mas toca los contadores de persistencia y el snapshot
	// final se escribe sin carreras.
	s.drainQueue(ctx)

	ioDone := make(chan struct{})
	go func() {
		s.ioWG.Wait()
		close(ioDone)
	}()
	select {
	case <-ioDone:
	case <-ctx.Done():
		s.logger.Warn("shutdown drain deadline exceeded")
	}

	if s.persistence.SnapshotNow(context.Background(), s.CurrentSnapshot(), domain.SnapshotShutdown) {
		s.logger.Info("shutdown snapshot written")
	}
}

// ListTransports expone los transportes registrados (diagnostico).
func (s *Scheduler) ListTransports() []transport.Transport {
	return s.transports
}

// DebugModulation calcula la modulacion del snapshot actual con contexto
// neutro. Solo para la superficie de inspeccion.
func (s *Scheduler) DebugModulation() (domain.ModulationParameters, string) {
	return s.modulator.Modulate(s.CurrentSnapshot(), domain.SituationalContext{})
}
