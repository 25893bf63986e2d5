package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"affect-core/internal/domain"
	"affect-core/internal/service"
)

// AffectHandler expone el borde HTTP del nucleo: ingreso de eventos, via
// reactiva de chat y superficie de inspeccion local.
type AffectHandler struct {
	logger      *zap.Logger
	scheduler   *service.Scheduler
	persistence *service.PersistenceService
}

func NewAffectHandler(logger *zap.Logger, scheduler *service.Scheduler, persistence *service.PersistenceService) *AffectHandler {
	return &AffectHandler{
		logger:      logger,
		scheduler:   scheduler,
		persistence: persistence,
	}
}

type eventRequest struct {
	Kind      string         `json:"kind" binding:"required"`
	Transport string         `json:"transport" binding:"required"`
	Instant   *time.Time     `json:"instant"`
	Metadata  map[string]any `json:"metadata"`
}

// PostEvent ingresa un evento de interaccion al embudo del scheduler.
// Rechazos (kind desconocido, skew de reloj) se loguean y descartan: el
// transporte recibe el motivo pero el estado no se toca.
func (h *AffectHandler) PostEvent(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ev := domain.InteractionEvent{
		Kind:      domain.EventKind(req.Kind),
		Transport: req.Transport,
		Metadata:  req.Metadata,
	}
	if req.Instant != nil {
		ev.Instant = req.Instant.UTC()
	}

	if err := h.scheduler.Submit(ev); err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownEventKind):
			h.logger.Warn("event rejected", zap.String("kind", req.Kind), zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event kind"})
		case errors.Is(err, service.ErrEventSkew):
			h.logger.Warn("event rejected", zap.String("kind", req.Kind), zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "event instant outside skew tolerance"})
		case errors.Is(err, service.ErrSchedulerStopped):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		default:
			h.logger.Error("event submit failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

type messageRequest struct {
	Text         string   `json:"text" binding:"required"`
	Kind         string   `json:"kind"`
	Transport    string   `json:"transport"`
	Topic        string   `json:"topic"`
	ForceSerious bool     `json:"force_serious"`
	Tags         []string `json:"tags"`
}

// PostMessage implementa la via reactiva: el texto entrante se registra como
// evento emocional y la respuesta se genera modulada por el estado resultante.
func (h *AffectHandler) PostMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	kind := domain.EventKind(req.Kind)
	if req.Kind == "" {
		kind = domain.EventPositiveMessage
	}
	transportName := req.Transport
	if transportName == "" {
		transportName = "http"
	}

	ev := domain.InteractionEvent{
		Kind:      kind,
		Transport: transportName,
		Metadata:  map[string]any{"text": req.Text},
	}
	sctx := domain.SituationalContext{
		Topic:        req.Topic,
		ForceSerious: req.ForceSerious,
		Tags:         req.Tags,
	}

	result, err := h.scheduler.Respond(c.Request.Context(), ev, sctx, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownEventKind):
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event kind"})
		case errors.Is(err, service.ErrSchedulerStopped):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		default:
			h.logger.Error("respond failed", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "generation failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"text":   result.Text,
		"params": result.Params,
	})
}

// GetState devuelve el snapshot actual, los ejes dominantes y la modulacion
// que obtendria un pedido con contexto neutro. Superficie de inspeccion.
func (h *AffectHandler) GetState(c *gin.Context) {
	snap := h.scheduler.CurrentSnapshot()
	params, awareness := h.scheduler.DebugModulation()

	dominant := make([]string, 0, 3)
	for _, d := range snap.DominantEmotions(3) {
		dominant = append(dominant, string(d))
	}

	c.JSON(http.StatusOK, gin.H{
		"values":        snap.Values(),
		"momentum":      snap.Momenta(),
		"last_mutation": snap.LastMutation(),
		"dominant":      dominant,
		"modulation":    params,
		"awareness":     awareness,
	})
}

// PostSnapshot dispara un snapshot manual.
func (h *AffectHandler) PostSnapshot(c *gin.Context) {
	if !h.persistence.SnapshotNow(c.Request.Context(), h.scheduler.CurrentSnapshot(), domain.SnapshotManual) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "snapshot failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "snapshot written"})
}

// GetInteractions lista las ultimas filas del log append-only para auditoria.
func (h *AffectHandler) GetInteractions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	rows, err := h.persistence.ListInteractions(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("list interactions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, r := range rows {
		item := gin.H{
			"seq":        r.Seq,
			"id":         r.ID,
			"instant":    r.Instant,
			"kind":       r.Kind,
			"transport":  r.Transport,
			"confidence": r.Confidence,
		}
		if len(r.OverflowBlob) > 0 {
			var overflow map[string]float64
			if err := json.Unmarshal(r.OverflowBlob, &overflow); err == nil {
				item["overflow"] = overflow
			}
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, gin.H{"interactions": out})
}

// Healthz responde mientras el proceso vive e informa la disponibilidad de
// cada transporte saliente.
func (h *AffectHandler) Healthz(c *gin.Context) {
	transports := gin.H{}
	for _, tr := range h.scheduler.ListTransports() {
		transports[tr.Name()] = tr.Available()
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "transports": transports})
}
