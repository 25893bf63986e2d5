package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventKind es el conjunto cerrado de estimulos que el nucleo acepta.
type EventKind string

const (
	EventPositiveMessage EventKind = "positive_message"
	EventNegativeMessage EventKind = "negative_message"
	EventCodeUpdate      EventKind = "code_update"
	EventErrorOccurred   EventKind = "error_occurred"
	EventSuccessfulHelp  EventKind = "successful_help"
	EventUserRefusal     EventKind = "user_refusal"
	EventLongIdle        EventKind = "long_idle"
	EventRapidErrors     EventKind = "rapid_errors"
)

// EventKinds lista el conjunto cerrado en orden estable.
var EventKinds = []EventKind{
	EventPositiveMessage,
	EventNegativeMessage,
	EventCodeUpdate,
	EventErrorOccurred,
	EventSuccessfulHelp,
	EventUserRefusal,
	EventLongIdle,
	EventRapidErrors,
}

// IsEventKind valida pertenencia al conjunto cerrado. Kinds desconocidos se
// rechazan en el borde de ingreso, nunca llegan al handler.
func IsEventKind(kind string) bool {
	for _, k := range EventKinds {
		if k == EventKind(kind) {
			return true
		}
	}
	return false
}

// InteractionEvent es un estimulo entrante desde un transporte.
// Metadata es opaca para el nucleo: se persiste y se devuelve tal cual.
type InteractionEvent struct {
	ID        uuid.UUID      `json:"id"`
	Kind      EventKind      `json:"kind"`
	Transport string         `json:"transport"`
	Instant   time.Time      `json:"instant"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// InteractionRecord es la fila de auditoria inmutable de cada evento aplicado:
// estado antes y despues, overflow de momentum por eje y confianza nominal.
type InteractionRecord struct {
	ID         uuid.UUID                 `json:"id"`
	Kind       EventKind                 `json:"kind"`
	Instant    time.Time                 `json:"instant"`
	Transport  string                    `json:"transport"`
	Before     EmotionState              `json:"-"`
	After      EmotionState              `json:"-"`
	Overflow   map[Dimension]float64     `json:"overflow"`
	Confidence float64                   `json:"confidence"`
	Context    map[string]any            `json:"context,omitempty"`
}

// SnapshotKind clasifica el origen de un snapshot durable.
type SnapshotKind string

const (
	SnapshotPeriodic SnapshotKind = "periodic"
	SnapshotShutdown SnapshotKind = "shutdown"
	SnapshotStartup  SnapshotKind = "startup"
	SnapshotManual   SnapshotKind = "manual"
)

// IsSnapshotKind valida pertenencia al conjunto cerrado de kinds de snapshot.
func IsSnapshotKind(kind string) bool {
	switch SnapshotKind(kind) {
	case SnapshotPeriodic, SnapshotShutdown, SnapshotStartup, SnapshotManual:
		return true
	}
	return false
}

// StateSnapshot es el registro durable del estado completo en un instante.
// Generation lo asigna el store de forma monotona creciente.
type StateSnapshot struct {
	Generation int64        `json:"generation"`
	Instant    time.Time    `json:"instant"`
	Kind       SnapshotKind `json:"kind"`
	State      EmotionState `json:"-"`
}

// Triggers de autonomia y marcadores operacionales registrados en la
// relacion autonomy_events.
const (
	TriggerLoneliness          = "loneliness"
	TriggerExcitement          = "excitement"
	TriggerFrustration         = "frustration"
	TriggerGuiltTrip           = "guilt_trip"
	TriggerSaturatedCatchup    = "saturated_catchup"
	TriggerRecoveredFromBackup = "recovered_from_backup"
	TriggerPersistenceDegraded = "persistence_degraded"
)

// AutonomyEvent registra un intento de mensaje autonomo (o un marcador
// operacional) y el resultado de entrega. Se escribe siempre, entregue o no.
type AutonomyEvent struct {
	ID        uuid.UUID    `json:"id"`
	Instant   time.Time    `json:"instant"`
	Trigger   string       `json:"trigger"`
	State     EmotionState `json:"-"`
	Delivered bool         `json:"delivered"`
	Transport string       `json:"transport"`
}
