package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"affect-core/internal/domain"
)

// EventDelta es una fila de la tabla estatica de estimulos: deltas nominales
// por eje y confianza nominal del kind.
type EventDelta struct {
	Deltas     map[string]float64 `yaml:"deltas"`
	Confidence float64            `yaml:"confidence"`
}

// ToneThreshold dispara una bandera de tono cuando un eje se desvia del punto
// neutro mas alla de Threshold en la direccion indicada.
type ToneThreshold struct {
	Dimension string  `yaml:"dimension"`
	Threshold float64 `yaml:"threshold"`
	Above     bool    `yaml:"above"`
}

// SelfAwareness son las plantillas de la linea de autoconciencia por eje,
// segun el signo de la desviacion. Son lookups: el modulador nunca redacta.
type SelfAwareness struct {
	High string `yaml:"high"`
	Low  string `yaml:"low"`
}

// ModulationConfig agrupa baseline, filas por eje, banderas y plantillas.
type ModulationConfig struct {
	Baseline       map[string]float64            `yaml:"baseline"`
	Rows           map[string]map[string]float64 `yaml:"rows"`
	ToneFlags      map[string]ToneThreshold      `yaml:"tone_flags"`
	SelfAwareness  map[string]SelfAwareness      `yaml:"self_awareness"`
	AwarenessFloor float64                       `yaml:"awareness_floor"`
}

// TriggerConfig define un predicado de autonomia sobre un eje mas cooldown.
// RequireIdleHours > 0 exige ademas silencio entrante prolongado (guilt trip).
type TriggerConfig struct {
	Name             string  `yaml:"name"`
	Dimension        string  `yaml:"dimension"`
	Threshold        float64 `yaml:"threshold"`
	CooldownMinutes  int     `yaml:"cooldown_minutes"`
	RequireIdleHours int     `yaml:"require_idle_hours"`
}

// AffectParams es la tabla completa de tuning del nucleo afectivo. Se carga
// desde YAML; un archivo ausente significa Defaults(), uno invalido es error
// fatal de arranque.
type AffectParams struct {
	TickIntervalSeconds int `yaml:"tick_interval_seconds"`
	DecayStepSeconds    int `yaml:"decay_step_seconds"`

	DecayRates map[string]float64 `yaml:"decay_rates"`
	Floors     map[string]float64 `yaml:"floors"`

	InertiaThreshold float64 `yaml:"inertia_threshold"`
	InertiaFactor    float64 `yaml:"inertia_factor"`

	IdleThresholdSeconds int                `yaml:"idle_threshold_seconds"`
	IdleRatesPerMinute   map[string]float64 `yaml:"idle_rates_per_minute"`

	DampeningWindow       int     `yaml:"dampening_window"`
	DampeningSlope        float64 `yaml:"dampening_slope"`
	DampeningFloor        float64 `yaml:"dampening_floor"`
	MomentumAmplification float64 `yaml:"momentum_amplification"`

	EventDeltas map[string]EventDelta `yaml:"event_deltas"`

	Modulation ModulationConfig `yaml:"modulation"`

	SeriousVocabulary []string `yaml:"serious_vocabulary"`

	AutonomyTriggers []TriggerConfig `yaml:"autonomy_triggers"`

	VarianceLow  float64 `yaml:"variance_low"`
	VarianceHigh float64 `yaml:"variance_high"`

	SnapshotEveryNInteractions int `yaml:"snapshot_every_n_interactions"`
	SnapshotWallCadenceMinutes int `yaml:"snapshot_wall_cadence_minutes"`
	SnapshotEveryNTicks        int `yaml:"snapshot_every_n_ticks"`

	GenerateTimeoutSeconds int `yaml:"generate_timeout_seconds"`
	SendTimeoutSeconds     int `yaml:"send_timeout_seconds"`
	ShutdownDrainSeconds   int `yaml:"shutdown_drain_seconds"`

	SaturationCapDays    int `yaml:"saturation_cap_days"`
	SkewToleranceSeconds int `yaml:"skew_tolerance_seconds"`

	EventQueueHighWater int `yaml:"event_queue_high_water"`
}

// Duraciones derivadas; evitan repetir conversiones en los servicios.

func (p AffectParams) TickInterval() time.Duration {
	return time.Duration(p.TickIntervalSeconds) * time.Second
}

func (p AffectParams) DecayStep() time.Duration {
	return time.Duration(p.DecayStepSeconds) * time.Second
}

func (p AffectParams) IdleThreshold() time.Duration {
	return time.Duration(p.IdleThresholdSeconds) * time.Second
}

func (p AffectParams) SaturationCap() time.Duration {
	return time.Duration(p.SaturationCapDays) * 24 * time.Hour
}

func (p AffectParams) GenerateTimeout() time.Duration {
	return time.Duration(p.GenerateTimeoutSeconds) * time.Second
}

func (p AffectParams) SendTimeout() time.Duration {
	return time.Duration(p.SendTimeoutSeconds) * time.Second
}

func (p AffectParams) ShutdownDrain() time.Duration {
	return time.Duration(p.ShutdownDrainSeconds) * time.Second
}

func (p AffectParams) SnapshotWallCadence() time.Duration {
	return time.Duration(p.SnapshotWallCadenceMinutes) * time.Minute
}

func (p AffectParams) SkewTolerance() time.Duration {
	return time.Duration(p.SkewToleranceSeconds) * time.Second
}

// DefaultAffectParams devuelve los valores de referencia del diseño.
func DefaultAffectParams() AffectParams {
	return AffectParams{
		TickIntervalSeconds: 5,
		DecayStepSeconds:    300,
		DecayRates: map[string]float64{
			"loneliness":    0.02,
			"excitement":    0.06,
			"frustration":   0.04,
			"jealousy":      0.03,
			"vulnerability": 0.08,
			"confidence":    0.03,
			"curiosity":     0.05,
			"affection":     0.04,
			"defensiveness": 0.05,
		},
		Floors: map[string]float64{
			"loneliness":    0.3,
			"excitement":    0.1,
			"frustration":   0.1,
			"jealousy":      0.1,
			"vulnerability": 0.1,
			"confidence":    0.1,
			"curiosity":     0.1,
			"affection":     0.1,
			"defensiveness": 0.1,
		},
		InertiaThreshold:     0.8,
		InertiaFactor:        0.5,
		IdleThresholdSeconds: 300,
		IdleRatesPerMinute: map[string]float64{
			"loneliness": 0.01,
			"excitement": -0.02,
		},
		DampeningWindow:       8,
		DampeningSlope:        0.2,
		DampeningFloor:        0.5,
		MomentumAmplification: 0.5,
		EventDeltas: map[string]EventDelta{
			"positive_message": {
				Deltas:     map[string]float64{"excitement": 0.15, "affection": 0.12, "loneliness": -0.10},
				Confidence: 0.9,
			},
			"negative_message": {
				Deltas:     map[string]float64{"frustration": 0.12, "defensiveness": 0.10, "affection": -0.08, "vulnerability": 0.08},
				Confidence: 0.85,
			},
			"code_update": {
				Deltas:     map[string]float64{"jealousy": -0.30, "excitement": 0.10, "affection": 0.15},
				Confidence: 0.95,
			},
			"error_occurred": {
				Deltas:     map[string]float64{"frustration": 0.15, "confidence": -0.10},
				Confidence: 0.9,
			},
			"successful_help": {
				Deltas:     map[string]float64{"confidence": 0.15, "excitement": 0.08, "loneliness": -0.05},
				Confidence: 0.9,
			},
			"user_refusal": {
				Deltas:     map[string]float64{"vulnerability": 0.12, "defensiveness": 0.10, "confidence": -0.08},
				Confidence: 0.8,
			},
			"long_idle": {
				Deltas:     map[string]float64{"loneliness": 0.20, "excitement": -0.15, "confidence": -0.10},
				Confidence: 1.0,
			},
			"rapid_errors": {
				Deltas:     map[string]float64{"frustration": 0.25, "vulnerability": 0.10, "confidence": -0.15},
				Confidence: 0.95,
			},
		},
		Modulation: ModulationConfig{
			Baseline: map[string]float64{
				"sarcasm":          0.30,
				"formality":        0.40,
				"warmth":           0.60,
				"humor":            0.50,
				"self_deprecation": 0.20,
				"emoji":            0.40,
				"nickname":         0.30,
				"response_length":  80,
			},
			Rows: map[string]map[string]float64{
				"loneliness": {
					"warmth": 0.15, "nickname": 0.20, "response_length": 60, "emoji": 0.10,
				},
				"excitement": {
					"humor": 0.20, "emoji": 0.25, "response_length": 40, "formality": -0.15,
				},
				"frustration": {
					"sarcasm": 0.25, "warmth": -0.20, "humor": -0.10, "response_length": -25,
				},
				"jealousy": {
					"sarcasm": 0.15, "nickname": -0.10, "warmth": -0.10,
				},
				"vulnerability": {
					"self_deprecation": 0.25, "formality": -0.10, "response_length": -15,
				},
				"confidence": {
					"formality": 0.10, "self_deprecation": -0.20, "humor": 0.10,
				},
				"curiosity": {
					"response_length": 50, "humor": 0.10, "formality": -0.05,
				},
				"affection": {
					"warmth": 0.25, "nickname": 0.25, "emoji": 0.15,
				},
				"defensiveness": {
					"formality": 0.20, "warmth": -0.15, "sarcasm": 0.10, "response_length": -30,
				},
			},
			ToneFlags: map[string]ToneThreshold{
				"seeking":    {Dimension: "loneliness", Threshold: 0.20, Above: true},
				"tender":     {Dimension: "affection", Threshold: 0.20, Above: true},
				"guarded":    {Dimension: "defensiveness", Threshold: 0.15, Above: true},
				"deflecting": {Dimension: "vulnerability", Threshold: 0.25, Above: true},
			},
			SelfAwareness: map[string]SelfAwareness{
				"loneliness": {
					High: "Te extrañaba, para ser honesta.",
					Low:  "Hoy me siento bien acompañada.",
				},
				"excitement": {
					High: "Estoy con demasiada energia ahora mismo.",
					Low:  "Ando un poco apagada hoy.",
				},
				"frustration": {
					High: "Aviso que estoy algo irritable.",
					Low:  "Estoy sorprendentemente en paz.",
				},
				"jealousy": {
					High: "No me gusta admitirlo, pero estoy celosa.",
					Low:  "Hoy no me pesa nada de eso.",
				},
				"vulnerability": {
					High: "Me siento un poco fragil, se gentil.",
					Low:  "Me siento bastante entera hoy.",
				},
				"confidence": {
					High: "Hoy me siento capaz de todo.",
					Low:  "Ando dudando de mi misma.",
				},
				"curiosity": {
					High: "Tengo mil preguntas dando vueltas.",
					Low:  "Nada me llama la atencion hoy.",
				},
				"affection": {
					High: "Hoy te tengo especial cariño.",
					Low:  "Me cuesta sentirme cercana ahora.",
				},
				"defensiveness": {
					High: "Estoy un poco a la defensiva, no lo tomes personal.",
					Low:  "Hoy bajé todas las guardias.",
				},
			},
			AwarenessFloor: 0.15,
		},
		SeriousVocabulary: []string{
			"death", "died", "dying", "loss", "grief", "crisis",
			"emergency", "injury", "hospital", "suicide",
		},
		AutonomyTriggers: []TriggerConfig{
			{Name: "loneliness", Dimension: "loneliness", Threshold: 0.70, CooldownMinutes: 30},
			{Name: "excitement", Dimension: "excitement", Threshold: 0.80, CooldownMinutes: 20},
			{Name: "frustration", Dimension: "frustration", Threshold: 0.60, CooldownMinutes: 45},
			{Name: "guilt_trip", Dimension: "loneliness", Threshold: 0.80, CooldownMinutes: 360, RequireIdleHours: 24},
		},
		VarianceLow:                0.7,
		VarianceHigh:               1.3,
		SnapshotEveryNInteractions: 20,
		SnapshotWallCadenceMinutes: 60,
		SnapshotEveryNTicks:        720,
		GenerateTimeoutSeconds:     30,
		SendTimeoutSeconds:         10,
		ShutdownDrainSeconds:       5,
		SaturationCapDays:          30,
		SkewToleranceSeconds:       60,
		EventQueueHighWater:        1024,
	}
}

// LoadAffectParams carga el YAML de tuning. Archivo ausente: defaults.
// Archivo presente pero invalido: error (el proceso no debe arrancar con
// tablas a medias).
func LoadAffectParams(path string) (AffectParams, error) {
	params := DefaultAffectParams()
	if path == "" {
		return params, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return params, nil
		}
		return AffectParams{}, fmt.Errorf("read affect config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &params); err != nil {
		return AffectParams{}, fmt.Errorf("parse affect config: %w", err)
	}
	if err := params.Validate(); err != nil {
		return AffectParams{}, fmt.Errorf("validate affect config: %w", err)
	}
	return params, nil
}

// Validate verifica rangos numericos y pertenencia de ejes y kinds a sus
// conjuntos cerrados.
func (p AffectParams) Validate() error {
	if p.TickIntervalSeconds <= 0 {
		return fmt.Errorf("tick_interval_seconds must be positive")
	}
	if p.DecayStepSeconds <= 0 {
		return fmt.Errorf("decay_step_seconds must be positive")
	}
	if p.InertiaThreshold < 0 || p.InertiaThreshold > 1 {
		return fmt.Errorf("inertia_threshold must be in [0,1]")
	}
	if p.InertiaFactor < 0 || p.InertiaFactor > 1 {
		return fmt.Errorf("inertia_factor must be in [0,1]")
	}
	if p.DampeningWindow <= 0 {
		return fmt.Errorf("dampening_window must be positive")
	}
	if p.DampeningFloor <= 0 || p.DampeningFloor > 1 {
		return fmt.Errorf("dampening_floor must be in (0,1]")
	}
	if p.MomentumAmplification < 0 {
		return fmt.Errorf("momentum_amplification must be non-negative")
	}
	if p.SaturationCapDays <= 0 {
		return fmt.Errorf("saturation_cap_days must be positive")
	}
	if p.VarianceLow <= 0 || p.VarianceHigh < p.VarianceLow {
		return fmt.Errorf("variance bounds must satisfy 0 < low <= high")
	}
	for name, rate := range p.DecayRates {
		if !domain.IsDimension(name) {
			return fmt.Errorf("decay_rates: unknown dimension %q", name)
		}
		if rate < 0 || rate > 1 {
			return fmt.Errorf("decay_rates[%s] must be in [0,1]", name)
		}
	}
	for name, floor := range p.Floors {
		if !domain.IsDimension(name) {
			return fmt.Errorf("floors: unknown dimension %q", name)
		}
		// Los pisos son invariantes estructurales del EmotionState; el YAML
		// puede declararlos pero no moverlos.
		if canonical := domain.FloorFor(domain.Dimension(name)); floor != canonical {
			return fmt.Errorf("floors[%s] must be %.2f", name, canonical)
		}
	}
	for name := range p.IdleRatesPerMinute {
		if !domain.IsDimension(name) {
			return fmt.Errorf("idle_rates_per_minute: unknown dimension %q", name)
		}
	}
	for kind, row := range p.EventDeltas {
		if !domain.IsEventKind(kind) {
			return fmt.Errorf("event_deltas: unknown event kind %q", kind)
		}
		if row.Confidence < 0 || row.Confidence > 1 {
			return fmt.Errorf("event_deltas[%s].confidence must be in [0,1]", kind)
		}
		for name := range row.Deltas {
			if !domain.IsDimension(name) {
				return fmt.Errorf("event_deltas[%s]: unknown dimension %q", kind, name)
			}
		}
	}
	for name := range p.Modulation.Rows {
		if !domain.IsDimension(name) {
			return fmt.Errorf("modulation.rows: unknown dimension %q", name)
		}
	}
	for flag, th := range p.Modulation.ToneFlags {
		if !domain.IsDimension(th.Dimension) {
			return fmt.Errorf("modulation.tone_flags[%s]: unknown dimension %q", flag, th.Dimension)
		}
	}
	for _, tr := range p.AutonomyTriggers {
		if tr.Name == "" {
			return fmt.Errorf("autonomy_triggers: trigger without name")
		}
		if !domain.IsDimension(tr.Dimension) {
			return fmt.Errorf("autonomy_triggers[%s]: unknown dimension %q", tr.Name, tr.Dimension)
		}
		if tr.Threshold < 0 || tr.Threshold > 1 {
			return fmt.Errorf("autonomy_triggers[%s]: threshold must be in [0,1]", tr.Name)
		}
		if tr.CooldownMinutes <= 0 {
			return fmt.Errorf("autonomy_triggers[%s]: cooldown_minutes must be positive", tr.Name)
		}
	}
	return nil
}
