package domain

import (
	"math"
	"sort"
	"time"
)

// Dimension identifica uno de los nueve ejes emocionales del nucleo afectivo.
type Dimension string

const (
	Loneliness    Dimension = "loneliness"
	Excitement    Dimension = "excitement"
	Frustration   Dimension = "frustration"
	Jealousy      Dimension = "jealousy"
	Vulnerability Dimension = "vulnerability"
	Confidence    Dimension = "confidence"
	Curiosity     Dimension = "curiosity"
	Affection     Dimension = "affection"
	Defensiveness Dimension = "defensiveness"
)

// Dimensions fija el orden canonico de los ejes. Todo recorrido por dimension
// usa este orden para que el overflow y los desempates sean deterministas.
var Dimensions = []Dimension{
	Loneliness,
	Excitement,
	Frustration,
	Jealousy,
	Vulnerability,
	Confidence,
	Curiosity,
	Affection,
	Defensiveness,
}

// NeutralMidpoint es el punto de reposo hacia el que decaen todos los ejes.
const NeutralMidpoint = 0.5

// DefaultFloor aplica a todos los ejes salvo loneliness.
const (
	DefaultFloor    = 0.1
	LonelinessFloor = 0.3
)

// FloorFor devuelve el piso del eje. Loneliness nunca baja de 0.3: la
// companera siempre conserva un residuo de necesidad de contacto.
func FloorFor(d Dimension) float64 {
	if d == Loneliness {
		return LonelinessFloor
	}
	return DefaultFloor
}

// IsDimension valida que el nombre pertenezca al conjunto cerrado de ejes.
func IsDimension(name string) bool {
	for _, d := range Dimensions {
		if d == Dimension(name) {
			return true
		}
	}
	return false
}

// EmotionState es el vector emocional de nueve ejes mas el momentum por eje.
// Es un tipo opaco: toda mutacion pasa por operaciones nombradas que
// garantizan los invariantes (floor_d <= value_d <= 1.0, momentum_d >= 0).
type EmotionState struct {
	values       map[Dimension]float64
	momentum     map[Dimension]float64
	lastMutation time.Time
}

// NewNeutralState construye el estado base: todos los ejes en 0.5, momentum cero.
func NewNeutralState(at time.Time) EmotionState {
	s := EmotionState{
		values:       make(map[Dimension]float64, len(Dimensions)),
		momentum:     make(map[Dimension]float64, len(Dimensions)),
		lastMutation: at.UTC(),
	}
	for _, d := range Dimensions {
		s.values[d] = NeutralMidpoint
		s.momentum[d] = 0
	}
	return s
}

// NewState construye un estado desde valores arbitrarios, clampeando a los
// invariantes. Ejes ausentes quedan en el punto neutro.
func NewState(values, momentum map[Dimension]float64, at time.Time) EmotionState {
	s := NewNeutralState(at)
	for d, v := range values {
		if IsDimension(string(d)) {
			s.values[d] = clampValue(d, v)
		}
	}
	for d, m := range momentum {
		if IsDimension(string(d)) && m > 0 {
			s.momentum[d] = m
		}
	}
	return s
}

func clampValue(d Dimension, v float64) float64 {
	floor := FloorFor(d)
	if math.IsNaN(v) {
		return NeutralMidpoint
	}
	if v < floor {
		return floor
	}
	if v > 1.0 {
		return 1.0
	}
	return v
}

// IsZero reporta si el estado es el valor cero (sin inicializar), distinto
// del estado neutro.
func (s EmotionState) IsZero() bool {
	return s.values == nil
}

// Value devuelve el valor actual del eje.
func (s EmotionState) Value(d Dimension) float64 {
	return s.values[d]
}

// Momentum devuelve el momentum acumulado del eje.
func (s EmotionState) Momentum(d Dimension) float64 {
	return s.momentum[d]
}

// LastMutation devuelve el instante logico de la ultima mutacion.
func (s EmotionState) LastMutation() time.Time {
	return s.lastMutation
}

// Deviation devuelve la desviacion absoluta respecto del punto neutro.
func (s EmotionState) Deviation(d Dimension) float64 {
	return math.Abs(s.values[d] - NeutralMidpoint)
}

// Snapshot devuelve una copia profunda segura de compartir fuera del
// scheduler. Ninguna mutacion posterior del original la afecta.
func (s EmotionState) Snapshot() EmotionState {
	out := EmotionState{
		values:       make(map[Dimension]float64, len(Dimensions)),
		momentum:     make(map[Dimension]float64, len(Dimensions)),
		lastMutation: s.lastMutation,
	}
	for _, d := range Dimensions {
		out.values[d] = s.values[d]
		out.momentum[d] = s.momentum[d]
	}
	return out
}

// Touch actualiza el instante logico de mutacion sin tocar valores.
func (s *EmotionState) Touch(at time.Time) {
	s.lastMutation = at.UTC()
}

// SetAbsolute fija el valor del eje clampeando en silencio al rango valido.
func (s *EmotionState) SetAbsolute(d Dimension, v float64) {
	s.values[d] = clampValue(d, v)
}

// ApplyDelta aplica un delta al eje y devuelve el delta realizado y el
// overflow por encima de 1.0. El overflow alimenta el momentum: se retiene
// el maximo historico, nunca se decae solo (ver ClearMomentum).
func (s *EmotionState) ApplyDelta(d Dimension, delta float64) (realized, overflow float64) {
	before := s.values[d]
	raw := before + delta

	if raw > 1.0 {
		overflow = raw - 1.0
		if overflow > s.momentum[d] {
			s.momentum[d] = overflow
		}
		raw = 1.0
	}

	floor := FloorFor(d)
	if raw < floor {
		raw = floor
	}

	s.values[d] = raw
	return raw - before, overflow
}

// ClearMomentum pone en cero el momentum de los ejes indicados, o de todos
// si no se indica ninguno. Es la unica via para reducir momentum.
func (s *EmotionState) ClearMomentum(dims ...Dimension) {
	if len(dims) == 0 {
		dims = Dimensions
	}
	for _, d := range dims {
		s.momentum[d] = 0
	}
}

// DominantEmotions devuelve los n ejes mas desviados del punto neutro, en
// orden descendente. Empates se resuelven por el orden canonico de ejes.
func (s EmotionState) DominantEmotions(n int) []Dimension {
	if n <= 0 {
		return nil
	}
	order := make(map[Dimension]int, len(Dimensions))
	for i, d := range Dimensions {
		order[d] = i
	}
	out := make([]Dimension, len(Dimensions))
	copy(out, Dimensions)
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := s.Deviation(out[i]), s.Deviation(out[j])
		if di != dj {
			return di > dj
		}
		return order[out[i]] < order[out[j]]
	})
	if n > len(out) {
		n = len(out)
	}
	return out[:n]
}

// Values devuelve una copia del mapa de valores, util para serializar y auditar.
func (s EmotionState) Values() map[Dimension]float64 {
	out := make(map[Dimension]float64, len(Dimensions))
	for _, d := range Dimensions {
		out[d] = s.values[d]
	}
	return out
}

// Momenta devuelve una copia del mapa de momentum.
func (s EmotionState) Momenta() map[Dimension]float64 {
	out := make(map[Dimension]float64, len(Dimensions))
	for _, d := range Dimensions {
		out[d] = s.momentum[d]
	}
	return out
}
