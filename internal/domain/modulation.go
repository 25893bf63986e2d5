package domain

// Limites del largo de respuesta en palabras.
const (
	MinResponseLength = 35
	MaxResponseLength = 300
)

// ToneFlags son banderas de tono que acompañan a los parametros de
// modulacion. Varias pueden estar activas a la vez.
type ToneFlags struct {
	Seeking    bool `json:"seeking"`
	Tender     bool `json:"tender"`
	Guarded    bool `json:"guarded"`
	Deflecting bool `json:"deflecting"`
}

// ModulationParameters son las perillas acotadas que moldean como se genera
// y entrega una respuesta. Todos los campos float estan en [0,1];
// ResponseLength en palabras dentro de [35,300].
type ModulationParameters struct {
	Sarcasm         float64   `json:"sarcasm"`
	Formality       float64   `json:"formality"`
	Warmth          float64   `json:"warmth"`
	Humor           float64   `json:"humor"`
	SelfDeprecation float64   `json:"self_deprecation"`
	Emoji           float64   `json:"emoji"`
	Nickname        float64   `json:"nickname"`
	ResponseLength  int       `json:"response_length"`
	Tones           ToneFlags `json:"tones"`
}

// ModField nombra un campo escalar de ModulationParameters en las tablas de
// configuracion.
type ModField string

const (
	FieldSarcasm         ModField = "sarcasm"
	FieldFormality       ModField = "formality"
	FieldWarmth          ModField = "warmth"
	FieldHumor           ModField = "humor"
	FieldSelfDeprecation ModField = "self_deprecation"
	FieldEmoji           ModField = "emoji"
	FieldNickname        ModField = "nickname"
	FieldResponseLength  ModField = "response_length"
)

// ModFields fija el orden estable de los campos escalares.
var ModFields = []ModField{
	FieldSarcasm,
	FieldFormality,
	FieldWarmth,
	FieldHumor,
	FieldSelfDeprecation,
	FieldEmoji,
	FieldNickname,
	FieldResponseLength,
}

// Field lee un campo escalar por nombre. ResponseLength se devuelve como float.
func (p ModulationParameters) Field(f ModField) float64 {
	switch f {
	case FieldSarcasm:
		return p.Sarcasm
	case FieldFormality:
		return p.Formality
	case FieldWarmth:
		return p.Warmth
	case FieldHumor:
		return p.Humor
	case FieldSelfDeprecation:
		return p.SelfDeprecation
	case FieldEmoji:
		return p.Emoji
	case FieldNickname:
		return p.Nickname
	case FieldResponseLength:
		return float64(p.ResponseLength)
	}
	return 0
}

// SetField escribe un campo escalar por nombre, clampeando a su rango declarado.
func (p *ModulationParameters) SetField(f ModField, v float64) {
	clamp01 := func(x float64) float64 {
		if x < 0 {
			return 0
		}
		if x > 1 {
			return 1
		}
		return x
	}
	switch f {
	case FieldSarcasm:
		p.Sarcasm = clamp01(v)
	case FieldFormality:
		p.Formality = clamp01(v)
	case FieldWarmth:
		p.Warmth = clamp01(v)
	case FieldHumor:
		p.Humor = clamp01(v)
	case FieldSelfDeprecation:
		p.SelfDeprecation = clamp01(v)
	case FieldEmoji:
		p.Emoji = clamp01(v)
	case FieldNickname:
		p.Nickname = clamp01(v)
	case FieldResponseLength:
		n := int(v + 0.5)
		if n < MinResponseLength {
			n = MinResponseLength
		}
		if n > MaxResponseLength {
			n = MaxResponseLength
		}
		p.ResponseLength = n
	}
}

// SituationalContext acompaña cada pedido de modulacion: tema libre, bandera
// de seriedad forzada y tags de contexto que el nucleo no interpreta.
type SituationalContext struct {
	Topic        string   `json:"topic"`
	ForceSerious bool     `json:"force_serious"`
	Tags         []string `json:"tags,omitempty"`
}
