package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// stateBlobVersion etiqueta el formato serializado del estado. Restore
// rechaza versiones desconocidas en lugar de adivinar.
const stateBlobVersion = 1

type stateBlob struct {
	Version      int                `json:"version"`
	Values       map[string]float64 `json:"values"`
	Momentum     map[string]float64 `json:"momentum"`
	LastMutation time.Time          `json:"last_mutation"`
}

// EncodeState serializa el estado como blob JSON autodescriptivo y versionado.
// El round-trip con DecodeState es exacto: los float van en su representacion
// completa de 64 bits.
func EncodeState(s EmotionState) ([]byte, error) {
	blob := stateBlob{
		Version:      stateBlobVersion,
		Values:       make(map[string]float64, len(Dimensions)),
		Momentum:     make(map[string]float64, len(Dimensions)),
		LastMutation: s.LastMutation(),
	}
	for _, d := range Dimensions {
		blob.Values[string(d)] = s.Value(d)
		blob.Momentum[string(d)] = s.Momentum(d)
	}
	return json.Marshal(blob)
}

// DecodeState reconstruye un estado desde un blob. Blobs corruptos o de
// version desconocida devuelven error; el caller decide si camina hacia un
// snapshot anterior.
func DecodeState(raw []byte) (EmotionState, error) {
	var blob stateBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return EmotionState{}, fmt.Errorf("decode state blob: %w", err)
	}
	if blob.Version != stateBlobVersion {
		return EmotionState{}, fmt.Errorf("unsupported state blob version %d", blob.Version)
	}
	if len(blob.Values) == 0 {
		return EmotionState{}, fmt.Errorf("state blob without values")
	}
	values := make(map[Dimension]float64, len(blob.Values))
	momentum := make(map[Dimension]float64, len(blob.Momentum))
	for name, v := range blob.Values {
		if !IsDimension(name) {
			return EmotionState{}, fmt.Errorf("unknown dimension %q in state blob", name)
		}
		values[Dimension(name)] = v
	}
	for name, m := range blob.Momentum {
		if !IsDimension(name) {
			return EmotionState{}, fmt.Errorf("unknown dimension %q in state blob", name)
		}
		momentum[Dimension(name)] = m
	}
	return NewState(values, momentum, blob.LastMutation), nil
}
