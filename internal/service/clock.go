package service

import "time"

// Clock abstrae el reloj del scheduler. Todo "ahora" del nucleo pasa por
// aca, asi los tests avanzan el tiempo de forma determinista.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// NewSystemClock devuelve el reloj de pared en UTC.
func NewSystemClock() Clock { return systemClock{} }
