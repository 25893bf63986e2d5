package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"affect-core/internal/config"
	"affect-core/internal/domain"
	"affect-core/internal/service"
)

// Herramienta offline de tuning: simula el decaimiento de un estado inicial
// e imprime la curva por eje. Util para calibrar affect.yaml sin levantar el
// proceso completo.
func main() {
	cfgPath := flag.String("config", "affect.yaml", "ruta a affect.yaml")
	hours := flag.Float64("hours", 24, "horas de ausencia a simular")
	stepMinutes := flag.Float64("step", 60, "granularidad de impresion en minutos")
	initial := flag.Float64("initial", 0.9, "valor inicial de todos los ejes")
	flag.Parse()

	params, err := config.LoadAffectParams(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error cargando config: %v\n", err)
		os.Exit(1)
	}

	values := make(map[domain.Dimension]float64, len(domain.Dimensions))
	for _, d := range domain.Dimensions {
		values[d] = *initial
	}
	start := time.Now().UTC()
	state := domain.NewState(values, nil, start)

	decay := service.NewDecayEngine(params)

	fmt.Printf("%-8s", "min")
	for _, d := range domain.Dimensions {
		fmt.Printf(" %-14s", d)
	}
	fmt.Println()

	step := time.Duration(*stepMinutes * float64(time.Minute))
	total := time.Duration(*hours * float64(time.Hour))
	for elapsed := time.Duration(0); elapsed <= total; elapsed += step {
		now := start.Add(elapsed)
		result := decay.Advance(state.Snapshot(), elapsed, start, now)

		fmt.Printf("%-8.0f", elapsed.Minutes())
		for _, d := range domain.Dimensions {
			fmt.Printf(" %-14.4f", result.State.Value(d))
		}
		if result.Saturated {
			fmt.Print(" [saturado]")
		}
		fmt.Println()
	}
}
