// Package injector holds the wire provider set for assembling a simulation
// instance with its logger.
package injector

import (
	"github.com/simforge/simforge/internal/observability/log"
	"github.com/simforge/simforge/internal/sim"
)

func ProvideLogger(cfg sim.Config) *log.Logger {
	return log.New(cfg.LogLevel)
}

// NewSimulation assembles a simulation from config. Kept in sync with the
// wire declaration in wire.go.
func NewSimulation(cfg sim.Config) (*sim.Simulation, error) {
	return sim.New(cfg, ProvideLogger(cfg))
}
