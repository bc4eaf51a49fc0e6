//go:build wireinject
// +build wireinject

package injector

import (
	"github.com/google/wire"

	"github.com/simforge/simforge/internal/sim"
)

func InjectSimulation(cfg sim.Config) (*sim.Simulation, error) {
	wire.Build(ProvideLogger, sim.New)
	return nil, nil
}
