package sim

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the recognized configuration surface of a simulation instance.
type Config struct {
	// RollbackWindowDepth is how many finished frames are retained for
	// rollback. Corrections older than this are non-recoverable.
	RollbackWindowDepth int `yaml:"rollbackWindowDepth"`
	// SystemExecutionOrder names every system in the order it must run.
	// The order is part of the determinism contract and must match on all
	// participating clients.
	SystemExecutionOrder []string `yaml:"systemExecutionOrder"`
	// TickRateHz is the stepping rate of the real-time loop.
	TickRateHz int `yaml:"tickRateHz"`
	// MaxSignalRecursionDepth bounds nested signal raising within a tick.
	MaxSignalRecursionDepth int `yaml:"maxSignalRecursionDepth"`
	// PlayerCount fixes the participating players; inputs are keyed
	// 0..PlayerCount-1.
	PlayerCount int `yaml:"playerCount"`
	// InputSize is the fixed per-player per-tick input record size in
	// bytes.
	InputSize int `yaml:"inputSize"`
	// Parallel enables batched execution of systems with provably
	// disjoint access masks. Output is identical either way.
	Parallel bool `yaml:"parallel"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel"`
}

// DefaultConfig returns a config suitable for tests and tools.
func DefaultConfig() Config {
	return Config{
		RollbackWindowDepth:     30,
		TickRateHz:              60,
		MaxSignalRecursionDepth: 16,
		PlayerCount:             2,
		InputSize:               8,
		LogLevel:                "info",
	}
}

// LoadConfig reads a yaml config file, applying defaults for absent fields.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("sim: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("sim: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the config invariants.
func (c Config) Validate() error {
	if c.RollbackWindowDepth <= 0 {
		return fmt.Errorf("sim: rollbackWindowDepth must be > 0, got %d", c.RollbackWindowDepth)
	}
	if c.TickRateHz <= 0 {
		return fmt.Errorf("sim: tickRateHz must be > 0, got %d", c.TickRateHz)
	}
	if c.MaxSignalRecursionDepth <= 0 {
		return fmt.Errorf("sim: maxSignalRecursionDepth must be > 0, got %d", c.MaxSignalRecursionDepth)
	}
	if c.PlayerCount <= 0 {
		return fmt.Errorf("sim: playerCount must be > 0, got %d", c.PlayerCount)
	}
	if c.InputSize <= 0 {
		return fmt.Errorf("sim: inputSize must be > 0, got %d", c.InputSize)
	}
	return nil
}
