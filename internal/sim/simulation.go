// Package sim assembles the kernel into one simulation instance and exposes
// the external surface: input ingestion, frame snapshot export, state hash
// export and event delivery. Instances are self-contained; any number can
// run side by side in one process.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/simforge/simforge/internal/core/ecs"
	"github.com/simforge/simforge/internal/core/frame"
	"github.com/simforge/simforge/internal/core/input"
	"github.com/simforge/simforge/internal/core/rollback"
	"github.com/simforge/simforge/internal/core/schedule"
	"github.com/simforge/simforge/internal/core/signal"
	"github.com/simforge/simforge/internal/observability/log"
)

// Simulation is one deterministic instance. External callers interact only
// through this type; the kernel packages underneath never reach outside it.
type Simulation struct {
	id     string
	cfg    Config
	logger *log.Logger

	schema *ecs.Schema
	bus    *signal.Bus
	events *signal.Queue
	inputs *input.Buffer
	sched  *schedule.Scheduler
	ctrl   *rollback.Controller

	onTick func(tick, hash uint64)

	mu         sync.Mutex
	current    *frame.Frame
	started    bool
	halted     bool
	dirty      uint64 // lowest mispredicted tick pending rollback
	hasDirty   bool
	pending    []schedule.System
	setupWorld *ecs.World
}

// New creates an unstarted instance. Register components against World()
// and add systems, then call Start.
func New(cfg Config, logger *log.Logger) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Nop()
	}
	schema := ecs.NewSchema()
	s := &Simulation{
		id:         uuid.NewString(),
		cfg:        cfg,
		schema:     schema,
		bus:        signal.NewBus(cfg.MaxSignalRecursionDepth),
		events:     signal.NewQueue(),
		inputs:     input.NewBuffer(cfg.RollbackWindowDepth, cfg.InputSize),
		setupWorld: ecs.NewWorld(schema),
	}
	s.logger = logger.With(log.String("sim", s.id))
	return s, nil
}

// ID returns the instance identifier.
func (s *Simulation) ID() string { return s.id }

// Config returns the instance configuration.
func (s *Simulation) Config() Config { return s.cfg }

// World exposes the tick-0 world during setup, for component registration
// and initial entity population.
func (s *Simulation) World() *ecs.World { return s.setupWorld }

// Schema returns the instance's component schema.
func (s *Simulation) Schema() *ecs.Schema { return s.schema }

// Signals exposes the signal bus for handler registration during setup.
func (s *Simulation) Signals() *signal.Bus { return s.bus }

// AddSystem stages a system. Execution order is taken from the configured
// systemExecutionOrder at Start, not from AddSystem call order.
func (s *Simulation) AddSystem(sys schedule.System) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.pending = append(s.pending, sys)
	return nil
}

// Start freezes setup and records the tick-0 frame. Every name in the
// configured execution order must correspond to a staged system, and every
// staged system must be named.
func (s *Simulation) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	byName := make(map[string]schedule.System, len(s.pending))
	for _, sys := range s.pending {
		byName[sys.Name()] = sys
	}
	players := make([]input.PlayerID, s.cfg.PlayerCount)
	for i := range players {
		players[i] = input.PlayerID(i)
	}
	s.sched = schedule.New(s.bus, s.events, s.inputs, players, s.logger)
	s.sched.SetParallel(s.cfg.Parallel)
	for _, name := range s.cfg.SystemExecutionOrder {
		sys, ok := byName[name]
		if !ok {
			return fmt.Errorf("%w: %q in systemExecutionOrder", schedule.ErrUnknownSystem, name)
		}
		delete(byName, name)
		if err := s.sched.Register(sys); err != nil {
			return err
		}
	}
	if len(byName) > 0 {
		for name := range byName {
			return fmt.Errorf("sim: system %q missing from systemExecutionOrder", name)
		}
	}
	s.ctrl = rollback.New(s.cfg.RollbackWindowDepth, s.sched, s.events, s.logger)
	s.current = frame.New(0, s.setupWorld)
	s.ctrl.Record(s.current)
	s.setupWorld = nil
	s.started = true
	s.pending = nil
	s.logger.Info("simulation started",
		log.Int("players", s.cfg.PlayerCount),
		log.Int("window", s.cfg.RollbackWindowDepth),
		log.Int("tick_rate_hz", s.cfg.TickRateHz))
	return nil
}

// SubmitInput ingests one player input record. Predicted inputs come from
// local prediction and are accepted for future ticks only; a prediction for
// an already-simulated tick fails with ErrStalePrediction since only a
// confirmation can correct the past. A confirmation that contradicts a
// consumed prediction schedules a rollback, applied before the next tick. A
// confirmation behind the retained window halts the instance with ErrHalted
// wrapping the desync condition.
func (s *Simulation) SubmitInput(player input.PlayerID, tick uint64, value []byte, confirmed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted {
		return ErrHalted
	}
	if int(player) >= s.cfg.PlayerCount {
		return fmt.Errorf("%w: player %d out of range", input.ErrInvalidInput, player)
	}
	if !confirmed {
		if s.current != nil && tick <= s.current.Tick() {
			return fmt.Errorf("%w: tick %d, current %d", ErrStalePrediction, tick, s.current.Tick())
		}
		return s.inputs.PushPredicted(player, tick, value)
	}
	mispredicted, err := s.inputs.Confirm(player, tick, value)
	if err != nil {
		if errors.Is(err, input.ErrOutsideWindow) {
			s.halt(err)
			return fmt.Errorf("%w: %v", ErrHalted, err)
		}
		return err
	}
	if mispredicted && s.current != nil && tick <= s.current.Tick() {
		if !s.hasDirty || tick < s.dirty {
			s.dirty = tick
			s.hasDirty = true
		}
	}
	return nil
}

// Advance computes the next tick. A pending rollback replays first, without
// preemption. After the step the frame is retained, its events are flushed
// to observers, and events older than the window become final.
func (s *Simulation) Advance() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advanceLocked()
}

func (s *Simulation) advanceLocked() error {
	if !s.started {
		return ErrNotStarted
	}
	if s.halted {
		return ErrHalted
	}
	if s.hasDirty {
		corrected, err := s.ctrl.Rollback(s.dirty, s.current)
		if err != nil {
			if errors.Is(err, rollback.ErrNonRecoverableDesync) {
				s.halt(err)
				return fmt.Errorf("%w: %v", ErrHalted, err)
			}
			return err
		}
		s.current = corrected
		s.hasDirty = false
	}
	next, err := s.sched.Step(s.current, s.ctrl.Frame)
	if err != nil {
		// the tick aborted; the working frame is discarded, the events
		// it emitted go with it, and the simulation stays at the
		// previous tick
		s.events.DiscardPending()
		s.logger.Error("tick aborted", log.Uint64("tick", s.current.Tick()+1), log.Err(err))
		return err
	}
	s.ctrl.Record(next)
	s.current = next
	s.events.Flush()
	if w := uint64(s.cfg.RollbackWindowDepth); next.Tick() >= w {
		s.events.PruneBelow(next.Tick() - w + 1)
	}
	if s.onTick != nil {
		s.onTick(next.Tick(), next.Hash())
	}
	return nil
}

// OnTick registers a callback invoked after every completed tick with the
// tick number and state hash. Observation only; the callback must not reach
// back into the instance.
func (s *Simulation) OnTick(fn func(tick, hash uint64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTick = fn
}

// Run steps the simulation at the configured tick rate until ctx is
// canceled. Teardown happens between ticks; a tick in flight always
// completes.
func (s *Simulation) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(s.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Advance(); err != nil {
				if errors.Is(err, ErrHalted) {
					return err
				}
				// aborted ticks are reported but the loop continues
				s.logger.Warn("tick failed", log.Err(err))
			}
		}
	}
}

// CurrentTick returns the last fully computed tick.
func (s *Simulation) CurrentTick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return 0
	}
	return s.current.Tick()
}

// Frame serializes the frame at the given tick, defaulting to the current
// one. Historical frames resolve only within the retained window.
func (s *Simulation) Frame(tick ...uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.frameAt(tick...)
	if err != nil {
		return nil, err
	}
	return f.MarshalBinary()
}

// StateHash returns the deterministic 64-bit state hash at the given tick,
// defaulting to the current one. Networking collaborators exchange these to
// detect desync without transmitting state.
func (s *Simulation) StateHash(tick ...uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.frameAt(tick...)
	if err != nil {
		return 0, err
	}
	return f.Hash(), nil
}

func (s *Simulation) frameAt(tick ...uint64) (*frame.Frame, error) {
	if !s.started {
		return nil, ErrNotStarted
	}
	if len(tick) == 0 || tick[0] == s.current.Tick() {
		return s.current, nil
	}
	f, ok := s.ctrl.Frame(tick[0])
	if !ok {
		return nil, fmt.Errorf("%w: tick %d", ErrNotRetained, tick[0])
	}
	return f, nil
}

// SubscribeEvents registers a delivery callback for post-tick events and
// returns a subscription ID. Callbacks must be non-blocking and must not
// attempt to mutate simulation state.
func (s *Simulation) SubscribeEvents(sink signal.Sink) string {
	return s.events.Subscribe(sink)
}

// UnsubscribeEvents removes an event subscription.
func (s *Simulation) UnsubscribeEvents(id string) {
	s.events.Unsubscribe(id)
}

// Halted reports whether the instance stopped on a non-recoverable desync.
func (s *Simulation) Halted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted
}

// Close tears the instance down. It only runs between ticks; the instance
// mutex guarantees no tick is in flight.
func (s *Simulation) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halted = true
	return s.logger.Sync()
}

func (s *Simulation) halt(cause error) {
	s.halted = true
	s.logger.Error("non-recoverable desync, halting", log.Err(cause))
}
