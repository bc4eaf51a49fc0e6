package schedule

import (
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/simforge/simforge/internal/core/ecs"
	"github.com/simforge/simforge/internal/core/fixed"
	"github.com/simforge/simforge/internal/core/frame"
	"github.com/simforge/simforge/internal/core/input"
	"github.com/simforge/simforge/internal/core/signal"
	"github.com/simforge/simforge/internal/observability/log"
)

var (
	// ErrBusy means Step was entered while a step was already running.
	// Ticks are atomic units of work; the loop never re-enters mid-tick.
	ErrBusy = errors.New("schedule: step already in progress")
	// ErrUnknownSystem is returned when the configured execution order
	// names a system that was never provided.
	ErrUnknownSystem = errors.New("schedule: unknown system")
)

type state uint8

const (
	stateIdle state = iota
	stateStepping
)

// Scheduler runs registered systems in a fixed order against one frame per
// tick. It is single-threaded per step; Concurrent systems with provably
// disjoint access masks may be batched, but the observable result is always
// identical to sequential execution in registration order.
type Scheduler struct {
	systems  []System
	bus      *signal.Bus
	events   *signal.Queue
	inputs   *input.Buffer
	players  []input.PlayerID
	state    state
	parallel bool
	logger   *log.Logger
}

// New creates a scheduler wired to the simulation's signal bus, event queue
// and input buffer. players fixes the per-tick input resolution order.
func New(bus *signal.Bus, events *signal.Queue, inputs *input.Buffer, players []input.PlayerID, logger *log.Logger) *Scheduler {
	return &Scheduler{
		bus:     bus,
		events:  events,
		inputs:  inputs,
		players: players,
		logger:  logger,
	}
}

// SetParallel enables batched execution of Concurrent systems.
func (s *Scheduler) SetParallel(on bool) { s.parallel = on }

// Register appends a system. Registration order is execution order; the
// simulation registers in its configured systemExecutionOrder.
func (s *Scheduler) Register(sys System) error {
	if s.state != stateIdle {
		return ErrBusy
	}
	for _, existing := range s.systems {
		if existing.Name() == sys.Name() {
			return fmt.Errorf("schedule: duplicate system %q", sys.Name())
		}
	}
	s.systems = append(s.systems, sys)
	return nil
}

// Systems returns the registered systems in execution order.
func (s *Scheduler) Systems() []System { return s.systems }

// Step derives the next frame from f by running every system in order. The
// input buffer supplies per-player inputs for the new tick; history resolves
// bounded read-only access to retained frames. Per-entity recoverable errors
// (stale references, division misuse) are logged and skipped; scheduler-level
// errors abort the tick and the working frame is discarded.
func (s *Scheduler) Step(f *frame.Frame, history HistoryFn) (*frame.Frame, error) {
	if s.state != stateIdle {
		return nil, ErrBusy
	}
	s.state = stateStepping
	defer func() { s.state = stateIdle }()

	next := f.Next()
	t := &Tick{
		Number:  next.Tick(),
		World:   next.World(),
		bus:     s.bus,
		events:  s.events,
		inputs:  s.inputs,
		players: s.players,
		history: history,
	}
	s.bus.Reset()

	for i := 0; i < len(s.systems); {
		batch := s.concurrentBatch(i)
		if len(batch) > 1 {
			if err := s.runBatch(t, batch); err != nil {
				return nil, err
			}
			i += len(batch)
			continue
		}
		if err := s.runSystem(t, s.systems[i]); err != nil {
			return nil, err
		}
		i++
	}
	return next, nil
}

// concurrentBatch returns the longest run of systems starting at i that are
// all Concurrent with pairwise non-conflicting access masks. Writes must not
// overlap other members' reads or writes.
func (s *Scheduler) concurrentBatch(i int) []System {
	if !s.parallel {
		return s.systems[i : i+1]
	}
	end := i
	for end < len(s.systems) {
		c, ok := s.systems[end].(Concurrent)
		if !ok || c.Filter().IsZero() {
			break
		}
		conflict := false
		for j := i; j < end; j++ {
			prev := s.systems[j].(Concurrent)
			if c.WriteMask().Overlaps(prev.WriteMask()) ||
				c.WriteMask().Overlaps(prev.ReadMask()) ||
				c.ReadMask().Overlaps(prev.WriteMask()) {
				conflict = true
				break
			}
		}
		if conflict {
			break
		}
		end++
	}
	if end == i {
		return s.systems[i : i+1]
	}
	return s.systems[i:end]
}

// runBatch executes a batch of Concurrent systems. Matching entities are
// gathered sequentially first so no iterator state is shared between
// goroutines; Concurrent systems mutate component values in place and never
// make structural changes, so the updates themselves are race-free by the
// disjoint-mask proof.
func (s *Scheduler) runBatch(t *Tick, batch []System) error {
	lists := make([][]ecs.Entity, len(batch))
	for i, sys := range batch {
		q := t.World.Query(sys.Filter())
		for e, ok := q.Next(); ok; e, ok = q.Next() {
			lists[i] = append(lists[i], e)
		}
		q.Close()
	}
	s.bus.Freeze()
	defer s.bus.Unfreeze()
	var g errgroup.Group
	for i, sys := range batch {
		i, sys := i, sys
		g.Go(func() error {
			for _, e := range lists[i] {
				if err := sys.Update(t, e); err != nil {
					if cerr := s.classify(t, sys, e, err); cerr != nil {
						return cerr
					}
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) runSystem(t *Tick, sys System) error {
	filter := sys.Filter()
	if filter.IsZero() {
		if err := sys.Update(t, ecs.Zero); err != nil {
			return s.classify(t, sys, ecs.Zero, err)
		}
		return nil
	}
	q := t.World.Query(filter)
	defer q.Close()
	for e, ok := q.Next(); ok; e, ok = q.Next() {
		if err := sys.Update(t, e); err != nil {
			if cerr := s.classify(t, sys, e, err); cerr != nil {
				return cerr
			}
		}
	}
	return nil
}

// classify absorbs recoverable per-entity errors at the system boundary and
// propagates everything else, which aborts the tick.
func (s *Scheduler) classify(t *Tick, sys System, e ecs.Entity, err error) error {
	if errors.Is(err, ecs.ErrStaleReference) || errors.Is(err, fixed.ErrDivisionByZero) {
		s.logger.Warn("system error skipped",
			log.String("system", sys.Name()),
			log.Uint64("tick", t.Number),
			log.Uint32("entity", e.Index),
			log.Err(err))
		return nil
	}
	return fmt.Errorf("schedule: system %q tick %d: %w", sys.Name(), t.Number, err)
}
