// Package schedule orders and runs systems against the current frame, once
// per tick. Execution order and per-entity iteration order are fixed by
// configuration and entity index, never by map iteration or timing.
package schedule

import (
	"github.com/simforge/simforge/internal/core/ecs"
	"github.com/simforge/simforge/internal/core/frame"
	"github.com/simforge/simforge/internal/core/input"
	"github.com/simforge/simforge/internal/core/signal"
)

// System is one unit of simulation logic. A system with a non-zero Filter
// has Update called once per matching entity, in ascending index order; a
// system with a zero Filter is global and gets a single Update with the zero
// entity.
type System interface {
	Name() string
	Filter() ecs.Mask
	Update(t *Tick, e ecs.Entity) error
}

// Concurrent marks a system as safe to run in the same batch as other
// Concurrent systems whose declared access masks do not overlap its write
// mask. Systems that raise signals or emit events must not implement it;
// the bus is frozen while a batch runs, so a violating Raise aborts the
// tick with ErrConcurrentRaise.
type Concurrent interface {
	System
	// WriteMask covers every component type the system may mutate.
	WriteMask() ecs.Mask
	// ReadMask covers every component type the system may read.
	ReadMask() ecs.Mask
}

// HistoryFn resolves a read-only historical frame within the rollback
// window. Systems must not mutate the returned frame.
type HistoryFn func(tick uint64) (*frame.Frame, bool)

// Tick is the per-step context handed to every system update. It replaces
// any notion of a global "current frame": everything a system may touch
// during a step is reachable from here, which keeps simulation instances
// independent.
type Tick struct {
	// Number is the tick being computed.
	Number uint64
	// World is the mutable state of the frame under construction.
	World *ecs.World

	bus     *signal.Bus
	events  *signal.Queue
	inputs  *input.Buffer
	players []input.PlayerID
	history HistoryFn
}

// Input returns the input record for the given player at this tick.
func (t *Tick) Input(p input.PlayerID) []byte {
	return t.inputs.Get(p, t.Number)
}

// Players lists the participating players in their fixed order.
func (t *Tick) Players() []input.PlayerID { return t.players }

// Raise dispatches a signal synchronously to all registered handlers.
func (t *Tick) Raise(kind signal.Kind, params signal.Params) error {
	return t.bus.Raise(kind, params)
}

// Emit queues an event for post-tick delivery to external observers.
func (t *Tick) Emit(kind signal.EventKind, payload any) {
	t.events.Emit(t.Number, kind, payload)
}

// History returns a read-only frame from the retained window, or false when
// the tick is out of range. The current tick is never resolvable here.
func (t *Tick) History(tick uint64) (*frame.Frame, bool) {
	if t.history == nil || tick >= t.Number {
		return nil, false
	}
	return t.history(tick)
}
