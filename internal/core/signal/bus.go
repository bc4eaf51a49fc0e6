// Package signal carries the kernel's two notification channels: signals,
// synchronous and confined to the current tick, and events, queued per tick
// and flushed to external observers once the tick is final.
package signal

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrRecursionLimit aborts the current tick when signal raises nest
	// beyond the configured depth, which means two systems re-raise each
	// other in a cycle.
	ErrRecursionLimit = errors.New("signal: recursion limit exceeded")
	// ErrConcurrentRaise aborts the tick when a system raises a signal
	// from inside a concurrent batch. Dispatch is single-threaded;
	// systems that raise must not declare themselves Concurrent.
	ErrConcurrentRaise = errors.New("signal: raise from concurrent batch")
)

// Kind names a signal. The set of kinds is closed per simulation: systems
// register interest during setup, never mid-run.
type Kind string

// Params carries a signal's named parameters. Handlers read them by name;
// the map is never iterated by the kernel, so map ordering cannot leak into
// simulation state.
type Params map[string]any

// Handler consumes a raised signal. Handlers mutate state directly on the
// current frame through their captured tick context.
type Handler func(Params) error

// Bus is the synchronous in-tick dispatcher. Handlers for a kind run in
// registration order before the raising system's step continues.
type Bus struct {
	handlers map[Kind][]Handler
	depth    int
	maxDepth int
	frozen   atomic.Bool
}

// NewBus creates a bus with the given maximum raise nesting depth.
func NewBus(maxDepth int) *Bus {
	return &Bus{
		handlers: make(map[Kind][]Handler),
		maxDepth: maxDepth,
	}
}

// Register appends a handler for kind. Registration order is dispatch order.
func (b *Bus) Register(kind Kind, h Handler) {
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Raise dispatches the signal to every registered handler, in registration
// order, before returning. A handler may raise further signals up to the
// configured depth; beyond it Raise fails with ErrRecursionLimit and the
// scheduler aborts the tick.
func (b *Bus) Raise(kind Kind, params Params) error {
	if b.frozen.Load() {
		return fmt.Errorf("%w: %q", ErrConcurrentRaise, kind)
	}
	if b.depth >= b.maxDepth {
		return fmt.Errorf("%w: depth %d raising %q", ErrRecursionLimit, b.depth, kind)
	}
	b.depth++
	defer func() { b.depth-- }()
	for _, h := range b.handlers[kind] {
		if err := h(params); err != nil {
			return err
		}
	}
	return nil
}

// Freeze rejects every Raise until Unfreeze. The scheduler freezes the bus
// while a concurrent batch runs so a system violating the Concurrent
// contract fails loudly instead of racing on dispatch state.
func (b *Bus) Freeze() { b.frozen.Store(true) }

// Unfreeze re-enables Raise.
func (b *Bus) Unfreeze() { b.frozen.Store(false) }

// Reset clears nesting state between ticks.
func (b *Bus) Reset() {
	b.depth = 0
	b.frozen.Store(false)
}
