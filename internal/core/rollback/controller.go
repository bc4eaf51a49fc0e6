// Package rollback retains a window of recent frames and re-simulates
// forward from a corrected input. Replay is never partial: a rollback runs
// to the present tick before the simulation accepts new work.
package rollback

import (
	"errors"
	"fmt"

	"github.com/simforge/simforge/internal/core/frame"
	"github.com/simforge/simforge/internal/core/schedule"
	"github.com/simforge/simforge/internal/core/signal"
	"github.com/simforge/simforge/internal/observability/log"
	"github.com/simforge/simforge/pkg/sequence"
)

// ErrNonRecoverableDesync means a correction landed behind the retained
// window. The instance cannot repair itself from local state; the caller
// must resynchronize from an authoritative snapshot.
var ErrNonRecoverableDesync = errors.New("rollback: correction outside retained window, resync required")

// Controller supervises the frame history and drives resimulation.
type Controller struct {
	history *sequence.Ring[*frame.Frame]
	sched   *schedule.Scheduler
	events  *signal.Queue
	logger  *log.Logger
}

// New creates a controller retaining window frames.
func New(window int, sched *schedule.Scheduler, events *signal.Queue, logger *log.Logger) *Controller {
	return &Controller{
		history: sequence.NewRing[*frame.Frame](window),
		sched:   sched,
		events:  events,
		logger:  logger,
	}
}

// Record retains a finished frame in the rollback window. The stored frame
// is cloned so later mutation of the live frame cannot reach it.
func (c *Controller) Record(f *frame.Frame) {
	c.history.Put(f.Tick(), f.Clone())
}

// Frame returns the retained frame for tick, if still within the window.
func (c *Controller) Frame(tick uint64) (*frame.Frame, bool) {
	return c.history.Get(tick)
}

// Window returns the retained window depth in ticks.
func (c *Controller) Window() int { return c.history.Cap() }

// Rollback restores the frame preceding from, retracts events the observers
// saw under the superseded timeline, and replays every tick through the
// current one with corrected inputs. It returns the new current frame.
// The replay is non-preemptible; the caller blocks until it completes.
//
// A correction behind the retained window fails with
// ErrNonRecoverableDesync and the instance must halt.
func (c *Controller) Rollback(from uint64, current *frame.Frame) (*frame.Frame, error) {
	if from == 0 || from > current.Tick() {
		return nil, fmt.Errorf("rollback: invalid correction tick %d (current %d)", from, current.Tick())
	}
	base, ok := c.history.Get(from - 1)
	if !ok {
		return nil, fmt.Errorf("%w: tick %d, window %d, current %d",
			ErrNonRecoverableDesync, from, c.history.Cap(), current.Tick())
	}

	c.logger.Info("rolling back",
		log.Uint64("from", from),
		log.Uint64("current", current.Tick()))

	c.events.Retract(from)
	c.events.BeginReplay()

	f := base.Clone()
	for tick := from; tick <= current.Tick(); tick++ {
		next, err := c.sched.Step(f, c.Frame)
		if err != nil {
			// a tick that executed before must execute again; failure
			// here means the instance state is unusable
			c.events.DiscardPending()
			return nil, fmt.Errorf("%w: replay of tick %d failed: %v",
				ErrNonRecoverableDesync, tick, err)
		}
		c.Record(next)
		c.events.Flush()
		f = next
	}
	c.events.EndReplay(from)
	return f, nil
}
