package signal

import (
	"sync"

	"github.com/google/uuid"
)

// EventKind names a post-tick event.
type EventKind string

// Event is a one-directional notification to external observers (the view
// layer, replay recorders). An event that was delivered and later invalidated
// by a rollback is redelivered once with Retracted set; observers must treat
// that as "this never happened".
type Event struct {
	Tick      uint64
	Seq       uint64
	Kind      EventKind
	Payload   any
	Retracted bool
}

// Sink receives flushed events. Sinks must be non-blocking and must not
// attempt to mutate simulation state; delivery is strictly one-directional.
type Sink func(Event)

// Queue buffers events emitted during a tick and flushes them to sinks only
// after the tick has fully executed. Delivered events are retained within
// the rollback window so they can be retracted if the tick is re-simulated.
type Queue struct {
	mu        sync.Mutex
	sinkOrder []string
	sinks     map[string]Sink
	pending   []Event
	delivered []Event
	seq       uint64
	replaying bool
}

// NewQueue creates an empty event queue.
func NewQueue() *Queue {
	return &Queue{sinks: make(map[string]Sink)}
}

// Subscribe registers a sink and returns its subscription ID. Sinks are
// invoked in subscription order.
func (q *Queue) Subscribe(s Sink) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := uuid.NewString()
	q.sinkOrder = append(q.sinkOrder, id)
	q.sinks[id] = s
	return id
}

// Unsubscribe removes a sink by subscription ID.
func (q *Queue) Unsubscribe(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.sinks[id]; !ok {
		return
	}
	delete(q.sinks, id)
	for i, sid := range q.sinkOrder {
		if sid == id {
			q.sinkOrder = append(q.sinkOrder[:i], q.sinkOrder[i+1:]...)
			break
		}
	}
}

// Emit appends an event for the given tick. Emission order within a tick is
// preserved through flush.
func (q *Queue) Emit(tick uint64, kind EventKind, payload any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.pending = append(q.pending, Event{Tick: tick, Seq: q.seq, Kind: kind, Payload: payload})
}

// Flush delivers all pending events to every sink, in emission order, and
// moves them to the delivered log. During rollback replay pending events are
// logged but not delivered; Flush returns the number of events delivered.
func (q *Queue) Flush() int {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.delivered = append(q.delivered, batch...)
	replaying := q.replaying
	sinks := q.snapshotSinksLocked()
	q.mu.Unlock()

	if replaying {
		return 0
	}
	for _, ev := range batch {
		for _, s := range sinks {
			s(ev)
		}
	}
	return len(batch)
}

// DiscardPending drops events emitted during a tick that aborted. The
// working frame was thrown away; observers must never see events from it.
func (q *Queue) DiscardPending() {
	q.mu.Lock()
	q.pending = nil
	q.mu.Unlock()
}

// BeginReplay switches the queue into replay mode: ticks re-simulated during
// rollback still log their events for ordering, but nothing reaches sinks
// until EndReplay.
func (q *Queue) BeginReplay() {
	q.mu.Lock()
	q.replaying = true
	q.mu.Unlock()
}

// EndReplay leaves replay mode and delivers the corrected timeline's events
// for ticks at or above from, in order.
func (q *Queue) EndReplay(from uint64) {
	q.mu.Lock()
	q.replaying = false
	var redeliver []Event
	for _, ev := range q.delivered {
		if ev.Tick >= from && !ev.Retracted {
			redeliver = append(redeliver, ev)
		}
	}
	sinks := q.snapshotSinksLocked()
	q.mu.Unlock()

	for _, ev := range redeliver {
		for _, s := range sinks {
			s(ev)
		}
	}
}

// Retract marks every delivered event at or above tick as retracted and
// redelivers each once with Retracted set, so observers can undo what they
// showed under the superseded timeline.
func (q *Queue) Retract(from uint64) {
	q.mu.Lock()
	var retracted []Event
	kept := q.delivered[:0]
	for _, ev := range q.delivered {
		if ev.Tick >= from {
			ev.Retracted = true
			retracted = append(retracted, ev)
			continue
		}
		kept = append(kept, ev)
	}
	q.delivered = kept
	sinks := q.snapshotSinksLocked()
	q.mu.Unlock()

	for _, ev := range retracted {
		for _, s := range sinks {
			s(ev)
		}
	}
}

// PruneBelow drops delivered events older than tick; they are final and can
// no longer be retracted.
func (q *Queue) PruneBelow(tick uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.delivered[:0]
	for _, ev := range q.delivered {
		if ev.Tick >= tick {
			kept = append(kept, ev)
		}
	}
	q.delivered = kept
}

func (q *Queue) snapshotSinksLocked() []Sink {
	out := make([]Sink, 0, len(q.sinkOrder))
	for _, id := range q.sinkOrder {
		out = append(out, q.sinks[id])
	}
	return out
}
