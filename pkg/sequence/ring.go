package sequence

// Ring is a fixed-capacity sliding window keyed by a monotonically
// increasing sequence number. Writing sequence n overwrites whatever
// occupied slot n mod capacity, so the ring always holds at most the last
// capacity sequences written.
type Ring[T any] struct {
	slots []ringSlot[T]
}

type ringSlot[T any] struct {
	seq uint64
	set bool
	val T
}

// NewRing creates a ring holding up to capacity entries.
func NewRing[T any](capacity int) *Ring[T] {
	return &Ring[T]{slots: make([]ringSlot[T], capacity)}
}

// Cap returns the ring's capacity.
func (r *Ring[T]) Cap() int { return len(r.slots) }

// Put stores v under seq, displacing any older entry in the same slot.
func (r *Ring[T]) Put(seq uint64, v T) {
	r.slots[seq%uint64(len(r.slots))] = ringSlot[T]{seq: seq, set: true, val: v}
}

// Get returns the value stored under seq, if it is still within the window.
func (r *Ring[T]) Get(seq uint64) (T, bool) {
	s := r.slots[seq%uint64(len(r.slots))]
	if !s.set || s.seq != seq {
		var zero T
		return zero, false
	}
	return s.val, true
}
