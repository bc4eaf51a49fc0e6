// Package input buffers per-player inputs by tick, tracking which values are
// local predictions and which are confirmed by the authoritative source.
// The buffer is the one structure shared between the network producer and
// the simulation loop, so every operation is mutex-serialized.
package input

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInvalidInput rejects a payload whose size does not match the
	// fixed per-player input record size.
	ErrInvalidInput = errors.New("input: invalid input payload")
	// ErrOutsideWindow means the tick left the sliding window and can no
	// longer be corrected; the caller escalates to a full resync.
	ErrOutsideWindow = errors.New("input: tick outside retained window")
	// ErrConfirmConflict means a confirmed slot was confirmed again with a
	// different value. Confirmed inputs are immutable.
	ErrConfirmConflict = errors.New("input: conflicting confirmation")
)

// PlayerID identifies one input source.
type PlayerID uint32

type slotState uint8

const (
	slotEmpty slotState = iota
	slotPredicted
	slotConfirmed
)

type slot struct {
	tick  uint64
	state slotState
	value []byte
}

type playerRing struct {
	slots             []slot
	lastConfirmed     []byte
	lastConfirmedTick uint64
}

// Buffer is a per-player ring of the last window ticks of input.
type Buffer struct {
	mu      sync.Mutex
	window  int
	size    int // fixed input record size in bytes
	players map[PlayerID]*playerRing
}

// NewBuffer creates a buffer retaining window ticks of fixed-size inputs.
func NewBuffer(window, inputSize int) *Buffer {
	return &Buffer{
		window:  window,
		size:    inputSize,
		players: make(map[PlayerID]*playerRing),
	}
}

// InputSize returns the fixed per-tick input record size.
func (b *Buffer) InputSize() int { return b.size }

func (b *Buffer) ring(p PlayerID) *playerRing {
	r, ok := b.players[p]
	if !ok {
		r = &playerRing{slots: make([]slot, b.window)}
		b.players[p] = r
	}
	return r
}

func (b *Buffer) validate(v []byte) error {
	if len(v) != b.size {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidInput, len(v), b.size)
	}
	return nil
}

// PushPredicted stores a locally predicted input for (player, tick). A
// confirmed slot is never overwritten; pushing over one is silently ignored
// since the authoritative value already won.
func (b *Buffer) PushPredicted(p PlayerID, tick uint64, v []byte) error {
	if err := b.validate(v); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.ring(p)
	s := &r.slots[tick%uint64(b.window)]
	if s.tick == tick && s.state == slotConfirmed {
		return nil
	}
	*s = slot{tick: tick, state: slotPredicted, value: append([]byte(nil), v...)}
	return nil
}

// Confirm installs the authoritative input for (player, tick). It reports
// whether the confirmation contradicts the prediction the simulation already
// consumed, in which case the caller must roll back from that tick.
// Confirming a tick that slid out of the window fails with ErrOutsideWindow;
// re-confirming with a different value fails with ErrConfirmConflict.
func (b *Buffer) Confirm(p PlayerID, tick uint64, v []byte) (mispredicted bool, err error) {
	if err := b.validate(v); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.ring(p)
	s := &r.slots[tick%uint64(b.window)]
	if s.state != slotEmpty && s.tick > tick {
		return false, fmt.Errorf("%w: tick %d overwritten by %d", ErrOutsideWindow, tick, s.tick)
	}
	switch {
	case s.tick == tick && s.state == slotConfirmed:
		if !bytes.Equal(s.value, v) {
			return false, fmt.Errorf("%w: player %d tick %d", ErrConfirmConflict, p, tick)
		}
		return false, nil
	case s.tick == tick && s.state == slotPredicted:
		mispredicted = !bytes.Equal(s.value, v)
	}
	*s = slot{tick: tick, state: slotConfirmed, value: append([]byte(nil), v...)}
	// confirmations can land out of order; the prediction source follows
	// the newest confirmed tick, not the latest arrival
	if r.lastConfirmed == nil || tick >= r.lastConfirmedTick {
		r.lastConfirmed = s.value
		r.lastConfirmedTick = tick
	}
	return mispredicted, nil
}

// Get returns the input for (player, tick): the confirmed value when
// present, otherwise the stored prediction. When the slot is empty the
// buffer materializes a prediction by repeating the player's most recent
// confirmed input (a zero record before any confirmation) and records it as
// predicted so a later Confirm can detect the misprediction.
func (b *Buffer) Get(p PlayerID, tick uint64) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.ring(p)
	s := &r.slots[tick%uint64(b.window)]
	if s.tick == tick && s.state != slotEmpty {
		return append([]byte(nil), s.value...)
	}
	pred := make([]byte, b.size)
	copy(pred, r.lastConfirmed)
	*s = slot{tick: tick, state: slotPredicted, value: pred}
	return append([]byte(nil), pred...)
}

// Confirmed reports whether (player, tick) holds an authoritative value.
func (b *Buffer) Confirmed(p PlayerID, tick uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &b.ring(p).slots[tick%uint64(b.window)]
	return s.tick == tick && s.state == slotConfirmed
}
