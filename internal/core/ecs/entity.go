// Package ecs provides the entity registry and dense component storage the
// simulation kernel steps over. Iteration order and memory layout are fully
// deterministic: two worlds built from identical operation histories iterate,
// encode and hash identically.
package ecs

import "errors"

// Entity is an opaque reference to a live entity: a storage index plus a
// generation counter. An index is only reused after its generation is bumped,
// so a stale Entity can never resolve to the entity that later occupies the
// same slot.
type Entity struct {
	Index      uint32
	Generation uint32
}

// Zero is the null entity reference. It never resolves: live generations
// start at 1, so no slot ever answers to generation 0.
var Zero = Entity{}

// ComponentID identifies a registered component type within one schema.
type ComponentID uint8

const maxComponentTypes = 256

var (
	ErrStaleReference = errors.New("ecs: stale entity reference")
	ErrNotRegistered  = errors.New("ecs: component type not registered")
)

// entityMeta is the per-slot bookkeeping record.
type entityMeta struct {
	generation uint32
	alive      bool
	mask       Mask
}

// Mask is a 256-bit component membership set.
type Mask [4]uint64

// NewMask builds a mask containing the given component IDs.
func NewMask(ids ...ComponentID) Mask {
	var m Mask
	for _, id := range ids {
		m.Set(id)
	}
	return m
}

func (m *Mask) Set(id ComponentID)   { m[id>>6] |= 1 << (id & 63) }
func (m *Mask) Clear(id ComponentID) { m[id>>6] &^= 1 << (id & 63) }

func (m Mask) Has(id ComponentID) bool { return m[id>>6]&(1<<(id&63)) != 0 }

// ContainsAll reports whether every bit of sub is set in m.
func (m Mask) ContainsAll(sub Mask) bool {
	for i := range m {
		if m[i]&sub[i] != sub[i] {
			return false
		}
	}
	return true
}

// Overlaps reports whether m and other share any bit. The scheduler uses this
// to prove two systems have disjoint write sets.
func (m Mask) Overlaps(other Mask) bool {
	for i := range m {
		if m[i]&other[i] != 0 {
			return true
		}
	}
	return false
}

func (m Mask) IsZero() bool { return m == Mask{} }
