package ecs

import (
	"encoding/binary"
	"fmt"
	"io"
	"reflect"
)

// Schema maps component types to IDs and knows how to build their storage
// columns. A schema is populated during setup and shared, immutable, by every
// world cloned from the same simulation instance.
type Schema struct {
	ids       map[reflect.Type]ComponentID
	factories []func() column
	sizes     []int
}

// NewSchema returns an empty schema.
func NewSchema() *Schema {
	return &Schema{ids: make(map[reflect.Type]ComponentID, 16)}
}

func (s *Schema) count() int { return len(s.factories) }

// World is one entity registry plus its component columns. A world is not
// safe for concurrent mutation; the scheduler guarantees a single mutator per
// tick.
type World struct {
	schema  *Schema
	metas   []entityMeta
	free    []uint32 // recycled indices, popped in LIFO order
	columns []column
	iter    int // active iteration depth
	pending []pendingOp
}

// NewWorld creates an empty world over the given schema, materializing a
// column for every component type already registered.
func NewWorld(schema *Schema) *World {
	w := &World{schema: schema}
	for _, factory := range schema.factories {
		w.columns = append(w.columns, factory())
	}
	return w
}

// Schema returns the world's component schema.
func (w *World) Schema() *Schema { return w.schema }

// Create allocates a new entity, recycling a freed slot (with a bumped
// generation) when one exists. It never fails. During an active query
// iteration the entity is reserved immediately but becomes visible to
// queries only after the iteration closes.
func (w *World) Create() Entity {
	var idx uint32
	if n := len(w.free); n > 0 {
		idx = w.free[n-1]
		w.free = w.free[:n-1]
	} else {
		idx = uint32(len(w.metas))
		// generations start at 1 so the zero Entity never resolves
		w.metas = append(w.metas, entityMeta{generation: 1})
		for _, c := range w.columns {
			c.grow(1)
		}
	}
	m := &w.metas[idx]
	m.mask = Mask{}
	e := Entity{Index: idx, Generation: m.generation}
	if w.iter > 0 {
		w.pending = append(w.pending, pendingOp{kind: opActivate, e: e})
		return e
	}
	m.alive = true
	return e
}

// Destroy removes an entity and reclaims its component storage. The slot's
// generation is bumped so outstanding references to the old entity go stale.
// During iteration the destroy is buffered and applied after.
func (w *World) Destroy(e Entity) error {
	if err := w.check(e); err != nil {
		return err
	}
	if w.iter > 0 {
		w.pending = append(w.pending, pendingOp{kind: opDestroy, e: e})
		return nil
	}
	w.destroyNow(e)
	return nil
}

func (w *World) destroyNow(e Entity) {
	m := &w.metas[e.Index]
	for id := 0; id < len(w.columns); id++ {
		if m.mask.Has(ComponentID(id)) {
			w.columns[id].clear(e.Index)
		}
	}
	m.alive = false
	m.mask = Mask{}
	m.generation++
	w.free = append(w.free, e.Index)
}

// Alive reports whether e still refers to a live entity.
func (w *World) Alive(e Entity) bool {
	return int(e.Index) < len(w.metas) &&
		w.metas[e.Index].alive &&
		w.metas[e.Index].generation == e.Generation
}

// MaskOf returns the component membership mask of e.
func (w *World) MaskOf(e Entity) (Mask, error) {
	if err := w.check(e); err != nil {
		return Mask{}, err
	}
	return w.metas[e.Index].mask, nil
}

// Len returns the number of live entities.
func (w *World) Len() int {
	n := 0
	for i := range w.metas {
		if w.metas[i].alive {
			n++
		}
	}
	return n
}

func (w *World) check(e Entity) error {
	if int(e.Index) >= len(w.metas) {
		return fmt.Errorf("%w: index %d out of range", ErrStaleReference, e.Index)
	}
	m := &w.metas[e.Index]
	if !m.alive || m.generation != e.Generation {
		// a reserved-but-not-yet-activated entity is addressable for
		// buffered ops during iteration
		if w.iter > 0 && m.generation == e.Generation && w.isStaged(e) {
			return nil
		}
		return fmt.Errorf("%w: entity %d gen %d", ErrStaleReference, e.Index, e.Generation)
	}
	return nil
}

func (w *World) isStaged(e Entity) bool {
	for i := range w.pending {
		if w.pending[i].kind == opActivate && w.pending[i].e == e {
			return true
		}
	}
	return false
}

// Query returns an iterator over live entities whose mask contains every bit
// of the given mask, in strictly ascending index order. Structural changes
// made while any iterator is open are buffered and applied when the last
// iterator closes (buffer-and-apply-after policy).
func (w *World) Query(mask Mask) *Query {
	w.iter++
	return &Query{w: w, mask: mask, next: 0}
}

// Query is a lazy, restartable cursor over matching entities.
type Query struct {
	w    *World
	mask Mask
	next uint32
	done bool
}

// Next advances the cursor. It returns the zero Entity and false when the
// iteration is exhausted, at which point the query closes itself.
func (q *Query) Next() (Entity, bool) {
	if q.done {
		return Zero, false
	}
	for i := q.next; int(i) < len(q.w.metas); i++ {
		m := &q.w.metas[i]
		if m.alive && m.mask.ContainsAll(q.mask) {
			q.next = i + 1
			return Entity{Index: i, Generation: m.generation}, true
		}
	}
	q.Close()
	return Zero, false
}

// Restart rewinds the cursor to the lowest index without closing it.
func (q *Query) Restart() { q.next = 0 }

// Close releases the iterator. Closing the last open iterator applies all
// structural changes buffered during iteration, in the order they were made.
func (q *Query) Close() {
	if q.done {
		return
	}
	q.done = true
	q.w.iter--
	if q.w.iter == 0 {
		q.w.applyPending()
	}
}

func (w *World) applyPending() {
	ops := w.pending
	w.pending = nil
	for i := range ops {
		op := &ops[i]
		switch op.kind {
		case opActivate:
			w.metas[op.e.Index].alive = true
		case opDestroy:
			if w.Alive(op.e) {
				w.destroyNow(op.e)
			}
		case opAdd:
			if w.Alive(op.e) {
				w.columns[op.comp].setAny(op.e.Index, op.val)
				w.metas[op.e.Index].mask.Set(op.comp)
			}
		case opRemove:
			if w.Alive(op.e) && w.metas[op.e.Index].mask.Has(op.comp) {
				w.columns[op.comp].clear(op.e.Index)
				w.metas[op.e.Index].mask.Clear(op.comp)
			}
		}
	}
}

// Clone produces an independent copy of the world sharing only the immutable
// schema. Cloning with open iterators or buffered changes is a programming
// error.
func (w *World) Clone() *World {
	if w.iter > 0 || len(w.pending) > 0 {
		panic("ecs: clone during active iteration")
	}
	c := &World{
		schema:  w.schema,
		metas:   make([]entityMeta, len(w.metas)),
		free:    make([]uint32, len(w.free)),
		columns: make([]column, len(w.columns)),
	}
	copy(c.metas, w.metas)
	copy(c.free, w.free)
	for i, col := range w.columns {
		c.columns[i] = col.clone()
	}
	return c
}

// EncodeTo writes the world's full state in a canonical little-endian layout:
// slot metadata in index order, then component entries in (component ID,
// index) order. The same byte stream feeds both snapshot export and state
// hashing, so hash equality means byte equality.
func (w *World) EncodeTo(out io.Writer) error {
	if err := binary.Write(out, binary.LittleEndian, uint32(len(w.metas))); err != nil {
		return err
	}
	for i := range w.metas {
		m := &w.metas[i]
		alive := uint8(0)
		if m.alive {
			alive = 1
		}
		if err := binary.Write(out, binary.LittleEndian, m.generation); err != nil {
			return err
		}
		if err := binary.Write(out, binary.LittleEndian, alive); err != nil {
			return err
		}
		if err := binary.Write(out, binary.LittleEndian, m.mask); err != nil {
			return err
		}
	}
	if err := binary.Write(out, binary.LittleEndian, uint32(len(w.free))); err != nil {
		return err
	}
	if err := binary.Write(out, binary.LittleEndian, w.free); err != nil {
		return err
	}
	for id := 0; id < len(w.columns); id++ {
		cid := ComponentID(id)
		for i := range w.metas {
			if w.metas[i].alive && w.metas[i].mask.Has(cid) {
				if err := w.columns[id].writeEntry(out, uint32(i)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// DecodeFrom rebuilds world state from an EncodeTo stream. The world must be
// empty and share the schema of the encoding world.
func (w *World) DecodeFrom(in io.Reader) error {
	var n uint32
	if err := binary.Read(in, binary.LittleEndian, &n); err != nil {
		return err
	}
	w.metas = make([]entityMeta, n)
	w.columns = make([]column, w.schema.count())
	for id := range w.columns {
		w.columns[id] = w.schema.factories[id]()
		w.columns[id].grow(int(n))
	}
	for i := range w.metas {
		m := &w.metas[i]
		var alive uint8
		if err := binary.Read(in, binary.LittleEndian, &m.generation); err != nil {
			return err
		}
		if err := binary.Read(in, binary.LittleEndian, &alive); err != nil {
			return err
		}
		if err := binary.Read(in, binary.LittleEndian, &m.mask); err != nil {
			return err
		}
		m.alive = alive == 1
	}
	var nf uint32
	if err := binary.Read(in, binary.LittleEndian, &nf); err != nil {
		return err
	}
	w.free = make([]uint32, nf)
	if err := binary.Read(in, binary.LittleEndian, w.free); err != nil {
		return err
	}
	for id := 0; id < len(w.columns); id++ {
		cid := ComponentID(id)
		for i := range w.metas {
			if w.metas[i].alive && w.metas[i].mask.Has(cid) {
				if err := w.columns[id].readEntry(in, uint32(i)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
