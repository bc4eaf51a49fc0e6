package ecs

import (
	"encoding/binary"
	"fmt"
	"io"
	"reflect"
)

// Components are plain-data records with fixed-size fields (Fixed, sized
// integers, arrays thereof). Fixed size keeps the canonical encoding, and
// therefore the state hash, well defined.

type opKind uint8

const (
	opActivate opKind = iota
	opDestroy
	opAdd
	opRemove
)

type pendingOp struct {
	kind opKind
	e    Entity
	comp ComponentID
	val  any
}

// column is dense per-type storage, one slot per entity index.
type column interface {
	grow(n int)
	clear(idx uint32)
	setAny(idx uint32, v any)
	clone() column
	writeEntry(w io.Writer, idx uint32) error
	readEntry(r io.Reader, idx uint32) error
}

type typedColumn[T any] struct {
	data []T
}

func (c *typedColumn[T]) grow(n int) {
	c.data = append(c.data, make([]T, n)...)
}

func (c *typedColumn[T]) clear(idx uint32) {
	var zero T
	c.data[idx] = zero
}

func (c *typedColumn[T]) setAny(idx uint32, v any) { c.data[idx] = v.(T) }

func (c *typedColumn[T]) clone() column {
	d := make([]T, len(c.data))
	copy(d, c.data)
	return &typedColumn[T]{data: d}
}

func (c *typedColumn[T]) writeEntry(w io.Writer, idx uint32) error {
	return binary.Write(w, binary.LittleEndian, c.data[idx])
}

func (c *typedColumn[T]) readEntry(r io.Reader, idx uint32) error {
	return binary.Read(r, binary.LittleEndian, &c.data[idx])
}

// RegisterComponent assigns a ComponentID to T within the world's schema and
// allocates its storage column. Registration must complete before the world
// is first cloned. It panics on a non-fixed-size type or on exhausting the
// ID space; both are setup-time programming errors.
func RegisterComponent[T any](w *World) ComponentID {
	var zero T
	t := reflect.TypeOf(zero)
	s := w.schema
	if id, ok := s.ids[t]; ok {
		return id
	}
	if len(s.factories) >= maxComponentTypes {
		panic(fmt.Sprintf("ecs: component type limit (%d) exceeded registering %s", maxComponentTypes, t))
	}
	size := binary.Size(zero)
	if size < 0 {
		panic(fmt.Sprintf("ecs: component %s is not fixed-size encodable", t))
	}
	id := ComponentID(len(s.factories))
	s.ids[t] = id
	s.sizes = append(s.sizes, size)
	s.factories = append(s.factories, func() column { return &typedColumn[T]{} })
	col := &typedColumn[T]{}
	col.grow(len(w.metas))
	w.columns = append(w.columns, col)
	return id
}

// IDOf returns the ComponentID registered for T.
func IDOf[T any](w *World) (ComponentID, error) {
	var zero T
	id, ok := w.schema.ids[reflect.TypeOf(zero)]
	if !ok {
		return 0, fmt.Errorf("%w: %T", ErrNotRegistered, zero)
	}
	return id, nil
}

// Add attaches component value v to entity e, replacing any existing value of
// the same type. During iteration the attach is buffered.
func Add[T any](w *World, e Entity, v T) error {
	id, err := IDOf[T](w)
	if err != nil {
		return err
	}
	if err := w.check(e); err != nil {
		return err
	}
	if w.iter > 0 {
		w.pending = append(w.pending, pendingOp{kind: opAdd, e: e, comp: id, val: v})
		return nil
	}
	w.columns[id].setAny(e.Index, v)
	w.metas[e.Index].mask.Set(id)
	return nil
}

// Remove detaches T from entity e. Removing an absent component is a no-op.
func Remove[T any](w *World, e Entity) error {
	id, err := IDOf[T](w)
	if err != nil {
		return err
	}
	if err := w.check(e); err != nil {
		return err
	}
	if w.iter > 0 {
		w.pending = append(w.pending, pendingOp{kind: opRemove, e: e, comp: id})
		return nil
	}
	if w.metas[e.Index].mask.Has(id) {
		w.columns[id].clear(e.Index)
		w.metas[e.Index].mask.Clear(id)
	}
	return nil
}

// Get returns a pointer to e's T component, nil if the component is absent,
// or ErrStaleReference if e no longer resolves. The pointer is valid until
// the next structural change and must not be retained across ticks.
func Get[T any](w *World, e Entity) (*T, error) {
	id, err := IDOf[T](w)
	if err != nil {
		return nil, err
	}
	if err := w.check(e); err != nil {
		return nil, err
	}
	if !w.metas[e.Index].mask.Has(id) {
		return nil, nil
	}
	return &w.columns[id].(*typedColumn[T]).data[e.Index], nil
}

// Has reports whether entity e currently carries a T component.
func Has[T any](w *World, e Entity) bool {
	id, err := IDOf[T](w)
	if err != nil {
		return false
	}
	return w.Alive(e) && w.metas[e.Index].mask.Has(id)
}
