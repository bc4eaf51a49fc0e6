package ecs

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simforge/simforge/internal/core/fixed"
)

type pos struct {
	X, Y fixed.Fixed
}

type vel struct {
	X, Y fixed.Fixed
}

type tag struct {
	Kind uint32
}

func newTestWorld() *World {
	w := NewWorld(NewSchema())
	RegisterComponent[pos](w)
	RegisterComponent[vel](w)
	RegisterComponent[tag](w)
	return w
}

func TestCreateDestroyGenerations(t *testing.T) {
	w := newTestWorld()
	a := w.Create()
	b := w.Create()
	require.True(t, w.Alive(a))
	require.True(t, w.Alive(b))
	assert.NotEqual(t, a.Index, b.Index)

	require.NoError(t, w.Destroy(a))
	assert.False(t, w.Alive(a))

	// slot is recycled with a bumped generation
	c := w.Create()
	assert.Equal(t, a.Index, c.Index)
	assert.Equal(t, a.Generation+1, c.Generation)
	assert.True(t, w.Alive(c))

	// the stale reference must not resolve to the new occupant
	assert.False(t, w.Alive(a))
	err := Add(w, a, pos{X: fixed.One})
	require.ErrorIs(t, err, ErrStaleReference)
	_, err = Get[pos](w, a)
	require.ErrorIs(t, err, ErrStaleReference)
	require.ErrorIs(t, w.Destroy(a), ErrStaleReference)
}

func TestZeroEntityNeverResolves(t *testing.T) {
	w := newTestWorld()
	first := w.Create()
	assert.Equal(t, uint32(0), first.Index)
	assert.Equal(t, uint32(1), first.Generation, "live generations start at 1")

	// the null reference must not alias the slot-0 occupant
	assert.False(t, w.Alive(Zero))
	_, err := Get[pos](w, Zero)
	require.ErrorIs(t, err, ErrStaleReference)
	require.ErrorIs(t, w.Destroy(Zero), ErrStaleReference)
	assert.True(t, w.Alive(first))
}

func TestAddGetRemove(t *testing.T) {
	w := newTestWorld()
	e := w.Create()
	require.NoError(t, Add(w, e, pos{X: fixed.FromInt(3), Y: fixed.FromInt(4)}))

	p, err := Get[pos](w, e)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, fixed.FromInt(3), p.X)

	// in-place mutation is visible on the next read
	p.X = fixed.FromInt(7)
	p2, err := Get[pos](w, e)
	require.NoError(t, err)
	assert.Equal(t, fixed.FromInt(7), p2.X)

	// absent component reads as nil without error
	v, err := Get[vel](w, e)
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.False(t, Has[vel](w, e))

	require.NoError(t, Remove[pos](w, e))
	p3, err := Get[pos](w, e)
	require.NoError(t, err)
	assert.Nil(t, p3)
	// removing again is a no-op
	require.NoError(t, Remove[pos](w, e))
}

func TestQueryAscendingOrder(t *testing.T) {
	w := newTestWorld()
	var made []Entity
	for i := 0; i < 8; i++ {
		e := w.Create()
		made = append(made, e)
		require.NoError(t, Add(w, e, pos{}))
	}
	// punch holes and refill so insertion order diverges from index order
	require.NoError(t, w.Destroy(made[5]))
	require.NoError(t, w.Destroy(made[1]))
	e1 := w.Create() // reuses index 1
	require.NoError(t, Add(w, e1, pos{}))
	e5 := w.Create() // reuses index 5
	require.NoError(t, Add(w, e5, pos{}))

	posID, err := IDOf[pos](w)
	require.NoError(t, err)
	q := w.Query(NewMask(posID))
	var indices []uint32
	for e, ok := q.Next(); ok; e, ok = q.Next() {
		indices = append(indices, e.Index)
	}
	assert.Equal(t, []uint32{0, 1, 2, 3, 4, 5, 6, 7}, indices)
}

func TestQueryFiltersByMask(t *testing.T) {
	w := newTestWorld()
	both := w.Create()
	require.NoError(t, Add(w, both, pos{}))
	require.NoError(t, Add(w, both, vel{}))
	posOnly := w.Create()
	require.NoError(t, Add(w, posOnly, pos{}))

	posID, _ := IDOf[pos](w)
	velID, _ := IDOf[vel](w)
	q := w.Query(NewMask(posID, velID))
	var got []Entity
	for e, ok := q.Next(); ok; e, ok = q.Next() {
		got = append(got, e)
	}
	require.Len(t, got, 1)
	assert.Equal(t, both, got[0])
}

func TestStructuralChangesDeferredDuringIteration(t *testing.T) {
	w := newTestWorld()
	for i := 0; i < 4; i++ {
		e := w.Create()
		require.NoError(t, Add(w, e, pos{}))
	}
	posID, _ := IDOf[pos](w)

	q := w.Query(NewMask(posID))
	seen := 0
	var created Entity
	for e, ok := q.Next(); ok; e, ok = q.Next() {
		seen++
		if seen == 1 {
			// buffered until the iteration closes
			created = w.Create()
			require.NoError(t, Add(w, created, pos{}))
			require.NoError(t, w.Destroy(e))
		}
	}
	// the entity created mid-iteration was not visited
	assert.Equal(t, 4, seen)

	// after close, all buffered changes applied in order
	assert.True(t, w.Alive(created))
	assert.True(t, Has[pos](w, created))
	assert.Equal(t, 4, w.Len())
}

func TestCloneIndependence(t *testing.T) {
	w := newTestWorld()
	e := w.Create()
	require.NoError(t, Add(w, e, pos{X: fixed.One}))

	c := w.Clone()
	p, err := Get[pos](w, e)
	require.NoError(t, err)
	p.X = fixed.FromInt(99)

	cp, err := Get[pos](c, e)
	require.NoError(t, err)
	assert.Equal(t, fixed.One, cp.X, "clone must not observe later mutation")
}

func TestEncodeDeterministicAcrossHistories(t *testing.T) {
	build := func() *World {
		w := newTestWorld()
		for i := 0; i < 5; i++ {
			e := w.Create()
			require.NoError(t, Add(w, e, pos{X: fixed.FromInt(int64(i))}))
			if i%2 == 0 {
				require.NoError(t, Add(w, e, vel{Y: fixed.One}))
			}
		}
		return w
	}
	var a, b bytes.Buffer
	require.NoError(t, build().EncodeTo(&a))
	require.NoError(t, build().EncodeTo(&b))
	assert.Equal(t, a.Bytes(), b.Bytes())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	w := newTestWorld()
	for i := 0; i < 6; i++ {
		e := w.Create()
		require.NoError(t, Add(w, e, pos{X: fixed.FromInt(int64(i * 10))}))
	}
	dead := w.Create()
	require.NoError(t, w.Destroy(dead))

	var buf bytes.Buffer
	require.NoError(t, w.EncodeTo(&buf))

	restored := NewWorld(w.Schema())
	require.NoError(t, restored.DecodeFrom(bytes.NewReader(buf.Bytes())))

	var again bytes.Buffer
	require.NoError(t, restored.EncodeTo(&again))
	assert.Equal(t, buf.Bytes(), again.Bytes())
	assert.Equal(t, w.Len(), restored.Len())
}

func TestMaskOperations(t *testing.T) {
	m := NewMask(0, 3, 70)
	assert.True(t, m.Has(0))
	assert.True(t, m.Has(70))
	assert.False(t, m.Has(1))
	assert.True(t, m.ContainsAll(NewMask(0, 70)))
	assert.False(t, m.ContainsAll(NewMask(0, 1)))
	assert.True(t, m.Overlaps(NewMask(3)))
	assert.False(t, m.Overlaps(NewMask(5, 90)))
	assert.False(t, m.IsZero())
	assert.True(t, Mask{}.IsZero())
}
