// Package generic holds small type-parameterized utilities shared across
// packages.
package generic

import "sync"

// Pool is a typed wrapper over sync.Pool.
type Pool[T any] struct {
	pool sync.Pool
}

// NewPool creates a pool whose misses are served by generate.
func NewPool[T any](generate func() T) *Pool[T] {
	return &Pool[T]{
		pool: sync.Pool{
			New: func() any { return generate() },
		},
	}
}

// Get returns a pooled value, allocating one on a miss.
func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

// Put returns a value to the pool. The caller must not retain it.
func (p *Pool[T]) Put(value T) {
	p.pool.Put(value)
}
