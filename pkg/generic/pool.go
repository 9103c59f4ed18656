// Package generic holds small type-safe helpers over the standard library.
package generic

import "sync"

// Pool is a typed sync.Pool. An optional reset hook runs on every Put.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T) T
}

func NewPool[T any](generate func() T) *Pool[T] {
	return &Pool[T]{
		pool: sync.Pool{
			New: func() any {
				return generate()
			},
		},
	}
}

// NewResetPool returns a pool that passes every value through reset before keeping it.
func NewResetPool[T any](generate func() T, reset func(T) T) *Pool[T] {
	p := NewPool[T](generate)
	p.reset = reset
	return p
}

func NewHotPool[T any](generate func() T, hotSize int) *Pool[T] {
	p := NewPool[T](generate)
	for i := 0; i < hotSize; i++ {
		p.pool.Put(generate())
	}
	return p
}

func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

func (p *Pool[T]) Put(value T) {
	if p.reset != nil {
		value = p.reset(value)
	}
	p.pool.Put(value)
}

// BufferPool hands out byte slices of a fixed length, used for datagram reads.
type BufferPool struct {
	*Pool[*[]byte]
	size int
}

func NewBufferPool(size int) *BufferPool {
	return &BufferPool{
		Pool: NewResetPool(
			func() *[]byte {
				b := make([]byte, size)
				return &b
			},
			func(b *[]byte) *[]byte {
				*b = (*b)[:cap(*b)]
				return b
			},
		),
		size: size,
	}
}

// Size is the length of every buffer handed out.
func (p *BufferPool) Size() int { return p.size }
