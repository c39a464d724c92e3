package worker

import (
	"context"
	"runtime"
	"sync/atomic"
)

// Pool bounds CPU-bound analysis to a fixed number of slots. The context is
// honoured only while waiting for a slot; running work is never interrupted.
type Pool struct {
	sem      chan struct{}
	inFlight atomic.Int64
}

// NewPool creates a pool with size slots. A non-positive size uses GOMAXPROCS.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Do runs fn once a slot is free.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.inFlight.Add(1)
	defer func() {
		p.inFlight.Add(-1)
		<-p.sem
	}()
	return fn()
}

// Run is Do for functions returning a value.
func Run[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return cap(p.sem)
}

// InFlight returns the number of running tasks.
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}
