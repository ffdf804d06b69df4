// Package parallel splits index ranges across a bounded set of goroutines.
// Every pass must write to disjoint output indices.
package parallel

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// DefaultGrain is the smallest chunk handed to a worker.
const DefaultGrain = 2048

// Pool describes how a data-parallel pass is dispatched. The zero value
// runs serially.
type Pool struct {
	Workers int
	Grain   int
}

// NewPool returns a pool with the given worker count. workers <= 0 uses
// GOMAXPROCS.
func NewPool(workers, grain int) Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if grain <= 0 {
		grain = DefaultGrain
	}
	return Pool{Workers: workers, Grain: grain}
}

// Serial reports whether a pass over n items runs on the calling goroutine.
func (p Pool) Serial(n int) bool {
	return p.Workers <= 1 || n <= p.grain()
}

func (p Pool) grain() int {
	if p.Grain <= 0 {
		return DefaultGrain
	}
	return p.Grain
}

// For calls fn over [0,n) split into contiguous chunks [lo,hi).
func (p Pool) For(n int, fn func(lo, hi int)) {
	_ = p.ForErr(n, func(lo, hi int) error {
		fn(lo, hi)
		return nil
	})
}

// ForErr is For with error propagation. The first error is returned after
// all started chunks finish.
func (p Pool) ForErr(n int, fn func(lo, hi int) error) error {
	if n <= 0 {
		return nil
	}
	if p.Serial(n) {
		return fn(0, n)
	}
	chunks := p.Workers * 4
	size := (n + chunks - 1) / chunks
	if g := p.grain(); size < g {
		size = g
	}

	var g errgroup.Group
	g.SetLimit(p.Workers)
	for lo := 0; lo < n; lo += size {
		lo, hi := lo, min(lo+size, n)
		g.Go(func() error { return fn(lo, hi) })
	}
	return g.Wait()
}

// Each runs fn(i) for every i in [0,n), one task per item. Use it for
// coarse items such as proxies.
func (p Pool) Each(n int, fn func(i int) error) error {
	if n <= 0 {
		return nil
	}
	if p.Workers <= 1 || n == 1 {
		for i := 0; i < n; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}
	var g errgroup.Group
	g.SetLimit(p.Workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error { return fn(i) })
	}
	return g.Wait()
}
