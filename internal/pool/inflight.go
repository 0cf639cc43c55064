package pool

import (
	"context"
	"sync"
)

// inflightGroup coalesces concurrent refreshes of the same account: the
// first caller runs fn, later callers block until it finishes and share its
// error. Waiters honor their own context.
type inflightGroup struct {
	mu      sync.Mutex
	flights map[string]*flight
}

type flight struct {
	wg  sync.WaitGroup
	err error
}

func newInflightGroup() *inflightGroup {
	return &inflightGroup{flights: make(map[string]*flight)}
}

func (g *inflightGroup) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if key == "" {
		return fn(ctx)
	}
	g.mu.Lock()
	if f := g.flights[key]; f != nil {
		g.mu.Unlock()
		done := make(chan struct{})
		go func() { f.wg.Wait(); close(done) }()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return f.err
		}
	}
	f := &flight{}
	f.wg.Add(1)
	g.flights[key] = f
	g.mu.Unlock()

	err := fn(ctx)
	f.err = err
	f.wg.Done()

	g.mu.Lock()
	delete(g.flights, key)
	g.mu.Unlock()
	return err
}
