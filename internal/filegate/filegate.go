// Package filegate implements the per-path exclusive critical section that
// serializes concurrent mutating callers within one process, plus the
// process-wide permit pool bounding total in-flight operations.
package filegate

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate serializes access to individual collection files and caps the
// number of operations in flight across the whole engine. It protects the
// engine from its own concurrent callers only — it takes no OS-level file
// lock and offers no protection across processes.
type Gate struct {
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	permits *semaphore.Weighted
	waits   atomic.Uint64
}

// New builds a Gate that admits at most maxConnections concurrent
// in-flight operations across all collections.
func New(maxConnections int64) *Gate {
	if maxConnections <= 0 {
		maxConnections = 1
	}
	return &Gate{
		locks:   make(map[string]*sync.Mutex),
		permits: semaphore.NewWeighted(maxConnections),
	}
}

func (g *Gate) lockFor(path string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[path]
	if !ok {
		l = &sync.Mutex{}
		g.locks[path] = l
	}
	return l
}

// With runs fn while holding both the process-wide permit and the
// per-path exclusive lock for path. The caller suspends until both are
// available. ctx bounds only the wait for the permit. The per-path lock is
// a sync.Mutex, so callers waiting on the same path are not guaranteed to
// be admitted in arrival order.
func (g *Gate) With(ctx context.Context, path string, fn func() error) error {
	if err := g.permits.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.permits.Release(1)

	lock := g.lockFor(path)
	if !lock.TryLock() {
		g.waits.Add(1)
		lock.Lock()
	}
	defer lock.Unlock()

	return fn()
}

// Waits reports how many times a caller found its path's lock already held
// and had to suspend, for operational visibility.
func (g *Gate) Waits() uint64 {
	return g.waits.Load()
}

// Forget drops the per-path lock entry, used when a collection is dropped
// so the gate's internal map does not grow unbounded across the engine's
// lifetime.
func (g *Gate) Forget(path string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.locks, path)
}
