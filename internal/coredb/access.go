package coredb

import (
	"context"
	"time"

	"media-catalog/internal/backend"
	"media-catalog/internal/catalog"
	"media-catalog/internal/dbparams"
	"media-catalog/internal/metrics"
)

// Access is one held level of the access lock. Every Access returned by
// Acquire must be released exactly once, on the goroutine that acquired
// it, usually with defer:
//
//	a := core.Acquire(ctx)
//	defer a.Release()
//	roots, err := a.DB().AlbumRoots(ctx)
type Access struct {
	core     *Core
	released bool
}

// Acquire takes one level of the access lock, blocking until it is
// available. The first access after configuration opens the backend;
// nested accesses made while that happens skip it.
//
// Acquire panics if SetParameters was never called.
func (c *Core) Acquire(ctx context.Context) *Access {
	c.lockAccess()
	if !c.configured {
		c.unlockAccess()
		panic("coredb: Acquire called before SetParameters")
	}

	if c.state == StateUninitialized && c.backend != nil && !c.backend.IsOpen() {
		c.state = StateInitializing
		c.initialize(ctx)
	}
	return &Access{core: c}
}

// acquireLocked takes the lock without the initialization check; the
// readiness gate opens the backend itself.
func (c *Core) acquireLocked() *Access {
	c.lockAccess()
	return &Access{core: c}
}

// Release gives back the level taken by Acquire. Releasing the last level
// held by the goroutine also returns its connection to the pool, unless a
// transaction is still open on it.
func (a *Access) Release() {
	if a.released {
		panic("coredb: Access released twice")
	}
	a.released = true

	c := a.core
	if c.lock.Depth() == 1 && c.backend != nil {
		c.backend.ReleaseIdleThread()
	}
	c.unlockAccess()
}

// DB returns the logical database. It must not be used after Release.
func (a *Access) DB() *catalog.DB {
	return a.core.db
}

// Backend returns the backend. It must not be used after Release.
func (a *Access) Backend() *backend.Backend {
	return a.core.backend
}

// Parameters returns the parameters the backend was configured with.
func (a *Access) Parameters() dbparams.Parameters {
	return a.core.params
}

// Core returns the core the access belongs to.
func (a *Access) Core() *Core {
	return a.core
}

// WithAccess runs fn while holding one level of the access lock.
func (c *Core) WithAccess(ctx context.Context, fn func(a *Access) error) error {
	a := c.Acquire(ctx)
	defer a.Release()
	return fn(a)
}

// UnlockScope releases every level of the access lock held by the calling
// goroutine until Relock restores them. Code running inside the scope must
// not rely on the backend or the logical database staying the same.
type UnlockScope struct {
	core     *Core
	count    int
	relocked bool
}

// NewUnlockScope reads the calling goroutine's lock depth under the lock
// and releases all of it. A goroutine that holds no access gets a scope
// that does nothing.
func (c *Core) NewUnlockScope() *UnlockScope {
	c.lock.Lock()
	held := c.lock.Depth() - 1
	c.lock.Unlock()

	u := &UnlockScope{core: c}
	if held > 0 {
		u.count = c.lock.ReleaseAll()
		metrics.UnlockScopesTotal.Inc()
		metrics.LockDepth.Set(0)
	}
	return u
}

// NewUnlockScopeHeld is NewUnlockScope for callers that hold an access.
// It panics if the calling goroutine does not hold the lock.
func (c *Core) NewUnlockScopeHeld() *UnlockScope {
	u := &UnlockScope{core: c, count: c.lock.ReleaseAll()}
	metrics.UnlockScopesTotal.Inc()
	metrics.LockDepth.Set(0)
	return u
}

// Count returns how many levels the scope released.
func (u *UnlockScope) Count() int {
	return u.count
}

// Relock reacquires the released levels, blocking until the lock is free.
func (u *UnlockScope) Relock() {
	if u.relocked {
		panic("coredb: UnlockScope relocked twice")
	}
	u.relocked = true
	if u.count == 0 {
		return
	}

	c := u.core
	start := time.Now()
	c.lock.Restore(u.count)
	metrics.LockWaitDuration.Observe(time.Since(start).Seconds())
	metrics.LockDepth.Set(float64(u.count))
}

// Unlocked runs fn with the calling goroutine's access released.
func (c *Core) Unlocked(fn func()) {
	u := c.NewUnlockScope()
	defer u.Relock()
	fn()
}
