package dblock

import (
	"fmt"
	"sync"
)

// RecursiveLock is a mutex that the owning goroutine may acquire several
// times. It tracks the owner explicitly so that misuse panics instead of
// silently corrupting the depth, and so that the owner can hand the lock
// back completely and later take it again at the same depth.
type RecursiveLock struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner uint64
	depth int
}

// New returns an unlocked RecursiveLock.
func New() *RecursiveLock {
	l := &RecursiveLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Lock acquires one level of the lock, blocking while another goroutine
// holds it.
func (l *RecursiveLock) Lock() {
	gid := GoroutineID()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.depth > 0 && l.owner == gid {
		l.depth++
		return
	}
	for l.depth > 0 {
		l.cond.Wait()
	}
	l.owner = gid
	l.depth = 1
}

// TryLock acquires one level if the lock is free or already owned by the
// caller.
func (l *RecursiveLock) TryLock() bool {
	gid := GoroutineID()

	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.depth == 0:
		l.owner = gid
		l.depth = 1
	case l.owner == gid:
		l.depth++
	default:
		return false
	}
	return true
}

// Unlock releases one level. It panics if the caller does not hold the lock.
func (l *RecursiveLock) Unlock() {
	gid := GoroutineID()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.mustOwn(gid, "Unlock")
	l.depth--
	if l.depth == 0 {
		l.owner = 0
		l.cond.Signal()
	}
}

// Depth returns the current recursion depth, zero when unlocked.
func (l *RecursiveLock) Depth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.depth
}

// HeldByCurrent reports whether the calling goroutine owns the lock.
func (l *RecursiveLock) HeldByCurrent() bool {
	gid := GoroutineID()

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.depth > 0 && l.owner == gid
}

// ReleaseAll drops every level held by the caller and returns how many there
// were. It panics if the caller does not hold the lock.
func (l *RecursiveLock) ReleaseAll() int {
	gid := GoroutineID()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.mustOwn(gid, "ReleaseAll")
	n := l.depth
	l.depth = 0
	l.owner = 0
	l.cond.Signal()
	return n
}

// Restore waits for the lock to become free and takes it n levels deep.
// It is the counterpart of ReleaseAll; n <= 0 is a no-op.
func (l *RecursiveLock) Restore(n int) {
	if n <= 0 {
		return
	}
	gid := GoroutineID()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.depth > 0 && l.owner == gid {
		panic(fmt.Sprintf("dblock: Restore(%d) by goroutine %d which already holds %d levels", n, gid, l.depth))
	}
	for l.depth > 0 {
		l.cond.Wait()
	}
	l.owner = gid
	l.depth = n
}

func (l *RecursiveLock) mustOwn(gid uint64, op string) {
	if l.depth == 0 {
		panic(fmt.Sprintf("dblock: %s by goroutine %d on unlocked lock", op, gid))
	}
	if l.owner != gid {
		panic(fmt.Sprintf("dblock: %s by goroutine %d, lock owned by goroutine %d", op, gid, l.owner))
	}
}
