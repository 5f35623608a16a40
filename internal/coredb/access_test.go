package coredb

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"media-catalog/internal/backend"
	"media-catalog/internal/dbparams"
)

func TestAcquireBeforeSetParametersPanics(t *testing.T) {
	f := newFixture(t, nil)

	defer func() {
		if recover() == nil {
			t.Fatal("Acquire() before SetParameters did not panic")
		}
		if d := f.core.LockDepth(); d != 0 {
			t.Errorf("lock depth after panic = %d, want 0", d)
		}
	}()
	f.core.Acquire(context.Background())
}

func TestLockSymmetry(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if err := f.core.SetParameters(sqliteParams(t), RoleMaster); err != nil {
		t.Fatalf("SetParameters() = %v", err)
	}

	var accesses []*Access
	for i := 1; i <= 3; i++ {
		accesses = append(accesses, f.core.Acquire(ctx))
		if d := f.core.LockDepth(); d != i {
			t.Fatalf("depth after %d acquires = %d", i, d)
		}
	}
	for i := len(accesses) - 1; i >= 0; i-- {
		accesses[i].Release()
		if d := f.core.LockDepth(); d != i {
			t.Fatalf("depth after release = %d, want %d", d, i)
		}
	}

	// The lock is free for another goroutine.
	done := make(chan struct{})
	go func() {
		defer close(done)
		a := f.core.Acquire(ctx)
		a.Release()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("another goroutine could not acquire after all releases")
	}
}

func TestAccessReleasedTwicePanics(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.core.SetParameters(sqliteParams(t), RoleMaster); err != nil {
		t.Fatalf("SetParameters() = %v", err)
	}
	a := f.core.Acquire(context.Background())
	a.Release()

	defer func() {
		if recover() == nil {
			t.Error("second Release() did not panic")
		}
	}()
	a.Release()
}

func TestAccessesSerializeAcrossGoroutines(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if err := f.core.SetParameters(sqliteParams(t), RoleMaster); err != nil {
		t.Fatalf("SetParameters() = %v", err)
	}

	var (
		inside  int
		overlap bool
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = f.core.WithAccess(ctx, func(a *Access) error {
					inside++
					if inside != 1 {
						overlap = true
					}
					// Nested access on the same goroutine must not block.
					nested := f.core.Acquire(ctx)
					nested.Release()
					inside--
					return nil
				})
			}
		}()
	}
	wg.Wait()
	if overlap {
		t.Error("two goroutines held the access lock at the same time")
	}
}

func TestUnlockScopeRoundTrip(t *testing.T) {
	variants := []struct {
		name string
		new  func(*Core) *UnlockScope
	}{
		{"reads depth under lock", (*Core).NewUnlockScope},
		{"caller holds lock", (*Core).NewUnlockScopeHeld},
	}

	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			f := newFixture(t, nil)
			ctx := context.Background()
			if err := f.core.SetParameters(sqliteParams(t), RoleMaster); err != nil {
				t.Fatalf("SetParameters() = %v", err)
			}

			var held []*Access
			for i := 0; i < 3; i++ {
				held = append(held, f.core.Acquire(ctx))
			}

			u := v.new(f.core)
			if u.Count() != 3 {
				t.Errorf("Count() = %d, want 3", u.Count())
			}
			if d := f.core.LockDepth(); d != 0 {
				t.Errorf("depth inside scope = %d, want 0", d)
			}

			// Another goroutine gets the lock while the scope is alive.
			done := make(chan struct{})
			go func() {
				defer close(done)
				a := f.core.Acquire(ctx)
				a.Release()
			}()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("lock was not released by the scope")
			}

			u.Relock()
			if d := f.core.LockDepth(); d != 3 {
				t.Errorf("depth after Relock() = %d, want 3", d)
			}
			for i := len(held) - 1; i >= 0; i-- {
				held[i].Release()
			}
			if d := f.core.LockDepth(); d != 0 {
				t.Errorf("depth after releasing everything = %d", d)
			}
		})
	}
}

func TestUnlockScopeRelockWaitsForOtherHolder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if err := f.core.SetParameters(sqliteParams(t), RoleMaster); err != nil {
		t.Fatalf("SetParameters() = %v", err)
	}

	scopeOpen := make(chan struct{})
	relock := make(chan struct{})
	relocked := make(chan int)
	done := make(chan struct{})
	go func() {
		defer close(done)
		a := f.core.Acquire(ctx)
		a2 := f.core.Acquire(ctx)
		u := f.core.NewUnlockScopeHeld()
		close(scopeOpen)
		<-relock
		u.Relock()
		relocked <- f.core.LockDepth()
		a2.Release()
		a.Release()
	}()

	<-scopeOpen
	other := f.core.Acquire(ctx)
	close(relock)

	select {
	case <-relocked:
		t.Fatal("Relock() returned while another goroutine held the lock")
	case <-time.After(20 * time.Millisecond):
	}

	other.Release()
	select {
	case depth := <-relocked:
		if depth != 2 {
			t.Errorf("depth after Relock() = %d, want 2", depth)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Relock() did not return after the lock was freed")
	}
	<-done
}

func TestUnlockScopeWithoutAccess(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.core.SetParameters(sqliteParams(t), RoleMaster); err != nil {
		t.Fatalf("SetParameters() = %v", err)
	}

	u := f.core.NewUnlockScope()
	if u.Count() != 0 {
		t.Errorf("Count() without access = %d, want 0", u.Count())
	}
	u.Relock()
	if d := f.core.LockDepth(); d != 0 {
		t.Errorf("depth = %d, want 0", d)
	}

	defer func() {
		if recover() == nil {
			t.Error("NewUnlockScopeHeld() without access did not panic")
		}
	}()
	f.core.NewUnlockScopeHeld()
}

func TestUnlocked(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if err := f.core.SetParameters(sqliteParams(t), RoleMaster); err != nil {
		t.Fatalf("SetParameters() = %v", err)
	}

	a := f.core.Acquire(ctx)
	defer a.Release()

	var depthInside int
	f.core.Unlocked(func() {
		depthInside = f.core.LockDepth()
	})
	if depthInside != 0 {
		t.Errorf("depth inside Unlocked = %d, want 0", depthInside)
	}
	if d := f.core.LockDepth(); d != 1 {
		t.Errorf("depth after Unlocked = %d, want 1", d)
	}
}

func TestConnectionReturnedWithLastAccess(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if err := f.core.SetParameters(sqliteParams(t), RoleMaster); err != nil {
		t.Fatalf("SetParameters() = %v", err)
	}

	var b *backend.Backend
	for i := 0; i < 5; i++ {
		done := make(chan error)
		go func() {
			done <- f.core.WithAccess(ctx, func(a *Access) error {
				b = a.Backend()
				nested := f.core.Acquire(ctx)
				_, err := a.DB().TableExists(ctx, "Settings")
				nested.Release()
				if err != nil {
					return err
				}
				// Still held by the outer access.
				if n := b.ThreadCount(); n != 1 {
					t.Errorf("ThreadCount() inside access = %d, want 1", n)
				}
				return nil
			})
		}()
		if err := <-done; err != nil {
			t.Fatalf("access %d = %v", i, err)
		}
	}

	if n := b.ThreadCount(); n != 0 {
		t.Errorf("ThreadCount() after goroutines ended = %d, want 0", n)
	}
	if inUse := b.DB().Stats().InUse; inUse != 0 {
		t.Errorf("pool connections in use = %d, want 0", inUse)
	}
}

func TestConnectionKeptWhileTransactionOpen(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if err := f.core.SetParameters(sqliteParams(t), RoleMaster); err != nil {
		t.Fatalf("SetParameters() = %v", err)
	}

	a := f.core.Acquire(ctx)
	b := a.Backend()
	if err := b.BeginTransaction(ctx); err != nil {
		t.Fatalf("BeginTransaction() = %v", err)
	}
	a.Release()
	if n := b.ThreadCount(); n != 1 {
		t.Errorf("ThreadCount() with open transaction = %d, want 1", n)
	}

	a = f.core.Acquire(ctx)
	if err := b.CommitTransaction(ctx); err != nil {
		t.Fatalf("CommitTransaction() = %v", err)
	}
	a.Release()
	if n := b.ThreadCount(); n != 0 {
		t.Errorf("ThreadCount() after commit = %d, want 0", n)
	}
}

func TestSmallPoolServesManyGoroutines(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		inner := backend.DefaultOpener(*o.Settings)
		o.Opener = func(ctx context.Context, p dbparams.Parameters) (*sql.DB, error) {
			db, err := inner(ctx, p)
			if err != nil {
				return nil, err
			}
			db.SetMaxOpenConns(2)
			return db, nil
		}
	})
	if err := f.core.SetParameters(sqliteParams(t), RoleMaster); err != nil {
		t.Fatalf("SetParameters() = %v", err)
	}

	for i := 0; i < 4; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		done := make(chan error)
		go func() {
			done <- f.core.WithAccess(ctx, func(a *Access) error {
				_, err := a.Backend().Exec(ctx, "SELECT 1")
				return err
			})
		}()
		err := <-done
		cancel()
		if err != nil {
			t.Fatalf("goroutine %d: Exec() = %v", i, err)
		}
	}
}
