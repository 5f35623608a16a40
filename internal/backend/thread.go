package backend

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"media-catalog/internal/dblock"
	"media-catalog/internal/logging"
	"media-catalog/internal/metrics"
)

// Querier is what statements run against: the goroutine's connection, or
// its open transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ThreadConnection is the connection owned by one goroutine. It is only
// used by that goroutine; the mutex lets Close tear it down from outside.
type ThreadConnection struct {
	goroutine uint64
	epoch     uint64

	mu       sync.Mutex
	conn     *sql.Conn
	tx       *sql.Tx
	txDepth  int
	txFailed bool
	txStart  time.Time
	lastErr  error
}

// Goroutine returns the id of the owning goroutine.
func (tc *ThreadConnection) Goroutine() uint64 { return tc.goroutine }

// Epoch returns the validity epoch the connection was created in.
func (tc *ThreadConnection) Epoch() uint64 { return tc.epoch }

// Conn returns the underlying connection.
func (tc *ThreadConnection) Conn() *sql.Conn {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.conn
}

// LastError returns the last statement error seen on this connection.
func (tc *ThreadConnection) LastError() error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.lastErr
}

// TransactionDepth returns the number of open logical transactions.
func (tc *ThreadConnection) TransactionDepth() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.txDepth
}

func (tc *ThreadConnection) querier() Querier {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.tx != nil {
		return tc.tx
	}
	return tc.conn
}

func (tc *ThreadConnection) inTransaction() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.txDepth > 0
}

func (tc *ThreadConnection) setLastError(err error) {
	tc.mu.Lock()
	tc.lastErr = err
	tc.mu.Unlock()
}

func (tc *ThreadConnection) markFailed(err error) {
	tc.mu.Lock()
	tc.txFailed = true
	tc.lastErr = err
	tc.mu.Unlock()
}

// close rolls back any open transaction and returns the connection to the
// pool, which closes it if the pool itself was closed.
func (tc *ThreadConnection) close() {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.tx != nil {
		if err := tc.tx.Rollback(); err != nil && err != sql.ErrTxDone {
			logging.Debug("Rollback on close of goroutine %d connection: %v", tc.goroutine, err)
		}
		tc.tx = nil
		tc.txDepth = 0
	}
	if tc.conn != nil {
		if err := tc.conn.Close(); err != nil && err != sql.ErrConnDone {
			logging.Debug("Closing goroutine %d connection: %v", tc.goroutine, err)
		}
		tc.conn = nil
	}
}

// DatabaseForThread returns the calling goroutine's connection, creating it
// on first use. A connection from an older validity epoch is discarded and
// replaced.
func (b *Backend) DatabaseForThread(ctx context.Context) (*ThreadConnection, error) {
	gid := dblock.GoroutineID()

	b.mu.Lock()
	db := b.db
	b.mu.Unlock()
	if db == nil {
		return nil, ErrNotOpen
	}
	epoch := b.epoch.Load()

	if v, ok := b.threads.Load(gid); ok {
		tc := v.(*ThreadConnection)
		if tc.epoch == epoch {
			return tc, nil
		}
		logging.Debug("Goroutine %d connection from epoch %d is stale (now %d), recreating", gid, tc.epoch, epoch)
		b.dropThread(gid, tc)
		metrics.ThreadConnectionsRecreated.Inc()
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	tc := &ThreadConnection{goroutine: gid, epoch: epoch, conn: conn}
	b.threads.Store(gid, tc)
	metrics.ThreadConnections.Inc()
	return tc, nil
}

// currentThread returns the caller's connection without creating one.
func (b *Backend) currentThread() (*ThreadConnection, bool) {
	v, ok := b.threads.Load(dblock.GoroutineID())
	if !ok {
		return nil, false
	}
	return v.(*ThreadConnection), true
}

// ReleaseThread closes the calling goroutine's connection. Goroutines that
// used the backend should call it before exiting.
func (b *Backend) ReleaseThread() {
	gid := dblock.GoroutineID()
	if v, ok := b.threads.Load(gid); ok {
		b.dropThread(gid, v.(*ThreadConnection))
	}
}

// ReleaseIdleThread returns the calling goroutine's connection to the pool
// unless a transaction is open on it. It reports whether one was released.
func (b *Backend) ReleaseIdleThread() bool {
	tc, ok := b.currentThread()
	if !ok || tc.inTransaction() {
		return false
	}
	b.dropThread(tc.goroutine, tc)
	return true
}

// Invalidate bumps the validity epoch. Every goroutine gets a fresh
// connection on its next access.
func (b *Backend) Invalidate() {
	b.epoch.Add(1)
}

// ThreadCount returns the number of live goroutine connections.
func (b *Backend) ThreadCount() int {
	n := 0
	b.threads.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (b *Backend) dropThread(gid uint64, tc *ThreadConnection) {
	if b.threads.CompareAndDelete(gid, tc) {
		metrics.ThreadConnections.Dec()
	}
	tc.close()
}

func (b *Backend) dropAllThreads() {
	b.threads.Range(func(k, v any) bool {
		b.dropThread(k.(uint64), v.(*ThreadConnection))
		return true
	})
}
