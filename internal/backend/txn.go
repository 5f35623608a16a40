package backend

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/juju/errors"

	"media-catalog/internal/logging"
	"media-catalog/internal/metrics"
)

// BeginTransaction opens a logical transaction on the calling goroutine.
// Nested calls share the outermost physical transaction.
func (b *Backend) BeginTransaction(ctx context.Context) error {
	tc, err := b.DatabaseForThread(ctx)
	if err != nil {
		return err
	}

	tc.mu.Lock()
	if tc.txDepth > 0 {
		tc.txDepth++
		tc.mu.Unlock()
		return nil
	}
	tc.mu.Unlock()

	// BEGIN itself may hit contention; it runs outside any transaction so
	// the normal retry rules apply.
	var tx *sql.Tx
	err = b.run(ctx, "begin_transaction", "BEGIN", func(ctx context.Context, _ Querier) error {
		conn := tc.Conn()
		if conn == nil {
			return ErrNotOpen
		}
		var err error
		tx, err = conn.BeginTx(ctx, nil)
		return err
	})
	if err != nil {
		return errors.Annotate(err, "beginning transaction")
	}

	tc.mu.Lock()
	tc.tx = tx
	tc.txDepth = 1
	tc.txFailed = false
	tc.txStart = time.Now()
	tc.mu.Unlock()
	return nil
}

// CommitTransaction ends one logical transaction. The physical COMMIT is
// only issued when the outermost level ends, and becomes a ROLLBACK if any
// level failed; ErrTransactionAborted is returned in that case.
func (b *Backend) CommitTransaction(ctx context.Context) error {
	tc, ok := b.currentThread()
	if !ok {
		return ErrNoTransaction
	}

	tc.mu.Lock()
	if tc.txDepth == 0 {
		tc.mu.Unlock()
		return ErrNoTransaction
	}
	tc.txDepth--
	if tc.txDepth > 0 {
		tc.mu.Unlock()
		return nil
	}
	tx, failed, started := tc.tx, tc.txFailed, tc.txStart
	tc.tx = nil
	tc.txFailed = false
	tc.mu.Unlock()
	defer b.notifyTransactionEnded()

	if failed {
		b.rollback(tx, started)
		return ErrTransactionAborted
	}

	start := time.Now()
	if err := tx.Commit(); err != nil {
		metrics.DBQueryTotal.WithLabelValues("commit", "error").Inc()
		tc.setLastError(err)
		// A failed COMMIT may leave the engine inside the transaction.
		if conn := tc.Conn(); conn != nil {
			_, _ = conn.ExecContext(ctx, "ROLLBACK")
		}
		metrics.DBTransactionDuration.WithLabelValues("rollback").Observe(time.Since(started).Seconds())
		logging.Warn("Commit failed, transaction rolled back: %v", err)
		return fmt.Errorf("%w: %w", ErrTransactionAborted, err)
	}
	metrics.DBQueryTotal.WithLabelValues("commit", "success").Inc()
	metrics.DBQueryDuration.WithLabelValues("commit").Observe(time.Since(start).Seconds())
	metrics.DBTransactionDuration.WithLabelValues("commit").Observe(time.Since(started).Seconds())
	return nil
}

// RollbackTransaction ends one logical transaction and marks the physical
// transaction as failed. The ROLLBACK is issued when the outermost level
// ends.
func (b *Backend) RollbackTransaction(ctx context.Context) error {
	tc, ok := b.currentThread()
	if !ok {
		return ErrNoTransaction
	}

	tc.mu.Lock()
	if tc.txDepth == 0 {
		tc.mu.Unlock()
		return ErrNoTransaction
	}
	tc.txDepth--
	tc.txFailed = true
	if tc.txDepth > 0 {
		tc.mu.Unlock()
		return nil
	}
	tx, started := tc.tx, tc.txStart
	tc.tx = nil
	tc.txFailed = false
	tc.mu.Unlock()
	defer b.notifyTransactionEnded()

	b.rollback(tx, started)
	return nil
}

// TransactionDepth returns the calling goroutine's logical nesting level.
func (b *Backend) TransactionDepth() int {
	tc, ok := b.currentThread()
	if !ok {
		return 0
	}
	return tc.TransactionDepth()
}

// InTransaction runs fn inside a logical transaction, committing when fn
// succeeds and rolling back otherwise.
func (b *Backend) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.BeginTransaction(ctx); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		if rerr := b.RollbackTransaction(ctx); rerr != nil {
			logging.Warn("Rollback failed: %v", rerr)
		}
		return err
	}
	return b.CommitTransaction(ctx)
}

func (b *Backend) rollback(tx *sql.Tx, started time.Time) {
	if tx == nil {
		return
	}
	status := "success"
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		status = "error"
		logging.Warn("Rollback failed: %v", err)
	}
	metrics.DBQueryTotal.WithLabelValues("rollback", status).Inc()
	metrics.DBTransactionDuration.WithLabelValues("rollback").Observe(time.Since(started).Seconds())
}
