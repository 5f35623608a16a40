package backend

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/juju/retry"

	"media-catalog/internal/logging"
	"media-catalog/internal/metrics"
)

// Exec runs a statement on the calling goroutine's connection.
func (b *Backend) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := b.run(ctx, "exec", query, func(ctx context.Context, q Querier) error {
		r, err := q.ExecContext(ctx, query, args...)
		result = r
		return err
	})
	return result, err
}

// Query runs a query and hands the rows to scan, which iterates them. scan
// is called again from scratch if the statement is retried.
func (b *Backend) Query(ctx context.Context, scan func(*sql.Rows) error, query string, args ...any) error {
	return b.run(ctx, "query", query, func(ctx context.Context, q Querier) error {
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		if err := scan(rows); err != nil {
			return err
		}
		return rows.Err()
	})
}

// QueryRow runs a single row query and hands the row to scan.
func (b *Backend) QueryRow(ctx context.Context, scan func(*sql.Row) error, query string, args ...any) error {
	return b.run(ctx, "query_row", query, func(ctx context.Context, q Querier) error {
		return scan(q.QueryRowContext(ctx, query, args...))
	})
}

// Do runs fn with the same retry and escalation rules as a single
// statement. description is reported to the error policy.
func (b *Backend) Do(ctx context.Context, description string, fn func(ctx context.Context, q Querier) error) error {
	return b.run(ctx, "do", description, fn)
}

func (b *Backend) run(ctx context.Context, op, query string, fn func(context.Context, Querier) error) error {
	start := time.Now()
	err := b.execWithRetry(ctx, query, fn)

	status := "success"
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(op, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return err
}

// execWithRetry is the statement state machine: contention is retried up
// to the configured bound and then escalated to the user, lost connections
// are reopened, and errors needing a decision go straight to the policy.
// Inside a transaction contention and connection loss fail the whole
// transaction instead.
func (b *Backend) execWithRetry(ctx context.Context, query string, fn func(context.Context, Querier) error) error {
	tc, err := b.DatabaseForThread(ctx)
	if err != nil {
		return err
	}

	retries, reconnects := 0, 0
	wait := b.contention.InitialWait
	for {
		err := fn(ctx, tc.querier())
		if err == nil {
			tc.setLastError(nil)
			return nil
		}
		tc.setLastError(err)
		if ctx.Err() != nil {
			return err
		}

		kind := b.classify(err)
		if (kind == KindContention || kind == KindConnectionLost) && tc.inTransaction() {
			tc.markFailed(err)
			logging.Debug("Statement failed inside transaction (%s): %v", kind, err)
			return fmt.Errorf("%w: %w", ErrTransactionAborted, err)
		}

		var status QueryStatus
		switch kind {
		case KindContention:
			if retries < b.contention.MaxRetries {
				retries++
				metrics.ContentionRetriesTotal.Inc()
				logging.Debug("Database busy, retry %d/%d in %v: %v", retries, b.contention.MaxRetries, wait, err)
				if werr := b.waitForContention(ctx, wait); werr != nil {
					return werr
				}
				wait = min(wait*2, b.contention.MaxWait)
				continue
			}
			logging.Warn("Database still busy after %d retries, consulting user: %v", retries, err)
			status = b.dispatcher.consult(ctx, consultUser, err, query)

		case KindConnectionLost:
			if reconnects < b.reconnect.Attempts {
				reconnects++
				rerr := b.reconnectThread(ctx, tc)
				if rerr == nil {
					continue
				}
				err = rerr
			}
			b.recordError(err)
			status = b.dispatcher.consult(ctx, consultConnection, err, query)

		case KindNeedsUser:
			status = b.dispatcher.consult(ctx, consultUser, err, query)

		default:
			return err
		}

		if status != QuerySuccess {
			return fmt.Errorf("%w: %w", ErrQueriesAborted, err)
		}
		retries, reconnects = 0, 0
		wait = b.contention.InitialWait
	}
}

// waitForContention blocks for at most d, returning early when another
// goroutine ends a transaction. An abort verdict or ctx ends the wait with
// an error.
func (b *Backend) waitForContention(ctx context.Context, d time.Duration) error {
	b.mu.Lock()
	ended := b.txEnded
	b.mu.Unlock()

	select {
	case <-ended:
	case <-b.clock.After(d):
	case <-b.dispatcher.aborted():
		return ErrQueriesAborted
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// notifyTransactionEnded wakes every goroutine waiting out contention.
func (b *Backend) notifyTransactionEnded() {
	b.mu.Lock()
	close(b.txEnded)
	b.txEnded = make(chan struct{})
	b.mu.Unlock()
}

func (b *Backend) recordError(err error) {
	b.mu.Lock()
	b.lastErr = err
	b.mu.Unlock()
}

// reconnectThread replaces the goroutine's connection after it was lost.
func (b *Backend) reconnectThread(ctx context.Context, tc *ThreadConnection) error {
	return retry.Call(retry.CallArgs{
		Func: func() error {
			b.mu.Lock()
			db := b.db
			b.mu.Unlock()
			if db == nil {
				return ErrNotOpen
			}

			conn, err := db.Conn(ctx)
			if err != nil {
				return err
			}
			if err := conn.PingContext(ctx); err != nil {
				_ = conn.Close()
				return err
			}

			tc.mu.Lock()
			old := tc.conn
			tc.conn = conn
			tc.mu.Unlock()
			if old != nil {
				_ = old.Close()
			}
			logging.Info("Reconnected goroutine %d to %s database", tc.goroutine, b.engine)
			return nil
		},
		IsFatalError: func(err error) bool {
			return errors.Is(err, ErrNotOpen) || ctx.Err() != nil
		},
		NotifyFunc: func(err error, attempt int) {
			logging.Warn("Reconnect attempt %d failed: %v", attempt, err)
		},
		Attempts: b.reconnect.Attempts,
		Delay:    b.reconnect.Delay,
		Clock:    b.clock,
		Stop:     ctx.Done(),
	})
}
