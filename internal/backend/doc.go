// Package backend owns the physical connections to the catalog database.
//
// A Backend is created for one engine (SQLite or MySQL) and moves through
// the statuses unopened, opening, opened and closed, tracked with a
// looplab/fsm machine. Every goroutine that runs statements gets its own
// connection from the pool (DatabaseForThread); connections carry the
// validity epoch they were created in and are transparently replaced once
// the backend is invalidated or reopened.
//
// Statements that fail on lock contention are retried a bounded number of
// times, waiting until another goroutine ends a transaction or a short
// timeout passes. When the bound is exhausted, or when the connection is
// lost or the engine reports an error that needs a human decision, the
// failure is handed to the ErrorPolicy through the Dispatcher, which runs
// the policy on the host's main goroutine. An abort verdict wakes every
// goroutine waiting on a decision.
//
// Logical transactions nest per goroutine and collapse into a single
// physical transaction.
package backend
