// Package coredb guards all access to the catalog database.
//
// A Core holds the connection parameters, the backend built from them and
// a recursive lock. Every piece of code touching the database first takes
// an Access from Core.Acquire and releases it when done; accesses nest on
// the same goroutine. The first access after (re)configuration opens the
// backend. CheckReadyForUse runs the readiness gate: engine settings and
// driver check, open, then the schema updater, after which the backend is
// marked ready and the change-notification watch learns the catalog's
// identifier.
//
// Long running work that holds an access but must let structural
// operations through (a collection rescan walking the filesystem, say)
// wraps that window in an UnlockScope, which releases every level held by
// the goroutine and restores them on Relock.
//
// The package level functions operate on a process wide Core created by
// SetParameters and removed by CleanUpDatabase.
package coredb
