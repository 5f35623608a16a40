package backend

import "github.com/juju/errors"

const (
	// ErrNotOpen is returned by operations that need an open backend.
	ErrNotOpen = errors.ConstError("backend not open")

	// ErrQueriesAborted is returned to every query whose retry or
	// consultation was ended by an abort verdict from the error policy.
	ErrQueriesAborted = errors.ConstError("queries aborted by error policy")

	// ErrTransactionAborted is returned when a statement inside a
	// transaction hit a lock or connection error. The whole transaction
	// will be rolled back when the outermost level ends.
	ErrTransactionAborted = errors.ConstError("transaction aborted")

	// ErrNoTransaction is returned by Commit/Rollback without a Begin.
	ErrNoTransaction = errors.ConstError("no transaction in progress")
)
