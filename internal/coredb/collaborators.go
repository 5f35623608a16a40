package coredb

import (
	"context"
	"fmt"

	"media-catalog/internal/backend"
	"media-catalog/internal/catalog"
	"media-catalog/internal/dbparams"
	"media-catalog/internal/logging"
)

// Role is how this process takes part in change notification for a
// shared catalog.
type Role int

const (
	// RoleMaster owns the message directory and cleans up after others.
	RoleMaster Role = iota
	// RoleSlave only sends and receives.
	RoleSlave
)

func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "master"
	case RoleSlave:
		return "slave"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Watch tells other processes sharing the same physical store that it
// changed.
type Watch interface {
	SetApplicationIdentifier(id string)
	InitializeRemote(role Role) error
	SetDatabaseIdentifier(id string)
	SendDatabaseChanged()
}

// LocationMapper caches where album roots live on disk.
type LocationMapper interface {
	Refresh(ctx context.Context, db *catalog.DB) error
	Reset()
}

// EntityCache is a cache of catalog rows that must be dropped when the
// storage changes.
type EntityCache interface {
	Invalidate()
	Reload(ctx context.Context, db *catalog.DB) error
}

// UpdateStatus is the outcome of one SchemaUpdater run.
type UpdateStatus int

const (
	UpdateSuccess UpdateStatus = iota
	UpdateNeedsMoreSteps
	UpdateFailed
)

func (s UpdateStatus) String() string {
	switch s {
	case UpdateSuccess:
		return "success"
	case UpdateNeedsMoreSteps:
		return "needs_more_steps"
	case UpdateFailed:
		return "failed"
	default:
		return fmt.Sprintf("update_status(%d)", int(s))
	}
}

// UpdateResult is returned by SchemaUpdater.Run. Steps is set for
// UpdateNeedsMoreSteps, Message for UpdateFailed. MustAbort asks the host
// to terminate instead of offering a retry.
type UpdateResult struct {
	Status    UpdateStatus
	Steps     int
	Message   string
	MustAbort bool
}

// Success reports whether the schema is usable.
func (r UpdateResult) Success() bool {
	return r.Status == UpdateSuccess
}

// InitObserver follows the progress of a readiness check.
type InitObserver interface {
	MoreSteps(n int)
	Progress(message string, remaining int)
	Finished(result UpdateResult)
	UpdateMustAbort(message string)
}

// SchemaUpdater verifies and migrates the schema of an opened backend.
// Run reports UpdateNeedsMoreSteps first when it has work to do and
// applies the steps on the next call.
type SchemaUpdater interface {
	SetObserver(observer InitObserver)
	Run(ctx context.Context) UpdateResult
}

// SchemaUpdaterFactory creates the updater for one readiness check. The
// access is already held by the readiness gate.
type SchemaUpdaterFactory func(access *Access, b *backend.Backend, params dbparams.Parameters) SchemaUpdater

type nopWatch struct{}

func (nopWatch) SetApplicationIdentifier(string) {}
func (nopWatch) InitializeRemote(Role) error { return nil }
func (nopWatch) SetDatabaseIdentifier(string) {}
func (nopWatch) SendDatabaseChanged() {}

type nopObserver struct{}

func (nopObserver) MoreSteps(int) {}
func (nopObserver) Progress(string, int) {}
func (nopObserver) Finished(UpdateResult) {}
func (nopObserver) UpdateMustAbort(string) {}

// LoggingObserver reports readiness progress to the log.
type LoggingObserver struct{}

func (LoggingObserver) MoreSteps(n int) {
	logging.Info("Schema update needs %d step(s)", n)
}

func (LoggingObserver) Progress(message string, remaining int) {
	logging.Info("Schema update: %s (%d remaining)", message, remaining)
}

func (LoggingObserver) Finished(result UpdateResult) {
	if result.Success() {
		logging.Info("Schema update finished")
		return
	}
	logging.Error("Schema update finished with %s: %s", result.Status, result.Message)
}

func (LoggingObserver) UpdateMustAbort(message string) {
	logging.Error("Schema update must abort: %s", message)
}
