package backend

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"
	"github.com/looplab/fsm"

	"media-catalog/internal/dbparams"
	"media-catalog/internal/logging"
	"media-catalog/internal/metrics"
)

// Config holds the optional collaborators of a Backend.
type Config struct {
	// Opener establishes the pool. Defaults to DefaultOpener.
	Opener Opener
	// Settings is the engine table. Defaults to dbparams.LoadSettings.
	Settings *dbparams.Settings
	// Clock drives reconnect delays and contention waits.
	Clock clock.Clock
	// Dispatcher carries error consultations to the main goroutine. It
	// outlives the backend so that a replaced backend keeps the host's
	// dispatch loop.
	Dispatcher *Dispatcher
	// Classifier overrides the engine's error classifier.
	Classifier Classifier
}

// Backend owns the connection pool of one engine, hands out per-goroutine
// connections, and retries statements that fail on lock contention.
type Backend struct {
	engine     dbparams.Engine
	opener     Opener
	clock      clock.Clock
	dispatcher *Dispatcher
	classify   Classifier
	contention dbparams.ContentionSettings
	reconnect  dbparams.ReconnectSettings

	// openMu serializes Open and Close; mu guards the fields below and is
	// only held briefly.
	openMu sync.Mutex

	mu         sync.Mutex
	status     *fsm.FSM
	params     dbparams.Parameters
	db         *sql.DB
	ready      bool
	lastErr    error
	openCount  int
	closeCount int
	txEnded    chan struct{}

	epoch   atomic.Uint64
	threads sync.Map // goroutine id -> *ThreadConnection
}

// New creates an unopened backend for engine.
func New(engine dbparams.Engine, cfg Config) (*Backend, error) {
	settings := cfg.Settings
	if settings == nil {
		s, err := dbparams.LoadSettings()
		if err != nil {
			return nil, errors.Trace(err)
		}
		settings = &s
	}
	if cfg.Opener == nil {
		cfg.Opener = DefaultOpener(*settings)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = NewDispatcher()
	}
	if cfg.Classifier == nil {
		cfg.Classifier = ClassifierFor(engine)
	}

	return &Backend{
		engine:     engine,
		opener:     cfg.Opener,
		clock:      cfg.Clock,
		dispatcher: cfg.Dispatcher,
		classify:   cfg.Classifier,
		contention: settings.Contention,
		reconnect:  settings.Reconnect,
		status:     newStatusMachine(),
		txEnded:    make(chan struct{}),
	}, nil
}

// Engine returns the engine the backend was created for.
func (b *Backend) Engine() dbparams.Engine { return b.engine }

// Dispatcher returns the dispatcher used for error consultations.
func (b *Backend) Dispatcher() *Dispatcher { return b.dispatcher }

// SetErrorPolicy installs the policy consulted for connection errors and
// errors needing a user decision. nil detaches the current policy.
func (b *Backend) SetErrorPolicy(p ErrorPolicy) {
	b.dispatcher.SetPolicy(p)
}

// Status returns the current connection status.
func (b *Backend) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status(b.status.Current())
}

// IsOpen reports whether the backend has a usable pool.
func (b *Backend) IsOpen() bool {
	return b.Status().IsOpen()
}

// IsReady reports whether the schema was verified since the last open.
func (b *Backend) IsReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready && Status(b.status.Current()).IsOpen()
}

// SetReady marks the schema as verified. It has no effect unless open.
func (b *Backend) SetReady() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if Status(b.status.Current()).IsOpen() {
		b.ready = true
	}
}

// LastError returns the error of the last failed open or reconnect.
func (b *Backend) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// Parameters returns the parameters of the last Open.
func (b *Backend) Parameters() dbparams.Parameters {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.params
}

// OpenCount returns how many times a physical open was started.
func (b *Backend) OpenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openCount
}

// CloseCount returns how many times an open pool was closed.
func (b *Backend) CloseCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeCount
}

// DB returns the pool. It is nil unless the backend is open.
func (b *Backend) DB() *sql.DB {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.db
}

// Open connects with params if the backend is unopened or closed; it is a
// no-op otherwise. When the first attempt fails the error policy is asked
// whether to retry; retries are bounded by the engine settings.
func (b *Backend) Open(ctx context.Context, params dbparams.Parameters) error {
	if params.Engine != b.engine {
		return errors.NotSupportedf("opening %s parameters on a %s backend", params.Engine, b.engine)
	}
	if err := params.Validate(); err != nil {
		return errors.Trace(err)
	}

	b.openMu.Lock()
	defer b.openMu.Unlock()

	b.mu.Lock()
	if !b.status.Can(eventOpen) {
		b.mu.Unlock()
		return nil
	}
	b.fire(eventOpen)
	b.params = params
	b.openCount++
	b.mu.Unlock()

	logging.Info("Opening %s database %s", b.engine, params.Redacted())

	var (
		db      *sql.DB
		attempt int
		aborted bool
		openErr error
	)
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			var err error
			attempt++
			db, err = b.opener(ctx, params)
			if err == nil {
				return nil
			}
			openErr = err
			metrics.BackendOpensTotal.WithLabelValues("retry").Inc()

			b.mu.Lock()
			b.lastErr = err
			b.fire(eventOpenFailed)
			b.mu.Unlock()

			if attempt >= b.reconnect.Attempts {
				return err
			}
			if b.dispatcher.consult(ctx, consultConnection, err, "OPEN "+params.Identity()) != QuerySuccess {
				aborted = true
			}
			return err
		},
		IsFatalError: func(error) bool {
			return aborted || ctx.Err() != nil
		},
		NotifyFunc: func(err error, attempt int) {
			logging.Warn("Opening %s database failed (attempt %d): %v", b.engine, attempt, err)
		},
		Attempts: b.reconnect.Attempts,
		Delay:    b.reconnect.Delay,
		Clock:    b.clock,
		Stop:     ctx.Done(),
	})

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		cause := openErr
		if cause == nil {
			cause = retry.LastError(err)
		}
		b.lastErr = cause
		b.fire(eventGiveUp)
		metrics.BackendOpensTotal.WithLabelValues("failure").Inc()
		logging.Error("Opening %s database failed: %v", b.engine, cause)
		return errors.Annotatef(cause, "opening %s database", b.engine)
	}

	b.db = db
	b.lastErr = nil
	b.ready = false
	b.epoch.Add(1)
	b.fire(eventOpened)
	metrics.BackendOpensTotal.WithLabelValues("success").Inc()
	logging.Info("Opened %s database (%s)", b.engine, b.status.Current())
	return nil
}

// Close drops every goroutine connection and closes the pool. It may be
// called in any status; the status becomes Closed.
func (b *Backend) Close() error {
	b.openMu.Lock()
	defer b.openMu.Unlock()

	b.mu.Lock()
	db := b.db
	b.db = nil
	b.ready = false
	b.fire(eventClose)
	if db != nil {
		b.closeCount++
	}
	b.mu.Unlock()

	b.epoch.Add(1)
	b.dropAllThreads()
	b.notifyTransactionEnded()

	if db == nil {
		return nil
	}
	metrics.BackendClosesTotal.Inc()
	logging.Info("Closing %s database", b.engine)
	if err := db.Close(); err != nil {
		return fmt.Errorf("closing %s database: %w", b.engine, err)
	}
	return nil
}
