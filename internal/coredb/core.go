package coredb

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"

	"media-catalog/internal/backend"
	"media-catalog/internal/catalog"
	"media-catalog/internal/dblock"
	"media-catalog/internal/dbparams"
	"media-catalog/internal/logging"
	"media-catalog/internal/metrics"
)

// State is the initialization state of a Core.
type State int

const (
	// StateUninitialized means the backend has not been opened since the
	// last (re)configuration.
	StateUninitialized State = iota
	// StateInitializing is set while the first access opens the backend,
	// so that nested accesses on the same goroutine skip initialization.
	StateInitializing
	// StateReady means the backend has been opened.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Options are the collaborators of a Core. All fields are optional.
type Options struct {
	// Settings is the engine table; defaults to the embedded one.
	Settings *dbparams.Settings
	// Opener, Clock and Dispatcher are handed to every backend created.
	Opener     backend.Opener
	Clock      clock.Clock
	Dispatcher *backend.Dispatcher
	// DriverCheck verifies that the engine's driver is linked in.
	// Defaults to backend.DriverAvailable.
	DriverCheck func(dbparams.Settings, dbparams.Engine) error
	// Schema creates the updater run by the readiness gate. Without one
	// an opened backend is ready immediately.
	Schema SchemaUpdaterFactory
	// NewWatch creates the change notification collaborator on the first
	// SetParameters call.
	NewWatch func(params dbparams.Parameters) (Watch, error)
	// ApplicationID identifies this process to the watch. Defaults to a
	// random UUID.
	ApplicationID string
	Locations     LocationMapper
	Caches        []EntityCache
}

// Core is the process wide database access state: the parameters, the
// backend and logical database built from them, and the recursive lock
// serializing every access.
//
// Fields below lock are only touched by the goroutine holding lock.
type Core struct {
	lock     *dblock.RecursiveLock
	opts     Options
	settings dbparams.Settings
	appID    string

	configured      bool
	state           State
	params          dbparams.Parameters
	backend         *backend.Backend
	db              *catalog.DB
	policy          backend.ErrorPolicy
	watch           Watch
	databaseID      string
	backendsCreated int

	errMu     sync.Mutex
	lastError string
	mustAbort bool
}

// NewCore creates an unconfigured core. SetParameters must be called
// before the first Acquire.
func NewCore(opts Options) (*Core, error) {
	var settings dbparams.Settings
	if opts.Settings != nil {
		settings = *opts.Settings
	} else {
		s, err := dbparams.LoadSettings()
		if err != nil {
			return nil, errors.Annotate(err, "loading engine settings")
		}
		settings = s
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = backend.NewDispatcher()
	}
	if opts.DriverCheck == nil {
		opts.DriverCheck = backend.DriverAvailable
	}
	appID := opts.ApplicationID
	if appID == "" {
		appID = uuid.NewString()
	}

	return &Core{
		lock:     dblock.New(),
		opts:     opts,
		settings: settings,
		appID:    appID,
		policy:   opts.Dispatcher.Policy(),
	}, nil
}

// lockAccess takes one level of the access lock.
func (c *Core) lockAccess() {
	start := time.Now()
	c.lock.Lock()
	metrics.LockWaitDuration.Observe(time.Since(start).Seconds())
	metrics.LockDepth.Set(float64(c.lock.Depth()))
}

func (c *Core) unlockAccess() {
	c.lock.Unlock()
	metrics.LockDepth.Set(float64(c.lock.Depth()))
}

// LockDepth returns how many levels of the access lock are held.
func (c *Core) LockDepth() int {
	return c.lock.Depth()
}

// ApplicationID returns the identifier this process registers with the
// watch.
func (c *Core) ApplicationID() string {
	return c.appID
}

// Dispatcher returns the dispatcher shared by every backend of this core.
// The host runs it on its main goroutine.
func (c *Core) Dispatcher() *backend.Dispatcher {
	return c.opts.Dispatcher
}

// SetErrorPolicy installs the policy consulted by the backend. It is kept
// across reconfigurations.
func (c *Core) SetErrorPolicy(p backend.ErrorPolicy) {
	c.lockAccess()
	defer c.unlockAccess()

	c.policy = p
	if c.backend != nil {
		c.backend.SetErrorPolicy(p)
	}
}

// SetParameters installs new connection parameters. Equal parameters are a
// no-op. Otherwise the current backend is closed, and replaced when the
// engine changed; the next access reopens it.
func (c *Core) SetParameters(params dbparams.Parameters, role Role) error {
	c.lockAccess()
	defer c.unlockAccess()

	if c.configured && params == c.params {
		return nil
	}
	logging.Info("Database parameters: %s", params.Redacted())

	if c.backend != nil {
		c.backend.SetErrorPolicy(nil)
		if err := c.backend.Close(); err != nil {
			logging.Warn("Closing database backend failed: %v", err)
		}
	}

	old := c.params
	c.params = params
	c.configured = true
	c.state = StateUninitialized
	c.setMustAbort(false)

	if c.watch == nil {
		c.watch = c.newWatch(params, role)
	}
	for _, cache := range c.opts.Caches {
		cache.Invalidate()
	}

	if c.backend == nil || old.Engine != params.Engine {
		if err := c.recreateBackend(params.Engine); err != nil {
			c.setLastError(err.Error())
			return err
		}
	}
	c.backend.SetErrorPolicy(c.policy)

	c.watch.SendDatabaseChanged()
	c.databaseID = ""
	if c.opts.Locations != nil {
		c.opts.Locations.Reset()
	}
	metrics.DatabaseReady.Set(0)
	return nil
}

func (c *Core) newWatch(params dbparams.Parameters, role Role) Watch {
	if c.opts.NewWatch == nil {
		return nopWatch{}
	}
	w, err := c.opts.NewWatch(params)
	if err != nil {
		logging.Warn("Change notification unavailable: %v", err)
		return nopWatch{}
	}
	w.SetApplicationIdentifier(c.appID)
	if err := w.InitializeRemote(role); err != nil {
		logging.Warn("Change notification as %s failed: %v", role, err)
	}
	return w
}

func (c *Core) recreateBackend(engine dbparams.Engine) error {
	b, err := backend.New(engine, backend.Config{
		Opener:     c.opts.Opener,
		Settings:   &c.settings,
		Clock:      c.opts.Clock,
		Dispatcher: c.opts.Dispatcher,
	})
	if err != nil {
		return errors.Annotatef(err, "creating %s backend", engine)
	}
	c.backend = b
	c.db = catalog.New(b)
	c.backendsCreated++
	logging.Debug("Created %s backend (#%d)", engine, c.backendsCreated)
	return nil
}

// initialize opens the backend on the first access after configuration.
// The caller holds the lock and has set StateInitializing.
func (c *Core) initialize(ctx context.Context) {
	defer func() {
		if c.backend.IsOpen() {
			c.state = StateReady
		} else {
			c.state = StateUninitialized
		}
	}()

	if err := c.backend.Open(ctx, c.params); err != nil {
		c.setLastError(err.Error())
		logging.Error("Opening database failed: %v", err)
		return
	}
	// A new catalog has no Settings table until the schema update ran; the
	// readiness gate publishes its identifier then.
	if ok, err := c.db.TableExists(ctx, "Settings"); err != nil {
		logging.Warn("Checking for the Settings table failed: %v", err)
	} else if ok {
		c.publishDatabaseID(ctx)
	}
	c.refreshLocations(ctx)
}

// publishDatabaseID reads the catalog identifier, creating it if needed,
// and hands it to the watch.
func (c *Core) publishDatabaseID(ctx context.Context) {
	id, err := c.db.DatabaseUUID(ctx)
	if err != nil {
		logging.Warn("Reading database identifier failed: %v", err)
		return
	}
	c.databaseID = id
	c.watch.SetDatabaseIdentifier(id)
}

func (c *Core) refreshLocations(ctx context.Context) {
	if c.opts.Locations == nil {
		return
	}
	if err := c.opts.Locations.Refresh(ctx, c.db); err != nil {
		logging.Warn("Refreshing album roots failed: %v", err)
	}
}

// CleanUp closes the backend and drops all state so that the next
// SetParameters starts from scratch. It is idempotent.
func (c *Core) CleanUp() {
	c.lockAccess()
	defer c.unlockAccess()

	if c.backend != nil {
		c.backend.SetErrorPolicy(nil)
		if err := c.backend.Close(); err != nil {
			logging.Warn("Closing database backend failed: %v", err)
		}
	}
	c.backend = nil
	c.db = nil
	for _, cache := range c.opts.Caches {
		cache.Invalidate()
	}
	if c.opts.Locations != nil {
		c.opts.Locations.Reset()
	}
	if closer, ok := c.watch.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logging.Warn("Closing change notification failed: %v", err)
		}
	}
	c.watch = nil
	c.configured = false
	c.params = dbparams.Parameters{}
	c.state = StateUninitialized
	c.databaseID = ""
	metrics.DatabaseReady.Set(0)
}

// State returns the initialization state.
func (c *Core) State() State {
	c.lockAccess()
	defer c.unlockAccess()
	return c.state
}

// Parameters returns the configured parameters.
func (c *Core) Parameters() dbparams.Parameters {
	c.lockAccess()
	defer c.unlockAccess()
	return c.params
}

// BackendsCreated returns how many backends were created, the first one
// included.
func (c *Core) BackendsCreated() int {
	c.lockAccess()
	defer c.unlockAccess()
	return c.backendsCreated
}

// DatabaseID returns the catalog identifier found by the last successful
// readiness check.
func (c *Core) DatabaseID() string {
	c.lockAccess()
	defer c.unlockAccess()
	return c.databaseID
}

// LastError describes the last failure to open or verify the database.
func (c *Core) LastError() string {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastError
}

// MustAbort reports whether the last readiness check asked the host to
// terminate.
func (c *Core) MustAbort() bool {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.mustAbort
}

func (c *Core) setLastError(msg string) {
	c.errMu.Lock()
	c.lastError = msg
	c.errMu.Unlock()
}

func (c *Core) setMustAbort(v bool) {
	c.errMu.Lock()
	c.mustAbort = v
	c.errMu.Unlock()
}
