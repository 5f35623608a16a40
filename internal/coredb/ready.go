package coredb

import (
	"context"
	"fmt"
	"time"

	"media-catalog/internal/logging"
	"media-catalog/internal/metrics"
)

// maxUpdateRounds bounds how often the schema updater is run when it keeps
// asking for more steps.
const maxUpdateRounds = 3

// CheckReadyForUse opens the backend if needed and drives the schema
// updater until the database is ready. It returns false and records
// LastError when the driver is missing, the engine settings are unusable,
// the backend cannot be opened or the schema update fails. observer may be
// nil.
func (c *Core) CheckReadyForUse(ctx context.Context, observer InitObserver) bool {
	if observer == nil {
		observer = nopObserver{}
	}

	a := c.acquireLocked()
	defer a.Release()

	if !c.configured {
		c.setLastError("no database parameters configured")
		metrics.ReadinessChecksTotal.WithLabelValues("failed").Inc()
		return false
	}

	if c.backend != nil && c.backend.IsReady() {
		metrics.ReadinessChecksTotal.WithLabelValues("fast_path").Inc()
		return true
	}

	ready := c.checkReady(ctx, a, observer)
	result := "failed"
	if ready {
		result = "ready"
		metrics.DatabaseReady.Set(1)
	} else {
		metrics.DatabaseReady.Set(0)
	}
	metrics.ReadinessChecksTotal.WithLabelValues(result).Inc()
	return ready
}

func (c *Core) checkReady(ctx context.Context, a *Access, observer InitObserver) bool {
	engine := c.params.Engine

	// The driver name comes from the engine settings table, so the table
	// is checked first.
	if _, err := c.settings.ForEngine(engine); err != nil {
		msg := fmt.Sprintf("No usable configuration for %s databases: %v", engine, err)
		observer.UpdateMustAbort(msg)
		c.setLastError(msg)
		c.setMustAbort(true)
		return false
	}

	if err := c.opts.DriverCheck(c.settings, engine); err != nil {
		c.setLastError(fmt.Sprintf("The database driver for %s is not available: %v", engine, err))
		logging.Error("%s", c.LastError())
		return false
	}

	if c.backend == nil {
		c.setLastError("no database backend")
		return false
	}
	if !c.backend.IsOpen() {
		if err := c.backend.Open(ctx, c.params); err != nil {
			c.setLastError(fmt.Sprintf("Opening the database %s failed: %v", c.params.Redacted(), err))
			logging.Error("%s", c.LastError())
			return false
		}
		c.state = StateReady
	}

	if c.backend.IsReady() {
		return true
	}

	if c.opts.Schema != nil {
		if !c.runSchemaUpdate(ctx, a, observer) {
			return false
		}
	}
	c.backend.SetReady()

	c.publishDatabaseID(ctx)
	c.refreshLocations(ctx)
	for _, cache := range c.opts.Caches {
		if err := cache.Reload(ctx, c.db); err != nil {
			logging.Warn("Reloading cache failed: %v", err)
		}
	}
	c.setLastError("")
	return c.backend.IsReady()
}

func (c *Core) runSchemaUpdate(ctx context.Context, a *Access, observer InitObserver) bool {
	updater := c.opts.Schema(a, c.backend, c.params)
	updater.SetObserver(observer)

	start := time.Now()
	var result UpdateResult
	for round := 0; round < maxUpdateRounds; round++ {
		result = updater.Run(ctx)
		if result.Status != UpdateNeedsMoreSteps {
			break
		}
	}
	metrics.SchemaUpdateDuration.Observe(time.Since(start).Seconds())

	switch {
	case result.Success():
		metrics.SchemaUpdatesTotal.WithLabelValues("success").Inc()
		return true
	case result.MustAbort:
		metrics.SchemaUpdatesTotal.WithLabelValues("abort").Inc()
		c.setMustAbort(true)
	default:
		metrics.SchemaUpdatesTotal.WithLabelValues("error").Inc()
	}

	msg := result.Message
	if result.Status == UpdateNeedsMoreSteps {
		msg = fmt.Sprintf("schema update still needs %d step(s) after %d rounds", result.Steps, maxUpdateRounds)
	}
	c.setLastError(msg)
	logging.Error("Schema update failed: %s", msg)
	return false
}
