package coredb

import (
	"context"
	"sync"

	"media-catalog/internal/dbparams"
)

// The process wide core. It is created by the first SetParameters call and
// dropped by CleanUpDatabase.
var (
	defaultMu      sync.Mutex
	defaultOptions Options
	defaultCore    *Core
	defaultErr     string
)

// Configure sets the options used when SetParameters creates the process
// wide core. It does not affect a core that already exists.
func Configure(opts Options) {
	defaultMu.Lock()
	defaultOptions = opts
	defaultMu.Unlock()
}

// Default returns the process wide core, or nil before SetParameters.
func Default() *Core {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultCore
}

// SetParameters configures the process wide core, creating it first if
// needed.
func SetParameters(params dbparams.Parameters, role Role) error {
	defaultMu.Lock()
	c := defaultCore
	if c == nil {
		var err error
		c, err = NewCore(defaultOptions)
		if err != nil {
			defaultErr = err.Error()
			defaultMu.Unlock()
			return err
		}
		defaultCore = c
	}
	defaultMu.Unlock()

	return c.SetParameters(params, role)
}

// Acquire takes one level of the process wide access lock. It panics if
// SetParameters was never called.
func Acquire(ctx context.Context) *Access {
	c := Default()
	if c == nil {
		panic("coredb: Acquire called before SetParameters")
	}
	return c.Acquire(ctx)
}

// CheckReadyForUse runs the readiness gate of the process wide core.
func CheckReadyForUse(ctx context.Context, observer InitObserver) bool {
	c := Default()
	if c == nil {
		defaultMu.Lock()
		defaultErr = "no database parameters configured"
		defaultMu.Unlock()
		return false
	}
	return c.CheckReadyForUse(ctx, observer)
}

// CleanUpDatabase tears the process wide core down. A later SetParameters
// starts from scratch. It is safe to call at any time, repeatedly.
func CleanUpDatabase() {
	defaultMu.Lock()
	c := defaultCore
	defaultCore = nil
	defaultMu.Unlock()

	if c != nil {
		c.CleanUp()
	}
}

// LastError describes the last failure of the process wide core.
func LastError() string {
	defaultMu.Lock()
	c, msg := defaultCore, defaultErr
	defaultMu.Unlock()
	if c != nil {
		return c.LastError()
	}
	return msg
}
