package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/juju/errors"
	"golang.org/x/term"

	"media-catalog/internal/backend"
	"media-catalog/internal/collection"
	"media-catalog/internal/coredb"
	"media-catalog/internal/dbparams"
	"media-catalog/internal/filesystem"
	"media-catalog/internal/logging"
	"media-catalog/internal/schema"
	"media-catalog/internal/startup"
	"media-catalog/internal/tagcache"
	"media-catalog/internal/watch"
)

// app is the wired catalog of one catalogdb process.
type app struct {
	cfg        *startup.Config
	out        io.Writer
	core       *coredb.Core
	dispatcher *backend.Dispatcher
	locations  *collection.Mapper
	tags       *tagcache.Cache
}

type command func(a *app, ctx context.Context, args []string) error

var commands = map[string]command{
	"check":    (*app).check,
	"status":   (*app).status,
	"add-root": (*app).addRoot,
	"rescan":   (*app).rescan,
	"serve":    (*app).serve,
}

func newApp(cfg *startup.Config, stdin *os.File, out io.Writer) (*app, error) {
	params := cfg.Params
	if params.IsNetwork() && params.Password == "" && term.IsTerminal(int(stdin.Fd())) {
		password, err := readPassword(stdin, out, params)
		if err != nil {
			return nil, err
		}
		params.Password = password
	}
	if err := params.Validate(); err != nil {
		return nil, errors.Annotate(err, "database parameters")
	}
	if err := startup.PrepareDatabaseDir(params); err != nil {
		return nil, err
	}
	if cfg.Save {
		if err := dbparams.SaveFile(cfg.ConfigPath, params); err != nil {
			return nil, errors.Annotate(err, "saving configuration")
		}
		logging.Info("Saved database parameters to %s", cfg.ConfigPath)
	}

	a := &app{
		cfg:        cfg,
		out:        out,
		dispatcher: backend.NewDispatcher(),
		locations:  collection.NewMapper(),
		tags:       tagcache.New(),
	}
	a.dispatcher.SetPolicy(newTerminalPolicy(stdin, out))
	filesystem.SetDefaultLabeler(a.locations)

	// The process wide core; packages that are handed no *Core reach it
	// through coredb.Default.
	coredb.Configure(coredb.Options{
		Dispatcher: a.dispatcher,
		Schema:     schema.Factory,
		NewWatch:   watch.ForParameters,
		Locations:  a.locations,
		Caches:     []coredb.EntityCache{a.tags},
	})
	if err := coredb.SetParameters(params, cfg.Role); err != nil {
		coredb.CleanUpDatabase()
		return nil, err
	}
	a.core = coredb.Default()
	return a, nil
}

func readPassword(stdin *os.File, out io.Writer, params dbparams.Parameters) (string, error) {
	fmt.Fprintf(out, "Password for %s@%s: ", params.UserName, params.Address())
	password, err := term.ReadPassword(int(stdin.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", errors.Annotate(err, "reading password")
	}
	return string(password), nil
}

func (a *app) close() {
	coredb.CleanUpDatabase()
	coredb.Configure(coredb.Options{})
	filesystem.SetDefaultLabeler(nil)
}

// runCommand runs the named command on its own goroutine while this
// goroutine answers error policy consultations, so prompts never race the
// queries waiting on them.
func (a *app) runCommand(ctx context.Context, name string, args []string) error {
	cmd, ok := commands[name]
	if !ok {
		return errors.NotFoundf("command %q", name)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		errc <- cmd(a, ctx, args)
		cancel()
	}()

	_ = a.dispatcher.Run(ctx)
	return <-errc
}

// ensureReady runs the readiness gate with progress logged.
func (a *app) ensureReady(ctx context.Context) error {
	if a.core.CheckReadyForUse(ctx, coredb.LoggingObserver{}) {
		return nil
	}
	if a.core.MustAbort() {
		return errors.Errorf("catalog cannot be used with this version: %s", a.core.LastError())
	}
	return errors.Errorf("catalog not ready: %s", a.core.LastError())
}
