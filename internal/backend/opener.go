package backend

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"slices"

	"github.com/juju/errors"

	"media-catalog/internal/dbparams"
)

// Opener establishes a connection pool for params.
type Opener func(ctx context.Context, params dbparams.Parameters) (*sql.DB, error)

// DefaultOpener opens pools with the driver and DSN options from settings.
func DefaultOpener(settings dbparams.Settings) Opener {
	return func(ctx context.Context, params dbparams.Parameters) (*sql.DB, error) {
		es, err := settings.ForEngine(params.Engine)
		if err != nil {
			return nil, errors.Trace(err)
		}
		dsn, err := params.DSN(es)
		if err != nil {
			return nil, errors.Trace(err)
		}

		if params.IsSQLite() {
			if err := os.MkdirAll(filepath.Dir(params.DatabaseName), 0o755); err != nil {
				return nil, errors.Annotate(err, "creating database directory")
			}
		}

		db, err := sql.Open(es.Driver, dsn)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if es.MaxOpenConns > 0 {
			db.SetMaxOpenConns(es.MaxOpenConns)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	}
}

// DriverAvailable checks that the driver configured for engine is
// registered with database/sql. Both drivers are linked in through
// classify.go.
func DriverAvailable(settings dbparams.Settings, engine dbparams.Engine) error {
	es, err := settings.ForEngine(engine)
	if err != nil {
		return errors.Trace(err)
	}
	if !slices.Contains(sql.Drivers(), es.Driver) {
		return errors.NotFoundf("database driver %q for engine %s", es.Driver, engine)
	}
	return nil
}
