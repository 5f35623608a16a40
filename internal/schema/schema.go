package schema

import (
	"context"
	"fmt"
	"strconv"

	"github.com/juju/errors"

	"media-catalog/internal/backend"
	"media-catalog/internal/catalog"
	"media-catalog/internal/coredb"
	"media-catalog/internal/dbparams"
	"media-catalog/internal/logging"
	"media-catalog/internal/metrics"
)

// Updater verifies the catalog schema and applies missing steps. The first
// Run only plans and reports how many steps are pending; the next Run
// applies them.
type Updater struct {
	db       *catalog.DB
	engine   dbparams.Engine
	observer coredb.InitObserver

	planned bool
	pending []step
}

// NewUpdater returns an updater for db.
func NewUpdater(db *catalog.DB) *Updater {
	return &Updater{
		db:       db,
		engine:   db.Backend().Engine(),
		observer: nopObserver{},
	}
}

// Factory is the coredb.SchemaUpdaterFactory for this package.
func Factory(access *coredb.Access, _ *backend.Backend, _ dbparams.Parameters) coredb.SchemaUpdater {
	return NewUpdater(access.DB())
}

// SetObserver implements coredb.SchemaUpdater.
func (u *Updater) SetObserver(observer coredb.InitObserver) {
	if observer == nil {
		observer = nopObserver{}
	}
	u.observer = observer
}

// Version returns the schema version stored in the catalog, 0 for an
// empty database.
func (u *Updater) Version(ctx context.Context) (int, error) {
	exists, err := u.db.TableExists(ctx, "Settings")
	if err != nil {
		return 0, errors.Trace(err)
	}
	if !exists {
		return 0, nil
	}

	value, err := u.db.Setting(ctx, catalog.SettingDBVersion)
	if errors.Is(err, errors.NotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	version, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.NotValidf("schema version %q", value)
	}
	return version, nil
}

// Run implements coredb.SchemaUpdater.
func (u *Updater) Run(ctx context.Context) coredb.UpdateResult {
	if !u.planned {
		return u.plan(ctx)
	}
	return u.apply(ctx)
}

func (u *Updater) plan(ctx context.Context) coredb.UpdateResult {
	version, err := u.Version(ctx)
	if err != nil {
		return u.finish(coredb.UpdateResult{
			Status:  coredb.UpdateFailed,
			Message: fmt.Sprintf("Reading the schema version failed: %v", err),
		})
	}
	if version > CurrentVersion {
		return u.finish(coredb.UpdateResult{
			Status: coredb.UpdateFailed,
			Message: fmt.Sprintf("The catalog has schema version %d, newer than version %d supported by this program. "+
				"Refusing to touch it.", version, CurrentVersion),
			MustAbort: true,
		})
	}

	u.planned = true
	u.pending = nil
	for _, s := range steps {
		if s.version > version {
			u.pending = append(u.pending, s)
		}
	}
	if len(u.pending) == 0 {
		metrics.SchemaVersion.Set(float64(version))
		return u.finish(coredb.UpdateResult{Status: coredb.UpdateSuccess})
	}

	logging.Info("Catalog schema version %d, updating to %d", version, CurrentVersion)
	u.observer.MoreSteps(len(u.pending))
	return coredb.UpdateResult{Status: coredb.UpdateNeedsMoreSteps, Steps: len(u.pending)}
}

func (u *Updater) apply(ctx context.Context) coredb.UpdateResult {
	for i, s := range u.pending {
		u.observer.Progress(s.name, len(u.pending)-i-1)

		err := u.db.InTransaction(ctx, func(ctx context.Context) error {
			if err := s.apply(ctx, u.db, u.engine); err != nil {
				return err
			}
			return u.db.SetSetting(ctx, catalog.SettingDBVersion, strconv.Itoa(s.version))
		})
		if err != nil {
			u.pending = u.pending[i:]
			return u.finish(coredb.UpdateResult{
				Status:  coredb.UpdateFailed,
				Message: fmt.Sprintf("Schema update to version %d (%s) failed: %v", s.version, s.name, err),
			})
		}
		metrics.SchemaVersion.Set(float64(s.version))
		logging.Debug("Schema updated to version %d", s.version)
	}

	u.pending = nil
	return u.finish(coredb.UpdateResult{Status: coredb.UpdateSuccess})
}

func (u *Updater) finish(result coredb.UpdateResult) coredb.UpdateResult {
	u.observer.Finished(result)
	return result
}

type nopObserver struct{}

func (nopObserver) MoreSteps(int) {}
func (nopObserver) Progress(string, int) {}
func (nopObserver) Finished(coredb.UpdateResult) {}
func (nopObserver) UpdateMustAbort(string) {}
