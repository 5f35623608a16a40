package schema

import (
	"context"
	"strings"
	"sync"
	"testing"

	"media-catalog/internal/backend"
	"media-catalog/internal/catalog"
	"media-catalog/internal/coredb"
	"media-catalog/internal/dbparams"
)

func openCatalog(t *testing.T) *catalog.DB {
	t.Helper()
	b, err := backend.New(dbparams.EngineSQLite, backend.Config{})
	if err != nil {
		t.Fatalf("backend.New() = %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	if err := b.Open(context.Background(), dbparams.ParametersFromSQLitePath(t.TempDir())); err != nil {
		t.Fatalf("Open() = %v", err)
	}
	return catalog.New(b)
}

type recordingObserver struct {
	mu        sync.Mutex
	moreSteps []int
	progress  []string
	finished  []coredb.UpdateResult
}

func (o *recordingObserver) MoreSteps(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.moreSteps = append(o.moreSteps, n)
}

func (o *recordingObserver) Progress(message string, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = append(o.progress, message)
}

func (o *recordingObserver) Finished(result coredb.UpdateResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, result)
}

func (o *recordingObserver) UpdateMustAbort(string) {}

func TestFreshDatabaseNeedsAllSteps(t *testing.T) {
	db := openCatalog(t)
	ctx := context.Background()
	obs := &recordingObserver{}

	u := NewUpdater(db)
	u.SetObserver(obs)

	res := u.Run(ctx)
	if res.Status != coredb.UpdateNeedsMoreSteps || res.Steps != len(steps) {
		t.Fatalf("first Run() = %+v, want %d steps", res, len(steps))
	}
	if len(obs.moreSteps) != 1 || obs.moreSteps[0] != len(steps) {
		t.Errorf("MoreSteps calls = %v", obs.moreSteps)
	}

	res = u.Run(ctx)
	if !res.Success() {
		t.Fatalf("second Run() = %+v", res)
	}
	if len(obs.progress) != len(steps) {
		t.Errorf("Progress calls = %v, want one per step", obs.progress)
	}
	if len(obs.finished) != 1 || !obs.finished[0].Success() {
		t.Errorf("Finished calls = %+v", obs.finished)
	}

	version, err := u.Version(ctx)
	if err != nil || version != CurrentVersion {
		t.Errorf("Version() = %d, %v; want %d", version, err, CurrentVersion)
	}
}

func TestUpToDateDatabaseSucceedsImmediately(t *testing.T) {
	db := openCatalog(t)
	ctx := context.Background()

	first := NewUpdater(db)
	first.Run(ctx)
	if res := first.Run(ctx); !res.Success() {
		t.Fatalf("migration = %+v", res)
	}

	obs := &recordingObserver{}
	second := NewUpdater(db)
	second.SetObserver(obs)
	if res := second.Run(ctx); !res.Success() {
		t.Fatalf("Run() on current schema = %+v, want success", res)
	}
	if len(obs.moreSteps) != 0 || len(obs.progress) != 0 {
		t.Errorf("observer saw work on a current schema: %+v", obs)
	}
}

func TestResumesFromStoredVersion(t *testing.T) {
	db := openCatalog(t)
	ctx := context.Background()

	if err := steps[0].apply(ctx, db, dbparams.EngineSQLite); err != nil {
		t.Fatalf("applying base step = %v", err)
	}
	if err := db.SetSetting(ctx, catalog.SettingDBVersion, "1"); err != nil {
		t.Fatalf("SetSetting() = %v", err)
	}

	u := NewUpdater(db)
	res := u.Run(ctx)
	if res.Status != coredb.UpdateNeedsMoreSteps || res.Steps != 2 {
		t.Fatalf("Run() at version 1 = %+v, want 2 steps", res)
	}
	if res := u.Run(ctx); !res.Success() {
		t.Fatalf("apply = %+v", res)
	}
	if ok, err := db.ColumnExists(ctx, "Images", "modificationDate"); err != nil || !ok {
		t.Errorf("modificationDate column = %v, %v", ok, err)
	}
}

func TestModificationDateStepIsIdempotent(t *testing.T) {
	db := openCatalog(t)
	ctx := context.Background()

	if err := steps[0].apply(ctx, db, dbparams.EngineSQLite); err != nil {
		t.Fatalf("base step = %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := addModificationDate(ctx, db, dbparams.EngineSQLite); err != nil {
			t.Fatalf("addModificationDate() run %d = %v", i+1, err)
		}
	}
}

func TestNewerSchemaMustAbort(t *testing.T) {
	db := openCatalog(t)
	ctx := context.Background()

	if err := steps[0].apply(ctx, db, dbparams.EngineSQLite); err != nil {
		t.Fatalf("base step = %v", err)
	}
	if err := db.SetSetting(ctx, catalog.SettingDBVersion, "99"); err != nil {
		t.Fatalf("SetSetting() = %v", err)
	}

	obs := &recordingObserver{}
	u := NewUpdater(db)
	u.SetObserver(obs)
	res := u.Run(ctx)
	if res.Status != coredb.UpdateFailed || !res.MustAbort {
		t.Fatalf("Run() = %+v, want must-abort failure", res)
	}
	if !strings.Contains(res.Message, "99") {
		t.Errorf("message %q does not name the on-disk version", res.Message)
	}
	if len(obs.finished) != 1 {
		t.Errorf("Finished calls = %d, want 1", len(obs.finished))
	}
}

func TestInvalidVersionFails(t *testing.T) {
	db := openCatalog(t)
	ctx := context.Background()

	if err := steps[0].apply(ctx, db, dbparams.EngineSQLite); err != nil {
		t.Fatalf("base step = %v", err)
	}
	if err := db.SetSetting(ctx, catalog.SettingDBVersion, "three"); err != nil {
		t.Fatalf("SetSetting() = %v", err)
	}

	res := NewUpdater(db).Run(ctx)
	if res.Status != coredb.UpdateFailed || res.MustAbort {
		t.Errorf("Run() = %+v, want plain failure", res)
	}
}

func TestLoadStatements(t *testing.T) {
	for _, engine := range []dbparams.Engine{dbparams.EngineSQLite, dbparams.EngineNetworkSQL} {
		t.Run(engine.String(), func(t *testing.T) {
			base, err := loadStatements(engine, "001_base.sql")
			if err != nil {
				t.Fatalf("loadStatements(base) = %v", err)
			}
			if len(base) != 4 {
				t.Errorf("base script has %d statements, want 4", len(base))
			}
			for _, stmt := range base {
				if strings.HasPrefix(stmt, "--") || strings.HasSuffix(stmt, ";") {
					t.Errorf("statement not trimmed: %q", stmt)
				}
			}

			indices, err := loadStatements(engine, "003_indices.sql")
			if err != nil {
				t.Fatalf("loadStatements(indices) = %v", err)
			}
			if len(indices) != 4 {
				t.Errorf("index script has %d statements, want 4", len(indices))
			}
		})
	}

	if _, err := loadStatements(dbparams.EngineSQLite, "missing.sql"); err == nil {
		t.Error("loadStatements(missing) succeeded")
	}
}
