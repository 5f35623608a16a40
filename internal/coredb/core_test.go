package coredb

import (
	"context"
	"testing"

	"media-catalog/internal/backend"
	"media-catalog/internal/dbparams"
)

func TestIdempotentReconfiguration(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	params := sqliteParams(t)

	if err := f.core.SetParameters(params, RoleMaster); err != nil {
		t.Fatalf("SetParameters() = %v", err)
	}
	if !f.core.CheckReadyForUse(ctx, nil) {
		t.Fatalf("CheckReadyForUse() = false: %s", f.core.LastError())
	}
	id := f.core.DatabaseID()

	if err := f.core.SetParameters(params, RoleMaster); err != nil {
		t.Fatalf("second SetParameters() = %v", err)
	}
	a := f.core.Acquire(ctx)
	b := a.Backend()
	a.Release()

	if got := b.OpenCount(); got != 1 {
		t.Errorf("OpenCount() = %d, want 1", got)
	}
	if got := b.CloseCount(); got != 0 {
		t.Errorf("CloseCount() = %d, want 0", got)
	}
	if got := f.watch.changes(); got != 1 {
		t.Errorf("SendDatabaseChanged calls = %d, want 1", got)
	}
	if f.core.DatabaseID() != id {
		t.Error("equal parameters cleared the database identifier")
	}
}

func TestReconfigurationAcrossEngines(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.core.SetParameters(sqliteParams(t), RoleMaster); err != nil {
		t.Fatalf("SetParameters(sqlite) = %v", err)
	}
	if !f.core.CheckReadyForUse(ctx, nil) {
		t.Fatalf("CheckReadyForUse() = false: %s", f.core.LastError())
	}
	a := f.core.Acquire(ctx)
	sqliteBackend := a.Backend()
	a.Release()

	network := dbparams.NetworkParameters("db.example", 3306, "catalog", "secret", "catalog")
	if err := f.core.SetParameters(network, RoleMaster); err != nil {
		t.Fatalf("SetParameters(mysql) = %v", err)
	}

	if got := sqliteBackend.CloseCount(); got != 1 {
		t.Errorf("sqlite backend CloseCount() = %d, want 1", got)
	}
	if got := f.core.BackendsCreated(); got != 2 {
		t.Errorf("BackendsCreated() = %d, want 2 (one recreate)", got)
	}
	if got := f.watch.changes(); got != 2 {
		t.Errorf("SendDatabaseChanged calls = %d, want one per SetParameters", got)
	}
	if f.core.DatabaseID() != "" {
		t.Error("database identifier kept across reconfiguration")
	}
	if f.core.State() != StateUninitialized {
		t.Errorf("State() = %v, want uninitialized", f.core.State())
	}
	if _, resets := f.locations.counts(); resets != 2 {
		t.Errorf("location resets = %d, want 2", resets)
	}
	if f.watch.remoteInits != 1 {
		t.Errorf("watch initialized %d times, want once", f.watch.remoteInits)
	}
	if f.core.Parameters() != network {
		t.Errorf("Parameters() = %+v", f.core.Parameters())
	}

	// Same engine again: the backend is closed but kept.
	if err := f.core.SetParameters(dbparams.NetworkParameters("other.example", 3306, "u", "p", "c"), RoleMaster); err != nil {
		t.Fatalf("SetParameters(mysql 2) = %v", err)
	}
	if got := f.core.BackendsCreated(); got != 2 {
		t.Errorf("BackendsCreated() after same engine change = %d, want 2", got)
	}
}

func TestSameEngineNewLocationReopens(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.core.SetParameters(sqliteParams(t), RoleMaster); err != nil {
		t.Fatalf("SetParameters() = %v", err)
	}
	if !f.core.CheckReadyForUse(ctx, nil) {
		t.Fatalf("CheckReadyForUse() = false: %s", f.core.LastError())
	}

	next := sqliteParams(t)
	if err := f.core.SetParameters(next, RoleMaster); err != nil {
		t.Fatalf("SetParameters(next) = %v", err)
	}
	if !f.core.CheckReadyForUse(ctx, nil) {
		t.Fatalf("CheckReadyForUse() after move = false: %s", f.core.LastError())
	}

	a := f.core.Acquire(ctx)
	defer a.Release()
	if got := a.Backend().Parameters(); got != next {
		t.Errorf("backend parameters = %+v, want %+v", got, next)
	}
	if got := a.Backend().OpenCount(); got != 2 {
		t.Errorf("OpenCount() = %d, want 2", got)
	}
	if f.updaters.created != 2 {
		t.Errorf("schema updaters created = %d, want one per location", f.updaters.created)
	}
}

func TestNestedAcquireDuringInitialization(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var nestedState State
	f.locations.onRefresh = func() {
		a := f.core.Acquire(ctx)
		nestedState = f.core.state
		a.Release()
	}
	if err := f.core.SetParameters(sqliteParams(t), RoleMaster); err != nil {
		t.Fatalf("SetParameters() = %v", err)
	}

	a := f.core.Acquire(ctx)
	a.Release()

	if nestedState != StateInitializing {
		t.Errorf("state seen by nested access = %v, want initializing", nestedState)
	}
	if refreshes, _ := f.locations.counts(); refreshes != 1 {
		t.Errorf("location refreshes = %d, want 1", refreshes)
	}
	if f.core.State() != StateReady {
		t.Errorf("State() = %v, want ready", f.core.State())
	}
	if d := f.core.LockDepth(); d != 0 {
		t.Errorf("LockDepth() = %d, want 0", d)
	}
}

func TestCachesInvalidatedOnReconfiguration(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.core.SetParameters(sqliteParams(t), RoleMaster); err != nil {
		t.Fatalf("SetParameters() = %v", err)
	}
	if err := f.core.SetParameters(sqliteParams(t), RoleMaster); err != nil {
		t.Fatalf("SetParameters() = %v", err)
	}
	if f.cache.invalidated != 2 {
		t.Errorf("cache invalidations = %d, want 2", f.cache.invalidated)
	}
}

type nopPolicy struct{}

func (nopPolicy) ConnectionError(a *backend.Answer, _ error, _ string)     { a.AbortQueries() }
func (nopPolicy) ConsultUserForError(a *backend.Answer, _ error, _ string) { a.AbortQueries() }

func TestErrorPolicySurvivesReconfiguration(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.core.SetParameters(sqliteParams(t), RoleMaster); err != nil {
		t.Fatalf("SetParameters() = %v", err)
	}
	f.core.SetErrorPolicy(nopPolicy{})

	network := dbparams.NetworkParameters("db.example", 0, "u", "p", "catalog")
	if err := f.core.SetParameters(network, RoleMaster); err != nil {
		t.Fatalf("SetParameters(mysql) = %v", err)
	}
	if _, ok := f.core.Dispatcher().Policy().(nopPolicy); !ok {
		t.Errorf("policy after reconfiguration = %T", f.core.Dispatcher().Policy())
	}
}

func TestCleanUp(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Before any initialization.
	f.core.CleanUp()

	if err := f.core.SetParameters(sqliteParams(t), RoleMaster); err != nil {
		t.Fatalf("SetParameters() = %v", err)
	}
	if !f.core.CheckReadyForUse(ctx, nil) {
		t.Fatalf("CheckReadyForUse() = false: %s", f.core.LastError())
	}
	a := f.core.Acquire(ctx)
	b := a.Backend()
	a.Release()

	f.core.CleanUp()
	f.core.CleanUp()

	if b.IsOpen() {
		t.Error("backend still open after CleanUp")
	}
	if f.watch.closed != 1 {
		t.Errorf("watch closed %d times, want 1", f.watch.closed)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Error("Acquire() after CleanUp did not panic")
			}
		}()
		f.core.Acquire(ctx)
	}()

	// A clean restart works.
	if err := f.core.SetParameters(sqliteParams(t), RoleMaster); err != nil {
		t.Fatalf("SetParameters() after CleanUp = %v", err)
	}
	if !f.core.CheckReadyForUse(ctx, nil) {
		t.Fatalf("CheckReadyForUse() after restart = false: %s", f.core.LastError())
	}
	if got := f.core.BackendsCreated(); got != 2 {
		t.Errorf("BackendsCreated() = %d, want 2", got)
	}
}

func TestDefaultCore(t *testing.T) {
	ctx := context.Background()
	CleanUpDatabase()
	t.Cleanup(CleanUpDatabase)

	if CheckReadyForUse(ctx, nil) {
		t.Fatal("CheckReadyForUse() = true before SetParameters")
	}
	if LastError() == "" {
		t.Error("LastError() empty before SetParameters")
	}
	func() {
		defer func() {
			if recover() == nil {
				t.Error("Acquire() before SetParameters did not panic")
			}
		}()
		Acquire(ctx)
	}()

	Configure(Options{Settings: testSettings(t)})
	t.Cleanup(func() { Configure(Options{}) })

	if err := SetParameters(sqliteParams(t), RoleMaster); err != nil {
		t.Fatalf("SetParameters() = %v", err)
	}
	if Default() == nil {
		t.Fatal("Default() = nil after SetParameters")
	}
	if !CheckReadyForUse(ctx, nil) {
		t.Fatalf("CheckReadyForUse() = false: %s", LastError())
	}

	a := Acquire(ctx)
	if !a.Backend().IsReady() {
		t.Error("backend not ready")
	}
	a.Release()

	CleanUpDatabase()
	CleanUpDatabase()
	if Default() != nil {
		t.Error("Default() survived CleanUpDatabase")
	}
}
