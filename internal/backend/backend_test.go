package backend

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/goleak"

	"media-catalog/internal/dbparams"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testSettings keeps retries short so that contention tests finish fast.
func testSettings(t *testing.T) *dbparams.Settings {
	t.Helper()
	s, err := dbparams.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings() = %v", err)
	}
	s.Contention = dbparams.ContentionSettings{MaxRetries: 3, InitialWait: time.Millisecond, MaxWait: 4 * time.Millisecond}
	s.Reconnect = dbparams.ReconnectSettings{Attempts: 2, Delay: time.Millisecond}
	return &s
}

// sqliteOpener opens WAL databases that report contention immediately
// instead of waiting in the driver's busy handler.
func sqliteOpener(ctx context.Context, p dbparams.Parameters) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", p.DatabaseName+"?_journal_mode=WAL&_busy_timeout=0")
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newTestBackend(t *testing.T, cfg Config) (*Backend, dbparams.Parameters) {
	t.Helper()
	if cfg.Settings == nil {
		cfg.Settings = testSettings(t)
	}
	if cfg.Opener == nil {
		cfg.Opener = sqliteOpener
	}
	b, err := New(dbparams.EngineSQLite, cfg)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b, dbparams.ParametersFromSQLitePath(t.TempDir())
}

func openTestBackend(t *testing.T, cfg Config) *Backend {
	t.Helper()
	b, params := newTestBackend(t, cfg)
	if err := b.Open(context.Background(), params); err != nil {
		t.Fatalf("Open() = %v", err)
	}
	return b
}

// runDispatcher runs d on a background goroutine for the rest of the test.
func runDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

type recordingPolicy struct {
	mu         sync.Mutex
	connection int
	user       int
	queries    []string
	verdict    Verdict
	// answers, when set, receives every Answer instead of it being posted.
	answers chan *Answer
}

func (p *recordingPolicy) ConnectionError(a *Answer, _ error, query string) {
	p.mu.Lock()
	p.connection++
	p.queries = append(p.queries, query)
	p.mu.Unlock()
	p.reply(a)
}

func (p *recordingPolicy) ConsultUserForError(a *Answer, _ error, query string) {
	p.mu.Lock()
	p.user++
	p.queries = append(p.queries, query)
	p.mu.Unlock()
	p.reply(a)
}

func (p *recordingPolicy) reply(a *Answer) {
	if p.answers != nil {
		p.answers <- a
		return
	}
	p.mu.Lock()
	v := p.verdict
	p.mu.Unlock()
	if v == VerdictAbort {
		a.AbortQueries()
	} else {
		a.ContinueQueries()
	}
}

func (p *recordingPolicy) counts() (connection, user int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connection, p.user
}

var errBusy = sqlite3.Error{Code: sqlite3.ErrBusy}

func TestStatusLifecycle(t *testing.T) {
	b, params := newTestBackend(t, Config{})
	ctx := context.Background()

	if b.Status() != StatusUnopened || b.IsOpen() {
		t.Fatalf("new backend status = %s", b.Status())
	}
	if _, err := b.DatabaseForThread(ctx); !errors.Is(err, ErrNotOpen) {
		t.Errorf("DatabaseForThread() before open = %v, want ErrNotOpen", err)
	}

	if err := b.Open(ctx, params); err != nil {
		t.Fatalf("Open() = %v", err)
	}
	if b.Status() != StatusOpenedOriginal {
		t.Errorf("status after open = %s", b.Status())
	}
	if err := b.Open(ctx, params); err != nil || b.OpenCount() != 1 {
		t.Errorf("second Open() = %v, OpenCount = %d", err, b.OpenCount())
	}

	if b.IsReady() {
		t.Error("IsReady() before SetReady")
	}
	b.SetReady()
	if !b.IsReady() {
		t.Error("IsReady() = false after SetReady")
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if b.Status() != StatusClosed || b.IsReady() || b.CloseCount() != 1 {
		t.Errorf("after close: status %s, ready %v, closes %d", b.Status(), b.IsReady(), b.CloseCount())
	}
	if err := b.Close(); err != nil || b.CloseCount() != 1 {
		t.Errorf("second Close() = %v, CloseCount = %d", err, b.CloseCount())
	}

	if err := b.Open(ctx, params); err != nil {
		t.Fatalf("reopen = %v", err)
	}
	if b.Status() != StatusOpenedOriginal || b.OpenCount() != 2 {
		t.Errorf("after reopen: status %s, opens %d", b.Status(), b.OpenCount())
	}
}

func TestOpenRejectsInvalidParameters(t *testing.T) {
	b, _ := newTestBackend(t, Config{})
	ctx := context.Background()

	if err := b.Open(ctx, dbparams.NetworkParameters("db", 0, "u", "p", "c")); err == nil {
		t.Error("Open() accepted parameters for another engine")
	}
	if err := b.Open(ctx, dbparams.Parameters{Engine: dbparams.EngineSQLite}); err == nil {
		t.Error("Open() accepted parameters without a database")
	}
	if b.OpenCount() != 0 {
		t.Errorf("OpenCount() = %d after rejected opens", b.OpenCount())
	}
}

func TestOpenFailureWithoutPolicy(t *testing.T) {
	openErr := errors.New("unable to open database file")
	var calls atomic.Int32
	b, params := newTestBackend(t, Config{
		Opener: func(context.Context, dbparams.Parameters) (*sql.DB, error) {
			calls.Add(1)
			return nil, openErr
		},
	})

	err := b.Open(context.Background(), params)
	if err == nil || !strings.Contains(err.Error(), openErr.Error()) {
		t.Fatalf("Open() = %v, want %v", err, openErr)
	}
	if calls.Load() != 1 {
		t.Errorf("opener called %d times, want 1 (no policy means abort)", calls.Load())
	}
	if b.Status() != StatusClosed {
		t.Errorf("status = %s, want closed", b.Status())
	}
	if !errors.Is(b.LastError(), openErr) {
		t.Errorf("LastError() = %v", b.LastError())
	}
}

func TestOpenRetriesWhenPolicyContinues(t *testing.T) {
	var calls atomic.Int32
	d := NewDispatcher()
	policy := &recordingPolicy{verdict: VerdictContinue}
	d.SetPolicy(policy)
	runDispatcher(t, d)

	b, params := newTestBackend(t, Config{
		Dispatcher: d,
		Opener: func(ctx context.Context, p dbparams.Parameters) (*sql.DB, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("server not reachable")
			}
			return sqliteOpener(ctx, p)
		},
	})

	if err := b.Open(context.Background(), params); err != nil {
		t.Fatalf("Open() = %v", err)
	}
	if b.Status() != StatusOpenedAfterError {
		t.Errorf("status = %s, want %s", b.Status(), StatusOpenedAfterError)
	}
	if conn, _ := policy.counts(); conn != 1 {
		t.Errorf("ConnectionError called %d times, want 1", conn)
	}
}

func TestDriverAvailable(t *testing.T) {
	s := testSettings(t)
	if err := DriverAvailable(*s, dbparams.EngineSQLite); err != nil {
		t.Errorf("DriverAvailable(sqlite) = %v", err)
	}
	if err := DriverAvailable(*s, dbparams.EngineNetworkSQL); err != nil {
		t.Errorf("DriverAvailable(mysql) = %v", err)
	}

	broken := *s
	broken.Engines = map[string]dbparams.EngineSettings{"sqlite": {Driver: "nope"}}
	if err := DriverAvailable(broken, dbparams.EngineSQLite); err == nil {
		t.Error("DriverAvailable() accepted an unregistered driver")
	}
}
