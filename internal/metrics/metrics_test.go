package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsExist(t *testing.T) {
	tests := []struct {
		name   string
		metric interface{}
	}{
		{"LockWaitDuration", LockWaitDuration},
		{"LockDepth", LockDepth},
		{"BackendOpensTotal", BackendOpensTotal},
		{"BackendStatus", BackendStatus},
		{"ThreadConnections", ThreadConnections},
		{"DBQueryTotal", DBQueryTotal},
		{"ContentionRetriesTotal", ContentionRetriesTotal},
		{"EscalationsTotal", EscalationsTotal},
		{"SchemaUpdatesTotal", SchemaUpdatesTotal},
		{"WatchMessagesTotal", WatchMessagesTotal},
		{"ScannerRunsTotal", ScannerRunsTotal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s metric is nil", tt.name)
			}
		})
	}
}

func TestInitializeMetricsPopulatesLabels(t *testing.T) {
	InitializeMetrics()

	tests := []struct {
		name      string
		collector prometheus.Collector
		minimum   int
	}{
		{"BackendOpensTotal", BackendOpensTotal, 3},
		{"BackendStatus", BackendStatus, len(backendStatuses)},
		{"DBQueryTotal", DBQueryTotal, 12},
		{"ConsultationsTotal", ConsultationsTotal, 2},
		{"SchemaUpdatesTotal", SchemaUpdatesTotal, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.CollectAndCount(tt.collector); got < tt.minimum {
				t.Errorf("%s has %d series, want at least %d", tt.name, got, tt.minimum)
			}
		})
	}
}

func TestSetBackendStatusIsExclusive(t *testing.T) {
	SetBackendStatus("opened_original")
	SetBackendStatus("closed")

	for _, s := range backendStatuses {
		want := 0.0
		if s == "closed" {
			want = 1
		}
		if got := testutil.ToFloat64(BackendStatus.WithLabelValues(s)); got != want {
			t.Errorf("status %s = %v, want %v", s, got, want)
		}
	}
}

func TestCounterOperations(t *testing.T) {
	before := testutil.ToFloat64(ContentionRetriesTotal)
	ContentionRetriesTotal.Inc()
	ContentionRetriesTotal.Inc()
	if got := testutil.ToFloat64(ContentionRetriesTotal) - before; got != 2 {
		t.Errorf("ContentionRetriesTotal delta = %v, want 2", got)
	}

	beforeUser := testutil.ToFloat64(EscalationsTotal.WithLabelValues("user"))
	EscalationsTotal.WithLabelValues("user").Inc()
	if got := testutil.ToFloat64(EscalationsTotal.WithLabelValues("user")) - beforeUser; got != 1 {
		t.Errorf("EscalationsTotal{user} delta = %v, want 1", got)
	}
}

type fakeStatsProvider struct {
	mu    sync.Mutex
	calls int
	stats Stats
	err   error
}

func (f *fakeStatsProvider) Stats(context.Context) (Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.stats, f.err
}

func (f *fakeStatsProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestCollectorUpdatesGauges(t *testing.T) {
	provider := &fakeStatsProvider{stats: Stats{Images: 42, AlbumRoots: 2, Tags: 7}}
	c := NewCollector(provider, time.Hour)
	c.collect()

	if got := testutil.ToFloat64(CatalogImagesTotal); got != 42 {
		t.Errorf("catalog_images = %v, want 42", got)
	}
	if got := testutil.ToFloat64(CatalogTagsTotal); got != 7 {
		t.Errorf("catalog_tags = %v, want 7", got)
	}
}

func TestCollectorStartStop(t *testing.T) {
	provider := &fakeStatsProvider{}
	c := NewCollector(provider, time.Hour)
	c.Start()

	deadline := time.Now().Add(2 * time.Second)
	for provider.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	c.Stop()

	if provider.callCount() != 1 {
		t.Errorf("provider called %d times, want 1 immediate collection", provider.callCount())
	}
}

func TestCollectorKeepsGaugesOnError(t *testing.T) {
	CatalogAlbumRootsTotal.Set(5)
	provider := &fakeStatsProvider{err: errors.New("database is locked")}
	c := NewCollector(provider, time.Hour)
	c.collect()

	if got := testutil.ToFloat64(CatalogAlbumRootsTotal); got != 5 {
		t.Errorf("catalog_album_roots = %v after failed collection, want 5", got)
	}
}

func TestCollectorNilProvider(t *testing.T) {
	c := NewCollector(nil, time.Hour)
	c.collect()
}
