package filesystem

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"media-catalog/internal/metrics"
)

type prefixLabeler map[string]string

func (p prefixLabeler) Label(path string) string {
	for prefix, label := range p {
		if strings.HasPrefix(path, prefix) {
			return label
		}
	}
	return Unknown
}

func fastConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", config.MaxRetries)
	}
	if config.InitialBackoff != 50*time.Millisecond {
		t.Errorf("InitialBackoff = %v, want 50ms", config.InitialBackoff)
	}
	if config.MaxBackoff != 500*time.Millisecond {
		t.Errorf("MaxBackoff = %v, want 500ms", config.MaxBackoff)
	}
	if config.Roots != nil {
		t.Error("Roots should be nil by default")
	}
}

func TestIsNFSStaleError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"ESTALE error", syscall.ESTALE, true},
		{"wrapped ESTALE", &os.PathError{Op: "stat", Path: "/x", Err: syscall.ESTALE}, true},
		{"ENOENT error", syscall.ENOENT, false},
		{"generic error", os.ErrNotExist, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isNFSStaleError(tt.err); got != tt.want {
				t.Errorf("isNFSStaleError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRootLabel(t *testing.T) {
	original := defaultLabeler
	defer func() { defaultLabeler = original }()

	config := fastConfig()
	SetDefaultLabeler(nil)
	if got := config.rootLabel("/photos/a.jpg"); got != Unknown {
		t.Errorf("rootLabel() without labeler = %q", got)
	}

	SetDefaultLabeler(prefixLabeler{"/photos": "default"})
	if got := config.rootLabel("/photos/a.jpg"); got != "default" {
		t.Errorf("rootLabel() = %q, want package default", got)
	}

	config.Roots = prefixLabeler{"/photos": "config"}
	if got := config.rootLabel("/photos/a.jpg"); got != "config" {
		t.Errorf("rootLabel() = %q, want config labeler", got)
	}
}

func TestWithRetryRecoversFromStaleHandle(t *testing.T) {
	config := fastConfig()
	config.Roots = prefixLabeler{"/nfs": "nfs-recover"}

	calls := 0
	err := withRetry("stat", "/nfs/a.jpg", config, func() error {
		calls++
		if calls < 3 {
			return syscall.ESTALE
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry() = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if got := testutil.ToFloat64(metrics.FilesystemRetryAttempts.WithLabelValues("stat", "nfs-recover")); got != 2 {
		t.Errorf("retry attempts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.FilesystemRetryFailures.WithLabelValues("stat", "nfs-recover")); got != 0 {
		t.Errorf("retry failures = %v, want 0", got)
	}
}

func TestWithRetryGivesUp(t *testing.T) {
	config := fastConfig()
	config.Roots = prefixLabeler{"/nfs": "nfs-giveup"}

	calls := 0
	err := withRetry("open", "/nfs/b.jpg", config, func() error {
		calls++
		return syscall.ESTALE
	})
	if err != syscall.ESTALE {
		t.Fatalf("withRetry() = %v, want ESTALE", err)
	}
	if calls != config.MaxRetries+1 {
		t.Errorf("calls = %d, want %d", calls, config.MaxRetries+1)
	}
	if got := testutil.ToFloat64(metrics.FilesystemStaleErrors.WithLabelValues("open", "nfs-giveup")); got != 4 {
		t.Errorf("stale errors = %v, want 4", got)
	}
	if got := testutil.ToFloat64(metrics.FilesystemRetryFailures.WithLabelValues("open", "nfs-giveup")); got != 1 {
		t.Errorf("retry failures = %v, want 1", got)
	}
}

func TestWithRetryOtherErrorsFailFast(t *testing.T) {
	calls := 0
	err := withRetry("stat", "/x", fastConfig(), func() error {
		calls++
		return syscall.ENOENT
	})
	if err != syscall.ENOENT || calls != 1 {
		t.Errorf("withRetry() = %v after %d calls, want ENOENT after 1", err, calls)
	}
}

func TestStatOpenReadDir(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "test.txt")
	if err := os.WriteFile(file, []byte("test"), 0o644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	info, err := StatWithRetry(file, fastConfig())
	if err != nil || info.Size() != 4 {
		t.Errorf("StatWithRetry() = %v, %v", info, err)
	}

	f, err := OpenWithRetry(file, fastConfig())
	if err != nil {
		t.Fatalf("OpenWithRetry() = %v", err)
	}
	_ = f.Close()

	entries, err := ReadDirWithRetry(dir, fastConfig())
	if err != nil || len(entries) != 1 || entries[0].Name() != "test.txt" {
		t.Errorf("ReadDirWithRetry() = %v, %v", entries, err)
	}

	missing := filepath.Join(dir, "missing")
	if _, err := StatWithRetry(missing, fastConfig()); !os.IsNotExist(err) {
		t.Errorf("StatWithRetry(missing) = %v, want not exist", err)
	}
	if _, err := OpenWithRetry(missing, fastConfig()); !os.IsNotExist(err) {
		t.Errorf("OpenWithRetry(missing) = %v, want not exist", err)
	}
	if _, err := ReadDirWithRetry(missing, fastConfig()); !os.IsNotExist(err) {
		t.Errorf("ReadDirWithRetry(missing) = %v, want not exist", err)
	}
}

func BenchmarkStatWithRetry_Success(b *testing.B) {
	file := filepath.Join(b.TempDir(), "bench.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		b.Fatal(err)
	}
	config := DefaultRetryConfig()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = StatWithRetry(file, config)
	}
}
