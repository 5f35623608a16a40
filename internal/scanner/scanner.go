package scanner

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"media-catalog/internal/catalog"
	"media-catalog/internal/coredb"
	"media-catalog/internal/filesystem"
	"media-catalog/internal/logging"
	"media-catalog/internal/metrics"
	"media-catalog/internal/workers"
)

// ErrRunning is returned by Run while another rescan is in progress.
const ErrRunning = errors.ConstError("rescan already running")

// Number of image rows written per transaction
const batchSize = 200

// Config tunes a Scanner. Zero values select defaults.
type Config struct {
	// Interval between periodic rescans started by Start.
	Interval time.Duration
	// Workers stats files of one directory in parallel.
	Workers int
	Retry   filesystem.RetryConfig
	// Clock stamps rows as seen and times periodic rescans.
	Clock clock.Clock
}

// Result summarizes one rescan.
type Result struct {
	Roots   int   `json:"roots"`
	Files   int64 `json:"files"`
	Removed int64 `json:"removed"`
}

// Status describes the scanner for the status endpoints.
type Status struct {
	Running      bool          `json:"running"`
	LastRun      time.Time     `json:"lastRun,omitempty"`
	LastDuration time.Duration `json:"lastDuration"`
	LastResult   Result        `json:"lastResult"`
	LastError    string        `json:"lastError,omitempty"`
}

// Scanner records the images below every album root in the catalog.
type Scanner struct {
	core   *coredb.Core
	config Config

	mu     sync.Mutex
	status Status

	stopChan chan struct{}
	done     chan struct{}
}

// New creates a scanner working through core.
func New(core *coredb.Core, config Config) *Scanner {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.Clock == nil {
		config.Clock = clock.WallClock
	}
	if config.Workers <= 0 {
		config.Workers = workers.ForIO(8)
	}
	if config.Retry.MaxRetries == 0 && config.Retry.InitialBackoff == 0 {
		roots := config.Retry.Roots
		config.Retry = filesystem.DefaultRetryConfig()
		config.Retry.Roots = roots
	}
	return &Scanner{core: core, config: config}
}

// Start runs a rescan immediately and then every Interval until Stop.
func (s *Scanner) Start(ctx context.Context) {
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-s.stopChan:
				cancel()
			case <-ctx.Done():
			}
		}()

		for {
			if _, err := s.Run(ctx); err != nil && !errors.Is(err, ErrRunning) && ctx.Err() == nil {
				logging.Error("Rescan failed: %v", err)
			}
			select {
			case <-s.config.Clock.After(s.config.Interval):
			case <-ctx.Done():
				logging.Info("Periodic rescans stopped")
				return
			}
		}
	}()
}

// Stop ends periodic rescans and waits for a running one to return.
func (s *Scanner) Stop() {
	if s.stopChan == nil {
		return
	}
	close(s.stopChan)
	<-s.done
	s.stopChan = nil
}

// Status returns the state of the last rescan.
func (s *Scanner) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Scanner) tryStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Running {
		return false
	}
	s.status.Running = true
	return true
}

func (s *Scanner) finish(start time.Time, result Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Running = false
	s.status.LastRun = start
	s.status.LastDuration = s.config.Clock.Now().Sub(start)
	s.status.LastResult = result
	s.status.LastError = ""
	if err != nil {
		s.status.LastError = err.Error()
	}
}

// Run rescans every available album root once. The caller may hold an
// access; it is released while directories are read and taken back
// before rows are written.
func (s *Scanner) Run(ctx context.Context) (Result, error) {
	if !s.tryStart() {
		return Result{}, ErrRunning
	}
	start := s.config.Clock.Now()
	metrics.ScannerIsRunning.Set(1)
	defer metrics.ScannerIsRunning.Set(0)
	metrics.ScannerRunsTotal.Inc()
	logging.Info("Starting collection rescan...")

	result, err := s.run(ctx, start)
	s.finish(start, result, err)
	if err != nil {
		metrics.ScannerErrors.Inc()
		return result, err
	}

	elapsed := s.config.Clock.Now().Sub(start)
	metrics.ScannerLastRunTimestamp.Set(float64(start.Unix()))
	metrics.ScannerLastRunDuration.Set(elapsed.Seconds())
	logging.Info("Rescan finished in %v: %d roots, %d files, %d removed",
		elapsed.Round(time.Millisecond), result.Roots, result.Files, result.Removed)
	return result, nil
}

func (s *Scanner) run(ctx context.Context, start time.Time) (Result, error) {
	a := s.core.Acquire(ctx)
	defer a.Release()

	if a.DB() == nil {
		return Result{}, errors.New("no catalog database")
	}
	roots, err := a.DB().AlbumRoots(ctx)
	if err != nil {
		return Result{}, err
	}

	var result Result
	for _, root := range roots {
		if root.Status != catalog.AlbumRootAvailable {
			continue
		}
		files, removed, err := s.scanRoot(ctx, a, root, start)
		result.Files += files
		result.Removed += removed
		if err != nil {
			return result, errors.Annotatef(err, "scanning album root %q", root.Label)
		}
		result.Roots++
	}
	return result, nil
}

type found struct {
	path string
	info os.FileInfo
}

// scanRoot walks root breadth first. Each directory is read with the
// access released; its images are then written in one transaction.
func (s *Scanner) scanRoot(ctx context.Context, a *coredb.Access, root catalog.AlbumRoot, start time.Time) (int64, int64, error) {
	var files int64
	queue := []string{root.SpecificPath}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return files, 0, err
		}
		dir := queue[0]
		queue = queue[1:]

		var (
			images  []found
			subdirs []string
			readErr error
		)
		s.core.Unlocked(func() {
			images, subdirs, readErr = s.readDir(ctx, dir)
		})
		if readErr != nil {
			if dir == root.SpecificPath {
				return files, 0, readErr
			}
			logging.Warn("Skipping %s: %v", dir, readErr)
			metrics.ScannerErrors.Inc()
			continue
		}
		queue = append(queue, subdirs...)

		for len(images) > 0 {
			n := min(batchSize, len(images))
			if err := s.record(ctx, a, root, images[:n], start); err != nil {
				return files, 0, err
			}
			files += int64(n)
			metrics.ScannerFilesProcessed.Add(float64(n))
			images = images[n:]
		}
	}

	// Rows are stamped with whole seconds.
	cutoff := start.Truncate(time.Second)
	removed, err := a.DB().DeleteMissingImages(ctx, root.ID, cutoff)
	if err != nil {
		return files, 0, err
	}
	return files, removed, nil
}

// readDir lists dir and stats its images on the worker pool.
func (s *Scanner) readDir(ctx context.Context, dir string) ([]found, []string, error) {
	entries, err := filesystem.ReadDirWithRetry(dir, s.config.Retry)
	if err != nil {
		return nil, nil, err
	}

	var subdirs []string
	paths := make(chan string, len(entries))
	for _, entry := range entries {
		if isHidden(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		switch {
		case entry.IsDir():
			subdirs = append(subdirs, path)
		case entry.Type().IsRegular() && IsImage(entry.Name()):
			paths <- path
		}
	}
	close(paths)

	var (
		mu     sync.Mutex
		images []found
	)
	workers.ForEach(ctx, s.config.Workers, paths, func(_ context.Context, path string) {
		info, err := filesystem.StatWithRetry(path, s.config.Retry)
		if err != nil {
			logging.Debug("Skipping %s: %v", path, err)
			return
		}
		mu.Lock()
		images = append(images, found{path: path, info: info})
		mu.Unlock()
	})
	return images, subdirs, nil
}

func (s *Scanner) record(ctx context.Context, a *coredb.Access, root catalog.AlbumRoot, images []found, seen time.Time) error {
	db := a.DB()
	return db.InTransaction(ctx, func(ctx context.Context) error {
		for _, img := range images {
			rel, err := filepath.Rel(root.SpecificPath, img.path)
			if err != nil {
				return errors.Trace(err)
			}
			err = db.UpsertImage(ctx, catalog.Image{
				AlbumRootID:  root.ID,
				RelativePath: filepath.ToSlash(rel),
				Size:         img.info.Size(),
				ModTime:      img.info.ModTime(),
			}, seen)
			if err != nil {
				return err
			}
		}
		return nil
	})
}
