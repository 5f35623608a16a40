package watch

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"media-catalog/internal/coredb"
	"media-catalog/internal/dbparams"
	"media-catalog/internal/logging"
	"media-catalog/internal/metrics"
)

const (
	// DirName is the message directory created next to a SQLite catalog.
	DirName = ".catalog-watch"

	messageExt = ".msg"
	tempPrefix = ".tmp-"

	// staleAfter is how old a message must be before a master removes it.
	staleAfter = time.Hour
)

// KindDatabaseChanged is sent when a process switched to new parameters.
const KindDatabaseChanged = "database_changed"

// Event is one message exchanged through the directory.
type Event struct {
	Kind          string    `yaml:"kind"`
	ApplicationID string    `yaml:"application"`
	DatabaseID    string    `yaml:"database,omitempty"`
	Role          string    `yaml:"role"`
	Time          time.Time `yaml:"time"`
}

// Watch exchanges change notifications between processes sharing a catalog
// through files in a watched directory.
type Watch struct {
	dir string

	mu          sync.Mutex
	appID       string
	databaseID  string
	role        coredb.Role
	subscribers []func(Event)
	seq         int

	watcher *fsnotify.Watcher
	done    chan struct{}
	closed  bool
}

// Dir returns the message directory used for params. SQLite catalogs keep
// it next to the database file; network catalogs get one per server and
// schema under the user cache directory.
func Dir(params dbparams.Parameters) (string, error) {
	if params.IsSQLite() {
		return filepath.Join(filepath.Dir(params.DatabaseName), DirName), nil
	}
	cache, err := os.UserCacheDir()
	if err != nil {
		return "", errors.Annotate(err, "locating user cache directory")
	}
	sum := sha1.Sum([]byte(params.Identity()))
	return filepath.Join(cache, "media-catalog", "watch", hex.EncodeToString(sum[:8])), nil
}

// New creates a Watch on dir. Nothing is watched until InitializeRemote.
func New(dir string) (*Watch, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Annotatef(err, "creating watch directory %s", dir)
	}
	return &Watch{dir: dir}, nil
}

// ForParameters creates a Watch on the message directory of params. It has
// the signature expected by coredb.Options.NewWatch.
func ForParameters(params dbparams.Parameters) (coredb.Watch, error) {
	dir, err := Dir(params)
	if err != nil {
		return nil, err
	}
	w, err := New(dir)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Path returns the message directory.
func (w *Watch) Path() string {
	return w.dir
}

// SetApplicationIdentifier sets the id stamped on outgoing messages.
// Incoming messages with the same id are ignored.
func (w *Watch) SetApplicationIdentifier(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.appID = id
}

// SetDatabaseIdentifier sets the catalog id. Messages about another
// catalog are ignored once it is known.
func (w *Watch) SetDatabaseIdentifier(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.databaseID = id
}

// Subscribe registers fn for incoming messages. fn runs on the watch
// goroutine.
func (w *Watch) Subscribe(fn func(Event)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subscribers = append(w.subscribers, fn)
}

// InitializeRemote starts watching the message directory. A master first
// removes messages older than an hour. Calling it again only updates the
// role.
func (w *Watch) InitializeRemote(role coredb.Role) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("watch is closed")
	}
	w.role = role
	if w.watcher != nil {
		return nil
	}
	if role == coredb.RoleMaster {
		w.removeStale(time.Now().Add(-staleAfter))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Annotate(err, "creating file watcher")
	}
	if err := watcher.Add(w.dir); err != nil {
		_ = watcher.Close()
		return errors.Annotatef(err, "watching %s", w.dir)
	}
	w.watcher = watcher
	w.done = make(chan struct{})
	go w.processEvents(watcher, w.done)

	logging.Debug("Watching %s for catalog changes as %s", w.dir, role)
	return nil
}

// SendDatabaseChanged tells other processes that this one switched to new
// database parameters.
func (w *Watch) SendDatabaseChanged() {
	w.mu.Lock()
	ev := Event{
		Kind:          KindDatabaseChanged,
		ApplicationID: w.appID,
		DatabaseID:    w.databaseID,
		Role:          w.role.String(),
		Time:          time.Now().UTC(),
	}
	w.seq++
	name := fmt.Sprintf("%d-%s-%d%s", ev.Time.UnixNano(), safeName(w.appID), w.seq, messageExt)
	w.mu.Unlock()

	if err := w.write(name, ev); err != nil {
		logging.Warn("Sending change notification failed: %v", err)
		return
	}
	metrics.WatchMessagesTotal.WithLabelValues("sent").Inc()
}

// write stores ev under a temporary name and renames it, so readers never
// see a partial message.
func (w *Watch) write(name string, ev Event) error {
	data, err := yaml.Marshal(ev)
	if err != nil {
		return errors.Trace(err)
	}
	tmp := filepath.Join(w.dir, tempPrefix+name)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Trace(err)
	}
	if err := os.Rename(tmp, filepath.Join(w.dir, name)); err != nil {
		_ = os.Remove(tmp)
		return errors.Trace(err)
	}
	return nil
}

// Close stops watching. It is safe to call more than once.
func (w *Watch) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	watcher, done := w.watcher, w.done
	w.watcher = nil
	w.mu.Unlock()

	if watcher == nil {
		return nil
	}
	err := watcher.Close()
	<-done
	if err != nil {
		return errors.Annotate(err, "closing file watcher")
	}
	return nil
}

func (w *Watch) processEvents(watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) && isMessage(event.Name) {
				w.handleMessage(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("Watch error: %v", err)
		}
	}
}

func (w *Watch) handleMessage(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Removed by a master before we got to it.
		logging.Debug("Reading change notification %s failed: %v", path, err)
		return
	}
	var ev Event
	if err := yaml.Unmarshal(data, &ev); err != nil {
		logging.Warn("Ignoring malformed change notification %s: %v", path, err)
		metrics.WatchMessagesTotal.WithLabelValues("ignored").Inc()
		return
	}

	w.mu.Lock()
	own := ev.ApplicationID == w.appID
	foreign := w.databaseID != "" && ev.DatabaseID != "" && ev.DatabaseID != w.databaseID
	subscribers := append(([]func(Event))(nil), w.subscribers...)
	w.mu.Unlock()

	if own || foreign {
		metrics.WatchMessagesTotal.WithLabelValues("ignored").Inc()
		return
	}
	metrics.WatchMessagesTotal.WithLabelValues("received").Inc()
	logging.Debug("Catalog change from %s (%s)", ev.ApplicationID, ev.Role)
	for _, fn := range subscribers {
		fn(ev)
	}
}

// removeStale deletes messages last modified before cutoff. The caller
// holds w.mu.
func (w *Watch) removeStale(cutoff time.Time) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		logging.Warn("Listing %s failed: %v", w.dir, err)
		return
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !isMessage(name) && !strings.HasPrefix(name, tempPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(w.dir, name)); err == nil {
			removed++
		}
	}
	if removed > 0 {
		logging.Debug("Removed %d stale change notifications", removed)
	}
}

func isMessage(path string) bool {
	name := filepath.Base(path)
	return strings.HasSuffix(name, messageExt) && !strings.HasPrefix(name, tempPrefix)
}

func safeName(id string) string {
	if id == "" {
		return "anonymous"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, id)
}
