package collection

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/juju/errors"

	"media-catalog/internal/catalog"
	"media-catalog/internal/logging"
)

// Unknown is the label returned for paths outside every album root.
const Unknown = "unknown"

// Mapper maps file paths to the album roots recorded in the catalog.
// It uses longest-prefix matching on absolute paths.
type Mapper struct {
	mu sync.RWMutex
	// mounts is sorted by path length descending for longest-prefix matching
	mounts []mount
	roots  []catalog.AlbumRoot
}

type mount struct {
	path string // absolute path with trailing slash (e.g., "/photos/")
	root catalog.AlbumRoot
}

// NewMapper returns an empty mapper. Refresh fills it.
func NewMapper() *Mapper {
	return &Mapper{}
}

// Refresh reloads the album roots from db. A catalog without the
// AlbumRoots table yet (before the first schema update) yields an empty
// mapping.
func (m *Mapper) Refresh(ctx context.Context, db *catalog.DB) error {
	exists, err := db.TableExists(ctx, "AlbumRoots")
	if err != nil {
		return errors.Annotate(err, "checking for album roots")
	}
	var roots []catalog.AlbumRoot
	if exists {
		roots, err = db.AlbumRoots(ctx)
		if err != nil {
			return errors.Annotate(err, "loading album roots")
		}
	}
	m.set(roots)
	logging.Debug("Album roots refreshed: %d", len(roots))
	return nil
}

// Reset forgets every album root.
func (m *Mapper) Reset() {
	m.set(nil)
}

func (m *Mapper) set(roots []catalog.AlbumRoot) {
	mounts := make([]mount, 0, len(roots))
	for _, root := range roots {
		if root.Status != catalog.AlbumRootAvailable {
			continue
		}
		// Normalize: absolute path with trailing slash for prefix matching
		absPath, err := filepath.Abs(root.SpecificPath)
		if err != nil {
			absPath = root.SpecificPath
		}
		if !strings.HasSuffix(absPath, "/") {
			absPath += "/"
		}
		mounts = append(mounts, mount{path: absPath, root: root})
	}

	// Longest (most specific) prefix first
	sort.Slice(mounts, func(i, j int) bool {
		return len(mounts[i].path) > len(mounts[j].path)
	})

	m.mu.Lock()
	m.mounts = mounts
	m.roots = roots
	m.mu.Unlock()
}

// Roots returns the album roots loaded by the last Refresh, hidden ones
// included.
func (m *Mapper) Roots() []catalog.AlbumRoot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]catalog.AlbumRoot(nil), m.roots...)
}

// Resolve returns the available album root containing path and the path
// relative to it, using forward slashes.
func (m *Mapper) Resolve(path string) (catalog.AlbumRoot, string, bool) {
	if m == nil {
		return catalog.AlbumRoot{}, "", false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return catalog.AlbumRoot{}, "", false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mt := range m.mounts {
		if absPath+"/" == mt.path {
			return mt.root, "", true
		}
		if strings.HasPrefix(absPath, mt.path) {
			return mt.root, filepath.ToSlash(strings.TrimPrefix(absPath, mt.path)), true
		}
	}
	return catalog.AlbumRoot{}, "", false
}

// Label returns the label of the album root containing path, or Unknown.
func (m *Mapper) Label(path string) string {
	root, _, ok := m.Resolve(path)
	if !ok {
		return Unknown
	}
	return root.Label
}
