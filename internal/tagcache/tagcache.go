// Package tagcache keeps the tag names of the open catalog in memory.
package tagcache

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/juju/errors"

	"media-catalog/internal/catalog"
)

// Cache maps lower-cased tag names to ids. It is empty until the first
// Reload and after every Invalidate.
type Cache struct {
	mu     sync.RWMutex
	loaded bool
	byName map[string]catalog.Tag
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{byName: map[string]catalog.Tag{}}
}

// Invalidate drops every cached tag.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byName = map[string]catalog.Tag{}
	c.loaded = false
}

// Reload replaces the cache with the tags stored in db.
func (c *Cache) Reload(ctx context.Context, db *catalog.DB) error {
	tags, err := db.Tags(ctx)
	if err != nil {
		return errors.Annotate(err, "reloading tag cache")
	}
	byName := make(map[string]catalog.Tag, len(tags))
	for _, t := range tags {
		// Top level tags win over nested ones of the same name.
		key := strings.ToLower(t.Name)
		if prev, ok := byName[key]; ok && prev.ParentID == 0 {
			continue
		}
		byName[key] = t
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.byName = byName
	c.loaded = true
	return nil
}

// Loaded reports whether Reload succeeded since the last Invalidate.
func (c *Cache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// TagID returns the id of the tag called name, ignoring case.
func (c *Cache) TagID(name string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	return t.ID, ok
}

// Add records a tag created after the last Reload.
func (c *Cache) Add(t catalog.Tag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byName[strings.ToLower(t.Name)] = t
}

// Names returns the cached tag names, sorted.
func (c *Cache) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.byName))
	for _, t := range c.byName {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}
