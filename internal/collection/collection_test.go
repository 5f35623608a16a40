package collection

import (
	"context"
	"path/filepath"
	"testing"

	"media-catalog/internal/backend"
	"media-catalog/internal/catalog"
	"media-catalog/internal/dbparams"
	"media-catalog/internal/schema"
)

func openCatalog(t *testing.T, migrate bool) *catalog.DB {
	t.Helper()
	ctx := context.Background()
	b, err := backend.New(dbparams.EngineSQLite, backend.Config{})
	if err != nil {
		t.Fatalf("backend.New() = %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	if err := b.Open(ctx, dbparams.ParametersFromSQLitePath(t.TempDir())); err != nil {
		t.Fatalf("Open() = %v", err)
	}
	db := catalog.New(b)
	if migrate {
		u := schema.NewUpdater(db)
		u.Run(ctx)
		if res := u.Run(ctx); !res.Success() {
			t.Fatalf("schema update = %+v", res)
		}
	}
	return db
}

func TestRefreshBeforeSchema(t *testing.T) {
	m := NewMapper()
	if err := m.Refresh(context.Background(), openCatalog(t, false)); err != nil {
		t.Fatalf("Refresh() on empty catalog = %v", err)
	}
	if len(m.Roots()) != 0 {
		t.Errorf("Roots() = %v, want none", m.Roots())
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	db := openCatalog(t, true)
	base := t.TempDir()

	photos := filepath.Join(base, "photos")
	archive := filepath.Join(base, "photos", "archive")
	hidden := filepath.Join(base, "hidden")
	for _, p := range []struct{ label, path string }{
		{"photos", photos},
		{"archive", archive},
		{"hidden", hidden},
	} {
		if _, err := db.AddAlbumRoot(ctx, p.label, p.path); err != nil {
			t.Fatalf("AddAlbumRoot(%s) = %v", p.label, err)
		}
	}
	if _, err := db.Exec(ctx, "UPDATE AlbumRoots SET status = ? WHERE label = ?", catalog.AlbumRootHidden, "hidden"); err != nil {
		t.Fatalf("hiding root = %v", err)
	}

	m := NewMapper()
	if err := m.Refresh(ctx, db); err != nil {
		t.Fatalf("Refresh() = %v", err)
	}
	if len(m.Roots()) != 3 {
		t.Errorf("Roots() has %d entries, want 3", len(m.Roots()))
	}

	tests := []struct {
		name      string
		path      string
		wantLabel string
		wantRel   string
		wantOK    bool
	}{
		{"root itself", photos, "photos", "", true},
		{"file in root", filepath.Join(photos, "2024", "a.jpg"), "photos", "2024/a.jpg", true},
		{"nested root wins", filepath.Join(archive, "b.jpg"), "archive", "b.jpg", true},
		{"sibling with common prefix", filepath.Join(base, "photoshop", "c.jpg"), "", "", false},
		{"hidden root", filepath.Join(hidden, "d.jpg"), "", "", false},
		{"outside", "/elsewhere/e.jpg", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, rel, ok := m.Resolve(tt.path)
			if ok != tt.wantOK || root.Label != tt.wantLabel || rel != tt.wantRel {
				t.Errorf("Resolve(%q) = %q, %q, %v; want %q, %q, %v",
					tt.path, root.Label, rel, ok, tt.wantLabel, tt.wantRel, tt.wantOK)
			}
		})
	}

	if got := m.Label(filepath.Join(photos, "x.jpg")); got != "photos" {
		t.Errorf("Label() = %q, want photos", got)
	}
	if got := m.Label("/elsewhere"); got != Unknown {
		t.Errorf("Label(outside) = %q, want %q", got, Unknown)
	}

	m.Reset()
	if _, _, ok := m.Resolve(photos); ok {
		t.Error("Resolve() matched after Reset")
	}
}

func TestNilMapper(t *testing.T) {
	var m *Mapper
	if _, _, ok := m.Resolve("/x"); ok {
		t.Error("nil mapper resolved a path")
	}
	if m.Label("/x") != Unknown {
		t.Error("nil mapper returned a label")
	}
}
