package catalog

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
)

// AlbumRoots returns all album roots ordered by id.
func (d *DB) AlbumRoots(ctx context.Context) ([]AlbumRoot, error) {
	var roots []AlbumRoot
	err := d.b.Query(ctx, func(rows *sql.Rows) error {
		roots = roots[:0]
		for rows.Next() {
			var r AlbumRoot
			var label sql.NullString
			if err := rows.Scan(&r.ID, &label, &r.SpecificPath, &r.Status); err != nil {
				return err
			}
			r.Label = label.String
			roots = append(roots, r)
		}
		return nil
	}, "SELECT id, label, specificPath, status FROM AlbumRoots ORDER BY id")
	if err != nil {
		return nil, errors.Annotate(err, "listing album roots")
	}
	return roots, nil
}

// AddAlbumRoot registers path as an album root. The path is made absolute;
// registering the same path twice returns the existing root.
func (d *DB) AddAlbumRoot(ctx context.Context, label, path string) (AlbumRoot, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return AlbumRoot{}, errors.NotValidf("empty album root path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return AlbumRoot{}, errors.Annotatef(err, "resolving %q", path)
	}
	if label == "" {
		label = filepath.Base(abs)
	}

	root := AlbumRoot{Label: label, SpecificPath: abs, Status: AlbumRootAvailable}
	err = d.b.InTransaction(ctx, func(ctx context.Context) error {
		err := d.b.QueryRow(ctx, func(row *sql.Row) error {
			var existing sql.NullString
			if err := row.Scan(&root.ID, &existing, &root.Status); err != nil {
				return err
			}
			root.Label = existing.String
			return nil
		}, "SELECT id, label, status FROM AlbumRoots WHERE specificPath = ?", abs)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		result, err := d.b.Exec(ctx,
			"INSERT INTO AlbumRoots (label, specificPath, status) VALUES (?, ?, ?)",
			label, abs, AlbumRootAvailable,
		)
		if err != nil {
			return err
		}
		root.ID, err = result.LastInsertId()
		return err
	})
	if err != nil {
		return AlbumRoot{}, errors.Annotatef(err, "adding album root %q", abs)
	}
	return root, nil
}
