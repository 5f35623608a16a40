package catalog

import (
	"context"
	"database/sql"
	"strings"

	"github.com/juju/errors"
)

// Tags returns every tag ordered by name.
func (d *DB) Tags(ctx context.Context) ([]Tag, error) {
	var tags []Tag
	err := d.b.Query(ctx, func(rows *sql.Rows) error {
		tags = tags[:0]
		for rows.Next() {
			var t Tag
			var pid sql.NullInt64
			if err := rows.Scan(&t.ID, &pid, &t.Name); err != nil {
				return err
			}
			t.ParentID = pid.Int64
			tags = append(tags, t)
		}
		return nil
	}, "SELECT id, pid, name FROM Tags ORDER BY name")
	if err != nil {
		return nil, errors.Annotate(err, "listing tags")
	}
	return tags, nil
}

// AddTag gets an existing top level tag or creates a new one.
func (d *DB) AddTag(ctx context.Context, name string) (Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Tag{}, errors.NotValidf("empty tag name")
	}

	tag := Tag{Name: name}
	err := d.b.InTransaction(ctx, func(ctx context.Context) error {
		err := d.b.QueryRow(ctx, func(row *sql.Row) error {
			return row.Scan(&tag.ID, &tag.Name)
		}, "SELECT id, name FROM Tags WHERE pid IS NULL AND LOWER(name) = LOWER(?)", name)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		result, err := d.b.Exec(ctx, "INSERT INTO Tags (pid, name) VALUES (NULL, ?)", name)
		if err != nil {
			return err
		}
		tag.ID, err = result.LastInsertId()
		return err
	})
	if err != nil {
		return Tag{}, errors.Annotatef(err, "adding tag %q", name)
	}
	return tag, nil
}
