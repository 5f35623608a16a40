package catalog

import (
	"context"
	"database/sql"
	"path"
	"time"

	"github.com/juju/errors"
)

// UpsertImage inserts or updates the row for img and stamps it as seen at
// seen. The scan that stamps rows later removes the ones it did not see
// with DeleteMissingImages.
func (d *DB) UpsertImage(ctx context.Context, img Image, seen time.Time) error {
	if img.AlbumRootID == 0 || img.RelativePath == "" {
		return errors.NotValidf("image without album root or path")
	}
	if img.Name == "" {
		img.Name = path.Base(img.RelativePath)
	}

	var hash sql.NullString
	if img.Hash != "" {
		hash = sql.NullString{String: img.Hash, Valid: true}
	}
	_, err := d.b.Exec(ctx, d.dialect.upsertImage,
		img.AlbumRootID,
		img.RelativePath,
		img.Name,
		img.Size,
		img.ModTime.Unix(),
		hash,
		seen.Unix(),
	)
	return errors.Annotatef(err, "upserting image %q", img.RelativePath)
}

// DeleteMissingImages removes the rows below root that were last seen
// before cutoff and returns how many were removed.
func (d *DB) DeleteMissingImages(ctx context.Context, root int64, cutoff time.Time) (int64, error) {
	result, err := d.b.Exec(ctx,
		"DELETE FROM Images WHERE album = ? AND lastSeen < ?",
		root, cutoff.Unix(),
	)
	if err != nil {
		return 0, errors.Annotate(err, "deleting missing images")
	}
	return result.RowsAffected()
}

// CountImages returns the number of images, below root when root is not
// zero.
func (d *DB) CountImages(ctx context.Context, root int64) (int64, error) {
	query, args := "SELECT COUNT(*) FROM Images", []any(nil)
	if root != 0 {
		query, args = query+" WHERE album = ?", []any{root}
	}

	var n int64
	err := d.b.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&n)
	}, query, args...)
	if err != nil {
		return 0, errors.Annotate(err, "counting images")
	}
	return n, nil
}

// Images returns the images below root ordered by path.
func (d *DB) Images(ctx context.Context, root int64) ([]Image, error) {
	var images []Image
	err := d.b.Query(ctx, func(rows *sql.Rows) error {
		images = images[:0]
		for rows.Next() {
			var img Image
			var modTime int64
			var hash sql.NullString
			if err := rows.Scan(&img.ID, &img.AlbumRootID, &img.RelativePath, &img.Name,
				&img.Size, &modTime, &hash); err != nil {
				return err
			}
			img.ModTime = time.Unix(modTime, 0)
			img.Hash = hash.String
			images = append(images, img)
		}
		return nil
	}, `SELECT id, album, relativePath, name, fileSize, COALESCE(modificationDate, 0), uniqueHash
		FROM Images WHERE album = ? ORDER BY relativePath`, root)
	if err != nil {
		return nil, errors.Annotate(err, "listing images")
	}
	return images, nil
}
