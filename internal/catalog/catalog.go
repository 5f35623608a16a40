package catalog

import (
	"context"
	"database/sql"

	"github.com/juju/errors"

	"media-catalog/internal/backend"
	"media-catalog/internal/dbparams"
	"media-catalog/internal/metrics"
)

// DB is the logical catalog database. It owns no connection of its own:
// every statement runs on the calling goroutine's connection from the
// Backend, with the Backend's contention retry and error escalation.
//
// A DB is only valid while the caller holds database access; the Backend
// may be closed or replaced once access is released.
type DB struct {
	b       *backend.Backend
	dialect dialect
}

// New returns the logical database over b.
func New(b *backend.Backend) *DB {
	return &DB{b: b, dialect: dialectFor(b.Engine())}
}

// Backend returns the backend the statements run on.
func (d *DB) Backend() *backend.Backend {
	return d.b
}

// dialect holds the statements that differ between engines.
type dialect struct {
	tableExists  string
	columnExists string
	upsertImage  string
	setSetting   string
}

func dialectFor(engine dbparams.Engine) dialect {
	if engine == dbparams.EngineNetworkSQL {
		return dialect{
			tableExists: `SELECT COUNT(*) FROM information_schema.tables
				WHERE table_schema = DATABASE() AND table_name = ?`,
			columnExists: `SELECT COUNT(*) FROM information_schema.columns
				WHERE table_schema = DATABASE() AND table_name = ? AND column_name = ?`,
			upsertImage: `INSERT INTO Images (album, relativePath, name, fileSize, modificationDate, uniqueHash, lastSeen)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON DUPLICATE KEY UPDATE
					name = VALUES(name),
					fileSize = VALUES(fileSize),
					modificationDate = VALUES(modificationDate),
					uniqueHash = VALUES(uniqueHash),
					lastSeen = VALUES(lastSeen)`,
			setSetting: `INSERT INTO Settings (keyword, value) VALUES (?, ?)
				ON DUPLICATE KEY UPDATE value = VALUES(value)`,
		}
	}
	return dialect{
		tableExists:  `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`,
		columnExists: `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		upsertImage: `INSERT INTO Images (album, relativePath, name, fileSize, modificationDate, uniqueHash, lastSeen)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(album, relativePath) DO UPDATE SET
				name = excluded.name,
				fileSize = excluded.fileSize,
				modificationDate = excluded.modificationDate,
				uniqueHash = excluded.uniqueHash,
				lastSeen = excluded.lastSeen`,
		setSetting: `INSERT INTO Settings (keyword, value) VALUES (?, ?)
			ON CONFLICT(keyword) DO UPDATE SET value = excluded.value`,
	}
}

// Exec runs a statement that is not covered by a typed method, such as
// schema changes.
func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.b.Exec(ctx, query, args...)
}

// InTransaction runs fn in a logical transaction on the calling goroutine.
func (d *DB) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return d.b.InTransaction(ctx, fn)
}

// TableExists reports whether table is present in the core database.
func (d *DB) TableExists(ctx context.Context, table string) (bool, error) {
	return d.count(ctx, d.dialect.tableExists, table)
}

// ColumnExists reports whether table has the named column.
func (d *DB) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	return d.count(ctx, d.dialect.columnExists, table, column)
}

func (d *DB) count(ctx context.Context, query string, args ...any) (bool, error) {
	var n int
	err := d.b.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&n)
	}, query, args...)
	if err != nil {
		return false, errors.Trace(err)
	}
	return n > 0, nil
}

// Stats returns the row counts exported as catalog gauges.
func (d *DB) Stats(ctx context.Context) (metrics.Stats, error) {
	var stats metrics.Stats
	err := d.b.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&stats.Images, &stats.AlbumRoots, &stats.Tags)
	}, `SELECT
		(SELECT COUNT(*) FROM Images),
		(SELECT COUNT(*) FROM AlbumRoots),
		(SELECT COUNT(*) FROM Tags)`)
	if err != nil {
		return metrics.Stats{}, errors.Annotate(err, "reading catalog stats")
	}
	return stats, nil
}
