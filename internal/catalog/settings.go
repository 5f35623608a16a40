package catalog

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/juju/errors"
)

// Well known keys of the Settings table.
const (
	SettingDBVersion    = "DBVersion"
	SettingDatabaseUUID = "databaseUUID"
)

// Setting returns the value stored under key. A missing key is reported
// with a NotFound error.
func (d *DB) Setting(ctx context.Context, key string) (string, error) {
	var value sql.NullString
	err := d.b.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&value)
	}, "SELECT value FROM Settings WHERE keyword = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.NotFoundf("setting %q", key)
	}
	if err != nil {
		return "", errors.Annotatef(err, "reading setting %q", key)
	}
	return value.String, nil
}

// SetSetting stores value under key, replacing any previous value.
func (d *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := d.b.Exec(ctx, d.dialect.setSetting, key, value)
	return errors.Annotatef(err, "writing setting %q", key)
}

// DatabaseUUID returns the identifier of this catalog, creating and storing
// a random one the first time.
func (d *DB) DatabaseUUID(ctx context.Context) (string, error) {
	id, err := d.Setting(ctx, SettingDatabaseUUID)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, errors.NotFound) {
		return "", err
	}

	id = uuid.NewString()
	if err := d.SetSetting(ctx, SettingDatabaseUUID, id); err != nil {
		return "", err
	}
	return id, nil
}
