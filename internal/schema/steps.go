package schema

import (
	"context"
	"embed"
	"io/fs"
	"path"
	"strings"

	"github.com/juju/errors"

	"media-catalog/internal/catalog"
	"media-catalog/internal/dbparams"
	"media-catalog/internal/logging"
)

//go:embed sql
var sqlFS embed.FS

// step brings the schema from version-1 to version.
type step struct {
	version int
	name    string
	apply   func(ctx context.Context, db *catalog.DB, engine dbparams.Engine) error
}

var steps = []step{
	{version: 1, name: "create base tables", apply: runFile("001_base.sql")},
	{version: 2, name: "add image modification date", apply: addModificationDate},
	{version: 3, name: "create indices", apply: runFile("003_indices.sql")},
}

// CurrentVersion is the schema version this build creates and understands.
var CurrentVersion = steps[len(steps)-1].version

func runFile(name string) func(context.Context, *catalog.DB, dbparams.Engine) error {
	return func(ctx context.Context, db *catalog.DB, engine dbparams.Engine) error {
		statements, err := loadStatements(engine, name)
		if err != nil {
			return err
		}
		for _, stmt := range statements {
			if _, err := db.Exec(ctx, stmt); err != nil {
				return errors.Annotatef(err, "%s", name)
			}
		}
		return nil
	}
}

// addModificationDate adds Images.modificationDate unless a previous,
// interrupted run already did.
func addModificationDate(ctx context.Context, db *catalog.DB, engine dbparams.Engine) error {
	exists, err := db.ColumnExists(ctx, "Images", "modificationDate")
	if err != nil {
		return errors.Annotate(err, "checking for modificationDate column")
	}
	if exists {
		return nil
	}

	logging.Info("Migrating database: adding modificationDate column to Images table")
	columnType := "INTEGER"
	if engine == dbparams.EngineNetworkSQL {
		columnType = "BIGINT"
	}
	if _, err := db.Exec(ctx, "ALTER TABLE Images ADD COLUMN modificationDate "+columnType); err != nil {
		return errors.Annotate(err, "adding modificationDate column")
	}
	return nil
}

// loadStatements reads an embedded script and splits it into statements.
// Scripts hold plain DDL, so a semicolon always ends a statement.
func loadStatements(engine dbparams.Engine, name string) ([]string, error) {
	data, err := fs.ReadFile(sqlFS, path.Join("sql", engine.String(), name))
	if err != nil {
		return nil, errors.Annotatef(err, "no %s script for engine %s", name, engine)
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		lines = append(lines, line)
	}

	var statements []string
	for _, stmt := range strings.Split(strings.Join(lines, "\n"), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements, nil
}
