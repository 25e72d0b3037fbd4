package database

import (
	"database/sql"
	"embed"

	"github.com/rotisserie/eris"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Migrate applies the idempotent schema for the configured driver.
func Migrate(db *sql.DB, cfg Config) error {
	name := "schema/sqlite.sql"
	if cfg.Driver == DriverPostgres {
		name = "schema/postgres.sql"
	}

	b, err := schemaFS.ReadFile(name)
	if err != nil {
		return eris.Wrapf(err, "read %s", name)
	}

	if _, err := db.Exec(string(b)); err != nil {
		return eris.Wrap(err, "apply schema")
	}
	return nil
}
