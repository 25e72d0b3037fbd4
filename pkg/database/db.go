package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

type Config struct {
	Driver string
	// Path is the SQLite file; DSN the Postgres connection URL.
	Path string
	DSN  string
}

// DefaultConfig resolves storage from the environment: DATABASE_URL, then
// the PG* variables, then a local SQLite file.
func DefaultConfig() Config {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return Config{Driver: DriverPostgres, DSN: dsn}
	}
	if dsn := postgresFromPGEnv(); dsn != "" {
		return Config{Driver: DriverPostgres, DSN: dsn}
	}

	if p := os.Getenv("ETL_DB_PATH"); p != "" {
		return Config{Driver: DriverSQLite, Path: p}
	}

	// local default: ~/.cryptoetl/data.db
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return Config{
		Driver: DriverSQLite,
		Path:   filepath.Join(home, ".cryptoetl", "data.db"),
	}
}

func postgresFromPGEnv() string {
	user := os.Getenv("PGUSER")
	host := os.Getenv("PGHOST")
	name := os.Getenv("PGDATABASE")
	if user == "" || host == "" || name == "" {
		return ""
	}
	port := os.Getenv("PGPORT")
	if port == "" {
		port = "5432"
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   host + ":" + port,
		Path:   "/" + name,
	}
	if pw := os.Getenv("PGPASSWORD"); pw != "" {
		u.User = url.UserPassword(user, pw)
	} else {
		u.User = url.User(user)
	}
	return u.String()
}

// Describe returns a loggable location with credentials masked.
func (c Config) Describe() string {
	if c.Driver == DriverSQLite {
		return c.Path
	}
	if i := strings.LastIndex(c.DSN, "@"); i >= 0 {
		return "...@" + c.DSN[i+1:]
	}
	return c.DSN
}

func EnsureDataDir(cfg Config) error {
	if cfg.Driver != DriverSQLite {
		return nil
	}
	return os.MkdirAll(filepath.Dir(cfg.Path), 0o755)
}

// Open returns the process-wide storage handle. Callers own its lifetime
// and must Close it on shutdown.
func Open(cfg Config) (*sql.DB, error) {
	switch cfg.Driver {
	case DriverSQLite:
		return openSQLite(cfg)
	case DriverPostgres:
		return openPostgres(cfg)
	default:
		return nil, eris.Errorf("database: unsupported driver %q", cfg.Driver)
	}
}

func openSQLite(cfg Config) (*sql.DB, error) {
	if err := EnsureDataDir(cfg); err != nil {
		return nil, eris.Wrap(err, "ensure data dir")
	}

	db, err := sql.Open(DriverSQLite, sqliteDSN(cfg.Path))
	if err != nil {
		return nil, eris.Wrap(err, "open sqlite")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "ping sqlite")
	}

	return db, nil
}

// sqliteDSN carries the pragmas as connection parameters so every pooled
// connection gets them, not just the first.
func sqliteDSN(path string) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", "5000")
	return path + "?" + q.Encode()
}

func openPostgres(cfg Config) (*sql.DB, error) {
	db, err := sql.Open(DriverPostgres, cfg.DSN)
	if err != nil {
		return nil, eris.Wrap(err, "open postgres")
	}
	db.SetMaxOpenConns(5)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "ping postgres")
	}
	return db, nil
}

// MustOpen opens the database or exits the process.
func MustOpen(cfg Config) *sql.DB {
	db, err := Open(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open db: %v\n", err)
		os.Exit(1)
	}
	return db
}
