package vibedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"vibecheck/internal/config"
)

var ErrUnsupportedDriver = errors.New("unsupported database driver")

// Dialect selects the SQL flavour a statement is rendered for.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// DB is a connection to the vibecheck store together with its dialect.
// Statements are written with ? placeholders and rebound per dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
}

func dialectOf(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnsupportedDriver, driver)
}

// Open connects to the configured database and verifies the connection.
// The caller owns the returned DB and must Close it.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	d, err := dialectOf(cfg.Driver)
	if err != nil {
		return nil, err
	}
	var sqlDB *sql.DB
	switch d {
	case SQLite:
		sqlDB, err = sql.Open("sqlite", sqliteDSN(cfg.Path))
		if err != nil {
			return nil, err
		}
		// One writer; foreign_keys is a per-connection pragma.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	case Postgres:
		sqlDB, err = sql.Open("postgres", postgresDSN(cfg, cfg.Name))
		if err != nil {
			return nil, err
		}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("connect %s: %w", d, err)
	}
	return &DB{DB: sqlDB, Dialect: d}, nil
}

// EnsureDatabase creates the target database when it does not exist yet and
// reports whether it did. For sqlite the file itself appears on first connect,
// so only its directory is created here.
func EnsureDatabase(ctx context.Context, cfg config.DatabaseConfig) (bool, error) {
	d, err := dialectOf(cfg.Driver)
	if err != nil {
		return false, err
	}
	switch d {
	case SQLite:
		return ensureSQLiteFile(cfg.Path)
	default:
		return ensurePostgresDatabase(ctx, cfg)
	}
}

func ensureSQLiteFile(path string) (bool, error) {
	p := strings.TrimSpace(path)
	if p == "" || p == ":memory:" {
		return false, nil
	}
	if _, err := os.Stat(p); err == nil {
		return false, nil
	}
	dir := filepath.Dir(p)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("create sqlite directory %q: %w", dir, err)
		}
	}
	return true, nil
}

func ensurePostgresDatabase(ctx context.Context, cfg config.DatabaseConfig) (bool, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return false, errors.New("database name is required")
	}
	maint := cfg.MaintenanceDB
	if strings.TrimSpace(maint) == "" {
		maint = "postgres"
	}
	admin, err := sql.Open("postgres", postgresDSN(cfg, maint))
	if err != nil {
		return false, err
	}
	defer admin.Close()

	var exists int
	err = admin.QueryRowContext(ctx, pgDatabaseExistsSQL, name).Scan(&exists)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("check database %q: %w", name, err)
	}
	if _, err := admin.ExecContext(ctx, createDatabaseSQL(name)); err != nil {
		return false, fmt.Errorf("create database %q: %w", name, err)
	}
	return true, nil
}

// uriPathEscaper escapes the characters that would end or alter the path
// part of a sqlite file: URI. sqlite decodes %HH back when opening.
var uriPathEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

func sqliteDSN(path string) string {
	if strings.TrimSpace(path) == "" || path == ":memory:" {
		return "file::memory:?_pragma=foreign_keys(ON)"
	}
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)", uriPathEscaper.Replace(path))
}

func postgresDSN(cfg config.DatabaseConfig, dbName string) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   cfg.Host,
		Path:   "/" + dbName,
	}
	if cfg.Port > 0 {
		u.Host = cfg.Host + ":" + strconv.Itoa(cfg.Port)
	}
	if cfg.User != "" {
		if cfg.Password != "" {
			u.User = url.UserPassword(cfg.User, cfg.Password)
		} else {
			u.User = url.User(cfg.User)
		}
	}
	q := url.Values{}
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

const pgDatabaseExistsSQL = `SELECT 1 FROM pg_database WHERE datname = $1`

func createDatabaseSQL(name string) string {
	return `CREATE DATABASE ` + quoteIdent(name)
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// rebind rewrites ? placeholders into $n for postgres.
func (db *DB) rebind(q string) string {
	if db.Dialect != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (db *DB) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return db.QueryRowContext(ctx, db.rebind(q), args...)
}

func (db *DB) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return db.ExecContext(ctx, db.rebind(q), args...)
}
