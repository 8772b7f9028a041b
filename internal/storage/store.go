package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/pressly/goose"
	_ "modernc.org/sqlite"

	_ "github.com/SirClappington/slotwatch/internal/storage/migrations"
)

var ErrNotFound = errors.New("storage: not found")

type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// DialectFor maps a database/sql driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "pgx":
		return Postgres, nil
	case "sqlite":
		return SQLite, nil
	}
	return 0, errors.Errorf("storage: unsupported driver %q", driver)
}

func (d Dialect) goose() string {
	if d == SQLite {
		return "sqlite3"
	}
	return "postgres"
}

// rebind rewrites ? placeholders to $n for Postgres.
func (d Dialect) rebind(q string) string {
	if d != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Store is the source of truth for clients and jobs.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, dialect: d, now: time.Now}
}

// Open connects with driver "pgx" (dsn is a Postgres URL) or "sqlite" (dsn is
// a file path or ":memory:").
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	d, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	if d == SQLite {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", dsn)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "storage: open")
	}
	if d == SQLite {
		// one writer; also keeps a :memory: database alive on a single conn
		db.SetMaxOpenConns(1)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "storage: ping")
	}
	return New(db, d), nil
}

// SetClock replaces the time source used for timestamps the store assigns.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) Dialect() Dialect { return s.dialect }

// Migrate applies every registered migration.
func (s *Store) Migrate(ctx context.Context) error {
	if err := goose.SetDialect(s.dialect.goose()); err != nil {
		return errors.Wrap(err, "storage: goose dialect")
	}
	if err := goose.Up(s.db, "migrations"); err != nil {
		return errors.Wrap(err, "storage: migrate")
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

// WithLeaderLock runs fn only if this process wins the Postgres advisory lock
// key. SQLite deployments are single-process, so fn always runs there.
func (s *Store) WithLeaderLock(ctx context.Context, key int64, fn func(context.Context) error) (bool, error) {
	if s.dialect != Postgres {
		return true, fn(ctx)
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return false, errors.Wrap(err, "storage: leader conn")
	}
	defer conn.Close()

	var ok bool
	if err := conn.QueryRowContext(ctx, "select pg_try_advisory_lock($1)", key).Scan(&ok); err != nil {
		return false, errors.Wrap(err, "storage: advisory lock")
	}
	if !ok {
		return false, nil
	}
	defer conn.ExecContext(context.Background(), "select pg_advisory_unlock($1)", key)
	return true, fn(ctx)
}

func (s *Store) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(q), args...)
}

func (s *Store) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.rebind(q), args...)
}

func (s *Store) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.rebind(q), args...)
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
