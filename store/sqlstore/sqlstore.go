/*
Package sqlstore provides the relational implementation of core.TxStore.

PURPOSE:
  Implements every persistence interface (costs, splits, wallets, payments,
  invoices, membership, notifications) on database/sql. The same queries run
  on SQLite (development, tests) and PostgreSQL (production); only the
  placeholder style, column types and row-lock suffix differ.

DIALECTS:
  New("app.db")                 SQLite file, WAL mode
  New(":memory:")               SQLite in memory, single connection
  New("sqlite://./data/app.db") SQLite with explicit scheme
  New("postgres://...")         PostgreSQL via lib/pq

CONCURRENCY:
  PostgreSQL: GetSplitForUpdate/GetWalletForUpdate take SELECT ... FOR UPDATE
  row locks inside WithTx.
  SQLite: transactions are opened with _txlock=immediate so the write lock
  is taken at BEGIN; concurrent writers queue on busy_timeout instead of
  reading a stale balance. There is no Go-side mutex.

ERRORS:
  Driver errors are translated: unique violations become core.ErrDuplicate,
  busy/serialization failures become core.ErrConcurrentModification (which
  core.IsRetryable recognises).

USAGE:
  store, err := sqlstore.New(":memory:")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  err = store.WithTx(ctx, func(tx core.Store) error {
      w, err := tx.GetWalletForUpdate(ctx, id)
      ...
  })

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool with versioned migrations.

SEE ALSO:
  - core/store.go: Interface definitions
  - schema.go: Table definitions per dialect
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/warp/costledger/core"
)

type dialect string

const (
	dialectSQLite   dialect = "sqlite3"
	dialectPostgres dialect = "postgres"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn carries every query method. Store runs them on the pool,
// WithTx runs them on a *sql.Tx.
type conn struct {
	q querier
	d dialect
}

// Store implements core.TxStore.
type Store struct {
	*conn
	db *sql.DB
}

var _ core.TxStore = (*Store)(nil)
var _ core.Store = (*conn)(nil)

// New opens the database named by dsn and migrates the schema.
func New(dsn string) (*Store, error) {
	d, driverDSN := parseDSN(dsn)

	db, err := sql.Open(string(d), driverDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if d == dialectSQLite && strings.HasPrefix(driverDSN, ":memory:") {
		// each pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{conn: &conn{q: db, d: d}, db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func parseDSN(dsn string) (dialect, string) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return dialectPostgres, dsn
	case strings.HasPrefix(dsn, "sqlite://"):
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	}
	if dsn == "" {
		dsn = "costledger.db"
	}
	return dialectSQLite, dsn + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Dialect returns the driver name in use.
func (s *Store) Dialect() string {
	return string(s.d)
}

func (s *Store) migrate(ctx context.Context) error {
	schema := sqliteSchema
	if s.d == dialectPostgres {
		schema = postgresSchema
	}
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (core.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store core.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translate(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx, d: s.d}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return translate(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// =============================================================================
// QUERY HELPERS
// =============================================================================

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (c *conn) rebind(query string) string {
	if c.d != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
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

func (c *conn) forUpdate() string {
	if c.d == dialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func (c *conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := c.q.ExecContext(ctx, c.rebind(query), args...)
	return res, translate(err)
}

func (c *conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := c.q.QueryContext(ctx, c.rebind(query), args...)
	return rows, translate(err)
}

func (c *conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.rebind(query), args...)
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// ts normalises times to UTC at the precision both backends keep.
func ts(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: ts(*t), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// notFound maps sql.ErrNoRows to the given sentinel.
func notFound(err error, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return translate(err)
}

// translate maps driver errors onto the core taxonomy.
func translate(err error) error {
	if err == nil {
		return nil
	}

	var se sqlite3.Error
	if errors.As(err, &se) {
		switch {
		case se.ExtendedCode == sqlite3.ErrConstraintUnique,
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %v", core.ErrDuplicate, err)
		case se.Code == sqlite3.ErrBusy, se.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", core.ErrConcurrentModification, err)
		}
		return err
	}

	var pe *pq.Error
	if errors.As(err, &pe) {
		switch pe.Code {
		case "23505":
			return fmt.Errorf("%w: %v", core.ErrDuplicate, err)
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %v", core.ErrConcurrentModification, err)
		}
	}
	return err
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
