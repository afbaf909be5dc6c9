// Package sqlite owns the single storage connection shared by every
// collection: opening it, the REGEXP host function, a prepared statement
// cache and transaction scoping.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"

	"github.com/aerotoad/neboa/internal/logger"
	"github.com/aerotoad/neboa/internal/metrics"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// Memory is the path of a private in-memory database.
const Memory = ":memory:"

type Options struct {
	BusyTimeout        time.Duration
	JournalMode        string // empty leaves the SQLite default
	StatementCacheSize int    // 0 disables caching
	RegexCacheSize     int
	Logger             *slog.Logger
	Metrics            *metrics.Recorder
}

// Querier is the statement surface shared by Conn and Tx.
type Querier interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
}

// Conn is a database handle restricted to one underlying connection.
type Conn struct {
	db      *sql.DB
	stmts   *lru.Cache[string, *sql.Stmt]
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// DSN builds the driver data source name for path.
func DSN(path string, opts Options) string {
	var pragmas []string
	if opts.BusyTimeout > 0 {
		pragmas = append(pragmas, "_pragma="+"busy_timeout("+strconv.FormatInt(opts.BusyTimeout.Milliseconds(), 10)+")")
	}
	if opts.JournalMode != "" && path != Memory {
		pragmas = append(pragmas, "_pragma=journal_mode("+opts.JournalMode+")")
	}
	if len(pragmas) == 0 {
		return path
	}
	return path + "?" + strings.Join(pragmas, "&")
}

// Open opens path (a file or Memory) with a single connection.
func Open(path string, opts Options) (*Conn, error) {
	if err := registerFunctions(opts.RegexCacheSize); err != nil {
		return nil, err
	}

	db, err := sql.Open(DriverName, DSN(path, opts))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// An in-memory database lives exactly as long as its connection, and
	// SQLite allows one writer at a time, so all work goes through one
	// connection that is never recycled.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	c := &Conn{
		db:      db,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if c.logger == nil {
		c.logger = logger.Get()
	}
	if opts.StatementCacheSize > 0 {
		c.stmts, err = lru.NewWithEvict(opts.StatementCacheSize, func(_ string, stmt *sql.Stmt) {
			stmt.Close()
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create statement cache: %w", err)
		}
	}
	return c, nil
}

// DB exposes the underlying handle.
func (c *Conn) DB() *sql.DB {
	return c.db
}

// Ping verifies the connection by evaluating a trivial expression.
func (c *Conn) Ping(ctx context.Context) error {
	var n int
	if err := c.QueryRow(ctx, "SELECT 1 + 1").Scan(&n); err != nil {
		return err
	}
	if n != 2 {
		return fmt.Errorf("unexpected ping result %d", n)
	}
	return nil
}

// Close closes every cached statement and the database.
func (c *Conn) Close() error {
	if c.stmts != nil {
		c.stmts.Purge()
	}
	return c.db.Close()
}

// prepare returns a cached prepared statement for query, or nil when the
// statement should run unprepared. Only parameterized statements are
// cached: their text is fixed per collection while constraint queries
// inline their literals. Inside a transaction the only connection is
// taken, so only statements already in the cache are used there.
func (c *Conn) prepare(ctx context.Context, tx *sql.Tx, query string, args []any) (*sql.Stmt, error) {
	if c.stmts == nil || len(args) == 0 {
		return nil, nil
	}
	if stmt, ok := c.stmts.Get(query); ok {
		return stmt, nil
	}
	if tx != nil {
		return nil, nil
	}
	stmt, err := c.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	if prev, ok, _ := c.stmts.PeekOrAdd(query, stmt); ok {
		stmt.Close()
		return prev, nil
	}
	return stmt, nil
}

// errStmtClosed is the text database/sql uses when a statement was closed
// between the cache lookup and its use, which happens when another
// goroutine evicts it.
const errStmtClosed = "sql: statement is closed"

func evicted(err error) bool {
	return err != nil && err.Error() == errStmtClosed
}

func (c *Conn) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := c.exec(ctx, nil, query, args)
	c.observe(query, start, err)
	return res, err
}

func (c *Conn) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := c.query(ctx, nil, query, args)
	c.observe(query, start, err)
	return rows, err
}

// QueryRow always runs unprepared.
func (c *Conn) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	start := time.Now()
	row := c.db.QueryRowContext(ctx, query, args...)
	c.observe(query, start, row.Err())
	return row
}

func (c *Conn) exec(ctx context.Context, tx *sql.Tx, query string, args []any) (sql.Result, error) {
	stmt, err := c.prepare(ctx, tx, query, args)
	if err != nil {
		return nil, err
	}
	if stmt != nil {
		var res sql.Result
		if tx != nil {
			res, err = tx.StmtContext(ctx, stmt).ExecContext(ctx, args...)
		} else {
			res, err = stmt.ExecContext(ctx, args...)
		}
		if !evicted(err) {
			return res, err
		}
	}
	if tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return c.db.ExecContext(ctx, query, args...)
}

func (c *Conn) query(ctx context.Context, tx *sql.Tx, query string, args []any) (*sql.Rows, error) {
	stmt, err := c.prepare(ctx, tx, query, args)
	if err != nil {
		return nil, err
	}
	if stmt != nil {
		var rows *sql.Rows
		if tx != nil {
			rows, err = tx.StmtContext(ctx, stmt).QueryContext(ctx, args...)
		} else {
			rows, err = stmt.QueryContext(ctx, args...)
		}
		if !evicted(err) {
			return rows, err
		}
	}
	if tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return c.db.QueryContext(ctx, query, args...)
}

func (c *Conn) observe(query string, start time.Time, err error) {
	d := time.Since(start)
	kind := Kind(query)
	c.metrics.ObserveStatement(kind, d, err)
	if err != nil {
		c.logger.Debug("statement failed", "kind", kind, "sql", query, "error", err)
		return
	}
	c.logger.Debug("statement", "kind", kind, "sql", query, "duration", d)
}

// Kind returns the lower-cased leading keyword of a statement.
func Kind(query string) string {
	query = strings.TrimSpace(query)
	if i := strings.IndexAny(query, " \t\n("); i >= 0 {
		query = query[:i]
	}
	if query == "" {
		return "unknown"
	}
	return strings.ToLower(query)
}

// Tx is a transaction on a Conn. Cached statements are rebound to it.
type Tx struct {
	conn *Conn
	tx   *sql.Tx
}

func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := t.conn.exec(ctx, t.tx, query, args)
	t.conn.observe(query, start, err)
	return res, err
}

func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := t.conn.query(ctx, t.tx, query, args)
	t.conn.observe(query, start, err)
	return rows, err
}

func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	start := time.Now()
	row := t.tx.QueryRowContext(ctx, query, args...)
	t.conn.observe(query, start, row.Err())
	return row
}

// WithTx runs fn in a transaction, committing when fn returns nil and
// rolling back otherwise.
func (c *Conn) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(&Tx{conn: c, tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			c.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CachedStatements reports the number of prepared statements held open.
func (c *Conn) CachedStatements() int {
	if c.stmts == nil {
		return 0
	}
	return c.stmts.Len()
}
