// Package neboa is an embedded document store on top of SQLite's JSON
// functions.
//
// Each collection is a table of (id, data) rows where data holds the whole
// JSON document, including its "_id". Queries are built with a fluent API
// and compiled into a single SELECT over json_extract paths. Mutations
// notify subscribers synchronously: when Insert, Update or Delete returns,
// every active subscription of the collection has already been called or
// has decided not to fire.
//
//	db, err := neboa.Open(":memory:", nil)
//	users, err := db.Collection("users")
//	u, err := users.Insert(neboa.Document{"name": "ada", "age": 36})
//	adults, err := users.Query().GreaterThanOrEqualTo("age", 18).Ascending("name").Find()
package neboa

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sync"

	"github.com/aerotoad/neboa/internal/logger"
	"github.com/aerotoad/neboa/internal/metrics"
	"github.com/aerotoad/neboa/internal/predicate"
	"github.com/aerotoad/neboa/internal/sqlite"
)

// Memory opens a private in-memory database.
const Memory = sqlite.Memory

var collectionName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DB is a handle on one SQLite database. It is safe for concurrent use;
// statements are serialized over a single connection.
type DB struct {
	conn    *sqlite.Conn
	logger  *slog.Logger
	metrics *metrics.Recorder

	mu          sync.Mutex
	collections map[string]*Collection
	closed      bool
}

// Open opens the database at path, a file name or Memory. A nil opts uses
// DefaultOptions.
func Open(path string, opts *Options) (*DB, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.FileMustExist && path != Memory {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
	}
	log := opts.Logger
	if log == nil {
		log = logger.Get()
	}
	rec, err := metrics.New(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	conn, err := sqlite.Open(path, sqlite.Options{
		BusyTimeout:        opts.BusyTimeout,
		JournalMode:        opts.JournalMode,
		StatementCacheSize: opts.StatementCacheSize,
		RegexCacheSize:     opts.RegexCacheSize,
		Logger:             log,
		Metrics:            rec,
	})
	if err != nil {
		return nil, err
	}

	db := &DB{
		conn:        conn,
		logger:      log.With("db", path),
		metrics:     rec,
		collections: make(map[string]*Collection),
	}
	db.logger.Debug("database opened")
	return db, nil
}

// Authenticate checks that the database is reachable and evaluates SQL.
func (db *DB) Authenticate() error {
	conn, err := db.connection()
	if err != nil {
		return err
	}
	if err := conn.Ping(context.Background()); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	return nil
}

// Conn returns the underlying database handle for direct access.
func (db *DB) Conn() *sql.DB {
	return db.conn.DB()
}

// Collection returns the named collection, creating its table and id index
// when they do not exist. The same *Collection is returned for the same
// name, so all its subscribers share one notification channel.
func (db *DB) Collection(name string) (*Collection, error) {
	if !collectionName.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCollectionName, name)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrClosed
	}
	if c, ok := db.collections[name]; ok {
		return c, nil
	}

	if err := createTable(context.Background(), db.conn, name); err != nil {
		return nil, err
	}
	c := newCollection(db, name)
	db.collections[name] = c
	db.logger.Debug("collection ready", "collection", name)
	return c, nil
}

func createTable(ctx context.Context, q sqlite.Querier, name string) error {
	table := predicate.QuoteIdent(name)
	if _, err := q.Exec(ctx, "CREATE TABLE IF NOT EXISTS "+table+" (id TEXT PRIMARY KEY, data JSON)"); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	if err := createIDIndex(ctx, q, name); err != nil {
		return err
	}
	return nil
}

func createIDIndex(ctx context.Context, q sqlite.Querier, name string) error {
	stmt := "CREATE UNIQUE INDEX IF NOT EXISTS " + predicate.QuoteIdent(name+"_id") +
		" ON " + predicate.QuoteIdent(name) + " (json_extract(data, '$." + IDField + "'))"
	if _, err := q.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to index collection %s: %w", name, err)
	}
	return nil
}

// HasCollection reports whether a table for name exists.
func (db *DB) HasCollection(name string) (bool, error) {
	conn, err := db.connection()
	if err != nil {
		return false, err
	}
	var n int
	err = conn.QueryRow(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Collections lists the collection tables in name order.
func (db *DB) Collections() ([]string, error) {
	conn, err := db.connection()
	if err != nil {
		return nil, err
	}
	rows, err := conn.Query(context.Background(),
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Close releases the connection. Subscriptions are dropped. Closing twice
// returns ErrClosed.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return ErrClosed
	}
	db.closed = true
	for _, c := range db.collections {
		c.emitter.Clear()
	}
	db.collections = nil
	db.mu.Unlock()

	db.logger.Debug("database closed")
	return db.conn.Close()
}

func (db *DB) connection() (*sqlite.Conn, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrClosed
	}
	return db.conn, nil
}

// forget removes a dropped collection from the cache.
func (db *DB) forget(name string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.collections != nil {
		delete(db.collections, name)
	}
}

// rename moves a cached collection to its new name.
func (db *DB) rename(oldName, newName string, c *Collection) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.collections != nil {
		delete(db.collections, oldName)
		db.collections[newName] = c
	}
}
