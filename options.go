package neboa

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Options configures a database handle.
type Options struct {
	// BusyTimeout is how long SQLite waits on a locked database file.
	BusyTimeout time.Duration
	// JournalMode is passed to PRAGMA journal_mode for file databases.
	// Empty keeps the SQLite default.
	JournalMode string
	// StatementCacheSize bounds the number of prepared statements kept
	// open. 0 disables the cache.
	StatementCacheSize int
	// RegexCacheSize bounds the compiled patterns kept for REGEXP. It is
	// process wide and fixed by the first Open.
	RegexCacheSize int
	// Logger receives statement and event logs at debug level. Defaults to
	// the process logger.
	Logger *slog.Logger
	// Registerer receives the metrics collectors. Nil keeps them
	// unregistered.
	Registerer prometheus.Registerer
	// FileMustExist makes Open fail instead of creating a missing file.
	FileMustExist bool
}

// DefaultOptions returns the options used when Open is given nil.
func DefaultOptions() *Options {
	return &Options{
		BusyTimeout:        5 * time.Second,
		JournalMode:        "WAL",
		StatementCacheSize: 64,
		RegexCacheSize:     128,
	}
}
