package config

import (
	"github.com/aerotoad/neboa"
	"github.com/aerotoad/neboa/internal/logger"
)

// DBOptions maps the loaded configuration onto database options. The
// logger is built from the log section.
func (c *Config) DBOptions() *neboa.Options {
	return &neboa.Options{
		BusyTimeout:        c.Busy.Timeout,
		JournalMode:        c.Journal.Mode,
		StatementCacheSize: c.Cache.Statements,
		RegexCacheSize:     c.Cache.Regexps,
		Logger:             logger.New(logger.Config{Level: c.Log.Level, Format: c.Log.Format}),
	}
}
