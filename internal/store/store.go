// Package store opens the gateway's embedded key-value database. The
// directory and the ledger share one database; keys are namespaced by prefix.
package store

import (
	"fmt"
	"os"

	badger "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

// Open initializes the database under dir, creating the directory when
// missing. Badger's own log lines are routed through the given logger.
func Open(dir string, logger *zap.Logger) (*badger.DB, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = badgerLogger{logger.Sugar().Named("badger")}
	// The gateway stores small JSON documents; shrink the caches from
	// badger's server-class defaults.
	opts.ValueLogFileSize = 64 << 20
	opts.BlockCacheSize = 32 << 20
	opts.IndexCacheSize = 32 << 20
	opts.NumMemtables = 2

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	return db, nil
}

// badgerLogger adapts zap to badger.Logger.
type badgerLogger struct {
	sugar *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...any)   { l.sugar.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...any) { l.sugar.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...any)    { l.sugar.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...any)   { l.sugar.Debugf(format, args...) }
