package database

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// OpenBadger opens the embedded store at path, or an in-memory one when inMemory is set
func OpenBadger(path string, inMemory bool, log *logrus.Logger) (*badger.DB, error) {
	opts := badger.DefaultOptions(path)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else if path == "" {
		return nil, fmt.Errorf("BADGER_PATH is empty")
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", path, err)
	}
	if log != nil {
		log.WithFields(logrus.Fields{"path": path, "in_memory": inMemory}).Info("badger.opened")
	}
	return db, nil
}
