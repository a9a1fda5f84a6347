package config

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

type BadgerBlobStore struct {
	db *badger.DB
}

// OpenBadgerBlobStore opens (or creates) the badger directory at path.
// An empty path opens an in-memory badger instance.
func OpenBadgerBlobStore(path string, logger *logrus.Logger) (*BadgerBlobStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create badger dir: %w", err)
		}
		opts = badger.DefaultOptions(path)
	}
	// badger logs compaction chatter at info; keep only warnings and errors
	opts = opts.WithLogger(badgerLogger{logger}).WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger: %w", err)
	}
	return &BadgerBlobStore{db: db}, nil
}

func (b *BadgerBlobStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (b *BadgerBlobStore) Put(_ context.Context, key string, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (b *BadgerBlobStore) Delete(_ context.Context, key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (b *BadgerBlobStore) Close() error {
	return b.db.Close()
}

// badgerLogger routes badger's logger through logrus.
type badgerLogger struct {
	logger *logrus.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	if l.logger != nil {
		l.logger.WithField("module", "badger").Errorf(format, args...)
	}
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	if l.logger != nil {
		l.logger.WithField("module", "badger").Warnf(format, args...)
	}
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	if l.logger != nil {
		l.logger.WithField("module", "badger").Infof(format, args...)
	}
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	if l.logger != nil {
		l.logger.WithField("module", "badger").Debugf(format, args...)
	}
}
