package codestore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// ErrNotFound is returned by a Persistence when a key has no value.
var ErrNotFound = errors.New("record not found")

// Persistence is the durable key-value layer behind a Store.
type Persistence interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Close() error
}

// BadgerConfig holds settings for the badger persistence layer.
type BadgerConfig struct {
	Dir        string
	InMemory   bool
	SyncWrites bool
}

// BadgerPersistence implements Persistence on top of badger.
type BadgerPersistence struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
}

// OpenBadger opens (or creates) the badger database described by cfg.
func OpenBadger(logger *zap.Logger, cfg BadgerConfig) (*BadgerPersistence, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, fmt.Errorf("badger directory is required unless running in memory")
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}

	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{sugar: logger.Named("badger").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return &BadgerPersistence{db: db}, nil
}

// Get returns a copy of the value stored under key.
func (b *BadgerPersistence) Get(key []byte) ([]byte, error) {
	if b.isClosed() {
		return nil, fmt.Errorf("store is closed")
	}

	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}

	return value, err
}

// Set stores value under key.
func (b *BadgerPersistence) Set(key, value []byte) error {
	if b.isClosed() {
		return fmt.Errorf("store is closed")
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Close closes the database. It is safe to call more than once.
func (b *BadgerPersistence) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

func (b *BadgerPersistence) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// badgerLogger routes badger's internal logging into zap.
type badgerLogger struct {
	sugar *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}
