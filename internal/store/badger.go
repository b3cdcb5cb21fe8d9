package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// maxConflictRetries bounds UpdateValue retries on badger.ErrConflict.
const maxConflictRetries = 10

// BadgerKV implements KV on an embedded BadgerDB instance. It is the
// alternative preferences backend for installations that keep the
// notification database on slow or shared storage.
type BadgerKV struct {
	db *badger.DB

	// writeMu serializes UpdateValue calls. SetValue does not take it, so
	// a conflict with a plain write is still possible and retried.
	writeMu sync.Mutex
}

// BadgerOptions configures OpenBadgerKV.
type BadgerOptions struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir      string
	InMemory bool
	Logger   *slog.Logger
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadgerKV opens (or creates) a Badger-backed preferences store.
func OpenBadgerKV(opts BadgerOptions) (*BadgerKV, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Dir == "" {
			return nil, fmt.Errorf("opening badger: directory is required")
		}
		if err := os.MkdirAll(opts.Dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating badger directory %s: %w", opts.Dir, err)
		}
		bopts = badger.DefaultOptions(opts.Dir).WithSyncWrites(true)
	}
	bopts = bopts.WithNumVersionsToKeep(1)

	if opts.Logger != nil {
		bopts = bopts.WithLogger(&badgerLogger{logger: opts.Logger})
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("opening badger: %w", err)
	}
	return &BadgerKV{db: db}, nil
}

// Close closes the underlying database.
func (b *BadgerKV) Close() error {
	return b.db.Close()
}

// GetValue reads a preference value.
func (b *BadgerKV) GetValue(_ context.Context, key string) ([]byte, error) {
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
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading preference %q: %w", key, err)
	}
	return value, nil
}

// SetValue writes a preference value.
func (b *BadgerKV) SetValue(_ context.Context, key string, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("writing preference %q: %w", key, err)
	}
	return nil
}

// UpdateValue applies fn in a serializable transaction, retrying when a
// concurrent transaction touched the same key.
func (b *BadgerKV) UpdateValue(
	ctx context.Context,
	key string,
	fn func(current []byte) ([]byte, error),
) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := b.db.Update(func(txn *badger.Txn) error {
			var current []byte
			item, err := txn.Get([]byte(key))
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
			case err != nil:
				return err
			default:
				if current, err = item.ValueCopy(nil); err != nil {
					return err
				}
			}

			next, err := fn(current)
			if err != nil {
				return err
			}
			return txn.Set([]byte(key), next)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("updating preference %q: %w", key, err)
		}
		return nil
	}

	return fmt.Errorf("updating preference %q: %w", key, badger.ErrConflict)
}
