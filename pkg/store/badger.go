package store

import (
	"context"
	"errors"
	"fmt"
	"iter"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/lokutor-ai/turncore/pkg/orchestrator"
)

// ArchiveOptions configures the Badger archive.
type ArchiveOptions struct {
	// Dir holds the data files. Required unless InMemory is set.
	Dir      string
	InMemory bool
	Logger   orchestrator.Logger
}

// Archive stores final session snapshots in BadgerDB.
type Archive struct {
	db *badger.DB
}

func NewArchive(opts ArchiveOptions) (*Archive, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("store: archive dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	logger := opts.Logger
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{logger})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("store: open archive: %w", err)
	}
	return &Archive{db: db}, nil
}

func (a *Archive) Save(_ context.Context, snap orchestrator.Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return fmt.Errorf("store: encode snapshot: %w", err)
	}
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(sessionKey(snap.ID)), data)
	})
}

func (a *Archive) Load(_ context.Context, id string) (orchestrator.Snapshot, error) {
	var data []byte
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionKey(id)))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return orchestrator.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return orchestrator.Snapshot{}, fmt.Errorf("store: archive get: %w", err)
	}
	return decode(data)
}

// List yields every archived snapshot in key order.
func (a *Archive) List(_ context.Context) iter.Seq2[orchestrator.Snapshot, error] {
	prefix := []byte(keyPrefix)
	return func(yield func(orchestrator.Snapshot, error) bool) {
		err := a.db.View(func(txn *badger.Txn) error {
			iterOpts := badger.DefaultIteratorOptions
			iterOpts.Prefix = prefix
			it := txn.NewIterator(iterOpts)
			defer it.Close()

			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				val, err := it.Item().ValueCopy(nil)
				if err == nil {
					var snap orchestrator.Snapshot
					snap, err = decode(val)
					if err == nil {
						if !yield(snap, nil) {
							return nil
						}
						continue
					}
				}
				if !yield(orchestrator.Snapshot{}, err) {
					return nil
				}
			}
			return nil
		})
		if err != nil {
			yield(orchestrator.Snapshot{}, err)
		}
	}
}

func (a *Archive) Close() error {
	return a.db.Close()
}

type badgerLogger struct {
	l orchestrator.Logger
}

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error(fmt.Sprintf(format, args...))
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warn(fmt.Sprintf(format, args...))
}

func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.l.Debug(fmt.Sprintf(format, args...))
}

func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Debug(fmt.Sprintf(format, args...))
}
