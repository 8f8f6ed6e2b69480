package durable

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v3"
	json "github.com/goccy/go-json"
)

const checkpointPrefix = "checkpoint:"

// BadgerCheckpointStore keeps checkpoints in a badger database so they
// survive a process restart.
type BadgerCheckpointStore struct {
	db    *badger.DB
	owned bool
}

// OpenBadgerCheckpointStore opens (or creates) a store in dir. An empty dir
// opens an in-memory database.
func OpenBadgerCheckpointStore(dir string) (*BadgerCheckpointStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerCheckpointStore{db: db, owned: true}, nil
}

// NewBadgerCheckpointStore uses an already open database.
func NewBadgerCheckpointStore(db *badger.DB) *BadgerCheckpointStore {
	return &BadgerCheckpointStore{db: db}
}

func (s *BadgerCheckpointStore) Save(_ context.Context, cp Checkpoint) error {
	if err := cp.Args.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(checkpointPrefix+cp.ID()), raw)
	})
}

func (s *BadgerCheckpointStore) Delete(_ context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(checkpointPrefix + id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (s *BadgerCheckpointStore) Due(_ context.Context, now time.Time, limit int) ([]Checkpoint, error) {
	var out []Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(checkpointPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var cp Checkpoint
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &cp)
			}); err != nil {
				return err
			}
			if !cp.DueAt.After(now) {
				out = append(out, cp)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return limitDue(out, limit), nil
}

// Close closes the database when the store opened it.
func (s *BadgerCheckpointStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
