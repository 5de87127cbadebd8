package kv

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
)

const badgerKeyPrefix = "antidupe:"

// Badger is an embedded LSM binding for hosts that already ship a badger
// data directory.
type Badger struct {
	db     *badger.DB
	max    int
	closed atomic.Bool
}

// OpenBadger opens (or creates) a badger directory. An empty dir opens an
// in-memory instance.
func OpenBadger(dir string, maxValueSize int) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	if maxValueSize <= 0 {
		maxValueSize = DefaultMaxValueSize
	}
	return &Badger{db: db, max: maxValueSize}, nil
}

func (b *Badger) Get(key string) ([]byte, bool, error) {
	if b.closed.Load() {
		return nil, false, ErrClosed
	}
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return out, true, nil
}

func (b *Badger) Set(key string, val []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := checkSize(key, val, b.max); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerKeyPrefix+key), val)
	})
	if err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}

func (b *Badger) MaxValueSize() int { return b.max }

func (b *Badger) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}
