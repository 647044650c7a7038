// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

const badgerKeyPrefix = "collection:"

// BadgerBackend keeps each collection as a single value in an embedded
// BadgerDB, keyed by collection name. Each Save is one transaction.
type BadgerBackend struct {
	db    *badger.DB
	owned bool
}

// OpenBadgerBackend opens (or creates) a database at path. An empty path
// opens an in-memory database, which is what tests use.
func OpenBadgerBackend(path string) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return &BadgerBackend{db: db, owned: true}, nil
}

// NewBadgerBackend wraps an already open database. Close leaves it open.
func NewBadgerBackend(db *badger.DB) *BadgerBackend {
	return &BadgerBackend{db: db}
}

// Load implements Backend.
func (b *BadgerBackend) Load(_ context.Context, name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + name))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read collection %s: %w", name, err)
	}
	return data, nil
}

// Save implements Backend.
func (b *BadgerBackend) Save(_ context.Context, name string, data []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerKeyPrefix+name), data)
	})
	if err != nil {
		return fmt.Errorf("write collection %s: %w", name, err)
	}
	return nil
}

// Close implements Backend.
func (b *BadgerBackend) Close() error {
	if !b.owned {
		return nil
	}
	return b.db.Close()
}
