// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

// Package store provides named record collections with an atomic
// read-modify-write contract.
//
// A collection is an ordered JSON array persisted as a single document.
// Mutate is the only way to change one: it takes the collection's lock,
// loads the current records, hands them to a transform, writes back the
// full result and only then releases the lock. Two mutators of the same
// collection therefore never lose each other's updates. Read takes no lock
// and may observe a snapshot that a concurrent mutator is about to replace.
//
// Read and Mutate treat an unreadable collection differently. Read logs the
// failure and returns an empty collection. Mutate fails with the backend
// error, or ErrCorruptCollection when the document does not decode, instead
// of writing over records it could not load. A corrupt document therefore
// blocks every write to that collection until it is repaired; Check
// surfaces the condition for health reporting.
//
//	activities := store.NewCollection[audit.ActivityEntry](s, "activities")
//	err := activities.Mutate(ctx, func(cur []audit.ActivityEntry) ([]audit.ActivityEntry, error) {
//	    return append(cur, entry), nil
//	})
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/ledgerwatch/internal/logging"
	"github.com/tomtom215/ledgerwatch/internal/metrics"
)

var (
	// ErrInvalidCollection is returned for names that fail the ident rule.
	ErrInvalidCollection = errors.New("store: invalid collection name")

	// ErrCorruptCollection is returned by Mutate and Check when the stored
	// document cannot be decoded. Read degrades to an empty collection
	// instead, while Mutate refuses to overwrite data it could not read.
	ErrCorruptCollection = errors.New("store: collection document is corrupt")
)

// Config tunes a Store.
type Config struct {
	// LockTimeout bounds how long Mutate waits for a collection lock.
	// Zero waits indefinitely.
	LockTimeout time.Duration
}

// Store coordinates access to collections held by a Backend.
type Store struct {
	backend Backend
	locks   *NamedMutex
	config  Config
}

// New returns a Store over backend.
func New(backend Backend, config Config) *Store {
	return &Store{
		backend: backend,
		locks:   NewNamedMutex(),
		config:  config,
	}
}

// Backend kinds accepted by Open.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// Open builds a Store over the named backend kind rooted at path. An empty
// kind selects the file backend.
func Open(kind, path string, config Config) (*Store, error) {
	var (
		backend Backend
		err     error
	)
	switch kind {
	case "", BackendFile:
		backend, err = NewFileBackend(path)
	case BackendBadger:
		backend, err = OpenBadgerBackend(path)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", kind)
	}
	if err != nil {
		return nil, err
	}
	return New(backend, config), nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Check loads and decodes name without locking and reports any failure
// that Read would hide.
func (s *Store) Check(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	_, err := s.load(ctx, name)
	return err
}

// Read returns the records of name without locking. Any load or decode
// failure is logged and an empty collection is returned.
func (s *Store) Read(ctx context.Context, name string) []json.RawMessage {
	records, err := s.load(ctx, name)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("collection", name).Msg("collection read failed, treating as empty")
		return []json.RawMessage{}
	}
	return records
}

// Mutate applies transform to the current records of name under the
// collection lock and persists the result. A transform error aborts the
// mutation without writing and is returned unchanged. A write failure is
// returned wrapped; the caller must treat its operation as not having
// happened.
func (s *Store) Mutate(ctx context.Context, name string, transform func([]json.RawMessage) ([]json.RawMessage, error)) error {
	return s.withLock(ctx, name, func() error {
		current, err := s.load(ctx, name)
		if err != nil {
			return err
		}
		next, err := transform(current)
		if err != nil {
			return err
		}
		return s.save(ctx, name, next)
	})
}

func (s *Store) withLock(ctx context.Context, name string, fn func() error) error {
	if err := checkName(name); err != nil {
		return err
	}
	release, err := s.locks.Lock(ctx, name, s.config.LockTimeout)
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			logging.Ctx(ctx).Warn().
				Str("collection", name).
				Dur("timeout", s.config.LockTimeout).
				Msg("collection lock not granted in time")
		}
		return fmt.Errorf("lock collection %s: %w", name, err)
	}
	defer release()
	return fn()
}

func (s *Store) load(ctx context.Context, name string) ([]json.RawMessage, error) {
	data, err := s.backend.Load(ctx, name)
	metrics.RecordStoreOp(name, "read", err)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []json.RawMessage{}, nil
	}
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptCollection, name, err)
	}
	if records == nil {
		records = []json.RawMessage{}
	}
	return records, nil
}

func (s *Store) save(ctx context.Context, name string, records []json.RawMessage) error {
	if records == nil {
		records = []json.RawMessage{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode collection %s: %w", name, err)
	}
	err = s.backend.Save(ctx, name, data)
	metrics.RecordStoreOp(name, "write", err)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("collection", name).Msg("collection write failed")
		return err
	}
	metrics.StoreRecords.WithLabelValues(name).Set(float64(len(records)))
	return nil
}

// Collection is a typed view of one named collection.
type Collection[T any] struct {
	store *Store
	name  string
}

// NewCollection binds name to record type T.
func NewCollection[T any](s *Store, name string) *Collection[T] {
	return &Collection[T]{store: s, name: name}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string {
	return c.name
}

// Read decodes every record. Records that fail to decode are skipped and
// logged; a failed load yields an empty slice.
func (c *Collection[T]) Read(ctx context.Context) []T {
	raw := c.store.Read(ctx, c.name)
	out := make([]T, 0, len(raw))
	for i, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("collection", c.name).Int("index", i).Msg("skipping undecodable record")
			continue
		}
		out = append(out, v)
	}
	return out
}

// Mutate is the typed form of Store.Mutate. Unlike Read, a record that
// fails to decode aborts the mutation with ErrCorruptCollection.
func (c *Collection[T]) Mutate(ctx context.Context, transform func([]T) ([]T, error)) error {
	return c.store.Mutate(ctx, c.name, func(raw []json.RawMessage) ([]json.RawMessage, error) {
		current := make([]T, len(raw))
		for i, r := range raw {
			if err := json.Unmarshal(r, &current[i]); err != nil {
				return nil, fmt.Errorf("%w: %s[%d]: %v", ErrCorruptCollection, c.name, i, err)
			}
		}
		next, err := transform(current)
		if err != nil {
			return nil, err
		}
		out := make([]json.RawMessage, len(next))
		for i := range next {
			b, err := json.Marshal(next[i])
			if err != nil {
				return nil, fmt.Errorf("encode %s[%d]: %w", c.name, i, err)
			}
			out[i] = b
		}
		return out, nil
	})
}

// Append adds records to the end of the collection.
func (c *Collection[T]) Append(ctx context.Context, records ...T) error {
	return c.Mutate(ctx, func(cur []T) ([]T, error) {
		return append(cur, records...), nil
	})
}
