// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileBackend keeps each collection in <dir>/<name>.json.
type FileBackend struct {
	dir string
}

// NewFileBackend creates dir if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, errors.New("store: data directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", dir, err)
	}
	return &FileBackend{dir: dir}, nil
}

// Dir returns the data directory.
func (b *FileBackend) Dir() string {
	return b.dir
}

func (b *FileBackend) path(name string) string {
	return filepath.Join(b.dir, name+".json")
}

// Load implements Backend.
func (b *FileBackend) Load(_ context.Context, name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(b.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read collection %s: %w", name, err)
	}
	return data, nil
}

// Save implements Backend. The document is written to a temp file in the
// same directory, synced, then renamed over the previous file.
func (b *FileBackend) Save(_ context.Context, name string, data []byte) error {
	if err := checkName(name); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(b.dir, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write collection %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync collection %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close collection %s: %w", name, err)
	}
	if err := os.Rename(tmpName, b.path(name)); err != nil {
		cleanup()
		return fmt.Errorf("replace collection %s: %w", name, err)
	}
	return nil
}

// Close implements Backend.
func (b *FileBackend) Close() error {
	return nil
}
