// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package store

import (
	"context"
	"fmt"

	"github.com/tomtom215/ledgerwatch/internal/validation"
)

// Backend persists whole collections as opaque JSON array documents.
// Load returns (nil, nil) for a collection that has never been written.
// Save replaces the collection atomically: a reader observes either the
// old or the new document, never a torn one.
type Backend interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, data []byte) error
	Close() error
}

// checkName rejects collection names that could escape the data directory
// or collide with backend key prefixes.
func checkName(name string) error {
	if err := validation.ValidateVar(name, "required,max=64,ident"); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidCollection, name)
	}
	return nil
}
