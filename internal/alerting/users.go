// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package alerting

import (
	"context"
	"fmt"

	"github.com/tomtom215/ledgerwatch/internal/logging"
	"github.com/tomtom215/ledgerwatch/internal/validation"
)

// Users returns the user directory in stored order.
func (d *Dispatcher) Users(ctx context.Context) []User {
	return d.users.Read(ctx)
}

// UpsertUsers adds users to the directory, replacing records with the same
// id. All users are validated before anything is written. It returns how
// many records were added or changed.
func (d *Dispatcher) UpsertUsers(ctx context.Context, users []User) (int, error) {
	for i := range users {
		if err := validation.ValidateStruct(&users[i]); err != nil {
			return 0, fmt.Errorf("user %d: %w", i, err)
		}
	}

	changed := 0
	err := d.users.Mutate(ctx, func(cur []User) ([]User, error) {
		index := make(map[string]int, len(cur))
		for i := range cur {
			index[cur[i].ID] = i
		}
		for _, u := range users {
			if i, ok := index[u.ID]; ok {
				if cur[i] != u {
					cur[i] = u
					changed++
				}
				continue
			}
			index[u.ID] = len(cur)
			cur = append(cur, u)
			changed++
		}
		return cur, nil
	})
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		logging.Ctx(ctx).Info().Int("users", changed).Msg("User directory updated")
	}
	return changed, nil
}
