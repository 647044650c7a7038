// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package audit

import (
	"context"
	"time"

	"github.com/tomtom215/ledgerwatch/internal/logging"
)

// RetentionService periodically removes entries older than the recorder's
// RetentionDays.
type RetentionService struct {
	recorder *Recorder
	interval time.Duration
}

// NewRetentionService creates a sweep loop for recorder. A non-positive
// CleanupInterval falls back to one hour.
func NewRetentionService(recorder *Recorder) *RetentionService {
	interval := recorder.Config().CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionService{recorder: recorder, interval: interval}
}

// RunWithContext sweeps once immediately and then every interval until ctx
// is canceled. It returns ctx.Err() on shutdown.
func (s *RetentionService) RunWithContext(ctx context.Context) error {
	if s.recorder.Config().RetentionDays <= 0 {
		logging.Info().Msg("Activity age retention disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *RetentionService) sweep(ctx context.Context) {
	removed, err := s.recorder.Sweep(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Activity retention sweep failed")
		return
	}
	if removed > 0 {
		logging.Info().Int("removed", removed).Msg("Removed expired activity entries")
	}
}
