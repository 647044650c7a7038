// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/ledgerwatch/internal/logging"
	"github.com/tomtom215/ledgerwatch/internal/metrics"
	"github.com/tomtom215/ledgerwatch/internal/risk"
	"github.com/tomtom215/ledgerwatch/internal/store"
	"github.com/tomtom215/ledgerwatch/internal/validation"
)

// Evaluator is run on every persisted entry before LogActivity returns.
type Evaluator interface {
	Evaluate(ctx context.Context, entry *ActivityEntry) error
}

// Config controls retention of activity entries.
type Config struct {
	// MaxEntries caps the collection; the oldest entries are evicted
	// first. Zero disables the cap.
	MaxEntries int

	// RetentionDays is the age past which RetentionService removes
	// entries. Zero disables the sweep.
	RetentionDays int

	// CleanupInterval is how often RetentionService sweeps.
	CleanupInterval time.Duration
}

// DefaultConfig returns the recorder defaults.
func DefaultConfig() Config {
	return Config{
		MaxEntries:      10000,
		RetentionDays:   90,
		CleanupInterval: 24 * time.Hour,
	}
}

// Option customizes a Recorder.
type Option func(*Recorder)

// WithClock replaces time.Now for timestamps and retention cutoffs.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithEvaluator sets the evaluator run after each entry is persisted.
func WithEvaluator(e Evaluator) Option {
	return func(r *Recorder) { r.evaluator = e }
}

// Recorder writes activity entries and answers queries over them.
type Recorder struct {
	activities *store.Collection[ActivityEntry]
	config     Config
	now        func() time.Time

	mu        sync.RWMutex
	evaluator Evaluator
}

// NewRecorder creates a recorder over the activities collection of s.
func NewRecorder(s *store.Store, config Config, opts ...Option) *Recorder {
	r := &Recorder{
		activities: store.NewCollection[ActivityEntry](s, CollectionName),
		config:     config,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetEvaluator replaces the evaluator. The evaluator usually needs the
// recorder for history, so it is attached after both are built.
func (r *Recorder) SetEvaluator(e Evaluator) {
	r.mu.Lock()
	r.evaluator = e
	r.mu.Unlock()
}

// Config returns the recorder configuration.
func (r *Recorder) Config() Config {
	return r.config
}

// LogActivity validates and persists an activity, then evaluates alert
// rules against it. It returns the new entry id. Only validation and
// persistence failures are returned; evaluation failures are logged.
func (r *Recorder) LogActivity(ctx context.Context, in ActivityInput) (string, error) {
	if verr := validation.ValidateStruct(in); verr != nil {
		metrics.ActivityRecordFailures.Inc()
		return "", verr
	}

	entry := r.newEntry(ctx, in)

	evicted := 0
	err := r.activities.Mutate(ctx, func(cur []ActivityEntry) ([]ActivityEntry, error) {
		// Stamped under the lock so storage order matches timestamp order.
		entry.Timestamp = r.now().UTC()
		cur = append(cur, entry)
		if limit := r.config.MaxEntries; limit > 0 && len(cur) > limit {
			evicted = len(cur) - limit
			cur = cur[evicted:]
		}
		return cur, nil
	})
	if err != nil {
		metrics.ActivityRecordFailures.Inc()
		return "", fmt.Errorf("record activity: %w", err)
	}

	metrics.ActivitiesRecorded.WithLabelValues(string(entry.Severity), string(entry.RiskLevel)).Inc()
	if evicted > 0 {
		metrics.ActivitiesEvicted.WithLabelValues("cap").Add(float64(evicted))
		logging.Ctx(ctx).Debug().Int("evicted", evicted).Msg("activity cap reached, evicted oldest entries")
	}

	r.mu.RLock()
	evaluator := r.evaluator
	r.mu.RUnlock()
	if evaluator != nil {
		if err := evaluator.Evaluate(ctx, &entry); err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("entry_id", entry.ID).Msg("rule evaluation failed")
		}
	}

	return entry.ID, nil
}

func (r *Recorder) newEntry(ctx context.Context, in ActivityInput) ActivityEntry {
	class := in.DataClassification
	if class == "" {
		class = risk.Internal
	}
	severity := in.Severity
	if severity == "" {
		severity = SeverityInfo
	}
	result := risk.Classify(in.Action, in.Resource, class)
	if in.RiskLevel != "" {
		result.Level = in.RiskLevel
	}
	correlationID := in.CorrelationID
	if correlationID == "" {
		correlationID = logging.CorrelationIDFromContext(ctx)
	}

	return ActivityEntry{
		ID:                 uuid.New().String(),
		Actor:              in.Actor,
		Action:             in.Action,
		Description:        in.Description,
		Resource:           in.Resource,
		ResourceID:         in.ResourceID,
		Origin:             in.Origin,
		Severity:           severity,
		RiskLevel:          result.Level,
		ComplianceRelevant: result.ComplianceRelevant,
		DataClassification: class,
		Metadata:           in.Metadata,
		CorrelationID:      correlationID,
	}
}

// Activities returns every stored entry, oldest first.
func (r *Recorder) Activities(ctx context.Context) []ActivityEntry {
	return r.activities.Read(ctx)
}

// GetRecentActivities returns up to limit entries, newest first. A limit of
// zero or less returns everything.
func (r *Recorder) GetRecentActivities(ctx context.Context, limit int) []ActivityEntry {
	return newestFirst(r.activities.Read(ctx), limit, func(*ActivityEntry) bool { return true })
}

// GetActivitiesByUser returns up to limit entries performed by userID,
// newest first.
func (r *Recorder) GetActivitiesByUser(ctx context.Context, userID string, limit int) []ActivityEntry {
	return newestFirst(r.activities.Read(ctx), limit, func(e *ActivityEntry) bool {
		return e.Actor.ID == userID
	})
}

// GetActivitiesBySeverity returns up to limit entries with the given
// severity, newest first.
func (r *Recorder) GetActivitiesBySeverity(ctx context.Context, severity Severity, limit int) []ActivityEntry {
	return newestFirst(r.activities.Read(ctx), limit, func(e *ActivityEntry) bool {
		return e.Severity == severity
	})
}

func newestFirst(entries []ActivityEntry, limit int, match func(*ActivityEntry) bool) []ActivityEntry {
	out := make([]ActivityEntry, 0)
	for i := len(entries) - 1; i >= 0; i-- {
		if !match(&entries[i]) {
			continue
		}
		out = append(out, entries[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Sweep removes entries older than the configured retention and returns
// how many were removed.
func (r *Recorder) Sweep(ctx context.Context) (int, error) {
	if r.config.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := r.now().UTC().AddDate(0, 0, -r.config.RetentionDays)

	removed := 0
	err := r.activities.Mutate(ctx, func(cur []ActivityEntry) ([]ActivityEntry, error) {
		kept := cur[:0]
		for _, e := range cur {
			if e.Timestamp.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		return kept, nil
	})
	if err != nil {
		return 0, fmt.Errorf("sweep activities: %w", err)
	}
	if removed > 0 {
		metrics.ActivitiesEvicted.WithLabelValues("age").Add(float64(removed))
	}
	return removed, nil
}
