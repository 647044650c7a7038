// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package detection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/ledgerwatch/internal/alerting"
	"github.com/tomtom215/ledgerwatch/internal/audit"
	"github.com/tomtom215/ledgerwatch/internal/logging"
	"github.com/tomtom215/ledgerwatch/internal/metrics"
	"github.com/tomtom215/ledgerwatch/internal/store"
)

// History supplies the persisted entries windowed rules count over.
// Satisfied by *audit.Recorder.
type History interface {
	Activities(ctx context.Context) []audit.ActivityEntry
}

// Dispatcher raises an alert for a fired rule.
// Satisfied by *alerting.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, trig alerting.Trigger, entry *audit.ActivityEntry) (*alerting.Alert, error)
}

// Option customizes an Evaluator.
type Option func(*Evaluator)

// WithClock replaces time.Now as the end of every window.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// Evaluator matches entries against the rules in the alert_rules
// collection.
type Evaluator struct {
	rules      *store.Collection[AlertRule]
	history    History
	dispatcher Dispatcher
	now        func() time.Time
}

// NewEvaluator creates an evaluator over the rules collection of s.
func NewEvaluator(s *store.Store, history History, dispatcher Dispatcher, opts ...Option) *Evaluator {
	e := &Evaluator{
		rules:      store.NewCollection[AlertRule](s, RulesCollection),
		history:    history,
		dispatcher: dispatcher,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs every active rule against entry and dispatches an alert for
// each rule that fires. The history read and the entry write are separate
// lock scopes, so two concurrent entries can both see a count below the
// threshold. Errors from individual rules are joined; one failing rule does
// not stop the others.
func (e *Evaluator) Evaluate(ctx context.Context, entry *audit.ActivityEntry) error {
	start := time.Now()
	defer func() {
		metrics.RuleEvaluations.Inc()
		metrics.RuleEvaluationDuration.Observe(time.Since(start).Seconds())
	}()

	now := e.now().UTC()
	var (
		history []audit.ActivityEntry
		loaded  bool
		errs    []error
	)
	for _, rule := range e.rules.Read(ctx) {
		if !rule.Active || !rule.Matches(entry) {
			continue
		}

		count := 1
		if rule.Window != nil {
			if !loaded {
				history, loaded = e.history.Activities(ctx), true
			}
			count = countInWindow(&rule, history, entry, now)
			if count < rule.Window.Threshold {
				continue
			}
		}

		if err := e.fire(ctx, &rule, entry, count, now); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// countInWindow counts the actor's entries matching rule in
// [now-window, now]. The evaluated entry is counted even if history does
// not contain it yet.
func countInWindow(rule *AlertRule, history []audit.ActivityEntry, entry *audit.ActivityEntry, now time.Time) int {
	from := now.Add(-rule.Window.Duration())
	count := 0
	seen := false
	for i := range history {
		h := &history[i]
		if h.Actor.ID != entry.Actor.ID || h.Timestamp.Before(from) || h.Timestamp.After(now) {
			continue
		}
		if !rule.Matches(h) {
			continue
		}
		if h.ID == entry.ID {
			seen = true
		}
		count++
	}
	if !seen {
		count++
	}
	return count
}

func (e *Evaluator) fire(ctx context.Context, rule *AlertRule, entry *audit.ActivityEntry, count int, now time.Time) error {
	metrics.RulesFired.WithLabelValues(rule.ID).Inc()

	if err := e.markTriggered(ctx, rule.ID, now); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("rule_id", rule.ID).Msg("Could not record rule trigger time")
	}

	trig := alerting.Trigger{
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		Severity:    rule.Severity,
		Description: describe(rule, entry, count),
	}
	if _, err := e.dispatcher.Dispatch(ctx, trig, entry); err != nil {
		return fmt.Errorf("dispatch rule %s: %w", rule.ID, err)
	}
	return nil
}

func describe(rule *AlertRule, entry *audit.ActivityEntry, count int) string {
	target := entry.Resource
	if entry.ResourceID != "" {
		target += "/" + entry.ResourceID
	}
	msg := fmt.Sprintf("%s: %s performed %s on %s", rule.Name, entry.Actor.ID, entry.Action, target)
	if rule.Window != nil {
		msg += fmt.Sprintf(" (%d times in %d minutes)", count, rule.Window.Minutes)
	}
	return msg
}

func (e *Evaluator) markTriggered(ctx context.Context, id string, at time.Time) error {
	return e.rules.Mutate(ctx, func(cur []AlertRule) ([]AlertRule, error) {
		for i := range cur {
			if cur[i].ID == id {
				t := at
				cur[i].LastTriggered = &t
				return cur, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	})
}

// GetAlertRules returns every rule in stored order.
func (e *Evaluator) GetAlertRules(ctx context.Context) []AlertRule {
	return e.rules.Read(ctx)
}

// GetAlertRule returns one rule.
func (e *Evaluator) GetAlertRule(ctx context.Context, id string) (*AlertRule, error) {
	for _, r := range e.rules.Read(ctx) {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
}

// UpdateAlertRule replaces the rule with the given id. The replacement is
// validated first and never coerced. An empty rule.ID takes id; a
// different one is rejected. LastTriggered is kept from the stored rule.
func (e *Evaluator) UpdateAlertRule(ctx context.Context, id string, rule AlertRule) (*AlertRule, error) {
	if rule.ID == "" {
		rule.ID = id
	}
	if rule.ID != id {
		return nil, fmt.Errorf("%w: id %q does not match %q", ErrInvalidRule, rule.ID, id)
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	var updated AlertRule
	err := e.rules.Mutate(ctx, func(cur []AlertRule) ([]AlertRule, error) {
		for i := range cur {
			if cur[i].ID != id {
				continue
			}
			rule.LastTriggered = cur[i].LastTriggered
			cur[i] = rule
			updated = rule
			return cur, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	})
	if err != nil {
		return nil, err
	}
	logging.Ctx(ctx).Info().Str("rule_id", id).Bool("active", updated.Active).Msg("Alert rule updated")
	return &updated, nil
}

// SeedDefaults writes DefaultRules when the collection is empty and
// returns how many rules were written.
func (e *Evaluator) SeedDefaults(ctx context.Context) (int, error) {
	seeded := 0
	err := e.rules.Mutate(ctx, func(cur []AlertRule) ([]AlertRule, error) {
		if len(cur) > 0 {
			return cur, nil
		}
		defaults := DefaultRules()
		seeded = len(defaults)
		return defaults, nil
	})
	if err != nil {
		return 0, fmt.Errorf("seed alert rules: %w", err)
	}
	return seeded, nil
}
