// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package alerting

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/ledgerwatch/internal/audit"
	"github.com/tomtom215/ledgerwatch/internal/logging"
	"github.com/tomtom215/ledgerwatch/internal/metrics"
	"github.com/tomtom215/ledgerwatch/internal/store"
)

// Listener receives every new alert. A listener that returns an error is
// unsubscribed.
type Listener interface {
	OnAlert(ctx context.Context, alert *Alert) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, alert *Alert) error

// OnAlert implements Listener.
func (f ListenerFunc) OnAlert(ctx context.Context, alert *Alert) error {
	return f(ctx, alert)
}

// Config controls alert fan-out.
type Config struct {
	// AdminRoles are the user roles that receive a notification for every
	// alert. Matching is case-insensitive.
	AdminRoles []string

	// NotificationTTL sets ExpiresAt on new notifications. Zero means they
	// never expire.
	NotificationTTL time.Duration

	// QueueSize bounds pending sink deliveries.
	QueueSize int
}

// DefaultConfig returns the dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		AdminRoles:      []string{"admin"},
		NotificationTTL: 30 * 24 * time.Hour,
		QueueSize:       256,
	}
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithSinks registers notification sinks.
func WithSinks(sinks ...Sink) Option {
	return func(d *Dispatcher) { d.sinks = append(d.sinks, sinks...) }
}

type delivery struct {
	notification Notification
	alert        Alert
}

// Dispatcher persists alerts and fans them out.
type Dispatcher struct {
	alerts        *store.Collection[Alert]
	notifications *store.Collection[Notification]
	users         *store.Collection[User]
	config        Config
	adminRoles    map[string]bool
	now           func() time.Time
	sinks         []Sink
	queue         chan delivery

	mu        sync.RWMutex
	listeners map[string]Listener
}

// NewDispatcher creates a dispatcher over the alert, notification, and user
// collections of s.
func NewDispatcher(s *store.Store, config Config, opts ...Option) *Dispatcher {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	d := &Dispatcher{
		alerts:        store.NewCollection[Alert](s, AlertsCollection),
		notifications: store.NewCollection[Notification](s, NotificationsCollection),
		users:         store.NewCollection[User](s, UsersCollection),
		config:        config,
		adminRoles:    make(map[string]bool, len(config.AdminRoles)),
		now:           time.Now,
		listeners:     make(map[string]Listener),
	}
	for _, role := range config.AdminRoles {
		d.adminRoles[strings.ToLower(strings.TrimSpace(role))] = true
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan delivery, config.QueueSize)
	return d
}

// Subscribe registers l for new alerts and returns its subscription id.
func (d *Dispatcher) Subscribe(l Listener) string {
	id := uuid.New().String()
	d.mu.Lock()
	d.listeners[id] = l
	n := len(d.listeners)
	d.mu.Unlock()
	metrics.SubscribersActive.Set(float64(n))
	return id
}

// Unsubscribe removes a subscription. It reports whether id was subscribed.
func (d *Dispatcher) Unsubscribe(id string) bool {
	d.mu.Lock()
	_, ok := d.listeners[id]
	delete(d.listeners, id)
	n := len(d.listeners)
	d.mu.Unlock()
	metrics.SubscribersActive.Set(float64(n))
	return ok
}

// Subscribed reports whether id is still registered. Listeners that fail a
// broadcast are removed, so long-lived listeners use this to re-attach.
func (d *Dispatcher) Subscribed(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.listeners[id]
	return ok
}

// Dispatch records a new active alert for entry, broadcasts it, and
// notifies administrators. The alert is returned once persisted, even when
// creating notifications fails afterwards.
func (d *Dispatcher) Dispatch(ctx context.Context, trig Trigger, entry *audit.ActivityEntry) (*Alert, error) {
	alert := Alert{
		ID:          uuid.New().String(),
		RuleID:      trig.RuleID,
		RuleName:    trig.RuleName,
		Severity:    trig.Severity,
		Description: trig.Description,
		Actor:       entry.Actor.ID,
		EntryID:     entry.ID,
		TriggeredAt: d.now().UTC(),
		Status:      StatusActive,
		Metadata: map[string]interface{}{
			"entry_id":   entry.ID,
			"action":     entry.Action,
			"resource":   entry.Resource,
			"risk_level": string(entry.RiskLevel),
		},
	}
	if entry.Origin.IPAddress != "" {
		alert.Metadata["ip_address"] = entry.Origin.IPAddress
	}
	if entry.Origin.UserAgent != "" {
		alert.Metadata["user_agent"] = entry.Origin.UserAgent
	}

	if err := d.alerts.Append(ctx, alert); err != nil {
		return nil, fmt.Errorf("persist alert: %w", err)
	}
	metrics.AlertsDispatched.WithLabelValues(string(alert.Severity)).Inc()
	logging.Ctx(ctx).Info().
		Str("alert_id", alert.ID).
		Str("rule_id", alert.RuleID).
		Str("severity", string(alert.Severity)).
		Str("actor", alert.Actor).
		Msg("Alert raised")

	d.broadcast(ctx, &alert)

	notes, err := d.notifyAdmins(ctx, &alert)
	if err != nil {
		return &alert, err
	}
	d.enqueue(ctx, &alert, notes)
	return &alert, nil
}

// broadcast delivers alert to each listener. Failing listeners are removed.
func (d *Dispatcher) broadcast(ctx context.Context, alert *Alert) {
	d.mu.RLock()
	snapshot := make(map[string]Listener, len(d.listeners))
	for id, l := range d.listeners {
		snapshot[id] = l
	}
	d.mu.RUnlock()

	for id, l := range snapshot {
		if err := l.OnAlert(ctx, alert); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("subscription", id).Msg("Removing failing alert subscriber")
			if d.Unsubscribe(id) {
				metrics.SubscribersRemoved.Inc()
			}
		}
	}
}

func (d *Dispatcher) notifyAdmins(ctx context.Context, alert *Alert) ([]Notification, error) {
	var admins []User
	for _, u := range d.users.Read(ctx) {
		if d.adminRoles[strings.ToLower(u.Role)] {
			admins = append(admins, u)
		}
	}
	if len(admins) == 0 {
		logging.Ctx(ctx).Debug().Str("alert_id", alert.ID).Msg("No administrators to notify")
		return nil, nil
	}

	created := d.now().UTC()
	var expires *time.Time
	if d.config.NotificationTTL > 0 {
		t := created.Add(d.config.NotificationTTL)
		expires = &t
	}

	notes := make([]Notification, len(admins))
	for i, u := range admins {
		notes[i] = Notification{
			ID:          uuid.New().String(),
			RecipientID: u.ID,
			AlertID:     alert.ID,
			Title:       fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.RuleName),
			Message:     alert.Description,
			Priority:    PriorityFor(alert.Severity),
			CreatedAt:   created,
			ExpiresAt:   expires,
		}
	}
	if err := d.notifications.Append(ctx, notes...); err != nil {
		return nil, fmt.Errorf("persist notifications for alert %s: %w", alert.ID, err)
	}
	metrics.NotificationsCreated.Add(float64(len(notes)))
	return notes, nil
}

// Transition moves an alert to target on behalf of actor.
func (d *Dispatcher) Transition(ctx context.Context, id string, target Status, actor string) (*Alert, error) {
	var (
		updated Alert
		from    Status
	)
	err := d.alerts.Mutate(ctx, func(cur []Alert) ([]Alert, error) {
		for i := range cur {
			if cur[i].ID != id {
				continue
			}
			from = cur[i].Status
			if from.Terminal() {
				return nil, fmt.Errorf("%w: alert is already %s", ErrInvalidTransition, from)
			}
			if !CanTransition(from, target) {
				return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, target)
			}
			cur[i].apply(target, actor, d.now().UTC())
			updated = cur[i]
			return cur, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	})
	if from != "" {
		metrics.RecordTransition(string(from), string(target), err)
	}
	if err != nil {
		return nil, err
	}

	logging.Ctx(ctx).Info().
		Str("alert_id", id).
		Str("from", string(from)).
		Str("to", string(target)).
		Str("by", actor).
		Msg("Alert status changed")
	return &updated, nil
}

// ListAlerts returns alerts matching filter, newest first.
func (d *Dispatcher) ListAlerts(ctx context.Context, filter AlertFilter) []Alert {
	all := d.alerts.Read(ctx)
	out := make([]Alert, 0)
	for i := len(all) - 1; i >= 0; i-- {
		if !filter.matches(&all[i]) {
			continue
		}
		out = append(out, all[i])
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// GetAlert returns one alert.
func (d *Dispatcher) GetAlert(ctx context.Context, id string) (*Alert, error) {
	for _, a := range d.alerts.Read(ctx) {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
}

// ListNotifications returns the unexpired notifications of userID, newest
// first.
func (d *Dispatcher) ListNotifications(ctx context.Context, userID string, unreadOnly bool) []Notification {
	now := d.now()
	all := d.notifications.Read(ctx)
	out := make([]Notification, 0)
	for i := len(all) - 1; i >= 0; i-- {
		n := &all[i]
		if n.RecipientID != userID || n.Expired(now) || (unreadOnly && n.Read) {
			continue
		}
		out = append(out, *n)
	}
	return out
}

// MarkNotificationRead marks a notification of userID as read. Marking an
// already read notification keeps its original ReadAt.
func (d *Dispatcher) MarkNotificationRead(ctx context.Context, id, userID string) (*Notification, error) {
	var updated Notification
	err := d.notifications.Mutate(ctx, func(cur []Notification) ([]Notification, error) {
		for i := range cur {
			if cur[i].ID != id || cur[i].RecipientID != userID {
				continue
			}
			if !cur[i].Read {
				at := d.now().UTC()
				cur[i].Read, cur[i].ReadAt = true, &at
			}
			updated = cur[i]
			return cur, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNotificationNotFound, id)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}
