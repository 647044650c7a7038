// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

// Package authz decides which roles may use which API resources.
//
// Policies are role based. Administrator roles (alerting.admin_roles) may do
// anything. Every other authenticated role falls back to DefaultRole, which
// may record activities and manage its own notifications. The auditor role
// can read the activity log, alerts and rules but not change them.
package authz

import (
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// Objects.
const (
	ObjectActivities    = "activities"
	ObjectAlerts        = "alerts"
	ObjectRules         = "rules"
	ObjectNotifications = "notifications"
	ObjectLive          = "live"
)

// Actions.
const (
	ActionRead  = "read"
	ActionWrite = "write"
)

// Built-in roles.
const (
	RoleSystem  = "system"
	RoleAuditor = "auditor"
	DefaultRole = "member"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && (p.obj == "*" || r.obj == p.obj) && (p.act == "*" || r.act == p.act)
`

var builtinPolicies = [][]string{
	{RoleSystem, "*", "*"},
	{DefaultRole, ObjectActivities, ActionWrite},
	{DefaultRole, ObjectNotifications, ActionRead},
	{DefaultRole, ObjectNotifications, ActionWrite},
	{RoleAuditor, ObjectActivities, ActionRead},
	{RoleAuditor, ObjectAlerts, ActionRead},
	{RoleAuditor, ObjectRules, ActionRead},
}

// Enforcer evaluates role permissions.
type Enforcer struct {
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer builds an enforcer granting adminRoles every permission.
// Role names are case-insensitive.
func NewEnforcer(adminRoles []string) (*Enforcer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	policies := make([][]string, 0, len(builtinPolicies)+len(adminRoles))
	policies = append(policies, builtinPolicies...)
	for _, role := range adminRoles {
		if role = normalize(role); role != "" {
			policies = append(policies, []string{role, "*", "*"})
		}
	}
	if _, err := enforcer.AddPolicies(dedupe(policies)); err != nil {
		return nil, fmt.Errorf("failed to add policies: %w", err)
	}
	// The auditor also holds the default permissions.
	if _, err := enforcer.AddGroupingPolicy(RoleAuditor, DefaultRole); err != nil {
		return nil, fmt.Errorf("failed to add role inheritance: %w", err)
	}
	return &Enforcer{enforcer: enforcer}, nil
}

// Allowed reports whether role may perform action on object. Roles without
// a policy of their own are checked as DefaultRole; an empty role is denied.
func (e *Enforcer) Allowed(role, object, action string) (bool, error) {
	role = normalize(role)
	if role == "" {
		return false, nil
	}
	if !e.known(role) {
		role = DefaultRole
	}
	allowed, err := e.enforcer.Enforce(role, object, action)
	if err != nil {
		return false, fmt.Errorf("enforcement failed: %w", err)
	}
	return allowed, nil
}

// IsAdmin reports whether role has every permission.
func (e *Enforcer) IsAdmin(role string) bool {
	ok, err := e.enforcer.HasPolicy(normalize(role), "*", "*")
	return err == nil && ok
}

func (e *Enforcer) known(role string) bool {
	if role == DefaultRole {
		return true
	}
	policies, err := e.enforcer.GetFilteredPolicy(0, role)
	if err == nil && len(policies) > 0 {
		return true
	}
	roles, err := e.enforcer.GetRolesForUser(role)
	return err == nil && len(roles) > 0
}

func normalize(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func dedupe(policies [][]string) [][]string {
	seen := make(map[string]bool, len(policies))
	out := policies[:0]
	for _, p := range policies {
		key := strings.Join(p, ",")
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}
