// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package audit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/tomtom215/ledgerwatch/internal/logging"
	"github.com/tomtom215/ledgerwatch/internal/risk"
)

// sensitiveNamespaces are path prefixes whose requests are always critical.
var sensitiveNamespaces = map[string]string{
	"admin":          "admin",
	"auth":           "authentication",
	"authentication": "authentication",
	"login":          "authentication",
	"logout":         "authentication",
	"upload":         "upload",
	"uploads":        "upload",
}

var methodActions = map[string]string{
	http.MethodGet:     "read",
	http.MethodHead:    "read",
	http.MethodOptions: "read",
	http.MethodPost:    "create",
	http.MethodPut:     "update",
	http.MethodPatch:   "update",
	http.MethodDelete:  "delete",
}

// RequestOverrides replaces fields that LogRequest would otherwise derive.
type RequestOverrides struct {
	Action             string
	Resource           string
	ResourceID         string
	Description        string
	Severity           Severity
	DataClassification risk.Classification
	StatusCode         int
	Metadata           map[string]interface{}
}

// RequestClass is what LogRequest derives from a method and path.
type RequestClass struct {
	Action     string
	Resource   string
	ResourceID string
	Severity   Severity
}

// ClassifyRequest derives action, resource, and severity from an HTTP
// method and path:
//
//	admin, auth, or upload namespace  -> critical
//	mutating method                   -> error
//	read-only API call                -> warning
//	anything else                     -> info
//
// The "/api" prefix and a version segment such as "v1" are ignored when
// locating the namespace. A login or logout path yields that action; a
// failed login (status 400 and above) yields "login_failed".
func ClassifyRequest(method, path string, status int) RequestClass {
	method = strings.ToUpper(method)
	segments, isAPI := splitPath(path)

	action, ok := methodActions[method]
	if !ok {
		action = strings.ToLower(method)
	}
	mutating := method == http.MethodPost || method == http.MethodPut ||
		method == http.MethodPatch || method == http.MethodDelete

	rc := RequestClass{Action: action, Resource: "web", Severity: SeverityInfo}
	if len(segments) > 0 {
		rc.Resource = segments[0]
	}
	if len(segments) > 1 {
		rc.ResourceID = segments[len(segments)-1]
	}

	if len(segments) > 0 {
		if resource, sensitive := sensitiveNamespaces[segments[0]]; sensitive {
			rc.Resource = resource
			rc.Severity = SeverityCritical
			if resource == "authentication" {
				rc.Action, rc.ResourceID = authAction(segments, action, status), ""
			}
			if resource == "upload" && mutating {
				rc.Action = "upload"
			}
			return rc
		}
	}

	switch {
	case mutating:
		rc.Severity = SeverityError
	case isAPI:
		rc.Severity = SeverityWarning
	}
	return rc
}

func authAction(segments []string, fallback string, status int) string {
	last := segments[len(segments)-1]
	switch last {
	case "login":
		if status >= http.StatusBadRequest {
			return "login_failed"
		}
		return "login"
	case "logout":
		return "logout"
	}
	return fallback
}

// splitPath lowercases a URL path, strips the "/api" prefix and an optional
// version segment, and reports whether the path was under "/api".
func splitPath(path string) ([]string, bool) {
	raw := strings.Split(strings.Trim(strings.ToLower(path), "/"), "/")
	segments := raw[:0]
	for _, s := range raw {
		if s != "" {
			segments = append(segments, s)
		}
	}

	isAPI := len(segments) > 0 && segments[0] == "api"
	if isAPI {
		segments = segments[1:]
		if len(segments) > 0 && isVersion(segments[0]) {
			segments = segments[1:]
		}
	}
	return segments, isAPI
}

func isVersion(s string) bool {
	if len(s) < 2 || s[0] != 'v' {
		return false
	}
	for _, c := range s[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// OriginFromRequest reads the client address and user agent. The first
// X-Forwarded-For hop wins, then X-Real-IP, then the connection address.
func OriginFromRequest(r *http.Request) Origin {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip = strings.TrimSpace(strings.Split(xff, ",")[0])
	} else if xri := r.Header.Get("X-Real-IP"); xri != "" {
		ip = strings.TrimSpace(xri)
	}
	return Origin{IPAddress: ip, UserAgent: r.UserAgent()}
}

// LogRequest records an HTTP request as an activity. Fields not set in
// overrides are derived by ClassifyRequest.
func (r *Recorder) LogRequest(ctx context.Context, req *http.Request, actor Actor, overrides RequestOverrides) (string, error) {
	rc := ClassifyRequest(req.Method, req.URL.Path, overrides.StatusCode)

	in := ActivityInput{
		Actor:              actor,
		Action:             firstNonEmpty(overrides.Action, rc.Action),
		Resource:           firstNonEmpty(overrides.Resource, rc.Resource),
		ResourceID:         firstNonEmpty(overrides.ResourceID, rc.ResourceID),
		Description:        firstNonEmpty(overrides.Description, fmt.Sprintf("%s %s", req.Method, req.URL.Path)),
		Origin:             OriginFromRequest(req),
		Severity:           rc.Severity,
		DataClassification: overrides.DataClassification,
		CorrelationID:      logging.CorrelationIDFromContext(ctx),
	}
	if overrides.Severity != "" {
		in.Severity = overrides.Severity
	}

	meta := map[string]interface{}{
		"method": req.Method,
		"path":   req.URL.Path,
	}
	if overrides.StatusCode != 0 {
		meta["status_code"] = overrides.StatusCode
	}
	if id := logging.RequestIDFromContext(ctx); id != "" {
		meta["request_id"] = id
	}
	for k, v := range overrides.Metadata {
		meta[k] = v
	}
	in.Metadata = meta

	return r.LogActivity(ctx, in)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
