// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/ledgerwatch/internal/alerting"
	"github.com/tomtom215/ledgerwatch/internal/detection"
	"github.com/tomtom215/ledgerwatch/internal/logging"
	"github.com/tomtom215/ledgerwatch/internal/store"
	"github.com/tomtom215/ledgerwatch/internal/validation"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Error codes returned in APIError.Code.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeStorage           = "STORAGE_ERROR"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeRateLimited       = "RATE_LIMITED"
	CodeInternal          = "INTERNAL_ERROR"
)

// APIResponse wraps every JSON body the API returns. Status is "success" or
// "error"; Error is set only for errors.
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata accompanies every response.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	Count     *int      `json:"count,omitempty"`
}

// APIError is the machine-readable error body.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, response *APIResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// respondData sends a success envelope. Slices get a count in the metadata.
func respondData(w http.ResponseWriter, status int, data interface{}, count ...int) {
	resp := &APIResponse{
		Status:   "success",
		Data:     data,
		Metadata: Metadata{Timestamp: time.Now().UTC()},
	}
	if len(count) > 0 {
		resp.Metadata.Count = &count[0]
	}
	respondJSON(w, status, resp)
}

func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	respondErrorDetails(w, status, code, message, nil, err)
}

func respondErrorDetails(w http.ResponseWriter, status int, code, message string, details map[string]interface{}, err error) {
	if err != nil {
		event := logging.Warn()
		if status >= http.StatusInternalServerError {
			event = logging.Error()
		}
		event.Str("code", code).Str("error", sanitizeLogValue(err.Error())).Msg("API error")
	}

	respondJSON(w, status, &APIResponse{
		Status:   "error",
		Metadata: Metadata{Timestamp: time.Now().UTC()},
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// respondServiceError maps a domain error onto a status and code.
func respondServiceError(w http.ResponseWriter, err error) {
	var verr *validation.RequestValidationError
	switch {
	case errors.As(err, &verr):
		respondErrorDetails(w, http.StatusBadRequest, CodeValidation, verr.Error(), verr.Details(), nil)
	case errors.Is(err, detection.ErrInvalidRule):
		respondError(w, http.StatusBadRequest, CodeValidation, err.Error(), nil)
	case errors.Is(err, alerting.ErrAlertNotFound),
		errors.Is(err, alerting.ErrNotificationNotFound),
		errors.Is(err, detection.ErrRuleNotFound):
		respondError(w, http.StatusNotFound, CodeNotFound, err.Error(), nil)
	case errors.Is(err, alerting.ErrInvalidTransition):
		respondError(w, http.StatusConflict, CodeInvalidTransition, err.Error(), nil)
	case errors.Is(err, store.ErrLockTimeout), errors.Is(err, store.ErrCorruptCollection):
		respondError(w, http.StatusServiceUnavailable, CodeStorage, "storage temporarily unavailable", err)
	default:
		respondError(w, http.StatusInternalServerError, CodeInternal, "internal error", err)
	}
}

// decodeJSON reads a single JSON object from the request body into v.
// Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// getIntParam reads an integer query parameter, returning def when it is
// missing or malformed.
func getIntParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func getBoolParam(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

// sanitizeLogValue escapes control characters so request data cannot forge
// log lines.
func sanitizeLogValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			fmt.Fprintf(&b, "\\x%02x", r)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
