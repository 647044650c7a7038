// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

// Package validation wraps go-playground/validator v10 behind a singleton
// instance and translates field errors into readable messages.
//
//	type ruleRequest struct {
//	    Name      string `validate:"required,max=120"`
//	    Threshold int    `validate:"gte=0"`
//	}
//	if verr := validation.ValidateStruct(&req); verr != nil {
//	    return verr
//	}
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	// identPattern covers collection names, rule ids and action verbs.
	identPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.:-]*$`)
)

// FieldError is one failed field.
type FieldError struct {
	Field   string      `json:"field"`
	Tag     string      `json:"tag"`
	Param   string      `json:"param,omitempty"`
	Value   interface{} `json:"-"`
	Message string      `json:"message"`
}

// RequestValidationError collects every failed field of one struct.
type RequestValidationError struct {
	Fields []FieldError
}

// Error joins the field messages.
func (ve *RequestValidationError) Error() string {
	if len(ve.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, 0, len(ve.Fields))
	for _, f := range ve.Fields {
		msgs = append(msgs, f.Message)
	}
	return strings.Join(msgs, "; ")
}

// Details returns the field list keyed for an API error body.
func (ve *RequestValidationError) Details() map[string]interface{} {
	return map[string]interface{}{"fields": ve.Fields}
}

// GetValidator returns the shared validator, initializing it on first use.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Report json names so messages match what API callers sent.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})

		_ = validate.RegisterValidation("ident", func(fl validator.FieldLevel) bool {
			return identPattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// ValidateStruct validates s and returns nil or a *RequestValidationError.
func ValidateStruct(s interface{}) *RequestValidationError {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &RequestValidationError{Fields: []FieldError{{Field: "unknown", Tag: "unknown", Message: err.Error()}}}
	}

	out := make([]FieldError, len(fieldErrs))
	for i, fe := range fieldErrs {
		out[i] = FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Value:   fe.Value(),
			Message: translateError(fe),
		}
	}
	return &RequestValidationError{Fields: out}
}

// ValidateVar validates a single value against a tag expression.
func ValidateVar(field interface{}, tag string) error {
	return GetValidator().Var(field, tag)
}

var simpleMessages = map[string]string{
	"required": "%s is required",
	"ident":    "%s must be lowercase letters, digits, '_', '-', '.' or ':'",
	"ip":       "%s must be a valid IP address",
	"url":      "%s must be a valid URL",
	"email":    "%s must be a valid email address",
}

var paramMessages = map[string]string{
	"oneof":            "%s must be one of: %s",
	"gte":              "%s must be greater than or equal to %s",
	"lte":              "%s must be less than or equal to %s",
	"gt":               "%s must be greater than %s",
	"required_with":    "%s is required when %s is set",
	"excluded_without": "%s must be empty unless %s is set",
}

func translateError(fe validator.FieldError) string {
	field := fe.Field()
	if tmpl, ok := simpleMessages[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, field)
	}
	if tmpl, ok := paramMessages[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, field, fe.Param())
	}

	isString := fe.Kind() == reflect.String
	switch fe.Tag() {
	case "min":
		if isString {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if isString {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
