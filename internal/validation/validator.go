// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

// Package validation rejects malformed or oversized event payloads before
// they reach enrichment and storage.
//
// Each constraint produces its own named error so the API can report which
// constraint was violated. Validation is pure: it never touches the network,
// the rate limiter, or storage.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/sitelens/sitelens/internal/models"
)

// EventNamePattern is the hard validation boundary for custom event names.
// Treated as a versioned contract, not an implementation detail.
const EventNamePattern = `^[a-zA-Z][\w.]{0,62}$`

// Metadata bounds enforced on every payload.
const (
	MaxMetadataKeys        = 20
	MaxMetadataValueLength = 1000
)

var eventNameRe = regexp.MustCompile(EventNamePattern)

// Named validation failures. These messages are client-facing.
var (
	ErrMissingProjectID = errors.New("Project ID is required")
	ErrInvalidEventName = errors.New("Event name must start with a letter and contain only letters, digits, underscores or dots, up to 63 characters")
	ErrInvalidKind      = errors.New("Event kind must be one of: pageview, custom, error, performance")
	ErrMissingErrorName = errors.New("Error events must include an error name")
	ErrMissingTimings   = errors.New("Performance events must include timings")

	ErrMetadataTooManyKeys  = fmt.Errorf("Metadata object can't have more than %d keys", MaxMetadataKeys)
	ErrMetadataValueTooLong = fmt.Errorf("Metadata object total value length can't exceed %d characters", MaxMetadataValueLength)
	ErrMetadataNonString    = errors.New("Metadata values must all be strings")
)

// ValidateEventName checks a custom event name against EventNamePattern.
func ValidateEventName(name string) error {
	if !eventNameRe.MatchString(name) {
		return ErrInvalidEventName
	}
	return nil
}

// ValidateMetadata enforces the metadata bounds: key count, value types,
// and total value length. Each bound fails independently with its own
// named error.
func ValidateMetadata(meta map[string]interface{}) error {
	if len(meta) == 0 {
		return nil
	}
	if len(meta) > MaxMetadataKeys {
		return ErrMetadataTooManyKeys
	}

	total := 0
	for _, v := range meta {
		s, ok := v.(string)
		if !ok {
			return ErrMetadataNonString
		}
		// The budget is characters, not bytes; multi-byte values must not
		// be penalized for their encoding.
		total += utf8.RuneCountInString(s)
	}
	if total > MaxMetadataValueLength {
		return ErrMetadataValueTooLong
	}
	return nil
}

// ValidatePayload checks one inbound beacon against all ingestion
// constraints. It returns the first named failure encountered, in a fixed
// order: project ID, kind, kind-specific fields, metadata.
func ValidatePayload(p *models.EventPayload) error {
	if p.PID == "" {
		return ErrMissingProjectID
	}

	kind := p.Kind
	if kind == "" {
		kind = models.KindPageview
	}
	if !kind.Valid() {
		return ErrInvalidKind
	}

	switch kind {
	case models.KindCustom:
		if err := ValidateEventName(p.EV); err != nil {
			return err
		}
	case models.KindError:
		if p.Error == nil || p.Error.Name == "" {
			return ErrMissingErrorName
		}
	case models.KindPerformance:
		if p.Perf == nil {
			return ErrMissingTimings
		}
	}

	return ValidateMetadata(p.Meta)
}

// singleton validator instance for struct-shape checks
var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// GetValidator returns the singleton go-playground validator instance.
// The validator is thread-safe and caches struct metadata.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateStruct validates a struct's `validate` tags using the singleton
// validator. Returns nil on success or a human-readable error naming the
// first failed field.
func ValidateStruct(s interface{}) error {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", fe.Field())
	case "max":
		return fmt.Errorf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Errorf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
