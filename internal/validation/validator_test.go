// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/sitelens/sitelens/internal/models"
)

func TestValidateEventName_Accepts(t *testing.T) {
	valid := []string{
		"a",
		"signup",
		"Signup",
		"page.view",
		"checkout_completed",
		"e1",
		"A" + strings.Repeat("b", 62), // 63 chars total
		"a.b.c_d9",
	}

	for _, name := range valid {
		if err := ValidateEventName(name); err != nil {
			t.Errorf("ValidateEventName(%q) = %v, want nil", name, err)
		}
	}
}

func TestValidateEventName_Rejects(t *testing.T) {
	invalid := []string{
		"",
		"1signup",                       // starts with a digit
		".leading",                      // starts with a dot
		"_leading",                      // starts with an underscore
		"has space",                     // disallowed character
		"has-dash",                      // disallowed character
		"emojié",                   // non-ASCII
		"A" + strings.Repeat("b", 63),   // 64 chars, one over the limit
		"a" + strings.Repeat("b", 1000), // far over the limit
	}

	for _, name := range invalid {
		err := ValidateEventName(name)
		if !errors.Is(err, ErrInvalidEventName) {
			t.Errorf("ValidateEventName(%q) = %v, want ErrInvalidEventName", name, err)
		}
	}
}

func TestValidateMetadata_Accepts(t *testing.T) {
	meta := make(map[string]interface{})
	for i := 0; i < MaxMetadataKeys; i++ {
		meta[strings.Repeat("k", i+1)] = strings.Repeat("v", 50)
	}

	if err := ValidateMetadata(meta); err != nil {
		t.Errorf("metadata at limits rejected: %v", err)
	}

	if err := ValidateMetadata(nil); err != nil {
		t.Errorf("nil metadata rejected: %v", err)
	}
}

func TestValidateMetadata_TooManyKeys(t *testing.T) {
	meta := make(map[string]interface{})
	for i := 0; i <= MaxMetadataKeys; i++ { // 21 keys
		meta[strings.Repeat("k", i+1)] = "v"
	}

	if err := ValidateMetadata(meta); !errors.Is(err, ErrMetadataTooManyKeys) {
		t.Errorf("expected ErrMetadataTooManyKeys, got %v", err)
	}
}

func TestValidateMetadata_TotalLength(t *testing.T) {
	// Exactly 1000 characters across two values: accepted.
	at := map[string]interface{}{
		"a": strings.Repeat("x", 500),
		"b": strings.Repeat("y", 500),
	}
	if err := ValidateMetadata(at); err != nil {
		t.Errorf("metadata at total length limit rejected: %v", err)
	}

	// 1001 characters: rejected with the length reason.
	over := map[string]interface{}{
		"a": strings.Repeat("x", 500),
		"b": strings.Repeat("y", 501),
	}
	if err := ValidateMetadata(over); !errors.Is(err, ErrMetadataValueTooLong) {
		t.Errorf("expected ErrMetadataValueTooLong, got %v", err)
	}
}

func TestValidateMetadata_LengthCountsCharactersNotBytes(t *testing.T) {
	// 1000 two-byte characters are exactly at the limit even though the
	// UTF-8 encoding is 2000 bytes.
	at := map[string]interface{}{"a": strings.Repeat("é", 1000)}
	if err := ValidateMetadata(at); err != nil {
		t.Errorf("1000 multi-byte characters rejected: %v", err)
	}

	over := map[string]interface{}{"a": strings.Repeat("é", 1001)}
	if err := ValidateMetadata(over); !errors.Is(err, ErrMetadataValueTooLong) {
		t.Errorf("expected ErrMetadataValueTooLong, got %v", err)
	}
}

func TestValidateMetadata_NonString(t *testing.T) {
	tests := []interface{}{
		42,
		3.14,
		true,
		nil,
		[]interface{}{"a"},
		map[string]interface{}{"nested": "x"},
	}

	for _, v := range tests {
		meta := map[string]interface{}{"key": v}
		if err := ValidateMetadata(meta); !errors.Is(err, ErrMetadataNonString) {
			t.Errorf("value %#v: expected ErrMetadataNonString, got %v", v, err)
		}
	}
}

func TestValidatePayload(t *testing.T) {
	pg := "/docs"

	tests := []struct {
		name    string
		payload models.EventPayload
		wantErr error
	}{
		{
			name:    "pageview ok",
			payload: models.EventPayload{PID: "abc123", PG: &pg},
			wantErr: nil,
		},
		{
			name:    "missing project id",
			payload: models.EventPayload{PG: &pg},
			wantErr: ErrMissingProjectID,
		},
		{
			name:    "custom without name",
			payload: models.EventPayload{PID: "abc123", Kind: models.KindCustom},
			wantErr: ErrInvalidEventName,
		},
		{
			name:    "custom with valid name",
			payload: models.EventPayload{PID: "abc123", Kind: models.KindCustom, EV: "signup"},
			wantErr: nil,
		},
		{
			name:    "unknown kind",
			payload: models.EventPayload{PID: "abc123", Kind: "clickstream"},
			wantErr: ErrInvalidKind,
		},
		{
			name:    "error without name",
			payload: models.EventPayload{PID: "abc123", Kind: models.KindError, Error: &models.ErrorDetails{}},
			wantErr: ErrMissingErrorName,
		},
		{
			name: "error with name",
			payload: models.EventPayload{
				PID: "abc123", Kind: models.KindError,
				Error: &models.ErrorDetails{Name: "TypeError"},
			},
			wantErr: nil,
		},
		{
			name:    "performance without timings",
			payload: models.EventPayload{PID: "abc123", Kind: models.KindPerformance},
			wantErr: ErrMissingTimings,
		},
		{
			name: "metadata failure surfaces",
			payload: models.EventPayload{
				PID:  "abc123",
				Meta: map[string]interface{}{"n": 1},
			},
			wantErr: ErrMetadataNonString,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePayload(&tt.payload)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidatePayload() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateStruct_Required(t *testing.T) {
	type req struct {
		PID string `validate:"required"`
	}

	if err := ValidateStruct(&req{PID: "x"}); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if err := ValidateStruct(&req{}); err == nil {
		t.Error("expected required-field error, got nil")
	}
}
