// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

package api

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/sitelens/sitelens/internal/geo"
	"github.com/sitelens/sitelens/internal/logging"
	"github.com/sitelens/sitelens/internal/models"
)

// respondJSON sends a JSON response with proper headers.
func respondJSON(w http.ResponseWriter, status int, response *models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("write JSON response")
	}
}

// respondSuccess wraps data in the standard success envelope.
func respondSuccess(w http.ResponseWriter, status int, data interface{}) {
	respondJSON(w, status, &models.APIResponse{
		Status:   "success",
		Data:     data,
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
	})
}

// respondError sends an error response with a stable code and a message
// naming the violated constraint.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, &models.APIResponse{
		Status:   "error",
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
		Error: &models.APIError{
			Code:    code,
			Message: message,
		},
	})
}

// clientAddr resolves the request's source address. RealIP middleware has
// already folded X-Forwarded-For into RemoteAddr.
func clientAddr(r *http.Request) (netip.Addr, error) {
	addr, err := geo.NormalizeIP(r.RemoteAddr)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("resolve client address %q: %w", r.RemoteAddr, err)
	}
	return addr, nil
}

// sanitizeLogValue strips control characters so untrusted input cannot
// forge log lines.
func sanitizeLogValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			b.WriteString(fmt.Sprintf("\\x%02x", r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
