// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

package geo

import (
	"errors"
	"net/netip"
	"strings"
)

// ErrInvalidIP reports input that is not a syntactically valid IPv4 or
// IPv6 address. Distinct from a lookup miss.
var ErrInvalidIP = errors.New("invalid IP address")

// NormalizeIP canonicalizes an IP literal for lookup:
//   - strips a trailing port and IPv6 brackets ("[::1]:443" -> "::1")
//   - unmaps IPv4-mapped IPv6 ("::ffff:127.0.0.1" -> "127.0.0.1")
//   - folds the IPv6 loopback to "127.0.0.1" so both loopback forms
//     resolve identically
//
// Returns the canonical address or ErrInvalidIP.
func NormalizeIP(raw string) (netip.Addr, error) {
	s := stripPort(strings.TrimSpace(raw))

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, ErrInvalidIP
	}

	addr = addr.Unmap()
	if addr == netip.IPv6Loopback() {
		addr = netip.AddrFrom4([4]byte{127, 0, 0, 1})
	}
	return addr, nil
}

// IPVersion returns 4 or 6 for a normalized address.
func IPVersion(addr netip.Addr) uint8 {
	if addr.Is4() {
		return 4
	}
	return 6
}

// stripPort removes a port suffix from host:port and [host]:port forms.
// Bare addresses pass through unchanged.
func stripPort(s string) string {
	if strings.HasPrefix(s, "[") {
		if idx := strings.LastIndex(s, "]:"); idx != -1 {
			return s[1:idx]
		}
		return strings.Trim(s, "[]")
	}

	// Only strip for host:port, not bare IPv6 (multiple colons).
	if strings.Count(s, ":") == 1 {
		if idx := strings.LastIndex(s, ":"); idx != -1 {
			return s[:idx]
		}
	}
	return s
}
