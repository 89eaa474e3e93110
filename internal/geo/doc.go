// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

// Package geo resolves client IP addresses to geographic attributes using a
// local MaxMind-format (mmdb) city database, without any outbound network
// call on the request path.
//
// The database file is downloaded and replaced atomically by an out-of-band
// sync job. The enricher holds the open reader behind an atomic pointer:
// Reload opens the new file first and swaps the handle, so in-flight lookups
// always see either the old or the new database, never a torn read.
//
// A lookup miss (private ranges, not-yet-indexed ranges) yields an all-null
// geolocation, which is a normal outcome rather than an error.
package geo
