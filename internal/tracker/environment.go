// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

package tracker

import (
	"net/url"
	"strings"
)

// Environment captures the page context signals sampled once at session
// start and reused for every beacon in the tab's lifetime.
type Environment struct {
	Locale   string
	Timezone string
	Referrer string

	UTMSource   string
	UTMMedium   string
	UTMCampaign string
	UTMTerm     string
	UTMContent  string

	// DoNotTrack mirrors the browser's DNT signal.
	DoNotTrack bool

	// Automated marks headless or webdriver-controlled sessions.
	Automated bool
}

// ProbeEnvironment builds an Environment from the landing URL and raw
// browser signals. UTM parameters are parsed once here; they stay fixed
// even as the page path changes during SPA navigation.
func ProbeEnvironment(landingURL, referrer, locale, timezone string, doNotTrack, automated bool) Environment {
	env := Environment{
		Locale:     strings.TrimSpace(locale),
		Timezone:   strings.TrimSpace(timezone),
		Referrer:   strings.TrimSpace(referrer),
		DoNotTrack: doNotTrack,
		Automated:  automated,
	}

	if landingURL == "" {
		return env
	}
	u, err := url.Parse(landingURL)
	if err != nil {
		return env
	}

	q := u.Query()
	env.UTMSource = q.Get("utm_source")
	env.UTMMedium = q.Get("utm_medium")
	env.UTMCampaign = q.Get("utm_campaign")
	env.UTMTerm = q.Get("utm_term")
	env.UTMContent = q.Get("utm_content")
	return env
}
