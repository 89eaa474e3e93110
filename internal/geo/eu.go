// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

package geo

// euMemberStates is the fallback EU membership set, keyed by ISO 3166-1
// alpha-2 code. The database's own is_in_european_union attribute is
// authoritative when present; this set is only consulted when the record
// carries a country code but the attribute is unset (older database
// builds). Review on EU accession changes.
var euMemberStates = map[string]bool{
	"AT": true, "BE": true, "BG": true, "HR": true, "CY": true,
	"CZ": true, "DK": true, "EE": true, "FI": true, "FR": true,
	"DE": true, "GR": true, "HU": true, "IE": true, "IT": true,
	"LV": true, "LT": true, "LU": true, "MT": true, "NL": true,
	"PL": true, "PT": true, "RO": true, "SK": true, "SI": true,
	"ES": true, "SE": true,
}

// isEUMember reports EU membership for a country code using the fallback set.
func isEUMember(countryCode string) bool {
	return euMemberStates[countryCode]
}
