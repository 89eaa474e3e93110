// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

package models

// Geolocation holds the geographic attributes resolved from a client IP.
// Every field except IPVersion is individually nullable: a database miss
// (private ranges, unindexed ranges) yields the zero value with only
// IPVersion set, which is a normal outcome rather than an error.
type Geolocation struct {
	Country       *string  `json:"country"`
	CountryName   *string  `json:"countryName"`
	City          *string  `json:"city"`
	Region        *string  `json:"region"`
	RegionCode    *string  `json:"regionCode"`
	ContinentCode *string  `json:"continentCode"`
	ContinentName *string  `json:"continentName"`
	PostalCode    *string  `json:"postalCode"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
	Timezone      *string  `json:"timezone"`
	IsInEU        *bool    `json:"isInEuropeanUnion"`

	// IPVersion is 4 or 6, derived from the (validated) lookup address.
	IPVersion uint8 `json:"ipVersion"`
}

// Empty reports whether the lookup produced no geographic attributes.
func (g *Geolocation) Empty() bool {
	return g.Country == nil && g.City == nil && g.Latitude == nil &&
		g.Timezone == nil && g.ContinentCode == nil
}

// IPLookupResult is the response body of the public IP lookup endpoint:
// the resolved IP plus its geolocation attributes.
type IPLookupResult struct {
	IP string `json:"ip"`
	Geolocation
}
