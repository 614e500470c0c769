package geostore

import (
	"time"

	"github.com/mbhillrn/peerwatch/pkg/addrutil"
)

// Status is the lookup state of a cached address.
type Status string

const (
	// StatusPending marks an address that has never completed a lookup.
	StatusPending Status = "PENDING"
	// StatusOK marks an address with resolved geolocation data. Terminal.
	StatusOK Status = "OK"
	// StatusPrivate marks overlay or non-routable addresses that can never
	// be geolocated. Terminal.
	StatusPrivate Status = "PRIVATE"
	// StatusUnavailable marks a failed lookup awaiting a scheduled retry.
	StatusUnavailable Status = "UNAVAILABLE"
)

// retryLadder holds the wait intervals between lookup retries, indexed by
// retry count and clamped at the last rung.
var retryLadder = [...]time.Duration{
	24 * time.Hour,
	72 * time.Hour,
	168 * time.Hour,
	168 * time.Hour,
}

// GeoRecord is the persistent cache row for one normalized address.
type GeoRecord struct {
	Address     string           `json:"address"`
	Network     addrutil.Network `json:"network"`
	Status      Status           `json:"status"`
	Country     string           `json:"country,omitempty"`
	CountryCode string           `json:"country_code,omitempty"`
	Region      string           `json:"region,omitempty"`
	City        string           `json:"city,omitempty"`
	Lat         float64          `json:"lat"`
	Lon         float64          `json:"lon"`
	ISP         string           `json:"isp,omitempty"`
	ASInfo      string           `json:"as_info,omitempty"`
	Hosting     bool             `json:"hosting"`
	ConnCount   int64            `json:"conn_count"`
	FirstSeen   time.Time        `json:"first_seen"`
	LastSeen    time.Time        `json:"last_seen"`
	LastLookup  time.Time        `json:"last_lookup"`
	RetryCount  int              `json:"retry_count"`
}

// LookupResult records that a provider attempt actually happened. Presence
// re-observations never carry one.
type LookupResult struct {
	OK bool
}

// Update is one atomic modification of a single record. Empty fields leave
// the stored value untouched; a stored non-empty field is never blanked.
type Update struct {
	Network     addrutil.Network
	Status      Status
	Country     string
	CountryCode string
	Region      string
	City        string
	ISP         string
	ASInfo      string
	Lat         *float64
	Lon         *float64
	Hosting     *bool

	// Lookup is set only when an external lookup was attempted.
	Lookup *LookupResult

	// ResetBackoff clears the retry state so the address becomes eligible
	// immediately. Used by forced re-lookups.
	ResetBackoff bool
}

func newRecord(addr string, now time.Time) GeoRecord {
	return GeoRecord{
		Address:   addr,
		Status:    StatusPending,
		FirstSeen: now,
	}
}

// apply merges an Update into the record. Called only from the store writer.
func (r *GeoRecord) apply(up Update, now time.Time) {
	if up.Network != "" && up.Network != addrutil.NetworkUnknown {
		r.Network = up.Network
	} else if r.Network == "" {
		r.Network = addrutil.NetworkUnknown
	}
	if up.Status != "" {
		r.Status = up.Status
	}
	if up.Country != "" {
		r.Country = up.Country
	}
	if up.CountryCode != "" {
		r.CountryCode = up.CountryCode
	}
	if up.Region != "" {
		r.Region = up.Region
	}
	if up.City != "" {
		r.City = up.City
	}
	if up.ISP != "" {
		r.ISP = up.ISP
	}
	if up.ASInfo != "" {
		r.ASInfo = up.ASInfo
	}
	if up.Lat != nil {
		r.Lat = *up.Lat
	}
	if up.Lon != nil {
		r.Lon = *up.Lon
	}
	if up.Hosting != nil {
		r.Hosting = *up.Hosting
	}

	r.LastSeen = now
	r.ConnCount++

	if up.Lookup != nil {
		r.LastLookup = now
		if up.Lookup.OK {
			r.RetryCount = 0
		} else {
			r.RetryCount++
		}
	}
	if up.ResetBackoff {
		r.RetryCount = 0
		r.LastLookup = time.Time{}
	}
}

// RetryDelay returns the wait interval before the next lookup attempt for a
// record that has failed count times. The ladder clamps at its last rung, so
// past the third failure the answer stays at seven days.
func RetryDelay(count int) time.Duration {
	if count < 0 {
		count = 0
	}
	if count >= len(retryLadder) {
		count = len(retryLadder) - 1
	}
	return retryLadder[count]
}

// ShouldRetry reports whether rec needs a lookup attempt at time now. OK and
// PRIVATE never retry. A record that has never been attempted is eligible
// immediately; UNAVAILABLE waits out the backoff ladder.
func ShouldRetry(rec GeoRecord, now time.Time) bool {
	switch rec.Status {
	case StatusOK, StatusPrivate:
		return false
	case StatusPending, StatusUnavailable:
		if rec.LastLookup.IsZero() {
			return true
		}
		return now.Sub(rec.LastLookup) >= RetryDelay(rec.RetryCount)
	default:
		return false
	}
}
