package model

import (
	"strings"
	"time"
)

// NeverScanned is the last_scan value of a domain that has been observed as a
// link target but never fetched. Readers of the graph treat domains carrying
// this timestamp as not yet verified.
var NeverScanned = time.Date(1986, time.February, 2, 0, 0, 1, 0, time.UTC)

// DefaultInfo is the info text of a domain nothing is known about yet.
const DefaultInfo = "none"

// Domain is one row of the onions table.
type Domain struct {
	// ID is the numeric identity assigned by the store.
	ID int64 `json:"id"`

	// Name is the canonical authority (lower-case, no scheme or path).
	Name string `json:"domain"`

	// Online is the reachability observed by the last scan.
	Online bool `json:"online"`

	// LastScan is the time of the last successful scan, or NeverScanned.
	LastScan time.Time `json:"last_scan"`

	// Info is free-form text about the domain.
	Info string `json:"info"`
}

// Scanned reports whether the domain has ever been fetched successfully.
func (d *Domain) Scanned() bool {
	return !d.LastScan.IsZero() && !d.LastScan.Equal(NeverScanned)
}

// CanonicalDomain lower-cases an authority and strips a trailing root dot so
// that two spellings of the same host map to the same onions row.
func CanonicalDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	return strings.TrimSuffix(domain, ".")
}
