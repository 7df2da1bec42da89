package eviction

import (
	"strings"
	"time"
)

// DefaultMinEntries is the smallest listing size for which an eviction is proposed.
const DefaultMinEntries = 6

// Selector picks the archive to evict from a remote listing.
type Selector struct {
	// MinEntries is the eviction floor. Listings with fewer non-empty names
	// never produce a victim.
	MinEntries int
}

// NewSelector returns a Selector with the given floor, or DefaultMinEntries if minEntries <= 0.
func NewSelector(minEntries int) *Selector {
	if minEntries <= 0 {
		minEntries = DefaultMinEntries
	}
	return &Selector{MinEntries: minEntries}
}

// ParseListing splits the raw output of a directory listing command into names,
// dropping blank lines.
func ParseListing(raw string) []string {
	var names []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		names = append(names, line)
	}
	return names
}

// SelectOldest returns the name with the earliest date prefix.
//
// An empty string with a nil error means nothing should be evicted. Ties go to
// the first name in input order. A single malformed name fails the whole pass.
func (s *Selector) SelectOldest(names []string) (string, error) {
	candidates := make([]string, 0, len(names))
	for _, name := range names {
		if name != "" {
			candidates = append(candidates, name)
		}
	}

	if len(candidates) < s.MinEntries {
		return "", nil
	}

	var (
		oldest     string
		oldestDate time.Time
	)
	for i, name := range candidates {
		date, err := ParseDatePrefix(name)
		if err != nil {
			return "", err
		}
		if i == 0 || date.Before(oldestDate) {
			oldest = name
			oldestDate = date
		}
	}
	return oldest, nil
}

// SelectOldest runs a Selector with DefaultMinEntries over names.
func SelectOldest(names []string) (string, error) {
	return NewSelector(DefaultMinEntries).SelectOldest(names)
}
