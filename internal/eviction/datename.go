package eviction

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the layout of the date token that prefixes every archive name.
const DateLayout = "2006-01-02"

var (
	// ErrNoSeparator is returned when a filename has no "_" after its date token.
	ErrNoSeparator = errors.New("missing date separator")

	// ErrInvalidDate is returned when the date token is not a valid YYYY-MM-DD date.
	ErrInvalidDate = errors.New("invalid date prefix")
)

// ParseDatePrefix extracts the calendar date encoded before the first "_" of name.
//
// The returned time is midnight UTC of that date; only the date is meaningful.
func ParseDatePrefix(name string) (time.Time, error) {
	prefix, _, found := strings.Cut(name, "_")
	if !found {
		return time.Time{}, fmt.Errorf("%w: %q", ErrNoSeparator, name)
	}
	date, err := time.Parse(DateLayout, prefix)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrInvalidDate, name, err)
	}
	return date, nil
}
