// Package dates resolves timezone-aware reporting windows in the canonical
// form the provider accepts.
package dates

import (
	"fmt"
	"strings"
	"time"
)

// canonicalLayout is the fixed ISO-8601 profile used on the wire: no
// sub-second precision, single Z suffix.
const canonicalLayout = "2006-01-02T15:04:05Z"

// listGrowthMaxMonths caps list-growth windows; the reporting endpoint is
// unreliable beyond six months.
const listGrowthMaxMonths = 6

// Window is a resolved reporting period. Start < End; canonical strings are
// always UTC.
type Window struct {
	Start    time.Time
	End      time.Time
	Timezone string
	Days     int
}

// StartString returns the canonical wire form of the window start.
func (w Window) StartString() string { return w.Start.UTC().Format(canonicalLayout) }

// EndString returns the canonical wire form of the window end.
func (w Window) EndString() string { return w.End.UTC().Format(canonicalLayout) }

// Resolver computes provider-compatible windows. The zero value uses
// time.Now; tests substitute Now.
type Resolver struct {
	Now func() time.Time
}

func (r Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// WindowForDays returns a window whose end is now and whose start is
// days earlier at 00:00:00 UTC. When the account timezone differs from UTC
// the range is extended by one day on each side to absorb timezone skew.
func (r Resolver) WindowForDays(days int, timezone string) (Window, error) {
	if days <= 0 {
		return Window{}, fmt.Errorf("window days must be positive, got %d", days)
	}
	end := r.now()
	start := end.AddDate(0, 0, -days).Truncate(24 * time.Hour)

	if timezone != "" && timezone != "UTC" {
		start = start.AddDate(0, 0, -1)
		end = end.AddDate(0, 0, 1)
	}
	end = r.clampEnd(end)

	return Window{Start: start, End: end, Timezone: timezone, Days: days}, nil
}

// WindowForMonths returns a window ending now and starting the given number
// of calendar months earlier. forListGrowth caps the span at six months.
func (r Resolver) WindowForMonths(months int, timezone string, forListGrowth bool) (Window, error) {
	if months <= 0 {
		return Window{}, fmt.Errorf("window months must be positive, got %d", months)
	}
	if forListGrowth && months > listGrowthMaxMonths {
		months = listGrowthMaxMonths
	}
	end := r.now()
	start := end.AddDate(0, -months, 0).Truncate(24 * time.Hour)
	return Window{
		Start:    start,
		End:      r.clampEnd(end),
		Timezone: timezone,
		Days:     int(end.Sub(start).Hours() / 24),
	}, nil
}

// WindowFromBounds builds a window from explicit ISO bounds.
func (r Resolver) WindowFromBounds(start, end, timezone string) (Window, error) {
	s, err := ParseISO(start)
	if err != nil {
		return Window{}, fmt.Errorf("parsing window start: %w", err)
	}
	e, err := ParseISO(end)
	if err != nil {
		return Window{}, fmt.Errorf("parsing window end: %w", err)
	}
	if !s.Before(e) {
		return Window{}, fmt.Errorf("window start %s is not before end %s", start, end)
	}
	if e.After(r.now().AddDate(0, 0, 1)) {
		return Window{}, fmt.Errorf("window end %s is more than one day in the future", end)
	}
	return Window{
		Start:    s,
		End:      e,
		Timezone: timezone,
		Days:     int(e.Sub(s).Hours() / 24),
	}, nil
}

// PreviousPeriod returns the days-long window ending just before w.Start.
func PreviousPeriod(w Window, days int) Window {
	if days <= 0 {
		days = w.Days
	}
	end := w.Start.AddDate(0, 0, -1)
	start := w.Start.AddDate(0, 0, -days)
	return Window{Start: start, End: end, Timezone: w.Timezone, Days: days}
}

// clampEnd keeps the window end within now + one day.
func (r Resolver) clampEnd(end time.Time) time.Time {
	max := r.now().AddDate(0, 0, 1)
	if end.After(max) {
		return max
	}
	return end
}

// EnsureCanonical normalizes an ISO string to the fixed profile: single Z
// suffix, no microseconds, no "+00:00". Idempotent; a double-suffixed string
// is repaired. Strings that do not parse are returned unchanged.
func EnsureCanonical(s string) string {
	t, err := ParseISO(s)
	if err != nil {
		return s
	}
	return t.UTC().Format(canonicalLayout)
}

// ParseISO parses an ISO-8601 timestamp tolerantly: Z or +00:00 suffixes,
// fractional seconds, naive forms (treated as UTC), and the repaired
// double-suffix form the provider occasionally hands back.
func ParseISO(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	// Repair double timezone suffixes like "…+00:00+00:00" or "…Z+00:00".
	for strings.HasSuffix(s, "+00:00") && (strings.HasSuffix(strings.TrimSuffix(s, "+00:00"), "+00:00") ||
		strings.HasSuffix(strings.TrimSuffix(s, "+00:00"), "Z")) {
		s = strings.TrimSuffix(s, "+00:00")
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05.999999",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
