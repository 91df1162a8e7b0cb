package klaviyo

import (
	"fmt"
	"strings"
)

// maxIDsPerFilter is the reporting API's ceiling for contains-any filters.
// Callers must chunk larger id sets before building a filter.
const maxIDsPerFilter = 100

// DatetimeBounds returns the filter array the metric-aggregates endpoint
// requires: an inclusive lower and exclusive upper datetime bound.
func DatetimeBounds(start, end string) []string {
	return []string{
		fmt.Sprintf("greater-or-equal(datetime,%s)", start),
		fmt.Sprintf("less-than(datetime,%s)", end),
	}
}

// Equals builds a single-value equality filter, e.g.
// equals(messages.channel,"email").
func Equals(field, value string) string {
	return fmt.Sprintf("equals(%s,%q)", field, value)
}

// ContainsAny builds a multi-id containment filter. A single id collapses to
// an equality filter. Sets beyond the reporting cap are truncated to the
// first 100 ids.
func ContainsAny(field string, ids []string) string {
	if len(ids) == 1 {
		return Equals(field, ids[0])
	}
	if len(ids) > maxIDsPerFilter {
		ids = ids[:maxIDsPerFilter]
	}
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = fmt.Sprintf("%q", id)
	}
	return fmt.Sprintf("contains-any(%s,[%s])", field, strings.Join(quoted, ","))
}

// And combines filter conditions. One condition passes through unchanged.
func And(filters ...string) string {
	nonEmpty := filters[:0]
	for _, f := range filters {
		if f != "" {
			nonEmpty = append(nonEmpty, f)
		}
	}
	switch len(nonEmpty) {
	case 0:
		return ""
	case 1:
		return nonEmpty[0]
	default:
		return fmt.Sprintf("and(%s)", strings.Join(nonEmpty, ","))
	}
}

// GreaterThan builds a strict datetime lower-bound filter for campaign
// listings.
func GreaterThan(field, value string) string {
	return fmt.Sprintf("greater-than(%s,%s)", field, value)
}
