package klaviyo

import (
	"encoding/json"
	"math"
	"strconv"
)

// The provider returns measurements in several encodings depending on the
// endpoint and query shape. Everything funnels through here so nothing
// downstream ever branches on payload shape.

// measurementValue reduces one measurement encoding to its sum:
// a bare number, a [sum, count, unique] list (index 0), or a
// {sum_value, count, unique} dict. String-encoded numerics are tolerated.
// Missing or unrecognized values become 0.
func measurementValue(v interface{}) float64 {
	switch val := v.(type) {
	case nil:
		return 0
	case float64:
		return val
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0
		}
		return f
	case []interface{}:
		if len(val) == 0 {
			return 0
		}
		return measurementValue(val[0])
	case map[string]interface{}:
		if sum, ok := val["sum_value"]; ok {
			return measurementValue(sum)
		}
		return 0
	default:
		return 0
	}
}

// numberSeries coerces a raw series into floats, tolerating nulls and
// string-encoded numerics.
func numberSeries(raw []interface{}) []float64 {
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = measurementValue(v)
	}
	return out
}

// ParseAggregate reduces a metric-aggregates response to canonical series.
// It accepts the per-interval, aggregated-single and grouped shapes. A
// structurally malformed payload yields an empty result and an error of
// kind ErrParseIncomplete; the caller attaches the diagnostic.
func ParseAggregate(body []byte) (AggregateResult, error) {
	empty := AggregateResult{Measurements: map[string][]float64{}}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return empty, newError(ErrParseIncomplete, 0, "aggregate envelope is not JSON", err)
	}

	var payload struct {
		Attributes struct {
			Dates []string        `json:"dates"`
			Data  json.RawMessage `json:"data"`
		} `json:"attributes"`
	}
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return empty, newError(ErrParseIncomplete, 0, "aggregate data has no attributes", err)
	}

	result := AggregateResult{
		Dates:        payload.Attributes.Dates,
		Measurements: map[string][]float64{},
	}
	if len(payload.Attributes.Data) == 0 {
		return result, nil
	}

	// Per-interval series: data is a flat array of numbers parallel to dates.
	var flat []interface{}
	if err := json.Unmarshal(payload.Attributes.Data, &flat); err != nil {
		return empty, newError(ErrParseIncomplete, 0, "aggregate data is not an array", err)
	}
	if len(flat) > 0 {
		if _, isObject := flat[0].(map[string]interface{}); !isObject {
			result.Measurements["sum_value"] = alignSeries(numberSeries(flat), len(result.Dates))
			return result, nil
		}
	}

	// Object rows: aggregated-single or grouped.
	var rows []struct {
		Groupings    map[string]interface{}            `json:"groupings"`
		Dimensions   []string                          `json:"dimensions"`
		Measurements map[string][]interface{}          `json:"measurements"`
	}
	if err := json.Unmarshal(payload.Attributes.Data, &rows); err != nil {
		return empty, newError(ErrParseIncomplete, 0, "aggregate rows are malformed", err)
	}

	for _, row := range rows {
		groupKey := groupingValue(row.Groupings, row.Dimensions)
		for name, raw := range row.Measurements {
			series := alignSeries(numberSeries(raw), len(result.Dates))
			if groupKey == "" {
				result.Measurements[name] = series
				continue
			}
			if result.Groups == nil {
				result.Groups = map[string]map[string][]float64{}
			}
			if result.Groups[groupKey] == nil {
				result.Groups[groupKey] = map[string][]float64{}
			}
			result.Groups[groupKey][name] = series
		}
	}
	return result, nil
}

// groupingValue extracts the grouping key of a row: the first grouping value
// when present, else the first dimension.
func groupingValue(groupings map[string]interface{}, dimensions []string) string {
	for _, v := range groupings {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if len(dimensions) > 0 {
		return dimensions[0]
	}
	return ""
}

// alignSeries pads or trims a series to the dates length so every
// measurement stays parallel. A zero dates length leaves the series as-is.
func alignSeries(series []float64, n int) []float64 {
	if n == 0 || len(series) == n {
		return series
	}
	if len(series) > n {
		return series[:n]
	}
	padded := make([]float64, n)
	copy(padded, series)
	return padded
}

// ReportRow is one grouped result from a values-report response.
type ReportRow struct {
	Groupings  map[string]string
	Statistics Statistics
}

// EntityID returns the row's primary grouping id. Message-level rows carry
// both a flow id and a message id; the flow id wins so merging stays keyed
// by flow.
func (r ReportRow) EntityID() string {
	for _, key := range []string{"flow_id", "campaign_id", "form_id", "segment_id"} {
		if id := r.Groupings[key]; id != "" {
			return id
		}
	}
	for _, v := range r.Groupings {
		if v != "" {
			return v
		}
	}
	return ""
}

// ParseReportRows parses a flow- or campaign-values-report response into
// canonical rows. Rates are normalized to percent and counts coerced to
// integers.
func ParseReportRows(body []byte) ([]ReportRow, error) {
	var envelope struct {
		Data struct {
			Attributes struct {
				Results []struct {
					Groupings  map[string]interface{} `json:"groupings"`
					Statistics map[string]interface{} `json:"statistics"`
				} `json:"results"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, newError(ErrParseIncomplete, 0, "report payload is malformed", err)
	}

	rows := make([]ReportRow, 0, len(envelope.Data.Attributes.Results))
	for _, res := range envelope.Data.Attributes.Results {
		groupings := make(map[string]string, len(res.Groupings))
		for k, v := range res.Groupings {
			if s, ok := v.(string); ok {
				groupings[k] = s
			}
		}
		rows = append(rows, ReportRow{
			Groupings:  groupings,
			Statistics: parseStatistics(res.Statistics),
		})
	}
	return rows, nil
}

// parseStatistics converts a raw statistics map to the canonical record.
func parseStatistics(raw map[string]interface{}) Statistics {
	s := Statistics{
		Recipients:      asCount(raw["recipients"]),
		Opens:           asCount(raw["opens"]),
		Clicks:          asCount(raw["clicks"]),
		Conversions:     asCount(raw["conversions"]),
		ConversionValue: measurementValue(raw["conversion_value"]),
		OpenRate:        canonicalRate(raw["open_rate"]),
		ClickRate:       canonicalRate(raw["click_rate"]),
		ConversionRate:  canonicalRate(raw["conversion_rate"]),
		BounceRate:      canonicalRate(raw["bounce_rate"]),
		UnsubscribeRate: canonicalRate(raw["unsubscribe_rate"]),
		SpamRate:        canonicalRate(raw["spam_complaint_rate"]),
	}
	if s.Opens == 0 {
		s.Opens = asCount(raw["opens_unique"])
	}
	if s.Clicks == 0 {
		s.Clicks = asCount(raw["clicks_unique"])
	}
	return s
}

// canonicalRate normalizes a rate to percent: values in [0, 1] are decimals
// and scale by 100; anything above 1 is already percent and passes through.
func canonicalRate(v interface{}) float64 {
	f := measurementValue(v)
	if f <= 1 {
		return f * 100
	}
	return f
}

// asCount coerces a measurement to an integer count.
func asCount(v interface{}) int64 {
	return int64(math.Round(measurementValue(v)))
}
