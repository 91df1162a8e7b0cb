package klaviyo

import (
	"context"

	"github.com/andzen/prospect-audit/internal/pkg/logger"
)

// Interval is the aggregation granularity.
type Interval string

const (
	IntervalDay   Interval = "day"
	IntervalWeek  Interval = "week"
	IntervalMonth Interval = "month"
)

// AggregateQuery describes one metric-aggregates call. Start and End must be
// canonical wire strings; AdditionalFilter is optional (at most one extra
// filter is honored by the endpoint).
type AggregateQuery struct {
	MetricID         string
	Start            string
	End              string
	Measurements     []string
	Interval         Interval
	By               []string
	AdditionalFilter string
	Timezone         string
}

// MetricAggregatesService queries per-interval metric time series.
type MetricAggregatesService struct {
	client *Client
}

// NewMetricAggregatesService creates the service over the shared client.
func NewMetricAggregatesService(client *Client) *MetricAggregatesService {
	return &MetricAggregatesService{client: client}
}

// Query runs one aggregation. A 400 means the metric does not support
// aggregation at the requested granularity; it is never retried and yields
// an empty result so the caller can degrade and attach a diagnostic.
func (s *MetricAggregatesService) Query(ctx context.Context, q AggregateQuery) (AggregateResult, error) {
	if len(q.Measurements) == 0 {
		q.Measurements = []string{"sum_value"}
	}
	if q.Interval == "" {
		q.Interval = IntervalDay
	}
	if q.Timezone == "" {
		q.Timezone = "UTC"
	}

	filters := DatetimeBounds(q.Start, q.End)
	if q.AdditionalFilter != "" {
		filters = append(filters, q.AdditionalFilter)
	}

	attributes := map[string]interface{}{
		"metric_id":    q.MetricID,
		"measurements": q.Measurements,
		"interval":     string(q.Interval),
		"filter":       filters,
		"timezone":     q.Timezone,
	}
	if len(q.By) > 0 {
		attributes["by"] = q.By
	}
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"type":       "metric-aggregate",
			"attributes": attributes,
		},
	}

	body, err := s.client.Post(ctx, "/metric-aggregates/", payload, DefaultRetryPolicy())
	if err != nil {
		if IsKind(err, ErrBadRequest) {
			logger.Warn("klaviyo.aggregates", logger.EventDataQuality,
				"reason", "aggregation_unsupported", "metric_id", q.MetricID,
				"interval", string(q.Interval))
			return AggregateResult{Measurements: map[string][]float64{}},
				newError(ErrParseIncomplete, 400, "metric does not support this aggregation", err)
		}
		return AggregateResult{Measurements: map[string][]float64{}}, err
	}

	return ParseAggregate(body)
}
