package attribution

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andzen/prospect-audit/internal/dates"
	"github.com/andzen/prospect-audit/internal/diagnostics"
	"github.com/andzen/prospect-audit/internal/klaviyo"
	"github.com/andzen/prospect-audit/internal/ratelimit"
)

// fixture is a fake provider: metric catalog, a per-interval revenue series
// and fixed channel revenues served through the reporting endpoints.
type fixture struct {
	revenue  []float64
	orders   []float64
	flowRev  float64
	campRev  float64
	metrics  []map[string]interface{}
	requests map[string]int
}

func defaultMetrics() []map[string]interface{} {
	return []map[string]interface{}{
		{"type": "metric", "id": "M1", "attributes": map[string]interface{}{
			"name": "Ordered Product", "integration": map[string]interface{}{"key": "shopify"},
		}},
		{"type": "metric", "id": "M2", "attributes": map[string]interface{}{
			"name": "Placed Order", "integration": map[string]interface{}{"key": "shopify"},
		}},
	}
}

func (f *fixture) server(t *testing.T) *httptest.Server {
	t.Helper()
	f.requests = map[string]int{}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics/", func(w http.ResponseWriter, r *http.Request) {
		f.requests["metrics"]++
		writeJSON(t, w, map[string]interface{}{"data": f.metrics})
	})
	mux.HandleFunc("/metric-aggregates/", func(w http.ResponseWriter, r *http.Request) {
		f.requests["aggregates"]++
		datesList := make([]string, len(f.revenue))
		for i := range datesList {
			datesList[i] = fmt.Sprintf("2026-03-%02dT00:00:00+00:00", i+1)
		}
		writeJSON(t, w, map[string]interface{}{
			"data": map[string]interface{}{
				"type": "metric-aggregate",
				"attributes": map[string]interface{}{
					"dates": datesList,
					"data": []map[string]interface{}{
						{"measurements": map[string]interface{}{
							"sum_value": f.revenue,
							"count":     f.orders,
						}},
					},
				},
			},
		})
	})
	mux.HandleFunc("/flow-values-reports/", func(w http.ResponseWriter, r *http.Request) {
		f.requests["flow_reports"]++
		writeJSON(t, w, reportBody("flow_id", "F1", f.flowRev))
	})
	mux.HandleFunc("/campaign-values-reports/", func(w http.ResponseWriter, r *http.Request) {
		f.requests["campaign_reports"]++
		writeJSON(t, w, reportBody("campaign_id", "C1", f.campRev))
	})
	mux.HandleFunc("/campaigns/", func(w http.ResponseWriter, r *http.Request) {
		f.requests["campaigns"]++
		writeJSON(t, w, map[string]interface{}{
			"data": []map[string]interface{}{
				{"type": "campaign", "id": "C1", "attributes": map[string]interface{}{
					"name": "March Promo", "created_at": "2026-03-05T10:00:00+00:00",
				}},
			},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func reportBody(idField, id string, revenue float64) map[string]interface{} {
	return map[string]interface{}{
		"data": map[string]interface{}{
			"type": "report",
			"attributes": map[string]interface{}{
				"results": []map[string]interface{}{
					{
						"groupings": map[string]interface{}{idField: id},
						"statistics": map[string]interface{}{
							"recipients":       1000,
							"conversions":      40,
							"conversion_value": revenue,
						},
					},
				},
			},
		},
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/vnd.api+json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func newAggregator(srv *httptest.Server) *Aggregator {
	client := klaviyo.NewClient(klaviyo.Config{
		APIKey:  "pk_test",
		BaseURL: srv.URL,
		Tier:    ratelimit.TierXL,
	})
	metrics := klaviyo.NewMetricsService(client)
	return NewAggregator(
		metrics,
		klaviyo.NewMetricAggregatesService(client),
		klaviyo.NewFlowStatisticsService(client, metrics, nil),
		klaviyo.NewCampaignsService(client),
		klaviyo.NewCampaignStatisticsService(client, metrics),
	)
}

func testWindow(t *testing.T) dates.Window {
	t.Helper()
	r := dates.Resolver{Now: func() time.Time {
		return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	}}
	w, err := r.WindowForDays(30, "UTC")
	require.NoError(t, err)
	return w
}

func TestAggregateHealthyAccount(t *testing.T) {
	f := &fixture{
		revenue: []float64{400, 300, 300},
		orders:  []float64{4, 3, 3},
		flowRev: 200,
		campRev: 100,
		metrics: defaultMetrics(),
	}
	agg := newAggregator(f.server(t))

	result, err := agg.Aggregate(context.Background(), Input{
		Window:      testWindow(t),
		FlowIDs:     []string{"F1"},
		CampaignIDs: []string{"C1"},
		Currency:    "USD",
	})
	require.NoError(t, err)

	snap := result.Snapshot
	assert.Equal(t, 1000.0, snap.TotalRevenue)
	assert.Equal(t, 200.0, snap.FlowRevenue)
	assert.Equal(t, 100.0, snap.CampaignRevenue)
	assert.Equal(t, 300.0, snap.AttributedRevenue)
	assert.Equal(t, 300.0, snap.AttributedDisplay)
	assert.InDelta(t, 30.0, snap.AttributedPercentage, 1e-9)
	assert.InDelta(t, 20.0, snap.FlowShare, 1e-9)
	assert.InDelta(t, 10.0, snap.CampaignShare, 1e-9)
	assert.Equal(t, int64(10), snap.Orders)
	assert.Empty(t, result.Diagnostics)

	require.Len(t, result.Series, 3)
	assertSeriesIdentity(t, result.Series)
	assert.InDelta(t, 400*0.2, result.Series[0].FlowRevenue, 1e-9)
	assert.InDelta(t, 400*0.1, result.Series[0].CampaignRevenue, 1e-9)
	assert.InDelta(t, 280.0, result.Series[0].UnattributedRevenue, 1e-9)
}

func TestAggregateOverAttribution(t *testing.T) {
	// Flow 700 + campaign 500 exceeds the 1000 total: the raw figure is
	// surfaced, the display figure clamps and an anomaly is recorded.
	f := &fixture{
		revenue: []float64{400, 300, 300},
		orders:  []float64{4, 3, 3},
		flowRev: 700,
		campRev: 500,
		metrics: defaultMetrics(),
	}
	agg := newAggregator(f.server(t))

	result, err := agg.Aggregate(context.Background(), Input{
		Window:      testWindow(t),
		FlowIDs:     []string{"F1"},
		CampaignIDs: []string{"C1"},
	})
	require.NoError(t, err)

	snap := result.Snapshot
	assert.Equal(t, 1200.0, snap.AttributedRevenue)
	assert.Equal(t, 1000.0, snap.AttributedDisplay)
	assert.InDelta(t, 100.0, snap.AttributedPercentage, 1e-9)

	var anomaly bool
	for _, d := range result.Diagnostics {
		if d.Kind == diagnostics.KindDataAnomaly {
			anomaly = true
		}
	}
	assert.True(t, anomaly)

	// The per-point identity survives clamping: unattributed collapses to 0.
	assertSeriesIdentity(t, result.Series)
	for _, p := range result.Series {
		assert.InDelta(t, 0, p.UnattributedRevenue, 1e-6)
	}
}

func TestAggregateFetchesCampaignsWhenIDsAbsent(t *testing.T) {
	f := &fixture{
		revenue: []float64{500, 500},
		orders:  []float64{5, 5},
		flowRev: 100,
		campRev: 150,
		metrics: defaultMetrics(),
	}
	agg := newAggregator(f.server(t))

	result, err := agg.Aggregate(context.Background(), Input{
		Window:  testWindow(t),
		FlowIDs: []string{"F1"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, f.requests["campaigns"])
	assert.Equal(t, 150.0, result.Snapshot.CampaignRevenue)
}

func TestAggregatePreviousPeriodComparison(t *testing.T) {
	f := &fixture{
		revenue: []float64{400, 300, 300},
		orders:  []float64{4, 3, 3},
		flowRev: 100,
		campRev: 100,
		metrics: defaultMetrics(),
	}
	agg := newAggregator(f.server(t))

	result, err := agg.Aggregate(context.Background(), Input{
		Window:      testWindow(t),
		FlowIDs:     []string{"F1"},
		CampaignIDs: []string{"C1"},
	})
	require.NoError(t, err)

	// The fake serves the same series for both periods.
	assert.True(t, result.Comparison.HasPrevious)
	assert.Equal(t, 1000.0, result.Comparison.PreviousTotal)
	assert.InDelta(t, 0.0, result.Comparison.ChangePercent, 1e-9)
	assert.Equal(t, 2, f.requests["aggregates"])
}

func TestAggregateMissingConversionMetric(t *testing.T) {
	f := &fixture{
		revenue: []float64{100},
		metrics: []map[string]interface{}{
			{"type": "metric", "id": "M9", "attributes": map[string]interface{}{
				"name": "Viewed Page", "integration": map[string]interface{}{"key": "api"},
			}},
		},
	}
	agg := newAggregator(f.server(t))

	_, err := agg.Aggregate(context.Background(), Input{
		Window:  testWindow(t),
		FlowIDs: []string{"F1"},
	})
	require.Error(t, err)
	assert.True(t, klaviyo.IsKind(err, klaviyo.ErrMissingConversionMetric))
}

func assertSeriesIdentity(t *testing.T, series []TimeSeriesPoint) {
	t.Helper()
	for _, p := range series {
		sum := p.FlowRevenue + p.CampaignRevenue + p.UnattributedRevenue
		tolerance := 1e-6 * math.Max(1, p.TotalRevenue)
		assert.LessOrEqual(t, math.Abs(p.TotalRevenue-sum), tolerance)
	}
}
