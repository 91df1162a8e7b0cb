package klaviyo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andzen/prospect-audit/internal/dates"
	"github.com/andzen/prospect-audit/internal/ratelimit"
)

func TestFormType(t *testing.T) {
	assert.Equal(t, FormPopup, formType("popup"))
	assert.Equal(t, FormFlyout, formType("FLYOUT"))
	assert.Equal(t, FormEmbed, formType("embedded"))
	assert.Equal(t, FormFullPage, formType("full_page"))
	assert.Equal(t, FormOther, formType("banner"))
}

func TestFormStanding(t *testing.T) {
	cases := []struct {
		impressions int64
		rate        float64
		expected    FormStanding
	}{
		{0, 0, StandingNone},
		{1000, 6.0, StandingExcellent},
		{1000, 5.0, StandingExcellent},
		{1000, 3.5, StandingGood},
		{1000, 2.0, StandingAverage},
		{1000, 1.0, StandingPoor},
	}
	for _, tc := range cases {
		got := formStanding(FormSummary{Impressions: tc.impressions, SubmitRate: tc.rate})
		assert.Equal(t, tc.expected, got, "impressions=%d rate=%.1f", tc.impressions, tc.rate)
	}
}

func TestGetFormPerformance(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data": [%s, %s]}`,
			metricJSON("MV", "Viewed Form", "klaviyo"),
			metricJSON("MS", "Submitted Form", "klaviyo"))
	})
	mux.HandleFunc("/metric-aggregates/", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Data struct {
				Attributes struct {
					MetricID string   `json:"metric_id"`
					Filter   []string `json:"filter"`
				} `json:"attributes"`
			} `json:"data"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Len(t, payload.Data.Attributes.Filter, 3)

		series := "[12, 8]"
		if payload.Data.Attributes.MetricID == "MV" {
			series = "[1500, 500]"
		}
		fmt.Fprintf(w, `{"data": {"attributes": {
			"dates": ["2026-03-01", "2026-03-02"],
			"data": [{"measurements": {"count": %s}}]
		}}}`, series)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, _ := newTestClient(srv, ratelimit.TierXL)
	metrics := NewMetricsService(client)
	aggregates := NewMetricAggregatesService(client)
	service := NewFormsService(client, metrics, aggregates)

	window := dates.Window{
		Start:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Timezone: "UTC",
		Days:     31,
	}
	forms, err := service.GetFormPerformance(context.Background(),
		[]FormSummary{{ID: "FRM1", Name: "Newsletter Popup", Type: FormPopup}}, window)
	require.NoError(t, err)
	require.Len(t, forms, 1)

	assert.Equal(t, int64(2000), forms[0].Impressions)
	assert.Equal(t, int64(20), forms[0].Submissions)
	assert.InDelta(t, 1.0, forms[0].SubmitRate, 1e-9)
	assert.Equal(t, StandingPoor, forms[0].Standing)
}

func TestGetFormPerformanceMetricsMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": []}`)
	}))
	defer srv.Close()

	client, _ := newTestClient(srv, ratelimit.TierXL)
	service := NewFormsService(client, NewMetricsService(client), NewMetricAggregatesService(client))

	forms, err := service.GetFormPerformance(context.Background(),
		[]FormSummary{{ID: "FRM1"}}, dates.Window{Timezone: "UTC"})
	require.NoError(t, err)
	require.Len(t, forms, 1)
	assert.Zero(t, forms[0].Impressions)
	assert.Equal(t, StandingNone, forms[0].Standing)
}
