package klaviyo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andzen/prospect-audit/internal/ratelimit"
)

func metricJSON(id, name, integration string) string {
	return fmt.Sprintf(`{
		"type": "metric",
		"id": %q,
		"attributes": {"name": %q, "integration": {"key": %q}}
	}`, id, name, integration)
}

func TestGetMetricsFollowsCursorLinks(t *testing.T) {
	requests := 0
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.URL.Query().Get("page[cursor]") == "" {
			fmt.Fprintf(w, `{
				"data": [%s],
				"links": {"next": "%s/api/metrics/?page[cursor]=abc"}
			}`, metricJSON("M1", "Placed Order", "shopify"), srv.URL)
			return
		}
		fmt.Fprintf(w, `{"data": [%s], "links": {}}`, metricJSON("M2", "Active on Site", "api"))
	}))
	defer srv.Close()

	client, _ := newTestClient(srv, ratelimit.TierXL)
	service := NewMetricsService(client)

	metrics, err := service.GetMetrics(context.Background())
	require.NoError(t, err)
	require.Len(t, metrics, 2)
	assert.Equal(t, "M1", metrics[0].ID)
	assert.Equal(t, "M2", metrics[1].ID)
	assert.Equal(t, 2, requests)

	// Second call serves the memoized listing.
	_, err = service.GetMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, requests)
}

func newMetricsService(t *testing.T, metricsBody string) *MetricsService {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, metricsBody)
	}))
	t.Cleanup(srv.Close)
	client, _ := newTestClient(srv, ratelimit.TierXL)
	return NewMetricsService(client)
}

func TestGetMetricByNamePrefersIntegration(t *testing.T) {
	service := newMetricsService(t, fmt.Sprintf(`{"data": [%s, %s]}`,
		metricJSON("M1", "Placed Order", "api"),
		metricJSON("M2", "Placed Order", "shopify")))

	ref, ok, err := service.GetMetricByName(context.Background(), "Placed Order", EcommerceIntegration)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "M2", ref.ID)
}

func TestGetMetricByNameAmbiguousFallsBackToFirst(t *testing.T) {
	service := newMetricsService(t, fmt.Sprintf(`{"data": [%s, %s]}`,
		metricJSON("M1", "Placed Order", "api"),
		metricJSON("M2", "Placed Order", "segment")))

	ref, ok, err := service.GetMetricByName(context.Background(), "Placed Order", EcommerceIntegration)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "M1", ref.ID)
}

func TestGetMetricByNameAbsent(t *testing.T) {
	service := newMetricsService(t, `{"data": []}`)

	_, ok, err := service.GetMetricByName(context.Background(), "Placed Order", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveConversionMetricCandidateOrder(t *testing.T) {
	// No "Ordered Product": the next candidate down wins.
	service := newMetricsService(t, fmt.Sprintf(`{"data": [%s, %s]}`,
		metricJSON("M1", "Checkout", "shopify"),
		metricJSON("M2", "Placed Order", "shopify")))

	id, err := service.ResolveConversionMetric(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "M2", id)

	// Memoized on the second call.
	id, err = service.ResolveConversionMetric(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "M2", id)
}

func TestResolveConversionMetricPrefersOrderedProduct(t *testing.T) {
	service := newMetricsService(t, fmt.Sprintf(`{"data": [%s, %s]}`,
		metricJSON("M1", "Placed Order", "shopify"),
		metricJSON("M2", "Ordered Product", "shopify")))

	id, err := service.ResolveConversionMetric(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "M2", id)
}

func TestResolveConversionMetricMissing(t *testing.T) {
	service := newMetricsService(t, fmt.Sprintf(`{"data": [%s]}`,
		metricJSON("M1", "Active on Site", "api")))

	_, err := service.ResolveConversionMetric(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrMissingConversionMetric))
}
