package klaviyo

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"

	"github.com/andzen/prospect-audit/internal/pkg/logger"
)

// EcommerceIntegration is the integration key preferred when several
// metrics share a name.
const EcommerceIntegration = "shopify"

// conversionMetricCandidates is the ordered list of metric names tried when
// resolving the conversion metric the reporting endpoints require.
var conversionMetricCandidates = []string{
	"Ordered Product",
	"Placed Order",
	"Purchase",
	"Completed Order",
	"Order",
	"Checkout",
}

// MetricsService lists metrics and resolves them by name. The last-resolved
// conversion metric id is memoized for the run.
type MetricsService struct {
	client *Client

	mu           sync.Mutex
	metrics      []MetricRef
	conversionID string
}

// NewMetricsService creates a MetricsService over the shared client.
func NewMetricsService(client *Client) *MetricsService {
	return &MetricsService{client: client}
}

// GetMetrics returns all metrics in the account, following cursor links.
func (s *MetricsService) GetMetrics(ctx context.Context) ([]MetricRef, error) {
	s.mu.Lock()
	if s.metrics != nil {
		cached := s.metrics
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	var refs []MetricRef
	page := func(body []byte) (string, error) {
		var envelope struct {
			Data  []apiObject `json:"data"`
			Links struct {
				Next string `json:"next"`
			} `json:"links"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return "", newError(ErrParseIncomplete, 0, "decoding metrics page", err)
		}
		for _, obj := range envelope.Data {
			ref, err := decodeMetricRef(obj)
			if err != nil {
				continue
			}
			refs = append(refs, ref)
		}
		return envelope.Links.Next, nil
	}

	if err := s.client.paginate(ctx, "/metrics/", nil, page); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.metrics = refs
	s.mu.Unlock()
	return refs, nil
}

// GetMetricByName resolves a metric by exact name. When two or more share
// the name, the one whose integration key equals preferIntegration wins;
// otherwise the first match is returned.
func (s *MetricsService) GetMetricByName(ctx context.Context, name, preferIntegration string) (MetricRef, bool, error) {
	metrics, err := s.GetMetrics(ctx)
	if err != nil {
		return MetricRef{}, false, err
	}

	var matches []MetricRef
	for _, m := range metrics {
		if m.Name == name {
			matches = append(matches, m)
		}
	}
	switch len(matches) {
	case 0:
		return MetricRef{}, false, nil
	case 1:
		return matches[0], true, nil
	}

	if preferIntegration != "" {
		for _, m := range matches {
			if m.Integration == preferIntegration {
				return m, true, nil
			}
		}
	}
	logger.Warn("klaviyo.metrics", logger.EventDataQuality,
		"reason", "ambiguous_metric_name", "name", name, "matches", len(matches))
	return matches[0], true, nil
}

// ResolveConversionMetric walks the candidate list, preferring the
// e-commerce integration instance of each name. The resolved id is memoized.
// Returns ErrMissingConversionMetric when no candidate exists.
func (s *MetricsService) ResolveConversionMetric(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.conversionID != "" {
		id := s.conversionID
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	for _, name := range conversionMetricCandidates {
		ref, ok, err := s.GetMetricByName(ctx, name, EcommerceIntegration)
		if err != nil {
			return "", err
		}
		if ok {
			s.mu.Lock()
			s.conversionID = ref.ID
			s.mu.Unlock()
			return ref.ID, nil
		}
	}
	return "", newError(ErrMissingConversionMetric, 0, "no conversion metric among known candidates", nil)
}

// paginate walks cursor links until exhausted. page returns the next cursor
// URL (or "" to stop). Restartable by reissuing from the first cursor.
func (c *Client) paginate(ctx context.Context, path string, query url.Values, page func(body []byte) (string, error)) error {
	next := ""
	for {
		q := query
		if next != "" {
			parsed, err := url.Parse(strings.TrimPrefix(next, c.baseURL))
			if err != nil {
				return newError(ErrParseIncomplete, 0, "malformed pagination cursor", err)
			}
			// Cursor links are absolute; keep only the part below the API root.
			path = strings.TrimPrefix(parsed.Path, "/api")
			q = parsed.Query()
		}
		body, err := c.Request(ctx, "GET", path, q, nil, DefaultRetryPolicy())
		if err != nil {
			return err
		}
		next, err = page(body)
		if err != nil {
			return err
		}
		if next == "" {
			return nil
		}
	}
}
