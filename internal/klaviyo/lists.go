package klaviyo

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/andzen/prospect-audit/internal/dates"
	"github.com/andzen/prospect-audit/internal/pkg/logger"
)

// ListsService fetches lists, profile counts and list growth.
type ListsService struct {
	client     *Client
	metrics    *MetricsService
	aggregates *MetricAggregatesService
	resolver   dates.Resolver
}

// NewListsService creates the service over the shared client. Growth series
// resolve their metrics through the given MetricsService.
func NewListsService(client *Client, metrics *MetricsService, aggregates *MetricAggregatesService) *ListsService {
	return &ListsService{client: client, metrics: metrics, aggregates: aggregates}
}

// GetLists returns every list, following cursor links until exhausted.
func (s *ListsService) GetLists(ctx context.Context) ([]ListSummary, error) {
	var lists []ListSummary
	page := func(body []byte) (string, error) {
		var envelope struct {
			Data []struct {
				ID         string `json:"id"`
				Attributes struct {
					Name string `json:"name"`
				} `json:"attributes"`
			} `json:"data"`
			Links struct {
				Next string `json:"next"`
			} `json:"links"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return "", newError(ErrParseIncomplete, 0, "decoding lists page", err)
		}
		for _, d := range envelope.Data {
			lists = append(lists, ListSummary{
				ID:       d.ID,
				Name:     d.Attributes.Name,
				Priority: ClassifyListPriority(d.Attributes.Name),
			})
		}
		return envelope.Links.Next, nil
	}
	if err := s.client.paginate(ctx, "/lists/", nil, page); err != nil {
		return nil, err
	}
	return lists, nil
}

// GetListProfileCount returns the member count of a list. The
// additional-fields form is preferred; a single-profile page read of
// meta.pagination.total is the fallback.
func (s *ListsService) GetListProfileCount(ctx context.Context, id string) (int, error) {
	query := url.Values{}
	query.Set("additional-fields[list]", "profile_count")

	var envelope struct {
		Data struct {
			Attributes struct {
				ProfileCount *int `json:"profile_count"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := s.client.Get(ctx, "/lists/"+id+"/", query, &envelope); err == nil &&
		envelope.Data.Attributes.ProfileCount != nil {
		return *envelope.Data.Attributes.ProfileCount, nil
	}

	// Fallback: one-profile page exposing the total in pagination meta.
	pq := url.Values{}
	pq.Set("page[size]", "1")
	var profiles struct {
		Meta struct {
			Pagination struct {
				Total int `json:"total"`
			} `json:"pagination"`
		} `json:"meta"`
	}
	if err := s.client.Get(ctx, "/lists/"+id+"/profiles/", pq, &profiles); err != nil {
		return 0, err
	}
	return profiles.Meta.Pagination.Total, nil
}

// ClassifyListPriority scores a list name for primary-list selection:
// subscribed members > cleaned members > any members list > other. Shopify
// collection mirrors are excluded entirely.
func ClassifyListPriority(name string) int {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "shopify collection"):
		return -1
	case strings.Contains(lower, "members") && strings.Contains(lower, "subscribed"):
		return 3
	case strings.Contains(lower, "members") && strings.Contains(lower, "cleaned"):
		return 2
	case strings.Contains(lower, "members"):
		return 1
	default:
		return 0
	}
}

// SelectPrimaryList picks the account's primary marketing list: the highest
// (priority, profile count) pair among non-excluded candidates, falling back
// to the first list with a nonzero count.
func (s *ListsService) SelectPrimaryList(ctx context.Context, lists []ListSummary) (ListSummary, bool) {
	var best ListSummary
	found := false
	for i := range lists {
		if lists[i].Priority < 0 {
			continue
		}
		count, err := s.GetListProfileCount(ctx, lists[i].ID)
		if err != nil {
			logger.Warn("klaviyo.lists", logger.EventDataQuality,
				"reason", "profile_count_unavailable", "list_id", lists[i].ID)
			continue
		}
		lists[i].ProfileCount = count
		if count == 0 {
			continue
		}
		if !found || lists[i].Priority > best.Priority ||
			(lists[i].Priority == best.Priority && count > best.ProfileCount) {
			best = lists[i]
			found = true
		}
	}
	if found {
		return best, true
	}
	// Last resort: the first list with a nonzero count, excluded ones included.
	for i := range lists {
		if lists[i].ProfileCount == 0 {
			if count, err := s.GetListProfileCount(ctx, lists[i].ID); err == nil {
				lists[i].ProfileCount = count
			}
		}
		if lists[i].ProfileCount > 0 {
			return lists[i], true
		}
	}
	return ListSummary{}, false
}

// GetListGrowth produces the subscription growth series for the given list,
// or the primary marketing list when listID is empty. Months is capped at
// six; the reporting endpoint is unreliable beyond that.
func (s *ListsService) GetListGrowth(ctx context.Context, listID string, months int, timezone string) (ListGrowth, error) {
	lists, err := s.GetLists(ctx)
	if err != nil {
		return ListGrowth{}, err
	}

	var target ListSummary
	if listID != "" {
		for _, l := range lists {
			if l.ID == listID {
				target = l
				break
			}
		}
		if target.ID == "" {
			return ListGrowth{}, newError(ErrValidation, 0, "list not found: "+listID, nil)
		}
	} else {
		picked, ok := s.SelectPrimaryList(ctx, lists)
		if !ok {
			return ListGrowth{}, newError(ErrValidation, 0, "no list with profiles to chart growth for", nil)
		}
		target = picked
	}

	window, err := s.resolver.WindowForMonths(months, timezone, true)
	if err != nil {
		return ListGrowth{}, err
	}

	growth := ListGrowth{ListID: target.ID, ListName: target.Name, Months: months}

	subscribed, err := s.querySubscriptionMetric(ctx, "Subscribed to List", target.ID, window, timezone)
	if err != nil {
		return growth, err
	}
	unsubscribed, _ := s.querySubscriptionMetric(ctx, "Unsubscribed from List", target.ID, window, timezone)

	for i, date := range subscribed.Dates {
		point := GrowthPoint{Date: dates.EnsureCanonical(date)}
		if series := subscribed.Measurements["count"]; i < len(series) {
			point.Subscribed = series[i]
		}
		if series := unsubscribed.Measurements["count"]; i < len(series) {
			point.Unsubscribed = series[i]
		}
		point.NetChange = point.Subscribed - point.Unsubscribed
		growth.Points = append(growth.Points, point)
	}
	return growth, nil
}

func (s *ListsService) querySubscriptionMetric(ctx context.Context, metricName, listID string, window dates.Window, timezone string) (AggregateResult, error) {
	ref, ok, err := s.metrics.GetMetricByName(ctx, metricName, "")
	if err != nil {
		return AggregateResult{}, err
	}
	if !ok {
		return AggregateResult{Measurements: map[string][]float64{}}, nil
	}
	return s.aggregates.Query(ctx, AggregateQuery{
		MetricID:         ref.ID,
		Start:            window.StartString(),
		End:              window.EndString(),
		Measurements:     []string{"count"},
		Interval:         IntervalMonth,
		AdditionalFilter: Equals("list_id", listID),
		Timezone:         timezone,
	})
}
