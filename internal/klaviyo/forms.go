package klaviyo

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/andzen/prospect-audit/internal/dates"
)

// Metric names backing form performance. The aggregates endpoint is
// filtered per form id against these.
const (
	formViewMetric   = "Viewed Form"
	formSubmitMetric = "Submitted Form"
)

// FormsService fetches signup forms and computes their window performance.
type FormsService struct {
	client     *Client
	metrics    *MetricsService
	aggregates *MetricAggregatesService
}

// NewFormsService creates the service over the shared client.
func NewFormsService(client *Client, metrics *MetricsService, aggregates *MetricAggregatesService) *FormsService {
	return &FormsService{client: client, metrics: metrics, aggregates: aggregates}
}

// GetForms lists every signup form.
func (s *FormsService) GetForms(ctx context.Context) ([]FormSummary, error) {
	var forms []FormSummary
	page := func(body []byte) (string, error) {
		var envelope struct {
			Data []struct {
				ID         string `json:"id"`
				Attributes struct {
					Name     string `json:"name"`
					FormType string `json:"form_type"`
					Status   string `json:"status"`
				} `json:"attributes"`
			} `json:"data"`
			Links struct {
				Next string `json:"next"`
			} `json:"links"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return "", newError(ErrParseIncomplete, 0, "decoding forms page", err)
		}
		for _, d := range envelope.Data {
			forms = append(forms, FormSummary{
				ID:   d.ID,
				Name: d.Attributes.Name,
				Type: formType(d.Attributes.FormType),
			})
		}
		return envelope.Links.Next, nil
	}
	if err := s.client.paginate(ctx, "/forms/", nil, page); err != nil {
		return nil, err
	}
	return forms, nil
}

// GetFormPerformance fills impressions, submissions and submit rate for each
// form over the window by filtering the view/submit metrics per form id.
// Forms whose metrics cannot be queried keep zero counts.
func (s *FormsService) GetFormPerformance(ctx context.Context, forms []FormSummary, window dates.Window) ([]FormSummary, error) {
	viewRef, viewOK, err := s.metrics.GetMetricByName(ctx, formViewMetric, "")
	if err != nil {
		return forms, err
	}
	submitRef, submitOK, err := s.metrics.GetMetricByName(ctx, formSubmitMetric, "")
	if err != nil {
		return forms, err
	}

	out := make([]FormSummary, len(forms))
	copy(out, forms)
	for i := range out {
		if viewOK {
			if total, err := s.sumForForm(ctx, viewRef.ID, out[i].ID, window); err == nil {
				out[i].Impressions = total
			}
		}
		if submitOK {
			if total, err := s.sumForForm(ctx, submitRef.ID, out[i].ID, window); err == nil {
				out[i].Submissions = total
			}
		}
		if out[i].Impressions > 0 {
			out[i].SubmitRate = float64(out[i].Submissions) / float64(out[i].Impressions) * 100
		}
		out[i].Standing = formStanding(out[i])
	}
	return out, nil
}

func (s *FormsService) sumForForm(ctx context.Context, metricID, formID string, window dates.Window) (int64, error) {
	result, err := s.aggregates.Query(ctx, AggregateQuery{
		MetricID:         metricID,
		Start:            window.StartString(),
		End:              window.EndString(),
		Measurements:     []string{"count"},
		Interval:         IntervalDay,
		AdditionalFilter: Equals("form_id", formID),
		Timezone:         window.Timezone,
	})
	if err != nil {
		return 0, err
	}
	return int64(result.Sum("count")), nil
}

func formType(t string) FormType {
	switch strings.ToLower(t) {
	case "popup":
		return FormPopup
	case "flyout":
		return FormFlyout
	case "embed", "embedded":
		return FormEmbed
	case "full_page", "fullpage", "full page":
		return FormFullPage
	default:
		return FormOther
	}
}

// formStanding grades a form against submit-rate expectations. Forms with
// no impressions have no standing.
func formStanding(f FormSummary) FormStanding {
	if f.Impressions == 0 {
		return StandingNone
	}
	switch {
	case f.SubmitRate >= 5:
		return StandingExcellent
	case f.SubmitRate >= 3:
		return StandingGood
	case f.SubmitRate >= 1.5:
		return StandingAverage
	default:
		return StandingPoor
	}
}
