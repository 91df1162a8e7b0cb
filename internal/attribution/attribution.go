// Package attribution reconciles total revenue with channel-attributed
// revenue and produces the audit's revenue snapshot, time series and
// period-over-period comparison.
package attribution

import (
	"context"
	"math"

	"github.com/andzen/prospect-audit/internal/dates"
	"github.com/andzen/prospect-audit/internal/diagnostics"
	"github.com/andzen/prospect-audit/internal/klaviyo"
	"github.com/andzen/prospect-audit/internal/pkg/logger"
)

// revenueMetricCandidates are tried in order for the total-revenue series.
var revenueMetricCandidates = []string{"Ordered Product", "Placed Order"}

// Snapshot is the reconciled revenue picture for one window. Attributed
// revenue is surfaced as measured; AttributedDisplay is capped at total for
// presentation when the provider over-attributes.
type Snapshot struct {
	TotalRevenue         float64 `json:"total_revenue"`
	FlowRevenue          float64 `json:"flow_revenue"`
	CampaignRevenue      float64 `json:"campaign_revenue"`
	AttributedRevenue    float64 `json:"attributed_revenue"`
	AttributedDisplay    float64 `json:"attributed_display"`
	AttributedPercentage float64 `json:"attributed_percentage"`
	FlowShare            float64 `json:"flow_share"`
	CampaignShare        float64 `json:"campaign_share"`
	Orders               int64   `json:"orders"`
	Currency             string  `json:"currency"`
}

// TimeSeriesPoint is one interval of the revenue series. Channel values are
// apportioned from the interval total by the window-global flow/campaign
// ratios; total = flow + campaign + unattributed always holds.
type TimeSeriesPoint struct {
	Date                string  `json:"date"`
	TotalRevenue        float64 `json:"total_revenue"`
	FlowRevenue         float64 `json:"flow_revenue"`
	CampaignRevenue     float64 `json:"campaign_revenue"`
	UnattributedRevenue float64 `json:"unattributed_revenue"`
	Orders              float64 `json:"orders"`
}

// PeriodComparison relates the window to the period immediately before it.
type PeriodComparison struct {
	PreviousTotal float64 `json:"previous_total"`
	ChangePercent float64 `json:"change_percent"`
	HasPrevious   bool    `json:"has_previous"`
}

// Result is the aggregator's full output. Diagnostics carry degradations
// (failed sub-queries, over-attribution) without failing the run.
type Result struct {
	Snapshot    Snapshot                 `json:"snapshot"`
	Series      []TimeSeriesPoint        `json:"series"`
	Comparison  PeriodComparison         `json:"comparison"`
	Diagnostics []diagnostics.Diagnostic `json:"diagnostics,omitempty"`
}

// Input names the entities the aggregator reports over. CampaignIDs may be
// nil, in which case email campaigns inside the window are fetched.
type Input struct {
	Window      dates.Window
	FlowIDs     []string
	CampaignIDs []string
	Currency    string
}

// Aggregator composes the metric, aggregate, reporting and campaign
// services into the attribution pipeline.
type Aggregator struct {
	metrics       *klaviyo.MetricsService
	aggregates    *klaviyo.MetricAggregatesService
	flowStats     *klaviyo.FlowStatisticsService
	campaigns     *klaviyo.CampaignsService
	campaignStats *klaviyo.CampaignStatisticsService
}

// NewAggregator wires the aggregator over the shared services.
func NewAggregator(
	metrics *klaviyo.MetricsService,
	aggregates *klaviyo.MetricAggregatesService,
	flowStats *klaviyo.FlowStatisticsService,
	campaigns *klaviyo.CampaignsService,
	campaignStats *klaviyo.CampaignStatisticsService,
) *Aggregator {
	return &Aggregator{
		metrics:       metrics,
		aggregates:    aggregates,
		flowStats:     flowStats,
		campaigns:     campaigns,
		campaignStats: campaignStats,
	}
}

// Aggregate runs the full attribution pipeline for the window: total
// revenue, flow revenue, campaign revenue, the apportioned time series and
// the previous-period comparison. Sub-query failures contribute zero and a
// diagnostic; only a missing conversion metric aborts.
func (a *Aggregator) Aggregate(ctx context.Context, in Input) (Result, error) {
	var result Result

	if _, err := a.metrics.ResolveConversionMetric(ctx); err != nil {
		return result, err
	}

	total, orders, series := a.totalRevenue(ctx, in.Window, &result)

	flowRevenue := a.flowRevenue(ctx, in, &result)
	campaignRevenue := a.campaignRevenue(ctx, in, &result)

	attributed := flowRevenue + campaignRevenue
	display := attributed
	if attributed > total && total > 0 {
		display = total
		result.Diagnostics = append(result.Diagnostics, diagnostics.New(
			diagnostics.KindDataAnomaly, diagnostics.SeverityMedium,
			"Attributed revenue exceeds total revenue; single-touch attribution is over-counting across channels.",
			map[string]interface{}{
				"total_revenue":      total,
				"attributed_revenue": attributed,
			}))
	}

	result.Snapshot = Snapshot{
		TotalRevenue:      total,
		FlowRevenue:       flowRevenue,
		CampaignRevenue:   campaignRevenue,
		AttributedRevenue: attributed,
		AttributedDisplay: display,
		Orders:            orders,
		Currency:          in.Currency,
	}
	if total > 0 {
		result.Snapshot.AttributedPercentage = display / total * 100
		result.Snapshot.FlowShare = flowRevenue / total * 100
		result.Snapshot.CampaignShare = campaignRevenue / total * 100
	}

	result.Series = apportionSeries(series, total, flowRevenue, campaignRevenue)
	result.Comparison = a.previousPeriod(ctx, in.Window, total)

	return result, nil
}

// TotalsOnly produces the revenue snapshot and series without channel
// attribution. Used when the account has no conversion metric: total
// revenue is still reportable, attribution is not.
func (a *Aggregator) TotalsOnly(ctx context.Context, in Input) Result {
	var result Result
	total, orders, series := a.totalRevenue(ctx, in.Window, &result)
	result.Snapshot = Snapshot{
		TotalRevenue:      total,
		AttributedDisplay: 0,
		Orders:            orders,
		Currency:          in.Currency,
	}
	result.Series = apportionSeries(series, total, 0, 0)
	result.Comparison = a.previousPeriod(ctx, in.Window, total)
	return result
}

// intervalPoint is one raw interval of the total-revenue aggregate.
type intervalPoint struct {
	date    string
	revenue float64
	orders  float64
}

// totalRevenue queries the per-interval revenue series, degrading from
// month to day granularity and from the preferred metric to the fallback
// until a non-empty result appears.
func (a *Aggregator) totalRevenue(ctx context.Context, w dates.Window, result *Result) (float64, int64, []intervalPoint) {
	interval := klaviyo.IntervalDay
	if w.Days >= 60 {
		interval = klaviyo.IntervalMonth
	}

	for _, name := range revenueMetricCandidates {
		ref, ok, err := a.metrics.GetMetricByName(ctx, name, klaviyo.EcommerceIntegration)
		if err != nil {
			a.degrade(result, "total_revenue", err)
			return 0, 0, nil
		}
		if !ok {
			continue
		}

		agg, err := a.queryRevenue(ctx, ref.ID, w, interval)
		if err != nil {
			a.degrade(result, "total_revenue", err)
			continue
		}
		if agg.Empty() && interval == klaviyo.IntervalMonth {
			agg, err = a.queryRevenue(ctx, ref.ID, w, klaviyo.IntervalDay)
			if err != nil {
				a.degrade(result, "total_revenue", err)
				continue
			}
		}
		if agg.Empty() {
			continue
		}

		series := make([]intervalPoint, len(agg.Dates))
		revenue := agg.Measurements["sum_value"]
		counts := agg.Measurements["count"]
		var total float64
		var orders float64
		for i, d := range agg.Dates {
			p := intervalPoint{date: d}
			if i < len(revenue) {
				p.revenue = revenue[i]
			}
			if i < len(counts) {
				p.orders = counts[i]
			}
			total += p.revenue
			orders += p.orders
			series[i] = p
		}
		return total, int64(orders), series
	}

	logger.Warn("attribution", logger.EventDataQuality,
		"reason", "no_revenue_series", "window_days", w.Days)
	return 0, 0, nil
}

func (a *Aggregator) queryRevenue(ctx context.Context, metricID string, w dates.Window, interval klaviyo.Interval) (klaviyo.AggregateResult, error) {
	return a.aggregates.Query(ctx, klaviyo.AggregateQuery{
		MetricID:     metricID,
		Start:        w.StartString(),
		End:          w.EndString(),
		Measurements: []string{"sum_value", "count"},
		Interval:     interval,
		Timezone:     w.Timezone,
	})
}

// flowRevenue sums conversion value across the batched flow report.
func (a *Aggregator) flowRevenue(ctx context.Context, in Input, result *Result) float64 {
	if len(in.FlowIDs) == 0 {
		return 0
	}
	batch, err := a.flowStats.GetRevenue(ctx, klaviyo.StatisticsRequest{
		IDs:       in.FlowIDs,
		Timeframe: klaviyo.NearestTimeframe(in.Window.Days),
	})
	if err != nil {
		a.degrade(result, "flow_revenue", err)
		return 0
	}
	var sum float64
	for _, stats := range batch.Statistics {
		sum += stats.ConversionValue
	}
	return sum
}

// campaignRevenue sums conversion value across the batched campaign report,
// listing email campaigns inside the window when ids were not supplied.
func (a *Aggregator) campaignRevenue(ctx context.Context, in Input, result *Result) float64 {
	ids := in.CampaignIDs
	if ids == nil {
		campaigns, err := a.campaigns.GetCampaigns(ctx, klaviyo.ChannelEmail, &in.Window)
		if err != nil {
			a.degrade(result, "campaign_revenue", err)
			return 0
		}
		for _, c := range campaigns {
			ids = append(ids, c.ID)
		}
	}
	if len(ids) == 0 {
		return 0
	}

	batch, err := a.campaignStats.GetRevenue(ctx, klaviyo.StatisticsRequest{
		IDs:       ids,
		Timeframe: klaviyo.NearestTimeframe(in.Window.Days),
	})
	if err != nil {
		a.degrade(result, "campaign_revenue", err)
		return 0
	}
	var sum float64
	for _, stats := range batch.Statistics {
		sum += stats.ConversionValue
	}
	return sum
}

// apportionSeries splits each interval total by the window-global channel
// ratios. When attribution exceeds total, both ratios are scaled so the
// per-point identity total = flow + campaign + unattributed still holds
// with unattributed at zero.
func apportionSeries(series []intervalPoint, total, flowRevenue, campaignRevenue float64) []TimeSeriesPoint {
	if len(series) == 0 {
		return nil
	}

	var flowRatio, campaignRatio float64
	if total > 0 {
		flowRatio = flowRevenue / total
		campaignRatio = campaignRevenue / total
		if combined := flowRatio + campaignRatio; combined > 1 {
			flowRatio /= combined
			campaignRatio /= combined
		}
	}

	out := make([]TimeSeriesPoint, len(series))
	for i, p := range series {
		flow := p.revenue * flowRatio
		campaign := p.revenue * campaignRatio
		unattributed := p.revenue - flow - campaign
		if math.Abs(unattributed) < 1e-9 {
			unattributed = 0
		}
		out[i] = TimeSeriesPoint{
			Date:                p.date,
			TotalRevenue:        p.revenue,
			FlowRevenue:         flow,
			CampaignRevenue:     campaign,
			UnattributedRevenue: unattributed,
			Orders:              p.orders,
		}
	}
	return out
}

// previousPeriod fetches totals-only revenue for the window immediately
// before this one and derives the change percentage.
func (a *Aggregator) previousPeriod(ctx context.Context, w dates.Window, currentTotal float64) PeriodComparison {
	prev := dates.PreviousPeriod(w, w.Days)

	var scratch Result
	total, _, _ := a.totalRevenue(ctx, prev, &scratch)
	if total == 0 {
		return PeriodComparison{}
	}

	return PeriodComparison{
		PreviousTotal: total,
		ChangePercent: (currentTotal - total) / total * 100,
		HasPrevious:   true,
	}
}

// degrade records a non-fatal sub-query failure. Cancellation is not
// downgraded: the partial result still carries the diagnostic, but callers
// see the context error through their own checks.
func (a *Aggregator) degrade(result *Result, section string, err error) {
	logger.Warn("attribution", logger.EventDataQuality,
		"reason", "subquery_failed", "section", section, "error", err.Error())
	kind := diagnostics.KindDataAnomaly
	if klaviyo.IsKind(err, klaviyo.ErrParseIncomplete) {
		kind = diagnostics.KindParseIncomplete
	}
	result.Diagnostics = append(result.Diagnostics, diagnostics.New(
		kind, diagnostics.SeverityMedium,
		"A revenue sub-query failed; the affected channel contributes zero to this audit.",
		map[string]interface{}{"section": section, "error": err.Error()}))
}
