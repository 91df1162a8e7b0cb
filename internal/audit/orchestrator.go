package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/andzen/prospect-audit/internal/attribution"
	"github.com/andzen/prospect-audit/internal/benchmarks"
	"github.com/andzen/prospect-audit/internal/dates"
	"github.com/andzen/prospect-audit/internal/diagnostics"
	"github.com/andzen/prospect-audit/internal/klaviyo"
	"github.com/andzen/prospect-audit/internal/pkg/logger"
	"github.com/andzen/prospect-audit/internal/sanitize"
)

const (
	defaultWindowDays   = 30
	defaultGrowthMonths = 6
)

// Orchestrator owns one audit run end to end: it drives the endpoint
// services in dependency order, joins the concurrent branches, then runs
// attribution and diagnostics over the joined data.
type Orchestrator struct {
	account       *klaviyo.AccountService
	metrics       *klaviyo.MetricsService
	aggregates    *klaviyo.MetricAggregatesService
	campaigns     *klaviyo.CampaignsService
	campaignStats *klaviyo.CampaignStatisticsService
	flows         *klaviyo.FlowsService
	flowStats     *klaviyo.FlowStatisticsService
	lists         *klaviyo.ListsService
	forms         *klaviyo.FormsService
	aggregator    *attribution.Aggregator

	// Resolver computes the audit window; tests pin its clock.
	Resolver dates.Resolver
	// Narrator, when set, annotates bundle sections with prose.
	Narrator Narrator
	// Progress, when set, receives section-level events.
	Progress ProgressFunc
}

// New builds an orchestrator over one shared client. cache may be nil for
// an in-process report cache.
func New(client *klaviyo.Client, cache klaviyo.ReportCache) *Orchestrator {
	metrics := klaviyo.NewMetricsService(client)
	aggregates := klaviyo.NewMetricAggregatesService(client)
	flowStats := klaviyo.NewFlowStatisticsService(client, metrics, cache)
	campaigns := klaviyo.NewCampaignsService(client)
	campaignStats := klaviyo.NewCampaignStatisticsService(client, metrics)

	return &Orchestrator{
		account:       klaviyo.NewAccountService(client),
		metrics:       metrics,
		aggregates:    aggregates,
		campaigns:     campaigns,
		campaignStats: campaignStats,
		flows:         klaviyo.NewFlowsService(client),
		flowStats:     flowStats,
		lists:         klaviyo.NewListsService(client, metrics, aggregates),
		forms:         klaviyo.NewFormsService(client, metrics, aggregates),
		aggregator:    attribution.NewAggregator(metrics, aggregates, flowStats, campaigns, campaignStats),
	}
}

// extracted is the joined output of the concurrent branches.
type extracted struct {
	mu sync.Mutex

	flows     []klaviyo.FlowSummary
	campaigns []klaviyo.CampaignSummary
	lists     []klaviyo.ListSummary
	growth    *klaviyo.ListGrowth
	forms     []klaviyo.FormSummary

	diags []diagnostics.Diagnostic
}

func (e *extracted) degrade(section string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	logger.Warn("audit", logger.EventDataQuality,
		"reason", "section_failed", "section", section, "error", err.Error())
	e.diags = append(e.diags, diagnostics.New(
		diagnostics.KindDataAnomaly, diagnostics.SeverityMedium,
		"A data section could not be extracted and is absent from this audit.",
		map[string]interface{}{"section": section, "error": err.Error()}))
}

// Run executes the audit pipeline and returns the bundle. Validation and
// account-load failures are fatal; section failures degrade to diagnostics;
// cancellation yields a partial bundle.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Bundle, error) {
	bundle := &Bundle{
		RunID:       uuid.New().String(),
		GeneratedAt: time.Now().UTC(),
	}

	o.emit("account", "loading account context")
	acct, err := o.account.GetAccount(ctx)
	if err != nil {
		return nil, err
	}
	bundle.Account = o.accountContext(acct, opts.Industry)

	window, err := o.resolveWindow(opts, acct.Timezone)
	if err != nil {
		return nil, err
	}
	bundle.Window = window

	ex := &extracted{}
	var wg sync.WaitGroup
	run := func(section string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.emit(section, "extracting")
			if err := fn(); err != nil {
				ex.degrade(section, err)
			}
		}()
	}

	run("flows", func() error { return o.extractFlows(ctx, ex, window, opts) })
	run("campaigns", func() error { return o.extractCampaigns(ctx, ex, window) })
	run("lists", func() error { return o.extractLists(ctx, ex, opts, acct.Timezone) })
	run("forms", func() error { return o.extractForms(ctx, ex, window, opts) })
	wg.Wait()

	if ctx.Err() != nil {
		bundle.Partial = true
		ex.diags = append(ex.diags, diagnostics.New(
			diagnostics.KindCancelled, diagnostics.SeverityLow,
			"The audit was cancelled; this bundle carries partial data.", nil))
	}

	bundle.Flows = ex.flows
	bundle.Campaigns = ex.campaigns
	bundle.CampaignAggregate = aggregateCampaignStats(ex.campaigns)
	bundle.Lists = ex.lists
	bundle.Growth = ex.growth
	bundle.Forms = ex.forms

	o.emit("attribution", "reconciling revenue")
	bundle.Attribution = o.runAttribution(ctx, ex, window, bundle.Account.Currency)

	o.emit("diagnostics", "classifying against benchmarks")
	bundle.Diagnostics = o.diagnose(bundle, ex)

	if !bundle.Partial {
		o.emit("narration", "annotating sections")
		o.narrate(ctx, bundle, narrationSections(bundle))
	}

	o.emit("done", "audit complete")
	return bundle, nil
}

func (o *Orchestrator) resolveWindow(opts Options, timezone string) (dates.Window, error) {
	if opts.Start != "" && opts.End != "" {
		return o.Resolver.WindowFromBounds(opts.Start, opts.End, timezone)
	}
	days := opts.Days
	if days <= 0 {
		days = defaultWindowDays
	}
	return o.Resolver.WindowForDays(days, timezone)
}

func (o *Orchestrator) accountContext(acct klaviyo.Account, industryOverride string) AccountContext {
	org, err := sanitize.Name(acct.Organization)
	if err != nil {
		org = ""
	}
	industry := industryOverride
	if industry == "" {
		industry = acct.Industry
	}
	return AccountContext{
		Organization: org,
		Currency:     acct.Currency,
		Timezone:     acct.Timezone,
		Industry:     sanitize.Industry(industry),
	}
}

func (o *Orchestrator) extractFlows(ctx context.Context, ex *extracted, window dates.Window, opts Options) error {
	flows, err := o.flows.GetFlows(ctx)
	if err != nil {
		return err
	}

	ids := make([]string, len(flows))
	for i, f := range flows {
		ids[i] = f.ID
	}
	batch, err := o.flowStats.GetStatistics(ctx, klaviyo.StatisticsRequest{
		IDs:       ids,
		Timeframe: klaviyo.NearestTimeframe(window.Days),
	})
	if err != nil {
		// The flow list is still worth keeping without statistics.
		ex.degrade("flow_statistics", err)
	} else {
		for i := range flows {
			flows[i].Statistics = batch.Statistics[flows[i].ID]
		}
	}

	if opts.enhanced() {
		for i := range flows {
			if flows[i].Status != klaviyo.FlowLive {
				continue
			}
			if opts.VerboseProgress {
				o.emit("flows", "counting email actions for "+flows[i].ID)
			}
			if count, err := o.flows.CountEmailActions(ctx, flows[i].ID); err == nil {
				flows[i].EmailActionCount = count
			}
		}
	}

	ex.mu.Lock()
	ex.flows = flows
	ex.mu.Unlock()
	return nil
}

func (o *Orchestrator) extractCampaigns(ctx context.Context, ex *extracted, window dates.Window) error {
	campaigns, err := o.campaigns.GetCampaigns(ctx, klaviyo.ChannelEmail, &window)
	if err != nil {
		return err
	}

	if len(campaigns) > 0 {
		ids := make([]string, len(campaigns))
		for i, c := range campaigns {
			ids[i] = c.ID
		}
		batch, err := o.campaignStats.GetStatistics(ctx, klaviyo.StatisticsRequest{
			IDs:       ids,
			Timeframe: klaviyo.NearestTimeframe(window.Days),
		})
		if err != nil {
			ex.degrade("campaign_statistics", err)
		} else {
			for i := range campaigns {
				campaigns[i].Statistics = batch.Statistics[campaigns[i].ID]
			}
		}
	}

	ex.mu.Lock()
	ex.campaigns = campaigns
	ex.mu.Unlock()
	return nil
}

func (o *Orchestrator) extractLists(ctx context.Context, ex *extracted, opts Options, timezone string) error {
	lists, err := o.lists.GetLists(ctx)
	if err != nil {
		return err
	}
	ex.mu.Lock()
	ex.lists = lists
	ex.mu.Unlock()

	if !opts.enhanced() {
		return nil
	}

	months := opts.GrowthMonths
	if months <= 0 {
		months = defaultGrowthMonths
	}
	if opts.VerboseProgress {
		o.emit("lists", "building growth series")
	}
	growth, err := o.lists.GetListGrowth(ctx, opts.ListID, months, timezone)
	if err != nil {
		return err
	}
	ex.mu.Lock()
	ex.growth = &growth
	ex.mu.Unlock()
	return nil
}

func (o *Orchestrator) extractForms(ctx context.Context, ex *extracted, window dates.Window, opts Options) error {
	forms, err := o.forms.GetForms(ctx)
	if err != nil {
		return err
	}
	if opts.enhanced() {
		if opts.VerboseProgress {
			o.emit("forms", "measuring form performance")
		}
		forms, err = o.forms.GetFormPerformance(ctx, forms, window)
		if err != nil {
			return err
		}
	}
	ex.mu.Lock()
	ex.forms = forms
	ex.mu.Unlock()
	return nil
}

// runAttribution reconciles revenue. A missing conversion metric degrades
// to totals-only: the audit still reports revenue, attribution is omitted
// with a diagnostic.
func (o *Orchestrator) runAttribution(ctx context.Context, ex *extracted, window dates.Window, currency string) attribution.Result {
	in := attribution.Input{Window: window, Currency: currency}
	for _, f := range ex.flows {
		in.FlowIDs = append(in.FlowIDs, f.ID)
	}
	in.CampaignIDs = []string{}
	for _, c := range ex.campaigns {
		in.CampaignIDs = append(in.CampaignIDs, c.ID)
	}

	result, err := o.aggregator.Aggregate(ctx, in)
	if err == nil {
		return result
	}
	if !klaviyo.IsKind(err, klaviyo.ErrMissingConversionMetric) {
		ex.degrade("attribution", err)
		return result
	}

	logger.Warn("audit", logger.EventDataQuality,
		"reason", "missing_conversion_metric")
	result = o.aggregator.TotalsOnly(ctx, in)
	result.Diagnostics = append(result.Diagnostics, diagnostics.New(
		diagnostics.KindMissingConversion, diagnostics.SeverityHigh,
		"No conversion metric exists in this account; channel attribution is unavailable.",
		nil))
	return result
}

func (o *Orchestrator) diagnose(bundle *Bundle, ex *extracted) []diagnostics.Diagnostic {
	bench := benchmarks.ForIndustry(bundle.Account.Industry)

	var out []diagnostics.Diagnostic
	out = append(out, ex.diags...)
	out = append(out, bundle.Attribution.Diagnostics...)
	out = append(out, diagnostics.CheckFlowEcosystem(bundle.Flows)...)
	if len(bundle.Campaigns) > 0 {
		out = append(out, diagnostics.CheckCampaignPerformance(bundle.CampaignAggregate, bench)...)
	}
	out = append(out, diagnostics.CheckForms(bundle.Forms)...)
	return out
}

// aggregateCampaignStats folds per-campaign statistics into one account
// aggregate: counts summed, engagement rates recomputed, deliverability
// rates recipient-weighted.
func aggregateCampaignStats(campaigns []klaviyo.CampaignSummary) klaviyo.Statistics {
	var agg klaviyo.Statistics
	var bounceSum, unsubSum, spamSum float64
	for _, c := range campaigns {
		s := c.Statistics
		agg.Merge(s)
		bounceSum += s.BounceRate * float64(s.Recipients)
		unsubSum += s.UnsubscribeRate * float64(s.Recipients)
		spamSum += s.SpamRate * float64(s.Recipients)
	}
	agg.RecomputeRates()
	if agg.Recipients > 0 {
		agg.BounceRate = bounceSum / float64(agg.Recipients)
		agg.UnsubscribeRate = unsubSum / float64(agg.Recipients)
		agg.SpamRate = spamSum / float64(agg.Recipients)
	}
	return agg
}

// narrationSections builds the per-section payloads offered to the
// narrator. Only summary-level values cross the boundary.
func narrationSections(b *Bundle) map[string]map[string]interface{} {
	snap := b.Attribution.Snapshot
	return map[string]map[string]interface{}{
		"revenue": {
			"total_revenue":         snap.TotalRevenue,
			"attributed_revenue":    snap.AttributedDisplay,
			"attributed_percentage": snap.AttributedPercentage,
			"flow_share":            snap.FlowShare,
			"campaign_share":        snap.CampaignShare,
		},
		"flows": {
			"flow_count": len(b.Flows),
		},
		"campaigns": {
			"campaign_count": len(b.Campaigns),
			"open_rate":      b.CampaignAggregate.OpenRate,
			"click_rate":     b.CampaignAggregate.ClickRate,
		},
		"forms": {
			"form_count": len(diagnostics.ActiveForms(b.Forms)),
		},
	}
}

func (o *Orchestrator) emit(stage, message string) {
	if o.Progress == nil {
		return
	}
	o.Progress(stage, message)
}
