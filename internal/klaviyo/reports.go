package klaviyo

import (
	"context"
)

// DefaultReportStatistics is the statistic set requested from the values
// reports when the caller does not narrow it.
var DefaultReportStatistics = []string{
	"recipients",
	"opens",
	"open_rate",
	"clicks",
	"click_rate",
	"conversions",
	"conversion_rate",
	"conversion_value",
	"bounce_rate",
	"unsubscribe_rate",
	"spam_complaint_rate",
}

// RevenueReportStatistics narrows the values report to the conversion
// measurements revenue attribution reads.
var RevenueReportStatistics = []string{
	"recipients",
	"conversions",
	"conversion_value",
}

// StatisticsRequest describes one batched values-report query. Timeframe is
// a provider preset key (see NearestTimeframe). ConversionMetricID is
// mandatory on the wire; services resolve it when the caller leaves it
// empty.
type StatisticsRequest struct {
	IDs                []string
	Statistics         []string
	Timeframe          string
	ConversionMetricID string
}

func (r *StatisticsRequest) applyDefaults() {
	if len(r.Statistics) == 0 {
		r.Statistics = DefaultReportStatistics
	}
	if r.Timeframe == "" {
		r.Timeframe = "last_30_days"
	}
}

// reportPayload builds the JSON:API body for a values-report call.
func reportPayload(reportType, idField string, req StatisticsRequest, ids []string) map[string]interface{} {
	return map[string]interface{}{
		"data": map[string]interface{}{
			"type": reportType,
			"attributes": map[string]interface{}{
				"timeframe":            map[string]string{"key": req.Timeframe},
				"conversion_metric_id": req.ConversionMetricID,
				"statistics":           req.Statistics,
				"filter":               ContainsAny(idField, ids),
			},
		},
	}
}

// FlowStatisticsService queries the flow values report in batches, merging
// per-message rows by flow id. Responses are cached per
// (ids, timeframe, statistics, conversion metric) for the run.
type FlowStatisticsService struct {
	client         *Client
	metrics        *MetricsService
	cache          ReportCache
	batcher        *BatchExecutor
	revenueBatcher *BatchExecutor
}

// NewFlowStatisticsService creates the service. cache may be nil, in which
// case an in-process FIFO cache is used.
func NewFlowStatisticsService(client *Client, metrics *MetricsService, cache ReportCache) *FlowStatisticsService {
	if cache == nil {
		cache = NewMemoryReportCache()
	}
	return &FlowStatisticsService{
		client:         client,
		metrics:        metrics,
		cache:          cache,
		batcher:        NewBatchExecutor(StatsBatchSize, StatsBatchDelay),
		revenueBatcher: NewBatchExecutor(RevenueBatchSize, RevenueBatchDelay),
	}
}

// GetStatistics returns per-flow statistics for the requested ids. The
// conversion metric is resolved from the ordered candidate list when not
// supplied.
func (s *FlowStatisticsService) GetStatistics(ctx context.Context, req StatisticsRequest) (BatchResult, error) {
	req.applyDefaults()
	if err := s.resolveConversion(ctx, &req); err != nil {
		return BatchResult{}, err
	}
	return s.batchedReport(ctx, s.batcher, req), nil
}

// GetRevenue runs the flow values report for revenue attribution. Revenue
// reporting is costlier on the provider side, so chunks are smaller and
// spaced further apart than the stats defaults.
func (s *FlowStatisticsService) GetRevenue(ctx context.Context, req StatisticsRequest) (BatchResult, error) {
	if len(req.Statistics) == 0 {
		req.Statistics = RevenueReportStatistics
	}
	req.applyDefaults()
	if err := s.resolveConversion(ctx, &req); err != nil {
		return BatchResult{}, err
	}
	return s.batchedReport(ctx, s.revenueBatcher, req), nil
}

func (s *FlowStatisticsService) resolveConversion(ctx context.Context, req *StatisticsRequest) error {
	if req.ConversionMetricID != "" {
		return nil
	}
	id, err := s.metrics.ResolveConversionMetric(ctx)
	if err != nil {
		return err
	}
	req.ConversionMetricID = id
	return nil
}

func (s *FlowStatisticsService) batchedReport(ctx context.Context, batcher *BatchExecutor, req StatisticsRequest) BatchResult {
	const reportType, idField, path = "flow-values-report", "flow_id", "/flow-values-reports/"
	return batcher.Execute(ctx, req.IDs, func(ctx context.Context, ids []string) ([]ReportRow, error) {
		key := reportCacheKey(ids, req.Statistics, req.Timeframe, req.ConversionMetricID)
		if rows, ok := s.cache.Get(ctx, key); ok {
			return rows, nil
		}
		body, err := s.client.Post(ctx, path, reportPayload(reportType, idField, req, ids), DefaultRetryPolicy())
		if err != nil {
			return nil, err
		}
		rows, err := ParseReportRows(body)
		if err != nil {
			return nil, err
		}
		s.cache.Put(ctx, key, rows)
		return rows, nil
	})
}

// CampaignStatisticsService queries the campaign values report in batches.
type CampaignStatisticsService struct {
	client         *Client
	metrics        *MetricsService
	batcher        *BatchExecutor
	revenueBatcher *BatchExecutor
}

// NewCampaignStatisticsService creates the service over the shared client.
func NewCampaignStatisticsService(client *Client, metrics *MetricsService) *CampaignStatisticsService {
	return &CampaignStatisticsService{
		client:         client,
		metrics:        metrics,
		batcher:        NewBatchExecutor(StatsBatchSize, StatsBatchDelay),
		revenueBatcher: NewBatchExecutor(RevenueBatchSize, RevenueBatchDelay),
	}
}

// GetStatistics returns per-campaign statistics for the requested ids. A
// missing conversion metric id resolves to "Placed Order", preferring the
// e-commerce integration instance.
func (s *CampaignStatisticsService) GetStatistics(ctx context.Context, req StatisticsRequest) (BatchResult, error) {
	req.applyDefaults()
	if err := s.resolveConversion(ctx, &req); err != nil {
		return BatchResult{}, err
	}
	return s.batchedReport(ctx, s.batcher, req), nil
}

// GetRevenue runs the campaign values report with revenue pacing, the same
// way the flow service does.
func (s *CampaignStatisticsService) GetRevenue(ctx context.Context, req StatisticsRequest) (BatchResult, error) {
	if len(req.Statistics) == 0 {
		req.Statistics = RevenueReportStatistics
	}
	req.applyDefaults()
	if err := s.resolveConversion(ctx, &req); err != nil {
		return BatchResult{}, err
	}
	return s.batchedReport(ctx, s.revenueBatcher, req), nil
}

func (s *CampaignStatisticsService) resolveConversion(ctx context.Context, req *StatisticsRequest) error {
	if req.ConversionMetricID != "" {
		return nil
	}
	ref, ok, err := s.metrics.GetMetricByName(ctx, "Placed Order", EcommerceIntegration)
	if err != nil {
		return err
	}
	if ok {
		req.ConversionMetricID = ref.ID
		return nil
	}
	id, err := s.metrics.ResolveConversionMetric(ctx)
	if err != nil {
		return err
	}
	req.ConversionMetricID = id
	return nil
}

func (s *CampaignStatisticsService) batchedReport(ctx context.Context, batcher *BatchExecutor, req StatisticsRequest) BatchResult {
	return batcher.Execute(ctx, req.IDs, func(ctx context.Context, ids []string) ([]ReportRow, error) {
		body, err := s.client.Post(ctx, "/campaign-values-reports/",
			reportPayload("campaign-values-report", "campaign_id", req, ids), DefaultRetryPolicy())
		if err != nil {
			return nil, err
		}
		return ParseReportRows(body)
	})
}
