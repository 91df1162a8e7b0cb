package klaviyo

import (
	"context"
	"time"

	"github.com/andzen/prospect-audit/internal/pkg/logger"
)

// Batch sizing and pacing defaults. Revenue sub-queries carry a higher
// per-call cost on the provider side and get smaller, slower batches.
const (
	StatsBatchSize    = 100
	RevenueBatchSize  = 10
	StatsBatchDelay   = 500 * time.Millisecond
	RevenueBatchDelay = 5 * time.Second
)

// BatchCall issues one reporting call for a chunk of ids.
type BatchCall func(ctx context.Context, ids []string) ([]ReportRow, error)

// BatchExecutor turns a flat id set into a sequence of reporting calls,
// each at most 100 ids, paced to protect the rate limiter. A failed chunk
// is recorded and skipped; it never aborts the run.
type BatchExecutor struct {
	BatchSize int
	Delay     time.Duration

	// sleep is swapped out by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBatchExecutor creates an executor with stats-endpoint defaults.
func NewBatchExecutor(batchSize int, delay time.Duration) *BatchExecutor {
	if batchSize <= 0 || batchSize > maxIDsPerFilter {
		batchSize = StatsBatchSize
	}
	return &BatchExecutor{BatchSize: batchSize, Delay: delay, sleep: sleepCtx}
}

// BatchResult is the merged outcome of all chunks.
type BatchResult struct {
	Statistics map[string]Statistics
	Failed     [][]string // id chunks whose call failed
	Cancelled  bool
}

// Execute runs call over chunks of ids and merges the rows into a single
// id → statistics mapping. Message-level rows sharing an entity id are
// aggregated: counts summed, rates recomputed. On context cancellation no
// further chunks are issued and the partial mapping is returned.
func (e *BatchExecutor) Execute(ctx context.Context, ids []string, call BatchCall) BatchResult {
	result := BatchResult{Statistics: make(map[string]Statistics)}
	if len(ids) == 0 {
		return result
	}

	for start := 0; start < len(ids); start += e.BatchSize {
		if ctx.Err() != nil {
			result.Cancelled = true
			return result
		}
		endIdx := start + e.BatchSize
		if endIdx > len(ids) {
			endIdx = len(ids)
		}
		chunk := ids[start:endIdx]

		if start > 0 && e.Delay > 0 {
			if err := e.sleep(ctx, e.Delay); err != nil {
				result.Cancelled = true
				return result
			}
		}

		rows, err := call(ctx, chunk)
		if err != nil {
			if IsKind(err, ErrCancelled) {
				result.Cancelled = true
				return result
			}
			logger.Warn("klaviyo.batch", logger.EventBatchFailure,
				"chunk_size", len(chunk), "error", err.Error())
			result.Failed = append(result.Failed, chunk)
			continue
		}
		MergeRows(result.Statistics, rows)
	}
	return result
}

// MergeRows folds report rows into the id-keyed mapping. Rows sharing an
// entity id (per-message statistics under one flow) sum counts; rates are
// recomputed after each fold so the mapping is always presentable.
func MergeRows(into map[string]Statistics, rows []ReportRow) {
	for _, row := range rows {
		id := row.EntityID()
		if id == "" {
			continue
		}
		existing, seen := into[id]
		if !seen {
			into[id] = row.Statistics
			continue
		}
		existing.Merge(row.Statistics)
		existing.RecomputeRates()
		// Non-engagement rates cannot be recomputed from counts; carry the
		// recipient-weighted average.
		existing.BounceRate = weightedRate(existing.BounceRate, existing.Recipients-row.Statistics.Recipients,
			row.Statistics.BounceRate, row.Statistics.Recipients)
		existing.UnsubscribeRate = weightedRate(existing.UnsubscribeRate, existing.Recipients-row.Statistics.Recipients,
			row.Statistics.UnsubscribeRate, row.Statistics.Recipients)
		existing.SpamRate = weightedRate(existing.SpamRate, existing.Recipients-row.Statistics.Recipients,
			row.Statistics.SpamRate, row.Statistics.Recipients)
		into[id] = existing
	}
}

func weightedRate(rateA float64, weightA int64, rateB float64, weightB int64) float64 {
	total := weightA + weightB
	if total <= 0 {
		return 0
	}
	return (rateA*float64(weightA) + rateB*float64(weightB)) / float64(total)
}
