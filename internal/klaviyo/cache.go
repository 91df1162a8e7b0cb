package klaviyo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
)

// ReportCache eliminates redundant batched report calls within a run.
// Implementations must be safe for concurrent use.
type ReportCache interface {
	Get(ctx context.Context, key string) ([]ReportRow, bool)
	Put(ctx context.Context, key string, rows []ReportRow)
}

// reportCacheKey builds a deterministic key from the request parameters.
// Ids and statistics are sorted so permutations of the same request hit the
// same entry.
func reportCacheKey(ids, statistics []string, timeframe, conversionMetricID string) string {
	sortedIDs := append([]string(nil), ids...)
	sort.Strings(sortedIDs)
	sortedStats := append([]string(nil), statistics...)
	sort.Strings(sortedStats)

	raw := strings.Join(sortedIDs, ",") + "|" + timeframe + "|" +
		strings.Join(sortedStats, ",") + "|" + conversionMetricID
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

const memoryCacheCap = 50

// MemoryReportCache is the default in-process cache: a FIFO-bounded map
// capped at 50 entries.
type MemoryReportCache struct {
	mu      sync.Mutex
	entries map[string][]ReportRow
	order   []string
}

// NewMemoryReportCache creates an empty bounded cache.
func NewMemoryReportCache() *MemoryReportCache {
	return &MemoryReportCache{entries: make(map[string][]ReportRow)}
}

// Get returns the cached rows for key, if present.
func (c *MemoryReportCache) Get(_ context.Context, key string) ([]ReportRow, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows, ok := c.entries[key]
	return rows, ok
}

// Put stores rows under key, evicting the oldest entry once the cap is
// reached.
func (c *MemoryReportCache) Put(_ context.Context, key string, rows []ReportRow) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists {
		if len(c.order) >= memoryCacheCap {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = rows
}

// Len returns the number of cached entries.
func (c *MemoryReportCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
