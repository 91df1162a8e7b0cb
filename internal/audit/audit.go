// Package audit runs the top-level extract → aggregate → diagnose pipeline
// and produces the audit bundle consumed by presenters and narrators.
package audit

import (
	"time"

	"github.com/andzen/prospect-audit/internal/attribution"
	"github.com/andzen/prospect-audit/internal/dates"
	"github.com/andzen/prospect-audit/internal/diagnostics"
	"github.com/andzen/prospect-audit/internal/klaviyo"
)

// Options configures one audit run.
type Options struct {
	// Days sizes the window when explicit bounds are absent. Defaults to 30.
	Days int
	// Start and End are explicit ISO bounds; both must be set to take effect.
	Start string
	End   string
	// GrowthMonths sizes the list-growth series. Defaults to 6, the cap.
	GrowthMonths int
	// ListID pins the growth series to one list instead of auto-selecting.
	ListID string
	// Industry overrides the benchmark tier; the account's own industry is
	// used when empty.
	Industry string
	// FastMode skips list growth, form performance and per-flow deep dives.
	// It wins over IncludeEnhanced.
	FastMode bool
	// IncludeEnhanced toggles the same deep passes from the other direction:
	// nil or true runs them, false skips them.
	IncludeEnhanced *bool
	// VerboseProgress adds per-item detail to the progress stream on top of
	// the section-level events.
	VerboseProgress bool
}

// enhanced reports whether the deep extraction passes run this audit.
func (o Options) enhanced() bool {
	if o.FastMode {
		return false
	}
	return o.IncludeEnhanced == nil || *o.IncludeEnhanced
}

// AccountContext is the sanitized account identity carried in the bundle.
type AccountContext struct {
	Organization string `json:"organization"`
	Currency     string `json:"currency"`
	Timezone     string `json:"timezone"`
	Industry     string `json:"industry"`
}

// Bundle is the immutable output of one audit run.
type Bundle struct {
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`

	Window  dates.Window   `json:"window"`
	Account AccountContext `json:"account"`

	Attribution       attribution.Result        `json:"attribution"`
	Flows             []klaviyo.FlowSummary     `json:"flows"`
	Campaigns         []klaviyo.CampaignSummary `json:"campaigns"`
	CampaignAggregate klaviyo.Statistics        `json:"campaign_aggregate"`
	Lists             []klaviyo.ListSummary     `json:"lists"`
	Growth            *klaviyo.ListGrowth       `json:"growth,omitempty"`
	Forms             []klaviyo.FormSummary     `json:"forms"`

	Diagnostics []diagnostics.Diagnostic `json:"diagnostics"`
	Narratives  map[string]Narrative     `json:"narratives,omitempty"`

	// Partial marks a bundle cut short by cancellation.
	Partial bool `json:"partial,omitempty"`
}

// ProgressFunc receives section-level progress events. Emission is
// best-effort; implementations must not block.
type ProgressFunc func(stage, message string)
