package klaviyo

import (
	"encoding/json"
	"time"
)

// apiResponse is the JSON:API envelope every endpoint returns.
type apiResponse struct {
	Data  json.RawMessage `json:"data"`
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
	Meta json.RawMessage `json:"meta"`
}

// apiObject is a single JSON:API resource.
type apiObject struct {
	Type       string          `json:"type"`
	ID         string          `json:"id"`
	Attributes json.RawMessage `json:"attributes"`
}

// ServerHints carries the provider's rate-limit feedback trio plus the
// optional Retry-After, parsed from response headers.
type ServerHints struct {
	Limit      int
	Remaining  int
	Reset      int
	RetryAfter int
	HasLimits  bool
}

// MetricRef identifies one metric. Multiple refs may share a name; the
// integration key disambiguates (e.g. "shopify" vs "api").
type MetricRef struct {
	ID          string
	Name        string
	Integration string
}

// AggregateResult is a parsed metric-aggregates response. Dates and every
// measurement series have identical length. Groups is populated only for
// grouped queries, keyed by the grouping value.
type AggregateResult struct {
	Dates        []string
	Measurements map[string][]float64
	Groups       map[string]map[string][]float64
}

// Empty reports whether the result carries no data points.
func (r AggregateResult) Empty() bool {
	if len(r.Dates) == 0 && len(r.Groups) == 0 {
		return true
	}
	for _, series := range r.Measurements {
		for _, v := range series {
			if v != 0 {
				return false
			}
		}
	}
	for _, group := range r.Groups {
		for _, series := range group {
			for _, v := range series {
				if v != 0 {
					return false
				}
			}
		}
	}
	return true
}

// Sum returns the total of the named measurement series.
func (r AggregateResult) Sum(measurement string) float64 {
	var total float64
	for _, v := range r.Measurements[measurement] {
		total += v
	}
	return total
}

// Statistics is the canonical per-entity statistics record. Rates are
// percentages in [0, 100]; counts are integers.
type Statistics struct {
	Recipients      int64   `json:"recipients"`
	Opens           int64   `json:"opens"`
	OpenRate        float64 `json:"open_rate"`
	Clicks          int64   `json:"clicks"`
	ClickRate       float64 `json:"click_rate"`
	Conversions     int64   `json:"conversions"`
	ConversionRate  float64 `json:"conversion_rate"`
	ConversionValue float64 `json:"conversion_value"`
	BounceRate      float64 `json:"bounce_rate"`
	UnsubscribeRate float64 `json:"unsubscribe_rate"`
	SpamRate        float64 `json:"spam_rate"`
}

// Merge sums counts and conversion value from other into s. Rates are not
// touched; callers recompute them once merging is complete.
func (s *Statistics) Merge(other Statistics) {
	s.Recipients += other.Recipients
	s.Opens += other.Opens
	s.Clicks += other.Clicks
	s.Conversions += other.Conversions
	s.ConversionValue += other.ConversionValue
}

// RecomputeRates recalculates the engagement rates from counts. Rates are 0
// when recipients is 0; they are never summed across merges.
func (s *Statistics) RecomputeRates() {
	if s.Recipients == 0 {
		s.OpenRate, s.ClickRate, s.ConversionRate = 0, 0, 0
		return
	}
	s.OpenRate = float64(s.Opens) / float64(s.Recipients) * 100
	s.ClickRate = float64(s.Clicks) / float64(s.Recipients) * 100
	s.ConversionRate = float64(s.Conversions) / float64(s.Recipients) * 100
}

// FlowStatus is the provider's flow lifecycle state.
type FlowStatus string

const (
	FlowLive     FlowStatus = "live"
	FlowDraft    FlowStatus = "draft"
	FlowArchived FlowStatus = "archived"
	FlowManual   FlowStatus = "manual"
	FlowUnknown  FlowStatus = "unknown"
)

// FlowSummary is one automation flow with statistics aggregated across its
// messages.
type FlowSummary struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Status           FlowStatus `json:"status"`
	TriggerType      string     `json:"trigger_type,omitempty"`
	Created          time.Time  `json:"created,omitempty"`
	EmailActionCount int        `json:"email_action_count"`
	Statistics       Statistics `json:"statistics"`
}

// Channel is a campaign delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// CampaignSummary is one sent campaign.
type CampaignSummary struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Channel    Channel    `json:"channel"`
	SentAt     time.Time  `json:"sent_at"`
	CreatedAt  time.Time  `json:"created_at"`
	Statistics Statistics `json:"statistics"`
}

// ListSummary is one marketing list. Priority is a classifier output used
// only for primary-list selection.
type ListSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ProfileCount int    `json:"profile_count"`
	Priority     int    `json:"priority"`
}

// FormType classifies a signup form.
type FormType string

const (
	FormPopup    FormType = "popup"
	FormFlyout   FormType = "flyout"
	FormEmbed    FormType = "embed"
	FormFullPage FormType = "full_page"
	FormOther    FormType = "other"
)

// FormStanding grades a form against submit-rate expectations.
type FormStanding string

const (
	StandingExcellent FormStanding = "excellent"
	StandingGood      FormStanding = "good"
	StandingAverage   FormStanding = "average"
	StandingPoor      FormStanding = "poor"
	StandingNone      FormStanding = "none"
)

// FormSummary is one signup form with its window performance.
type FormSummary struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Type        FormType     `json:"type"`
	Impressions int64        `json:"impressions"`
	Submissions int64        `json:"submissions"`
	SubmitRate  float64      `json:"submit_rate"`
	Standing    FormStanding `json:"standing"`
}

// Account holds the account attributes the audit needs. Currency defaults to
// USD and timezone to UTC when the provider omits them.
type Account struct {
	ID           string `json:"id"`
	Organization string `json:"organization"`
	Currency     string `json:"currency"`
	Timezone     string `json:"timezone"`
	Industry     string `json:"industry"`
	Locale       string `json:"locale"`
}

// GrowthPoint is one interval of list growth.
type GrowthPoint struct {
	Date          string  `json:"date"`
	Subscribed    float64 `json:"subscribed"`
	Unsubscribed  float64 `json:"unsubscribed"`
	NetChange     float64 `json:"net_change"`
}

// ListGrowth is the growth series for the primary (or requested) list.
type ListGrowth struct {
	ListID   string        `json:"list_id"`
	ListName string        `json:"list_name"`
	Months   int           `json:"months"`
	Points   []GrowthPoint `json:"points"`
}
