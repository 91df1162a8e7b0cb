// Package benchmarks holds the read-only industry reference table the
// diagnostic layer classifies against. No I/O; constructed once at startup.
package benchmarks

// Flow-type keys used across the benchmark table and diagnostics.
const (
	FlowWelcomeSeries     = "welcome_series"
	FlowAbandonedCart     = "abandoned_cart"
	FlowAbandonedCheckout = "abandoned_checkout"
	FlowBrowseAbandonment = "browse_abandonment"
	FlowPostPurchase      = "post_purchase"
	FlowWinback           = "winback"
	FlowBackInStock       = "back_in_stock"
)

// DefaultIndustry is the benchmark tier used when the caller names none.
const DefaultIndustry = "apparel_accessories"

// FlowBenchmark is the reference performance of one flow type. Rates are
// percent.
type FlowBenchmark struct {
	OpenRate            float64
	ClickRate           float64
	ConversionRate      float64
	RevenuePerRecipient float64
}

// DeliverabilityThresholds are the percent ceilings above which a campaign
// aggregate flags a deliverability issue.
type DeliverabilityThresholds struct {
	SpamRate        float64
	UnsubscribeRate float64
	BounceRate      float64
}

// SegmentTrack is one tier of the engagement segmentation model.
type SegmentTrack struct {
	Name       string
	Definition string
	Treatment  string
}

// Table is the per-industry reference set.
type Table struct {
	Industry           string
	CampaignOpenRate   float64
	CampaignClickRate  float64
	CampaignConversion float64
	AttributedShare    float64 // healthy flow+campaign share of total revenue, percent
	Flows              map[string]FlowBenchmark
	Deliverability     DeliverabilityThresholds
	Segmentation       []SegmentTrack
}

// fiveTrackModel is the segmentation template recommended when engagement
// splits demand it.
var fiveTrackModel = []SegmentTrack{
	{
		Name:       "Highly engaged",
		Definition: "Opened or clicked within 30 days",
		Treatment:  "Full send cadence, early access and launches",
	},
	{
		Name:       "Moderately engaged",
		Definition: "Opened or clicked within 31-90 days",
		Treatment:  "Standard cadence, strongest offers only",
	},
	{
		Name:       "Broadly engaged",
		Definition: "Opened or clicked within 91-180 days",
		Treatment:  "Reduced cadence, re-engagement content",
	},
	{
		Name:       "Unengaged",
		Definition: "No opens or clicks in 180+ days",
		Treatment:  "Sunset series before suppression",
	},
	{
		Name:       "Suppressed",
		Definition: "Sunset completed without re-engagement",
		Treatment:  "Excluded from sends to protect deliverability",
	},
}

var defaultDeliverability = DeliverabilityThresholds{
	SpamRate:        0.02,
	UnsubscribeRate: 0.15,
	BounceRate:      0.50,
}

// tables holds the built-in industry tiers. Rates are percent.
var tables = map[string]Table{
	"apparel_accessories": {
		Industry:           "apparel_accessories",
		CampaignOpenRate:   44.5,
		CampaignClickRate:  1.66,
		CampaignConversion: 0.09,
		AttributedShare:    30,
		Flows: map[string]FlowBenchmark{
			FlowWelcomeSeries:     {OpenRate: 56.0, ClickRate: 5.6, ConversionRate: 2.3, RevenuePerRecipient: 2.46},
			FlowAbandonedCart:     {OpenRate: 52.0, ClickRate: 6.3, ConversionRate: 3.0, RevenuePerRecipient: 3.58},
			FlowAbandonedCheckout: {OpenRate: 52.0, ClickRate: 6.3, ConversionRate: 3.3, RevenuePerRecipient: 3.88},
			FlowBrowseAbandonment: {OpenRate: 55.0, ClickRate: 5.0, ConversionRate: 0.9, RevenuePerRecipient: 1.02},
			FlowPostPurchase:      {OpenRate: 61.0, ClickRate: 3.7, ConversionRate: 0.7, RevenuePerRecipient: 0.82},
			FlowWinback:           {OpenRate: 36.0, ClickRate: 2.5, ConversionRate: 0.4, RevenuePerRecipient: 0.45},
			FlowBackInStock:       {OpenRate: 65.0, ClickRate: 9.0, ConversionRate: 3.8, RevenuePerRecipient: 4.10},
		},
		Deliverability: defaultDeliverability,
		Segmentation:   fiveTrackModel,
	},
	"health_beauty": {
		Industry:           "health_beauty",
		CampaignOpenRate:   42.1,
		CampaignClickRate:  1.45,
		CampaignConversion: 0.11,
		AttributedShare:    32,
		Flows: map[string]FlowBenchmark{
			FlowWelcomeSeries:     {OpenRate: 54.0, ClickRate: 5.2, ConversionRate: 2.6, RevenuePerRecipient: 2.61},
			FlowAbandonedCart:     {OpenRate: 50.5, ClickRate: 6.0, ConversionRate: 3.4, RevenuePerRecipient: 3.72},
			FlowAbandonedCheckout: {OpenRate: 50.5, ClickRate: 6.0, ConversionRate: 3.6, RevenuePerRecipient: 3.95},
			FlowBrowseAbandonment: {OpenRate: 53.0, ClickRate: 4.7, ConversionRate: 1.0, RevenuePerRecipient: 1.10},
			FlowPostPurchase:      {OpenRate: 59.5, ClickRate: 3.4, ConversionRate: 0.9, RevenuePerRecipient: 0.95},
			FlowWinback:           {OpenRate: 34.0, ClickRate: 2.2, ConversionRate: 0.5, RevenuePerRecipient: 0.52},
			FlowBackInStock:       {OpenRate: 63.0, ClickRate: 8.4, ConversionRate: 4.1, RevenuePerRecipient: 4.35},
		},
		Deliverability: defaultDeliverability,
		Segmentation:   fiveTrackModel,
	},
	"home_garden": {
		Industry:           "home_garden",
		CampaignOpenRate:   46.2,
		CampaignClickRate:  1.91,
		CampaignConversion: 0.08,
		AttributedShare:    28,
		Flows: map[string]FlowBenchmark{
			FlowWelcomeSeries:     {OpenRate: 57.5, ClickRate: 6.1, ConversionRate: 2.0, RevenuePerRecipient: 2.30},
			FlowAbandonedCart:     {OpenRate: 53.5, ClickRate: 6.8, ConversionRate: 2.7, RevenuePerRecipient: 3.41},
			FlowAbandonedCheckout: {OpenRate: 53.5, ClickRate: 6.8, ConversionRate: 2.9, RevenuePerRecipient: 3.60},
			FlowBrowseAbandonment: {OpenRate: 56.5, ClickRate: 5.5, ConversionRate: 0.8, RevenuePerRecipient: 0.96},
			FlowPostPurchase:      {OpenRate: 62.5, ClickRate: 4.0, ConversionRate: 0.6, RevenuePerRecipient: 0.74},
			FlowWinback:           {OpenRate: 37.5, ClickRate: 2.8, ConversionRate: 0.3, RevenuePerRecipient: 0.39},
			FlowBackInStock:       {OpenRate: 66.0, ClickRate: 9.6, ConversionRate: 3.5, RevenuePerRecipient: 3.92},
		},
		Deliverability: defaultDeliverability,
		Segmentation:   fiveTrackModel,
	},
}

// ForIndustry returns the benchmark table for the given key, falling back
// to the default tier for unknown industries.
func ForIndustry(key string) Table {
	if t, ok := tables[key]; ok {
		return t
	}
	t := tables[DefaultIndustry]
	return t
}

// Industries lists the known benchmark keys.
func Industries() []string {
	keys := make([]string, 0, len(tables))
	for k := range tables {
		keys = append(keys, k)
	}
	return keys
}
