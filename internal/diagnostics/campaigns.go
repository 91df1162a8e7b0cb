package diagnostics

import (
	"github.com/andzen/prospect-audit/internal/benchmarks"
	"github.com/andzen/prospect-audit/internal/klaviyo"
)

// CampaignPattern names the quadrant a campaign aggregate falls into
// relative to the industry open/click benchmarks.
type CampaignPattern string

const (
	PatternHighOpenLowClick      CampaignPattern = "high_open_low_click"
	PatternLowOpenHighClick      CampaignPattern = "low_open_high_click"
	PatternUnderperformingOveral CampaignPattern = "underperforming_overall"
	PatternPerformingWell        CampaignPattern = "performing_well"
)

// ClassifyCampaignPattern compares aggregate open/click rates against the
// benchmarks. The high-open-low-click quadrant is checked first so strong
// openers with weak clicks are not masked by the overall check.
func ClassifyCampaignPattern(openRate, clickRate float64, bench benchmarks.Table) CampaignPattern {
	bOpen, bClick := bench.CampaignOpenRate, bench.CampaignClickRate
	switch {
	case openRate >= 0.9*bOpen && clickRate < 0.7*bClick:
		return PatternHighOpenLowClick
	case openRate < 0.8*bOpen && clickRate >= 0.9*bClick:
		return PatternLowOpenHighClick
	case openRate < 0.8*bOpen && clickRate < 0.7*bClick:
		return PatternUnderperformingOveral
	default:
		return PatternPerformingWell
	}
}

var patternRecommendations = map[CampaignPattern]string{
	PatternHighOpenLowClick:      "Subject lines land but content does not convert attention into clicks; vary creative and narrow the send audience.",
	PatternLowOpenHighClick:      "An engaged core is diluted by an unengaged list; tighten the sending segment before the next campaign.",
	PatternUnderperformingOveral: "Both opens and clicks trail the industry; rework segmentation, cadence and creative together.",
}

var patternSeverity = map[CampaignPattern]Severity{
	PatternHighOpenLowClick:      SeverityMedium,
	PatternLowOpenHighClick:      SeverityMedium,
	PatternUnderperformingOveral: SeverityCritical,
}

// CheckCampaignPerformance diagnoses the campaign aggregate: pattern
// quadrant, deliverability ceilings and, when either flags trouble, a
// segmentation recommendation built from the five-track model.
func CheckCampaignPerformance(agg klaviyo.Statistics, bench benchmarks.Table) []Diagnostic {
	var out []Diagnostic

	pattern := ClassifyCampaignPattern(agg.OpenRate, agg.ClickRate, bench)
	if pattern != PatternPerformingWell {
		out = append(out, New(KindCampaignPattern, patternSeverity[pattern],
			patternRecommendations[pattern],
			map[string]interface{}{
				"pattern":              string(pattern),
				"open_rate":            agg.OpenRate,
				"click_rate":           agg.ClickRate,
				"benchmark_open_rate":  bench.CampaignOpenRate,
				"benchmark_click_rate": bench.CampaignClickRate,
			}))
	}

	deliverability := checkDeliverability(agg, bench.Deliverability)
	out = append(out, deliverability...)

	if len(deliverability) > 0 || pattern == PatternHighOpenLowClick || pattern == PatternLowOpenHighClick {
		out = append(out, segmentationNeeded(bench))
	}

	return out
}

// checkDeliverability flags any aggregate rate above its ceiling. Rates and
// thresholds are both percent.
func checkDeliverability(agg klaviyo.Statistics, t benchmarks.DeliverabilityThresholds) []Diagnostic {
	var out []Diagnostic
	if agg.SpamRate > t.SpamRate {
		out = append(out, New(KindDeliverabilityIssue, SeverityHigh,
			"Spam complaints exceed the safe ceiling; pause broad sends and re-permission the list.",
			map[string]interface{}{"metric": "spam_complaint_rate", "value": agg.SpamRate, "threshold": t.SpamRate}))
	}
	if agg.UnsubscribeRate > t.UnsubscribeRate {
		out = append(out, New(KindDeliverabilityIssue, SeverityMedium,
			"Unsubscribes exceed the safe ceiling; reduce frequency for colder segments.",
			map[string]interface{}{"metric": "unsubscribe_rate", "value": agg.UnsubscribeRate, "threshold": t.UnsubscribeRate}))
	}
	if agg.BounceRate > t.BounceRate {
		out = append(out, New(KindDeliverabilityIssue, SeverityHigh,
			"Bounces exceed the safe ceiling; run list hygiene before the next send.",
			map[string]interface{}{"metric": "bounce_rate", "value": agg.BounceRate, "threshold": t.BounceRate}))
	}
	return out
}

func segmentationNeeded(bench benchmarks.Table) Diagnostic {
	tracks := make([]map[string]interface{}, len(bench.Segmentation))
	for i, t := range bench.Segmentation {
		tracks[i] = map[string]interface{}{
			"name":       t.Name,
			"definition": t.Definition,
			"treatment":  t.Treatment,
		}
	}
	return New(KindSegmentationNeeded, SeverityHigh,
		"Adopt engagement-tiered sending so each track receives a cadence its behavior supports.",
		map[string]interface{}{"model": tracks})
}
