package diagnostics

import (
	"fmt"
	"strings"

	"github.com/andzen/prospect-audit/internal/benchmarks"
	"github.com/andzen/prospect-audit/internal/klaviyo"
)

// requiredFlowTypes is the ecosystem every e-commerce account should run.
var requiredFlowTypes = []string{
	benchmarks.FlowWelcomeSeries,
	benchmarks.FlowAbandonedCart,
	benchmarks.FlowBrowseAbandonment,
	benchmarks.FlowPostPurchase,
}

// missingFlowSeverity grades a gap: cart and post-purchase flows drive the
// most revenue, so their absence is high.
var missingFlowSeverity = map[string]Severity{
	benchmarks.FlowWelcomeSeries:     SeverityMedium,
	benchmarks.FlowAbandonedCart:     SeverityHigh,
	benchmarks.FlowBrowseAbandonment: SeverityMedium,
	benchmarks.FlowPostPurchase:      SeverityHigh,
}

// flowKeywords maps each flow type to its name patterns. Order matters:
// browse abandonment and checkout are matched before the generic cart
// patterns, because "abandoned" alone is ambiguous.
var flowKeywords = []struct {
	Type     string
	Keywords []string
	Prefixes []string
}{
	{benchmarks.FlowBrowseAbandonment, []string{"browse abandon", "browse aband", "viewed product"}, []string{"ba-"}},
	{benchmarks.FlowAbandonedCheckout, []string{"abandoned checkout", "checkout abandon", "checkout"}, nil},
	{benchmarks.FlowAbandonedCart, []string{"abandoned cart", "cart abandon", "added to cart", "abandon"}, []string{"ac-", "atc-"}},
	{benchmarks.FlowWelcomeSeries, []string{"welcome", "new subscriber", "signup series"}, []string{"ns-"}},
	{benchmarks.FlowPostPurchase, []string{"post purchase", "post-purchase", "thank you", "customer thank"}, []string{"pp-"}},
	{benchmarks.FlowWinback, []string{"winback", "win back", "win-back", "lapsed"}, nil},
	{benchmarks.FlowBackInStock, []string{"back in stock", "restock"}, []string{"bis-"}},
}

// ClassifyFlowType pattern-matches a flow name to a known type. The
// abandoned-checkout variant counts as abandoned cart for ecosystem
// purposes but is identified before the cart patterns when "checkout"
// appears, and browse abandonment is matched before either.
func ClassifyFlowType(name string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(name))
	for _, entry := range flowKeywords {
		for _, kw := range entry.Keywords {
			if strings.Contains(lower, kw) {
				return entry.Type, true
			}
		}
		for _, prefix := range entry.Prefixes {
			if strings.HasPrefix(lower, prefix) {
				return entry.Type, true
			}
		}
	}
	return "", false
}

// ecosystemType folds the checkout variant into the cart slot when
// checking the required set.
func ecosystemType(flowType string) string {
	if flowType == benchmarks.FlowAbandonedCheckout {
		return benchmarks.FlowAbandonedCart
	}
	return flowType
}

// CheckFlowEcosystem inspects the live flow set for missing required types,
// duplicates, zero-delivery flows and count anomalies.
func CheckFlowEcosystem(flows []klaviyo.FlowSummary) []Diagnostic {
	var out []Diagnostic

	liveByType := map[string][]klaviyo.FlowSummary{}
	for _, f := range flows {
		if f.Status != klaviyo.FlowLive {
			continue
		}
		if t, ok := ClassifyFlowType(f.Name); ok {
			key := ecosystemType(t)
			liveByType[key] = append(liveByType[key], f)
		}
	}

	for _, required := range requiredFlowTypes {
		if len(liveByType[required]) == 0 {
			out = append(out, New(KindMissingFlow, missingFlowSeverity[required],
				fmt.Sprintf("Build a %s flow; accounts running one see meaningful incremental revenue.", flowTypeLabel(required)),
				map[string]interface{}{"flow_type": required}))
		}
	}

	for flowType, group := range liveByType {
		if len(group) < 2 {
			continue
		}
		names := make([]string, len(group))
		for i, f := range group {
			names[i] = f.Name
		}
		out = append(out, New(KindDuplicateFlow, SeverityMedium,
			"Consolidate duplicate flows so recipients do not receive competing sequences.",
			map[string]interface{}{"flow_type": flowType, "flows": names}))
	}

	for _, f := range flows {
		if f.Status != klaviyo.FlowLive {
			continue
		}
		stats := f.Statistics
		if stats.Recipients == 0 {
			if stats.Opens > 0 || stats.Clicks > 0 || stats.Conversions > 0 {
				out = append(out, New(KindDataAnomaly, SeverityHigh,
					"Reporting shows engagement without recipients; treat this flow's analytics as unreliable until re-synced.",
					map[string]interface{}{
						"flow_id": f.ID, "flow_name": f.Name,
						"opens": stats.Opens, "clicks": stats.Clicks, "conversions": stats.Conversions,
					}))
				continue
			}
			out = append(out, New(KindZeroDeliveries, SeverityCritical,
				"A live flow delivered nothing over the window; check the trigger, filters and message status.",
				map[string]interface{}{"flow_id": f.ID, "flow_name": f.Name}))
		}
	}

	return out
}

func flowTypeLabel(t string) string {
	return strings.ReplaceAll(t, "_", " ")
}
