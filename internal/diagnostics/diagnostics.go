// Package diagnostics classifies the extracted account data against the
// benchmark table. Diagnostics are derived, stateless values carrying no
// identity.
package diagnostics

// Kind names one class of finding.
type Kind string

const (
	KindMissingFlow          Kind = "missing_flow"
	KindDuplicateFlow        Kind = "duplicate_flow"
	KindZeroDeliveries       Kind = "zero_deliveries"
	KindDeliverabilityIssue  Kind = "deliverability_issue"
	KindCampaignPattern      Kind = "campaign_pattern"
	KindSegmentationNeeded   Kind = "segmentation_needed"
	KindFormUnderperformer   Kind = "form_underperformer"
	KindDataAnomaly          Kind = "data_anomaly"
	KindParseIncomplete      Kind = "parse_incomplete"
	KindMissingConversion    Kind = "missing_conversion_metric"
	KindCancelled            Kind = "cancelled"
)

// Severity orders findings for presentation.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Diagnostic is one finding: what was detected, how serious it is, the
// evidence behind it and what to do about it.
type Diagnostic struct {
	Kind           Kind                   `json:"kind"`
	Severity       Severity               `json:"severity"`
	Evidence       map[string]interface{} `json:"evidence,omitempty"`
	Recommendation string                 `json:"recommendation,omitempty"`
}

// New builds a diagnostic with an evidence map.
func New(kind Kind, severity Severity, recommendation string, evidence map[string]interface{}) Diagnostic {
	return Diagnostic{
		Kind:           kind,
		Severity:       severity,
		Evidence:       evidence,
		Recommendation: recommendation,
	}
}
