package diagnostics

import (
	"fmt"

	"github.com/andzen/prospect-audit/internal/klaviyo"
)

// FormCategory buckets a form by submit rate and traffic.
type FormCategory string

const (
	FormHighPerformer FormCategory = "high_performer"
	FormUnderperform  FormCategory = "underperformer"
	FormInactive      FormCategory = "inactive"
	FormAverage       FormCategory = "average"
)

// CategorizeForm buckets one form. Inactivity wins over rate checks since a
// zero-impression form has no meaningful rate.
func CategorizeForm(f klaviyo.FormSummary) FormCategory {
	switch {
	case f.Impressions == 0:
		return FormInactive
	case f.SubmitRate >= 5:
		return FormHighPerformer
	case f.SubmitRate < 3 && f.Impressions > 100:
		return FormUnderperform
	default:
		return FormAverage
	}
}

// DedupeForms removes duplicate entries, preferring id identity and falling
// back to exact-name matching for forms the API returned without ids. The
// first occurrence wins.
func DedupeForms(forms []klaviyo.FormSummary) []klaviyo.FormSummary {
	seenID := map[string]bool{}
	seenName := map[string]bool{}
	out := make([]klaviyo.FormSummary, 0, len(forms))
	for _, f := range forms {
		if f.ID != "" {
			if seenID[f.ID] {
				continue
			}
			seenID[f.ID] = true
		} else {
			if seenName[f.Name] {
				continue
			}
			seenName[f.Name] = true
		}
		out = append(out, f)
	}
	return out
}

// ActiveForms is the primary presentation table: deduplicated, with
// zero-impression forms dropped.
func ActiveForms(forms []klaviyo.FormSummary) []klaviyo.FormSummary {
	deduped := DedupeForms(forms)
	out := make([]klaviyo.FormSummary, 0, len(deduped))
	for _, f := range deduped {
		if f.Impressions > 0 {
			out = append(out, f)
		}
	}
	return out
}

// CheckForms emits one diagnostic per underperforming form. High performers
// and inactive forms are reported through the form table, not as findings.
func CheckForms(forms []klaviyo.FormSummary) []Diagnostic {
	var out []Diagnostic
	for _, f := range DedupeForms(forms) {
		if CategorizeForm(f) != FormUnderperform {
			continue
		}
		out = append(out, New(KindFormUnderperformer, SeverityMedium,
			fmt.Sprintf("Form %q converts %.2f%% of %d impressions; test the offer, timing and targeting.", f.Name, f.SubmitRate, f.Impressions),
			map[string]interface{}{
				"form_id":     f.ID,
				"form_name":   f.Name,
				"impressions": f.Impressions,
				"submissions": f.Submissions,
				"submit_rate": f.SubmitRate,
			}))
	}
	return out
}
