package audit

import (
	"context"

	"github.com/andzen/prospect-audit/internal/pkg/logger"
	"github.com/andzen/prospect-audit/internal/sanitize"
)

// Narrative is one narrated report section.
type Narrative struct {
	Primary         string   `json:"primary"`
	Secondary       string   `json:"secondary,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Narrator turns a section's data into prose. Implementations live outside
// the core; everything crossing this boundary is sanitized first.
type Narrator interface {
	Narrate(ctx context.Context, section string, data map[string]interface{}, accountContext map[string]interface{}) (Narrative, error)
}

// narrate runs the narrator over each section payload. Failures skip the
// section; narration never fails the audit.
func (o *Orchestrator) narrate(ctx context.Context, bundle *Bundle, sections map[string]map[string]interface{}) {
	if o.Narrator == nil {
		return
	}

	accountCtx := sanitize.Context(map[string]interface{}{
		"organization": bundle.Account.Organization,
		"industry":     bundle.Account.Industry,
		"currency":     bundle.Account.Currency,
	}).(map[string]interface{})

	narratives := make(map[string]Narrative, len(sections))
	for section, data := range sections {
		clean := sanitize.Context(data).(map[string]interface{})
		n, err := o.Narrator.Narrate(ctx, section, clean, accountCtx)
		if err != nil {
			logger.Warn("audit", logger.EventDataQuality,
				"reason", "narration_failed", "section", section, "error", err.Error())
			continue
		}
		narratives[section] = n
	}
	if len(narratives) > 0 {
		bundle.Narratives = narratives
	}
}
