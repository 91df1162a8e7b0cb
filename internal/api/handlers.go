package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/andzen/prospect-audit/internal/audit"
	"github.com/andzen/prospect-audit/internal/config"
	"github.com/andzen/prospect-audit/internal/pkg/distlock"
	"github.com/andzen/prospect-audit/internal/pkg/httputil"
	"github.com/andzen/prospect-audit/internal/pkg/logger"
	"github.com/andzen/prospect-audit/internal/storage"
)

// Runner executes one audit run; *audit.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, opts audit.Options) (*audit.Bundle, error)
}

// runState tracks an in-flight or recently finished run.
type runState struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"` // running, completed, failed
	StartedAt time.Time `json:"started_at"`
	RunID     string    `json:"run_id,omitempty"` // bundle id once completed
	Error     string    `json:"error,omitempty"`
}

// Handlers serves the audit API. Runs execute in the background; completed
// bundles land in the store.
type Handlers struct {
	runner   Runner
	store    *storage.Store
	defaults config.AuditConfig

	// RunLock, when set, keeps runs exclusive across processes. The rate
	// budget is account-scoped; concurrent runs starve each other.
	RunLock distlock.Lock

	mu   sync.Mutex
	runs map[string]*runState
}

// NewHandlers creates the handler set.
func NewHandlers(runner Runner, store *storage.Store, defaults config.AuditConfig) *Handlers {
	return &Handlers{
		runner:   runner,
		store:    store,
		defaults: defaults,
		runs:     map[string]*runState{},
	}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

// startRequest is the POST /api/audits body. All fields are optional;
// configured defaults fill the gaps.
type startRequest struct {
	Days            int    `json:"days,omitempty"`
	Start           string `json:"start,omitempty"`
	End             string `json:"end,omitempty"`
	GrowthMonths    int    `json:"growth_months,omitempty"`
	ListID          string `json:"list_id,omitempty"`
	Industry        string `json:"industry,omitempty"`
	FastMode        *bool  `json:"fast_mode,omitempty"`
	IncludeEnhanced *bool  `json:"include_enhanced,omitempty"`
	VerboseProgress bool   `json:"verbose_progress,omitempty"`
}

// StartAudit kicks off a run in the background and returns its tracking id.
// A run already holding the lock yields 409.
func (h *Handlers) StartAudit(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.Body != nil && r.ContentLength != 0 {
		if !httputil.Decode(w, r, &req) {
			return
		}
	}

	opts := audit.Options{
		Days:            req.Days,
		Start:           req.Start,
		End:             req.End,
		GrowthMonths:    req.GrowthMonths,
		ListID:          req.ListID,
		Industry:        req.Industry,
		FastMode:        h.defaults.FastMode,
		IncludeEnhanced: req.IncludeEnhanced,
		VerboseProgress: req.VerboseProgress,
	}
	if opts.Days == 0 {
		opts.Days = h.defaults.WindowDays
	}
	if opts.GrowthMonths == 0 {
		opts.GrowthMonths = h.defaults.GrowthMonths
	}
	if opts.Industry == "" {
		opts.Industry = h.defaults.Industry
	}
	if req.FastMode != nil {
		opts.FastMode = *req.FastMode
	}

	if h.RunLock != nil {
		held, err := h.RunLock.Acquire(r.Context())
		if err != nil {
			// The lock is protection, never a dependency.
			logger.Warn("api", "run_lock_unavailable", "error", err.Error())
		} else if !held {
			httputil.Conflict(w, "an audit is already running")
			return
		}
	}

	state := &runState{
		ID:        uuid.New().String(),
		Status:    "running",
		StartedAt: time.Now().UTC(),
	}
	h.mu.Lock()
	h.runs[state.ID] = state
	h.mu.Unlock()

	go h.execute(state.ID, opts)

	httputil.Accepted(w, state)
}

// execute runs the audit outside the request lifetime.
func (h *Handlers) execute(id string, opts audit.Options) {
	if h.RunLock != nil {
		defer func() {
			if err := h.RunLock.Release(context.Background()); err != nil {
				logger.Warn("api", "run_lock_release_failed", "error", err.Error())
			}
		}()
	}

	bundle, err := h.runner.Run(context.Background(), opts)

	h.mu.Lock()
	defer h.mu.Unlock()
	state := h.runs[id]
	if state == nil {
		return
	}
	if err != nil {
		state.Status = "failed"
		state.Error = err.Error()
		logger.Error("api", "audit_failed", "run", id, "error", err.Error())
		return
	}
	if err := h.store.Save(bundle); err != nil {
		state.Status = "failed"
		state.Error = err.Error()
		logger.Error("api", "bundle_save_failed", "run", id, "error", err.Error())
		return
	}
	state.Status = "completed"
	state.RunID = bundle.RunID
}

// ListAudits returns in-flight runs and stored bundle summaries.
func (h *Handlers) ListAudits(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.store.List()
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	h.mu.Lock()
	active := make([]*runState, 0, len(h.runs))
	for _, state := range h.runs {
		active = append(active, state)
	}
	h.mu.Unlock()

	httputil.OK(w, map[string]interface{}{
		"runs":    active,
		"bundles": summaries,
	})
}

// GetAudit returns a stored bundle, or the run state while one is
// in flight under the given id.
func (h *Handlers) GetAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")

	bundle, err := h.store.Load(id)
	if err == nil {
		httputil.OK(w, bundle)
		return
	}

	h.mu.Lock()
	state := h.runs[id]
	h.mu.Unlock()
	if state != nil {
		if state.Status == "completed" {
			if bundle, err := h.store.Load(state.RunID); err == nil {
				httputil.OK(w, bundle)
				return
			}
		}
		httputil.OK(w, state)
		return
	}

	httputil.NotFound(w, "audit not found")
}

// DeleteAudit removes a stored bundle.
func (h *Handlers) DeleteAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	if err := h.store.Delete(id); err != nil {
		httputil.NotFound(w, "audit not found")
		return
	}
	httputil.OK(w, map[string]string{"status": "deleted"})
}
