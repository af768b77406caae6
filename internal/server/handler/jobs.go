package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/prenews/internal/domain"
)

// JobTrigger runs a registered job once.
type JobTrigger interface {
	Trigger(ctx context.Context, name, limitArg string) (any, error)
}

// JobHistory reads recent job events, newest first.
type JobHistory interface {
	StreamLatest(ctx context.Context, stream string, count int) ([]domain.StreamMessage, error)
}

// AuditLister lists audit entries.
type AuditLister interface {
	List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error)
}

// JobHandler exposes manual job triggers and run history. History and audit
// are optional.
type JobHandler struct {
	names   []string
	trigger JobTrigger
	history JobHistory
	audit   AuditLister
	logger  *slog.Logger

	async context.Context
}

// NewJobHandler creates a JobHandler. Async runs are bound to base, so they
// stop when the server shuts down.
func NewJobHandler(base context.Context, names []string, trigger JobTrigger, history JobHistory, audit AuditLister, logger *slog.Logger) *JobHandler {
	return &JobHandler{
		names:   names,
		trigger: trigger,
		history: history,
		audit:   audit,
		logger:  logger,
		async:   base,
	}
}

type triggerResponse struct {
	Job    string `json:"job"`
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
}

// Trigger runs a job. With async=true the run is started in the background
// and 202 is returned immediately.
// POST /api/jobs/{name}?limit=50&async=true
func (h *JobHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	limit := r.URL.Query().Get("limit")
	runID := uuid.NewString()
	log := h.logger.With(slog.String("job", name), slog.String("run_id", runID))

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		go func() {
			if _, err := h.trigger.Trigger(h.async, name, limit); err != nil {
				log.Error("async job failed", slog.String("error", err.Error()))
			}
		}()
		writeJSON(w, http.StatusAccepted, triggerResponse{Job: name, RunID: runID, Status: "accepted"})
		return
	}

	log.InfoContext(r.Context(), "manual job trigger")
	result, err := h.trigger.Trigger(r.Context(), name, limit)
	if err != nil {
		fail(w, r, h.logger, "job failed", err)
		return
	}
	writeJSON(w, http.StatusOK, triggerResponse{Job: name, RunID: runID, Status: "succeeded", Result: result})
}

// List returns the registered jobs and the most recent run events.
// GET /api/jobs?limit=20
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		fail(w, r, h.logger, "invalid limit", err)
		return
	}
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	events := []domain.JobEvent{}
	if h.history != nil {
		msgs, err := h.history.StreamLatest(r.Context(), domain.StreamJobs, limit)
		if err != nil {
			fail(w, r, h.logger, "failed to read job history", err)
			return
		}
		for _, m := range msgs {
			var ev domain.JobEvent
			if err := json.Unmarshal(m.Payload, &ev); err != nil {
				h.logger.WarnContext(r.Context(), "skipping malformed job event",
					slog.String("id", m.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			events = append(events, ev)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": h.names, "recent": events})
}

type runEntry struct {
	ID        int64          `json:"id"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Runs lists audited runs of one job, newest first.
// GET /api/jobs/{name}/runs?limit=20&offset=0
func (h *JobHandler) Runs(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		fail(w, r, h.logger, "audit log unavailable", domain.ErrNotConfigured)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		fail(w, r, h.logger, "invalid limit", err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		fail(w, r, h.logger, "invalid offset", err)
		return
	}
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := h.audit.List(r.Context(), domain.AuditFilter{
		Event:    "job." + r.PathValue("name"),
		ListOpts: domain.ListOpts{Limit: limit, Offset: offset},
	})
	if err != nil {
		fail(w, r, h.logger, "failed to list runs", err)
		return
	}
	out := make([]runEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, runEntry{ID: e.ID, Detail: e.Detail, CreatedAt: e.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": r.PathValue("name"), "runs": out})
}
