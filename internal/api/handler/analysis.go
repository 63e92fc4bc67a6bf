package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/rockwatch/internal/api/response"
	"github.com/kiranshivaraju/rockwatch/internal/executor"
	"github.com/kiranshivaraju/rockwatch/internal/orchestrator"
	"github.com/kiranshivaraju/rockwatch/internal/registry"
	"github.com/kiranshivaraju/rockwatch/internal/store"
	"github.com/kiranshivaraju/rockwatch/pkg/models"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	// maxPage keeps (page-1)*limit within int.
	maxPage = math.MaxInt / maxPageLimit
)

// Analyses is the live job surface the handlers depend on.
type Analyses interface {
	Submit(req orchestrator.SubmitRequest) (models.Job, error)
	Cancel(id string) bool
	GetStatus(id string) (models.Job, bool)
	List(status models.JobStatus) []models.Job
	Kinds() []string
}

// SnapshotCache serves job snapshots mirrored in Redis.
type SnapshotCache interface {
	GetJob(ctx context.Context, jobID string) (models.Job, bool, error)
}

// History serves persisted jobs, including those from earlier runs.
type History interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]models.Job, int, error)
}

// AnalysisHandler serves /api/v1/analyses. Cache and History are optional.
type AnalysisHandler struct {
	Analyses Analyses
	Cache    SnapshotCache
	History  History
}

type submitRequest struct {
	ID              string         `json:"id"`
	Kind            string         `json:"kind"`
	Parameters      map[string]any `json:"parameters"`
	InputReferences []string       `json:"input_references"`
	Room            string         `json:"room"`
}

// Submit handles POST /api/v1/analyses.
func (h *AnalysisHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body", nil)
		return
	}
	if req.Kind == "" {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "kind is required", nil)
		return
	}

	job, err := h.Analyses.Submit(orchestrator.SubmitRequest{
		ID:              req.ID,
		Kind:            req.Kind,
		Parameters:      req.Parameters,
		InputReferences: req.InputReferences,
		Room:            req.Room,
	})
	switch {
	case err == nil:
		response.Accepted(w, job)
	case errors.Is(err, executor.ErrUnknownKind):
		response.Error(w, http.StatusBadRequest, response.CodeUnknownKind,
			"Unsupported analysis kind", map[string]any{"supported": h.Analyses.Kinds()})
	case errors.Is(err, orchestrator.ErrInvalidID):
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest,
			"id must be 1-128 characters of letters, digits, '-' or '_'", nil)
	case errors.Is(err, registry.ErrDuplicate):
		response.Error(w, http.StatusConflict, response.CodeConflict, "A job with this id already exists", nil)
	default:
		slog.Error("failed to submit analysis", "kind", req.Kind, "error", err)
		response.Error(w, http.StatusInternalServerError, response.CodeInternal, "An unexpected error occurred", nil)
	}
}

// List handles GET /api/v1/analyses. With history=true and persistence
// configured, it pages through stored jobs instead of the live registry.
func (h *AnalysisHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := models.JobStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Unknown status filter", nil)
		return
	}
	page, limit, ok := parsePage(q.Get("page"), q.Get("limit"))
	if !ok {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "page and limit must be positive integers within range", nil)
		return
	}

	if q.Get("history") == "true" && h.History != nil {
		jobs, total, err := h.History.ListJobs(r.Context(), store.JobFilter{
			Status: status,
			Kind:   q.Get("kind"),
			Room:   q.Get("room"),
			Page:   page,
			Limit:  limit,
		})
		if err != nil {
			slog.Error("failed to list stored analyses", "error", err)
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "An unexpected error occurred", nil)
			return
		}
		response.Collection(w, nonNil(jobs), response.NewPaginationMeta(page, limit, total))
		return
	}

	jobs := h.Analyses.List(status)
	total := len(jobs)
	start := min((page-1)*limit, total)
	end := min(start+limit, total)
	response.Collection(w, nonNil(jobs[start:end]), response.NewPaginationMeta(page, limit, total))
}

// Get handles GET /api/v1/analyses/{jobID}. The live registry wins, then
// the Redis snapshot, then Postgres.
func (h *AnalysisHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")

	if job, ok := h.Analyses.GetStatus(id); ok {
		response.JSON(w, job)
		return
	}

	if h.Cache != nil {
		job, ok, err := h.Cache.GetJob(r.Context(), id)
		if err != nil {
			slog.Warn("job snapshot lookup failed", "job_id", id, "error", err)
		} else if ok {
			response.JSON(w, job)
			return
		}
	}

	if h.History != nil {
		job, err := h.History.GetJob(r.Context(), id)
		switch {
		case err == nil:
			response.JSON(w, job)
			return
		case !errors.Is(err, store.ErrNotFound):
			slog.Error("failed to load stored analysis", "job_id", id, "error", err)
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "An unexpected error occurred", nil)
			return
		}
	}

	response.Error(w, http.StatusNotFound, response.CodeNotFound, "Analysis not found", nil)
}

// Cancel handles DELETE /api/v1/analyses/{jobID}.
func (h *AnalysisHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if !h.Analyses.Cancel(id) {
		response.Error(w, http.StatusNotFound, response.CodeNotFound,
			"Analysis not found or already finished", nil)
		return
	}
	job, _ := h.Analyses.GetStatus(id)
	response.JSON(w, job)
}

func parsePage(pageStr, limitStr string) (page, limit int, ok bool) {
	page, limit = 1, defaultPageLimit
	if pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p < 1 || p > maxPage {
			return 0, 0, false
		}
		page = p
	}
	if limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 1 {
			return 0, 0, false
		}
		limit = min(l, maxPageLimit)
	}
	return page, limit, true
}

func nonNil(jobs []models.Job) []models.Job {
	if jobs == nil {
		return []models.Job{}
	}
	return jobs
}
