package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/iago/fitcoach-back/internal/domain"
	"github.com/iago/fitcoach-back/internal/http/middleware"
	"github.com/iago/fitcoach-back/internal/repository"
	"github.com/iago/fitcoach-back/internal/service"
)

type submitRequest struct {
	Kind       domain.JobKind          `json:"kind"`
	Params     domain.GenerationParams `json:"params"`
	Regenerate bool                    `json:"regenerate,omitempty"`
}

type jobView struct {
	JobID     string           `json:"job_id"`
	Kind      domain.JobKind   `json:"kind"`
	Status    domain.JobStatus `json:"status"`
	Attempts  int              `json:"attempts"`
	CacheHit  bool             `json:"cache_hit"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	ExpiresAt time.Time        `json:"expires_at"`
	StatusURL string           `json:"status_url"`
	Result    json.RawMessage  `json:"result,omitempty"`
	Error     *domain.JobError `json:"error,omitempty"`
}

func newJobView(job *domain.Job) jobView {
	view := jobView{
		JobID:     job.ID,
		Kind:      job.Kind,
		Status:    job.Status,
		Attempts:  job.Attempts,
		CacheHit:  job.CacheHit,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
		ExpiresAt: job.ExpiresAt,
		StatusURL: "/v1/jobs/" + job.ID,
		Error:     job.Error,
	}
	if job.Status == domain.JobStatusCompleted && len(job.Result) > 0 {
		view.Result = job.Result
	}
	return view
}

func (api *API) SubmitJob(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())

	var request submitRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if request.Kind != "" {
		request.Params.Kind = request.Kind
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	scopedKey := ownerID + "|" + idempotencyKey
	payloadHash := hashPayload(request)
	if idempotencyKey != "" {
		if entry, exists := api.idempotency.Get(scopedKey); exists {
			if entry.PayloadHash != payloadHash {
				writeError(w, r, http.StatusConflict, "idempotency_conflict", "Idempotency-Key already used with different payload")
				return
			}
			job, err := api.jobs.GetJob(r.Context(), ownerID, entry.JobID)
			if err == nil {
				writeSubmitted(w, job)
				return
			}
			if !errors.Is(err, repository.ErrNotFound) {
				writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load job")
				return
			}
		}
	}

	job, err := api.jobs.Submit(r.Context(), service.SubmitRequest{
		OwnerID:    ownerID,
		Params:     request.Params,
		Regenerate: request.Regenerate,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		api.logger.Error().Err(err).Str("request_id", middleware.GetRequestID(r.Context())).Msg("submit job failed")
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to submit job")
		return
	}

	if idempotencyKey != "" {
		api.idempotency.Put(scopedKey, payloadHash, job.ID)
	}
	writeSubmitted(w, job)
}

func writeSubmitted(w http.ResponseWriter, job *domain.Job) {
	if job.Status == domain.JobStatusCompleted {
		writeJSON(w, http.StatusOK, newJobView(job))
		return
	}
	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	w.Header().Set("Retry-After", "2")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     job.ID,
		"status":     job.Status,
		"status_url": "/v1/jobs/" + job.ID,
	})
}

func (api *API) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "jobID"))
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job_id is required")
		return
	}

	job, err := api.jobs.GetJob(r.Context(), middleware.GetOwnerID(r.Context()), jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "job not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load job")
		return
	}

	if !job.Status.Terminal() {
		w.Header().Set("Retry-After", "2")
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

func (api *API) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.JobListFilter{
		OwnerID:  middleware.GetOwnerID(r.Context()),
		Kind:     domain.JobKind(strings.TrimSpace(query.Get("kind"))),
		Status:   domain.JobStatus(strings.TrimSpace(query.Get("status"))),
		Page:     1,
		PageSize: 20,
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "unknown kind")
		return
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "unknown status")
		return
	}
	var ok bool
	if filter.Page, ok = parsePositive(query.Get("page"), 1, 10000); !ok {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "page must be a positive integer")
		return
	}
	if filter.PageSize, ok = parsePositive(query.Get("page_size"), 20, 100); !ok {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "page_size must be between 1 and 100")
		return
	}

	items, total, err := api.jobs.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to list jobs")
		return
	}

	views := make([]map[string]any, 0, len(items))
	for _, item := range items {
		views = append(views, map[string]any{
			"job_id":     item.JobID,
			"kind":       item.Kind,
			"status":     item.Status,
			"created_at": item.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":     views,
		"page":      filter.Page,
		"page_size": filter.PageSize,
		"total":     total,
	})
}

func parsePositive(raw string, fallback, max int) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 || value > max {
		return 0, false
	}
	return value, true
}
