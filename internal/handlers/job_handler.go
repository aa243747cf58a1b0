// -----------------------------------------------------------------------
// Job handler - REST surface over the coordinator and state store: create,
// list, preview, confirm, execute, cancel, rows, audit.
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/matt-hans/shipagent/internal/interfaces"
	"github.com/matt-hans/shipagent/internal/jobs/coordinator"
	"github.com/matt-hans/shipagent/internal/models"
	"github.com/matt-hans/shipagent/internal/storage/sqlite"
)

// JobHandler serves the /api/jobs routes
type JobHandler struct {
	coordinator *coordinator.Coordinator
	store       interfaces.StateStore
	logger      arbor.ILogger
}

func NewJobHandler(coord *coordinator.Coordinator, store interfaces.StateStore, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		coordinator: coord,
		store:       store,
		logger:      logger,
	}
}

// createJobRequest is the POST /api/jobs body
type createJobRequest struct {
	Command     string `json:"command"`
	Where       string `json:"where"`
	Summary     string `json:"summary"`
	ServiceCode string `json:"service_code"`
	Mode        string `json:"mode"`
	AutoConfirm bool   `json:"auto_confirm"`
}

// CreateJobHandler handles POST /api/jobs
func (h *JobHandler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	job, err := h.coordinator.CreateJob(r.Context(), coordinator.CreateRequest{
		Command:     req.Command,
		Where:       req.Where,
		Summary:     req.Summary,
		ServiceCode: req.ServiceCode,
		Mode:        models.JobMode(req.Mode),
		AutoConfirm: req.AutoConfirm,
	})
	if err != nil {
		h.writeErr(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, job)
}

// ListJobsHandler handles GET /api/jobs
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	page, pageSize := GetPaginationParams(r)
	jobs, total, err := h.store.ListJobs(r.Context(), interfaces.JobListOptions{
		Status:   r.URL.Query().Get("status"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		h.writeErr(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs": jobs,
		"pagination": PaginationResponse{
			Page:       page,
			PageSize:   pageSize,
			TotalItems: total,
		},
	})
}

// GetJobHandler handles GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// PreviewHandler handles POST /api/jobs/{id}/preview. Rates the filtered
// rows and returns the preview payload; on an auto-confirm job with a clean
// preview the response also carries the approval token.
func (h *JobHandler) PreviewHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	preview, token, err := h.coordinator.Preview(r.Context(), jobID)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	resp := map[string]interface{}{"preview": preview}
	if token != "" {
		resp["approval_token"] = token
	}
	WriteJSON(w, http.StatusOK, resp)
}

// ConfirmHandler handles POST /api/jobs/{id}/confirm. Issues the single-use
// approval token; it is returned here once and only its hash is stored.
func (h *JobHandler) ConfirmHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	token, job, err := h.coordinator.Approve(r.Context(), jobID)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"approval_token": token,
		"job":            job,
	})
}

// executeRequest is the POST /api/jobs/{id}/execute body
type executeRequest struct {
	ApprovalToken string `json:"approval_token"`
}

// ExecuteHandler handles POST /api/jobs/{id}/execute. Token and state are
// verified synchronously so the caller gets an immediate refusal; the batch
// itself runs on its own goroutine and is observed via events or polling.
func (h *JobHandler) ExecuteHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if job.Status != models.JobStatusApproved {
		WriteError(w, http.StatusConflict, "job is not approved")
		return
	}

	go func() {
		// Detached from the request: the batch outlives the HTTP exchange
		if _, err := h.coordinator.Execute(context.Background(), jobID, req.ApprovalToken); err != nil {
			h.logger.Warn().Str("job_id", jobID).Err(err).Msg("Job execution ended with error")
		}
	}()

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "started",
		"job_id": jobID,
	})
}

// CancelHandler handles POST /api/jobs/{id}/cancel
func (h *JobHandler) CancelHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if err := h.coordinator.Cancel(r.Context(), jobID); err != nil {
		h.writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"status": "success",
		"job_id": jobID,
	})
}

// RowsHandler handles GET /api/jobs/{id}/rows with optional status filter
// and pagination.
func (h *JobHandler) RowsHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if _, err := h.store.GetJob(r.Context(), jobID); err != nil {
		h.writeErr(w, err)
		return
	}

	var statuses []models.RowStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, models.RowStatus(s))
			}
		}
	}

	page, pageSize := GetPaginationParams(r)
	start := page * pageSize
	end := start + pageSize

	var rows []*models.JobRow
	total := 0
	err := h.store.IterRows(r.Context(), jobID, statuses, func(row *models.JobRow) error {
		if total >= start && total < end {
			rows = append(rows, row)
		}
		total++
		return nil
	})
	if err != nil {
		h.writeErr(w, err)
		return
	}

	if rows == nil {
		rows = []*models.JobRow{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"rows": rows,
		"pagination": PaginationResponse{
			Page:       page,
			PageSize:   pageSize,
			TotalItems: total,
		},
	})
}

// AuditHandler handles GET /api/jobs/{id}/audit
func (h *JobHandler) AuditHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	_, limit := GetPaginationParams(r)
	entries, err := h.store.ListAudit(r.Context(), jobID, limit)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if entries == nil {
		entries = []*models.AuditEntry{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"audit": entries})
}

// writeErr maps coordinator and store errors onto the HTTP surface
func (h *JobHandler) writeErr(w http.ResponseWriter, err error) {
	if errors.Is(err, sqlite.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}
	var record *models.ErrorRecord
	if errors.As(err, &record) {
		WriteErrorRecord(w, record)
		return
	}
	WriteError(w, http.StatusInternalServerError, err.Error())
}
