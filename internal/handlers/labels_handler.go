package handlers

import (
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/matt-hans/shipagent/internal/interfaces"
	"github.com/matt-hans/shipagent/internal/models"
	"github.com/matt-hans/shipagent/internal/storage/sqlite"
)

// LabelsHandler serves stored label artifacts: individual label files,
// the per-job merged PDF, the manifest PDF, and the ZIP archive.
type LabelsHandler struct {
	labels interfaces.LabelStore
	store  interfaces.StateStore
	logger arbor.ILogger
}

func NewLabelsHandler(labels interfaces.LabelStore, store interfaces.StateStore, logger arbor.ILogger) *LabelsHandler {
	return &LabelsHandler{labels: labels, store: store, logger: logger}
}

// GetLabelHandler handles GET /api/labels/{ref}. The ref is the path stored
// on the row (job id plus file name); escapes are refused by the store.
func (h *LabelsHandler) GetLabelHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	ref := r.URL.Path[len("/api/labels/"):]
	path, err := h.labels.ResolvePath(ref)
	if err != nil {
		WriteError(w, http.StatusNotFound, "label not found")
		return
	}
	http.ServeFile(w, r, path)
}

// MergedPDFHandler handles GET /api/jobs/{id}/labels/merged
func (h *LabelsHandler) MergedPDFHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	path, err := h.labels.MergedPDF(jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	http.ServeFile(w, r, path)
}

// ArchiveHandler handles GET /api/jobs/{id}/labels/archive
func (h *LabelsHandler) ArchiveHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	path, err := h.labels.Archive(jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+jobID+"-labels.zip\"")
	http.ServeFile(w, r, path)
}

// ManifestHandler handles GET /api/jobs/{id}/manifest. The manifest is
// rendered fresh from the current job and row state.
func (h *LabelsHandler) ManifestHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "job not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var rows []*models.JobRow
	if err := h.store.IterRows(r.Context(), jobID, nil, func(row *models.JobRow) error {
		rows = append(rows, row)
		return nil
	}); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	path, err := h.labels.Manifest(job, rows)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	http.ServeFile(w, r, path)
}
