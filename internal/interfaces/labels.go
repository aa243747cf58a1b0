package interfaces

import (
	"github.com/matt-hans/shipagent/internal/models"
)

// LabelStore persists label artifacts under the configured output directory
// and produces the per-job aggregate documents.
type LabelStore interface {
	// SaveRowLabels decodes and writes a row's label images, returning the
	// label reference recorded on the row.
	SaveRowLabels(jobID string, rowNumber int, labels []models.LabelImage) (string, error)
	// ResolvePath maps a stored label reference to an absolute file path.
	// Refuses references that escape the output directory.
	ResolvePath(labelRef string) (string, error)
	// MergedPDF renders every label of a job into one PDF and returns its
	// path.
	MergedPDF(jobID string) (string, error)
	// Manifest renders the job summary manifest PDF and returns its path.
	Manifest(job *models.Job, rows []*models.JobRow) (string, error)
	// Archive zips a job's label directory and returns the archive path.
	Archive(jobID string) (string, error)
}
