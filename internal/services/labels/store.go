// -----------------------------------------------------------------------
// Label Store - persists carrier label images under the configured output
// directory and produces the per-job aggregate documents: merged PDF
// (pdfcpu), manifest PDF (fpdf), ZIP archive.
// -----------------------------------------------------------------------

package labels

import (
	"archive/zip"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"

	"github.com/matt-hans/shipagent/internal/interfaces"
	"github.com/matt-hans/shipagent/internal/models"
)

// Store implements interfaces.LabelStore on the local filesystem
type Store struct {
	outputDir string
	logger    arbor.ILogger
}

// Compile-time assertion
var _ interfaces.LabelStore = (*Store)(nil)

// NewStore creates the label store rooted at outputDir
func NewStore(outputDir string, logger arbor.ILogger) (*Store, error) {
	if strings.TrimSpace(outputDir) == "" {
		return nil, fmt.Errorf("labels output directory is required")
	}
	abs, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve labels output directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create labels output directory: %w", err)
	}
	return &Store{outputDir: abs, logger: logger}, nil
}

// SaveRowLabels decodes a row's label images and writes one file per label
// under <outputDir>/<jobID>/. Returns the reference of the first label,
// which is what gets recorded on the row.
func (s *Store) SaveRowLabels(jobID string, rowNumber int, labels []models.LabelImage) (string, error) {
	if len(labels) == 0 {
		return "", fmt.Errorf("no labels to save")
	}

	jobDir := filepath.Join(s.outputDir, jobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create job label directory: %w", err)
	}

	first := ""
	for i, label := range labels {
		data, err := base64.StdEncoding.DecodeString(label.Base64)
		if err != nil {
			return "", fmt.Errorf("failed to decode label image for row %d: %w", rowNumber, err)
		}

		name := fmt.Sprintf("row-%04d-%s.%s", rowNumber, safeName(label.TrackingNumber), extFor(label.Format))
		if label.TrackingNumber == "" {
			name = fmt.Sprintf("row-%04d-%d.%s", rowNumber, i+1, extFor(label.Format))
		}
		path := filepath.Join(jobDir, name)
		if err := os.WriteFile(path, data, 0644); err != nil {
			return "", fmt.Errorf("failed to write label file: %w", err)
		}

		if first == "" {
			first = filepath.Join(jobID, name)
		}
	}

	s.logger.Debug().
		Str("job_id", jobID).
		Int("row", rowNumber).
		Int("labels", len(labels)).
		Msg("Labels saved")
	return first, nil
}

// ResolvePath maps a stored label reference to an absolute path, refusing
// references that escape the output directory.
func (s *Store) ResolvePath(labelRef string) (string, error) {
	if labelRef == "" {
		return "", fmt.Errorf("empty label reference")
	}
	path := filepath.Join(s.outputDir, filepath.Clean("/"+labelRef))
	if !strings.HasPrefix(path, s.outputDir+string(filepath.Separator)) {
		return "", fmt.Errorf("label reference %q escapes the output directory", labelRef)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("label file not found: %w", err)
	}
	return path, nil
}

// MergedPDF renders every label of a job into one PDF. Image labels become
// one 4x6 inch page each; PDF-format labels are merged in as-is via pdfcpu.
func (s *Store) MergedPDF(jobID string) (string, error) {
	jobDir := filepath.Join(s.outputDir, jobID)
	files, err := labelFiles(jobDir)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no labels found for job %s", jobID)
	}

	var inputs []string
	var images []string
	for _, f := range files {
		if strings.EqualFold(filepath.Ext(f), ".pdf") {
			inputs = append(inputs, f)
		} else {
			images = append(images, f)
		}
	}

	if len(images) > 0 {
		imagePDF := filepath.Join(jobDir, "labels-images.tmp.pdf")
		if err := renderImagePages(images, imagePDF); err != nil {
			return "", err
		}
		defer os.Remove(imagePDF)
		inputs = append([]string{imagePDF}, inputs...)
	}

	out := filepath.Join(jobDir, "labels-merged.pdf")
	conf := model.NewDefaultConfiguration()
	if err := api.MergeCreateFile(inputs, out, false, conf); err != nil {
		return "", fmt.Errorf("failed to merge label PDFs: %w", err)
	}

	s.logger.Info().Str("job_id", jobID).Int("labels", len(files)).Str("path", out).Msg("Merged label PDF written")
	return out, nil
}

// Manifest renders the job summary PDF: one table row per shipment with
// tracking, status, and cost.
func (s *Store) Manifest(job *models.Job, rows []*models.JobRow) (string, error) {
	jobDir := filepath.Join(s.outputDir, job.ID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create job label directory: %w", err)
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(true, 10)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 8, "Shipment Manifest", "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	pdf.CellFormat(0, 6, fmt.Sprintf("Job %s  |  %s", job.ID, job.Command), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Shipped %d / %d rows, total %s", job.SucceededRows, job.TotalRows, formatCents(job.TotalCost)), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	widths := []float64{15, 55, 45, 30, 25}
	headers := []string{"Row", "Recipient", "Tracking", "Status", "Cost"}

	pdf.SetFont("Arial", "B", 8)
	pdf.SetFillColor(230, 230, 230)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 6, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	pdf.SetFillColor(255, 255, 255)
	for _, row := range rows {
		name := ""
		if row.Order != nil {
			name = row.Order.Name
		}
		cost := ""
		if row.Status == models.RowStatusShipped {
			cost = formatCents(row.FinalCost)
		}
		cells := []string{
			fmt.Sprintf("%d", row.RowNumber),
			truncate(name, 32),
			row.Tracking,
			string(row.Status),
			cost,
		}
		for i, c := range cells {
			pdf.CellFormat(widths[i], 6, c, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	out := filepath.Join(jobDir, "manifest.pdf")
	if err := pdf.OutputFileAndClose(out); err != nil {
		return "", fmt.Errorf("failed to write manifest PDF: %w", err)
	}

	s.logger.Info().Str("job_id", job.ID).Str("path", out).Msg("Manifest PDF written")
	return out, nil
}

// Archive zips a job's label directory
func (s *Store) Archive(jobID string) (string, error) {
	jobDir := filepath.Join(s.outputDir, jobID)
	files, err := labelFiles(jobDir)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no labels found for job %s", jobID)
	}

	out := filepath.Join(jobDir, "labels.zip")
	f, err := os.Create(out)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, path := range files {
		if err := addToZip(zw, path); err != nil {
			zw.Close()
			return "", err
		}
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize archive: %w", err)
	}

	s.logger.Info().Str("job_id", jobID).Int("files", len(files)).Str("path", out).Msg("Label archive written")
	return out, nil
}

// ---- Helpers ----

// labelFiles lists a job's label artifacts sorted by name, excluding the
// generated aggregates.
func labelFiles(jobDir string) ([]string, error) {
	entries, err := os.ReadDir(jobDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read label directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, "row-") {
			continue
		}
		files = append(files, filepath.Join(jobDir, name))
	}
	sort.Strings(files)
	return files, nil
}

// renderImagePages draws each label image on its own 4x6 inch page
func renderImagePages(images []string, out string) error {
	pdf := fpdf.New("P", "in", "", "")
	pdf.AddPageFormat("P", fpdf.SizeType{Wd: 4, Ht: 6})
	for i, img := range images {
		if i > 0 {
			pdf.AddPageFormat("P", fpdf.SizeType{Wd: 4, Ht: 6})
		}
		opts := fpdf.ImageOptions{ImageType: imageType(img), ReadDpi: false}
		pdf.ImageOptions(img, 0, 0, 4, 6, false, opts, 0, "")
	}
	if err := pdf.OutputFileAndClose(out); err != nil {
		return fmt.Errorf("failed to render label images: %w", err)
	}
	return nil
}

func imageType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "PNG"
	case ".jpg", ".jpeg":
		return "JPG"
	default:
		return "GIF"
	}
}

func addToZip(zw *zip.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer src.Close()

	w, err := zw.Create(filepath.Base(path))
	if err != nil {
		return fmt.Errorf("failed to add %s to archive: %w", path, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("failed to copy %s into archive: %w", path, err)
	}
	return nil
}

func extFor(format string) string {
	switch strings.ToUpper(format) {
	case "PNG":
		return "png"
	case "PDF":
		return "pdf"
	case "JPG", "JPEG":
		return "jpg"
	default:
		return "gif"
	}
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "~"
}

func formatCents(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
