package labels

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"image"
	"image/gif"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/matt-hans/shipagent/internal/models"
)

// labelGIF returns a minimal valid GIF encoded as base64
func labelGIF(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 6)), nil))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), arbor.Logger())
	require.NoError(t, err)
	return store
}

func TestSaveRowLabelsWritesFiles(t *testing.T) {
	store := newTestStore(t)

	ref, err := store.SaveRowLabels("job_1", 3, []models.LabelImage{
		{TrackingNumber: "1Z00000001", Format: "GIF", Base64: labelGIF(t)},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("job_1", "row-0003-1Z00000001.gif"), ref)

	path, err := store.ResolvePath(ref)
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestSaveRowLabelsRejectsBadBase64(t *testing.T) {
	store := newTestStore(t)
	_, err := store.SaveRowLabels("job_1", 1, []models.LabelImage{
		{TrackingNumber: "1Z1", Format: "GIF", Base64: "not base64!!"},
	})
	require.Error(t, err)
}

func TestResolvePathRefusesEscape(t *testing.T) {
	store := newTestStore(t)

	_, err := store.ResolvePath("../outside")
	require.Error(t, err)
	_, err = store.ResolvePath("job_1/../../etc/passwd")
	require.Error(t, err)
}

func TestManifestWritesPDF(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	job := &models.Job{
		ID:            "job_m",
		Command:       "ship all CA orders",
		Status:        models.JobStatusCompleted,
		TotalRows:     2,
		SucceededRows: 2,
		TotalCost:     2400,
		CreatedAt:     now,
	}
	rows := []*models.JobRow{
		{JobID: "job_m", RowNumber: 1, Status: models.RowStatusShipped, Tracking: "1Z1", FinalCost: 1200,
			Order: &models.Order{Name: "Ada"}},
		{JobID: "job_m", RowNumber: 2, Status: models.RowStatusShipped, Tracking: "1Z2", FinalCost: 1200,
			Order: &models.Order{Name: "Grace"}},
	}

	path, err := store.Manifest(job, rows)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
}

func TestArchiveZipsLabels(t *testing.T) {
	store := newTestStore(t)

	img := labelGIF(t)
	_, err := store.SaveRowLabels("job_z", 1, []models.LabelImage{{TrackingNumber: "1Z1", Format: "GIF", Base64: img}})
	require.NoError(t, err)
	_, err = store.SaveRowLabels("job_z", 2, []models.LabelImage{{TrackingNumber: "1Z2", Format: "GIF", Base64: img}})
	require.NoError(t, err)

	path, err := store.Archive("job_z")
	require.NoError(t, err)

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()
	assert.Len(t, zr.File, 2)
}

func TestMergedPDFFromImageLabels(t *testing.T) {
	store := newTestStore(t)

	img := labelGIF(t)
	_, err := store.SaveRowLabels("job_p", 1, []models.LabelImage{{TrackingNumber: "1Z1", Format: "GIF", Base64: img}})
	require.NoError(t, err)
	_, err = store.SaveRowLabels("job_p", 2, []models.LabelImage{{TrackingNumber: "1Z2", Format: "GIF", Base64: img}})
	require.NoError(t, err)

	path, err := store.MergedPDF("job_p")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
}

func TestArchiveEmptyJobFails(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Archive("job_missing")
	require.Error(t, err)
}
