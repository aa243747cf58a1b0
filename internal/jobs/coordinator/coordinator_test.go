package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/matt-hans/shipagent/internal/common"
	"github.com/matt-hans/shipagent/internal/errcodes"
	"github.com/matt-hans/shipagent/internal/interfaces"
	"github.com/matt-hans/shipagent/internal/jobs/engine"
	"github.com/matt-hans/shipagent/internal/models"
	"github.com/matt-hans/shipagent/internal/services/events"
	"github.com/matt-hans/shipagent/internal/services/filter"
	"github.com/matt-hans/shipagent/internal/services/payload"
	"github.com/matt-hans/shipagent/internal/storage/sqlite"
)

// ---- Fakes ----

type fakeGateway struct {
	mu        sync.Mutex
	signature string
	rows      []*models.SourceRow
}

func (g *fakeGateway) setSignature(sig string) {
	g.mu.Lock()
	g.signature = sig
	g.mu.Unlock()
}

func (g *fakeGateway) GetSchema(ctx context.Context) ([]models.SchemaColumn, error) {
	return []models.SchemaColumn{
		{Name: "state", Type: "text"},
		{Name: "weight_lbs", Type: "real"},
	}, nil
}

func (g *fakeGateway) GetSourceInfo(ctx context.Context) (*models.SourceInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return &models.SourceInfo{Type: "csv", Signature: g.signature, RowCount: len(g.rows)}, nil
}

func (g *fakeGateway) QueryRows(ctx context.Context, spec *models.FilterSpec) ([]*models.SourceRow, error) {
	return g.rows, nil
}

func (g *fakeGateway) GetRow(ctx context.Context, rowNumber int) (*models.SourceRow, error) {
	for _, row := range g.rows {
		if row.RowNumber == rowNumber {
			return row, nil
		}
	}
	return nil, fmt.Errorf("row %d not found", rowNumber)
}

func (g *fakeGateway) CountRows(ctx context.Context, spec *models.FilterSpec) (int, error) {
	return len(g.rows), nil
}

func (g *fakeGateway) WriteTracking(ctx context.Context, rowNumber int, tracking, service string, cost int64) error {
	return nil
}

func (g *fakeGateway) Ready() bool { return true }

type fakeCarrier struct {
	mu        sync.Mutex
	shipCalls int
}

func (c *fakeCarrier) shipCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shipCalls
}

func (c *fakeCarrier) GetRate(ctx context.Context, body json.RawMessage) (*models.RateResult, error) {
	return &models.RateResult{TotalCharges: models.Money{Amount: 1200, Currency: "USD"}, ServiceCode: "03"}, nil
}

func (c *fakeCarrier) CreateShipment(ctx context.Context, body json.RawMessage, idempotencyKey string) (*models.ShipResult, error) {
	c.mu.Lock()
	c.shipCalls++
	n := c.shipCalls
	c.mu.Unlock()
	tracking := fmt.Sprintf("1Z%08d", n)
	return &models.ShipResult{
		ShipmentID:      tracking,
		TrackingNumbers: []string{tracking},
		TotalCharges:    models.Money{Amount: 1200, Currency: "USD"},
	}, nil
}

func (c *fakeCarrier) VoidShipment(ctx context.Context, shipmentID string) (*models.VoidResult, error) {
	return &models.VoidResult{Voided: true}, nil
}
func (c *fakeCarrier) ValidateAddress(ctx context.Context, order *models.Order) (*models.AddressValidationResult, error) {
	return &models.AddressValidationResult{Status: "valid"}, nil
}
func (c *fakeCarrier) Track(ctx context.Context, trackingNumber string) (*models.TrackResult, error) {
	return &models.TrackResult{TrackingNumber: trackingNumber}, nil
}
func (c *fakeCarrier) UploadDocument(ctx context.Context, doc interfaces.DocumentUpload) (*models.DocumentResult, error) {
	return &models.DocumentResult{DocumentID: "doc-1"}, nil
}
func (c *fakeCarrier) AttachDocument(ctx context.Context, shipmentID, documentID string) (*models.DocumentResult, error) {
	return &models.DocumentResult{DocumentID: documentID}, nil
}
func (c *fakeCarrier) DeleteDocument(ctx context.Context, documentID string) error { return nil }
func (c *fakeCarrier) SchedulePickup(ctx context.Context, req interfaces.PickupRequest) (*models.PickupResult, error) {
	return &models.PickupResult{}, nil
}
func (c *fakeCarrier) CancelPickup(ctx context.Context, confirmationNumber string) error { return nil }
func (c *fakeCarrier) RatePickup(ctx context.Context, req interfaces.PickupRequest) (*models.PickupResult, error) {
	return &models.PickupResult{}, nil
}
func (c *fakeCarrier) GetPickupStatus(ctx context.Context, confirmationNumber string) (*models.PickupResult, error) {
	return &models.PickupResult{}, nil
}
func (c *fakeCarrier) GetLandedCost(ctx context.Context, body json.RawMessage) (*models.LandedCostResult, error) {
	return &models.LandedCostResult{}, nil
}
func (c *fakeCarrier) FindLocations(ctx context.Context, postalCode, country string) ([]models.Location, error) {
	return nil, nil
}
func (c *fakeCarrier) GetPoliticalDivisions(ctx context.Context, country string) ([]models.PoliticalDivision, error) {
	return nil, nil
}
func (c *fakeCarrier) GetServiceCenterFacilities(ctx context.Context, postalCode, country string) ([]models.Location, error) {
	return nil, nil
}
func (c *fakeCarrier) Ready() bool { return true }

// ---- Fixture ----

type fixture struct {
	coord   *Coordinator
	store   interfaces.StateStore
	gateway *fakeGateway
	carrier *fakeCarrier
}

func newFixture(t *testing.T, rows []*models.SourceRow) *fixture {
	t.Helper()
	logger := arbor.Logger()

	db, err := sqlite.NewSQLiteDB(logger, &common.SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "state.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := sqlite.NewStore(db, logger)
	gateway := &fakeGateway{signature: "src-1", rows: rows}
	carrier := &fakeCarrier{}
	bus := events.NewEventService(logger)
	t.Cleanup(bus.Close)

	builder, err := payload.NewBuilder(models.ShipperProfile{
		Name: "Acme", AccountNumber: "A1B2C3", Address1: "1 Dock St",
		City: "Louisville", State: "KY", PostalCode: "40201", Country: "US",
	})
	require.NoError(t, err)

	compiler := filter.NewCompiler([]byte(strings.Repeat("s", 32)), logger)
	eng := engine.NewEngine(store, gateway, carrier, builder, bus, nil, engine.Options{Concurrency: 2}, logger)

	return &fixture{
		coord:   NewCoordinator(store, gateway, compiler, eng, bus, logger),
		store:   store,
		gateway: gateway,
		carrier: carrier,
	}
}

func testRows(n int) []*models.SourceRow {
	rows := make([]*models.SourceRow, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, &models.SourceRow{RowNumber: i, Fields: map[string]interface{}{
			"name":       fmt.Sprintf("Recipient %d", i),
			"address":    fmt.Sprintf("%d Main St", i),
			"city":       "Sacramento",
			"state":      "CA",
			"zip":        "95814",
			"country":    "US",
			"weight_lbs": 2.0,
		}})
	}
	return rows
}

func caRequest() CreateRequest {
	return CreateRequest{
		Command:     "ship all CA orders via ground",
		Where:       "state = 'CA'",
		Summary:     "California orders",
		ServiceCode: "03",
		Mode:        models.JobModeFailFast,
	}
}

// ---- Tests ----

func TestLifecycleHappyPath(t *testing.T) {
	f := newFixture(t, testRows(3))
	ctx := context.Background()

	job, err := f.coord.CreateJob(ctx, caRequest())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCreated, job.Status)
	assert.Equal(t, 1, job.Generation)
	require.NotNil(t, job.FilterSpec)
	assert.NotEmpty(t, job.FilterSpec.Signature)

	preview, token, err := f.coord.Preview(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, token) // Not auto-confirm
	assert.Equal(t, 3, preview.RatedRows)
	assert.Equal(t, int64(3600), preview.EstimatedCost)

	current, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPreviewed, current.Status)
	assert.Equal(t, int64(3600), current.PreviewCost)

	token, approved, err := f.coord.Approve(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "apv_"))
	assert.Equal(t, models.JobStatusApproved, approved.Status)
	assert.NotEmpty(t, approved.ApprovalHash)
	assert.NotEqual(t, token, approved.ApprovalHash) // Only the hash is stored

	final, err := f.coord.Execute(ctx, job.ID, token)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, 3, final.SucceededRows)
	assert.Equal(t, 3, f.carrier.shipCount())

	entries, err := f.store.ListAudit(ctx, job.ID, 100)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestExecuteRejectsWrongToken(t *testing.T) {
	f := newFixture(t, testRows(1))
	ctx := context.Background()

	job, err := f.coord.CreateJob(ctx, caRequest())
	require.NoError(t, err)
	_, _, err = f.coord.Preview(ctx, job.ID)
	require.NoError(t, err)
	_, _, err = f.coord.Approve(ctx, job.ID)
	require.NoError(t, err)

	_, err = f.coord.Execute(ctx, job.ID, "apv_forged")
	require.Error(t, err)
	record, ok := err.(*models.ErrorRecord)
	require.True(t, ok)
	assert.Equal(t, errcodes.ApprovalTokenInvalid, record.Code)
	assert.Equal(t, 0, f.carrier.shipCount())
}

func TestApprovalTokenIsSingleUse(t *testing.T) {
	f := newFixture(t, testRows(1))
	ctx := context.Background()

	job, err := f.coord.CreateJob(ctx, caRequest())
	require.NoError(t, err)
	_, _, err = f.coord.Preview(ctx, job.ID)
	require.NoError(t, err)
	token, _, err := f.coord.Approve(ctx, job.ID)
	require.NoError(t, err)

	_, err = f.coord.Execute(ctx, job.ID, token)
	require.NoError(t, err)

	// The hash was cleared on consumption; the same token buys nothing
	_, err = f.coord.Execute(ctx, job.ID, token)
	require.Error(t, err)
	assert.Equal(t, 1, f.carrier.shipCount())
}

func TestExecuteRefusedOnSignatureDrift(t *testing.T) {
	f := newFixture(t, testRows(2))
	ctx := context.Background()

	job, err := f.coord.CreateJob(ctx, caRequest())
	require.NoError(t, err)
	_, _, err = f.coord.Preview(ctx, job.ID)
	require.NoError(t, err)
	token, _, err := f.coord.Approve(ctx, job.ID)
	require.NoError(t, err)

	// The CSV was replaced under the same path after preview
	f.gateway.setSignature("src-2")

	_, err = f.coord.Execute(ctx, job.ID, token)
	require.Error(t, err)
	record, ok := err.(*models.ErrorRecord)
	require.True(t, ok)
	assert.Equal(t, errcodes.SignatureDrift, record.Code)
	assert.Equal(t, 0, f.carrier.shipCount())

	current, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, current.Status)
}

func TestAutoConfirmSkipsGateOnCleanPreview(t *testing.T) {
	f := newFixture(t, testRows(2))
	ctx := context.Background()

	req := caRequest()
	req.AutoConfirm = true
	job, err := f.coord.CreateJob(ctx, req)
	require.NoError(t, err)

	_, token, err := f.coord.Preview(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "apv_"))

	current, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusApproved, current.Status)

	final, err := f.coord.Execute(ctx, job.ID, token)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
}

func TestAutoConfirmHoldsGateWhenPreviewFails(t *testing.T) {
	rows := testRows(2)
	rows[1].Fields["zip"] = "ABCDE"
	f := newFixture(t, rows)
	ctx := context.Background()

	req := caRequest()
	req.AutoConfirm = true
	job, err := f.coord.CreateJob(ctx, req)
	require.NoError(t, err)

	preview, token, err := f.coord.Preview(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, preview.FailedRows)
	assert.Empty(t, token)

	current, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPreviewed, current.Status)
}

func TestRefineBumpsGeneration(t *testing.T) {
	f := newFixture(t, testRows(1))
	ctx := context.Background()

	job, err := f.coord.CreateJob(ctx, caRequest())
	require.NoError(t, err)
	_, _, err = f.coord.Preview(ctx, job.ID)
	require.NoError(t, err)

	refined := caRequest()
	refined.Command = "actually only orders over 5 lbs"
	refined.Where = "weight_lbs > 5"
	next, err := f.coord.Refine(ctx, job.ID, refined)
	require.NoError(t, err)

	assert.NotEqual(t, job.ID, next.ID)
	assert.Equal(t, 2, next.Generation)
	assert.Equal(t, models.JobStatusCreated, next.Status)

	old, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, old.Status)
}

func TestRefineRefusedOnTerminalJob(t *testing.T) {
	f := newFixture(t, testRows(1))
	ctx := context.Background()

	job, err := f.coord.CreateJob(ctx, caRequest())
	require.NoError(t, err)
	require.NoError(t, f.coord.Cancel(ctx, job.ID))

	_, err = f.coord.Refine(ctx, job.ID, caRequest())
	require.Error(t, err)
}

func TestCancelBeforeRunning(t *testing.T) {
	f := newFixture(t, testRows(1))
	ctx := context.Background()

	job, err := f.coord.CreateJob(ctx, caRequest())
	require.NoError(t, err)
	_, _, err = f.coord.Preview(ctx, job.ID)
	require.NoError(t, err)

	require.NoError(t, f.coord.Cancel(ctx, job.ID))

	current, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, current.Status)

	// Idempotent
	require.NoError(t, f.coord.Cancel(ctx, job.ID))
}

func TestCreateJobRejectsBadFilter(t *testing.T) {
	f := newFixture(t, testRows(1))

	req := caRequest()
	req.Where = "state = 'CA'; DROP TABLE jobs"
	_, err := f.coord.CreateJob(context.Background(), req)
	require.Error(t, err)
}

func TestRecoverOnStartupFailsStrandedPreview(t *testing.T) {
	f := newFixture(t, testRows(1))
	ctx := context.Background()

	job, err := f.coord.CreateJob(ctx, caRequest())
	require.NoError(t, err)
	_, err = f.store.UpdateJobStatus(ctx, job.ID, models.JobStatusCreated, models.JobStatusPreviewing, nil)
	require.NoError(t, err)

	require.NoError(t, f.coord.RecoverOnStartup(ctx))

	current, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, current.Status)
}

func TestRecoverOnStartupResumesRunningJob(t *testing.T) {
	f := newFixture(t, testRows(2))
	ctx := context.Background()

	job, err := f.coord.CreateJob(ctx, caRequest())
	require.NoError(t, err)
	_, _, err = f.coord.Preview(ctx, job.ID)
	require.NoError(t, err)
	token, _, err := f.coord.Approve(ctx, job.ID)
	require.NoError(t, err)
	_ = token

	// Simulate the crash: the job reached running but the process died
	empty := ""
	_, err = f.store.UpdateJobStatus(ctx, job.ID, models.JobStatusPreviewed, models.JobStatusPreviewed, nil)
	require.Error(t, err) // Sanity: job is approved, not previewed
	_, err = f.store.UpdateJobStatus(ctx, job.ID, models.JobStatusApproved, models.JobStatusRunning,
		&interfaces.JobFields{ApprovalHash: &empty})
	require.NoError(t, err)

	require.NoError(t, f.coord.RecoverOnStartup(ctx))

	current, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, current.Status)
	assert.Equal(t, 2, current.SucceededRows)
}

func TestRecoverOnStartupBlocksDriftedRunningJob(t *testing.T) {
	f := newFixture(t, testRows(2))
	ctx := context.Background()

	job, err := f.coord.CreateJob(ctx, caRequest())
	require.NoError(t, err)
	_, _, err = f.coord.Preview(ctx, job.ID)
	require.NoError(t, err)
	_, _, err = f.coord.Approve(ctx, job.ID)
	require.NoError(t, err)

	empty := ""
	_, err = f.store.UpdateJobStatus(ctx, job.ID, models.JobStatusApproved, models.JobStatusRunning,
		&interfaces.JobFields{ApprovalHash: &empty})
	require.NoError(t, err)

	f.gateway.setSignature("src-2")
	require.NoError(t, f.coord.RecoverOnStartup(ctx))

	current, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, current.Status)
	require.NotNil(t, current.Error)
	assert.Equal(t, errcodes.SignatureDrift, current.Error.Code)
	assert.Equal(t, 0, f.carrier.shipCount())
}
