package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/matt-hans/shipagent/internal/common"
	"github.com/matt-hans/shipagent/internal/errcodes"
	"github.com/matt-hans/shipagent/internal/interfaces"
	"github.com/matt-hans/shipagent/internal/models"
	"github.com/matt-hans/shipagent/internal/services/events"
	"github.com/matt-hans/shipagent/internal/services/payload"
	"github.com/matt-hans/shipagent/internal/storage/sqlite"
)

// ---- Fakes ----

// fakeGateway serves a fixed row set
type fakeGateway struct {
	signature string
	rows      []*models.SourceRow
	tracked   sync.Map
}

func (g *fakeGateway) GetSchema(ctx context.Context) ([]models.SchemaColumn, error) { return nil, nil }
func (g *fakeGateway) GetSourceInfo(ctx context.Context) (*models.SourceInfo, error) {
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
	g.tracked.Store(rowNumber, tracking)
	return nil
}
func (g *fakeGateway) Ready() bool { return true }

// fakeCarrier rates everything at a fixed price and ships with sequential
// tracking numbers. failRows force create_shipment failures.
type fakeCarrier struct {
	mu        sync.Mutex
	shipCalls int
	failWith  map[string]*models.ErrorRecord // Keyed by recipient name
}

func (c *fakeCarrier) GetRate(ctx context.Context, body json.RawMessage) (*models.RateResult, error) {
	return &models.RateResult{TotalCharges: models.Money{Amount: 1200, Currency: "USD"}, Negotiated: true, ServiceCode: "03"}, nil
}

func (c *fakeCarrier) CreateShipment(ctx context.Context, body json.RawMessage, idempotencyKey string) (*models.ShipResult, error) {
	var parsed struct {
		ShipmentRequest struct {
			Shipment struct {
				ShipTo struct {
					Name string `json:"Name"`
				} `json:"ShipTo"`
			} `json:"Shipment"`
		} `json:"ShipmentRequest"`
	}
	_ = json.Unmarshal(body, &parsed)

	c.mu.Lock()
	c.shipCalls++
	n := c.shipCalls
	c.mu.Unlock()

	if record, ok := c.failWith[parsed.ShipmentRequest.Shipment.ShipTo.Name]; ok {
		return nil, record
	}

	tracking := fmt.Sprintf("1Z%08d", n)
	return &models.ShipResult{
		ShipmentID:      tracking,
		TrackingNumbers: []string{tracking},
		TotalCharges:    models.Money{Amount: 1200, Currency: "USD"},
		Negotiated:      true,
	}, nil
}

func (c *fakeCarrier) VoidShipment(ctx context.Context, shipmentID string) (*models.VoidResult, error) {
	return &models.VoidResult{Voided: true}, nil
}
func (c *fakeCarrier) ValidateAddress(ctx context.Context, order *models.Order) (*models.AddressValidationResult, error) {
	return &models.AddressValidationResult{Status: "valid"}, nil
}
func (c *fakeCarrier) Track(ctx context.Context, trackingNumber string) (*models.TrackResult, error) {
	return &models.TrackResult{TrackingNumber: trackingNumber, Status: "In Transit"}, nil
}
func (c *fakeCarrier) UploadDocument(ctx context.Context, doc interfaces.DocumentUpload) (*models.DocumentResult, error) {
	return &models.DocumentResult{DocumentID: "doc-1"}, nil
}
func (c *fakeCarrier) AttachDocument(ctx context.Context, shipmentID, documentID string) (*models.DocumentResult, error) {
	return &models.DocumentResult{DocumentID: documentID, Status: "attached"}, nil
}
func (c *fakeCarrier) DeleteDocument(ctx context.Context, documentID string) error { return nil }
func (c *fakeCarrier) SchedulePickup(ctx context.Context, req interfaces.PickupRequest) (*models.PickupResult, error) {
	return &models.PickupResult{ConfirmationNumber: "PRN1"}, nil
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

// ---- Fixtures ----

func sourceRow(n int, name, zip string) *models.SourceRow {
	return &models.SourceRow{RowNumber: n, Fields: map[string]interface{}{
		"name":       name,
		"address":    fmt.Sprintf("%d Main St", n),
		"city":       "Sacramento",
		"state":      "CA",
		"zip":        zip,
		"country":    "US",
		"weight_lbs": 2.0,
	}}
}

type fixture struct {
	store   interfaces.StateStore
	gateway *fakeGateway
	carrier *fakeCarrier
	engine  *Engine
	bus     interfaces.EventBus
}

func newFixture(t *testing.T, rows []*models.SourceRow, opts Options) *fixture {
	t.Helper()
	logger := arbor.Logger()

	db, err := sqlite.NewSQLiteDB(logger, &common.SQLiteConfig{
		Path:          filepath.Join(t.TempDir(), "state.db"),
		BusyTimeoutMS: 5000,
		WALMode:       true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := sqlite.NewStore(db, logger)
	gateway := &fakeGateway{signature: "src-1", rows: rows}
	carrier := &fakeCarrier{failWith: map[string]*models.ErrorRecord{}}
	bus := events.NewEventService(logger)
	t.Cleanup(bus.Close)

	builder, err := payload.NewBuilder(models.ShipperProfile{
		Name: "Acme", AccountNumber: "A1B2C3", Address1: "1 Dock St",
		City: "Louisville", State: "KY", PostalCode: "40201", Country: "US",
	})
	require.NoError(t, err)

	return &fixture{
		store:   store,
		gateway: gateway,
		carrier: carrier,
		engine:  NewEngine(store, gateway, carrier, builder, bus, nil, opts, logger),
		bus:     bus,
	}
}

func (f *fixture) createJob(t *testing.T, mode models.JobMode) *models.Job {
	t.Helper()
	job := &models.Job{
		ID:              "job_test",
		Command:         "ship all CA orders via ground",
		SourceSignature: "src-1",
		FilterSpec:      &models.FilterSpec{SourceSignature: "src-1", Where: "state = 'CA'", Signature: "x"},
		ServiceCode:     "03",
		Mode:            mode,
		Status:          models.JobStatusPreviewing,
		Generation:      1,
	}
	require.NoError(t, f.store.CreateJob(context.Background(), job))
	return job
}

func (f *fixture) approveAndRun(t *testing.T, job *models.Job) {
	t.Helper()
	ctx := context.Background()
	_, err := f.store.UpdateJobStatus(ctx, job.ID, models.JobStatusPreviewing, models.JobStatusPreviewed, nil)
	require.NoError(t, err)
	_, err = f.store.UpdateJobStatus(ctx, job.ID, models.JobStatusPreviewed, models.JobStatusApproved, nil)
	require.NoError(t, err)
	_, err = f.store.UpdateJobStatus(ctx, job.ID, models.JobStatusApproved, models.JobStatusRunning, nil)
	require.NoError(t, err)
}

// ---- Tests ----

func TestPreviewRatesAllRows(t *testing.T) {
	f := newFixture(t, []*models.SourceRow{
		sourceRow(1, "Ada", "95814"),
		sourceRow(2, "Grace", "95815"),
		sourceRow(3, "Edith", "95816"),
	}, Options{Concurrency: 2})
	job := f.createJob(t, models.JobModeFailFast)

	preview, err := f.engine.Preview(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, 3, preview.TotalRows)
	assert.Equal(t, 3, preview.RatedRows)
	assert.Equal(t, 0, preview.FailedRows)
	assert.Equal(t, int64(3600), preview.EstimatedCost)
	assert.Len(t, preview.Sample, 3)
}

func TestPreviewMarksInvalidRowFailed(t *testing.T) {
	f := newFixture(t, []*models.SourceRow{
		sourceRow(1, "Ada", "95814"),
		sourceRow(2, "Grace", "ABCDE"),
	}, Options{Concurrency: 2})
	job := f.createJob(t, models.JobModeFailFast)

	preview, err := f.engine.Preview(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, 1, preview.RatedRows)
	assert.Equal(t, 1, preview.FailedRows)

	row, err := f.store.GetRow(context.Background(), job.ID, 2)
	require.NoError(t, err)
	require.NotNil(t, row.Error)
	assert.Equal(t, errcodes.InvalidPostalCode, row.Error.Code)
}

func TestPreviewCapLeavesExcessPending(t *testing.T) {
	rows := make([]*models.SourceRow, 0, 5)
	for i := 1; i <= 5; i++ {
		rows = append(rows, sourceRow(i, fmt.Sprintf("R%d", i), "95814"))
	}
	f := newFixture(t, rows, Options{Concurrency: 2, PreviewMaxRows: 2})
	job := f.createJob(t, models.JobModeFailFast)

	preview, err := f.engine.Preview(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, 5, preview.TotalRows)
	assert.Equal(t, 2, preview.RatedRows)

	counts, err := f.store.CountRowsByStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[models.RowStatusPending])
}

func TestPreviewRefusesDriftedSource(t *testing.T) {
	f := newFixture(t, []*models.SourceRow{sourceRow(1, "Ada", "95814")}, Options{Concurrency: 1})
	job := f.createJob(t, models.JobModeFailFast)
	f.gateway.signature = "src-2"

	_, err := f.engine.Preview(context.Background(), job)
	require.Error(t, err)
	record, ok := err.(*models.ErrorRecord)
	require.True(t, ok)
	assert.Equal(t, errcodes.SignatureDrift, record.Code)
}

func TestExecuteHappyPath(t *testing.T) {
	f := newFixture(t, []*models.SourceRow{
		sourceRow(1, "Ada", "95814"),
		sourceRow(2, "Grace", "95815"),
		sourceRow(3, "Edith", "95816"),
	}, Options{Concurrency: 2})
	job := f.createJob(t, models.JobModeFailFast)

	_, err := f.engine.Preview(context.Background(), job)
	require.NoError(t, err)
	f.approveAndRun(t, job)

	final, err := f.engine.Execute(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, 3, final.SucceededRows)
	assert.Equal(t, 0, final.FailedRows)
	assert.Equal(t, int64(3600), final.TotalCost)

	// Distinct tracking numbers, payload snapshots persisted
	seen := map[string]bool{}
	require.NoError(t, f.store.IterRows(context.Background(), job.ID, nil, func(row *models.JobRow) error {
		assert.Equal(t, models.RowStatusShipped, row.Status)
		assert.NotEmpty(t, row.Tracking)
		assert.False(t, seen[row.Tracking])
		seen[row.Tracking] = true
		assert.NotEmpty(t, row.PayloadSnapshot)
		return nil
	}))

	// Write-back observer fired
	_, ok := f.gateway.tracked.Load(1)
	assert.True(t, ok)
}

func TestExecuteFailFastTripsOnShipmentFailure(t *testing.T) {
	f := newFixture(t, []*models.SourceRow{
		sourceRow(1, "Ada", "95814"),
		sourceRow(2, "Grace", "95815"),
		sourceRow(3, "Edith", "95816"),
	}, Options{Concurrency: 1})
	f.carrier.failWith["Ada"] = errcodes.New(errcodes.ShipmentRejected, "account blocked")
	job := f.createJob(t, models.JobModeFailFast)

	_, err := f.engine.Preview(context.Background(), job)
	require.NoError(t, err)
	f.approveAndRun(t, job)

	final, err := f.engine.Execute(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.Equal(t, 0, final.SucceededRows)
	assert.Equal(t, 1, final.FailedRows)
	assert.Equal(t, 2, final.SkippedRows)

	row3, err := f.store.GetRow(context.Background(), job.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, models.RowStatusSkipped, row3.Status)
}

func TestExecuteFailFastIgnoresPreviewFailures(t *testing.T) {
	f := newFixture(t, []*models.SourceRow{
		sourceRow(1, "Ada", "95814"),
		sourceRow(2, "Grace", "ABCDE"),
		sourceRow(3, "Edith", "95816"),
	}, Options{Concurrency: 1})
	job := f.createJob(t, models.JobModeFailFast)

	_, err := f.engine.Preview(context.Background(), job)
	require.NoError(t, err)
	f.approveAndRun(t, job)

	// Row 2 failed during preview rating. That failure was already visible
	// at approval time and must not trip fail-fast now; the survivors ship.
	final, err := f.engine.Execute(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, 2, final.SucceededRows)
	assert.Equal(t, 1, final.FailedRows)
	assert.Equal(t, 0, final.SkippedRows)
	assert.Equal(t, int64(2400), final.TotalCost)

	row2, err := f.store.GetRow(context.Background(), job.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, models.RowStatusFailed, row2.Status)

	row3, err := f.store.GetRow(context.Background(), job.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, models.RowStatusShipped, row3.Status)
}

func TestExecuteAutoModeAttemptsEveryRow(t *testing.T) {
	f := newFixture(t, []*models.SourceRow{
		sourceRow(1, "Ada", "95814"),
		sourceRow(2, "Grace", "ABCDE"),
		sourceRow(3, "Edith", "95816"),
	}, Options{Concurrency: 1})
	job := f.createJob(t, models.JobModeAuto)

	_, err := f.engine.Preview(context.Background(), job)
	require.NoError(t, err)
	f.approveAndRun(t, job)

	final, err := f.engine.Execute(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, 2, final.SucceededRows)
	assert.Equal(t, 1, final.FailedRows)
	assert.Equal(t, 0, final.SkippedRows)
}

func TestExecuteIndeterminateOutcome(t *testing.T) {
	f := newFixture(t, []*models.SourceRow{
		sourceRow(1, "Ada", "95814"),
	}, Options{Concurrency: 1})
	f.carrier.failWith["Ada"] = errcodes.NewCarrier(errcodes.OutcomeUnknown, "", "connection lost after send")

	job := f.createJob(t, models.JobModeAuto)
	_, err := f.engine.Preview(context.Background(), job)
	require.NoError(t, err)
	f.approveAndRun(t, job)

	final, err := f.engine.Execute(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, 1, final.FailedRows)

	row, err := f.store.GetRow(context.Background(), job.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.RowStatusFailedIndeterminate, row.Status)
	require.NotNil(t, row.Error)
	assert.True(t, row.Error.Indeterminate)
}

func TestExecuteEmptyFilterCompletesImmediately(t *testing.T) {
	f := newFixture(t, nil, Options{Concurrency: 1})
	job := f.createJob(t, models.JobModeFailFast)

	preview, err := f.engine.Preview(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 0, preview.TotalRows)

	f.approveAndRun(t, job)
	final, err := f.engine.Execute(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, 0, final.TotalRows)
}

func TestCancelSkipsRemainingRows(t *testing.T) {
	rows := make([]*models.SourceRow, 0, 6)
	for i := 1; i <= 6; i++ {
		rows = append(rows, sourceRow(i, fmt.Sprintf("R%d", i), "95814"))
	}
	f := newFixture(t, rows, Options{Concurrency: 1})
	job := f.createJob(t, models.JobModeAuto)

	_, err := f.engine.Preview(context.Background(), job)
	require.NoError(t, err)
	f.approveAndRun(t, job)

	// Cancel before execute starts: nothing dispatches, everything skips
	f.engine.Cancel(job.ID)
	final, err := f.engine.Execute(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCancelled, final.Status)
	assert.Equal(t, 6, final.SkippedRows)
	assert.Equal(t, 0, final.SucceededRows)
}

func TestResumeMarksInFlightRowsIndeterminate(t *testing.T) {
	f := newFixture(t, []*models.SourceRow{
		sourceRow(1, "Ada", "95814"),
		sourceRow(2, "Grace", "95815"),
		sourceRow(3, "Edith", "95816"),
	}, Options{Concurrency: 1})
	job := f.createJob(t, models.JobModeAuto)

	_, err := f.engine.Preview(context.Background(), job)
	require.NoError(t, err)
	f.approveAndRun(t, job)

	ctx := context.Background()

	// Simulate a crash: row 1 shipped, row 2 stuck in shipping, row 3 rated
	_, err = f.store.TransitionRow(ctx, job.ID, 1, models.RowStatusRated, models.RowStatusShipping,
		&interfaces.RowFields{PayloadSnapshot: []byte(`{}`)})
	require.NoError(t, err)
	tracking := "1Z00000001"
	cost := int64(1200)
	_, err = f.store.TransitionRow(ctx, job.ID, 1, models.RowStatusShipping, models.RowStatusShipped,
		&interfaces.RowFields{Tracking: &tracking, FinalCost: &cost})
	require.NoError(t, err)
	_, err = f.store.TransitionRow(ctx, job.ID, 2, models.RowStatusRated, models.RowStatusShipping,
		&interfaces.RowFields{PayloadSnapshot: []byte(`{}`)})
	require.NoError(t, err)

	final, err := f.engine.Resume(ctx, job)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, 2, final.SucceededRows) // Row 1 untouched, row 3 dispatched
	assert.Equal(t, 1, final.FailedRows)

	row1, err := f.store.GetRow(ctx, job.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.RowStatusShipped, row1.Status)
	assert.Equal(t, "1Z00000001", row1.Tracking)

	row2, err := f.store.GetRow(ctx, job.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, models.RowStatusFailedIndeterminate, row2.Status)
}

func TestResumeFailFastDispatchesSurvivors(t *testing.T) {
	f := newFixture(t, []*models.SourceRow{
		sourceRow(1, "Ada", "95814"),
		sourceRow(2, "Grace", "95815"),
		sourceRow(3, "Edith", "95816"),
	}, Options{Concurrency: 1})
	job := f.createJob(t, models.JobModeFailFast)

	_, err := f.engine.Preview(context.Background(), job)
	require.NoError(t, err)
	f.approveAndRun(t, job)

	ctx := context.Background()

	// Crash snapshot: row 1 shipped, row 2 in flight, row 3 still rated
	_, err = f.store.TransitionRow(ctx, job.ID, 1, models.RowStatusRated, models.RowStatusShipping,
		&interfaces.RowFields{PayloadSnapshot: []byte(`{}`)})
	require.NoError(t, err)
	tracking := "1Z00000001"
	cost := int64(1200)
	_, err = f.store.TransitionRow(ctx, job.ID, 1, models.RowStatusShipping, models.RowStatusShipped,
		&interfaces.RowFields{Tracking: &tracking, FinalCost: &cost})
	require.NoError(t, err)
	_, err = f.store.TransitionRow(ctx, job.ID, 2, models.RowStatusRated, models.RowStatusShipping,
		&interfaces.RowFields{PayloadSnapshot: []byte(`{}`)})
	require.NoError(t, err)

	// The indeterminate row predates this pass, so fail-fast must not trip
	// on it and row 3 ships rather than being skipped
	final, err := f.engine.Resume(ctx, job)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, 2, final.SucceededRows)
	assert.Equal(t, 1, final.FailedRows)
	assert.Equal(t, 0, final.SkippedRows)

	row2, err := f.store.GetRow(ctx, job.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, models.RowStatusFailedIndeterminate, row2.Status)

	row3, err := f.store.GetRow(ctx, job.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, models.RowStatusShipped, row3.Status)
}

func TestExecuteAuditsRowTransitions(t *testing.T) {
	f := newFixture(t, []*models.SourceRow{sourceRow(1, "Ada", "95814")}, Options{Concurrency: 1})
	job := f.createJob(t, models.JobModeAuto)

	_, err := f.engine.Preview(context.Background(), job)
	require.NoError(t, err)
	f.approveAndRun(t, job)
	_, err = f.engine.Execute(context.Background(), job)
	require.NoError(t, err)

	entries, err := f.store.ListAudit(context.Background(), job.ID, 100)
	require.NoError(t, err)

	var transitions []string
	for _, entry := range entries {
		if entry.Kind != "row.status" {
			continue
		}
		require.NotNil(t, entry.RowNumber)
		assert.Equal(t, 1, *entry.RowNumber)
		transitions = append(transitions, entry.From+">"+entry.To)
	}
	assert.Equal(t, []string{
		"pending>rated",
		"rated>shipping",
		"shipping>shipped",
	}, transitions)
}

func TestInternationalLaneDisabled(t *testing.T) {
	row := sourceRow(1, "Jean", "00000")
	row.Fields["country"] = "FR"
	row.Fields["zip"] = "75001"
	row.Fields["hs_code"] = "6109.10"

	f := newFixture(t, []*models.SourceRow{row}, Options{
		Concurrency: 1,
		LaneEnabled: func(country string) bool { return country == "CA" },
	})
	job := f.createJob(t, models.JobModeAuto)

	preview, err := f.engine.Preview(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 1, preview.FailedRows)

	rowState, err := f.store.GetRow(context.Background(), job.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, rowState.Error)
	assert.Equal(t, errcodes.InternationalDisabled, rowState.Error.Code)
}
