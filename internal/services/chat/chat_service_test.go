package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/matt-hans/shipagent/internal/common"
	"github.com/matt-hans/shipagent/internal/interfaces"
	"github.com/matt-hans/shipagent/internal/jobs/coordinator"
	"github.com/matt-hans/shipagent/internal/jobs/engine"
	"github.com/matt-hans/shipagent/internal/models"
	badgerstore "github.com/matt-hans/shipagent/internal/storage/badger"
	"github.com/matt-hans/shipagent/internal/services/events"
	"github.com/matt-hans/shipagent/internal/services/filter"
	"github.com/matt-hans/shipagent/internal/services/interpreter"
	"github.com/matt-hans/shipagent/internal/services/payload"
	"github.com/matt-hans/shipagent/internal/storage/sqlite"
)

type fakeGateway struct{}

func (g *fakeGateway) GetSchema(ctx context.Context) ([]models.SchemaColumn, error) {
	return []models.SchemaColumn{
		{Name: "state", Type: "text"},
		{Name: "weight", Type: "real"},
	}, nil
}
func (g *fakeGateway) GetSourceInfo(ctx context.Context) (*models.SourceInfo, error) {
	return &models.SourceInfo{Type: "csv", Signature: "src-1", RowCount: 1}, nil
}
func (g *fakeGateway) QueryRows(ctx context.Context, spec *models.FilterSpec) ([]*models.SourceRow, error) {
	return []*models.SourceRow{{RowNumber: 1, Fields: map[string]interface{}{
		"name": "Ada", "address": "1 Main St", "city": "Sacramento",
		"state": "CA", "zip": "95814", "country": "US", "weight": 2.0,
	}}}, nil
}
func (g *fakeGateway) GetRow(ctx context.Context, rowNumber int) (*models.SourceRow, error) {
	return nil, fmt.Errorf("not implemented")
}
func (g *fakeGateway) CountRows(ctx context.Context, spec *models.FilterSpec) (int, error) {
	return 1, nil
}
func (g *fakeGateway) WriteTracking(ctx context.Context, rowNumber int, tracking, service string, cost int64) error {
	return nil
}
func (g *fakeGateway) Ready() bool { return true }

type fakeCarrier struct{}

func (c *fakeCarrier) GetRate(ctx context.Context, body json.RawMessage) (*models.RateResult, error) {
	return &models.RateResult{TotalCharges: models.Money{Amount: 1200, Currency: "USD"}}, nil
}
func (c *fakeCarrier) CreateShipment(ctx context.Context, body json.RawMessage, idempotencyKey string) (*models.ShipResult, error) {
	return &models.ShipResult{ShipmentID: "1Z1", TrackingNumbers: []string{"1Z1"},
		TotalCharges: models.Money{Amount: 1200, Currency: "USD"}}, nil
}
func (c *fakeCarrier) VoidShipment(ctx context.Context, shipmentID string) (*models.VoidResult, error) {
	return &models.VoidResult{Voided: true}, nil
}
func (c *fakeCarrier) ValidateAddress(ctx context.Context, order *models.Order) (*models.AddressValidationResult, error) {
	return &models.AddressValidationResult{Status: "valid"}, nil
}
func (c *fakeCarrier) Track(ctx context.Context, trackingNumber string) (*models.TrackResult, error) {
	return &models.TrackResult{}, nil
}
func (c *fakeCarrier) UploadDocument(ctx context.Context, doc interfaces.DocumentUpload) (*models.DocumentResult, error) {
	return &models.DocumentResult{}, nil
}
func (c *fakeCarrier) AttachDocument(ctx context.Context, shipmentID, documentID string) (*models.DocumentResult, error) {
	return &models.DocumentResult{}, nil
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

func newTestService(t *testing.T) *Service {
	t.Helper()
	logger := arbor.Logger()
	dir := t.TempDir()

	db, err := sqlite.NewSQLiteDB(logger, &common.SQLiteConfig{Path: filepath.Join(dir, "state.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := sqlite.NewStore(db, logger)

	sessions, err := badgerstore.NewConversationStorage(logger, &common.BadgerConfig{Path: filepath.Join(dir, "sessions")})
	require.NoError(t, err)
	t.Cleanup(func() { sessions.Close() })

	gateway := &fakeGateway{}
	bus := events.NewEventService(logger)
	t.Cleanup(bus.Close)

	builder, err := payload.NewBuilder(models.ShipperProfile{
		Name: "Acme", AccountNumber: "A1B2C3", Address1: "1 Dock St",
		City: "Louisville", State: "KY", PostalCode: "40201", Country: "US",
	})
	require.NoError(t, err)

	compiler := filter.NewCompiler([]byte(strings.Repeat("s", 32)), logger)
	eng := engine.NewEngine(store, gateway, &fakeCarrier{}, builder, bus, nil, engine.Options{Concurrency: 1}, logger)
	coord := coordinator.NewCoordinator(store, gateway, compiler, eng, bus, logger)

	return NewService(sessions, interpreter.NewOfflineInterpreter(logger), gateway, coord, logger)
}

func TestPostMessageCreatesJob(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	conv, err := svc.OpenSession(ctx)
	require.NoError(t, err)

	reply, err := svc.PostMessage(ctx, conv.ID, "ship all California orders via ground", Options{Mode: models.JobModeFailFast})
	require.NoError(t, err)

	require.NotNil(t, reply.Job)
	assert.Empty(t, reply.Question)
	assert.Equal(t, models.JobStatusCreated, reply.Job.Status)
	assert.Equal(t, "state = 'CA'", reply.Job.FilterSpec.Where)
	assert.Equal(t, "03", reply.Job.ServiceCode)

	// Session remembers the turn and the job
	saved, err := svc.GetSession(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, reply.Job.ID, saved.JobID)
	assert.Len(t, saved.Messages, 2)
}

func TestPostMessageAsksForClarification(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	conv, err := svc.OpenSession(ctx)
	require.NoError(t, err)

	reply, err := svc.PostMessage(ctx, conv.ID, "ship the usual", Options{})
	require.NoError(t, err)

	assert.Nil(t, reply.Job)
	assert.NotEmpty(t, reply.Question)

	saved, err := svc.GetSession(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "", saved.JobID)
	require.Len(t, saved.Messages, 2)
	assert.Equal(t, "assistant", saved.Messages[1].Role)
}

func TestSecondMessageRefinesPendingJob(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	conv, err := svc.OpenSession(ctx)
	require.NoError(t, err)

	first, err := svc.PostMessage(ctx, conv.ID, "ship all California orders", Options{})
	require.NoError(t, err)
	require.NotNil(t, first.Job)

	second, err := svc.PostMessage(ctx, conv.ID, "ship orders heavier than 5", Options{})
	require.NoError(t, err)
	require.NotNil(t, second.Job)

	assert.NotEqual(t, first.Job.ID, second.Job.ID)
	assert.Equal(t, 2, second.Job.Generation)
	assert.Equal(t, "weight > 5", second.Job.FilterSpec.Where)
}

func TestPostMessageUnknownSession(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.PostMessage(context.Background(), "conv_missing", "ship everything", Options{})
	require.Error(t, err)
}
