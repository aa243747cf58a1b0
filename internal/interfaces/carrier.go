package interfaces

import (
	"context"
	"encoding/json"

	"github.com/matt-hans/shipagent/internal/models"
)

// PickupRequest is the typed input for pickup scheduling/rating
type PickupRequest struct {
	Date        string `json:"date"` // YYYYMMDD
	ReadyTime   string `json:"ready_time"`
	CloseTime   string `json:"close_time"`
	Address1    string `json:"address1"`
	City        string `json:"city"`
	State       string `json:"state"`
	PostalCode  string `json:"postal_code"`
	Country     string `json:"country"`
	ContactName string `json:"contact_name"`
	Phone       string `json:"phone"`
}

// DocumentUpload is the typed input for paperless document upload
type DocumentUpload struct {
	FileName string `json:"file_name"`
	Format   string `json:"format"`
	Base64   string `json:"base64"`
}

// CarrierService is the typed wrapper over the carrier subprocess (C2).
// Read-only operations retry per policy; mutating operations never retry
// except the documented create_shipment upstream-rejection exception.
// Failures surface as *models.ErrorRecord.
type CarrierService interface {
	// GetRate rates a prebuilt rate body and normalizes the response.
	GetRate(ctx context.Context, body json.RawMessage) (*models.RateResult, error)
	// CreateShipment dispatches a prebuilt ship body. idempotencyKey is
	// forwarded to the carrier when it supports client-side idempotency.
	CreateShipment(ctx context.Context, body json.RawMessage, idempotencyKey string) (*models.ShipResult, error)
	VoidShipment(ctx context.Context, shipmentID string) (*models.VoidResult, error)
	ValidateAddress(ctx context.Context, order *models.Order) (*models.AddressValidationResult, error)
	Track(ctx context.Context, trackingNumber string) (*models.TrackResult, error)

	UploadDocument(ctx context.Context, doc DocumentUpload) (*models.DocumentResult, error)
	AttachDocument(ctx context.Context, shipmentID, documentID string) (*models.DocumentResult, error)
	DeleteDocument(ctx context.Context, documentID string) error

	SchedulePickup(ctx context.Context, req PickupRequest) (*models.PickupResult, error)
	CancelPickup(ctx context.Context, confirmationNumber string) error
	RatePickup(ctx context.Context, req PickupRequest) (*models.PickupResult, error)
	GetPickupStatus(ctx context.Context, confirmationNumber string) (*models.PickupResult, error)

	GetLandedCost(ctx context.Context, body json.RawMessage) (*models.LandedCostResult, error)
	FindLocations(ctx context.Context, postalCode, country string) ([]models.Location, error)
	GetPoliticalDivisions(ctx context.Context, country string) ([]models.PoliticalDivision, error)
	GetServiceCenterFacilities(ctx context.Context, postalCode, country string) ([]models.Location, error)

	Ready() bool
}
