// -----------------------------------------------------------------------
// Carrier client (C2) - typed wrapper over the carrier subprocess. Read-only
// operations retry per policy; mutating operations never retry, except the
// single create_shipment re-dispatch on an upstream infrastructure
// rejection. Ambiguous mutating failures come back indeterminate so the
// engine can surface them instead of retrying.
// -----------------------------------------------------------------------

package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/matt-hans/shipagent/internal/errcodes"
	"github.com/matt-hans/shipagent/internal/interfaces"
	"github.com/matt-hans/shipagent/internal/models"
)

type opClass int

const (
	classReadOnly opClass = iota
	classMutating
	classCreateShipment
)

const (
	readOnlyRetries = 2
	initialBackoff  = 200 * time.Millisecond
)

// Client implements interfaces.CarrierService over a ToolInvoker
type Client struct {
	invoker interfaces.ToolInvoker
	logger  arbor.ILogger
}

// NewClient creates the carrier client
func NewClient(invoker interfaces.ToolInvoker, logger arbor.ILogger) interfaces.CarrierService {
	return &Client{invoker: invoker, logger: logger}
}

// Ready reports whether the carrier subprocess is answering
func (c *Client) Ready() bool {
	return c.invoker.Ready()
}

// ---- Rating and shipping ----

func (c *Client) GetRate(ctx context.Context, body json.RawMessage) (*models.RateResult, error) {
	raw, err := c.call(ctx, "get_rate", map[string]interface{}{"body": body}, classReadOnly)
	if err != nil {
		return nil, err
	}
	return normalizeRate(raw)
}

func (c *Client) CreateShipment(ctx context.Context, body json.RawMessage, idempotencyKey string) (*models.ShipResult, error) {
	args := map[string]interface{}{"body": body}
	if idempotencyKey != "" {
		args["idempotency_key"] = idempotencyKey
	}
	raw, err := c.call(ctx, "create_shipment", args, classCreateShipment)
	if err != nil {
		return nil, err
	}
	return normalizeShip(raw)
}

func (c *Client) VoidShipment(ctx context.Context, shipmentID string) (*models.VoidResult, error) {
	raw, err := c.call(ctx, "void_shipment", map[string]interface{}{"shipment_id": shipmentID}, classMutating)
	if err != nil {
		return nil, err
	}
	return normalizeVoid(raw)
}

func (c *Client) ValidateAddress(ctx context.Context, order *models.Order) (*models.AddressValidationResult, error) {
	raw, err := c.call(ctx, "validate_address", map[string]interface{}{
		"address1":    order.Address1,
		"address2":    order.Address2,
		"city":        order.City,
		"state":       order.State,
		"postal_code": order.PostalCode,
		"country":     order.Country,
	}, classReadOnly)
	if err != nil {
		return nil, err
	}
	return normalizeAddress(raw)
}

func (c *Client) Track(ctx context.Context, trackingNumber string) (*models.TrackResult, error) {
	raw, err := c.call(ctx, "track", map[string]interface{}{"tracking_number": trackingNumber}, classReadOnly)
	if err != nil {
		return nil, err
	}
	return normalizeTrack(raw)
}

// ---- Paperless documents ----

func (c *Client) UploadDocument(ctx context.Context, doc interfaces.DocumentUpload) (*models.DocumentResult, error) {
	raw, err := c.call(ctx, "upload_document", map[string]interface{}{
		"file_name": doc.FileName,
		"format":    doc.Format,
		"base64":    doc.Base64,
	}, classMutating)
	if err != nil {
		return nil, err
	}
	return normalizeDocument(raw)
}

func (c *Client) AttachDocument(ctx context.Context, shipmentID, documentID string) (*models.DocumentResult, error) {
	raw, err := c.call(ctx, "attach_document", map[string]interface{}{
		"shipment_id": shipmentID,
		"document_id": documentID,
	}, classMutating)
	if err != nil {
		return nil, err
	}
	return normalizeDocument(raw)
}

func (c *Client) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := c.call(ctx, "delete_document", map[string]interface{}{"document_id": documentID}, classMutating)
	return err
}

// ---- Pickups ----

func (c *Client) SchedulePickup(ctx context.Context, req interfaces.PickupRequest) (*models.PickupResult, error) {
	raw, err := c.call(ctx, "schedule_pickup", pickupArgs(req), classMutating)
	if err != nil {
		return nil, err
	}
	return normalizePickup(raw)
}

func (c *Client) CancelPickup(ctx context.Context, confirmationNumber string) error {
	_, err := c.call(ctx, "cancel_pickup", map[string]interface{}{"confirmation_number": confirmationNumber}, classMutating)
	return err
}

func (c *Client) RatePickup(ctx context.Context, req interfaces.PickupRequest) (*models.PickupResult, error) {
	raw, err := c.call(ctx, "rate_pickup", pickupArgs(req), classReadOnly)
	if err != nil {
		return nil, err
	}
	return normalizePickup(raw)
}

func (c *Client) GetPickupStatus(ctx context.Context, confirmationNumber string) (*models.PickupResult, error) {
	raw, err := c.call(ctx, "get_pickup_status", map[string]interface{}{"confirmation_number": confirmationNumber}, classReadOnly)
	if err != nil {
		return nil, err
	}
	return normalizePickup(raw)
}

func pickupArgs(req interfaces.PickupRequest) map[string]interface{} {
	return map[string]interface{}{
		"date":         req.Date,
		"ready_time":   req.ReadyTime,
		"close_time":   req.CloseTime,
		"address1":     req.Address1,
		"city":         req.City,
		"state":        req.State,
		"postal_code":  req.PostalCode,
		"country":      req.Country,
		"contact_name": req.ContactName,
		"phone":        req.Phone,
	}
}

// ---- Reference data ----

func (c *Client) GetLandedCost(ctx context.Context, body json.RawMessage) (*models.LandedCostResult, error) {
	raw, err := c.call(ctx, "get_landed_cost", map[string]interface{}{"body": body}, classReadOnly)
	if err != nil {
		return nil, err
	}
	return normalizeLandedCost(raw)
}

func (c *Client) FindLocations(ctx context.Context, postalCode, country string) ([]models.Location, error) {
	raw, err := c.call(ctx, "find_locations", map[string]interface{}{
		"postal_code": postalCode,
		"country":     country,
	}, classReadOnly)
	if err != nil {
		return nil, err
	}
	return normalizeLocations(raw)
}

func (c *Client) GetPoliticalDivisions(ctx context.Context, country string) ([]models.PoliticalDivision, error) {
	raw, err := c.call(ctx, "get_political_divisions", map[string]interface{}{"country": country}, classReadOnly)
	if err != nil {
		return nil, err
	}
	return normalizePoliticalDivisions(raw)
}

func (c *Client) GetServiceCenterFacilities(ctx context.Context, postalCode, country string) ([]models.Location, error) {
	raw, err := c.call(ctx, "get_service_center_facilities", map[string]interface{}{
		"postal_code": postalCode,
		"country":     country,
	}, classReadOnly)
	if err != nil {
		return nil, err
	}
	return normalizeLocations(raw)
}

// ---- Dispatch and retry policy ----

// call dispatches one tool invocation under the per-class retry policy and
// translates failures into error records.
func (c *Client) call(ctx context.Context, tool string, args map[string]interface{}, class opClass) (json.RawMessage, error) {
	attempts := 1
	if class == classReadOnly {
		attempts = 1 + readOnlyRetries
	}

	backoff := initialBackoff
	var lastErr *models.ErrorRecord

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, lastErr
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		raw, err := c.invoker.Invoke(ctx, tool, args)
		if err == nil {
			return raw, nil
		}

		record := c.translate(tool, err, class)
		if record.Indeterminate {
			// Ambiguous mutating outcome: surface, never retry.
			return nil, record
		}
		lastErr = record

		if class == classCreateShipment && attempt == 0 && isUpstreamRejection(err) {
			// The upstream rejected the connection before processing;
			// the one permitted re-dispatch.
			c.logger.Warn().Str("tool", tool).Msg("Upstream rejection, re-dispatching once")
			attempts = 2
			continue
		}
		if class != classReadOnly || !record.Retryable {
			return nil, record
		}
		c.logger.Debug().
			Str("tool", tool).
			Int("attempt", attempt+1).
			Str("code", record.Code).
			Msg("Retrying carrier call")
	}
	return nil, lastErr
}

// translate maps transport and tool failures onto the error taxonomy
func (c *Client) translate(tool string, err error, class opClass) *models.ErrorRecord {
	var transportErr *interfaces.TransportError
	if errors.As(err, &transportErr) {
		mutating := class != classReadOnly
		if mutating && transportErr.BodySent {
			return errcodes.NewCarrier(errcodes.OutcomeUnknown, "", transportErr.Message)
		}
		if transportErr.Timeout {
			return errcodes.New(errcodes.CarrierTimeout)
		}
		record := errcodes.New(errcodes.SubprocessTransport, transportErr.Message)
		record.Retryable = true // Transport reconnect is retryable for read-only calls
		return record
	}

	var toolErr *interfaces.ToolError
	if errors.As(err, &toolErr) {
		return c.translateTool(tool, toolErr)
	}

	return errcodes.New(errcodes.CarrierUnknown, err.Error())
}

func (c *Client) translateTool(tool string, toolErr *interfaces.ToolError) *models.ErrorRecord {
	message := toolErr.Message
	lower := strings.ToLower(message + " " + toolErr.Raw)

	switch {
	case toolErr.Status == 401 || toolErr.Status == 403:
		return errcodes.NewCarrier(errcodes.CarrierAuthFailed, toolErr.Code, message)
	case toolErr.Status == 429 || strings.Contains(lower, "rate limit"):
		return errcodes.NewCarrier(errcodes.CarrierRateLimited, toolErr.Code, message)
	case toolErr.Status >= 500 || strings.Contains(lower, "temporarily unavailable"):
		return errcodes.NewCarrier(errcodes.CarrierUnavailable, toolErr.Code, message)
	}

	switch tool {
	case "validate_address":
		return errcodes.NewCarrier(errcodes.AddressInvalid, toolErr.Code, message)
	case "create_shipment", "get_rate":
		return errcodes.NewCarrier(errcodes.ShipmentRejected, toolErr.Code, message)
	case "void_shipment":
		return errcodes.NewCarrier(errcodes.VoidRejected, toolErr.Code, message)
	}
	return errcodes.NewCarrier(errcodes.CarrierUnknown, toolErr.Code, message)
}

// isUpstreamRejection recognizes the load-balancer rejection that never
// reached the carrier application layer.
func isUpstreamRejection(err error) bool {
	var toolErr *interfaces.ToolError
	if !errors.As(err, &toolErr) {
		return false
	}
	return toolErr.Status == 503 &&
		strings.Contains(strings.ToLower(toolErr.Message+" "+toolErr.Raw), "no healthy upstream")
}
