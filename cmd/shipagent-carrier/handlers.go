package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
)

// jsonResult marshals a payload into a single text content block
func jsonResult(payload interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return errorResult("CARRIER_INTERNAL", 500, fmt.Sprintf("failed to encode response: %v", err)), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
	}, nil
}

func rawResult(data string) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(data)},
	}, nil
}

// errorResult builds a structured tool error the supervisor can decode
func errorResult(code string, status int, message string) *mcp.CallToolResult {
	payload, _ := json.Marshal(map[string]interface{}{
		"code":    code,
		"status":  status,
		"message": message,
	})
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{mcp.NewTextContent(string(payload))},
	}
}

func authError() *mcp.CallToolResult {
	return errorResult("250003", 401, "Invalid or missing carrier credentials")
}

// decodeBody re-marshals the "body" argument into a typed request
func decodeBody(request mcp.CallToolRequest, target interface{}) error {
	body, ok := request.GetArguments()["body"]
	if !ok {
		return fmt.Errorf("body parameter is required")
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("malformed body: %w", err)
	}
	return json.Unmarshal(data, target)
}

// handleGetRate implements the get_rate tool
func handleGetRate(sim *simulator, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !sim.authorized() {
			return authError(), nil
		}

		var body rateRequestBody
		if err := decodeBody(request, &body); err != nil {
			return errorResult("110002", 400, err.Error()), nil
		}
		shipment := body.RateRequest.Shipment
		if code, message := validateDestination(&shipment); code != "" {
			return errorResult(code, 400, message), nil
		}

		published := priceShipment(shipment.Service.Code, shipment.Package.PackageWeight.Weight)
		return jsonResult(map[string]interface{}{
			"RateResponse": map[string]interface{}{
				"RatedShipment": map[string]interface{}{
					"Service": map[string]string{"Code": shipment.Service.Code},
					"TotalCharges": map[string]string{
						"CurrencyCode":  "USD",
						"MonetaryValue": formatCents(published),
					},
					"NegotiatedRateCharges": map[string]interface{}{
						"TotalCharge": map[string]string{
							"CurrencyCode":  "USD",
							"MonetaryValue": formatCents(negotiatedRate(published)),
						},
					},
				},
			},
		})
	}
}

// handleCreateShipment implements the create_shipment tool. Replays with a
// known idempotency key return the original response byte for byte.
func handleCreateShipment(sim *simulator, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !sim.authorized() {
			return authError(), nil
		}

		idempotencyKey := request.GetString("idempotency_key", "")
		if idempotencyKey != "" {
			sim.mu.Lock()
			cached, ok := sim.idempotent[idempotencyKey]
			sim.mu.Unlock()
			if ok {
				return rawResult(cached)
			}
		}

		var body shipRequestBody
		if err := decodeBody(request, &body); err != nil {
			return errorResult("120002", 400, err.Error()), nil
		}
		shipment := body.ShipmentRequest.Shipment
		if code, message := validateDestination(&shipment); code != "" {
			return errorResult(code, 400, message), nil
		}

		published := priceShipment(shipment.Service.Code, shipment.Package.PackageWeight.Weight)
		tracking := sim.trackingNumber(shipment.Service.Code)

		response := map[string]interface{}{
			"ShipmentResponse": map[string]interface{}{
				"ShipmentResults": map[string]interface{}{
					"ShipmentIdentificationNumber": tracking,
					"PackageResults": []map[string]interface{}{{
						"TrackingNumber": tracking,
						"ShippingLabel": map[string]interface{}{
							"ImageFormat":  map[string]string{"Code": "GIF"},
							"GraphicImage": labelGIF,
						},
					}},
					"ShipmentCharges": map[string]interface{}{
						"TotalCharges": map[string]string{
							"CurrencyCode":  "USD",
							"MonetaryValue": formatCents(published),
						},
					},
					"NegotiatedRateCharges": map[string]interface{}{
						"TotalCharge": map[string]string{
							"CurrencyCode":  "USD",
							"MonetaryValue": formatCents(negotiatedRate(published)),
						},
					},
				},
			},
		}

		data, err := json.Marshal(response)
		if err != nil {
			return errorResult("CARRIER_INTERNAL", 500, err.Error()), nil
		}
		if idempotencyKey != "" {
			sim.mu.Lock()
			sim.idempotent[idempotencyKey] = string(data)
			sim.mu.Unlock()
		}
		return rawResult(string(data))
	}
}

// handleVoidShipment implements the void_shipment tool
func handleVoidShipment(sim *simulator, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !sim.authorized() {
			return authError(), nil
		}
		shipmentID, err := request.RequireString("shipment_id")
		if err != nil || shipmentID == "" {
			return errorResult("190001", 400, "shipment_id parameter is required"), nil
		}

		sim.mu.Lock()
		alreadyVoided := sim.voided[shipmentID]
		sim.voided[shipmentID] = true
		sim.mu.Unlock()

		if alreadyVoided {
			return errorResult("190117", 400, "Shipment has already been voided"), nil
		}

		return jsonResult(map[string]interface{}{
			"VoidShipmentResponse": map[string]interface{}{
				"SummaryResult": map[string]interface{}{
					"Status": map[string]string{"Code": "1"},
				},
				"PackageLevelResult": []map[string]interface{}{{
					"TrackingNumber": shipmentID,
					"Status":         map[string]string{"Code": "1"},
				}},
			},
		})
	}
}

// handleValidateAddress implements the validate_address tool
func handleValidateAddress(sim *simulator, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !sim.authorized() {
			return authError(), nil
		}

		address1 := request.GetString("address1", "")
		address2 := request.GetString("address2", "")
		city := request.GetString("city", "")
		state := request.GetString("state", "")
		postalCode := request.GetString("postal_code", "")
		country := request.GetString("country", "")

		inner := map[string]interface{}{}
		switch {
		case address1 == "" || city == "":
			inner["NoCandidatesIndicator"] = struct{}{}
		case country != "US" || usPostalPattern.MatchString(postalCode):
			inner["ValidAddressIndicator"] = struct{}{}
		default:
			inner["AmbiguousAddressIndicator"] = struct{}{}
		}

		if _, invalid := inner["NoCandidatesIndicator"]; !invalid {
			lines := []string{address1}
			if address2 != "" {
				lines = append(lines, address2)
			}
			candidatePostal := postalCode
			if country == "US" && !usPostalPattern.MatchString(postalCode) {
				candidatePostal = "40201"
			}
			inner["Candidate"] = []map[string]interface{}{{
				"AddressKeyFormat": map[string]interface{}{
					"AddressLine":        lines,
					"PoliticalDivision2": city,
					"PoliticalDivision1": state,
					"PostcodePrimaryLow": candidatePostal,
					"CountryCode":        country,
				},
			}}
		}

		return jsonResult(map[string]interface{}{"XAVResponse": inner})
	}
}

// handleTrack implements the track tool
func handleTrack(sim *simulator, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !sim.authorized() {
			return authError(), nil
		}
		trackingNumber, err := request.RequireString("tracking_number")
		if err != nil || trackingNumber == "" {
			return errorResult("TRK001", 400, "tracking_number parameter is required"), nil
		}

		activity := func(description, city, state, date, hhmmss string) map[string]interface{} {
			return map[string]interface{}{
				"status": map[string]string{"description": description},
				"location": map[string]interface{}{
					"address": map[string]string{"city": city, "stateProvince": state},
				},
				"date": date,
				"time": hhmmss,
			}
		}

		return jsonResult(map[string]interface{}{
			"trackResponse": map[string]interface{}{
				"shipment": []map[string]interface{}{{
					"package": []map[string]interface{}{{
						"trackingNumber": trackingNumber,
						"currentStatus":  map[string]string{"description": "In Transit"},
						"activity": []map[string]interface{}{
							activity("Departed from Facility", "Louisville", "KY", "20260824", "063000"),
							activity("Origin Scan", "Louisville", "KY", "20260823", "211500"),
						},
					}},
				}},
			},
		})
	}
}

// handleUploadDocument implements the upload_document tool
func handleUploadDocument(sim *simulator, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !sim.authorized() {
			return authError(), nil
		}
		if _, err := request.RequireString("base64"); err != nil {
			return errorResult("9600001", 400, "base64 parameter is required"), nil
		}

		return jsonResult(map[string]interface{}{
			"UploadResponse": map[string]interface{}{
				"FormsHistoryDocumentID": map[string]string{
					"DocumentID": fmt.Sprintf("DOC%012d", sim.nextSeq()),
				},
			},
		})
	}
}

// handleAttachDocument implements the attach_document tool
func handleAttachDocument(sim *simulator, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !sim.authorized() {
			return authError(), nil
		}
		documentID, err := request.RequireString("document_id")
		if err != nil || documentID == "" {
			return errorResult("9600002", 400, "document_id parameter is required"), nil
		}

		return jsonResult(map[string]interface{}{
			"PushToImageRepositoryResponse": map[string]interface{}{
				"FormsGroupID": documentID,
			},
		})
	}
}

// handleDeleteDocument implements the delete_document tool
func handleDeleteDocument(sim *simulator, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !sim.authorized() {
			return authError(), nil
		}
		if _, err := request.RequireString("document_id"); err != nil {
			return errorResult("9600002", 400, "document_id parameter is required"), nil
		}
		return jsonResult(map[string]interface{}{"status": "deleted"})
	}
}

// handleSchedulePickup implements the schedule_pickup tool
func handleSchedulePickup(sim *simulator, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !sim.authorized() {
			return authError(), nil
		}
		if _, err := request.RequireString("date"); err != nil {
			return errorResult("PU0001", 400, "date parameter is required"), nil
		}

		return jsonResult(map[string]interface{}{
			"PickupCreationResponse": map[string]interface{}{
				"PRN": fmt.Sprintf("29%010d", sim.nextSeq()),
			},
		})
	}
}

// handleCancelPickup implements the cancel_pickup tool
func handleCancelPickup(sim *simulator, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !sim.authorized() {
			return authError(), nil
		}
		if _, err := request.RequireString("confirmation_number"); err != nil {
			return errorResult("PU0002", 400, "confirmation_number parameter is required"), nil
		}
		return jsonResult(map[string]interface{}{"status": "cancelled"})
	}
}

// handleRatePickup implements the rate_pickup tool
func handleRatePickup(sim *simulator, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !sim.authorized() {
			return authError(), nil
		}

		return jsonResult(map[string]interface{}{
			"PickupRateResponse": map[string]interface{}{
				"RateResult": map[string]string{
					"GrandTotalOfAllCharge": "8.50",
					"CurrencyCode":          "USD",
				},
			},
		})
	}
}

// handleGetPickupStatus implements the get_pickup_status tool
func handleGetPickupStatus(sim *simulator, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !sim.authorized() {
			return authError(), nil
		}
		prn, err := request.RequireString("confirmation_number")
		if err != nil || prn == "" {
			return errorResult("PU0002", 400, "confirmation_number parameter is required"), nil
		}

		return jsonResult(map[string]interface{}{
			"PickupStatus": map[string]string{
				"PRN":    prn,
				"Status": "Scheduled",
			},
		})
	}
}

// handleGetLandedCost implements the get_landed_cost tool. Duties are 5% of
// declared value, taxes 10%, brokerage a flat 2.50.
func handleGetLandedCost(sim *simulator, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !sim.authorized() {
			return authError(), nil
		}

		var body landedCostRequestBody
		if err := decodeBody(request, &body); err != nil {
			return errorResult("LC0001", 400, err.Error()), nil
		}

		var declaredCents int64
		for _, item := range body.ShipmentItems {
			quantity := item.Quantity
			if quantity < 1 {
				quantity = 1
			}
			declaredCents += priceToCents(item.PriceEach) * int64(quantity)
		}

		duties := declaredCents * 5 / 100
		taxes := declaredCents * 10 / 100
		fees := int64(250)

		return jsonResult(map[string]interface{}{
			"LandedCostResponse": map[string]interface{}{
				"shipment": map[string]string{
					"currencyCode":       "USD",
					"totalLandedCost":    formatCents(duties + taxes + fees),
					"totalDuties":        formatCents(duties),
					"totalTaxes":         formatCents(taxes),
					"totalBrokerageFees": formatCents(fees),
				},
			},
		})
	}
}

// handleFindLocations implements the find_locations tool
func handleFindLocations(sim *simulator, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !sim.authorized() {
			return authError(), nil
		}
		postalCode := request.GetString("postal_code", "")
		return jsonResult(dropLocations(postalCode, "Access Point"))
	}
}

// handleGetPoliticalDivisions implements the get_political_divisions tool
func handleGetPoliticalDivisions(sim *simulator, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !sim.authorized() {
			return authError(), nil
		}
		country, err := request.RequireString("country")
		if err != nil || country == "" {
			return errorResult("PD0001", 400, "country parameter is required"), nil
		}

		return jsonResult(map[string]interface{}{
			"PoliticalDivisions": politicalDivisions(country),
		})
	}
}

// handleGetServiceCenterFacilities implements the get_service_center_facilities tool
func handleGetServiceCenterFacilities(sim *simulator, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !sim.authorized() {
			return authError(), nil
		}
		postalCode := request.GetString("postal_code", "")
		return jsonResult(dropLocations(postalCode, "Service Center"))
	}
}
