// -----------------------------------------------------------------------
// Carrier response normalization. The subprocess answers in carrier-native
// JSON; everything here reduces those shapes to the stable models types.
// Monetary values arrive as decimal strings and are converted to integer
// minor units without passing through floats.
// -----------------------------------------------------------------------

package carrier

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/matt-hans/shipagent/internal/models"
)

// ---- Native wire shapes ----

type nativeCharge struct {
	CurrencyCode  string `json:"CurrencyCode"`
	MonetaryValue string `json:"MonetaryValue"`
}

type nativeAlert struct {
	Code        string `json:"Code"`
	Description string `json:"Description"`
}

type rateResponse struct {
	RateResponse struct {
		RatedShipment struct {
			Service struct {
				Code string `json:"Code"`
			} `json:"Service"`
			TotalCharges          nativeCharge `json:"TotalCharges"`
			NegotiatedRateCharges *struct {
				TotalCharge nativeCharge `json:"TotalCharge"`
			} `json:"NegotiatedRateCharges,omitempty"`
			RatedShipmentAlert []nativeAlert `json:"RatedShipmentAlert,omitempty"`
		} `json:"RatedShipment"`
	} `json:"RateResponse"`
}

type shipResponse struct {
	ShipmentResponse struct {
		ShipmentResults struct {
			ShipmentIdentificationNumber string `json:"ShipmentIdentificationNumber"`
			PackageResults               []struct {
				TrackingNumber string `json:"TrackingNumber"`
				ShippingLabel  struct {
					ImageFormat struct {
						Code string `json:"Code"`
					} `json:"ImageFormat"`
					GraphicImage string `json:"GraphicImage"`
				} `json:"ShippingLabel"`
			} `json:"PackageResults"`
			ShipmentCharges struct {
				TotalCharges nativeCharge `json:"TotalCharges"`
			} `json:"ShipmentCharges"`
			NegotiatedRateCharges *struct {
				TotalCharge nativeCharge `json:"TotalCharge"`
			} `json:"NegotiatedRateCharges,omitempty"`
			Alert []nativeAlert `json:"Alert,omitempty"`
		} `json:"ShipmentResults"`
	} `json:"ShipmentResponse"`
}

type voidResponse struct {
	VoidShipmentResponse struct {
		SummaryResult struct {
			Status struct {
				Code string `json:"Code"`
			} `json:"Status"`
		} `json:"SummaryResult"`
		PackageLevelResult []struct {
			TrackingNumber string `json:"TrackingNumber"`
			Status         struct {
				Code string `json:"Code"`
			} `json:"Status"`
		} `json:"PackageLevelResult,omitempty"`
	} `json:"VoidShipmentResponse"`
}

type addressKeyFormat struct {
	AddressLine        []string `json:"AddressLine"`
	PoliticalDivision2 string   `json:"PoliticalDivision2"` // City
	PoliticalDivision1 string   `json:"PoliticalDivision1"` // State
	PostcodePrimaryLow string   `json:"PostcodePrimaryLow"`
	CountryCode        string   `json:"CountryCode"`
}

type xavResponse struct {
	XAVResponse struct {
		ValidAddressIndicator     *struct{} `json:"ValidAddressIndicator,omitempty"`
		AmbiguousAddressIndicator *struct{} `json:"AmbiguousAddressIndicator,omitempty"`
		NoCandidatesIndicator     *struct{} `json:"NoCandidatesIndicator,omitempty"`
		Candidate                 []struct {
			AddressKeyFormat addressKeyFormat `json:"AddressKeyFormat"`
		} `json:"Candidate,omitempty"`
	} `json:"XAVResponse"`
}

type trackResponse struct {
	TrackResponse struct {
		Shipment []struct {
			Package []struct {
				TrackingNumber string `json:"trackingNumber"`
				CurrentStatus  struct {
					Description string `json:"description"`
				} `json:"currentStatus"`
				Activity []struct {
					Status struct {
						Description string `json:"description"`
					} `json:"status"`
					Location struct {
						Address struct {
							City          string `json:"city"`
							StateProvince string `json:"stateProvince"`
						} `json:"address"`
					} `json:"location"`
					Date string `json:"date"`
					Time string `json:"time"`
				} `json:"activity"`
			} `json:"package"`
		} `json:"shipment"`
	} `json:"trackResponse"`
}

type pickupResponse struct {
	PickupCreationResponse *struct {
		PRN string `json:"PRN"`
	} `json:"PickupCreationResponse,omitempty"`
	PickupRateResponse *struct {
		RateResult struct {
			GrandTotalOfAllCharge string `json:"GrandTotalOfAllCharge"`
			CurrencyCode          string `json:"CurrencyCode"`
		} `json:"RateResult"`
	} `json:"PickupRateResponse,omitempty"`
	PickupStatus *struct {
		PRN    string `json:"PRN"`
		Status string `json:"Status"`
	} `json:"PickupStatus,omitempty"`
}

type documentResponse struct {
	UploadResponse *struct {
		FormsHistoryDocumentID struct {
			DocumentID string `json:"DocumentID"`
		} `json:"FormsHistoryDocumentID"`
	} `json:"UploadResponse,omitempty"`
	PushToImageRepositoryResponse *struct {
		FormsGroupID string `json:"FormsGroupID"`
	} `json:"PushToImageRepositoryResponse,omitempty"`
}

type landedCostResponse struct {
	LandedCostResponse struct {
		Shipment struct {
			CurrencyCode    string `json:"currencyCode"`
			TotalLandedCost string `json:"totalLandedCost"`
			TotalDuties     string `json:"totalDuties"`
			TotalTaxes      string `json:"totalTaxes"`
			TotalFees       string `json:"totalBrokerageFees"`
		} `json:"shipment"`
	} `json:"LandedCostResponse"`
}

type locationResponse struct {
	SearchResults struct {
		DropLocation []struct {
			LocationID   string `json:"LocationID"`
			StandardName string `json:"StandardName"`
			AddressKeyFormat struct {
				AddressLine        string `json:"AddressLine"`
				PoliticalDivision2 string `json:"PoliticalDivision2"`
				PoliticalDivision1 string `json:"PoliticalDivision1"`
				PostcodePrimaryLow string `json:"PostcodePrimaryLow"`
			} `json:"AddressKeyFormat"`
			Distance struct {
				Value string `json:"Value"`
				UnitOfMeasurement struct {
					Code string `json:"Code"`
				} `json:"UnitOfMeasurement"`
			} `json:"Distance"`
		} `json:"DropLocation"`
	} `json:"SearchResults"`
}

type politicalDivisionResponse struct {
	PoliticalDivisions []struct {
		Code string `json:"Code"`
		Name string `json:"Name"`
	} `json:"PoliticalDivisions"`
}

// ---- Converters ----

// parseMoney converts a decimal string like "12.34" to integer minor units.
// Truncates past two decimal places; carriers do not send sub-cent amounts.
func parseMoney(value, currency string) (models.Money, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return models.Money{Currency: currency}, nil
	}

	negative := strings.HasPrefix(value, "-")
	value = strings.TrimPrefix(value, "-")

	whole, frac := value, ""
	if i := strings.IndexByte(value, '.'); i >= 0 {
		whole, frac = value[:i], value[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	for len(frac) < 2 {
		frac += "0"
	}
	frac = frac[:2]

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return models.Money{}, fmt.Errorf("invalid monetary value %q: %w", value, err)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return models.Money{}, fmt.Errorf("invalid monetary value %q: %w", value, err)
	}

	amount := units*100 + cents
	if negative {
		amount = -amount
	}
	if currency == "" {
		currency = "USD"
	}
	return models.Money{Amount: amount, Currency: currency}, nil
}

func normalizeRate(raw json.RawMessage) (*models.RateResult, error) {
	var resp rateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("malformed rate response: %w", err)
	}

	rated := resp.RateResponse.RatedShipment
	result := &models.RateResult{ServiceCode: rated.Service.Code}

	charge := rated.TotalCharges
	if rated.NegotiatedRateCharges != nil && rated.NegotiatedRateCharges.TotalCharge.MonetaryValue != "" {
		charge = rated.NegotiatedRateCharges.TotalCharge
		result.Negotiated = true
	}

	total, err := parseMoney(charge.MonetaryValue, charge.CurrencyCode)
	if err != nil {
		return nil, err
	}
	result.TotalCharges = total

	for _, alert := range rated.RatedShipmentAlert {
		if alert.Description != "" {
			result.Warnings = append(result.Warnings, alert.Description)
		}
	}
	return result, nil
}

func normalizeShip(raw json.RawMessage) (*models.ShipResult, error) {
	var resp shipResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("malformed shipment response: %w", err)
	}

	results := resp.ShipmentResponse.ShipmentResults
	out := &models.ShipResult{ShipmentID: results.ShipmentIdentificationNumber}

	for _, pkg := range results.PackageResults {
		out.TrackingNumbers = append(out.TrackingNumbers, pkg.TrackingNumber)
		if pkg.ShippingLabel.GraphicImage != "" {
			format := pkg.ShippingLabel.ImageFormat.Code
			if format == "" {
				format = "GIF"
			}
			out.LabelData = append(out.LabelData, models.LabelImage{
				TrackingNumber: pkg.TrackingNumber,
				Format:         format,
				Base64:         pkg.ShippingLabel.GraphicImage,
			})
		}
	}

	charge := results.ShipmentCharges.TotalCharges
	if results.NegotiatedRateCharges != nil && results.NegotiatedRateCharges.TotalCharge.MonetaryValue != "" {
		charge = results.NegotiatedRateCharges.TotalCharge
		out.Negotiated = true
	}
	total, err := parseMoney(charge.MonetaryValue, charge.CurrencyCode)
	if err != nil {
		return nil, err
	}
	out.TotalCharges = total

	for _, alert := range results.Alert {
		if alert.Description != "" {
			out.Warnings = append(out.Warnings, alert.Description)
		}
	}
	return out, nil
}

func normalizeVoid(raw json.RawMessage) (*models.VoidResult, error) {
	var resp voidResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("malformed void response: %w", err)
	}

	out := &models.VoidResult{Voided: resp.VoidShipmentResponse.SummaryResult.Status.Code == "1"}
	for _, pkg := range resp.VoidShipmentResponse.PackageLevelResult {
		if pkg.Status.Code == "1" {
			out.TrackingNumbers = append(out.TrackingNumbers, pkg.TrackingNumber)
		}
	}
	return out, nil
}

func normalizeAddress(raw json.RawMessage) (*models.AddressValidationResult, error) {
	var resp xavResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("malformed address validation response: %w", err)
	}

	out := &models.AddressValidationResult{}
	switch {
	case resp.XAVResponse.ValidAddressIndicator != nil:
		out.Status = "valid"
	case resp.XAVResponse.AmbiguousAddressIndicator != nil:
		out.Status = "ambiguous"
	default:
		out.Status = "invalid"
	}

	for _, candidate := range resp.XAVResponse.Candidate {
		akf := candidate.AddressKeyFormat
		c := models.AddressCandidate{
			City:       akf.PoliticalDivision2,
			State:      akf.PoliticalDivision1,
			PostalCode: akf.PostcodePrimaryLow,
			Country:    akf.CountryCode,
		}
		if len(akf.AddressLine) > 0 {
			c.Address1 = akf.AddressLine[0]
		}
		if len(akf.AddressLine) > 1 {
			c.Address2 = akf.AddressLine[1]
		}
		out.Candidates = append(out.Candidates, c)
	}
	return out, nil
}

func normalizeTrack(raw json.RawMessage) (*models.TrackResult, error) {
	var resp trackResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("malformed track response: %w", err)
	}

	out := &models.TrackResult{}
	for _, shipment := range resp.TrackResponse.Shipment {
		for _, pkg := range shipment.Package {
			out.TrackingNumber = pkg.TrackingNumber
			out.Status = pkg.CurrentStatus.Description
			for _, activity := range pkg.Activity {
				entry := models.TrackActivity{Status: activity.Status.Description}
				if activity.Location.Address.City != "" {
					entry.Location = activity.Location.Address.City
					if activity.Location.Address.StateProvince != "" {
						entry.Location += ", " + activity.Location.Address.StateProvince
					}
				}
				if activity.Date != "" {
					entry.Timestamp = activity.Date + " " + activity.Time
				}
				out.Activities = append(out.Activities, entry)
			}
			return out, nil
		}
	}
	return out, nil
}

func normalizePickup(raw json.RawMessage) (*models.PickupResult, error) {
	var resp pickupResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("malformed pickup response: %w", err)
	}

	out := &models.PickupResult{}
	if resp.PickupCreationResponse != nil {
		out.ConfirmationNumber = resp.PickupCreationResponse.PRN
	}
	if resp.PickupRateResponse != nil {
		rate := resp.PickupRateResponse.RateResult
		charge, err := parseMoney(rate.GrandTotalOfAllCharge, rate.CurrencyCode)
		if err != nil {
			return nil, err
		}
		out.Charge = &charge
	}
	if resp.PickupStatus != nil {
		out.ConfirmationNumber = resp.PickupStatus.PRN
		out.Status = resp.PickupStatus.Status
	}
	return out, nil
}

func normalizeDocument(raw json.RawMessage) (*models.DocumentResult, error) {
	var resp documentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("malformed document response: %w", err)
	}

	out := &models.DocumentResult{}
	if resp.UploadResponse != nil {
		out.DocumentID = resp.UploadResponse.FormsHistoryDocumentID.DocumentID
	}
	if resp.PushToImageRepositoryResponse != nil {
		out.DocumentID = resp.PushToImageRepositoryResponse.FormsGroupID
		out.Status = "attached"
	}
	return out, nil
}

func normalizeLandedCost(raw json.RawMessage) (*models.LandedCostResult, error) {
	var resp landedCostResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("malformed landed cost response: %w", err)
	}

	shipment := resp.LandedCostResponse.Shipment
	out := &models.LandedCostResult{}
	var err error
	if out.TotalLandedCost, err = parseMoney(shipment.TotalLandedCost, shipment.CurrencyCode); err != nil {
		return nil, err
	}
	if out.Duties, err = parseMoney(shipment.TotalDuties, shipment.CurrencyCode); err != nil {
		return nil, err
	}
	if out.Taxes, err = parseMoney(shipment.TotalTaxes, shipment.CurrencyCode); err != nil {
		return nil, err
	}
	if out.Fees, err = parseMoney(shipment.TotalFees, shipment.CurrencyCode); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeLocations(raw json.RawMessage) ([]models.Location, error) {
	var resp locationResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("malformed locations response: %w", err)
	}

	locations := []models.Location{}
	for _, drop := range resp.SearchResults.DropLocation {
		akf := drop.AddressKeyFormat
		address := strings.TrimSpace(fmt.Sprintf("%s, %s, %s %s",
			akf.AddressLine, akf.PoliticalDivision2, akf.PoliticalDivision1, akf.PostcodePrimaryLow))
		loc := models.Location{
			ID:      drop.LocationID,
			Name:    drop.StandardName,
			Address: address,
		}
		if drop.Distance.Value != "" {
			loc.Distance = drop.Distance.Value + " " + drop.Distance.UnitOfMeasurement.Code
		}
		locations = append(locations, loc)
	}
	return locations, nil
}

func normalizePoliticalDivisions(raw json.RawMessage) ([]models.PoliticalDivision, error) {
	var resp politicalDivisionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("malformed political divisions response: %w", err)
	}

	divisions := make([]models.PoliticalDivision, 0, len(resp.PoliticalDivisions))
	for _, division := range resp.PoliticalDivisions {
		divisions = append(divisions, models.PoliticalDivision{Code: division.Code, Name: division.Name})
	}
	return divisions, nil
}
