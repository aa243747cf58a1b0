// -----------------------------------------------------------------------
// Normalized carrier response shapes. The carrier subprocess answers in
// carrier-native JSON; the carrier client reduces every response to these
// stable structures before anything else sees it.
// -----------------------------------------------------------------------

package models

// Money is an amount in integer minor units (cents) with its currency
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// RateResult is the normalized get_rate response. Negotiated totals are
// preferred over list totals when the carrier returns both.
type RateResult struct {
	TotalCharges Money    `json:"totalCharges"`
	Negotiated   bool     `json:"negotiated"`
	ServiceCode  string   `json:"serviceCode"`
	Warnings     []string `json:"warnings,omitempty"`
}

// LabelImage is one label artifact from a shipment response
type LabelImage struct {
	TrackingNumber string `json:"trackingNumber"`
	Format         string `json:"format"` // "GIF", "PNG", "PDF"
	Base64         string `json:"base64"`
}

// ShipResult is the normalized create_shipment response
type ShipResult struct {
	ShipmentID      string       `json:"shipmentId"`
	TrackingNumbers []string     `json:"trackingNumbers"`
	LabelData       []LabelImage `json:"labelData"`
	TotalCharges    Money        `json:"totalCharges"`
	Negotiated      bool         `json:"negotiated"`
	Warnings        []string     `json:"warnings,omitempty"`
}

// VoidResult is the normalized void_shipment response
type VoidResult struct {
	Voided          bool     `json:"voided"`
	TrackingNumbers []string `json:"trackingNumbers,omitempty"`
}

// AddressCandidate is one suggested address from validation
type AddressCandidate struct {
	Address1   string `json:"address1"`
	Address2   string `json:"address2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// AddressValidationResult is the normalized validate_address response
type AddressValidationResult struct {
	Status     string             `json:"status"` // "valid", "ambiguous", "invalid"
	Candidates []AddressCandidate `json:"candidates,omitempty"`
}

// TrackActivity is one scan event in a tracking response
type TrackActivity struct {
	Status    string `json:"status"`
	Location  string `json:"location,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// TrackResult is the normalized track response
type TrackResult struct {
	TrackingNumber string          `json:"trackingNumber"`
	Status         string          `json:"status"`
	Activities     []TrackActivity `json:"activities,omitempty"`
}

// PickupResult is the normalized schedule_pickup / rate_pickup response
type PickupResult struct {
	ConfirmationNumber string `json:"confirmationNumber,omitempty"`
	Charge             *Money `json:"charge,omitempty"`
	Status             string `json:"status,omitempty"`
}

// DocumentResult is the normalized upload_document / attach_document response
type DocumentResult struct {
	DocumentID string `json:"documentId"`
	Status     string `json:"status,omitempty"`
}

// LandedCostResult is the normalized get_landed_cost response
type LandedCostResult struct {
	TotalLandedCost Money `json:"totalLandedCost"`
	Duties          Money `json:"duties"`
	Taxes           Money `json:"taxes"`
	Fees            Money `json:"fees"`
}

// Location is one facility from find_locations / service-center queries
type Location struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	Distance string `json:"distance,omitempty"`
}

// PoliticalDivision is a country subdivision entry
type PoliticalDivision struct {
	Code string `json:"code"`
	Name string `json:"name"`
}
