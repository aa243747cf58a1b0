package main

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// 1x1 transparent GIF used as the simulated label image
const labelGIF = "R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7"

var usPostalPattern = regexp.MustCompile(`^\d{5}(-\d{4})?$`)

// serviceTariff is cents base plus cents per pound
type serviceTariff struct {
	base     int64
	perPound int64
}

var tariffs = map[string]serviceTariff{
	"01": {2400, 110}, // Next Day Air
	"02": {1400, 80},  // 2nd Day Air
	"03": {850, 55},   // Ground
	"12": {1100, 65},  // 3 Day Select
	"13": {1950, 100}, // Next Day Air Saver
	"14": {3200, 130}, // Next Day Air Early
	"59": {1650, 90},  // 2nd Day Air A.M.
	"11": {2200, 140}, // Standard (international)
	"65": {2800, 160}, // Express Saver (international)
}

var defaultTariff = serviceTariff{1000, 75}

// simulator produces deterministic carrier responses. It never talks to a
// real carrier; the base URL only distinguishes test from production mode
// in responses that echo it.
type simulator struct {
	clientID      string
	clientSecret  string
	accountNumber string

	mu         sync.Mutex
	seq        int64
	idempotent map[string]string // idempotency key -> shipment response JSON
	voided     map[string]bool
}

func newSimulator(clientID, clientSecret, accountNumber string) *simulator {
	return &simulator{
		clientID:      clientID,
		clientSecret:  clientSecret,
		accountNumber: accountNumber,
		idempotent:    make(map[string]string),
		voided:        make(map[string]bool),
	}
}

// authorized reports whether credentials were provided at startup
func (s *simulator) authorized() bool {
	return s.clientID != "" && s.clientSecret != ""
}

func (s *simulator) nextSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// shipperSegment is the 6-character shipper block of a tracking number
func (s *simulator) shipperSegment() string {
	segment := strings.ToUpper(s.accountNumber)
	segment = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, segment)
	for len(segment) < 6 {
		segment += "0"
	}
	return segment[:6]
}

func (s *simulator) trackingNumber(serviceCode string) string {
	code := "03"
	if len(serviceCode) == 2 {
		code = serviceCode
	}
	return fmt.Sprintf("1Z%s%s%08d", s.shipperSegment(), code, s.nextSeq())
}

func (s *simulator) shipmentID() string {
	return s.trackingNumber("99")
}

// priceShipment computes the simulated charge in cents for a weight and
// service code.
func priceShipment(serviceCode, weight string) int64 {
	tariff, ok := tariffs[serviceCode]
	if !ok {
		tariff = defaultTariff
	}
	lbs, err := strconv.ParseFloat(strings.TrimSpace(weight), 64)
	if err != nil || lbs <= 0 {
		lbs = 1
	}
	return tariff.base + int64(lbs*float64(tariff.perPound))
}

// negotiatedRate applies the simulated account discount
func negotiatedRate(published int64) int64 {
	return published * 9 / 10
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// ---- Request body shapes (the subset the simulator prices from) ----

type addressBody struct {
	AddressLine       []string `json:"AddressLine"`
	City              string   `json:"City"`
	StateProvinceCode string   `json:"StateProvinceCode"`
	PostalCode        string   `json:"PostalCode"`
	CountryCode       string   `json:"CountryCode"`
}

type shipmentBody struct {
	Service struct {
		Code string `json:"Code"`
	} `json:"Service"`
	ShipTo struct {
		Name    string      `json:"Name"`
		Address addressBody `json:"Address"`
	} `json:"ShipTo"`
	Package struct {
		PackageWeight struct {
			Weight string `json:"Weight"`
		} `json:"PackageWeight"`
	} `json:"Package"`
}

type rateRequestBody struct {
	RateRequest struct {
		Shipment shipmentBody `json:"Shipment"`
	} `json:"RateRequest"`
}

type shipRequestBody struct {
	ShipmentRequest struct {
		Shipment shipmentBody `json:"Shipment"`
	} `json:"ShipmentRequest"`
}

type landedCostRequestBody struct {
	ImportCountryCode string `json:"importCountryCode"`
	ShipmentItems     []struct {
		PriceEach string `json:"priceEach"`
		Quantity  int    `json:"quantity"`
	} `json:"shipmentItems"`
}

// priceToCents parses a decimal price string into cents, truncating past
// two decimal places.
func priceToCents(price string) int64 {
	price = strings.TrimSpace(price)
	if price == "" {
		return 0
	}
	whole, frac := price, ""
	if i := strings.IndexByte(price, '.'); i >= 0 {
		whole, frac = price[:i], price[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	for len(frac) < 2 {
		frac += "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0
	}
	cents, err := strconv.ParseInt(frac[:2], 10, 64)
	if err != nil {
		return 0
	}
	return units*100 + cents
}

// dropLocations returns the simulated location search response
func dropLocations(postalCode, kind string) map[string]interface{} {
	if postalCode == "" {
		postalCode = "40201"
	}
	location := func(id, name, street, distance string) map[string]interface{} {
		return map[string]interface{}{
			"LocationID":   id,
			"StandardName": name,
			"AddressKeyFormat": map[string]string{
				"AddressLine":        street,
				"PoliticalDivision2": "Louisville",
				"PoliticalDivision1": "KY",
				"PostcodePrimaryLow": postalCode,
			},
			"Distance": map[string]interface{}{
				"Value":             distance,
				"UnitOfMeasurement": map[string]string{"Code": "MI"},
			},
		}
	}
	return map[string]interface{}{
		"SearchResults": map[string]interface{}{
			"DropLocation": []map[string]interface{}{
				location("100101", kind+" Downtown", "400 Main St", "0.8"),
				location("100102", kind+" Eastside", "2200 Frankfort Ave", "2.3"),
			},
		},
	}
}

type politicalDivision struct {
	Code string `json:"Code"`
	Name string `json:"Name"`
}

// politicalDivisions returns a representative division list per country
func politicalDivisions(country string) []politicalDivision {
	switch strings.ToUpper(country) {
	case "US":
		return []politicalDivision{
			{Code: "CA", Name: "California"},
			{Code: "KY", Name: "Kentucky"},
			{Code: "NY", Name: "New York"},
			{Code: "TX", Name: "Texas"},
		}
	case "CA":
		return []politicalDivision{
			{Code: "ON", Name: "Ontario"},
			{Code: "QC", Name: "Quebec"},
			{Code: "BC", Name: "British Columbia"},
		}
	case "MX":
		return []politicalDivision{
			{Code: "CMX", Name: "Ciudad de Mexico"},
			{Code: "JAL", Name: "Jalisco"},
		}
	}
	return []politicalDivision{}
}

// validateDestination rejects shipments the real carrier would refuse at
// the application layer.
func validateDestination(shipment *shipmentBody) (code string, message string) {
	address := shipment.ShipTo.Address
	switch {
	case len(address.AddressLine) == 0 || strings.TrimSpace(address.AddressLine[0]) == "":
		return "120202", "Missing or invalid ship to address line"
	case strings.TrimSpace(address.City) == "":
		return "120206", "Missing or invalid ship to city"
	case strings.TrimSpace(address.CountryCode) == "":
		return "120209", "Missing or invalid ship to country code"
	case address.CountryCode == "US" && !usPostalPattern.MatchString(address.PostalCode):
		return "120209", "Missing or invalid ship to postal code"
	}
	return "", ""
}
