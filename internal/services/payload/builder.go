// -----------------------------------------------------------------------
// Payload builder (C4) - pure mapping from canonical order records to
// carrier request bodies. All unit conversion happens here: the carrier
// sees LBS and IN regardless of what the source row used. Rate requests
// and ship requests use different packaging keys; do not swap them.
// -----------------------------------------------------------------------

package payload

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/matt-hans/shipagent/internal/errcodes"
	"github.com/matt-hans/shipagent/internal/models"
)

const (
	gramsPerPound  = 453.592
	poundsPerKg    = 2.20462
	ouncesPerPound = 16.0

	maxWeightLbs   = 150.0
	maxDimensionIn = 108.0
	maxReferenceLen = 35

	// International service codes substituted for domestic ones
	serviceIntlStandard     = "11" // CA and MX lanes
	serviceIntlExpressSaver = "65" // All other international lanes
)

// domesticServices are the service codes valid only within the US
var domesticServices = map[string]string{
	"01": "Next Day Air",
	"02": "2nd Day Air",
	"03": "Ground",
	"12": "3 Day Select",
	"13": "Next Day Air Saver",
	"14": "Next Day Air Early",
	"59": "2nd Day Air A.M.",
}

var (
	usPostalPattern = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
	caPostalPattern = regexp.MustCompile(`^[A-Za-z]\d[A-Za-z] ?\d[A-Za-z]\d$`)
	countryPattern  = regexp.MustCompile(`^[A-Z]{2}$`)
)

// Builder produces carrier request bodies for one shipper profile
type Builder struct {
	shipper     models.ShipperProfile
	labelFormat string
}

// NewBuilder creates a payload builder. The shipper account number is
// required; every body embeds it.
func NewBuilder(shipper models.ShipperProfile) (*Builder, error) {
	if strings.TrimSpace(shipper.AccountNumber) == "" {
		return nil, fmt.Errorf("shipper account number is required")
	}
	return &Builder{shipper: shipper, labelFormat: "GIF"}, nil
}

// ResolveServiceCode applies the international upgrade rules. Domestic codes
// are forbidden on international lanes, so they are substituted rather than
// passed through.
func ResolveServiceCode(requested string, order *models.Order) string {
	if !order.IsInternational() {
		return requested
	}
	if _, domestic := domesticServices[requested]; !domestic {
		return requested
	}
	if order.Country == "CA" || order.Country == "MX" {
		return serviceIntlStandard
	}
	return serviceIntlExpressSaver
}

// Validate checks the order against carrier constraints before any body is
// built. Returns nil or a per-row validation error record.
func (b *Builder) Validate(order *models.Order) *models.ErrorRecord {
	switch {
	case strings.TrimSpace(order.Name) == "":
		return errcodes.New(errcodes.MissingRequiredField, "name")
	case strings.TrimSpace(order.Address1) == "":
		return errcodes.New(errcodes.MissingRequiredField, "address1")
	case strings.TrimSpace(order.City) == "":
		return errcodes.New(errcodes.MissingRequiredField, "city")
	case strings.TrimSpace(order.PostalCode) == "" && !order.IsInternational():
		return errcodes.New(errcodes.MissingRequiredField, "postal_code")
	}

	if !countryPattern.MatchString(order.Country) {
		return errcodes.New(errcodes.InvalidCountry, order.Country)
	}
	switch order.Country {
	case "US":
		if !usPostalPattern.MatchString(order.PostalCode) {
			return errcodes.New(errcodes.InvalidPostalCode, order.PostalCode, "US")
		}
	case "CA":
		if !caPostalPattern.MatchString(order.PostalCode) {
			return errcodes.New(errcodes.InvalidPostalCode, order.PostalCode, "CA")
		}
	}

	if order.Weight <= 0 {
		return errcodes.New(errcodes.MissingRequiredField, "weight")
	}
	lbs := toPounds(order.Weight, order.WeightUnit)
	if lbs > maxWeightLbs {
		return errcodes.New(errcodes.OversizePackage, fmt.Sprintf("%.1f lbs exceeds %.0f lbs", lbs, maxWeightLbs))
	}
	for _, dim := range []float64{order.Length, order.Width, order.Height} {
		if dim > maxDimensionIn {
			return errcodes.New(errcodes.OversizePackage, fmt.Sprintf("%.1f in exceeds %.0f in", dim, maxDimensionIn))
		}
	}

	if order.IsInternational() && strings.TrimSpace(order.HSCode) == "" {
		return errcodes.New(errcodes.HSCodeRequired, order.Country)
	}
	return nil
}

// RateBody builds the get_rate request body (packaging key variant A)
func (b *Builder) RateBody(order *models.Order, serviceCode string) (json.RawMessage, error) {
	if err := b.Validate(order); err != nil {
		return nil, err
	}
	serviceCode = ResolveServiceCode(serviceCode, order)

	pkg := map[string]interface{}{
		"PackagingType": map[string]string{"Code": "02"},
		"PackageWeight": weightBlock(order),
	}
	if dims := dimensionBlock(order); dims != nil {
		pkg["Dimensions"] = dims
	}

	body := map[string]interface{}{
		"RateRequest": map[string]interface{}{
			"Shipment": map[string]interface{}{
				"Shipper": b.shipperBlock(true),
				"ShipTo":  shipToBlock(order),
				"Service": map[string]string{"Code": serviceCode},
				"ShipmentRatingOptions": map[string]string{
					"NegotiatedRatesIndicator": "",
				},
				"Package": pkg,
			},
		},
	}
	return json.Marshal(body)
}

// ShipBody builds the create_shipment request body (packaging key variant
// B), including the label specification and the single-element payment
// charge array.
func (b *Builder) ShipBody(order *models.Order, serviceCode string) (json.RawMessage, error) {
	if err := b.Validate(order); err != nil {
		return nil, err
	}
	serviceCode = ResolveServiceCode(serviceCode, order)

	pkg := map[string]interface{}{
		"Packaging":     map[string]string{"Code": "02"},
		"PackageWeight": weightBlock(order),
	}
	if dims := dimensionBlock(order); dims != nil {
		pkg["Dimensions"] = dims
	}
	if ref := strings.TrimSpace(order.Reference); ref != "" {
		if len(ref) > maxReferenceLen {
			ref = ref[:maxReferenceLen]
		}
		// Reference numbers attach at package level only
		pkg["ReferenceNumber"] = []map[string]string{{"Value": ref}}
	}
	if order.Description != "" {
		pkg["Description"] = order.Description
	}

	shipment := map[string]interface{}{
		"Shipper": b.shipperBlock(true),
		"ShipTo":  shipToBlock(order),
		"Service": map[string]string{"Code": serviceCode},
		"PaymentInformation": map[string]interface{}{
			"ShipmentCharge": []map[string]interface{}{{
				"Type":        "01",
				"BillShipper": map[string]string{"AccountNumber": b.shipper.AccountNumber},
			}},
		},
		"ShipmentRatingOptions": map[string]string{
			"NegotiatedRatesIndicator": "",
		},
		"Package": pkg,
	}

	if order.IsInternational() {
		shipment["ShipmentServiceOptions"] = internationalForms(order)
	}

	body := map[string]interface{}{
		"ShipmentRequest": map[string]interface{}{
			"Shipment": shipment,
			"LabelSpecification": map[string]interface{}{
				"LabelImageFormat": map[string]string{"Code": b.labelFormat},
				"LabelStockSize":   map[string]string{"Height": "6", "Width": "4"},
			},
		},
	}
	return json.Marshal(body)
}

// LandedCostBody builds the get_landed_cost request body for an
// international order.
func (b *Builder) LandedCostBody(order *models.Order, serviceCode string) (json.RawMessage, error) {
	if err := b.Validate(order); err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"currencyCode":       "USD",
		"exportCountryCode":  b.shipper.Country,
		"importCountryCode":  order.Country,
		"transportationMode": "AIR",
		"shipmentItems": []map[string]interface{}{{
			"commodityId":   "1",
			"hsCode":        order.HSCode,
			"priceEach":     fmt.Sprintf("%.2f", order.CustomsValue),
			"quantity":      1,
			"description":   order.Description,
			"originCountry": b.shipper.Country,
		}},
	}
	return json.Marshal(body)
}

// ---- Blocks ----

func (b *Builder) shipperBlock(withAccount bool) map[string]interface{} {
	block := map[string]interface{}{
		"Name": b.shipper.Name,
		"Address": map[string]interface{}{
			"AddressLine":       addressLines(b.shipper.Address1, b.shipper.Address2),
			"City":              b.shipper.City,
			"StateProvinceCode": b.shipper.State,
			"PostalCode":        b.shipper.PostalCode,
			"CountryCode":       b.shipper.Country,
		},
	}
	if b.shipper.Phone != "" {
		block["Phone"] = map[string]string{"Number": b.shipper.Phone}
	}
	if withAccount {
		block["ShipperNumber"] = b.shipper.AccountNumber
	}
	return block
}

func shipToBlock(order *models.Order) map[string]interface{} {
	block := map[string]interface{}{
		"Name": order.Name,
		"Address": map[string]interface{}{
			"AddressLine":       addressLines(order.Address1, order.Address2),
			"City":              order.City,
			"StateProvinceCode": order.State,
			"PostalCode":        order.PostalCode,
			"CountryCode":       order.Country,
		},
	}
	if order.Company != "" {
		block["AttentionName"] = order.Name
		block["Name"] = order.Company
	}
	if order.Phone != "" {
		block["Phone"] = map[string]string{"Number": order.Phone}
	}
	return block
}

func weightBlock(order *models.Order) map[string]interface{} {
	return map[string]interface{}{
		"UnitOfMeasurement": map[string]string{"Code": "LBS"},
		"Weight":            formatWeight(toPounds(order.Weight, order.WeightUnit)),
	}
}

func dimensionBlock(order *models.Order) map[string]interface{} {
	if order.Length <= 0 || order.Width <= 0 || order.Height <= 0 {
		return nil
	}
	return map[string]interface{}{
		"UnitOfMeasurement": map[string]string{"Code": "IN"},
		"Length":            fmt.Sprintf("%.0f", order.Length),
		"Width":             fmt.Sprintf("%.0f", order.Width),
		"Height":            fmt.Sprintf("%.0f", order.Height),
	}
}

func internationalForms(order *models.Order) map[string]interface{} {
	product := map[string]interface{}{
		"Description":    order.Description,
		"CommodityCode":  order.HSCode,
		"OriginCountry":  "US",
		"Unit": map[string]interface{}{
			"Number": "1",
			"Value":  fmt.Sprintf("%.2f", order.CustomsValue),
			"UnitOfMeasurement": map[string]string{"Code": "PCS"},
		},
	}
	return map[string]interface{}{
		"InternationalForms": map[string]interface{}{
			"FormType":       "01", // Commercial invoice
			"CurrencyCode":   "USD",
			"ReasonForExport": "SALE",
			"Product":        []map[string]interface{}{product},
		},
	}
}

func addressLines(line1, line2 string) []string {
	lines := []string{line1}
	if line2 != "" {
		lines = append(lines, line2)
	}
	return lines
}

// toPounds converts a weight in the source unit to pounds
func toPounds(weight float64, unit models.WeightUnit) float64 {
	switch unit {
	case models.WeightUnitKg:
		return weight * poundsPerKg
	case models.WeightUnitGrams:
		return weight / gramsPerPound
	case models.WeightUnitOunces:
		return weight / ouncesPerPound
	default:
		return weight
	}
}

// formatWeight renders pounds with one decimal, minimum 0.1
func formatWeight(lbs float64) string {
	if lbs < 0.1 {
		lbs = 0.1
	}
	return fmt.Sprintf("%.1f", lbs)
}
