// -----------------------------------------------------------------------
// Order - canonical order record mapped from heterogeneous source rows
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"strconv"
	"strings"
)

// WeightUnit is the unit the source row expressed weight in. Conversion to
// carrier units (LBS) happens in the payload builder, not here.
type WeightUnit string

const (
	WeightUnitLbs    WeightUnit = "lbs"
	WeightUnitKg     WeightUnit = "kg"
	WeightUnitGrams  WeightUnit = "g"
	WeightUnitOunces WeightUnit = "oz"
)

// Order is the canonical order record the payload builder consumes.
// Dimensions are inches.
type Order struct {
	Name       string `json:"name"`
	Company    string `json:"company,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	Address1   string `json:"address1"`
	Address2   string `json:"address2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"` // ISO 3166-1 alpha-2; defaults to US

	Weight     float64    `json:"weight"`
	WeightUnit WeightUnit `json:"weight_unit"`
	Length     float64    `json:"length,omitempty"`
	Width      float64    `json:"width,omitempty"`
	Height     float64    `json:"height,omitempty"`

	Reference string `json:"reference,omitempty"` // Package-level reference number

	// International fields
	HSCode        string  `json:"hs_code,omitempty"`
	CustomsValue  float64 `json:"customs_value,omitempty"`
	Description   string  `json:"description,omitempty"`
}

// columnAliases maps canonical order fields to the source column names seen
// in the wild. Matching is case-insensitive with spaces/dashes folded to
// underscores.
var columnAliases = map[string][]string{
	"name":        {"name", "recipient", "recipient_name", "ship_to_name", "customer", "customer_name", "contact"},
	"company":     {"company", "company_name", "organization"},
	"phone":       {"phone", "phone_number", "telephone"},
	"email":       {"email", "email_address"},
	"address1":    {"address", "address1", "address_1", "street", "street_address", "ship_to_address"},
	"address2":    {"address2", "address_2", "apt", "suite", "unit"},
	"city":        {"city", "town"},
	"state":       {"state", "province", "state_province", "region"},
	"postal_code": {"zip", "zipcode", "zip_code", "postal", "postal_code", "postcode"},
	"country":     {"country", "country_code", "destination_country"},
	"reference":   {"reference", "ref", "order_id", "order_number", "invoice", "po_number"},
	"length":      {"length", "len", "depth"},
	"width":       {"width"},
	"height":      {"height"},
	"hs_code":     {"hs_code", "hscode", "tariff_code", "harmonized_code"},
	"description": {"description", "contents", "item_description"},
}

// weightAliases map column names to the unit they imply
var weightAliases = map[string]WeightUnit{
	"weight":        WeightUnitLbs,
	"weight_lbs":    WeightUnitLbs,
	"weight_pounds": WeightUnitLbs,
	"weight_kg":     WeightUnitKg,
	"weight_grams":  WeightUnitGrams,
	"weight_g":      WeightUnitGrams,
	"weight_oz":     WeightUnitOunces,
}

func normalizeColumn(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "-", "_")
	return name
}

// OrderFromRow maps a raw source row onto the canonical order record using
// tolerant column-name matching. Returns an error naming the first missing
// required field; full schema validation stays with the payload builder.
func OrderFromRow(row *SourceRow) (*Order, error) {
	fields := make(map[string]interface{}, len(row.Fields))
	for k, v := range row.Fields {
		fields[normalizeColumn(k)] = v
	}

	lookup := func(canonical string) string {
		for _, alias := range columnAliases[canonical] {
			if v, ok := fields[alias]; ok {
				return strings.TrimSpace(fmt.Sprintf("%v", v))
			}
		}
		return ""
	}
	lookupFloat := func(canonical string) float64 {
		for _, alias := range columnAliases[canonical] {
			if v, ok := fields[alias]; ok {
				return toFloat(v)
			}
		}
		return 0
	}

	order := &Order{
		Name:        lookup("name"),
		Company:     lookup("company"),
		Phone:       lookup("phone"),
		Email:       lookup("email"),
		Address1:    lookup("address1"),
		Address2:    lookup("address2"),
		City:        lookup("city"),
		State:       lookup("state"),
		PostalCode:  lookup("postal_code"),
		Country:     strings.ToUpper(lookup("country")),
		Reference:   lookup("reference"),
		Length:      lookupFloat("length"),
		Width:       lookupFloat("width"),
		Height:      lookupFloat("height"),
		HSCode:      lookup("hs_code"),
		Description: lookup("description"),
	}

	for alias, unit := range weightAliases {
		if v, ok := fields[alias]; ok {
			order.Weight = toFloat(v)
			order.WeightUnit = unit
			break
		}
	}

	if v, ok := fields["customs_value"]; ok {
		order.CustomsValue = toFloat(v)
	}

	if order.Country == "" {
		order.Country = "US"
	}

	if order.Name == "" {
		return nil, fmt.Errorf("row %d: no recipient name column found", row.RowNumber)
	}
	if order.Address1 == "" {
		return nil, fmt.Errorf("row %d: no address column found", row.RowNumber)
	}

	return order, nil
}

// IsInternational reports whether the destination is outside the US
func (o *Order) IsInternational() bool {
	return o.Country != "" && o.Country != "US"
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
