package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriceShipment(t *testing.T) {
	// Ground: 8.50 base + 0.55/lb
	assert.Equal(t, int64(850+550), priceShipment("03", "10"))
	// Unknown service falls back to the default tariff
	assert.Equal(t, int64(1000+75), priceShipment("ZZ", "1"))
	// Unparseable weight prices as one pound
	assert.Equal(t, int64(850+55), priceShipment("03", ""))
}

func TestNegotiatedRate(t *testing.T) {
	assert.Equal(t, int64(900), negotiatedRate(1000))
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "12.34", formatCents(1234))
	assert.Equal(t, "0.05", formatCents(5))
	assert.Equal(t, "-3.00", formatCents(-300))
}

func TestPriceToCents(t *testing.T) {
	assert.Equal(t, int64(1999), priceToCents("19.99"))
	assert.Equal(t, int64(500), priceToCents("5"))
	assert.Equal(t, int64(0), priceToCents(""))
}

func TestTrackingNumberShape(t *testing.T) {
	sim := newSimulator("id", "secret", "A1B2C3")
	first := sim.trackingNumber("03")
	second := sim.trackingNumber("03")

	assert.Len(t, first, 18)
	assert.Equal(t, "1ZA1B2C303", first[:10])
	assert.NotEqual(t, first, second)
}

func TestAuthorizedRequiresBothCredentials(t *testing.T) {
	assert.True(t, newSimulator("id", "secret", "acct").authorized())
	assert.False(t, newSimulator("", "secret", "acct").authorized())
	assert.False(t, newSimulator("id", "", "acct").authorized())
}

func TestValidateDestination(t *testing.T) {
	valid := shipmentBody{}
	valid.ShipTo.Address = addressBody{
		AddressLine: []string{"400 Main St"},
		City:        "Louisville",
		PostalCode:  "40201",
		CountryCode: "US",
	}
	code, _ := validateDestination(&valid)
	assert.Empty(t, code)

	badPostal := valid
	badPostal.ShipTo.Address.PostalCode = "ABC"
	code, _ = validateDestination(&badPostal)
	assert.Equal(t, "120209", code)

	noCity := valid
	noCity.ShipTo.Address.City = ""
	code, _ = validateDestination(&noCity)
	assert.Equal(t, "120206", code)

	// Non-US postal codes are not format checked
	intl := valid
	intl.ShipTo.Address.CountryCode = "CA"
	intl.ShipTo.Address.PostalCode = "M5V 2T6"
	code, _ = validateDestination(&intl)
	assert.Empty(t, code)
}
