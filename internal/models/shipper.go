package models

// ShipperProfile is the static shipper identity and account that pays for
// shipments. Loaded once at startup from configuration; immutable during a
// job.
type ShipperProfile struct {
	Name          string `json:"name" validate:"required"`
	AccountNumber string `json:"account_number" validate:"required"`
	Address1      string `json:"address1" validate:"required"`
	Address2      string `json:"address2,omitempty"`
	City          string `json:"city" validate:"required"`
	State         string `json:"state" validate:"required"`
	PostalCode    string `json:"postal_code" validate:"required"`
	Country       string `json:"country" validate:"required"`
	Phone         string `json:"phone,omitempty"`
}
