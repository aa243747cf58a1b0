// -----------------------------------------------------------------------
// Error taxonomy - stable codes with retryability and remediation strings.
// E-1xxx data, E-2xxx validation, E-3xxx carrier, E-4xxx system, E-5xxx auth.
// -----------------------------------------------------------------------

package errcodes

import (
	"fmt"

	"github.com/matt-hans/shipagent/internal/models"
)

// Definition is one registry entry
type Definition struct {
	Code        string
	Title       string
	Template    string // Message template for fmt.Sprintf
	Remediation string
	Retryable   bool
}

// Data errors (E-1xxx): fatal to the batch, retry after source reconnect
const (
	SourceUnreadable = "E-1001"
	SchemaMismatch   = "E-1002"
	SignatureDrift   = "E-1003"
	RowFetchFailed   = "E-1004"
)

// Validation errors (E-2xxx): per-row, batch continues unless fail-fast trips
const (
	InvalidPostalCode   = "E-2001"
	MissingRequiredField = "E-2002"
	OversizePackage     = "E-2003"
	InvalidCountry      = "E-2004"
	HSCodeRequired      = "E-2005"
	InternationalDisabled = "E-2006"
	FilterRejected      = "E-2007"
	FilterSignatureInvalid = "E-2008"
	FilterNeedsClarification = "E-2009"
)

// Carrier errors (E-3xxx)
const (
	CarrierRateLimited  = "E-3001"
	CarrierUnavailable  = "E-3002"
	CarrierTimeout      = "E-3003"
	AddressInvalid      = "E-3004"
	ShipmentRejected    = "E-3005"
	VoidRejected        = "E-3006"
	OutcomeUnknown      = "E-3900"
	CarrierUnknown      = "E-3999"
)

// System errors (E-4xxx): fatal
const (
	StateStoreFailure   = "E-4001"
	SubprocessTransport = "E-4002"
	StaleTransition     = "E-4003"
	RuntimeLockHeld     = "E-4004"
	JobAlreadyRunning   = "E-4005"
)

// Auth errors (E-5xxx): fatal
const (
	CarrierAuthFailed    = "E-5001"
	APIKeyRequired       = "E-5002"
	ApprovalTokenInvalid = "E-5003"
)

var registry = map[string]Definition{
	SourceUnreadable: {SourceUnreadable, "Source unreadable", "data source could not be read: %s",
		"Reconnect the data source and retry.", false},
	SchemaMismatch: {SchemaMismatch, "Schema mismatch", "source schema does not match the compiled filter: %s",
		"Re-run the command so the filter is compiled against the current schema.", false},
	SignatureDrift: {SignatureDrift, "Source changed since preview", "source signature %s no longer matches current %s",
		"The underlying data changed after preview. Preview the job again before approving.", false},
	RowFetchFailed: {RowFetchFailed, "Row fetch failed", "failed to fetch rows: %s",
		"Check the data source and retry.", false},

	InvalidPostalCode: {InvalidPostalCode, "Invalid postal code", "postal code %q is not valid for %s",
		"Correct the postal code in the source row.", false},
	MissingRequiredField: {MissingRequiredField, "Missing required field", "row is missing required field %s",
		"Fill in the missing column in the source row.", false},
	OversizePackage: {OversizePackage, "Package exceeds limits", "package weight/dimensions exceed carrier limits: %s",
		"Split the shipment or correct the weight/dimension values.", false},
	InvalidCountry: {InvalidCountry, "Invalid destination country", "country %q is not a recognized ISO code",
		"Use a two-letter ISO country code.", false},
	HSCodeRequired: {HSCodeRequired, "HS code required", "international shipment to %s requires a harmonized tariff code",
		"Add an hs_code column value for this row.", false},
	InternationalDisabled: {InternationalDisabled, "International lane disabled", "destination %s is not in the enabled lanes",
		"Enable the destination country in carrier.international_enabled_lanes.", false},
	FilterRejected: {FilterRejected, "Filter rejected", "the proposed filter was rejected: %s",
		"Rephrase the command; only simple column comparisons are allowed.", false},
	FilterSignatureInvalid: {FilterSignatureInvalid, "Filter signature invalid", "filter signature did not verify",
		"Recompile the filter by re-running the command.", false},
	FilterNeedsClarification: {FilterNeedsClarification, "Clarification needed", "%s",
		"Answer the question to continue.", false},

	CarrierRateLimited: {CarrierRateLimited, "Carrier rate limited", "carrier rejected the call with a rate limit: %s",
		"Wait and retry; reduce batch.concurrency if this persists.", true},
	CarrierUnavailable: {CarrierUnavailable, "Carrier temporarily unavailable", "carrier service unavailable: %s",
		"Retry in a few minutes.", true},
	CarrierTimeout: {CarrierTimeout, "Carrier call timed out", "carrier call exceeded its deadline",
		"Retry; check network connectivity to the carrier endpoint.", true},
	AddressInvalid: {AddressInvalid, "Address rejected by carrier", "carrier could not validate the destination address: %s",
		"Correct the address in the source row.", false},
	ShipmentRejected: {ShipmentRejected, "Shipment rejected", "carrier rejected the shipment: %s",
		"Review the carrier message and correct the row.", false},
	VoidRejected: {VoidRejected, "Void rejected", "carrier rejected the void request: %s",
		"The shipment may already be in transit; contact the carrier.", false},
	OutcomeUnknown: {OutcomeUnknown, "Shipment outcome unknown", "the create request was sent but no response was received",
		"Verify with the carrier whether a label was created before retrying this row.", false},
	CarrierUnknown: {CarrierUnknown, "Carrier error", "carrier returned an unrecognized error: %s",
		"Review the raw carrier message.", false},

	StateStoreFailure: {StateStoreFailure, "State store failure", "persistence error: %s",
		"Check disk space and database file permissions; the batch was halted.", false},
	SubprocessTransport: {SubprocessTransport, "Service process failure", "subprocess transport error: %s",
		"The external service process failed; it will be restarted. Retry the operation.", false},
	StaleTransition: {StaleTransition, "Stale transition", "expected status %s but found %s",
		"Another actor moved this record first; re-read and retry if still applicable.", false},
	RuntimeLockHeld: {RuntimeLockHeld, "Another worker is active", "runtime lock is held by pid %d",
		"Only one ShipAgent worker may run per data store. Stop the other process first.", false},
	JobAlreadyRunning: {JobAlreadyRunning, "A job is already running", "job %s is currently executing",
		"Wait for the running job to finish or cancel it.", false},

	CarrierAuthFailed: {CarrierAuthFailed, "Carrier authentication failed", "carrier rejected the credentials: %s",
		"Check carrier.client_id / carrier.client_secret and the account number.", false},
	APIKeyRequired: {APIKeyRequired, "API key required", "missing or invalid API key",
		"Send the configured key in the X-API-Key header.", false},
	ApprovalTokenInvalid: {ApprovalTokenInvalid, "Approval token invalid", "approval token does not match this job",
		"Approve the previewed job again to obtain a fresh token.", false},
}

// Lookup returns the definition for a code, or the E-3999 catch-all
func Lookup(code string) Definition {
	if def, ok := registry[code]; ok {
		return def
	}
	return registry[CarrierUnknown]
}

// New builds an ErrorRecord from a registered code and template args
func New(code string, args ...interface{}) *models.ErrorRecord {
	def := Lookup(code)
	return &models.ErrorRecord{
		Code:        def.Code,
		Title:       def.Title,
		Message:     fmt.Sprintf(def.Template, args...),
		Remediation: def.Remediation,
		Retryable:   def.Retryable,
	}
}

// NewCarrier builds an ErrorRecord preserving the raw carrier code/message.
// Unknown carrier codes fall back to the E-3999 catch-all.
func NewCarrier(code, carrierCode, rawMessage string) *models.ErrorRecord {
	def := Lookup(code)
	rec := &models.ErrorRecord{
		Code:        def.Code,
		Title:       def.Title,
		Message:     fmt.Sprintf(def.Template, rawMessage),
		Remediation: def.Remediation,
		CarrierCode: carrierCode,
		RawMessage:  rawMessage,
		Retryable:   def.Retryable,
	}
	if code == OutcomeUnknown {
		rec.Indeterminate = true
		rec.Message = def.Template
	}
	return rec
}

// IsRetryable reports the retryable flag for a code
func IsRetryable(code string) bool {
	return Lookup(code).Retryable
}
