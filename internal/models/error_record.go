package models

// ErrorRecord is the user-visible failure shape attached to rows and jobs.
// Every record carries a stable E-code, a short title, a remediation string,
// the raw carrier code/message when one exists, and whether a retry is
// sensible. Sensitive payload fields are never echoed here.
type ErrorRecord struct {
	Code        string `json:"code"` // Stable code, e.g. "E-2001"
	Title       string `json:"title"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`
	CarrierCode string `json:"carrier_code,omitempty"`
	RawMessage  string `json:"raw_message,omitempty"`
	Retryable   bool   `json:"retryable"`
	// Indeterminate marks a mutating operation whose outcome is unknown.
	Indeterminate bool `json:"indeterminate,omitempty"`
}

// Error implements the error interface
func (e *ErrorRecord) Error() string {
	if e.Message != "" {
		return e.Code + ": " + e.Message
	}
	return e.Code + ": " + e.Title
}

// Fatal reports whether this error must abort the whole batch rather than
// fail a single row. Data, system, and auth classes are fatal.
func (e *ErrorRecord) Fatal() bool {
	if len(e.Code) < 3 {
		return false
	}
	switch e.Code[2] {
	case '1', '4', '5':
		return true
	}
	return false
}
