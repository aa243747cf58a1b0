package models

import (
	"time"
)

// RowStatus represents the per-row state within a job
type RowStatus string

const (
	RowStatusPending  RowStatus = "pending"
	RowStatusRated    RowStatus = "rated"
	RowStatusShipping RowStatus = "shipping"
	RowStatusShipped  RowStatus = "shipped"
	RowStatusVoided   RowStatus = "voided"
	RowStatusFailed   RowStatus = "failed"
	// RowStatusFailedIndeterminate marks a mutating carrier call whose
	// outcome is unknown (body was sent, response was lost). Surfaced to a
	// human, never auto-retried. Counted with failed rows.
	RowStatusFailedIndeterminate RowStatus = "failed_indeterminate"
	RowStatusSkipped             RowStatus = "skipped"
)

// IsTerminal returns true for states a row can never leave
func (s RowStatus) IsTerminal() bool {
	switch s {
	case RowStatusShipped, RowStatusVoided, RowStatusFailed, RowStatusFailedIndeterminate, RowStatusSkipped:
		return true
	}
	return false
}

var rowTransitions = map[RowStatus][]RowStatus{
	RowStatusPending:  {RowStatusRated, RowStatusShipping, RowStatusFailed, RowStatusSkipped},
	RowStatusRated:    {RowStatusShipping, RowStatusFailed, RowStatusSkipped},
	RowStatusShipping: {RowStatusShipped, RowStatusFailed, RowStatusFailedIndeterminate},
	RowStatusShipped:  {RowStatusVoided},
}

// CanTransitionRow reports whether from -> to is an allowed row transition
func CanTransitionRow(from, to RowStatus) bool {
	for _, allowed := range rowTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// JobRow is one input row within a job, identified by (job id, row number).
// Row number is a 1-based stable ordinal. The content checksum is computed
// at fetch time over the canonical JSON of the source row and never mutated.
type JobRow struct {
	JobID     string    `json:"job_id"`
	RowNumber int       `json:"row_number"`
	Checksum  string    `json:"checksum"` // SHA-256 hex of canonical row JSON
	Order     *Order    `json:"order"`    // Canonical order record

	// PayloadSnapshot is the exact ship request body that was (or will be)
	// dispatched. Non-null and byte-identical to what was sent for any row
	// in shipping or shipped.
	PayloadSnapshot []byte `json:"payload_snapshot,omitempty"`

	Status    RowStatus `json:"status"`
	RatedCost int64     `json:"rated_cost"` // Minor units
	FinalCost int64     `json:"final_cost"` // Minor units, set at shipped
	Tracking  string    `json:"tracking"`
	LabelRef  string    `json:"label_ref"` // Carrier label reference / saved artifact path

	Error    *ErrorRecord `json:"error,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
	Attempt  int          `json:"attempt"`

	UpdatedAt time.Time `json:"updated_at"`
}
