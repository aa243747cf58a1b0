package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewConversationID generates a unique conversation session ID
func NewConversationID() string {
	return "conv_" + uuid.New().String()
}

// NewApprovalToken generates a single-use approval token. Only its SHA-256
// hash is persisted; the raw value is returned to the approving user once.
func NewApprovalToken() string {
	return "apv_" + uuid.New().String()
}
