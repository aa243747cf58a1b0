package interfaces

import (
	"context"

	"github.com/matt-hans/shipagent/internal/models"
)

// IntentProposal is the interpreter's structured answer to a user command.
// Either Where/ServiceCode are populated, or NeedsClarification is set with
// a question for the user. The proposal is untrusted until the filter
// compiler validates and signs it.
type IntentProposal struct {
	Where              string `json:"where"`
	ServiceCode        string `json:"service_code"`
	Summary            string `json:"summary"`
	NeedsClarification bool   `json:"needs_clarification"`
	Question           string `json:"question,omitempty"`
}

// Interpreter turns natural-language commands into filter proposals. The
// production implementation is LLM-backed; an offline implementation covers
// tests and keyless deployments.
type Interpreter interface {
	Interpret(ctx context.Context, command string, schema []models.SchemaColumn, history []models.ConversationMessage) (*IntentProposal, error)
}
