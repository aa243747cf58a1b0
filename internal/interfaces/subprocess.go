package interfaces

import (
	"context"
	"encoding/json"
)

// ToolError is a tool-level failure reported by a subprocess service. The
// carrier client translates these through the error taxonomy.
type ToolError struct {
	Tool    string `json:"tool"`
	Code    string `json:"code"`    // Carrier/source-native code, e.g. "120100"
	Status  int    `json:"status"`  // Upstream HTTP status when known
	Message string `json:"message"`
	Raw     string `json:"raw"` // Unparsed error text
}

func (e *ToolError) Error() string {
	return e.Tool + ": " + e.Message
}

// TransportError is a supervisor-level failure: the child process died, the
// pipe broke, or the call deadline elapsed before a response arrived.
// BodySent distinguishes ambiguous mutating outcomes.
type TransportError struct {
	Service  string `json:"service"`
	Message  string `json:"message"`
	BodySent bool   `json:"body_sent"` // Request was written before the failure
	Timeout  bool   `json:"timeout"`
}

func (e *TransportError) Error() string {
	return e.Service + " transport: " + e.Message
}

// ToolInvoker multiplexes JSON tool calls over a supervised stdio subprocess
// (C10).
type ToolInvoker interface {
	// Invoke calls a named tool and returns the raw JSON result. Errors are
	// *ToolError (the service answered with an error) or *TransportError
	// (the service did not answer).
	Invoke(ctx context.Context, tool string, args map[string]interface{}) (json.RawMessage, error)
	Ready() bool
	Stop(ctx context.Context) error
}
