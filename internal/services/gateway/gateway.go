// -----------------------------------------------------------------------
// Data gateway (C3) - typed wrapper over the data-source subprocess. Every
// filtered read verifies the FilterSpec HMAC before anything crosses the
// pipe; an unsigned or mis-signed spec never reaches the source.
// -----------------------------------------------------------------------

package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ternarybob/arbor"

	"github.com/matt-hans/shipagent/internal/errcodes"
	"github.com/matt-hans/shipagent/internal/interfaces"
	"github.com/matt-hans/shipagent/internal/models"
)

// Gateway implements interfaces.DataGateway over a ToolInvoker
type Gateway struct {
	invoker      interfaces.ToolInvoker
	filterSecret []byte
	logger       arbor.ILogger
}

// NewGateway creates the data gateway. filterSecret is the process-wide
// filter signing key.
func NewGateway(invoker interfaces.ToolInvoker, filterSecret []byte, logger arbor.ILogger) interfaces.DataGateway {
	return &Gateway{invoker: invoker, filterSecret: filterSecret, logger: logger}
}

// Ready reports whether the data-source subprocess is answering
func (g *Gateway) Ready() bool {
	return g.invoker.Ready()
}

// GetSchema returns the source's column list
func (g *Gateway) GetSchema(ctx context.Context) ([]models.SchemaColumn, error) {
	raw, err := g.call(ctx, "get_schema", nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Columns []models.SchemaColumn `json:"columns"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errcodes.New(errcodes.SourceUnreadable, "malformed schema response")
	}
	return payload.Columns, nil
}

// GetSourceInfo returns the source identity fingerprint and row count
func (g *Gateway) GetSourceInfo(ctx context.Context) (*models.SourceInfo, error) {
	raw, err := g.call(ctx, "get_source_info", nil)
	if err != nil {
		return nil, err
	}

	var info models.SourceInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, errcodes.New(errcodes.SourceUnreadable, "malformed source info response")
	}
	return &info, nil
}

// QueryRows fetches all rows matching a signed filter, in source order
func (g *Gateway) QueryRows(ctx context.Context, spec *models.FilterSpec) ([]*models.SourceRow, error) {
	if err := g.verify(spec); err != nil {
		return nil, err
	}

	raw, err := g.call(ctx, "query_rows", map[string]interface{}{"where": spec.Where})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Rows []*models.SourceRow `json:"rows"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errcodes.New(errcodes.RowFetchFailed, "malformed query response")
	}
	return payload.Rows, nil
}

// GetRow fetches one row by its stable ordinal
func (g *Gateway) GetRow(ctx context.Context, rowNumber int) (*models.SourceRow, error) {
	raw, err := g.call(ctx, "get_row", map[string]interface{}{"row_number": rowNumber})
	if err != nil {
		return nil, err
	}

	var row models.SourceRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, errcodes.New(errcodes.RowFetchFailed, "malformed row response")
	}
	return &row, nil
}

// CountRows counts rows matching a signed filter without fetching them
func (g *Gateway) CountRows(ctx context.Context, spec *models.FilterSpec) (int, error) {
	if err := g.verify(spec); err != nil {
		return 0, err
	}

	raw, err := g.call(ctx, "count_rows", map[string]interface{}{"where": spec.Where})
	if err != nil {
		return 0, err
	}

	var payload struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0, errcodes.New(errcodes.RowFetchFailed, "malformed count response")
	}
	return payload.Count, nil
}

// WriteTracking writes shipment results back to the source row. Best-effort:
// the caller logs failures without failing the row.
func (g *Gateway) WriteTracking(ctx context.Context, rowNumber int, tracking, service string, cost int64) error {
	_, err := g.call(ctx, "write_tracking", map[string]interface{}{
		"row_number": rowNumber,
		"tracking":   tracking,
		"service":    service,
		"cost":       cost,
	})
	return err
}

func (g *Gateway) verify(spec *models.FilterSpec) error {
	if spec == nil || !spec.Verify(g.filterSecret) {
		g.logger.Warn().Msg("Rejected filter with invalid signature")
		return errcodes.New(errcodes.FilterSignatureInvalid)
	}
	return nil
}

// call dispatches one tool invocation and maps failures onto data-layer
// error codes. Source reads are idempotent, so a dead pipe gets one
// immediate respawned retry.
func (g *Gateway) call(ctx context.Context, tool string, args map[string]interface{}) (json.RawMessage, error) {
	raw, err := g.invoker.Invoke(ctx, tool, args)
	if err == nil {
		return raw, nil
	}

	var transportErr *interfaces.TransportError
	if errors.As(err, &transportErr) {
		raw, err = g.invoker.Invoke(ctx, tool, args)
		if err == nil {
			return raw, nil
		}
	}

	var toolErr *interfaces.ToolError
	if errors.As(err, &toolErr) {
		return nil, errcodes.New(errcodes.SourceUnreadable, toolErr.Message)
	}
	return nil, errcodes.New(errcodes.SubprocessTransport, err.Error())
}
