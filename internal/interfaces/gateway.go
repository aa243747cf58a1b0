package interfaces

import (
	"context"

	"github.com/matt-hans/shipagent/internal/models"
)

// DataGateway is the typed wrapper over the data-source subprocess (C3).
// QueryRows and CountRows refuse FilterSpecs whose HMAC signature does not
// verify against the process secret.
type DataGateway interface {
	GetSchema(ctx context.Context) ([]models.SchemaColumn, error)
	GetSourceInfo(ctx context.Context) (*models.SourceInfo, error)
	QueryRows(ctx context.Context, spec *models.FilterSpec) ([]*models.SourceRow, error)
	GetRow(ctx context.Context, rowNumber int) (*models.SourceRow, error)
	CountRows(ctx context.Context, spec *models.FilterSpec) (int, error)
	WriteTracking(ctx context.Context, rowNumber int, tracking, service string, cost int64) error
	Ready() bool
}
