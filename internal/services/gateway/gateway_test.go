package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/matt-hans/shipagent/internal/errcodes"
	"github.com/matt-hans/shipagent/internal/interfaces"
	"github.com/matt-hans/shipagent/internal/models"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeInvoker struct {
	responses map[string]json.RawMessage
	errs      []error
	calls     int
}

func (f *fakeInvoker) Invoke(ctx context.Context, tool string, args map[string]interface{}) (json.RawMessage, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.responses[tool], nil
}

func (f *fakeInvoker) Ready() bool                    { return true }
func (f *fakeInvoker) Stop(ctx context.Context) error { return nil }

func signedSpec(where string) *models.FilterSpec {
	spec := &models.FilterSpec{SourceSignature: "src-abc", Where: where}
	spec.Sign(testSecret)
	return spec
}

func TestQueryRowsRejectsUnsignedFilter(t *testing.T) {
	g := NewGateway(&fakeInvoker{}, testSecret, arbor.Logger())

	_, err := g.QueryRows(context.Background(), &models.FilterSpec{Where: "state = 'CA'"})
	require.Error(t, err)

	record, ok := err.(*models.ErrorRecord)
	require.True(t, ok)
	assert.Equal(t, errcodes.FilterSignatureInvalid, record.Code)
}

func TestQueryRowsRejectsTamperedFilter(t *testing.T) {
	g := NewGateway(&fakeInvoker{}, testSecret, arbor.Logger())

	spec := signedSpec("state = 'CA'")
	spec.Where = "state = 'NY'" // Mutated after signing

	_, err := g.QueryRows(context.Background(), spec)
	require.Error(t, err)
}

func TestQueryRowsPassesSignedFilter(t *testing.T) {
	invoker := &fakeInvoker{responses: map[string]json.RawMessage{
		"query_rows": json.RawMessage(`{"rows": [{"row_number": 1, "fields": {"name": "Ada"}}]}`),
	}}
	g := NewGateway(invoker, testSecret, arbor.Logger())

	rows, err := g.QueryRows(context.Background(), signedSpec("state = 'CA'"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].RowNumber)
	assert.Equal(t, "Ada", rows[0].Fields["name"])
}

func TestGetSchema(t *testing.T) {
	invoker := &fakeInvoker{responses: map[string]json.RawMessage{
		"get_schema": json.RawMessage(`{"columns": [{"name": "state", "type": "text"}, {"name": "weight", "type": "real"}]}`),
	}}
	g := NewGateway(invoker, testSecret, arbor.Logger())

	columns, err := g.GetSchema(context.Background())
	require.NoError(t, err)
	require.Len(t, columns, 2)
	assert.Equal(t, "state", columns[0].Name)
	assert.Equal(t, "real", columns[1].Type)
}

func TestTransportErrorRetriedOnce(t *testing.T) {
	invoker := &fakeInvoker{
		responses: map[string]json.RawMessage{
			"get_source_info": json.RawMessage(`{"type": "csv", "signature": "src-abc", "row_count": 12}`),
		},
		errs: []error{&interfaces.TransportError{Service: "source", Message: "pipe closed"}},
	}
	g := NewGateway(invoker, testSecret, arbor.Logger())

	info, err := g.GetSourceInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, invoker.calls)
	assert.Equal(t, "src-abc", info.Signature)
	assert.Equal(t, 12, info.RowCount)
}

func TestCountRows(t *testing.T) {
	invoker := &fakeInvoker{responses: map[string]json.RawMessage{
		"count_rows": json.RawMessage(`{"count": 42}`),
	}}
	g := NewGateway(invoker, testSecret, arbor.Logger())

	count, err := g.CountRows(context.Background(), signedSpec("weight > 5"))
	require.NoError(t, err)
	assert.Equal(t, 42, count)
}
