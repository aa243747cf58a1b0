package interpreter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/matt-hans/shipagent/internal/models"
)

var testSchema = []models.SchemaColumn{
	{Name: "state", Type: "text"},
	{Name: "country", Type: "text"},
	{Name: "weight", Type: "real"},
}

func TestOfflineStateAndService(t *testing.T) {
	o := NewOfflineInterpreter(arbor.Logger())

	proposal, err := o.Interpret(context.Background(), "ship all California orders via Ground", testSchema, nil)
	require.NoError(t, err)

	assert.False(t, proposal.NeedsClarification)
	assert.Equal(t, "state = 'CA'", proposal.Where)
	assert.Equal(t, "03", proposal.ServiceCode)
}

func TestOfflineServicePhrasePrecedence(t *testing.T) {
	o := NewOfflineInterpreter(arbor.Logger())

	proposal, err := o.Interpret(context.Background(), "ship all Texas orders next day air saver", testSchema, nil)
	require.NoError(t, err)
	assert.Equal(t, "13", proposal.ServiceCode)

	proposal, err = o.Interpret(context.Background(), "ship all Texas orders overnight", testSchema, nil)
	require.NoError(t, err)
	assert.Equal(t, "01", proposal.ServiceCode)
}

func TestOfflineWeightComparison(t *testing.T) {
	o := NewOfflineInterpreter(arbor.Logger())

	proposal, err := o.Interpret(context.Background(), "ship orders heavier than 5.5", testSchema, nil)
	require.NoError(t, err)
	assert.Equal(t, "weight > 5.5", proposal.Where)

	proposal, err = o.Interpret(context.Background(), "ship orders under 2", testSchema, nil)
	require.NoError(t, err)
	assert.Equal(t, "weight < 2", proposal.Where)
}

func TestOfflineWherePassthrough(t *testing.T) {
	o := NewOfflineInterpreter(arbor.Logger())

	proposal, err := o.Interpret(context.Background(), "ship orders where state = 'NY' AND weight > 1", testSchema, nil)
	require.NoError(t, err)
	assert.Equal(t, "state = 'NY' AND weight > 1", proposal.Where)
}

func TestOfflineAllRows(t *testing.T) {
	o := NewOfflineInterpreter(arbor.Logger())

	proposal, err := o.Interpret(context.Background(), "ship all orders via ground", testSchema, nil)
	require.NoError(t, err)
	assert.Equal(t, "", proposal.Where)
	assert.Equal(t, "all rows", proposal.Summary)
}

func TestOfflineAsksForClarification(t *testing.T) {
	o := NewOfflineInterpreter(arbor.Logger())

	proposal, err := o.Interpret(context.Background(), "ship the usual", testSchema, nil)
	require.NoError(t, err)
	assert.True(t, proposal.NeedsClarification)
	assert.NotEmpty(t, proposal.Question)
}

func TestOfflineClarifiesMissingColumn(t *testing.T) {
	o := NewOfflineInterpreter(arbor.Logger())

	schema := []models.SchemaColumn{{Name: "city", Type: "text"}}
	proposal, err := o.Interpret(context.Background(), "ship all California orders", schema, nil)
	require.NoError(t, err)
	assert.True(t, proposal.NeedsClarification)
}

func TestParseProposalTrimsCodeFences(t *testing.T) {
	proposal, err := parseProposal("```json\n{\"where\": \"state = 'CA'\", \"service_code\": \"02\", \"summary\": \"CA\", \"needs_clarification\": false}\n```")
	require.NoError(t, err)
	assert.Equal(t, "state = 'CA'", proposal.Where)
	assert.Equal(t, "02", proposal.ServiceCode)
}

func TestParseProposalDefaultsServiceCode(t *testing.T) {
	proposal, err := parseProposal(`{"where": "", "summary": "all", "needs_clarification": false}`)
	require.NoError(t, err)
	assert.Equal(t, "03", proposal.ServiceCode)
}

func TestParseProposalRejectsProse(t *testing.T) {
	_, err := parseProposal("Sure! I'd be happy to help with that.")
	assert.Error(t, err)
}
