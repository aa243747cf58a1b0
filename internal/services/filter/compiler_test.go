package filter

import (
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
	{Name: "quantity", Type: "integer"},
	{Name: "name", Type: "text"},
}

var compilerSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestCompiler() *Compiler {
	return NewCompiler(compilerSecret, arbor.Logger())
}

func TestCompileSimpleComparison(t *testing.T) {
	c := newTestCompiler()

	spec, err := c.Compile("state = 'CA'", "California orders", testSchema, "src-1")
	require.NoError(t, err)

	assert.Equal(t, "state = 'CA'", spec.Where)
	assert.Equal(t, "src-1", spec.SourceSignature)
	assert.True(t, spec.Verify(compilerSecret))
}

func TestCompileEmptyFilterMatchesEverything(t *testing.T) {
	c := newTestCompiler()

	spec, err := c.Compile("", "all rows", testSchema, "src-1")
	require.NoError(t, err)
	assert.Equal(t, "", spec.Where)
	assert.True(t, spec.Verify(compilerSecret))
}

func TestCanonicalizationSortsConjuncts(t *testing.T) {
	c := newTestCompiler()

	a, err := c.Compile("state = 'CA' AND weight > 5", "", testSchema, "src-1")
	require.NoError(t, err)
	b, err := c.Compile("weight > 5 AND state = 'CA'", "", testSchema, "src-1")
	require.NoError(t, err)

	assert.Equal(t, a.Where, b.Where)
	assert.Equal(t, a.Signature, b.Signature)
}

func TestSignatureBindsToSource(t *testing.T) {
	c := newTestCompiler()

	a, err := c.Compile("state = 'CA'", "", testSchema, "src-1")
	require.NoError(t, err)
	b, err := c.Compile("state = 'CA'", "", testSchema, "src-2")
	require.NoError(t, err)

	assert.NotEqual(t, a.Signature, b.Signature)
}

func TestRejectsUnknownColumn(t *testing.T) {
	c := newTestCompiler()

	_, err := c.Compile("zipcode = '90210'", "", testSchema, "src-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown column")
}

func TestRejectsSubquery(t *testing.T) {
	c := newTestCompiler()

	_, err := c.Compile("state IN (SELECT state FROM other)", "", testSchema, "src-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subqueries")
}

func TestRejectsDisallowedFunction(t *testing.T) {
	c := newTestCompiler()

	_, err := c.Compile("load_extension('x') = 1", "", testSchema, "src-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
}

func TestAllowsListedFunctions(t *testing.T) {
	c := newTestCompiler()

	spec, err := c.Compile("upper(state) = 'CA' AND length(name) > 2", "", testSchema, "src-1")
	require.NoError(t, err)
	assert.NotEmpty(t, spec.Where)
}

func TestRejectsInjectionAttempt(t *testing.T) {
	c := newTestCompiler()

	_, err := c.Compile("1=1; DROP TABLE source", "", testSchema, "src-1")
	require.Error(t, err)
}

func TestRejectsStringLiteralAgainstNumericColumn(t *testing.T) {
	c := newTestCompiler()

	_, err := c.Compile("weight > 'heavy'", "", testSchema, "src-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CAST")
}

func TestRejectsNumericLiteralAgainstTextColumn(t *testing.T) {
	c := newTestCompiler()

	_, err := c.Compile("state = 5", "", testSchema, "src-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CAST")
}

func TestAllowsExplicitCast(t *testing.T) {
	c := newTestCompiler()

	_, err := c.Compile("CAST(quantity AS CHAR) = '5'", "", testSchema, "src-1")
	require.NoError(t, err)
}

func TestRejectsQualifiedColumns(t *testing.T) {
	c := newTestCompiler()

	_, err := c.Compile("other.state = 'CA'", "", testSchema, "src-1")
	require.Error(t, err)
}
