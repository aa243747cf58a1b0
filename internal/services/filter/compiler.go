// -----------------------------------------------------------------------
// Filter compiler (C5) - validates an interpreter-proposed WHERE fragment
// against the source schema, canonicalizes it, and signs it. The gateway
// refuses anything that did not come through here.
// -----------------------------------------------------------------------

package filter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/xwb1989/sqlparser"

	"github.com/matt-hans/shipagent/internal/errcodes"
	"github.com/matt-hans/shipagent/internal/models"
)

// allowedFunctions are the only function calls a filter may contain
var allowedFunctions = map[string]bool{
	"upper":    true,
	"lower":    true,
	"trim":     true,
	"length":   true,
	"abs":      true,
	"coalesce": true,
}

// Compiler validates and signs WHERE fragments
type Compiler struct {
	secret []byte
	logger arbor.ILogger
}

// NewCompiler creates the filter compiler with the process signing secret
func NewCompiler(secret []byte, logger arbor.ILogger) *Compiler {
	return &Compiler{secret: secret, logger: logger}
}

// Compile validates a proposed WHERE fragment against the schema and
// produces a signed FilterSpec bound to the source signature. An empty
// fragment compiles to the match-everything filter.
func (c *Compiler) Compile(where, summary string, schema []models.SchemaColumn, sourceSignature string) (*models.FilterSpec, error) {
	canonical, err := c.validate(where, schema)
	if err != nil {
		return nil, err
	}

	spec := &models.FilterSpec{
		SourceSignature: sourceSignature,
		Where:           canonical,
		Summary:         summary,
	}
	spec.Sign(c.secret)

	c.logger.Debug().Str("where", canonical).Msg("Filter compiled")
	return spec, nil
}

// validate parses the fragment inside a fixed SELECT wrapper, walks the
// tree for disallowed constructs, checks column references against the
// schema, and returns the canonical form.
func (c *Compiler) validate(where string, schema []models.SchemaColumn) (string, error) {
	where = strings.TrimSpace(where)
	if where == "" {
		return "", nil
	}

	stmt, err := sqlparser.Parse("SELECT 1 FROM source WHERE " + where)
	if err != nil {
		return "", errcodes.New(errcodes.FilterRejected, fmt.Sprintf("not a valid filter expression: %v", err))
	}

	sel, ok := stmt.(*sqlparser.Select)
	if !ok || sel.Where == nil {
		return "", errcodes.New(errcodes.FilterRejected, "not a filter expression")
	}

	columns := make(map[string]string, len(schema))
	for _, col := range schema {
		columns[strings.ToLower(col.Name)] = col.Type
	}

	var walkErr error
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		switch n := node.(type) {
		case *sqlparser.Subquery:
			walkErr = errcodes.New(errcodes.FilterRejected, "subqueries are not allowed")
			return false, walkErr
		case *sqlparser.FuncExpr:
			name := strings.ToLower(n.Name.String())
			if !allowedFunctions[name] {
				walkErr = errcodes.New(errcodes.FilterRejected, fmt.Sprintf("function %q is not allowed", name))
				return false, walkErr
			}
		case *sqlparser.ColName:
			if !n.Qualifier.IsEmpty() {
				walkErr = errcodes.New(errcodes.FilterRejected, "qualified column references are not allowed")
				return false, walkErr
			}
			name := strings.ToLower(n.Name.String())
			if _, exists := columns[name]; !exists {
				walkErr = errcodes.New(errcodes.FilterRejected, fmt.Sprintf("unknown column %q", name))
				return false, walkErr
			}
		case *sqlparser.ComparisonExpr:
			if err := checkComparisonTypes(n, columns); err != nil {
				walkErr = err
				return false, walkErr
			}
		}
		return true, nil
	}, sel.Where.Expr)
	if walkErr != nil {
		return "", walkErr
	}

	return canonicalize(sel.Where.Expr), nil
}

// checkComparisonTypes rejects literal comparisons whose type disagrees with
// the column, unless the column side is wrapped in an explicit CAST.
func checkComparisonTypes(cmp *sqlparser.ComparisonExpr, columns map[string]string) error {
	col, lit := comparisonOperands(cmp)
	if col == nil || lit == nil {
		return nil
	}

	colType := columns[strings.ToLower(col.Name.String())]
	switch lit.Type {
	case sqlparser.StrVal:
		if colType == "integer" || colType == "real" {
			return errcodes.New(errcodes.FilterRejected,
				fmt.Sprintf("string comparison against numeric column %q requires an explicit CAST", col.Name.String()))
		}
	case sqlparser.IntVal, sqlparser.FloatVal:
		if colType == "text" {
			return errcodes.New(errcodes.FilterRejected,
				fmt.Sprintf("numeric comparison against text column %q requires an explicit CAST", col.Name.String()))
		}
	}
	return nil
}

// comparisonOperands extracts a bare (column, literal) pair from either side
// of a comparison. CAST-wrapped operands return nil, which skips the check.
func comparisonOperands(cmp *sqlparser.ComparisonExpr) (*sqlparser.ColName, *sqlparser.SQLVal) {
	if col, ok := cmp.Left.(*sqlparser.ColName); ok {
		if lit, ok := cmp.Right.(*sqlparser.SQLVal); ok {
			return col, lit
		}
	}
	if col, ok := cmp.Right.(*sqlparser.ColName); ok {
		if lit, ok := cmp.Left.(*sqlparser.SQLVal); ok {
			return col, lit
		}
	}
	return nil, nil
}

// canonicalize renders the expression with the parser's printer after
// sorting the top-level AND conjuncts, so semantically identical filters
// serialize (and therefore sign) identically.
func canonicalize(expr sqlparser.Expr) string {
	conjuncts := sqlparser.SplitAndExpression(nil, expr)
	parts := make([]string, 0, len(conjuncts))
	for _, conjunct := range conjuncts {
		parts = append(parts, sqlparser.String(conjunct))
	}
	sort.Strings(parts)
	return strings.Join(parts, " and ")
}
