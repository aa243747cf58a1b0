package main

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xwb1989/sqlparser"
)

type rowMatcher func(fields map[string]interface{}) (bool, error)

// compileWhere parses a WHERE clause into a row predicate. The clause
// arrives pre-validated against the schema; parsing here guards against a
// caller speaking a different dialect.
func compileWhere(where string) (rowMatcher, error) {
	if strings.TrimSpace(where) == "" {
		return func(map[string]interface{}) (bool, error) { return true, nil }, nil
	}

	stmt, err := sqlparser.Parse("SELECT 1 FROM source WHERE " + where)
	if err != nil {
		return nil, fmt.Errorf("invalid filter expression: %w", err)
	}
	sel, ok := stmt.(*sqlparser.Select)
	if !ok || sel.Where == nil {
		return nil, fmt.Errorf("invalid filter expression")
	}

	expr := sel.Where.Expr
	return func(fields map[string]interface{}) (bool, error) {
		return evalExpr(expr, fields)
	}, nil
}

func evalExpr(expr sqlparser.Expr, fields map[string]interface{}) (bool, error) {
	switch e := expr.(type) {
	case *sqlparser.AndExpr:
		left, err := evalExpr(e.Left, fields)
		if err != nil || !left {
			return false, err
		}
		return evalExpr(e.Right, fields)

	case *sqlparser.OrExpr:
		left, err := evalExpr(e.Left, fields)
		if err != nil || left {
			return left, err
		}
		return evalExpr(e.Right, fields)

	case *sqlparser.NotExpr:
		result, err := evalExpr(e.Expr, fields)
		return !result, err

	case *sqlparser.ParenExpr:
		return evalExpr(e.Expr, fields)

	case *sqlparser.ComparisonExpr:
		return evalComparison(e, fields)

	case *sqlparser.IsExpr:
		value, err := evalValue(e.Expr, fields)
		if err != nil {
			return false, err
		}
		switch e.Operator {
		case sqlparser.IsNullStr:
			return value == nil, nil
		case sqlparser.IsNotNullStr:
			return value != nil, nil
		}
		return false, fmt.Errorf("unsupported operator %q", e.Operator)

	case *sqlparser.RangeCond:
		value, err := evalValue(e.Left, fields)
		if err != nil {
			return false, err
		}
		from, err := evalValue(e.From, fields)
		if err != nil {
			return false, err
		}
		to, err := evalValue(e.To, fields)
		if err != nil {
			return false, err
		}
		inRange := compareValues(value, from) >= 0 && compareValues(value, to) <= 0
		if value == nil || from == nil || to == nil {
			inRange = false
		}
		if e.Operator == sqlparser.NotBetweenStr {
			return !inRange, nil
		}
		return inRange, nil
	}

	return false, fmt.Errorf("unsupported filter construct %q", sqlparser.String(expr))
}

func evalComparison(cmp *sqlparser.ComparisonExpr, fields map[string]interface{}) (bool, error) {
	left, err := evalValue(cmp.Left, fields)
	if err != nil {
		return false, err
	}

	switch cmp.Operator {
	case sqlparser.InStr, sqlparser.NotInStr:
		tuple, ok := cmp.Right.(sqlparser.ValTuple)
		if !ok {
			return false, fmt.Errorf("IN requires a value list")
		}
		found := false
		for _, item := range tuple {
			value, err := evalValue(item, fields)
			if err != nil {
				return false, err
			}
			if left != nil && value != nil && compareValues(left, value) == 0 {
				found = true
				break
			}
		}
		if cmp.Operator == sqlparser.NotInStr {
			return !found, nil
		}
		return found, nil
	}

	right, err := evalValue(cmp.Right, fields)
	if err != nil {
		return false, err
	}

	switch cmp.Operator {
	case sqlparser.LikeStr, sqlparser.NotLikeStr:
		matched, err := matchLike(left, right)
		if err != nil {
			return false, err
		}
		if cmp.Operator == sqlparser.NotLikeStr {
			return !matched, nil
		}
		return matched, nil
	}

	// SQL three-valued logic: comparing with NULL never matches
	if left == nil || right == nil {
		return false, nil
	}

	order := compareValues(left, right)
	switch cmp.Operator {
	case sqlparser.EqualStr:
		return order == 0, nil
	case sqlparser.NotEqualStr:
		return order != 0, nil
	case sqlparser.LessThanStr:
		return order < 0, nil
	case sqlparser.LessEqualStr:
		return order <= 0, nil
	case sqlparser.GreaterThanStr:
		return order > 0, nil
	case sqlparser.GreaterEqualStr:
		return order >= 0, nil
	}
	return false, fmt.Errorf("unsupported operator %q", cmp.Operator)
}

func evalValue(expr sqlparser.Expr, fields map[string]interface{}) (interface{}, error) {
	switch e := expr.(type) {
	case *sqlparser.ColName:
		name := e.Name.String()
		for key, value := range fields {
			if strings.EqualFold(key, name) {
				return value, nil
			}
		}
		return nil, fmt.Errorf("unknown column %q", name)

	case *sqlparser.SQLVal:
		switch e.Type {
		case sqlparser.StrVal:
			return string(e.Val), nil
		case sqlparser.IntVal, sqlparser.FloatVal:
			f, err := strconv.ParseFloat(string(e.Val), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid numeric literal %q", string(e.Val))
			}
			return f, nil
		}
		return nil, fmt.Errorf("unsupported literal type")

	case *sqlparser.NullVal:
		return nil, nil

	case *sqlparser.ParenExpr:
		return evalValue(e.Expr, fields)
	}
	return nil, fmt.Errorf("unsupported operand %q", sqlparser.String(expr))
}

// compareValues orders two non-nil values. Numeric comparison when both
// sides are numbers, case-insensitive string comparison otherwise.
func compareValues(left, right interface{}) int {
	lf, lok := asFloat(left)
	rf, rok := asFloat(right)
	if lok && rok {
		switch {
		case lf < rf:
			return -1
		case lf > rf:
			return 1
		}
		return 0
	}
	return strings.Compare(
		strings.ToLower(asString(left)),
		strings.ToLower(asString(right)),
	)
}

func asFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func asString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// matchLike evaluates a SQL LIKE pattern, case-insensitive, with % and _
// wildcards.
func matchLike(value, pattern interface{}) (bool, error) {
	if value == nil || pattern == nil {
		return false, nil
	}

	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range asString(pattern) {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return false, fmt.Errorf("invalid LIKE pattern: %w", err)
	}
	return re.MatchString(asString(value)), nil
}
