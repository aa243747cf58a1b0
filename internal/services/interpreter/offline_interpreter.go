// -----------------------------------------------------------------------
// Offline interpreter - deterministic keyword matching for keyless
// deployments and tests. Understands a narrow command vocabulary and asks
// for clarification on anything outside it.
// -----------------------------------------------------------------------

package interpreter

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/matt-hans/shipagent/internal/interfaces"
	"github.com/matt-hans/shipagent/internal/models"
)

// serviceKeywords maps spoken service names to carrier codes. Checked in
// order so longer phrases win over their prefixes.
var serviceKeywords = []struct {
	phrase string
	code   string
}{
	{"next day air early", "14"},
	{"next day air saver", "13"},
	{"next day", "01"},
	{"overnight", "01"},
	{"2nd day", "02"},
	{"second day", "02"},
	{"3 day", "12"},
	{"three day", "12"},
	{"express saver", "65"},
	{"international standard", "11"},
	{"ground", "03"},
}

var stateNames = map[string]string{
	"alabama": "AL", "alaska": "AK", "arizona": "AZ", "arkansas": "AR",
	"california": "CA", "colorado": "CO", "connecticut": "CT", "delaware": "DE",
	"florida": "FL", "georgia": "GA", "hawaii": "HI", "idaho": "ID",
	"illinois": "IL", "indiana": "IN", "iowa": "IA", "kansas": "KS",
	"kentucky": "KY", "louisiana": "LA", "maine": "ME", "maryland": "MD",
	"massachusetts": "MA", "michigan": "MI", "minnesota": "MN", "mississippi": "MS",
	"missouri": "MO", "montana": "MT", "nebraska": "NE", "nevada": "NV",
	"new hampshire": "NH", "new jersey": "NJ", "new mexico": "NM", "new york": "NY",
	"north carolina": "NC", "north dakota": "ND", "ohio": "OH", "oklahoma": "OK",
	"oregon": "OR", "pennsylvania": "PA", "rhode island": "RI", "south carolina": "SC",
	"south dakota": "SD", "tennessee": "TN", "texas": "TX", "utah": "UT",
	"vermont": "VT", "virginia": "VA", "washington": "WA", "west virginia": "WV",
	"wisconsin": "WI", "wyoming": "WY",
}

var countryNames = map[string]string{
	"canada":         "CA",
	"mexico":         "MX",
	"germany":        "DE",
	"france":         "FR",
	"united kingdom": "GB",
	"uk":             "GB",
	"australia":      "AU",
	"japan":          "JP",
}

var weightPattern = regexp.MustCompile(`(over|above|heavier than|more than|under|below|lighter than|less than)\s+(\d+(?:\.\d+)?)`)

// OfflineInterpreter implements interfaces.Interpreter without an LLM
type OfflineInterpreter struct {
	logger arbor.ILogger
}

// NewOfflineInterpreter creates the deterministic interpreter
func NewOfflineInterpreter(logger arbor.ILogger) *OfflineInterpreter {
	return &OfflineInterpreter{logger: logger}
}

// Interpret derives a proposal from keyword matching. History is ignored;
// refinements arrive as full commands.
func (o *OfflineInterpreter) Interpret(ctx context.Context, command string, schema []models.SchemaColumn, history []models.ConversationMessage) (*interfaces.IntentProposal, error) {
	lower := strings.ToLower(command)

	columns := make(map[string]bool, len(schema))
	for _, col := range schema {
		columns[strings.ToLower(col.Name)] = true
	}

	proposal := &interfaces.IntentProposal{ServiceCode: "03"}
	for _, kw := range serviceKeywords {
		if strings.Contains(lower, kw.phrase) {
			proposal.ServiceCode = kw.code
			break
		}
	}

	var clauses []string
	var descriptions []string

	// Explicit WHERE passthrough: "ship orders where weight > 5"
	if idx := strings.Index(lower, " where "); idx >= 0 {
		fragment := strings.TrimSpace(command[idx+len(" where "):])
		clauses = append(clauses, fragment)
		descriptions = append(descriptions, fragment)
	} else {
		for name, code := range stateNames {
			if strings.Contains(lower, name) {
				if !columns["state"] {
					return clarify("The source has no state column; which column should I filter on?"), nil
				}
				clauses = append(clauses, fmt.Sprintf("state = '%s'", code))
				descriptions = append(descriptions, name+" orders")
				break
			}
		}
		for name, code := range countryNames {
			if strings.Contains(lower, name) {
				if !columns["country"] {
					return clarify("The source has no country column; which column should I filter on?"), nil
				}
				clauses = append(clauses, fmt.Sprintf("country = '%s'", code))
				descriptions = append(descriptions, "shipments to "+name)
				break
			}
		}
		if match := weightPattern.FindStringSubmatch(lower); match != nil {
			if !columns["weight"] {
				return clarify("The source has no weight column; which column should I filter on?"), nil
			}
			op := ">"
			if strings.HasPrefix(match[1], "under") || strings.HasPrefix(match[1], "below") ||
				strings.HasPrefix(match[1], "lighter") || strings.HasPrefix(match[1], "less") {
				op = "<"
			}
			clauses = append(clauses, fmt.Sprintf("weight %s %s", op, match[2]))
			descriptions = append(descriptions, fmt.Sprintf("weight %s %s", op, match[2]))
		}
	}

	allRows := strings.Contains(lower, "all orders") || strings.Contains(lower, "everything") ||
		strings.Contains(lower, "every order") || strings.Contains(lower, "all rows")

	if len(clauses) == 0 && !allRows {
		return clarify("I could not work out which rows to select. Which orders should ship?"), nil
	}

	proposal.Where = strings.Join(clauses, " AND ")
	if len(descriptions) > 0 {
		proposal.Summary = strings.Join(descriptions, ", ")
	} else {
		proposal.Summary = "all rows"
	}

	o.logger.Debug().
		Str("where", proposal.Where).
		Str("service_code", proposal.ServiceCode).
		Msg("Command interpreted offline")

	return proposal, nil
}

func clarify(question string) *interfaces.IntentProposal {
	return &interfaces.IntentProposal{NeedsClarification: true, Question: question}
}
