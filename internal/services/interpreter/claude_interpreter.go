// -----------------------------------------------------------------------
// Claude-backed command interpreter. Turns user text plus the source schema
// into a structured filter proposal. The proposal is untrusted input for
// the filter compiler, never executed directly.
// -----------------------------------------------------------------------

package interpreter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/matt-hans/shipagent/internal/common"
	"github.com/matt-hans/shipagent/internal/interfaces"
	"github.com/matt-hans/shipagent/internal/models"
)

const systemPrompt = `You translate shipping commands into SQL WHERE fragments.

You receive the column schema of a spreadsheet of orders and a user command
like "ship all California orders via Ground". Respond with ONLY a JSON
object, no prose, in this exact shape:

{"where": "<SQL WHERE fragment or empty string for all rows>",
 "service_code": "<carrier service code>",
 "summary": "<one-line human description of what will be selected>",
 "needs_clarification": false,
 "question": ""}

Rules:
- Use only columns from the provided schema. Simple comparisons, AND/OR,
  IN, LIKE, and the functions upper/lower/trim/length/abs/coalesce.
- No subqueries, no joins, no semicolons.
- Service codes: 03=Ground, 02=2nd Day Air, 01=Next Day Air, 12=3 Day
  Select, 13=Next Day Air Saver, 14=Next Day Air Early, 11=International
  Standard, 65=International Express Saver. Default to "03" when the user
  does not name a service.
- If the command is ambiguous or references columns that do not exist, set
  needs_clarification to true and ask ONE short question.`

// ClaudeInterpreter implements interfaces.Interpreter on the Anthropic API
type ClaudeInterpreter struct {
	client    anthropic.Client
	model     string
	maxTokens int
	timeout   time.Duration
	logger    arbor.ILogger
}

// NewClaudeInterpreter creates the LLM-backed interpreter
func NewClaudeInterpreter(config *common.ClaudeConfig, logger arbor.ILogger) (*ClaudeInterpreter, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required (set ANTHROPIC_API_KEY or claude.api_key)")
	}

	timeout, err := time.ParseDuration(config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid claude timeout %q: %w", config.Timeout, err)
	}

	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	client := anthropic.NewClient(option.WithAPIKey(config.APIKey))

	logger.Debug().
		Str("model", config.Model).
		Dur("timeout", timeout).
		Msg("Claude interpreter initialized")

	return &ClaudeInterpreter{
		client:    client,
		model:     config.Model,
		maxTokens: maxTokens,
		timeout:   timeout,
		logger:    logger,
	}, nil
}

// Interpret sends the command, schema, and conversation history to the model
// and parses its JSON answer.
func (c *ClaudeInterpreter) Interpret(ctx context.Context, command string, schema []models.SchemaColumn, history []models.ConversationMessage) (*interfaces.IntentProposal, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, msg := range history {
		switch msg.Role {
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(c.prompt(command, schema))))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		Messages:  messages,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
	}

	started := time.Now()
	resp, err := c.client.Messages.New(timeoutCtx, params)
	if err != nil {
		return nil, fmt.Errorf("interpreter call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	proposal, err := parseProposal(text.String())
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("where", proposal.Where).
		Str("service_code", proposal.ServiceCode).
		Bool("needs_clarification", proposal.NeedsClarification).
		Int64("ms", time.Since(started).Milliseconds()).
		Msg("Command interpreted")

	return proposal, nil
}

func (c *ClaudeInterpreter) prompt(command string, schema []models.SchemaColumn) string {
	var b strings.Builder
	b.WriteString("Schema:\n")
	for _, col := range schema {
		fmt.Fprintf(&b, "- %s (%s)\n", col.Name, col.Type)
	}
	b.WriteString("\nCommand: ")
	b.WriteString(command)
	return b.String()
}

// parseProposal decodes the model's JSON answer, tolerating surrounding
// code fences.
func parseProposal(text string) (*interfaces.IntentProposal, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var proposal interfaces.IntentProposal
	if err := json.Unmarshal([]byte(text), &proposal); err != nil {
		return nil, fmt.Errorf("interpreter returned malformed JSON: %w", err)
	}
	if !proposal.NeedsClarification && proposal.ServiceCode == "" {
		proposal.ServiceCode = "03"
	}
	return &proposal, nil
}
