// -----------------------------------------------------------------------
// Subprocess supervisor (C10) - owns one long-lived stdio service (carrier
// or data source), multiplexes tool calls over its pipe, and restarts it
// when the pipe goes down between calls. Credentials reach the child only
// through its environment.
// -----------------------------------------------------------------------

package subprocess

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/ternarybob/arbor"

	"github.com/matt-hans/shipagent/internal/interfaces"
)

const (
	defaultCallTimeout = 30 * time.Second
	stopGracePeriod    = 5 * time.Second
	initializeTimeout  = 10 * time.Second
)

// Supervisor implements interfaces.ToolInvoker over a child process speaking
// the stdio tool protocol.
type Supervisor struct {
	name    string
	command string
	args    []string
	env     []string
	timeout time.Duration
	logger  arbor.ILogger

	mu       sync.Mutex
	client   *client.Client
	inflight int
	stopped  bool
}

// NewSupervisor creates a supervisor. env entries are KEY=VALUE pairs passed
// to the child; values are never logged.
func NewSupervisor(name, command string, args, env []string, logger arbor.ILogger) *Supervisor {
	return &Supervisor{
		name:    name,
		command: command,
		args:    args,
		env:     env,
		timeout: defaultCallTimeout,
		logger:  logger,
	}
}

// Start spawns the child and performs the protocol handshake. Safe to call
// again after the child has died.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return &interfaces.TransportError{Service: s.name, Message: "supervisor stopped"}
	}
	return s.startLocked(ctx)
}

func (s *Supervisor) startLocked(ctx context.Context) error {
	if s.client != nil {
		return nil
	}

	c, err := client.NewStdioMCPClient(s.command, s.env, s.args...)
	if err != nil {
		return &interfaces.TransportError{Service: s.name, Message: fmt.Sprintf("failed to spawn %s: %v", s.command, err)}
	}

	if stderr, ok := client.GetStderr(c); ok {
		go s.pumpStderr(stderr)
	}

	initCtx, cancel := context.WithTimeout(ctx, initializeTimeout)
	defer cancel()

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{Name: "shipagent", Version: "1.0.0"}

	if _, err := c.Initialize(initCtx, initRequest); err != nil {
		c.Close()
		return &interfaces.TransportError{Service: s.name, Message: fmt.Sprintf("handshake failed: %v", err)}
	}

	s.client = c
	s.logger.Info().Str("service", s.name).Str("command", s.command).Msg("Subprocess started")
	return nil
}

// Invoke calls a named tool on the child. Tool-level failures come back as
// *ToolError; a dead pipe or deadline comes back as *TransportError with
// BodySent set once the request has been written.
func (s *Supervisor) Invoke(ctx context.Context, tool string, args map[string]interface{}) (json.RawMessage, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, &interfaces.TransportError{Service: s.name, Message: "supervisor stopped"}
	}
	if err := s.startLocked(ctx); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	c := s.client
	s.inflight++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inflight--
		s.mu.Unlock()
	}()

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	request := mcp.CallToolRequest{}
	request.Params.Name = tool
	request.Params.Arguments = args

	started := time.Now()
	result, err := c.CallTool(callCtx, request)
	if err != nil {
		s.teardown(c)
		timedOut := callCtx.Err() == context.DeadlineExceeded
		s.logger.Warn().
			Str("service", s.name).
			Str("tool", tool).
			Bool("timeout", timedOut).
			Err(err).
			Msg("Subprocess call failed")
		return nil, &interfaces.TransportError{
			Service:  s.name,
			Message:  err.Error(),
			BodySent: true,
			Timeout:  timedOut,
		}
	}

	s.logger.Debug().
		Str("service", s.name).
		Str("tool", tool).
		Int64("ms", time.Since(started).Milliseconds()).
		Msg("Subprocess call completed")

	text := firstText(result)
	if result.IsError {
		return nil, parseToolError(tool, text)
	}
	return json.RawMessage(text), nil
}

// Ready reports whether the child is up and answering
func (s *Supervisor) Ready() bool {
	s.mu.Lock()
	c := s.client
	stopped := s.stopped
	s.mu.Unlock()

	if stopped || c == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.Ping(ctx) == nil
}

// Stop shuts the child down, waiting out in-flight calls up to the grace
// period before closing the pipe.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	c := s.client
	s.client = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	deadline := time.Now().Add(stopGracePeriod)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		idle := s.inflight == 0
		s.mu.Unlock()
		if idle {
			break
		}
		select {
		case <-ctx.Done():
			return c.Close()
		case <-time.After(50 * time.Millisecond):
		}
	}

	err := c.Close()
	s.logger.Info().Str("service", s.name).Msg("Subprocess stopped")
	return err
}

// teardown discards a dead client so the next Invoke respawns
func (s *Supervisor) teardown(c *client.Client) {
	s.mu.Lock()
	if s.client == c {
		s.client = nil
	}
	s.mu.Unlock()
	c.Close()
}

// pumpStderr forwards the child's stderr lines to the service log
func (s *Supervisor) pumpStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			s.logger.Warn().Str("service", s.name).Msg(line)
		}
	}
}

// firstText extracts the first text content block of a tool result
func firstText(result *mcp.CallToolResult) string {
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			return text.Text
		}
	}
	return ""
}

// parseToolError decodes a structured tool error payload, falling back to
// the raw text when the child did not send JSON.
func parseToolError(tool, text string) *interfaces.ToolError {
	toolErr := &interfaces.ToolError{Tool: tool, Raw: text}
	var payload struct {
		Code    string `json:"code"`
		Status  int    `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err == nil && (payload.Code != "" || payload.Message != "") {
		toolErr.Code = payload.Code
		toolErr.Status = payload.Status
		toolErr.Message = payload.Message
		return toolErr
	}
	toolErr.Message = text
	return toolErr
}
