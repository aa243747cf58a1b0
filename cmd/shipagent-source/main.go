package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	arbor_models "github.com/ternarybob/arbor/models"

	"github.com/matt-hans/shipagent/internal/common"
)

func main() {
	path := os.Getenv("SHIPAGENT_SOURCE_PATH")
	if path == "" {
		fmt.Fprintln(os.Stderr, "SHIPAGENT_SOURCE_PATH is not set")
		os.Exit(1)
	}

	// Minimal logging; stdout belongs to the stdio protocol
	logger := arbor.NewLogger().WithConsoleWriter(arbor_models.WriterConfiguration{
		Type:             arbor_models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		DisableTimestamp: false,
	}).WithLevelFromString("warn")

	src, err := openCSVSource(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open data source: %v\n", err)
		os.Exit(1)
	}

	mcpServer := server.NewMCPServer(
		"shipagent-source",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)

	mcpServer.AddTool(createGetSchemaTool(), handleGetSchema(src, logger))
	mcpServer.AddTool(createGetSourceInfoTool(), handleGetSourceInfo(src, logger))
	mcpServer.AddTool(createQueryRowsTool(), handleQueryRows(src, logger))
	mcpServer.AddTool(createGetRowTool(), handleGetRow(src, logger))
	mcpServer.AddTool(createCountRowsTool(), handleCountRows(src, logger))
	mcpServer.AddTool(createWriteTrackingTool(), handleWriteTracking(src, logger))

	// Blocks on stdio until the parent closes the pipe
	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Fatal().Err(err).Msg("Data-source server failed")
	}
}
