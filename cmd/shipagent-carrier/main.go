package main

import (
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	arbor_models "github.com/ternarybob/arbor/models"

	"github.com/matt-hans/shipagent/internal/common"
)

// Carrier simulator speaking the stdio tool protocol. Credentials arrive via
// environment and are only checked for presence; their values are never
// logged or echoed.
func main() {
	// Minimal logging; stdout belongs to the stdio protocol
	logger := arbor.NewLogger().WithConsoleWriter(arbor_models.WriterConfiguration{
		Type:             arbor_models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		DisableTimestamp: false,
	}).WithLevelFromString("warn")

	sim := newSimulator(
		os.Getenv("SHIPAGENT_CARRIER_CLIENT_ID"),
		os.Getenv("SHIPAGENT_CARRIER_CLIENT_SECRET"),
		os.Getenv("SHIPAGENT_CARRIER_ACCOUNT_NUMBER"),
	)

	mcpServer := server.NewMCPServer(
		"shipagent-carrier",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)

	mcpServer.AddTool(createGetRateTool(), handleGetRate(sim, logger))
	mcpServer.AddTool(createCreateShipmentTool(), handleCreateShipment(sim, logger))
	mcpServer.AddTool(createVoidShipmentTool(), handleVoidShipment(sim, logger))
	mcpServer.AddTool(createValidateAddressTool(), handleValidateAddress(sim, logger))
	mcpServer.AddTool(createTrackTool(), handleTrack(sim, logger))

	mcpServer.AddTool(createUploadDocumentTool(), handleUploadDocument(sim, logger))
	mcpServer.AddTool(createAttachDocumentTool(), handleAttachDocument(sim, logger))
	mcpServer.AddTool(createDeleteDocumentTool(), handleDeleteDocument(sim, logger))

	mcpServer.AddTool(createSchedulePickupTool(), handleSchedulePickup(sim, logger))
	mcpServer.AddTool(createCancelPickupTool(), handleCancelPickup(sim, logger))
	mcpServer.AddTool(createRatePickupTool(), handleRatePickup(sim, logger))
	mcpServer.AddTool(createGetPickupStatusTool(), handleGetPickupStatus(sim, logger))

	mcpServer.AddTool(createGetLandedCostTool(), handleGetLandedCost(sim, logger))
	mcpServer.AddTool(createFindLocationsTool(), handleFindLocations(sim, logger))
	mcpServer.AddTool(createGetPoliticalDivisionsTool(), handleGetPoliticalDivisions(sim, logger))
	mcpServer.AddTool(createGetServiceCenterFacilitiesTool(), handleGetServiceCenterFacilities(sim, logger))

	// Blocks on stdio until the parent closes the pipe
	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Fatal().Err(err).Msg("Carrier server failed")
	}
}
