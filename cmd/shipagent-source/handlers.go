package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
)

// jsonResult marshals a payload into a single text content block
func jsonResult(payload interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return errorResult("SOURCE_INTERNAL", 500, fmt.Sprintf("failed to encode response: %v", err)), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
	}, nil
}

// errorResult builds a structured tool error the supervisor can decode
func errorResult(code string, status int, message string) *mcp.CallToolResult {
	payload, _ := json.Marshal(map[string]interface{}{
		"code":    code,
		"status":  status,
		"message": message,
	})
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{mcp.NewTextContent(string(payload))},
	}
}

// handleGetSchema implements the get_schema tool
func handleGetSchema(src *csvSource, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(map[string]interface{}{"columns": src.Schema()})
	}
}

// handleGetSourceInfo implements the get_source_info tool
func handleGetSourceInfo(src *csvSource, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(map[string]interface{}{
			"type":      "csv",
			"signature": src.Signature(),
			"row_count": src.RowCount(),
		})
	}
}

// handleQueryRows implements the query_rows tool
func handleQueryRows(src *csvSource, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		where := request.GetString("where", "")
		rows, err := src.Query(where)
		if err != nil {
			logger.Warn().Err(err).Msg("Query failed")
			return errorResult("FILTER_INVALID", 400, err.Error()), nil
		}
		return jsonResult(map[string]interface{}{"rows": rows})
	}
}

// handleGetRow implements the get_row tool
func handleGetRow(src *csvSource, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rowNumber := request.GetInt("row_number", 0)
		if rowNumber < 1 {
			return errorResult("ROW_INVALID", 400, "row_number must be a positive integer"), nil
		}

		row, err := src.Row(rowNumber)
		if err != nil {
			return errorResult("ROW_NOT_FOUND", 404, err.Error()), nil
		}
		return jsonResult(row)
	}
}

// handleCountRows implements the count_rows tool
func handleCountRows(src *csvSource, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		where := request.GetString("where", "")
		count, err := src.Count(where)
		if err != nil {
			logger.Warn().Err(err).Msg("Count failed")
			return errorResult("FILTER_INVALID", 400, err.Error()), nil
		}
		return jsonResult(map[string]interface{}{"count": count})
	}
}

// handleWriteTracking implements the write_tracking tool
func handleWriteTracking(src *csvSource, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rowNumber := request.GetInt("row_number", 0)
		if rowNumber < 1 {
			return errorResult("ROW_INVALID", 400, "row_number must be a positive integer"), nil
		}
		tracking, err := request.RequireString("tracking")
		if err != nil || tracking == "" {
			return errorResult("TRACKING_REQUIRED", 400, "tracking parameter is required"), nil
		}
		service := request.GetString("service", "")
		cost := request.GetInt("cost", 0)

		if err := src.WriteTracking(rowNumber, tracking, service, int64(cost)); err != nil {
			logger.Error().Err(err).Int("row", rowNumber).Msg("Tracking write failed")
			return errorResult("WRITE_FAILED", 500, err.Error()), nil
		}
		return jsonResult(map[string]interface{}{"status": "ok"})
	}
}
