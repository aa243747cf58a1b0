package main

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// createGetSchemaTool returns the get_schema tool definition
func createGetSchemaTool() mcp.Tool {
	return mcp.NewTool("get_schema",
		mcp.WithDescription("Return the column list of the active data source"),
	)
}

// createGetSourceInfoTool returns the get_source_info tool definition
func createGetSourceInfoTool() mcp.Tool {
	return mcp.NewTool("get_source_info",
		mcp.WithDescription("Return the source type, identity signature, and row count"),
	)
}

// createQueryRowsTool returns the query_rows tool definition
func createQueryRowsTool() mcp.Tool {
	return mcp.NewTool("query_rows",
		mcp.WithDescription("Return all rows matching a WHERE clause, in source order"),
		mcp.WithString("where",
			mcp.Description("SQL WHERE clause over the source columns; empty matches all rows"),
		),
	)
}

// createGetRowTool returns the get_row tool definition
func createGetRowTool() mcp.Tool {
	return mcp.NewTool("get_row",
		mcp.WithDescription("Return one row by its stable 1-based row number"),
		mcp.WithNumber("row_number",
			mcp.Required(),
			mcp.Description("1-based row ordinal"),
		),
	)
}

// createCountRowsTool returns the count_rows tool definition
func createCountRowsTool() mcp.Tool {
	return mcp.NewTool("count_rows",
		mcp.WithDescription("Count rows matching a WHERE clause without fetching them"),
		mcp.WithString("where",
			mcp.Description("SQL WHERE clause over the source columns; empty matches all rows"),
		),
	)
}

// createWriteTrackingTool returns the write_tracking tool definition
func createWriteTrackingTool() mcp.Tool {
	return mcp.NewTool("write_tracking",
		mcp.WithDescription("Write shipment results back onto a source row"),
		mcp.WithNumber("row_number",
			mcp.Required(),
			mcp.Description("1-based row ordinal"),
		),
		mcp.WithString("tracking",
			mcp.Required(),
			mcp.Description("Carrier tracking number"),
		),
		mcp.WithString("service",
			mcp.Description("Service code the shipment was created with"),
		),
		mcp.WithNumber("cost",
			mcp.Description("Shipment cost in integer minor units"),
		),
	)
}
