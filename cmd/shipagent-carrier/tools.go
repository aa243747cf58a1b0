package main

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func createGetRateTool() mcp.Tool {
	return mcp.NewTool("get_rate",
		mcp.WithDescription("Rate a shipment and return the published and negotiated charges"),
		mcp.WithObject("body",
			mcp.Required(),
			mcp.Description("Carrier RateRequest body"),
		),
	)
}

func createCreateShipmentTool() mcp.Tool {
	return mcp.NewTool("create_shipment",
		mcp.WithDescription("Create a shipment and return tracking numbers and label images"),
		mcp.WithObject("body",
			mcp.Required(),
			mcp.Description("Carrier ShipmentRequest body"),
		),
		mcp.WithString("idempotency_key",
			mcp.Description("Replays with the same key return the original shipment"),
		),
	)
}

func createVoidShipmentTool() mcp.Tool {
	return mcp.NewTool("void_shipment",
		mcp.WithDescription("Void a previously created shipment"),
		mcp.WithString("shipment_id",
			mcp.Required(),
			mcp.Description("Shipment identification number"),
		),
	)
}

func createValidateAddressTool() mcp.Tool {
	return mcp.NewTool("validate_address",
		mcp.WithDescription("Validate a destination address and return candidates"),
		mcp.WithString("address1", mcp.Required(), mcp.Description("Street address line 1")),
		mcp.WithString("address2", mcp.Description("Street address line 2")),
		mcp.WithString("city", mcp.Required(), mcp.Description("City")),
		mcp.WithString("state", mcp.Description("State or province code")),
		mcp.WithString("postal_code", mcp.Description("Postal code")),
		mcp.WithString("country", mcp.Required(), mcp.Description("ISO country code")),
	)
}

func createTrackTool() mcp.Tool {
	return mcp.NewTool("track",
		mcp.WithDescription("Return current status and activity history for a tracking number"),
		mcp.WithString("tracking_number",
			mcp.Required(),
			mcp.Description("Carrier tracking number"),
		),
	)
}

func createUploadDocumentTool() mcp.Tool {
	return mcp.NewTool("upload_document",
		mcp.WithDescription("Upload a paperless trade document"),
		mcp.WithString("file_name", mcp.Required(), mcp.Description("Document file name")),
		mcp.WithString("format", mcp.Required(), mcp.Description("Document format, e.g. pdf")),
		mcp.WithString("base64", mcp.Required(), mcp.Description("Base64-encoded document content")),
	)
}

func createAttachDocumentTool() mcp.Tool {
	return mcp.NewTool("attach_document",
		mcp.WithDescription("Attach an uploaded document to a shipment"),
		mcp.WithString("shipment_id", mcp.Required(), mcp.Description("Shipment identification number")),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Uploaded document ID")),
	)
}

func createDeleteDocumentTool() mcp.Tool {
	return mcp.NewTool("delete_document",
		mcp.WithDescription("Delete an uploaded document"),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Uploaded document ID")),
	)
}

func createSchedulePickupTool() mcp.Tool {
	return mcp.NewTool("schedule_pickup",
		mcp.WithDescription("Schedule a package pickup"),
		mcp.WithString("date", mcp.Required(), mcp.Description("Pickup date, YYYYMMDD")),
		mcp.WithString("ready_time", mcp.Description("Earliest ready time, HHMM")),
		mcp.WithString("close_time", mcp.Description("Latest pickup time, HHMM")),
		mcp.WithString("address1", mcp.Required(), mcp.Description("Pickup street address")),
		mcp.WithString("city", mcp.Required(), mcp.Description("Pickup city")),
		mcp.WithString("state", mcp.Description("Pickup state or province")),
		mcp.WithString("postal_code", mcp.Description("Pickup postal code")),
		mcp.WithString("country", mcp.Required(), mcp.Description("Pickup country code")),
		mcp.WithString("contact_name", mcp.Description("On-site contact name")),
		mcp.WithString("phone", mcp.Description("On-site contact phone")),
	)
}

func createCancelPickupTool() mcp.Tool {
	return mcp.NewTool("cancel_pickup",
		mcp.WithDescription("Cancel a scheduled pickup"),
		mcp.WithString("confirmation_number",
			mcp.Required(),
			mcp.Description("Pickup confirmation number"),
		),
	)
}

func createRatePickupTool() mcp.Tool {
	return mcp.NewTool("rate_pickup",
		mcp.WithDescription("Quote the charge for a pickup without scheduling it"),
		mcp.WithString("date", mcp.Required(), mcp.Description("Pickup date, YYYYMMDD")),
		mcp.WithString("ready_time", mcp.Description("Earliest ready time, HHMM")),
		mcp.WithString("close_time", mcp.Description("Latest pickup time, HHMM")),
		mcp.WithString("address1", mcp.Required(), mcp.Description("Pickup street address")),
		mcp.WithString("city", mcp.Required(), mcp.Description("Pickup city")),
		mcp.WithString("state", mcp.Description("Pickup state or province")),
		mcp.WithString("postal_code", mcp.Description("Pickup postal code")),
		mcp.WithString("country", mcp.Required(), mcp.Description("Pickup country code")),
		mcp.WithString("contact_name", mcp.Description("On-site contact name")),
		mcp.WithString("phone", mcp.Description("On-site contact phone")),
	)
}

func createGetPickupStatusTool() mcp.Tool {
	return mcp.NewTool("get_pickup_status",
		mcp.WithDescription("Return the status of a scheduled pickup"),
		mcp.WithString("confirmation_number",
			mcp.Required(),
			mcp.Description("Pickup confirmation number"),
		),
	)
}

func createGetLandedCostTool() mcp.Tool {
	return mcp.NewTool("get_landed_cost",
		mcp.WithDescription("Estimate duties, taxes, and fees for an international shipment"),
		mcp.WithObject("body",
			mcp.Required(),
			mcp.Description("Landed cost request body"),
		),
	)
}

func createFindLocationsTool() mcp.Tool {
	return mcp.NewTool("find_locations",
		mcp.WithDescription("Find drop-off locations near a postal code"),
		mcp.WithString("postal_code", mcp.Required(), mcp.Description("Postal code to search near")),
		mcp.WithString("country", mcp.Required(), mcp.Description("ISO country code")),
	)
}

func createGetPoliticalDivisionsTool() mcp.Tool {
	return mcp.NewTool("get_political_divisions",
		mcp.WithDescription("List state or province codes for a country"),
		mcp.WithString("country", mcp.Required(), mcp.Description("ISO country code")),
	)
}

func createGetServiceCenterFacilitiesTool() mcp.Tool {
	return mcp.NewTool("get_service_center_facilities",
		mcp.WithDescription("Find service center facilities near a postal code"),
		mcp.WithString("postal_code", mcp.Required(), mcp.Description("Postal code to search near")),
		mcp.WithString("country", mcp.Required(), mcp.Description("ISO country code")),
	)
}
