package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/matt-hans/shipagent/internal/models"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteErrorRecord writes a structured error record with the HTTP status
// derived from its code class.
func WriteErrorRecord(w http.ResponseWriter, record *models.ErrorRecord) error {
	return WriteJSON(w, statusForRecord(record), map[string]interface{}{
		"status": "error",
		"error":  record,
	})
}

// statusForRecord maps error code classes to HTTP statuses. Validation and
// approval failures are client errors; carrier and system failures are not.
func statusForRecord(record *models.ErrorRecord) int {
	if len(record.Code) < 3 {
		return http.StatusInternalServerError
	}
	switch record.Code[2] {
	case '2': // Validation
		return http.StatusUnprocessableEntity
	case '5': // Approval / auth
		return http.StatusForbidden
	case '4': // State conflicts
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PaginationResponse contains pagination metadata for API responses.
type PaginationResponse struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalItems int `json:"total_items"`
}

// GetPaginationParams extracts pagination parameters from query string.
// Returns page (0-indexed) and pageSize (default 50, max 500).
func GetPaginationParams(r *http.Request) (page, pageSize int) {
	page = 0
	pageSize = 50

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p >= 0 {
			page = p
		}
	}

	if pageSizeStr := r.URL.Query().Get("pageSize"); pageSizeStr != "" {
		if ps, err := strconv.Atoi(pageSizeStr); err == nil && ps > 0 && ps <= 500 {
			pageSize = ps
		}
	}

	return page, pageSize
}
