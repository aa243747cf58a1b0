package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt-hans/shipagent/internal/errcodes"
	"github.com/matt-hans/shipagent/internal/models"
)

func TestGetPaginationParams(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/jobs?page=2&pageSize=25", nil)
	page, pageSize := GetPaginationParams(req)
	assert.Equal(t, 2, page)
	assert.Equal(t, 25, pageSize)

	// Defaults and clamping
	req = httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	page, pageSize = GetPaginationParams(req)
	assert.Equal(t, 0, page)
	assert.Equal(t, 50, pageSize)

	req = httptest.NewRequest(http.MethodGet, "/api/jobs?page=-1&pageSize=9999", nil)
	page, pageSize = GetPaginationParams(req)
	assert.Equal(t, 0, page)
	assert.Equal(t, 50, pageSize)
}

func TestStatusForRecord(t *testing.T) {
	cases := []struct {
		code string
		want int
	}{
		{errcodes.MissingRequiredField, http.StatusUnprocessableEntity},
		{errcodes.ApprovalTokenInvalid, http.StatusForbidden},
		{errcodes.StaleTransition, http.StatusConflict},
		{errcodes.CarrierUnavailable, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		record := &models.ErrorRecord{Code: tc.code}
		assert.Equal(t, tc.want, statusForRecord(record), tc.code)
	}
}

func TestWriteErrorRecordBody(t *testing.T) {
	rec := httptest.NewRecorder()
	record := errcodes.New(errcodes.MissingRequiredField, "address1")
	require.NoError(t, WriteErrorRecord(rec, record))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Status string `json:"status"`
		Error  struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, string(errcodes.MissingRequiredField), body.Error.Code)
}
