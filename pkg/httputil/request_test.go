package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type createPayload struct {
	Name         string `json:"name"`
	MinistryName string `json:"ministryName"`
}

func jsonRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/tenants", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestParseJSON(t *testing.T) {
	t.Run("valid body", func(t *testing.T) {
		var payload createPayload
		err := ParseJSON(jsonRequest(`{"name":"Wildfire Tracking","ministryName":"Forests"}`), &payload)
		require.NoError(t, err)
		assert.Equal(t, "Wildfire Tracking", payload.Name)
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		var payload createPayload
		err := ParseJSON(jsonRequest(`{"name":"x","ministry":"typo"}`), &payload)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown field")
	})

	t.Run("trailing garbage is rejected", func(t *testing.T) {
		var payload createPayload
		err := ParseJSON(jsonRequest(`{"name":"x"}{"name":"y"}`), &payload)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "single JSON object")
	})

	t.Run("malformed json", func(t *testing.T) {
		var payload createPayload
		err := ParseJSON(jsonRequest(`{"name":`), &payload)
		require.Error(t, err)
	})
}

func TestParseJSONOrError(t *testing.T) {
	t.Run("writes a 400 with details on failure", func(t *testing.T) {
		rec := httptest.NewRecorder()
		var payload createPayload

		ok := ParseJSONOrError(rec, jsonRequest(`not json`), &payload)

		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid request body")
		assert.Contains(t, rec.Body.String(), "details")
	})

	t.Run("passes through on success", func(t *testing.T) {
		rec := httptest.NewRecorder()
		var payload createPayload

		ok := ParseJSONOrError(rec, jsonRequest(`{"name":"x"}`), &payload)

		assert.True(t, ok)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Body.String())
	})
}
