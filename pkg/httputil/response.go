// Package httputil provides HTTP handler utilities for the response envelope,
// error mapping, JSON decoding, and request-scoped middleware.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/bcgov/tenant-management-system-sub000/pkg/apierrors"
)

// Envelope is the success body shape: {"data": {"<resourceKey>": payload}}
type Envelope struct {
	Data map[string]interface{} `json:"data"`
}

// WriteData writes a success response wrapping the payload under its resource
// key inside the data envelope.
func WriteData(w http.ResponseWriter, status int, resourceKey string, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Envelope{
		Data: map[string]interface{}{resourceKey: payload},
	})
}

// WriteNoContent writes a 204 with no body
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteDomainError maps err onto the error body shape
// {name, message, httpResponseCode, errorMessage}. Unclassified errors become
// a generic 500; the original error text is never surfaced for those.
func WriteDomainError(w http.ResponseWriter, err error) {
	domainErr := apierrors.From(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(domainErr.Status)
	json.NewEncoder(w).Encode(domainErr)
}

// ValidationDetails carries field-level validation messages grouped by the
// request part they came from.
type ValidationDetails struct {
	Body   []string `json:"body,omitempty"`
	Query  []string `json:"query,omitempty"`
	Params []string `json:"params,omitempty"`
}

type validationError struct {
	apierrors.Error
	Details ValidationDetails `json:"details"`
}

// WriteValidationError writes a 400 with the field-level details array
func WriteValidationError(w http.ResponseWriter, message string, details ValidationDetails) {
	domainErr := apierrors.BadRequest("%s", message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(domainErr.Status)
	json.NewEncoder(w).Encode(validationError{Error: *domainErr, Details: details})
}
