package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// maxBodySize caps request bodies at 1MB; admin payloads are small
const maxBodySize = 1 << 20

// ParseJSON decodes the request body into v. Unknown fields are rejected so
// client typos surface as 400s instead of silently-ignored fields.
func ParseJSON(r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodySize)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(v); err != nil {
		return err
	}

	// Reject trailing garbage after the JSON document
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("request body must contain a single JSON object")
	}

	return nil
}

// ParseJSONOrError decodes the body into v, writing a 400 validation error and
// returning false when the body is malformed.
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := ParseJSON(r, v); err != nil {
		WriteValidationError(w, "invalid request body", ValidationDetails{
			Body: []string{err.Error()},
		})
		return false
	}
	return true
}
