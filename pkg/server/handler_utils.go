package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/confide-ai/confide/pkg/models"
)

// APIError represents an error response body.
type APIError struct {
	Message string `json:"message"`
}

var validate = validator.New()

// extractQueryStringValueToInt extracts a query string value and converts it
// to an int if it is not empty. If the value is empty, it returns 0.
func extractQueryStringValueToInt(r *http.Request, param string) (int, error) {
	p := r.URL.Query().Get(param)
	if p == "" {
		return 0, nil
	}
	pInt, err := strconv.ParseInt(p, 10, 32)
	if err != nil {
		return 0, err
	}
	return int(pInt), nil
}

// encodeJSON encodes data into JSON and writes it to the response writer.
func encodeJSON(w http.ResponseWriter, data interface{}) error {
	return json.NewEncoder(w).Encode(data)
}

// decodeAndValidateJSON decodes a JSON request body into data and validates
// it with the struct's validate tags.
func decodeAndValidateJSON(r *http.Request, data interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(data); err != nil {
		return err
	}
	return validate.Struct(data)
}

// renderError renders an error response, mapping the storage error taxonomy
// onto HTTP statuses. Not found errors are not logged.
func renderError(w http.ResponseWriter, err error, status int) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrBadRequest):
		status = http.StatusBadRequest
	}
	if status != http.StatusNotFound {
		log.Error(err)
	}
	http.Error(w, err.Error(), status)
}
