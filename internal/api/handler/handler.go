// Package handler implements the HTTP endpoints of the scoring API.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/agentscore/internal/api/middleware"
	"github.com/kiranshivaraju/agentscore/internal/api/response"
)

// decodeBody decodes a JSON body into v. An empty body leaves v untouched
// when allowEmpty is set.
func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if allowEmpty && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// accountFrom writes a 401 and returns false when auth did not run.
func accountFrom(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := mw.GetAccountID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing account", nil)
	}
	return id, ok
}

// uuidParam parses a path parameter. A missing value and a malformed one are
// reported separately.
func uuidParam(w http.ResponseWriter, r *http.Request, name, missingCode string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		response.Error(w, http.StatusBadRequest, missingCode, name+" is required", nil)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", name+" must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

// validationDetails maps each failed field to the tag it failed on.
func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make(map[string]string, len(verrs))
	for _, e := range verrs {
		details[e.Field()] = e.Tag()
	}
	return details
}

func internalError(w http.ResponseWriter) {
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
}
