package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/flowboard/webhook-engine/internal/domain"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondDomainError maps the error taxonomy onto HTTP statuses: validation
// errors surface as 400 with their message, unknown ids as 404, anything
// else as an opaque 500.
func respondDomainError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case domain.IsValidation(err):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	default:
		respondError(w, http.StatusInternalServerError, fallback)
	}
}
