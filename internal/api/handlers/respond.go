package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/scottatquimbi/quimbi-platform/internal/llm"
	"github.com/scottatquimbi/quimbi-platform/internal/nlquery"
	"github.com/scottatquimbi/quimbi-platform/internal/store"
	"github.com/scottatquimbi/quimbi-platform/internal/ticket"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("response encode failed")
	}
}

// respondError emits the error envelope: {"error": {code, message}}.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// respondServiceError maps domain errors onto the error envelope.
func respondServiceError(w http.ResponseWriter, err error) {
	var notFound *store.ErrNotFound
	switch {
	case errors.As(err, &notFound):
		respondError(w, http.StatusNotFound, notFoundCode(notFound.Entity), err.Error())
	case errors.Is(err, ticket.ErrValidation), errors.Is(err, nlquery.ErrUnknownTool):
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, ticket.ErrUpstream), errors.Is(err, llm.ErrUnavailable):
		respondError(w, http.StatusBadGateway, "UPSTREAM_FAILURE", err.Error())
	default:
		log.Error().Err(err).Msg("request failed")
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}

// notFoundCode derives the envelope code from the missing entity, e.g.
// "ticket" becomes TICKET_NOT_FOUND.
func notFoundCode(entity string) string {
	return strings.ToUpper(entity) + "_NOT_FOUND"
}
