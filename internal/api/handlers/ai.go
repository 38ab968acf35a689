package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/scottatquimbi/quimbi-platform/internal/llm"
)

// GetRecommendation serves GET /api/ai/tickets/{id}/recommendation.
// Returns the cached entry while it is fresh, otherwise generates.
func (h *Handlers) GetRecommendation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Tickets.GetRecommendation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// GetDraft serves GET /api/ai/tickets/{id}/draft-response.
func (h *Handlers) GetDraft(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Tickets.GetDraft(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"ticket_id":      rec.TicketID,
		"draft_response": rec.DraftResponse,
		"draft_tone":     rec.DraftTone,
		"generated_at":   rec.GeneratedAt,
		"expires_at":     rec.ExpiresAt,
		"message_count":  rec.MessageCount,
	})
}

// RegenerateDraft serves POST /api/ai/tickets/{id}/draft-response/regenerate,
// bypassing the cache and honoring style options.
func (h *Handlers) RegenerateDraft(w http.ResponseWriter, r *http.Request) {
	var opts llm.DraftOptions
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&opts)
	}
	rec, err := h.Tickets.RegenerateDraft(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// MarkAction serves PATCH /api/ai/tickets/{id}/recommendation/actions/{index}.
func (h *Handlers) MarkAction(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "action index must be an integer")
		return
	}
	var in struct {
		Completed bool `json:"completed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	rec, err := h.Tickets.MarkActionCompleted(r.Context(), chi.URLParam(r, "id"), index, in.Completed)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}
