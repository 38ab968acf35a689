package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/scottatquimbi/quimbi-platform/internal/store"
	"github.com/scottatquimbi/quimbi-platform/internal/ticket"
	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

// ListTickets serves GET /api/tickets. With smart_order=true the inbox is
// ranked by the scorer instead of created_at.
func (h *Handlers) ListTickets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	in := ticket.ListInput{
		Filter: store.TicketFilter{
			Status:     models.TicketStatus(q.Get("status")),
			Priority:   models.TicketPriority(q.Get("priority")),
			Channel:    q.Get("channel"),
			AssignedTo: q.Get("assigned_to"),
			CustomerID: q.Get("customer_id"),
			SortAsc:    q.Get("order") == "asc",
		},
		Page:       intParam(q.Get("page"), 1),
		Limit:      intParam(q.Get("limit"), 25),
		SmartOrder: boolParam(q.Get("smart_order")),
	}
	if alerts := q.Get("topic_alerts"); alerts != "" {
		for _, a := range strings.Split(alerts, ",") {
			if a = strings.TrimSpace(a); a != "" {
				in.TopicAlerts = append(in.TopicAlerts, a)
			}
		}
	}

	res, err := h.Tickets.ListTickets(r.Context(), in)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// CreateTicket serves POST /api/tickets.
func (h *Handlers) CreateTicket(w http.ResponseWriter, r *http.Request) {
	var in ticket.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	created, err := h.Tickets.CreateTicket(r.Context(), in)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

// GetTicket serves GET /api/tickets/{id}. The identifier may be a UUID or
// a display number like T-042.
func (h *Handlers) GetTicket(w http.ResponseWriter, r *http.Request) {
	detail, err := h.Tickets.GetTicket(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

// UpdateTicket serves PATCH /api/tickets/{id}.
func (h *Handlers) UpdateTicket(w http.ResponseWriter, r *http.Request) {
	var in ticket.UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	updated, err := h.Tickets.UpdateTicket(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// AppendMessage serves POST /api/tickets/{id}/messages.
func (h *Handlers) AppendMessage(w http.ResponseWriter, r *http.Request) {
	var in ticket.AppendInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	msg, err := h.Tickets.AppendMessage(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

// AddNote serves POST /api/tickets/{id}/notes.
func (h *Handlers) AddNote(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Content string `json:"content"`
		Author  string `json:"author"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	note, err := h.Tickets.AddNote(r.Context(), chi.URLParam(r, "id"), in.Content, in.Author)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, note)
}

// ListNotes serves GET /api/tickets/{id}/notes.
func (h *Handlers) ListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := h.Tickets.ListNotes(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if notes == nil {
		notes = []models.TicketNote{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"notes": notes})
}

// ScoreBreakdown serves GET /api/tickets/{id}/score-breakdown, exposing
// every component of the smart-order score.
func (h *Handlers) ScoreBreakdown(w http.ResponseWriter, r *http.Request) {
	var alerts []string
	if raw := r.URL.Query().Get("topic_alerts"); raw != "" {
		for _, a := range strings.Split(raw, ",") {
			if a = strings.TrimSpace(a); a != "" {
				alerts = append(alerts, a)
			}
		}
	}
	detail, err := h.Tickets.GetScoreBreakdown(r.Context(), chi.URLParam(r, "id"), alerts)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

// ResetConversation serves POST /api/tickets/{id}/reset-conversation.
func (h *Handlers) ResetConversation(w http.ResponseWriter, r *http.Request) {
	var in struct {
		KeepFirst bool `json:"keep_first_message"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&in)
	}
	if err := h.Tickets.ResetConversation(r.Context(), chi.URLParam(r, "id"), in.KeepFirst); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func boolParam(raw string) bool {
	b, _ := strconv.ParseBool(raw)
	return b
}
