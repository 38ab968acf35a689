package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/scottatquimbi/quimbi-platform/internal/api/middleware"
	"github.com/scottatquimbi/quimbi-platform/internal/ingest"
)

// maxWebhookBody mirrors the middleware buffering bound.
const maxWebhookBody = 1 << 20

// ReceiveWebhook serves POST /api/gorgias/webhook and
// POST /api/webhooks/{provider}. The tenant router has already verified
// the signature and attached the tenant with its decrypted CRM config;
// the pipeline does the synchronous normalize/filter steps and queues the
// rest, so the provider gets its 202 immediately.
func (h *Handlers) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	ten, cfg, ok := middleware.WebhookFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "webhook not verified")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "unreadable request body")
		return
	}

	outcome, err := h.Pipeline.Process(r.Context(), ten, cfg, body)
	switch {
	case errors.Is(err, ingest.ErrQueueFull), errors.Is(err, ingest.ErrShuttingDown):
		// A 5xx makes well-behaved providers redeliver.
		respondError(w, http.StatusServiceUnavailable, "INTERNAL", "ingestion backlog full, retry later")
		return
	case err != nil:
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, outcome)
}
