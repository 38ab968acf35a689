package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/scottatquimbi/quimbi-platform/internal/tenant"
)

// MCPQuery serves POST /api/mcp/query: direct tool invocation.
func (h *Handlers) MCPQuery(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ToolName   string         `json:"tool_name"`
		Parameters map[string]any `json:"parameters"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	if in.ToolName == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "tool_name is required")
		return
	}

	out, err := h.Queries.Execute(r.Context(), in.ToolName, in.Parameters)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"tool_name": in.ToolName,
		"result":    out,
		"timestamp": time.Now().UTC(),
	})
}

// MCPNaturalLanguage serves POST /api/mcp/query/natural-language. The
// endpoint carries its own hourly quota on top of the global limiter
// because every call may reach the language model.
func (h *Handlers) MCPNaturalLanguage(w http.ResponseWriter, r *http.Request) {
	key := tenant.IDFromContext(r.Context())
	if key == "" {
		key = r.RemoteAddr
	}
	if allowed, retryAfter := h.NLQuota.Allow(key); !allowed {
		secs := int(retryAfter.Seconds()) + 1
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		respondError(w, http.StatusTooManyRequests, "RATE_LIMITED", "natural-language query quota exceeded")
		return
	}

	query := r.URL.Query().Get("query")
	if query == "" {
		var in struct {
			Query string `json:"query"`
		}
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&in)
		}
		query = in.Query
	}
	if query == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "query is required")
		return
	}

	res, err := h.Queries.Ask(r.Context(), query)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
