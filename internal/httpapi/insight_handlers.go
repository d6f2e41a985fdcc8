package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"mahainsight.org/internal/account"
	"mahainsight.org/internal/audit"
	"mahainsight.org/internal/session"
)

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	InsightID string `json:"insight_id"`
	Accepted  bool   `json:"accepted"`
	Remaining int    `json:"remaining"`
}

// handleInsights dispatches /v1/insights/{id}/ask. Each accepted ask consumes
// one unit of the caller's quota; admins are exempt from the cap but their
// usage is still recorded.
func (a *API) handleInsights(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/insights/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "ask" {
		http.NotFound(w, r)
		return
	}
	insightID := parts[0]

	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	id, ok := session.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, codeUnauthenticated, "authentication required")
		return
	}

	var req askRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "question is required")
		return
	}

	bypass := id.Role == account.RoleAdmin
	dec, err := a.quota.CheckAndIncrement(r.Context(), id.SubjectID, insightID, a.askPolicy, bypass)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("X-Quota-Remaining", strconv.Itoa(dec.Remaining))
	if !dec.Allowed {
		_ = audit.LogEvent(r.Context(), "quota.denied", map[string]any{
			"insight_id": insightID,
		})
		writeError(w, r, http.StatusTooManyRequests, codeQuotaExceeded, "ask quota exhausted for this insight")
		return
	}

	writeJSON(w, http.StatusAccepted, askResponse{
		InsightID: insightID,
		Accepted:  true,
		Remaining: dec.Remaining,
	})
}
